// models/game_map.go
package models

// GameMap is a lookup entity, created on first sight during ingestion.
type GameMap struct {
	ID   uint   `json:"-" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex;not null"`
}

// Hero is a lookup entity referenced by players and bans.
type Hero struct {
	ID   uint   `json:"-" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex;not null"`
}
