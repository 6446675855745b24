// models/player.go
package models

// Player is one participant in a replay, identified by battletag name + discriminator.
type Player struct {
	ID       uint `json:"-" gorm:"primaryKey"`
	ReplayID uint `json:"-" gorm:"index;not null"`

	BattletagName string `json:"battletag_name" gorm:"index;not null"`
	BattletagID   int    `json:"battletag_id"`

	HeroID    uint `json:"-"`
	Hero      Hero `json:"hero" gorm:"foreignKey:HeroID"`
	HeroLevel int  `json:"hero_level"`

	Team     int   `json:"team"`
	Winner   bool  `json:"winner"`
	Party    int64 `json:"party"`
	Silenced bool  `json:"silenced"`

	Talents []Talent `json:"talents,omitempty" gorm:"foreignKey:PlayerID"`
	Score   *Score   `json:"score,omitempty" gorm:"foreignKey:PlayerID"`
}

type Talent struct {
	ID       uint   `json:"-" gorm:"primaryKey"`
	PlayerID uint   `json:"-" gorm:"index;not null"`
	Level    int    `json:"level"`
	Name     string `json:"name"`
}

// Score is the end-of-game scoreboard for a single player.
type Score struct {
	ID       uint `json:"-" gorm:"primaryKey"`
	PlayerID uint `json:"-" gorm:"uniqueIndex;not null"`

	Level                  int `json:"level"`
	Kills                  int `json:"kills"`
	Assists                int `json:"assists"`
	Takedowns              int `json:"takedowns"`
	Deaths                 int `json:"deaths"`
	HeroDamage             int `json:"hero_damage"`
	SiegeDamage            int `json:"siege_damage"`
	Healing                int `json:"healing"`
	DamageTaken            int `json:"damage_taken"`
	ExperienceContribution int `json:"experience_contribution"`
}
