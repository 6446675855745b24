// models/replay.go
package models

import (
	"time"
)

// Upload outcome statuses returned by the ingestion flow.
const (
	StatusSuccess            = "Success"
	StatusDuplicate          = "Duplicate"
	StatusUnsupportedVersion = "UnsupportedVersion"
)

// Relay upload lifecycle for a persisted replay.
const (
	RelayStatusQueued   = "queued"
	RelayStatusPending  = "pending"
	RelayStatusUploaded = "uploaded"
	RelayStatusFailed   = "failed"
)

type Replay struct {
	ID uint `json:"id" gorm:"primaryKey"`

	// Fingerprint is the canonical (V3) content identity. One replay per fingerprint,
	// enforced by the unique index — concurrent uploads race on it and the loser
	// observes a duplicate.
	Fingerprint    string  `json:"fingerprint" gorm:"uniqueIndex;not null"`
	FingerprintOld *string `json:"fingerprint_old,omitempty" gorm:"index"`

	Filename string `json:"filename"`
	URL      string `json:"url"`

	GameDate   time.Time `json:"game_date" gorm:"index"`
	GameType   string    `json:"game_type" gorm:"index"`
	GameLength int       `json:"game_length"` // seconds
	Build      int       `json:"build"`
	Region     int       `json:"region"`

	GameMapID uint    `json:"-"`
	GameMap   GameMap `json:"game_map" gorm:"foreignKey:GameMapID"`

	Players []Player `json:"players,omitempty" gorm:"foreignKey:ReplayID"`
	Bans    []Ban    `json:"bans,omitempty" gorm:"foreignKey:ReplayID"`

	// RelayStatus is the only field written after ingestion (late-arriving).
	RelayStatus string `json:"relay_status,omitempty" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Ban struct {
	ID       uint `json:"-" gorm:"primaryKey"`
	ReplayID uint `json:"-" gorm:"index;not null"`
	HeroID   uint `json:"-"`
	Hero     Hero `json:"hero" gorm:"foreignKey:HeroID"`
	Round    int  `json:"round"`
}
