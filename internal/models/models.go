package models

import (
	"time"
)

// AssetCategory enumerates the playable asset classes.
type AssetCategory string

const (
	CategoryPrimary AssetCategory = "PRIMARY"
	CategoryBumper  AssetCategory = "BUMPER"
	CategorySpot    AssetCategory = "SPOT"
)

// Valid reports whether the category is one of the known classes.
func (c AssetCategory) Valid() bool {
	switch c {
	case CategoryPrimary, CategoryBumper, CategorySpot:
		return true
	}
	return false
}

// Asset is a playable audio/video item registered on the video server.
// DurationSeconds of zero means the duration is unknown.
type Asset struct {
	ID              string        `gorm:"type:uuid;primaryKey"`
	Category        AssetCategory `gorm:"type:varchar(16);index"`
	Title           string        `gorm:"index"`
	Author          string
	DurationSeconds int
	FileRef         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PlaylistItemKind distinguishes fixed asset references from random slots.
type PlaylistItemKind string

const (
	ItemFixed  PlaylistItemKind = "FIXED"
	ItemRandom PlaylistItemKind = "RANDOM"
)

// Playlist is a named ordered collection of items.
type Playlist struct {
	ID        string         `gorm:"type:uuid;primaryKey"`
	Name      string         `gorm:"uniqueIndex"`
	Items     []PlaylistItem `gorm:"foreignKey:PlaylistID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlaylistItem is one entry of a playlist. Position is a dense 0-based
// sequence per playlist. A FIXED item carries AssetID and no Category;
// a RANDOM item carries Category and no AssetID.
type PlaylistItem struct {
	ID         string           `gorm:"type:uuid;primaryKey"`
	PlaylistID string           `gorm:"type:uuid;index"`
	Position   int
	Kind       PlaylistItemKind `gorm:"type:varchar(16)"`
	AssetID    string           `gorm:"type:uuid"`
	Category   AssetCategory    `gorm:"type:varchar(16)"`
}

// Schedule pairs a playlist with a fixed due time. The engine deletes the
// record on completion or cancellation and retains it on failure.
type Schedule struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	PlaylistID string    `gorm:"type:uuid;index"`
	DueAt      time.Time `gorm:"index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PlayHistory is an append-only record written each time an asset begins
// playing. Never mutated or deleted by the engine.
type PlayHistory struct {
	ID       string    `gorm:"type:uuid;primaryKey"`
	AssetID  string    `gorm:"type:uuid;index"`
	PlayedAt time.Time `gorm:"index"`
}
