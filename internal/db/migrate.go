/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/skaldworks/muninn_playout/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		&models.Asset{},
		&models.Playlist{},
		&models.PlaylistItem{},
		&models.Schedule{},
		&models.PlayHistory{},
	)
}
