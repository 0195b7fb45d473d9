/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skaldworks/muninn_playout/internal/db"
	"github.com/skaldworks/muninn_playout/internal/importer"
	"github.com/skaldworks/muninn_playout/internal/repository"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import assets, playlists, and schedules",
}

var importManifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Import from a YAML manifest",
	Long:  "Load assets, playlists, and schedules from a YAML manifest file into the database",
	RunE:  runImportManifest,
}

var manifestPath string

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importManifestCmd)

	importManifestCmd.Flags().StringVar(&manifestPath, "file", "", "Path to YAML manifest (required)")
	_ = importManifestCmd.MarkFlagRequired("file")
}

func runImportManifest(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("manifest", manifestPath).Msg("starting manifest import")

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	repo := repository.New(database)
	im := importer.New(repo, logger)

	result, err := im.ImportFile(context.Background(), manifestPath)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("\nImport Complete!\n")
	fmt.Printf("  Assets:    %d created\n", result.AssetsCreated)
	fmt.Printf("  Playlists: %d created\n", result.PlaylistsCreated)
	fmt.Printf("  Schedules: %d created\n", result.SchedulesCreated)

	return nil
}
