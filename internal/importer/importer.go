/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package importer loads assets, playlists, and schedules from YAML
// manifests into the database.
package importer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/skaldworks/muninn_playout/internal/models"
	"github.com/skaldworks/muninn_playout/internal/repository"
)

// Manifest is the YAML import document.
type Manifest struct {
	Assets    []AssetEntry    `yaml:"assets"`
	Playlists []PlaylistEntry `yaml:"playlists"`
	Schedules []ScheduleEntry `yaml:"schedules"`
}

// AssetEntry describes one asset in the manifest.
type AssetEntry struct {
	Category        string `yaml:"category"`
	Title           string `yaml:"title"`
	Author          string `yaml:"author"`
	DurationSeconds int    `yaml:"duration_seconds"`
	FileRef         string `yaml:"file_ref"`
}

// PlaylistEntry describes one playlist in the manifest. FIXED items refer
// to assets by title within the same manifest.
type PlaylistEntry struct {
	Name  string      `yaml:"name"`
	Items []ItemEntry `yaml:"items"`
}

// ItemEntry is one playlist slot.
type ItemEntry struct {
	Kind       string `yaml:"kind"`
	AssetTitle string `yaml:"asset_title,omitempty"`
	Category   string `yaml:"category,omitempty"`
}

// ScheduleEntry pairs a playlist name with a due time.
type ScheduleEntry struct {
	Playlist string    `yaml:"playlist"`
	DueAt    time.Time `yaml:"due_at"`
}

// Result summarizes an import run.
type Result struct {
	AssetsCreated    int
	PlaylistsCreated int
	SchedulesCreated int
}

// Importer loads manifests into the repository.
type Importer struct {
	repo   *repository.Repository
	logger zerolog.Logger
}

// New creates an importer.
func New(repo *repository.Repository, logger zerolog.Logger) *Importer {
	return &Importer{
		repo:   repo,
		logger: logger.With().Str("component", "importer").Logger(),
	}
}

// ImportFile parses the manifest at path and loads it.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	return im.Import(ctx, &manifest)
}

// Import validates and loads a parsed manifest. Assets are created first
// so playlists can reference them by title; playlists before schedules.
func (im *Importer) Import(ctx context.Context, manifest *Manifest) (*Result, error) {
	result := &Result{}
	assetIDByTitle := make(map[string]string, len(manifest.Assets))
	playlistIDByName := make(map[string]string, len(manifest.Playlists))

	for i, entry := range manifest.Assets {
		category := models.AssetCategory(entry.Category)
		if !category.Valid() {
			return nil, fmt.Errorf("asset %d: invalid category %q", i, entry.Category)
		}
		if entry.Title == "" {
			return nil, fmt.Errorf("asset %d: title is required", i)
		}
		if entry.FileRef == "" {
			return nil, fmt.Errorf("asset %q: file_ref is required", entry.Title)
		}
		if entry.DurationSeconds < 0 {
			return nil, fmt.Errorf("asset %q: negative duration", entry.Title)
		}
		if _, dup := assetIDByTitle[entry.Title]; dup {
			return nil, fmt.Errorf("asset %q: duplicate title in manifest", entry.Title)
		}

		asset := models.Asset{
			Category:        category,
			Title:           entry.Title,
			Author:          entry.Author,
			DurationSeconds: entry.DurationSeconds,
			FileRef:         entry.FileRef,
		}
		if err := im.repo.CreateAsset(ctx, &asset); err != nil {
			return nil, fmt.Errorf("create asset %q: %w", entry.Title, err)
		}
		assetIDByTitle[entry.Title] = asset.ID
		result.AssetsCreated++
	}

	for _, entry := range manifest.Playlists {
		if entry.Name == "" {
			return nil, fmt.Errorf("playlist with empty name")
		}

		playlist := models.Playlist{Name: entry.Name}
		for j, item := range entry.Items {
			switch models.PlaylistItemKind(item.Kind) {
			case models.ItemFixed:
				assetID, ok := assetIDByTitle[item.AssetTitle]
				if !ok {
					return nil, fmt.Errorf("playlist %q item %d: unknown asset title %q", entry.Name, j, item.AssetTitle)
				}
				playlist.Items = append(playlist.Items, models.PlaylistItem{
					Kind:    models.ItemFixed,
					AssetID: assetID,
				})
			case models.ItemRandom:
				category := models.AssetCategory(item.Category)
				if !category.Valid() {
					return nil, fmt.Errorf("playlist %q item %d: invalid category %q", entry.Name, j, item.Category)
				}
				playlist.Items = append(playlist.Items, models.PlaylistItem{
					Kind:     models.ItemRandom,
					Category: category,
				})
			default:
				return nil, fmt.Errorf("playlist %q item %d: invalid kind %q", entry.Name, j, item.Kind)
			}
		}

		if err := im.repo.CreatePlaylist(ctx, &playlist); err != nil {
			return nil, fmt.Errorf("create playlist %q: %w", entry.Name, err)
		}
		playlistIDByName[entry.Name] = playlist.ID
		result.PlaylistsCreated++
	}

	for i, entry := range manifest.Schedules {
		playlistID, ok := playlistIDByName[entry.Playlist]
		if !ok {
			return nil, fmt.Errorf("schedule %d: unknown playlist %q", i, entry.Playlist)
		}
		if entry.DueAt.IsZero() {
			return nil, fmt.Errorf("schedule %d: due_at is required", i)
		}

		schedule := models.Schedule{
			PlaylistID: playlistID,
			DueAt:      entry.DueAt,
		}
		if err := im.repo.CreateSchedule(ctx, &schedule); err != nil {
			return nil, fmt.Errorf("create schedule for %q: %w", entry.Playlist, err)
		}
		result.SchedulesCreated++
	}

	im.logger.Info().
		Int("assets", result.AssetsCreated).
		Int("playlists", result.PlaylistsCreated).
		Int("schedules", result.SchedulesCreated).
		Msg("manifest import complete")

	return result, nil
}
