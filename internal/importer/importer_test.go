package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/skaldworks/muninn_playout/internal/models"
	"github.com/skaldworks/muninn_playout/internal/repository"
)

func testImporter(t *testing.T) (*Importer, *repository.Repository) {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.AutoMigrate(
		&models.Asset{},
		&models.Playlist{},
		&models.PlaylistItem{},
		&models.Schedule{},
		&models.PlayHistory{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := repository.New(database)
	return New(repo, zerolog.Nop()), repo
}

const sampleManifest = `
assets:
  - category: PRIMARY
    title: Morning Show Ep 12
    author: Studio A
    duration_seconds: 1800
    file_ref: morning_ep12.mov
  - category: BUMPER
    title: Station Ident
    duration_seconds: 8
    file_ref: ident.mov
playlists:
  - name: morning-block
    items:
      - kind: FIXED
        asset_title: Station Ident
      - kind: FIXED
        asset_title: Morning Show Ep 12
      - kind: RANDOM
        category: BUMPER
schedules:
  - playlist: morning-block
    due_at: 2026-09-01T06:00:00Z
`

func TestImportFileLoadsManifest(t *testing.T) {
	im, repo := testImporter(t)

	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, []byte(sampleManifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	result, err := im.ImportFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if result.AssetsCreated != 2 || result.PlaylistsCreated != 1 || result.SchedulesCreated != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	ctx := context.Background()
	playlists, err := repo.ListPlaylists(ctx)
	if err != nil {
		t.Fatalf("ListPlaylists: %v", err)
	}
	if len(playlists) != 1 || playlists[0].Name != "morning-block" {
		t.Fatalf("unexpected playlists: %+v", playlists)
	}
	items := playlists[0].Items
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Kind != models.ItemFixed || items[2].Kind != models.ItemRandom {
		t.Fatalf("unexpected item kinds: %v %v", items[0].Kind, items[2].Kind)
	}
	if items[2].Category != models.CategoryBumper {
		t.Fatalf("random slot category = %q, want BUMPER", items[2].Category)
	}

	schedules, err := repo.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("ListSchedules: %v", err)
	}
	if len(schedules) != 1 || schedules[0].PlaylistID != playlists[0].ID {
		t.Fatalf("unexpected schedules: %+v", schedules)
	}
}

func TestImportRejectsUnknownAssetReference(t *testing.T) {
	im, _ := testImporter(t)

	manifest := &Manifest{
		Playlists: []PlaylistEntry{{
			Name:  "broken",
			Items: []ItemEntry{{Kind: "FIXED", AssetTitle: "missing"}},
		}},
	}
	if _, err := im.Import(context.Background(), manifest); err == nil {
		t.Fatal("expected error for unknown asset title")
	}
}

func TestImportRejectsInvalidCategory(t *testing.T) {
	im, _ := testImporter(t)

	manifest := &Manifest{
		Assets: []AssetEntry{{Category: "FILLER", Title: "x", FileRef: "x.mov"}},
	}
	if _, err := im.Import(context.Background(), manifest); err == nil {
		t.Fatal("expected error for invalid category")
	}
}

func TestImportRejectsUnknownPlaylistInSchedule(t *testing.T) {
	im, _ := testImporter(t)

	manifest := &Manifest{
		Schedules: []ScheduleEntry{{Playlist: "ghost"}},
	}
	if _, err := im.Import(context.Background(), manifest); err == nil {
		t.Fatal("expected error for unknown playlist")
	}
}
