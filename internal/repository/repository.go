package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/skaldworks/muninn_playout/internal/models"
	"gorm.io/gorm"
)

// ErrNotFound indicates the referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the data access surface consumed by the scheduler core.
type Store interface {
	FindDueSchedules(ctx context.Context, now time.Time) ([]models.Schedule, error)
	GetPlaylist(ctx context.Context, id string) (*models.Playlist, error)
	GetPlaylistItemsInOrder(ctx context.Context, playlistID string) ([]models.PlaylistItem, error)
	GetAsset(ctx context.Context, id string) (*models.Asset, error)
	DeleteSchedule(ctx context.Context, id string) error
	AppendHistory(ctx context.Context, assetID string, playedAt time.Time) error
	CountAssetsByCategory(ctx context.Context, category models.AssetCategory, excludeIDs []string) (int64, error)
	PickAssetByCategory(ctx context.Context, category models.AssetCategory, excludeIDs []string, offset int) (*models.Asset, error)
}

// Repository is the gorm-backed implementation of Store plus the wider
// surface used by the operator API and import tooling.
type Repository struct {
	db *gorm.DB
}

// New creates a repository.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindDueSchedules returns schedules with due time at or before now,
// ascending by due time.
func (r *Repository) FindDueSchedules(ctx context.Context, now time.Time) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := r.db.WithContext(ctx).
		Where("due_at <= ?", now).
		Order("due_at ASC").
		Find(&schedules).Error
	return schedules, err
}

// GetPlaylist loads a playlist without its items.
func (r *Repository) GetPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	var playlist models.Playlist
	if err := r.db.WithContext(ctx).First(&playlist, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &playlist, nil
}

// GetPlaylistItemsInOrder returns playlist items ascending by position.
func (r *Repository) GetPlaylistItemsInOrder(ctx context.Context, playlistID string) ([]models.PlaylistItem, error) {
	var items []models.PlaylistItem
	err := r.db.WithContext(ctx).
		Where("playlist_id = ?", playlistID).
		Order("position ASC").
		Find(&items).Error
	return items, err
}

// GetAsset loads one asset.
func (r *Repository) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).First(&asset, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &asset, nil
}

// DeleteSchedule removes a schedule record. Deleting an id that is already
// gone is not an error; the engine relies on that for idempotent teardown.
func (r *Repository) DeleteSchedule(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&models.Schedule{}, "id = ?", id).Error
}

// AppendHistory writes one play history record.
func (r *Repository) AppendHistory(ctx context.Context, assetID string, playedAt time.Time) error {
	record := models.PlayHistory{
		ID:       uuid.NewString(),
		AssetID:  assetID,
		PlayedAt: playedAt,
	}
	return r.db.WithContext(ctx).Create(&record).Error
}

// CountAssetsByCategory counts assets of the category, excluding the given ids.
func (r *Repository) CountAssetsByCategory(ctx context.Context, category models.AssetCategory, excludeIDs []string) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.Asset{}).Where("category = ?", category)
	if len(excludeIDs) > 0 {
		query = query.Where("id NOT IN ?", excludeIDs)
	}
	err := query.Count(&count).Error
	return count, err
}

// PickAssetByCategory returns the asset at the given offset within the
// category's eligible set, in a stable order so count+offset sampling is
// uniform.
func (r *Repository) PickAssetByCategory(ctx context.Context, category models.AssetCategory, excludeIDs []string, offset int) (*models.Asset, error) {
	var asset models.Asset
	query := r.db.WithContext(ctx).Where("category = ?", category)
	if len(excludeIDs) > 0 {
		query = query.Where("id NOT IN ?", excludeIDs)
	}
	err := query.Order("id ASC").Offset(offset).First(&asset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &asset, nil
}

// CreateAsset stores a new asset, assigning an id when absent.
func (r *Repository) CreateAsset(ctx context.Context, asset *models.Asset) error {
	if asset.ID == "" {
		asset.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(asset).Error
}

// CreatePlaylist stores a playlist and its items, assigning ids and dense
// positions in slice order.
func (r *Repository) CreatePlaylist(ctx context.Context, playlist *models.Playlist) error {
	if playlist.ID == "" {
		playlist.ID = uuid.NewString()
	}
	for i := range playlist.Items {
		if playlist.Items[i].ID == "" {
			playlist.Items[i].ID = uuid.NewString()
		}
		playlist.Items[i].PlaylistID = playlist.ID
		playlist.Items[i].Position = i
	}
	return r.db.WithContext(ctx).Create(playlist).Error
}

// CreateSchedule stores a schedule, assigning an id when absent.
func (r *Repository) CreateSchedule(ctx context.Context, schedule *models.Schedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(schedule).Error
}

// GetSchedule loads one schedule.
func (r *Repository) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	var schedule models.Schedule
	if err := r.db.WithContext(ctx).First(&schedule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &schedule, nil
}

// ListSchedules returns all schedules ascending by due time.
func (r *Repository) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	var schedules []models.Schedule
	err := r.db.WithContext(ctx).Order("due_at ASC").Find(&schedules).Error
	return schedules, err
}

// ListPlaylists returns all playlists with their items preloaded.
func (r *Repository) ListPlaylists(ctx context.Context) ([]models.Playlist, error) {
	var playlists []models.Playlist
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("name ASC").
		Find(&playlists).Error
	return playlists, err
}

// ListAssets returns all assets ordered by title.
func (r *Repository) ListAssets(ctx context.Context) ([]models.Asset, error) {
	var assets []models.Asset
	err := r.db.WithContext(ctx).Order("title ASC").Find(&assets).Error
	return assets, err
}

// RecentHistory returns the most recent play history records, newest first.
func (r *Repository) RecentHistory(ctx context.Context, limit int) ([]models.PlayHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.PlayHistory
	err := r.db.WithContext(ctx).Order("played_at DESC").Limit(limit).Find(&records).Error
	return records, err
}
