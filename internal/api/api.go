/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/skaldworks/muninn_playout/internal/auth"
	"github.com/skaldworks/muninn_playout/internal/device"
	"github.com/skaldworks/muninn_playout/internal/engine"
	"github.com/skaldworks/muninn_playout/internal/events"
	"github.com/skaldworks/muninn_playout/internal/models"
	"github.com/skaldworks/muninn_playout/internal/repository"
)

// Operator roles.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// API exposes HTTP handlers for the operator surface.
type API struct {
	db        *gorm.DB
	repo      *repository.Repository
	engine    *engine.Engine
	device    *device.Client
	bus       *events.Bus
	jwtSecret []byte
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, repo *repository.Repository, eng *engine.Engine, dev *device.Client, bus *events.Bus, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		repo:      repo,
		engine:    eng,
		device:    dev,
		bus:       bus,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

type assetCreateRequest struct {
	Category        string `json:"category"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	DurationSeconds int    `json:"duration_seconds"`
	FileRef         string `json:"file_ref"`
}

type playlistItemRequest struct {
	Kind     string `json:"kind"`
	AssetID  string `json:"asset_id,omitempty"`
	Category string `json:"category,omitempty"`
}

type playlistCreateRequest struct {
	Name  string                `json:"name"`
	Items []playlistItemRequest `json:"items"`
}

type scheduleCreateRequest struct {
	PlaylistID string    `json:"playlist_id"`
	DueAt      time.Time `json:"due_at"`
}

// Routes mounts API routes on the provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Route("/assets", func(r chi.Router) {
				r.Get("/", a.handleAssetsList)
				r.With(a.requireRoles(RoleAdmin, RoleOperator)).Post("/", a.handleAssetsCreate)
				r.Get("/{assetID}", a.handleAssetsGet)
			})

			pr.Route("/playlists", func(r chi.Router) {
				r.Get("/", a.handlePlaylistsList)
				r.With(a.requireRoles(RoleAdmin, RoleOperator)).Post("/", a.handlePlaylistsCreate)
				r.Get("/{playlistID}", a.handlePlaylistsGet)
			})

			pr.Route("/schedules", func(r chi.Router) {
				r.Get("/", a.handleSchedulesList)
				r.With(a.requireRoles(RoleAdmin, RoleOperator)).Post("/", a.handleSchedulesCreate)
				r.Get("/{scheduleID}", a.handleSchedulesGet)
				r.With(a.requireRoles(RoleAdmin, RoleOperator)).Delete("/{scheduleID}", a.handleSchedulesDelete)
			})

			pr.Route("/playout", func(r chi.Router) {
				r.Get("/status", a.handlePlayoutStatus)
				r.With(a.requireRoles(RoleAdmin, RoleOperator)).Post("/pause", a.handlePlayoutPause)
				r.With(a.requireRoles(RoleAdmin, RoleOperator)).Post("/resume", a.handlePlayoutResume)
				r.With(a.requireRoles(RoleAdmin, RoleOperator)).Post("/skip", a.handlePlayoutSkip)
				r.With(a.requireRoles(RoleAdmin, RoleOperator)).Post("/stop", a.handlePlayoutStop)
			})

			pr.Route("/device", func(r chi.Router) {
				r.Get("/media", a.handleDeviceMedia)
			})

			pr.Get("/history", a.handleHistoryList)
			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleAssetsList(w http.ResponseWriter, r *http.Request) {
	assets, err := a.repo.ListAssets(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list assets failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"assets": assets})
}

func (a *API) handleAssetsCreate(w http.ResponseWriter, r *http.Request) {
	var req assetCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	category := models.AssetCategory(req.Category)
	if !category.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_category")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title_required")
		return
	}
	if req.FileRef == "" {
		writeError(w, http.StatusBadRequest, "file_ref_required")
		return
	}
	if req.DurationSeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_duration")
		return
	}

	asset := models.Asset{
		Category:        category,
		Title:           req.Title,
		Author:          req.Author,
		DurationSeconds: req.DurationSeconds,
		FileRef:         req.FileRef,
	}
	if err := a.repo.CreateAsset(r.Context(), &asset); err != nil {
		a.logger.Error().Err(err).Msg("create asset failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().Str("asset_id", asset.ID).Str("title", asset.Title).Msg("asset created")
	writeJSON(w, http.StatusCreated, asset)
}

func (a *API) handleAssetsGet(w http.ResponseWriter, r *http.Request) {
	asset, err := a.repo.GetAsset(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "asset_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("get asset failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (a *API) handlePlaylistsList(w http.ResponseWriter, r *http.Request) {
	playlists, err := a.repo.ListPlaylists(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list playlists failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": playlists})
}

func (a *API) handlePlaylistsCreate(w http.ResponseWriter, r *http.Request) {
	var req playlistCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	playlist := models.Playlist{Name: req.Name}
	for _, item := range req.Items {
		kind := models.PlaylistItemKind(item.Kind)
		switch kind {
		case models.ItemFixed:
			if item.AssetID == "" {
				writeError(w, http.StatusBadRequest, "asset_id_required")
				return
			}
			if _, err := a.repo.GetAsset(r.Context(), item.AssetID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					writeError(w, http.StatusBadRequest, "asset_not_found")
					return
				}
				a.logger.Error().Err(err).Msg("asset lookup failed")
				writeError(w, http.StatusInternalServerError, "db_error")
				return
			}
			playlist.Items = append(playlist.Items, models.PlaylistItem{
				Kind:    models.ItemFixed,
				AssetID: item.AssetID,
			})
		case models.ItemRandom:
			category := models.AssetCategory(item.Category)
			if !category.Valid() {
				writeError(w, http.StatusBadRequest, "invalid_category")
				return
			}
			playlist.Items = append(playlist.Items, models.PlaylistItem{
				Kind:     models.ItemRandom,
				Category: category,
			})
		default:
			writeError(w, http.StatusBadRequest, "invalid_item_kind")
			return
		}
	}

	if err := a.repo.CreatePlaylist(r.Context(), &playlist); err != nil {
		a.logger.Error().Err(err).Msg("create playlist failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().Str("playlist_id", playlist.ID).Str("name", playlist.Name).Msg("playlist created")
	writeJSON(w, http.StatusCreated, playlist)
}

func (a *API) handlePlaylistsGet(w http.ResponseWriter, r *http.Request) {
	playlistID := chi.URLParam(r, "playlistID")
	playlist, err := a.repo.GetPlaylist(r.Context(), playlistID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "playlist_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("get playlist failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	items, err := a.repo.GetPlaylistItemsInOrder(r.Context(), playlistID)
	if err != nil {
		a.logger.Error().Err(err).Msg("get playlist items failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	playlist.Items = items

	writeJSON(w, http.StatusOK, playlist)
}

func (a *API) handleSchedulesList(w http.ResponseWriter, r *http.Request) {
	schedules, err := a.repo.ListSchedules(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list schedules failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": schedules})
}

func (a *API) handleSchedulesCreate(w http.ResponseWriter, r *http.Request) {
	var req scheduleCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	if req.PlaylistID == "" {
		writeError(w, http.StatusBadRequest, "playlist_id_required")
		return
	}
	if req.DueAt.IsZero() {
		writeError(w, http.StatusBadRequest, "due_at_required")
		return
	}
	if _, err := a.repo.GetPlaylist(r.Context(), req.PlaylistID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "playlist_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("playlist lookup failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	schedule := models.Schedule{
		PlaylistID: req.PlaylistID,
		DueAt:      req.DueAt,
	}
	if err := a.repo.CreateSchedule(r.Context(), &schedule); err != nil {
		a.logger.Error().Err(err).Msg("create schedule failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.logger.Info().
		Str("schedule_id", schedule.ID).
		Str("playlist_id", schedule.PlaylistID).
		Time("due_at", schedule.DueAt).
		Msg("schedule created")
	writeJSON(w, http.StatusCreated, schedule)
}

func (a *API) handleSchedulesGet(w http.ResponseWriter, r *http.Request) {
	schedule, err := a.repo.GetSchedule(r.Context(), chi.URLParam(r, "scheduleID"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule_not_found")
			return
		}
		a.logger.Error().Err(err).Msg("get schedule failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

func (a *API) handleSchedulesDelete(w http.ResponseWriter, r *http.Request) {
	scheduleID := chi.URLParam(r, "scheduleID")
	if err := a.repo.DeleteSchedule(r.Context(), scheduleID); err != nil {
		a.logger.Error().Err(err).Msg("delete schedule failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *API) handlePlayoutStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.GetStatus())
}

func (a *API) handlePlayoutPause(w http.ResponseWriter, r *http.Request) {
	if !a.engine.Pause() {
		writeError(w, http.StatusConflict, "no_active_run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (a *API) handlePlayoutResume(w http.ResponseWriter, r *http.Request) {
	if !a.engine.Resume() {
		writeError(w, http.StatusConflict, "not_paused")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (a *API) handlePlayoutSkip(w http.ResponseWriter, r *http.Request) {
	if !a.engine.SkipToNext() {
		writeError(w, http.StatusConflict, "no_active_run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "skipping"})
}

func (a *API) handlePlayoutStop(w http.ResponseWriter, r *http.Request) {
	if !a.engine.Stop(r.Context()) {
		writeError(w, http.StatusConflict, "no_active_run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (a *API) handleDeviceMedia(w http.ResponseWriter, r *http.Request) {
	entries, err := a.device.ListMedia(r.Context(), 5*time.Second)
	if err != nil {
		a.logger.Error().Err(err).Msg("device media listing failed")
		writeError(w, http.StatusBadGateway, "device_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"media": entries})
}

func (a *API) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		limit = parsed
	}

	records, err := a.repo.RecentHistory(r.Context(), limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("list history failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.Middleware(a.jwtSecret)
}

func (a *API) requireRoles(allowed ...string) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range claims.Roles {
				if _, exists := allowedSet[role]; exists {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient_role")
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
