/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog"
	"github.com/skaldworks/muninn_playout/internal/models"
	"github.com/skaldworks/muninn_playout/internal/repository"
)

// ErrPlaylistNotFound indicates the playlist id does not resolve.
var ErrPlaylistNotFound = errors.New("playlist not found")

// ResolvedItem is one concrete entry of a run's play order.
type ResolvedItem struct {
	Kind  models.PlaylistItemKind
	Asset models.Asset
}

// Resolver expands a playlist definition into a concrete play order for one
// run, drawing random slot picks without replacement within the run.
type Resolver struct {
	store  repository.Store
	logger zerolog.Logger
	// intn is swappable for deterministic tests.
	intn func(n int) int
}

// New creates a resolver.
func New(store repository.Store, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With().Str("component", "resolver").Logger(),
		intn:   rand.Intn,
	}
}

// ResolveForRun produces the ordered asset sequence for one airing of the
// playlist. FIXED items pass through unchanged; each RANDOM slot draws one
// asset of its category uniformly from the pool not yet used in this run,
// via count+offset sampling against the repository. An exhausted slot is
// skipped, so the run simply has one fewer item. Picks are fresh on every
// call; repeated airings of the same playlist vary.
func (r *Resolver) ResolveForRun(ctx context.Context, playlistID string) ([]ResolvedItem, error) {
	if _, err := r.store.GetPlaylist(ctx, playlistID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, playlistID)
		}
		return nil, err
	}

	items, err := r.store.GetPlaylistItemsInOrder(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	resolved := make([]ResolvedItem, 0, len(items))
	used := make([]string, 0, len(items))

	for _, item := range items {
		switch item.Kind {
		case models.ItemFixed:
			asset, err := r.store.GetAsset(ctx, item.AssetID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return nil, fmt.Errorf("fixed item %d references missing asset %s", item.Position, item.AssetID)
				}
				return nil, err
			}
			resolved = append(resolved, ResolvedItem{Kind: models.ItemFixed, Asset: *asset})
			used = append(used, asset.ID)

		case models.ItemRandom:
			asset, err := r.drawRandom(ctx, item.Category, used)
			if err != nil {
				return nil, err
			}
			if asset == nil {
				r.logger.Debug().
					Str("playlist_id", playlistID).
					Int("position", item.Position).
					Str("category", string(item.Category)).
					Msg("random slot exhausted, skipping")
				continue
			}
			resolved = append(resolved, ResolvedItem{Kind: models.ItemRandom, Asset: *asset})
			used = append(used, asset.ID)

		default:
			r.logger.Warn().
				Str("playlist_id", playlistID).
				Str("kind", string(item.Kind)).
				Msg("unknown playlist item kind, skipping")
		}
	}

	return resolved, nil
}

// drawRandom picks one eligible asset uniformly, or nil when the pool is
// exhausted.
func (r *Resolver) drawRandom(ctx context.Context, category models.AssetCategory, used []string) (*models.Asset, error) {
	count, err := r.store.CountAssetsByCategory(ctx, category, used)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	offset := r.intn(int(count))
	asset, err := r.store.PickAssetByCategory(ctx, category, used, offset)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Pool shrank between count and pick; treat as exhausted.
			return nil, nil
		}
		return nil, err
	}
	return asset, nil
}
