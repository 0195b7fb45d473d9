package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/skaldworks/muninn_playout/internal/events"
	"github.com/skaldworks/muninn_playout/internal/models"
	"github.com/skaldworks/muninn_playout/internal/repository"
	"github.com/skaldworks/muninn_playout/internal/resolver"
	"github.com/skaldworks/muninn_playout/internal/telemetry"
)

// PlayoutDevice is the control surface the engine needs from the video
// server client.
type PlayoutDevice interface {
	Play(slot int, fileRef string) error
	Stop(slot int) error
	Pause(slot int) error
	Resume(slot int) error
}

// Config holds engine tuning. Zero values fall back to defaults in New.
type Config struct {
	OutputSlot       int
	PollInterval     time.Duration // due-schedule poll cadence
	ControlTick      time.Duration // pause/skip/cancel flag poll cadence
	ProgressInterval time.Duration // playback_progress emit cadence
	FallbackWindow   time.Duration // wait window for unknown durations
}

// RunningJob is the single active playout execution. It exists only while
// a schedule is airing and is never persisted.
type RunningJob struct {
	ScheduleID string
	PlaylistID string
	ItemIndex  int
	Asset      models.Asset
	StartedAt  time.Time
}

// Engine polls for due schedules and drives sequential playback of their
// resolved playlists against the video server. At most one run is active
// at any time; schedules in a batch execute in due-time order.
type Engine struct {
	store    repository.Store
	resolver *resolver.Resolver
	device   PlayoutDevice
	bus      *events.Bus
	cfg      Config
	logger   zerolog.Logger

	mu         sync.Mutex
	claimed    map[string]struct{}
	queue      []models.Schedule
	processing bool
	job        *RunningJob
	paused     bool
	skip       bool
	cancelled  bool
	abort      bool
}

// New creates a scheduler engine.
func New(store repository.Store, res *resolver.Resolver, device PlayoutDevice, bus *events.Bus, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ControlTick <= 0 {
		cfg.ControlTick = 200 * time.Millisecond
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = time.Second
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = 10 * time.Second
	}
	if cfg.OutputSlot <= 0 {
		cfg.OutputSlot = 1
	}
	return &Engine{
		store:    store,
		resolver: res,
		device:   device,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With().Str("component", "engine").Logger(),
		claimed:  make(map[string]struct{}),
	}
}

// Run executes the poll loop until context cancellation.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Dur("poll_interval", e.cfg.PollInterval).Msg("scheduler engine started")
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("scheduler engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick discovers due schedules and processes them. While a run is active
// the tick is skipped entirely; the at-most-one-active-run invariant is
// enforced here, before any storage round trip.
func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	if e.job != nil || e.processing {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	due, err := e.store.FindDueSchedules(ctx, time.Now())
	if err != nil {
		e.logger.Error().Err(err).Msg("due schedule query failed")
		return
	}
	if len(due) == 0 {
		return
	}

	e.mu.Lock()
	for _, sched := range due {
		if _, ok := e.claimed[sched.ID]; ok {
			continue
		}
		if e.enqueuedLocked(sched.ID) {
			continue
		}
		e.queue = append(e.queue, sched)
	}
	start := len(e.queue) > 0 && !e.processing
	if start {
		e.processing = true
	}
	e.mu.Unlock()

	if start {
		e.processQueue(ctx)
	}
}

func (e *Engine) enqueuedLocked(id string) bool {
	for _, sched := range e.queue {
		if sched.ID == id {
			return true
		}
	}
	return false
}

// processQueue drains the run queue in due-time order, running each
// schedule to completion before starting the next. A force-abort empties
// the queue so schedules batched behind a hard stop are abandoned too.
func (e *Engine) processQueue(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.processing = false
		e.mu.Unlock()
	}()

	for {
		e.mu.Lock()
		if e.abort {
			e.abort = false
			for _, sched := range e.queue {
				delete(e.claimed, sched.ID)
			}
			e.queue = nil
			e.mu.Unlock()
			return
		}
		if len(e.queue) == 0 || ctx.Err() != nil {
			e.mu.Unlock()
			return
		}
		sort.Slice(e.queue, func(i, j int) bool {
			return e.queue[i].DueAt.Before(e.queue[j].DueAt)
		})
		sched := e.queue[0]
		e.queue = e.queue[1:]
		if _, ok := e.claimed[sched.ID]; ok {
			e.mu.Unlock()
			continue
		}
		e.claimed[sched.ID] = struct{}{}
		e.mu.Unlock()

		e.runScheduleGuarded(ctx, sched)
	}
}

// runScheduleGuarded converts anything escaping the run boundary into the
// fatal-error terminal path; the queue loop must never crash.
func (e *Engine) runScheduleGuarded(ctx context.Context, sched models.Schedule) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("schedule_id", sched.ID).
				Interface("panic", r).
				Msg("schedule run panicked")
			e.emit(events.Event{
				Name:       events.EventScheduleFatalError,
				ScheduleID: sched.ID,
				PlaylistID: sched.PlaylistID,
				Error:      fmt.Sprint(r),
			})
			e.mu.Lock()
			e.job = nil
			delete(e.claimed, sched.ID)
			e.mu.Unlock()
		}
	}()

	e.runSchedule(ctx, sched)
}

func (e *Engine) runSchedule(ctx context.Context, sched models.Schedule) {
	logger := e.logger.With().Str("schedule_id", sched.ID).Str("playlist_id", sched.PlaylistID).Logger()
	logger.Info().Time("due_at", sched.DueAt).Msg("starting schedule run")

	telemetry.SchedulesStarted.Inc()
	e.emit(events.Event{
		Name:       events.EventScheduleStarted,
		ScheduleID: sched.ID,
		PlaylistID: sched.PlaylistID,
	})

	items, err := e.resolver.ResolveForRun(ctx, sched.PlaylistID)
	if err != nil {
		logger.Error().Err(err).Msg("playlist resolution failed, retaining schedule")
		telemetry.SchedulesTerminal.WithLabelValues("failed").Inc()
		e.emit(events.Event{
			Name:       events.EventScheduleFailed,
			ScheduleID: sched.ID,
			PlaylistID: sched.PlaylistID,
			Error:      err.Error(),
		})
		e.release(sched.ID)
		return
	}

	if len(items) == 0 {
		logger.Info().Msg("playlist resolved empty, nothing to air")
		e.emit(events.Event{
			Name:       events.EventScheduleEmpty,
			ScheduleID: sched.ID,
			PlaylistID: sched.PlaylistID,
		})
		e.deleteSchedule(ctx, sched, logger)
		e.release(sched.ID)
		return
	}

	e.mu.Lock()
	e.paused = false
	e.skip = false
	e.cancelled = false
	e.job = &RunningJob{
		ScheduleID: sched.ID,
		PlaylistID: sched.PlaylistID,
		StartedAt:  time.Now(),
	}
	e.mu.Unlock()

	// The active-run marker is cleared unconditionally so the poll loop
	// can proceed regardless of how the run ends.
	defer func() {
		e.mu.Lock()
		e.job = nil
		e.mu.Unlock()
	}()

	// Clear whatever was airing before this schedule.
	if err := e.device.Stop(e.cfg.OutputSlot); err != nil {
		logger.Warn().Err(err).Msg("defensive stop failed")
	}

	failed := false
	for i, item := range items {
		if e.interrupted(ctx) {
			break
		}

		if !e.waitWhilePaused(ctx) {
			break
		}

		asset := item.Asset
		e.mu.Lock()
		if e.job != nil {
			e.job.ItemIndex = i
			e.job.Asset = asset
		}
		e.mu.Unlock()

		if err := e.device.Play(e.cfg.OutputSlot, asset.FileRef); err != nil {
			logger.Error().Err(err).Str("asset_id", asset.ID).Msg("play command failed, continuing with next asset")
			telemetry.PlaybackErrors.Inc()
			failed = true
			e.emit(events.Event{
				Name:       events.EventPlaybackError,
				ScheduleID: sched.ID,
				PlaylistID: sched.PlaylistID,
				Asset:      &asset,
				Error:      err.Error(),
			})
			continue
		}

		telemetry.AssetsPlayed.Inc()
		logger.Info().
			Str("asset_id", asset.ID).
			Str("title", asset.Title).
			Int("duration_seconds", asset.DurationSeconds).
			Msg("asset playing")
		e.emit(events.Event{
			Name:       events.EventPlaybackStarted,
			ScheduleID: sched.ID,
			PlaylistID: sched.PlaylistID,
			Asset:      &asset,
		})

		// History failures must not interrupt airing.
		if err := e.store.AppendHistory(ctx, asset.ID, time.Now()); err != nil {
			logger.Warn().Err(err).Str("asset_id", asset.ID).Msg("history append failed")
		}

		if e.waitAssetDuration(ctx, sched, asset) {
			e.emit(events.Event{
				Name:       events.EventPlaybackCompleted,
				ScheduleID: sched.ID,
				PlaylistID: sched.PlaylistID,
				Asset:      &asset,
			})
		}
	}

	if err := e.device.Stop(e.cfg.OutputSlot); err != nil {
		logger.Warn().Err(err).Msg("final stop failed")
	}

	// Engine shutdown mid-run: release the claim and leave the schedule
	// record alone so a later process start can retry it.
	if ctx.Err() != nil && !e.wasCancelled() {
		logger.Info().Msg("engine stopping, retaining in-flight schedule")
		e.release(sched.ID)
		return
	}

	switch {
	case e.wasCancelled():
		logger.Info().Msg("schedule run cancelled")
		telemetry.SchedulesTerminal.WithLabelValues("cancelled").Inc()
		e.emit(events.Event{
			Name:       events.EventScheduleStopped,
			ScheduleID: sched.ID,
			PlaylistID: sched.PlaylistID,
		})
		e.deleteSchedule(ctx, sched, logger)
	case failed:
		logger.Warn().Msg("schedule run completed with playback errors, retaining for retry")
		telemetry.SchedulesTerminal.WithLabelValues("failed").Inc()
		e.emit(events.Event{
			Name:       events.EventScheduleFailed,
			ScheduleID: sched.ID,
			PlaylistID: sched.PlaylistID,
		})
	default:
		logger.Info().Msg("schedule run completed")
		telemetry.SchedulesTerminal.WithLabelValues("completed").Inc()
		e.emit(events.Event{
			Name:       events.EventScheduleCompleted,
			ScheduleID: sched.ID,
			PlaylistID: sched.PlaylistID,
		})
		e.deleteSchedule(ctx, sched, logger)
	}

	e.release(sched.ID)
}

// waitWhilePaused blocks while the pause flag is set, polling at the
// control tick. A skip lifts the pause so the run can advance; the skip
// flag itself stays set for the wait loop to consume. Returns false when
// the wait ended because of cancellation.
func (e *Engine) waitWhilePaused(ctx context.Context) bool {
	for {
		e.mu.Lock()
		if e.skip {
			e.paused = false
		}
		paused := e.paused
		e.mu.Unlock()
		if !paused {
			return true
		}
		if e.interrupted(ctx) {
			return false
		}
		time.Sleep(e.cfg.ControlTick)
	}
}

// waitAssetDuration waits out the asset's declared duration (or the
// fallback window when unknown) in short ticks so cancel, pause, and skip
// are observed promptly. Only unpaused time counts toward the window; a
// pause suspends the asset's remaining airtime instead of draining it.
// Returns true when the wait ran to completion.
func (e *Engine) waitAssetDuration(ctx context.Context, sched models.Schedule, asset models.Asset) bool {
	window := time.Duration(asset.DurationSeconds) * time.Second
	if window <= 0 {
		window = e.cfg.FallbackWindow
	}

	var aired, sinceProgress time.Duration

	for aired < window {
		if e.interrupted(ctx) {
			return false
		}

		e.mu.Lock()
		if e.skip {
			e.skip = false
			e.mu.Unlock()
			return false
		}
		paused := e.paused
		e.mu.Unlock()

		if paused {
			if !e.waitWhilePaused(ctx) {
				return false
			}
			continue
		}

		if sinceProgress >= e.cfg.ProgressInterval {
			sinceProgress = 0
			e.emit(events.Event{
				Name:       events.EventPlaybackProgress,
				ScheduleID: sched.ID,
				PlaylistID: sched.PlaylistID,
				Asset:      &asset,
				Progress:   aired.Seconds(),
			})
		}

		time.Sleep(e.cfg.ControlTick)
		aired += e.cfg.ControlTick
		sinceProgress += e.cfg.ControlTick
	}
	return true
}

func (e *Engine) interrupted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled || e.abort
}

func (e *Engine) wasCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// deleteSchedule removes the record and emits the deletion outcome. A
// failing delete is reported distinctly but never resurrects the run; the
// record may already be gone after an eager hard-stop delete.
func (e *Engine) deleteSchedule(ctx context.Context, sched models.Schedule, logger zerolog.Logger) {
	if err := e.store.DeleteSchedule(ctx, sched.ID); err != nil {
		logger.Error().Err(err).Msg("schedule delete failed")
		e.emit(events.Event{
			Name:       events.EventScheduleDeletionError,
			ScheduleID: sched.ID,
			PlaylistID: sched.PlaylistID,
			Error:      err.Error(),
		})
		return
	}
	e.emit(events.Event{
		Name:       events.EventScheduleDeleted,
		ScheduleID: sched.ID,
		PlaylistID: sched.PlaylistID,
	})
}

func (e *Engine) release(scheduleID string) {
	e.mu.Lock()
	delete(e.claimed, scheduleID)
	e.mu.Unlock()
}

func (e *Engine) emit(event events.Event) {
	if e.bus != nil {
		e.bus.Publish(event)
	}
}
