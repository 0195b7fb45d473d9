/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"

	"github.com/skaldworks/muninn_playout/internal/events"
)

// Status is a point-in-time snapshot of the engine for the operator API.
type Status struct {
	Running bool        `json:"running"`
	Paused  bool        `json:"paused"`
	Queued  int         `json:"queued"`
	Job     *RunningJob `json:"job,omitempty"`
}

// GetStatus reports the current engine state.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := Status{
		Running: e.job != nil,
		Paused:  e.paused,
		Queued:  len(e.queue),
	}
	if e.job != nil {
		job := *e.job
		status.Job = &job
	}
	return status
}

// GetCurrentlyPlaying returns a copy of the active job, or nil when idle.
func (e *Engine) GetCurrentlyPlaying() *RunningJob {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job == nil {
		return nil
	}
	job := *e.job
	return &job
}

// Pause suspends the active run. Returns false when no run is active or
// the run is already paused.
func (e *Engine) Pause() bool {
	e.mu.Lock()
	if e.job == nil || e.paused {
		e.mu.Unlock()
		return false
	}
	e.paused = true
	job := *e.job
	e.mu.Unlock()

	if err := e.device.Pause(e.cfg.OutputSlot); err != nil {
		e.logger.Warn().Err(err).Msg("device pause failed")
	}
	e.logger.Info().Str("schedule_id", job.ScheduleID).Msg("run paused")
	e.emit(events.Event{
		Name:       events.EventSchedulePaused,
		ScheduleID: job.ScheduleID,
		PlaylistID: job.PlaylistID,
	})
	return true
}

// Resume lifts a pause. Returns false when no run is active or the run is
// not paused.
func (e *Engine) Resume() bool {
	e.mu.Lock()
	if e.job == nil || !e.paused {
		e.mu.Unlock()
		return false
	}
	e.paused = false
	job := *e.job
	e.mu.Unlock()

	if err := e.device.Resume(e.cfg.OutputSlot); err != nil {
		e.logger.Warn().Err(err).Msg("device resume failed")
	}
	e.logger.Info().Str("schedule_id", job.ScheduleID).Msg("run resumed")
	e.emit(events.Event{
		Name:       events.EventScheduleResumed,
		ScheduleID: job.ScheduleID,
		PlaylistID: job.PlaylistID,
	})
	return true
}

// SkipToNext cuts the current asset short and advances the run. Returns
// false when no run is active.
func (e *Engine) SkipToNext() bool {
	e.mu.Lock()
	if e.job == nil {
		e.mu.Unlock()
		return false
	}
	e.skip = true
	job := *e.job
	e.mu.Unlock()

	if err := e.device.Stop(e.cfg.OutputSlot); err != nil {
		e.logger.Warn().Err(err).Msg("device stop failed during skip")
	}
	e.logger.Info().Str("schedule_id", job.ScheduleID).Msg("skip requested")
	e.emit(events.Event{
		Name:       events.EventScheduleNextRequested,
		ScheduleID: job.ScheduleID,
		PlaylistID: job.PlaylistID,
	})
	return true
}

// Stop hard-cancels the active run and abandons any schedules queued
// behind it. The schedule record is deleted eagerly here in addition to
// the run's own terminal delete; both paths tolerate the record already
// being gone. Returns false when no run is active.
func (e *Engine) Stop(ctx context.Context) bool {
	e.mu.Lock()
	if e.job == nil {
		e.mu.Unlock()
		return false
	}
	e.cancelled = true
	e.abort = true
	e.paused = false
	job := *e.job
	e.mu.Unlock()

	if err := e.device.Stop(e.cfg.OutputSlot); err != nil {
		e.logger.Warn().Err(err).Msg("device stop failed during hard stop")
	}
	if err := e.store.DeleteSchedule(ctx, job.ScheduleID); err != nil {
		e.logger.Warn().Err(err).Str("schedule_id", job.ScheduleID).Msg("eager schedule delete failed")
	}
	e.logger.Info().Str("schedule_id", job.ScheduleID).Msg("hard stop requested")
	return true
}
