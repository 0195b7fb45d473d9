package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/skaldworks/muninn_playout/internal/events"
	"github.com/skaldworks/muninn_playout/internal/models"
	"github.com/skaldworks/muninn_playout/internal/repository"
	"github.com/skaldworks/muninn_playout/internal/resolver"
)

// fakeStore is an in-memory Store for engine tests.
type fakeStore struct {
	mu        sync.Mutex
	schedules map[string]models.Schedule
	playlists map[string]*models.Playlist
	items     map[string][]models.PlaylistItem
	assets    map[string]*models.Asset
	history   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		schedules: make(map[string]models.Schedule),
		playlists: make(map[string]*models.Playlist),
		items:     make(map[string][]models.PlaylistItem),
		assets:    make(map[string]*models.Asset),
	}
}

func (f *fakeStore) FindDueSchedules(ctx context.Context, now time.Time) ([]models.Schedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []models.Schedule
	for _, sched := range f.schedules {
		if !sched.DueAt.After(now) {
			due = append(due, sched)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	return due, nil
}

func (f *fakeStore) GetPlaylist(ctx context.Context, id string) (*models.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	playlist, ok := f.playlists[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return playlist, nil
}

func (f *fakeStore) GetPlaylistItemsInOrder(ctx context.Context, playlistID string) ([]models.PlaylistItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[playlistID], nil
}

func (f *fakeStore) GetAsset(ctx context.Context, id string) (*models.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	asset, ok := f.assets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return asset, nil
}

func (f *fakeStore) DeleteSchedule(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.schedules, id)
	return nil
}

func (f *fakeStore) AppendHistory(ctx context.Context, assetID string, playedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, assetID)
	return nil
}

func (f *fakeStore) CountAssetsByCategory(ctx context.Context, category models.AssetCategory, excludeIDs []string) (int64, error) {
	return 0, nil
}

func (f *fakeStore) PickAssetByCategory(ctx context.Context, category models.AssetCategory, excludeIDs []string, offset int) (*models.Asset, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeStore) hasSchedule(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.schedules[id]
	return ok
}

func (f *fakeStore) addAsset(id string, durationSeconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets[id] = &models.Asset{
		ID:              id,
		Category:        models.CategoryPrimary,
		Title:           id,
		DurationSeconds: durationSeconds,
		FileRef:         id + ".mov",
	}
}

func (f *fakeStore) addPlaylist(id string, assetIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists[id] = &models.Playlist{ID: id, Name: id}
	var items []models.PlaylistItem
	for i, assetID := range assetIDs {
		items = append(items, models.PlaylistItem{
			ID:         id + "-" + assetID,
			PlaylistID: id,
			Position:   i,
			Kind:       models.ItemFixed,
			AssetID:    assetID,
		})
	}
	f.items[id] = items
}

func (f *fakeStore) addSchedule(id, playlistID string, dueAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules[id] = models.Schedule{ID: id, PlaylistID: playlistID, DueAt: dueAt}
}

// fakeDevice records playout commands.
type fakeDevice struct {
	mu      sync.Mutex
	calls   []string
	playErr map[string]error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{playErr: make(map[string]error)}
}

func (f *fakeDevice) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeDevice) Play(slot int, fileRef string) error {
	f.record("play " + fileRef)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playErr[fileRef]
}

func (f *fakeDevice) Stop(slot int) error   { f.record("stop"); return nil }
func (f *fakeDevice) Pause(slot int) error  { f.record("pause"); return nil }
func (f *fakeDevice) Resume(slot int) error { f.record("resume"); return nil }

func (f *fakeDevice) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// recorder collects bus events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) attach(bus *events.Bus) {
	bus.Subscribe(func(e events.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
}

func (r *recorder) names() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

func (r *recorder) count(name events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

func (r *recorder) startedOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, e := range r.events {
		if e.Name == events.EventScheduleStarted {
			ids = append(ids, e.ScheduleID)
		}
	}
	return ids
}

func testEngine(store *fakeStore, dev *fakeDevice, bus *events.Bus) *Engine {
	res := resolver.New(store, zerolog.Nop())
	return New(store, res, dev, bus, Config{
		OutputSlot:       1,
		PollInterval:     10 * time.Millisecond,
		ControlTick:      2 * time.Millisecond,
		ProgressInterval: 5 * time.Millisecond,
		FallbackWindow:   30 * time.Millisecond,
	}, zerolog.Nop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestRunCompletesAndDeletesSchedule(t *testing.T) {
	store := newFakeStore()
	store.addAsset("a1", 0)
	store.addAsset("a2", 0)
	store.addPlaylist("p1", "a1", "a2")
	store.addSchedule("s1", "p1", time.Now().Add(-time.Second))

	dev := newFakeDevice()
	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)

	eng := testEngine(store, dev, bus)
	eng.tick(context.Background())

	if store.hasSchedule("s1") {
		t.Fatal("completed schedule should be deleted")
	}
	if rec.count(events.EventScheduleStarted) != 1 {
		t.Fatalf("expected 1 schedule_started, got %d", rec.count(events.EventScheduleStarted))
	}
	if rec.count(events.EventPlaybackStarted) != 2 {
		t.Fatalf("expected 2 playback_started, got %d", rec.count(events.EventPlaybackStarted))
	}
	if rec.count(events.EventPlaybackCompleted) != 2 {
		t.Fatalf("expected 2 playback_completed, got %d", rec.count(events.EventPlaybackCompleted))
	}
	if rec.count(events.EventScheduleCompleted) != 1 {
		t.Fatalf("expected exactly one schedule_completed, got %d", rec.count(events.EventScheduleCompleted))
	}
	if rec.count(events.EventScheduleDeleted) != 1 {
		t.Fatalf("expected exactly one schedule_deleted, got %d", rec.count(events.EventScheduleDeleted))
	}
	if rec.count(events.EventScheduleFailed) != 0 || rec.count(events.EventScheduleStopped) != 0 {
		t.Fatal("unexpected failure or stop events on clean run")
	}

	calls := dev.callList()
	want := []string{"stop", "play a1.mov", "play a2.mov", "stop"}
	if len(calls) != len(want) {
		t.Fatalf("device calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("device call %d = %q, want %q", i, calls[i], want[i])
		}
	}

	store.mu.Lock()
	historyLen := len(store.history)
	store.mu.Unlock()
	if historyLen != 2 {
		t.Fatalf("expected 2 history records, got %d", historyLen)
	}
}

func TestEmptyPlaylistFastPath(t *testing.T) {
	store := newFakeStore()
	store.addPlaylist("p1")
	store.addSchedule("s1", "p1", time.Now().Add(-time.Second))

	dev := newFakeDevice()
	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)

	eng := testEngine(store, dev, bus)
	eng.tick(context.Background())

	if store.hasSchedule("s1") {
		t.Fatal("empty schedule should be deleted")
	}
	if rec.count(events.EventScheduleEmpty) != 1 {
		t.Fatalf("expected schedule_empty, got events %v", rec.names())
	}
	if rec.count(events.EventScheduleDeleted) != 1 {
		t.Fatal("expected schedule_deleted")
	}
	for _, call := range dev.callList() {
		if call == "play" {
			t.Fatal("nothing should play for an empty playlist")
		}
	}
}

func TestResolutionFailureRetainsSchedule(t *testing.T) {
	store := newFakeStore()
	store.addSchedule("s1", "ghost", time.Now().Add(-time.Second))

	dev := newFakeDevice()
	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)

	eng := testEngine(store, dev, bus)
	eng.tick(context.Background())

	if !store.hasSchedule("s1") {
		t.Fatal("failed schedule should be retained")
	}
	if rec.count(events.EventScheduleFailed) != 1 {
		t.Fatalf("expected schedule_failed, got events %v", rec.names())
	}

	// The claim must be released so a later tick retries the schedule.
	eng.tick(context.Background())
	if rec.count(events.EventScheduleFailed) != 2 {
		t.Fatal("expected retry on next tick after failure")
	}
}

func TestPlayErrorContinuesAndFailsRun(t *testing.T) {
	store := newFakeStore()
	store.addAsset("bad", 0)
	store.addAsset("good", 0)
	store.addPlaylist("p1", "bad", "good")
	store.addSchedule("s1", "p1", time.Now().Add(-time.Second))

	dev := newFakeDevice()
	dev.playErr["bad.mov"] = errors.New("device refused")

	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)

	eng := testEngine(store, dev, bus)
	eng.tick(context.Background())

	if rec.count(events.EventPlaybackError) != 1 {
		t.Fatalf("expected 1 playback_error, got %d", rec.count(events.EventPlaybackError))
	}
	if rec.count(events.EventPlaybackStarted) != 1 {
		t.Fatal("second asset should still play after a play failure")
	}
	if rec.count(events.EventScheduleFailed) != 1 {
		t.Fatal("run with playback errors should end failed")
	}
	if !store.hasSchedule("s1") {
		t.Fatal("failed schedule should be retained for retry")
	}
}

func TestBatchRunsInDueOrder(t *testing.T) {
	store := newFakeStore()
	store.addAsset("a1", 0)
	store.addPlaylist("p1", "a1")
	now := time.Now()
	// Inserted newest first; must run oldest first.
	store.addSchedule("late", "p1", now.Add(-time.Second))
	store.addSchedule("early", "p1", now.Add(-time.Minute))

	dev := newFakeDevice()
	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)

	eng := testEngine(store, dev, bus)
	eng.tick(context.Background())

	order := rec.startedOrder()
	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Fatalf("run order = %v, want [early late]", order)
	}
}

func TestStopCancelsActiveRun(t *testing.T) {
	store := newFakeStore()
	store.addAsset("long", 60)
	store.addPlaylist("p1", "long")
	store.addSchedule("s1", "p1", time.Now().Add(-time.Second))

	dev := newFakeDevice()
	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)

	eng := testEngine(store, dev, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.EventPlaybackStarted) == 1
	})

	if !eng.Stop(context.Background()) {
		t.Fatal("Stop should report success for an active run")
	}

	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.EventScheduleStopped) == 1
	})
	waitFor(t, 2*time.Second, func() bool {
		return eng.GetCurrentlyPlaying() == nil
	})

	if store.hasSchedule("s1") {
		t.Fatal("stopped schedule should be deleted")
	}
	if rec.count(events.EventScheduleCompleted) != 0 {
		t.Fatal("cancelled run must not also complete")
	}

	// Second stop with no active run reports failure.
	waitFor(t, time.Second, func() bool {
		return !eng.Stop(context.Background())
	})
}

func TestStopWhenIdleReturnsFalse(t *testing.T) {
	store := newFakeStore()
	dev := newFakeDevice()
	eng := testEngine(store, dev, events.NewBus())

	if eng.Stop(context.Background()) {
		t.Fatal("Stop with no active run should return false")
	}
	if eng.Pause() {
		t.Fatal("Pause with no active run should return false")
	}
	if eng.Resume() {
		t.Fatal("Resume with no active run should return false")
	}
	if eng.SkipToNext() {
		t.Fatal("SkipToNext with no active run should return false")
	}
}

func TestPauseAndResume(t *testing.T) {
	store := newFakeStore()
	store.addAsset("long", 60)
	store.addPlaylist("p1", "long")
	store.addSchedule("s1", "p1", time.Now().Add(-time.Second))

	dev := newFakeDevice()
	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)

	eng := testEngine(store, dev, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.EventPlaybackStarted) == 1
	})

	if !eng.Pause() {
		t.Fatal("Pause should succeed for an active run")
	}
	if eng.Pause() {
		t.Fatal("second Pause should report no-op")
	}
	if !eng.GetStatus().Paused {
		t.Fatal("status should report paused")
	}
	if rec.count(events.EventSchedulePaused) != 1 {
		t.Fatal("expected schedule_paused event")
	}

	if !eng.Resume() {
		t.Fatal("Resume should succeed while paused")
	}
	if eng.Resume() {
		t.Fatal("second Resume should report no-op")
	}
	if rec.count(events.EventScheduleResumed) != 1 {
		t.Fatal("expected schedule_resumed event")
	}

	eng.Stop(context.Background())
}

func TestSkipAdvancesToNextAsset(t *testing.T) {
	store := newFakeStore()
	store.addAsset("first", 60)
	store.addAsset("second", 60)
	store.addPlaylist("p1", "first", "second")
	store.addSchedule("s1", "p1", time.Now().Add(-time.Second))

	dev := newFakeDevice()
	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)

	eng := testEngine(store, dev, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.EventPlaybackStarted) == 1
	})

	if !eng.SkipToNext() {
		t.Fatal("SkipToNext should succeed for an active run")
	}
	if rec.count(events.EventScheduleNextRequested) != 1 {
		t.Fatal("expected schedule_next_requested event")
	}

	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.EventPlaybackStarted) == 2
	})

	eng.Stop(context.Background())
}

func TestTickSkippedWhileRunActive(t *testing.T) {
	store := newFakeStore()
	store.addAsset("long", 60)
	store.addPlaylist("p1", "long")
	store.addSchedule("s1", "p1", time.Now().Add(-time.Second))

	dev := newFakeDevice()
	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)

	eng := testEngine(store, dev, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.EventPlaybackStarted) == 1
	})

	// A schedule becoming due mid-run must not start concurrently.
	store.addSchedule("s2", "p1", time.Now().Add(-time.Second))
	time.Sleep(50 * time.Millisecond)

	if got := rec.count(events.EventScheduleStarted); got != 1 {
		t.Fatalf("expected 1 active run, got %d schedule_started", got)
	}
	status := eng.GetStatus()
	if !status.Running || status.Job == nil || status.Job.ScheduleID != "s1" {
		t.Fatalf("unexpected status: %+v", status)
	}

	eng.Stop(context.Background())
}

func TestProgressEventsEmitted(t *testing.T) {
	store := newFakeStore()
	store.addAsset("a1", 0) // falls back to the 30ms window
	store.addPlaylist("p1", "a1")
	store.addSchedule("s1", "p1", time.Now().Add(-time.Second))

	dev := newFakeDevice()
	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)

	eng := testEngine(store, dev, bus)
	eng.tick(context.Background())

	if rec.count(events.EventPlaybackProgress) == 0 {
		t.Fatal("expected at least one playback_progress event during the wait window")
	}
}

func TestPauseSuspendsPlaybackWindow(t *testing.T) {
	store := newFakeStore()
	store.addAsset("a1", 0) // falls back to the 30ms window
	store.addPlaylist("p1", "a1")
	store.addSchedule("s1", "p1", time.Now().Add(-time.Second))

	dev := newFakeDevice()
	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)

	eng := testEngine(store, dev, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.EventPlaybackStarted) == 1
	})
	if !eng.Pause() {
		t.Fatal("Pause should succeed for an active run")
	}

	// Hold the pause well past the fallback window; the window must not
	// drain while paused.
	time.Sleep(150 * time.Millisecond)
	if got := rec.count(events.EventPlaybackCompleted); got != 0 {
		t.Fatalf("asset completed while paused, got %d playback_completed", got)
	}

	resumedAt := time.Now()
	if !eng.Resume() {
		t.Fatal("Resume should succeed while paused")
	}
	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.EventPlaybackCompleted) == 1
	})

	// The asset still airs its remaining window after the resume.
	if aired := time.Since(resumedAt); aired < 15*time.Millisecond {
		t.Fatalf("asset aired only %v after resume, want most of the 30ms window", aired)
	}

	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.EventScheduleCompleted) == 1
	})
}

func TestSkipWhilePausedAdvances(t *testing.T) {
	store := newFakeStore()
	store.addAsset("first", 60)
	store.addAsset("second", 60)
	store.addPlaylist("p1", "first", "second")
	store.addSchedule("s1", "p1", time.Now().Add(-time.Second))

	dev := newFakeDevice()
	bus := events.NewBus()
	rec := &recorder{}
	rec.attach(bus)

	eng := testEngine(store, dev, bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.EventPlaybackStarted) == 1
	})
	if !eng.Pause() {
		t.Fatal("Pause should succeed for an active run")
	}
	if !eng.SkipToNext() {
		t.Fatal("SkipToNext should succeed while paused")
	}

	// The next asset must start without a Resume call.
	waitFor(t, 2*time.Second, func() bool {
		return rec.count(events.EventPlaybackStarted) == 2
	})
	if eng.GetStatus().Paused {
		t.Fatal("skip should lift the pause")
	}

	eng.Stop(context.Background())
}
