package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"spinsync/internal/core"
)

// gatedSource hands each call's result over a channel so tests control completion order.
type gatedSource struct {
	calls   atomic.Int32
	started chan struct{}
	results chan *core.PlaybackState
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		started: make(chan struct{}, 16),
		results: make(chan *core.PlaybackState),
	}
}

func (s *gatedSource) PlaybackState(ctx context.Context) (*core.PlaybackState, error) {
	s.calls.Add(1)
	s.started <- struct{}{}
	select {
	case state := <-s.results:
		return state, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// staticSource always returns the same state.
type staticSource struct {
	mutex sync.Mutex
	state *core.PlaybackState
	err   error
	calls int
}

func (s *staticSource) PlaybackState(_ context.Context) (*core.PlaybackState, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.calls++
	return s.state.Clone(), s.err
}

func (s *staticSource) set(state *core.PlaybackState) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state = state
}

type scheduled struct {
	delay time.Duration
	fn    func()
}

type scheduleRecorder struct {
	mutex sync.Mutex
	jobs  []scheduled
}

func (r *scheduleRecorder) Schedule(d time.Duration, fn func()) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.jobs = append(r.jobs, scheduled{d, fn})
}

func (r *scheduleRecorder) RunAll() {
	r.mutex.Lock()
	jobs := r.jobs
	r.jobs = nil
	r.mutex.Unlock()

	for _, job := range jobs {
		job.fn()
	}
}

func newTestReconciler(source StateSource) (*Reconciler, *scheduleRecorder) {
	config := core.DefaultConfig().Playback
	r := NewReconciler(source, &config, zap.NewNop(), nil)
	rec := &scheduleRecorder{}
	r.schedule = rec.Schedule
	return r, rec
}

func playingState(trackID string) *core.PlaybackState {
	return &core.PlaybackState{
		IsPlaying: true,
		Track:     &core.Track{ID: trackID, Name: "Song " + trackID, URI: "spotify:track:" + trackID, DurationMs: 1000},
		Device:    &core.Device{ID: "d1", Name: "Laptop", VolumePercent: 50},
		Repeat:    core.RepeatOff,
	}
}

func TestRefreshAppliesRemoteState(t *testing.T) {
	source := &staticSource{state: playingState("t1")}
	r, _ := newTestReconciler(source)

	state, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if state == nil || state.Track.ID != "t1" {
		t.Errorf("Refresh() = %+v, expected t1", state)
	}
	if track := r.CurrentTrack(); track == nil || track.ID != "t1" {
		t.Errorf("CurrentTrack() = %+v, expected t1", track)
	}
}

func TestEmptyPollClearsStateAndTrack(t *testing.T) {
	source := &staticSource{state: playingState("t1")}
	r, _ := newTestReconciler(source)

	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	source.set(nil)
	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if r.State() != nil {
		t.Errorf("State() = %+v, expected nil after empty poll", r.State())
	}
	if r.CurrentTrack() != nil {
		t.Errorf("CurrentTrack() = %+v, expected nil after empty poll", r.CurrentTrack())
	}
}

func TestRefreshErrorKeepsState(t *testing.T) {
	source := &staticSource{state: playingState("t1")}
	r, _ := newTestReconciler(source)
	_, _ = r.Refresh(context.Background())

	source.err = &core.Error{Kind: core.KindTransient, Status: 503}
	if _, err := r.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() expected error")
	}
	if r.State() == nil {
		t.Error("State() cleared by a failed fetch")
	}
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	source := newGatedSource()
	r, _ := newTestReconciler(source)

	// Seed a state.
	go func() {
		<-source.started
		source.results <- playingState("t1")
	}()
	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// Issue a fetch, then apply an optimistic pause before it returns.
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Refresh(context.Background())
	}()
	<-source.started

	r.Optimistic(func(s *core.PlaybackState) { s.IsPlaying = false })

	source.results <- playingState("t1")
	<-done

	if state := r.State(); state == nil || state.IsPlaying {
		t.Errorf("State() = %+v, stale fetch overwrote the optimistic pause", state)
	}

	// A fetch issued after the optimistic update wins.
	go func() {
		<-source.started
		source.results <- playingState("t2")
	}()
	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if state := r.State(); state == nil || state.Track.ID != "t2" || !state.IsPlaying {
		t.Errorf("State() = %+v, expected the newer fetch to apply", state)
	}
}

func TestOptimisticWithoutStateIsNoop(t *testing.T) {
	r, _ := newTestReconciler(&staticSource{})
	r.Optimistic(func(s *core.PlaybackState) { s.IsPlaying = true })
	if r.State() != nil {
		t.Error("Optimistic() should not invent a state")
	}
}

func TestScheduleConfirmUsesConfirmDelay(t *testing.T) {
	source := &staticSource{state: playingState("t1")}
	r, rec := newTestReconciler(source)

	ctx, cancel := context.WithCancel(context.Background())
	r.ScheduleConfirm(ctx)
	cancel()

	if len(rec.jobs) != 1 || rec.jobs[0].delay != 1200*time.Millisecond {
		t.Fatalf("scheduled jobs = %+v, expected one at 1.2s", rec.jobs)
	}

	rec.RunAll()
	if source.calls != 1 {
		t.Errorf("source calls = %d, expected 1", source.calls)
	}
	if r.State() == nil {
		t.Error("confirm should apply even though the request context was cancelled")
	}
}

func TestSyncIsSingleFlight(t *testing.T) {
	source := newGatedSource()
	r, _ := newTestReconciler(source)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]*core.PlaybackState, 3)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = r.Sync(ctx)
	}()
	<-source.started

	for i := 1; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.Sync(ctx)
		}(i)
	}

	// Give the followers time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	source.results <- playingState("t1")
	wg.Wait()

	if calls := source.calls.Load(); calls > 2 {
		t.Errorf("source calls = %d, expected concurrent syncs to share a fetch", calls)
	}
	if results[0] == nil || results[0].Track.ID != "t1" {
		t.Errorf("Sync() = %+v", results[0])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &staticSource{state: playingState("t1")}
	r, _ := newTestReconciler(source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- r.Run(ctx, 5*time.Millisecond) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if r.State() == nil {
		t.Error("Run() should have polled at least once")
	}
}
