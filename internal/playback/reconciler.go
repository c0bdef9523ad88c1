// Package playback keeps a local view of what is playing in step with the remote player.
package playback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"spinsync/internal/core"
	"spinsync/internal/metrics"
)

const (
	syncKey        = "sync"
	confirmTimeout = 10 * time.Second
)

// StateSource fetches the remote playback state. A nil state means nothing is playing.
type StateSource interface {
	PlaybackState(ctx context.Context) (*core.PlaybackState, error)
}

// ScheduleFunc runs fn once after d.
type ScheduleFunc func(d time.Duration, fn func())

func afterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}

// Reconciler holds the believed playback state. Every optimistic update and every fetch takes a sequence
// number when issued; a fetch result older than the last applied sequence is discarded.
type Reconciler struct {
	source       StateSource
	logger       *zap.Logger
	metrics      *metrics.Metrics
	confirmDelay time.Duration
	schedule     ScheduleFunc
	group        singleflight.Group

	mutex   sync.RWMutex
	state   *core.PlaybackState
	issued  uint64
	applied uint64
}

func NewReconciler(source StateSource, config *core.PlaybackConfig, logger *zap.Logger, m *metrics.Metrics) *Reconciler {
	delay := config.ConfirmDelay
	if delay <= 0 {
		delay = core.DefaultConfirmDelay
	}

	return &Reconciler{
		source:       source,
		logger:       logger,
		metrics:      m,
		confirmDelay: delay,
		schedule:     afterFunc,
	}
}

// State returns a copy of the believed state, nil when nothing is playing.
func (r *Reconciler) State() *core.PlaybackState {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state.Clone()
}

// CurrentTrack returns a copy of the believed current track.
func (r *Reconciler) CurrentTrack() *core.Track {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.state == nil || r.state.Track == nil {
		return nil
	}
	track := r.state.Track.Clone()
	return &track
}

// Optimistic applies mutate to the believed state immediately. Fetches issued before this call can no longer
// overwrite the result. With no believed state there is nothing to adjust.
func (r *Reconciler) Optimistic(mutate func(*core.PlaybackState)) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.issued++
	r.applied = r.issued

	if r.state == nil {
		return
	}
	next := r.state.Clone()
	mutate(next)
	r.state = next
}

// Refresh fetches the remote state and applies it unless a newer update landed meanwhile.
// Fetch errors leave the believed state untouched.
func (r *Reconciler) Refresh(ctx context.Context) (*core.PlaybackState, error) {
	seq := r.nextSequence()

	state, err := r.source.PlaybackState(ctx)
	if err != nil {
		return nil, err
	}

	if !r.apply(seq, state) {
		r.metrics.RecordStaleResult()
		r.logger.Debug("Discarded stale playback state", zap.Uint64("sequence", seq))
	}
	return r.State(), nil
}

// ScheduleConfirm refreshes once after the confirm delay. The refresh outlives ctx's cancellation.
func (r *Reconciler) ScheduleConfirm(ctx context.Context) {
	detached := context.WithoutCancel(ctx)

	r.schedule(r.confirmDelay, func() {
		confirmCtx, cancel := context.WithTimeout(detached, confirmTimeout)
		defer cancel()

		if _, err := r.Refresh(confirmCtx); err != nil {
			r.logger.Debug("Confirmatory playback refresh failed", zap.Error(err))
		}
	})
}

// Sync is the background poll. Concurrent callers share one in-flight fetch.
func (r *Reconciler) Sync(ctx context.Context) (*core.PlaybackState, error) {
	v, err, _ := r.group.Do(syncKey, func() (any, error) {
		return r.Refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	state, _ := v.(*core.PlaybackState)
	return state.Clone(), nil
}

// Run polls every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = core.DefaultPlaybackPollInterval
	}

	r.logger.Info("Starting playback state polling", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Playback state polling stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sync(ctx); err != nil && ctx.Err() == nil {
				r.logger.Debug("Playback poll failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) nextSequence() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.issued++
	return r.issued
}

// apply stores state if seq is newer than the applied one. A nil state clears the believed state and track.
func (r *Reconciler) apply(seq uint64, state *core.PlaybackState) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if seq <= r.applied {
		return false
	}
	r.applied = seq
	r.state = state.Clone()
	return true
}
