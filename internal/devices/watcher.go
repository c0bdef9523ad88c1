package devices

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"spinsync/internal/core"
	"spinsync/internal/metrics"
)

// UpdateFunc receives every watcher fetch result.
type UpdateFunc func(devices []core.Device, err error)

// Watcher polls the directory while a device-selection surface is open.
// At most one fetch is in flight; a tick that finds one running is skipped.
type Watcher struct {
	directory *Directory
	interval  time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
	onUpdate  UpdateFunc

	fetching sync.Mutex
	inflight sync.WaitGroup
	skipped  atomic.Int64

	mutex  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWatcher(directory *Directory, interval time.Duration, logger *zap.Logger, m *metrics.Metrics, onUpdate UpdateFunc) *Watcher {
	if interval <= 0 {
		interval = core.DefaultDevicePollInterval
	}
	if onUpdate == nil {
		onUpdate = func([]core.Device, error) {}
	}

	return &Watcher{
		directory: directory,
		interval:  interval,
		logger:    logger,
		metrics:   m,
		onUpdate:  onUpdate,
	}
}

// Start begins polling with an immediate fetch. Starting a running watcher does nothing.
func (w *Watcher) Start(ctx context.Context) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.metrics.SetWatcherActive(true)

	w.logger.Debug("Device watcher started", zap.Duration("interval", w.interval))
	go w.loop(loopCtx, w.done)
}

// Stop cancels polling and waits for the loop and any in-flight fetch to finish.
func (w *Watcher) Stop() {
	w.mutex.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mutex.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	w.inflight.Wait()
	w.metrics.SetWatcherActive(false)
	w.logger.Debug("Device watcher stopped")
}

// Running reports whether the watcher is polling.
func (w *Watcher) Running() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.cancel != nil
}

// Skipped returns how many ticks were skipped because a fetch was still running.
func (w *Watcher) Skipped() int64 {
	return w.skipped.Load()
}

func (w *Watcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	if !w.fetching.TryLock() {
		w.skipped.Add(1)
		w.logger.Debug("Skipping device poll, previous fetch still running")
		return
	}

	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		defer w.fetching.Unlock()

		devices, err := w.directory.Refresh(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.logger.Warn("Device poll failed", zap.Error(err))
		}
		w.onUpdate(devices, err)
	}()
}
