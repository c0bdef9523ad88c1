// Package devices fetches and caches the list of playback devices.
package devices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"spinsync/internal/core"
	"spinsync/internal/metrics"
)

// Remote is the part of the Spotify client the directory needs.
type Remote interface {
	Devices(ctx context.Context) ([]core.Device, error)
}

// Directory lists devices with bounded retries and keeps the last filtered snapshot.
type Directory struct {
	remote   Remote
	logger   *zap.Logger
	metrics  *metrics.Metrics
	attempts int
	backoff  time.Duration
	sleep    core.SleepFunc
	now      func() time.Time

	mutex     sync.RWMutex
	snapshot  []core.Device
	fetchedAt time.Time
}

func NewDirectory(remote Remote, config *core.PlaybackConfig, logger *zap.Logger, m *metrics.Metrics) *Directory {
	attempts := config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &Directory{
		remote:   remote,
		logger:   logger,
		metrics:  m,
		attempts: attempts,
		backoff:  config.RetryBackoff,
		sleep:    core.Sleep,
		now:      time.Now,
	}
}

// List fetches the raw device list. Transient and rate-limited failures are retried up to the attempt cap,
// waiting Retry-After when the remote sent one and attempt × backoff otherwise.
func (d *Directory) List(ctx context.Context) ([]core.Device, error) {
	var lastErr error

	for attempt := 1; attempt <= d.attempts; attempt++ {
		devices, err := d.remote.Devices(ctx)
		if err == nil {
			return devices, nil
		}
		lastErr = err

		switch core.KindOf(err) {
		case core.KindUnauthenticated:
			return nil, fmt.Errorf("list devices: re-login required: %w", err)
		case core.KindTransient, core.KindRateLimited:
		default:
			return nil, fmt.Errorf("list devices: %w", err)
		}

		if attempt == d.attempts {
			break
		}

		delay := core.RetryAfterOf(err)
		if delay <= 0 {
			delay = time.Duration(attempt) * d.backoff
		}

		d.logger.Debug("Retrying device list",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := d.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("list devices: %w", err)
		}
	}

	d.metrics.RecordError("devices", core.KindOf(lastErr).String())
	return nil, fmt.Errorf("list devices: giving up after %d attempts: %w", d.attempts, lastErr)
}

// Refresh lists devices, drops incomplete entries and stores the result as the current snapshot.
func (d *Directory) Refresh(ctx context.Context) ([]core.Device, error) {
	raw, err := d.List(ctx)
	if err != nil {
		return nil, err
	}

	valid := FilterValid(raw)
	if dropped := len(raw) - len(valid); dropped > 0 {
		d.logger.Debug("Dropped incomplete devices", zap.Int("dropped", dropped))
	}

	d.mutex.Lock()
	d.snapshot = valid
	d.fetchedAt = d.now()
	d.mutex.Unlock()

	d.metrics.SetDevicesVisible(len(valid))
	return clone(valid), nil
}

// Snapshot returns the last refreshed list and when it was fetched. The zero time means never.
func (d *Directory) Snapshot() ([]core.Device, time.Time) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return clone(d.snapshot), d.fetchedAt
}

// FilterValid drops entries missing an id, name or type.
func FilterValid(devices []core.Device) []core.Device {
	valid := make([]core.Device, 0, len(devices))
	for i := range devices {
		if devices[i].Valid() {
			valid = append(valid, devices[i])
		}
	}
	return valid
}

// Find returns the device with the given id.
func Find(devices []core.Device, id string) (core.Device, bool) {
	for i := range devices {
		if devices[i].ID == id {
			return devices[i], true
		}
	}
	return core.Device{}, false
}

// Active returns the first device flagged active. The remote does not guarantee there is at most one.
func Active(devices []core.Device) (core.Device, bool) {
	for i := range devices {
		if devices[i].IsActive {
			return devices[i], true
		}
	}
	return core.Device{}, false
}

// FirstOfType returns the first device of type t that is neither restricted nor already active.
func FirstOfType(devices []core.Device, t core.DeviceType) (core.Device, bool) {
	for i := range devices {
		dev := devices[i]
		if dev.Type == t && !dev.IsRestricted && !dev.IsActive {
			return dev, true
		}
	}
	return core.Device{}, false
}

func clone(devices []core.Device) []core.Device {
	if devices == nil {
		return nil
	}
	return append([]core.Device(nil), devices...)
}
