// Package transfer moves the active playback target between devices.
package transfer

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"spinsync/internal/core"
	"spinsync/internal/devices"
	"spinsync/internal/metrics"
)

const (
	modeSoft = "soft"
	modePlay = "play"

	op = "transfer"
)

// Remote issues the transfer command.
type Remote interface {
	TransferPlayback(ctx context.Context, deviceID string, play bool) error
}

// Directory supplies fresh device lists.
type Directory interface {
	Refresh(ctx context.Context) ([]core.Device, error)
}

// Orchestrator validates a target device, soft-transfers to it, confirms it survived and then starts playback.
type Orchestrator struct {
	remote    Remote
	directory Directory
	logger    *zap.Logger
	metrics   *metrics.Metrics
	attempts  int
	backoff   time.Duration
	settle    time.Duration
	sleep     core.SleepFunc
}

func NewOrchestrator(remote Remote, directory Directory, config *core.PlaybackConfig, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	attempts := config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	return &Orchestrator{
		remote:    remote,
		directory: directory,
		logger:    logger,
		metrics:   m,
		attempts:  attempts,
		backoff:   config.RetryBackoff,
		settle:    config.SettleDelay,
		sleep:     core.Sleep,
	}
}

// SafeTransfer makes deviceID the active device, starting playback on it when shouldPlay is set.
// No transfer command is sent unless the device is present and unrestricted in a fresh directory fetch.
func (o *Orchestrator) SafeTransfer(ctx context.Context, deviceID, deviceName string, shouldPlay bool) error {
	logger := o.logger.With(
		zap.String("deviceID", deviceID),
		zap.String("deviceName", deviceName),
		zap.Bool("play", shouldPlay))

	list, err := o.directory.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("transfer pre-flight: %w", err)
	}

	target, ok := devices.Find(list, deviceID)
	if !ok {
		logger.Info("Transfer target not in directory")
		return &core.Error{Kind: core.KindNotFound, Op: op, Message: fmt.Sprintf("device %q not found", deviceName)}
	}
	if target.IsRestricted {
		logger.Info("Transfer target is restricted")
		return &core.Error{Kind: core.KindRestricted, Op: op, Message: fmt.Sprintf("device %q does not accept playback commands", deviceName)}
	}

	if target.IsActive {
		if !shouldPlay {
			logger.Debug("Transfer target already active")
			return nil
		}
		return o.transferWithRetry(ctx, deviceID, true)
	}

	if err := o.transferWithRetry(ctx, deviceID, false); err != nil {
		return err
	}

	if err := o.sleep(ctx, o.settle); err != nil {
		return fmt.Errorf("transfer settle: %w", err)
	}

	list, err = o.directory.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("transfer confirm: %w", err)
	}
	if _, ok := devices.Find(list, deviceID); !ok {
		logger.Warn("Device disappeared after soft transfer")
		return &core.Error{Kind: core.KindVanished, Op: op, Message: fmt.Sprintf("device %q disappeared after soft transfer", deviceName)}
	}

	if !shouldPlay {
		logger.Info("Soft transfer complete")
		return nil
	}

	if err := o.transferWithRetry(ctx, deviceID, true); err != nil {
		return err
	}

	logger.Info("Transfer complete")
	return nil
}

// transferWithRetry retries the transfer command alone. HTTP 500 is reported as invalid state without retrying.
func (o *Orchestrator) transferWithRetry(ctx context.Context, deviceID string, play bool) error {
	mode := modeSoft
	if play {
		mode = modePlay
	}

	for attempt := 1; ; attempt++ {
		err := o.remote.TransferPlayback(ctx, deviceID, play)
		if err == nil {
			o.metrics.RecordTransferAttempt(mode, "ok")
			return nil
		}

		kind := core.KindOf(err)
		if kind == core.KindTransient && core.StatusOf(err) == http.StatusInternalServerError {
			o.metrics.RecordTransferAttempt(mode, core.KindInvalidState.String())
			return &core.Error{
				Kind:    core.KindInvalidState,
				Op:      op,
				Status:  http.StatusInternalServerError,
				Message: "device is in an invalid state, open Spotify on it and start playback manually",
				Err:     err,
			}
		}
		o.metrics.RecordTransferAttempt(mode, kind.String())

		if !core.Retryable(err) || attempt >= o.attempts {
			return fmt.Errorf("%s transfer to %s: %w", mode, deviceID, err)
		}

		delay := core.RetryAfterOf(err)
		if delay <= 0 {
			delay = time.Duration(attempt) * o.backoff
		}
		o.logger.Debug("Retrying transfer",
			zap.String("deviceID", deviceID),
			zap.String("mode", mode),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		if err := o.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s transfer to %s: %w", mode, deviceID, err)
		}

		list, ferr := o.directory.Refresh(ctx)
		if ferr != nil {
			o.logger.Debug("Directory refresh between transfer attempts failed", zap.Error(ferr))
			continue
		}
		if _, ok := devices.Find(list, deviceID); !ok {
			return &core.Error{Kind: core.KindVanished, Op: op, Message: fmt.Sprintf("device %s disappeared while retrying", deviceID), Err: err}
		}
	}
}

// EnsureActiveDevice returns the active device. When none is active it soft-transfers to the first listed device.
func (o *Orchestrator) EnsureActiveDevice(ctx context.Context) (core.Device, error) {
	list, err := o.directory.Refresh(ctx)
	if err != nil {
		return core.Device{}, fmt.Errorf("ensure active device: %w", err)
	}

	if active, ok := devices.Active(list); ok {
		return active, nil
	}
	if len(list) == 0 {
		return core.Device{}, &core.Error{Kind: core.KindNotFound, Op: "ensure_active_device", Message: "no devices available, open Spotify on a device"}
	}

	first := list[0]
	o.logger.Info("No active device, initializing first device",
		zap.String("deviceID", first.ID),
		zap.String("deviceName", first.Name))

	if err := o.SafeTransfer(ctx, first.ID, first.Name, false); err != nil {
		return first, err
	}
	return first, nil
}

// TransferAndRefresh runs SafeTransfer and always re-fetches the directory afterwards,
// since a failed transfer may still have changed remote state.
func (o *Orchestrator) TransferAndRefresh(ctx context.Context, deviceID, deviceName string, shouldPlay bool) ([]core.Device, error) {
	transferErr := o.SafeTransfer(ctx, deviceID, deviceName, shouldPlay)

	list, err := o.directory.Refresh(ctx)
	if err != nil {
		o.logger.Warn("Directory refresh after transfer failed", zap.Error(err))
		if transferErr == nil {
			return nil, err
		}
	}
	return list, transferErr
}
