// Package escalation counts recurring device-restriction failures and offers a manual device switch.
package escalation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spinsync/internal/core"
	"spinsync/internal/devices"
	"spinsync/internal/metrics"
)

// Decision is the user's answer to a prompt.
type Decision string

// Decisions offered by a prompt.
const (
	DecisionContinue Decision = "continue" // stay on the current device
	DecisionSwitch   Decision = "switch"   // move playback to a fallback device
)

// ParseDecision accepts "continue" or "switch", case-insensitively.
func ParseDecision(raw string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(raw))) {
	case DecisionContinue:
		return DecisionContinue, nil
	case DecisionSwitch:
		return DecisionSwitch, nil
	default:
		return "", core.NewError(core.KindUnknown, "escalation", fmt.Sprintf("unknown decision %q", raw))
	}
}

// Prompt is raised once the restriction counter reaches the threshold.
type Prompt struct {
	ID           string          `json:"id"`
	Count        int             `json:"count"`
	FallbackType core.DeviceType `json:"fallback_type"`
	RaisedAt     time.Time       `json:"raised_at"`
}

// Transferer moves playback to a device.
type Transferer interface {
	SafeTransfer(ctx context.Context, deviceID, deviceName string, shouldPlay bool) error
}

// Directory supplies fresh device lists.
type Directory interface {
	Refresh(ctx context.Context) ([]core.Device, error)
}

// Policy is the restriction-error counter and its prompt state.
type Policy struct {
	transfer  Transferer
	directory Directory
	logger    *zap.Logger
	metrics   *metrics.Metrics
	threshold int
	fallback  core.DeviceType
	now       func() time.Time

	mutex    sync.Mutex
	count    int
	pending  *Prompt
	onPrompt func(Prompt)
}

func NewPolicy(transfer Transferer, directory Directory, config *core.PlaybackConfig, logger *zap.Logger, m *metrics.Metrics) *Policy {
	threshold := config.EscalationThreshold
	if threshold < 1 {
		threshold = core.DefaultEscalationThreshold
	}
	fallback := config.FallbackDeviceType
	if fallback == "" {
		fallback = core.DeviceTypeComputer
	}

	return &Policy{
		transfer:  transfer,
		directory: directory,
		logger:    logger,
		metrics:   m,
		threshold: threshold,
		fallback:  fallback,
		now:       time.Now,
	}
}

// OnPrompt registers the hook run when a prompt is raised. It is called without the policy lock held.
func (p *Policy) OnPrompt(fn func(Prompt)) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.onPrompt = fn
}

// Observe records the outcome of an operation. Success resets the counter and drops any pending prompt;
// a restriction error reported by the remote increments it; other errors leave it unchanged.
func (p *Policy) Observe(err error) {
	p.mutex.Lock()

	if err == nil {
		if p.count > 0 || p.pending != nil {
			p.logger.Debug("Restriction counter reset by successful operation", zap.Int("count", p.count))
		}
		p.count = 0
		p.pending = nil
		p.mutex.Unlock()
		return
	}

	if !remoteRestriction(err) {
		p.mutex.Unlock()
		return
	}

	p.count++
	p.logger.Debug("Restriction error observed", zap.Int("count", p.count))

	if p.count < p.threshold || p.pending != nil {
		p.mutex.Unlock()
		return
	}

	prompt := Prompt{
		ID:           uuid.NewString(),
		Count:        p.count,
		FallbackType: p.fallback,
		RaisedAt:     p.now(),
	}
	p.pending = &prompt
	hook := p.onPrompt
	p.mutex.Unlock()

	p.metrics.RecordEscalation("prompt")
	p.logger.Info("Raising device switch prompt",
		zap.String("promptID", prompt.ID),
		zap.Int("count", prompt.Count),
		zap.String("fallbackType", string(prompt.FallbackType)))

	if hook != nil {
		hook(prompt)
	}
}

// Resolve answers the pending prompt. Switching transfers playback to the first unrestricted, inactive device
// of the fallback type and returns it. The counter is reset whatever the outcome.
func (p *Policy) Resolve(ctx context.Context, decision Decision) (*core.Device, error) {
	if _, ok := p.Pending(); !ok {
		return nil, core.NewError(core.KindNotFound, "escalation", "no pending prompt")
	}
	defer p.Reset()

	p.metrics.RecordEscalation(string(decision))

	switch decision {
	case DecisionContinue:
		p.logger.Info("Continuing on current device")
		return nil, nil
	case DecisionSwitch:
	default:
		return nil, core.NewError(core.KindUnknown, "escalation", fmt.Sprintf("unknown decision %q", decision))
	}

	list, err := p.directory.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("escalation switch: %w", err)
	}

	target, ok := devices.FirstOfType(list, p.fallback)
	if !ok {
		return nil, core.NewError(core.KindNotFound, "escalation", fmt.Sprintf("no available %s device", p.fallback))
	}

	p.logger.Info("Switching playback to fallback device",
		zap.String("deviceID", target.ID),
		zap.String("deviceName", target.Name))

	if err := p.transfer.SafeTransfer(ctx, target.ID, target.Name, true); err != nil {
		return &target, fmt.Errorf("escalation switch: %w", err)
	}
	return &target, nil
}

// remoteRestriction reports whether err is a restriction the remote answered with.
// Local pre-flight rejections carry no status.
func remoteRestriction(err error) bool {
	return core.KindOf(err) == core.KindRestricted && core.StatusOf(err) != 0
}

// Count returns the current number of consecutive restriction errors.
func (p *Policy) Count() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.count
}

// Pending returns the raised prompt, if any.
func (p *Policy) Pending() (Prompt, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.pending == nil {
		return Prompt{}, false
	}
	return *p.pending, true
}

// Reset clears the counter and any pending prompt.
func (p *Policy) Reset() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.count = 0
	p.pending = nil
}
