package escalation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"spinsync/internal/core"
)

type transferCall struct {
	deviceID string
	play     bool
}

type fakeTransferer struct {
	err   error
	calls []transferCall
}

func (f *fakeTransferer) SafeTransfer(_ context.Context, deviceID, _ string, shouldPlay bool) error {
	f.calls = append(f.calls, transferCall{deviceID, shouldPlay})
	return f.err
}

type fakeDirectory struct {
	devices []core.Device
	err     error
}

func (d *fakeDirectory) Refresh(_ context.Context) ([]core.Device, error) {
	return d.devices, d.err
}

func restrictionErr() error {
	return &core.Error{Kind: core.KindRestricted, Status: 403, Message: "Player command failed: Restriction violated"}
}

func newTestPolicy(transfer *fakeTransferer, dir *fakeDirectory) *Policy {
	config := core.DefaultConfig().Playback
	return NewPolicy(transfer, dir, &config, zap.NewNop(), nil)
}

func TestPromptFiresAtThirdRestriction(t *testing.T) {
	p := newTestPolicy(&fakeTransferer{}, &fakeDirectory{})

	var prompts []Prompt
	p.OnPrompt(func(pr Prompt) { prompts = append(prompts, pr) })

	p.Observe(restrictionErr())
	p.Observe(restrictionErr())
	_, pending := p.Pending()
	assert.False(t, pending)
	assert.Empty(t, prompts)

	p.Observe(restrictionErr())
	prompt, pending := p.Pending()
	require.True(t, pending)
	require.Len(t, prompts, 1)
	assert.Equal(t, 3, prompt.Count)
	assert.Equal(t, core.DeviceTypeComputer, prompt.FallbackType)
	assert.NotEmpty(t, prompt.ID)

	p.Observe(restrictionErr())
	assert.Len(t, prompts, 1, "no second prompt while one is pending")
	assert.Equal(t, 4, p.Count())
}

func TestSuccessResetsCounter(t *testing.T) {
	p := newTestPolicy(&fakeTransferer{}, &fakeDirectory{})

	p.Observe(restrictionErr())
	p.Observe(restrictionErr())
	p.Observe(nil)
	assert.Equal(t, 0, p.Count())

	p.Observe(restrictionErr())
	p.Observe(restrictionErr())
	_, pending := p.Pending()
	assert.False(t, pending, "counter must start over after a success")

	p.Observe(restrictionErr())
	_, pending = p.Pending()
	assert.True(t, pending)

	p.Observe(nil)
	_, pending = p.Pending()
	assert.False(t, pending, "success drops the pending prompt")
	assert.Equal(t, 0, p.Count())
}

func TestOtherErrorsLeaveCounterUnchanged(t *testing.T) {
	p := newTestPolicy(&fakeTransferer{}, &fakeDirectory{})

	p.Observe(restrictionErr())
	p.Observe(&core.Error{Kind: core.KindTransient, Status: 503})
	p.Observe(errors.New("plain"))
	assert.Equal(t, 1, p.Count())
}

func TestInterleavedOtherErrorDoesNotBreakTheRun(t *testing.T) {
	p := newTestPolicy(&fakeTransferer{}, &fakeDirectory{})

	p.Observe(restrictionErr())
	p.Observe(&core.Error{Kind: core.KindTransient, Status: 503})
	p.Observe(restrictionErr())
	_, pending := p.Pending()
	assert.False(t, pending)

	p.Observe(restrictionErr())
	prompt, pending := p.Pending()
	require.True(t, pending)
	assert.Equal(t, 3, prompt.Count)
}

func TestLocalRestrictionIsNotCounted(t *testing.T) {
	p := newTestPolicy(&fakeTransferer{}, &fakeDirectory{})
	local := &core.Error{Kind: core.KindRestricted, Op: "transfer", Message: `device "TV" does not accept playback commands`}

	for range 3 {
		p.Observe(fmt.Errorf("transfer: %w", local))
	}
	assert.Equal(t, 0, p.Count())
	_, pending := p.Pending()
	assert.False(t, pending)

	p.Observe(fmt.Errorf("pause: %w", restrictionErr()))
	assert.Equal(t, 1, p.Count())
}

func TestResolveContinue(t *testing.T) {
	transfer := &fakeTransferer{}
	p := newTestPolicy(transfer, &fakeDirectory{})
	for range 3 {
		p.Observe(restrictionErr())
	}

	dev, err := p.Resolve(context.Background(), DecisionContinue)
	require.NoError(t, err)
	assert.Nil(t, dev)
	assert.Empty(t, transfer.calls)
	assert.Equal(t, 0, p.Count())
}

func TestResolveSwitchPicksFallbackDevice(t *testing.T) {
	transfer := &fakeTransferer{}
	dir := &fakeDirectory{devices: []core.Device{
		{ID: "phone", Name: "Phone", Type: core.DeviceTypeSmartphone, IsActive: true},
		{ID: "locked", Name: "Locked PC", Type: core.DeviceTypeComputer, IsRestricted: true},
		{ID: "desk", Name: "Desktop", Type: core.DeviceTypeComputer},
	}}
	p := newTestPolicy(transfer, dir)
	for range 3 {
		p.Observe(restrictionErr())
	}

	dev, err := p.Resolve(context.Background(), DecisionSwitch)
	require.NoError(t, err)
	require.NotNil(t, dev)
	assert.Equal(t, "desk", dev.ID)
	assert.Equal(t, []transferCall{{"desk", true}}, transfer.calls)
	assert.Equal(t, 0, p.Count())
}

func TestResolveSwitchResetsOnFailure(t *testing.T) {
	transfer := &fakeTransferer{err: &core.Error{Kind: core.KindVanished}}
	dir := &fakeDirectory{devices: []core.Device{{ID: "desk", Name: "Desktop", Type: core.DeviceTypeComputer}}}
	p := newTestPolicy(transfer, dir)
	for range 3 {
		p.Observe(restrictionErr())
	}

	_, err := p.Resolve(context.Background(), DecisionSwitch)
	assert.ErrorIs(t, err, core.ErrVanished)
	assert.Equal(t, 0, p.Count())
	_, pending := p.Pending()
	assert.False(t, pending)
}

func TestResolveSwitchWithoutCandidate(t *testing.T) {
	transfer := &fakeTransferer{}
	dir := &fakeDirectory{devices: []core.Device{{ID: "phone", Name: "Phone", Type: core.DeviceTypeSmartphone}}}
	p := newTestPolicy(transfer, dir)
	for range 3 {
		p.Observe(restrictionErr())
	}

	_, err := p.Resolve(context.Background(), DecisionSwitch)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, transfer.calls)
	assert.Equal(t, 0, p.Count())
}

func TestResolveWithoutPrompt(t *testing.T) {
	p := newTestPolicy(&fakeTransferer{}, &fakeDirectory{})

	_, err := p.Resolve(context.Background(), DecisionContinue)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision(" Switch ")
	require.NoError(t, err)
	assert.Equal(t, DecisionSwitch, d)

	_, err = ParseDecision("maybe")
	assert.Error(t, err)
}
