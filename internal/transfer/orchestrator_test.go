package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"spinsync/internal/core"
	"spinsync/internal/escalation"
)

type transferCall struct {
	deviceID string
	play     bool
}

type fakeRemote struct {
	mutex sync.Mutex
	errs  []error
	calls []transferCall
}

func (r *fakeRemote) TransferPlayback(_ context.Context, deviceID string, play bool) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.calls = append(r.calls, transferCall{deviceID, play})
	if len(r.errs) == 0 {
		return nil
	}
	err := r.errs[0]
	r.errs = r.errs[1:]
	return err
}

// fakeDirectory returns lists in order and repeats the last one.
type fakeDirectory struct {
	lists   [][]core.Device
	err     error
	fetches int
}

func (d *fakeDirectory) Refresh(_ context.Context) ([]core.Device, error) {
	d.fetches++
	if d.err != nil {
		return nil, d.err
	}
	idx := min(d.fetches-1, len(d.lists)-1)
	return d.lists[idx], nil
}

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func newTestOrchestrator(remote *fakeRemote, dir *fakeDirectory) (*Orchestrator, *sleepRecorder) {
	config := core.DefaultConfig().Playback
	o := NewOrchestrator(remote, dir, &config, zap.NewNop(), nil)
	rec := &sleepRecorder{}
	o.sleep = rec.Sleep
	return o, rec
}

func device(id string, active, restricted bool) core.Device {
	return core.Device{ID: id, Name: "Device " + id, Type: core.DeviceTypeComputer, RawType: "Computer", IsActive: active, IsRestricted: restricted}
}

func TestSafeTransferSoftThenPlay(t *testing.T) {
	remote := &fakeRemote{}
	dir := &fakeDirectory{lists: [][]core.Device{{device("d1", false, false)}}}
	o, rec := newTestOrchestrator(remote, dir)

	err := o.SafeTransfer(context.Background(), "d1", "Laptop", true)
	require.NoError(t, err)

	assert.Equal(t, []transferCall{{"d1", false}, {"d1", true}}, remote.calls)
	assert.Equal(t, 2, dir.fetches, "pre-flight and confirm fetch")
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, rec.delays, "only the settle delay")
}

func TestSafeTransferRestrictedIssuesNoCommands(t *testing.T) {
	remote := &fakeRemote{}
	dir := &fakeDirectory{lists: [][]core.Device{{device("d2", false, true)}}}
	o, _ := newTestOrchestrator(remote, dir)

	err := o.SafeTransfer(context.Background(), "d2", "Work PC", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRestricted)
	assert.Empty(t, remote.calls)
}

func TestRestrictedPreflightDoesNotEscalate(t *testing.T) {
	remote := &fakeRemote{}
	dir := &fakeDirectory{lists: [][]core.Device{{device("tv", false, true)}}}
	o, _ := newTestOrchestrator(remote, dir)

	config := core.DefaultConfig().Playback
	policy := escalation.NewPolicy(o, dir, &config, zap.NewNop(), nil)

	for range 3 {
		err := o.SafeTransfer(context.Background(), "tv", "TV", true)
		require.ErrorIs(t, err, core.ErrRestricted)
		policy.Observe(err)
	}

	assert.Empty(t, remote.calls)
	assert.Equal(t, 0, policy.Count())
	_, pending := policy.Pending()
	assert.False(t, pending)
}

func TestSafeTransferMissingDeviceIssuesNoCommands(t *testing.T) {
	remote := &fakeRemote{}
	dir := &fakeDirectory{lists: [][]core.Device{{device("other", false, false)}}}
	o, _ := newTestOrchestrator(remote, dir)

	err := o.SafeTransfer(context.Background(), "gone", "Phone", true)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, remote.calls)
}

func TestSafeTransferPreflightFailure(t *testing.T) {
	remote := &fakeRemote{}
	dir := &fakeDirectory{err: &core.Error{Kind: core.KindUnauthenticated, Status: 401}}
	o, _ := newTestOrchestrator(remote, dir)

	err := o.SafeTransfer(context.Background(), "d1", "Laptop", true)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)
	assert.Empty(t, remote.calls)
}

func TestSafeTransferInternalErrorIsInvalidStateWithoutRetry(t *testing.T) {
	remote := &fakeRemote{errs: []error{&core.Error{Kind: core.KindTransient, Status: 500}}}
	dir := &fakeDirectory{lists: [][]core.Device{{device("d1", false, false)}}}
	o, rec := newTestOrchestrator(remote, dir)

	err := o.SafeTransfer(context.Background(), "d1", "Laptop", true)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.Len(t, remote.calls, 1)
	assert.Empty(t, rec.delays)
}

func TestSafeTransferRetriesUnavailable(t *testing.T) {
	unavailable := &core.Error{Kind: core.KindTransient, Status: 503}
	remote := &fakeRemote{errs: []error{unavailable, unavailable}}
	dir := &fakeDirectory{lists: [][]core.Device{{device("d1", true, false)}}}
	o, rec := newTestOrchestrator(remote, dir)

	err := o.SafeTransfer(context.Background(), "d1", "Laptop", true)
	require.NoError(t, err)

	assert.Len(t, remote.calls, 3)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
	assert.Equal(t, 3, dir.fetches, "pre-flight plus one fetch between each attempt")
}

func TestSafeTransferGivesUpAfterThreeAttempts(t *testing.T) {
	unavailable := &core.Error{Kind: core.KindTransient, Status: 503}
	remote := &fakeRemote{errs: []error{unavailable, unavailable, unavailable, unavailable}}
	dir := &fakeDirectory{lists: [][]core.Device{{device("d1", true, false)}}}
	o, _ := newTestOrchestrator(remote, dir)

	err := o.SafeTransfer(context.Background(), "d1", "Laptop", true)
	assert.ErrorIs(t, err, core.ErrTransient)
	assert.Len(t, remote.calls, 3)
}

func TestSafeTransferHonorsRetryAfter(t *testing.T) {
	limited := &core.Error{Kind: core.KindRateLimited, Status: 429, RetryAfter: 5 * time.Second}
	remote := &fakeRemote{errs: []error{limited}}
	dir := &fakeDirectory{lists: [][]core.Device{{device("d1", true, false)}}}
	o, rec := newTestOrchestrator(remote, dir)

	require.NoError(t, o.SafeTransfer(context.Background(), "d1", "Laptop", true))
	assert.Equal(t, []time.Duration{5 * time.Second}, rec.delays)
}

func TestSafeTransferVanishedAfterSoftTransfer(t *testing.T) {
	remote := &fakeRemote{}
	dir := &fakeDirectory{lists: [][]core.Device{
		{device("d1", false, false)},
		{device("other", true, false)},
	}}
	o, _ := newTestOrchestrator(remote, dir)

	err := o.SafeTransfer(context.Background(), "d1", "Phone", true)
	assert.ErrorIs(t, err, core.ErrVanished)
	assert.Equal(t, []transferCall{{"d1", false}}, remote.calls, "no play transfer after the device vanished")
}

func TestSafeTransferActiveTargetWithoutPlayIsNoop(t *testing.T) {
	remote := &fakeRemote{}
	dir := &fakeDirectory{lists: [][]core.Device{{device("d1", true, false)}}}
	o, _ := newTestOrchestrator(remote, dir)

	require.NoError(t, o.SafeTransfer(context.Background(), "d1", "Laptop", false))
	assert.Empty(t, remote.calls)
}

func TestSafeTransferForbiddenNotRetried(t *testing.T) {
	remote := &fakeRemote{errs: []error{&core.Error{Kind: core.KindForbidden, Status: 403}}}
	dir := &fakeDirectory{lists: [][]core.Device{{device("d1", false, false)}}}
	o, rec := newTestOrchestrator(remote, dir)

	err := o.SafeTransfer(context.Background(), "d1", "Laptop", true)
	assert.ErrorIs(t, err, core.ErrForbidden)
	assert.Len(t, remote.calls, 1)
	assert.Empty(t, rec.delays)
}

func TestEnsureActiveDevicePicksFirstEntry(t *testing.T) {
	remote := &fakeRemote{}
	dir := &fakeDirectory{lists: [][]core.Device{{device("d1", false, false), device("d2", false, false)}}}
	o, _ := newTestOrchestrator(remote, dir)

	dev, err := o.EnsureActiveDevice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "d1", dev.ID)
	assert.Equal(t, []transferCall{{"d1", false}}, remote.calls)
}

func TestEnsureActiveDeviceReturnsActive(t *testing.T) {
	remote := &fakeRemote{}
	dir := &fakeDirectory{lists: [][]core.Device{{device("d1", false, false), device("d2", true, false)}}}
	o, _ := newTestOrchestrator(remote, dir)

	dev, err := o.EnsureActiveDevice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "d2", dev.ID)
	assert.Empty(t, remote.calls)
}

func TestEnsureActiveDeviceEmptyDirectory(t *testing.T) {
	dir := &fakeDirectory{lists: [][]core.Device{{}}}
	o, _ := newTestOrchestrator(&fakeRemote{}, dir)

	_, err := o.EnsureActiveDevice(context.Background())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTransferAndRefreshAlwaysRefetches(t *testing.T) {
	remote := &fakeRemote{errs: []error{&core.Error{Kind: core.KindTransient, Status: 500}}}
	dir := &fakeDirectory{lists: [][]core.Device{{device("d1", false, false)}}}
	o, _ := newTestOrchestrator(remote, dir)

	list, err := o.TransferAndRefresh(context.Background(), "d1", "Laptop", true)
	assert.ErrorIs(t, err, core.ErrInvalidState)
	assert.Len(t, list, 1)
	assert.Equal(t, 2, dir.fetches)
}
