package playback

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"spinsync/internal/core"
)

// Remote is the player command surface.
type Remote interface {
	Play(ctx context.Context, opts core.PlayOptions) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Shuffle(ctx context.Context, state bool) error
	Repeat(ctx context.Context, mode core.RepeatMode) error
	Seek(ctx context.Context, positionMs int) error
	Volume(ctx context.Context, percent int) error
}

// Observer is told the outcome of every user action.
type Observer interface {
	Observe(err error)
}

// Controller runs user actions: optimistic update, remote command, outcome report, delayed confirmation.
type Controller struct {
	remote     Remote
	reconciler *Reconciler
	observer   Observer
	logger     *zap.Logger
}

func NewController(remote Remote, reconciler *Reconciler, observer Observer, logger *zap.Logger) *Controller {
	return &Controller{
		remote:     remote,
		reconciler: reconciler,
		observer:   observer,
		logger:     logger,
	}
}

func (c *Controller) Resume(ctx context.Context) error {
	return c.run(ctx, "resume",
		func(s *core.PlaybackState) { s.IsPlaying = true },
		func(ctx context.Context) error { return c.remote.Play(ctx, core.PlayOptions{}) })
}

func (c *Controller) Pause(ctx context.Context) error {
	return c.run(ctx, "pause",
		func(s *core.PlaybackState) { s.IsPlaying = false },
		c.remote.Pause)
}

func (c *Controller) Next(ctx context.Context) error {
	return c.run(ctx, "next",
		func(s *core.PlaybackState) { s.ProgressMs = 0 },
		c.remote.Next)
}

func (c *Controller) Previous(ctx context.Context) error {
	return c.run(ctx, "previous",
		func(s *core.PlaybackState) { s.ProgressMs = 0 },
		c.remote.Previous)
}

// ToggleShuffle flips the believed shuffle flag. With no believed state shuffle is turned on.
func (c *Controller) ToggleShuffle(ctx context.Context) error {
	target := true
	if state := c.reconciler.State(); state != nil {
		target = !state.Shuffle
	}

	return c.run(ctx, "shuffle",
		func(s *core.PlaybackState) { s.Shuffle = target },
		func(ctx context.Context) error { return c.remote.Shuffle(ctx, target) })
}

// CycleRepeat moves repeat to the next mode: off, context, track.
func (c *Controller) CycleRepeat(ctx context.Context) error {
	current := core.RepeatOff
	if state := c.reconciler.State(); state != nil {
		current = state.Repeat
	}
	target := current.Next()

	return c.run(ctx, "repeat",
		func(s *core.PlaybackState) { s.Repeat = target },
		func(ctx context.Context) error { return c.remote.Repeat(ctx, target) })
}

func (c *Controller) Seek(ctx context.Context, positionMs int) error {
	return c.run(ctx, "seek",
		func(s *core.PlaybackState) { s.ProgressMs = positionMs },
		func(ctx context.Context) error { return c.remote.Seek(ctx, positionMs) })
}

func (c *Controller) SetVolume(ctx context.Context, percent int) error {
	return c.run(ctx, "volume",
		func(s *core.PlaybackState) {
			if s.Device != nil {
				s.Device.VolumePercent = percent
			}
		},
		func(ctx context.Context) error { return c.remote.Volume(ctx, percent) })
}

// PlayURIs starts the given tracks on the active device.
func (c *Controller) PlayURIs(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return core.NewError(core.KindUnknown, "play", "no tracks to play")
	}

	return c.run(ctx, "play",
		func(s *core.PlaybackState) {
			s.IsPlaying = true
			s.ProgressMs = 0
		},
		func(ctx context.Context) error { return c.remote.Play(ctx, core.PlayOptions{URIs: uris}) })
}

func (c *Controller) run(ctx context.Context, action string, mutate func(*core.PlaybackState), call func(context.Context) error) error {
	c.reconciler.Optimistic(mutate)

	err := call(ctx)
	if c.observer != nil {
		c.observer.Observe(err)
	}
	c.reconciler.ScheduleConfirm(ctx)

	if err != nil {
		c.logger.Warn("Playback action failed",
			zap.String("action", action),
			zap.String("kind", core.KindOf(err).String()),
			zap.Error(err))
		return fmt.Errorf("%s: %w", action, err)
	}

	c.logger.Debug("Playback action sent", zap.String("action", action))
	return nil
}
