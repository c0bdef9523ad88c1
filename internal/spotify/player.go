package spotify

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"spinsync/internal/core"
)

type deviceObject struct {
	ID               *string `json:"id"`
	IsActive         bool    `json:"is_active"`
	IsPrivateSession bool    `json:"is_private_session"`
	IsRestricted     bool    `json:"is_restricted"`
	Name             string  `json:"name"`
	Type             string  `json:"type"`
	VolumePercent    *int    `json:"volume_percent"`
	SupportsVolume   bool    `json:"supports_volume"`
}

type imageObject struct {
	URL    string `json:"url"`
	Height *int   `json:"height"`
	Width  *int   `json:"width"`
}

type artistObject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type trackObject struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	URI        string         `json:"uri"`
	DurationMs int            `json:"duration_ms"`
	Artists    []artistObject `json:"artists"`
	Album      struct {
		Name   string        `json:"name"`
		Images []imageObject `json:"images"`
	} `json:"album"`
}

type playerObject struct {
	Device       *deviceObject `json:"device"`
	RepeatState  string        `json:"repeat_state"`
	ShuffleState bool          `json:"shuffle_state"`
	ProgressMs   *int          `json:"progress_ms"`
	IsPlaying    bool          `json:"is_playing"`
	Item         *trackObject  `json:"item"`
}

func (d *deviceObject) toCore() core.Device {
	dev := core.Device{
		Name:             d.Name,
		Type:             core.ParseDeviceType(d.Type),
		RawType:          d.Type,
		IsActive:         d.IsActive,
		IsRestricted:     d.IsRestricted,
		IsPrivateSession: d.IsPrivateSession,
		SupportsVolume:   d.SupportsVolume,
	}
	if d.ID != nil {
		dev.ID = *d.ID
	}
	if d.VolumePercent != nil {
		dev.VolumePercent = *d.VolumePercent
	}
	return dev
}

func (t *trackObject) toCore() core.Track {
	track := core.Track{
		ID:         t.ID,
		Name:       t.Name,
		URI:        t.URI,
		DurationMs: t.DurationMs,
		Album:      core.Album{Name: t.Album.Name},
	}
	for _, a := range t.Artists {
		track.Artists = append(track.Artists, core.Artist{ID: a.ID, Name: a.Name})
	}
	for _, img := range t.Album.Images {
		image := core.Image{URL: img.URL}
		if img.Height != nil {
			image.Height = *img.Height
		}
		if img.Width != nil {
			image.Width = *img.Width
		}
		track.Album.Images = append(track.Album.Images, image)
	}
	return track
}

// Devices returns the raw device list, including entries with missing fields.
func (c *Client) Devices(ctx context.Context) ([]core.Device, error) {
	var payload struct {
		Devices []deviceObject `json:"devices"`
	}
	if _, err := c.do(ctx, "devices", http.MethodGet, "/me/player/devices", nil, nil, &payload); err != nil {
		return nil, err
	}

	devices := make([]core.Device, 0, len(payload.Devices))
	for i := range payload.Devices {
		devices = append(devices, payload.Devices[i].toCore())
	}
	return devices, nil
}

// PlaybackState returns nil, nil when nothing is playing.
func (c *Client) PlaybackState(ctx context.Context) (*core.PlaybackState, error) {
	var payload playerObject
	found, err := c.do(ctx, "playback_state", http.MethodGet, "/me/player", nil, nil, &payload)
	if err != nil {
		return nil, err
	}
	if !found || (payload.Device == nil && payload.Item == nil) {
		return nil, nil
	}

	state := &core.PlaybackState{
		IsPlaying: payload.IsPlaying,
		Shuffle:   payload.ShuffleState,
		Repeat:    core.ParseRepeatMode(payload.RepeatState),
	}
	if payload.ProgressMs != nil {
		state.ProgressMs = *payload.ProgressMs
	}
	if payload.Device != nil {
		dev := payload.Device.toCore()
		state.Device = &dev
	}
	if payload.Item != nil {
		track := payload.Item.toCore()
		state.Track = &track
	}
	return state, nil
}

// TransferPlayback makes deviceID the active device. play=false is a soft transfer that keeps the current paused/playing state.
func (c *Client) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	body := struct {
		DeviceIDs []string `json:"device_ids"`
		Play      bool     `json:"play"`
	}{DeviceIDs: []string{deviceID}, Play: play}

	if _, err := c.do(ctx, "transfer", http.MethodPut, "/me/player", nil, body, nil); err != nil {
		return err
	}

	c.logger.Debug("Transferred playback",
		zap.String("deviceID", deviceID),
		zap.Bool("play", play))
	return nil
}

// Play starts or resumes playback. The zero PlayOptions resumes on the active device.
func (c *Client) Play(ctx context.Context, opts core.PlayOptions) error {
	query := deviceQuery(opts.DeviceID)

	var body any
	if opts.ContextURI != "" || len(opts.URIs) > 0 || opts.PositionMs > 0 {
		body = struct {
			ContextURI string   `json:"context_uri,omitempty"`
			URIs       []string `json:"uris,omitempty"`
			PositionMs int      `json:"position_ms,omitempty"`
		}{opts.ContextURI, opts.URIs, opts.PositionMs}
	}

	_, err := c.do(ctx, "play", http.MethodPut, "/me/player/play", query, body, nil)
	return err
}

func (c *Client) Pause(ctx context.Context) error {
	_, err := c.do(ctx, "pause", http.MethodPut, "/me/player/pause", nil, nil, nil)
	return err
}

func (c *Client) Next(ctx context.Context) error {
	_, err := c.do(ctx, "next", http.MethodPost, "/me/player/next", nil, nil, nil)
	return err
}

func (c *Client) Previous(ctx context.Context) error {
	_, err := c.do(ctx, "previous", http.MethodPost, "/me/player/previous", nil, nil, nil)
	return err
}

func (c *Client) Shuffle(ctx context.Context, state bool) error {
	query := url.Values{"state": {strconv.FormatBool(state)}}
	if _, err := c.do(ctx, "shuffle", http.MethodPut, "/me/player/shuffle", query, nil, nil); err != nil {
		return err
	}

	c.logger.Debug("Set Spotify shuffle", zap.Bool("shuffle", state))
	return nil
}

func (c *Client) Repeat(ctx context.Context, mode core.RepeatMode) error {
	query := url.Values{"state": {string(mode)}}
	if _, err := c.do(ctx, "repeat", http.MethodPut, "/me/player/repeat", query, nil, nil); err != nil {
		return err
	}

	c.logger.Debug("Set Spotify repeat", zap.String("repeat", string(mode)))
	return nil
}

func (c *Client) Seek(ctx context.Context, positionMs int) error {
	if positionMs < 0 {
		positionMs = 0
	}
	query := url.Values{"position_ms": {strconv.Itoa(positionMs)}}
	_, err := c.do(ctx, "seek", http.MethodPut, "/me/player/seek", query, nil, nil)
	return err
}

// Volume sets the active device volume, clamped to 0..100.
func (c *Client) Volume(ctx context.Context, percent int) error {
	percent = min(max(percent, 0), 100)
	query := url.Values{"volume_percent": {strconv.Itoa(percent)}}
	_, err := c.do(ctx, "volume", http.MethodPut, "/me/player/volume", query, nil, nil)
	return err
}

func deviceQuery(deviceID string) url.Values {
	if deviceID == "" {
		return nil
	}
	return url.Values{"device_id": {deviceID}}
}
