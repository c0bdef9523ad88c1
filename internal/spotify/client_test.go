package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"spinsync/internal/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, token core.TokenProvider) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := &core.SpotifyConfig{APIBaseURL: server.URL}
	return NewClient(config, token, zap.NewNop(), WithHTTPClient(server.Client()))
}

func TestDevicesParsesWireShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/player/devices" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, expected Bearer tok", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"devices":[
			{"id":"d1","name":"Laptop","type":"Computer","is_active":true,"is_restricted":false,
			 "is_private_session":false,"volume_percent":55,"supports_volume":true},
			{"id":null,"name":"Ghost","type":"Speaker","is_active":false,"is_restricted":true,
			 "volume_percent":null,"supports_volume":false}
		]}`)
	}, core.StaticToken("tok"))

	devices, err := client.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Devices() returned %d devices, expected 2", len(devices))
	}

	laptop := devices[0]
	if laptop.ID != "d1" || laptop.Type != core.DeviceTypeComputer || !laptop.IsActive || laptop.VolumePercent != 55 || !laptop.SupportsVolume {
		t.Errorf("unexpected device %+v", laptop)
	}

	ghost := devices[1]
	if ghost.ID != "" || ghost.Valid() || !ghost.IsRestricted {
		t.Errorf("device with null id should be returned raw and invalid: %+v", ghost)
	}
}

func TestMissingTokenFailsFast(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}, core.StaticToken(""))

	err := client.Pause(context.Background())
	if !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("Pause() error = %v, expected unauthenticated", err)
	}

	_, err = client.SearchTracks(context.Background(), "song", 5)
	if !errors.Is(err, core.ErrUnauthenticated) {
		t.Errorf("SearchTracks() error = %v, expected unauthenticated", err)
	}

	if calls.Load() != 0 {
		t.Errorf("server received %d calls, expected none", calls.Load())
	}
}

func TestPlaybackStateEmpty(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"204", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }},
		{"empty 200", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, tt.handler, core.StaticToken("tok"))
			state, err := client.PlaybackState(context.Background())
			if err != nil {
				t.Fatalf("PlaybackState() error = %v", err)
			}
			if state != nil {
				t.Errorf("PlaybackState() = %+v, expected nil", state)
			}
		})
	}
}

func TestPlaybackStateParsesPlayer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{
			"device":{"id":"d1","name":"Phone","type":"Smartphone","is_active":true,"volume_percent":80},
			"repeat_state":"context","shuffle_state":true,"progress_ms":4200,"is_playing":true,
			"item":{"id":"t1","name":"Song","uri":"spotify:track:t1","duration_ms":200000,
				"artists":[{"id":"a1","name":"Artist"}],
				"album":{"name":"Album","images":[{"url":"http://img","height":640,"width":640}]}}
		}`)
	}, core.StaticToken("tok"))

	state, err := client.PlaybackState(context.Background())
	if err != nil {
		t.Fatalf("PlaybackState() error = %v", err)
	}
	if state == nil || state.Track == nil || state.Device == nil {
		t.Fatalf("PlaybackState() = %+v, expected track and device", state)
	}
	if !state.IsPlaying || !state.Shuffle || state.Repeat != core.RepeatContext || state.ProgressMs != 4200 {
		t.Errorf("unexpected state %+v", state)
	}
	if state.Track.URI != "spotify:track:t1" || state.Track.DurationMs != 200000 || state.Track.ArtistNames() != "Artist" {
		t.Errorf("unexpected track %+v", state.Track)
	}
	if state.Device.Type != core.DeviceTypeSmartphone {
		t.Errorf("device type = %v, expected smartphone", state.Device.Type)
	}
}

func TestTransferPlaybackRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/me/player" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			DeviceIDs []string `json:"device_ids"`
			Play      bool     `json:"play"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if len(body.DeviceIDs) != 1 || body.DeviceIDs[0] != "d1" || body.Play {
			t.Errorf("unexpected body %+v", body)
		}
		w.WriteHeader(http.StatusNoContent)
	}, core.StaticToken("tok"))

	if err := client.TransferPlayback(context.Background(), "d1", false); err != nil {
		t.Errorf("TransferPlayback() error = %v", err)
	}
}

func TestPlayerCommandQueries(t *testing.T) {
	var got []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
		w.WriteHeader(http.StatusNoContent)
	}, core.StaticToken("tok"))

	ctx := context.Background()
	_ = client.Shuffle(ctx, true)
	_ = client.Repeat(ctx, core.RepeatTrack)
	_ = client.Seek(ctx, 1500)
	_ = client.Volume(ctx, 150)
	_ = client.Next(ctx)
	_ = client.Previous(ctx)
	_ = client.Play(ctx, core.PlayOptions{DeviceID: "d1"})

	expected := []string{
		"PUT /me/player/shuffle?state=true",
		"PUT /me/player/repeat?state=track",
		"PUT /me/player/seek?position_ms=1500",
		"PUT /me/player/volume?volume_percent=100",
		"POST /me/player/next?",
		"POST /me/player/previous?",
		"PUT /me/player/play?device_id=d1",
	}
	if len(got) != len(expected) {
		t.Fatalf("got %d requests, expected %d: %v", len(got), len(expected), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("request %d = %q, expected %q", i, got[i], expected[i])
		}
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		retryAfter string
		kind       core.Kind
		wait       time.Duration
	}{
		{"expired token", 401, `{"error":{"status":401,"message":"The access token expired"}}`, "", core.KindUnauthenticated, 0},
		{"restriction", 403, `{"error":{"status":403,"message":"Player command failed: Restriction violated","reason":"UNKNOWN"}}`, "", core.KindRestricted, 0},
		{"no longer active", 404, `{"error":{"status":404,"message":"Device is no longer active"}}`, "", core.KindRestricted, 0},
		{"premium required", 403, `{"error":{"status":403,"message":"Player command failed: Premium required","reason":"PREMIUM_REQUIRED"}}`, "", core.KindForbidden, 0},
		{"not found", 404, `{"error":{"status":404,"message":"Device not found"}}`, "", core.KindNotFound, 0},
		{"no active device", 403, `{"error":{"status":403,"message":"Player command failed","reason":"NO_ACTIVE_DEVICE"}}`, "", core.KindNotFound, 0},
		{"rate limited", 429, `{"error":{"status":429,"message":"API rate limit exceeded"}}`, "3", core.KindRateLimited, 3 * time.Second},
		{"server error", 500, `{"error":{"status":500,"message":"Server error"}}`, "", core.KindTransient, 0},
		{"unavailable", 503, `not json`, "", core.KindTransient, 0},
		{"unavailable with hint", 503, `{"error":{"status":503,"message":"Service unavailable"}}`, "7", core.KindTransient, 7 * time.Second},
		{"bad request", 400, `{"error":{"status":400,"message":"Bad request"}}`, "", core.KindUnknown, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}, core.StaticToken("tok"))

			err := client.Pause(context.Background())
			var apiErr *core.Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("Pause() error = %v, expected *core.Error", err)
			}
			if apiErr.Kind != tt.kind {
				t.Errorf("Kind = %v, expected %v", apiErr.Kind, tt.kind)
			}
			if apiErr.Status != tt.status {
				t.Errorf("Status = %d, expected %d", apiErr.Status, tt.status)
			}
			if apiErr.RetryAfter != tt.wait {
				t.Errorf("RetryAfter = %v, expected %v", apiErr.RetryAfter, tt.wait)
			}
		})
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(&core.SpotifyConfig{APIBaseURL: url}, core.StaticToken("tok"), zap.NewNop())
	err := client.Next(context.Background())
	if core.KindOf(err) != core.KindTransient || core.StatusOf(err) != 0 {
		t.Errorf("Next() error = %v, expected transient with no status", err)
	}
	if !core.Retryable(err) {
		t.Error("network errors should be retryable")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"-1", 0},
		{"soon", 0},
		{now.Add(10 * time.Second).Format(http.TimeFormat), 10 * time.Second},
		{now.Add(-10 * time.Second).Format(http.TimeFormat), 0},
	}

	for _, tt := range tests {
		if got := ParseRetryAfter(tt.value, now); got != tt.expected {
			t.Errorf("ParseRetryAfter(%q) = %v, expected %v", tt.value, got, tt.expected)
		}
	}
}

func TestPlayBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(raw), `"uris":["spotify:track:t1"]`) {
			t.Errorf("unexpected play body %s", raw)
		}
		w.WriteHeader(http.StatusNoContent)
	}, core.StaticToken("tok"))

	if err := client.Play(context.Background(), core.PlayOptions{URIs: []string{"spotify:track:t1"}}); err != nil {
		t.Errorf("Play() error = %v", err)
	}
}
