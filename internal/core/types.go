package core

import (
	"context"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DeviceType is the closed set of playback endpoint classes.
type DeviceType string

// Device type constants. Remote type strings that match none of these map to DeviceTypeOther.
const (
	DeviceTypeSmartphone  DeviceType = "smartphone"
	DeviceTypeComputer    DeviceType = "computer"
	DeviceTypeSpeaker     DeviceType = "speaker"
	DeviceTypeTV          DeviceType = "tv"
	DeviceTypeTablet      DeviceType = "tablet"
	DeviceTypeGameConsole DeviceType = "game_console"
	DeviceTypeOther       DeviceType = "other"
)

// ParseDeviceType maps the remote's free-form type string ("Computer", "GameConsole", ...) onto DeviceType.
func ParseDeviceType(raw string) DeviceType {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(raw))
	switch key {
	case "smartphone":
		return DeviceTypeSmartphone
	case "computer":
		return DeviceTypeComputer
	case "speaker":
		return DeviceTypeSpeaker
	case "tv":
		return DeviceTypeTV
	case "tablet":
		return DeviceTypeTablet
	case "gameconsole":
		return DeviceTypeGameConsole
	default:
		return DeviceTypeOther
	}
}

// Device is a remote playback endpoint. It is produced by a directory fetch and never patched locally.
type Device struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Type             DeviceType `json:"type"`
	RawType          string     `json:"raw_type,omitempty"`
	IsActive         bool       `json:"is_active"`
	IsRestricted     bool       `json:"is_restricted"`
	IsPrivateSession bool       `json:"is_private_session"`
	SupportsVolume   bool       `json:"supports_volume"`
	VolumePercent    int        `json:"volume_percent"`
}

// Valid reports whether the remote populated the fields callers depend on.
func (d Device) Valid() bool {
	return d.ID != "" && d.Name != "" && d.RawType != ""
}

// RepeatMode is the remote repeat state.
type RepeatMode string

// Repeat modes accepted by the player API.
const (
	RepeatOff     RepeatMode = "off"
	RepeatTrack   RepeatMode = "track"
	RepeatContext RepeatMode = "context"
)

// ParseRepeatMode returns RepeatOff for anything it does not recognize.
func ParseRepeatMode(raw string) RepeatMode {
	switch RepeatMode(strings.ToLower(raw)) {
	case RepeatTrack:
		return RepeatTrack
	case RepeatContext:
		return RepeatContext
	default:
		return RepeatOff
	}
}

// Next returns the mode a repeat toggle moves to: off → context → track → off.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatOff:
		return RepeatContext
	case RepeatContext:
		return RepeatTrack
	default:
		return RepeatOff
	}
}

// Image is album artwork.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// Album is the album part of a Track.
type Album struct {
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

// Artist is a credited artist of a Track.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Track is an immutable value sourced verbatim from the remote API.
type Track struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
	DurationMs int      `json:"duration_ms"`
	URI        string   `json:"uri"`
}

// ArtistNames joins the artist names with ", ".
func (t Track) ArtistNames() string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// Duration returns the track length.
func (t Track) Duration() time.Duration {
	return time.Duration(t.DurationMs) * time.Millisecond
}

// Clone returns a deep copy so callers cannot reach shared slices.
func (t Track) Clone() Track {
	c := t
	c.Artists = append([]Artist(nil), t.Artists...)
	c.Album.Images = append([]Image(nil), t.Album.Images...)
	return c
}

// PlaybackState is what the remote reports as playing. It is held in memory only.
type PlaybackState struct {
	IsPlaying  bool       `json:"is_playing"`
	Track      *Track     `json:"track"`
	ProgressMs int        `json:"progress_ms"`
	Device     *Device    `json:"device"`
	Shuffle    bool       `json:"shuffle"`
	Repeat     RepeatMode `json:"repeat"`
}

// Clone returns a deep copy of the state.
func (s *PlaybackState) Clone() *PlaybackState {
	if s == nil {
		return nil
	}
	c := *s
	if s.Track != nil {
		t := s.Track.Clone()
		c.Track = &t
	}
	if s.Device != nil {
		d := *s.Device
		c.Device = &d
	}
	return &c
}

// PlayOptions selects what a play command starts. The zero value resumes on the active device.
type PlayOptions struct {
	DeviceID   string
	ContextURI string
	URIs       []string
	PositionMs int
}

// User is the authenticated account.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// AuthTokens is the OAuth material owned by the session layer.
type AuthTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the access token is unusable at now, treating tokens that expire within skew as expired.
// A zero ExpiresAt never expires.
func (t AuthTokens) Expired(now time.Time, skew time.Duration) bool {
	if t.AccessToken == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}

// OAuth2 converts the tokens for use with golang.org/x/oauth2.
func (t AuthTokens) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       t.ExpiresAt,
	}
}

// TokensFromOAuth2 converts an oauth2 token. A refresh response without a refresh token keeps fallbackRefresh.
func TokensFromOAuth2(tok *oauth2.Token, fallbackRefresh string) AuthTokens {
	if tok == nil {
		return AuthTokens{}
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	return AuthTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    tok.Expiry,
	}
}

// TokenProvider hands out a bearer token for remote calls.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider for a fixed token.
type StaticToken string

// AccessToken returns the token, or ErrUnauthenticated when it is empty.
func (s StaticToken) AccessToken(_ context.Context) (string, error) {
	if s == "" {
		return "", ErrUnauthenticated
	}
	return string(s), nil
}
