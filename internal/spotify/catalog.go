package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/zmb3/spotify/v2"
	"go.uber.org/zap"

	"spinsync/internal/core"
)

const (
	// MaxTrackSearchResults limits track search results.
	MaxTrackSearchResults = 20
	// MaxPlaylistPageSize is the largest page the playlist items endpoint accepts.
	MaxPlaylistPageSize = 100
)

// SearchTracks runs a track search. Results are cached by id.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]core.Track, error) {
	if query == "" {
		return nil, core.NewError(core.KindUnknown, "search", "empty query")
	}
	if limit <= 0 || limit > MaxTrackSearchResults {
		limit = MaxTrackSearchResults
	}

	results, err := c.catalog.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, mapCatalogError("search", err)
	}
	if results.Tracks == nil {
		return []core.Track{}, nil
	}

	tracks := make([]core.Track, 0, len(results.Tracks.Tracks))
	for i := range results.Tracks.Tracks {
		tracks = append(tracks, convertSpotifyTrack(&results.Tracks.Tracks[i]))
	}
	c.cache.PutAll(tracks)

	c.logger.Debug("Searched tracks",
		zap.String("query", query),
		zap.Int("results", len(tracks)))
	return tracks, nil
}

// PlaylistTracks returns one page of a playlist's tracks. Episodes and removed tracks are skipped.
func (c *Client) PlaylistTracks(ctx context.Context, playlistID string, offset, limit int) ([]core.Track, error) {
	if playlistID == "" {
		return nil, core.NewError(core.KindNotFound, "playlist_tracks", "empty playlist id")
	}
	if limit <= 0 || limit > MaxPlaylistPageSize {
		limit = MaxPlaylistPageSize
	}

	page, err := c.catalog.GetPlaylistItems(ctx, spotify.ID(playlistID), spotify.Limit(limit), spotify.Offset(offset))
	if err != nil {
		return nil, mapCatalogError("playlist_tracks", err)
	}

	tracks := make([]core.Track, 0, len(page.Items))
	for i := range page.Items {
		if page.Items[i].Track.Track == nil {
			continue
		}
		tracks = append(tracks, convertSpotifyTrack(page.Items[i].Track.Track))
	}
	c.cache.PutAll(tracks)
	return tracks, nil
}

// Track returns a single track, served from the cache when possible.
func (c *Client) Track(ctx context.Context, trackID string) (*core.Track, error) {
	if cached, ok := c.cache.Get(trackID); ok {
		return &cached, nil
	}

	full, err := c.catalog.GetTrack(ctx, spotify.ID(trackID))
	if err != nil {
		return nil, mapCatalogError("track", err)
	}

	track := convertSpotifyTrack(full)
	c.cache.Put(track)
	return &track, nil
}

// CurrentUser returns the account the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*core.User, error) {
	user, err := c.catalog.CurrentUser(ctx)
	if err != nil {
		return nil, mapCatalogError("current_user", err)
	}
	return &core.User{ID: user.ID, DisplayName: user.DisplayName}, nil
}

func convertSpotifyTrack(track *spotify.FullTrack) core.Track {
	artists := make([]core.Artist, 0, len(track.Artists))
	for _, artist := range track.Artists {
		artists = append(artists, core.Artist{ID: string(artist.ID), Name: artist.Name})
	}

	images := make([]core.Image, 0, len(track.Album.Images))
	for _, img := range track.Album.Images {
		images = append(images, core.Image{URL: img.URL, Height: int(img.Height), Width: int(img.Width)})
	}

	return core.Track{
		ID:         string(track.ID),
		Name:       track.Name,
		Artists:    artists,
		Album:      core.Album{Name: track.Album.Name, Images: images},
		DurationMs: int(track.Duration),
		URI:        string(track.URI),
	}
}

// mapCatalogError converts errors surfaced by the catalog library into *core.Error.
func mapCatalogError(op string, err error) error {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return fmt.Errorf("%s: %w", op, coreErr)
	}

	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(op, apiErr.Status, apiErr.Message, "")
	}
	var apiErrPtr *spotify.Error
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyStatus(op, apiErrPtr.Status, apiErrPtr.Message, "")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &core.Error{Kind: core.KindTransient, Op: op, Message: "network error", Err: err}
	}
	return &core.Error{Kind: core.KindUnknown, Op: op, Err: err}
}
