package spotify

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"spinsync/internal/core"
)

var (
	idRegex = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)

	spotifyDomains = map[string]bool{
		"open.spotify.com": true,
		"spotify.com":      true,
	}
)

// TrackURI turns a track URI, open.spotify.com link or bare id into a spotify:track: URI.
func TrackURI(raw string) (string, error) {
	id, err := TrackID(raw)
	if err != nil {
		return "", err
	}
	return "spotify:track:" + id, nil
}

// TrackID extracts the id from a track URI, link or bare id.
func TrackID(raw string) (string, error) {
	return parseID(raw, "track")
}

// TrackURIs normalizes every entry, failing on the first bad one.
func TrackURIs(raw []string) ([]string, error) {
	uris := make([]string, 0, len(raw))
	for _, r := range raw {
		uri, err := TrackURI(r)
		if err != nil {
			return nil, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

// PlaylistID extracts the id from a playlist URI, link or bare id.
func PlaylistID(raw string) (string, error) {
	return parseID(raw, "playlist")
}

func parseID(raw, kind string) (string, error) {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 && parts[1] == kind && idRegex.MatchString(parts[2]) {
			return parts[2], nil
		}
		return "", invalidRef(raw, kind)
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		if idRegex.MatchString(raw) {
			return raw, nil
		}
		return "", invalidRef(raw, kind)
	}

	u, err := url.Parse(raw)
	if err != nil || !spotifyDomains[strings.ToLower(u.Hostname())] {
		return "", invalidRef(raw, kind)
	}

	// Links may carry a locale segment, e.g. /intl-de/track/<id>.
	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range pathParts {
		if part == kind && i+1 < len(pathParts) && idRegex.MatchString(pathParts[i+1]) {
			return pathParts[i+1], nil
		}
	}
	return "", invalidRef(raw, kind)
}

func invalidRef(raw, kind string) error {
	return core.NewError(core.KindUnknown, kind, fmt.Sprintf("not a Spotify %s reference: %q", kind, raw))
}
