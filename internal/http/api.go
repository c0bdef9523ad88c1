package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"spinsync/internal/core"
	"spinsync/internal/escalation"
	"spinsync/internal/i18n"
	"spinsync/internal/spotify"
)

const defaultSearchLimit = 20

type devicesResponse struct {
	Devices   []core.Device `json:"devices"`
	FetchedAt *time.Time    `json:"fetched_at,omitempty"`
}

// handleDevices lists devices. With cached=true it serves the last snapshot without calling the remote.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("cached") == "true" {
		list, fetchedAt := s.services.Directory.Snapshot()
		resp := devicesResponse{Devices: nonNil(list)}
		if !fetchedAt.IsZero() {
			resp.FetchedAt = &fetchedAt
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	list, err := s.services.Directory.Refresh(r.Context())
	if err != nil {
		s.writeError(w, r, "devices", err)
		return
	}
	writeJSON(w, http.StatusOK, devicesResponse{Devices: nonNil(list)})
}

func (s *Server) handleWatchStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.services.Watcher.Running()})
}

// handleWatchStart starts polling detached from the request, which ends immediately.
func (s *Server) handleWatchStart(w http.ResponseWriter, r *http.Request) {
	s.services.Watcher.Start(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]bool{"running": true})
}

func (s *Server) handleWatchStop(w http.ResponseWriter, _ *http.Request) {
	s.services.Watcher.Stop()
	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	Name string `json:"name"`
	Play bool   `json:"play"`
}

type transferResponse struct {
	Devices []core.Device `json:"devices"`
}

// handleTransfer moves playback and answers with the refreshed device list.
func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid transfer body")
		return
	}

	list, err := s.services.Transfer.TransferAndRefresh(r.Context(), chi.URLParam(r, "id"), req.Name, req.Play)
	if s.services.Escalation != nil {
		s.services.Escalation.Observe(err)
	}
	if err != nil {
		s.writeError(w, r, "transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, transferResponse{Devices: nonNil(list)})
}

type playbackResponse struct {
	State *core.PlaybackState `json:"state"`
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	state, err := s.services.State.Sync(r.Context())
	if err != nil {
		s.writeError(w, r, "playback", err)
		return
	}
	writeJSON(w, http.StatusOK, playbackResponse{State: state})
}

type actionRequest struct {
	PositionMs int      `json:"position_ms"`
	Percent    int      `json:"percent"`
	URIs       []string `json:"uris"`
}

// handlePlaybackAction runs one user action and answers with the optimistic state.
func (s *Server) handlePlaybackAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid action body")
		return
	}

	ctx := r.Context()
	p := s.services.Playback

	var err error
	switch action := chi.URLParam(r, "action"); action {
	case "resume":
		err = p.Resume(ctx)
	case "pause":
		err = p.Pause(ctx)
	case "next":
		err = p.Next(ctx)
	case "previous":
		err = p.Previous(ctx)
	case "shuffle":
		err = p.ToggleShuffle(ctx)
	case "repeat":
		err = p.CycleRepeat(ctx)
	case "seek":
		if req.PositionMs < 0 {
			writeBadRequest(w, "position_ms must not be negative")
			return
		}
		err = p.Seek(ctx, req.PositionMs)
	case "volume":
		if req.Percent < 0 || req.Percent > 100 {
			writeBadRequest(w, "percent must be between 0 and 100")
			return
		}
		err = p.SetVolume(ctx, req.Percent)
	case "play":
		if len(req.URIs) == 0 {
			writeBadRequest(w, "uris are required")
			return
		}
		uris, perr := spotify.TrackURIs(req.URIs)
		if perr != nil {
			writeBadRequest(w, perr.Error())
			return
		}
		err = p.PlayURIs(ctx, uris)
	default:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "unknown action " + action})
		return
	}

	if err != nil {
		s.writeError(w, r, "playback", err)
		return
	}
	writeJSON(w, http.StatusOK, playbackResponse{State: s.services.State.State()})
}

type tracksResponse struct {
	Tracks []core.Track `json:"tracks"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeBadRequest(w, "q is required")
		return
	}
	limit, err := intQuery(r, "limit", defaultSearchLimit)
	if err != nil || limit < 1 || limit > 50 {
		writeBadRequest(w, "limit must be between 1 and 50")
		return
	}

	tracks, err := s.services.Catalog.SearchTracks(r.Context(), query, limit)
	if err != nil {
		s.writeError(w, r, "catalog", err)
		return
	}
	writeJSON(w, http.StatusOK, tracksResponse{Tracks: nonNilTracks(tracks)})
}

func (s *Server) handlePlaylistTracks(w http.ResponseWriter, r *http.Request) {
	offset, err := intQuery(r, "offset", 0)
	if err != nil || offset < 0 {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}
	limit, err := intQuery(r, "limit", 100)
	if err != nil || limit < 1 || limit > 100 {
		writeBadRequest(w, "limit must be between 1 and 100")
		return
	}

	playlistID, err := spotify.PlaylistID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	tracks, err := s.services.Catalog.PlaylistTracks(r.Context(), playlistID, offset, limit)
	if err != nil {
		s.writeError(w, r, "catalog", err)
		return
	}
	writeJSON(w, http.StatusOK, tracksResponse{Tracks: nonNilTracks(tracks)})
}

type trackResponse struct {
	Track *core.Track `json:"track"`
}

// handleTrack looks up one track by id, URI or link.
func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	trackID, err := spotify.TrackID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	track, err := s.services.Catalog.Track(r.Context(), trackID)
	if err != nil {
		s.writeError(w, r, "catalog", err)
		return
	}
	writeJSON(w, http.StatusOK, trackResponse{Track: track})
}

type escalationOption struct {
	Decision escalation.Decision `json:"decision"`
	Label    string              `json:"label"`
}

type escalationResponse struct {
	Pending bool               `json:"pending"`
	Prompt  *escalation.Prompt `json:"prompt,omitempty"`
	Message string             `json:"message,omitempty"`
	Options []escalationOption `json:"options,omitempty"`
}

func (s *Server) handleEscalation(w http.ResponseWriter, r *http.Request) {
	prompt, ok := s.services.Escalation.Pending()
	if !ok {
		writeJSON(w, http.StatusOK, escalationResponse{})
		return
	}

	localizer := i18n.NewLocalizer(i18n.Match(r.Header.Get("Accept-Language")))
	w.Header().Set("Content-Language", localizer.Language())
	writeJSON(w, http.StatusOK, escalationResponse{
		Pending: true,
		Prompt:  &prompt,
		Message: localizer.T("prompt.switch_device", prompt.Count, prompt.FallbackType),
		Options: []escalationOption{
			{Decision: escalation.DecisionContinue, Label: localizer.T("prompt.button_continue")},
			{Decision: escalation.DecisionSwitch, Label: localizer.T("prompt.button_switch")},
		},
	})
}

type resolveRequest struct {
	Decision string `json:"decision"`
}

func (s *Server) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid decision body")
		return
	}
	decision, err := escalation.ParseDecision(req.Decision)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	device, err := s.services.Escalation.Resolve(r.Context(), decision)
	if err != nil {
		s.writeError(w, r, "escalation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decision": decision, "device": device})
}

func nonNil(list []core.Device) []core.Device {
	if list == nil {
		return []core.Device{}
	}
	return list
}

func nonNilTracks(list []core.Track) []core.Track {
	if list == nil {
		return []core.Track{}
	}
	return list
}
