package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"spinsync/internal/core"
	"spinsync/internal/session"
)

const stateCookie = "oauth_state"

// handleToken is the code-for-token exchange: {code, redirectUri} in, token JSON or {error, details} out.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req session.ExchangeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Details: err.Error()})
		return
	}
	if req.Code == "" || req.RedirectURI == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Details: "code and redirectUri are required"})
		return
	}

	tokens, err := s.services.Auth.Exchange(r.Context(), req.Code, req.RedirectURI)
	if err != nil {
		s.logger.Warn("Token exchange failed", zap.Error(err))
		s.metrics.RecordError("auth", core.KindOf(err).String())
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "token_exchange_failed", Details: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, s.tokenResponse(tokens))
}

// handleLogin redirects to the authorize URL with a fresh state held in a short-lived cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.handoffTTL().Seconds()),
	})
	http.Redirect(w, r, s.services.Auth.AuthURL(state), http.StatusTemporaryRedirect)
}

// handleCallback completes the flow, signs the server in and parks the tokens under a one-shot hand-off id.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil {
		writeBadRequest(w, "missing state cookie")
		return
	}
	if r.URL.Query().Get("state") != cookie.Value {
		writeBadRequest(w, "state mismatch")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", HttpOnly: true, MaxAge: -1})

	if authErr := r.URL.Query().Get("error"); authErr != "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "authorization_denied", Details: authErr})
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeBadRequest(w, "missing code")
		return
	}

	tokens, err := s.services.Auth.Exchange(r.Context(), code, s.services.RedirectURL)
	if err != nil {
		s.writeError(w, r, "auth", err)
		return
	}

	if err := s.services.Sessions.Login(r.Context(), tokens, nil); err != nil {
		s.writeError(w, r, "auth", err)
		return
	}

	var user *core.User
	if s.services.Catalog != nil {
		user, err = s.services.Catalog.CurrentUser(r.Context())
		if err != nil {
			s.logger.Warn("Failed to fetch user profile", zap.Error(err))
		} else if err := s.services.Sessions.UpdateUser(r.Context(), *user); err != nil {
			s.logger.Warn("Failed to store user profile", zap.Error(err))
		}
	}

	id := uuid.NewString()
	s.handoffs.Add(id, tokens)
	s.logger.Info("Login completed", zap.String("handoffID", id))

	writeJSON(w, http.StatusOK, map[string]any{"handoff_id": id, "user": user})
}

// handleHandoff returns parked tokens once.
func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tokens, ok := s.handoffs.Get(id)
	// Only the request that wins the removal collects the tokens.
	if !ok || !s.handoffs.Remove(id) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "unknown or expired hand-off"})
		return
	}
	writeJSON(w, http.StatusOK, s.tokenResponse(tokens))
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	current := s.services.Sessions.Current()
	if current == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": current.User})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Sessions.Logout(r.Context()); err != nil {
		s.writeError(w, r, "auth", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) tokenResponse(tokens core.AuthTokens) session.TokenResponse {
	resp := session.TokenResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}
	if !tokens.ExpiresAt.IsZero() {
		resp.ExpiresIn = int(tokens.ExpiresAt.Sub(s.now()).Round(time.Second).Seconds())
	}
	return resp
}

func (s *Server) handoffTTL() time.Duration {
	if s.config.HandoffTTL > 0 {
		return s.config.HandoffTTL
	}
	return core.DefaultHandoffTTL
}
