package spotify

import (
	"context"
	"errors"
	"net/http"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"spinsync/internal/core"
)

// Scopes requested for playback control, device listing and library reads.
var Scopes = []string{
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopeUserReadCurrentlyPlaying,
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopeUserReadPrivate,
}

// Authenticator runs the OAuth authorization code flow.
type Authenticator struct {
	auth *spotifyauth.Authenticator
}

func NewAuthenticator(config *core.SpotifyConfig) *Authenticator {
	return &Authenticator{
		auth: spotifyauth.New(
			spotifyauth.WithRedirectURL(config.RedirectURL),
			spotifyauth.WithScopes(Scopes...),
			spotifyauth.WithClientID(config.ClientID),
			spotifyauth.WithClientSecret(config.ClientSecret),
		),
	}
}

// AuthURL returns the authorize URL carrying state.
func (a *Authenticator) AuthURL(state string) string {
	return a.auth.AuthURL(state)
}

// Exchange trades an authorization code for tokens. A non-empty redirectURI overrides the configured one
// and must match the URI the code was issued for.
func (a *Authenticator) Exchange(ctx context.Context, code, redirectURI string) (core.AuthTokens, error) {
	if code == "" {
		return core.AuthTokens{}, core.NewError(core.KindUnauthenticated, "exchange", "missing authorization code")
	}

	var opts []oauth2.AuthCodeOption
	if redirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", redirectURI))
	}

	tok, err := a.auth.Exchange(ctx, code, opts...)
	if err != nil {
		return core.AuthTokens{}, mapOAuthError("exchange", err)
	}
	return core.TokensFromOAuth2(tok, ""), nil
}

// Refresh obtains a new access token. The refresh token is kept when the server does not rotate it.
func (a *Authenticator) Refresh(ctx context.Context, tokens core.AuthTokens) (core.AuthTokens, error) {
	if tokens.RefreshToken == "" {
		return core.AuthTokens{}, core.NewError(core.KindUnauthenticated, "refresh", "no refresh token")
	}

	tok, err := a.auth.RefreshToken(ctx, tokens.OAuth2())
	if err != nil {
		return core.AuthTokens{}, mapOAuthError("refresh", err)
	}
	return core.TokensFromOAuth2(tok, tokens.RefreshToken), nil
}

func mapOAuthError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		kind := core.KindUnauthenticated
		if status >= http.StatusInternalServerError {
			kind = core.KindTransient
		}
		return &core.Error{Kind: kind, Op: op, Status: status, Message: retrieveErr.ErrorCode, Err: err}
	}
	return &core.Error{Kind: core.KindTransient, Op: op, Message: "token endpoint unreachable", Err: err}
}
