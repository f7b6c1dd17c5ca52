package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// requestKind classifies an inbound authentication request.
type requestKind int

const (
	kindInitiateCodeFlow requestKind = iota
	kindCodeFlowCallback
	kindBasicAuth
	kindPasswordGrant
	kindUnrecognized
)

const (
	basicSchemePrefix = "Basic "
	irodsSchemePrefix = "iRODS "
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Stash    *TokenStash
	States   *StateStore
	Provider IdentityProvider
	Verifier NativeVerifier
}

// NewApp wires together the application state from configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Stash:    NewTokenStash(),
		States:   NewStateStore(cfg.OIDC.StateTTL),
		Verifier: NewIRODSAuthClient(cfg.IRODS, logger),
	}

	if cfg.OIDC.Enabled() {
		provider, err := NewOIDCProvider(ctx, cfg.OIDC, logger)
		if err != nil {
			return nil, fmt.Errorf("init provider: %w", err)
		}
		app.Provider = provider
	}

	return app, nil
}

// StartSweeper periodically evicts expired sessions and pending states until
// stop is closed. Both maps grow on unauthenticated paths, so eviction must
// not depend on entries being looked up again.
func (a *App) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				if removed := a.Stash.Sweep(now); removed > 0 {
					a.Logger.Debug("swept expired sessions", "removed", removed, "remaining", a.Stash.Len())
				}
				if removed := a.States.Sweep(now); removed > 0 {
					a.Logger.Debug("swept expired pending states", "removed", removed, "remaining", a.States.Len())
				}
			}
		}
	}()
}

// classifyRequest decides which authentication mode an inbound request selects.
func classifyRequest(r *http.Request) requestKind {
	switch r.Method {
	case http.MethodGet:
		if r.URL.RawQuery == "" {
			return kindInitiateCodeFlow
		}
		return kindCodeFlowCallback
	case http.MethodPost:
		authz := r.Header.Get("Authorization")
		switch {
		case strings.HasPrefix(authz, basicSchemePrefix):
			return kindBasicAuth
		case strings.HasPrefix(authz, irodsSchemePrefix):
			return kindPasswordGrant
		}
	}
	return kindUnrecognized
}

// decodeCredentials unpacks a base64(username:password) credential blob.
// Either empty half is malformed.
func decodeCredentials(encoded string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", fmt.Errorf("decode credentials: %w", err)
	}

	username, password, found := strings.Cut(string(raw), ":")
	if !found || username == "" || password == "" {
		return "", "", errors.New("malformed credentials")
	}

	return username, password, nil
}

func (a *App) handleAuthenticateGet(w http.ResponseWriter, r *http.Request) {
	if a.Provider == nil {
		a.Logger.Warn("openid_connect flow requested but no provider configured")
		fail(w, http.StatusBadRequest)
		return
	}

	if classifyRequest(r) == kindCodeFlowCallback {
		a.completeCodeFlow(w, r)
		return
	}
	a.beginCodeFlow(w, r)
}

// beginCodeFlow redirects the caller to the provider's authorization endpoint
// with a freshly issued single-use state.
func (a *App) beginCodeFlow(w http.ResponseWriter, r *http.Request) {
	state, err := a.States.Issue()
	if err != nil {
		a.Logger.Error("issue state", "error", err)
		fail(w, http.StatusBadRequest)
		return
	}

	target := a.Provider.AuthCodeURL(state)
	a.Logger.Debug("redirecting to authorization endpoint", "location", target)
	http.Redirect(w, r, target, http.StatusFound)
}

// completeCodeFlow handles the provider's redirect back: state check, code or
// error extraction, token exchange, claim validation, token issuance. Each
// stage requires the previous stage's success.
func (a *App) completeCodeFlow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	state := q.Get("state")
	if state == "" {
		a.Logger.Warn("authorization response missing state parameter")
		fail(w, http.StatusBadRequest)
		return
	}
	if !a.States.Consume(state) {
		a.Logger.Warn("authorization response with unknown or reused state")
		fail(w, http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		errCode := q.Get("error")
		if errCode == "" {
			a.Logger.Warn("authorization response carries neither code nor error")
			fail(w, http.StatusBadRequest)
			return
		}
		attrs := []any{"error", errCode}
		if desc := q.Get("error_description"); desc != "" {
			attrs = append(attrs, "error_description", desc)
		}
		if uri := q.Get("error_uri"); uri != "" {
			attrs = append(attrs, "error_uri", uri)
		}
		a.Logger.Warn("authorization request failed", attrs...)
		fail(w, http.StatusBadRequest)
		return
	}

	tok, err := a.Provider.ExchangeAuthorizationCode(r.Context(), code)
	if err != nil {
		a.Logger.Error("code exchange failed", "error", err)
		fail(w, http.StatusBadRequest)
		return
	}
	if tok.IsError() {
		fail(w, http.StatusBadRequest)
		return
	}

	a.issueFromIDToken(w, tok)
}

// issueFromIDToken validates the returned ID token and, when it maps to an
// iRODS user, stores a new openid_connect session.
func (a *App) issueFromIDToken(w http.ResponseWriter, tok TokenResponse) {
	claims, err := DecodeIDToken(tok.IDToken)
	if err != nil {
		a.Logger.Error("id_token decode failed", "error", err)
		fail(w, http.StatusBadRequest)
		return
	}

	if err := ValidateClaims(claims, a.Provider.Trust(), time.Now()); err != nil {
		a.Logger.Warn("id_token rejected", "reason", err)
		fail(w, http.StatusBadRequest)
		return
	}

	if claims.IRODSUsername == "" {
		a.Logger.Error("no irods user associated with authenticated user", "preferred_username", claims.PreferredUsername)
		fail(w, http.StatusBadRequest)
		return
	}

	token := a.Stash.Insert(SchemeOpenIDConnect, claims.IRODSUsername, "", a.Config.OIDC.SessionTTL)
	writeToken(w, token)
}

func (a *App) handleAuthenticatePost(w http.ResponseWriter, r *http.Request) {
	authz := r.Header.Get("Authorization")

	switch classifyRequest(r) {
	case kindBasicAuth:
		a.handleBasicAuth(w, r, strings.TrimPrefix(authz, basicSchemePrefix))
	case kindPasswordGrant:
		a.handlePasswordGrant(w, r, strings.TrimPrefix(authz, irodsSchemePrefix))
	default:
		fail(w, http.StatusBadRequest)
	}
}

// handleBasicAuth verifies native credentials against the backend and issues
// a basic-scheme session.
func (a *App) handleBasicAuth(w http.ResponseWriter, r *http.Request, encoded string) {
	username, password, err := decodeCredentials(encoded)
	if err != nil {
		a.Logger.Warn("basic credential decode failed", "error", err)
		fail(w, http.StatusUnauthorized)
		return
	}

	ok, err := a.Verifier.VerifyNativeCredentials(r.Context(), username, a.Config.IRODS.Zone, password)
	if err != nil {
		// Transport failure, not a rejection. The client-visible result is
		// the same; only the log differs.
		a.Logger.Error("error verifying native credentials", "username", username, "error", err)
		fail(w, http.StatusUnauthorized)
		return
	}
	if !ok {
		a.Logger.Warn("native credentials rejected", "username", username)
		fail(w, http.StatusUnauthorized)
		return
	}

	token := a.Stash.Insert(SchemeBasic, username, password, a.Config.IRODS.BasicTTL)
	writeToken(w, token)
}

// handlePasswordGrant forwards the credentials to the provider's token
// endpoint via the resource owner password grant and issues an
// openid_connect session on success.
func (a *App) handlePasswordGrant(w http.ResponseWriter, r *http.Request, encoded string) {
	if a.Provider == nil {
		a.Logger.Warn("password grant requested but no provider configured")
		fail(w, http.StatusBadRequest)
		return
	}

	username, password, err := decodeCredentials(encoded)
	if err != nil {
		a.Logger.Warn("password grant credential decode failed", "error", err)
		fail(w, http.StatusUnauthorized)
		return
	}

	tok, err := a.Provider.ExchangePassword(r.Context(), username, password)
	if err != nil {
		a.Logger.Error("password grant exchange failed", "error", err)
		fail(w, http.StatusBadRequest)
		return
	}
	if tok.IsError() {
		fail(w, http.StatusBadRequest)
		return
	}

	a.issueFromIDToken(w, tok)
}

// handleLogout removes the caller's bearer token from the stash.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := BearerTokenFromContext(r.Context())
	if !ok {
		fail(w, http.StatusUnauthorized)
		return
	}
	a.Stash.Remove(token)
	w.WriteHeader(http.StatusOK)
}

// handleInfo reports gateway version information.
func (a *App) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"api_version":    APIVersion,
		"openid_connect": a.Provider != nil,
	})
}
