package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/sync/semaphore"
)

// IdentityProvider represents the minimal behaviour required from the
// configured OpenID provider.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	ExchangeAuthorizationCode(ctx context.Context, code string) (TokenResponse, error)
	ExchangePassword(ctx context.Context, username, password string) (TokenResponse, error)
	Trust() TrustParameters
}

// OIDCProvider wraps the provider's endpoints and the token endpoint client.
type OIDCProvider struct {
	oauthConfig   *oauth2.Config
	tokenEndpoint string
	trust         TrustParameters
	httpClient    *http.Client
	exchanges     *semaphore.Weighted
	logger        *slog.Logger
}

// NewOIDCProvider initializes the provider from explicit endpoints, falling
// back to issuer discovery when the config omits them.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig, logger *slog.Logger) (*OIDCProvider, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("issuer required")
	}

	endpoint := oauth2.Endpoint{
		AuthURL:  cfg.AuthorizationEndpoint,
		TokenURL: cfg.TokenEndpoint,
	}
	if endpoint.AuthURL == "" {
		op, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("discover provider: %w", err)
		}
		endpoint = op.Endpoint()
	}
	// Credentials ride in the form body, never a client_secret basic header.
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	oauthCfg := &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURI,
		Endpoint:    endpoint,
		Scopes:      []string{oidc.ScopeOpenID},
	}

	return &OIDCProvider{
		oauthConfig:   oauthCfg,
		tokenEndpoint: endpoint.TokenURL,
		trust: TrustParameters{
			Issuer:      cfg.Issuer,
			ClientID:    cfg.ClientID,
			MaxTokenAge: cfg.MaxTokenAge,
		},
		httpClient: &http.Client{Timeout: cfg.ExchangeTimeout},
		exchanges:  semaphore.NewWeighted(cfg.MaxExchanges),
		logger:     logger,
	}, nil
}

// AuthCodeURL constructs the authorization request redirect target.
func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauthConfig.AuthCodeURL(state)
}

// Trust returns the parameters ID tokens from this provider are validated against.
func (p *OIDCProvider) Trust() TrustParameters {
	return p.trust
}

// ExchangeAuthorizationCode redeems an authorization code at the token endpoint.
func (p *OIDCProvider) ExchangeAuthorizationCode(ctx context.Context, code string) (TokenResponse, error) {
	return p.exchange(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {p.oauthConfig.ClientID},
		"code":         {code},
		"redirect_uri": {p.oauthConfig.RedirectURL},
	})
}

// ExchangePassword performs the resource owner password credentials grant.
func (p *OIDCProvider) ExchangePassword(ctx context.Context, username, password string) (TokenResponse, error) {
	return p.exchange(ctx, url.Values{
		"grant_type": {"password"},
		"client_id":  {p.oauthConfig.ClientID},
		"scope":      {oidc.ScopeOpenID},
		"username":   {username},
		"password":   {password},
	})
}

// exchange issues a single form-encoded POST to the token endpoint and parses
// the JSON reply. There are no retries; a failed exchange ends the flow. The
// semaphore bounds concurrent outbound calls so a slow provider cannot pile
// up goroutines without limit.
func (p *OIDCProvider) exchange(ctx context.Context, form url.Values) (TokenResponse, error) {
	if err := p.exchanges.Acquire(ctx, 1); err != nil {
		return TokenResponse{}, fmt.Errorf("acquire exchange slot: %w", err)
	}
	defer p.exchanges.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return TokenResponse{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", ServerName)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("read token response: %w", err)
	}

	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return TokenResponse{}, fmt.Errorf("parse token response: %w", err)
	}

	if tok.IsError() {
		p.logOAuthError(tok)
	}

	return tok, nil
}

// logOAuthError records the full OAuth 2.0 error triple. The details never
// reach the client.
func (p *OIDCProvider) logOAuthError(tok TokenResponse) {
	attrs := []any{"error", tok.ErrorCode}
	if tok.ErrorDescription != "" {
		attrs = append(attrs, "error_description", tok.ErrorDescription)
	}
	if tok.ErrorURI != "" {
		attrs = append(attrs, "error_uri", tok.ErrorURI)
	}
	p.logger.Warn("token request failed", attrs...)
}
