package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v3"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, tokenURL string) *OIDCProvider {
	t.Helper()
	cfg := DefaultConfig().OIDC
	cfg.ClientID = "irods-gw"
	cfg.RedirectURI = "http://gw.test/irods-http-api/" + APIVersion + "/authenticate"
	cfg.Issuer = "https://idp.test/realms/irods"
	cfg.AuthorizationEndpoint = "https://idp.test/auth"
	cfg.TokenEndpoint = tokenURL

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := NewOIDCProvider(context.Background(), cfg, logger)
	require.NoError(t, err)
	return p
}

// mintSignedIDToken produces an RS256-signed token the way a real provider
// would, so decode paths see realistic input.
func mintSignedIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: key}, nil)
	require.NoError(t, err)

	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	raw, err := sig.CompactSerialize()
	require.NoError(t, err)
	return raw
}

func TestAuthCodeURL(t *testing.T) {
	p := newTestProvider(t, "https://idp.test/token")

	raw := p.AuthCodeURL("abc123")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "idp.test", u.Host)
	require.Equal(t, "/auth", u.Path)

	q := u.Query()
	require.Equal(t, "irods-gw", q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "openid", q.Get("scope"))
	require.Equal(t, "abc123", q.Get("state"))
	require.Equal(t, "http://gw.test/irods-http-api/"+APIVersion+"/authenticate", q.Get("redirect_uri"))
}

func TestExchangeAuthorizationCode(t *testing.T) {
	idToken := mintSignedIDToken(t, map[string]any{
		"iss":            "https://idp.test/realms/irods",
		"aud":            "irods-gw",
		"exp":            time.Now().Add(time.Hour).Unix(),
		"irods_username": "alice",
	})

	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		writeJSON(w, TokenResponse{IDToken: idToken, TokenType: "Bearer"})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	tok, err := p.ExchangeAuthorizationCode(context.Background(), "the-code")
	require.NoError(t, err)
	require.False(t, tok.IsError())
	require.Equal(t, idToken, tok.IDToken)

	require.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	require.Equal(t, "irods-gw", gotForm.Get("client_id"))
	require.Equal(t, "the-code", gotForm.Get("code"))
	require.Equal(t, "http://gw.test/irods-http-api/"+APIVersion+"/authenticate", gotForm.Get("redirect_uri"))
}

func TestExchangePasswordEncodesCredentials(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		writeJSON(w, TokenResponse{IDToken: "tok"})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	// Credentials containing every character class the encoding must survive.
	_, err := p.ExchangePassword(context.Background(), "al&ce=ok", "p @ss&wörd")
	require.NoError(t, err)

	require.Equal(t, "password", gotForm.Get("grant_type"))
	require.Equal(t, "openid", gotForm.Get("scope"))
	require.Equal(t, "al&ce=ok", gotForm.Get("username"))
	require.Equal(t, "p @ss&wörd", gotForm.Get("password"))
}

func TestExchangeReturnsOAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"bad code","error_uri":"https://idp.test/errors"}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	tok, err := p.ExchangeAuthorizationCode(context.Background(), "stale")
	require.NoError(t, err)
	require.True(t, tok.IsError())
	require.Equal(t, "invalid_grant", tok.ErrorCode)
	require.Equal(t, "bad code", tok.ErrorDescription)
}

func TestExchangeNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway timeout</html>"))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	_, err := p.ExchangeAuthorizationCode(context.Background(), "code")
	require.Error(t, err)
}

func TestExchangeUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := newTestProvider(t, srv.URL)
	_, err := p.ExchangeAuthorizationCode(context.Background(), "code")
	require.Error(t, err)
}

func TestFormEncodingRoundTrip(t *testing.T) {
	pairs := url.Values{
		"plain":      {"value"},
		"amp&ersand": {"a&b"},
		"equ=als":    {"x=y"},
		"spaces":     {"two words"},
		"utf8":       {"pässwörd✓"},
	}

	decoded, err := url.ParseQuery(pairs.Encode())
	require.NoError(t, err)
	require.Equal(t, pairs, decoded)
}
