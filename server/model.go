package server

import "time"

// AuthScheme distinguishes how a session was established.
type AuthScheme string

// Supported authentication schemes.
const (
	SchemeBasic         AuthScheme = "basic"
	SchemeOpenIDConnect AuthScheme = "openid_connect"
)

// AuthenticatedSession is the unit of issued trust held in the token stash.
// Password is retained only for basic sessions; OIDC sessions never carry one.
type AuthenticatedSession struct {
	Scheme    AuthScheme
	Username  string
	Password  string
	ExpiresAt time.Time
}

// Expired reports whether the session is logically dead at the given instant.
func (s AuthenticatedSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// TokenResponse models the identity provider's token endpoint reply. On
// failure the OAuth 2.0 error triple is populated instead of the tokens.
type TokenResponse struct {
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`

	ErrorCode        string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// IsError reports whether the provider returned an OAuth error response.
func (t TokenResponse) IsError() bool {
	return t.ErrorCode != ""
}
