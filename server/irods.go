package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// NativeVerifier is the boundary to the backend identity service that checks
// native iRODS credentials. Implementations distinguish transport failures
// (returned as errors) from an outright rejection (false, nil).
type NativeVerifier interface {
	VerifyNativeCredentials(ctx context.Context, username, zone, password string) (bool, error)
}

// IRODSAuthClient verifies credentials through the catalog provider's
// check-auth-credentials API, proxied through the configured rodsadmin account.
type IRODSAuthClient struct {
	endpoint   string
	zone       string
	proxy      ProxyAdmin
	httpClient *http.Client
	logger     *slog.Logger
}

// NewIRODSAuthClient builds the verifier from config.
func NewIRODSAuthClient(cfg IRODSConfig, logger *slog.Logger) *IRODSAuthClient {
	return &IRODSAuthClient{
		endpoint:   cfg.VerifierURL,
		zone:       cfg.Zone,
		proxy:      cfg.ProxyAdmin,
		httpClient: &http.Client{Timeout: cfg.VerifierTimeout},
		logger:     logger,
	}
}

type verifyRequest struct {
	ProxyUsername string `json:"proxy_username"`
	ProxyPassword string `json:"proxy_password"`
	Username      string `json:"username"`
	Zone          string `json:"zone"`
	Password      string `json:"password"`
}

type verifyResponse struct {
	Correct bool `json:"correct"`
}

// VerifyNativeCredentials asks the backend whether username/password is valid
// in the given zone.
func (c *IRODSAuthClient) VerifyNativeCredentials(ctx context.Context, username, zone, password string) (bool, error) {
	payload, err := json.Marshal(verifyRequest{
		ProxyUsername: c.proxy.Username,
		ProxyPassword: c.proxy.Password,
		Username:      username,
		Zone:          zone,
		Password:      password,
	})
	if err != nil {
		return false, fmt.Errorf("encode verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", ServerName)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("verify credentials: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("verify credentials: unexpected status %d", resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return false, fmt.Errorf("decode verify response: %w", err)
	}

	return vr.Correct, nil
}
