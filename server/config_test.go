package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("IRODS_GW_VERIFIER_URL", "http://localhost:9001/check")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, DefaultListenAddr, cfg.Server.ListenAddr)
	require.Equal(t, DefaultURLPrefix, cfg.Server.URLPrefix)
	require.Equal(t, DefaultBasicTTL, cfg.IRODS.BasicTTL)
	require.Equal(t, DefaultStateTTL, cfg.OIDC.StateTTL)
	require.False(t, cfg.OIDC.Enabled())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  listen_addr: :9400
irods_client:
  zone: myZone
  verifier_url: http://localhost:9001/check
  basic_timeout: 30m
openid_connect:
  client_id: irods-gw
  redirect_uri: http://gw.test/irods-http-api/0.1.0/authenticate
  issuer: https://idp.test/realms/irods
  authorization_endpoint: https://idp.test/auth
  token_endpoint: https://idp.test/token
  timeout: 2h
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9400", cfg.Server.ListenAddr)
	require.Equal(t, "myZone", cfg.IRODS.Zone)
	require.Equal(t, 30*time.Minute, cfg.IRODS.BasicTTL)
	require.True(t, cfg.OIDC.Enabled())
	require.Equal(t, "https://idp.test/token", cfg.OIDC.TokenEndpoint)
	require.Equal(t, 2*time.Hour, cfg.OIDC.SessionTTL)
	// Untouched fields keep defaults.
	require.Equal(t, DefaultExchangeTimeout, cfg.OIDC.ExchangeTimeout)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("IRODS_GW_ZONE", "envZone")
	t.Setenv("IRODS_GW_LISTEN_ADDR", ":9999")
	t.Setenv("IRODS_GW_VERIFIER_URL", "http://localhost:9001/check")
	t.Setenv("IRODS_GW_BASIC_TIMEOUT", "45m")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "envZone", cfg.IRODS.Zone)
	require.Equal(t, ":9999", cfg.Server.ListenAddr)
	require.Equal(t, "http://localhost:9001/check", cfg.IRODS.VerifierURL)
	require.Equal(t, 45*time.Minute, cfg.IRODS.BasicTTL)
}

func TestLoadConfigEnvOnlyExplicitEndpoints(t *testing.T) {
	t.Setenv("IRODS_GW_VERIFIER_URL", "http://localhost:9001/check")
	t.Setenv("IRODS_GW_OIDC_CLIENT_ID", "irods-gw")
	t.Setenv("IRODS_GW_OIDC_ISSUER", "https://idp.test/realms/irods")
	t.Setenv("IRODS_GW_OIDC_REDIRECT_URI", "http://gw.test/cb")
	t.Setenv("IRODS_GW_OIDC_AUTHORIZATION_ENDPOINT", "https://idp.test/auth")
	t.Setenv("IRODS_GW_OIDC_TOKEN_ENDPOINT", "https://idp.test/token")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "https://idp.test/auth", cfg.OIDC.AuthorizationEndpoint)
	require.Equal(t, "https://idp.test/token", cfg.OIDC.TokenEndpoint)
}

func TestLoadConfigUnreadableFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	validConfig := func() Config {
		cfg := DefaultConfig()
		cfg.IRODS.VerifierURL = "http://localhost:9001/check"
		return cfg
	}

	t.Run("missing zone", func(t *testing.T) {
		cfg := validConfig()
		cfg.IRODS.Zone = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("url prefix must be rooted", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.URLPrefix = "irods-http-api"
		require.Error(t, cfg.Validate())
	})

	t.Run("missing verifier url", func(t *testing.T) {
		cfg := validConfig()
		cfg.IRODS.VerifierURL = ""
		require.Error(t, cfg.Validate())
	})

	t.Run("verifier url must be http", func(t *testing.T) {
		cfg := validConfig()
		cfg.IRODS.VerifierURL = "localhost:9001/check"
		require.Error(t, cfg.Validate())
	})

	t.Run("oidc requires issuer", func(t *testing.T) {
		cfg := validConfig()
		cfg.OIDC.ClientID = "irods-gw"
		cfg.OIDC.RedirectURI = "http://gw.test/cb"
		require.Error(t, cfg.Validate())
	})

	t.Run("oidc requires http redirect uri", func(t *testing.T) {
		cfg := validConfig()
		cfg.OIDC.ClientID = "irods-gw"
		cfg.OIDC.Issuer = "https://idp.test"
		cfg.OIDC.RedirectURI = "gw.test/cb"
		require.Error(t, cfg.Validate())
	})

	t.Run("partial endpoint config rejected", func(t *testing.T) {
		cfg := validConfig()
		cfg.OIDC.ClientID = "irods-gw"
		cfg.OIDC.Issuer = "https://idp.test"
		cfg.OIDC.RedirectURI = "http://gw.test/cb"
		cfg.OIDC.TokenEndpoint = "https://idp.test/token"
		require.Error(t, cfg.Validate())
	})

	t.Run("endpoints together accepted", func(t *testing.T) {
		cfg := validConfig()
		cfg.OIDC.ClientID = "irods-gw"
		cfg.OIDC.Issuer = "https://idp.test"
		cfg.OIDC.RedirectURI = "http://gw.test/cb"
		cfg.OIDC.AuthorizationEndpoint = "https://idp.test/auth"
		cfg.OIDC.TokenEndpoint = "https://idp.test/token"
		require.NoError(t, cfg.Validate())
	})
}
