package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded session and flow defaults
const (
	DefaultBasicTTL        = time.Hour
	DefaultOIDCTTL         = time.Hour
	DefaultStateTTL        = 5 * time.Minute
	DefaultExchangeTimeout = 15 * time.Second
	DefaultMaxExchanges    = 16
	DefaultSweepInterval   = time.Minute
	DefaultVerifierTimeout = 10 * time.Second
	DefaultListenAddr      = "127.0.0.1:9000"
)

// DefaultURLPrefix mirrors the versioned path the API mounts under.
const DefaultURLPrefix = "/irods-http-api/" + APIVersion

// Config captures the full gateway configuration loaded from YAML and environment variables.
type Config struct {
	Server ServerConfig `yaml:"server"`
	IRODS  IRODSConfig  `yaml:"irods_client"`
	OIDC   OIDCConfig   `yaml:"openid_connect"`
}

// ServerConfig controls listener and HTTP concerns.
type ServerConfig struct {
	ListenAddr    string        `yaml:"listen_addr"`
	URLPrefix     string        `yaml:"url_prefix"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// IRODSConfig describes the native backend the gateway verifies Basic credentials against.
type IRODSConfig struct {
	Zone            string        `yaml:"zone"`
	VerifierURL     string        `yaml:"verifier_url"`
	VerifierTimeout time.Duration `yaml:"verifier_timeout"`
	ProxyAdmin      ProxyAdmin    `yaml:"proxy_admin_account"`
	BasicTTL        time.Duration `yaml:"basic_timeout"`
}

// ProxyAdmin holds the rodsadmin account the gateway proxies native checks through.
type ProxyAdmin struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// OIDCConfig encapsulates trust parameters for the configured identity provider.
type OIDCConfig struct {
	ClientID              string        `yaml:"client_id"`
	RedirectURI           string        `yaml:"redirect_uri"`
	Issuer                string        `yaml:"issuer"`
	AuthorizationEndpoint string        `yaml:"authorization_endpoint"`
	TokenEndpoint         string        `yaml:"token_endpoint"`
	SessionTTL            time.Duration `yaml:"timeout"`
	StateTTL              time.Duration `yaml:"state_timeout"`
	ExchangeTimeout       time.Duration `yaml:"exchange_timeout"`
	MaxExchanges          int64         `yaml:"max_concurrent_exchanges"`
	MaxTokenAge           time.Duration `yaml:"max_token_age"`
}

// Enabled reports whether an identity provider is configured at all.
func (c OIDCConfig) Enabled() bool {
	return c.ClientID != ""
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:    DefaultListenAddr,
			URLPrefix:     DefaultURLPrefix,
			SweepInterval: DefaultSweepInterval,
		},
		IRODS: IRODSConfig{
			Zone:            "tempZone",
			VerifierTimeout: DefaultVerifierTimeout,
			BasicTTL:        DefaultBasicTTL,
		},
		OIDC: OIDCConfig{
			SessionTTL:      DefaultOIDCTTL,
			StateTTL:        DefaultStateTTL,
			ExchangeTimeout: DefaultExchangeTimeout,
			MaxExchanges:    DefaultMaxExchanges,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"IRODS_GW_LISTEN_ADDR":                 func(v string) { cfg.Server.ListenAddr = v },
		"IRODS_GW_URL_PREFIX":                  func(v string) { cfg.Server.URLPrefix = v },
		"IRODS_GW_ZONE":                        func(v string) { cfg.IRODS.Zone = v },
		"IRODS_GW_VERIFIER_URL":                func(v string) { cfg.IRODS.VerifierURL = v },
		"IRODS_GW_PROXY_USERNAME":              func(v string) { cfg.IRODS.ProxyAdmin.Username = v },
		"IRODS_GW_PROXY_PASSWORD":              func(v string) { cfg.IRODS.ProxyAdmin.Password = v },
		"IRODS_GW_OIDC_CLIENT_ID":              func(v string) { cfg.OIDC.ClientID = v },
		"IRODS_GW_OIDC_REDIRECT_URI":           func(v string) { cfg.OIDC.RedirectURI = v },
		"IRODS_GW_OIDC_ISSUER":                 func(v string) { cfg.OIDC.Issuer = v },
		"IRODS_GW_OIDC_AUTHORIZATION_ENDPOINT": func(v string) { cfg.OIDC.AuthorizationEndpoint = v },
		"IRODS_GW_OIDC_TOKEN_ENDPOINT":         func(v string) { cfg.OIDC.TokenEndpoint = v },
		"IRODS_GW_BASIC_TIMEOUT":               func(v string) { cfg.IRODS.BasicTTL = parseDuration(v, cfg.IRODS.BasicTTL) },
		"IRODS_GW_OIDC_TIMEOUT":                func(v string) { cfg.OIDC.SessionTTL = parseDuration(v, cfg.OIDC.SessionTTL) },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		slog.Error("Missing required configuration", "field", "server.listen_addr")
		return errors.New("server.listen_addr is required")
	}

	if c.Server.URLPrefix != "" && !strings.HasPrefix(c.Server.URLPrefix, "/") {
		slog.Error("Invalid configuration value", "field", "server.url_prefix", "value", c.Server.URLPrefix, "reason", "must start with /")
		return fmt.Errorf("server.url_prefix must start with /, got: %s", c.Server.URLPrefix)
	}

	if c.IRODS.Zone == "" {
		slog.Error("Missing required configuration", "field", "irods_client.zone")
		return errors.New("irods_client.zone is required")
	}

	if c.IRODS.VerifierURL == "" {
		slog.Error("Missing required configuration", "field", "irods_client.verifier_url")
		return errors.New("irods_client.verifier_url is required")
	}
	if !strings.HasPrefix(c.IRODS.VerifierURL, "http://") && !strings.HasPrefix(c.IRODS.VerifierURL, "https://") {
		slog.Error("Invalid configuration value", "field", "irods_client.verifier_url", "value", c.IRODS.VerifierURL, "reason", "must be a valid HTTP(S) URL")
		return fmt.Errorf("irods_client.verifier_url must start with http:// or https://, got: %s", c.IRODS.VerifierURL)
	}

	if c.IRODS.BasicTTL <= 0 {
		slog.Error("Invalid configuration value", "field", "irods_client.basic_timeout", "value", c.IRODS.BasicTTL)
		return errors.New("irods_client.basic_timeout must be positive")
	}

	if c.OIDC.Enabled() {
		if c.OIDC.Issuer == "" {
			slog.Error("Missing required configuration", "field", "openid_connect.issuer")
			return errors.New("openid_connect.issuer is required when openid_connect.client_id is set")
		}
		if c.OIDC.RedirectURI == "" {
			slog.Error("Missing required configuration", "field", "openid_connect.redirect_uri")
			return errors.New("openid_connect.redirect_uri is required when openid_connect.client_id is set")
		}
		if !strings.HasPrefix(c.OIDC.RedirectURI, "http://") && !strings.HasPrefix(c.OIDC.RedirectURI, "https://") {
			slog.Error("Invalid configuration value", "field", "openid_connect.redirect_uri", "value", c.OIDC.RedirectURI, "reason", "must be a valid HTTP(S) URL")
			return fmt.Errorf("openid_connect.redirect_uri must start with http:// or https://, got: %s", c.OIDC.RedirectURI)
		}
		if c.OIDC.SessionTTL <= 0 {
			slog.Error("Invalid configuration value", "field", "openid_connect.timeout", "value", c.OIDC.SessionTTL)
			return errors.New("openid_connect.timeout must be positive")
		}
		if c.OIDC.MaxExchanges <= 0 {
			slog.Error("Invalid configuration value", "field", "openid_connect.max_concurrent_exchanges", "value", c.OIDC.MaxExchanges)
			return errors.New("openid_connect.max_concurrent_exchanges must be positive")
		}

		// Endpoints may be omitted together, in which case they are discovered
		// from the issuer at startup. Omitting only one is a config mistake.
		if (c.OIDC.AuthorizationEndpoint == "") != (c.OIDC.TokenEndpoint == "") {
			slog.Error("Partial endpoint configuration", "authorization_endpoint", c.OIDC.AuthorizationEndpoint, "token_endpoint", c.OIDC.TokenEndpoint)
			return errors.New("openid_connect.authorization_endpoint and openid_connect.token_endpoint must be set together or both omitted")
		}
	}

	return nil
}
