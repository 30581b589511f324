// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the broker configuration from a YAML file, INCONNU_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/stacklok/inconnu/pkg/broker/keys"
	"github.com/stacklok/inconnu/pkg/broker/storage"
	"github.com/stacklok/inconnu/pkg/broker/tokens"
	"github.com/stacklok/inconnu/pkg/broker/upstream"
)

// EnvPrefix prefixes every environment variable read by the broker.
const EnvPrefix = "INCONNU"

// Defaults.
const (
	DefaultPort       = 3001
	DefaultTokenTTL   = "1w"
	DefaultStateTTL   = 10 * time.Minute
	DefaultCodeTTL    = time.Minute
	DefaultCookieName = "inconnu-auth"
	DefaultHomeURL    = "https://github.com/stacklok/inconnu"
)

// Config is the complete broker configuration.
type Config struct {
	// Listen is the address the HTTP server binds to. Defaults to
	// ":<port>" where port is INCONNU_PORT or DefaultPort.
	Listen string `mapstructure:"listen"`

	// Port is the legacy INCONNU_PORT setting, used when Listen is empty.
	Port int `mapstructure:"port"`

	// PublicURL is the externally visible origin. When empty, the origin is
	// derived from each request's Host header.
	PublicURL string `mapstructure:"public_url"`

	// HomeURL is the target of GET /.
	HomeURL string `mapstructure:"home_url"`

	// LogRequests enables the request logging middleware.
	LogRequests bool `mapstructure:"log_requests"`

	Tokens    TokensConfig    `mapstructure:"tokens"`
	Handshake HandshakeConfig `mapstructure:"handshake"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Hub       HubConfig       `mapstructure:"hub"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Receivers ReceiversConfig `mapstructure:"receivers"`
	Cookie    CookieConfig    `mapstructure:"cookie"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// TokensConfig configures the signing key and token lifetimes.
type TokensConfig struct {
	// TTL is the default token lifetime. Accepts d and w units.
	TTL time.Duration `mapstructure:"ttl"`

	// MaxTTL caps per-request lifetime overrides. Zero leaves them uncapped.
	MaxTTL time.Duration `mapstructure:"max_ttl"`

	Issuer     string `mapstructure:"issuer"`
	Secret     string `mapstructure:"secret"`
	SecretFile string `mapstructure:"secret_file"`
	KeyFile    string `mapstructure:"key_file"`
}

// HandshakeConfig sets the lifetimes of the single-use handshake secrets.
type HandshakeConfig struct {
	// StateTTL bounds the round trip through a provider or hub.
	StateTTL time.Duration `mapstructure:"state_ttl"`

	// CodeTTL bounds the time a receiver has to redeem its code.
	CodeTTL time.Duration `mapstructure:"code_ttl"`

	// CleanupInterval is the memory backend's sweep period.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// StorageConfig selects the secret store backend.
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addrs      []string `mapstructure:"addrs"`
	MasterName string   `mapstructure:"master_name"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"`
	KeyPrefix  string   `mapstructure:"key_prefix"`
}

// HubConfig turns the broker into a satellite of the hub at URL.
type HubConfig struct {
	URL    string `mapstructure:"url"`
	CACert string `mapstructure:"ca_cert"`
}

// FilterConfig restricts which identities receive a token. Allow holds
// path.Match patterns compared against the string value of Claim.
type FilterConfig struct {
	Claim string   `mapstructure:"claim"`
	Allow []string `mapstructure:"allow"`
}

// ReceiversConfig restricts absolute redirect targets to the listed origins.
// Root-relative targets are always accepted. An empty list accepts any.
type ReceiversConfig struct {
	Allowed []string `mapstructure:"allowed"`
}

// CookieConfig configures the satellite's session cookie.
type CookieConfig struct {
	Name   string `mapstructure:"name"`
	Domain string `mapstructure:"domain"`
}

// MetricsConfig enables the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Runtime bool `mapstructure:"runtime"`
}

// ProvidersConfig holds every provider's settings.
type ProvidersConfig struct {
	Okta      OktaConfig            `mapstructure:"okta"`
	Microsoft MicrosoftConfig       `mapstructure:"microsoft"`
	OIDC      map[string]OIDCConfig `mapstructure:"oidc"`
}

// OktaConfig configures the Okta provider.
type OktaConfig struct {
	// Enabled forces the provider on or off. When unset, the provider is
	// enabled whenever it has a client ID.
	Enabled *bool `mapstructure:"enabled"`

	Domain       string `mapstructure:"domain"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	// Credentials is the compact "domain:client_id:client_secret" form.
	Credentials string `mapstructure:"credentials"`
}

// IsEnabled reports whether the provider should be registered.
func (c *OktaConfig) IsEnabled() bool {
	return isEnabled(c.Enabled, c.ClientID)
}

// MicrosoftConfig configures the Microsoft provider.
type MicrosoftConfig struct {
	Enabled *bool `mapstructure:"enabled"`

	Tenant       string `mapstructure:"tenant"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`

	// Credentials is the compact "client_id:client_secret" form.
	Credentials string `mapstructure:"credentials"`
}

// IsEnabled reports whether the provider should be registered.
func (c *MicrosoftConfig) IsEnabled() bool {
	return isEnabled(c.Enabled, c.ClientID)
}

// OIDCConfig configures a generic OIDC provider. The map key is its name.
type OIDCConfig struct {
	Issuer            string   `mapstructure:"issuer"`
	ClientID          string   `mapstructure:"client_id"`
	ClientSecret      string   `mapstructure:"client_secret"`
	Scopes            []string `mapstructure:"scopes"`
	UsernameClaim     string   `mapstructure:"username_claim"`
	LowercaseUsername bool     `mapstructure:"lowercase_username"`
	GroupsClaim       string   `mapstructure:"groups_claim"`
	LogoutURL         string   `mapstructure:"logout_url"`
}

func isEnabled(flag *bool, clientID string) bool {
	if flag != nil {
		return *flag
	}
	return clientID != ""
}

// envKeys are bound to INCONNU_<KEY> with dots replaced by underscores.
var envKeys = []string{
	"listen", "public_url", "home_url",
	"tokens.max_ttl", "tokens.issuer", "tokens.secret", "tokens.secret_file", "tokens.key_file",
	"handshake.state_ttl", "handshake.code_ttl", "handshake.cleanup_interval",
	"storage.type", "storage.redis.addrs", "storage.redis.master_name", "storage.redis.username",
	"storage.redis.password", "storage.redis.db", "storage.redis.key_prefix",
	"hub.url", "hub.ca_cert",
	"filter.claim", "filter.allow",
	"receivers.allowed",
	"cookie.name", "cookie.domain",
	"metrics.enabled", "metrics.runtime",
	"providers.okta.enabled", "providers.okta.domain", "providers.okta.client_id",
	"providers.okta.client_secret",
	"providers.microsoft.enabled", "providers.microsoft.tenant", "providers.microsoft.client_id",
	"providers.microsoft.client_secret",
}

// legacyEnv maps keys to the short variable names the broker has always
// honored, after the prefixed form.
var legacyEnv = map[string]string{
	"port":                            "INCONNU_PORT",
	"log_requests":                    "INCONNU_LOG",
	"tokens.ttl":                      "INCONNU_JWT_EXPIRATION",
	"providers.okta.credentials":      "INCONNU_OKTA",
	"providers.microsoft.credentials": "INCONNU_MICROSOFT",
}

// defaultConfigFile is the config file looked up in the XDG config
// directories when --config is not given.
const defaultConfigFile = "inconnu/config.yaml"

// DefaultConfigFile returns the path of an existing inconnu/config.yaml in
// the XDG config directories ($XDG_CONFIG_HOME, then $XDG_CONFIG_DIRS).
// It returns an error when there is none.
func DefaultConfigFile() (string, error) {
	return xdg.SearchConfigFile(defaultConfigFile)
}

// NewViper returns a viper instance with the broker's defaults and
// environment bindings.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigType("yaml")

	v.SetDefault("home_url", DefaultHomeURL)
	v.SetDefault("tokens.ttl", DefaultTokenTTL)
	v.SetDefault("handshake.state_ttl", DefaultStateTTL.String())
	v.SetDefault("handshake.code_ttl", DefaultCodeTTL.String())
	v.SetDefault("handshake.cleanup_interval", storage.DefaultCleanupInterval.String())
	v.SetDefault("storage.type", string(storage.TypeMemory))
	v.SetDefault("cookie.name", DefaultCookieName)

	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, legacy)
	}
	return v
}

// Load reads the optional config file named by the "config" key and decodes
// the merged settings. The result is not validated.
func Load(v *viper.Viper) (*Config, error) {
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
		slog.Debug("loaded config file", "path", file)
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationHook(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.Listen == "" {
		port := cfg.Port
		if port == 0 {
			port = DefaultPort
		}
		cfg.Listen = ":" + strconv.Itoa(port)
	}
	if err := cfg.Providers.Okta.applyCredentials(); err != nil {
		return nil, err
	}
	if err := cfg.Providers.Microsoft.applyCredentials(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SatelliteMode reports whether a hub is configured.
func (c *Config) SatelliteMode() bool {
	return c.Hub.URL != ""
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen: %w", err))
	}
	if c.PublicURL != "" {
		if err := validateOrigin(c.PublicURL); err != nil {
			errs = append(errs, fmt.Errorf("public_url: %w", err))
		}
	}

	if c.Tokens.TTL <= 0 {
		errs = append(errs, errors.New("tokens.ttl must be positive"))
	}
	if c.Tokens.MaxTTL < 0 {
		errs = append(errs, errors.New("tokens.max_ttl cannot be negative"))
	}
	if c.Tokens.MaxTTL > 0 && c.Tokens.TTL > c.Tokens.MaxTTL {
		errs = append(errs, fmt.Errorf("tokens.ttl %s exceeds tokens.max_ttl %s", c.Tokens.TTL, c.Tokens.MaxTTL))
	}
	if c.Tokens.Secret != "" && len(c.Tokens.Secret) < keys.MinSecretLength {
		errs = append(errs, fmt.Errorf("tokens.secret must be at least %d bytes", keys.MinSecretLength))
	}
	if c.Tokens.Secret != "" && c.Tokens.SecretFile != "" {
		errs = append(errs, errors.New("only one of tokens.secret and tokens.secret_file may be set"))
	}

	if c.Handshake.StateTTL <= 0 {
		errs = append(errs, errors.New("handshake.state_ttl must be positive"))
	}
	if c.Handshake.CodeTTL <= 0 {
		errs = append(errs, errors.New("handshake.code_ttl must be positive"))
	}

	switch storage.Type(c.Storage.Type) {
	case storage.TypeMemory, "":
	case storage.TypeRedis:
		if len(c.Storage.Redis.Addrs) == 0 {
			errs = append(errs, errors.New("storage.redis.addrs is required for redis storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.type %q is not supported", c.Storage.Type))
	}

	if c.Hub.URL != "" {
		if err := validateOrigin(c.Hub.URL); err != nil {
			errs = append(errs, fmt.Errorf("hub.url: %w", err))
		}
	}

	if len(c.Filter.Allow) > 0 && c.Filter.Claim == "" {
		errs = append(errs, errors.New("filter.claim is required when filter.allow is set"))
	}
	for _, pattern := range c.Filter.Allow {
		if _, err := path.Match(pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("filter.allow pattern %q: %w", pattern, err))
		}
	}
	for _, origin := range c.Receivers.Allowed {
		if err := validateOrigin(origin); err != nil {
			errs = append(errs, fmt.Errorf("receivers.allowed %q: %w", origin, err))
		}
	}
	if c.Cookie.Name == "" {
		errs = append(errs, errors.New("cookie.name is required"))
	}

	errs = append(errs, c.validateProviders()...)
	return errors.Join(errs...)
}

func (c *Config) validateProviders() []error {
	var errs []error
	p := c.Providers

	if p.Okta.IsEnabled() {
		if p.Okta.Domain == "" {
			errs = append(errs, errors.New("providers.okta.domain is required"))
		}
		if p.Okta.ClientID == "" {
			errs = append(errs, errors.New("providers.okta.client_id is required"))
		}
	}
	if p.Microsoft.IsEnabled() && p.Microsoft.ClientID == "" {
		errs = append(errs, errors.New("providers.microsoft.client_id is required"))
	}
	for name, o := range p.OIDC {
		if (name == "okta" && p.Okta.IsEnabled()) || (name == upstream.MicrosoftName && p.Microsoft.IsEnabled()) {
			errs = append(errs, fmt.Errorf("providers.oidc.%s clashes with the built-in provider", name))
		}
		if o.Issuer == "" {
			errs = append(errs, fmt.Errorf("providers.oidc.%s.issuer is required", name))
		}
		if o.ClientID == "" {
			errs = append(errs, fmt.Errorf("providers.oidc.%s.client_id is required", name))
		}
	}

	if !c.SatelliteMode() && !p.Okta.IsEnabled() && !p.Microsoft.IsEnabled() && len(p.OIDC) == 0 {
		slog.Warn("no identity provider is enabled and no hub is configured")
	}
	return errs
}

// validateOrigin requires an absolute http(s) URL.
func validateOrigin(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// StoreConfig converts the storage settings for storage.NewStorage.
func (c *Config) StoreConfig() *storage.Config {
	cfg := &storage.Config{
		Type:            storage.Type(c.Storage.Type),
		CleanupInterval: c.Handshake.CleanupInterval,
	}
	if cfg.Type == storage.TypeRedis {
		r := c.Storage.Redis
		cfg.Redis = &storage.RedisConfig{
			Addrs:      r.Addrs,
			MasterName: r.MasterName,
			Username:   r.Username,
			Password:   r.Password,
			DB:         r.DB,
			KeyPrefix:  r.KeyPrefix,
		}
	}
	return cfg
}

// KeyConfig converts the signing key settings for keys.NewProviderFromConfig.
func (c *Config) KeyConfig() keys.Config {
	return keys.Config{
		KeyFile:    c.Tokens.KeyFile,
		Secret:     c.Tokens.Secret,
		SecretFile: c.Tokens.SecretFile,
	}
}

// TokenServiceConfig converts the token settings for tokens.NewService.
func (c *Config) TokenServiceConfig() tokens.Config {
	return tokens.Config{
		TTL:    c.Tokens.TTL,
		MaxTTL: c.Tokens.MaxTTL,
		Issuer: c.Tokens.Issuer,
	}
}
