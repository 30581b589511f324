// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package broker assembles an identity broker from its configuration and
// serves it over HTTP.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/inconnu/pkg/broker/config"
	"github.com/stacklok/inconnu/pkg/broker/hub"
	"github.com/stacklok/inconnu/pkg/broker/keys"
	"github.com/stacklok/inconnu/pkg/broker/metrics"
	"github.com/stacklok/inconnu/pkg/broker/server"
	"github.com/stacklok/inconnu/pkg/broker/storage"
	"github.com/stacklok/inconnu/pkg/broker/tokens"
	"github.com/stacklok/inconnu/pkg/broker/upstream"
	"github.com/stacklok/inconnu/pkg/logger"
	"github.com/stacklok/inconnu/pkg/networking"
)

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultMaxHeaderBytes    = 1 << 20
	defaultShutdownTimeout   = 10 * time.Second
)

// Broker is a configured hub or satellite.
type Broker struct {
	cfg       *config.Config
	store     storage.Store
	tokens    *tokens.Service
	providers *upstream.Registry
	metrics   *metrics.Metrics
	handler   *server.Handler
}

// New validates cfg and builds every component. Close releases the secret
// store.
func New(ctx context.Context, cfg *config.Config) (*Broker, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	keyProvider, err := keys.NewProviderFromConfig(cfg.KeyConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	if _, ephemeral := keyProvider.(*keys.GeneratingProvider); ephemeral {
		logger.Warnf("No signing key configured; tokens will not survive a restart")
	}

	tokenService, err := tokens.NewService(keyProvider, cfg.TokenServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create token service: %w", err)
	}

	b := &Broker{cfg: cfg, tokens: tokenService, providers: upstream.NewRegistry()}
	var opts []server.Option

	if cfg.SatelliteMode() {
		client, err := newHubClient(cfg.Hub)
		if err != nil {
			return nil, err
		}
		opts = append(opts, server.WithHubClient(client))
	} else {
		httpClient, err := networking.NewHttpClientBuilder().WithPrivateIPs(true).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build provider HTTP client: %w", err)
		}
		if b.providers, err = NewProviders(cfg.Providers, upstream.WithHTTPClient(httpClient)); err != nil {
			return nil, err
		}
		logger.Debugw("providers registered", "providers", b.providers.Names())
	}

	if cfg.Metrics.Enabled {
		b.metrics = metrics.New(metrics.Config{IncludeRuntimeMetrics: cfg.Metrics.Runtime})
		opts = append(opts, server.WithMetrics(b.metrics))
	}

	if b.store, err = storage.NewStorage(ctx, cfg.StoreConfig()); err != nil {
		return nil, fmt.Errorf("failed to create secret store: %w", err)
	}

	b.handler = server.NewHandler(serverConfig(cfg), b.store, b.tokens, b.providers, opts...)
	return b, nil
}

// NewProviders creates the enabled providers. Generic OIDC providers are
// registered in name order.
func NewProviders(cfg config.ProvidersConfig, opts ...upstream.Option) (*upstream.Registry, error) {
	var providers []upstream.Provider

	if cfg.Okta.IsEnabled() {
		p, err := upstream.NewOktaProvider(cfg.Okta.Domain, cfg.Okta.ClientID, cfg.Okta.ClientSecret, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create okta provider: %w", err)
		}
		providers = append(providers, p)
	}

	if cfg.Microsoft.IsEnabled() {
		p, err := upstream.NewMicrosoftProvider(upstream.MicrosoftConfig{
			Tenant:       cfg.Microsoft.Tenant,
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create microsoft provider: %w", err)
		}
		providers = append(providers, p)
	}

	names := make([]string, 0, len(cfg.OIDC))
	for name := range cfg.OIDC {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		oc := cfg.OIDC[name]
		p, err := upstream.NewOIDCProvider(upstream.OIDCConfig{
			Name:              name,
			Issuer:            oc.Issuer,
			ClientID:          oc.ClientID,
			ClientSecret:      oc.ClientSecret,
			Scopes:            oc.Scopes,
			UsernameClaim:     oc.UsernameClaim,
			LowercaseUsername: oc.LowercaseUsername,
			GroupsClaim:       oc.GroupsClaim,
			LogoutURL:         oc.LogoutURL,
		}, opts...)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	return upstream.NewRegistry(providers...), nil
}

func newHubClient(cfg config.HubConfig) (*hub.Client, error) {
	httpClient, err := networking.NewHttpClientBuilder().
		WithCABundle(cfg.CACert).
		WithPrivateIPs(true).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build hub HTTP client: %w", err)
	}
	return hub.NewClient(httpClient)
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		PublicURL:        cfg.PublicURL,
		HomeURL:          cfg.HomeURL,
		HubURL:           cfg.Hub.URL,
		StateTTL:         cfg.Handshake.StateTTL,
		CodeTTL:          cfg.Handshake.CodeTTL,
		CookieName:       cfg.Cookie.Name,
		CookieDomain:     cfg.Cookie.Domain,
		FilterClaim:      cfg.Filter.Claim,
		FilterAllow:      cfg.Filter.Allow,
		AllowedReceivers: cfg.Receivers.Allowed,
		LogRequests:      cfg.LogRequests,
	}
}

// Handler returns the broker's HTTP handler.
func (b *Broker) Handler() http.Handler {
	return b.handler.Routes()
}

// Providers returns the registered providers. It is empty for a satellite.
func (b *Broker) Providers() *upstream.Registry {
	return b.providers
}

// Tokens returns the token service.
func (b *Broker) Tokens() *tokens.Service {
	return b.tokens
}

// Serve answers requests on ln until ctx is cancelled, then shuts down
// gracefully.
func (b *Broker) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           b.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
	}

	mode := "hub"
	if b.cfg.SatelliteMode() {
		mode = "satellite"
	}
	logger.Infow("Starting inconnu",
		"address", ln.Addr().String(),
		"mode", mode,
		"providers", b.providers.Names(),
		"storage", b.cfg.Storage.Type,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down inconnu")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// ListenAndServe binds the configured address and calls Serve.
func (b *Broker) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", b.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.cfg.Listen, err)
	}
	return b.Serve(ctx, ln)
}

// Close releases the secret store.
func (b *Broker) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}
