// Package app wires the relay components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fogmoe/fogchat/common/version"
	"github.com/fogmoe/fogchat/internal/fogchat/chat"
	"github.com/fogmoe/fogchat/internal/fogchat/config"
	"github.com/fogmoe/fogchat/internal/fogchat/history"
	"github.com/fogmoe/fogchat/internal/fogchat/metrics"
	"github.com/fogmoe/fogchat/internal/fogchat/provider"
	"github.com/fogmoe/fogchat/internal/fogchat/ratelimit"
	"github.com/fogmoe/fogchat/internal/fogchat/search"
	"github.com/fogmoe/fogchat/internal/fogchat/store"
	"github.com/fogmoe/fogchat/internal/fogchat/web"
)

const shutdownTimeout = 15 * time.Second

// App owns the long-lived components of the relay.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *store.Store
	hist     *history.Store
	limiter  *ratelimit.Limiter
	server   *web.Server
	exporter *metrics.Exporter
}

// New builds the full component graph from the configuration.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	hist := history.NewStore(db.DB(), history.Config{
		CharCeiling: cfg.History.CharCeiling,
		CacheTTL:    cfg.History.CacheTTL,
	}, logger)

	limiter := ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)

	gateway := buildGateway(cfg, logger)

	loc, err := time.LoadLocation(cfg.Chat.Timezone)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("app: load timezone %q: %w", cfg.Chat.Timezone, err)
	}

	orch := chat.New(gateway, hist, db, limiter, chat.Config{
		MaxMessageChars: cfg.Chat.MaxMessageChars,
		Location:        loc,
	}, logger)

	server := web.NewServer(web.Config{
		Addr:      cfg.Server.Addr,
		JWTSecret: cfg.Auth.JWTSecret,
		Version:   version.Version,
	}, orch, hist, logger)

	a := &App{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		hist:    hist,
		limiter: limiter,
		server:  server,
	}
	if cfg.Metrics.Enabled {
		a.exporter = metrics.NewExporter(cfg.Metrics.Addr)
	}
	return a, nil
}

// buildGateway constructs only the providers that have credentials, in
// fallback order. An empty list is valid; the gateway then answers with its
// fixed unconfigured message.
func buildGateway(cfg *config.Config, logger *slog.Logger) *provider.Gateway {
	var providers []provider.Provider
	if cfg.GeminiConfigured() {
		providers = append(providers, provider.NewOpenAI(provider.OpenAIConfig{
			Name:        "gemini",
			APIKey:      cfg.Gemini.APIKey,
			BaseURL:     cfg.Gemini.BaseURL,
			Model:       cfg.Gemini.Model,
			MaxTokens:   cfg.Gemini.MaxTokens,
			Temperature: cfg.Gemini.Temperature,
			Timeout:     cfg.Gemini.Timeout,
		}))
	}
	if cfg.AzureConfigured() {
		providers = append(providers, provider.NewAzure(provider.AzureConfig{
			APIKey:     cfg.Azure.APIKey,
			Endpoint:   cfg.Azure.Endpoint,
			Deployment: cfg.Azure.Deployment,
			APIVersion: cfg.Azure.APIVersion,
			Timeout:    cfg.Azure.Timeout,
		}))
	}

	var searcher provider.Searcher
	if cfg.SearchConfigured() {
		searcher = search.NewClient(search.Config{
			APIKey:      cfg.Search.APIKey,
			BaseURL:     cfg.Search.BaseURL,
			Engine:      cfg.Search.Engine,
			MaxResults:  cfg.Search.MaxResults,
			ContentSize: cfg.Search.ContentSize,
			Timeout:     cfg.Search.Timeout,
		}, logger)
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	logger.Info("gateway assembled",
		"providers", names, "web_search", searcher != nil)

	return provider.NewGateway(providers, searcher, logger)
}

// Run starts every component and blocks until a termination signal or a
// fatal listener error, then shuts everything down in reverse order.
func (a *App) Run() error {
	a.limiter.Start()
	a.hist.Start()

	errCh := make(chan error, 2)
	go func() { errCh <- a.server.Start() }()

	if a.exporter != nil {
		go func() {
			if err := a.exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("app: metrics exporter: %w", err)
			}
		}()
		a.logger.Info("metrics exporter started", "addr", a.cfg.Metrics.Addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		a.logger.Info("shutting down", "signal", sig.String())
	case runErr = <-errCh:
		if runErr != nil {
			a.logger.Error("component failed, shutting down", "err", runErr)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown failed", "err", err)
	}
	if a.exporter != nil {
		if err := a.exporter.Stop(ctx); err != nil {
			a.logger.Error("metrics shutdown failed", "err", err)
		}
	}
	a.hist.Stop()
	a.limiter.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Error("database close failed", "err", err)
	}

	a.logger.Info("shutdown complete")
	return runErr
}
