package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nhle/tempmail/internal/app"
	"github.com/nhle/tempmail/internal/credential"
	"github.com/nhle/tempmail/internal/logger"
	"github.com/nhle/tempmail/internal/mailapi"
	"github.com/nhle/tempmail/internal/metrics"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/retry"
	"github.com/nhle/tempmail/internal/store"
	"github.com/nhle/tempmail/internal/stream"
	appsync "github.com/nhle/tempmail/internal/sync"
)

// runtime holds everything a command needs for one provider.
type runtime struct {
	cfg      *model.AppConfig
	provider model.Provider
	store    *store.SQLiteStore
	auth     *app.Authenticator
	session  *app.Session
	log      *slog.Logger

	logCloser io.Closer
	metrics   *http.Server
}

func openRuntime(ctx context.Context, opts *rootOptions, tui bool) (*runtime, error) {
	cfg, err := model.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.providerID != "" {
		cfg.ProviderID = opts.providerID
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	// The terminal UI owns the screen, so its logs always go to a file.
	if tui && cfg.Logging.Output != "file" {
		cfg.Logging.Output = "file"
		if cfg.Logging.File == "" {
			cfg.Logging.File = filepath.Join(model.ConfigDir(), "tempmail.log")
		}
	}

	provider, err := cfg.Provider(cfg.ProviderID)
	if err != nil {
		return nil, err
	}

	closer, err := logger.Initialize(cfg.Logging)
	if err != nil {
		return nil, err
	}
	log := logger.Get()

	rt := &runtime{cfg: cfg, provider: provider, log: log, logCloser: closer}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		rt.Close()
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	rt.store, err = store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		rt.Close()
		return nil, err
	}

	secrets, err := credential.Open()
	if err != nil {
		rt.Close()
		return nil, err
	}

	api := mailapi.NewClient(provider.BaseURL, mailapi.Options{
		MaxRetries:   cfg.API.MaxRetries,
		RetryInitial: time.Duration(cfg.API.RetryInitialMs) * time.Millisecond,
		Logger:       log.With("component", "mailapi"),
	})
	rt.auth = app.NewAuthenticator(api, rt.store, secrets, provider.ID, log.With("component", "auth"))

	streamCfg := stream.Config{
		HubURL: provider.MercureURL,
		Backoff: retry.BackoffConfig{
			InitialInterval: cfg.Stream.InitialBackoff(),
			MaxInterval:     cfg.Stream.MaxBackoff(),
			Multiplier:      2,
			MaxRetries:      cfg.Stream.MaxAttempts,
		},
		ConnectTimeout: cfg.Stream.ConnectTimeout(),
		Logger:         log.With("component", "stream"),
	}

	rt.session, err = app.NewSession(ctx, api, rt.auth, rt.store, appsync.ArbiterConfig{
		Stream:       appsync.NewStreamFactory(streamCfg),
		PollInterval: cfg.Sync.PollInterval(),
		PollerOptions: appsync.PollerOptions{
			MinInterval:  cfg.Sync.MinPollInterval(),
			FetchTimeout: cfg.Sync.FetchTimeout(),
			Logger:       log.With("component", "poller"),
		},
		FallbackEnabled: cfg.Sync.FallbackEnabled,
		Logger:          log.With("component", "arbiter"),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	if cfg.Metrics.Listen != "" {
		rt.startMetrics(cfg.Metrics.Listen)
	}

	log.Info("tempmail started", "provider", provider.ID, "db", cfg.DBPath)
	return rt, nil
}

func (rt *runtime) startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	rt.metrics = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		rt.log.Info("metrics listener started", "addr", addr)
		if err := rt.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.log.Error("metrics listener failed", "error", err)
		}
	}()
}

// Close releases everything openRuntime acquired, in reverse order.
func (rt *runtime) Close() {
	if rt.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = rt.metrics.Shutdown(ctx)
		cancel()
	}
	if rt.session != nil {
		rt.session.Close()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.log.Warn("closing store failed", "error", err)
		}
	}
	if rt.logCloser != nil {
		_ = rt.logCloser.Close()
	}
}
