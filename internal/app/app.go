// Package app wires all Verbatim subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API and blocks until the context ends,
// and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStore, WithVoiceProvider, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/verbatim-labs/verbatim/internal/call"
	"github.com/verbatim-labs/verbatim/internal/config"
	"github.com/verbatim-labs/verbatim/internal/events"
	"github.com/verbatim-labs/verbatim/internal/health"
	"github.com/verbatim-labs/verbatim/internal/observe"
	"github.com/verbatim-labs/verbatim/internal/summary"
	"github.com/verbatim-labs/verbatim/pkg/provider/llm"
	llmopenai "github.com/verbatim-labs/verbatim/pkg/provider/llm/openai"
	"github.com/verbatim-labs/verbatim/pkg/provider/voice"
	"github.com/verbatim-labs/verbatim/pkg/provider/voice/vapi"
	"github.com/verbatim-labs/verbatim/pkg/store"
	"github.com/verbatim-labs/verbatim/pkg/store/postgres"
)

// shutdownTimeout bounds the HTTP server drain during Shutdown.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes and serves the interview API.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store        store.Store
	voiceProv    voice.Provider
	llmProv      llm.Provider
	publisher    *events.Publisher
	orchestrator *call.Orchestrator
	server       *http.Server

	// pinger probes storage connectivity for the readiness endpoint. Nil
	// when the store was injected.
	pinger func(ctx context.Context) error

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of connecting to PostgreSQL.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithVoiceProvider injects a voice provider instead of creating one from
// config.
func WithVoiceProvider(p voice.Provider) Option {
	return func(a *App) { a.voiceProv = p }
}

// WithLLM injects an LLM provider instead of creating one from config.
func WithLLM(p llm.Provider) Option {
	return func(a *App) { a.llmProv = p }
}

// WithPublisher injects an event publisher instead of creating one from
// config.
func WithPublisher(p *events.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if a.store == nil {
		pg, err := postgres.Connect(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: connect storage: %w", err)
		}
		a.store = pg
		a.pinger = pg.Ping
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
	}

	// ── 2. Voice provider ────────────────────────────────────────────────
	if a.voiceProv == nil {
		var vopts []vapi.Option
		if cfg.Voice.BaseURL != "" {
			vopts = append(vopts, vapi.WithBaseURL(cfg.Voice.BaseURL))
		}
		a.voiceProv = vapi.New(cfg.Voice.APIKey, vopts...)
	}

	// ── 3. Summaries ─────────────────────────────────────────────────────
	if a.llmProv == nil && cfg.LLM.APIKey != "" {
		var lopts []llmopenai.Option
		if cfg.LLM.BaseURL != "" {
			lopts = append(lopts, llmopenai.WithBaseURL(cfg.LLM.BaseURL))
		}
		lp, err := llmopenai.New(cfg.LLM.APIKey, cfg.LLM.Model, lopts...)
		if err != nil {
			return nil, fmt.Errorf("app: init llm: %w", err)
		}
		a.llmProv = lp
	}
	var summariser *summary.Summariser
	if a.llmProv != nil {
		summariser = summary.New(a.llmProv, a.store, logger)
	}

	// ── 4. Event publishing ──────────────────────────────────────────────
	if a.publisher == nil {
		a.publisher = events.New(events.Config{
			Brokers: cfg.Events.Brokers,
			Topic:   cfg.Events.Topic,
			Enabled: cfg.Events.Enabled,
			Logger:  logger,
		})
		a.closers = append(a.closers, a.publisher.Close)
	}

	// ── 5. Orchestrator ──────────────────────────────────────────────────
	a.orchestrator = call.New(call.Config{
		Provider:         a.voiceProv,
		Store:            a.store,
		Publisher:        a.publisher,
		Summariser:       summariser,
		DefaultAgentID:   cfg.Voice.AgentID,
		DebouncePeriod:   cfg.Engine.Debounce,
		FlushInterval:    cfg.Engine.FlushInterval,
		MaxBatchAttempts: cfg.Engine.MaxBatchAttempts,
		MaxBackoff:       cfg.Engine.MaxBackoff,
		Metrics:          observe.DefaultMetrics(),
		Logger:           logger,
	})

	// ── 6. HTTP server ───────────────────────────────────────────────────
	a.server = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: a.routes(),
	}

	return a, nil
}

// Orchestrator exposes the call orchestrator, mainly for tests.
func (a *App) Orchestrator() *call.Orchestrator {
	return a.orchestrator
}

// routes assembles the HTTP handler tree: the interview API, Prometheus
// metrics, and health probes, all behind the observability middleware.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/interviews", a.handleStartInterview)
	mux.HandleFunc("DELETE /v1/interviews/active", a.handleStopInterview)
	mux.HandleFunc("POST /v1/interviews/active/messages", a.handleSendMessage)
	mux.HandleFunc("GET /v1/interviews/active/transcript", a.handleTranscript)

	mux.Handle("GET /metrics", promhttp.Handler())

	checkers := []health.Checker{}
	if a.pinger != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: a.pinger})
	}
	health.New(checkers...).Register(mux)

	return observe.Middleware(observe.DefaultMetrics())(mux)
}

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. A cancelled context triggers a graceful drain before returning.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		// End any live interview first so its transcript is flushed.
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.orchestrator.StopInterview(stopCtx); err != nil {
			a.logger.Warn("interview stop during shutdown failed", "error", err)
		}
		return a.server.Shutdown(stopCtx)
	})

	return g.Wait()
}

// Shutdown tears down all subsystems in order. Safe to call multiple times.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}
