// Package app wires all Trunkline subsystems into a running call server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithSummaryStore,
// WithRealtimeClient, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trunkline/trunkline/internal/bridge"
	"github.com/trunkline/trunkline/internal/config"
	"github.com/trunkline/trunkline/internal/dialer"
	"github.com/trunkline/trunkline/internal/health"
	"github.com/trunkline/trunkline/internal/observe"
	"github.com/trunkline/trunkline/internal/server"
	"github.com/trunkline/trunkline/internal/session"
	"github.com/trunkline/trunkline/internal/summary"
	"github.com/trunkline/trunkline/pkg/realtime"
	"github.com/trunkline/trunkline/pkg/realtime/openai"
)

// shutdownGrace bounds the HTTP server drain once the run context ends.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes for one Trunkline process.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	logLevel *slog.LevelVar
	metrics  *observe.Metrics

	store     summary.Store
	storePing func(context.Context) error
	registry  *session.Registry
	finalizer *session.Finalizer
	client    realtime.Client
	bridge    *bridge.Bridge
	placer    server.CallPlacer
	srv       *server.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithLogLevelVar attaches the level variable hot reload adjusts. Without it,
// log-level changes in the config file are ignored.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSummaryStore injects a summary store instead of creating one from config.
func WithSummaryStore(s summary.Store) Option {
	return func(a *App) { a.store = s }
}

// WithRealtimeClient injects a backend client instead of creating one from
// config.
func WithRealtimeClient(c realtime.Client) Option {
	return func(a *App) { a.client = c }
}

// WithCallPlacer injects an outbound dialer instead of creating one from the
// telephony credentials.
func WithCallPlacer(p server.CallPlacer) Option {
	return func(a *App) { a.placer = p }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated by the config loader.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Summary store ─────────────────────────────────────────────────
	if err := a.initSummaryStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init summary store: %w", err)
	}

	// ── 2. Call registry + finalizer ─────────────────────────────────────
	a.registry = session.NewRegistry()
	a.finalizer = session.NewFinalizer(a.store, a.registry, a.log, a.metrics)

	// ── 3. Realtime backend client ───────────────────────────────────────
	a.initBackendClient()

	// ── 4. Bridge ────────────────────────────────────────────────────────
	a.initBridge()

	// ── 5. Outbound dialer ───────────────────────────────────────────────
	a.initDialer()

	// ── 6. HTTP server ───────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initSummaryStore builds the configured summary backend unless one was
// injected.
func (a *App) initSummaryStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	reg := config.NewRegistry()
	reg.RegisterSummaryStore(config.SummaryNone, func(context.Context, config.SummaryConfig) (summary.Store, error) {
		return summary.Discard, nil
	})
	reg.RegisterSummaryStore(config.SummarySheets, func(ctx context.Context, cfg config.SummaryConfig) (summary.Store, error) {
		return summary.NewSheetsStore(ctx, cfg.Sheets.SheetID, cfg.Sheets.ServiceAccountEmail, cfg.Sheets.PrivateKey)
	})
	reg.RegisterSummaryStore(config.SummaryPostgres, func(ctx context.Context, cfg config.SummaryConfig) (summary.Store, error) {
		return summary.NewPostgresStore(ctx, cfg.Postgres.DSN)
	})

	store, err := reg.CreateSummaryStore(ctx, a.cfg.Summary)
	if err != nil {
		return err
	}

	if closer, ok := store.(interface{ Close() }); ok {
		a.closers = append(a.closers, func() error {
			closer.Close()
			return nil
		})
	}
	if pinger, ok := store.(interface{ Ping(context.Context) error }); ok {
		a.storePing = pinger.Ping
	}

	// Real backends sit behind a breaker so a stuck store fails call
	// finalization fast instead of holding every teardown to its timeout.
	if store != summary.Discard {
		store = summary.NewBreakerStore(store, summary.BreakerConfig{}, a.log)
	}
	a.store = store

	a.log.Info("summary store ready", slog.String("backend", string(a.cfg.Summary.Backend)))
	return nil
}

// initBackendClient builds the realtime client from the backend config unless
// one was injected.
func (a *App) initBackendClient() {
	if a.client != nil {
		return
	}

	var opts []openai.Option
	if a.cfg.Backend.Model != "" {
		opts = append(opts, openai.WithModel(a.cfg.Backend.Model))
	}
	if a.cfg.Backend.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(a.cfg.Backend.BaseURL))
	}
	if a.cfg.Backend.Organization != "" {
		opts = append(opts, openai.WithOrganization(a.cfg.Backend.Organization))
	}
	a.client = openai.New(a.cfg.Backend.APIKey, opts...)
}

// initBridge builds the audio relay with config-derived tunables. Zero-valued
// bridge settings keep the production defaults.
func (a *App) initBridge() {
	bc := a.cfg.Bridge
	tun := bridge.Tunables{
		AccumBytes:        bc.AccumBytes,
		SettleDelay:       time.Duration(bc.SettleDelayMS) * time.Millisecond,
		BootstrapDelay:    time.Duration(bc.BootstrapDelayMS) * time.Millisecond,
		FrameBytes:        bc.FrameBytes,
		FrameDelay:        time.Duration(bc.FrameDelayMS) * time.Millisecond,
		KeepAliveInterval: time.Duration(bc.KeepAliveSec) * time.Second,
		SelfTestTone:      bc.SelfTestTone,
	}

	opts := []bridge.Option{
		bridge.WithLogger(a.log),
		bridge.WithMetrics(a.metrics),
		bridge.WithTunables(tun),
	}
	if a.cfg.Agent.Instructions != "" {
		opts = append(opts, bridge.WithInstructions(a.cfg.Agent.Instructions))
	}
	if a.cfg.Agent.BootstrapText != "" {
		opts = append(opts, bridge.WithBootstrapText(a.cfg.Agent.BootstrapText))
	}
	if a.cfg.Backend.Voice != "" {
		opts = append(opts, bridge.WithVoice(a.cfg.Backend.Voice))
	}
	if a.cfg.Backend.TranscriptionModel != "" {
		opts = append(opts, bridge.WithTranscriptionModel(a.cfg.Backend.TranscriptionModel))
	}

	a.bridge = bridge.New(a.client, a.registry, a.finalizer, opts...)
}

// initDialer enables outbound calling when telephony credentials are present.
func (a *App) initDialer() {
	if a.placer != nil {
		return
	}
	t := a.cfg.Telephony
	if t.AccountSID == "" || t.AuthToken == "" {
		a.log.Info("telephony credentials absent, outbound calling disabled")
		return
	}
	a.placer = dialer.New(t.AccountSID, t.AuthToken, t.FromNumber)
}

// initServer assembles the HTTP surface.
func (a *App) initServer() {
	var checkers []health.Checker
	if a.storePing != nil {
		checkers = append(checkers, health.Checker{
			Name:  "summary-store",
			Check: a.storePing,
		})
	}

	opts := []server.Option{
		server.WithLogger(a.log),
		server.WithMetrics(a.metrics),
		server.WithHealth(health.New(checkers...)),
	}
	if a.cfg.Agent.Greeting != "" {
		opts = append(opts, server.WithGreeting(a.cfg.Agent.Greeting))
	}
	if a.placer != nil {
		opts = append(opts, server.WithCallPlacer(a.placer))
	}

	a.srv = server.New(a.cfg.Server.PublicHost, a.bridge, a.registry, opts...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the full HTTP route tree. Exposed for tests; Run serves it.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
// Live media-stream connections end with the drain since their request
// contexts are cancelled.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}

	// Request contexts derive from ctx so live media streams end with the
	// drain instead of outliving it.
	httpSrv := &http.Server{
		Addr:        addr,
		Handler:     a.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tls := a.cfg.Server.TLS
		var err error
		if tls != nil {
			a.log.Info("listening", slog.String("addr", addr), slog.Bool("tls", true))
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			a.log.Info("listening", slog.String("addr", addr))
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(drainCtx)
	})

	return g.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyReload applies a config file change to the running app. Only the
// hot-reloadable fields take effect; everything else needs a restart. Calls
// already in progress keep the settings they started with.
func (a *App) ApplyReload(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.SlogLevel())
		a.log.Info("log level changed", slog.String("level", string(d.NewLogLevel)))
	}

	if d.AgentChanged {
		a.bridge.UpdateAgent(d.NewAgent.Instructions, d.NewAgent.BootstrapText, "")
		a.srv.UpdateGreeting(d.NewAgent.Greeting)
		a.log.Info("agent settings changed")
	}

	if d.VoiceChanged {
		a.bridge.UpdateAgent("", "", d.NewVoice)
		a.log.Info("voice changed", slog.String("voice", d.NewVoice))
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, the rest are skipped
// and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", slog.Int("closers", len(a.closers)))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", slog.Int("remaining", len(a.closers)-i))
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", slog.Int("index", i), slog.String("error", err.Error()))
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
