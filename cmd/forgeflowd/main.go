// Command forgeflowd is the orchestrator server: it loads configuration,
// wires the Workflow Store, Checkpoint Store, Event Bus, and
// Orchestrator Service described in spec.md §2, runs startup recovery,
// and serves the HTTP+WebSocket surface of spec.md §6 until signaled to
// stop. Wiring and shutdown idiom grounded on tombee-conductor's
// cmd/conductord/main.go (flag parsing, signal-driven graceful
// shutdown via an error channel race).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/forgeflow/orchestrator/graph"
	"github.com/forgeflow/orchestrator/graph/emit"
	gstore "github.com/forgeflow/orchestrator/graph/store"
	"github.com/forgeflow/orchestrator/internal/config"
	"github.com/forgeflow/orchestrator/internal/domain"
	"github.com/forgeflow/orchestrator/internal/driver"
	"github.com/forgeflow/orchestrator/internal/driver/anthropic"
	"github.com/forgeflow/orchestrator/internal/driver/google"
	"github.com/forgeflow/orchestrator/internal/driver/mock"
	"github.com/forgeflow/orchestrator/internal/driver/openai"
	"github.com/forgeflow/orchestrator/internal/eventbus"
	"github.com/forgeflow/orchestrator/internal/httpapi"
	"github.com/forgeflow/orchestrator/internal/orchestrator"
	"github.com/forgeflow/orchestrator/internal/retention"
	"github.com/forgeflow/orchestrator/internal/workflowstore"
	"github.com/forgeflow/orchestrator/internal/wsapi"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file")
		httpAddr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("forgeflowd %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("forgeflowd: load config")
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if level, parseErr := zerolog.ParseLevel(cfg.LogLevel); parseErr == nil {
		log = log.Level(level)
	}

	store, checkpoints, err := openStores(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("forgeflowd: open storage")
	}
	defer store.Close()

	bus := eventbus.New(log.With().Str("component", "eventbus").Logger())
	bus.Configure(cfg.TraceRetentionDays, cfg.StreamToolResults)

	wsManager := wsapi.NewManager(store, log.With().Str("component", "wsapi").Logger(), cfg.WebSocketAllowedOrigins)
	bus.SetBroadcaster(wsManager)

	// Persistence is a subscriber, not a built-in Bus behavior (spec.md
	// §9's "event bus vs. persistence coupling"): the store's SaveEvent
	// is the sole authority for a workflow's per-event sequence, so the
	// value wsapi's backfill_request replay (internal/wsapi/pumps.go)
	// reports always matches what was actually broadcast live.
	persistLog := log.With().Str("component", "eventlog").Logger()
	bus.Subscribe(func(e domain.WorkflowEvent) {
		if _, err := store.SaveEvent(context.Background(), e); err != nil {
			persistLog.Error().Err(err).Str("workflow_id", e.WorkflowID).Str("event_type", string(e.EventType)).Msg("forgeflowd: persist event")
		}
	})

	architect, err := buildDriver("architect")
	if err != nil {
		log.Fatal().Err(err).Msg("forgeflowd: build architect driver")
	}
	reviewer, err := buildDriver("reviewer")
	if err != nil {
		log.Fatal().Err(err).Msg("forgeflowd: build reviewer driver")
	}

	metricsRegistry := prometheus.NewRegistry()
	engineMetrics := graph.NewPrometheusMetrics(metricsRegistry)

	svc := orchestrator.New(orchestrator.Config{
		Store:                      store,
		Bus:                        bus,
		Profiles:                   cfg.Profiles,
		Architect:                  architect,
		Reviewer:                   reviewer,
		Checkpoints:                checkpoints,
		Emitter:                    emit.NewLogEmitter(os.Stderr, true),
		Metrics:                    engineMetrics,
		MaxConcurrent:              cfg.MaxConcurrent,
		DefaultMaxReviewIterations: cfg.DefaultMaxReviewIterations,
		Log:                        log.With().Str("component", "orchestrator").Logger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("forgeflowd: startup recovery")
	}

	sweeper := &retention.Sweeper{
		Store:    store,
		MaxAge:   cfg.EventRetentionMaxAge,
		Interval: cfg.EventRetentionInterval,
		Log:      log.With().Str("component", "retention").Logger(),
	}
	go sweeper.Run(ctx)

	apiServer := httpapi.NewServer(svc, log.With().Str("component", "httpapi").Logger())
	mux := http.NewServeMux()
	mux.Handle("/ws", wsManager)
	mux.Handle("/metrics", promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}))
	mux.Handle("/", apiServer.Router())

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("forgeflowd: listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("forgeflowd: shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("forgeflowd: error during shutdown")
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("forgeflowd: server error")
		}
	}
}

// openStores constructs the Workflow Store and Checkpoint Store for the
// configured backend. Both share one DSN/path: for SQLite and MySQL
// they live in the same database under distinct table sets, so a single
// connection string suffices.
func openStores(cfg config.Config) (workflowstore.Store, gstore.Store[domain.ExecutionState], error) {
	switch cfg.Storage {
	case config.BackendMemory:
		return workflowstore.NewMemStore(), gstore.NewMemStore[domain.ExecutionState](), nil
	case config.BackendSQLite:
		ws, err := workflowstore.NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow store: %w", err)
		}
		cs, err := gstore.NewSQLiteStore[domain.ExecutionState](cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("checkpoint store: %w", err)
		}
		return ws, cs, nil
	case config.BackendMySQL:
		ws, err := workflowstore.NewMySQLStore(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("workflow store: %w", err)
		}
		cs, err := gstore.NewMySQLStore[domain.ExecutionState](cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("checkpoint store: %w", err)
		}
		return ws, cs, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

// buildDriver selects the Driver implementation for role ("architect" or
// "reviewer") from FORGEFLOW_<ROLE>_PROVIDER plus the matching API key
// environment variable, falling back to a deterministic mock driver when
// no provider is configured so forgeflowd still starts in development.
func buildDriver(role string) (driver.Driver, error) {
	prefix := "FORGEFLOW_" + strings.ToUpper(role)
	provider := os.Getenv(prefix + "_PROVIDER")
	switch provider {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for provider anthropic")
		}
		return anthropic.New(apiKey, os.Getenv(prefix+"_MODEL"), role), nil
	case "google":
		apiKey := os.Getenv("GOOGLE_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY is required for provider google")
		}
		return google.New(apiKey, os.Getenv(prefix+"_MODEL"), role), nil
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for provider openai")
		}
		return openai.New(apiKey, os.Getenv(prefix+"_MODEL"), role), nil
	default:
		return mock.New(role, "mock response"), nil
	}
}
