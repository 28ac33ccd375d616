// Command moxie runs the mixture-of-experts orchestration server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	mxhttp "github.com/calier/moxie/internal/adapter/http"
	"github.com/calier/moxie/internal/adapter/httpexpert"
	"github.com/calier/moxie/internal/adapter/litellm"
	"github.com/calier/moxie/internal/adapter/mcp"
	mxnats "github.com/calier/moxie/internal/adapter/nats"
	"github.com/calier/moxie/internal/adapter/natskv"
	"github.com/calier/moxie/internal/adapter/otel"
	"github.com/calier/moxie/internal/adapter/postgres"
	"github.com/calier/moxie/internal/adapter/ristretto"
	"github.com/calier/moxie/internal/adapter/tiered"
	"github.com/calier/moxie/internal/adapter/ws"
	"github.com/calier/moxie/internal/config"
	"github.com/calier/moxie/internal/domain/expert"
	"github.com/calier/moxie/internal/domain/orchestration"
	"github.com/calier/moxie/internal/logger"
	"github.com/calier/moxie/internal/port/cache"
	"github.com/calier/moxie/internal/port/specialist"
	"github.com/calier/moxie/internal/port/tracesink"
	"github.com/calier/moxie/internal/resilience"
	"github.com/calier/moxie/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLogger := logger.New(cfg.Logging)
	defer closeLogger.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"strategy", cfg.Router.Strategy,
		"specialists", len(cfg.Specialists),
		"cache_enabled", cfg.Cache.Enabled,
	)

	ctx := context.Background()

	shutdownOtel, err := otel.Init(ctx, cfg.Otel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOtel(shutdownCtx)
	}()

	// --- Infrastructure (postgres and NATS are both optional) ---

	var sinks tracesink.Multi
	var traces mxhttp.TraceReader

	if cfg.Postgres.DSN != "" {
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns, cfg.Postgres.MinConns)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		store := postgres.NewTraceStore(pool)
		sinks = append(sinks, store)
		traces = store
		slog.Info("postgres trace store ready")
	}

	var natsConn *mxnats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = mxnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = natsConn.Close() }()
		sinks = append(sinks, mxnats.NewTraceSink(natsConn))
		slog.Info("nats trace sink ready")
	}

	if metrics, err := otel.NewMetrics(); err != nil {
		slog.Warn("metrics sink unavailable", "error", err)
	} else {
		sinks = append(sinks, metrics)
	}

	// --- Providers ---

	llm := litellm.NewClient(litellm.Options{
		BaseURL:         cfg.LiteLLM.URL,
		APIKey:          cfg.LiteLLM.APIKey,
		Timeout:         cfg.LiteLLM.Timeout,
		SynthesisModel:  cfg.LiteLLM.SynthesisModel,
		ClassifierModel: cfg.LiteLLM.ClassifierModel,
		EmbeddingModel:  cfg.LiteLLM.EmbeddingModel,
	})
	llm.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Services ---

	registry := expert.NewRegistry()
	routerSvc := service.NewRouterService(registry, llm, llm, &cfg.Router)

	invokers, deps, err := buildSpecialists(ctx, cfg, routerSvc)
	if err != nil {
		return fmt.Errorf("specialists: %w", err)
	}

	limiter := resilience.NewProviderLimiter(cfg.Providers.Limits, cfg.Providers.RatePerSecond, cfg.Providers.DefaultLimit)
	executorSvc := service.NewExecutorService(registry, invokers, limiter, &cfg.Executor)
	if err := executorSvc.SetDependencies(deps); err != nil {
		return fmt.Errorf("dependencies: %w", err)
	}

	detector, err := service.NewConflictDetector(cfg.Aggregator.ConflictDetection)
	if err != nil {
		return fmt.Errorf("conflict detector: %w", err)
	}
	aggregatorSvc := service.NewAggregatorService(llm, detector, &cfg.Aggregator)

	var cacheSvc *service.SemanticCacheService
	if cfg.Cache.Enabled {
		exact, cleanup, err := buildExactTier(ctx, cfg, natsConn)
		if err != nil {
			return fmt.Errorf("cache tiers: %w", err)
		}
		defer cleanup()
		cacheSvc = service.NewSemanticCacheService(llm, exact, &cfg.Cache)
	}

	orchestratorSvc := service.NewOrchestratorService(routerSvc, executorSvc, aggregatorSvc, cacheSvc, sinks, &cfg.Cache)

	// --- HTTP ---

	streamHandler := ws.NewHandler(orchestratorSvc)
	handlers := &mxhttp.Handlers{
		Orchestrator: orchestratorSvc,
		Router:       routerSvc,
		Cache:        cacheSvc,
		Limiter:      limiter,
		Traces:       traces,
		Stream:       streamHandler.HandleStream,
		Backends: map[string]bool{
			"postgres": traces != nil,
			"nats":     natsConn != nil,
			"cache":    cacheSvc != nil,
		},
	}

	r := chi.NewRouter()
	r.Use(mxhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(mxhttp.RequestID)
	r.Use(mxhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	mxhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(r, "moxie.http"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildSpecialists constructs one invoker per configured specialist,
// registers each with the router (computing capability embeddings) and
// collects the declared dependency graph.
func buildSpecialists(ctx context.Context, cfg *config.Config, router *service.RouterService) (map[string]specialist.Invoker, orchestration.Dependencies, error) {
	invokers := make(map[string]specialist.Invoker, len(cfg.Specialists))
	deps := make(orchestration.Dependencies)

	for _, def := range cfg.Specialists {
		var inv specialist.Invoker
		switch def.Kind {
		case "http":
			inv = httpexpert.NewInvoker(def.URL, cfg.Executor.CallTimeout)
		case "mcp":
			mcpInv, err := mcp.NewInvoker(ctx, mcp.ServerDef{
				Transport: def.Transport,
				URL:       def.Endpoint,
				Command:   def.Command,
				Args:      def.Args,
			}, def.Tool)
			if err != nil {
				return nil, nil, fmt.Errorf("mcp specialist %s: %w", def.Name, err)
			}
			inv = mcpInv
		default:
			return nil, nil, fmt.Errorf("specialist %s: unknown kind %q", def.Name, def.Kind)
		}

		if err := router.RegisterAgent(ctx, &expert.Specialist{
			Name:     def.Name,
			Provider: def.Provider,
			Tags:     def.Tags,
		}); err != nil {
			return nil, nil, err
		}
		invokers[def.Name] = inv
		if len(def.DependsOn) > 0 {
			deps[def.Name] = def.DependsOn
		}
	}
	return invokers, deps, nil
}

// buildExactTier assembles the exact-match cache: an in-process ristretto
// L1, layered over a NATS KV L2 when NATS is connected.
func buildExactTier(ctx context.Context, cfg *config.Config, natsConn *mxnats.Conn) (cache.Cache, func(), error) {
	l1, err := ristretto.New(cfg.Cache.L1MaxEntries)
	if err != nil {
		return nil, nil, fmt.Errorf("ristretto: %w", err)
	}
	if natsConn == nil {
		return l1, l1.Close, nil
	}

	kv, err := natsConn.KeyValue(ctx, cfg.NATS.CacheBucket, cfg.NATS.CacheTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("nats kv: %w", err)
	}
	return tiered.New(l1, natskv.New(kv), cfg.Cache.TTL), l1.Close, nil
}
