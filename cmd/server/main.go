// Snaplist - photo-to-listing marketplace assistant server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/snaplist/internal/api"
	"github.com/ashureev/snaplist/internal/chat"
	"github.com/ashureev/snaplist/internal/config"
	"github.com/ashureev/snaplist/internal/healthcheck"
	"github.com/ashureev/snaplist/internal/identity"
	"github.com/ashureev/snaplist/internal/listing"
	"github.com/ashureev/snaplist/internal/llm"
	"github.com/ashureev/snaplist/internal/middleware"
	"github.com/ashureev/snaplist/internal/pricing"
	"github.com/ashureev/snaplist/internal/realtime"
	"github.com/ashureev/snaplist/internal/session"
	"github.com/ashureev/snaplist/internal/store"
	"github.com/ashureev/snaplist/internal/vision"
)

const (
	sweepInterval  = time.Minute
	healthInterval = 15 * time.Second
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if lvl, err := config.ParseLogLevel(cfg.LogLevel); err == nil {
		level.Set(lvl)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("OPENAI_API_KEY is not set, model calls will fail and turns will apologize")
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	policy, err := session.ParsePolicy(cfg.MissingSessionPolicy)
	if err != nil {
		slog.Error("Invalid session policy", "error", err)
		os.Exit(1)
	}
	sessions := session.NewStore(policy, logger)

	modelCfg := llm.Config{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIChatModel,
		MaxTokens:   cfg.OpenAIMaxTokens,
		Temperature: float64(cfg.OpenAITemperature),
		Timeout:     cfg.OpenAITimeout,
	}
	chatModel := llm.NewOpenAIModel(modelCfg, logger)

	visionCfg := modelCfg
	visionCfg.Model = cfg.OpenAIVisionModel
	analyzer := vision.NewOpenAIAnalyzer(visionCfg, logger)

	estimatorCfg := modelCfg
	estimatorCfg.Model = cfg.OpenAIEstimatorModel
	estimator := pricing.NewModelEstimator(llm.NewOpenAIModel(estimatorCfg, logger), logger)

	prices, err := newPriceSearcher(cfg, estimator, logger)
	if err != nil {
		slog.Error("Failed to initialize price research", "error", err)
		os.Exit(1)
	}

	transcript, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:   cfg.ConversationLogEnabled,
		Dir:       cfg.ConversationLogDir,
		QueueSize: cfg.ConversationLogQueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcript.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	chatService, err := chat.NewService(chat.Deps{
		Sessions:   sessions,
		Engine:     listing.NewEngine(chatModel, logger),
		Listings:   repo,
		Prices:     prices,
		Analyzer:   analyzer,
		Transcript: transcript,
		Logger:     logger,
	})
	if err != nil {
		slog.Error("Failed to initialize chat service", "error", err)
		os.Exit(1)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	conns := realtime.NewConnManager()

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, chatService, api.Options{
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Limiter:        limiter,
		Logger:         logger,
	})
	wsHandler := realtime.NewHandler(chatService, conns, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	r.Handle("/metrics", promhttp.Handler())

	// Everything else carries the anonymous seller identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/sessions/{id}", wsHandler.ServeHTTP)
	})

	// Create server.
	// WriteTimeout stays 0 so model-backed turns and sockets are not cut off.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background workers.
	limiter.StartEviction(ctx)
	if cfg.SessionIdleTTL > 0 {
		sessions.StartSweeper(ctx, sweepInterval, cfg.SessionIdleTTL, nil)
	}

	var health *healthcheck.Server
	if cfg.GRPCHealthPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCHealthPort)
		if err != nil {
			slog.Error("Failed to listen for gRPC health", "error", err)
			os.Exit(1)
		}
		health = healthcheck.NewServer(repo.Ping, logger)
		go health.Run(ctx, healthInterval)
		go func() {
			if err := health.Serve(lis); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conns.CloseAll()
	if health != nil {
		health.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// newPriceSearcher assembles the research pipeline: Amazon and eBay in
// parallel, AliExpress on its shorter timeout, then the model estimate and
// the comparison sites as fallbacks, behind the result cache unless its size
// is zero.
func newPriceSearcher(cfg *config.Config, estimator pricing.Source, logger *slog.Logger) (chat.PriceSearcher, error) {
	var primary, fallbacks []pricing.Entry
	if cfg.PricingScrapersEnabled {
		fetcher := pricing.NewFetcher(cfg.PricingSourceTimeout)
		primary = []pricing.Entry{
			{Source: pricing.NewAmazon(fetcher), Timeout: cfg.PricingSourceTimeout},
			{Source: pricing.NewEbay(fetcher), Timeout: cfg.PricingSourceTimeout},
			{Source: pricing.NewAliExpress(fetcher), Timeout: cfg.PricingSlowSourceTimeout},
		}
		fallbacks = append(fallbacks, pricing.Entry{Source: estimator, Timeout: cfg.PricingEstimatorTimeout})
		comparators := pricing.NewGroup("comparators", cfg.PricingComparatorTimeout,
			[]pricing.Source{pricing.NewPriceGrabber(fetcher), pricing.NewShoppingCom(fetcher)}, logger)
		fallbacks = append(fallbacks, pricing.Entry{Source: comparators, Timeout: cfg.PricingComparatorTimeout})
	} else {
		fallbacks = append(fallbacks, pricing.Entry{Source: estimator, Timeout: cfg.PricingEstimatorTimeout})
	}

	agg := pricing.NewAggregator(pricing.Config{
		SourceTimeout:   cfg.PricingSourceTimeout,
		Ceiling:         cfg.PricingSearchCeiling,
		MaxResults:      cfg.PricingMaxResults,
		BreakerFailures: cfg.PricingBreakerFailures,
		BreakerCooldown: cfg.PricingBreakerCooldown,
	}, primary, fallbacks, logger)

	if cfg.PricingCacheSize == 0 {
		return agg, nil
	}
	cache, err := pricing.NewCache(agg, cfg.PricingCacheSize, cfg.PricingCacheTTL)
	if err != nil {
		return nil, err
	}
	return cache, nil
}
