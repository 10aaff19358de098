package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"quizora/internal/bootstrap"
	"quizora/internal/http/handlers"
	httpapi "quizora/internal/http/httpapi"
	"quizora/internal/infra"
	"quizora/internal/infra/credentials"
	"quizora/internal/infra/geoip"
	"quizora/internal/infra/notify"
	"quizora/internal/ledger"
	"quizora/internal/middleware"
	"quizora/internal/providers/genai"
	"quizora/internal/storage"
	"quizora/internal/tutor"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.OpenLedger(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open ledger")
	}
	defer stack.Close()

	var credStore *credentials.Store
	if stack.Runner != nil {
		credStore = credentials.NewStore(stack.Runner)
	}
	apiKey, err := credStore.ResolveGeminiAPIKey(ctx, cfg.GeminiAPIKey)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load gemini api key from store")
	}
	gemini := genai.NewClient(genai.Options{
		APIKey:  apiKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Logger:  &logger,
	})
	if gemini.Synthetic() {
		logger.Warn().Str("model", gemini.Model()).Msg("gemini api key missing, answers are synthetic")
	}

	files, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure attachment storage")
	}

	geo, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer geo.Close()

	var limiter middleware.Limiter = middleware.NewMemoryLimiter(cfg.RateLimitPerMin, time.Minute)
	if cfg.RedisURL != "" {
		rdb, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		limiter = middleware.NewRedisLimiter(rdb, cfg.RateLimitPerMin, time.Minute)
	}

	if cfg.UsesPostgres() {
		listener := notify.NewBalanceListener(cfg.DatabaseURL, stack.Service.Cache(), logger)
		go func() {
			if err := listener.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("balance listener stopped; cached balances may go stale")
			}
		}()
	} else {
		// No worker shares the in-memory ledger, so sweep in-process.
		sched, err := bootstrap.NewSweepScheduler(ctx, cfg.SweepSchedule, ledger.NewSweeper(stack.Service), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to schedule sweeper")
		}
		sched.Start()
		defer sched.Stop()
	}

	app := handlers.NewApp(stack.Service, stack.History, tutor.New(stack.Service, stack.History, gemini, files, logger), logger)
	app.Ready = stack.Ready
	app.Files = files

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:        logger,
		JWTSecret:     cfg.JWTSecret,
		CORSOrigins:   cfg.CORSAllowedOrigins,
		Limiter:       limiter,
		CountryLookup: geo.Lookup(),
	})
	server := infra.NewHTTPServer(cfg, router, logger)

	go func() {
		logger.Info().Str("driver", cfg.LedgerDriver).Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
