package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"quizora/internal/bootstrap"
	"quizora/internal/infra"
	"quizora/internal/ledger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel).With().Str("component", "worker").Logger()
	if !cfg.UsesPostgres() {
		logger.Fatal().Msg("worker: the sweeper needs LEDGER_DRIVER=postgres; the API sweeps the memory ledger itself")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := bootstrap.OpenLedger(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to open ledger")
	}
	defer stack.Close()

	sweeper := ledger.NewSweeper(stack.Service)
	sched, err := bootstrap.NewSweepScheduler(ctx, cfg.SweepSchedule, sweeper, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: invalid sweep schedule")
	}

	// Recover leftovers from a crash before waiting for the first tick.
	bootstrap.RunSweep(ctx, sweeper, logger)

	sched.Start()
	logger.Info().Str("schedule", cfg.SweepSchedule).Msg("worker: started")
	<-ctx.Done()

	<-sched.Stop().Done()
	logger.Info().Msg("worker: stopped")
}
