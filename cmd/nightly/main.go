package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/finvault/portfolio-ledger/config"
	"github.com/finvault/portfolio-ledger/data"
	"github.com/finvault/portfolio-ledger/data/cache"
	"github.com/finvault/portfolio-ledger/data/repository/postgres"
	"github.com/finvault/portfolio-ledger/internal/externalApi/cloudStorageApi/googleDriveApi"
	"github.com/finvault/portfolio-ledger/internal/externalApi/fxApi"
	"github.com/finvault/portfolio-ledger/internal/reportGenerator/xlsxGenerator"
	"github.com/finvault/portfolio-ledger/internal/scheduler"
	"github.com/finvault/portfolio-ledger/internal/service/ledgerService"
	"github.com/finvault/portfolio-ledger/internal/service/nightlyService"
	"github.com/finvault/portfolio-ledger/internal/service/performanceService"
)

func main() {
	cfg := config.MustLoad()

	setupLogger(cfg)

	slog.Debug("config", slog.Any("cfg", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgClient := data.NewPostgresClient(cfg)
	defer pgClient.Close()

	pgRepo := postgres.NewPostgres(cfg, pgClient)

	redisClient := data.NewRedisClient(cfg)
	defer redisClient.Close()

	redisCache := cache.NewRedisCache(redisClient, cfg)

	fxApiClient := fxApi.New(cfg)

	ledgerSrv := ledgerService.New(cfg, pgRepo, redisCache, fxApiClient)
	performanceSrv := performanceService.New(cfg, pgRepo, redisCache)

	reportGenerator := xlsxGenerator.New()
	googleCloudStorage := googleDriveApi.New(ctx, cfg)

	nightlySrv := nightlyService.New(ledgerSrv, performanceSrv, reportGenerator, googleCloudStorage)

	sched := scheduler.New()
	sched.NewCrontabJob("nightly metrics", nightlySrv.Run, cfg.Jobs.NightlyMetricsCrontab, false)
	sched.Start()
	defer sched.Stop()

	// Waiting interruption signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-interrupt
}

func setupLogger(cfg *config.Config) {
	var logLevel slog.Level

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)
}
