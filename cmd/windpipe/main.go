package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ctaque/weather-app-challenge-sub001/internal/api"
	"github.com/ctaque/weather-app-challenge-sub001/internal/cache/artifactstore"
	"github.com/ctaque/weather-app-challenge-sub001/internal/cache/redisstore"
	"github.com/ctaque/weather-app-challenge-sub001/internal/core/config"
	"github.com/ctaque/weather-app-challenge-sub001/internal/core/httpclient"
	"github.com/ctaque/weather-app-challenge-sub001/internal/core/observability"
	"github.com/ctaque/weather-app-challenge-sub001/internal/core/server"
	"github.com/ctaque/weather-app-challenge-sub001/internal/health"
	"github.com/ctaque/weather-app-challenge-sub001/internal/logger"
	"github.com/ctaque/weather-app-challenge-sub001/internal/metrics"
	"github.com/ctaque/weather-app-challenge-sub001/internal/notify"
	"github.com/ctaque/weather-app-challenge-sub001/internal/opendap"
	"github.com/ctaque/weather-app-challenge-sub001/internal/scheduler"
	"github.com/ctaque/weather-app-challenge-sub001/internal/windgrid"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "windpipe",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	prov := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version:   os.Getenv("BUILD_VERSION"),
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(prov.Registerer())
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting windpipe",
		"addr", cfg.Addr,
		"version", Version,
		"redis", cfg.RedisAddr,
		"opendap", cfg.OpenDAPURL,
		"region", cfg.Region)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rds, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		appLog.Error("redis unavailable", "addr", cfg.RedisAddr, "err", err)
		return 1
	}
	defer func() { _ = rds.Close() }()

	store := artifactstore.New(rds,
		artifactstore.WithTTL(cfg.CacheTTL),
		artifactstore.WithMaxValueBytes(cfg.MaxValueBytes),
		artifactstore.WithMaxHistory(cfg.MaxHistory),
		artifactstore.WithLogger(appLog),
	)

	fetcher := opendap.New(cfg.OpenDAPURL, httpclient.NewOutbound(cfg.FetchTimeout), appLog)

	notifier, err := notify.New(notify.Config{
		Enabled: cfg.Notify.Enabled,
		Brokers: cfg.Notify.Brokers,
		Topic:   cfg.Notify.Topic,
	}, appLog)
	if err != nil {
		appLog.Error("notifier setup failed", "err", err)
		return 1
	}
	defer func() { _ = notifier.Close() }()

	bounds := windgrid.Bounds{
		LatMin: cfg.LatMin,
		LatMax: cfg.LatMax,
		LonMin: cfg.LonMin,
		LonMax: cfg.LonMax,
	}
	sched := scheduler.New(appLog, fetcher, store, bounds, cfg.Region,
		scheduler.WithPollInterval(cfg.PollInterval),
		scheduler.WithBackfillSleep(cfg.BackfillSleep),
		scheduler.WithNotifier(notifier),
	)
	go func() {
		if err := sched.Run(ctx, cfg.BackfillOnStart); err != nil {
			appLog.Error("scheduler exited", "err", err)
		}
	}()

	h := api.New(appLog, store, sched)
	if err := server.Run(ctx, cfg, appLog, h, prov, health.Readiness(rds.Ping)); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
