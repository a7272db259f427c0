package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/AlexKimmel/courtgate/internal/config"
	"github.com/AlexKimmel/courtgate/internal/obs"
	"github.com/AlexKimmel/courtgate/internal/ratelimit/memory"
	"github.com/AlexKimmel/courtgate/internal/ratelimit/stats"
)

const version = "v0.1.0"

type CLI struct {
	Config   string `help:"Path to the YAML config file." default:"./config.yaml" env:"COURTGATE_CONFIG"`
	LogLevel string `help:"Overrides observability.log_level." env:"COURTGATE_LOG_LEVEL"`
	EnvFile  string `help:"Dotenv file loaded before the config is expanded." default:".env" name:"env-file"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("courtgate"),
		kong.Description("Admission gateway for the club assistant"),
		kong.UsageOnError(),
	)

	if err := godotenv.Load(cli.EnvFile); err != nil && !os.IsNotExist(err) {
		bootLogger := obs.SetupLogger("info")
		bootLogger.Fatal().Err(err).Str("path", cli.EnvFile).Msg("load env file")
	}

	cfg, err := config.Load(cli.Config)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		bootLogger := obs.SetupLogger("info")
		bootLogger.Fatal().Err(err).Str("path", cli.Config).Msg("load config")
	}
	if cli.LogLevel != "" {
		cfg.Observability.LogLevel = cli.LogLevel
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)

	// limiter
	background := cfg.Limits.SweepMode == config.SweepBackground
	lim := memory.New(time.Now(),
		memory.WithInlineSweep(!background),
		memory.WithSweepHook(metrics.OnSweep),
	)
	defer func() { _ = lim.Close() }()
	if background {
		lim.StartSweeper(ctx)
	}
	obs.RegisterTableSize(reg, lim.Len)

	var rec stats.Recorder = stats.Nop{}
	if cfg.Stats.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Stats.RedisAddr,
			Password: cfg.Stats.Password,
			DB:       cfg.Stats.DB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.Stats.RedisAddr).Msg("redis stats ping")
		}

		rec = stats.NewRedis(rdb,
			stats.WithPrefix(cfg.Stats.Prefix),
			stats.WithTTL(cfg.Stats.TTL()),
			stats.WithTrackKeys(cfg.Stats.TrackKeys),
		)
	}

	handler, err := newHandler(cfg, logger, reg, metrics, lim, rec)
	if err != nil {
		logger.Fatal().Err(err).Msg("build routes")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	logger.Info().
		Str("addr", srv.Addr).
		Int("routes", len(cfg.Routes)).
		Str("sweep_mode", cfg.Limits.SweepMode).
		Bool("stats", cfg.Stats.Enabled).
		Msg("listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	logger.Info().Msg("bye")
}
