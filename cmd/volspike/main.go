package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Alias1177/VolumeSpike/internal/alert"
	"github.com/Alias1177/VolumeSpike/internal/api/oanda"
	"github.com/Alias1177/VolumeSpike/internal/baseline"
	"github.com/Alias1177/VolumeSpike/internal/config"
	"github.com/Alias1177/VolumeSpike/internal/engine"
	"github.com/Alias1177/VolumeSpike/internal/notify"
	"github.com/Alias1177/VolumeSpike/internal/render"
	"github.com/Alias1177/VolumeSpike/internal/server"
	"github.com/Alias1177/VolumeSpike/internal/storage"
	"github.com/Alias1177/VolumeSpike/models"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle, print the report and exit")
	flag.Parse()

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// 2. Configure logging
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	log.Info().Msg("Starting VolumeSpike")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	printConfig(cfg)

	// 3. Alert state
	store, closer, err := storage.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open alert state store")
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close alert state store")
		}
	}()

	// 4. Candle source, baselines and notifier
	client := oanda.NewClient(oanda.ClientOptions{
		APIKey:         cfg.OandaAPIKey,
		AccountID:      cfg.OandaAccountID,
		BaseURL:        cfg.OandaBaseURL,
		RequestTimeout: cfg.RequestTimeout,
		RequestsPerSec: cfg.RequestsPerSec,
		MaxRetries:     cfg.MaxRetries,
	})
	estimator := baseline.NewEstimator(client, baseline.Options{
		LookbackDays: cfg.LookbackDays,
		Location:     cfg.Location,
	})

	notifier, err := setupNotifier(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up notifier")
	}

	eng := engine.New(client, estimator, alert.NewDeduplicator(store, cfg.Location), notifier, engine.Options{
		Location:      cfg.Location,
		RecentCandles: cfg.RecentCandles,
	})
	settings := engine.NewSettingsHolder(cfg.Settings)

	if *once {
		report, err := eng.RunCycle(ctx, settings.Get(), time.Now())
		if err != nil {
			log.Fatal().Err(err).Msg("Evaluation cycle failed")
		}
		fmt.Println(render.Report(report))
		return
	}

	// 5. Scheduler and optional HTTP surface
	publishers := []engine.Publisher{engine.PublisherFunc(logReport)}
	var srv *server.Server
	if cfg.HTTPAddr != "" {
		srv = server.New(cfg.HTTPAddr, settings, nil)
		publishers = append(publishers, srv)
	}

	runner := engine.NewRunner(eng, settings, publishers...)
	if srv != nil {
		srv.SetCycler(runner)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	if srv != nil {
		g.Go(func() error { return srv.Start(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Stopped with error")
		return
	}
	log.Info().Msg("VolumeSpike stopped")
}

// setupSignalHandling cancels the root context on SIGINT or SIGTERM
func setupSignalHandling(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Info().Msg("Shutdown signal received, stopping...")
		cancel()
	}()
}

// setupLogging configures the logger
func setupLogging(logLevel, format string) {
	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func setupNotifier(cfg *config.Config) (models.Notifier, error) {
	if cfg.TelegramToken == "" {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, alerts are only logged")
		return notify.NewLog(), nil
	}
	return notify.NewTelegram(notify.TelegramOptions{
		Token:   cfg.TelegramToken,
		ChatID:  cfg.TelegramChatID,
		Timeout: cfg.RequestTimeout,
	})
}

// printConfig outputs the current configuration
func printConfig(cfg *config.Config) {
	log.Info().
		Strs("Instruments", cfg.Settings.Instruments).
		Int("BucketMinutes", cfg.Settings.BucketMinutes).
		Float64("Multiplier", cfg.Settings.Multiplier).
		Dur("RefreshInterval", cfg.Settings.RefreshInterval).
		Bool("AlertsEnabled", cfg.Settings.AlertsEnabled).
		Str("Timezone", cfg.Timezone).
		Int("LookbackDays", cfg.LookbackDays).
		Str("StateBackend", cfg.StateBackend).
		Str("HTTPAddr", cfg.HTTPAddr).
		Msg("Configuration loaded")
}

func logReport(r *models.Report) {
	event := log.Info().
		Str("cycle_id", r.CycleID.String()).
		Int("instruments", len(r.Instruments)).
		Int("warnings", len(r.Warnings))
	for _, w := range r.Warnings {
		log.Warn().Str("cycle_id", r.CycleID.String()).Msg(w)
	}
	event.Msg(render.Banner(r))

	if e := log.Debug(); e.Enabled() {
		e.Msg("\n" + render.Report(r))
	}
}
