package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/sweeney/home-dashboard/internal/config"
	"github.com/sweeney/home-dashboard/internal/dashboard"
	"github.com/sweeney/home-dashboard/internal/gpio"
	"github.com/sweeney/home-dashboard/internal/history"
	"github.com/sweeney/home-dashboard/internal/logging"
	"github.com/sweeney/home-dashboard/internal/metrics"
	"github.com/sweeney/home-dashboard/internal/mqtt"
	"github.com/sweeney/home-dashboard/internal/presence"
	"github.com/sweeney/home-dashboard/internal/status"
	"github.com/sweeney/home-dashboard/internal/weather"
	"github.com/sweeney/home-dashboard/internal/web"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	return serve(cmd.Context(), cfg, logger, sigCh)
}

func serve(parent context.Context, cfg *config.Config, logger *slog.Logger, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	start := time.Now()
	loc := cfg.TimeLocation()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tracker := status.NewTracker(start, loc, statusConfig(cfg))

	b, err := openBackends(ctx, cfg, tracker, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	source, err := b.source(cfg.DeviceSource)
	if err != nil {
		return err
	}
	dispatcher, err := b.dispatcher(cfg.CommandChannel)
	if err != nil {
		return err
	}

	if cfg.Weather.APIKey == "" {
		logger.Warn("no weather API key, fallback will serve defaults")
	}
	wc := weather.NewClient(cfg.Weather.APIKey,
		weather.WithBaseURL(cfg.Weather.APIBase),
		weather.WithTimeout(cfg.FetchTimeout),
	)
	cache := weather.NewCache(wc, cfg.Location, cfg.Weather.CacheTTL, weather.WithObserver(m))

	var recorder history.Recorder = history.NewMemory(200)
	if cfg.PostgresURL != "" {
		pg, pool, err := history.Connect(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		recorder = pg
		logger.Info("recording history to postgres")
	}

	indicator, err := gpio.Open(cfg.Indicator.Chip, cfg.Indicator.Pin)
	if err != nil {
		logger.Warn("indicator unavailable", "pin", cfg.Indicator.Pin, "error", err)
		indicator = gpio.Nop{}
	}
	defer indicator.Close()

	publisher := b.publisher()
	svc := dashboard.New(dashboard.Deps{
		Source:          source,
		Dispatcher:      dispatcher,
		Weather:         cache,
		Evaluator:       presence.NewEvaluator(cfg.OnlineThreshold, loc),
		Tracker:         tracker,
		Publisher:       publisher,
		History:         recorder,
		Indicator:       indicator,
		Metrics:         m,
		Logger:          logger,
		PollInterval:    cfg.PollInterval,
		PresenceTimeout: cfg.PresenceTimeout,
		FetchTimeout:    cfg.FetchTimeout,
	})

	if publisher != nil {
		ev := mqtt.SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true}
		if err := publisher.PublishSystem(ev); err != nil {
			logger.Warn("publish startup event failed", "error", err)
		}
	}

	srv := web.New(cfg.HTTPAddr, svc, web.WithMetrics(m), web.WithLogger(logger))
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	polled := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(polled)
	}()

	logger.Info("started",
		"http", cfg.HTTPAddr,
		"source", cfg.DeviceSource,
		"channel", cfg.CommandChannel,
		"poll", cfg.PollInterval,
		"threshold", cfg.OnlineThreshold,
		"city", cfg.Location.City,
	)

	var reason string
	var runErr error
	select {
	case s := <-sig:
		reason = signalName(s)
		logger.Info("shutting down", "signal", reason)
	case err := <-srvErr:
		reason = "HTTP_ERROR"
		runErr = fmt.Errorf("http server: %w", err)
	case <-parent.Done():
		reason = "CONTEXT_DONE"
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err)
	}
	<-polled

	if publisher != nil {
		ev := mqtt.SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN", Reason: reason, Retained: true}
		if err := publisher.PublishSystem(ev); err != nil {
			logger.Warn("publish shutdown event failed", "error", err)
		}
	}
	return runErr
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}
