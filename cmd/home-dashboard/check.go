package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/home-dashboard/internal/config"
	"github.com/sweeney/home-dashboard/internal/dashboard"
	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/logging"
	"github.com/sweeney/home-dashboard/internal/presence"
	"github.com/sweeney/home-dashboard/internal/scheduler"
	"github.com/sweeney/home-dashboard/internal/status"
	"github.com/sweeney/home-dashboard/internal/weather"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Poll the device once and print presence and reading as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return check(cmd.Context(), cfg, cmd.OutOrStdout(), time.Now)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// checkResult is what the check command prints.
type checkResult struct {
	Source     string                  `json:"source"`
	Reachable  *bool                   `json:"reachable,omitempty"`
	Connection presence.ConnectionInfo `json:"connection"`
	Reading    *device.SensorReading   `json:"reading,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// check runs one full dashboard tick against the configured backends and
// prints what it saw.
func check(ctx context.Context, cfg *config.Config, out io.Writer, now func() time.Time) error {
	logger := logging.Discard()
	loc := cfg.TimeLocation()
	tracker := status.NewTracker(now(), loc, statusConfig(cfg))
	tracker.SetClock(now)

	b, err := openBackends(ctx, cfg, tracker, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	src, err := b.source(cfg.DeviceSource)
	if err != nil {
		return err
	}
	disp, err := b.dispatcher(cfg.CommandChannel)
	if err != nil {
		return err
	}

	res := checkResult{Source: cfg.DeviceSource}
	if hc, ok := src.(*device.HTTPClient); ok {
		reachable := hc.Ping(ctx) == nil
		res.Reachable = &reachable
	}

	wc := weather.NewClient(cfg.Weather.APIKey,
		weather.WithBaseURL(cfg.Weather.APIBase),
		weather.WithTimeout(cfg.FetchTimeout),
	)
	svc := dashboard.New(dashboard.Deps{
		Source:          src,
		Dispatcher:      disp,
		Weather:         weather.NewCache(wc, cfg.Location, cfg.Weather.CacheTTL, weather.WithClock(now)),
		Evaluator:       presence.NewEvaluator(cfg.OnlineThreshold, loc),
		Tracker:         tracker,
		Logger:          logger,
		PresenceTimeout: cfg.PresenceTimeout,
		FetchTimeout:    cfg.FetchTimeout,
		Now:             now,
	})
	if err := svc.PollOnce(ctx, scheduler.ModeFull); err != nil {
		res.Error = err.Error()
	}
	res.Connection = svc.ConnectionInfo()
	if sensors := svc.Sensors(); sensors != nil {
		res.Reading = &sensors.SensorReading
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
