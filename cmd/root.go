// Package cmd is the flag-based CLI: mode selection, option parsing, the
// writer lock, and process exit codes.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/ftahirops/streamvis/config"
	"github.com/ftahirops/streamvis/engine"
	"github.com/ftahirops/streamvis/metrics"
	"github.com/ftahirops/streamvis/model"
	"github.com/ftahirops/streamvis/state"
	"github.com/ftahirops/streamvis/ui"
	"github.com/ftahirops/streamvis/util"
)

// Version is set at build time via ldflags.
var Version = "0.3.0"

func printUsage() {
	fmt.Fprintf(os.Stderr, `streamvis v%s — polite adaptive poller for river-gauge telemetry

Usage:
  streamvis [OPTIONS]

Modes:
  -mode tui         Interactive TUI (default; bubbletea, fullscreen)
  -mode adaptive    Headless poll loop, state file only
  -mode once        Single fetch, table to stdout, then exit
  -version          Print version and exit

Options:
  -state-file PATH        State document path (default: ~/.streamvis_state.json)
  -min-retry-seconds N    Error backoff floor (default: 60)
  -max-retry-seconds N    Error backoff ceiling (default: 300)
  -backfill-hours N       History lookback on startup, 0 disables (default: 6)
  -usgs-backend NAME      blended | legacy | modern (default: blended)
  -forecast-base URL      Overlay source template ({gauge_id},{site_no},{nws_lid})
  -forecast-hours N       Overlay trim horizon (default: 72)
  -community-base URL     Priors aggregator base URL
  -community-publish      Publish latency samples to the aggregator
  -nearby                 Track gauges near -lat/-lon
  -lat F, -lon F          Coordinates for -nearby
  -radius-miles F         Initial nearby search radius (default: 30)
  -ui-tick-sec F          TUI refresh period (default: 0.15)
  -chart-metric NAME      stage | flow (default: stage)
  -metrics-addr ADDR      Serve Prometheus metrics on ADDR (off by default)
  -debug                  Verbose logging

Environment:
  STREAMVIS_* variables (optionally via .env) supply defaults; flags win.

Exit codes:
  0 success · 1 runtime failure · 2 state file already locked
`, Version)
}

// Execute parses flags and runs the selected mode. The return value is the
// process exit code.
func Execute() int {
	opts := config.Default()
	config.ApplyEnv(&opts)

	var showVersion bool
	flag.Usage = printUsage
	flag.StringVar(&opts.Mode, "mode", opts.Mode, "")
	flag.StringVar(&opts.StateFile, "state-file", opts.StateFile, "")
	flag.IntVar(&opts.MinRetrySeconds, "min-retry-seconds", opts.MinRetrySeconds, "")
	flag.IntVar(&opts.MaxRetrySeconds, "max-retry-seconds", opts.MaxRetrySeconds, "")
	flag.IntVar(&opts.BackfillHours, "backfill-hours", opts.BackfillHours, "")
	flag.StringVar(&opts.ForecastBase, "forecast-base", opts.ForecastBase, "")
	flag.IntVar(&opts.ForecastHours, "forecast-hours", opts.ForecastHours, "")
	backend := flag.String("usgs-backend", string(opts.Backend), "")
	flag.StringVar(&opts.CommunityBase, "community-base", opts.CommunityBase, "")
	flag.BoolVar(&opts.CommunityPublish, "community-publish", opts.CommunityPublish, "")
	flag.BoolVar(&opts.NearbyEnabled, "nearby", opts.NearbyEnabled, "")
	flag.Float64Var(&opts.NearbyLat, "lat", opts.NearbyLat, "")
	flag.Float64Var(&opts.NearbyLon, "lon", opts.NearbyLon, "")
	flag.Float64Var(&opts.NearbyRadiusMiles, "radius-miles", opts.NearbyRadiusMiles, "")
	flag.Float64Var(&opts.UITickSec, "ui-tick-sec", opts.UITickSec, "")
	flag.StringVar(&opts.ChartMetric, "chart-metric", opts.ChartMetric, "")
	flag.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "")
	flag.BoolVar(&opts.Debug, "debug", opts.Debug, "")
	flag.BoolVar(&showVersion, "version", false, "")
	flag.Parse()

	if showVersion {
		fmt.Printf("streamvis v%s\n", Version)
		return 0
	}
	opts.Backend = model.Backend(*backend)
	if !opts.Backend.Valid() {
		fmt.Fprintf(os.Stderr, "streamvis: unknown backend %q (blended|legacy|modern)\n", *backend)
		return 1
	}
	if opts.Mode != "once" && opts.Mode != "adaptive" && opts.Mode != "tui" {
		fmt.Fprintf(os.Stderr, "streamvis: unknown mode %q (once|adaptive|tui)\n", opts.Mode)
		return 1
	}
	if opts.ChartMetric != "stage" && opts.ChartMetric != "flow" {
		fmt.Fprintf(os.Stderr, "streamvis: unknown chart metric %q (stage|flow)\n", opts.ChartMetric)
		return 1
	}
	if opts.NearbyEnabled && opts.NearbyLat == 0 && opts.NearbyLon == 0 {
		fmt.Fprintln(os.Stderr, "streamvis: -nearby requires -lat and -lon")
		return 1
	}

	log := newLogger(opts)

	lock, err := state.AcquireLock(opts.StateFile)
	if err != nil {
		if errors.Is(err, state.ErrLocked) {
			fmt.Fprintf(os.Stderr, "streamvis: state file %s is locked by another instance\n", opts.StateFile)
			return 2
		}
		fmt.Fprintf(os.Stderr, "streamvis: acquire lock: %v\n", err)
		return 1
	}
	defer lock.Release()

	st := state.Load(opts.StateFile)
	if st.Meta.LoadError != "" {
		log.Warn().Str("error", st.Meta.LoadError).Msg("state file repaired")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var prov *metrics.Provider
	if opts.MetricsAddr != "" {
		prov = metrics.Init()
		go func() {
			if err := prov.Serve(ctx, opts.MetricsAddr, log); err != nil {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	loop := engine.NewLoop(opts, st, lock, log, prov)

	switch opts.Mode {
	case "once":
		snap, err := loop.Once(ctx)
		renderOnce(snap)
		if err != nil {
			fmt.Fprintf(os.Stderr, "streamvis: %v\n", err)
			return 1
		}
		return 0

	case "adaptive":
		if err := loop.Run(ctx); err != nil {
			log.Error().Err(err).Msg("poll loop failed")
			return 1
		}
		return 0

	default: // tui
		done := make(chan error, 1)
		go func() { done <- loop.Run(ctx) }()
		uiErr := ui.Run(loop, opts)
		cancel()
		loopErr := <-done
		if uiErr != nil {
			fmt.Fprintf(os.Stderr, "streamvis: %v\n", uiErr)
			return 1
		}
		if loopErr != nil {
			return 1
		}
		return 0
	}
}

// newLogger builds the process logger: console on stderr for headless
// modes, a file (debug) or nothing for the TUI so the screen stays clean.
func newLogger(opts config.Options) zerolog.Logger {
	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	var w io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	if opts.Mode == "tui" {
		if !opts.Debug {
			return zerolog.Nop()
		}
		f, err := os.OpenFile("streamvis.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop()
		}
		w = f
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// renderOnce prints the one-shot gauge table.
func renderOnce(st *model.State) {
	if st == nil {
		return
	}
	now := time.Now().UTC()
	bold := lipgloss.NewStyle().Bold(true)
	fmt.Println(bold.Render(fmt.Sprintf("%-6s %-28s %8s %10s %-12s %10s %10s",
		"ID", "NAME", "STAGE", "FLOW", "STATUS", "AGE", "NEXT")))
	for _, gauge := range config.PrimaryGauges {
		g, ok := st.Gauges[gauge.ID]
		if !ok {
			fmt.Printf("%-6s %-28s %s\n", gauge.ID, gauge.Name, "no data")
			continue
		}
		status := model.ClassifyStage(g.LastStage, config.FloodThresholds[gauge.ID])
		age, next := "-", "-"
		if g.LastTimestamp != nil {
			age = util.FmtRel(now, *g.LastTimestamp)
		}
		if t := engine.DisplayETA(g.NextETA, now); !t.IsZero() {
			next = util.FmtRel(now, t)
		}
		fmt.Printf("%-6s %-28s %8s %10s %-12s %10s %10s\n",
			gauge.ID, gauge.Name, fmtVal(g.LastStage), fmtVal(g.LastFlow),
			status, age, next)
	}
	if st.Meta.LastBackendUsed != "" {
		fmt.Printf("\nbackend=%s\n", st.Meta.LastBackendUsed)
	}
}

func fmtVal(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
