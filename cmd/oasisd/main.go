// oasisd runs the predictive climate controller for one home: it ingests
// zone telemetry from the platform bridge, learns a thermal model, plans
// actuation schedules against the weather forecast, and drives the
// actuators through the bridge.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/mircotaddei/oasis-core/pkg/oasis/adapter"
	"github.com/mircotaddei/oasis-core/pkg/oasis/clock"
	"github.com/mircotaddei/oasis-core/pkg/oasis/config"
	"github.com/mircotaddei/oasis-core/pkg/oasis/control"
	"github.com/mircotaddei/oasis-core/pkg/oasis/forecast"
	"github.com/mircotaddei/oasis-core/pkg/oasis/ingest"
	"github.com/mircotaddei/oasis-core/pkg/oasis/learner"
	"github.com/mircotaddei/oasis-core/pkg/oasis/metrics"
	"github.com/mircotaddei/oasis-core/pkg/oasis/model"
	"github.com/mircotaddei/oasis-core/pkg/oasis/planner"
	"github.com/mircotaddei/oasis-core/pkg/oasis/pricing"
	"github.com/mircotaddei/oasis-core/pkg/oasis/sim"
	"github.com/mircotaddei/oasis-core/pkg/oasis/store"
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if err := run(); err != nil {
		klog.ErrorS(err, "Controller exited")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %v", err)
	}
	klog.V(1).InfoS("Configuration loaded",
		"zones", len(cfg.Home.Zones),
		"actuators", len(cfg.Home.Actuators),
		"bridge", cfg.BridgeURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry store: SQLite when a path is configured, in-memory otherwise.
	var telemetry store.TelemetryStore
	if cfg.Telemetry.DatabasePath != "" {
		s, err := store.NewSQLiteStore(cfg.Telemetry.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open telemetry store: %v", err)
		}
		telemetry = s
	} else {
		klog.V(1).InfoS("No telemetry database path configured, using in-memory store")
		telemetry = store.NewMemoryStore()
	}
	defer telemetry.Close()

	var history *model.History
	if cfg.Learner.ModelDatabasePath != "" {
		history, err = model.NewHistory(cfg.Learner.ModelDatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open model history: %v", err)
		}
		defer history.Close()
	}

	registry := model.NewRegistry(cfg.Learner.ConfidenceFloor, history)
	if history != nil {
		if err := registry.Restore(); err != nil {
			klog.V(1).InfoS("No model restored from history, starting cold", "error", err)
		}
	}

	forecasts := forecast.NewStore(cfg.Forecast.MaxAge)
	defer forecasts.Close()

	bridge, err := adapter.DialWS(cfg.BridgeURL)
	if err != nil {
		return fmt.Errorf("failed to connect to platform bridge: %v", err)
	}
	defer bridge.Close()

	batcher := ingest.NewBatcher(telemetry, cfg.Telemetry.BatchSize, cfg.Telemetry.FlushInterval)
	go batcher.Run(ctx, bridge.Telemetry())

	fitter := learner.New(learner.Config{
		Window:           cfg.Learner.Window,
		HoldoutFraction:  cfg.Learner.HoldoutFraction,
		MinDensity:       cfg.Learner.MinDensity,
		SampleCadence:    cfg.Telemetry.SampleCadence,
		RegressionMargin: cfg.Learner.RegressionMargin,
		Interval:         cfg.Learner.Interval,
		MaxExogenousAge:  cfg.Learner.MaxExogenousAge,
	}, telemetry, forecasts, registry, cfg.ZoneIDs(), clock.RealClock{})
	go fitter.Run(ctx)

	rates := pricing.New(cfg.Pricing)
	simulator, err := sim.New(cfg.Planner.IntegrationStep, cfg.ActuatorMap(), rates)
	if err != nil {
		return fmt.Errorf("failed to build simulator: %v", err)
	}

	search, err := planner.New(planner.Config{
		Horizon:       cfg.Planner.Horizon,
		Resolution:    cfg.Planner.Resolution,
		Budget:        cfg.Planner.Budget,
		Workers:       cfg.Planner.Workers,
		Candidates:    cfg.Planner.Candidates,
		ComfortWeight: cfg.Planner.ComfortWeight,
		Seed:          cfg.Planner.Seed,
	}, simulator, cfg.ActuatorMap(), cfg.ComfortMap())
	if err != nil {
		return fmt.Errorf("failed to build planner: %v", err)
	}

	loop := control.NewLoop(control.Config{
		CyclePeriod:        cfg.Control.CyclePeriod,
		PlanningHorizon:    cfg.Planner.Horizon,
		ErrorThreshold:     cfg.Control.ErrorThreshold,
		ErrorWindow:        cfg.Control.ErrorWindow,
		SensorGapThreshold: cfg.Control.SensorGapThreshold,
		Hysteresis:         cfg.Control.Hysteresis,
	}, telemetry, forecasts, registry, search, bridge, clock.RealClock{},
		cfg.Home.Zones, cfg.ActuatorMap(), cfg.ComfortMap())

	if cfg.Forecast.APIKey != "" {
		client := forecast.NewOpenWeatherMapClient(cfg.Forecast.APIKey)
		poller := forecast.NewPoller(client, forecasts,
			cfg.Forecast.Latitude, cfg.Forecast.Longitude,
			cfg.Forecast.LookAheadHours, cfg.Forecast.PollInterval,
			cfg.Forecast.RevisionThreshold)
		go poller.Run(ctx)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-poller.Revised:
					loop.NotifyForecastRevision()
				}
			}
		}()
	} else {
		klog.InfoS("No weather API key configured, planning without forecast refresh")
	}

	// Periodic retention cleanup for the telemetry store.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := telemetry.Cleanup(cfg.Telemetry.Retention); err != nil {
					klog.V(2).InfoS("Telemetry cleanup failed", "error", err)
				}
			}
		}
	}()

	var metricsServer *http.Server
	if cfg.Observability.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "ok")
		})
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
			Handler: mux,
		}
		go func() {
			klog.V(1).InfoS("Serving metrics", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				klog.ErrorS(err, "Metrics server failed")
			}
		}()
	}

	go loop.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	klog.InfoS("Shutting down", "signal", sig.String())

	cancel()
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			klog.V(2).InfoS("Metrics server shutdown error", "error", err)
		}
	}
	batcher.Flush()
	return nil
}
