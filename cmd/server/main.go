package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crowdvision/people-counter/internal/alert"
	"github.com/crowdvision/people-counter/internal/auth"
	"github.com/crowdvision/people-counter/internal/config"
	"github.com/crowdvision/people-counter/internal/counter"
	"github.com/crowdvision/people-counter/internal/dashboard"
	"github.com/crowdvision/people-counter/internal/detect"
	"github.com/crowdvision/people-counter/internal/logger"
	"github.com/crowdvision/people-counter/internal/metrics"
	"github.com/crowdvision/people-counter/internal/pipeline"
	"github.com/crowdvision/people-counter/internal/source"
)

var (
	// Command-line flags
	configPath  = flag.String("config", "", "Path to YAML configuration file")
	httpAddr    = flag.String("http", "", "HTTP server address (overrides config)")
	metricsAddr = flag.String("metrics", "", "Metrics server address (overrides config)")
	logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *httpAddr != "" {
		cfg.Server.Addr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor && cfg.Log.Color)

	logger.Info("Main", "People counter starting...")
	logger.Info("Main", "Log level: %s", level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	go func() {
		logger.Info("Main", "Starting metrics server on %s", cfg.Server.MetricsAddr)
		if err := m.StartServer(cfg.Server.MetricsAddr); err != nil {
			logger.Error("Main", "Metrics server error: %v", err)
		}
	}()

	// Model registry with directory watching
	registry := detect.NewRegistry(cfg.Models.Dir)
	if refs, err := registry.Scan(); err != nil {
		logger.Warn("Main", "Model directory scan failed: %v", err)
	} else {
		logger.Info("Main", "Found %d model file(s) in %s", len(refs), cfg.Models.Dir)
	}
	go func() {
		if err := registry.Watch(ctx); err != nil {
			logger.Warn("Main", "Model directory watch unavailable: %v", err)
		}
	}()

	loadModel := func(ref detect.ModelRef) (detect.Detector, error) {
		return detect.Load(ref, detect.Options{
			InputSize:   cfg.Models.InputSize,
			Confidence:  cfg.Models.Confidence,
			IoU:         cfg.Models.IoU,
			Names:       cfg.Models.Names,
			LibraryPath: cfg.Models.LibraryPath,
		})
	}

	// Frame source
	src, err := source.New(cfg.Source)
	if err != nil {
		log.Fatalf("Failed to create frame source: %v", err)
	}

	// Alerting
	var mailer alert.Mailer
	if cfg.Alerts.SMTP.Enabled() {
		mailer = alert.NewSMTPMailer(cfg.Alerts.SMTP)
		logger.Info("Main", "Email alerts enabled (to %s)", cfg.Alerts.SMTP.To)
	} else {
		logger.Warn("Main", "SMTP not configured, alerts will be recorded but not emailed")
	}
	alerts := alert.NewManager(cfg.Alerts.Capacity, cfg.Alerts.Restricted, cfg.Alerts.Cooldown, cfg.Alerts.HistorySize, mailer)
	alerts.SetHooks(alert.Hooks{
		Triggered: func(kind alert.Kind) {
			switch kind {
			case alert.KindCapacity:
				m.CapacityAlerts.Add(1)
			case alert.KindRestricted:
				m.RestrictedAlerts.Add(1)
			}
		},
		DeliveryFailed: func(alert.Kind) { m.DeliveryErrors.Add(1) },
	})

	// Counting
	mode, err := counter.ParseMode(cfg.Counting.Mode)
	if err != nil {
		log.Fatalf("Invalid counting mode: %v", err)
	}
	cnt := counter.New(counter.Config{
		Mode:        mode,
		Lanes:       cfg.Counting.Lanes,
		Orientation: counter.Orientation(cfg.Counting.Orientation),
		PersonLabel: cfg.Counting.PersonLabel,
	})

	// Pipeline publishing into the dashboard frame broadcaster
	frames := dashboard.NewFrameBroadcaster(m)
	pipe := pipeline.New(src, cnt, alerts, m, cfg.Alerts.Restricted, frames.Publish)

	// Load the default model if one is configured. Failure is not fatal: the
	// dashboard stays usable and shows the no-model state.
	if cfg.Models.Default != "" {
		if ref, ok := registry.Lookup(cfg.Models.Default); ok {
			if det, err := loadModel(ref); err != nil {
				logger.Warn("Main", "Default model %q failed to load: %v", ref.Name, err)
			} else {
				pipe.SetDetector(ref.Name, det)
				logger.Info("Main", "Loaded default model %q", ref.Name)
			}
		} else {
			logger.Warn("Main", "Default model %q not found in %s", cfg.Models.Default, cfg.Models.Dir)
		}
	}

	// Session gate and dashboard
	gate := auth.NewGate(cfg.Auth.Username, cfg.Auth.PasswordSHA256, cfg.Auth.SessionTTL)
	dash := dashboard.NewServer(dashboard.Config{
		SnapshotDir:    cfg.Server.SnapshotDir,
		StatusInterval: time.Second,
	}, gate, pipe, registry, loadModel, frames, m)
	defer dash.Close()

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: dash.Handler(),
	}
	go func() {
		logger.Info("Main", "Starting dashboard on %s", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	pipe.Start(ctx)
	logger.Info("Main", "Started (mode=%s, source=%s)", mode, cfg.Source.Kind)

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	cancel()
	<-pipe.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Main", "HTTP shutdown error: %v", err)
	}

	// Let in-flight alert emails finish before exiting
	alerts.Flush()
	if err := src.Close(); err != nil {
		logger.Warn("Main", "Source close error: %v", err)
	}

	logger.Info("Main", "Server stopped")
}
