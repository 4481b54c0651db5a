package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"fleetwatch/internal/config"
	"fleetwatch/internal/database"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/monitoring"
	"fleetwatch/internal/notifications"
	"fleetwatch/internal/probe"
	"fleetwatch/internal/web"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("fleetwatch %s (commit %s, built %s)\n", web.Version, web.GitCommit, web.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file": *configFile,
		"port":        cfg.Server.Port,
		"monitors":    len(cfg.Monitors),
		"dry_run":     cfg.Discord.DryRun,
	}).Info("Starting fleetwatch")

	var store database.Store
	if !cfg.Database.Disabled {
		boltStore, err := database.NewBoltStore(cfg.Database.Path)
		if err != nil {
			logrus.Fatalf("Failed to initialize database: %v", err)
		}
		defer boltStore.Close()
		store = boltStore
	} else {
		logrus.Warn("Alert journal disabled, dashboard handle will not survive restarts")
	}

	metricsCollector := metrics.NewCollector(store)

	var notifier notifications.Notifier
	if cfg.Discord.DryRun {
		logrus.Warn("Discord dry run enabled, notifications are only logged")
		notifier = notifications.NewLogNotifier()
	} else {
		discord, err := notifications.NewDiscordClient(&cfg.Discord)
		if err != nil {
			logrus.Fatalf("Failed to initialize Discord client: %v", err)
		}
		notifier = discord
	}

	prober := probe.New(probe.Options{
		ReachTimeout: cfg.Monitoring.ReachTimeout,
		FetchTimeout: cfg.Monitoring.FetchTimeout,
		Retries:      cfg.Monitoring.FetchRetries,
		RetryDelay:   cfg.Monitoring.RetryDelay,
	})

	engine, err := monitoring.NewEngine(cfg, store, notifier, prober, metricsCollector)
	if err != nil {
		logrus.Fatalf("Failed to initialize monitoring engine: %v", err)
	}

	webServer := web.NewServer(cfg, engine, metricsCollector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx) }()

	if err := webServer.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start web server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logrus.WithField("signal", sig).Info("Received shutdown signal")
	case err := <-engineDone:
		logrus.WithError(err).Error("Monitoring engine exited")
		engineDone <- err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Web server shutdown failed")
	}

	select {
	case err := <-engineDone:
		if err != nil {
			logrus.WithError(err).Error("Monitoring engine stopped with error")
		}
	case <-shutdownCtx.Done():
		logrus.Warn("Timed out waiting for monitoring engine")
	}

	logrus.Info("Shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
