// cmd/fleetwatch-check/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"fleetwatch/internal/config"
	"fleetwatch/internal/database"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/monitoring"
	"fleetwatch/internal/probe"
)

// Report is the YAML document printed for one check pass.
type Report struct {
	CheckedAt time.Time       `yaml:"checked_at"`
	Monitors  []MonitorReport `yaml:"monitors"`
}

type MonitorReport struct {
	ID      string        `yaml:"id"`
	Name    string        `yaml:"name"`
	Kind    string        `yaml:"kind"`
	Status  string        `yaml:"status"`
	Message string        `yaml:"message"`
	Alerts  []AlertReport `yaml:"alerts,omitempty"`
}

type AlertReport struct {
	Level   string            `yaml:"level"`
	Title   string            `yaml:"title"`
	Message string            `yaml:"message"`
	Details map[string]string `yaml:"details,omitempty"`
}

// collectSink keeps alerts instead of delivering them.
type collectSink struct {
	mu     sync.Mutex
	alerts []database.Alert
}

func (s *collectSink) Intake(a database.Alert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return true
}

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	only := flag.String("monitor", "", "Comma-separated monitor IDs to check (default: all)")
	output := flag.String("output", "", "Write the report to this file instead of stdout")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	logrus.SetOutput(os.Stderr)
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	cfg, err := config.LoadMonitors(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	selected := selectMonitors(cfg.Monitors, *only)
	if len(selected) == 0 {
		logrus.Fatalf("No monitors match %q", *only)
	}

	prober := probe.New(probe.Options{
		ReachTimeout: cfg.Monitoring.ReachTimeout,
		FetchTimeout: cfg.Monitoring.FetchTimeout,
		Retries:      cfg.Monitoring.FetchRetries,
		RetryDelay:   cfg.Monitoring.RetryDelay,
	})

	report := runChecks(context.Background(), selected, prober, metrics.NewCollector(nil))

	data, err := yaml.Marshal(report)
	if err != nil {
		logrus.Fatalf("Failed to encode report: %v", err)
	}

	if *output != "" {
		if err := os.WriteFile(*output, data, 0644); err != nil {
			logrus.Fatalf("Failed to write report: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Report written to %s\n", *output)
	} else {
		os.Stdout.Write(data)
	}

	for _, m := range report.Monitors {
		if m.Status == string(monitoring.StatusOffline) {
			os.Exit(1)
		}
	}
}

func selectMonitors(monitors []config.MonitorConfig, only string) []config.MonitorConfig {
	if only == "" {
		return monitors
	}
	wanted := make(map[string]bool)
	for _, id := range strings.Split(only, ",") {
		if id = strings.TrimSpace(id); id != "" {
			wanted[id] = true
		}
	}
	var selected []config.MonitorConfig
	for _, m := range monitors {
		if wanted[m.ID] {
			selected = append(selected, m)
		}
	}
	return selected
}

// runChecks runs one cycle per monitor concurrently.
func runChecks(ctx context.Context, monitors []config.MonitorConfig, prober monitoring.Prober, collector *metrics.Collector) Report {
	reports := make([]MonitorReport, len(monitors))

	var wg sync.WaitGroup
	for i, m := range monitors {
		i, m := i, m
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i] = checkOnce(ctx, m, prober, collector)
		}()
	}
	wg.Wait()

	return Report{CheckedAt: time.Now().UTC(), Monitors: reports}
}

func checkOnce(ctx context.Context, m config.MonitorConfig, prober monitoring.Prober, collector *metrics.Collector) MonitorReport {
	report := MonitorReport{ID: m.ID, Name: m.Name, Kind: m.Kind}

	check, err := monitoring.NewCheck(m)
	if err != nil {
		report.Status = string(monitoring.StatusUnknown)
		report.Message = err.Error()
		return report
	}

	sink := &collectSink{}
	worker := monitoring.NewWorker(m, check, prober, sink, collector, 10)
	worker.RunCycle(ctx)

	snap := worker.Snapshot()
	report.Status = string(snap.Status)
	report.Message = snap.Message
	for _, a := range sink.alerts {
		report.Alerts = append(report.Alerts, AlertReport{
			Level:   string(a.Level),
			Title:   a.Title,
			Message: a.Message,
			Details: a.Details,
		})
	}
	return report
}
