// internal/monitoring/helpers_test.go
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fleetwatch/internal/config"
	"fleetwatch/internal/database"
	"fleetwatch/internal/metrics"
	"fleetwatch/internal/notifications"
	"fleetwatch/internal/probe"
)

var testMetrics = metrics.NewCollector(nil)

type sentMessage struct {
	Channel string
	Handle  string
	Msg     notifications.Message
}

// fakeNotifier records every call. editErr, when set, decides the result of
// each Edit by handle.
type fakeNotifier struct {
	mu      sync.Mutex
	sent    []sentMessage
	edits   []sentMessage
	sendErr error
	editErr func(handle string) error
	next    int
}

func (f *fakeNotifier) Send(ctx context.Context, channel string, msg notifications.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.next++
	handle := fmt.Sprintf("msg-%d", f.next)
	f.sent = append(f.sent, sentMessage{Channel: channel, Handle: handle, Msg: msg})
	return handle, nil
}

func (f *fakeNotifier) Edit(ctx context.Context, channel, handle string, msg notifications.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		if err := f.editErr(handle); err != nil {
			return err
		}
	}
	f.edits = append(f.edits, sentMessage{Channel: channel, Handle: handle, Msg: msg})
	return nil
}

func (f *fakeNotifier) sentTo(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.Channel == channel {
			n++
		}
	}
	return n
}

func (f *fakeNotifier) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeProber answers every call through the configured functions.
type fakeProber struct {
	reachable func() (bool, string)
	fetch     func() (*probe.Response, error)
}

func (f *fakeProber) Reachable(ctx context.Context, req probe.Request) (bool, string) {
	if f.reachable == nil {
		return true, "HTTP 200"
	}
	return f.reachable()
}

func (f *fakeProber) Fetch(ctx context.Context, req probe.Request) (*probe.Response, error) {
	if f.fetch == nil {
		return &probe.Response{StatusCode: 200, Body: []byte(`{"status":"success"}`)}, nil
	}
	return f.fetch()
}

// recordingSink collects alerts handed to it.
type recordingSink struct {
	mu     sync.Mutex
	alerts []database.Alert
}

func (s *recordingSink) Intake(a database.Alert) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return true
}

func (s *recordingSink) all() []database.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]database.Alert(nil), s.alerts...)
}

// scriptedCheck returns script(n) on the n-th call, starting at 1.
type scriptedCheck struct {
	calls  int
	script func(n int) (Result, error)
}

func (c *scriptedCheck) Kind() string { return "scripted" }

func (c *scriptedCheck) Request(base probe.Request) probe.Request { return base }

func (c *scriptedCheck) Inspect(resp *probe.Response) (Result, error) {
	c.calls++
	return c.script(c.calls)
}

// stepClock advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Discord: config.DiscordConfig{
			DryRun:   true,
			Channels: config.ChannelsConfig{General: "dashboard", Alerts: "alerts"},
		},
		Database: config.DatabaseConfig{PurgeSchedule: "@every 6h", Retention: 168 * time.Hour},
		Monitoring: config.MonitoringConfig{
			DefaultInterval: 60,
			HistorySize:     100,
		},
		Alerting: config.AlertingConfig{
			DedupRetention:       time.Hour,
			QueueSize:            64,
			DeliveryTimeout:      time.Second,
			HousekeepingSchedule: "@every 1h",
		},
		Dashboard: config.DashboardConfig{Period: time.Hour, Title: "Fleet"},
		Monitors: []config.MonitorConfig{
			{ID: "ledger", Name: "Ledger Indexer", Kind: config.KindLedger, URL: "http://ledger.local", Interval: 60, Channel: "ledger-channel"},
			{ID: "crawler", Name: "Web Crawler", Kind: config.KindCrawler, URL: "http://crawler.local", Interval: 60, Channel: "crawler-channel"},
			{ID: "n8n", Name: "Workflow Engine", Kind: config.KindWorkflow, URL: "http://n8n.local", Interval: 60},
		},
	}
}

func newTestBus(n notifications.Notifier, cfg config.AlertingConfig) *AlertBus {
	routes := map[string]string{"ledger": "ledger-channel", "crawler": "crawler-channel"}
	return NewAlertBus(cfg, n, routes, "alerts", nil, testMetrics)
}

// drain delivers everything queued on the bus.
func drain(b *AlertBus) int {
	n := 0
	for {
		select {
		case a := <-b.queue:
			b.deliver(context.Background(), a)
			n++
		default:
			return n
		}
	}
}
