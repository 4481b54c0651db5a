// internal/monitoring/worker_test.go
package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fleetwatch/internal/config"
	"fleetwatch/internal/database"
	"fleetwatch/internal/probe"
)

var workerCfg = config.MonitorConfig{
	ID:       "crawler",
	Name:     "Web Crawler",
	Kind:     config.KindCrawler,
	URL:      "http://crawler.local",
	Interval: 60,
}

func newTestWorker(check SemanticCheck, prober Prober, sink AlertSink) *Worker {
	w := NewWorker(workerCfg, check, prober, sink, testMetrics, 100)
	w.now = stepClock(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC), time.Second)
	return w
}

func TestWorkerOfflineScenario(t *testing.T) {
	notifier := &fakeNotifier{}
	bus := newTestBus(notifier, config.AlertingConfig{QueueSize: 16})

	prober := &fakeProber{reachable: func() (bool, string) { return false, "connection refused" }}
	w := newTestWorker(&CrawlerCheck{minSuccessRate: 0.8}, prober, bus)

	for cycle := 1; cycle <= 3; cycle++ {
		w.RunCycle(context.Background())

		snap := w.Snapshot()
		if snap.Status != StatusOffline {
			t.Fatalf("cycle %d: status = %s, want offline", cycle, snap.Status)
		}
		if snap.Message != "service offline: connection refused" {
			t.Fatalf("cycle %d: message = %q", cycle, snap.Message)
		}
	}

	if delivered := drain(bus); delivered != 3 {
		t.Fatalf("queued alerts = %d, want 3 (one per distinct timestamp)", delivered)
	}
	if got := notifier.sentTo("crawler-channel"); got != 3 {
		t.Fatalf("service channel sends = %d, want 3", got)
	}
	if got := notifier.sentTo("alerts"); got != 3 {
		t.Fatalf("escalation sends = %d, want 3", got)
	}

	for _, a := range w.History(0) {
		if a.Level != database.LevelCritical || a.Title != "Service offline" || a.MonitorID != "crawler" {
			t.Fatalf("unexpected alert %+v", a)
		}
	}
}

func TestWorkerSurvivesPanickingCheck(t *testing.T) {
	check := &scriptedCheck{script: func(n int) (Result, error) {
		if n == 2 {
			panic("unexpected payload")
		}
		return Result{Status: StatusOnline, Message: "ok"}, nil
	}}
	sink := &recordingSink{}
	w := newTestWorker(check, &fakeProber{}, sink)

	want := []Status{StatusOnline, StatusDegraded, StatusOnline, StatusOnline, StatusOnline}
	for i, expected := range want {
		w.RunCycle(context.Background())
		if got := w.Snapshot().Status; got != expected {
			t.Fatalf("cycle %d: status = %s, want %s", i+1, got, expected)
		}
	}

	alerts := sink.all()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Level != database.LevelHigh || alerts[0].Title != "Check failed" {
		t.Fatalf("alert = %+v", alerts[0])
	}
}

func TestWorkerClassifiesFailures(t *testing.T) {
	tests := []struct {
		name       string
		fetchErr   error
		inspectErr error
		wantTitle  string
		wantCode   string
	}{
		{
			name:      "api failure",
			fetchErr:  &probe.Failure{StatusCode: 503, Body: "maintenance"},
			wantTitle: "API request failed",
			wantCode:  "503",
		},
		{
			name:      "retries exhausted",
			fetchErr:  &probe.Failure{Body: "retries exhausted", Err: errors.New("timeout")},
			wantTitle: "API request failed",
			wantCode:  "0",
		},
		{
			name:       "parse error",
			inspectErr: errors.New("invalid character"),
			wantTitle:  "Check failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{}
			if tt.fetchErr != nil {
				prober.fetch = func() (*probe.Response, error) { return nil, tt.fetchErr }
			}
			check := &scriptedCheck{script: func(int) (Result, error) {
				return Result{Status: StatusOnline}, tt.inspectErr
			}}
			sink := &recordingSink{}
			w := newTestWorker(check, prober, sink)

			w.RunCycle(context.Background())

			if got := w.Snapshot().Status; got != StatusDegraded {
				t.Fatalf("status = %s, want degraded", got)
			}
			alerts := sink.all()
			if len(alerts) != 1 {
				t.Fatalf("alerts = %d", len(alerts))
			}
			a := alerts[0]
			if a.Title != tt.wantTitle || a.Level != database.LevelHigh {
				t.Fatalf("alert = %+v", a)
			}
			if tt.wantCode != "" && a.Details["status_code"] != tt.wantCode {
				t.Fatalf("status_code = %q, want %q", a.Details["status_code"], tt.wantCode)
			}
			if a.ID == "" || a.MonitorID != "crawler" || a.Timestamp.IsZero() {
				t.Fatalf("alert not stamped: %+v", a)
			}
		})
	}
}

func TestWorkerStatusFollowsLatestCycle(t *testing.T) {
	outcomes := []Status{StatusOffline, StatusOnline, StatusDegraded, StatusOffline, StatusOnline}
	cycle := 0

	prober := &fakeProber{reachable: func() (bool, string) {
		if outcomes[cycle] == StatusOffline {
			return false, "HTTP 502"
		}
		return true, "HTTP 200"
	}}
	check := &scriptedCheck{script: func(int) (Result, error) {
		return Result{Status: outcomes[cycle], Message: string(outcomes[cycle])}, nil
	}}
	w := newTestWorker(check, prober, &recordingSink{})

	for cycle = range outcomes {
		w.RunCycle(context.Background())
		if got := w.Snapshot().Status; got != outcomes[cycle] {
			t.Fatalf("cycle %d: status = %s, want %s", cycle+1, got, outcomes[cycle])
		}
	}
}

func TestWorkerSetIntervalFloor(t *testing.T) {
	w := newTestWorker(&scriptedCheck{}, &fakeProber{}, &recordingSink{})

	if err := w.SetInterval(5); !errors.Is(err, ErrValidation) {
		t.Fatalf("SetInterval(5) err = %v, want ErrValidation", err)
	}
	if got := w.Interval(); got != 60 {
		t.Fatalf("interval changed to %d after rejected update", got)
	}

	if err := w.SetInterval(30); err != nil {
		t.Fatalf("SetInterval(30): %v", err)
	}
	if got := w.Snapshot().Interval; got != 30 {
		t.Fatalf("interval = %d, want 30", got)
	}
}

func TestWorkerHistoryIsBounded(t *testing.T) {
	w := NewWorker(workerCfg, &scriptedCheck{}, &fakeProber{}, &recordingSink{}, testMetrics, 3)
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		w.Inject(database.Alert{Title: "t", Level: database.LevelInfo, Timestamp: base.Add(time.Duration(i) * time.Minute)})
	}

	history := w.History(0)
	if len(history) != 3 {
		t.Fatalf("history = %d, want 3", len(history))
	}
	if !history[0].Timestamp.Equal(base.Add(4*time.Minute)) || !history[2].Timestamp.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("history not newest-first over the last 3: %v, %v", history[0].Timestamp, history[2].Timestamp)
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	w := newTestWorker(&scriptedCheck{script: func(int) (Result, error) {
		return Result{Status: StatusOnline}, nil
	}}, &fakeProber{}, &recordingSink{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for w.Snapshot().Status == StatusUnknown {
		if time.Now().After(deadline) {
			t.Fatal("first cycle never completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestWorkerDetailsTruncated(t *testing.T) {
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}
	prober := &fakeProber{fetch: func() (*probe.Response, error) {
		return nil, &probe.Failure{StatusCode: 500, Body: string(long)}
	}}
	sink := &recordingSink{}
	w := newTestWorker(&scriptedCheck{}, prober, sink)

	w.RunCycle(context.Background())

	alerts := sink.all()
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d", len(alerts))
	}
	if n := len(alerts[0].Details["response"]); n != 1024 {
		t.Fatalf("detail length = %d, want 1024", n)
	}
}

func TestWorkerSendsCheckHeadersOnEveryRequest(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("X-N8N-API-KEY") != "n8n-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"201","status":"error","workflowName":"billing"}]}`))
	}))
	defer srv.Close()

	cfg := config.MonitorConfig{ID: "n8n", Name: "Workflow Engine", Kind: config.KindWorkflow, URL: srv.URL, APIKey: "n8n-key", Interval: 60}
	check, err := NewCheck(cfg)
	if err != nil {
		t.Fatalf("NewCheck: %v", err)
	}
	prober := probe.New(probe.Options{ReachTimeout: time.Second, FetchTimeout: time.Second, Retries: 1, RetryDelay: time.Millisecond})
	sink := &recordingSink{}
	w := NewWorker(cfg, check, prober, sink, testMetrics, 10)

	w.RunCycle(context.Background())

	snap := w.Snapshot()
	if snap.Status != StatusDegraded {
		t.Fatalf("status = %s (%s), want degraded", snap.Status, snap.Message)
	}
	alerts := sink.all()
	if len(alerts) != 1 || alerts[0].Title != "Workflow execution 201 failed" || alerts[0].Level != database.LevelHigh {
		t.Fatalf("alerts = %+v", alerts)
	}
	if n := requests.Load(); n != 2 {
		t.Fatalf("requests = %d, want reachability plus fetch", n)
	}
}
