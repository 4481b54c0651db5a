// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const baseYAML = `
discord:
  dry_run: true
monitors:
  - id: crawler
    name: Web Crawler
    kind: crawler
    url: ${TEST_CRAWLER_URL}
  - id: ledger
    kind: LEDGER
    url: http://ledger.local/status
    interval: 30
`

func TestLoadAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("TEST_CRAWLER_URL", "http://crawler.local/api/status")
	t.Setenv("PORT", "8080")
	t.Setenv("LOG_LEVEL", "debug")

	path := writeFile(t, t.TempDir(), "config.yaml", baseYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.Addr() != ":8080" {
		t.Fatalf("port = %q addr = %q", cfg.Server.Port, cfg.Server.Addr())
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Logging.Level)
	}
	if cfg.Dashboard.Period != 30*time.Second {
		t.Fatalf("dashboard period = %v", cfg.Dashboard.Period)
	}
	if cfg.Monitoring.FetchRetries != 3 || cfg.Monitoring.RetryDelay != time.Second {
		t.Fatalf("retry policy = %d/%v", cfg.Monitoring.FetchRetries, cfg.Monitoring.RetryDelay)
	}
	if cfg.Alerting.DedupRetention != 24*time.Hour {
		t.Fatalf("dedup retention = %v", cfg.Alerting.DedupRetention)
	}

	crawler := cfg.Monitors[0]
	if crawler.URL != "http://crawler.local/api/status" {
		t.Fatalf("crawler url not expanded: %q", crawler.URL)
	}
	if crawler.Interval != 60 {
		t.Fatalf("crawler interval = %d, want default 60", crawler.Interval)
	}

	ledger := cfg.Monitors[1]
	if ledger.Kind != KindLedger || ledger.Name != "ledger" || ledger.Interval != 30 {
		t.Fatalf("ledger = %+v", ledger)
	}
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "conf.d/10-override.yaml", `
monitors:
  - id: ledger
    kind: ledger
    url: http://ledger.internal/status
    interval: 45
`)
	writeFile(t, dir, "conf.d/20-extra.yml", `
monitors:
  - id: telegram
    kind: messaging
    bot_token: abc123
`)
	path := writeFile(t, dir, "config.yaml", `
discord:
  dry_run: true
include:
  enabled: true
  directory: conf.d
monitors:
  - id: ledger
    kind: ledger
    url: http://ledger.local/status
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Monitors) != 2 {
		t.Fatalf("monitors = %d, want 2", len(cfg.Monitors))
	}
	if got := cfg.Monitors[0]; got.URL != "http://ledger.internal/status" || got.Interval != 45 {
		t.Fatalf("ledger not replaced by include: %+v", got)
	}
	if got := cfg.Monitors[1].URL; got != "https://api.telegram.org/botabc123/getMe" {
		t.Fatalf("messaging url = %q", got)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "interval below floor",
			yaml: `
discord: {dry_run: true}
monitors:
  - {id: a, kind: crawler, url: "http://a", interval: 5}
`,
			wantErr: "interval must be at least 10",
		},
		{
			name: "duplicate id",
			yaml: `
discord: {dry_run: true}
monitors:
  - {id: a, kind: crawler, url: "http://a"}
  - {id: a, kind: ledger, url: "http://b"}
`,
			wantErr: "duplicate monitor ID",
		},
		{
			name: "unknown kind",
			yaml: `
discord: {dry_run: true}
monitors:
  - {id: a, kind: mainframe, url: "http://a"}
`,
			wantErr: "unknown kind",
		},
		{
			name: "missing url",
			yaml: `
discord: {dry_run: true}
monitors:
  - {id: a, kind: workflow}
`,
			wantErr: "has no url",
		},
		{
			name: "discord token required",
			yaml: `
discord:
  channels: {general: "123"}
monitors:
  - {id: a, kind: crawler, url: "http://a"}
`,
			wantErr: "discord.bot_token is required",
		},
		{
			name:    "no monitors",
			yaml:    "discord: {dry_run: true}\n",
			wantErr: "at least one monitor",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tt.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMonitorsSkipsDiscordRequirements(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("DISCORD_GENERAL_CHANNEL_ID", "")

	path := writeFile(t, t.TempDir(), "config.yaml", `
monitors:
  - {id: crawler, kind: crawler, url: "http://crawler.local"}
`)

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "discord.bot_token is required") {
		t.Fatalf("Load err = %v, want discord requirement", err)
	}

	cfg, err := LoadMonitors(path)
	if err != nil {
		t.Fatalf("LoadMonitors: %v", err)
	}
	if len(cfg.Monitors) != 1 || cfg.Monitors[0].Interval != 60 {
		t.Fatalf("monitors = %+v", cfg.Monitors)
	}

	bad := writeFile(t, t.TempDir(), "config.yaml", `
monitors:
  - {id: crawler, kind: crawler, url: "http://crawler.local", interval: 5}
`)
	if _, err := LoadMonitors(bad); err == nil {
		t.Fatal("LoadMonitors should still validate monitors")
	}
}

func TestServerAddr(t *testing.T) {
	tests := map[string]string{
		"10000":          ":10000",
		":9090":          ":9090",
		"127.0.0.1:8080": "127.0.0.1:8080",
	}
	for port, want := range tests {
		if got := (ServerConfig{Port: port}).Addr(); got != want {
			t.Errorf("Addr(%q) = %q, want %q", port, got, want)
		}
	}
}
