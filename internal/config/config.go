// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MinInterval is the smallest polling interval, in seconds, a monitor accepts.
const MinInterval = 10

// Monitor kinds understood by the engine.
const (
	KindLedger    = "ledger"
	KindCrawler   = "crawler"
	KindWorkflow  = "workflow"
	KindMessaging = "messaging"
)

var knownKinds = map[string]bool{
	KindLedger:    true,
	KindCrawler:   true,
	KindWorkflow:  true,
	KindMessaging: true,
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
	Discord    DiscordConfig    `yaml:"discord"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Admin      AdminConfig      `yaml:"admin"`
	Monitors   []MonitorConfig  `yaml:"monitors"`
	Include    IncludeConfig    `yaml:"include"`
}

type ServerConfig struct {
	Port         string        `yaml:"port" env:"PORT" env-default:"10000"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
}

// Addr returns a listen address for the configured port.
func (s ServerConfig) Addr() string {
	if strings.Contains(s.Port, ":") {
		return s.Port
	}
	return ":" + s.Port
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"text"`
}

type DatabaseConfig struct {
	Disabled      bool          `yaml:"disabled" env:"JOURNAL_DISABLED"`
	Path          string        `yaml:"path" env:"JOURNAL_PATH" env-default:"./data/fleetwatch.db"`
	Retention     time.Duration `yaml:"retention" env:"JOURNAL_RETENTION" env-default:"168h"`
	PurgeSchedule string        `yaml:"purge_schedule" env-default:"@every 6h"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled" env:"PROMETHEUS_ENABLED"`
	MetricsPath string `yaml:"metrics_path" env-default:"/metrics"`
}

type DiscordConfig struct {
	BotToken       string         `yaml:"bot_token" env:"DISCORD_BOT_TOKEN"`
	BaseURL        string         `yaml:"base_url" env:"DISCORD_API_URL" env-default:"https://discord.com/api/v10"`
	DryRun         bool           `yaml:"dry_run" env:"DISCORD_DRY_RUN"`
	RequestTimeout time.Duration  `yaml:"request_timeout" env-default:"10s"`
	Channels       ChannelsConfig `yaml:"channels"`
}

// ChannelsConfig holds the shared channels. Per-service channels live on
// each monitor.
type ChannelsConfig struct {
	General string `yaml:"general" env:"DISCORD_GENERAL_CHANNEL_ID"`
	Alerts  string `yaml:"alerts" env:"DISCORD_ALERTS_CHANNEL_ID"`
}

type MonitoringConfig struct {
	DefaultInterval int           `yaml:"default_interval" env:"POLLING_INTERVAL" env-default:"60"`
	ReachTimeout    time.Duration `yaml:"reach_timeout" env-default:"5s"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout" env-default:"10s"`
	FetchRetries    int           `yaml:"fetch_retries" env-default:"3"`
	RetryDelay      time.Duration `yaml:"retry_delay" env-default:"1s"`
	HistorySize     int           `yaml:"history_size" env-default:"100"`
}

type AlertingConfig struct {
	// RepeatInterval suppresses re-delivery of the same monitor/title/level
	// inside the window. Zero delivers a reminder every cycle.
	RepeatInterval       time.Duration `yaml:"repeat_interval" env:"ALERT_REPEAT_INTERVAL"`
	DedupRetention       time.Duration `yaml:"dedup_retention" env:"ALERT_DEDUP_RETENTION" env-default:"24h"`
	QueueSize            int           `yaml:"queue_size" env-default:"256"`
	DeliveryTimeout      time.Duration `yaml:"delivery_timeout" env-default:"10s"`
	HousekeepingSchedule string        `yaml:"housekeeping_schedule" env-default:"@every 1h"`
}

type DashboardConfig struct {
	Period time.Duration `yaml:"period" env:"DASHBOARD_PERIOD" env-default:"30s"`
	Title  string        `yaml:"title" env-default:"📊 Service monitor dashboard"`
}

type AdminConfig struct {
	Token string `yaml:"token" env:"ADMIN_TOKEN"`
}

type MonitorConfig struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Kind     string            `yaml:"kind"`
	URL      string            `yaml:"url"`
	APIKey   string            `yaml:"api_key"`
	BotToken string            `yaml:"bot_token"`
	Interval int               `yaml:"interval"`
	Channel  string            `yaml:"channel"`
	Options  map[string]string `yaml:"options"`
}

type IncludeConfig struct {
	Directory string `yaml:"directory"`
	Pattern   string `yaml:"pattern"`
	Enabled   bool   `yaml:"enabled"`
}

// PartialConfig is the shape of an include file. Only monitors are merged.
type PartialConfig struct {
	Monitors []MonitorConfig `yaml:"monitors,omitempty"`
}

// Load reads the configuration file, merges includes, applies environment
// overrides and defaults, and validates the result.
func Load(filename string) (*Config, error) {
	return load(filename, true)
}

// LoadMonitors is Load without the Discord requirements, for tools that
// only run checks.
func LoadMonitors(filename string) (*Config, error) {
	return load(filename, false)
}

func load(filename string, requireDiscord bool) (*Config, error) {
	// A missing .env is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config, err := loadConfigFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config file: %w", err)
	}

	if config.Include.Enabled && config.Include.Directory != "" {
		if err := loadIncludes(config, filepath.Dir(filename)); err != nil {
			return nil, fmt.Errorf("failed to load includes: %w", err)
		}
	}

	if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	setDefaults(config)

	if err := validate(config, requireDiscord); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadConfigFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

func loadIncludes(config *Config, baseDir string) error {
	includeDir := config.Include.Directory
	if !filepath.IsAbs(includeDir) {
		includeDir = filepath.Join(baseDir, includeDir)
	}

	if _, err := os.Stat(includeDir); os.IsNotExist(err) {
		return fmt.Errorf("include directory does not exist: %s", includeDir)
	}

	pattern := config.Include.Pattern
	if pattern == "" {
		pattern = "*.yaml"
	}

	matches, err := filepath.Glob(filepath.Join(includeDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to glob include pattern: %w", err)
	}

	if pattern == "*.yaml" {
		ymlMatches, err := filepath.Glob(filepath.Join(includeDir, "*.yml"))
		if err != nil {
			return fmt.Errorf("failed to glob .yml files: %w", err)
		}
		matches = append(matches, ymlMatches...)
	}

	sort.Slice(matches, func(i, j int) bool {
		return filepath.Base(matches[i]) < filepath.Base(matches[j])
	})

	for _, match := range matches {
		if err := loadAndMergeInclude(config, match); err != nil {
			return fmt.Errorf("failed to load include file %s: %w", match, err)
		}
	}

	return nil
}

func loadAndMergeInclude(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read include file: %w", err)
	}

	var partial PartialConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &partial); err != nil {
		return fmt.Errorf("failed to parse include file YAML: %w", err)
	}

	mergeMonitors(config, partial.Monitors)
	return nil
}

// mergeMonitors appends new monitors and replaces ones with a matching ID.
func mergeMonitors(config *Config, monitors []MonitorConfig) {
	index := make(map[string]int, len(config.Monitors))
	for i, m := range config.Monitors {
		index[m.ID] = i
	}

	for _, m := range monitors {
		if i, exists := index[m.ID]; exists {
			config.Monitors[i] = m
			continue
		}
		config.Monitors = append(config.Monitors, m)
		index[m.ID] = len(config.Monitors) - 1
	}
}

func setDefaults(cfg *Config) {
	if cfg.Include.Pattern == "" {
		cfg.Include.Pattern = "*.yaml"
	}
	if cfg.Monitoring.FetchRetries < 1 {
		cfg.Monitoring.FetchRetries = 1
	}

	for i := range cfg.Monitors {
		m := &cfg.Monitors[i]
		m.Kind = strings.ToLower(strings.TrimSpace(m.Kind))
		if m.Name == "" {
			m.Name = m.ID
		}
		if m.Interval == 0 {
			m.Interval = cfg.Monitoring.DefaultInterval
		}
		if m.Kind == KindMessaging && m.URL == "" && m.BotToken != "" {
			m.URL = fmt.Sprintf("https://api.telegram.org/bot%s/getMe", m.BotToken)
		}
	}
}

func validate(cfg *Config, requireDiscord bool) error {
	if cfg.Monitoring.DefaultInterval < MinInterval {
		return fmt.Errorf("monitoring.default_interval must be at least %d seconds", MinInterval)
	}
	if cfg.Monitoring.HistorySize < 1 {
		return fmt.Errorf("monitoring.history_size must be at least 1")
	}
	if cfg.Monitoring.RetryDelay <= 0 {
		return fmt.Errorf("monitoring.retry_delay must be positive")
	}
	if cfg.Dashboard.Period <= 0 {
		return fmt.Errorf("dashboard.period must be positive")
	}
	if cfg.Alerting.RepeatInterval < 0 {
		return fmt.Errorf("alerting.repeat_interval cannot be negative")
	}

	if requireDiscord && !cfg.Discord.DryRun {
		if cfg.Discord.BotToken == "" {
			return fmt.Errorf("discord.bot_token is required (set DISCORD_BOT_TOKEN or discord.dry_run)")
		}
		if cfg.Discord.Channels.General == "" {
			return fmt.Errorf("discord.channels.general is required (set DISCORD_GENERAL_CHANNEL_ID)")
		}
	}

	if cfg.Include.Enabled && cfg.Include.Directory == "" {
		return fmt.Errorf("include.directory must be specified when include.enabled is true")
	}

	if len(cfg.Monitors) == 0 {
		return fmt.Errorf("at least one monitor must be configured")
	}

	ids := make(map[string]bool)
	for _, m := range cfg.Monitors {
		if m.ID == "" {
			return fmt.Errorf("monitor %q has no id", m.Name)
		}
		if ids[m.ID] {
			return fmt.Errorf("duplicate monitor ID: %s", m.ID)
		}
		ids[m.ID] = true

		if !knownKinds[m.Kind] {
			return fmt.Errorf("monitor '%s' has unknown kind %q", m.ID, m.Kind)
		}
		if m.URL == "" {
			return fmt.Errorf("monitor '%s' has no url", m.ID)
		}
		if !isValidURL(m.URL) {
			return fmt.Errorf("monitor '%s' url must be an http(s) URL", m.ID)
		}
		if m.Interval < MinInterval {
			return fmt.Errorf("monitor '%s' interval must be at least %d seconds", m.ID, MinInterval)
		}
	}

	return nil
}

func isValidURL(str string) bool {
	return strings.HasPrefix(str, "http://") || strings.HasPrefix(str, "https://")
}
