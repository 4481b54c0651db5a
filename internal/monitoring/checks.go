// internal/monitoring/checks.go
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fleetwatch/internal/config"
	"fleetwatch/internal/database"
	"fleetwatch/internal/probe"
)

// SemanticCheck interprets a successful fetch for one kind of service. A
// check belongs to a single worker and may keep state between cycles.
type SemanticCheck interface {
	Kind() string
	// Request adjusts the base request for the service's status endpoint.
	Request(base probe.Request) probe.Request
	// Inspect classifies the response. Returned alerts only need Title,
	// Message, Level and Details; the worker fills in the rest.
	Inspect(resp *probe.Response) (Result, error)
}

type Result struct {
	Status  Status
	Message string
	Alerts  []database.Alert
}

type checkFactory func(cfg config.MonitorConfig) (SemanticCheck, error)

var checkFactories = map[string]checkFactory{
	config.KindLedger:    newLedgerCheck,
	config.KindCrawler:   newCrawlerCheck,
	config.KindWorkflow:  newWorkflowCheck,
	config.KindMessaging: newMessagingCheck,
}

// NewCheck builds the semantic check for a monitor kind.
func NewCheck(cfg config.MonitorConfig) (SemanticCheck, error) {
	factory, exists := checkFactories[cfg.Kind]
	if !exists {
		return nil, fmt.Errorf("unknown check kind: %s", cfg.Kind)
	}
	return factory(cfg)
}

// LedgerCheck watches a block indexing service. It reports Degraded when
// the block height stops advancing for longer than stallAfter.
type LedgerCheck struct {
	stallAfter  time.Duration
	lastHeight  int64
	lastAdvance time.Time
	stalled     bool
	now         func() time.Time
}

func newLedgerCheck(cfg config.MonitorConfig) (SemanticCheck, error) {
	stallAfter, err := durationOption(cfg.Options, "stall_after", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	return &LedgerCheck{stallAfter: stallAfter, now: time.Now}, nil
}

func (c *LedgerCheck) Kind() string { return config.KindLedger }

func (c *LedgerCheck) Request(base probe.Request) probe.Request { return base }

func (c *LedgerCheck) Inspect(resp *probe.Response) (Result, error) {
	if height, ok := blockHeight(resp.Body); ok {
		return c.inspectHeight(height), nil
	}

	if bytes.Contains(resp.Body, []byte("Monitor is running")) {
		return Result{Status: StatusOnline, Message: "Monitor is running"}, nil
	}
	return Result{Status: StatusOnline, Message: "Service responded: " + excerpt(resp.Body, 100)}, nil
}

func (c *LedgerCheck) inspectHeight(height int64) Result {
	now := c.now()

	if c.lastAdvance.IsZero() || height != c.lastHeight {
		c.lastHeight = height
		c.lastAdvance = now
		c.stalled = false
		return Result{Status: StatusOnline, Message: fmt.Sprintf("Block height %d", height)}
	}

	idle := now.Sub(c.lastAdvance)
	if idle <= c.stallAfter {
		return Result{Status: StatusOnline, Message: fmt.Sprintf("Block height %d", height)}
	}

	result := Result{
		Status:  StatusDegraded,
		Message: fmt.Sprintf("Block height stuck at %d for %s", height, idle.Round(time.Second)),
	}
	if !c.stalled {
		c.stalled = true
		result.Alerts = []database.Alert{{
			Title:   "Block height not advancing",
			Message: result.Message,
			Level:   database.LevelMedium,
			Details: map[string]string{
				"block_height": strconv.FormatInt(height, 10),
				"stalled_for":  idle.Round(time.Second).String(),
			},
		}}
	}
	return result
}

func blockHeight(body []byte) (int64, bool) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, false
	}
	for _, key := range []string{"block_height", "blockHeight", "height"} {
		if h, ok := numberField(payload, key); ok {
			return int64(h), true
		}
	}
	return 0, false
}

// CrawlerCheck reads the crawler's JSON status document.
type CrawlerCheck struct {
	minSuccessRate float64
}

func newCrawlerCheck(cfg config.MonitorConfig) (SemanticCheck, error) {
	rate, err := floatOption(cfg.Options, "min_success_rate", 0.8)
	if err != nil {
		return nil, err
	}
	return &CrawlerCheck{minSuccessRate: normalizeRate(rate)}, nil
}

func (c *CrawlerCheck) Kind() string { return config.KindCrawler }

func (c *CrawlerCheck) Request(base probe.Request) probe.Request { return base }

func (c *CrawlerCheck) Inspect(resp *probe.Response) (Result, error) {
	if !looksLikeJSON(resp) {
		return Result{Status: StatusOnline, Message: "Service responded: " + excerpt(resp.Body, 100)}, nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return Result{Status: StatusOnline, Message: "Service responded with non-standard JSON"}, nil
	}

	status, _ := payload["status"].(string)
	if status != "success" {
		msg := fmt.Sprintf("Crawler reported status %q", status)
		if detail, ok := payload["message"].(string); ok && detail != "" {
			msg += ": " + detail
		}
		return Result{
			Status:  StatusDegraded,
			Message: msg,
			Alerts: []database.Alert{{
				Title:   "Crawler status not successful",
				Message: msg,
				Level:   database.LevelMedium,
				Details: map[string]string{"status": status},
			}},
		}, nil
	}

	if rate, ok := numberField(payload, "success_rate"); ok {
		rate = normalizeRate(rate)
		if rate < c.minSuccessRate {
			msg := fmt.Sprintf("Crawl success rate %.0f%% below %.0f%%", rate*100, c.minSuccessRate*100)
			return Result{
				Status:  StatusDegraded,
				Message: msg,
				Alerts: []database.Alert{{
					Title:   "Crawl success rate low",
					Message: msg,
					Level:   database.LevelMedium,
					Details: map[string]string{
						"success_rate": strconv.FormatFloat(rate, 'f', 3, 64),
						"threshold":    strconv.FormatFloat(c.minSuccessRate, 'f', 3, 64),
					},
				}},
			}, nil
		}
		return Result{Status: StatusOnline, Message: fmt.Sprintf("Crawler healthy, success rate %.0f%%", rate*100)}, nil
	}

	return Result{Status: StatusOnline, Message: "Crawler healthy"}, nil
}

// WorkflowCheck watches an n8n instance. When the endpoint returns an
// executions list, each newly seen failed execution raises a High alert.
type WorkflowCheck struct {
	seen map[string]bool
}

func newWorkflowCheck(cfg config.MonitorConfig) (SemanticCheck, error) {
	return &WorkflowCheck{seen: make(map[string]bool)}, nil
}

func (c *WorkflowCheck) Kind() string { return config.KindWorkflow }

// Request adds the n8n API key header alongside the bearer credential.
func (c *WorkflowCheck) Request(base probe.Request) probe.Request {
	if base.APIKey == "" {
		return base
	}
	header := make(map[string]string, len(base.Header)+1)
	for k, v := range base.Header {
		header[k] = v
	}
	header["X-N8N-API-KEY"] = base.APIKey
	base.Header = header
	return base
}

type workflowExecution struct {
	ID           json.RawMessage `json:"id"`
	Status       string          `json:"status"`
	Finished     bool            `json:"finished"`
	WorkflowID   json.RawMessage `json:"workflowId"`
	WorkflowName string          `json:"workflowName"`
	StoppedAt    string          `json:"stoppedAt"`
}

func (c *WorkflowCheck) Inspect(resp *probe.Response) (Result, error) {
	var payload struct {
		Data []workflowExecution `json:"data"`
	}
	if looksLikeJSON(resp) && json.Unmarshal(resp.Body, &payload) == nil && payload.Data != nil {
		return c.inspectExecutions(payload.Data), nil
	}

	if bytes.Contains(bytes.ToLower(resp.Body), []byte("n8n")) {
		return Result{Status: StatusOnline, Message: "n8n is running"}, nil
	}
	return Result{Status: StatusOnline, Message: "Service responded: " + excerpt(resp.Body, 100)}, nil
}

func (c *WorkflowCheck) inspectExecutions(executions []workflowExecution) Result {
	current := make(map[string]bool, len(executions))
	var alerts []database.Alert
	failed := 0

	for _, exec := range executions {
		switch strings.ToLower(exec.Status) {
		case "error", "crashed", "failed":
		default:
			continue
		}
		failed++

		id := rawString(exec.ID)
		current[id] = true
		if c.seen[id] {
			continue
		}

		workflow := exec.WorkflowName
		if workflow == "" {
			workflow = rawString(exec.WorkflowID)
		}
		alerts = append(alerts, database.Alert{
			Title:   fmt.Sprintf("Workflow execution %s failed", id),
			Message: fmt.Sprintf("Workflow %s finished with status %s", workflow, exec.Status),
			Level:   database.LevelHigh,
			Details: map[string]string{
				"execution_id": id,
				"workflow":     workflow,
				"status":       exec.Status,
				"stopped_at":   exec.StoppedAt,
			},
		})
	}

	// Forget executions that dropped out of the list.
	c.seen = current

	if failed == 0 {
		return Result{Status: StatusOnline, Message: fmt.Sprintf("n8n is running, %d recent executions", len(executions))}
	}
	return Result{
		Status:  StatusDegraded,
		Message: fmt.Sprintf("%d of %d recent executions failed", failed, len(executions)),
		Alerts:  alerts,
	}
}

// MessagingCheck calls the Telegram Bot API getMe method.
type MessagingCheck struct{}

func newMessagingCheck(cfg config.MonitorConfig) (SemanticCheck, error) {
	return &MessagingCheck{}, nil
}

func (c *MessagingCheck) Kind() string { return config.KindMessaging }

func (c *MessagingCheck) Request(base probe.Request) probe.Request { return base }

func (c *MessagingCheck) Inspect(resp *probe.Response) (Result, error) {
	var payload struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		Result      struct {
			Username  string `json:"username"`
			FirstName string `json:"first_name"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return Result{}, fmt.Errorf("failed to parse getMe response: %w", err)
	}

	if !payload.OK {
		msg := "bot misconfigured: " + payload.Description
		return Result{
			Status:  StatusDegraded,
			Message: msg,
			Alerts: []database.Alert{{
				Title:   "Messaging bot misconfigured",
				Message: msg,
				Level:   database.LevelHigh,
				Details: map[string]string{"description": payload.Description},
			}},
		}, nil
	}

	name := payload.Result.Username
	if name == "" {
		name = payload.Result.FirstName
	}
	return Result{Status: StatusOnline, Message: fmt.Sprintf("Bot @%s is responding", name)}, nil
}

// Helper functions

func looksLikeJSON(resp *probe.Response) bool {
	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		return true
	}
	trimmed := bytes.TrimSpace(resp.Body)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

func numberField(payload map[string]interface{}, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// normalizeRate accepts both fractions and percentages.
func normalizeRate(rate float64) float64 {
	if rate > 1 {
		return rate / 100
	}
	return rate
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func excerpt(body []byte, limit int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

func durationOption(options map[string]string, key string, def time.Duration) (time.Duration, error) {
	raw, ok := options[key]
	if !ok || raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s option %q: %w", key, raw, err)
	}
	return d, nil
}

func floatOption(options map[string]string, key string, def float64) (float64, error) {
	raw, ok := options[key]
	if !ok || raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s option %q: %w", key, raw, err)
	}
	return f, nil
}
