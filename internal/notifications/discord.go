// internal/notifications/discord.go - Discord bot notification client
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fleetwatch/internal/config"
)

const (
	DefaultDiscordAPIURL = "https://discord.com/api/v10"
	UserAgent            = "DiscordBot (fleetwatch, 1.0)"
)

// DiscordClient posts and edits embed messages through the Discord REST API.
type DiscordClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordMessagePayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

type discordMessageResponse struct {
	ID string `json:"id"`
}

type discordErrorResponse struct {
	Message    string  `json:"message"`
	Code       int     `json:"code"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

// NewDiscordClient creates a new Discord client
func NewDiscordClient(cfg *config.DiscordConfig) (*DiscordClient, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultDiscordAPIURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &DiscordClient{
		token:      cfg.BotToken,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Send posts msg to channel and returns the new message id.
func (dc *DiscordClient) Send(ctx context.Context, channel string, msg Message) (string, error) {
	endpoint := fmt.Sprintf("%s/channels/%s/messages", dc.baseURL, url.PathEscape(channel))

	body, status, err := dc.do(ctx, http.MethodPost, endpoint, msg)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", dc.apiError(status, body)
	}

	var created discordMessageResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("discord API returned no message id")
	}

	logrus.WithFields(logrus.Fields{
		"channel":    channel,
		"message_id": created.ID,
		"title":      msg.Title,
	}).Debug("Discord message sent")

	return created.ID, nil
}

// Edit replaces the embed of an existing message. A 404 maps to
// ErrMessageNotFound.
func (dc *DiscordClient) Edit(ctx context.Context, channel, handle string, msg Message) error {
	endpoint := fmt.Sprintf("%s/channels/%s/messages/%s",
		dc.baseURL, url.PathEscape(channel), url.PathEscape(handle))

	body, status, err := dc.do(ctx, http.MethodPatch, endpoint, msg)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, handle)
	}
	if status < 200 || status >= 300 {
		return dc.apiError(status, body)
	}
	return nil
}

func (dc *DiscordClient) do(ctx context.Context, method, endpoint string, msg Message) ([]byte, int, error) {
	jsonData, err := json.Marshal(discordMessagePayload{Embeds: []discordEmbed{toEmbed(msg)}})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+dc.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := dc.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (dc *DiscordClient) apiError(status int, body []byte) error {
	var apiErr discordErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		if status == http.StatusTooManyRequests {
			return fmt.Errorf("discord API rate limited: retry after %.1fs", apiErr.RetryAfter)
		}
		return fmt.Errorf("discord API error: status %d: %s (code %d)", status, apiErr.Message, apiErr.Code)
	}
	return fmt.Errorf("discord API error: status %d", status)
}

func toEmbed(msg Message) discordEmbed {
	msg = msg.Clamp()

	embed := discordEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       msg.Color,
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if msg.Footer != "" {
		embed.Footer = &discordEmbedFooter{Text: msg.Footer}
	}
	if !msg.Timestamp.IsZero() {
		embed.Timestamp = msg.Timestamp.UTC().Format(time.RFC3339)
	}
	return embed
}
