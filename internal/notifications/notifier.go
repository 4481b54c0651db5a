// internal/notifications/notifier.go
package notifications

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"
)

// Display limits for a single rendered message.
const (
	MaxTitleLength       = 256
	MaxDescriptionLength = 4096
	MaxFieldNameLength   = 256
	MaxFieldValueLength  = 1024
	MaxFooterLength      = 2048
	MaxFields            = 25
)

// ErrMessageNotFound is returned by Edit when the target message no longer
// exists on the channel.
var ErrMessageNotFound = errors.New("message not found")

// Notifier delivers messages to chat channels.
type Notifier interface {
	// Send posts a new message and returns its handle.
	Send(ctx context.Context, channel string, msg Message) (string, error)
	// Edit replaces the message identified by handle.
	Edit(ctx context.Context, channel, handle string, msg Message) error
}

type Message struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
	Footer      string
	Timestamp   time.Time
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Truncate shortens s to at most limit runes, marking the cut with "...".
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 3 {
		return string([]rune(s)[:limit])
	}
	return string([]rune(s)[:limit-3]) + "..."
}

// Clamp returns a copy of msg that fits the display limits.
func (m Message) Clamp() Message {
	out := Message{
		Title:       Truncate(m.Title, MaxTitleLength),
		Description: Truncate(m.Description, MaxDescriptionLength),
		Color:       m.Color,
		Footer:      Truncate(m.Footer, MaxFooterLength),
		Timestamp:   m.Timestamp,
	}

	fields := m.Fields
	if len(fields) > MaxFields {
		fields = fields[:MaxFields]
	}
	out.Fields = make([]Field, 0, len(fields))
	for _, f := range fields {
		value := f.Value
		if value == "" {
			value = "-"
		}
		out.Fields = append(out.Fields, Field{
			Name:   Truncate(f.Name, MaxFieldNameLength),
			Value:  Truncate(value, MaxFieldValueLength),
			Inline: f.Inline,
		})
	}
	return out
}
