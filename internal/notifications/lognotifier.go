// internal/notifications/lognotifier.go
package notifications

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogNotifier writes messages to the log instead of a chat service. It is
// used for dry runs and keeps the latest version of every message so edits
// behave like the real client.
type LogNotifier struct {
	mu       sync.RWMutex
	messages map[string]Message
	channels map[string]string
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{
		messages: make(map[string]Message),
		channels: make(map[string]string),
	}
}

func (ln *LogNotifier) Send(ctx context.Context, channel string, msg Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	handle := uuid.NewString()
	msg = msg.Clamp()

	ln.mu.Lock()
	ln.messages[handle] = msg
	ln.channels[handle] = channel
	ln.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"channel": channel,
		"handle":  handle,
		"title":   msg.Title,
		"fields":  len(msg.Fields),
	}).Info("Notification sent (dry run)")

	return handle, nil
}

func (ln *LogNotifier) Edit(ctx context.Context, channel, handle string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ln.mu.Lock()
	defer ln.mu.Unlock()

	if owner, exists := ln.channels[handle]; !exists || owner != channel {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, handle)
	}
	ln.messages[handle] = msg.Clamp()

	logrus.WithFields(logrus.Fields{
		"channel": channel,
		"handle":  handle,
		"title":   msg.Title,
	}).Debug("Notification edited (dry run)")

	return nil
}

// Message returns the current body stored under handle.
func (ln *LogNotifier) Message(handle string) (Message, bool) {
	ln.mu.RLock()
	defer ln.mu.RUnlock()
	msg, ok := ln.messages[handle]
	return msg, ok
}

// Delete forgets a message, so later edits report ErrMessageNotFound.
func (ln *LogNotifier) Delete(handle string) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	delete(ln.messages, handle)
	delete(ln.channels, handle)
}

func (ln *LogNotifier) Len() int {
	ln.mu.RLock()
	defer ln.mu.RUnlock()
	return len(ln.messages)
}
