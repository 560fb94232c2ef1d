// Package notifications delivers application events to reviewers connected
// to the live feed.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/models"

	"github.com/redis/go-redis/v9"
)

// EventsChannel is the Redis channel application events are fanned out on.
const EventsChannel = "applications:events"

// Event is one live feed message.
type Event struct {
	Type            string          `json:"type"`
	ApplicationType string          `json:"applicationType,omitempty"`
	Payload         json.RawMessage `json:"payload"`
	Timestamp       time.Time       `json:"timestamp"`
}

// NewEvent wraps payload in an Event. Application payloads carry their type
// so the hub can route them to the reviewers allowed to see them.
func NewEvent(eventType string, payload any, now time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal payload: %w", err)
	}
	ev := Event{Type: eventType, Payload: raw, Timestamp: now.UTC()}
	switch p := payload.(type) {
	case *models.Application:
		ev.ApplicationType = p.Type
	case models.Application:
		ev.ApplicationType = p.Type
	}
	return ev, nil
}

// Notifier publishes application events into Redis so every instance's hub
// sees them.
type Notifier struct {
	rdb *redis.Client
	now func() time.Time
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb, now: time.Now}
}

// Publish implements the service event publisher. A nil client is a no-op.
func (n *Notifier) Publish(ctx context.Context, eventType string, payload any) error {
	if n.rdb == nil {
		return nil
	}
	ev, err := NewEvent(eventType, payload, n.now())
	if err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return n.rdb.Publish(ctx, EventsChannel, data).Err()
}

// StartSubscriber subscribes to EventsChannel and calls onEvent for each
// decodable message until ctx is done.
func (n *Notifier) StartSubscriber(ctx context.Context, onEvent func(Event)) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.Subscribe(ctx, EventsChannel)
	// Wait for the subscription so events published right after start are seen.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", EventsChannel, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					middleware.Logger.Warn("dropping malformed feed event", slog.String("error", err.Error()))
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in feed subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onEvent(ev)
				}()
			}
		}
	}()

	return nil
}
