package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max connections per reviewer
	maxConnsPerReviewer = 5
	// Max total connections
	maxTotalConns = 500
)

var (
	// ErrHubClosed is returned by Register after Shutdown.
	ErrHubClosed = errors.New("feed is shutting down")
	// ErrServerLimit is returned when the hub is full.
	ErrServerLimit = errors.New("server connection limit reached")
	// ErrReviewerLimit is returned when a reviewer has too many open feeds.
	ErrReviewerLimit = errors.New("reviewer connection limit reached")
)

// Hub fans application events out to connected reviewers, each seeing only
// the types they may review.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	perReviewer map[string]int
	closed      bool
	now         func() time.Time
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients:     make(map[*Client]struct{}),
		perReviewer: make(map[string]int),
		now:         time.Now,
	}
}

// Register adds a connection for reviewerID restricted to types.
func (h *Hub) Register(reviewerID string, types []string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case h.closed:
		return nil, ErrHubClosed
	case len(h.clients) >= maxTotalConns:
		return nil, ErrServerLimit
	case h.perReviewer[reviewerID] >= maxConnsPerReviewer:
		return nil, ErrReviewerLimit
	}

	c := newClient(h, conn, reviewerID, types)
	h.clients[c] = struct{}{}
	h.perReviewer[reviewerID]++
	observability.FeedConnections.Inc()
	return c, nil
}

// Unregister removes c and closes its send channel. It is idempotent.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(c)
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if h.perReviewer[c.ReviewerID]--; h.perReviewer[c.ReviewerID] <= 0 {
		delete(h.perReviewer, c.ReviewerID)
	}
	close(c.Send)
	observability.FeedConnections.Dec()
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Deliver sends ev to every client allowed to see it.
func (h *Hub) Deliver(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		middleware.Logger.Error("failed to encode feed event", slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.Accepts(ev.ApplicationType) {
			c.TrySend(data)
		}
	}
}

// Publish delivers directly to this instance's clients. It serves
// deployments without Redis.
func (h *Hub) Publish(_ context.Context, eventType string, payload any) error {
	ev, err := NewEvent(eventType, payload, h.now())
	if err != nil {
		return err
	}
	h.Deliver(ev)
	return nil
}

// StartWiring forwards every event the notifier receives to this hub.
func (h *Hub) StartWiring(ctx context.Context, n *Notifier) error {
	return n.StartSubscriber(ctx, h.Deliver)
}

// Shutdown closes every client's send channel, which makes its write pump
// send a going-away frame, and refuses new registrations.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		h.remove(c)
	}
	return nil
}
