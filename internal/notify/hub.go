// Package notify delivers fire-and-forget notifications: outbound mail and
// live issue events for websocket clients.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/metrics"
	"github.com/decisionhub/backend/pkg/logger"
)

const defaultBuffer = 16

type Event struct {
	Type      string      `json:"type"`
	IssueID   string      `json:"issueId"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Hub fans issue events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
	now    func() time.Time
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		now:    time.Now,
	}
}

type Subscription struct {
	C <-chan Event

	ch      chan Event
	hub     *Hub
	issueID string
	once    sync.Once
}

func (h *Hub) Subscribe(issueID string) *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h, issueID: issueID}

	h.mu.Lock()
	set, ok := h.subs[issueID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[issueID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	logger.Debug("Event subscriber added", zap.String("issue_id", issueID))
	return s
}

// Close detaches the subscription and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if set, ok := h.subs[s.issueID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.issueID)
			}
		}
		close(s.ch)
		h.mu.Unlock()
	})
}

func (h *Hub) Publish(issueID, kind string, data interface{}) {
	ev := Event{Type: kind, IssueID: issueID, Data: data, Timestamp: h.now()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[issueID] {
		select {
		case s.ch <- ev:
		default:
			metrics.NotificationFailures.WithLabelValues("hub").Inc()
			logger.Warn("Dropped issue event for slow subscriber",
				zap.String("issue_id", issueID),
				zap.String("type", kind),
			)
		}
	}
}

// Subscribers reports how many clients follow an issue.
func (h *Hub) Subscribers(issueID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[issueID])
}
