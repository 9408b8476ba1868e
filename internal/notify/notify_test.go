package notify

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestHubDeliversToIssueSubscribers(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe("issue-1")
	b := h.Subscribe("issue-1")
	other := h.Subscribe("issue-2")
	t.Cleanup(func() {
		a.Close()
		b.Close()
		other.Close()
	})

	h.Publish("issue-1", "round.resolved", map[string]int{"phase": 2})

	for _, s := range []*Subscription{a, b} {
		select {
		case ev := <-s.C:
			if ev.Type != "round.resolved" || ev.IssueID != "issue-1" {
				t.Errorf("got event %+v", ev)
			}
			if ev.Timestamp.IsZero() {
				t.Error("event has no timestamp")
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	select {
	case ev := <-other.C:
		t.Errorf("subscriber of another issue got %+v", ev)
	default:
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe("issue-1")
	defer s.Close()

	h.Publish("issue-1", "first", nil)
	h.Publish("issue-1", "second", nil)

	ev := <-s.C
	if ev.Type != "first" {
		t.Fatalf("expected first event, got %s", ev.Type)
	}
	select {
	case ev := <-s.C:
		t.Fatalf("expected the second event to be dropped, got %s", ev.Type)
	default:
	}
}

func TestSubscriptionClose(t *testing.T) {
	h := NewHub(0)
	s := h.Subscribe("issue-1")
	if n := h.Subscribers("issue-1"); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}

	s.Close()
	s.Close()

	if n := h.Subscribers("issue-1"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
	if _, ok := <-s.C; ok {
		t.Fatal("expected closed channel")
	}

	// Publishing after close must not panic.
	h.Publish("issue-1", "late", nil)
}

func TestLogMailer(t *testing.T) {
	m := NewLogMailer("noreply@example.com", zap.NewNop())
	if err := m.Send(context.Background(), "ana@example.com", "Invitation", "body"); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Send(ctx, "ana@example.com", "Invitation", "body"); err == nil {
		t.Fatal("expected an error for a cancelled context")
	}
}
