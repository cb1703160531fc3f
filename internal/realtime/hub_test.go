package realtime

import (
	"context"
	"testing"
	"time"
)

func recv(t *testing.T, s *Subscription) Change {
	t.Helper()
	select {
	case c, ok := <-s.C():
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
	return Change{}
}

func assertEmpty(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case c := <-s.C():
		t.Fatalf("unexpected change %+v", c)
	default:
	}
}

func TestHub_PublishFiltered(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(0)

	c1, _ := hub.Subscribe(ctx, Filter{Table: "messages", Type: Insert, Column: "conversation_id", Value: "c1"})
	all, _ := hub.Subscribe(ctx, Filter{Table: "messages"})
	defer c1.Close()
	defer all.Close()

	hub.Publish(ctx, Change{Table: "messages", Type: Insert, Keys: map[string]string{"conversation_id": "c2"}})
	hub.Publish(ctx, Change{Table: "messages", Type: Insert, Keys: map[string]string{"conversation_id": "c1"}})

	if got := recv(t, c1); got.Keys["conversation_id"] != "c1" {
		t.Errorf("c1 subscriber got %+v", got)
	}
	assertEmpty(t, c1)

	if got := recv(t, all); got.Keys["conversation_id"] != "c2" {
		t.Errorf("first change = %+v, want c2", got)
	}
	if got := recv(t, all); got.Keys["conversation_id"] != "c1" {
		t.Errorf("second change = %+v, want c1", got)
	}
}

func TestHub_PublishSetsTimestamp(t *testing.T) {
	hub := NewHub(4)
	s, _ := hub.Subscribe(context.Background(), Filter{})
	defer s.Close()
	hub.Publish(context.Background(), Change{Table: "messages", Type: Insert})
	if recv(t, s).At.IsZero() {
		t.Error("At not stamped")
	}
}

func TestSubscription_CloseIdempotent(t *testing.T) {
	hub := NewHub(4)
	s, err := hub.Subscribe(context.Background(), Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if hub.Active() != 1 {
		t.Fatalf("Active = %d, want 1", hub.Active())
	}
	s.Close()
	s.Close()
	if !s.Closed() {
		t.Error("Closed() = false")
	}
	if hub.Active() != 0 {
		t.Errorf("Active = %d after close, want 0", hub.Active())
	}
	if _, ok := <-s.C(); ok {
		t.Error("channel still open")
	}
	// Publishing after close must not panic.
	hub.Publish(context.Background(), Change{Table: "messages", Type: Insert})
}

func TestSubscription_ClosedByContext(t *testing.T) {
	hub := NewHub(4)
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := hub.Subscribe(ctx, Filter{})
	cancel()

	select {
	case _, ok := <-s.C():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed by context")
	}
	deadline := time.Now().Add(time.Second)
	for hub.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Active() != 0 {
		t.Errorf("Active = %d, want 0", hub.Active())
	}
}

func TestHub_SubscribeCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewHub(1).Subscribe(ctx, Filter{}); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestSubscription_OverflowQueuesResync(t *testing.T) {
	hub := NewHub(2)
	s, _ := hub.Subscribe(context.Background(), Filter{Table: "messages"})
	defer s.Close()

	for i := 0; i < 5; i++ {
		hub.Publish(context.Background(), Change{Table: "messages", Type: Insert})
	}

	if got := recv(t, s).Type; got != Insert {
		t.Errorf("first = %s, want INSERT", got)
	}
	if got := recv(t, s).Type; got != Insert {
		t.Errorf("second = %s, want INSERT", got)
	}
	if got := recv(t, s).Type; got != Resync {
		t.Errorf("third = %s, want RESYNC", got)
	}
	assertEmpty(t, s)

	// Delivery resumes once drained.
	hub.Publish(context.Background(), Change{Table: "messages", Type: Update})
	if got := recv(t, s).Type; got != Update {
		t.Errorf("after drain = %s, want UPDATE", got)
	}
}
