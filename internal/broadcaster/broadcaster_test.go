package broadcaster

import (
	"testing"

	"github.com/nexuscore/runtime/pkg/models"
)

func TestSubscribeBroadcastUnsubscribe(t *testing.T) {
	b := New(0, nil)

	id, ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", b.ClientCount())
	}

	b.Broadcast(models.NewBroadcastEvent("agent.response", map[string]any{"text": "hi"}))

	got := <-ch
	if got.Event != "agent.response" {
		t.Errorf("Event = %q, want agent.response", got.Event)
	}

	b.Unsubscribe(id)
	if b.ClientCount() != 0 {
		t.Errorf("ClientCount after unsubscribe = %d, want 0", b.ClientCount())
	}

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestUnsubscribeThenBroadcastDoesNotBlockOrPanic(t *testing.T) {
	b := New(0, nil)
	id, _ := b.Subscribe()
	b.Unsubscribe(id)

	b.Broadcast(models.NewBroadcastEvent("agent.response", nil))
	b.Unsubscribe(id) // idempotent, must not panic
}

func TestBroadcastDropsOnFullQueue(t *testing.T) {
	b := New(1, nil)
	_, ch := b.Subscribe()

	b.Broadcast(models.NewBroadcastEvent("e1", nil))
	b.Broadcast(models.NewBroadcastEvent("e2", nil)) // dropped, queue full

	got := <-ch
	if got.Event != "e1" {
		t.Errorf("Event = %q, want e1", got.Event)
	}
	select {
	case <-ch:
		t.Fatal("expected no second event, e2 should have been dropped")
	default:
	}
}

func TestPerSubscriberFIFO(t *testing.T) {
	b := New(10, nil)
	_, ch := b.Subscribe()

	tags := []string{"a", "b", "c"}
	for _, tag := range tags {
		b.Broadcast(models.NewBroadcastEvent(tag, nil))
	}

	for _, want := range tags {
		got := <-ch
		if got.Event != want {
			t.Errorf("Event = %q, want %q", got.Event, want)
		}
	}
}
