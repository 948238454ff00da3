// Package broadcaster fans out structured events to subscribers with
// backpressure: a full subscriber queue drops the event rather than
// blocking the producing dispatch.
package broadcaster

import (
	"log/slog"
	"sync"

	"github.com/nexuscore/runtime/pkg/models"
)

// DefaultQueueCapacity is the default per-subscriber buffered channel size.
const DefaultQueueCapacity = 100

// ClientID identifies one subscriber.
type ClientID uint64

// Broadcaster is a process-wide, multi-subscriber fan-out of BroadcastEvents.
// Subscribers each get an independent bounded queue; broadcast never blocks.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[ClientID]chan models.BroadcastEvent
	nextID   ClientID
	capacity int
	logger   *slog.Logger
}

// New creates a Broadcaster with the given per-subscriber queue capacity.
// A capacity <= 0 uses DefaultQueueCapacity.
func New(capacity int, logger *slog.Logger) *Broadcaster {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:     make(map[ClientID]chan models.BroadcastEvent),
		capacity: capacity,
		logger:   logger.With("component", "broadcaster"),
	}
}

// Subscribe allocates a bounded queue and returns its id and receive end.
func (b *Broadcaster) Subscribe() (ClientID, <-chan models.BroadcastEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan models.BroadcastEvent, b.capacity)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscriber's queue. Safe to call on an
// already-unsubscribed id.
func (b *Broadcaster) Unsubscribe(id ClientID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(ch)
}

// Broadcast sends the event to every subscriber, non-blocking. A subscriber
// whose queue is full has the event dropped with a single warning log.
func (b *Broadcaster) Broadcast(event models.BroadcastEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("dropping event: subscriber queue full",
				"client_id", id, "event", event.Event)
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Sink is a narrow interface a transport forwarder can implement to consume
// a subscriber's event stream.
type Sink interface {
	Emit(event models.BroadcastEvent)
}

// Forward reads from ch until it is closed, calling sink.Emit for each
// event. Intended to be run in its own goroutine per subscriber.
func Forward(ch <-chan models.BroadcastEvent, sink Sink) {
	for event := range ch {
		sink.Emit(event)
	}
}
