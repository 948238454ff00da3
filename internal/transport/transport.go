// Package transport defines the channel adapter contract shared by every
// transport-specific adapter (discord, telegram, slack) and a registry that
// dispatchers use to send and receive across all connected channels.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexuscore/runtime/pkg/models"
)

// Adapter is the minimal contract for a channel connector.
type Adapter interface {
	Type() models.ChannelType
}

// LifecycleAdapter starts and stops a connection to the transport.
type LifecycleAdapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboundAdapter sends a message out over the transport.
type OutboundAdapter interface {
	Send(ctx context.Context, msg *models.Message) error
}

// InboundAdapter emits inbound messages received over the transport.
type InboundAdapter interface {
	Messages() <-chan *models.Message
}

// HealthAdapter exposes connection status for a transport.
type HealthAdapter interface {
	Status() Status
}

// FullAdapter aggregates every adapter capability.
type FullAdapter interface {
	Adapter
	LifecycleAdapter
	OutboundAdapter
	InboundAdapter
	HealthAdapter
}

// Status is a connection's point-in-time health.
type Status struct {
	Connected bool
	Error     string
	LastPing  time.Time
}

// Registry tracks one adapter per channel type and routes outbound sends.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ChannelType]FullAdapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.ChannelType]FullAdapter)}
}

// Register adds an adapter, keyed by its channel type.
func (r *Registry) Register(a FullAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Type()] = a
}

// Get returns the adapter for a channel type.
func (r *Registry) Get(ch models.ChannelType) (FullAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[ch]
	return a, ok
}

// StartAll starts every registered adapter, returning the first error.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	adapters := make([]FullAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	for _, a := range adapters {
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", a.Type(), err)
		}
	}
	return nil
}

// StopAll stops every registered adapter.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	adapters := make([]FullAdapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	for _, a := range adapters {
		_ = a.Stop(ctx)
	}
}

// Send routes msg to the adapter registered for its channel.
func (r *Registry) Send(ctx context.Context, msg *models.Message) error {
	a, ok := r.Get(msg.Channel)
	if !ok {
		return fmt.Errorf("no adapter registered for channel %s", msg.Channel)
	}
	return a.Send(ctx, msg)
}
