// Package hooks implements the priority-ordered, timeout-bounded hook
// dispatcher (C5): pluggable callbacks that run at lifecycle events and can
// continue, skip, cancel, or replace the in-flight operation's result.
package hooks

import (
	"context"
	"time"

	"github.com/nexuscore/runtime/pkg/models"
)

// DefaultTimeout is the per-hook execution budget when a hook does not
// override it.
const DefaultTimeout = 5 * time.Second

// Hook is the contract every registered callback satisfies.
type Hook interface {
	ID() string
	Name() string
	Description() string
	Events() map[models.HookEvent]struct{}
	Priority() models.HookPriority
	Timeout() time.Duration
	Enabled() bool
	Execute(ctx context.Context, hctx *models.HookContext) models.HookResult
}

// FuncHook adapts a plain function into a Hook, mirroring the registry's
// functional-options idiom used elsewhere in this codebase.
type FuncHook struct {
	id, name, desc string
	events         map[models.HookEvent]struct{}
	priority       models.HookPriority
	timeout        time.Duration
	enabled        bool
	fn             func(ctx context.Context, hctx *models.HookContext) models.HookResult
}

// NewFuncHook builds a Hook from a plain function.
func NewFuncHook(id, name string, events []models.HookEvent, fn func(ctx context.Context, hctx *models.HookContext) models.HookResult, opts ...HookOption) *FuncHook {
	evset := make(map[models.HookEvent]struct{}, len(events))
	for _, e := range events {
		evset[e] = struct{}{}
	}
	h := &FuncHook{
		id:       id,
		name:     name,
		events:   evset,
		priority: models.PriorityNormal,
		timeout:  DefaultTimeout,
		enabled:  true,
		fn:       fn,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HookOption configures a FuncHook using the functional options pattern.
type HookOption func(*FuncHook)

// WithDescription sets the hook's description.
func WithDescription(desc string) HookOption {
	return func(h *FuncHook) { h.desc = desc }
}

// WithHookPriority overrides the hook's default priority.
func WithHookPriority(p models.HookPriority) HookOption {
	return func(h *FuncHook) { h.priority = p }
}

// WithHookTimeout overrides the hook's default per-execution timeout.
func WithHookTimeout(d time.Duration) HookOption {
	return func(h *FuncHook) { h.timeout = d }
}

// WithEnabled sets the hook's initial enabled state.
func WithEnabled(enabled bool) HookOption {
	return func(h *FuncHook) { h.enabled = enabled }
}

func (h *FuncHook) ID() string          { return h.id }
func (h *FuncHook) Name() string        { return h.name }
func (h *FuncHook) Description() string { return h.desc }
func (h *FuncHook) Events() map[models.HookEvent]struct{} { return h.events }
func (h *FuncHook) Priority() models.HookPriority         { return h.priority }
func (h *FuncHook) Timeout() time.Duration                { return h.timeout }
func (h *FuncHook) Enabled() bool                         { return h.enabled }
func (h *FuncHook) Execute(ctx context.Context, hctx *models.HookContext) models.HookResult {
	return h.fn(ctx, hctx)
}

// SetEnabled toggles the hook at runtime.
func (h *FuncHook) SetEnabled(enabled bool) { h.enabled = enabled }
