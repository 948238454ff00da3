package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nexuscore/runtime/pkg/models"
)

// registeredHook tracks a Hook alongside its registration order, used to
// break priority ties deterministically.
type registeredHook struct {
	hook  Hook
	order int
	stats models.HookStats
}

// Registry collects hooks by event and runs them in priority order,
// aggregating per-hook execution stats.
type Registry struct {
	mu      sync.RWMutex
	byEvent map[models.HookEvent][]*registeredHook
	byID    map[string]*registeredHook
	seq     int
	logger  *slog.Logger

	// ContinueOnError controls whether an Error result stops the chain.
	// Defaults to true: errors are logged and the chain continues.
	ContinueOnError bool
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byEvent:         make(map[models.HookEvent][]*registeredHook),
		byID:            make(map[string]*registeredHook),
		logger:          logger.With("component", "hooks"),
		ContinueOnError: true,
	}
}

// Register adds a hook for every event it subscribes to.
func (r *Registry) Register(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rh := &registeredHook{hook: h, order: r.seq}
	r.seq++
	r.byID[h.ID()] = rh

	for ev := range h.Events() {
		r.byEvent[ev] = append(r.byEvent[ev], rh)
		sortHooks(r.byEvent[ev])
	}

	r.logger.Debug("registered hook", "id", h.ID(), "name", h.Name(), "priority", h.Priority())
}

// Unregister removes a hook by id from all events. Reports whether it was
// present.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rh, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	for ev := range rh.hook.Events() {
		hooks := r.byEvent[ev]
		for i, h := range hooks {
			if h.hook.ID() == id {
				r.byEvent[ev] = append(hooks[:i], hooks[i+1:]...)
				break
			}
		}
	}
	return true
}

// Clear removes all registered hooks.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byEvent = make(map[models.HookEvent][]*registeredHook)
	r.byID = make(map[string]*registeredHook)
}

func sortHooks(hooks []*registeredHook) {
	sort.SliceStable(hooks, func(i, j int) bool {
		pi, pj := hooks[i].hook.Priority(), hooks[j].hook.Priority()
		if pi != pj {
			return pi < pj
		}
		return hooks[i].order < hooks[j].order
	})
}

// Outcome is the terminal disposition of a Trigger call.
type Outcome struct {
	Kind   models.HookResultKind
	Reason string
	Value  any
	Data   any
}

// Trigger runs every enabled hook subscribed to event, in priority order,
// stopping early on Skip or Cancel. Continue keeps the chain running and
// may stash a Data value carried into the final Outcome; Replace overrides
// the Outcome's Value and continues. An Error result is logged and, when
// ContinueOnError is true (the default), treated like Continue; otherwise
// it stops the chain and is reported as the Outcome.
func (r *Registry) Trigger(ctx context.Context, event models.HookEvent, hctx *models.HookContext) Outcome {
	r.mu.RLock()
	hooks := make([]*registeredHook, len(r.byEvent[event]))
	copy(hooks, r.byEvent[event])
	r.mu.RUnlock()

	out := Outcome{Kind: models.HookContinue}

	for _, rh := range hooks {
		if !rh.hook.Enabled() {
			continue
		}
		result := r.runOne(ctx, rh, hctx)

		switch result.Kind {
		case models.HookContinue:
			if result.Data != nil {
				out.Data = result.Data
			}
		case models.HookReplace:
			out.Value = result.Value
		case models.HookSkip:
			out.Kind = models.HookSkip
			return out
		case models.HookCancel:
			out.Kind = models.HookCancel
			out.Reason = result.Reason
			return out
		case models.HookError:
			r.logger.Warn("hook returned error", "hook", rh.hook.Name(), "error", result.Err)
			if !r.ContinueOnError {
				out.Kind = models.HookError
				out.Reason = result.Err
				return out
			}
		}
	}

	return out
}

// runOne executes a single hook under its timeout, recovering panics and
// updating its stats.
func (r *Registry) runOne(ctx context.Context, rh *registeredHook, hctx *models.HookContext) (result models.HookResult) {
	timeout := rh.hook.Timeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan models.HookResult, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- models.ErrorResult(fmt.Sprintf("hook panic: %v", p))
			}
		}()
		done <- rh.hook.Execute(cctx, hctx)
	}()

	select {
	case result = <-done:
	case <-cctx.Done():
		result = models.ErrorResult(fmt.Sprintf("hook %q timed out after %s", rh.hook.Name(), timeout))
	}

	r.recordStats(rh, result, time.Since(start))
	return result
}

func (r *Registry) recordStats(rh *registeredHook, result models.HookResult, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := &rh.stats
	s.Executions++
	ms := float64(elapsed.Microseconds()) / 1000.0
	s.AvgExecMs = s.AvgExecMs + (ms-s.AvgExecMs)/float64(s.Executions)
	if ms > s.MaxExecMs {
		s.MaxExecMs = ms
	}

	switch result.Kind {
	case models.HookSkip:
		s.Skips++
	case models.HookCancel:
		s.Cancellations++
	case models.HookError:
		s.Failures++
	default:
		s.Successes++
	}
}

// Stats returns a copy of the accumulated stats for a hook, or the zero
// value if the id is unknown.
func (r *Registry) Stats(id string) models.HookStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rh, ok := r.byID[id]; ok {
		return rh.stats
	}
	return models.HookStats{}
}

// HookCount reports how many hooks are registered for an event.
func (r *Registry) HookCount(event models.HookEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEvent[event])
}
