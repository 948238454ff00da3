// Package lanes implements the session lane manager (C6): per-session
// mutual-exclusion permits that serialize dispatch for one conversation,
// plus a process-wide global lane and per-workspace-path lanes for
// operations against a shared filesystem location.
package lanes

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// IdleTTL is how long a free lane can sit unused before it becomes
	// eligible for pruning.
	IdleTTL = time.Hour
	// MaxLanes bounds the number of session lanes kept in memory; beyond
	// this the oldest free lanes are evicted.
	MaxLanes = 10000
	// WarnHeldFor is the hold duration past which a LaneGuard logs a
	// warning on release.
	WarnHeldFor = 60 * time.Second
)

// lane is one session's or workspace's mutual-exclusion permit plus usage
// metadata.
type lane struct {
	sem        chan struct{} // buffered 1; a filled slot means the lane is free
	createdAt  time.Time
	lastUsed   time.Time
	totalUses  int64
	held       bool
	acquiredAt time.Time
}

func newLane() *lane {
	l := &lane{
		sem:       make(chan struct{}, 1),
		createdAt: time.Now(),
		lastUsed:  time.Now(),
	}
	l.sem <- struct{}{}
	return l
}

// Stats summarizes the manager's current lane population.
type Stats struct {
	TotalLanes              int
	ActiveLanes             int
	TotalRequestsProcessed  int64
}

// Manager owns the session lane map, the global lane, and the workspace
// lane map. All three are keyed mutexes with fine-grained locking: the
// manager's own mutex protects only the maps, never the lanes themselves.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*lane
	workspaces map[string]*lane
	global     *lane
	logger     *slog.Logger
	totalReqs  int64
}

// New creates an empty Manager.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:   make(map[string]*lane),
		workspaces: make(map[string]*lane),
		global:     newLane(),
		logger:     logger,
	}
}

// Guard is returned by Acquire*; releasing it (via Release, or by deferring
// it) updates last_used and frees the permit.
type Guard struct {
	l        *lane
	mgr      *Manager
	released bool
	mu       sync.Mutex
}

// Release frees the lane's permit. Safe to call multiple times; only the
// first call has effect.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return
	}
	g.released = true

	held := time.Since(g.l.acquiredAt)
	g.l.lastUsed = time.Now()
	g.l.held = false
	g.l.sem <- struct{}{}

	if held > WarnHeldFor {
		g.mgr.logger.Warn("lane held past warn threshold", "held_for", held)
	}
}

func (m *Manager) getOrCreateLocked(m2 map[string]*lane, key string) *lane {
	l, ok := m2[key]
	if !ok {
		l = newLane()
		m2[key] = l
	}
	return l
}

// Acquire blocks until the session's permit is free, or ctx is done.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (*Guard, error) {
	m.mu.Lock()
	l := m.getOrCreateLocked(m.sessions, sessionID)
	m.mu.Unlock()

	return m.acquireLane(ctx, l)
}

// TryAcquire attempts to acquire without blocking. Returns nil, true if the
// lane was busy.
func (m *Manager) TryAcquire(sessionID string) (*Guard, bool) {
	m.mu.Lock()
	l := m.getOrCreateLocked(m.sessions, sessionID)
	m.mu.Unlock()

	select {
	case <-l.sem:
		l.held = true
		l.acquiredAt = time.Now()
		l.lastUsed = l.acquiredAt
		l.totalUses++
		m.bumpTotal()
		return &Guard{l: l, mgr: m}, true
	default:
		return nil, false
	}
}

// AcquireGlobal acquires the process-wide administrative lane.
func (m *Manager) AcquireGlobal(ctx context.Context) (*Guard, error) {
	return m.acquireLane(ctx, m.global)
}

// AcquireWorkspace acquires the lane for a filesystem path, serializing
// concurrent git operations against it.
func (m *Manager) AcquireWorkspace(ctx context.Context, path string) (*Guard, error) {
	m.mu.Lock()
	l := m.getOrCreateLocked(m.workspaces, path)
	m.mu.Unlock()

	return m.acquireLane(ctx, l)
}

func (m *Manager) acquireLane(ctx context.Context, l *lane) (*Guard, error) {
	select {
	case <-l.sem:
		l.held = true
		l.acquiredAt = time.Now()
		l.lastUsed = l.acquiredAt
		l.totalUses++
		m.bumpTotal()
		return &Guard{l: l, mgr: m}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) bumpTotal() {
	m.mu.Lock()
	m.totalReqs++
	m.mu.Unlock()
}

// IsSessionBusy reports whether a session's lane is currently held.
func (m *Manager) IsSessionBusy(sessionID string) bool {
	m.mu.Lock()
	l, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return l.held
}

// Stats reports the current lane population.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, l := range m.sessions {
		if l.held {
			active++
		}
	}
	return Stats{
		TotalLanes:             len(m.sessions),
		ActiveLanes:            active,
		TotalRequestsProcessed: m.totalReqs,
	}
}

// PruneIdleLanes removes session lanes idle past IdleTTL that are
// currently free. If the session count still exceeds MaxLanes after that,
// it evicts the oldest free lanes until the cap is met. A held lane is
// never removed.
func (m *Manager) PruneIdleLanes() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0

	for id, l := range m.sessions {
		if l.held {
			continue
		}
		if now.Sub(l.lastUsed) > IdleTTL {
			delete(m.sessions, id)
			removed++
		}
	}

	if len(m.sessions) <= MaxLanes {
		return removed
	}

	type entry struct {
		id string
		l  *lane
	}
	free := make([]entry, 0, len(m.sessions))
	for id, l := range m.sessions {
		if !l.held {
			free = append(free, entry{id, l})
		}
	}
	sort.Slice(free, func(i, j int) bool {
		return free[i].l.lastUsed.Before(free[j].l.lastUsed)
	})

	over := len(m.sessions) - MaxLanes
	for i := 0; i < over && i < len(free); i++ {
		delete(m.sessions, free[i].id)
		removed++
	}
	return removed
}
