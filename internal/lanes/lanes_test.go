package lanes

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquireSerializesSameSession(t *testing.T) {
	m := New(nil)
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := m.Acquire(context.Background(), "sess-1")
			if err != nil {
				t.Errorf("acquire %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			g.Release()
		}(i)
	}
	wg.Wait()

	if len(order) != 5 {
		t.Fatalf("len(order) = %d, want 5", len(order))
	}
}

func TestTryAcquireReportsBusy(t *testing.T) {
	m := New(nil)
	g1, ok := m.TryAcquire("sess-1")
	if !ok {
		t.Fatal("first try-acquire should succeed")
	}
	if _, ok := m.TryAcquire("sess-1"); ok {
		t.Error("second try-acquire on held lane should fail")
	}
	g1.Release()
	if _, ok := m.TryAcquire("sess-1"); !ok {
		t.Error("try-acquire after release should succeed")
	}
}

func TestIsSessionBusy(t *testing.T) {
	m := New(nil)
	if m.IsSessionBusy("sess-1") {
		t.Error("unknown session should not be busy")
	}
	g, _ := m.TryAcquire("sess-1")
	if !m.IsSessionBusy("sess-1") {
		t.Error("held lane should report busy")
	}
	g.Release()
	if m.IsSessionBusy("sess-1") {
		t.Error("released lane should not report busy")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	m := New(nil)
	g, _ := m.TryAcquire("sess-1")
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := m.Acquire(ctx, "sess-1")
	if err == nil {
		t.Error("expected context deadline error while lane is held")
	}
}

func TestWorkspaceAndGlobalLanesAreIndependent(t *testing.T) {
	m := New(nil)
	gw, err := m.AcquireWorkspace(context.Background(), "/tmp/repo")
	if err != nil {
		t.Fatal(err)
	}
	ggl, err := m.AcquireGlobal(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	gw.Release()
	ggl.Release()
}

func TestPruneIdleLanesRemovesOnlyFreeStaleLanes(t *testing.T) {
	m := New(nil)
	g, _ := m.TryAcquire("held")
	defer g.Release()

	free, _ := m.TryAcquire("free")
	free.Release()
	m.sessions["free"].lastUsed = time.Now().Add(-2 * IdleTTL)

	removed := m.PruneIdleLanes()
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, ok := m.sessions["held"]; !ok {
		t.Error("held lane must never be pruned")
	}
	if _, ok := m.sessions["free"]; ok {
		t.Error("stale free lane should have been pruned")
	}
}

func TestPruneEvictsOldestFreeLanesOverCapacity(t *testing.T) {
	m := New(nil)
	m.sessions = make(map[string]*lane, MaxLanes+5)
	for i := 0; i < MaxLanes+5; i++ {
		l := newLane()
		l.lastUsed = time.Now().Add(time.Duration(i) * time.Millisecond)
		m.sessions[string(rune(i))] = l
	}

	m.PruneIdleLanes()
	if len(m.sessions) > MaxLanes {
		t.Errorf("len(sessions) = %d, want <= %d", len(m.sessions), MaxLanes)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := New(nil)
	g, _ := m.TryAcquire("sess-1")
	g.Release()
	g.Release()
	if _, ok := m.TryAcquire("sess-1"); !ok {
		t.Error("lane should be acquirable after idempotent release")
	}
}
