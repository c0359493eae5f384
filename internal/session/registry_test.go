package session

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Seednode/towerbox/internal/geom"
	"github.com/Seednode/towerbox/internal/physics"
	"github.com/Seednode/towerbox/internal/shapes"
	"github.com/Seednode/towerbox/internal/stage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(c *clock) *Registry {
	return NewRegistry(Config{IdleTimeout: 24 * time.Hour, Now: c.Now}, nil)
}

func TestAcquireIsExclusive(t *testing.T) {
	r := newTestRegistry(newClock())

	lease, ok := r.Acquire("C1")
	if !ok {
		t.Fatal("first acquire failed")
	}
	if _, ok := r.Acquire("C1"); ok {
		t.Fatal("second acquire on a held session succeeded")
	}
	if other, ok := r.Acquire("C2"); !ok {
		t.Fatal("a different session should not be blocked")
	} else {
		other.Release()
	}

	lease.Release()
	lease.Release()

	again, ok := r.Acquire("C1")
	if !ok {
		t.Fatal("acquire after release failed")
	}
	again.Release()

	if r.Len() != 2 || !slices.Equal(r.Keys(), []string{"C1", "C2"}) {
		t.Fatalf("keys = %v", r.Keys())
	}
}

func TestSingleFlightUnderContention(t *testing.T) {
	r := newTestRegistry(newClock())

	held, ok := r.Acquire("C1")
	if !ok {
		t.Fatal("first acquire failed")
	}

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lease, ok := r.Acquire("C1"); ok {
				winners.Add(1)
				lease.Release()
			}
		}()
	}
	wg.Wait()

	if n := winners.Load(); n != 0 {
		t.Fatalf("%d concurrent turns acquired a held session", n)
	}

	held.Release()
	if _, ok := r.Acquire("C1"); !ok {
		t.Fatal("guard leaked")
	}
}

func TestLeaseStage(t *testing.T) {
	r := newTestRegistry(newClock())

	catalog, err := shapes.New([]string{"square"}, []geom.Outline{{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1}}})
	if err != nil {
		t.Fatal(err)
	}
	s := stage.New(catalog, physics.NewWorld(physics.DefaultConfig()), nil)

	lease, _ := r.Acquire("C1")
	if lease.Stage() != nil {
		t.Fatal("new session has a stage")
	}
	lease.SetStage(s)
	if lease.Key() != "C1" {
		t.Fatalf("Key() = %q", lease.Key())
	}
	lease.Release()

	lease, _ = r.Acquire("C1")
	if lease.Stage() != s {
		t.Fatal("stage not kept across leases")
	}
	lease.ClearStage()
	lease.Release()

	lease, _ = r.Acquire("C1")
	defer lease.Release()
	if lease.Stage() != nil {
		t.Fatal("stage not cleared")
	}
}

func TestReapEvictsIdleSessions(t *testing.T) {
	c := newClock()
	r := newTestRegistry(c)

	var evicted []string
	r.OnEvict(func(key string) { evicted = append(evicted, key) })

	for _, key := range []string{"old", "fresh"} {
		lease, _ := r.Acquire(key)
		lease.Release()
	}

	c.Advance(23 * time.Hour)
	lease, _ := r.Acquire("fresh")
	lease.Touch()
	lease.Release()

	if got := r.Reap(); len(got) != 0 {
		t.Fatalf("reaped %v before the timeout", got)
	}

	c.Advance(time.Hour)
	if got := r.Reap(); !slices.Equal(got, []string{"old"}) {
		t.Fatalf("reaped %v, want [old]", got)
	}
	if !slices.Equal(evicted, []string{"old"}) {
		t.Fatalf("evict callbacks saw %v", evicted)
	}
	if !slices.Equal(r.Keys(), []string{"fresh"}) {
		t.Fatalf("remaining keys = %v", r.Keys())
	}
}

func TestReapSkipsHeldSessions(t *testing.T) {
	c := newClock()
	r := newTestRegistry(c)

	lease, _ := r.Acquire("busy")
	c.Advance(48 * time.Hour)

	if got := r.Reap(); len(got) != 0 {
		t.Fatalf("reaped %v while it was held", got)
	}

	lease.Release()
	if got := r.Reap(); !slices.Equal(got, []string{"busy"}) {
		t.Fatalf("reaped %v after release, want [busy]", got)
	}
}

func TestTouchOnlyWhenCalled(t *testing.T) {
	c := newClock()
	r := newTestRegistry(c)

	lease, _ := r.Acquire("C1")
	lease.Release()
	created, _ := r.LastActivity("C1")

	c.Advance(time.Hour)
	lease, _ = r.Acquire("C1")
	lease.Release()
	if got, _ := r.LastActivity("C1"); !got.Equal(created) {
		t.Fatalf("activity moved without Touch: %v -> %v", created, got)
	}

	lease, _ = r.Acquire("C1")
	lease.Touch()
	lease.Release()
	if got, _ := r.LastActivity("C1"); !got.Equal(c.Now()) {
		t.Fatalf("activity = %v, want %v", got, c.Now())
	}

	if _, ok := r.LastActivity("missing"); ok {
		t.Fatal("unknown session reported activity")
	}
}

func TestRunReapsUntilCancelled(t *testing.T) {
	c := newClock()
	r := NewRegistry(Config{IdleTimeout: time.Hour, ReapInterval: time.Millisecond, Now: c.Now}, nil)

	evicted := make(chan string, 1)
	r.OnEvict(func(key string) { evicted <- key })

	lease, _ := r.Acquire("C1")
	lease.Release()
	c.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	select {
	case key := <-evicted:
		if key != "C1" {
			t.Fatalf("evicted %q", key)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reaper never ran")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
