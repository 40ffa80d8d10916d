package uxsched_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomasbasham/uxsched"
)

type fakeClock struct {
	now atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.now.Store(int64(time.Second))
	return c
}

func (c *fakeClock) Now() time.Duration {
	return time.Duration(c.now.Load())
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

func newAssist(t testing.TB, topo uxsched.Topology, opts ...uxsched.Option) *uxsched.Assist {
	t.Helper()

	a, err := uxsched.New(topo, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return a
}

func register(t testing.TB, a *uxsched.Assist, spec uxsched.EntitySpec) *uxsched.Entity {
	t.Helper()

	e, err := a.Register(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e
}

// wake registers a runnable entity and enqueues it on its core, the way a
// host would on wakeup.
func wake(t testing.TB, a *uxsched.Assist, spec uxsched.EntitySpec) *uxsched.Entity {
	t.Helper()

	e := register(t, a, spec)
	e.SetState(uxsched.StateRunnable)
	a.Enqueue(spec.Core, e)
	return e
}

type recorder struct {
	mu        sync.Mutex
	links     int
	unlinks   []uxsched.UnlinkReason
	overrides []uxsched.EntityID
	boosts    int
	releases  int
}

func (r *recorder) OnLink(int, *uxsched.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links++
}

func (r *recorder) OnUnlink(_ int, _ uxsched.EntityID, reason uxsched.UnlinkReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unlinks = append(r.unlinks, reason)
}

func (r *recorder) OnOverride(_ int, picked, _ *uxsched.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = append(r.overrides, picked.ID)
}

func (r *recorder) OnBoost(*uxsched.Entity, uxsched.BoostType, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boosts++
}

func (r *recorder) OnRelease(*uxsched.Entity, uxsched.BoostType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases++
}
