package uxsched_test

import (
	"testing"

	"github.com/tomasbasham/uxsched"
)

func TestAssist_Inherit_Chain(t *testing.T) {
	t.Parallel()

	a := newAssist(t, uxsched.SymmetricTopology(1))
	bound := a.Config().DepthMax

	// T0 blocks on T1, which blocks on T2, and so on down the chain.
	chain := make([]*uxsched.Entity, bound+2)
	chain[0] = register(t, a, uxsched.EntitySpec{ID: 0, Tier: uxsched.Tiers.UI})
	for i := 1; i < len(chain); i++ {
		chain[i] = register(t, a, uxsched.EntitySpec{ID: uxsched.EntityID(i)})
		a.Inherit(chain[i-1], chain[i], uxsched.BoostMutex)
	}

	for i, e := range chain[1 : bound+1] {
		if got, want := e.Depth(), i+1; got != want {
			t.Errorf("entity %d depth mismatch:\n  got:  %d\n  want: %d", e.ID, got, want)
		}
		if !a.IsUX(e) {
			t.Errorf("expected entity %d to inherit ux", e.ID)
		}
	}

	last := chain[len(chain)-1]
	if a.IsUX(last) || last.Depth() != 0 {
		t.Errorf("expected propagation to stop at depth %d, got %s at depth %d", bound, last.Status(), last.Depth())
	}
	if a.CanPropagate(chain[bound]) {
		t.Error("an entity at the depth bound must not propagate")
	}

	for i := len(chain) - 1; i > 0; i-- {
		a.Disinherit(chain[i], uxsched.BoostMutex)
	}
	for _, e := range chain[1:] {
		if e.Boosts().Total() != 0 || e.Depth() != 0 {
			t.Errorf("expected entity %d to be cleared, got: %s", e.ID, e.Status())
		}
	}
	if err := a.Audit(); err != nil {
		t.Errorf("unexpected audit failure: %v", err)
	}
}

func TestAssist_Inherit_HolderAlreadyUX(t *testing.T) {
	t.Parallel()

	a := newAssist(t, uxsched.SymmetricTopology(1))
	waiter := register(t, a, uxsched.EntitySpec{ID: 1, Tier: uxsched.Tiers.UI})
	holder := register(t, a, uxsched.EntitySpec{ID: 2, Tier: uxsched.Tiers.Heavy})

	a.Inherit(waiter, holder, uxsched.BoostRWSem)

	if got := holder.Boosts().Total(); got != 0 {
		t.Errorf("expected no boost on a holder that is already ux, got: %d", got)
	}
}

func TestAssist_Inherit_CameraOpt(t *testing.T) {
	t.Parallel()

	cfg := uxsched.DefaultConfig()
	cfg.CameraOpt = true
	a := newAssist(t, uxsched.SymmetricTopology(1), uxsched.WithConfig(cfg))

	waiter := register(t, a, uxsched.EntitySpec{ID: 1})
	waiter.SetCameraOpt(true)
	holder := register(t, a, uxsched.EntitySpec{ID: 2})

	a.Inherit(waiter, holder, uxsched.BoostBinder)

	if !holder.CameraOpt() {
		t.Fatal("expected camera provider bias to pass to the holder")
	}
	if holder.Boosts().Total() != 0 {
		t.Errorf("expected no dynamic boost, got: %s", holder.Status())
	}
	if !a.ShouldPreempt(holder, register(t, a, uxsched.EntitySpec{ID: 3})) {
		t.Error("expected biased holder to preempt a plain entity")
	}

	a.Disinherit(holder, uxsched.BoostBinder)
	if holder.CameraOpt() {
		t.Error("expected camera provider bias to be cleared")
	}
}

func TestAssist_Inherit_Ignored(t *testing.T) {
	t.Parallel()

	a := newAssist(t, uxsched.SymmetricTopology(1))
	plain := register(t, a, uxsched.EntitySpec{ID: 1})
	holder := register(t, a, uxsched.EntitySpec{ID: 2})
	ui := register(t, a, uxsched.EntitySpec{ID: 3, Tier: uxsched.Tiers.UI})

	a.Inherit(plain, holder, uxsched.BoostFutex)
	a.Inherit(ui, ui, uxsched.BoostFutex)
	a.Inherit(nil, holder, uxsched.BoostFutex)
	a.Inherit(ui, nil, uxsched.BoostFutex)

	if got := holder.Boosts().Total() + ui.Boosts().Total(); got != 0 {
		t.Errorf("expected no boosts, got: %d", got)
	}
}
