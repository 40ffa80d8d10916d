package uxsched

import (
	"fmt"
	"slices"
)

// Topology describes the cores of an asymmetric machine, numbered from the
// smallest cores up.
type Topology struct {
	// Cores is the number of cores.
	Cores int

	// LittleCluster is the size of the first, lowest capacity cluster. UX work
	// prefers the cores past it. Zero, or a value covering every core, means
	// the machine is symmetric and no core is preferred over another.
	LittleCluster int

	// FastWatermark is the first core with the highest capacity. Group
	// leaders only treat cores from here up as preferred.
	FastWatermark int
}

// SymmetricTopology returns a topology of n identical cores.
func SymmetricTopology(n int) Topology {
	return Topology{Cores: n}
}

// Validate reports whether the topology describes a usable machine.
func (t Topology) Validate() error {
	if t.Cores < 1 {
		return fmt.Errorf("topology needs at least one core, got %d", t.Cores)
	}
	if t.LittleCluster < 0 || t.LittleCluster > t.Cores {
		return fmt.Errorf("little cluster %d out of range for %d cores", t.LittleCluster, t.Cores)
	}
	if t.FastWatermark < 0 || t.FastWatermark >= t.Cores {
		return fmt.Errorf("fast watermark %d out of range for %d cores", t.FastWatermark, t.Cores)
	}
	return nil
}

// asymmetric reports whether some cores are preferred for UX work.
func (t Topology) asymmetric() bool {
	return t.LittleCluster > 0 && t.LittleCluster < t.Cores
}

// PreferredCores returns the cores preferred for UX work, in ascending order.
func (t Topology) PreferredCores() []int {
	if !t.asymmetric() {
		return nil
	}
	cores := make([]int, 0, t.Cores-t.LittleCluster)
	for c := t.LittleCluster; c < t.Cores; c++ {
		cores = append(cores, c)
	}
	return cores
}

// IsUXCore reports whether core is one UX work prefers. On a symmetric
// machine every core is.
func (t Topology) IsUXCore(core int) bool {
	if !t.asymmetric() {
		return true
	}
	return core >= t.LittleCluster
}

// IsPreferredCore reports whether core suits e. Group leaders hold out for
// the fastest cores.
func (a *Assist) IsPreferredCore(e *Entity, core int) bool {
	if e == nil || core < 0 || core >= a.topo.Cores {
		return false
	}
	if e.IsGroupLeader() {
		return core >= a.topo.FastWatermark
	}
	return a.topo.IsUXCore(core)
}

// FindUXCore walks the preferred cores from the fastest down and returns the
// first one e may run on whose current entity is neither real-time nor UX.
// Core 0 is never chosen.
func (a *Assist) FindUXCore(e *Entity) (int, bool) {
	if e == nil {
		return 0, false
	}
	cfg := a.config()
	preferred := a.topo.PreferredCores()

	for _, id := range slices.Backward(preferred) {
		if id <= 0 || id >= a.topo.Cores {
			continue
		}
		c := a.cores[id]
		if curr := c.Current(); curr != nil {
			if cl := curr.Class(); cl == ClassRT || cl == ClassDeadline {
				continue
			}
			if a.isUX(cfg, curr) {
				continue
			}
		}
		if !c.Online() || c.Isolated() || !e.Allowed(id) {
			continue
		}
		return id, true
	}
	return 0, false
}

// DropCores filters candidates, the cores a host is considering for e, by
// removing every core currently running a UI tier entity. A group leader may
// still share the fast cores with one.
//
// With slide boost on, the compositor's main thread also loses the little
// cores and every core running a heavy tier entity.
func (a *Assist) DropCores(e *Entity, candidates []int) []int {
	if e == nil {
		return candidates
	}
	slide := a.config().SlideBoost && e.Compositor() && e.IsGroupLeader()

	kept := make([]int, 0, len(candidates))
	for _, id := range candidates {
		c := a.Core(id)
		if c == nil {
			continue
		}
		curr := c.Current()
		if curr != nil && curr.Tier() == Tiers.UI && !(e.IsGroupLeader() && id >= a.topo.FastWatermark) {
			continue
		}
		if slide && (!a.topo.IsUXCore(id) || (curr != nil && curr.Tier() == Tiers.Heavy)) {
			continue
		}
		kept = append(kept, id)
	}
	return kept
}
