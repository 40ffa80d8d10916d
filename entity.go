package uxsched

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// EntityID is the stable identity of a schedulable thread.
type EntityID int32

// Class is the scheduling discipline an entity currently runs under. Only
// [ClassFair] entities are ever treated as UX.
type Class int32

const (
	ClassFair Class = iota
	ClassRT
	ClassDeadline
	ClassIdle
)

func (c Class) String() string {
	switch c {
	case ClassFair:
		return "fair"
	case ClassRT:
		return "rt"
	case ClassDeadline:
		return "deadline"
	case ClassIdle:
		return "idle"
	default:
		return fmt.Sprintf("Class(%d)", int32(c))
	}
}

func (c Class) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Class) UnmarshalText(b []byte) error {
	for _, v := range []Class{ClassFair, ClassRT, ClassDeadline, ClassIdle} {
		if strings.EqualFold(string(b), v.String()) {
			*c = v
			return nil
		}
	}
	return fmt.Errorf("invalid class %q", b)
}

// State is the run state of an entity as seen by the host scheduler.
type State int32

const (
	StateSleeping State = iota
	// StateRunnable covers both running and waiting on a ready queue.
	StateRunnable
)

const unlinked = -1

// EntitySpec describes a new entity to [Assist.Register].
type EntitySpec struct {
	ID        EntityID
	TGID      EntityID
	Name      string
	GroupName string
	Class     Class
	Core      int
	Tier      Tier

	// Group marks an entity that owns a runqueue of its own rather than being
	// a leaf thread. Placement never adjusts groups.
	Group bool

	// Affinity lists the cores the entity may run on. Empty means all.
	Affinity []int
}

// Entity is a schedulable thread together with its UX state. Entities are
// owned by the [Assist] arena and live until [Assist.Exit].
//
// Host-owned attributes (class, state, vruntime) are updated by the host
// through setters; the UX attributes are owned by the overlay.
type Entity struct {
	ID    EntityID
	TGID  EntityID
	group bool

	// Mutex protects the names and affinity, which change on rename or
	// sched_setaffinity and are read on placement paths.
	mu        sync.RWMutex
	name      string
	groupName string
	affinity  []int

	class    atomic.Int32
	state    atomic.Int32
	core     atomic.Int32
	vruntime atomic.Uint64

	static       atomic.Int32
	cameraOpt    atomic.Bool
	compositor   atomic.Bool
	dynamic      atomic.Uint64
	dynamicStart atomic.Int64
	depth        atomic.Int32

	// The core whose UX queue links this entity, or unlinked. It only moves
	// away from unlinked under the lock of the claiming core.
	linked      atomic.Int32
	enqueueTime atomic.Int64
}

func newEntity(spec EntitySpec) *Entity {
	e := &Entity{
		ID:        spec.ID,
		TGID:      spec.TGID,
		group:     spec.Group,
		name:      spec.Name,
		groupName: spec.GroupName,
		affinity:  slices.Clone(spec.Affinity),
	}
	e.class.Store(int32(spec.Class))
	e.core.Store(int32(spec.Core))
	e.static.Store(int32(spec.Tier.tier))
	e.linked.Store(unlinked)
	return e
}

// Name returns the thread name.
func (e *Entity) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.name
}

// GroupName returns the name of the thread group leader.
func (e *Entity) GroupName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.groupName
}

// IsGroupLeader reports whether e is the main thread of its process.
func (e *Entity) IsGroupLeader() bool {
	return e.ID == e.TGID
}

// IsGroup reports whether e owns a runqueue rather than being a leaf.
func (e *Entity) IsGroup() bool {
	return e.group
}

// Allowed reports whether e may run on the given core.
func (e *Entity) Allowed(core int) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.affinity) == 0 || slices.Contains(e.affinity, core)
}

// SetAffinity replaces the set of cores e may run on. Empty means all.
func (e *Entity) SetAffinity(cores []int) {
	e.mu.Lock()
	e.affinity = slices.Clone(cores)
	e.mu.Unlock()
}

func (e *Entity) Class() Class         { return Class(e.class.Load()) }
func (e *Entity) SetClass(c Class)     { e.class.Store(int32(c)) }
func (e *Entity) State() State         { return State(e.state.Load()) }
func (e *Entity) SetState(s State)     { e.state.Store(int32(s)) }
func (e *Entity) Core() int            { return int(e.core.Load()) }
func (e *Entity) VRuntime() uint64     { return e.vruntime.Load() }
func (e *Entity) SetVRuntime(v uint64) { e.vruntime.Store(v) }

// Tier returns the static tier of e.
func (e *Entity) Tier() Tier {
	return Tier{tier(e.static.Load())}
}

// SetStaticTier sets the administrative tier of e. It takes effect at the
// next classification; an entity already on a UX queue stays there until it
// next leaves the ready set.
func (e *Entity) SetStaticTier(t Tier) {
	e.static.Store(int32(t.tier))
}

// CameraOpt reports whether the camera provider bias is set on e.
func (e *Entity) CameraOpt() bool {
	return e.cameraOpt.Load()
}

// SetCameraOpt sets or clears the camera provider bias on e.
func (e *Entity) SetCameraOpt(v bool) {
	e.cameraOpt.Store(v)
}

// Compositor reports whether e is marked as a display compositor thread.
func (e *Entity) Compositor() bool {
	return e.compositor.Load()
}

// SetCompositor marks or unmarks e as a display compositor thread.
func (e *Entity) SetCompositor(v bool) {
	e.compositor.Store(v)
}

// Depth returns how many inheritance hops separate e from the UX entity that
// originally lent its boost.
func (e *Entity) Depth() int {
	return int(e.depth.Load())
}

// Boosts returns the live reference counts per [BoostType].
func (e *Entity) Boosts() BoostCounts {
	return countsOf(e.dynamic.Load())
}

// BoostCount returns the number of references of type t held on e.
func (e *Entity) BoostCount(t BoostType) int {
	if !t.Valid() {
		return 0
	}
	return int(boostCount(e.dynamic.Load(), t))
}

// DynamicStart returns the time of the most recent boost acquisition.
func (e *Entity) DynamicStart() time.Duration {
	return time.Duration(e.dynamicStart.Load())
}

// EnqueueTime returns the core clock reading when e last became ready, or
// zero when e is not ready.
func (e *Entity) EnqueueTime() time.Duration {
	return time.Duration(e.enqueueTime.Load())
}

// Linked returns the core whose UX queue currently holds e.
func (e *Entity) Linked() (core int, ok bool) {
	c := e.linkedCore()
	return c, c >= 0
}

func (e *Entity) linkedCore() int {
	return int(e.linked.Load())
}

// boosted reports whether e carries any static or dynamic boost, regardless
// of decay.
func (e *Entity) boosted() bool {
	return e.static.Load() != int32(tierNone) || e.dynamic.Load() != 0
}

// Status renders the UX state of e in the format control planes expose.
func (e *Entity) Status() string {
	word := e.dynamic.Load()
	return fmt.Sprintf("static=%d dynamic=%x(bi:%d fu:%d rw:%d mu:%d)",
		e.Tier().Level(), word,
		boostCount(word, BoostBinder), boostCount(word, BoostFutex),
		boostCount(word, BoostRWSem), boostCount(word, BoostMutex))
}

func (e *Entity) String() string {
	return fmt.Sprintf("%s(%d)", e.Name(), e.ID)
}

func (e *Entity) rename(name, groupName string) {
	e.mu.Lock()
	e.name, e.groupName = name, groupName
	e.mu.Unlock()
}
