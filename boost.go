package uxsched

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// BoostType identifies the subsystem that lent a dynamic boost. Boosts are
// counted per type, and a release only ever undoes boosts of its own type.
type BoostType int

const (
	BoostBinder BoostType = iota
	BoostRWSem
	BoostMutex
	BoostSem
	BoostFutex

	numBoostTypes
)

var boostTypeNames = [numBoostTypes]string{
	BoostBinder: "binder",
	BoostRWSem:  "rwsem",
	BoostMutex:  "mutex",
	BoostSem:    "sem",
	BoostFutex:  "futex",
}

// BoostTypes returns every valid [BoostType] in bit order.
func BoostTypes() []BoostType {
	return []BoostType{BoostBinder, BoostRWSem, BoostMutex, BoostSem, BoostFutex}
}

// ParseBoostType returns the [BoostType] with the given name.
func ParseBoostType(s string) (BoostType, error) {
	for t, name := range boostTypeNames {
		if strings.EqualFold(s, name) {
			return BoostType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown boost type %q", s)
}

// Valid reports whether t is one of the defined boost types.
func (t BoostType) Valid() bool {
	return t >= 0 && t < numBoostTypes
}

func (t BoostType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("BoostType(%d)", int(t))
	}
	return boostTypeNames[t]
}

func (t BoostType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid boost type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *BoostType) UnmarshalText(b []byte) error {
	v, err := ParseBoostType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Each boost type owns an 8 bit saturating counter within a single word so
// the whole set can be read and updated atomically.
const (
	boostWidth = 8
	boostMax   = 1<<boostWidth - 1
)

func boostShift(t BoostType) uint {
	return uint(t) * boostWidth
}

func boostCount(word uint64, t BoostType) uint8 {
	return uint8(word >> boostShift(t) & boostMax)
}

// BoostCounts is a typed view of an entity's dynamic boost word. Types with
// a zero count are omitted.
type BoostCounts map[BoostType]uint8

func countsOf(word uint64) BoostCounts {
	counts := make(BoostCounts)
	for _, t := range BoostTypes() {
		if n := boostCount(word, t); n > 0 {
			counts[t] = n
		}
	}
	return counts
}

// Total returns the sum of all counters.
func (c BoostCounts) Total() int {
	total := 0
	for _, n := range c {
		total += int(n)
	}
	return total
}

// incBoost adds one reference of type t, saturating at the counter width.
func (e *Entity) incBoost(t BoostType) {
	for {
		old := e.dynamic.Load()
		if boostCount(old, t) == boostMax {
			return
		}
		if e.dynamic.CompareAndSwap(old, old+1<<boostShift(t)) {
			return
		}
	}
}

// subBoost removes up to n references of type t and never borrows from the
// neighbouring counters.
func (e *Entity) subBoost(t BoostType, n int) uint64 {
	for {
		old := e.dynamic.Load()
		sub := min(uint64(n), uint64(boostCount(old, t)))
		next := old - sub<<boostShift(t)
		if e.dynamic.CompareAndSwap(old, next) {
			return next
		}
	}
}

// Acquire lends e a dynamic boost of type t on behalf of a waiter whose own
// inheritance depth is depth. It is a no-op if e is already on a UX queue, or
// if the boost would push e past the configured depth bound.
//
// Acquire takes the lock of the core e currently belongs to, so callers must
// not hold any core lock.
func (a *Assist) Acquire(e *Entity, t BoostType, depth int) {
	if e == nil || !t.Valid() {
		return
	}
	cfg := a.config()
	depth = max(depth, 0)
	if depth+1 > cfg.DepthMax {
		a.logger.Debug("boost refused at depth bound",
			zap.Int32("id", int32(e.ID)),
			zap.Stringer("type", t),
			zap.Int("depth", depth))
		return
	}

	c := a.lockEntityCore(e)
	defer c.mu.Unlock()

	if e.linkedCore() >= 0 {
		return
	}

	e.incBoost(t)
	e.dynamicStart.Store(int64(a.clock.Now()))
	// The bound is read again under the lock, since Reconfigure may have
	// lowered it and clamped e in the meantime.
	d := min(max(int(e.depth.Load()), depth+1), a.config().DepthMax)
	e.depth.Store(int32(d))

	if e.State() == StateRunnable && e.Class() == ClassFair {
		a.linkLocked(c, e)
	}

	if a.metrics != nil {
		a.metrics.OnBoost(e, t, int(e.depth.Load()))
	}
}

// Release drops one reference of type t from e.
func (a *Assist) Release(e *Entity, t BoostType) {
	a.ReleaseRefs(e, t, 1)
}

// ReleaseRefs drops up to n references of type t from e. Once no references of
// any type remain, e loses its inheritance depth and leaves its UX queue.
func (a *Assist) ReleaseRefs(e *Entity, t BoostType, n int) {
	if e == nil || !t.Valid() || n <= 0 {
		return
	}

	c := a.lockEntityCore(e)
	defer c.mu.Unlock()

	if e.dynamic.Load() == 0 {
		return
	}

	remaining := e.subBoost(t, n)
	cleared := remaining == 0
	if cleared {
		e.depth.Store(0)
		a.unlinkLocked(c, e, UnlinkReleased)
	}

	if a.metrics != nil {
		a.metrics.OnRelease(e, t, cleared)
	}
}
