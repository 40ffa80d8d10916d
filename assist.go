package uxsched

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// UnlinkReason records why an entity left a UX queue.
type UnlinkReason int

const (
	// UnlinkDequeued means the entity left the host's ready set.
	UnlinkDequeued UnlinkReason = iota
	// UnlinkReleased means the last dynamic boost was released.
	UnlinkReleased
	// UnlinkStale means the entity was found on a queue of a core it no
	// longer belongs to.
	UnlinkStale
	// UnlinkExited means the entity was removed from the arena.
	UnlinkExited
)

func (r UnlinkReason) String() string {
	switch r {
	case UnlinkDequeued:
		return "dequeued"
	case UnlinkReleased:
		return "released"
	case UnlinkStale:
		return "stale"
	case UnlinkExited:
		return "exited"
	default:
		return fmt.Sprintf("UnlinkReason(%d)", int(r))
	}
}

// MetricsHook defines hooks for monitoring UX queue membership, pick
// overrides and boost events. Hooks are called with a core lock held and must
// not call back into the [Assist].
type MetricsHook interface {
	OnLink(core int, e *Entity)
	OnUnlink(core int, id EntityID, reason UnlinkReason)
	OnOverride(core int, picked, displaced *Entity)
	OnBoost(e *Entity, t BoostType, depth int)
	OnRelease(e *Entity, t BoostType, cleared bool)
}

// Assist is the UX overlay for one machine. It owns the entity arena and one
// UX queue per core, and exposes the hooks a host scheduler calls:
//
//   - Enqueue and Dequeue on every ready-set transition
//   - Pick when selecting the next entity for a core
//   - Place when positioning a woken entity in the fair ordering
//   - ShouldPreempt when checking wakeup preemption
//   - FindUXCore and DropCores when selecting a core
//
// Lock and IPC subsystems lend urgency through Acquire and Release, or the
// Inherit and Disinherit helpers.
//
// Every queue mutation happens under the lock of the core the queue belongs
// to. Hooks that name a core take that core's lock; hooks that act on an
// entity take the lock of the core the entity currently belongs to. Callers
// must not hold a core lock when calling into the Assist.
type Assist struct {
	cfg     atomic.Pointer[Config]
	clock   Clock
	logger  *zap.Logger
	metrics MetricsHook
	matcher NameMatcher
	topo    Topology
	cores   []*Core

	mu       sync.RWMutex
	entities map[EntityID]*Entity
}

// New creates a new [Assist] for the given topology with the given options.
func New(topo Topology, opts ...Option) (*Assist, error) {
	o := &Options{Config: DefaultConfig()}
	for _, opt := range opts {
		opt(o)
	}

	if err := topo.Validate(); err != nil {
		return nil, err
	}
	if err := o.Config.Validate(); err != nil {
		return nil, err
	}

	a := &Assist{
		clock:    o.Clock,
		logger:   o.Logger,
		metrics:  o.Metrics,
		matcher:  o.Matcher,
		topo:     topo,
		cores:    make([]*Core, topo.Cores),
		entities: make(map[EntityID]*Entity),
	}
	if a.clock == nil {
		a.clock = newMonotonicClock()
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.matcher == nil {
		a.matcher = ruleMatcher{a: a}
	}
	for i := range a.cores {
		a.cores[i] = newCore(i)
	}
	a.cfg.Store(o.Config.clone())

	return a, nil
}

func (a *Assist) config() *Config {
	return a.cfg.Load()
}

// Config returns a copy of the current tunables.
func (a *Assist) Config() Config {
	return *a.config().clone()
}

// Reconfigure validates cfg and installs it as the new snapshot. Decisions
// already in flight finish against the snapshot they started with.
func (a *Assist) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	prev := a.cfg.Swap(cfg.clone())
	if cfg.DepthMax < prev.DepthMax {
		a.clampDepths(cfg.DepthMax)
	}
	a.logger.Info("ux config installed",
		zap.Bool("enabled", cfg.Enabled),
		zap.Duration("min_sched_delay", cfg.MinSchedDelay),
		zap.Duration("max_dynamic_granularity", cfg.MaxDynamicGranularity),
		zap.Int("depth_max", cfg.DepthMax),
		zap.Int("name_rules", len(cfg.NameRules)))
	return nil
}

// clampDepths lowers every inheritance depth above bound. Each entity is
// clamped under its core lock, so an Acquire either finishes first or sees the
// new bound.
func (a *Assist) clampDepths(bound int) {
	a.mu.RLock()
	entities := make([]*Entity, 0, len(a.entities))
	for _, e := range a.entities {
		entities = append(entities, e)
	}
	a.mu.RUnlock()

	for _, e := range entities {
		if e.Depth() <= bound {
			continue
		}
		c := a.lockEntityCore(e)
		if e.Depth() > bound {
			e.depth.Store(int32(bound))
		}
		c.mu.Unlock()
	}
}

// Topology returns the core layout the [Assist] was created with.
func (a *Assist) Topology() Topology {
	return a.topo
}

// Core returns the core with the given index, or nil if there is none.
func (a *Assist) Core(id int) *Core {
	if id < 0 || id >= len(a.cores) {
		return nil
	}
	return a.cores[id]
}

// Register adds a new entity to the arena and applies the name rules to it.
// Registering an ID that is already present returns the existing entity.
func (a *Assist) Register(spec EntitySpec) (*Entity, error) {
	if a.Core(spec.Core) == nil {
		return nil, fmt.Errorf("entity %d: core %d out of range", spec.ID, spec.Core)
	}
	if spec.TGID == 0 {
		spec.TGID = spec.ID
	}

	a.mu.Lock()
	if e, ok := a.entities[spec.ID]; ok {
		a.mu.Unlock()
		return e, nil
	}
	e := newEntity(spec)
	a.entities[spec.ID] = e
	a.mu.Unlock()

	a.applyNameRules(e)
	return e, nil
}

// Rename updates the names of e, as on exec or a thread rename, and applies
// the name rules again.
func (a *Assist) Rename(e *Entity, name, groupName string) {
	if e == nil {
		return
	}
	e.rename(name, groupName)
	a.applyNameRules(e)
}

// applyNameRules only ever raises boosts. Clearing a tier is left to the
// control plane.
func (a *Assist) applyNameRules(e *Entity) {
	m, ok := a.matcher.Match(e.GroupName(), e.Name())
	if !ok {
		return
	}
	if m.Tier != Tiers.None && e.Tier() == Tiers.None {
		e.SetStaticTier(m.Tier)
	}
	if m.CameraOpt {
		e.SetCameraOpt(true)
	}
	if m.Compositor {
		e.SetCompositor(true)
	}
	a.logger.Debug("name rule matched",
		zap.Int32("id", int32(e.ID)),
		zap.String("name", e.Name()),
		zap.Stringer("tier", e.Tier()),
		zap.Bool("camera_opt", e.CameraOpt()),
		zap.Bool("compositor", e.Compositor()))
}

// Lookup returns the entity with the given ID.
func (a *Assist) Lookup(id EntityID) (*Entity, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	e, ok := a.entities[id]
	return e, ok
}

// Exit removes the entity from the arena, unlinking it from any UX queue.
func (a *Assist) Exit(id EntityID) {
	a.mu.Lock()
	e, ok := a.entities[id]
	delete(a.entities, id)
	a.mu.Unlock()

	if !ok {
		return
	}

	e.SetState(StateSleeping)
	// The link may live on a core e has since left.
	if lc := a.lockLinkedCore(e); lc != nil {
		a.unlinkLocked(lc, e, UnlinkExited)
		lc.mu.Unlock()
	}

	c := a.lockEntityCore(e)
	e.enqueueTime.Store(0)
	c.mu.Unlock()
}

// Migrate moves e to another core. If e is on a UX queue it is dequeued from
// the source and enqueued on the destination under both core locks.
func (a *Assist) Migrate(e *Entity, to int) {
	dst := a.Core(to)
	if e == nil || dst == nil {
		return
	}

	for {
		src := a.Core(e.Core())
		if src == dst {
			return
		}
		first, second := src, dst
		if second.ID < first.ID {
			first, second = second, first
		}
		first.mu.Lock()
		second.mu.Lock()
		if e.Core() != src.ID {
			second.mu.Unlock()
			first.mu.Unlock()
			continue
		}

		ready := e.State() == StateRunnable
		if ready {
			a.dequeueLocked(src, e)
		}
		e.core.Store(int32(dst.ID))
		if ready {
			a.enqueueLocked(dst, e)
		}

		second.mu.Unlock()
		first.mu.Unlock()
		return
	}
}

// lockEntityCore locks the core e currently belongs to and returns it locked.
// The core is rechecked after locking since e may migrate in between.
func (a *Assist) lockEntityCore(e *Entity) *Core {
	for {
		c := a.cores[e.Core()]
		c.mu.Lock()
		if e.Core() == c.ID {
			return c
		}
		c.mu.Unlock()
	}
}

// lockLinkedCore locks the core whose UX queue holds e and returns it
// locked, or returns nil when e is not linked.
func (a *Assist) lockLinkedCore(e *Entity) *Core {
	for {
		id := e.linkedCore()
		if id == unlinked {
			return nil
		}
		c := a.cores[id]
		c.mu.Lock()
		if e.linkedCore() == id {
			return c
		}
		c.mu.Unlock()
	}
}

// Audit checks that every entity is linked on at most one UX queue and that
// the queues and link markers agree. It takes every core lock in turn and is
// meant for tests and diagnostics, not scheduling paths.
func (a *Assist) Audit() error {
	var errs []error
	seen := make(map[EntityID]int)

	for _, c := range a.cores {
		c.mu.Lock()
		c.queue.each(func(id EntityID) bool {
			if other, ok := seen[id]; ok {
				errs = append(errs, fmt.Errorf("entity %d linked on cores %d and %d", id, other, c.ID))
			}
			seen[id] = c.ID
			return true
		})
		c.mu.Unlock()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for id, e := range a.entities {
		core, inQueue := seen[id]
		linked := e.linkedCore()
		switch {
		case inQueue && linked != core:
			errs = append(errs, fmt.Errorf("entity %d queued on core %d but marked %d", id, core, linked))
		case !inQueue && linked != unlinked:
			errs = append(errs, fmt.Errorf("entity %d marked linked on core %d but not queued", id, linked))
		}
		if d := e.Depth(); d > a.config().DepthMax {
			errs = append(errs, fmt.Errorf("entity %d depth %d exceeds bound", id, d))
		}
	}
	return errors.Join(errs...)
}
