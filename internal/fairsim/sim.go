// Package fairsim is a minimal fair-share host scheduler that drives the UX
// overlay through its hooks on a virtual clock.
//
// Each core keeps a runqueue ordered by vruntime. The simulator calls the
// overlay at the points a real host would: placement and enqueue on wakeup,
// dequeue on sleep, the pick override after choosing the leftmost entity, and
// both queues on migration. There is no load balancing and every entity has
// the same weight.
//
// A [Sim] is driven from a single goroutine. The [uxsched.Assist] it wraps
// may be reconfigured concurrently.
package fairsim

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tomasbasham/uxsched"
)

// ErrUnknownEntity is returned for operations on an entity that was never
// spawned or has exited.
var ErrUnknownEntity = errors.New("unknown entity")

// NoEntity marks an absent entity in a [Decision].
const NoEntity uxsched.EntityID = -1

// DefaultTick is the virtual time that passes per [Sim.Step].
const DefaultTick = time.Millisecond

// epoch keeps overlay clock readings above zero, which the overlay reads as
// not ready.
const epoch = time.Nanosecond

// DecisionKind is what happened on a core.
type DecisionKind int

const (
	// DecisionRun is a context switch to the host's own pick.
	DecisionRun DecisionKind = iota
	// DecisionOverride is a context switch to a UX entity that replaced the
	// host's pick.
	DecisionOverride
	// DecisionPreempt is a wakeup that asked the running entity to yield.
	DecisionPreempt
	// DecisionIdle is a core running out of work.
	DecisionIdle
	// DecisionMigrate is a wakeup that moved an entity to another core.
	DecisionMigrate
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionRun:
		return "run"
	case DecisionOverride:
		return "override"
	case DecisionPreempt:
		return "preempt"
	case DecisionIdle:
		return "idle"
	case DecisionMigrate:
		return "migrate"
	default:
		return fmt.Sprintf("DecisionKind(%d)", int(k))
	}
}

// Decision records one scheduling event.
type Decision struct {
	At        time.Duration
	Core      int
	Kind      DecisionKind
	Entity    uxsched.EntityID
	Displaced uxsched.EntityID
}

func (d Decision) String() string {
	s := fmt.Sprintf("%s core=%d %s %d", d.At, d.Core, d.Kind, d.Entity)
	if d.Displaced != NoEntity {
		s += fmt.Sprintf(" over %d", d.Displaced)
	}
	return s
}

// Options configure a [Sim].
type Options struct {
	Config   uxsched.Config
	Tick     time.Duration
	Logger   *zap.Logger
	Metrics  uxsched.MetricsHook
	OnDecide func(Decision)
}

// Option is a function that configures a [Sim].
type Option func(*Options)

// WithConfig sets the initial overlay tunables.
func WithConfig(cfg uxsched.Config) Option {
	return func(o *Options) {
		o.Config = cfg
	}
}

// WithTick sets the virtual time that passes per step.
func WithTick(d time.Duration) Option {
	return func(o *Options) {
		o.Tick = d
	}
}

// WithLogger sets the logger shared by the simulator and the overlay.
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithMetricsHook passes a metrics hook through to the overlay.
func WithMetricsHook(hook uxsched.MetricsHook) Option {
	return func(o *Options) {
		o.Metrics = hook
	}
}

// WithDecisionHook sets a function called for every recorded decision.
func WithDecisionHook(fn func(Decision)) Option {
	return func(o *Options) {
		o.OnDecide = fn
	}
}

// Sim is the simulated host.
type Sim struct {
	assist   *uxsched.Assist
	logger   *zap.Logger
	tick     time.Duration
	onDecide func(Decision)

	now       atomic.Int64
	rqs       []*runqueue
	ranFor    []time.Duration
	resched   []bool
	tasks     map[uxsched.EntityID]*task
	decisions []Decision
}

// New creates a simulator for the given topology.
func New(topo uxsched.Topology, opts ...Option) (*Sim, error) {
	o := &Options{Config: uxsched.DefaultConfig(), Tick: DefaultTick}
	for _, opt := range opts {
		opt(o)
	}
	if o.Tick <= 0 {
		return nil, fmt.Errorf("tick must be positive, got %s", o.Tick)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	s := &Sim{
		logger:   o.Logger.Named("fairsim"),
		tick:     o.Tick,
		onDecide: o.OnDecide,
		tasks:    make(map[uxsched.EntityID]*task),
	}

	assistOpts := []uxsched.Option{
		uxsched.WithConfig(o.Config),
		uxsched.WithLogger(o.Logger.Named("ux")),
		uxsched.WithClock(uxsched.ClockFunc(func() time.Duration { return s.Now() + epoch })),
	}
	if o.Metrics != nil {
		assistOpts = append(assistOpts, uxsched.WithMetricsHook(o.Metrics))
	}
	a, err := uxsched.New(topo, assistOpts...)
	if err != nil {
		return nil, err
	}
	s.assist = a

	s.rqs = make([]*runqueue, topo.Cores)
	for i := range s.rqs {
		s.rqs[i] = newRunqueue(i)
	}
	s.ranFor = make([]time.Duration, topo.Cores)
	s.resched = make([]bool, topo.Cores)
	return s, nil
}

// Assist returns the overlay the simulator drives.
func (s *Sim) Assist() *uxsched.Assist {
	return s.assist
}

// Now returns the virtual time elapsed since the simulator was created.
func (s *Sim) Now() time.Duration {
	return time.Duration(s.now.Load())
}

// Decisions returns the decisions recorded so far.
func (s *Sim) Decisions() []Decision {
	return s.decisions
}

// Runtime returns the CPU time the entity has been given.
func (s *Sim) Runtime(id uxsched.EntityID) time.Duration {
	if t, ok := s.tasks[id]; ok {
		return time.Duration(t.runtime)
	}
	return 0
}

// Running returns the entity running on core, or nil.
func (s *Sim) Running(core int) *uxsched.Entity {
	if c := s.assist.Core(core); c != nil {
		return c.Current()
	}
	return nil
}

func (s *Sim) lookup(id uxsched.EntityID) (*task, error) {
	t, ok := s.tasks[id]
	if !ok || t.exited {
		return nil, fmt.Errorf("entity %d: %w", id, ErrUnknownEntity)
	}
	return t, nil
}

// Spawn registers a new sleeping entity. It starts at the min_vruntime of
// its core.
func (s *Sim) Spawn(spec uxsched.EntitySpec) (*uxsched.Entity, error) {
	if _, ok := s.tasks[spec.ID]; ok {
		return nil, fmt.Errorf("entity %d already spawned", spec.ID)
	}
	e, err := s.assist.Register(spec)
	if err != nil {
		return nil, err
	}
	e.SetVRuntime(s.assist.Core(spec.Core).MinVRuntime())
	s.assist.Place(spec.Core, e, true)
	s.tasks[spec.ID] = &task{e: e, index: -1}
	return e, nil
}

// Wake makes the entity runnable. UX entities are steered to a preferred core
// and other entities away from cores running UI work before the entity is
// placed and enqueued.
func (s *Sim) Wake(id uxsched.EntityID) error {
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	e := t.e
	if e.State() == uxsched.StateRunnable {
		return nil
	}

	if core, ok := s.selectCore(e); ok && core != e.Core() {
		from := e.Core()
		src, dst := s.assist.Core(from), s.assist.Core(core)
		e.SetVRuntime(e.VRuntime() - src.MinVRuntime() + dst.MinVRuntime())
		s.assist.Migrate(e, core)
		s.record(Decision{Core: core, Kind: DecisionMigrate, Entity: id, Displaced: NoEntity})
		s.logger.Debug("wakeup moved entity", zap.Int32("id", int32(id)), zap.Int("from", from), zap.Int("to", core))
	}

	core := e.Core()
	c := s.assist.Core(core)
	e.SetState(uxsched.StateRunnable)

	if _, adjusted := s.assist.Place(core, e, false); !adjusted {
		// Sleepers are credited at most one latency period.
		floor := c.MinVRuntime() - uint64(s.assist.Config().Latency)
		if int64(e.VRuntime()-floor) < 0 {
			e.SetVRuntime(floor)
		}
	}

	s.rqs[core].push(t)
	s.assist.Enqueue(core, e)

	curr := c.Current()
	switch {
	case curr == nil:
		s.resched[core] = true
	case s.assist.ShouldPreempt(e, curr):
		s.resched[core] = true
		s.record(Decision{Core: core, Kind: DecisionPreempt, Entity: id, Displaced: curr.ID})
	}
	return nil
}

// selectCore picks the core an entity wakes on, if it should move.
func (s *Sim) selectCore(e *uxsched.Entity) (int, bool) {
	if s.assist.IsUX(e) {
		if s.assist.IsPreferredCore(e, e.Core()) {
			return 0, false
		}
		return s.assist.FindUXCore(e)
	}

	if len(s.assist.DropCores(e, []int{e.Core()})) > 0 {
		return 0, false
	}
	var candidates []int
	for core := range s.rqs {
		c := s.assist.Core(core)
		if c.Online() && !c.Isolated() && e.Allowed(core) {
			candidates = append(candidates, core)
		}
	}
	best, found := 0, false
	for _, core := range s.assist.DropCores(e, candidates) {
		if !found || s.rqs[core].Len() < s.rqs[best].Len() {
			best, found = core, true
		}
	}
	return best, found
}

// Sleep takes the entity out of the ready set.
func (s *Sim) Sleep(id uxsched.EntityID) error {
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	e := t.e
	if e.State() != uxsched.StateRunnable {
		return nil
	}

	core := e.Core()
	c := s.assist.Core(core)
	if c.Current() == e {
		c.SetCurrent(nil)
		s.resched[core] = true
	} else {
		s.rqs[core].remove(t)
	}
	e.SetState(uxsched.StateSleeping)
	s.assist.Dequeue(core, e)
	return nil
}

// Exit removes the entity from the simulator and the overlay.
func (s *Sim) Exit(id uxsched.EntityID) error {
	if err := s.Sleep(id); err != nil {
		return err
	}
	s.assist.Exit(id)
	// Keep the task so its runtime is still reported.
	s.tasks[id].exited = true
	return nil
}

// Migrate moves the entity to another core, keeping its vruntime relative to
// the min_vruntime of its core.
func (s *Sim) Migrate(id uxsched.EntityID, to int) error {
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	e := t.e
	dst := s.assist.Core(to)
	if dst == nil {
		return fmt.Errorf("entity %d: core %d out of range", id, to)
	}
	if !e.Allowed(to) {
		return fmt.Errorf("entity %d: core %d not allowed", id, to)
	}
	from := e.Core()
	if from == to {
		return nil
	}
	src := s.assist.Core(from)

	runnable := e.State() == uxsched.StateRunnable
	if src.Current() == e {
		src.SetCurrent(nil)
		s.resched[from] = true
	} else if runnable {
		s.rqs[from].remove(t)
	}

	e.SetVRuntime(e.VRuntime() - src.MinVRuntime() + dst.MinVRuntime())
	s.assist.Migrate(e, to)

	if runnable {
		s.rqs[to].push(t)
		if dst.Current() == nil {
			s.resched[to] = true
		}
	}
	return nil
}

// Block records that waiter blocked on a resource held by holder, lending
// holder its urgency, and puts waiter to sleep.
func (s *Sim) Block(waiter, holder uxsched.EntityID, bt uxsched.BoostType) error {
	w, err := s.lookup(waiter)
	if err != nil {
		return err
	}
	h, err := s.lookup(holder)
	if err != nil {
		return err
	}
	s.assist.Inherit(w.e, h.e, bt)
	return s.Sleep(waiter)
}

// Unblock records that holder released the resource waiter blocked on and
// wakes waiter.
func (s *Sim) Unblock(waiter, holder uxsched.EntityID, bt uxsched.BoostType) error {
	h, err := s.lookup(holder)
	if err != nil {
		return err
	}
	s.assist.Disinherit(h.e, bt)
	return s.Wake(waiter)
}

// Acquire lends the entity a boost of the given type, as a subsystem would
// for a resource it is waited on for.
func (s *Sim) Acquire(id uxsched.EntityID, bt uxsched.BoostType) error {
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	s.assist.Acquire(t.e, bt, 0)
	return nil
}

// Release drops one boost of the given type from the entity.
func (s *Sim) Release(id uxsched.EntityID, bt uxsched.BoostType) error {
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	s.assist.Release(t.e, bt)
	return nil
}

// SetTier changes the static tier of the entity. A runnable entity picks up
// the change on its next wakeup.
func (s *Sim) SetTier(id uxsched.EntityID, tier uxsched.Tier) error {
	t, err := s.lookup(id)
	if err != nil {
		return err
	}
	t.e.SetStaticTier(tier)
	return nil
}

// Step reschedules the cores that need it and runs every core for one tick.
func (s *Sim) Step() {
	latency := s.assist.Config().Latency
	for core := range s.rqs {
		if s.resched[core] || s.ranFor[core] >= latency || s.Running(core) == nil {
			s.schedule(core)
		}
	}

	for core := range s.rqs {
		curr := s.Running(core)
		if curr == nil {
			continue
		}
		curr.SetVRuntime(curr.VRuntime() + uint64(s.tick))
		s.tasks[curr.ID].runtime += int64(s.tick)
		s.ranFor[core] += s.tick
		s.updateMinVRuntime(core)
	}
	s.now.Add(int64(s.tick))
}

// schedule puts the running entity back and runs the leftmost one, unless the
// overlay overrides it.
func (s *Sim) schedule(core int) {
	c := s.assist.Core(core)
	rq := s.rqs[core]
	prev := c.Current()

	s.resched[core] = false
	s.ranFor[core] = 0

	if prev != nil && prev.State() == uxsched.StateRunnable {
		rq.push(s.tasks[prev.ID])
	}
	c.SetCurrent(nil)

	leftmost := rq.peek()
	if leftmost == nil {
		if prev != nil {
			s.record(Decision{Core: core, Kind: DecisionIdle, Entity: NoEntity, Displaced: prev.ID})
		}
		return
	}

	next, kind, displaced := leftmost, DecisionRun, NoEntity
	if o := s.assist.Pick(core, leftmost.e); o != nil {
		// The override must be waiting on this core's runqueue.
		if t, ok := s.tasks[o.ID]; ok && rq.remove(t) {
			next, kind, displaced = t, DecisionOverride, leftmost.e.ID
		}
	}
	if kind == DecisionRun {
		rq.remove(leftmost)
	}
	c.SetCurrent(next.e)
	s.updateMinVRuntime(core)

	if next.e != prev || kind == DecisionOverride {
		s.record(Decision{Core: core, Kind: kind, Entity: next.e.ID, Displaced: displaced})
	}
}

// updateMinVRuntime advances the baseline of the core, never moving it back.
func (s *Sim) updateMinVRuntime(core int) {
	c := s.assist.Core(core)
	var (
		v     uint64
		found bool
	)
	if curr := c.Current(); curr != nil {
		v, found = curr.VRuntime(), true
	}
	if t := s.rqs[core].peek(); t != nil {
		if lv := t.e.VRuntime(); !found || int64(lv-v) < 0 {
			v, found = lv, true
		}
	}
	if found && int64(v-c.MinVRuntime()) > 0 {
		c.SetMinVRuntime(v)
	}
}

func (s *Sim) record(d Decision) {
	d.At = s.Now()
	s.decisions = append(s.decisions, d)
	s.logger.Debug("decision",
		zap.Duration("at", d.At),
		zap.Int("core", d.Core),
		zap.Stringer("kind", d.Kind),
		zap.Int32("entity", int32(d.Entity)),
		zap.Int32("displaced", int32(d.Displaced)))
	if s.onDecide != nil {
		s.onDecide(d)
	}
}
