package uxsched

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Core is one execution core as seen by the overlay: its UX queue and the
// host state the overlay reads when choosing a core for UX work.
type Core struct {
	ID int

	// Mutex protects the UX queue and the enqueue times of the entities linked
	// on it. It stands in for the host's per-core ready-queue lock.
	mu    sync.Mutex
	queue *uxQueue

	curr        atomic.Pointer[Entity]
	minVRuntime atomic.Uint64
	offline     atomic.Bool
	isolated    atomic.Bool
}

func newCore(id int) *Core {
	return &Core{ID: id, queue: newUXQueue()}
}

// Current returns the entity the host is running on the core, or nil when the
// core is idle.
func (c *Core) Current() *Entity {
	return c.curr.Load()
}

// SetCurrent records the entity the host is now running on the core.
func (c *Core) SetCurrent(e *Entity) {
	c.curr.Store(e)
}

// MinVRuntime returns the fair ordering baseline of the core's ready queue.
func (c *Core) MinVRuntime() uint64 {
	return c.minVRuntime.Load()
}

// SetMinVRuntime updates the fair ordering baseline of the core's ready queue.
func (c *Core) SetMinVRuntime(v uint64) {
	c.minVRuntime.Store(v)
}

// Online reports whether the core accepts work.
func (c *Core) Online() bool {
	return !c.offline.Load()
}

// SetOnline marks the core as online or offline.
func (c *Core) SetOnline(v bool) {
	c.offline.Store(!v)
}

// Isolated reports whether the core is isolated from general placement.
func (c *Core) Isolated() bool {
	return c.isolated.Load()
}

// SetIsolated marks the core as isolated or not.
func (c *Core) SetIsolated(v bool) {
	c.isolated.Store(v)
}

// Len returns the number of entities linked on the core's UX queue.
func (c *Core) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// Queued returns the IDs linked on the core's UX queue in list order.
func (c *Core) Queued() []EntityID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]EntityID, 0, c.queue.len())
	c.queue.each(func(id EntityID) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// uxQueue is an insertion-ordered set of entity IDs.
type uxQueue struct {
	order *list.List
	index map[EntityID]*list.Element
}

func newUXQueue() *uxQueue {
	return &uxQueue{
		order: list.New(),
		index: make(map[EntityID]*list.Element),
	}
}

func (q *uxQueue) push(id EntityID) bool {
	if _, ok := q.index[id]; ok {
		return false
	}
	q.index[id] = q.order.PushBack(id)
	return true
}

func (q *uxQueue) remove(id EntityID) bool {
	el, ok := q.index[id]
	if !ok {
		return false
	}
	q.order.Remove(el)
	delete(q.index, id)
	return true
}

func (q *uxQueue) len() int {
	return q.order.Len()
}

// each visits the IDs in list order until fn returns false. fn may remove the
// ID it is visiting.
func (q *uxQueue) each(fn func(EntityID) bool) {
	for el := q.order.Front(); el != nil; {
		next := el.Next()
		if !fn(el.Value.(EntityID)) {
			return
		}
		el = next
	}
}
