package uxsched

import (
	"time"

	"go.uber.org/zap"
)

// Enqueue is called by the host whenever e becomes ready on the given core.
// It records the ready time of e and, if e classifies as UX, links it on the
// core's UX queue. It is a no-op for an entity that is already linked.
func (a *Assist) Enqueue(core int, e *Entity) {
	c := a.Core(core)
	if c == nil || e == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	a.enqueueLocked(c, e)
}

func (a *Assist) enqueueLocked(c *Core, e *Entity) {
	if e.linkedCore() != unlinked {
		return
	}
	e.enqueueTime.Store(int64(a.clock.Now()))
	if a.IsUX(e) {
		a.linkLocked(c, e)
	}
}

// Dequeue is called by the host whenever e leaves the ready set of the given
// core, because it sleeps, exits or migrates. A dynamic boost that has
// outlived MaxDynamicExist is discarded rather than carried across the sleep.
func (a *Assist) Dequeue(core int, e *Entity) {
	c := a.Core(core)
	if c == nil || e == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	a.dequeueLocked(c, e)
}

func (a *Assist) dequeueLocked(c *Core, e *Entity) {
	e.enqueueTime.Store(0)
	if e.linkedCore() == unlinked {
		return
	}

	cfg := a.config()
	if e.dynamic.Load() != 0 && a.clock.Now()-e.DynamicStart() > cfg.MaxDynamicExist {
		e.dynamic.Store(0)
		e.depth.Store(0)
		a.logger.Debug("expired dynamic boost",
			zap.Int32("id", int32(e.ID)),
			zap.Int("core", c.ID))
	}
	a.unlinkLocked(c, e, UnlinkDequeued)
}

// linkLocked appends e to the UX queue of c. c.mu must be held.
func (a *Assist) linkLocked(c *Core, e *Entity) bool {
	if !e.linked.CompareAndSwap(unlinked, int32(c.ID)) {
		return false
	}
	c.queue.push(e.ID)

	a.logger.Debug("ux link", zap.Int32("id", int32(e.ID)), zap.Int("core", c.ID))
	if a.metrics != nil {
		a.metrics.OnLink(c.ID, e)
	}
	return true
}

// unlinkLocked removes e from the UX queue of c if that is where it is
// linked. c.mu must be held.
func (a *Assist) unlinkLocked(c *Core, e *Entity, reason UnlinkReason) bool {
	if !e.linked.CompareAndSwap(int32(c.ID), unlinked) {
		return false
	}
	c.queue.remove(e.ID)
	a.noteUnlink(c, e.ID, reason)
	return true
}

func (a *Assist) noteUnlink(c *Core, id EntityID, reason UnlinkReason) {
	a.logger.Debug("ux unlink",
		zap.Int32("id", int32(id)),
		zap.Int("core", c.ID),
		zap.Stringer("reason", reason))
	if a.metrics != nil {
		a.metrics.OnUnlink(c.ID, id, reason)
	}
}

// pickFirstLocked returns the linked UX entity of c with the smallest
// vruntime, first in list order on ties. Members that no longer belong to c
// are unlinked on the way. c.mu must be held.
func (a *Assist) pickFirstLocked(c *Core, cfg *Config) *Entity {
	var leftmost *Entity

	c.queue.each(func(id EntityID) bool {
		e, ok := a.Lookup(id)
		if !ok {
			c.queue.remove(id)
			a.noteUnlink(c, id, UnlinkStale)
			return true
		}
		if e.linkedCore() != c.ID {
			// The ID was reused after an exit left it queued here.
			c.queue.remove(id)
			a.noteUnlink(c, id, UnlinkStale)
			return true
		}
		if e.Core() != c.ID {
			a.logger.Warn("ux entity queued on foreign core",
				zap.Int32("id", int32(id)),
				zap.Int("queued", c.ID),
				zap.Int("core", e.Core()))
			a.unlinkLocked(c, e, UnlinkStale)
			return true
		}
		if !a.isUX(cfg, e) {
			return true
		}
		if leftmost == nil || entityBefore(e, leftmost) {
			leftmost = e
		}
		return true
	})

	return leftmost
}

// entityBefore compares vruntimes the way the fair scheduler does, tolerating
// wraparound.
func entityBefore(a, b *Entity) bool {
	return int64(a.VRuntime()-b.VRuntime()) < 0
}

// vruntimeLead returns how far a is ahead of b in vruntime.
func vruntimeLead(a, b *Entity) time.Duration {
	return time.Duration(int64(a.VRuntime() - b.VRuntime()))
}
