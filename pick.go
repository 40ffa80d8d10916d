package uxsched

import "go.uber.org/zap"

// Pick is called by the host once it has selected current to run next on the
// given core. It returns the UX entity that should run instead, or nil to
// keep the host's choice.
//
// No override happens when current already carries a boost, or when the best
// UX entity is more than MaxOverThresh ahead of current in vruntime. Otherwise
// the UX entity wins once it has been ready for at least MinSchedDelay, so a
// thread that woke a moment ago does not thrash the one about to run.
func (a *Assist) Pick(core int, current *Entity) *Entity {
	c := a.Core(core)
	if c == nil || current == nil || current.boosted() {
		return nil
	}
	cfg := a.config()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queue.len() == 0 {
		return nil
	}
	key := a.pickFirstLocked(c, cfg)
	if key == nil || key == current {
		return nil
	}

	if vruntimeLead(key, current) > cfg.MaxOverThresh {
		a.logger.Debug("ux override refused over thresh",
			zap.Int("core", c.ID),
			zap.Int32("id", int32(key.ID)),
			zap.Int32("current", int32(current.ID)))
		return nil
	}

	now, readyAt := a.clock.Now(), key.EnqueueTime()
	if now < readyAt || now-readyAt < cfg.MinSchedDelay {
		return nil
	}

	if a.metrics != nil {
		a.metrics.OnOverride(c.ID, key, current)
	}
	return key
}
