package uxsched

// Place is called by the host when it positions e in the fair ordering of the
// given core on wakeup. UX entities are moved back from the core's
// min_vruntime by a few latency periods so they run soon without gaining an
// unbounded head start. The first placement of a newly spawned entity is left
// to the host.
//
// Place writes the new vruntime to e and returns it, and reports whether it
// changed anything.
func (a *Assist) Place(core int, e *Entity, initial bool) (uint64, bool) {
	c := a.Core(core)
	if c == nil || e == nil {
		return 0, false
	}
	cfg := a.config()
	if !cfg.Enabled || e.IsGroup() || initial {
		return e.VRuntime(), false
	}

	latency := uint64(cfg.Latency)
	var launch uint64
	if cfg.LauncherBoost {
		launch = latency
	}

	var periods uint64
	switch {
	case e.Tier() == Tiers.UI || cameraBiased(cfg, e):
		periods = 3
	case a.isUX(cfg, e):
		periods = 2
	default:
		return e.VRuntime(), false
	}

	// Unsigned arithmetic wraps like the host's vruntime clock does.
	v := c.MinVRuntime() - periods*latency - launch>>1
	e.SetVRuntime(v)
	return v, true
}

// ShouldPreempt is called by the host when wake becomes ready while curr is
// running. A UX entity preempts a non-UX one, and a UI tier entity preempts
// anything below the UI tier.
func (a *Assist) ShouldPreempt(wake, curr *Entity) bool {
	cfg := a.config()
	if !cfg.Enabled || wake == nil || curr == nil {
		return false
	}

	wakeUX := a.isUX(cfg, wake) || cameraBiased(cfg, wake)
	currUX := a.isUX(cfg, curr) || cameraBiased(cfg, curr)
	if wakeUX && !currUX {
		return true
	}

	wakeTop := wake.Tier() == Tiers.UI || cameraBiased(cfg, wake)
	return wakeTop && curr.Tier() != Tiers.UI
}
