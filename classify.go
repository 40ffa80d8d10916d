package uxsched

// IsUX reports whether e currently counts as a UX entity: the overlay is
// enabled, e runs under the fair class, and e either has a static tier or a
// dynamic boost refreshed within MaxDynamicGranularity.
func (a *Assist) IsUX(e *Entity) bool {
	return a.isUX(a.config(), e)
}

func (a *Assist) isUX(cfg *Config, e *Entity) bool {
	if !cfg.Enabled || e == nil || e.Class() != ClassFair {
		return false
	}
	if e.Tier() != Tiers.None {
		return true
	}
	if e.dynamic.Load() == 0 {
		return false
	}
	return a.clock.Now()-e.DynamicStart() <= cfg.MaxDynamicGranularity
}

// CanPropagate reports whether e may lend its urgency to an entity it blocks
// on. Propagation stops once e sits at the depth bound.
func (a *Assist) CanPropagate(e *Entity) bool {
	return e != nil && e.boosted() && e.Depth() < a.config().DepthMax
}

// SkipFurtherCheck reports whether a host may skip its remaining wakeup
// preemption heuristics for e, which it may for leaf entities of the UI tier.
func (a *Assist) SkipFurtherCheck(e *Entity) bool {
	return e != nil && !e.IsGroup() && e.Tier() == Tiers.UI
}

// cameraBiased reports whether the camera provider bias applies to e.
func cameraBiased(cfg *Config, e *Entity) bool {
	return cfg.CameraOpt && e.CameraOpt()
}
