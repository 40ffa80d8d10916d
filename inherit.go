package uxsched

// Inherit is called by a lock or IPC subsystem when waiter blocks on holder.
// If waiter can propagate its urgency and holder is not already UX, holder
// receives a boost of type t one hop deeper than waiter. Otherwise a camera
// provider bias on waiter is passed on to holder.
func (a *Assist) Inherit(waiter, holder *Entity, t BoostType) {
	if waiter == nil || holder == nil || waiter == holder {
		return
	}
	if a.CanPropagate(waiter) && !a.IsUX(holder) {
		a.Acquire(holder, t, waiter.Depth())
		return
	}
	if waiter.CameraOpt() {
		holder.SetCameraOpt(true)
	}
}

// Disinherit undoes [Assist.Inherit] once the wait on holder resolves. It
// releases one boost of type t, or clears a camera provider bias lent in its
// place.
func (a *Assist) Disinherit(holder *Entity, t BoostType) {
	if holder == nil {
		return
	}
	if holder.BoostCount(t) > 0 {
		a.Release(holder, t)
		return
	}
	if holder.CameraOpt() {
		holder.SetCameraOpt(false)
	}
}
