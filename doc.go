// Package uxsched implements a UX-priority overlay for a fair-share,
// virtual-runtime ordered scheduler.
//
// The overlay does not schedule anything itself. A host scheduler calls its
// hooks at the usual decision points (enqueue, dequeue, pick, placement and
// wakeup preemption) and the overlay answers with a bias towards entities
// that are critical to user experience: UI and animation threads, and threads
// that temporarily inherit urgency from a UX thread blocked on them.
//
// An entity is UX when it carries a static [Tier], or when a lock or IPC
// subsystem has lent it a dynamic boost that has not yet decayed. Dynamic
// boosts are typed reference counts, one per [BoostType], and propagate only
// a bounded number of hops. Every core keeps a small queue of ready UX
// entities alongside the host's own ready queue; [Assist.Pick] consults it to
// override the host's choice once the UX entity has waited a short settle
// delay, unless doing so would build up an unbounded fairness debt.
//
// Nothing on the scheduling paths returns an error. The host always has a
// valid fallback, which is to run whatever it had already selected.
package uxsched
