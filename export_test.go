package uxsched

// SetCoreForTest moves e to another core without going through the UX queues,
// leaving any link behind the way a racing migration would.
func SetCoreForTest(e *Entity, core int) {
	e.core.Store(int32(core))
}
