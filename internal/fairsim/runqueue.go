package fairsim

import (
	"container/heap"

	"github.com/tomasbasham/uxsched"
)

// Ensure runqueue implements [heap.Interface].
var _ heap.Interface = (*runqueue)(nil)

// task is the host's view of an entity: its place in a runqueue and the CPU
// time it has been given.
type task struct {
	e       *uxsched.Entity
	index   int
	seqNo   uint64
	runtime int64
	exited  bool
}

// runqueue orders the ready, not running, entities of one core by vruntime.
type runqueue struct {
	core  int
	tasks []*task
	seq   uint64
}

func newRunqueue(core int) *runqueue {
	rq := &runqueue{core: core}
	heap.Init(rq)
	return rq
}

func (rq *runqueue) push(t *task) {
	rq.seq++
	t.seqNo = rq.seq
	heap.Push(rq, t)
}

func (rq *runqueue) remove(t *task) bool {
	if t.index < 0 || t.index >= len(rq.tasks) || rq.tasks[t.index] != t {
		return false
	}
	heap.Remove(rq, t.index)
	return true
}

func (rq *runqueue) peek() *task {
	if len(rq.tasks) == 0 {
		return nil
	}
	return rq.tasks[0]
}

// Len returns the number of waiting tasks.
func (rq *runqueue) Len() int {
	return len(rq.tasks)
}

// Less orders by vruntime, tolerating wraparound, then by arrival.
func (rq *runqueue) Less(i, j int) bool {
	a, b := rq.tasks[i], rq.tasks[j]
	if d := int64(a.e.VRuntime() - b.e.VRuntime()); d != 0 {
		return d < 0
	}
	return a.seqNo < b.seqNo
}

// Swap is used by the heap to reorder tasks. It should not be called
// directly.
func (rq *runqueue) Swap(i, j int) {
	rq.tasks[i], rq.tasks[j] = rq.tasks[j], rq.tasks[i]
	rq.tasks[i].index = i
	rq.tasks[j].index = j
}

// Push is used by the heap to add new tasks. It should not be called
// directly.
func (rq *runqueue) Push(x any) {
	t := x.(*task)
	t.index = len(rq.tasks)
	rq.tasks = append(rq.tasks, t)
}

// Pop is used by the heap to remove tasks. It should not be called directly.
func (rq *runqueue) Pop() any {
	old := rq.tasks
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	rq.tasks = old[0 : n-1]
	return t
}
