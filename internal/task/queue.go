package task

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Queue is a single-slot mailbox: one task slot plus two flags, full and
// disabled. An Enqueue when full is true overwrites the existing slot --
// acceptable because each producer serializes its own submissions. The
// mutex below stands in for the interrupt-mask critical section spec §5
// requires around slot inspection; on real hardware this would be
// cpu.Disable()/Enable() around the same three operations.
type Queue struct {
	mu       sync.Mutex
	slot     Task
	full     atomic.Bool
	disabled atomic.Bool
	signal   chan struct{}
	log      *slog.Logger
	name     string
}

// NewQueue returns an empty, enabled queue. name is used only in log
// output (e.g. "virtual-disk", "vendor").
func NewQueue(name string, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		signal: make(chan struct{}, 1),
		log:    log,
		name:   name,
	}
}

// Enqueue copies t into the slot, overwriting any unclaimed task, and
// wakes the worker. Safe to call from interrupt context.
func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	if q.full.Load() {
		q.log.Warn("task:queue-overwrite", slog.String("queue", q.name))
	}
	q.slot = t
	q.full.Store(true)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dequeue atomically consumes the slot if full, returning the task copy
// and clearing full. Only the worker calls this.
func (q *Queue) Dequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.full.Load() {
		return Task{}, false
	}
	t := q.slot
	q.slot = Task{}
	q.full.Store(false)
	return t, true
}

// SetDisabled sets the disabled flag. While disabled, the engine's worker
// (Engine.runOn) rejects tasks with the Disabled sentinel instead of
// running them.
func (q *Queue) SetDisabled(disabled bool) {
	q.disabled.Store(disabled)
}

// Disabled reports the current disabled flag.
func (q *Queue) Disabled() bool {
	return q.disabled.Load()
}

// Wait returns the channel the worker selects on when both queues are
// empty; it fires once per Enqueue (coalesced, since it's buffered 1).
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Reset drops any queued task and clears disabled -- used by the vendor
// RESET control transfer (vendorcmd.Handler.Reset) on both queues. A
// task the worker has already dequeued is not affected.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.slot = Task{}
	q.full.Store(false)
	q.mu.Unlock()
	q.disabled.Store(false)
}
