package task

import (
	"context"
	"log/slog"
	"sync/atomic"

	"rp2040bootrom/internal/reboot"
)

// Metrics counts tasks processed per queue. The vendor GET_STATUS
// status block does not include these counters.
type Metrics struct {
	DiskExecuted   atomic.Uint64
	DiskFailed     atomic.Uint64
	VendorExecuted atomic.Uint64
	VendorFailed   atomic.Uint64
}

// Engine owns the two queues, the executor, and the last-mutation-source
// bookkeeping. last_mutation_source is written only from the worker
// goroutine and read only from the worker goroutine, so -- per spec §5 --
// it needs no synchronization of its own.
type Engine struct {
	Disk     *Queue
	Vendor   *Queue
	Exec     *Executor
	Rebooter reboot.Rebooter

	lastMutationSource Source
	haveLastMutation   bool

	Metrics Metrics
	log     *slog.Logger
}

// NewEngine wires a worker over the given queues, executor, and the
// rebooter collaborator used to check whether a reboot is already armed
// (spec.md §7's REBOOTING short-circuit). rebooter may be nil, in which
// case the engine never short-circuits for this reason.
func NewEngine(disk, vendor *Queue, exec *Executor, rebooter reboot.Rebooter, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{Disk: disk, Vendor: vendor, Exec: exec, Rebooter: rebooter, log: log}
}

// Worker drains the virtual-disk queue first, then the vendor queue, and
// blocks on the next signal when both are empty. It runs until ctx is
// canceled; a real boot ROM's worker never returns, so production wiring
// passes context.Background().
func (e *Engine) Worker(ctx context.Context) {
	for {
		if t, ok := e.Disk.Dequeue(); ok {
			e.runOn(e.Disk, t)
			continue
		}
		if t, ok := e.Vendor.Dequeue(); ok {
			e.runOn(e.Vendor, t)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-e.Disk.Wait():
		case <-e.Vendor.Wait():
		}
	}
}

func (e *Engine) runOn(q *Queue, t Task) {
	if e.Rebooter != nil && e.Rebooter.Armed() {
		t.Result = Rebooting
	} else if q.Disabled() {
		t.Result = Disabled
	} else {
		t.Result = e.Exec.Run(&t, e.lastMutationSource, e.haveLastMutation)
		if t.Result == OK && t.Mutates() {
			e.lastMutationSource = t.Source
			e.haveLastMutation = true
		}
		if t.Type.Has(Exclusive) {
			switch t.ExclusiveParam {
			case ExclusiveParamOn, ExclusiveParamOnAndEject:
				e.Disk.SetDisabled(true)
			default:
				e.Disk.SetDisabled(false)
			}
		}
	}

	e.recordMetric(q, t.Result)
	if t.Callback != nil {
		t.Callback(t)
	}
}

func (e *Engine) recordMetric(q *Queue, result Result) {
	isDisk := q == e.Disk
	if result == OK {
		if isDisk {
			e.Metrics.DiskExecuted.Add(1)
		} else {
			e.Metrics.VendorExecuted.Add(1)
		}
		return
	}
	if isDisk {
		e.Metrics.DiskFailed.Add(1)
	} else {
		e.Metrics.VendorFailed.Add(1)
	}
	e.log.Warn("task:failed", slog.String("queue", queueName(isDisk)), slog.String("result", result.String()))
}

func queueName(isDisk bool) string {
	if isDisk {
		return "virtual-disk"
	}
	return "vendor"
}
