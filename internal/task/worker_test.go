package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"rp2040bootrom/internal/addr"
	"rp2040bootrom/internal/flashdrv"
)

func newTestEngine() *Engine {
	ram := newFakeRAM()
	flash := newFakeFlash()
	reg := flashdrv.NewRegistry(flash)
	exec := NewExecutor(ram, nil, reg, nil, nil, nil, nil)
	disk := NewQueue("virtual-disk", nil)
	vendor := NewQueue("vendor", nil)
	return NewEngine(disk, vendor, exec, nil, nil)
}

func TestQueueOverwriteKeepsLatest(t *testing.T) {
	q := NewQueue("test", nil)
	q.Enqueue(Task{Token: 1})
	q.Enqueue(Task{Token: 2}) // overwrites the unclaimed slot 1

	got, ok := q.Dequeue()
	if !ok || got.Token != 2 {
		t.Fatalf("Dequeue = (%v, %v), want (token=2, true)", got, ok)
	}
	if _, ok := q.Dequeue(); ok {
		t.Fatalf("expected queue empty after single dequeue")
	}
}

func TestWorkerPrioritizesDiskOverVendor(t *testing.T) {
	e := newTestEngine()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 2)

	cb := func(name string) Callback {
		return func(Task) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			done <- struct{}{}
		}
	}

	e.Vendor.Enqueue(Task{Type: Read, TransferAddr: addr.RAMBase, Data: make([]byte, 1), Callback: cb("vendor")})
	e.Disk.Enqueue(Task{Type: Read, TransferAddr: addr.RAMBase, Data: make([]byte, 1), Callback: cb("disk")})

	ctx, cancel := context.WithCancel(context.Background())
	go e.Worker(ctx)
	defer cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first callback")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "disk" || order[1] != "vendor" {
		t.Fatalf("order = %v, want [disk vendor]", order)
	}
}

func TestDisabledQueueShortCircuits(t *testing.T) {
	e := newTestEngine()
	e.Disk.SetDisabled(true)

	result := make(chan Result, 1)
	e.Disk.Enqueue(Task{
		Type: Write, TransferAddr: addr.RAMBase, Data: []byte{1},
		Callback: func(t Task) { result <- t.Result },
	})

	ctx, cancel := context.WithCancel(context.Background())
	go e.Worker(ctx)
	defer cancel()

	select {
	case r := <-result:
		if r != Disabled {
			t.Fatalf("result = %v, want Disabled", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestExclusiveTogglesDiskQueue(t *testing.T) {
	e := newTestEngine()

	done := make(chan struct{}, 1)
	e.Vendor.Enqueue(Task{
		Type:           Exclusive,
		ExclusiveParam: ExclusiveParamOn,
		Callback:       func(Task) { done <- struct{}{} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	go e.Worker(ctx)
	defer cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}

	// No polling needed: the worker calls SetDisabled before it invokes
	// the callback, so disabled is already true once done has fired.
	if !e.Disk.Disabled() {
		t.Fatalf("expected virtual-disk queue disabled after EXCLUSIVE")
	}
}
