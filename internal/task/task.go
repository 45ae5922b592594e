// Package task implements the core's asynchronous task engine: a pair of
// single-slot handoff queues fed from interrupt context and a cooperative
// worker that executes memory/flash operations outside interrupt context.
package task

import "fmt"

// TypeBits is a non-empty subset of the operations a Task requests.
type TypeBits uint16

const (
	ExitXIP TypeBits = 1 << iota
	FlashErase
	Read
	Write
	Exclusive
	EnterCmdXIP
	Exec
	VectorizeFlash
)

// Has reports whether all bits in want are set.
func (b TypeBits) Has(want TypeBits) bool { return b&want == want }

// Source identifies which logical channel produced a task.
type Source uint8

const (
	VirtualDisk Source = iota
	Vendor
)

func (s Source) String() string {
	if s == Vendor {
		return "vendor"
	}
	return "virtual-disk"
}

// ExclusiveParam carries the EXCLUSIVE command's payload byte.
type ExclusiveParam uint8

const (
	ExclusiveParamNone ExclusiveParam = iota
	ExclusiveParamOn
	ExclusiveParamOnAndEject
)

// Result is the closed outcome taxonomy from spec §7. Zero value is OK;
// every failure is non-zero so a sentinel disabled-queue result is
// trivially distinguishable from success.
type Result uint8

const (
	OK Result = iota
	Rebooting
	BadAlignment
	InvalidAddress
	InterleavedWrite
	UnknownCmd
	InvalidCmdLength
	InvalidTransferLength
	Disabled
)

func (r Result) String() string {
	switch r {
	case OK:
		return "ok"
	case Rebooting:
		return "rebooting"
	case BadAlignment:
		return "bad-alignment"
	case InvalidAddress:
		return "invalid-address"
	case InterleavedWrite:
		return "interleaved-write"
	case UnknownCmd:
		return "unknown-cmd"
	case InvalidCmdLength:
		return "invalid-cmd-length"
	case InvalidTransferLength:
		return "invalid-transfer-length"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

// Callback is invoked exactly once after a task finishes executing (or is
// rejected because its queue is disabled), with interrupts conceptually
// masked -- i.e. synchronously, from within the worker goroutine, before
// the worker looks at either queue again.
type Callback func(Task)

// Task is the value-semantic record copied between producer (interrupt)
// context and the worker. Copying a Task copies the Data slice header,
// not its backing array -- callers must keep the backing buffer alive
// until Callback fires.
type Task struct {
	Type                    TypeBits
	TransferAddr            uint32
	EraseAddr               uint32
	EraseSize               uint32
	Data                    []byte
	Source                  Source
	CheckLastMutationSource bool
	ExclusiveParam          ExclusiveParam

	// Token correlates completion with the enqueuer's own bookkeeping.
	Token uint32
	// VendorUserToken is the host-visible correlator for vendor commands.
	VendorUserToken uint32

	Callback Callback
	Result   Result
}
