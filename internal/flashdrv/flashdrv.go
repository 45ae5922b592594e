// Package flashdrv models the flash driver facade: a table of function
// pointers for the handful of primitives the task executor needs to drive
// external QSPI/SPI flash, plus the "vectorize" indirection that lets
// firmware relocate and override that table at runtime.
//
// The concrete flash chip driver (erase/program/read against real
// hardware) is an external collaborator per spec.md §1; this package only
// owns the table and its default-vs-active indirection. A board package
// supplies a Port implementation; tests supply a RAM-backed fake.
package flashdrv

import "sync/atomic"

// Port is the hardware contract a concrete flash driver implements. Every
// method returns a 32-bit status word; zero means ok, matching the wire
// contract in spec.md §6.
type Port interface {
	EnterCmdXIP() uint32
	ExitXIP() uint32
	EraseSector(flashOffset uint32) uint32
	EraseRange(flashOffset, size uint32) uint32
	PageProgram(flashOffset uint32, data []byte) uint32
	PageRead(flashOffset uint32, dst []byte) uint32
}

// TableSize is the nominal byte footprint of a relocated function table
// (six 4-byte function pointers) used for vectorize's overlap checks.
const TableSize = 6 * 4

// Table binds a Port to the RAM range it currently lives in. BaseAddr is
// zero (meaning "the ROM default, not a RAM copy") until Vectorize moves
// it.
type Table struct {
	Port     Port
	BaseAddr uint32 // 0 if this is the immutable ROM default
}

// Overlaps reports whether [addr, addr+size) intersects this table's
// footprint. A zero-value (ROM default) table never overlaps anything,
// since it doesn't occupy addressable RAM.
func (t Table) Overlaps(address, size uint32) bool {
	if t.BaseAddr == 0 {
		return false
	}
	end := address + size
	tableEnd := t.BaseAddr + TableSize
	return address < tableEnd && end > t.BaseAddr
}

// Registry holds the immutable ROM default and the currently active
// table, swapped atomically so the worker never observes a nil active
// pointer once the engine has started (spec §3 invariant).
type Registry struct {
	def    Table
	active atomic.Pointer[Table]
}

// NewRegistry seeds the registry with the ROM default as both the default
// and the initially active table.
func NewRegistry(def Port) *Registry {
	r := &Registry{def: Table{Port: def}}
	active := r.def
	r.active.Store(&active)
	return r
}

// Default returns the immutable ROM default table.
func (r *Registry) Default() Table { return r.def }

// Active returns the currently active table.
func (r *Registry) Active() Table {
	return *r.active.Load()
}

// SetActive installs t as the active table. Used by Vectorize and by the
// self-destruct guard to revert to the ROM default.
func (r *Registry) SetActive(t Table) {
	r.active.Store(&t)
}

// ResetToDefault reverts the active table to the ROM default. Called when
// a direct RAM write is about to overwrite the active table's own
// footprint, so a subsequent flash call never dispatches through a
// half-overwritten pointer (spec §4.1 self-destruct detection).
func (r *Registry) ResetToDefault() {
	r.SetActive(r.def)
}
