package task

import (
	"log/slog"

	"rp2040bootrom/internal/addr"
	"rp2040bootrom/internal/flashdrv"
)

// RAMPort is the contract for direct SRAM / XIP-cache-as-RAM access. The
// executor never holds raw pointers; a board package backs this with real
// memory, tests back it with a plain buffer.
type RAMPort interface {
	Read(address, length uint32) []byte
	Write(address uint32, data []byte)
}

// ROMPort is the contract for direct boot-ROM reads.
type ROMPort interface {
	Read(address, length uint32) []byte
}

// BitmapRegion reports the UF2 tracker's bitmap footprint so Vectorize
// can refuse to relocate the flash table on top of live tracker state.
type BitmapRegion func() (address, size uint32)

// Execer runs code at an address. On real hardware this does not return
// on success; the fake used by tests may.
type Execer func(address uint32)

// Ejecter signals the MSC layer to eject its logical unit.
type Ejecter func()

// Executor runs a single Task's composite operation against RAM, ROM, or
// flash, in the fixed sub-step order spec.md §4.1 mandates.
type Executor struct {
	RAM      RAMPort
	ROM      ROMPort
	Flash    *flashdrv.Registry
	Bitmap   BitmapRegion
	Exec     Execer
	Eject    Ejecter
	log      *slog.Logger
}

// NewExecutor wires the collaborators an Executor needs. log may be nil.
func NewExecutor(ram RAMPort, rom ROMPort, flash *flashdrv.Registry, bitmap BitmapRegion, exec Execer, eject Ejecter, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{RAM: ram, ROM: rom, Flash: flash, Bitmap: bitmap, Exec: exec, Eject: eject, log: log}
}

// Run executes t's composite operation and returns the outcome. It never
// touches q; callers are expected to have already checked q.Disabled and
// short-circuited with Disabled before calling Run, and to persist the
// mutation-source bookkeeping (owned by Engine, not Executor) afterwards.
func (e *Executor) Run(t *Task, lastSource Source, haveLastSource bool) Result {
	if t.Type.Has(VectorizeFlash) {
		if r := e.doVectorize(t); r != OK {
			return r
		}
	}
	if t.Type.Has(Exclusive) {
		e.doExclusive(t)
	}
	if t.Type.Has(ExitXIP) {
		if r := e.doExitXIP(); r != OK {
			return r
		}
	}
	if t.Type.Has(Exec) {
		e.doExec(t)
	}
	if t.Type&(Write|FlashErase) != 0 && t.CheckLastMutationSource && haveLastSource {
		if lastSource != t.Source {
			return InterleavedWrite
		}
	}
	if t.Type.Has(FlashErase) {
		if r := e.doErase(t); r != OK {
			return r
		}
	}
	if t.Type.Has(Write) {
		if r := e.doWrite(t); r != OK {
			return r
		}
	}
	if t.Type.Has(Read) {
		if r := e.doRead(t); r != OK {
			return r
		}
	}
	if t.Type.Has(EnterCmdXIP) {
		if r := e.doEnterCmdXIP(); r != OK {
			return r
		}
	}
	return OK
}

// Mutates reports whether t, had it run to completion, is the kind of
// task that updates last_mutation_source -- a successful WRITE or
// FLASH_ERASE. Engine calls this after Run returns OK.
func (t *Task) Mutates() bool {
	return t.Type.Has(Write) || t.Type.Has(FlashErase)
}

func (e *Executor) doVectorize(t *Task) Result {
	if !addr.Even(t.TransferAddr) {
		return BadAlignment
	}
	if addr.Classify(t.TransferAddr, flashdrv.TableSize) != addr.RAM {
		return InvalidAddress
	}
	if e.Bitmap != nil {
		bmAddr, bmSize := e.Bitmap()
		if bmSize > 0 {
			end := t.TransferAddr + flashdrv.TableSize
			bmEnd := bmAddr + bmSize
			if t.TransferAddr < bmEnd && end > bmAddr {
				return InvalidAddress
			}
		}
	}
	def := e.Flash.Default()
	if e.RAM != nil {
		e.RAM.Write(t.TransferAddr, make([]byte, flashdrv.TableSize))
	}
	e.Flash.SetActive(flashdrv.Table{Port: def.Port, BaseAddr: t.TransferAddr})
	e.log.Info("task:vectorize", slog.String("addr", hex32(t.TransferAddr)))
	return OK
}

func (e *Executor) doExclusive(t *Task) {
	// The queue's disabled flag itself is Engine-owned (it belongs to the
	// virtual-disk Queue, not the Executor); Engine applies the toggle
	// after Run returns by inspecting t.ExclusiveParam. Eject, if any, is
	// fired here since it has no further bearing on task.Result.
	if t.ExclusiveParam == ExclusiveParamOnAndEject && e.Eject != nil {
		e.Eject()
	}
}

func (e *Executor) doExitXIP() Result {
	active := e.Flash.Active()
	if active.Port == nil {
		return OK
	}
	if status := active.Port.ExitXIP(); status != 0 {
		return InvalidAddress
	}
	return OK
}

func (e *Executor) doEnterCmdXIP() Result {
	active := e.Flash.Active()
	if active.Port == nil {
		return OK
	}
	if status := active.Port.EnterCmdXIP(); status != 0 {
		return InvalidAddress
	}
	return OK
}

func (e *Executor) doExec(t *Task) {
	if e.Exec != nil {
		e.Exec(t.TransferAddr)
	}
}

func (e *Executor) doErase(t *Task) Result {
	if !addr.AlignedSector(t.EraseAddr, t.EraseSize) {
		return BadAlignment
	}
	if addr.Classify(t.EraseAddr, t.EraseSize) != addr.Flash {
		return InvalidAddress
	}
	active := e.Flash.Active()
	if active.Port == nil {
		return InvalidAddress
	}
	offset := t.EraseAddr - addr.FlashXIPBase
	if status := active.Port.EraseRange(offset, t.EraseSize); status != 0 {
		return InvalidAddress
	}
	return OK
}

func (e *Executor) doWrite(t *Task) Result {
	medium := addr.Classify(t.TransferAddr, uint32(len(t.Data)))
	switch medium {
	case addr.RAM:
		active := e.Flash.Active()
		if active.Overlaps(t.TransferAddr, uint32(len(t.Data))) {
			// Self-destruct detection: revert before the copy can land
			// on top of the active table's own footprint.
			e.Flash.ResetToDefault()
		}
		if e.RAM == nil {
			return InvalidAddress
		}
		e.RAM.Write(t.TransferAddr, t.Data)
		return OK
	case addr.Flash:
		if !addr.AlignedPage(t.TransferAddr) {
			return BadAlignment
		}
		if uint32(len(t.Data)) > addr.PageSize {
			return BadAlignment
		}
		active := e.Flash.Active()
		if active.Port == nil {
			return InvalidAddress
		}
		offset := t.TransferAddr - addr.FlashXIPBase
		if status := active.Port.PageProgram(offset, t.Data); status != 0 {
			return InvalidAddress
		}
		return OK
	default:
		return InvalidAddress
	}
}

func (e *Executor) doRead(t *Task) Result {
	medium := addr.Classify(t.TransferAddr, uint32(len(t.Data)))
	switch medium {
	case addr.RAM:
		if e.RAM == nil {
			return InvalidAddress
		}
		copy(t.Data, e.RAM.Read(t.TransferAddr, uint32(len(t.Data))))
		return OK
	case addr.ROM:
		if e.ROM == nil {
			return InvalidAddress
		}
		copy(t.Data, e.ROM.Read(t.TransferAddr, uint32(len(t.Data))))
		return OK
	case addr.Flash:
		if uint32(len(t.Data)) > addr.PageSize {
			return BadAlignment
		}
		active := e.Flash.Active()
		if active.Port == nil {
			return InvalidAddress
		}
		offset := t.TransferAddr - addr.FlashXIPBase
		if status := active.Port.PageRead(offset, t.Data); status != 0 {
			return InvalidAddress
		}
		return OK
	default:
		return InvalidAddress
	}
}

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	buf := [10]byte{'0', 'x'}
	for i := 9; i >= 2; i-- {
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[:])
}
