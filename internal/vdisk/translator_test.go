package vdisk

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"rp2040bootrom/internal/addr"
	"rp2040bootrom/internal/flashdrv"
	"rp2040bootrom/internal/reboot"
	"rp2040bootrom/internal/task"
)

const testFamilyID = 0x1234abcd

type fakeRAM struct {
	mu  sync.Mutex
	buf map[uint32][]byte
}

func newFakeRAM() *fakeRAM { return &fakeRAM{buf: map[uint32][]byte{}} }

func (f *fakeRAM) Read(address, length uint32) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, length)
	copy(out, f.buf[address])
	return out
}

func (f *fakeRAM) Write(address uint32, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.buf[address] = cp
}

func (f *fakeRAM) snapshot(address, length uint32) []byte {
	return f.Read(address, length)
}

type fakeFlash struct {
	mu       sync.Mutex
	erased   map[uint32]uint32
	programs map[uint32][]byte
}

func newFakeFlash() *fakeFlash {
	return &fakeFlash{erased: map[uint32]uint32{}, programs: map[uint32][]byte{}}
}

func (f *fakeFlash) EnterCmdXIP() uint32 { return 0 }
func (f *fakeFlash) ExitXIP() uint32     { return 0 }
func (f *fakeFlash) EraseSector(offset uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.erased[offset] = addr.SectorSize
	return 0
}
func (f *fakeFlash) EraseRange(offset, size uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.erased[offset] = size
	return 0
}
func (f *fakeFlash) PageProgram(offset uint32, data []byte) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.programs[offset] = cp
	return 0
}
func (f *fakeFlash) PageRead(offset uint32, dst []byte) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(dst, f.programs[offset])
	return 0
}

func (f *fakeFlash) erasedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.erased)
}

type harness struct {
	disk       *task.Queue
	vendor     *task.Queue
	ram        *fakeRAM
	flash      *fakeFlash
	rebooter   *reboot.Recorder
	translator *Translator
	cancel     context.CancelFunc
}

func newHarness(t *testing.T, totalSectors uint32) *harness {
	t.Helper()
	log := slog.Default()

	disk := task.NewQueue("virtual-disk", log)
	vendor := task.NewQueue("vendor", log)
	ram := newFakeRAM()
	flash := newFakeFlash()
	reg := flashdrv.NewRegistry(flash)
	exec := task.NewExecutor(ram, nil, reg, nil, nil, nil, log)
	rebooter := &reboot.Recorder{}
	engine := task.NewEngine(disk, vendor, exec, rebooter, log)

	tr, err := NewTranslator(Config{
		TotalSectors: totalSectors,
		FamilyID:     testFamilyID,
		Label:        "TESTDISK",
		HTML:         []byte("<html>{{SERIAL}}</html>"),
	}, disk, rebooter, log)
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Worker(ctx)
	t.Cleanup(cancel)

	return &harness{disk: disk, vendor: vendor, ram: ram, flash: flash, rebooter: rebooter, translator: tr, cancel: cancel}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func downloadBlock(targetAddr, blockNo, numBlocks uint32, fill byte) []byte {
	b := Block{
		Flags:       FlagFamilyIDPresent,
		TargetAddr:  targetAddr,
		PayloadSize: PayloadSize,
		BlockNo:     blockNo,
		NumBlocks:   numBlocks,
		FamilyID:    testFamilyID,
	}
	for i := range b.Payload {
		b.Payload[i] = fill
	}
	return EncodeBlock(b)
}

// Four sequential blocks targeting main SRAM: spec.md §8 scenario 1.
func TestRAMDownloadArmsReboot(t *testing.T) {
	h := newHarness(t, 2048)

	base := addr.RAMBase + 0x1000
	for i := uint32(0); i < 4; i++ {
		h.translator.WriteSector(0, downloadBlock(base+i*PayloadSize, i, 4, byte('A'+i)))
	}

	waitUntil(t, func() bool {
		_, _, _, armed := h.rebooter.Last()
		return armed
	})

	pc, sp, delay, _ := h.rebooter.Last()
	if pc != base {
		t.Fatalf("pc = %#x, want %#x (lowest observed address)", pc, base)
	}
	if sp != addr.RAMLimit {
		t.Fatalf("sp = %#x, want %#x", sp, addr.RAMLimit)
	}
	if delay != time.Second {
		t.Fatalf("delay = %v, want 1s", delay)
	}

	got := h.ram.snapshot(base, PayloadSize)
	if got[0] != 'A' {
		t.Fatalf("block 0 payload not written: %v", got[:1])
	}
}

// A duplicate block mid-download (0,1,0,2 of a 3-block session) must not
// double-count or otherwise prevent the session from completing once the
// remaining blocks arrive (spec.md §4.2/§8).
func TestDuplicateBlockIsIgnored(t *testing.T) {
	h := newHarness(t, 2048)

	base := addr.RAMBase + 0x2000
	h.translator.WriteSector(0, downloadBlock(base, 0, 3, 'X'))
	h.translator.WriteSector(0, downloadBlock(base+PayloadSize, 1, 3, 'Y'))
	h.translator.WriteSector(0, downloadBlock(base, 0, 3, 'Z')) // duplicate of block 0

	// Wait for block 1 to land, which only happens after both real blocks
	// (and the duplicate, which is a no-op) have been processed.
	waitUntil(t, func() bool {
		return h.ram.snapshot(base+PayloadSize, 1)[0] == 'Y'
	})
	if _, _, _, armed := h.rebooter.Last(); armed {
		t.Fatalf("reboot armed before block 2 arrived")
	}

	h.translator.WriteSector(0, downloadBlock(base+2*PayloadSize, 2, 3, 'W'))
	waitUntil(t, func() bool {
		_, _, _, armed := h.rebooter.Last()
		return armed
	})

	// The duplicate write must not have clobbered block 0's payload.
	got := h.ram.snapshot(base, 1)
	if got[0] != 'X' {
		t.Fatalf("block 0 payload = %q, want duplicate write (Z) to be ignored and keep X", got)
	}
}

// Reading LBA 0 returns a valid MBR: boot signature, FAT16-LBA partition
// type, serial patched at the canonical offset (spec.md §8 scenario 5).
func TestReadMBR(t *testing.T) {
	h := newHarness(t, 2048)

	sector := h.translator.ReadSector(0)
	if sector[510] != 0x55 || sector[511] != 0xAA {
		t.Fatalf("missing boot signature: %x %x", sector[510], sector[511])
	}
	if sector[0x1BE+4] != 0x0E {
		t.Fatalf("partition type = %#x, want 0x0E", sector[0x1BE+4])
	}
}

// Reading the same sector twice must return identical bytes.
func TestReadSectorIsStable(t *testing.T) {
	h := newHarness(t, 2048)
	a := h.translator.ReadSector(1)
	b := h.translator.ReadSector(1)
	if string(a) != string(b) {
		t.Fatalf("boot sector changed between reads")
	}
}

// A download targeting flash erases each not-yet-cleared sector exactly
// once and exits XIP before the first flash write of the session.
func TestFlashDownloadErasesOncePerSector(t *testing.T) {
	h := newHarness(t, 2048)

	base := addr.FlashXIPBase
	h.translator.WriteSector(0, downloadBlock(base, 0, 2, 'A'))
	h.translator.WriteSector(0, downloadBlock(base+PayloadSize, 1, 2, 'B'))

	waitUntil(t, func() bool {
		_, _, _, armed := h.rebooter.Last()
		return armed
	})

	if got := h.flash.erasedCount(); got != 1 {
		t.Fatalf("erased %d distinct sectors, want 1 (both blocks share a sector)", got)
	}

	pc, _, _, _ := h.rebooter.Last()
	if pc != 0 {
		t.Fatalf("pc = %#x, want 0 for a flash-target download", pc)
	}
}

// Starting a new session with a different NumBlocks discards whatever the
// previous session had recorded (spec.md §4.2).
func TestSessionResetsOnNumBlocksChange(t *testing.T) {
	h := newHarness(t, 2048)

	base := addr.RAMBase + 0x3000
	h.translator.WriteSector(0, downloadBlock(base, 0, 4, 'A'))

	newBase := addr.RAMBase + 0x4000
	h.translator.WriteSector(0, downloadBlock(newBase, 0, 2, 'P'))
	h.translator.WriteSector(0, downloadBlock(newBase+PayloadSize, 1, 2, 'Q'))

	waitUntil(t, func() bool {
		_, _, _, armed := h.rebooter.Last()
		return armed
	})

	pc, _, _, _ := h.rebooter.Last()
	if pc != newBase {
		t.Fatalf("pc = %#x, want %#x (new session's lowest address)", pc, newBase)
	}
}
