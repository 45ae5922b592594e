package vendorcmd

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

type fakeFlash struct{}

func (fakeFlash) EnterCmdXIP() uint32                { return 0 }
func (fakeFlash) ExitXIP() uint32                    { return 0 }
func (fakeFlash) EraseSector(uint32) uint32          { return 0 }
func (fakeFlash) EraseRange(uint32, uint32) uint32   { return 0 }
func (fakeFlash) PageProgram(uint32, []byte) uint32  { return 0 }
func (fakeFlash) PageRead(uint32, []byte) uint32     { return 0 }

// bufStream is a Stream backed by preloaded bulk-out chunks and a
// recording sink for bulk-in chunks.
type bufStream struct {
	out [][]byte
	in  [][]byte
}

func (s *bufStream) Recv(buf []byte) (int, error) {
	if len(s.out) == 0 {
		return 0, nil
	}
	chunk := s.out[0]
	s.out = s.out[1:]
	copy(buf, chunk)
	return len(chunk), nil
}

func (s *bufStream) Send(chunk []byte) error {
	cp := append([]byte(nil), chunk...)
	s.in = append(s.in, cp)
	return nil
}

type fixture struct {
	disk     *task.Queue
	vendor   *task.Queue
	ram      *fakeRAM
	rebooter *reboot.Recorder
	scratch  *reboot.Store
	handler  *Handler
	cancel   context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.Default()
	disk := task.NewQueue("virtual-disk", log)
	vendor := task.NewQueue("vendor", log)
	ram := newFakeRAM()
	reg := flashdrv.NewRegistry(fakeFlash{})
	exec := task.NewExecutor(ram, nil, reg, nil, nil, nil, log)
	rebooter := &reboot.Recorder{}
	engine := task.NewEngine(disk, vendor, exec, rebooter, log)

	scratch := &reboot.Store{}
	h := NewHandler(vendor, disk, scratch, rebooter, log)

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Worker(ctx)
	t.Cleanup(cancel)

	return &fixture{disk: disk, vendor: vendor, ram: ram, rebooter: rebooter, scratch: scratch, handler: h, cancel: cancel}
}

func TestPacketWrongSizeHalts(t *testing.T) {
	f := newFixture(t)
	status := f.handler.HandleRaw(make([]byte, 10), &bufStream{})
	if status.Code != task.UnknownCmd {
		t.Fatalf("code = %v, want UnknownCmd", status.Code)
	}
	if !f.handler.Halted() {
		t.Fatalf("expected handler to be halted")
	}
}

func TestUnknownCommandID(t *testing.T) {
	f := newFixture(t)
	pkt := Packet{CmdID: 200} // high bit set, low bits = 0x48 (72), not in table
	status := f.handler.Dispatch(pkt, &bufStream{})
	if status.Code != task.UnknownCmd {
		t.Fatalf("code = %v, want UnknownCmd", status.Code)
	}
}

func TestWrongCommandSizeIsRejected(t *testing.T) {
	f := newFixture(t)
	pkt := Packet{CmdID: uint8(Exclusive), CmdSize: 4} // table says 1
	status := f.handler.Dispatch(pkt, &bufStream{})
	if status.Code != task.InvalidCmdLength {
		t.Fatalf("code = %v, want InvalidCmdLength", status.Code)
	}
}

func TestWrongTransferLengthIsRejected(t *testing.T) {
	f := newFixture(t)
	pkt := Packet{
		CmdID:          uint8(Write),
		CmdSize:        8,
		TransferLength: 99, // body says 256
		Body:           encodeAddrSizeBody(addr.RAMBase, 256),
	}
	status := f.handler.Dispatch(pkt, &bufStream{})
	if status.Code != task.InvalidTransferLength {
		t.Fatalf("code = %v, want InvalidTransferLength", status.Code)
	}
}

func TestExclusiveTogglesDiskQueue(t *testing.T) {
	f := newFixture(t)
	raw := EncodeExclusive(1, 1) // on
	pkt, ok := DecodePacket(raw)
	if !ok {
		t.Fatalf("DecodePacket failed")
	}
	status := f.handler.Dispatch(pkt, &bufStream{})
	if status.Code != task.OK {
		t.Fatalf("code = %v, want OK", status.Code)
	}
	waitUntil(t, func() bool { return f.disk.Disabled() })
}

func TestRebootArmsAndRecordsScratch(t *testing.T) {
	f := newFixture(t)
	f.scratch.SetGPIOActivityMask(0x5)
	f.scratch.SetDisableInterfaceMask(0x3)
	raw := EncodeReboot(42, 0x20000000, 0x20042000, 500)
	pkt, _ := DecodePacket(raw)
	status := f.handler.Dispatch(pkt, &bufStream{})
	if status.Code != task.Rebooting {
		t.Fatalf("code = %v, want Rebooting", status.Code)
	}
	pc, sp, delay, armed := f.rebooter.Last()
	if !armed || pc != 0x20000000 || sp != 0x20042000 || delay != 500*time.Millisecond {
		t.Fatalf("reboot not armed as expected: pc=%#x sp=%#x delay=%v armed=%v", pc, sp, delay, armed)
	}
	if gpio, iface := f.scratch.GPIOActivityMask(), f.scratch.DisableInterfaceMask(); gpio != 0 || iface != 0 {
		t.Fatalf("scratch masks = (%#x, %#x), want both cleared to 0", gpio, iface)
	}
}

// interleavingStream wraps bufStream and, just before handing over the
// second chunk, sneaks a disk-sourced write through the same engine --
// reproducing a disk task landing between two chunks of one vendor
// WRITE (spec.md §8 scenario 3).
type interleavingStream struct {
	bufStream
	disk    *task.Queue
	calls   int
	injectAddr uint32
}

func (s *interleavingStream) Recv(buf []byte) (int, error) {
	s.calls++
	if s.calls == 2 {
		done := make(chan task.Task, 1)
		s.disk.Enqueue(task.Task{
			Type:         task.Write,
			TransferAddr: s.injectAddr,
			Data:         []byte{0xBB},
			Source:       task.VirtualDisk,
			Callback:     func(r task.Task) { done <- r },
		})
		<-done
	}
	return s.bufStream.Recv(buf)
}

// Vendor WRITE interleaving a disk WRITE: spec.md §8 scenario 3. A disk
// write lands first (last_mutation_source = VirtualDisk), a two-chunk
// vendor WRITE's first chunk then succeeds and installs VENDOR as the
// mutation source -- but a second disk write sneaks in before the
// vendor WRITE's second chunk is dispatched, flipping the mutation
// source back to VIRTUAL_DISK. The second chunk's
// check_last_mutation_source must then fail with INTERLEAVED_WRITE.
func TestVendorWriteInterleavingDiskWrite(t *testing.T) {
	f := newFixture(t)

	done := make(chan task.Task, 1)
	f.disk.Enqueue(task.Task{
		Type:         task.Write,
		TransferAddr: addr.RAMBase,
		Data:         []byte{0xAA},
		Source:       task.VirtualDisk,
		Callback:     func(r task.Task) { done <- r },
	})
	res := <-done
	if res.Result != task.OK {
		t.Fatalf("disk write = %v, want OK", res.Result)
	}

	stream := &interleavingStream{
		bufStream: bufStream{out: [][]byte{
			make([]byte, 256),
			make([]byte, 256),
		}},
		disk:       f.disk,
		injectAddr: addr.RAMBase + 0x900,
	}
	raw := EncodeWrite(7, addr.RAMBase+0x100, 512)
	pkt, _ := DecodePacket(raw)
	status := f.handler.Dispatch(pkt, stream)
	if status.Code != task.InterleavedWrite {
		t.Fatalf("code = %v, want InterleavedWrite", status.Code)
	}
	if !f.handler.Halted() {
		t.Fatalf("expected endpoint halted after interleaved write")
	}
}

func TestReadStreamsPages(t *testing.T) {
	f := newFixture(t)
	base := addr.RAMBase + 0x500
	f.ram.Write(base, []byte{1, 2, 3, 4})

	stream := &bufStream{}
	raw := EncodeRead(3, base, 4)
	pkt, _ := DecodePacket(raw)
	status := f.handler.Dispatch(pkt, stream)
	if status.Code != task.OK {
		t.Fatalf("code = %v, want OK", status.Code)
	}
	if len(stream.in) != 1 || string(stream.in[0]) != "\x01\x02\x03\x04" {
		t.Fatalf("unexpected read stream output: %v", stream.in)
	}
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
