package vendorcmd

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"rp2040bootrom/internal/reboot"
	"rp2040bootrom/internal/task"
)

// Status mirrors the vendor command status block GET_STATUS returns:
// the last command's id, its user token, whether it's still in
// progress, and its result code (spec.md §3/§6).
type Status struct {
	ID         CommandID
	UserToken  uint32
	InProgress bool
	Code       task.Result
}

// Stream is the single page-sized staging buffer a READ/WRITE command
// streams its payload through. Recv fills buf with the next bulk-out
// chunk (WRITE); Send emits the next bulk-in chunk (READ). Zero-payload
// commands never touch it.
type Stream interface {
	Recv(buf []byte) (int, error)
	Send(chunk []byte) error
}

// Handler dispatches decoded vendor command packets against the task
// engine's vendor queue, serializing the streaming page-at-a-time
// protocol spec.md §4.3 describes and enforcing token discipline across
// a RESET control transfer.
type Handler struct {
	vendor   *task.Queue
	disk     *task.Queue
	scratch  reboot.ScratchStore
	rebooter reboot.Rebooter
	log      *slog.Logger

	mu        sync.Mutex
	status    Status
	halted    bool
	nextToken uint32

	epoch atomic.Uint64
}

// NewHandler wires a Handler over the vendor/disk queues and the
// persistent-state collaborators a REBOOT command and a RESET control
// transfer both touch.
func NewHandler(vendor, disk *task.Queue, scratch reboot.ScratchStore, rebooter reboot.Rebooter, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{vendor: vendor, disk: disk, scratch: scratch, rebooter: rebooter, log: log}
}

// GetStatus implements the GET_STATUS control transfer.
func (h *Handler) GetStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Halted reports whether both bulk endpoints are currently stalled
// following a validation failure or a command whose task did not
// return OK (INTERLEAVED_WRITE, BAD_ALIGNMENT, INVALID_ADDRESS, ...).
func (h *Handler) Halted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.halted
}

// Reset implements the RESET control transfer: soft-resets both bulk
// endpoints, drops any unclaimed task from both queues, re-enables the
// virtual disk queue, and clears the status block (spec.md §4.3). It
// does not abort a flash operation the worker is already executing:
// that task runs to completion and its result is discarded as stale.
func (h *Handler) Reset() {
	h.epoch.Add(1) // any callback from before this point is now stale

	// A task still sitting unclaimed in the vendor slot would otherwise
	// never call back, leaking the goroutine blocked in await.
	if t, ok := h.vendor.Dequeue(); ok && t.Callback != nil {
		t.Result = task.Disabled
		t.Callback(t)
	}
	h.vendor.Reset()
	h.disk.Reset()
	h.disk.SetDisabled(false)

	h.mu.Lock()
	h.status = Status{}
	h.halted = false
	h.mu.Unlock()

	h.log.Info("vendor:reset")
}

func (h *Handler) allocToken() uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextToken--
	return h.nextToken
}

func (h *Handler) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	if s.Code != task.OK {
		h.halted = true
	}
	h.mu.Unlock()
}

// HandleRaw decodes buf as a vendor command packet and dispatches it. A
// malformed packet (wrong size, or a magic mismatch) halts both bulk
// endpoints the same way an unrecognized command id does.
func (h *Handler) HandleRaw(buf []byte, stream Stream) Status {
	pkt, ok := DecodePacket(buf)
	if !ok {
		return h.fail(0, 0, task.UnknownCmd)
	}
	return h.Dispatch(pkt, stream)
}

// Dispatch handles one decoded command packet, driving stream for any
// data phase, and returns the resulting status block. Validation order
// is magic (checked by the caller via DecodePacket) -> id -> command
// size -> transfer length, per spec.md §4.3.
func (h *Handler) Dispatch(pkt Packet, stream Stream) Status {
	id := pkt.CommandID()
	spec, ok := commandTable[id]
	if !ok {
		return h.fail(pkt.UserToken, id, task.UnknownCmd)
	}
	if pkt.CmdSize != spec.bodySize {
		return h.fail(pkt.UserToken, id, task.InvalidCmdLength)
	}

	var expectedTransferLen uint32
	if spec.transferLenFromBody {
		_, expectedTransferLen = addrSizeBody(pkt.Body)
	}
	if pkt.TransferLength != expectedTransferLen {
		return h.fail(pkt.UserToken, id, task.InvalidTransferLength)
	}

	switch id {
	case Reboot:
		return h.handleReboot(pkt)
	case Read:
		return h.handleRead(pkt, stream)
	case Write:
		return h.handleWrite(pkt, stream)
	default:
		return h.handleZeroPayload(pkt, id)
	}
}

func (h *Handler) fail(userToken uint32, id CommandID, code task.Result) Status {
	s := Status{ID: id, UserToken: userToken, Code: code}
	h.setStatus(s)
	h.log.Warn("vendor:halt", slog.String("cmd", id.String()), slog.String("code", code.String()))
	return s
}

// handleReboot executes REBOOT synchronously, with no task enqueued
// (spec.md §4.3). A command-driven reboot is a clean jump, not a forced
// bootloader re-entry, so the persistent-state scratch registers are
// cleared rather than stamped with a re-entry reason.
func (h *Handler) handleReboot(pkt Packet) Status {
	pc, sp, delayMs := rebootBody(pkt.Body)
	h.scratch.SetGPIOActivityMask(0)
	h.scratch.SetDisableInterfaceMask(0)
	h.rebooter.ArmReboot(pc, sp, time.Duration(delayMs)*time.Millisecond)

	s := Status{ID: Reboot, UserToken: pkt.UserToken, Code: task.Rebooting}
	// An accepted REBOOT is acknowledged, not stalled, so it does not go
	// through setStatus's halt-on-non-OK rule.
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
	h.log.Info("vendor:reboot", slog.String("pc", hex32(pc)), slog.Int("delay_ms", int(delayMs)))
	return s
}

func (h *Handler) handleZeroPayload(pkt Packet, id CommandID) Status {
	var t task.Task
	switch id {
	case Exclusive:
		t.Type = task.Exclusive
		t.ExclusiveParam = task.ExclusiveParam(exclusiveBody(pkt.Body))
	case FlashErase:
		addr, size := addrSizeBody(pkt.Body)
		t.Type = task.FlashErase
		t.EraseAddr, t.EraseSize = addr, size
	case ExitXIP:
		t.Type = task.ExitXIP
	case EnterCmdXIP:
		t.Type = task.EnterCmdXIP
	case Exec:
		t.Type = task.Exec
		t.TransferAddr = addrBody(pkt.Body)
	case Vectorize:
		t.Type = task.VectorizeFlash
		t.TransferAddr = addrBody(pkt.Body)
	}
	t.Source = task.Vendor
	t.VendorUserToken = pkt.UserToken

	result, stale := h.await(t)
	if stale {
		return h.superseded(id, pkt.UserToken)
	}
	s := Status{ID: id, UserToken: pkt.UserToken, Code: result.Result}
	h.setStatus(s)
	return s
}

func (h *Handler) handleRead(pkt Packet, stream Stream) Status {
	address, size := addrSizeBody(pkt.Body)
	remaining := size
	first := true
	for remaining > 0 {
		chunkLen := remaining
		if chunkLen > pageSize {
			chunkLen = pageSize
		}
		t := task.Task{
			Type:                    task.Read,
			TransferAddr:            address,
			Data:                    make([]byte, chunkLen),
			Source:                  task.Vendor,
			CheckLastMutationSource: !first,
			VendorUserToken:         pkt.UserToken,
		}
		result, stale := h.await(t)
		if stale {
			return h.superseded(Read, pkt.UserToken)
		}
		if result.Result != task.OK {
			s := Status{ID: Read, UserToken: pkt.UserToken, Code: result.Result}
			h.setStatus(s)
			return s
		}
		if err := stream.Send(result.Data); err != nil {
			s := Status{ID: Read, UserToken: pkt.UserToken, Code: task.InvalidAddress}
			h.setStatus(s)
			return s
		}
		address += chunkLen
		remaining -= chunkLen
		first = false
	}
	s := Status{ID: Read, UserToken: pkt.UserToken, Code: task.OK}
	h.setStatus(s)
	return s
}

func (h *Handler) handleWrite(pkt Packet, stream Stream) Status {
	address, size := addrSizeBody(pkt.Body)
	remaining := size
	first := true
	buf := make([]byte, pageSize)
	for remaining > 0 {
		chunkLen := remaining
		if chunkLen > pageSize {
			chunkLen = pageSize
		}
		n, err := stream.Recv(buf[:chunkLen])
		if err != nil || uint32(n) != chunkLen {
			s := Status{ID: Write, UserToken: pkt.UserToken, Code: task.InvalidTransferLength}
			h.setStatus(s)
			return s
		}
		t := task.Task{
			Type:                    task.Write,
			TransferAddr:            address,
			Data:                    append([]byte(nil), buf[:chunkLen]...),
			Source:                  task.Vendor,
			CheckLastMutationSource: !first,
			VendorUserToken:         pkt.UserToken,
		}
		result, stale := h.await(t)
		if stale {
			return h.superseded(Write, pkt.UserToken)
		}
		if result.Result != task.OK {
			s := Status{ID: Write, UserToken: pkt.UserToken, Code: result.Result}
			h.setStatus(s)
			return s
		}
		address += chunkLen
		remaining -= chunkLen
		first = false
	}
	s := Status{ID: Write, UserToken: pkt.UserToken, Code: task.OK}
	h.setStatus(s)
	return s
}

// pageSize is the vendor channel's staging-buffer granularity, matching
// the flash program page size tasks are already bounded by.
const pageSize = 256

// await enqueues t on the vendor queue and blocks until its callback
// fires. stale is true if a RESET bumped the epoch while t was in
// flight, meaning the command that issued t has been superseded and its
// result must be discarded (spec.md §4.3's token-discipline rule).
func (h *Handler) await(t task.Task) (result task.Task, stale bool) {
	t.Token = h.allocToken()
	epoch := h.epoch.Load()
	done := make(chan task.Task, 1)
	t.Callback = func(r task.Task) { done <- r }
	h.vendor.Enqueue(t)
	result = <-done
	return result, h.epoch.Load() != epoch
}

// superseded reports the neutral status a command gets when a RESET cut
// it off mid-flight: it never reaches the host as a real failure code
// since the control transfer has already cleared the status block.
func (h *Handler) superseded(id CommandID, userToken uint32) Status {
	h.log.Warn("vendor:stale-callback", slog.String("cmd", id.String()))
	return Status{ID: id, UserToken: userToken, Code: task.Disabled}
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
