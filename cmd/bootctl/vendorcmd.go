package main

import (
	"encoding/binary"
	"fmt"

	"rp2040bootrom/internal/task"
	"rp2040bootrom/internal/vendorcmd"
)

// deviceStatus mirrors vendorcmd.Status's wire form: command id, user
// token, in-progress flag, and result code (spec.md §4.3's GET_STATUS
// response), packed into one 32-byte packet-sized reply so it shares
// framing with every other exchange on this channel.
type deviceStatus struct {
	ID         vendorcmd.CommandID
	UserToken  uint32
	InProgress bool
	Code       task.Result
}

func decodeStatus(buf []byte) (deviceStatus, error) {
	if len(buf) != vendorcmd.PacketSize {
		return deviceStatus{}, fmt.Errorf("status reply: want %d bytes, got %d", vendorcmd.PacketSize, len(buf))
	}
	return deviceStatus{
		ID:         vendorcmd.CommandID(buf[0]),
		UserToken:  binary.LittleEndian.Uint32(buf[4:8]),
		InProgress: buf[8] != 0,
		Code:       task.Result(buf[9]),
	}, nil
}

func getStatus(d *device) (deviceStatus, error) {
	req := make([]byte, vendorcmd.PacketSize) // all-zero: GET_STATUS carries no body
	resp, err := d.SendPacket(req)
	if err != nil {
		return deviceStatus{}, err
	}
	return decodeStatus(resp)
}

// exchange sends raw, a fully-built vendor command packet, and decodes
// the resulting status block, surfacing any non-OK/REBOOTING result as
// an error.
func exchange(d *device, raw []byte) error {
	resp, err := d.SendPacket(raw)
	if err != nil {
		return err
	}
	status, err := decodeStatus(resp)
	if err != nil {
		return err
	}
	if status.Code != task.OK && status.Code != task.Rebooting {
		return fmt.Errorf("%s failed: %s", status.ID, status.Code)
	}
	return nil
}

func sendZeroAddrSize(d *device, id vendorcmd.CommandID, address, size uint32) error {
	var raw []byte
	switch id {
	case vendorcmd.FlashErase:
		raw = vendorcmd.EncodeFlashErase(0, address, size)
	default:
		return fmt.Errorf("sendZeroAddrSize: unsupported command %s", id)
	}
	return exchange(d, raw)
}

func sendAddrOnly(d *device, id vendorcmd.CommandID, address uint32) error {
	return exchange(d, vendorcmd.EncodeAddrOnly(0, id, address))
}

func sendExclusive(d *device, param byte) error {
	return exchange(d, vendorcmd.EncodeExclusive(0, param))
}

func sendReboot(d *device, pc, sp, delayMs uint32) error {
	return exchange(d, vendorcmd.EncodeReboot(0, pc, sp, delayMs))
}

// readMemory issues a READ command and returns the data the device
// streamed back over the bulk-in phase. Against the loopback transport
// used for local testing this is whatever bytes followed the packet on
// the read side; against a real device the MSC/vendor driver splices the
// bulk-in stream in after the status packet.
func readMemory(d *device, address, size uint32) ([]byte, error) {
	raw := vendorcmd.EncodeRead(0, address, size)
	if _, err := d.SendPacket(raw); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := d.f.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read data phase: %w", err)
	}
	return buf[:n], nil
}

// writeMemory issues a WRITE command, streaming data as the bulk-out
// phase immediately following the command packet.
func writeMemory(d *device, address uint32, data []byte) error {
	raw := vendorcmd.EncodeWrite(0, address, uint32(len(data)))
	if _, err := d.f.Write(raw); err != nil {
		return fmt.Errorf("send write command: %w", err)
	}
	if _, err := d.f.Write(data); err != nil {
		return fmt.Errorf("write data phase: %w", err)
	}
	resp := make([]byte, vendorcmd.PacketSize)
	if _, err := d.f.Read(resp); err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	status, err := decodeStatus(resp)
	if err != nil {
		return err
	}
	if status.Code != task.OK {
		return fmt.Errorf("write failed: %s", status.Code)
	}
	return nil
}
