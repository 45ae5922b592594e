// Package vendorcmd implements the vendor command channel: a 32-byte
// packet protocol carried over two bulk endpoints plus two control
// transfers, giving a host direct access to the task engine (spec.md
// §4.3).
package vendorcmd

import "encoding/binary"

// PacketSize is the fixed wire size of a vendor command packet.
const PacketSize = 32

// Magic is the fixed constant every packet must lead with, ASCII "VCMD"
// read little-endian.
const Magic uint32 = 0x444D4356

// dataToHostBit marks "data flows device -> host" in the command id
// byte; only the low seven bits select the command.
const dataToHostBit = 0x80

// Packet is a decoded vendor command packet.
type Packet struct {
	UserToken      uint32
	CmdID          uint8
	CmdSize        uint8
	TransferLength uint32
	Body           [16]byte
}

// CommandID returns the command selector (low 7 bits of CmdID).
func (p Packet) CommandID() CommandID { return CommandID(p.CmdID &^ dataToHostBit) }

// DecodePacket parses a 32-byte buffer as a vendor command packet. ok is
// false if buf isn't exactly PacketSize bytes or the magic doesn't
// match -- callers treat either as "stall, no task enqueued".
func DecodePacket(buf []byte) (Packet, bool) {
	if len(buf) != PacketSize {
		return Packet{}, false
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != Magic {
		return Packet{}, false
	}
	var p Packet
	p.UserToken = binary.LittleEndian.Uint32(buf[4:8])
	p.CmdID = buf[8]
	p.CmdSize = buf[9]
	// buf[10:12] reserved
	p.TransferLength = binary.LittleEndian.Uint32(buf[12:16])
	copy(p.Body[:], buf[16:32])
	return p, true
}

// EncodePacket serializes p back to its 32-byte wire form. Used by
// cmd/bootctl to build outgoing packets, and by tests.
func EncodePacket(p Packet) []byte {
	buf := make([]byte, PacketSize)
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], p.UserToken)
	buf[8] = p.CmdID
	buf[9] = p.CmdSize
	binary.LittleEndian.PutUint32(buf[12:16], p.TransferLength)
	copy(buf[16:32], p.Body[:])
	return buf
}

func exclusiveBody(body [16]byte) byte { return body[0] }

func rebootBody(body [16]byte) (pc, sp, delayMs uint32) {
	return binary.LittleEndian.Uint32(body[0:4]),
		binary.LittleEndian.Uint32(body[4:8]),
		binary.LittleEndian.Uint32(body[8:12])
}

func addrSizeBody(body [16]byte) (address, size uint32) {
	return binary.LittleEndian.Uint32(body[0:4]), binary.LittleEndian.Uint32(body[4:8])
}

func addrBody(body [16]byte) uint32 {
	return binary.LittleEndian.Uint32(body[0:4])
}

func encodeExclusiveBody(param byte) [16]byte {
	var b [16]byte
	b[0] = param
	return b
}

func encodeRebootBody(pc, sp, delayMs uint32) [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint32(b[0:4], pc)
	binary.LittleEndian.PutUint32(b[4:8], sp)
	binary.LittleEndian.PutUint32(b[8:12], delayMs)
	return b
}

func encodeAddrSizeBody(address, size uint32) [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint32(b[0:4], address)
	binary.LittleEndian.PutUint32(b[4:8], size)
	return b
}

func encodeAddrBody(address uint32) [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint32(b[0:4], address)
	return b
}
