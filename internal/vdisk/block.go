package vdisk

import "encoding/binary"

// Download block (UF2) wire layout constants, spec.md §6.
const (
	MagicStart0 = 0x0A324655
	MagicStart1 = 0x9E5D5157
	MagicEnd    = 0x0AB16F30

	FlagNotMainFlash    = 0x00000001
	FlagFamilyIDPresent = 0x00002000

	PayloadSize = 256
)

// Block is a parsed download block candidate.
type Block struct {
	Flags       uint32
	TargetAddr  uint32
	PayloadSize uint32
	BlockNo     uint32
	NumBlocks   uint32
	FamilyID    uint32
	Payload     [PayloadSize]byte
}

// ParseBlock decodes a 512-byte sector as a download block candidate. It
// returns ok=false if the sector doesn't carry the magic framing at all
// (the caller should treat that as "not a download block", not an
// error) -- matching spec.md §4.2's "other writes are silently ignored".
func ParseBlock(sector []byte) (Block, bool) {
	if len(sector) != SectorSize {
		return Block{}, false
	}
	if binary.LittleEndian.Uint32(sector[0:4]) != MagicStart0 {
		return Block{}, false
	}
	if binary.LittleEndian.Uint32(sector[4:8]) != MagicStart1 {
		return Block{}, false
	}
	if binary.LittleEndian.Uint32(sector[508:512]) != MagicEnd {
		return Block{}, false
	}

	var b Block
	b.Flags = binary.LittleEndian.Uint32(sector[8:12])
	b.TargetAddr = binary.LittleEndian.Uint32(sector[12:16])
	b.PayloadSize = binary.LittleEndian.Uint32(sector[16:20])
	b.BlockNo = binary.LittleEndian.Uint32(sector[20:24])
	b.NumBlocks = binary.LittleEndian.Uint32(sector[24:28])
	b.FamilyID = binary.LittleEndian.Uint32(sector[28:32])
	copy(b.Payload[:], sector[32:32+PayloadSize])
	return b, true
}

// Accepted reports whether the block passes the acceptance gate: no
// "not main flash" flag, family ID present and matching, and a
// 256-byte payload (spec.md §4.2/§6).
func (b Block) Accepted(familyID uint32) bool {
	if b.Flags&FlagNotMainFlash != 0 {
		return false
	}
	if b.Flags&FlagFamilyIDPresent == 0 {
		return false
	}
	if b.FamilyID != familyID {
		return false
	}
	return b.PayloadSize == PayloadSize
}

// EncodeBlock serializes a block back to its 512-byte wire form. Used by
// host-side tooling (cmd/bootctl) building a download stream, and by
// tests.
func EncodeBlock(b Block) []byte {
	sector := make([]byte, SectorSize)
	binary.LittleEndian.PutUint32(sector[0:4], MagicStart0)
	binary.LittleEndian.PutUint32(sector[4:8], MagicStart1)
	binary.LittleEndian.PutUint32(sector[8:12], b.Flags)
	binary.LittleEndian.PutUint32(sector[12:16], b.TargetAddr)
	binary.LittleEndian.PutUint32(sector[16:20], b.PayloadSize)
	binary.LittleEndian.PutUint32(sector[20:24], b.BlockNo)
	binary.LittleEndian.PutUint32(sector[24:28], b.NumBlocks)
	binary.LittleEndian.PutUint32(sector[28:32], b.FamilyID)
	copy(sector[32:32+PayloadSize], b.Payload[:])
	binary.LittleEndian.PutUint32(sector[508:512], MagicEnd)
	return sector
}
