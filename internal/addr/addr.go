// Package addr classifies 32-bit target addresses into the memory regions
// the task executor is allowed to touch: main SRAM, the XIP-as-RAM cache,
// the memory-mapped flash window, and boot ROM.
package addr

// Medium identifies which storage backs a target address range.
type Medium uint8

const (
	// Unknown covers anything outside the recognized ranges.
	Unknown Medium = iota
	// RAM is main SRAM or the XIP-cache-as-RAM window.
	RAM
	// Flash is the memory-mapped XIP window.
	Flash
	// ROM is boot ROM, below ROMLimit.
	ROM
)

// Default RP2040-class memory map. A board package may override these at
// init time via SetMap before any address classification happens.
var (
	ROMLimit      uint32 = 0x0000_4000
	RAMBase       uint32 = 0x2000_0000
	RAMLimit      uint32 = 0x2004_2000
	XIPRAMBase    uint32 = 0x1500_0000
	XIPRAMLimit   uint32 = 0x1500_4000
	FlashXIPBase  uint32 = 0x1000_0000
	FlashXIPLimit uint32 = 0x1400_0000

	PageSize   uint32 = 256
	SectorSize uint32 = 4096
)

// Map is a snapshot of the boundaries above, used so callers can pass the
// memory map explicitly instead of relying on the package-level defaults.
type Map struct {
	ROMLimit      uint32
	RAMBase       uint32
	RAMLimit      uint32
	XIPRAMBase    uint32
	XIPRAMLimit   uint32
	FlashXIPBase  uint32
	FlashXIPLimit uint32
}

// SetMap overrides the package-level memory map, for boards whose SRAM or
// flash window differs from the RP2040-class default.
func SetMap(m Map) {
	ROMLimit = m.ROMLimit
	RAMBase = m.RAMBase
	RAMLimit = m.RAMLimit
	XIPRAMBase = m.XIPRAMBase
	XIPRAMLimit = m.XIPRAMLimit
	FlashXIPBase = m.FlashXIPBase
	FlashXIPLimit = m.FlashXIPLimit
}

// Classify returns the medium containing [addr, addr+size).
// A range that does not lie entirely within one recognized region
// classifies as Unknown.
func Classify(address, size uint32) Medium {
	end := address + size
	if end < address {
		return Unknown // overflow
	}
	switch {
	case address >= RAMBase && end <= RAMLimit:
		return RAM
	case address >= XIPRAMBase && end <= XIPRAMLimit:
		return RAM
	case address >= FlashXIPBase && end <= FlashXIPLimit:
		return Flash
	case address < ROMLimit && end <= ROMLimit:
		return ROM
	default:
		return Unknown
	}
}

// InSRAM reports whether addr falls in main SRAM specifically, as opposed
// to the XIP-cache-as-RAM alias. Used to break ties when comparing two RAM
// addresses: main SRAM is preferred over the XIP-cache alias even though
// the alias has a numerically lower base in some RP2040-class layouts.
func InSRAM(address uint32) bool {
	return address >= RAMBase && address < RAMLimit
}

// PreferLowest picks which of two RAM addresses should be treated as
// "lower" for the purpose of tracking a download's entry point: main SRAM
// wins over the XIP-cache-as-RAM alias regardless of numeric value, and
// otherwise the numerically smaller address wins.
func PreferLowest(current, candidate uint32) uint32 {
	curSRAM := InSRAM(current)
	candSRAM := InSRAM(candidate)
	switch {
	case candSRAM && !curSRAM:
		return candidate
	case curSRAM && !candSRAM:
		return current
	case candidate < current:
		return candidate
	default:
		return current
	}
}

// AlignedSector reports whether addr and size are both multiples of the
// flash sector erase granularity.
func AlignedSector(address, size uint32) bool {
	return address%SectorSize == 0 && size%SectorSize == 0
}

// AlignedPage reports whether addr is a multiple of the flash program
// page granularity.
func AlignedPage(address uint32) bool {
	return address%PageSize == 0
}

// Even reports whether addr is 2-byte aligned, the alignment rule for
// exec/vectorize targets.
func Even(address uint32) bool {
	return address%2 == 0
}
