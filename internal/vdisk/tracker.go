package vdisk

import "rp2040bootrom/internal/addr"

// maxTrackedBlocks bounds the bitmaps' static storage -- a download can
// carry at most this many 256-byte blocks (8192 * 256B = 2MiB, the
// largest flash region spec.md's target boards program).
const maxTrackedBlocks = 8192

// Tracker is the UF2 tracking state singleton (spec.md §3): target
// medium, expected/seen block counts, the lowest target address
// observed, and the two bitmaps. A new Tracker is created whenever the
// observed NumBlocks field changes, discarding whatever the previous one
// had recorded.
type Tracker struct {
	Medium     addr.Medium
	NumBlocks  uint32
	ValidCount uint32

	lowestAddr uint32
	lowestSet  bool

	ValidBlocks    *Bitmap
	ClearedSectors *Bitmap // only meaningful when Medium == addr.Flash

	bitmapBase uint32 // base of the flash-bitmap region, for overlap checks
}

// NewTracker starts tracking a new download of numBlocks blocks bound
// for medium, with the flash-sector bitmap (when applicable) notionally
// placed at bitmapBase in the XIP-cache-as-RAM region.
func NewTracker(medium addr.Medium, numBlocks uint32, bitmapBase uint32) *Tracker {
	t := &Tracker{
		Medium:      medium,
		NumBlocks:   numBlocks,
		ValidBlocks: NewBitmap(maxTrackedBlocks),
		bitmapBase:  bitmapBase,
	}
	if medium == addr.Flash {
		t.ClearedSectors = NewBitmap(maxTrackedBlocks)
	}
	return t
}

// Region reports the memory footprint the flash-target tracking bitmaps
// occupy, so the executor's vectorize step can refuse to relocate the
// flash driver table on top of live tracker state (spec.md §4.1/§4.2).
// RAM-target downloads track their bitmap in a separate statically-sized
// region that vectorize can never reach, so Region reports (0, 0) then.
func (t *Tracker) Region() (base, size uint32) {
	if t.Medium != addr.Flash || t.ClearedSectors == nil {
		return 0, 0
	}
	return t.bitmapBase, t.ValidBlocks.ByteSize() + t.ClearedSectors.ByteSize()
}

// Observe records a newly accepted block, updating ValidBlocks and the
// lowest-address tracking. Returns false if blockNo was already seen
// (caller treats that as a logged no-op per spec.md §4.2/§8).
func (t *Tracker) Observe(blockNo, targetAddr uint32) bool {
	if t.ValidBlocks.Test(int(blockNo)) {
		return false
	}
	t.ValidBlocks.Set(int(blockNo))
	t.ValidCount++

	if !t.lowestSet {
		t.lowestAddr = targetAddr
		t.lowestSet = true
	} else {
		t.lowestAddr = addr.PreferLowest(t.lowestAddr, targetAddr)
	}
	return true
}

// LowestAddr returns the lowest target address observed so far, using
// the SRAM-over-XIP-cache-alias preference rule.
func (t *Tracker) LowestAddr() uint32 { return t.lowestAddr }

// Complete reports whether every expected block has been observed.
func (t *Tracker) Complete() bool { return t.ValidCount == t.NumBlocks }
