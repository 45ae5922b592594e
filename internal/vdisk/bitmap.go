package vdisk

import "golang.org/x/exp/slices"

// Bitmap is a fixed-capacity bitset used to track which download-block
// indices have been seen and which flash sectors have been erased for
// the current session.
type Bitmap struct {
	words []uint64
	n     int
}

// NewBitmap returns a bitmap with room for at least n bits.
func NewBitmap(n int) *Bitmap {
	if n < 0 {
		n = 0
	}
	return &Bitmap{words: make([]uint64, (n+63)/64), n: n}
}

// Set marks bit i. Out-of-range indices are ignored (a fixed-capacity
// bitmap backing a static region can't grow on real hardware).
func (b *Bitmap) Set(i int) {
	if i < 0 || i >= b.n {
		return
	}
	b.words[i/64] |= 1 << uint(i%64)
}

// Test reports whether bit i is set.
func (b *Bitmap) Test(i int) bool {
	if i < 0 || i >= b.n {
		return false
	}
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

// Count returns the number of set bits.
func (b *Bitmap) Count() int {
	n := 0
	for _, w := range b.words {
		for w != 0 {
			w &= w - 1
			n++
		}
	}
	return n
}

// ByteSize returns the storage footprint of the bitmap in bytes, used to
// compute the tracker's memory region for vectorize's overlap check.
func (b *Bitmap) ByteSize() uint32 {
	return uint32(len(b.words) * 8)
}

// FirstClear returns the index of the first unset bit, or -1 if every
// tracked bit is set. Used when diagnosing a stalled session (which
// block index is the host still missing).
func (b *Bitmap) FirstClear() int {
	idx := slices.IndexFunc(b.words, func(w uint64) bool { return w != ^uint64(0) })
	if idx == -1 {
		return -1
	}
	w := b.words[idx]
	for bit := 0; bit < 64; bit++ {
		if w&(1<<uint(bit)) == 0 {
			pos := idx*64 + bit
			if pos >= b.n {
				return -1
			}
			return pos
		}
	}
	return -1
}
