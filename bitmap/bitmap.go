// Package bitmap implements the fixed-width bit allocator vsfs uses for both
// the inode and data block free-space maps.
//
// A Bitmap is a thin view over a caller-owned []byte (normally a slice of a
// memory-mapped disk image). Bits are packed LSB-first within each byte, per
// spec.md's on-disk layout. Allocation scans one byte at a time rather than
// one bit at a time, so a full bitmap scan is O(len(data)), not O(8*len(data)).
package bitmap

import (
	"math/bits"

	"github.com/sarihammad/vsfs/vsfserr"
)

// Bitmap is a view over a byte slice treated as a packed bit array.
type Bitmap struct {
	data []byte
}

// Wrap treats data as the backing storage for a bitmap. Mutations through
// the returned Bitmap mutate data in place.
func Wrap(data []byte) Bitmap {
	return Bitmap{data: data}
}

// Capacity returns the number of bits this bitmap can address.
func (b Bitmap) Capacity() int {
	return len(b.data) * 8
}

// Init clears bits 0..n-1 (marking them available) and sets every remaining
// bit in the backing storage to 1 (permanently unavailable), so that a full
// scan never needs a separate bounds check against n.
func (b Bitmap) Init(n int) {
	for i := range b.data {
		b.data[i] = 0xFF
	}
	for i := 0; i < n; i++ {
		b.clear(i)
	}
}

// IsSet reports whether bit i is set (1 = allocated).
func (b Bitmap) IsSet(i int) bool {
	return b.data[i/8]&(1<<uint(i%8)) != 0
}

// Set sets bit i to v.
func (b Bitmap) Set(i int, v bool) {
	if v {
		b.data[i/8] |= 1 << uint(i%8)
	} else {
		b.clear(i)
	}
}

func (b Bitmap) clear(i int) {
	b.data[i/8] &^= 1 << uint(i%8)
}

// Alloc finds the smallest clear bit index < n, sets it, and returns it.
// Returns vsfserr.ErrNoSpace if every bit in [0, n) is set.
func (b Bitmap) Alloc(n int) (uint32, error) {
	for byteIdx := 0; byteIdx*8 < n; byteIdx++ {
		byt := b.data[byteIdx]
		if byt == 0xFF {
			continue
		}
		// TrailingZeros8 of the complement gives the index of the first
		// clear bit within this byte.
		bitIdx := bits.TrailingZeros8(^byt)
		idx := byteIdx*8 + bitIdx
		if idx >= n {
			break
		}
		b.Set(idx, true)
		return uint32(idx), nil
	}
	return 0, vsfserr.ErrNoSpace
}

// Free clears bit i. The caller must ensure bit i was previously set.
func (b Bitmap) Free(i int) {
	b.clear(i)
}

// CountClear returns the number of clear bits in [lo, hi).
func (b Bitmap) CountClear(lo, hi int) int {
	count := 0
	for i := lo; i < hi; i++ {
		if !b.IsSet(i) {
			count++
		}
	}
	return count
}
