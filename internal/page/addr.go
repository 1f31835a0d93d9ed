// Package page implements beet's on-disk page and item layout: the fixed
// page header and database descriptor, the bit-packed item encoding, the
// item-sequence walker, overflow and off-page references, and the
// in-memory index built from a page's raw bytes.
//
// File locations are 32-bit counts of allocation units ("addresses"), so
// internal and leaf page sizes, and the extent size, must be multiples of
// the allocation unit size. The minimum allocation unit is 512 bytes,
// which bounds the minimum maximum database size to 2TB; larger units
// raise that bound until the int64 file-offset range caps it.
//
// All multi-byte on-disk fields are little-endian (see pkg/bx).
package page

import (
	"fmt"
	"math"
)

// Addr is a file location counted in allocation units.
type Addr uint32

const (
	// FirstPageAddr is always the first leaf page in the database: it is
	// created first and never replaced.
	FirstPageAddr Addr = 0

	// InvalidAddr is the largest possible offset, which is not a possible
	// database address. It only ever appears at the encode/decode edge;
	// in-memory code should test Addr.IsValid instead of comparing
	// against the sentinel.
	InvalidAddr Addr = math.MaxUint32

	// MinAllocSize is the smallest supported allocation unit.
	MinAllocSize = 512
)

// IsValid reports whether a refers to an actual file location.
func (a Addr) IsValid() bool { return a != InvalidAddr }

// OffsetOf converts an allocation address to a byte offset in the backing
// file. It fails only if the product overflows the file-offset range.
func OffsetOf(allocSize uint32, addr Addr) (int64, error) {
	// Both factors are 32-bit, so the product cannot wrap uint64; it can
	// still exceed the signed file-offset range.
	off := uint64(addr) * uint64(allocSize)
	if off > math.MaxInt64 {
		return 0, fmt.Errorf("%w: addr %d, alloc unit %d", ErrOffsetRange, addr, allocSize)
	}
	return int64(off), nil
}

// AddrOf converts a byte offset back to an allocation address. The caller
// must guarantee the offset is a multiple of the allocation unit;
// misaligned input is a programming error, not a runtime condition.
func AddrOf(allocSize uint32, off int64) Addr {
	return Addr(uint64(off) / uint64(allocSize))
}

// OvflAllocSize returns the bytes to reserve for an overflow page holding
// a value of the given length: header plus value, rounded up to the next
// allocation-unit multiple. The sum is computed in 64 bits; a value whose
// reservation cannot be expressed in the 32-bit size range is rejected
// here, before any page bytes exist to truncate.
func OvflAllocSize(allocSize, valueLen uint32) (uint32, error) {
	need := alignUp64(HeaderSize+uint64(valueLen), uint64(allocSize))
	if need > math.MaxUint32 {
		return 0, fmt.Errorf("%w: value of %d bytes needs a %d-byte overflow page",
			ErrItemTooLarge, valueLen, need)
	}
	return uint32(need), nil
}

// alignUp rounds n up to the next multiple of to. to must be a power of
// two or, for allocation units, any positive multiple of 512.
func alignUp(n, to uint32) uint32 {
	if r := n % to; r != 0 {
		return n + to - r
	}
	return n
}

func alignUp64(n, to uint64) uint64 {
	if r := n % to; r != 0 {
		return n + to - r
	}
	return n
}
