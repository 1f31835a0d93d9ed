package page

import (
	"fmt"
	"hash/crc32"

	"github.com/beetdb/beet/pkg/bx"
)

// PageType declares the purpose of a page and how to move through it.
type PageType uint8

const (
	TypeInvalid     PageType = 0 // invalid page
	TypeInternal    PageType = 1 // primary btree internal page
	TypeLeaf        PageType = 2 // primary btree leaf page
	TypeDupInternal PageType = 3 // off-page dup btree internal page
	TypeDupLeaf     PageType = 4 // off-page dup btree leaf page
	TypeOverflow    PageType = 5 // overflow page
)

func (t PageType) String() string {
	switch t {
	case TypeInternal:
		return "internal"
	case TypeLeaf:
		return "leaf"
	case TypeDupInternal:
		return "dup_internal"
	case TypeDupLeaf:
		return "dup_leaf"
	case TypeOverflow:
		return "overflow"
	default:
		return "invalid"
	}
}

const (
	// LeafLevel is tree level 0, the leaf pages. Levels increase toward
	// the root; the level of a page must be known before it is fetched
	// from the cache, because it determines the expected page size, so
	// callers track level while descending rather than reading it from an
	// unfetched page.
	LeafLevel          = 0
	FirstInternalLevel = 1
	MaxLevel           = 255
)

// LSN is the recovery watermark stamped into every page header: a file
// number and a byte offset within that file. This package only stores and
// transports LSNs; the log layer assigns and interprets them.
type LSN struct {
	File   uint32
	Offset uint32
}

// Header is the fixed 32-byte header present at the start of every page.
//
// Sibling links form a doubly linked list per tree level: all primary
// leaf pages are linked, each set of off-page duplicate leaf pages is
// linked, and each level of internal pages is linked. Parent links point
// one level up.
type Header struct {
	LSN   LSN
	Type  PageType
	Level uint8

	// Checksum covers every page byte except the stored checksum field
	// itself (CRC-32/IEEE).
	Checksum uint32

	// Entries is the number of items on internal, leaf and duplicate
	// pages. Overflow pages reuse the field as the raw byte length of the
	// stored value; read it through DataLen on those pages.
	Entries uint32

	Parent Addr
	Prev   Addr
	Next   Addr
}

// DataLen returns the stored value length of an overflow page.
func (h *Header) DataLen() uint32 { return h.Entries }

// Header field offsets. The encoded layout is fixed; init verifies the
// documented sizes so a drifting layout table cannot silently corrupt
// every page written.
const (
	hdrOffLSNFile  = 0
	hdrOffLSNOff   = 4
	hdrOffType     = 8
	hdrOffLevel    = 9
	hdrOffUnused   = 10 // 2 bytes, always zero
	hdrOffChecksum = 12
	hdrOffEntries  = 16
	hdrOffParent   = 20
	hdrOffPrev     = 24
	hdrOffNext     = 28
	hdrEnd         = 32

	// HeaderSize is the encoded size of Header, a multiple of 4 so the
	// first item starts aligned.
	HeaderSize = 32
)

func init() {
	if hdrEnd != HeaderSize || HeaderSize%4 != 0 {
		panic("page: header layout does not match documented size")
	}
	if descEnd != DescSize || DescSize%8 != 0 {
		panic("page: descriptor layout does not match documented size")
	}
}

// ContentOffset returns the first usable byte offset of a page: the
// header, plus the database descriptor on the first page only.
func ContentOffset(addr Addr) int {
	if addr == FirstPageAddr {
		return HeaderSize + DescSize
	}
	return HeaderSize
}

// pageChecksum computes the checksum over every page byte except the
// 4-byte stored checksum field.
func pageChecksum(buf []byte) uint32 {
	sum := crc32.ChecksumIEEE(buf[:hdrOffChecksum])
	return crc32.Update(sum, crc32.IEEETable, buf[hdrOffChecksum+4:])
}

// EncodeHeader writes h at the start of the page buffer and stamps a
// fresh checksum over the full buffer. Any page content must already be
// in place.
func EncodeHeader(h *Header, buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: header needs %d bytes, have %d", ErrShortBuffer, HeaderSize, len(buf))
	}
	bx.PutU32At(buf, hdrOffLSNFile, h.LSN.File)
	bx.PutU32At(buf, hdrOffLSNOff, h.LSN.Offset)
	buf[hdrOffType] = byte(h.Type)
	buf[hdrOffLevel] = h.Level
	buf[hdrOffUnused] = 0
	buf[hdrOffUnused+1] = 0
	bx.PutU32At(buf, hdrOffEntries, h.Entries)
	bx.PutU32At(buf, hdrOffParent, uint32(h.Parent))
	bx.PutU32At(buf, hdrOffPrev, uint32(h.Prev))
	bx.PutU32At(buf, hdrOffNext, uint32(h.Next))

	h.Checksum = pageChecksum(buf)
	bx.PutU32At(buf, hdrOffChecksum, h.Checksum)
	return nil
}

// decodeHeader reads the fixed header fields without validating anything
// beyond buffer length.
func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrShortBuffer, HeaderSize, len(buf))
	}
	return Header{
		LSN: LSN{
			File:   bx.U32At(buf, hdrOffLSNFile),
			Offset: bx.U32At(buf, hdrOffLSNOff),
		},
		Type:     PageType(buf[hdrOffType]),
		Level:    buf[hdrOffLevel],
		Checksum: bx.U32At(buf, hdrOffChecksum),
		Entries:  bx.U32At(buf, hdrOffEntries),
		Parent:   Addr(bx.U32At(buf, hdrOffParent)),
		Prev:     Addr(bx.U32At(buf, hdrOffPrev)),
		Next:     Addr(bx.U32At(buf, hdrOffNext)),
	}, nil
}

// ParseHeader parses and validates the header of a full page buffer: it
// recomputes the checksum over the page bytes and compares it against the
// stored value. A mismatch means on-disk corruption of that page; the
// error is surfaced, never retried here.
func ParseHeader(buf []byte) (Header, error) {
	h, err := decodeHeader(buf)
	if err != nil {
		return Header{}, err
	}
	if h.Type > TypeOverflow {
		return Header{}, fmt.Errorf("%w: %d", ErrBadPageType, h.Type)
	}
	if sum := pageChecksum(buf); sum != h.Checksum {
		return Header{}, fmt.Errorf("%w: stored %#x, computed %#x", ErrChecksum, h.Checksum, sum)
	}
	return h, nil
}
