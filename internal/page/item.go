package page

import (
	"fmt"

	"github.com/beetdb/beet/pkg/bx"
)

// ItemType tags the purpose of an item. There are three basic kinds —
// keys, data items and duplicate data items — each with an overflow form,
// plus the off-page reference used by internal pages. The tags look like
// high-nibble bit masks once packed, but they are mutually exclusive
// integer values, not bits.
type ItemType uint8

const (
	ItemKey      ItemType = 1 // leaf/internal page key
	ItemKeyOvfl  ItemType = 2 // leaf/internal page overflow key
	ItemData     ItemType = 3 // leaf page data item
	ItemDataOvfl ItemType = 4 // leaf page overflow data item
	ItemDup      ItemType = 5 // duplicate data item
	ItemDupOvfl  ItemType = 6 // duplicate overflow data item
	ItemOffPage  ItemType = 7 // off-page reference
)

const (
	// ItemHeaderSize is the encoded size of the item chunk preceding the
	// item's trailing bytes.
	ItemHeaderSize = 4

	// MaxItemLen is the largest trailing-data length the 24-bit length
	// field can encode. Larger values must take the overflow-page path.
	MaxItemLen = 1<<24 - 1

	itemTypeShift = 24
	itemTypeMask  = 0x0f000000
	itemLenMask   = 0x00ffffff
)

// PackChunk packs an item type and trailing-data length into the 4-byte
// item chunk. Lengths above MaxItemLen are rejected before any bytes are
// written.
func PackChunk(typ ItemType, length uint32) (uint32, error) {
	if length > MaxItemLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrItemTooLarge, length)
	}
	if typ < ItemKey || typ > ItemOffPage {
		return 0, fmt.Errorf("%w: %d", ErrBadItemType, typ)
	}
	return uint32(typ)<<itemTypeShift | length, nil
}

// ChunkType extracts the item type from a packed chunk.
func ChunkType(chunk uint32) ItemType {
	return ItemType((chunk & itemTypeMask) >> itemTypeShift)
}

// ChunkLen extracts the trailing-data length from a packed chunk.
func ChunkLen(chunk uint32) uint32 {
	return chunk & itemLenMask
}

// ChunkSetLen replaces the length field of a chunk, preserving the type.
// Used when an item's trailing length changes in place, e.g. rewriting a
// duplicate run.
func ChunkSetLen(chunk, length uint32) (uint32, error) {
	if length > MaxItemLen {
		return 0, fmt.Errorf("%w: %d bytes", ErrItemTooLarge, length)
	}
	return chunk&^uint32(itemLenMask) | length, nil
}

// ChunkSetType replaces the type field of a chunk, preserving the length.
func ChunkSetType(chunk uint32, typ ItemType) uint32 {
	return chunk&^uint32(itemTypeMask) | uint32(typ)<<itemTypeShift
}

// ItemSpaceRequired returns the bytes needed to store an item chunk
// followed by length trailing bytes. Both the chunk and the bytes that
// follow are kept on a 4-byte boundary so the next item starts aligned.
func ItemSpaceRequired(length uint32) uint32 {
	return alignUp(ItemHeaderSize+length, 4)
}

// Item is the decoded in-memory view of one on-page item. Data borrows
// from the page's raw buffer and stays valid only while the buffer does.
// The packed chunk representation never escapes the encode/decode edge.
type Item struct {
	Type ItemType
	Data []byte

	// Off is the byte offset of the item's chunk within the page buffer,
	// kept so index entries can refer back to their on-page item.
	Off int
}

// Len returns the trailing-data length of the item.
func (it Item) Len() uint32 { return uint32(len(it.Data)) }

// encodeItem writes the chunk and trailing bytes at dst[off:], returning
// the offset of the next item slot. dst must have room for
// ItemSpaceRequired(len(data)) bytes at off.
func encodeItem(dst []byte, off int, typ ItemType, data []byte) (int, error) {
	chunk, err := PackChunk(typ, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	bx.PutU32At(dst, off, chunk)
	copy(dst[off+ItemHeaderSize:], data)
	next := off + int(ItemSpaceRequired(uint32(len(data))))
	// Padding bytes between the data end and the aligned boundary stay
	// zero; they are covered by the page checksum.
	return next, nil
}
