package page

import (
	"fmt"

	"github.com/beetdb/beet/pkg/bx"
)

// Cursor walks the item sequence of an internal, leaf or duplicate page
// in on-disk order. It is a bounds-checked scanner over the raw buffer:
// advancement never trusts an encoded length to stay inside the page. A
// fresh cursor may be started at any time; walking is purely a function
// of the immutable buffer.
//
//	cur, err := page.NewCursor(buf, addr, &hdr)
//	for cur.Next() {
//		it := cur.Item()
//		...
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor struct {
	buf       []byte
	off       int
	remaining uint32
	item      Item
	err       error
}

// NewCursor positions a cursor on the first item of the page. Overflow
// pages have no item sequence — their body is one opaque byte run of
// Header.DataLen bytes — and are rejected here.
func NewCursor(buf []byte, addr Addr, h *Header) (*Cursor, error) {
	switch h.Type {
	case TypeInternal, TypeLeaf, TypeDupInternal, TypeDupLeaf:
	default:
		return nil, fmt.Errorf("%w: cannot walk items of %s page", ErrBadPageType, h.Type)
	}
	return &Cursor{
		buf:       buf,
		off:       ContentOffset(addr),
		remaining: h.Entries,
	}, nil
}

// Next advances to the next item, returning false at the end of the
// sequence or on a malformed item. Check Err after the loop.
func (c *Cursor) Next() bool {
	if c.err != nil || c.remaining == 0 {
		return false
	}
	if c.off+ItemHeaderSize > len(c.buf) {
		c.err = fmt.Errorf("%w: item chunk at offset %d", ErrItemBounds, c.off)
		return false
	}
	chunk := bx.U32At(c.buf, c.off)
	length := ChunkLen(chunk)
	end := c.off + ItemHeaderSize + int(length)
	if end > len(c.buf) {
		c.err = fmt.Errorf("%w: item at offset %d claims %d bytes", ErrItemBounds, c.off, length)
		return false
	}
	typ := ChunkType(chunk)
	if typ < ItemKey || typ > ItemOffPage {
		c.err = fmt.Errorf("%w: %d at offset %d", ErrBadItemType, typ, c.off)
		return false
	}
	c.item = Item{
		Type: typ,
		Data: c.buf[c.off+ItemHeaderSize : end],
		Off:  c.off,
	}
	c.off += int(ItemSpaceRequired(length))
	c.remaining--
	return true
}

// Item returns the item the cursor is positioned on after a true Next.
func (c *Cursor) Item() Item { return c.item }

// Err returns the first malformed-item error encountered, if any.
func (c *Cursor) Err() error { return c.err }

// End returns the byte offset just past the last consumed item; after a
// complete walk this is the page's first free byte.
func (c *Cursor) End() int { return c.off }

// CheckItemPairing walks a page and verifies the type/content pairing the
// byte format itself cannot express:
//
//   - internal and dup-internal pages: each key or overflow key is
//     immediately followed by exactly one off-page reference;
//   - leaf pages: each key is followed by one data/overflow-data item,
//     one off-page reference, or a run of duplicate items;
//   - dup-leaf pages: a flat run of duplicate items, no keys;
//   - overflow pages: no items at all.
func CheckItemPairing(buf []byte, addr Addr, h *Header) error {
	if h.Type == TypeOverflow {
		return nil
	}
	cur, err := NewCursor(buf, addr, h)
	if err != nil {
		return err
	}

	var items []Item
	for cur.Next() {
		items = append(items, cur.Item())
	}
	if err := cur.Err(); err != nil {
		return err
	}

	switch h.Type {
	case TypeInternal, TypeDupInternal:
		if len(items)%2 != 0 {
			return fmt.Errorf("%w: internal page has odd item count %d", ErrPairing, len(items))
		}
		for i := 0; i < len(items); i += 2 {
			if k := items[i].Type; k != ItemKey && k != ItemKeyOvfl {
				return fmt.Errorf("%w: item %d is %d, want key", ErrPairing, i, k)
			}
			if d := items[i+1].Type; d != ItemOffPage {
				return fmt.Errorf("%w: item %d is %d, want off-page reference", ErrPairing, i+1, d)
			}
		}
	case TypeLeaf:
		for i := 0; i < len(items); {
			if k := items[i].Type; k != ItemKey && k != ItemKeyOvfl {
				return fmt.Errorf("%w: item %d is %d, want key", ErrPairing, i, k)
			}
			i++
			if i >= len(items) {
				return fmt.Errorf("%w: trailing key without data", ErrPairing)
			}
			switch items[i].Type {
			case ItemData, ItemDataOvfl, ItemOffPage:
				i++
			case ItemDup, ItemDupOvfl:
				for i < len(items) && (items[i].Type == ItemDup || items[i].Type == ItemDupOvfl) {
					i++
				}
			default:
				return fmt.Errorf("%w: item %d is %d, want data for preceding key", ErrPairing, i, items[i].Type)
			}
		}
	case TypeDupLeaf:
		for i, it := range items {
			if it.Type != ItemDup && it.Type != ItemDupOvfl {
				return fmt.Errorf("%w: item %d is %d, want duplicate", ErrPairing, i, it.Type)
			}
		}
	}
	return nil
}
