package page

import "fmt"

// Page is the cache-visible handle for one resident page: the raw buffer
// read from disk plus its location. These fields are owned by the cache
// layer, which also owns the reference count and queue linkage gating
// eviction (see internal/bufferpool). Tree logic never touches them
// directly; it works through a View built on top.
type Page struct {
	Addr   Addr
	Offset int64
	FileID uint32

	// Buf is the raw on-disk bytes: header, descriptor on the first
	// page, then the item sequence or overflow body.
	Buf []byte

	Hdr Header
}

// New validates a raw page buffer and wraps it. The buffer's checksum has
// to verify before anything else looks at the bytes.
func New(addr Addr, fileID, allocSize uint32, buf []byte) (*Page, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", addr, err)
	}
	off, err := OffsetOf(allocSize, addr)
	if err != nil {
		return nil, err
	}
	return &Page{
		Addr:   addr,
		Offset: off,
		FileID: fileID,
		Buf:    buf,
		Hdr:    h,
	}, nil
}

// Size returns the page's byte size.
func (p *Page) Size() uint32 { return uint32(len(p.Buf)) }

// Body returns the overflow value bytes of an overflow page.
func (p *Page) Body() ([]byte, error) {
	if p.Hdr.Type != TypeOverflow {
		return nil, fmt.Errorf("%w: %s page has no opaque body", ErrBadPageType, p.Hdr.Type)
	}
	n := int(p.Hdr.DataLen())
	start := ContentOffset(p.Addr)
	if start+n > len(p.Buf) {
		return nil, fmt.Errorf("%w: overflow body claims %d bytes", ErrItemBounds, n)
	}
	return p.Buf[start : start+n], nil
}

// View is the tree-owned side of a resident page: the sorted index array
// and the free-space bookkeeping used for in-place item insertion. It is
// built from the raw buffer on load and discarded on eviction; the tree
// layer must hold the page pinned for as long as a View is in use, since
// the index borrows from the page buffer.
type View struct {
	Entries []IndexEntry

	// FirstFree and SpaceAvail bound the unused region after the last
	// item.
	FirstFree  int
	SpaceAvail uint32

	// Records counts the records in this page and its subtrees.
	Records uint64
}

// BuildView parses the page's item sequence into a View.
func (p *Page) BuildView() (*View, error) {
	entries, err := BuildIndex(p.Buf, p.Addr, &p.Hdr)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", p.Addr, err)
	}

	// Re-walk end offset: the index collapses item groups, so recompute
	// the first free byte from the raw sequence.
	cur, err := NewCursor(p.Buf, p.Addr, &p.Hdr)
	if err != nil {
		return nil, err
	}
	for cur.Next() {
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	v := &View{
		Entries:    entries,
		FirstFree:  cur.End(),
		SpaceAvail: uint32(len(p.Buf) - cur.End()),
	}
	for _, e := range entries {
		if e.Records > 0 {
			v.Records += e.Records
		} else {
			v.Records++
		}
	}
	return v, nil
}

// Builder serializes a page: items are appended in sorted order, then
// Finish stamps the header and checksum over the finished buffer. It is
// the write-side mirror of Cursor/BuildIndex.
type Builder struct {
	buf     []byte
	off     int
	hdr     Header
	addr    Addr
	entries uint32
}

// NewBuilder starts a page image of the given size. Links default to the
// invalid sentinel until SetLinks.
func NewBuilder(addr Addr, typ PageType, level uint8, size uint32) (*Builder, error) {
	switch typ {
	case TypeInternal, TypeLeaf, TypeDupInternal, TypeDupLeaf:
	default:
		return nil, fmt.Errorf("%w: builder cannot produce %s pages", ErrBadPageType, typ)
	}
	if int(size) < ContentOffset(addr) {
		return nil, fmt.Errorf("%w: page size %d below first usable byte", ErrShortBuffer, size)
	}
	return &Builder{
		buf:  make([]byte, size),
		off:  ContentOffset(addr),
		addr: addr,
		hdr: Header{
			Type:   typ,
			Level:  level,
			Parent: InvalidAddr,
			Prev:   InvalidAddr,
			Next:   InvalidAddr,
		},
	}, nil
}

// SpaceAvail returns the bytes still unused on the page image.
func (b *Builder) SpaceAvail() uint32 { return uint32(len(b.buf) - b.off) }

// SetLinks records the parent and sibling addresses.
func (b *Builder) SetLinks(parent, prev, next Addr) {
	b.hdr.Parent, b.hdr.Prev, b.hdr.Next = parent, prev, next
}

// SetLSN records the recovery watermark to stamp at Finish.
func (b *Builder) SetLSN(lsn LSN) { b.hdr.LSN = lsn }

// AppendItem appends one item with inline trailing bytes. Oversized data
// is rejected (take the overflow path instead); a full page returns
// ErrNoSpace.
func (b *Builder) AppendItem(typ ItemType, data []byte) error {
	if uint64(len(data)) > MaxItemLen {
		return fmt.Errorf("%w: %d bytes", ErrItemTooLarge, len(data))
	}
	need := int(ItemSpaceRequired(uint32(len(data))))
	if b.off+need > len(b.buf) {
		return fmt.Errorf("%w: item needs %d bytes, %d available", ErrNoSpace, need, b.SpaceAvail())
	}
	next, err := encodeItem(b.buf, b.off, typ, data)
	if err != nil {
		return err
	}
	b.off = next
	b.entries++
	return nil
}

// AppendOvfl appends a key, data or duplicate overflow item referencing a
// value spilled to a dedicated overflow page.
func (b *Builder) AppendOvfl(typ ItemType, o Ovfl) error {
	switch typ {
	case ItemKeyOvfl, ItemDataOvfl, ItemDupOvfl:
	default:
		return fmt.Errorf("%w: %d is not an overflow item", ErrBadItemType, typ)
	}
	if !o.Addr.IsValid() {
		return fmt.Errorf("%w: overflow reference", ErrInvalidAddr)
	}
	return b.AppendItem(typ, EncodeOvfl(o))
}

// AppendOffPage appends an off-page reference item.
func (b *Builder) AppendOffPage(o OffPage) error {
	if !o.Addr.IsValid() {
		return fmt.Errorf("%w: off-page reference", ErrInvalidAddr)
	}
	return b.AppendItem(ItemOffPage, EncodeOffPage(o))
}

// SetDescriptor writes the database descriptor into the reserved region
// of a first-page image. Only the page at FirstPageAddr carries one.
func (b *Builder) SetDescriptor(d *Descriptor) error {
	if b.addr != FirstPageAddr {
		return fmt.Errorf("%w: descriptor belongs on page %d only", ErrBadPageType, FirstPageAddr)
	}
	return EncodeDescriptor(d, b.buf)
}

// Finish writes the header, stamps the checksum and returns the page
// image. The builder can keep appending afterwards and Finish again; each
// call re-stamps.
func (b *Builder) Finish() ([]byte, error) {
	b.hdr.Entries = b.entries
	if err := EncodeHeader(&b.hdr, b.buf); err != nil {
		return nil, err
	}
	return b.buf, nil
}

// BuildOverflowPage lays out a dedicated overflow page for value: a
// header whose union field holds the raw value length, the value bytes,
// and zero padding up to the next allocation-unit multiple.
func BuildOverflowPage(addr Addr, lsn LSN, allocSize uint32, value []byte) ([]byte, error) {
	if addr == FirstPageAddr || !addr.IsValid() {
		return nil, fmt.Errorf("%w: overflow page address %d", ErrInvalidAddr, addr)
	}
	if uint64(len(value)) > 1<<32-1 {
		return nil, fmt.Errorf("%w: overflow value of %d bytes", ErrItemTooLarge, len(value))
	}
	size, err := OvflAllocSize(allocSize, uint32(len(value)))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	copy(buf[HeaderSize:], value)
	h := Header{
		LSN:     lsn,
		Type:    TypeOverflow,
		Level:   LeafLevel,
		Entries: uint32(len(value)),
		Parent:  InvalidAddr,
		Prev:    InvalidAddr,
		Next:    InvalidAddr,
	}
	if err := EncodeHeader(&h, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
