package storage

import (
	"fmt"
	"log/slog"

	"github.com/beetdb/beet/internal/page"
)

// WriteOverflow spills a value to a freshly allocated overflow page and
// returns the reference to store in the originating item. This is the
// path values take when they exceed the 24-bit inline item limit (or the
// caller's in-page maximum): the reservation is header plus value,
// rounded up to an allocation-unit multiple.
func (p *Pager) WriteOverflow(value []byte, lsn page.LSN) (page.Ovfl, error) {
	if uint64(len(value)) > 1<<32-1 {
		return page.Ovfl{}, fmt.Errorf("%w: overflow value of %d bytes", page.ErrItemTooLarge, len(value))
	}
	size, err := page.OvflAllocSize(p.allocSize, uint32(len(value)))
	if err != nil {
		return page.Ovfl{}, err
	}
	addr, err := p.Allocate(size)
	if err != nil {
		return page.Ovfl{}, err
	}
	buf, err := page.BuildOverflowPage(addr, lsn, p.allocSize, value)
	if err != nil {
		return page.Ovfl{}, err
	}
	if err := p.WritePage(addr, buf); err != nil {
		return page.Ovfl{}, err
	}

	slog.Debug("storage.WriteOverflow",
		"addr", addr,
		"valueLen", len(value),
		"pageBytes", size,
	)
	return page.Ovfl{Len: uint32(len(value)), Addr: addr}, nil
}

// ReadOverflow fetches the overflow page behind a reference, validates
// it, and returns exactly the referenced value bytes.
func (p *Pager) ReadOverflow(ref page.Ovfl) ([]byte, error) {
	if !ref.Addr.IsValid() {
		return nil, fmt.Errorf("storage: overflow: %w", page.ErrInvalidAddr)
	}
	size, err := page.OvflAllocSize(p.allocSize, ref.Len)
	if err != nil {
		return nil, err
	}
	buf, err := p.ReadPage(ref.Addr, size)
	if err != nil {
		return nil, err
	}
	pg, err := page.New(ref.Addr, 0, p.allocSize, buf)
	if err != nil {
		return nil, err
	}
	if pg.Hdr.Type != page.TypeOverflow {
		return nil, fmt.Errorf("%w: page %d is %s, want overflow", page.ErrBadPageType, ref.Addr, pg.Hdr.Type)
	}
	if pg.Hdr.DataLen() != ref.Len {
		return nil, fmt.Errorf("%w: overflow page %d holds %d bytes, reference says %d",
			page.ErrChecksum, ref.Addr, pg.Hdr.DataLen(), ref.Len)
	}
	return pg.Body()
}
