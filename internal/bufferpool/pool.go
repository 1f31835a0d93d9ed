// Package bufferpool keeps a bounded set of pages resident in memory.
//
// Every page access goes through a pin: Get loads (or finds) the page
// and pins its frame, Unpin releases it and marks it dirty if modified.
// A pinned frame is never evicted; once the pin count drops to zero the
// frame becomes a CLOCK eviction candidate. Dirty victims are written
// back before their frame is reused.
//
// Pages come in different sizes (the leaf and internal page sizes are
// independent, and overflow pages are sized by their value), so the
// caller supplies the byte size with every Get.
package bufferpool

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/beetdb/beet/internal/page"
	"github.com/beetdb/beet/internal/storage"
	"github.com/beetdb/beet/pkg/clockx"
)

var (
	ErrNoFreeFrame = errors.New("bufferpool: all frames pinned")
	ErrNotResident = errors.New("bufferpool: page not resident")
	ErrPagePinned  = errors.New("bufferpool: page still pinned")
)

// Frame is one cache slot: the resident page plus the state gating its
// eviction.
type Frame struct {
	Page  *page.Page
	Dirty bool
	Pin   int32
}

// Pool is a fixed-capacity page cache over one Pager. All methods are
// safe for concurrent use.
type Pool struct {
	pager *storage.Pager

	mu     sync.Mutex
	frames []Frame
	free   []int
	table  map[page.Addr]int
	clock  *clockx.Clock
}

// New builds a pool with capacity frames backed by pager.
func New(pager *storage.Pager, capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pool{
		pager:  pager,
		frames: make([]Frame, capacity),
		free:   make([]int, 0, capacity),
		table:  make(map[page.Addr]int, capacity),
		clock:  clockx.New(capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p
}

// Get returns the page at addr pinned. size is the page's byte size,
// which the caller knows from the page's role (leaf, internal, first
// page, or an overflow reservation). The pin must be released with
// Unpin.
func (p *Pool) Get(addr page.Addr, size uint32) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.table[addr]; ok {
		f := &p.frames[id]
		f.Pin++
		p.clock.Touch(id)
		p.clock.SetEvictable(id, false)
		return f.Page, nil
	}

	id, err := p.victim()
	if err != nil {
		return nil, err
	}
	buf, err := p.pager.ReadPage(addr, size)
	if err != nil {
		p.free = append(p.free, id)
		return nil, err
	}
	pg, err := page.New(addr, 0, p.pager.AllocSize(), buf)
	if err != nil {
		p.free = append(p.free, id)
		return nil, err
	}

	p.frames[id] = Frame{Page: pg, Pin: 1}
	p.table[addr] = id
	p.clock.Touch(id)
	return pg, nil
}

// victim hands back a frame index ready for reuse, flushing the
// previous occupant if it was dirty.
func (p *Pool) victim() (int, error) {
	if n := len(p.free); n > 0 {
		id := p.free[n-1]
		p.free = p.free[:n-1]
		return id, nil
	}
	id, ok := p.clock.Evict()
	if !ok {
		return 0, ErrNoFreeFrame
	}
	f := &p.frames[id]
	if f.Dirty {
		if err := p.pager.WritePage(f.Page.Addr, f.Page.Buf); err != nil {
			return 0, fmt.Errorf("bufferpool: evicting page %d: %w", f.Page.Addr, err)
		}
		slog.Debug("bufferpool.evict flushed dirty page", "addr", f.Page.Addr)
	}
	delete(p.table, f.Page.Addr)
	p.frames[id] = Frame{}
	return id, nil
}

// Unpin releases one pin on addr. dirty records that the caller
// modified the page buffer; the write-back happens on eviction or
// FlushAll.
func (p *Pool) Unpin(addr page.Addr, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.table[addr]
	if !ok {
		return fmt.Errorf("%w: addr %d", ErrNotResident, addr)
	}
	f := &p.frames[id]
	if f.Pin <= 0 {
		return fmt.Errorf("bufferpool: page %d not pinned", addr)
	}
	f.Pin--
	if dirty {
		f.Dirty = true
	}
	if f.Pin == 0 {
		p.clock.SetEvictable(id, true)
	}
	return nil
}

// With pins the page at addr, builds its item index, and runs fn. The
// pin is released on every exit path; fn returning a "dirty" flag true
// marks the page for write-back.
func (p *Pool) With(addr page.Addr, size uint32, fn func(*page.Page, *page.View) (bool, error)) error {
	pg, err := p.Get(addr, size)
	if err != nil {
		return err
	}
	v, err := pg.BuildView()
	if err != nil {
		_ = p.Unpin(addr, false)
		return err
	}
	dirty, err := fn(pg, v)
	if uerr := p.Unpin(addr, dirty); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// Put installs a freshly built page image into the cache pinned, so a
// newly allocated page does not take a read round-trip. The image is
// written through immediately.
func (p *Pool) Put(pg *page.Page) error {
	if err := p.pager.WritePage(pg.Addr, pg.Buf); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.table[pg.Addr]; ok {
		f := &p.frames[id]
		f.Page = pg
		f.Pin++
		f.Dirty = false
		p.clock.Touch(id)
		p.clock.SetEvictable(id, false)
		return nil
	}
	id, err := p.victim()
	if err != nil {
		return err
	}
	p.frames[id] = Frame{Page: pg, Pin: 1}
	p.table[pg.Addr] = id
	p.clock.Touch(id)
	return nil
}

// Drop evicts addr from the cache without write-back. The page must not
// be pinned.
func (p *Pool) Drop(addr page.Addr) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.table[addr]
	if !ok {
		return nil
	}
	if p.frames[id].Pin > 0 {
		return fmt.Errorf("%w: addr %d", ErrPagePinned, addr)
	}
	p.clock.Remove(id)
	delete(p.table, addr)
	p.frames[id] = Frame{}
	p.free = append(p.free, id)
	return nil
}

// FlushAll writes every dirty resident page back and syncs the file.
// Pinned pages flush too; their frames stay resident.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.frames {
		f := &p.frames[i]
		if f.Page == nil || !f.Dirty {
			continue
		}
		if err := p.pager.WritePage(f.Page.Addr, f.Page.Buf); err != nil {
			return fmt.Errorf("bufferpool: flushing page %d: %w", f.Page.Addr, err)
		}
		f.Dirty = false
	}
	return p.pager.Sync()
}

// Resident reports whether addr currently occupies a frame.
func (p *Pool) Resident(addr page.Addr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.table[addr]
	return ok
}
