// Package beet is an on-disk B-tree page store. It owns the file
// bootstrap (descriptor page), page-level reads through a pinned buffer
// pool, the overflow spill path for large values, and sibling iteration
// over leaf pages. Pages are addressed in fixed allocation units; the
// byte layout lives in internal/page.
package beet

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/beetdb/beet/internal/bufferpool"
	"github.com/beetdb/beet/internal/page"
	"github.com/beetdb/beet/internal/storage"
	"github.com/beetdb/beet/internal/wal"
)

var (
	ErrDBExists   = errors.New("beet: database already exists")
	ErrDBNotFound = errors.New("beet: database not found")
	ErrDBClosed   = errors.New("beet: database closed")
)

const dataFileName = "data.beet"

// KV is one key/value pair destined for a leaf page.
type KV struct {
	Key   []byte
	Value []byte
}

// DB is an open database: the data file, its write-ahead log, and the
// page cache in front of them.
type DB struct {
	mu     sync.Mutex
	opts   Options
	pager  *storage.Pager
	pool   *bufferpool.Pool
	wal    *wal.Manager
	desc   page.Descriptor
	closed bool
}

// Create initializes a new database directory. Page 0 is written as an
// empty root leaf carrying the descriptor; creating over an existing
// data file fails.
func Create(opts Options) (*DB, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.ReadOnly {
		return nil, fmt.Errorf("%w: cannot create read-only", ErrBadOptions)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(opts.Dir, dataFileName)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDBExists, path)
	}

	pager, err := storage.Open(path, opts.AllocSize, false)
	if err != nil {
		return nil, err
	}
	w, err := wal.Open(opts.Dir)
	if err != nil {
		_ = pager.Close()
		return nil, err
	}
	db := &DB{
		opts:  opts,
		pager: pager,
		pool:  bufferpool.New(pager, opts.CacheFrames),
		wal:   w,
		desc: page.Descriptor{
			Major:    page.MajorVersion,
			Minor:    page.MinorVersion,
			LeafSize: opts.LeafSize,
			IntlSize: opts.IntlSize,
			RootAddr: page.FirstPageAddr,
			FreeAddr: page.InvalidAddr,
		},
	}
	if err := db.bootstrap(); err != nil {
		_ = w.Close()
		_ = pager.Close()
		return nil, err
	}
	slog.Info("beet.Create", "dir", opts.Dir, "allocSize", opts.AllocSize,
		"leafSize", opts.LeafSize, "intlSize", opts.IntlSize)
	return db, nil
}

// bootstrap reserves and writes page 0: descriptor plus an empty leaf.
func (db *DB) bootstrap() error {
	addr, err := db.pager.Allocate(db.opts.LeafSize)
	if err != nil {
		return err
	}
	if addr != page.FirstPageAddr {
		return fmt.Errorf("beet: bootstrap got page %d, want %d", addr, page.FirstPageAddr)
	}

	b, err := page.NewBuilder(addr, page.TypeLeaf, page.LeafLevel, db.opts.LeafSize)
	if err != nil {
		return err
	}
	if err := b.SetDescriptor(&db.desc); err != nil {
		return err
	}
	img, err := b.Finish()
	if err != nil {
		return err
	}
	lsn, err := db.wal.AppendPageImage(addr, img)
	if err != nil {
		return err
	}
	if err := db.wal.Flush(lsn); err != nil {
		return err
	}
	b.SetLSN(lsn)
	if img, err = b.Finish(); err != nil {
		return err
	}
	if err := db.pager.WritePage(addr, img); err != nil {
		return err
	}
	return db.pager.Sync()
}

// Open opens an existing database. The descriptor is validated before
// any page content is trusted: a magic or major-version mismatch is
// fatal, a newer minor version only logs a warning.
func Open(opts Options) (*DB, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	path := filepath.Join(opts.Dir, dataFileName)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDBNotFound, path)
	}

	pager, err := storage.Open(path, opts.AllocSize, opts.ReadOnly)
	if err != nil {
		return nil, err
	}
	w, err := wal.Open(opts.Dir)
	if err != nil {
		_ = pager.Close()
		return nil, err
	}
	if !opts.ReadOnly {
		if err := w.Recover(pager); err != nil {
			_ = w.Close()
			_ = pager.Close()
			return nil, fmt.Errorf("beet: recovery: %w", err)
		}
	}

	// Peek at the descriptor first. The first allocation unit is enough
	// to reach it; the full-page checksum is verified right after, once
	// the descriptor has told us how big page 0 is.
	head, err := pager.ReadPage(page.FirstPageAddr, opts.AllocSize)
	if err != nil {
		_ = w.Close()
		_ = pager.Close()
		return nil, err
	}
	desc, err := page.ParseDescriptor(head)
	if err != nil {
		_ = w.Close()
		_ = pager.Close()
		return nil, err
	}
	if desc.LeafSize != opts.LeafSize || desc.IntlSize != opts.IntlSize {
		slog.Warn("beet.Open: page sizes from descriptor override options",
			"leafSize", desc.LeafSize, "intlSize", desc.IntlSize)
		opts.LeafSize, opts.IntlSize = desc.LeafSize, desc.IntlSize
		if err := opts.validate(); err != nil {
			_ = w.Close()
			_ = pager.Close()
			return nil, err
		}
	}

	db := &DB{
		opts:  opts,
		pager: pager,
		pool:  bufferpool.New(pager, opts.CacheFrames),
		wal:   w,
		desc:  desc,
	}

	// Full checksum pass over page 0.
	if err := db.View(page.FirstPageAddr, func(*page.Page, *page.View) error { return nil }); err != nil {
		_ = w.Close()
		_ = pager.Close()
		return nil, err
	}
	slog.Info("beet.Open", "dir", opts.Dir, "root", desc.RootAddr)
	return db, nil
}

// Close flushes dirty pages and releases the file lock. Safe to call
// twice.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var firstErr error
	if !db.opts.ReadOnly {
		if err := db.pool.FlushAll(); err != nil {
			firstErr = err
		}
	}
	if err := db.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := db.pager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Descriptor returns the database descriptor as read at open.
func (db *DB) Descriptor() page.Descriptor { return db.desc }

// View pins the leaf page at addr, builds its item index, and runs fn
// against it. The pin is released when fn returns.
func (db *DB) View(addr page.Addr, fn func(*page.Page, *page.View) error) error {
	if err := db.check(); err != nil {
		return err
	}
	return db.pool.With(addr, db.opts.LeafSize, func(pg *page.Page, v *page.View) (bool, error) {
		return false, fn(pg, v)
	})
}

// ViewInternal is View for internal pages, which use their own size.
func (db *DB) ViewInternal(addr page.Addr, fn func(*page.Page, *page.View) error) error {
	if err := db.check(); err != nil {
		return err
	}
	return db.pool.With(addr, db.opts.IntlSize, func(pg *page.Page, v *page.View) (bool, error) {
		return false, fn(pg, v)
	})
}

func (db *DB) check() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrDBClosed
	}
	return nil
}

// NextSibling and PrevSibling follow a leaf's sibling links. The
// returned address is invalid (ok=false) at either end of the chain.
func (db *DB) NextSibling(addr page.Addr) (next page.Addr, ok bool, err error) {
	next = page.InvalidAddr
	err = db.View(addr, func(pg *page.Page, _ *page.View) error {
		next = pg.Hdr.Next
		return nil
	})
	if err != nil {
		return page.InvalidAddr, false, err
	}
	return next, next.IsValid(), nil
}

func (db *DB) PrevSibling(addr page.Addr) (prev page.Addr, ok bool, err error) {
	prev = page.InvalidAddr
	err = db.View(addr, func(pg *page.Page, _ *page.View) error {
		prev = pg.Hdr.Prev
		return nil
	})
	if err != nil {
		return page.InvalidAddr, false, err
	}
	return prev, prev.IsValid(), nil
}

// WalkLeaves runs fn on the leaf at start and every following sibling
// (in link order; forward follows next, otherwise prev). fn returning
// false stops the walk.
func (db *DB) WalkLeaves(start page.Addr, forward bool, fn func(addr page.Addr, pg *page.Page, v *page.View) (bool, error)) error {
	for addr := start; addr.IsValid(); {
		var cont bool
		var next page.Addr
		err := db.View(addr, func(pg *page.Page, v *page.View) error {
			var err error
			cont, err = fn(addr, pg, v)
			if forward {
				next = pg.Hdr.Next
			} else {
				next = pg.Hdr.Prev
			}
			return err
		})
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		addr = next
	}
	return nil
}

// ResolveValue materializes the value behind an index entry, following
// an overflow reference when the value was spilled.
func (db *DB) ResolveValue(e page.IndexEntry) ([]byte, error) {
	if err := db.check(); err != nil {
		return nil, err
	}
	if e.Flags&page.EntryDataOvfl == 0 {
		return e.DataItem.Data, nil
	}
	ref, err := page.ParseOvfl(e.DataItem)
	if err != nil {
		return nil, err
	}
	return db.pager.ReadOverflow(ref)
}
