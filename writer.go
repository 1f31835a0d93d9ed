package beet

import (
	"fmt"
	"log/slog"

	"github.com/beetdb/beet/internal/page"
	"github.com/beetdb/beet/internal/storage"
)

// AllocateLeaf reserves space for a new leaf page and returns its
// address. The page has no content until WriteLeaf.
func (db *DB) AllocateLeaf() (page.Addr, error) {
	if err := db.check(); err != nil {
		return page.InvalidAddr, err
	}
	return db.pager.Allocate(db.opts.LeafSize)
}

// leafValue is one key/value unit headed for a leaf page: inline bytes,
// or a reference to a value already sitting on an overflow page.
type leafValue struct {
	key     []byte
	inline  []byte
	ovfl    page.Ovfl
	spilled bool
}

// WriteLeaf builds the leaf page at addr from sorted key/value pairs
// and writes it through the log and the cache. Values too large to sit
// inline (over the 24-bit item limit, or not fitting in the page's free
// space) spill to dedicated overflow pages and the leaf keeps an
// 8-byte reference instead.
//
// The descriptor page keeps its descriptor: writing addr 0 rebuilds it.
func (db *DB) WriteLeaf(addr page.Addr, prev, next page.Addr, pairs []KV) error {
	if err := db.check(); err != nil {
		return err
	}
	vals := make([]leafValue, len(pairs))
	for i, kv := range pairs {
		vals[i] = leafValue{key: kv.Key, inline: kv.Value}
	}
	return db.buildLeaf(addr, prev, next, vals)
}

// buildLeaf is the shared leaf write path behind WriteLeaf and
// SetSiblings.
func (db *DB) buildLeaf(addr page.Addr, prev, next page.Addr, vals []leafValue) error {
	if db.opts.ReadOnly {
		return storage.ErrReadOnly
	}

	b, err := page.NewBuilder(addr, page.TypeLeaf, page.LeafLevel, db.opts.LeafSize)
	if err != nil {
		return err
	}
	b.SetLinks(page.InvalidAddr, prev, next)
	if addr == page.FirstPageAddr {
		if err := b.SetDescriptor(&db.desc); err != nil {
			return err
		}
	}

	for _, v := range vals {
		if err := b.AppendItem(page.ItemKey, v.key); err != nil {
			return fmt.Errorf("beet: key %q: %w", v.key, err)
		}
		if v.spilled {
			err = b.AppendOvfl(page.ItemDataOvfl, v.ovfl)
		} else {
			err = db.appendValue(b, v.inline)
		}
		if err != nil {
			return fmt.Errorf("beet: value for key %q: %w", v.key, err)
		}
	}
	return db.writePage(addr, b)
}

// appendValue appends one data item, inline when it fits and as an
// overflow reference otherwise.
func (db *DB) appendValue(b *page.Builder, value []byte) error {
	inline := uint64(len(value)) <= page.MaxItemLen &&
		page.ItemSpaceRequired(uint32(len(value))) <= b.SpaceAvail()
	if inline {
		return b.AppendItem(page.ItemData, value)
	}

	ref, err := db.pager.WriteOverflow(value, page.LSN{})
	if err != nil {
		return err
	}
	slog.Debug("beet.appendValue spilled to overflow",
		"addr", ref.Addr, "valueLen", ref.Len)
	return b.AppendOvfl(page.ItemDataOvfl, ref)
}

// writePage finishes the image, logs it, stamps the returned LSN, and
// installs the final image in the cache (written through to disk).
func (db *DB) writePage(addr page.Addr, b *page.Builder) error {
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

	// Evict any stale copy before installing the fresh image.
	if err := db.pool.Drop(addr); err != nil {
		return err
	}
	pg, err := page.New(addr, 0, db.opts.AllocSize, img)
	if err != nil {
		return err
	}
	if err := db.pool.Put(pg); err != nil {
		return err
	}
	return db.pool.Unpin(addr, false)
}

// SetSiblings rewrites only the sibling links of the leaf at addr,
// preserving its items. Spilled values keep their existing overflow
// reference; only the leaf image itself is rewritten. Used when
// splicing a new page into the chain.
func (db *DB) SetSiblings(addr, prev, next page.Addr) error {
	if err := db.check(); err != nil {
		return err
	}
	if db.opts.ReadOnly {
		return storage.ErrReadOnly
	}

	var vals []leafValue
	err := db.View(addr, func(pg *page.Page, v *page.View) error {
		for _, e := range v.Entries {
			lv := leafValue{key: append([]byte(nil), e.Data...)}
			if e.Flags&page.EntryDataOvfl != 0 {
				ref, err := page.ParseOvfl(e.DataItem)
				if err != nil {
					return err
				}
				lv.ovfl = ref
				lv.spilled = true
			} else {
				lv.inline = append([]byte(nil), e.DataItem.Data...)
			}
			vals = append(vals, lv)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return db.buildLeaf(addr, prev, next, vals)
}
