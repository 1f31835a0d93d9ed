package page

import "fmt"

// EntryFlags mark how an index entry's key and value are stored.
type EntryFlags uint32

const (
	// EntryKeyOvfl is set when the entry's key lives on an overflow page;
	// Data is nil and the key bytes must be fetched through KeyItem.
	EntryKeyOvfl EntryFlags = 1 << iota

	// EntryDataOvfl is set when the entry's value lives on an overflow
	// page.
	EntryDataOvfl

	// EntryOffPage is set when the entry references a subtree instead of
	// an inline value.
	EntryOffPage
)

// IndexEntry is one element of a page's in-memory index: a parsed, sorted
// mirror of one logical key/value unit of the on-disk item sequence. It
// is rebuilt from the raw bytes each time a page is loaded and is never
// persisted.
//
// Data borrows from the page buffer, so an entry acts as a raw key view
// that can be handed straight to a comparison function. On off-page
// duplicate leaf pages there are no keys; the sorted duplicate data items
// play the key role and Data views those instead.
type IndexEntry struct {
	Data []byte

	// Addr resolves the entry off-page when it is not stored inline:
	// the overflow address of the key on leaf and internal pages, the
	// subtree root on internal pages with inline keys, the overflow
	// address of the duplicate item on dup-leaf pages. InvalidAddr for
	// fully inline entries.
	Addr Addr

	// Records and Level describe the referenced subtree when EntryOffPage
	// is set.
	Records uint64
	Level   uint8

	// KeyItem and DataItem refer back to the on-page items backing this
	// entry. On dup-leaf pages they are the same item. For a duplicate
	// run on a leaf page, DataItem is the first duplicate of the run.
	KeyItem  Item
	DataItem Item

	Flags EntryFlags
}

// BuildIndex walks a page once and produces its index array. Entries come
// out in on-page order, which upstream writers maintain as sort order;
// this function never re-sorts.
func BuildIndex(buf []byte, addr Addr, h *Header) ([]IndexEntry, error) {
	if h.Type == TypeOverflow {
		return nil, fmt.Errorf("%w: overflow pages have no index", ErrBadPageType)
	}
	cur, err := NewCursor(buf, addr, h)
	if err != nil {
		return nil, err
	}

	var items []Item
	for cur.Next() {
		items = append(items, cur.Item())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	switch h.Type {
	case TypeInternal, TypeDupInternal:
		return buildInternalIndex(items)
	case TypeLeaf:
		return buildLeafIndex(items)
	default: // TypeDupLeaf
		return buildDupLeafIndex(items)
	}
}

func keyEntry(it Item) (IndexEntry, error) {
	e := IndexEntry{Addr: InvalidAddr, KeyItem: it}
	switch it.Type {
	case ItemKey:
		e.Data = it.Data
	case ItemKeyOvfl:
		ovfl, err := ParseOvfl(it)
		if err != nil {
			return IndexEntry{}, err
		}
		e.Addr = ovfl.Addr
		e.Flags |= EntryKeyOvfl
	default:
		return IndexEntry{}, fmt.Errorf("%w: item %d is %d, want key", ErrPairing, it.Off, it.Type)
	}
	return e, nil
}

func buildInternalIndex(items []Item) ([]IndexEntry, error) {
	if len(items)%2 != 0 {
		return nil, fmt.Errorf("%w: internal page has odd item count %d", ErrPairing, len(items))
	}
	entries := make([]IndexEntry, 0, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		e, err := keyEntry(items[i])
		if err != nil {
			return nil, err
		}
		offp, err := ParseOffPage(items[i+1])
		if err != nil {
			return nil, err
		}
		e.DataItem = items[i+1]
		e.Records = offp.Records
		e.Level = offp.Level
		e.Flags |= EntryOffPage
		if !e.Addr.IsValid() {
			e.Addr = offp.Addr
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func buildLeafIndex(items []Item) ([]IndexEntry, error) {
	var entries []IndexEntry
	for i := 0; i < len(items); {
		e, err := keyEntry(items[i])
		if err != nil {
			return nil, err
		}
		i++
		if i >= len(items) {
			return nil, fmt.Errorf("%w: trailing key without data", ErrPairing)
		}
		e.DataItem = items[i]
		switch items[i].Type {
		case ItemData:
			i++
		case ItemDataOvfl:
			e.Flags |= EntryDataOvfl
			i++
		case ItemOffPage:
			offp, err := ParseOffPage(items[i])
			if err != nil {
				return nil, err
			}
			e.Records = offp.Records
			e.Level = offp.Level
			e.Flags |= EntryOffPage
			if !e.Addr.IsValid() {
				e.Addr = offp.Addr
			}
			i++
		case ItemDup, ItemDupOvfl:
			// A duplicate run belongs to the preceding key as one logical
			// unit; DataItem stays on the run's first item.
			for i < len(items) && (items[i].Type == ItemDup || items[i].Type == ItemDupOvfl) {
				i++
			}
		default:
			return nil, fmt.Errorf("%w: item %d is %d, want data for preceding key",
				ErrPairing, items[i].Off, items[i].Type)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func buildDupLeafIndex(items []Item) ([]IndexEntry, error) {
	entries := make([]IndexEntry, 0, len(items))
	for _, it := range items {
		e := IndexEntry{Addr: InvalidAddr, KeyItem: it, DataItem: it}
		switch it.Type {
		case ItemDup:
			e.Data = it.Data
		case ItemDupOvfl:
			ovfl, err := ParseOvfl(it)
			if err != nil {
				return nil, err
			}
			e.Addr = ovfl.Addr
			e.Flags |= EntryDataOvfl
		default:
			return nil, fmt.Errorf("%w: item %d is %d, want duplicate", ErrPairing, it.Off, it.Type)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Compare orders a search key against an entry's raw view. It is injected
// by the tree layer; this package imposes no ordering of its own.
// Negative means key sorts before entry, zero equal, positive after.
type Compare func(key, entry []byte) (int, error)

// Lookup binary-searches a page index for key. It returns the position of
// an exact match with found set, or the insertion point for the key with
// found clear. Every entry the search touches must have its key bytes
// resident: an overflow key (EntryKeyOvfl) has a nil view until the
// caller fetches its page and fills Data, and searching past one returns
// ErrKeyUnresolved rather than comparing against nothing. It otherwise
// fails only if the comparison function fails.
func Lookup(entries []IndexEntry, key []byte, cmp Compare) (pos int, found bool, err error) {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if entries[mid].Data == nil {
			return 0, false, fmt.Errorf("%w: entry %d", ErrKeyUnresolved, mid)
		}
		c, err := cmp(key, entries[mid].Data)
		if err != nil {
			return 0, false, fmt.Errorf("page: compare failed at entry %d: %w", mid, err)
		}
		switch {
		case c == 0:
			return mid, true, nil
		case c < 0:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return lo, false, nil
}

// SearchRecno finds the entry covering the page-relative record number
// recno (1-based) by summing subtree record counts across the index.
// Entries without a subtree count cover exactly one record.
func SearchRecno(entries []IndexEntry, recno uint64) (int, error) {
	if recno == 0 {
		return 0, fmt.Errorf("%w: record numbers start at 1", ErrRecnoRange)
	}
	var cum uint64
	for i, e := range entries {
		n := e.Records
		if n == 0 {
			n = 1
		}
		if recno <= cum+n {
			return i, nil
		}
		cum += n
	}
	return 0, fmt.Errorf("%w: %d beyond %d records on page", ErrRecnoRange, recno, cum)
}
