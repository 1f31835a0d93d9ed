package beet

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/beetdb/beet/internal/page"
	"github.com/beetdb/beet/pkg/bx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T) Options {
	t.Helper()

	opts := DefaultOptions(t.TempDir())
	opts.LeafSize = 4096
	opts.IntlSize = 1024
	opts.CacheFrames = 8
	return opts
}

func createDB(t *testing.T) (*DB, Options) {
	t.Helper()

	opts := testOptions(t)
	db, err := Create(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, opts
}

func TestCreateWritesDescriptorPage(t *testing.T) {
	t.Parallel()

	db, opts := createDB(t)
	require.NoError(t, db.Close())

	// Inspect page 0 raw: header, then descriptor, then nothing.
	raw, err := os.ReadFile(filepath.Join(opts.Dir, dataFileName))
	require.NoError(t, err)
	require.Len(t, raw, int(opts.LeafSize))

	h, err := page.ParseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, page.TypeLeaf, h.Type)
	assert.Equal(t, uint8(page.LeafLevel), h.Level)
	assert.Zero(t, h.Entries)
	assert.Equal(t, page.InvalidAddr, h.Prev)
	assert.Equal(t, page.InvalidAddr, h.Next)

	d, err := page.ParseDescriptor(raw)
	require.NoError(t, err)
	assert.Equal(t, uint16(page.MajorVersion), d.Major)
	assert.Equal(t, opts.LeafSize, d.LeafSize)
	assert.Equal(t, opts.IntlSize, d.IntlSize)
	assert.Equal(t, page.FirstPageAddr, d.RootAddr)
	assert.False(t, d.FreeAddr.IsValid())

	assert.Equal(t, uint32(page.Magic), bx.U32At(raw, page.HeaderSize))
}

func TestCreateRefusesExisting(t *testing.T) {
	t.Parallel()

	_, opts := createDB(t)
	_, err := Create(opts)
	require.ErrorIs(t, err, ErrDBExists)
}

func TestOpenRoundTrip(t *testing.T) {
	t.Parallel()

	db, opts := createDB(t)
	require.NoError(t, db.WriteLeaf(page.FirstPageAddr, page.InvalidAddr, page.InvalidAddr, []KV{
		{Key: []byte("alpha"), Value: []byte("1")},
		{Key: []byte("beta"), Value: []byte("2")},
	}))
	require.NoError(t, db.Close())

	db2, err := Open(opts)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()

	assert.Equal(t, opts.LeafSize, db2.Descriptor().LeafSize)

	err = db2.View(page.FirstPageAddr, func(pg *page.Page, v *page.View) error {
		require.Len(t, v.Entries, 2)
		assert.Equal(t, []byte("alpha"), v.Entries[0].Data)
		assert.Equal(t, []byte("2"), v.Entries[1].DataItem.Data)
		return nil
	})
	require.NoError(t, err)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	t.Parallel()

	db, opts := createDB(t)
	require.NoError(t, db.Close())

	path := filepath.Join(opts.Dir, dataFileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	bx.PutU32At(raw, page.HeaderSize, 999)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	// Descriptor recovery would undo the damage, so drop the log.
	require.NoError(t, os.Remove(filepath.Join(opts.Dir, "wal.log")))

	_, err = Open(opts)
	require.ErrorIs(t, err, page.ErrIncompatibleVersion)
}

func TestCorruptPageFailsChecksum(t *testing.T) {
	t.Parallel()

	db, opts := createDB(t)
	require.NoError(t, db.WriteLeaf(page.FirstPageAddr, page.InvalidAddr, page.InvalidAddr, []KV{
		{Key: []byte("k"), Value: []byte("v")},
	}))
	require.NoError(t, db.Close())

	// Flip one content byte past the descriptor region.
	path := filepath.Join(opts.Dir, dataFileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[page.HeaderSize+page.DescSize+2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	require.NoError(t, os.Remove(filepath.Join(opts.Dir, "wal.log")))

	_, err = Open(opts)
	require.ErrorIs(t, err, page.ErrChecksum)
}

func TestRecoveryRepairsTornPage(t *testing.T) {
	t.Parallel()

	db, opts := createDB(t)
	require.NoError(t, db.WriteLeaf(page.FirstPageAddr, page.InvalidAddr, page.InvalidAddr, []KV{
		{Key: []byte("k"), Value: []byte("v")},
	}))
	require.NoError(t, db.Close())

	// Same corruption, but with the log intact redo rewrites the page.
	path := filepath.Join(opts.Dir, dataFileName)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[page.HeaderSize+page.DescSize+2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	db2, err := Open(opts)
	require.NoError(t, err)
	defer func() { _ = db2.Close() }()

	err = db2.View(page.FirstPageAddr, func(_ *page.Page, v *page.View) error {
		require.Len(t, v.Entries, 1)
		assert.Equal(t, []byte("k"), v.Entries[0].Data)
		return nil
	})
	require.NoError(t, err)
}

func TestLargeValueSpillsToOverflow(t *testing.T) {
	t.Parallel()

	db, opts := createDB(t)

	// 20MiB exceeds the 24-bit inline limit; the leaf must keep an
	// overflow reference and the spill reservation rounds header+value
	// up to the allocation unit.
	value := bytes.Repeat([]byte{0x5A}, 20<<20)
	require.NoError(t, db.WriteLeaf(page.FirstPageAddr, page.InvalidAddr, page.InvalidAddr, []KV{
		{Key: []byte("big"), Value: value},
	}))

	err := db.View(page.FirstPageAddr, func(_ *page.Page, v *page.View) error {
		require.Len(t, v.Entries, 1)
		e := v.Entries[0]
		assert.Equal(t, page.ItemDataOvfl, e.DataItem.Type)
		assert.NotZero(t, e.Flags&page.EntryDataOvfl)

		ref, err := page.ParseOvfl(e.DataItem)
		require.NoError(t, err)
		assert.Equal(t, uint32(len(value)), ref.Len)
		return nil
	})
	require.NoError(t, err)

	// Resolve outside the view and compare bytes.
	var got []byte
	err = db.View(page.FirstPageAddr, func(_ *page.Page, v *page.View) error {
		var err error
		got, err = db.ResolveValue(v.Entries[0])
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, value, got)

	// The file grew by exactly the aligned overflow reservation.
	fi, err := os.Stat(filepath.Join(opts.Dir, dataFileName))
	require.NoError(t, err)
	reserved, err := page.OvflAllocSize(opts.AllocSize, uint32(len(value)))
	require.NoError(t, err)
	assert.Equal(t, int64(opts.LeafSize)+int64(reserved), fi.Size())
}

func TestSiblingWalk(t *testing.T) {
	t.Parallel()

	db, _ := createDB(t)

	// Chain: page0 <-> b <-> c.
	b, err := db.AllocateLeaf()
	require.NoError(t, err)
	c, err := db.AllocateLeaf()
	require.NoError(t, err)

	a := page.FirstPageAddr
	require.NoError(t, db.WriteLeaf(a, page.InvalidAddr, b, []KV{{Key: []byte("a"), Value: []byte("1")}}))
	require.NoError(t, db.WriteLeaf(b, a, c, []KV{{Key: []byte("b"), Value: []byte("2")}}))
	require.NoError(t, db.WriteLeaf(c, b, page.InvalidAddr, []KV{{Key: []byte("c"), Value: []byte("3")}}))

	next, ok, err := db.NextSibling(a)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b, next)

	// Forward from a visits a,b,c; walking back from c returns to a.
	var forward []page.Addr
	err = db.WalkLeaves(a, true, func(addr page.Addr, _ *page.Page, _ *page.View) (bool, error) {
		forward = append(forward, addr)
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []page.Addr{a, b, c}, forward)

	var backward []page.Addr
	err = db.WalkLeaves(c, false, func(addr page.Addr, _ *page.Page, _ *page.View) (bool, error) {
		backward = append(backward, addr)
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []page.Addr{c, b, a}, backward)

	prev, ok, err := db.PrevSibling(a)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, prev.IsValid())
}

func TestSetSiblingsPreservesItems(t *testing.T) {
	t.Parallel()

	db, _ := createDB(t)
	b, err := db.AllocateLeaf()
	require.NoError(t, err)

	a := page.FirstPageAddr
	require.NoError(t, db.WriteLeaf(a, page.InvalidAddr, page.InvalidAddr, []KV{
		{Key: []byte("k"), Value: []byte("v")},
	}))
	require.NoError(t, db.WriteLeaf(b, page.InvalidAddr, page.InvalidAddr, []KV{
		{Key: []byte("z"), Value: []byte("9")},
	}))

	require.NoError(t, db.SetSiblings(a, page.InvalidAddr, b))

	err = db.View(a, func(pg *page.Page, v *page.View) error {
		assert.Equal(t, b, pg.Hdr.Next)
		require.Len(t, v.Entries, 1)
		assert.Equal(t, []byte("k"), v.Entries[0].Data)
		assert.Equal(t, []byte("v"), v.Entries[0].DataItem.Data)
		return nil
	})
	require.NoError(t, err)
}

func TestSetSiblingsKeepsOverflowReference(t *testing.T) {
	t.Parallel()

	db, opts := createDB(t)
	b, err := db.AllocateLeaf()
	require.NoError(t, err)

	// A value larger than the leaf's free space spills on first write.
	a := page.FirstPageAddr
	value := bytes.Repeat([]byte{0x11}, int(opts.LeafSize))
	require.NoError(t, db.WriteLeaf(a, page.InvalidAddr, page.InvalidAddr, []KV{
		{Key: []byte("big"), Value: value},
	}))

	var before page.Ovfl
	err = db.View(a, func(_ *page.Page, v *page.View) error {
		require.Len(t, v.Entries, 1)
		require.NotZero(t, v.Entries[0].Flags&page.EntryDataOvfl)
		before, err = page.ParseOvfl(v.Entries[0].DataItem)
		return err
	})
	require.NoError(t, err)

	path := filepath.Join(opts.Dir, dataFileName)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	sizeBefore := fi.Size()

	// Splicing the chain rewrites only the leaf image: the value keeps
	// its overflow page instead of being re-spilled to a fresh one.
	require.NoError(t, db.SetSiblings(a, page.InvalidAddr, b))

	fi, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, sizeBefore, fi.Size())

	err = db.View(a, func(pg *page.Page, v *page.View) error {
		assert.Equal(t, b, pg.Hdr.Next)
		require.Len(t, v.Entries, 1)
		after, err := page.ParseOvfl(v.Entries[0].DataItem)
		require.NoError(t, err)
		assert.Equal(t, before, after)

		got, err := db.ResolveValue(v.Entries[0])
		require.NoError(t, err)
		assert.Equal(t, value, got)
		return nil
	})
	require.NoError(t, err)
}

func TestReadOnlyRefusesWrites(t *testing.T) {
	t.Parallel()

	db, opts := createDB(t)
	require.NoError(t, db.Close())

	opts.ReadOnly = true
	ro, err := Open(opts)
	require.NoError(t, err)
	defer func() { _ = ro.Close() }()

	err = ro.WriteLeaf(page.FirstPageAddr, page.InvalidAddr, page.InvalidAddr, nil)
	require.Error(t, err)
}

func TestClosedDB(t *testing.T) {
	t.Parallel()

	db, _ := createDB(t)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close()) // idempotent

	err := db.View(page.FirstPageAddr, func(*page.Page, *page.View) error { return nil })
	require.ErrorIs(t, err, ErrDBClosed)
}
