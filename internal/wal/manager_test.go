package wal

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/beetdb/beet/internal/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memWriter collects replayed images keyed by address.
type memWriter struct {
	pages map[page.Addr][]byte
	order []page.Addr
}

func newMemWriter() *memWriter {
	return &memWriter{pages: make(map[page.Addr][]byte)}
}

func (w *memWriter) WritePage(addr page.Addr, buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	w.pages[addr] = cp
	w.order = append(w.order, addr)
	return nil
}

func leafImage(t *testing.T, addr page.Addr, key, val string) []byte {
	t.Helper()

	b, err := page.NewBuilder(addr, page.TypeLeaf, page.LeafLevel, 512)
	require.NoError(t, err)
	require.NoError(t, b.AppendItem(page.ItemKey, []byte(key)))
	require.NoError(t, b.AppendItem(page.ItemData, []byte(val)))
	buf, err := b.Finish()
	require.NoError(t, err)
	return buf
}

func TestAppendAndRecover(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)

	img1 := leafImage(t, 1, "a", "1")
	img2 := leafImage(t, 2, "b", "2")
	img1b := leafImage(t, 1, "a", "rewritten")

	lsn1, err := m.AppendPageImage(1, img1)
	require.NoError(t, err)
	assert.Equal(t, page.LSN{File: 1, Offset: 0}, lsn1)

	lsn2, err := m.AppendPageImage(2, img2)
	require.NoError(t, err)
	assert.Equal(t, uint32(fixedLen+len(img1)), lsn2.Offset)

	_, err = m.AppendPageImage(1, img1b)
	require.NoError(t, err)
	require.NoError(t, m.Flush(lsn2))
	require.NoError(t, m.Close())

	m, err = Open(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	w := newMemWriter()
	require.NoError(t, m.Recover(w))

	// Redo is in log order, so the rewrite of page 1 wins.
	assert.Equal(t, []page.Addr{1, 2, 1}, w.order)
	assert.Equal(t, img1b, w.pages[1])
	assert.Equal(t, img2, w.pages[2])
}

func TestReopenResumesOffset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)

	img := leafImage(t, 3, "k", "v")
	_, err = m.AppendPageImage(3, img)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m, err = Open(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	lsn, err := m.AppendPageImage(4, img)
	require.NoError(t, err)
	assert.Equal(t, uint32(fixedLen+len(img)), lsn.Offset)
}

func TestTornTailIsTolerated(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)

	img := leafImage(t, 5, "k", "v")
	_, err = m.AppendPageImage(5, img)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	// Truncate into the middle of the record to fake a crash mid-write.
	path := filepath.Join(dir, "wal.log")
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, fi.Size()-20))

	m, err = Open(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	w := newMemWriter()
	require.NoError(t, m.Recover(w))
	assert.Empty(t, w.pages)

	// The torn record gets overwritten by the next append.
	lsn, err := m.AppendPageImage(5, img)
	require.NoError(t, err)
	assert.Zero(t, lsn.Offset)
}

func TestTornTailIsTruncatedOnOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)

	// One intact record, then a second one torn by a crash.
	intact := leafImage(t, 8, "k", "v")
	_, err = m.AppendPageImage(8, intact)
	require.NoError(t, err)
	big, err := page.BuildOverflowPage(9, page.LSN{}, 512, bytes.Repeat([]byte{0xCD}, 2000))
	require.NoError(t, err)
	_, err = m.AppendPageImage(9, big)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	path := filepath.Join(dir, "wal.log")
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, fi.Size()-100))

	// Reopen discards the torn bytes entirely, so a shorter record
	// written next does not leave stale tail garbage behind it.
	m, err = Open(dir)
	require.NoError(t, err)
	fi, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(fixedLen+len(intact)), fi.Size())

	short := leafImage(t, 10, "s", "t")
	_, err = m.AppendPageImage(10, short)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m, err = Open(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	w := newMemWriter()
	require.NoError(t, m.Recover(w))
	assert.Equal(t, []page.Addr{8, 10}, w.order)
	assert.Equal(t, intact, w.pages[8])
	assert.Equal(t, short, w.pages[10])
}

func TestCorruptRecordFailsRecovery(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m, err := Open(dir)
	require.NoError(t, err)

	img := leafImage(t, 6, "k", "v")
	_, err = m.AppendPageImage(6, img)
	require.NoError(t, err)
	_, err = m.AppendPageImage(7, img)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	// Flip a payload byte inside the first record.
	path := filepath.Join(dir, "wal.log")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[fixedLen+40] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	m, err = Open(dir)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	require.ErrorIs(t, m.Recover(newMemWriter()), ErrBadCRC)
}

func TestAppendValidates(t *testing.T) {
	t.Parallel()

	m, err := Open(t.TempDir())
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	_, err = m.AppendPageImage(page.InvalidAddr, []byte{1})
	require.ErrorIs(t, err, page.ErrInvalidAddr)
	_, err = m.AppendPageImage(1, nil)
	require.ErrorIs(t, err, ErrBadRecord)
}
