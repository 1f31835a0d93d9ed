// Package wal logs full page images ahead of the data file. Each record
// carries the page address and bytes under a CRC-framed header; replay
// rewrites the images in log order. The log position of a record becomes
// the page's recovery watermark, stamped into its header as an LSN.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/beetdb/beet/internal/page"
	"github.com/beetdb/beet/pkg/bx"
)

var (
	ErrBadMagic  = errors.New("wal: bad magic")
	ErrBadCRC    = errors.New("wal: bad crc")
	ErrBadRecord = errors.New("wal: bad record")
	ErrShortRead = errors.New("wal: short read")
	ErrClosed    = errors.New("wal: closed")
)

const (
	magicU32   uint32 = 0x4C415742 // "BWAL"
	versionU16        = 1

	recPageImage uint8 = 1

	// magic(4) ver(2) typ(1) rsv(1) totalLen(4) crc(4) addr(4) pageLen(4)
	fixedLen = 24

	// walFileID is the File half of LSNs handed out by this log. A
	// single-file log never rotates, so it is constant.
	walFileID uint32 = 1
)

// PageWriter applies a redo image. *storage.Pager satisfies it.
type PageWriter interface {
	WritePage(addr page.Addr, buf []byte) error
}

// Manager is an append-only page-image log.
type Manager struct {
	mu      sync.Mutex
	f       *os.File
	path    string
	off     uint32 // next record's byte offset
	flushed uint32
}

// Open creates or reopens the log at dir/wal.log and positions the
// append offset after the last intact record.
func Open(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "wal.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	m := &Manager{f: f, path: path}
	if err := m.scanTail(); err != nil {
		_ = f.Close()
		return nil, err
	}
	// Drop everything past the last intact record. A torn tail that was
	// merely overwritten could leave stale bytes mid-file once a shorter
	// record lands on top of it, and replay would trip over them.
	if err := f.Truncate(int64(m.off)); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(int64(m.off), io.SeekStart); err != nil {
		_ = f.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return nil
	}
	err := m.f.Close()
	m.f = nil
	return err
}

// AppendPageImage logs one page image and returns the LSN to stamp into
// the page header before the page itself goes to disk.
func (m *Manager) AppendPageImage(addr page.Addr, pageBytes []byte) (page.LSN, error) {
	if !addr.IsValid() {
		return page.LSN{}, fmt.Errorf("wal: %w", page.ErrInvalidAddr)
	}
	if len(pageBytes) == 0 || uint64(len(pageBytes)) > math.MaxUint32 {
		return page.LSN{}, ErrBadRecord
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.f == nil {
		return page.LSN{}, ErrClosed
	}

	totalLen := fixedLen + len(pageBytes)
	if uint64(m.off)+uint64(totalLen) > math.MaxUint32 {
		return page.LSN{}, fmt.Errorf("wal: log full at offset %d", m.off)
	}
	lsn := page.LSN{File: walFileID, Offset: m.off}

	buf := make([]byte, totalLen)
	bx.PutU32At(buf, 0, magicU32)
	bx.PutU16At(buf, 4, versionU16)
	buf[6] = recPageImage
	bx.PutU32At(buf, 8, uint32(totalLen))
	// crc at 12, computed over everything after it
	bx.PutU32At(buf, 16, uint32(addr))
	bx.PutU32At(buf, 20, uint32(len(pageBytes)))
	copy(buf[fixedLen:], pageBytes)
	bx.PutU32At(buf, 12, crc32.ChecksumIEEE(buf[16:]))

	if _, err := m.f.Write(buf); err != nil {
		return page.LSN{}, err
	}
	m.off += uint32(totalLen)
	return lsn, nil
}

// Flush syncs the log through the given position. A position already
// covered by an earlier flush is a no-op.
func (m *Manager) Flush(upto page.LSN) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.f == nil {
		return ErrClosed
	}
	if upto.Offset < m.flushed {
		return nil
	}
	if err := m.f.Sync(); err != nil {
		return err
	}
	m.flushed = m.off
	return nil
}

// Recover replays every intact page image through writer in log order.
// A torn record at the tail ends replay cleanly; corruption before the
// tail is an error.
func (m *Manager) Recover(writer PageWriter) error {
	m.mu.Lock()
	path := m.path
	m.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)
	for {
		rec, err := readOne(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrShortRead) {
				return nil
			}
			return err
		}
		if rec.typ != recPageImage {
			continue
		}
		if err := writer.WritePage(rec.addr, rec.page); err != nil {
			return err
		}
	}
}

type decodedRecord struct {
	typ  uint8
	addr page.Addr
	page []byte
}

func readOne(r *bufio.Reader) (*decodedRecord, error) {
	var fixed [fixedLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, err
	}
	if bx.U32(fixed[:]) != magicU32 {
		return nil, ErrBadMagic
	}
	if bx.U16At(fixed[:], 4) != versionU16 {
		return nil, ErrBadRecord
	}
	typ := fixed[6]
	totalLen := bx.U32At(fixed[:], 8)
	wantCRC := bx.U32At(fixed[:], 12)
	addr := page.Addr(bx.U32At(fixed[:], 16))
	pageLen := bx.U32At(fixed[:], 20)

	if totalLen != fixedLen+pageLen {
		return nil, ErrBadRecord
	}

	img := make([]byte, pageLen)
	if _, err := io.ReadFull(r, img); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrShortRead
		}
		return nil, err
	}

	crc := crc32.ChecksumIEEE(fixed[16:])
	crc = crc32.Update(crc, crc32.IEEETable, img)
	if crc != wantCRC {
		return nil, ErrBadCRC
	}

	return &decodedRecord{typ: typ, addr: addr, page: img}, nil
}

// scanTail walks the log to find the end of the last intact record, so
// appends resume past it and a torn tail gets overwritten.
func (m *Manager) scanTail() error {
	f, err := os.Open(m.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 1<<20)
	var off uint32
	for {
		rec, err := readOne(r)
		if err != nil {
			break
		}
		off += uint32(fixedLen + len(rec.page))
	}
	m.off = off
	m.flushed = off
	return nil
}
