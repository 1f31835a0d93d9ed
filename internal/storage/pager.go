// Package storage is beet's file layer: it reads and writes pages at
// allocation-unit granularity, extends the file for new allocations, and
// holds the advisory lock that keeps two processes from writing the same
// database. Page sizes here are always byte counts; only the page package
// deals in allocation addresses, so every call crosses through its
// address translation.
package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/beetdb/beet/internal/page"
)

var (
	ErrReadOnly    = errors.New("storage: database opened read-only")
	ErrBadSize     = errors.New("storage: size is not an allocation-unit multiple")
	ErrLocked      = errors.New("storage: database file is locked by another process")
	ErrPagerClosed = errors.New("storage: pager is closed")
)

// Pager owns the backing file. All sizes passed in must be multiples of
// the allocation unit fixed at open time.
type Pager struct {
	mu        sync.Mutex
	file      *os.File
	path      string
	allocSize uint32
	fileSize  int64
	readOnly  bool
	closed    bool
}

// Open opens or creates the database file and takes the advisory lock:
// exclusive for writers, shared for readers.
func Open(path string, allocSize uint32, readOnly bool) (*Pager, error) {
	if allocSize < page.MinAllocSize || allocSize%page.MinAllocSize != 0 {
		return nil, fmt.Errorf("%w: allocation unit %d", ErrBadSize, allocSize)
	}

	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := lockFile(f, !readOnly); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}

	slog.Debug("storage.Open",
		"path", path,
		"allocSize", allocSize,
		"fileSize", info.Size(),
		"readOnly", readOnly,
	)
	return &Pager{
		file:      f,
		path:      path,
		allocSize: allocSize,
		fileSize:  info.Size(),
		readOnly:  readOnly,
	}, nil
}

// AllocSize returns the allocation unit the file was opened with.
func (p *Pager) AllocSize() uint32 { return p.allocSize }

// Size returns the current file size in bytes.
func (p *Pager) Size() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fileSize
}

// ReadPage reads exactly size bytes at the given allocation address. The
// caller knows the size from the page's tree level (or from an overflow
// reference); a truncated read surfaces as a short-buffer error.
func (p *Pager) ReadPage(addr page.Addr, size uint32) ([]byte, error) {
	if !addr.IsValid() {
		return nil, fmt.Errorf("storage: read: %w", page.ErrInvalidAddr)
	}
	if size == 0 || size%p.allocSize != 0 {
		return nil, fmt.Errorf("%w: read of %d bytes", ErrBadSize, size)
	}
	off, err := page.OffsetOf(p.allocSize, addr)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPagerClosed
	}

	buf := make([]byte, size)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: page %d, want %d bytes", page.ErrShortBuffer, addr, size)
		}
		return nil, fmt.Errorf("storage: read page %d: %w", addr, err)
	}
	return buf, nil
}

// WritePage writes a full page image at the given allocation address.
func (p *Pager) WritePage(addr page.Addr, buf []byte) error {
	if !addr.IsValid() {
		return fmt.Errorf("storage: write: %w", page.ErrInvalidAddr)
	}
	if len(buf) == 0 || len(buf)%int(p.allocSize) != 0 {
		return fmt.Errorf("%w: write of %d bytes", ErrBadSize, len(buf))
	}
	if p.readOnly {
		return ErrReadOnly
	}
	off, err := page.OffsetOf(p.allocSize, addr)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPagerClosed
	}

	if _, err := p.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("storage: write page %d: %w", addr, err)
	}
	if end := off + int64(len(buf)); end > p.fileSize {
		p.fileSize = end
	}
	return nil
}

// Allocate reserves size bytes at the end of the file and returns their
// allocation address. Freed space is never reused here; free-list
// management belongs to a higher layer.
func (p *Pager) Allocate(size uint32) (page.Addr, error) {
	if size == 0 || size%p.allocSize != 0 {
		return page.InvalidAddr, fmt.Errorf("%w: allocation of %d bytes", ErrBadSize, size)
	}
	if p.readOnly {
		return page.InvalidAddr, ErrReadOnly
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return page.InvalidAddr, ErrPagerClosed
	}

	addr := page.AddrOf(p.allocSize, p.fileSize)
	p.fileSize += int64(size)

	slog.Debug("storage.Allocate", "addr", addr, "bytes", size)
	return addr, nil
}

// Free releases a previously allocated extent. The pager only records the
// request; linking the extent into the descriptor's free list is the
// allocation layer's job.
func (p *Pager) Free(addr page.Addr, size uint32) error {
	if !addr.IsValid() {
		return fmt.Errorf("storage: free: %w", page.ErrInvalidAddr)
	}
	slog.Debug("storage.Free", "addr", addr, "bytes", size)
	return nil
}

// Sync flushes the file to stable storage.
func (p *Pager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPagerClosed
	}
	return p.file.Sync()
}

// Close releases the advisory lock and closes the file.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := unlockFile(p.file); err != nil {
		slog.Warn("storage.Close: unlock failed", "path", p.path, "err", err)
	}
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", p.path, err)
	}
	return nil
}
