package page

import (
	"fmt"
	"log/slog"

	"github.com/beetdb/beet/pkg/bx"
)

const (
	// Magic identifies a beet database file.
	Magic = 120897

	MajorVersion = 1
	MinorVersion = 1
)

// Descriptor is the database-wide metadata stored once, on the page at
// FirstPageAddr, immediately after that page's header. There is no
// migration path between leaf/internal page sizes once a database has
// been created; the sizes recorded here are permanent.
type Descriptor struct {
	Major     uint16
	Minor     uint16
	LeafSize  uint32
	IntlSize  uint32
	BaseRecno uint64 // origin for implicit record numbering
	RootAddr  Addr
	FreeAddr  Addr   // free-list head; transported, not interpreted here
}

// Descriptor field offsets. The 8-byte BaseRecno sits on an 8-byte
// boundary so no compiler anywhere has a reason to insert padding; init
// verifies the documented total.
const (
	descOffMagic     = 0
	descOffMajor     = 4
	descOffMinor     = 6
	descOffLeafSize  = 8
	descOffIntlSize  = 12
	descOffBaseRecno = 16
	descOffRootAddr  = 24
	descOffFreeAddr  = 28
	descOffSpare     = 32 // 32 spare bytes, always zero
	descEnd          = 64

	// DescSize is the encoded size of Descriptor.
	DescSize = 64
)

// EncodeDescriptor writes d into the descriptor region of a first-page
// buffer (the DescSize bytes after the header). The caller re-encodes the
// page header afterwards so the checksum covers the descriptor bytes.
func EncodeDescriptor(d *Descriptor, buf []byte) error {
	if len(buf) < HeaderSize+DescSize {
		return fmt.Errorf("%w: descriptor needs %d bytes, have %d",
			ErrShortBuffer, HeaderSize+DescSize, len(buf))
	}
	b := buf[HeaderSize : HeaderSize+DescSize]
	bx.PutU32At(b, descOffMagic, Magic)
	bx.PutU16At(b, descOffMajor, d.Major)
	bx.PutU16At(b, descOffMinor, d.Minor)
	bx.PutU32At(b, descOffLeafSize, d.LeafSize)
	bx.PutU32At(b, descOffIntlSize, d.IntlSize)
	bx.PutU64At(b, descOffBaseRecno, d.BaseRecno)
	bx.PutU32At(b, descOffRootAddr, uint32(d.RootAddr))
	bx.PutU32At(b, descOffFreeAddr, uint32(d.FreeAddr))
	for i := descOffSpare; i < descEnd; i++ {
		b[i] = 0
	}
	return nil
}

// ParseDescriptor reads the descriptor from a first-page buffer and
// checks the magic number and major version; either mismatch means the
// database cannot be opened. A minor-version mismatch is compatible
// within the major version and only logged.
func ParseDescriptor(buf []byte) (Descriptor, error) {
	if len(buf) < HeaderSize+DescSize {
		return Descriptor{}, fmt.Errorf("%w: descriptor needs %d bytes, have %d",
			ErrShortBuffer, HeaderSize+DescSize, len(buf))
	}
	b := buf[HeaderSize : HeaderSize+DescSize]
	if magic := bx.U32At(b, descOffMagic); magic != Magic {
		return Descriptor{}, fmt.Errorf("%w: magic %#x", ErrIncompatibleVersion, magic)
	}
	d := Descriptor{
		Major:     bx.U16At(b, descOffMajor),
		Minor:     bx.U16At(b, descOffMinor),
		LeafSize:  bx.U32At(b, descOffLeafSize),
		IntlSize:  bx.U32At(b, descOffIntlSize),
		BaseRecno: bx.U64At(b, descOffBaseRecno),
		RootAddr:  Addr(bx.U32At(b, descOffRootAddr)),
		FreeAddr:  Addr(bx.U32At(b, descOffFreeAddr)),
	}
	if d.Major != MajorVersion {
		return Descriptor{}, fmt.Errorf("%w: major version %d, want %d",
			ErrIncompatibleVersion, d.Major, MajorVersion)
	}
	if d.Minor != MinorVersion {
		slog.Warn("page.ParseDescriptor: minor version differs",
			"stored", d.Minor,
			"supported", MinorVersion,
		)
	}
	return d, nil
}
