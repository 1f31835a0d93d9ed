package page

import "errors"

var (
	// ErrShortBuffer reports a buffer smaller than the fixed structure it
	// is supposed to hold. It signals truncated I/O and is propagated to
	// the file layer, never recovered here.
	ErrShortBuffer = errors.New("page: buffer too small for fixed structure")

	// ErrChecksum reports on-disk corruption of a page. Fatal for that
	// page; callers must surface it, never retry or repair locally.
	ErrChecksum = errors.New("page: checksum mismatch")

	// ErrIncompatibleVersion reports a magic-number or major-version
	// mismatch in the database descriptor. The database cannot be opened.
	ErrIncompatibleVersion = errors.New("page: incompatible format version")

	// ErrItemTooLarge is returned at encode time when a length would not
	// fit its field: an inline item over the 24-bit maximum, or an
	// overflow value whose page reservation exceeds the 32-bit size
	// range. Rejected before any bytes are written.
	ErrItemTooLarge = errors.New("page: length exceeds field maximum")

	// ErrKeyUnresolved reports a Lookup over an entry whose key bytes are
	// not resident: the key lives on an overflow page and the caller must
	// materialize it into the entry's view before searching.
	ErrKeyUnresolved = errors.New("page: entry key not materialized from overflow page")

	// ErrInvalidAddr reports an attempt to resolve the invalid-address
	// sentinel. This is a programming error in the caller.
	ErrInvalidAddr = errors.New("page: dereference of invalid address")

	// ErrOffsetRange reports an allocation address whose byte offset does
	// not fit the file-offset type.
	ErrOffsetRange = errors.New("page: address outside file offset range")

	ErrBadPageType = errors.New("page: unexpected page type")
	ErrBadItemType = errors.New("page: unexpected item type")
	ErrItemBounds  = errors.New("page: item extends past end of page")
	ErrPairing     = errors.New("page: item sequence violates page-type pairing")
	ErrNoSpace     = errors.New("page: not enough free space")
	ErrRecnoRange  = errors.New("page: record number out of range")
)
