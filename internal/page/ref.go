package page

import (
	"fmt"

	"github.com/beetdb/beet/pkg/bx"
)

// Ovfl is the decoded body of an overflow item: the length of the value
// and the address of the dedicated overflow page holding it. The caller
// fetches that page through the cache layer and reads exactly Len bytes
// from its body.
type Ovfl struct {
	Len  uint32
	Addr Addr
}

// OffPage is the decoded body of an off-page reference on an internal or
// dup-internal page. Records is the total record count of the referenced
// subtree; record counts propagate upward, so tree logic can position by
// record number without descending. Level lets the caller size the child
// page before fetching it.
type OffPage struct {
	Records uint64
	Addr    Addr
	Level   uint8
}

const (
	// OvflSize is the encoded size of Ovfl.
	OvflSize = 8

	// OffPageSize is the encoded size of OffPage: records:8, addr:4,
	// level:1, 3 reserved bytes.
	OffPageSize = 16
)

// encoded offsets within the item's trailing bytes
const (
	ovflOffLen  = 0
	ovflOffAddr = 4

	offpOffRecords = 0
	offpOffAddr    = 8
	offpOffLevel   = 12
	offpOffUnused  = 13 // 3 bytes, always zero
)

// EncodeOvfl returns the trailing bytes of an overflow item.
func EncodeOvfl(o Ovfl) []byte {
	b := make([]byte, OvflSize)
	bx.PutU32At(b, ovflOffLen, o.Len)
	bx.PutU32At(b, ovflOffAddr, uint32(o.Addr))
	return b
}

// ParseOvfl decodes the overflow payload of a key, data or duplicate
// overflow item. Resolving the invalid-address sentinel is a programming
// error and fails loudly rather than letting a caller read garbage.
func ParseOvfl(it Item) (Ovfl, error) {
	switch it.Type {
	case ItemKeyOvfl, ItemDataOvfl, ItemDupOvfl:
	default:
		return Ovfl{}, fmt.Errorf("%w: %d is not an overflow item", ErrBadItemType, it.Type)
	}
	if len(it.Data) != OvflSize {
		return Ovfl{}, fmt.Errorf("%w: overflow payload is %d bytes, want %d",
			ErrShortBuffer, len(it.Data), OvflSize)
	}
	o := Ovfl{
		Len:  bx.U32At(it.Data, ovflOffLen),
		Addr: Addr(bx.U32At(it.Data, ovflOffAddr)),
	}
	if !o.Addr.IsValid() {
		return Ovfl{}, fmt.Errorf("%w: overflow item at offset %d", ErrInvalidAddr, it.Off)
	}
	return o, nil
}

// EncodeOffPage returns the trailing bytes of an off-page reference item.
func EncodeOffPage(o OffPage) []byte {
	b := make([]byte, OffPageSize)
	bx.PutU64At(b, offpOffRecords, o.Records)
	bx.PutU32At(b, offpOffAddr, uint32(o.Addr))
	b[offpOffLevel] = o.Level
	return b
}

// ParseOffPage decodes the payload of an off-page reference item.
func ParseOffPage(it Item) (OffPage, error) {
	if it.Type != ItemOffPage {
		return OffPage{}, fmt.Errorf("%w: %d is not an off-page reference", ErrBadItemType, it.Type)
	}
	if len(it.Data) != OffPageSize {
		return OffPage{}, fmt.Errorf("%w: off-page payload is %d bytes, want %d",
			ErrShortBuffer, len(it.Data), OffPageSize)
	}
	o := OffPage{
		Records: bx.U64At(it.Data, offpOffRecords),
		Addr:    Addr(bx.U32At(it.Data, offpOffAddr)),
		Level:   it.Data[offpOffLevel],
	}
	if !o.Addr.IsValid() {
		return OffPage{}, fmt.Errorf("%w: off-page item at offset %d", ErrInvalidAddr, it.Off)
	}
	return o, nil
}
