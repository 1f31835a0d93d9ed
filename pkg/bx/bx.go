// Package bx holds the byte-order helpers for beet's on-disk format.
//
// Every multi-byte field beet writes to disk is little-endian. The format
// makes no provision for cross-endian portability, so the byte order is
// fixed here, once, and everything else in the repository goes through
// these helpers instead of touching encoding/binary directly.
package bx

import "encoding/binary"

var ord = binary.LittleEndian

// --- read ---

func U16(b []byte) uint16 { return ord.Uint16(b) }
func U32(b []byte) uint32 { return ord.Uint32(b) }
func U64(b []byte) uint64 { return ord.Uint64(b) }

// --- write ---

func PutU16(b []byte, v uint16) { ord.PutUint16(b, v) }
func PutU32(b []byte, v uint32) { ord.PutUint32(b, v) }
func PutU64(b []byte, v uint64) { ord.PutUint64(b, v) }

// --- offset forms ---

func U16At(b []byte, off int) uint16 { return U16(b[off:]) }
func U32At(b []byte, off int) uint32 { return U32(b[off:]) }
func U64At(b []byte, off int) uint64 { return U64(b[off:]) }

func PutU16At(b []byte, off int, v uint16) { PutU16(b[off:], v) }
func PutU32At(b []byte, off int, v uint32) { PutU32(b[off:], v) }
func PutU64At(b []byte, off int, v uint64) { PutU64(b[off:], v) }
