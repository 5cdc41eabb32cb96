// Package wire encapsulates network-byte-order encoding: the U64/U32/U16
// newtypes, the Append* builders and Reader all read and write big-endian.
// The structs that other packages encode keep their integer fields as bare
// uint64/uint32/uint16 and pass them through these helpers, so a host-order
// write elsewhere is not a compile error.
package wire

import "encoding/binary"

// U64 is a 64-bit big-endian integer field.
type U64 uint64

func (v U64) Put(b []byte) { binary.BigEndian.PutUint64(b, uint64(v)) }

func GetU64(b []byte) U64 { return U64(binary.BigEndian.Uint64(b)) }

// U32 is a 32-bit big-endian integer field.
type U32 uint32

func (v U32) Put(b []byte) { binary.BigEndian.PutUint32(b, uint32(v)) }

func GetU32(b []byte) U32 { return U32(binary.BigEndian.Uint32(b)) }

// U16 is a 16-bit big-endian integer field.
type U16 uint16

func (v U16) Put(b []byte) { binary.BigEndian.PutUint16(b, uint16(v)) }

func GetU16(b []byte) U16 { return U16(binary.BigEndian.Uint16(b)) }

// AppendU64 appends the big-endian encoding of v to b.
func AppendU64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// AppendU32 appends the big-endian encoding of v to b.
func AppendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

// AppendU16 appends the big-endian encoding of v to b.
func AppendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

// AppendBytes appends a u32-length-prefixed byte slice (the "varlen" framing
// used by directory entries, attribute blocks, and protocol frames).
func AppendBytes(b []byte, data []byte) []byte {
	b = AppendU32(b, uint32(len(data)))
	return append(b, data...)
}
