// Package efc implements the encoded file codec (EFC): the client-side
// transform between a plaintext file and its encrypted, chunked, on-disk
// stream representation (spec.md §4.3). It covers chunking (fixed-size and
// content-defined/rolling-checksum), per-chunk AEAD encryption, the
// trailing block index, patch encoding against a previous version, and the
// server-side combine/reverse-diff operations that never touch plaintext.
//
// Wire layout grounded on spec.md §6 and
// original_source/lib/backupstore/BackupStoreFile.cpp's stream ordering
// (magic, header, attributes, chunks, block index).
package efc

import "github.com/boxvault/boxvault/pkg/cryptox"

// Stream magics, spec.md §6.
const (
	magicFile = 0x66696c65 // "file"
	magicBidx = 0x62696478 // "bidx"
)

// backRefBit marks a block-index entry's encoded_size as a back-reference
// (spec.md §6: "high bit set ⇒ back-reference; low bits = block index").
const backRefBit = uint64(1) << 63

// BlockIndexEntry is one record of an encoded stream's trailing block
// index: spec.md §6's {rolling_checksum, strong_hash[8], encoded_size}.
type BlockIndexEntry struct {
	RollingChecksum uint32
	StrongHash      [cryptox.StrongHashSize]byte
	EncodedSize     uint64
}

// IsBackReference reports whether this entry points at a block in another
// (older) object instead of carrying an embedded chunk.
func (e BlockIndexEntry) IsBackReference() bool {
	return e.EncodedSize&backRefBit != 0
}

// Value returns the entry's payload: the chunk's encoded byte length for a
// literal entry, or the referenced block number for a back-reference.
func (e BlockIndexEntry) Value() uint64 {
	return e.EncodedSize &^ backRefBit
}

func literalEntry(rollingChecksum uint32, strongHash [cryptox.StrongHashSize]byte, encodedSize uint64) BlockIndexEntry {
	return BlockIndexEntry{RollingChecksum: rollingChecksum, StrongHash: strongHash, EncodedSize: encodedSize}
}

func backRefEntry(rollingChecksum uint32, strongHash [cryptox.StrongHashSize]byte, blockNumber uint64) BlockIndexEntry {
	return BlockIndexEntry{RollingChecksum: rollingChecksum, StrongHash: strongHash, EncodedSize: blockNumber | backRefBit}
}

// Stream is a fully parsed (but not decrypted) encoded file: the header
// fields, the encrypted attributes blob, the encrypted chunks in file
// order, and the block index. Chunks and Attributes remain ciphertext —
// only DecryptAttributes (attrs.go) and cryptox.Open on a chunk touch
// plaintext, and only the client ever calls them.
type Stream struct {
	ContainerID uint64
	OtherFileID uint64
	Attributes  []byte
	Chunks      [][]byte
	BlockIndex  []BlockIndexEntry
}

// IsPatch reports whether this stream only decodes in the presence of
// another object (spec.md §4.3: "the header's other_file_id is set to the
// previous version's object ID").
func (s *Stream) IsPatch() bool {
	return s.OtherFileID != 0
}
