package efc

import (
	"bytes"
	"io"

	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/cryptox"
	"github.com/boxvault/boxvault/pkg/wire"
)

// Encode serializes s to its on-disk wire form, spec.md §6: magic, header,
// length-prefixed encrypted attributes, chunks in file order each
// length-prefixed, block-index magic, block count, then the entries.
// Encode never touches plaintext — Chunks and Attributes are already
// ciphertext by the time a Stream reaches here.
func (s *Stream) Encode() []byte {
	var b []byte
	b = wire.AppendU32(b, magicFile)
	b = wire.AppendU64(b, s.ContainerID)
	b = wire.AppendU64(b, s.OtherFileID)
	b = wire.AppendBytes(b, s.Attributes)
	for _, c := range s.Chunks {
		b = wire.AppendBytes(b, c)
	}
	b = wire.AppendU32(b, magicBidx)
	b = wire.AppendU64(b, uint64(len(s.BlockIndex)))
	for _, e := range s.BlockIndex {
		b = wire.AppendU32(b, e.RollingChecksum)
		b = append(b, e.StrongHash[:]...)
		b = wire.AppendU64(b, e.EncodedSize)
	}
	return b
}

// EncodeBlockIndex serializes just s's trailing block index (spec.md §6's
// 'bidx' section), without the chunk payload — pkg/protocol's
// GetBlockIndexByID/GetBlockIndexByName replies send exactly this, per
// SPEC_FULL.md's block-index random-access supplement.
func (s *Stream) EncodeBlockIndex() []byte {
	var b []byte
	b = wire.AppendU32(b, magicBidx)
	b = wire.AppendU64(b, uint64(len(s.BlockIndex)))
	for _, e := range s.BlockIndex {
		b = wire.AppendU32(b, e.RollingChecksum)
		b = append(b, e.StrongHash[:]...)
		b = wire.AppendU64(b, e.EncodedSize)
	}
	return b
}

const (
	maxAttrsLen  = 1 << 20
	maxChunkLen  = 64 << 20
	maxNumBlocks = 1 << 24
)

// DecodeStream parses the wire form produced by Encode. It is purely
// structural: chunk and attribute bytes are returned as-is, still
// ciphertext. The stream has no explicit chunk count (spec.md §6's
// "repeat:" is open-ended) — each loop iteration reads a u32 and treats it
// as the bidx magic if it matches, otherwise as the next chunk's encoded
// length, exactly mirroring the encoder's framing.
func DecodeStream(r io.Reader) (*Stream, error) {
	const op = "efc.DecodeStream"
	rd := wire.NewReader(r, op)

	magic, err := rd.U32()
	if err != nil {
		return nil, err
	}
	if magic != magicFile {
		return nil, berr.New(berr.CodeBadMagic, op, nil)
	}
	containerID, err := rd.U64()
	if err != nil {
		return nil, err
	}
	otherFileID, err := rd.U64()
	if err != nil {
		return nil, err
	}
	attrs, err := rd.LenPrefixedBytes(maxAttrsLen)
	if err != nil {
		return nil, berr.New(berr.CodeAttributesBlockCorrupt, op, err)
	}

	var chunks [][]byte
	for {
		tagOrLen, err := rd.U32()
		if err != nil {
			return nil, err
		}
		if tagOrLen == magicBidx {
			break
		}
		if tagOrLen > maxChunkLen {
			return nil, berr.New(berr.CodeTruncated, op, nil)
		}
		chunk, err := rd.Bytes(tagOrLen)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}

	numBlocks, err := rd.U64()
	if err != nil {
		return nil, err
	}
	if numBlocks > maxNumBlocks {
		return nil, berr.New(berr.CodeBlockIndexMismatch, op, nil)
	}
	index := make([]BlockIndexEntry, numBlocks)
	for i := range index {
		rc, err := rd.U32()
		if err != nil {
			return nil, err
		}
		sh, err := rd.Bytes(cryptox.StrongHashSize)
		if err != nil {
			return nil, err
		}
		sz, err := rd.U64()
		if err != nil {
			return nil, err
		}
		var strong [cryptox.StrongHashSize]byte
		copy(strong[:], sh)
		index[i] = BlockIndexEntry{RollingChecksum: rc, StrongHash: strong, EncodedSize: sz}
	}

	return &Stream{
		ContainerID: containerID,
		OtherFileID: otherFileID,
		Attributes:  attrs,
		Chunks:      chunks,
		BlockIndex:  index,
	}, nil
}

// DecodeStreamBytes is a convenience wrapper over DecodeStream for
// in-memory encoded files (the common case once SOS has read a whole
// object into memory for verify/combine/reverse-diff).
func DecodeStreamBytes(data []byte) (*Stream, error) {
	return DecodeStream(bytes.NewReader(data))
}
