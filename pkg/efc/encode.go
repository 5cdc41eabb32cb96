package efc

import (
	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/cryptox"
)

// EncodeFull builds a standalone (non-patch) encoded stream for a fresh
// file, spec.md §4.3 "Encoding a fresh file": fixed-size chunking, each
// chunk AEAD-sealed under the file-data key with a fresh IV, a literal
// block-index entry per chunk recording its rolling checksum and strong
// hash of the plaintext.
func EncodeFull(keys cryptox.AccountKeys, containerID uint64, attrs *Attributes, plaintext []byte, chunkSize int) (*Stream, error) {
	const op = "efc.EncodeFull"

	attrsBlob, err := EncryptAttributes(keys, attrs)
	if err != nil {
		return nil, err
	}

	plainChunks := FixedChunks(plaintext, chunkSize)
	s := &Stream{ContainerID: containerID, Attributes: attrsBlob}
	for _, pc := range plainChunks {
		entry, sealed, err := sealChunk(keys, pc)
		if err != nil {
			return nil, berr.New(berr.CodeAttributesBlockCorrupt, op, err)
		}
		s.Chunks = append(s.Chunks, sealed)
		s.BlockIndex = append(s.BlockIndex, entry)
	}
	return s, nil
}

func sealChunk(keys cryptox.AccountKeys, plain []byte) (BlockIndexEntry, []byte, error) {
	sealed, err := cryptox.Seal(keys.ChunkKey, plain)
	if err != nil {
		return BlockIndexEntry{}, nil, err
	}
	strong, err := cryptox.StrongHash(keys.StrongHashKey, plain)
	if err != nil {
		return BlockIndexEntry{}, nil, err
	}
	rc := uint32(0)
	if len(plain) > 0 {
		rc = NewRollingChecksum(plain).Sum()
	}
	return literalEntry(rc, strong, uint64(len(sealed))), sealed, nil
}
