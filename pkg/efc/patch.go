package efc

import (
	"github.com/boxvault/boxvault/pkg/cryptox"
)

// PatchOptions bounds the content-defined patch encoder, spec.md §4.3 step
// 2 ("chunks are bounded [min, max] in size"). WindowSize is the rolling
// checksum's window width W. It is assumed equal across every previous
// block, matching the common case where the previous version was itself
// produced by EncodeFull's fixed-size chunker at the same size — the
// original's previous-version blocks can in principle vary in length, but
// nothing in the retrieved source pack specifies how a variable-width
// table is matched against a single rolling window, so a uniform window
// width is the documented simplifying assumption (see DESIGN.md).
type PatchOptions struct {
	WindowSize int
	MaxLiteral int
}

// DefaultPatchOptions mirrors DefaultChunkSize for both the match window
// and the literal-run cap.
func DefaultPatchOptions() PatchOptions {
	return PatchOptions{WindowSize: DefaultChunkSize, MaxLiteral: DefaultChunkSize}
}

// EncodeAsPatch diffs plaintext against prevIndex — the previous version's
// block index, as offered by the server per spec.md §4.3 "Encoding as a
// patch" — emitting back-reference block-index entries for matched
// regions and literal encrypted chunks everywhere else. otherFileID is the
// previous version's object ID, recorded in the header so the result only
// decodes in that object's presence.
func EncodeAsPatch(keys cryptox.AccountKeys, containerID, otherFileID uint64, attrs *Attributes, plaintext []byte, prevIndex []BlockIndexEntry, opt PatchOptions) (*Stream, error) {
	if opt.WindowSize <= 0 {
		opt = DefaultPatchOptions()
	}
	w := opt.WindowSize

	table := make(map[uint32][]int)
	for i, e := range prevIndex {
		if e.IsBackReference() {
			continue // only the newest version's literal blocks are diffable, spec.md §4.3
		}
		table[e.RollingChecksum] = append(table[e.RollingChecksum], i)
	}

	attrsBlob, err := EncryptAttributes(keys, attrs)
	if err != nil {
		return nil, err
	}
	s := &Stream{ContainerID: containerID, OtherFileID: otherFileID, Attributes: attrsBlob}

	flushLiteral := func(from, to int) error {
		for from < to {
			end := from + opt.MaxLiteral
			if end > to {
				end = to
			}
			entry, sealed, err := sealChunk(keys, plaintext[from:end])
			if err != nil {
				return err
			}
			s.Chunks = append(s.Chunks, sealed)
			s.BlockIndex = append(s.BlockIndex, entry)
			from = end
		}
		return nil
	}

	n := len(plaintext)
	literalStart := 0
	pos := 0
	var roll *RollingChecksum

	for pos+w <= n {
		if roll == nil {
			roll = NewRollingChecksum(plaintext[pos : pos+w])
		}
		matched := false
		if candidates, ok := table[roll.Sum()]; ok {
			strong, err := cryptox.StrongHash(keys.StrongHashKey, plaintext[pos:pos+w])
			if err != nil {
				return nil, err
			}
			for _, blockNum := range candidates {
				if prevIndex[blockNum].StrongHash == strong {
					if err := flushLiteral(literalStart, pos); err != nil {
						return nil, err
					}
					s.BlockIndex = append(s.BlockIndex, backRefEntry(roll.Sum(), strong, uint64(blockNum)))
					pos += w
					literalStart = pos
					roll = nil
					matched = true
					break
				}
			}
		}
		if matched {
			continue
		}
		if pos-literalStart >= opt.MaxLiteral {
			if err := flushLiteral(literalStart, pos); err != nil {
				return nil, err
			}
			literalStart = pos
		}
		if pos+w < n {
			roll.Advance(plaintext[pos], plaintext[pos+w])
		}
		pos++
	}

	if err := flushLiteral(literalStart, n); err != nil {
		return nil, err
	}
	return s, nil
}
