package efc

import "github.com/boxvault/boxvault/pkg/berr"

// Combine reconstructs O∪P into a standalone object N, spec.md §4.3
// "Combining (server side)": every back-reference in P's block index is
// replaced by the literal (still-encrypted) chunk it points at in O,
// copied byte-for-byte. The server never decrypts anything to do this —
// each substituted chunk stays ciphertext end to end.
func Combine(o, p *Stream) (*Stream, error) {
	const op = "efc.Combine"
	if !p.IsPatch() {
		return nil, berr.New(berr.CodeBlockIndexMismatch, op, nil)
	}

	n := &Stream{ContainerID: p.ContainerID, Attributes: p.Attributes}
	pChunk := 0
	for _, e := range p.BlockIndex {
		if e.IsBackReference() {
			blockNum := e.Value()
			if blockNum >= uint64(len(o.Chunks)) || blockNum >= uint64(len(o.BlockIndex)) {
				return nil, berr.New(berr.CodeBlockIndexMismatch, op, nil)
			}
			n.Chunks = append(n.Chunks, o.Chunks[blockNum])
			n.BlockIndex = append(n.BlockIndex, literalEntry(
				o.BlockIndex[blockNum].RollingChecksum,
				o.BlockIndex[blockNum].StrongHash,
				uint64(len(o.Chunks[blockNum])),
			))
			continue
		}
		if pChunk >= len(p.Chunks) {
			return nil, berr.New(berr.CodeBlockIndexMismatch, op, nil)
		}
		n.Chunks = append(n.Chunks, p.Chunks[pChunk])
		n.BlockIndex = append(n.BlockIndex, literalEntry(e.RollingChecksum, e.StrongHash, e.Value()))
		pChunk++
	}
	return n, nil
}
