package efc

// ReverseDiff re-encodes o relative to n (the new standalone "current"
// object that just replaced it), spec.md §4.3 "reversing (server side)":
// every o block whose strong hash also appears in n's block index becomes
// a back-reference into n, so o turns into a dependent patch and n stays
// the fast-to-read full file. Matching is by strong hash alone — both
// streams' chunks stay ciphertext throughout, consistent with spec.md's
// "the server never sees plaintext and cannot decrypt anything".
//
// If nothing in o matches n at all, the result carries no useful savings;
// the caller gets back completelyDifferent=true and should keep o as a
// standalone object with no recorded dependency, per spec.md's
// "reversedDiffIsCompletelyDifferent" flag.
func ReverseDiff(o, n *Stream, newObjectID uint64) (reversed *Stream, completelyDifferent bool) {
	byStrongHash := make(map[[8]byte]uint64, len(n.BlockIndex))
	for i, e := range n.BlockIndex {
		if !e.IsBackReference() {
			byStrongHash[e.StrongHash] = uint64(i)
		}
	}

	r := &Stream{ContainerID: o.ContainerID, Attributes: o.Attributes, OtherFileID: newObjectID}
	matchedAny := false
	oChunk := 0
	for _, e := range o.BlockIndex {
		if e.IsBackReference() {
			// o was already a patch against something else; a block it
			// doesn't itself carry cannot be compared against n, so it
			// passes through as-is (still referring to its own prior chain).
			r.BlockIndex = append(r.BlockIndex, e)
			continue
		}
		chunk := o.Chunks[oChunk]
		oChunk++
		if blockNum, ok := byStrongHash[e.StrongHash]; ok {
			r.BlockIndex = append(r.BlockIndex, backRefEntry(e.RollingChecksum, e.StrongHash, blockNum))
			matchedAny = true
			continue
		}
		r.BlockIndex = append(r.BlockIndex, e)
		r.Chunks = append(r.Chunks, chunk)
	}

	if !matchedAny {
		return o, true
	}
	return r, false
}
