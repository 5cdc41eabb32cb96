package sos

// blockAt returns the i-th blockSize-aligned slice of payload (the last
// block may be shorter).
func blockAt(payload []byte, blockSize, i int) []byte {
	start := i * blockSize
	if start >= len(payload) {
		return nil
	}
	end := start + blockSize
	if end > len(payload) {
		end = len(payload)
	}
	return payload[start:end]
}

// numBlocks returns ceil(totalLen/blockSize), or 0 for an empty payload.
func numBlocks(totalLen, blockSize int) int {
	if totalLen == 0 {
		return 0
	}
	return (totalLen + blockSize - 1) / blockSize
}

// splitStripes partitions payload into stripe-1 (even block indices) and
// stripe-2 (odd block indices) byte streams, per spec.md §4.1.
func splitStripes(payload []byte, blockSize int) (stripe1, stripe2 []byte) {
	n := numBlocks(len(payload), blockSize)
	for i := 0; i < n; i++ {
		b := blockAt(payload, blockSize, i)
		if i%2 == 0 {
			stripe1 = append(stripe1, b...)
		} else {
			stripe2 = append(stripe2, b...)
		}
	}
	return stripe1, stripe2
}

// trailerSize is the width of the parity file's size trailer: the original
// payload's exact total length, big-endian. Storing the full length (rather
// than a strict "modulo the block size" remainder, which the prose in
// spec.md §4.1 suggests) is a deliberate resolution of an underspecified
// corner: a bare remainder cannot distinguish "stripe-2 holds the final
// block" from "stripe-1 holds the final block and it happens to be a full
// block", both of which leave the same remainder (0) and the same trailing
// parity-block length. The full length removes the ambiguity and still
// satisfies the stated contract — "readers can reconstruct the exact length
// from parity alone" — more directly. See DESIGN.md.
const trailerSize = 8

// buildParity computes the parity stream for stripe1/stripe2 (one XOR'd
// block per stripe-1 block, zero-extending the stripe-2 half where it is
// short or absent) followed by the 8-byte length trailer.
func buildParity(stripe1, stripe2 []byte, totalLen, blockSize int) []byte {
	n1 := numBlocks(len(stripe1), blockSize)
	out := make([]byte, 0, len(stripe1)+trailerSize)
	for j := 0; j < n1; j++ {
		b0 := blockAt(stripe1, blockSize, j)
		b1 := blockAt(stripe2, blockSize, j)

		target := blockSize
		if b1 == nil {
			target = len(b0)
		}
		blk := make([]byte, target)
		copy(blk, b0)
		for k := range b1 {
			blk[k] ^= b1[k]
		}
		out = append(out, blk...)
	}

	var trailer [trailerSize]byte
	putU64(trailer[:], uint64(totalLen))
	return append(out, trailer[:]...)
}

// StripedBlockCount reports the on-disk block cost of storing payload: the
// sum of each of the three role files' own ceil(len/blockSize), matching
// spec.md §8's "RAID size accounting" property. Computed from the same
// splitStripes/buildParity payload layout Commit uses, rather than a single
// ceil(len(payload)/blockSize) over the pre-split bytes, since the parity
// file carries an extra 8-byte trailer that can itself push it over a block
// boundary the unsplit payload never crosses.
func StripedBlockCount(payload []byte, blockSize int) uint64 {
	if blockSize <= 0 {
		blockSize = 1024
	}
	stripe1, stripe2 := splitStripes(payload, blockSize)
	parity := buildParity(stripe1, stripe2, len(payload), blockSize)
	return uint64(numBlocks(len(stripe1), blockSize) + numBlocks(len(stripe2), blockSize) + numBlocks(len(parity), blockSize))
}

func putU64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// reconstructMissing recovers the missing stripe's bytes from the surviving
// stripe and the parity stream, using the trailer to recover the exact
// total length. missingIsStripe1 selects which of the two stripes is being
// rebuilt.
func reconstructMissing(survivingStripe, parity []byte, blockSize int, missingIsStripe1 bool) (rebuilt []byte, totalLen int, err error) {
	if len(parity) < trailerSize {
		return nil, 0, errTruncatedParity
	}
	parityData := parity[:len(parity)-trailerSize]
	totalLen = int(getU64(parity[len(parity)-trailerSize:]))

	n := numBlocks(totalLen, blockSize)
	n1 := (n + 1) / 2 // stripe-1 block count, always == parity block count
	n2 := n - n1      // stripe-2 block count; n2 < n1 iff n is odd

	// The missing stripe's own block count bounds the loop: when n is odd,
	// the final parity block pairs stripe-1's last block with nothing, and
	// reconstructing a phantom stripe-2 block from it would XOR stripe-1's
	// surviving block against itself.
	missingCount := n1
	if !missingIsStripe1 {
		missingCount = n2
	}

	pos := 0
	for j := 0; j < n1; j++ {
		blkLen := blockSize
		if j == n1-1 {
			// Last parity block: its width is whatever remains of the
			// parity stream, which is exactly right whether or not
			// stripe-2 has a matching final block.
			blkLen = len(parityData) - pos
		}
		if blkLen <= 0 || pos+blkLen > len(parityData) {
			return nil, 0, errTruncatedParity
		}
		pblk := parityData[pos : pos+blkLen]
		pos += blkLen

		if j >= missingCount {
			continue
		}

		sblk := blockAt(survivingStripe, blockSize, j)
		out := make([]byte, len(pblk))
		copy(out, pblk)
		for k := range sblk {
			if k >= len(out) {
				break
			}
			out[k] ^= sblk[k]
		}

		// Only the very last block the missing stripe holds can be
		// partial, and only when the *missing* stripe (not stripe-1) owns
		// the globally-final block: n odd means stripe-1 owns it, so the
		// parity block itself was already built at that exact width; n
		// even means stripe-2 owns it, but the parity block was zero-
		// padded up to blockSize when it was built, so the reconstructed
		// stripe-2 block must be truncated back down here.
		if j == missingCount-1 && !missingIsStripe1 && n%2 == 0 {
			finalLen := totalLen - (n-1)*blockSize
			if finalLen <= 0 {
				finalLen = blockSize
			}
			if finalLen < len(out) {
				out = out[:finalLen]
			}
		}

		rebuilt = append(rebuilt, out...)
	}
	return rebuilt, totalLen, nil
}

// interleave recombines stripe-1 and stripe-2 block streams back into the
// original payload order.
func interleave(stripe1, stripe2 []byte, totalLen, blockSize int) []byte {
	out := make([]byte, 0, totalLen)
	n := numBlocks(totalLen, blockSize)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out = append(out, blockAt(stripe1, blockSize, i/2)...)
		} else {
			out = append(out, blockAt(stripe2, blockSize, i/2)...)
		}
	}
	if len(out) > totalLen {
		out = out[:totalLen]
	}
	return out
}
