package efc

import (
	"io"

	"github.com/boxvault/boxvault/pkg/berr"
)

// VerifyResult is the outcome of a structural verification: the stream
// parsed correctly, and if it is a patch, OtherObjectID names the object
// the checker should confirm still exists (spec.md §4.3: "if the block
// index references an other file, record its ID out-of-band so the
// checker can confirm it still exists").
type VerifyResult struct {
	OK            bool
	IsPatch       bool
	OtherObjectID uint64
}

// Verify performs spec.md §4.3's structural-only check: magic values,
// header, attributes block, chunk framing, and block index all present
// and self-consistent. It never decrypts anything — suitable for the
// server, which holds no keys.
func Verify(r io.Reader) (VerifyResult, error) {
	const op = "efc.Verify"
	s, err := DecodeStream(r)
	if err != nil {
		return VerifyResult{}, err
	}

	literalCount := 0
	for _, e := range s.BlockIndex {
		if !e.IsBackReference() {
			literalCount++
		} else if !s.IsPatch() {
			return VerifyResult{}, berr.New(berr.CodeBlockIndexMismatch, op, nil)
		}
	}
	if literalCount != len(s.Chunks) {
		return VerifyResult{}, berr.New(berr.CodeBlockIndexMismatch, op, nil)
	}

	return VerifyResult{OK: true, IsPatch: s.IsPatch(), OtherObjectID: s.OtherFileID}, nil
}
