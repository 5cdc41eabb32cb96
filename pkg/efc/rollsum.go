package efc

// RollingChecksum is the weak, window-sliding checksum the content-defined
// chunker and patch encoder use to find candidate block matches cheaply
// before paying for a strong hash. Grounded on
// original_source/lib/crypto/RollingChecksum.cpp's exact arithmetic: the
// corresponding header was not present in the retrieved source pack, so
// the accumulator width (uint16, matching the .cpp's own uint16_t locals)
// and the 32-bit combination below are inferred rather than confirmed
// against the original's public accessor — see DESIGN.md.
//
// a is the simple byte sum; b is a position-weighted sum, the first byte
// in the window carrying weight length and the last byte weight 1. Both
// wrap at 2^16, exactly as the original's comment notes: "everything is
// implicitly mod 2^16 -- uint16_t's will overflow nicely."
type RollingChecksum struct {
	a, b   uint16
	length uint16
}

// NewRollingChecksum computes the initial checksum over window.
func NewRollingChecksum(window []byte) *RollingChecksum {
	r := &RollingChecksum{length: uint16(len(window))}
	for i, by := range window {
		x := uint16(len(window) - i)
		r.a += uint16(by)
		r.b += x * uint16(by)
	}
	return r
}

// Advance slides the window forward by one byte: oldByte leaves the front,
// newByte enters the back. Grounded on RollForwardSeveral's single-step
// update (a += k-j; b += a; b -= Length*j), generalized here to one byte
// at a time since the chunker never needs to skip several bytes at once.
func (r *RollingChecksum) Advance(oldByte, newByte byte) {
	r.a += uint16(newByte) - uint16(oldByte)
	r.b += r.a
	r.b -= r.length * uint16(oldByte)
}

// Sum returns the 32-bit combined rolling checksum used on the wire
// (spec.md §6's block-index rolling_checksum field).
func (r *RollingChecksum) Sum() uint32 {
	return uint32(r.b)<<16 | uint32(r.a)
}
