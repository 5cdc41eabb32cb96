package wire

import (
	"io"

	"github.com/boxvault/boxvault/pkg/berr"
)

// Reader wraps an io.Reader with big-endian field readers that translate
// short reads into berr.CodeTruncated, matching spec.md §4.3's verification
// contract (structural errors, not panics, on malformed streams).
type Reader struct {
	r  io.Reader
	op string
}

func NewReader(r io.Reader, op string) *Reader {
	return &Reader{r: r, op: op}
}

func (rd *Reader) fill(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return nil, berr.New(berr.CodeTruncated, rd.op, err)
	}
	return buf, nil
}

func (rd *Reader) U64() (uint64, error) {
	b, err := rd.fill(8)
	if err != nil {
		return 0, err
	}
	return uint64(GetU64(b)), nil
}

func (rd *Reader) U32() (uint32, error) {
	b, err := rd.fill(4)
	if err != nil {
		return 0, err
	}
	return uint32(GetU32(b)), nil
}

func (rd *Reader) U16() (uint16, error) {
	b, err := rd.fill(2)
	if err != nil {
		return 0, err
	}
	return uint16(GetU16(b)), nil
}

func (rd *Reader) Bytes(n uint32) ([]byte, error) {
	return rd.fill(int(n))
}

// LenPrefixedBytes reads a u32 length prefix followed by that many bytes.
func (rd *Reader) LenPrefixedBytes(maxLen uint32) ([]byte, error) {
	n, err := rd.U32()
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, berr.New(berr.CodeTruncated, rd.op, io.ErrShortBuffer)
	}
	return rd.Bytes(n)
}
