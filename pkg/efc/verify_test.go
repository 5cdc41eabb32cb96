package efc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyFullStream(t *testing.T) {
	keys := testKeys(t)
	s, err := EncodeFull(keys, 1, &Attributes{}, []byte("hello world, this is a test"), 8)
	require.NoError(t, err)

	res, err := Verify(bytes.NewReader(s.Encode()))
	require.NoError(t, err)
	require.True(t, res.OK)
	require.False(t, res.IsPatch)
}

func TestVerifyPatchStreamRecordsOtherObject(t *testing.T) {
	keys := testKeys(t)
	opt := PatchOptions{WindowSize: 256, MaxLiteral: 512}
	original := repeatingData(4096)
	o, err := EncodeFull(keys, 1, &Attributes{}, original, opt.WindowSize)
	require.NoError(t, err)

	p, err := EncodeAsPatch(keys, 1, 77, &Attributes{}, original, o.BlockIndex, opt)
	require.NoError(t, err)

	res, err := Verify(bytes.NewReader(p.Encode()))
	require.NoError(t, err)
	require.True(t, res.IsPatch)
	require.Equal(t, uint64(77), res.OtherObjectID)
}

func TestVerifyRejectsTruncated(t *testing.T) {
	keys := testKeys(t)
	s, err := EncodeFull(keys, 1, &Attributes{}, []byte("abcdefgh"), 4)
	require.NoError(t, err)
	encoded := s.Encode()
	_, err = Verify(bytes.NewReader(encoded[:len(encoded)-2]))
	require.Error(t, err)
}
