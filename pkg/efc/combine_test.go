package efc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCombineReconstructsStandaloneObject(t *testing.T) {
	keys := testKeys(t)
	opt := PatchOptions{WindowSize: 256, MaxLiteral: 512}

	original := repeatingData(4096)
	o, err := EncodeFull(keys, 1, &Attributes{}, original, opt.WindowSize)
	require.NoError(t, err)

	modified := append([]byte(nil), original...)
	for i := 2048; i < 4096; i++ {
		modified[i] = byte(255 - modified[i])
	}
	p, err := EncodeAsPatch(keys, 1, 7, &Attributes{}, modified, o.BlockIndex, opt)
	require.NoError(t, err)

	n, err := Combine(o, p)
	require.NoError(t, err)
	require.False(t, n.IsPatch())
	for _, e := range n.BlockIndex {
		require.False(t, e.IsBackReference(), "combined object must be fully standalone")
	}
	require.Equal(t, len(n.BlockIndex), len(n.Chunks))

	// Decrypting every chunk and concatenating must reproduce modified.
	var plain []byte
	for _, c := range n.Chunks {
		pt, err := decryptTestChunk(keys, c)
		require.NoError(t, err)
		plain = append(plain, pt...)
	}
	require.Equal(t, modified, plain)
}

func TestCombineRejectsNonPatch(t *testing.T) {
	keys := testKeys(t)
	full, err := EncodeFull(keys, 1, &Attributes{}, []byte("hello"), 16)
	require.NoError(t, err)
	_, err = Combine(full, full)
	require.Error(t, err)
}
