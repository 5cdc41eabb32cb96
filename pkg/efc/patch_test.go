package efc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func repeatingData(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}

func TestEncodeAsPatchFindsUnchangedRegion(t *testing.T) {
	keys := testKeys(t)
	opt := PatchOptions{WindowSize: 256, MaxLiteral: 512}

	original := repeatingData(4096)
	full, err := EncodeFull(keys, 1, &Attributes{}, original, opt.WindowSize)
	require.NoError(t, err)

	// New version: identical first half, changed second half.
	modified := append([]byte(nil), original...)
	for i := 2048; i < 4096; i++ {
		modified[i] = byte(255 - modified[i])
	}

	patch, err := EncodeAsPatch(keys, 1, 99, &Attributes{}, modified, full.BlockIndex, opt)
	require.NoError(t, err)
	require.True(t, patch.IsPatch())
	require.Equal(t, uint64(99), patch.OtherFileID)

	var sawBackRef bool
	for _, e := range patch.BlockIndex {
		if e.IsBackReference() {
			sawBackRef = true
		}
	}
	require.True(t, sawBackRef, "unchanged leading region should back-reference the previous version")
}

func TestEncodeAsPatchNoMatchIsAllLiteral(t *testing.T) {
	keys := testKeys(t)
	opt := PatchOptions{WindowSize: 256, MaxLiteral: 512}

	prevData := repeatingData(2048)
	full, err := EncodeFull(keys, 1, &Attributes{}, prevData, opt.WindowSize)
	require.NoError(t, err)

	unrelated := bytes.Repeat([]byte{0xAB}, 2048)
	patch, err := EncodeAsPatch(keys, 1, 5, &Attributes{}, unrelated, full.BlockIndex, opt)
	require.NoError(t, err)
	for _, e := range patch.BlockIndex {
		require.False(t, e.IsBackReference())
	}
}
