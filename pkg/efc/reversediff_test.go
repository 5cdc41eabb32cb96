package efc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReverseDiffProducesDependentPatch(t *testing.T) {
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

	reversed, completelyDifferent := ReverseDiff(o, n, 7)
	require.False(t, completelyDifferent)
	require.Equal(t, uint64(7), reversed.OtherFileID)

	var sawBackRef bool
	for _, e := range reversed.BlockIndex {
		if e.IsBackReference() {
			sawBackRef = true
		}
	}
	require.True(t, sawBackRef, "o's unchanged leading blocks should now reference n")
}

func TestReverseDiffCompletelyDifferent(t *testing.T) {
	keys := testKeys(t)
	o, err := EncodeFull(keys, 1, &Attributes{}, []byte("aaaaaaaaaaaaaaaa"), 4)
	require.NoError(t, err)
	n, err := EncodeFull(keys, 1, &Attributes{}, []byte("bbbbbbbbbbbbbbbb"), 4)
	require.NoError(t, err)

	reversed, completelyDifferent := ReverseDiff(o, n, 2)
	require.True(t, completelyDifferent)
	require.Same(t, o, reversed)
}
