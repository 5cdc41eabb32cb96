package sos

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestSplitAndInterleaveRoundTrip(t *testing.T) {
	cases := []int{0, 1, 511, 512, 513, 1024, 1025, 3*1024 + 7}
	const blockSize = 512
	for _, n := range cases {
		p := payload(n)
		s1, s2 := splitStripes(p, blockSize)
		got := interleave(s1, s2, n, blockSize)
		require.Equal(t, p, got, "n=%d", n)
	}
}

func TestParityReconstructsMissingStripe1(t *testing.T) {
	const blockSize = 256
	for _, n := range []int{1, 255, 256, 257, 1000, 1001} {
		p := payload(n)
		s1, s2 := splitStripes(p, blockSize)
		parity := buildParity(s1, s2, n, blockSize)

		rebuiltS1, totalLen, err := reconstructMissing(s2, parity, blockSize, true)
		require.NoError(t, err, "n=%d", n)
		require.Equal(t, n, totalLen)
		require.True(t, bytes.Equal(s1, rebuiltS1), "n=%d: stripe1 mismatch", n)

		got := interleave(rebuiltS1, s2, totalLen, blockSize)
		require.Equal(t, p, got, "n=%d", n)
	}
}

func TestParityReconstructsMissingStripe2(t *testing.T) {
	const blockSize = 256
	for _, n := range []int{1, 255, 256, 257, 1000, 1001} {
		p := payload(n)
		s1, s2 := splitStripes(p, blockSize)
		parity := buildParity(s1, s2, n, blockSize)

		rebuiltS2, totalLen, err := reconstructMissing(s1, parity, blockSize, false)
		require.NoError(t, err, "n=%d", n)
		require.Equal(t, n, totalLen)
		require.True(t, bytes.Equal(s2, rebuiltS2), "n=%d: stripe2 mismatch", n)

		got := interleave(s1, rebuiltS2, totalLen, blockSize)
		require.Equal(t, p, got, "n=%d", n)
	}
}

func TestReconstructMissingTruncatedParity(t *testing.T) {
	_, _, err := reconstructMissing(nil, []byte{1, 2, 3}, 256, true)
	require.Error(t, err)
}
