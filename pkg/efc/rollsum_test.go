package efc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRollingChecksumMatchesFullRecompute(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeatedly and at length")
	window := 8

	r := NewRollingChecksum(data[:window])
	for pos := 0; pos+window < len(data); pos++ {
		want := NewRollingChecksum(data[pos+1 : pos+1+window]).Sum()
		r.Advance(data[pos], data[pos+window])
		require.Equal(t, want, r.Sum(), "position %d", pos+1)
	}
}

func TestRollingChecksumDetectsChange(t *testing.T) {
	a := NewRollingChecksum([]byte("abcdefgh")).Sum()
	b := NewRollingChecksum([]byte("abcdefgi")).Sum()
	require.NotEqual(t, a, b)
}
