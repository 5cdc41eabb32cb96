package efc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeFullDecodeRoundTrip(t *testing.T) {
	keys := testKeys(t)
	plaintext := make([]byte, 10000)
	for i := range plaintext {
		plaintext[i] = byte(i * 7)
	}

	s, err := EncodeFull(keys, 42, &Attributes{Mode: 0o644}, plaintext, 1024)
	require.NoError(t, err)
	require.False(t, s.IsPatch())
	require.Len(t, s.Chunks, 10) // 9*1024 + 784 remainder

	encoded := s.Encode()
	got, err := DecodeStreamBytes(encoded)
	require.NoError(t, err)
	require.Equal(t, uint64(42), got.ContainerID)
	require.Equal(t, uint64(0), got.OtherFileID)
	require.Equal(t, s.Chunks, got.Chunks)
	require.Equal(t, s.BlockIndex, got.BlockIndex)

	attrs, err := DecryptAttributes(keys, got.Attributes)
	require.NoError(t, err)
	require.Equal(t, uint32(0o644), attrs.Mode)
}

func TestEncodeFullEmptyFile(t *testing.T) {
	keys := testKeys(t)
	s, err := EncodeFull(keys, 1, &Attributes{}, nil, 1024)
	require.NoError(t, err)
	require.Empty(t, s.Chunks)
	require.Empty(t, s.BlockIndex)

	got, err := DecodeStreamBytes(s.Encode())
	require.NoError(t, err)
	require.Empty(t, got.Chunks)
}

func TestDecodeStreamBadMagic(t *testing.T) {
	_, err := DecodeStreamBytes([]byte("not a stream at all, much too short"))
	require.Error(t, err)
}

func TestDecodeStreamTruncated(t *testing.T) {
	keys := testKeys(t)
	s, err := EncodeFull(keys, 1, &Attributes{}, []byte("hello world"), 4)
	require.NoError(t, err)
	encoded := s.Encode()
	_, err = DecodeStreamBytes(encoded[:len(encoded)-4])
	require.Error(t, err)
}
