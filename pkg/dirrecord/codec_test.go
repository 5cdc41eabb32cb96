package dirrecord

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	d := New(2, 1)
	d.Attributes = []byte("attrs")
	d.AttrModTime = 12345
	d.AddEntry(&Entry{
		Name:       []byte("foo.txt"),
		ID:         3,
		ModTime:    100,
		SizeBlocks: 4,
		Flags:      FlagFile,
		AttrHash:   99,
		Attributes: []byte("fileattrs"),
	})
	d.AddEntry(&Entry{
		Name:       []byte("sub"),
		ID:         4,
		ModTime:    200,
		SizeBlocks: 1,
		Flags:      FlagDir,
	})

	encoded := d.Encode()
	got, err := Decode(bytes.NewReader(encoded))
	require.NoError(t, err)

	require.Equal(t, d.ObjectID, got.ObjectID)
	require.Equal(t, d.ContainerID, got.ContainerID)
	require.Equal(t, d.Attributes, got.Attributes)
	require.Equal(t, d.AttrModTime, got.AttrModTime)
	require.Len(t, got.Entries, 2)
	require.Equal(t, d.Entries[0].Name, got.Entries[0].Name)
	require.Equal(t, d.Entries[0].ID, got.Entries[0].ID)
	require.Equal(t, d.Entries[1].Flags, got.Entries[1].Flags)
}

func TestDecodeBadMagic(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("XXXX0000")))
	require.Error(t, err)
}

func TestDecodeTruncated(t *testing.T) {
	d := New(1, 0)
	d.AddEntry(&Entry{Name: []byte("a"), ID: 2})
	encoded := d.Encode()
	_, err := Decode(bytes.NewReader(encoded[:len(encoded)-3]))
	require.Error(t, err)
}
