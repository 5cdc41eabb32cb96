package efc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boxvault/boxvault/pkg/cryptox"
)

func testKeys(t *testing.T) cryptox.AccountKeys {
	t.Helper()
	master := make([]byte, cryptox.KeySize)
	for i := range master {
		master[i] = byte(i)
	}
	keys, err := cryptox.DeriveAccountKeys(master)
	require.NoError(t, err)
	return keys
}

func TestAttributesRoundTrip(t *testing.T) {
	keys := testKeys(t)
	a := &Attributes{
		UID: 1000, GID: 1000, Mode: 0o644,
		ModTime: 1700000000, ChangeTime: 1700000001,
		Xattrs: []Xattr{
			{Name: "user.b", Value: []byte("second")},
			{Name: "user.a", Value: []byte("first")},
		},
	}

	blob, err := EncryptAttributes(keys, a)
	require.NoError(t, err)

	got, err := DecryptAttributes(keys, blob)
	require.NoError(t, err)
	require.Equal(t, a.UID, got.UID)
	require.Equal(t, a.Mode, got.Mode)
	require.Equal(t, a.ModTime, got.ModTime)
	require.Len(t, got.Xattrs, 2)
	require.Equal(t, "user.a", got.Xattrs[0].Name, "sorted by name on encode")
	require.Equal(t, "user.b", got.Xattrs[1].Name)
}

func TestAttributesSymlink(t *testing.T) {
	keys := testKeys(t)
	a := &Attributes{Mode: 0o120777, SymlinkTarget: "../elsewhere"}

	blob, err := EncryptAttributes(keys, a)
	require.NoError(t, err)
	got, err := DecryptAttributes(keys, blob)
	require.NoError(t, err)
	require.Equal(t, "../elsewhere", got.SymlinkTarget)
}

func TestDecryptAttributesBadTag(t *testing.T) {
	keys := testKeys(t)
	_, err := DecryptAttributes(keys, []byte{0xFF, 1, 2, 3})
	require.Error(t, err)
}
