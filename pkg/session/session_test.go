package session

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boxvault/boxvault/pkg/account"
	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/cryptox"
	"github.com/boxvault/boxvault/pkg/dirrecord"
	"github.com/boxvault/boxvault/pkg/efc"
	"github.com/boxvault/boxvault/pkg/objectid"
	"github.com/boxvault/boxvault/pkg/ons"
	"github.com/boxvault/boxvault/pkg/sos"
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

func newTestContext(t *testing.T) *Context {
	t.Helper()
	root := t.TempDir()
	discs := sos.DiscSet{Name: "test", Paths: [3]string{root + "/d1", root + "/d2", root + "/d3"}}
	store := sos.New(discs, 512)
	ns := ons.New(8)

	info := account.New(1, 0, 0)
	info.LastObjectID = objectid.Root
	state := account.NewState(info, root+"/info")

	c, err := Open(store, ns, root, testKeys(t), state, false, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	rootDir := dirrecord.New(objectid.Root, 0)
	require.NoError(t, c.saveDirectory(rootDir))
	return c
}

func encodeTestFile(t *testing.T, c *Context, content string) []byte {
	t.Helper()
	s, err := efc.EncodeFull(c.Keys, 0, &efc.Attributes{Mode: 0o644}, []byte(content), efc.DefaultChunkSize)
	require.NoError(t, err)
	return s.Encode()
}

func TestAddFileAndLoad(t *testing.T) {
	c := newTestContext(t)
	encoded := encodeTestFile(t, c, "hello world")

	id, err := c.AddFile(objectid.Root, []byte("greeting.txt"), 100, 0xabc, 0, true, encoded)
	require.NoError(t, err)
	require.True(t, id.Valid())

	dir, err := c.loadDirectory(objectid.Root)
	require.NoError(t, err)
	entry := dir.CurrentByName([]byte("greeting.txt"))
	require.NotNil(t, entry)
	require.Equal(t, id, entry.ID)
	require.True(t, entry.Flags.Has(dirrecord.FlagFile))

	require.Greater(t, c.State.Info().BlocksCurrent, uint64(0))
}

// readObject returns the raw bytes currently stored for id, decoded into a
// Stream, bypassing the directory cache so the test sees exactly what
// AddFile committed to disk.
func readObject(t *testing.T, c *Context, id objectid.ID) *efc.Stream {
	t.Helper()
	path, err := c.objectPath(id)
	require.NoError(t, err)
	r, err := c.Store.OpenRead(path)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	s, err := efc.DecodeStreamBytes(data)
	require.NoError(t, err)
	return s
}

// decryptStream concatenates a fully-materialized (no back-references)
// stream's decrypted chunk plaintext, in order.
func decryptStream(t *testing.T, c *Context, s *efc.Stream) []byte {
	t.Helper()
	var out []byte
	for _, chunk := range s.Chunks {
		plain, err := cryptox.Open(c.Keys.ChunkKey, chunk)
		require.NoError(t, err)
		out = append(out, plain...)
	}
	return out
}

// TestAddFileCombinesPatchAndReversesDiff mirrors spec.md §8 Scenario 2
// literally: version A is a 4096-byte full file; version B is A's bytes
// plus a 4-byte "BBBB" tail, uploaded with diff_from_id=A. The server must
// end up storing B as a full 4100-byte file and rewrite A as a patch whose
// block index references B — the inverse of the upload direction.
func TestAddFileCombinesPatchAndReversesDiff(t *testing.T) {
	c := newTestContext(t)

	plainA := bytes.Repeat([]byte("A"), 4096)
	streamA, err := efc.EncodeFull(c.Keys, 0, &efc.Attributes{Mode: 0o644}, plainA, efc.DefaultChunkSize)
	require.NoError(t, err)
	idA, err := c.AddFile(objectid.Root, []byte("doc.txt"), 100, 1, 0, true, streamA.Encode())
	require.NoError(t, err)

	plainB := append(append([]byte(nil), plainA...), []byte("BBBB")...)
	patchB, err := efc.EncodeAsPatch(c.Keys, 0, uint64(idA), &efc.Attributes{Mode: 0o644}, plainB, streamA.BlockIndex, efc.DefaultPatchOptions())
	require.NoError(t, err)

	idB, err := c.AddFile(objectid.Root, []byte("doc.txt"), 200, 2, idA, true, patchB.Encode())
	require.NoError(t, err)
	require.NotEqual(t, idA, idB)

	dir, err := c.loadDirectory(objectid.Root)
	require.NoError(t, err)

	olderEntry := dir.Find(idA)
	require.NotNil(t, olderEntry)
	require.True(t, olderEntry.Flags.Has(dirrecord.FlagOldVersion))
	require.Equal(t, idB, olderEntry.DependsNewer)

	currentEntry := dir.CurrentByName([]byte("doc.txt"))
	require.NotNil(t, currentEntry)
	require.Equal(t, idB, currentEntry.ID)
	require.Equal(t, idA, currentEntry.DependsOlder)

	// B must be a standalone full file, not a patch.
	streamBStored := readObject(t, c, idB)
	require.False(t, streamBStored.IsPatch())
	require.Equal(t, plainB, decryptStream(t, c, streamBStored))

	// A must now be a patch referencing B.
	streamAStored := readObject(t, c, idA)
	require.True(t, streamAStored.IsPatch())
	require.Equal(t, uint64(idB), streamAStored.OtherFileID)

	combinedA, err := efc.Combine(streamBStored, streamAStored)
	require.NoError(t, err)
	require.Equal(t, plainA, decryptStream(t, c, combinedA))
}

func TestAddFileVersionsExistingEntry(t *testing.T) {
	c := newTestContext(t)
	first := encodeTestFile(t, c, "version one")
	id1, err := c.AddFile(objectid.Root, []byte("doc.txt"), 100, 1, 0, true, first)
	require.NoError(t, err)

	second := encodeTestFile(t, c, "version two, a fair bit longer")
	id2, err := c.AddFile(objectid.Root, []byte("doc.txt"), 200, 2, 0, true, second)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	dir, err := c.loadDirectory(objectid.Root)
	require.NoError(t, err)

	older := dir.Find(id1)
	require.NotNil(t, older)
	require.True(t, older.Flags.Has(dirrecord.FlagOldVersion))
	require.Equal(t, id2, older.DependsNewer)

	current := dir.CurrentByName([]byte("doc.txt"))
	require.NotNil(t, current)
	require.Equal(t, id2, current.ID)
	require.Equal(t, id1, current.DependsOlder)

	require.Greater(t, c.State.Info().BlocksOld, uint64(0))
}

func TestAddFileRejectsHardQuota(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.State.Mutate(true, func(i *account.Info) { i.HardQuotaBlocks = 1 }))

	encoded := encodeTestFile(t, c, "this content is long enough to need more than one 512-byte block of storage once encrypted and chunked")
	_, err := c.AddFile(objectid.Root, []byte("big.bin"), 1, 1, 0, true, encoded)
	require.Error(t, err)
	require.Equal(t, berr.CodeAddedFileExceedsStorageLimit, berr.CodeOf(err))
}

func TestAddFileRejectsOnReadOnlySession(t *testing.T) {
	c := newTestContext(t)
	c.ReadOnly = true
	encoded := encodeTestFile(t, c, "x")
	_, err := c.AddFile(objectid.Root, []byte("x.txt"), 1, 1, 0, true, encoded)
	require.Error(t, err)
	require.Equal(t, berr.CodeReadOnlySession, berr.CodeOf(err))
}

func TestDeleteAndUndeleteFile(t *testing.T) {
	c := newTestContext(t)
	encoded := encodeTestFile(t, c, "deletable content")
	id, err := c.AddFile(objectid.Root, []byte("gone.txt"), 1, 1, 0, true, encoded)
	require.NoError(t, err)

	existed, delID, err := c.DeleteFile([]byte("gone.txt"), objectid.Root)
	require.NoError(t, err)
	require.True(t, existed)
	require.Equal(t, id, delID)

	dir, err := c.loadDirectory(objectid.Root)
	require.NoError(t, err)
	require.Nil(t, dir.CurrentByName([]byte("gone.txt")))
	require.True(t, dir.Find(id).Flags.Has(dirrecord.FlagDeleted))
	require.Equal(t, uint64(0), c.State.Info().BlocksCurrent)
	require.Greater(t, c.State.Info().BlocksDeleted, uint64(0))

	existed, err = c.UndeleteFile(id, objectid.Root)
	require.NoError(t, err)
	require.True(t, existed)

	dir, err = c.loadDirectory(objectid.Root)
	require.NoError(t, err)
	require.NotNil(t, dir.CurrentByName([]byte("gone.txt")))
	require.Equal(t, uint64(0), c.State.Info().BlocksDeleted)
}

func TestDeleteFileMissingReturnsNotExisted(t *testing.T) {
	c := newTestContext(t)
	existed, _, err := c.DeleteFile([]byte("nope.txt"), objectid.Root)
	require.NoError(t, err)
	require.False(t, existed)
}

func TestAddDirectoryIsIdempotent(t *testing.T) {
	c := newTestContext(t)
	id1, existed1, err := c.AddDirectory(objectid.Root, []byte("sub"), nil, 1, 1)
	require.NoError(t, err)
	require.False(t, existed1)

	id2, existed2, err := c.AddDirectory(objectid.Root, []byte("sub"), nil, 1, 1)
	require.NoError(t, err)
	require.True(t, existed2)
	require.Equal(t, id1, id2)
}

func TestDeleteDirectoryRecursesAndAccounts(t *testing.T) {
	c := newTestContext(t)
	subID, _, err := c.AddDirectory(objectid.Root, []byte("sub"), nil, 1, 1)
	require.NoError(t, err)

	encoded := encodeTestFile(t, c, "nested file content")
	_, err = c.AddFile(subID, []byte("nested.txt"), 1, 1, 0, true, encoded)
	require.NoError(t, err)

	before := c.State.Info().BlocksCurrent
	require.Greater(t, before, uint64(0))

	require.NoError(t, c.DeleteDirectory(subID, false))
	require.Equal(t, uint64(0), c.State.Info().BlocksCurrent)
	require.Contains(t, c.State.Info().DeletedDirectories, subID)

	require.NoError(t, c.DeleteDirectory(subID, true))
	require.Equal(t, before, c.State.Info().BlocksCurrent)
	require.NotContains(t, c.State.Info().DeletedDirectories, subID)
}

func TestMoveRenamesWithinSameDirectory(t *testing.T) {
	c := newTestContext(t)
	encoded := encodeTestFile(t, c, "movable content")
	id, err := c.AddFile(objectid.Root, []byte("old-name.txt"), 1, 1, 0, true, encoded)
	require.NoError(t, err)

	require.NoError(t, c.Move(id, objectid.Root, objectid.Root, []byte("new-name.txt"), false, false))

	dir, err := c.loadDirectory(objectid.Root)
	require.NoError(t, err)
	require.Nil(t, dir.CurrentByName([]byte("old-name.txt")))
	moved := dir.CurrentByName([]byte("new-name.txt"))
	require.NotNil(t, moved)
	require.Equal(t, id, moved.ID)
}

func TestMoveAcrossDirectoriesRewritesContainerID(t *testing.T) {
	c := newTestContext(t)
	srcDir, _, err := c.AddDirectory(objectid.Root, []byte("src"), nil, 1, 1)
	require.NoError(t, err)
	dstDir, _, err := c.AddDirectory(objectid.Root, []byte("dst"), nil, 1, 1)
	require.NoError(t, err)

	childDir, _, err := c.AddDirectory(srcDir, []byte("child"), nil, 1, 1)
	require.NoError(t, err)

	require.NoError(t, c.Move(childDir, srcDir, dstDir, []byte("child"), false, false))

	movedChild, err := c.loadDirectory(childDir)
	require.NoError(t, err)
	require.Equal(t, dstDir, movedChild.ContainerID)

	dst, err := c.loadDirectory(dstDir)
	require.NoError(t, err)
	require.NotNil(t, dst.CurrentByName([]byte("child")))
}

func TestMoveRejectsNameCollision(t *testing.T) {
	c := newTestContext(t)
	a := encodeTestFile(t, c, "a content")
	b := encodeTestFile(t, c, "b content")
	_, err := c.AddFile(objectid.Root, []byte("a.txt"), 1, 1, 0, true, a)
	require.NoError(t, err)
	idB, err := c.AddFile(objectid.Root, []byte("b.txt"), 1, 1, 0, true, b)
	require.NoError(t, err)

	err = c.Move(idB, objectid.Root, objectid.Root, []byte("a.txt"), false, false)
	require.Error(t, err)
	require.Equal(t, berr.CodeNameAlreadyExistsInDirectory, berr.CodeOf(err))
}
