package checker

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boxvault/boxvault/pkg/account"
	"github.com/boxvault/boxvault/pkg/cryptox"
	"github.com/boxvault/boxvault/pkg/dirrecord"
	"github.com/boxvault/boxvault/pkg/efc"
	"github.com/boxvault/boxvault/pkg/objectid"
	"github.com/boxvault/boxvault/pkg/ons"
	"github.com/boxvault/boxvault/pkg/sos"
)

type testFixture struct {
	store *sos.Store
	ns    *ons.Namespace
	keys  cryptox.AccountKeys
	state *account.State
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	root := t.TempDir()
	discs := sos.DiscSet{Name: "test", Paths: [3]string{root + "/d1", root + "/d2", root + "/d3"}}
	store := sos.New(discs, 512)
	ns := ons.New(8)

	master := make([]byte, cryptox.KeySize)
	for i := range master {
		master[i] = byte(i + 1)
	}
	keys, err := cryptox.DeriveAccountKeys(master)
	require.NoError(t, err)

	info := account.New(1, 0, 0)
	state := account.NewState(info, root+"/info")

	return &testFixture{store: store, ns: ns, keys: keys, state: state}
}

func (f *testFixture) saveDirectory(t *testing.T, d *dirrecord.Directory) {
	t.Helper()
	relPath, err := f.ns.ObjectPath("", d.ObjectID, false)
	require.NoError(t, err)
	w, err := f.store.OpenWrite(relPath)
	require.NoError(t, err)
	_, err = w.Write(d.Encode())
	require.NoError(t, err)
	require.NoError(t, w.Commit(true))
}

func (f *testFixture) writeFile(t *testing.T, id objectid.ID, containerID uint64, content string) {
	t.Helper()
	s, err := efc.EncodeFull(f.keys, containerID, &efc.Attributes{Mode: 0o644}, []byte(content), efc.DefaultChunkSize)
	require.NoError(t, err)
	relPath, err := f.ns.ObjectPath("", id, false)
	require.NoError(t, err)
	w, err := f.store.OpenWrite(relPath)
	require.NoError(t, err)
	_, err = w.Write(s.Encode())
	require.NoError(t, err)
	require.NoError(t, w.Commit(true))
}

func TestCheckerHealthyTreeProducesNoErrors(t *testing.T) {
	f := newFixture(t)

	root := dirrecord.New(objectid.Root, 0)
	f.writeFile(t, 2, uint64(objectid.Root), "hello")
	root.AddEntry(&dirrecord.Entry{Name: []byte("hello.txt"), ID: 2, Flags: dirrecord.FlagFile, SizeBlocks: 1})
	f.saveDirectory(t, root)

	c := New(f.store, f.ns, false)
	stats, err := c.Run(f.state)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Errors)
	require.Equal(t, 0, stats.OrphansReattached)
	require.Equal(t, 2, stats.ObjectsScanned)
}

func TestCheckerReattachesOrphanFile(t *testing.T) {
	f := newFixture(t)

	root := dirrecord.New(objectid.Root, 0)
	f.saveDirectory(t, root)
	// Object 5 exists on disk but no directory references it.
	f.writeFile(t, 5, uint64(objectid.Root), "orphaned content")

	c := New(f.store, f.ns, false)
	stats, err := c.Run(f.state)
	require.NoError(t, err)
	require.Equal(t, 1, stats.OrphansReattached)

	rootAfter, err := c.loadDirectoryRaw(objectid.Root)
	require.NoError(t, err)
	lf := rootAfter.CurrentByName([]byte("lost+found"))
	require.NotNil(t, lf)

	lfDir, err := c.loadDirectoryRaw(lf.ID)
	require.NoError(t, err)
	require.Len(t, lfDir.Entries, 1)
	require.Equal(t, objectid.ID(5), lfDir.Entries[0].ID)
}

func TestCheckerDropsDanglingEntry(t *testing.T) {
	f := newFixture(t)

	root := dirrecord.New(objectid.Root, 0)
	root.AddEntry(&dirrecord.Entry{Name: []byte("ghost.txt"), ID: 99, Flags: dirrecord.FlagFile})
	f.saveDirectory(t, root)

	c := New(f.store, f.ns, false)
	stats, err := c.Run(f.state)
	require.NoError(t, err)
	require.Greater(t, stats.Errors, 0)

	rootAfter, err := c.loadDirectoryRaw(objectid.Root)
	require.NoError(t, err)
	require.Nil(t, rootAfter.Find(99))
}

func TestCheckerFixesWrongContainerID(t *testing.T) {
	f := newFixture(t)

	root := dirrecord.New(objectid.Root, 0)
	// Object 7's header claims container 0 (wrong); root's entry is ground truth.
	f.writeFile(t, 7, 0, "misfiled content")
	root.AddEntry(&dirrecord.Entry{Name: []byte("misfiled.txt"), ID: 7, Flags: dirrecord.FlagFile, SizeBlocks: 1})
	f.saveDirectory(t, root)

	c := New(f.store, f.ns, false)
	stats, err := c.Run(f.state)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ContainerFixups)

	relPath, err := f.ns.ObjectPath("", 7, false)
	require.NoError(t, err)
	r, err := f.store.OpenRead(relPath)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	s, err := efc.DecodeStreamBytes(data)
	require.NoError(t, err)
	require.Equal(t, uint64(objectid.Root), s.ContainerID)
}

func TestCheckerReadOnlyModeWritesNothing(t *testing.T) {
	f := newFixture(t)
	root := dirrecord.New(objectid.Root, 0)
	f.saveDirectory(t, root)
	f.writeFile(t, 5, uint64(objectid.Root), "orphaned content")

	before, err := f.ns.ObjectPath("", objectid.Root, false)
	require.NoError(t, err)
	statusBefore, err := f.store.Exists(before)
	require.NoError(t, err)

	c := New(f.store, f.ns, true)
	stats, err := c.Run(f.state)
	require.NoError(t, err)
	require.Equal(t, 1, stats.OrphansReattached)

	statusAfter, err := f.store.Exists(before)
	require.NoError(t, err)
	require.Equal(t, statusBefore.Revision, statusAfter.Revision)
}

func TestCheckerRecreatesMissingRoot(t *testing.T) {
	f := newFixture(t)

	c := New(f.store, f.ns, false)
	stats, err := c.Run(f.state)
	require.NoError(t, err)
	require.Greater(t, stats.Errors, 0)

	rootAfter, err := c.loadDirectoryRaw(objectid.Root)
	require.NoError(t, err)
	require.Empty(t, rootAfter.Entries)
}
