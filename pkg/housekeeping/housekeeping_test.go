package housekeeping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/boxvault/boxvault/pkg/account"
	"github.com/boxvault/boxvault/pkg/cryptox"
	"github.com/boxvault/boxvault/pkg/dirrecord"
	"github.com/boxvault/boxvault/pkg/objectid"
	"github.com/boxvault/boxvault/pkg/ons"
	"github.com/boxvault/boxvault/pkg/sos"
)

type fakeAccountSource struct {
	root      string
	discs     sos.DiscSet
	blockSize int
	keys      cryptox.AccountKeys
}

func (f *fakeAccountSource) ListAccountIDs() ([]uint64, error) {
	return []uint64{1}, nil
}

func (f *fakeAccountSource) Resolve(accountID uint64) (string, sos.DiscSet, int, cryptox.AccountKeys, error) {
	return f.root, f.discs, f.blockSize, f.keys, nil
}

func newTestFixture(t *testing.T) (*fakeAccountSource, *sos.Store, *ons.Namespace) {
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
	info.BlocksDeleted = 3
	state := account.NewState(info, ons.InfoPath(root))
	require.NoError(t, state.Save())

	return &fakeAccountSource{root: root, discs: discs, blockSize: 512, keys: keys}, store, ns
}

func writeObject(t *testing.T, store *sos.Store, ns *ons.Namespace, id objectid.ID, content []byte) {
	t.Helper()
	relPath, err := ns.ObjectPath("", id, false)
	require.NoError(t, err)
	w, err := store.OpenWrite(relPath)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Commit(true))
}

func TestHousekeepingPurgesStaleDeletedEntry(t *testing.T) {
	src, store, ns := newTestFixture(t)

	root := dirrecord.New(objectid.Root, objectid.Root)
	oldModTime := uint64(time.Now().Add(-48 * time.Hour).Unix())
	root.AddEntry(&dirrecord.Entry{
		Name:       []byte("gone.txt"),
		ID:         2,
		ModTime:    oldModTime,
		SizeBlocks: 3,
		Flags:      dirrecord.FlagFile | dirrecord.FlagDeleted,
	})
	root.AddEntry(&dirrecord.Entry{
		Name:       []byte("current.txt"),
		ID:         3,
		ModTime:    uint64(time.Now().Unix()),
		SizeBlocks: 1,
		Flags:      dirrecord.FlagFile,
	})
	writeObject(t, store, ns, objectid.Root, root.Encode())
	writeObject(t, store, ns, 2, []byte("file\x00deleted content"))
	writeObject(t, store, ns, 3, []byte("file\x00current content"))

	hk := New(src, nil, time.Hour, 24*time.Hour, 2*time.Second, 8)
	require.NoError(t, hk.runAccount(1))

	relPath, err := ns.ObjectPath("", 2, false)
	require.NoError(t, err)
	status, err := store.Exists(relPath)
	require.NoError(t, err)
	require.Equal(t, sos.StateNone, status.State)

	relPathCurrent, err := ns.ObjectPath("", 3, false)
	require.NoError(t, err)
	statusCurrent, err := store.Exists(relPathCurrent)
	require.NoError(t, err)
	require.NotEqual(t, sos.StateNone, statusCurrent.State)

	state, err := account.Load(ons.InfoPath(src.root))
	require.NoError(t, err)
	require.Equal(t, uint64(0), state.Info().BlocksDeleted)

	rootAfter, err := func() (*dirrecord.Directory, error) {
		r, err := store.OpenRead(relPathOf(t, ns, objectid.Root))
		if err != nil {
			return nil, err
		}
		return dirrecord.Decode(r)
	}()
	require.NoError(t, err)
	require.Nil(t, rootAfter.Find(2))
	require.NotNil(t, rootAfter.Find(3))
}

func TestHousekeepingLeavesFreshDeletedEntryAlone(t *testing.T) {
	src, store, ns := newTestFixture(t)

	root := dirrecord.New(objectid.Root, objectid.Root)
	root.AddEntry(&dirrecord.Entry{
		Name:       []byte("recent.txt"),
		ID:         2,
		ModTime:    uint64(time.Now().Unix()),
		SizeBlocks: 2,
		Flags:      dirrecord.FlagFile | dirrecord.FlagDeleted,
	})
	writeObject(t, store, ns, objectid.Root, root.Encode())
	writeObject(t, store, ns, 2, []byte("file\x00recent content"))

	hk := New(src, nil, time.Hour, 24*time.Hour, 2*time.Second, 8)
	require.NoError(t, hk.runAccount(1))

	relPath, err := ns.ObjectPath("", 2, false)
	require.NoError(t, err)
	status, err := store.Exists(relPath)
	require.NoError(t, err)
	require.NotEqual(t, sos.StateNone, status.State)
}

func relPathOf(t *testing.T, ns *ons.Namespace, id objectid.ID) string {
	t.Helper()
	p, err := ns.ObjectPath("", id, false)
	require.NoError(t, err)
	return p
}
