package protocol

import (
	"net"
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

type fixtureProvider struct {
	root      string
	discs     sos.DiscSet
	blockSize int
	keys      cryptox.AccountKeys
}

func (p *fixtureProvider) Resolve(accountID uint64) (string, sos.DiscSet, int, cryptox.AccountKeys, error) {
	if accountID != 1 {
		return "", sos.DiscSet{}, 0, cryptox.AccountKeys{}, berr.New(berr.CodeObjectNotFound, "fixtureProvider.Resolve", nil)
	}
	return p.root, p.discs, p.blockSize, p.keys, nil
}

// newTestServer builds a Server backed by a freshly initialized account
// (root directory already written) and returns a connected in-process
// Client/Server pair over net.Pipe, grounded on the teacher's test style
// of exercising real I/O rather than mocking the transport.
func newTestServer(t *testing.T) (*Client, func()) {
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
	require.NoError(t, state.Save())

	rootDir := dirrecord.New(objectid.Root, objectid.Root)
	relPath, err := ns.ObjectPath("", objectid.Root, false)
	require.NoError(t, err)
	w, err := store.OpenWrite(relPath)
	require.NoError(t, err)
	_, err = w.Write(rootDir.Encode())
	require.NoError(t, err)
	require.NoError(t, w.Commit(true))

	provider := &fixtureProvider{root: root, discs: discs, blockSize: 512, keys: keys}
	srv := NewServer(provider)

	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(serverConn)
		_ = serverConn.Close()
	}()

	cleanup := func() {
		_ = clientConn.Close()
		<-done
	}
	return NewClient(clientConn), cleanup
}

func loginFixture(t *testing.T, readOnly bool) (*Client, func()) {
	t.Helper()
	c, cleanup := newTestServer(t)
	require.NoError(t, c.Version())
	_, _, err := c.Login(1, readOnly)
	require.NoError(t, err)
	return c, cleanup
}

func TestVersionThenLoginHandshake(t *testing.T) {
	c, cleanup := newTestServer(t)
	defer cleanup()

	require.NoError(t, c.Version())
	rootID, marker, err := c.Login(1, false)
	require.NoError(t, err)
	require.Equal(t, uint64(objectid.Root), rootID)
	require.Equal(t, uint64(0), marker)
	require.NoError(t, c.Finished())
}

func TestCommandBeforeLoginIsRejected(t *testing.T) {
	c, cleanup := newTestServer(t)
	defer cleanup()

	require.NoError(t, c.Version())
	_, err := c.GetBlockIndexByID(uint64(objectid.Root))
	require.Error(t, err)
	require.Equal(t, berr.CodeNotLoggedIn, berr.CodeOf(err))
}

func TestCommandBeforeVersionIsRejected(t *testing.T) {
	c, cleanup := newTestServer(t)
	defer cleanup()

	_, _, err := c.Login(1, false)
	require.Error(t, err)
	require.Equal(t, berr.CodeNotLoggedIn, berr.CodeOf(err))
}

func TestReadOnlySessionRejectsMutation(t *testing.T) {
	c, cleanup := loginFixture(t, true)
	defer cleanup()

	_, err := c.StoreFile(uint64(objectid.Root), 1000, 42, 0, []byte("file.txt"), false, []byte("not-really-encoded"))
	require.Error(t, err)
	require.Equal(t, berr.CodeReadOnlySession, berr.CodeOf(err))
}

func TestStoreFileThenGetFileRoundtrip(t *testing.T) {
	c, cleanup := loginFixture(t, false)
	defer cleanup()

	payload := (&efc.Stream{
		ContainerID: uint64(objectid.Root),
		Attributes:  []byte("attrs"),
		Chunks:      [][]byte{[]byte("chunk-one")},
		BlockIndex:  []efc.BlockIndexEntry{{RollingChecksum: 7, StrongHash: [cryptox.StrongHashSize]byte{1, 2, 3}, EncodedSize: 9}},
	}).Encode()
	newID, err := c.StoreFile(uint64(objectid.Root), 1000, 42, 0, []byte("file.txt"), false, payload)
	require.NoError(t, err)
	require.NotZero(t, newID)

	got, err := c.GetFile(uint64(objectid.Root), newID)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDeleteAndUndeleteFile(t *testing.T) {
	c, cleanup := loginFixture(t, false)
	defer cleanup()

	content := (&efc.Stream{
		ContainerID: uint64(objectid.Root),
		Attributes:  []byte("attrs"),
		Chunks:      [][]byte{[]byte("chunk-one")},
		BlockIndex:  []efc.BlockIndexEntry{{RollingChecksum: 7, StrongHash: [cryptox.StrongHashSize]byte{1, 2, 3}, EncodedSize: 9}},
	}).Encode()
	_, err := c.StoreFile(uint64(objectid.Root), 1000, 42, 0, []byte("file.txt"), false, content)
	require.NoError(t, err)

	existed, id, err := c.DeleteFile(uint64(objectid.Root), []byte("file.txt"))
	require.NoError(t, err)
	require.True(t, existed)
	require.NotZero(t, id)

	existedUndelete, err := c.UndeleteFile(uint64(objectid.Root), id)
	require.NoError(t, err)
	require.True(t, existedUndelete)
}

func TestCreateDeleteUndeleteDirectory(t *testing.T) {
	c, cleanup := loginFixture(t, false)
	defer cleanup()

	newID, alreadyExisted, err := c.CreateDirectory(uint64(objectid.Root), 1000, 1000, []byte("subdir"), []byte("attrs"))
	require.NoError(t, err)
	require.False(t, alreadyExisted)
	require.NotZero(t, newID)

	require.NoError(t, c.DeleteDirectory(newID))
	require.NoError(t, c.UndeleteDirectory(newID))
}

func TestSetClientStoreMarkerThenFinished(t *testing.T) {
	c, cleanup := loginFixture(t, false)
	defer cleanup()

	require.NoError(t, c.SetClientStoreMarker(777))
	require.NoError(t, c.Finished())
}

func TestGetBlockIndexByID(t *testing.T) {
	c, cleanup := loginFixture(t, false)
	defer cleanup()

	stream := &efc.Stream{
		ContainerID: uint64(objectid.Root),
		Attributes:  []byte("attrs"),
		Chunks:      [][]byte{[]byte("chunk-one")},
		BlockIndex: []efc.BlockIndexEntry{
			{RollingChecksum: 7, StrongHash: [cryptox.StrongHashSize]byte{1, 2, 3}, EncodedSize: 9},
		},
	}

	newID, err := c.StoreFile(uint64(objectid.Root), 1000, 42, 0, []byte("file.txt"), false, stream.Encode())
	require.NoError(t, err)

	_, err = c.GetBlockIndexByID(newID)
	require.NoError(t, err)
}

func TestFinishedClosesSessionCleanly(t *testing.T) {
	c, cleanup := newTestServer(t)
	defer cleanup()

	require.NoError(t, c.Version())
	_, _, err := c.Login(1, false)
	require.NoError(t, err)
	require.NoError(t, c.Finished())

	_, err = c.GetAccountUsage()
	require.Error(t, err)
}
