package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boxvault/boxvault/pkg/berr"
)

func TestCreateGetAccount(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.CreateAccount(Account{AccountID: 1, DiscSetName: "set-a", SoftQuotaBlocks: 100, HardQuotaBlocks: 200}))

	got, err := r.GetAccount(1)
	require.NoError(t, err)
	require.Equal(t, "set-a", got.DiscSetName)
	require.Equal(t, uint64(200), got.HardQuotaBlocks)
}

func TestCreateAccountDuplicateRejected(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.CreateAccount(Account{AccountID: 1, DiscSetName: "set-a"}))
	err = r.CreateAccount(Account{AccountID: 1, DiscSetName: "set-b"})
	require.Error(t, err)
	require.Equal(t, berr.CodeNameAlreadyExistsInDirectory, berr.CodeOf(err))
}

func TestGetAccountMissing(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	_, err = r.GetAccount(99)
	require.Error(t, err)
	require.Equal(t, berr.CodeObjectNotFound, berr.CodeOf(err))
}

func TestUpdateQuota(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.CreateAccount(Account{AccountID: 1, DiscSetName: "set-a"}))
	require.NoError(t, r.UpdateQuota(1, 500, 1000))

	got, err := r.GetAccount(1)
	require.NoError(t, err)
	require.Equal(t, uint64(500), got.SoftQuotaBlocks)
	require.Equal(t, uint64(1000), got.HardQuotaBlocks)
}

func TestDeleteAccount(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.CreateAccount(Account{AccountID: 1, DiscSetName: "set-a"}))
	require.NoError(t, r.DeleteAccount(1))

	_, err = r.GetAccount(1)
	require.Error(t, err)
}

func TestListAccounts(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.CreateAccount(Account{AccountID: 1, DiscSetName: "a"}))
	require.NoError(t, r.CreateAccount(Account{AccountID: 2, DiscSetName: "b"}))

	all, err := r.ListAccounts()
	require.NoError(t, err)
	require.Len(t, all, 2)
}
