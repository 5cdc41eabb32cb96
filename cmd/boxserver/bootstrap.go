package main

import (
	"github.com/boxvault/boxvault/pkg/account"
	"github.com/boxvault/boxvault/pkg/dirrecord"
	"github.com/boxvault/boxvault/pkg/objectid"
	"github.com/boxvault/boxvault/pkg/ons"
	"github.com/boxvault/boxvault/pkg/sos"
)

// bootstrapAccount creates a brand-new account's on-disk store: an empty
// root directory object and an initial AS file. account.New seeds
// LastObjectID at objectid.Root, so the first real allocation during a
// session lands on objectid.Root+1.
func bootstrapAccount(accountID uint64, root string, discs sos.DiscSet, blockSize int, softQuota, hardQuota uint64) error {
	store := sos.New(discs, blockSize)
	ns := ons.New(8)

	relPath, err := ns.ObjectPath("", objectid.Root, true)
	if err != nil {
		return err
	}
	w, err := store.OpenWrite(relPath)
	if err != nil {
		return err
	}
	rootDir := dirrecord.New(objectid.Root, objectid.Root)
	if _, err := w.Write(rootDir.Encode()); err != nil {
		_ = w.Abandon()
		return err
	}
	if err := w.Commit(true); err != nil {
		return err
	}

	info := account.New(accountID, softQuota, hardQuota)
	info.BlocksDirectories = uint64(blockSizeBlocks(store, rootDir.Encode()))
	state := account.NewState(info, ons.InfoPath(root))
	return state.Save()
}

func blockSizeBlocks(store *sos.Store, data []byte) uint64 {
	n := len(data) / store.BlockSize
	if len(data)%store.BlockSize != 0 {
		n++
	}
	return uint64(n)
}
