// Package account implements the account state header (AS): the
// persistent per-account file holding usage counters, quotas, and the
// client store marker, plus its deferred-flush save discipline (spec.md
// §4.5). Wire layout grounded on
// original_source/lib/backupstore/StoreAccounts.cpp /
// BackupStoreInfo.cpp's info-file fields.
package account

import (
	"bytes"
	"io"

	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/objectid"
	"github.com/boxvault/boxvault/pkg/wire"
)

// Magic is the account-state file's 4-byte tag.
var Magic = [4]byte{'A', 'C', 'C', '_'}

const maxDeletedDirs = 1 << 20

// Info is the account state header: spec.md §4.5's "magic, account-ID,
// client store marker, last-allocated object ID, usage counters in blocks
// (current/old/deleted/directories), soft/hard block quotas, and a
// variable-length list of deleted-directory IDs".
type Info struct {
	AccountID        uint64
	ClientStoreMarker uint64
	LastObjectID     objectid.ID

	BlocksCurrent   uint64
	BlocksOld       uint64
	BlocksDeleted   uint64
	BlocksDirectories uint64

	SoftQuotaBlocks uint64
	HardQuotaBlocks uint64

	DeletedDirectories []objectid.ID
}

// New creates a fresh, zeroed Info for a brand new account.
func New(accountID uint64, softQuota, hardQuota uint64) *Info {
	return &Info{
		AccountID:       accountID,
		LastObjectID:    objectid.Root,
		SoftQuotaBlocks: softQuota,
		HardQuotaBlocks: hardQuota,
	}
}

// TotalBlocks is the account's total usage across all states.
func (i *Info) TotalBlocks() uint64 {
	return i.BlocksCurrent + i.BlocksOld + i.BlocksDeleted + i.BlocksDirectories
}

// OverSoftQuota reports whether total usage exceeds the soft quota.
func (i *Info) OverSoftQuota() bool {
	return i.SoftQuotaBlocks > 0 && i.TotalBlocks() > i.SoftQuotaBlocks
}

// OverHardQuota reports whether total usage exceeds the hard quota —
// callers must reject new writes in this state (spec.md §4.6).
func (i *Info) OverHardQuota() bool {
	return i.HardQuotaBlocks > 0 && i.TotalBlocks() > i.HardQuotaBlocks
}

// Encode serializes i to its on-disk wire form.
func (i *Info) Encode() []byte {
	var b []byte
	b = append(b, Magic[:]...)
	b = wire.AppendU64(b, i.AccountID)
	b = wire.AppendU64(b, i.ClientStoreMarker)
	b = wire.AppendU64(b, uint64(i.LastObjectID))
	b = wire.AppendU64(b, i.BlocksCurrent)
	b = wire.AppendU64(b, i.BlocksOld)
	b = wire.AppendU64(b, i.BlocksDeleted)
	b = wire.AppendU64(b, i.BlocksDirectories)
	b = wire.AppendU64(b, i.SoftQuotaBlocks)
	b = wire.AppendU64(b, i.HardQuotaBlocks)
	b = wire.AppendU32(b, uint32(len(i.DeletedDirectories)))
	for _, id := range i.DeletedDirectories {
		b = wire.AppendU64(b, uint64(id))
	}
	return b
}

// Decode parses the wire form produced by Encode.
func Decode(r io.Reader) (*Info, error) {
	const op = "account.Decode"
	rd := wire.NewReader(r, op)

	magic, err := rd.Bytes(4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, Magic[:]) {
		return nil, berr.New(berr.CodeBadMagic, op, nil)
	}

	accountID, err := rd.U64()
	if err != nil {
		return nil, err
	}
	marker, err := rd.U64()
	if err != nil {
		return nil, err
	}
	lastObj, err := rd.U64()
	if err != nil {
		return nil, err
	}
	blocksCurrent, err := rd.U64()
	if err != nil {
		return nil, err
	}
	blocksOld, err := rd.U64()
	if err != nil {
		return nil, err
	}
	blocksDeleted, err := rd.U64()
	if err != nil {
		return nil, err
	}
	blocksDirs, err := rd.U64()
	if err != nil {
		return nil, err
	}
	softQuota, err := rd.U64()
	if err != nil {
		return nil, err
	}
	hardQuota, err := rd.U64()
	if err != nil {
		return nil, err
	}

	i := &Info{
		AccountID:         accountID,
		ClientStoreMarker: marker,
		LastObjectID:      objectid.ID(lastObj),
		BlocksCurrent:     blocksCurrent,
		BlocksOld:         blocksOld,
		BlocksDeleted:     blocksDeleted,
		BlocksDirectories: blocksDirs,
		SoftQuotaBlocks:   softQuota,
		HardQuotaBlocks:   hardQuota,
	}

	count, err := rd.U32()
	if err != nil {
		return nil, err
	}
	if count > maxDeletedDirs {
		return nil, berr.New(berr.CodeTruncated, op, nil)
	}
	i.DeletedDirectories = make([]objectid.ID, count)
	for n := uint32(0); n < count; n++ {
		v, err := rd.U64()
		if err != nil {
			return nil, err
		}
		i.DeletedDirectories[n] = objectid.ID(v)
	}
	return i, nil
}
