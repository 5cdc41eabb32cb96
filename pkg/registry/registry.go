// Package registry is the server-side account registry: a BoltDB-backed
// lookup from account ID to disc-set name and quota overrides, so
// cmd/boxserver can serve many accounts over one listener (SPEC_FULL.md's
// "Account registry" supplement — the original keeps this split across a
// RaidFileConf disc-set mapping and an accounts.conf text file; we fold
// both into one small typed store).
//
// Bucket-per-entity JSON store adapted from the teacher's
// pkg/storage.BoltStore (one bucket, Marshal/Put on write,
// Unmarshal/ForEach on read), generalized to this module's one entity kind.
package registry

import (
	"encoding/json"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/wire"
)

var bucketAccounts = []byte("accounts")

// Account is one registry entry: which disc set serves the account, and
// its quota overrides.
type Account struct {
	AccountID       uint64
	DiscSetName     string
	SoftQuotaBlocks uint64
	HardQuotaBlocks uint64
}

// Registry is the BoltDB-backed account lookup.
type Registry struct {
	db *bolt.DB
}

// Open creates or opens the registry database under dataDir.
func Open(dataDir string) (*Registry, error) {
	const op = "registry.Open"
	dbPath := filepath.Join(dataDir, "boxvault-registry.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, berr.New(berr.CodeOutOfSpace, op, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAccounts)
		return err
	})
	if err != nil {
		db.Close()
		return nil, berr.New(berr.CodeOutOfSpace, op, err)
	}
	return &Registry{db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

func accountKey(id uint64) []byte {
	return wire.AppendU64(nil, id)
}

// CreateAccount registers a new account. It fails if the account ID is
// already present.
func (r *Registry) CreateAccount(a Account) error {
	const op = "registry.CreateAccount"
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		key := accountKey(a.AccountID)
		if b.Get(key) != nil {
			return berr.New(berr.CodeNameAlreadyExistsInDirectory, op, nil)
		}
		data, err := json.Marshal(a)
		if err != nil {
			return berr.New(berr.CodeUnknown, op, err)
		}
		return b.Put(key, data)
	})
}

// GetAccount looks up an account by ID.
func (r *Registry) GetAccount(id uint64) (Account, error) {
	const op = "registry.GetAccount"
	var a Account
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		data := b.Get(accountKey(id))
		if data == nil {
			return berr.New(berr.CodeObjectNotFound, op, nil)
		}
		return json.Unmarshal(data, &a)
	})
	return a, err
}

// UpdateQuota overwrites an existing account's quota overrides.
func (r *Registry) UpdateQuota(id uint64, softQuota, hardQuota uint64) error {
	const op = "registry.UpdateQuota"
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		key := accountKey(id)
		data := b.Get(key)
		if data == nil {
			return berr.New(berr.CodeObjectNotFound, op, nil)
		}
		var a Account
		if err := json.Unmarshal(data, &a); err != nil {
			return berr.New(berr.CodeUnknown, op, err)
		}
		a.SoftQuotaBlocks = softQuota
		a.HardQuotaBlocks = hardQuota
		updated, err := json.Marshal(a)
		if err != nil {
			return berr.New(berr.CodeUnknown, op, err)
		}
		return b.Put(key, updated)
	})
}

// DeleteAccount removes an account from the registry.
func (r *Registry) DeleteAccount(id uint64) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).Delete(accountKey(id))
	})
}

// ListAccounts returns every registered account.
func (r *Registry) ListAccounts() ([]Account, error) {
	var out []Account
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		return b.ForEach(func(_, v []byte) error {
			var a Account
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out = append(out, a)
			return nil
		})
	})
	return out, err
}
