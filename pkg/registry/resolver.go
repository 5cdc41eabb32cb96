package registry

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/config"
	"github.com/boxvault/boxvault/pkg/cryptox"
	"github.com/boxvault/boxvault/pkg/sos"
)

// KeySource looks up an account's 32-byte master key. cmd/boxserver backs
// this with the keys loaded from config.Config.MasterKeyPath; tests can
// supply a fixed map.
type KeySource interface {
	MasterKey(accountID uint64) ([]byte, error)
}

// Resolver turns a registry lookup plus static disc-set configuration into
// everything pkg/protocol.AccountProvider and pkg/housekeeping need to open
// an account's store: a control-plane root (write lock, AS file) separate
// from the disc-striped object paths, so a single physical disc can host
// every account's objects under its own subdirectory without the account's
// control files ever being part of the striped set.
type Resolver struct {
	registry   *Registry
	discSets   map[string]config.DiscSet
	controlDir string
	blockSize  int
	keys       KeySource
}

// NewResolver builds a Resolver. controlDir is the base directory under
// which each account gets its own <controlDir>/<accountID>/ for write.lock
// and info; discSets maps a disc-set name to its three base paths, each of
// which gets a per-account subdirectory appended for striping; blockSize is
// the configured RAID striping unit every resolved store is opened with.
func NewResolver(reg *Registry, discSets []config.DiscSet, controlDir string, blockSize int, keys KeySource) *Resolver {
	m := make(map[string]config.DiscSet, len(discSets))
	for _, ds := range discSets {
		m[ds.Name] = ds
	}
	return &Resolver{registry: reg, discSets: m, controlDir: controlDir, blockSize: blockSize, keys: keys}
}

// ListAccountIDs returns every registered account ID, the enumeration
// pkg/housekeeping's background loop sweeps each cycle.
func (r *Resolver) ListAccountIDs() ([]uint64, error) {
	accounts, err := r.registry.ListAccounts()
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, len(accounts))
	for i, a := range accounts {
		ids[i] = a.AccountID
	}
	return ids, nil
}

// Resolve implements protocol.AccountProvider and is also the entry point
// pkg/housekeeping uses to iterate accounts.
func (r *Resolver) Resolve(accountID uint64) (root string, discs sos.DiscSet, blockSize int, keys cryptox.AccountKeys, err error) {
	const op = "registry.Resolver.Resolve"

	acct, err := r.registry.GetAccount(accountID)
	if err != nil {
		return "", sos.DiscSet{}, 0, cryptox.AccountKeys{}, err
	}
	base, ok := r.discSets[acct.DiscSetName]
	if !ok {
		return "", sos.DiscSet{}, 0, cryptox.AccountKeys{}, berr.New(berr.CodeObjectNotFound, op, fmt.Errorf("unknown disc set %q", acct.DiscSetName))
	}

	master, err := r.keys.MasterKey(accountID)
	if err != nil {
		return "", sos.DiscSet{}, 0, cryptox.AccountKeys{}, err
	}
	accountKeys, err := cryptox.DeriveAccountKeys(master)
	if err != nil {
		return "", sos.DiscSet{}, 0, cryptox.AccountKeys{}, berr.New(berr.CodeUnknown, op, err)
	}

	return AccountRoot(r.controlDir, accountID), ScopedDiscSet(base, accountID), r.blockSize, accountKeys, nil
}

// ScopedDiscSet appends accountID's own subdirectory to each of base's
// paths, so one physical disc set can host many accounts' objects without
// their stripes overlapping. Shared by Resolver.Resolve and cmd/boxcheck,
// which resolves an account's paths directly from a disc-set name given on
// the command line rather than through a registry lookup.
func ScopedDiscSet(base config.DiscSet, accountID uint64) sos.DiscSet {
	idStr := strconv.FormatUint(accountID, 10)
	scoped := config.DiscSet{Name: base.Name, Paths: make([]string, len(base.Paths))}
	for i, p := range base.Paths {
		scoped.Paths[i] = filepath.Join(p, idStr)
	}
	return sos.FromConfig(scoped)
}

// AccountRoot returns accountID's control-plane directory (write lock, AS
// file) under controlDir.
func AccountRoot(controlDir string, accountID uint64) string {
	return filepath.Join(controlDir, strconv.FormatUint(accountID, 10))
}
