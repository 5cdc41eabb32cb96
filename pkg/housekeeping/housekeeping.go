// Package housekeeping implements the background reclaim loop spec.md §3
// and §5 name as the only thing allowed to destroy an object: a
// ticker-driven sweep that, per account, takes the write lock (cooperating
// with any live session via the same "please release account X" side
// channel spec.md §5 describes), walks the directory tree from the root,
// and physically removes entries flagged deleted or superseded once their
// modification time falls outside the account's retention window.
//
// Grounded on the teacher's pkg/reconciler/reconciler.go ticker-and-mutex
// shape (Start/Stop wrapping a goroutine that selects between a ticker and
// a stop channel, one method per cycle) and pkg/checker's directory-walk
// and OpenWrite/Commit conventions for rewriting a pruned directory.
package housekeeping

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/boxvault/boxvault/pkg/account"
	"github.com/boxvault/boxvault/pkg/blog"
	"github.com/boxvault/boxvault/pkg/cryptox"
	"github.com/boxvault/boxvault/pkg/dirrecord"
	"github.com/boxvault/boxvault/pkg/metrics"
	"github.com/boxvault/boxvault/pkg/objectid"
	"github.com/boxvault/boxvault/pkg/ons"
	"github.com/boxvault/boxvault/pkg/session"
	"github.com/boxvault/boxvault/pkg/sos"
)

// AccountSource enumerates accounts and resolves each one to its store
// paths and keys — the same shape pkg/protocol.AccountProvider needs,
// shared via pkg/registry.Resolver so both packages are wired to one
// account-to-paths mapping.
type AccountSource interface {
	ListAccountIDs() ([]uint64, error)
	Resolve(accountID uint64) (root string, discs sos.DiscSet, blockSize int, keys cryptox.AccountKeys, err error)
}

// ReleaseRequester forwards a "please release account X" request to
// whatever live session currently holds that account's lock.
// pkg/protocol.Server implements this.
type ReleaseRequester interface {
	RequestRelease(accountID uint64)
}

// Stats summarizes one account's housekeeping pass.
type Stats struct {
	EntriesPurged   int
	BlocksReclaimed uint64
}

// Housekeeper runs the periodic reclaim sweep across every account
// AccountSource knows about.
type Housekeeper struct {
	accounts        AccountSource
	releaser        ReleaseRequester
	interval        time.Duration
	retentionWindow time.Duration
	maxWaitForLock  time.Duration
	segmentBits     uint

	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// New creates a Housekeeper. segmentBits is the fan-out width to build
// each account's ons.Namespace with (0 defaults to 8, matching ons.New).
func New(accounts AccountSource, releaser ReleaseRequester, interval, retentionWindow, maxWaitForLock time.Duration, segmentBits uint) *Housekeeper {
	return &Housekeeper{
		accounts:        accounts,
		releaser:        releaser,
		interval:        interval,
		retentionWindow: retentionWindow,
		maxWaitForLock:  maxWaitForLock,
		segmentBits:     segmentBits,
		logger:          blog.WithComponent("housekeeping"),
	}
}

// Start begins the background sweep loop.
func (h *Housekeeper) Start() {
	h.mu.Lock()
	if h.stopCh != nil {
		h.mu.Unlock()
		return
	}
	h.stopCh = make(chan struct{})
	h.mu.Unlock()

	go h.run()
}

// Stop ends the background sweep loop. It does not wait for an in-flight
// cycle to finish.
func (h *Housekeeper) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopCh == nil {
		return
	}
	close(h.stopCh)
	h.stopCh = nil
}

func (h *Housekeeper) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.sweep()
	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stopCh:
			return
		}
	}
}

func (h *Housekeeper) sweep() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.HousekeepingDuration)
		metrics.HousekeepingCyclesTotal.Inc()
	}()

	ids, err := h.accounts.ListAccountIDs()
	if err != nil {
		h.logger.Warn().Err(err).Msg("housekeeping: could not list accounts")
		return
	}
	for _, id := range ids {
		if err := h.runAccount(id); err != nil {
			h.logger.Warn().Uint64("account_id", id).Err(err).Msg("housekeeping: account pass failed")
		}
	}
}

func (h *Housekeeper) runAccount(accountID uint64) error {
	root, discs, blockSize, _, err := h.accounts.Resolve(accountID)
	if err != nil {
		return err
	}

	releaseReq := make(chan struct{}, 1)
	if h.releaser != nil {
		go func() {
			if _, ok := <-releaseReq; ok {
				h.releaser.RequestRelease(accountID)
				metrics.HousekeepingReleaseWaitsTotal.Inc()
			}
		}()
	}

	lock, err := session.Acquire(ons.WriteLockPath(root), releaseReq, h.maxWaitForLock)
	close(releaseReq)
	if err != nil {
		return err
	}
	defer lock.Release()

	state, err := account.Load(ons.InfoPath(root))
	if err != nil {
		return err
	}

	store := sos.New(discs, blockSize)
	ns := ons.New(h.segmentBits)
	cutoff := time.Now().Add(-h.retentionWindow)

	p := &purger{store: store, ns: ns, cutoff: cutoff, logger: h.logger}
	if err := p.purgeDirectory(objectid.Root); err != nil {
		return err
	}

	if p.stats.EntriesPurged == 0 {
		return nil
	}

	metrics.HousekeepingBlocksReclaimed.Add(float64(p.stats.BlocksReclaimed))
	return state.Mutate(true, func(i *account.Info) {
		reclaimCounters(i, p.stats)
	})
}

// reclaimCounters subtracts what purging found from the account's
// BlocksDeleted counter, and any remainder beyond it from BlocksOld;
// BlocksDirectories is left unchanged. purgeDirectory only ever
// removes entries that were already flagged deleted or old-version, so it
// never touches BlocksCurrent.
func reclaimCounters(i *account.Info, stats Stats) {
	if stats.BlocksReclaimed > i.BlocksDeleted {
		i.BlocksOld -= stats.BlocksReclaimed - i.BlocksDeleted
		i.BlocksDeleted = 0
	} else {
		i.BlocksDeleted -= stats.BlocksReclaimed
	}
}

// purger walks one account's directory tree and destroys entries that are
// both non-current (old version or deleted) and older than cutoff.
type purger struct {
	store  *sos.Store
	ns     *ons.Namespace
	cutoff time.Time
	logger zerolog.Logger
	stats  Stats
}

func (p *purger) purgeDirectory(id objectid.ID) error {
	dir, err := p.loadDirectory(id)
	if err != nil {
		return err
	}

	changed := false
	keep := make([]*dirrecord.Entry, 0, len(dir.Entries))
	for _, e := range dir.Entries {
		purge := e.Flags.Has(dirrecord.FlagDeleted) || e.Flags.Has(dirrecord.FlagOldVersion)
		purge = purge && time.Unix(int64(e.ModTime), 0).Before(p.cutoff)

		if e.Flags.Has(dirrecord.FlagDir) {
			if purge {
				// Reclaim everything beneath this subdirectory before
				// destroying the directory object itself.
				if err := p.purgeSubtreeFully(e.ID); err != nil {
					return err
				}
				if err := p.removeObject(e.ID); err != nil {
					return err
				}
				p.stats.EntriesPurged++
				p.stats.BlocksReclaimed += e.SizeBlocks
				changed = true
				continue
			}
			if err := p.purgeDirectory(e.ID); err != nil {
				return err
			}
			keep = append(keep, e)
			continue
		}

		if purge {
			if err := p.removeObject(e.ID); err != nil {
				return err
			}
			p.stats.EntriesPurged++
			p.stats.BlocksReclaimed += e.SizeBlocks
			changed = true
			continue
		}
		keep = append(keep, e)
	}

	if !changed {
		return nil
	}
	dir.Entries = keep
	return p.saveDirectory(dir)
}

// purgeSubtreeFully destroys every object under a directory that is
// itself being destroyed, recursing without the cutoff check — once the
// parent directory is gone nothing beneath it is reachable, so it is
// reclaimed unconditionally.
func (p *purger) purgeSubtreeFully(id objectid.ID) error {
	dir, err := p.loadDirectory(id)
	if err != nil {
		return err
	}

	for _, e := range dir.Entries {
		if e.Flags.Has(dirrecord.FlagDir) {
			if err := p.purgeSubtreeFully(e.ID); err != nil {
				return err
			}
		}
		if err := p.removeObject(e.ID); err != nil {
			return err
		}
		p.stats.EntriesPurged++
		p.stats.BlocksReclaimed += e.SizeBlocks
	}
	return nil
}

func (p *purger) loadDirectory(id objectid.ID) (*dirrecord.Directory, error) {
	relPath, err := p.ns.ObjectPath("", id, false)
	if err != nil {
		return nil, err
	}
	r, err := p.store.OpenRead(relPath)
	if err != nil {
		return nil, err
	}
	return dirrecord.Decode(r)
}

func (p *purger) removeObject(id objectid.ID) error {
	relPath, err := p.ns.ObjectPath("", id, false)
	if err != nil {
		return err
	}
	return p.store.Remove(relPath)
}

func (p *purger) saveDirectory(d *dirrecord.Directory) error {
	relPath, err := p.ns.ObjectPath("", d.ObjectID, false)
	if err != nil {
		return err
	}
	w, err := p.store.OpenWrite(relPath)
	if err != nil {
		return err
	}
	if _, err := w.Write(d.Encode()); err != nil {
		_ = w.Abandon()
		return err
	}
	return w.Commit(true)
}
