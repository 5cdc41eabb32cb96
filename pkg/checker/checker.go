// Package checker implements the consistency checker (CC), spec.md §4.7:
// an offline, six-phase scan that verifies every object, reconstructs the
// container-ID reference graph, reattaches orphans under a lazily-created
// lost+found directory, corrects stale bookkeeping, and rewrites the
// account's usage counters from what it actually found on disk. It expects
// to hold the account's write lock for the duration of a run — the caller
// (cmd/boxcheck) is responsible for acquiring it via pkg/session.Acquire
// before constructing a Checker.
//
// Grounded on spec.md §4.7's phase breakdown and
// original_source/lib/backupstore/BackupStoreCheck.cpp's scan-then-fixup
// shape (a phase-1 object table keyed by ID, phase 2 walking directories
// to mark "contained" objects, leftover "uncontained" objects becoming
// lost+found entries). pkg/dirrecord.Directory.CheckAndFix covers the
// per-directory structural repair (duplicate entries, multiple-current,
// dependency chains) this package calls once per directory in Phase 2.
package checker

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/boxvault/boxvault/pkg/account"
	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/blog"
	"github.com/boxvault/boxvault/pkg/dirrecord"
	"github.com/boxvault/boxvault/pkg/efc"
	"github.com/boxvault/boxvault/pkg/objectid"
	"github.com/boxvault/boxvault/pkg/ons"
	"github.com/boxvault/boxvault/pkg/sos"
)

var fileMagic = []byte("file")

// Stats summarizes one Run: how much was scanned and what was found
// wrong, for cmd/boxcheck to report and turn into an exit code.
type Stats struct {
	ObjectsScanned    int
	Errors            int
	OrphansReattached int
	ContainerFixups   int
	SizeFixups        int
}

type scanEntry struct {
	ContainerID objectid.ID
	IsDir       bool
	SizeBlocks  uint64
	Contained   bool
}

// Checker runs one consistency-check pass over a single account's store.
// It is single-use: construct a fresh Checker with New for each Run.
type Checker struct {
	Store    *sos.Store
	NS       *ons.Namespace
	ReadOnly bool

	logger zerolog.Logger

	table               map[objectid.ID]*scanEntry
	mismatchedContainer map[objectid.ID]objectid.ID
	deletedDirs         []objectid.ID
	maxID               objectid.ID

	blocksCurrent     uint64
	blocksOld         uint64
	blocksDeleted     uint64
	blocksDirectories uint64

	stats Stats
}

// New creates a Checker for one account's store. readOnly corresponds to
// spec.md §4.7's "--check" mode: every phase still runs, but nothing is
// written.
func New(store *sos.Store, ns *ons.Namespace, readOnly bool) *Checker {
	return &Checker{
		Store:               store,
		NS:                  ns,
		ReadOnly:            readOnly,
		logger:              blog.WithComponent("checker"),
		table:               make(map[objectid.ID]*scanEntry),
		mismatchedContainer: make(map[objectid.ID]objectid.ID),
	}
}

// Run executes all six phases in order and, unless ReadOnly, rewrites
// state's usage counters from what Phase 6 computed.
func (c *Checker) Run(state *account.State) (Stats, error) {
	if err := c.phase1ScanObjects(); err != nil {
		return c.stats, err
	}
	if err := c.phase2WalkDirectories(); err != nil {
		return c.stats, err
	}
	if err := c.phase3EnsureRoot(); err != nil {
		return c.stats, err
	}
	if err := c.phase4ReattachOrphans(); err != nil {
		return c.stats, err
	}
	if err := c.phase5SecondaryFixups(); err != nil {
		return c.stats, err
	}
	if !c.ReadOnly {
		if err := c.phase6RewriteAS(state); err != nil {
			return c.stats, err
		}
	}
	return c.stats, nil
}

// blocksFor reports payload's on-disk block cost across all three striped
// role files (spec.md §8 "RAID size accounting"), matching
// pkg/session.Context.blocksFor and pkg/sos.StripedBlockCount.
func (c *Checker) blocksFor(payload []byte) uint64 {
	return sos.StripedBlockCount(payload, c.Store.BlockSize)
}

func (c *Checker) allocNext() objectid.ID {
	c.maxID++
	return c.maxID
}

// --- Phase 1: scan objects -------------------------------------------------

func (c *Checker) phase1ScanObjects() error {
	return c.scanLevel(nil)
}

// scanLevel walks one fan-out level, unioning the object files and
// subdirectory segments visible across all three discs of the set (the
// same union pkg/sos.Store.ReadDirectory gives a single relative
// directory, generalized here across the whole tree), then recurses into
// each subdirectory segment.
func (c *Checker) scanLevel(level ons.Level) error {
	files := make(map[string]bool)
	dirSegs := make(map[string]bool)
	for _, discRoot := range c.Store.Discs.Paths {
		entries, err := c.NS.EnumerateLevel(level.Path(discRoot))
		if err != nil {
			return err
		}
		for _, f := range entries.ObjectFiles {
			files[f] = true
		}
		for _, d := range entries.SubDirs {
			dirSegs[d] = true
		}
	}

	for leaf := range files {
		id, err := c.NS.ObjectIDFromPath(level, leaf)
		if err != nil {
			c.stats.Errors++
			continue
		}
		c.scanObject(id)
	}

	var segs []uint64
	for hexSeg := range dirSegs {
		v, err := strconv.ParseUint(hexSeg, 16, 8)
		if err != nil {
			continue
		}
		segs = append(segs, v)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i] < segs[j] })
	for _, seg := range segs {
		next := append(append(ons.Level{}, level...), seg)
		if err := c.scanLevel(next); err != nil {
			return err
		}
	}
	return nil
}

// scanObject classifies one object by its magic, records it in the scan
// table, and tracks the highest ID seen (Phase 6 resets the AS's
// last-used-ID counter to this true maximum).
func (c *Checker) scanObject(id objectid.ID) {
	c.stats.ObjectsScanned++
	if id > c.maxID {
		c.maxID = id
	}

	relPath, err := c.NS.ObjectPath("", id, false)
	if err != nil {
		c.stats.Errors++
		return
	}
	status, err := c.Store.Exists(relPath)
	if err != nil || status.State == sos.StateNone {
		c.stats.Errors++
		return
	}
	if status.State == sos.StateWrite && !c.ReadOnly {
		if err := c.Store.FinishTransform(relPath); err != nil {
			c.logger.Warn().Err(err).Uint64("object_id", uint64(id)).Msg("checker: could not finish pending transform")
		}
	}

	r, err := c.Store.OpenRead(relPath)
	if err != nil {
		c.logger.Warn().Err(err).Uint64("object_id", uint64(id)).Msg("checker: object unreadable, quarantined by SOS")
		c.stats.Errors++
		return
	}
	data, err := io.ReadAll(r)
	if err != nil {
		c.stats.Errors++
		return
	}
	if len(data) < 4 {
		c.logger.Warn().Uint64("object_id", uint64(id)).Msg("checker: object too short to classify, reporting only")
		c.stats.Errors++
		return
	}

	switch {
	case bytes.Equal(data[:4], fileMagic):
		s, err := efc.DecodeStreamBytes(data)
		if err != nil {
			c.logger.Warn().Err(err).Uint64("object_id", uint64(id)).Msg("checker: malformed file stream, reporting only")
			c.stats.Errors++
			return
		}
		c.table[id] = &scanEntry{ContainerID: objectid.ID(s.ContainerID), IsDir: false, SizeBlocks: c.blocksFor(data)}
	case bytes.Equal(data[:4], dirrecord.Magic[:]):
		d, err := dirrecord.Decode(bytes.NewReader(data))
		if err != nil {
			c.logger.Warn().Err(err).Uint64("object_id", uint64(id)).Msg("checker: malformed directory, reporting only")
			c.stats.Errors++
			return
		}
		c.table[id] = &scanEntry{ContainerID: d.ContainerID, IsDir: true, SizeBlocks: c.blocksFor(data)}
	default:
		c.logger.Warn().Uint64("object_id", uint64(id)).Msg("checker: unrecognized magic, reporting only")
		c.stats.Errors++
	}
}

// --- Phase 2: walk directories ---------------------------------------------

func (c *Checker) phase2WalkDirectories() error {
	dirIDs := make([]objectid.ID, 0)
	for id, e := range c.table {
		if e.IsDir {
			dirIDs = append(dirIDs, id)
		}
	}
	sort.Slice(dirIDs, func(i, j int) bool { return dirIDs[i] < dirIDs[j] })

	for _, id := range dirIDs {
		dir, err := c.loadDirectoryRaw(id)
		if err != nil {
			c.stats.Errors++
			continue
		}
		changed := dir.CheckAndFix()

		kept := dir.Entries[:0]
		for _, entry := range dir.Entries {
			child, ok := c.table[entry.ID]
			if !ok {
				changed = true
				c.stats.Errors++
				continue
			}
			kept = append(kept, entry)

			wantDir := child.IsDir
			if entry.Flags.Has(dirrecord.FlagDir) != wantDir {
				if wantDir {
					entry.Flags |= dirrecord.FlagDir
				} else {
					entry.Flags &^= dirrecord.FlagDir
				}
				changed = true
				c.stats.Errors++
			}
			if entry.SizeBlocks != child.SizeBlocks {
				entry.SizeBlocks = child.SizeBlocks
				changed = true
				c.stats.SizeFixups++
			}
			if child.ContainerID != id {
				c.mismatchedContainer[entry.ID] = id
			}
			child.Contained = true

			switch {
			case entry.Flags.Has(dirrecord.FlagDir):
				c.blocksDirectories += entry.SizeBlocks
				if entry.Flags.Has(dirrecord.FlagDeleted) {
					c.deletedDirs = append(c.deletedDirs, entry.ID)
				}
			case entry.Flags.Has(dirrecord.FlagDeleted):
				c.blocksDeleted += entry.SizeBlocks
			case entry.Flags.Has(dirrecord.FlagOldVersion):
				c.blocksOld += entry.SizeBlocks
			default:
				c.blocksCurrent += entry.SizeBlocks
			}
		}
		dir.Entries = kept

		if changed && !c.ReadOnly {
			if err := c.saveDirectoryRaw(dir); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- Phase 3: root ----------------------------------------------------------

func (c *Checker) phase3EnsureRoot() error {
	if e, ok := c.table[objectid.Root]; ok && e.IsDir {
		e.Contained = true
		return nil
	}
	c.stats.Errors++
	if c.ReadOnly {
		return nil
	}

	root := dirrecord.New(objectid.Root, 0)
	if err := c.saveDirectoryRaw(root); err != nil {
		return err
	}
	c.table[objectid.Root] = &scanEntry{IsDir: true, Contained: true}
	if c.maxID < objectid.Root {
		c.maxID = objectid.Root
	}
	return nil
}

// --- Phase 4: reattach orphans ----------------------------------------------

func (c *Checker) phase4ReattachOrphans() error {
	var orphans []objectid.ID
	for id, e := range c.table {
		if id == objectid.Root || e.Contained {
			continue
		}
		orphans = append(orphans, id)
	}
	if len(orphans) == 0 {
		return nil
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })

	if c.ReadOnly {
		c.stats.OrphansReattached += len(orphans)
		c.stats.Errors += len(orphans)
		return nil
	}

	root, err := c.loadDirectoryRaw(objectid.Root)
	if err != nil {
		return err
	}

	var lfID objectid.ID
	var lfDir *dirrecord.Directory
	if lf := root.CurrentByName([]byte("lost+found")); lf != nil && lf.Flags.Has(dirrecord.FlagDir) {
		lfID = lf.ID
		lfDir, err = c.loadDirectoryRaw(lfID)
		if err != nil {
			return err
		}
	} else {
		lfID = c.allocNext()
		lfDir = dirrecord.New(lfID, objectid.Root)
		if err := c.saveDirectoryRaw(lfDir); err != nil {
			return err
		}
		size := c.blocksFor(lfDir.Encode())
		root.AddEntry(&dirrecord.Entry{Name: []byte("lost+found"), ID: lfID, Flags: dirrecord.FlagDir, SizeBlocks: size})
		c.table[lfID] = &scanEntry{ContainerID: objectid.Root, IsDir: true, SizeBlocks: size, Contained: true}
		c.blocksDirectories += size
	}

	for _, id := range orphans {
		e := c.table[id]
		var name string
		var flags dirrecord.Flags
		if e.IsDir {
			name = fmt.Sprintf("dir%06d", uint64(id))
			flags = dirrecord.FlagDir
			c.blocksDirectories += e.SizeBlocks
		} else {
			name = fmt.Sprintf("file%06d", uint64(id))
			flags = dirrecord.FlagFile
			c.blocksCurrent += e.SizeBlocks
		}
		lfDir.AddEntry(&dirrecord.Entry{Name: []byte(name), ID: id, Flags: flags, SizeBlocks: e.SizeBlocks})
		e.Contained = true
		c.mismatchedContainer[id] = lfID
		c.stats.OrphansReattached++
		c.stats.Errors++
	}

	if err := c.saveDirectoryRaw(lfDir); err != nil {
		return err
	}
	return c.saveDirectoryRaw(root)
}

// --- Phase 5: secondary fixups ----------------------------------------------

func (c *Checker) phase5SecondaryFixups() error {
	if c.ReadOnly {
		c.stats.ContainerFixups += len(c.mismatchedContainer)
		return nil
	}
	ids := make([]objectid.ID, 0, len(c.mismatchedContainer))
	for id := range c.mismatchedContainer {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := c.rewriteContainerID(id, c.mismatchedContainer[id]); err != nil {
			return err
		}
		c.stats.ContainerFixups++
	}
	return nil
}

func (c *Checker) rewriteContainerID(id, newContainer objectid.ID) error {
	const op = "checker.rewriteContainerID"
	relPath, err := c.NS.ObjectPath("", id, false)
	if err != nil {
		return err
	}
	r, err := c.Store.OpenRead(relPath)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(data) < 4 {
		return berr.New(berr.CodeDirectoryCorrupt, op, nil)
	}

	var out []byte
	switch {
	case bytes.Equal(data[:4], dirrecord.Magic[:]):
		d, err := dirrecord.Decode(bytes.NewReader(data))
		if err != nil {
			return err
		}
		d.ContainerID = newContainer
		out = d.Encode()
	case bytes.Equal(data[:4], fileMagic):
		s, err := efc.DecodeStreamBytes(data)
		if err != nil {
			return err
		}
		s.ContainerID = uint64(newContainer)
		out = s.Encode()
	default:
		return berr.New(berr.CodeUnknownEncoding, op, nil)
	}

	w, err := c.Store.OpenWrite(relPath)
	if err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		_ = w.Abandon()
		return err
	}
	return w.Commit(true)
}

// --- Phase 6: rewrite AS -----------------------------------------------------

func (c *Checker) phase6RewriteAS(state *account.State) error {
	return state.Mutate(true, func(i *account.Info) {
		i.BlocksCurrent = c.blocksCurrent
		i.BlocksOld = c.blocksOld
		i.BlocksDeleted = c.blocksDeleted
		i.BlocksDirectories = c.blocksDirectories
		i.DeletedDirectories = c.deletedDirs
		i.LastObjectID = c.maxID
	})
}

// --- shared directory I/O ----------------------------------------------------

func (c *Checker) loadDirectoryRaw(id objectid.ID) (*dirrecord.Directory, error) {
	relPath, err := c.NS.ObjectPath("", id, false)
	if err != nil {
		return nil, err
	}
	r, err := c.Store.OpenRead(relPath)
	if err != nil {
		return nil, err
	}
	return dirrecord.Decode(r)
}

func (c *Checker) saveDirectoryRaw(d *dirrecord.Directory) error {
	relPath, err := c.NS.ObjectPath("", d.ObjectID, false)
	if err != nil {
		return err
	}
	w, err := c.Store.OpenWrite(relPath)
	if err != nil {
		return err
	}
	if _, err := w.Write(d.Encode()); err != nil {
		_ = w.Abandon()
		return err
	}
	return w.Commit(true)
}
