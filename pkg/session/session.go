// Package session implements the store session context (SC), spec.md
// §4.6: the object that holds one account's write lock, directory cache,
// object-ID allocator, and AS handle for the lifetime of one client
// connection, and that carries out every structural operation — add,
// delete, undelete, move — against the object namespace. It never touches
// plaintext: file content arrives and leaves as already-encoded EFC
// streams (spec.md line 10, "the server never sees plaintext and cannot
// decrypt anything"); this package only verifies their structure, copies
// their bytes, and updates directory and AS bookkeeping around them.
//
// Grounded on the teacher's pkg/reconciler.Reconciler (a struct wrapping
// shared state with its own logger, exposing one operation per method)
// generalized from a single background loop into a request-driven session
// object, since spec.md's session is invoked per client command rather
// than on a timer.
package session

import (
	"bytes"
	"io"

	"github.com/rs/zerolog"

	"github.com/boxvault/boxvault/pkg/account"
	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/blog"
	"github.com/boxvault/boxvault/pkg/cryptox"
	"github.com/boxvault/boxvault/pkg/dirrecord"
	"github.com/boxvault/boxvault/pkg/efc"
	"github.com/boxvault/boxvault/pkg/objectid"
	"github.com/boxvault/boxvault/pkg/ons"
	"github.com/boxvault/boxvault/pkg/sos"
)

// Context is one client connection's session state against one account.
type Context struct {
	Store *sos.Store
	NS    *ons.Namespace
	Keys  cryptox.AccountKeys
	State *account.State
	Alloc *objectid.Allocator
	Cache *DirectoryCache

	ReadOnly bool

	lock   *AccountLock
	logger zerolog.Logger
}

// Open begins a session against an account: acquiring the write lock
// (unless readOnly) and resuming the object-ID allocator from the AS's
// last-known-used ID. releaseRequested is passed to Acquire, which sends
// one request on it if the lock is already held; Context never reads it.
func Open(store *sos.Store, ns *ons.Namespace, accountRoot string, keys cryptox.AccountKeys, state *account.State, readOnly bool, releaseRequested chan<- struct{}) (*Context, error) {
	c := &Context{
		Store:    store,
		NS:       ns,
		Keys:     keys,
		State:    state,
		Alloc:    objectid.NewAllocator(state.Info().LastObjectID),
		Cache:    NewDirectoryCache(DefaultCacheSize),
		ReadOnly: readOnly,
		logger:   blog.WithComponent("session").With().Uint64("account_id", state.Info().AccountID).Logger(),
	}
	if !readOnly {
		lock, err := Acquire(ons.WriteLockPath(accountRoot), releaseRequested, DefaultMaxWaitForHousekeeping)
		if err != nil {
			return nil, err
		}
		c.lock = lock
	}
	return c, nil
}

// Close flushes the AS and releases the write lock, if held.
func (c *Context) Close() error {
	var err error
	if !c.ReadOnly {
		err = c.State.Save()
	}
	if c.lock != nil {
		if relErr := c.lock.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}
	return err
}

func (c *Context) requireWritable(op string) error {
	if c.ReadOnly {
		return berr.New(berr.CodeReadOnlySession, op, nil)
	}
	return nil
}

// blocksFor reports payload's on-disk block cost across all three striped
// role files (spec.md §8 "RAID size accounting"), not a single
// ceil(len(payload)/blockSize) over the unsplit bytes.
func (c *Context) blocksFor(payload []byte) uint64 {
	return sos.StripedBlockCount(payload, c.Store.BlockSize)
}

func (c *Context) objectPath(id objectid.ID) (string, error) {
	return c.NS.ObjectPath("", id, false)
}

// loadDirectory returns the parsed directory for id, consulting the cache
// first and re-validating the on-disk revision before trusting a hit.
func (c *Context) loadDirectory(id objectid.ID) (*dirrecord.Directory, error) {
	const op = "session.loadDirectory"
	relPath, err := c.objectPath(id)
	if err != nil {
		return nil, berr.New(berr.CodeObjectNotFound, op, err)
	}
	status, err := c.Store.Exists(relPath)
	if err != nil {
		return nil, err
	}
	if status.State == sos.StateNone {
		return nil, berr.New(berr.CodeObjectNotFound, op, nil)
	}
	if dir, ok := c.Cache.Get(id, status.Revision); ok {
		return dir, nil
	}

	r, err := c.Store.OpenRead(relPath)
	if err != nil {
		return nil, err
	}
	dir, err := dirrecord.Decode(r)
	if err != nil {
		return nil, berr.New(berr.CodeDirectoryCorrupt, op, err)
	}
	c.Cache.Put(id, dir, status.Revision)
	return dir, nil
}

// LoadDirectory returns the parsed directory for id, the public entry
// point pkg/protocol uses for ChangeDirAttributes and other operations
// that need a directory outside the add/delete/move paths below.
func (c *Context) LoadDirectory(id objectid.ID) (*dirrecord.Directory, error) {
	return c.loadDirectory(id)
}

// saveDirectory commits dir's current in-memory contents to disk and
// invalidates the cache entry, without touching any other object.
func (c *Context) saveDirectory(dir *dirrecord.Directory) error {
	relPath, err := c.objectPath(dir.ObjectID)
	if err != nil {
		return berr.New(berr.CodeObjectNotFound, "session.saveDirectory", err)
	}
	w, err := c.Store.OpenWrite(relPath)
	if err != nil {
		return err
	}
	encoded := dir.Encode()
	if _, err := w.Write(encoded); err != nil {
		_ = w.Abandon()
		return err
	}
	if err := w.Commit(true); err != nil {
		return err
	}
	c.Cache.Invalidate(dir.ObjectID)
	return nil
}

// SaveDirectory commits dir and, unless dir is the account root, updates
// the size-in-blocks recorded for dir in its own entry within its parent
// — and recurses up the ancestor chain, since the parent's encoded size
// just changed too. Generalizes spec.md §4.6's "propagates block-size
// changes into grandparent's entry": from the perspective of a file just
// added to dir, dir is the parent and dir's parent is the grandparent, so
// this resolves to walking every ancestor, not a single fixed hop (see
// DESIGN.md).
func (c *Context) SaveDirectory(dir *dirrecord.Directory) error {
	if err := c.saveDirectory(dir); err != nil {
		return err
	}
	if dir.ObjectID == objectid.Root || !dir.ContainerID.Valid() || dir.ContainerID == dir.ObjectID {
		return nil
	}

	parent, err := c.loadDirectory(dir.ContainerID)
	if err != nil {
		return err
	}
	entry := parent.Find(dir.ObjectID)
	if entry == nil {
		return berr.New(berr.CodeDirectoryCorrupt, "session.SaveDirectory", nil)
	}
	newSize := c.blocksFor(dir.Encode())
	if entry.SizeBlocks == newSize {
		return nil
	}
	entry.SizeBlocks = newSize
	return c.SaveDirectory(parent)
}

// AddFile stores encoded — an already client-encoded EFC stream — as a new
// object in inDir, spec.md §4.6's add_file. diffFromID is the previous
// version's object ID if the client encoded this stream as a patch against
// it (0 otherwise); markOlder selects whether an existing current entry of
// the same name becomes an old version (kept, its blocks moved from the
// current to the old-version accounting) or is dropped outright.
//
// When diffFromID is valid, AddFile performs the server-side combine and
// reverse-diff spec.md §4.3 "Combining"/"Reversing" describe: the previous
// object plus the client's patch are combined into the new object's full,
// standalone stream (efc.Combine), and the previous object is rewritten as
// a patch referencing the new one (efc.ReverseDiff) — so the newest version
// always reads back as a full file and older versions become the patches,
// the inverse of the upload direction. Size accounting and the hard quota
// check both use the combined stream's size, never the raw upload's.
func (c *Context) AddFile(inDir objectid.ID, name []byte, modTime uint64, attrHash uint64, diffFromID objectid.ID, markOlder bool, encoded []byte) (objectid.ID, error) {
	const op = "session.AddFile"
	if err := c.requireWritable(op); err != nil {
		return 0, err
	}

	vr, err := efc.Verify(bytes.NewReader(encoded))
	if err != nil {
		return 0, err
	}
	if vr.IsPatch != diffFromID.Valid() || (vr.IsPatch && vr.OtherObjectID != uint64(diffFromID)) {
		return 0, berr.New(berr.CodeBlockIndexMismatch, op, nil)
	}

	dir, err := c.loadDirectory(inDir)
	if err != nil {
		return 0, err
	}

	newID := c.Alloc.Next()

	// stored is what actually lands in newID's object file: the raw upload
	// for a standalone full file, or the combined full stream when the
	// client uploaded a patch against diffFromID.
	stored := encoded
	var prevRelPath string
	var prevOriginal []byte
	var reversedWritten bool

	if diffFromID.Valid() {
		prevRelPath, err = c.objectPath(diffFromID)
		if err != nil {
			return 0, berr.New(berr.CodeObjectNotFound, op, err)
		}
		pr, err := c.Store.OpenRead(prevRelPath)
		if err != nil {
			return 0, err
		}
		prevOriginal, err = io.ReadAll(pr)
		if err != nil {
			return 0, err
		}
		oStream, err := efc.DecodeStreamBytes(prevOriginal)
		if err != nil {
			return 0, berr.New(berr.CodeBlockIndexMismatch, op, err)
		}
		pStream, err := efc.DecodeStreamBytes(encoded)
		if err != nil {
			return 0, berr.New(berr.CodeBlockIndexMismatch, op, err)
		}
		combined, err := efc.Combine(oStream, pStream)
		if err != nil {
			return 0, err
		}
		stored = combined.Encode()

		reversed, completelyDifferent := efc.ReverseDiff(oStream, combined, uint64(newID))
		if !completelyDifferent {
			rw, err := c.Store.OpenWrite(prevRelPath)
			if err != nil {
				return 0, err
			}
			if _, err := rw.Write(reversed.Encode()); err != nil {
				_ = rw.Abandon()
				return 0, err
			}
			if err := rw.Commit(true); err != nil {
				return 0, err
			}
			reversedWritten = true
		}
	}

	sizeBlocks := c.blocksFor(stored)
	info := c.State.Info()
	if info.HardQuotaBlocks > 0 && info.TotalBlocks()+sizeBlocks > info.HardQuotaBlocks {
		c.restorePrevious(prevRelPath, prevOriginal, reversedWritten)
		return 0, berr.New(berr.CodeAddedFileExceedsStorageLimit, op, nil)
	}

	relPath, err := c.objectPath(newID)
	if err != nil {
		c.restorePrevious(prevRelPath, prevOriginal, reversedWritten)
		return 0, berr.New(berr.CodeOutOfSpace, op, err)
	}
	w, err := c.Store.OpenWrite(relPath)
	if err != nil {
		c.restorePrevious(prevRelPath, prevOriginal, reversedWritten)
		return 0, err
	}
	if _, err := w.Write(stored); err != nil {
		_ = w.Abandon()
		c.restorePrevious(prevRelPath, prevOriginal, reversedWritten)
		return 0, err
	}
	if err := w.Commit(true); err != nil {
		c.restorePrevious(prevRelPath, prevOriginal, reversedWritten)
		return 0, err
	}

	var existing *dirrecord.Entry
	var existingSize uint64
	if cur := dir.CurrentByName(name); cur != nil {
		existing = cur
		existingSize = cur.SizeBlocks
		if markOlder {
			cur.Flags |= dirrecord.FlagOldVersion
			cur.DependsNewer = newID
		} else {
			dir.RemoveEntry(cur.ID)
		}
	}

	entry := &dirrecord.Entry{
		Name:       append([]byte(nil), name...),
		ID:         newID,
		ModTime:    modTime,
		SizeBlocks: sizeBlocks,
		Flags:      dirrecord.FlagFile,
		AttrHash:   attrHash,
	}
	if existing != nil && markOlder {
		entry.DependsOlder = existing.ID
	}
	dir.AddEntry(entry)

	if err := c.SaveDirectory(dir); err != nil {
		// spec.md line 273: "on any failure the new object and any written
		// reverse-patch are rolled back" — undo both rather than leaving an
		// orphan for the checker to clean up later.
		c.logger.Error().Err(err).Uint64("object_id", uint64(newID)).Msg("session: directory save failed, rolling back object write")
		if rmErr := c.Store.Remove(relPath); rmErr != nil {
			c.logger.Error().Err(rmErr).Uint64("object_id", uint64(newID)).Msg("session: rollback could not remove new object")
		}
		c.restorePrevious(prevRelPath, prevOriginal, reversedWritten)
		return 0, err
	}

	return newID, c.State.Mutate(false, func(i *account.Info) {
		i.LastObjectID = newID
		i.BlocksCurrent += sizeBlocks
		if existing != nil {
			if markOlder {
				i.BlocksCurrent -= existingSize
				i.BlocksOld += existingSize
			} else {
				i.BlocksCurrent -= existingSize
			}
		}
	})
}

// restorePrevious undoes AddFile's reverse-diff rewrite of diffFromID's
// object, putting back the bytes it held before this upload. A no-op
// unless a reverse-patch was actually written.
func (c *Context) restorePrevious(prevRelPath string, prevOriginal []byte, written bool) {
	if !written {
		return
	}
	w, err := c.Store.OpenWrite(prevRelPath)
	if err != nil {
		c.logger.Error().Err(err).Str("path", prevRelPath).Msg("session: rollback could not reopen previous object")
		return
	}
	if _, err := w.Write(prevOriginal); err != nil {
		_ = w.Abandon()
		c.logger.Error().Err(err).Str("path", prevRelPath).Msg("session: rollback could not restore previous object")
		return
	}
	if err := w.Commit(true); err != nil {
		c.logger.Error().Err(err).Str("path", prevRelPath).Msg("session: rollback could not commit restored previous object")
	}
}

// DeleteFile marks the current entry named name in inDir as deleted,
// spec.md §4.6's delete_file. It reports whether a current entry existed
// and, if so, its object ID.
func (c *Context) DeleteFile(name []byte, inDir objectid.ID) (bool, objectid.ID, error) {
	const op = "session.DeleteFile"
	if err := c.requireWritable(op); err != nil {
		return false, 0, err
	}

	dir, err := c.loadDirectory(inDir)
	if err != nil {
		return false, 0, err
	}
	entry := dir.CurrentByName(name)
	if entry == nil {
		return false, 0, nil
	}
	entry.Flags |= dirrecord.FlagDeleted
	size := entry.SizeBlocks
	id := entry.ID

	if err := c.SaveDirectory(dir); err != nil {
		return false, 0, err
	}
	return true, id, c.State.Mutate(false, func(i *account.Info) {
		i.BlocksCurrent -= size
		i.BlocksDeleted += size
	})
}

// UndeleteFile clears the deleted flag on object id within inDir, spec.md
// §4.6's undelete_file. It reports whether the entry existed and was
// deleted. Undeleting over a live entry of the same name is rejected: at
// most one current entry per name is an invariant SC must preserve.
func (c *Context) UndeleteFile(id objectid.ID, inDir objectid.ID) (bool, error) {
	const op = "session.UndeleteFile"
	if err := c.requireWritable(op); err != nil {
		return false, err
	}

	dir, err := c.loadDirectory(inDir)
	if err != nil {
		return false, err
	}
	entry := dir.Find(id)
	if entry == nil || !entry.Flags.Has(dirrecord.FlagDeleted) {
		return false, nil
	}
	if other := dir.CurrentByName(entry.Name); other != nil {
		return false, berr.New(berr.CodeNameAlreadyExistsInDirectory, op, nil)
	}
	entry.Flags &^= dirrecord.FlagDeleted
	size := entry.SizeBlocks

	if err := c.SaveDirectory(dir); err != nil {
		return false, err
	}
	return true, c.State.Mutate(false, func(i *account.Info) {
		i.BlocksDeleted -= size
		i.BlocksCurrent += size
	})
}

// AddDirectory creates a new, empty subdirectory named name in inDir,
// spec.md §4.6's add_directory. If a directory of that name already
// exists, AddDirectory is idempotent and returns its ID with
// alreadyExisted=true rather than erroring.
func (c *Context) AddDirectory(inDir objectid.ID, name []byte, attrs []byte, attrModTime uint64, modTime uint64) (objectid.ID, bool, error) {
	const op = "session.AddDirectory"
	if err := c.requireWritable(op); err != nil {
		return 0, false, err
	}

	parent, err := c.loadDirectory(inDir)
	if err != nil {
		return 0, false, err
	}
	if existing := parent.CurrentByName(name); existing != nil {
		if existing.Flags.Has(dirrecord.FlagDir) {
			return existing.ID, true, nil
		}
		return 0, false, berr.New(berr.CodeNameAlreadyExistsInDirectory, op, nil)
	}

	newID := c.Alloc.Next()
	child := dirrecord.New(newID, inDir)
	child.Attributes = attrs
	child.AttrModTime = attrModTime
	if err := c.saveDirectory(child); err != nil {
		return 0, false, err
	}
	childSize := c.blocksFor(child.Encode())

	parent.AddEntry(&dirrecord.Entry{
		Name:       append([]byte(nil), name...),
		ID:         newID,
		ModTime:    modTime,
		SizeBlocks: childSize,
		Flags:      dirrecord.FlagDir,
	})
	if err := c.SaveDirectory(parent); err != nil {
		return 0, false, err
	}

	return newID, false, c.State.Mutate(false, func(i *account.Info) {
		i.LastObjectID = newID
		i.BlocksDirectories += childSize
	})
}

// DeleteDirectory marks id and every object beneath it deleted (or, if
// undelete is true, clears those deletion marks), spec.md §4.6's
// delete_directory. It recurses depth-first, snapshotting each level's
// subdirectory IDs before descending: the directory cache may evict and
// reload any of those children while the recursive call runs, so holding
// only the IDs (not *dirrecord.Directory pointers) across the recursion is
// required for correctness.
func (c *Context) DeleteDirectory(id objectid.ID, undelete bool) error {
	const op = "session.DeleteDirectory"
	if err := c.requireWritable(op); err != nil {
		return err
	}

	dir, err := c.loadDirectory(id)
	if err != nil {
		return err
	}

	var subDirs []objectid.ID
	for _, e := range dir.Entries {
		if e.Flags.Has(dirrecord.FlagDir) {
			subDirs = append(subDirs, e.ID)
		}
	}
	for _, sub := range subDirs {
		if err := c.DeleteDirectory(sub, undelete); err != nil {
			return err
		}
	}

	// Re-fetch: recursing may have invalidated dir's cache entry (a child's
	// SaveDirectory call never touches dir itself, but a defensive reload
	// costs one cache lookup and guards against future changes that do).
	dir, err = c.loadDirectory(id)
	if err != nil {
		return err
	}

	var curDeltaCurrent, curDeltaOld, curDeltaDeleted uint64
	for _, e := range dir.Entries {
		if undelete {
			if !e.Flags.Has(dirrecord.FlagDeleted) {
				continue
			}
			e.Flags &^= dirrecord.FlagDeleted
			curDeltaDeleted += e.SizeBlocks
			if e.Flags.Has(dirrecord.FlagOldVersion) {
				curDeltaOld += e.SizeBlocks
			} else {
				curDeltaCurrent += e.SizeBlocks
			}
			continue
		}
		if e.Flags.Has(dirrecord.FlagDeleted) {
			continue
		}
		e.Flags |= dirrecord.FlagDeleted
		if e.Flags.Has(dirrecord.FlagOldVersion) {
			curDeltaOld += e.SizeBlocks
		} else {
			curDeltaCurrent += e.SizeBlocks
		}
		curDeltaDeleted += e.SizeBlocks
	}

	if err := c.SaveDirectory(dir); err != nil {
		return err
	}

	if dir.ContainerID.Valid() && dir.ContainerID != dir.ObjectID {
		parent, err := c.loadDirectory(dir.ContainerID)
		if err != nil {
			return err
		}
		if selfEntry := parent.Find(id); selfEntry != nil {
			if undelete {
				selfEntry.Flags &^= dirrecord.FlagDeleted
			} else {
				selfEntry.Flags |= dirrecord.FlagDeleted
			}
			if err := c.SaveDirectory(parent); err != nil {
				return err
			}
		}
	}

	return c.State.Mutate(false, func(i *account.Info) {
		if undelete {
			i.BlocksDeleted -= curDeltaDeleted
			i.BlocksCurrent += curDeltaCurrent
			i.BlocksOld += curDeltaOld
			i.DeletedDirectories = removeID(i.DeletedDirectories, id)
			return
		}
		i.BlocksCurrent -= curDeltaCurrent
		i.BlocksOld -= curDeltaOld
		i.BlocksDeleted += curDeltaDeleted
		i.DeletedDirectories = appendID(i.DeletedDirectories, id)
	})
}

func removeID(ids []objectid.ID, target objectid.ID) []objectid.ID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func appendID(ids []objectid.ID, target objectid.ID) []objectid.ID {
	for _, id := range ids {
		if id == target {
			return ids
		}
	}
	return append(ids, target)
}

// Move relocates obj from fromDir to toDir under newName, spec.md §4.6's
// move. If moveAllWithSameName is set, every entry sharing obj's current
// name (e.g. an old-version chain) moves together. allowOverDeleted
// permits the move to proceed even if toDir already holds a deleted entry
// of newName (it is left in place, untouched, alongside the moved entry).
func (c *Context) Move(obj objectid.ID, fromDir, toDir objectid.ID, newName []byte, moveAllWithSameName, allowOverDeleted bool) error {
	const op = "session.Move"
	if err := c.requireWritable(op); err != nil {
		return err
	}

	from, err := c.loadDirectory(fromDir)
	if err != nil {
		return err
	}
	moving := from.Find(obj)
	if moving == nil {
		return berr.New(berr.CodeObjectNotFound, op, nil)
	}

	var toMove []*dirrecord.Entry
	if moveAllWithSameName {
		name := moving.Name
		out := from.Entries[:0]
		for _, e := range from.Entries {
			if bytesEqualNames(e.Name, name) {
				toMove = append(toMove, e)
				continue
			}
			out = append(out, e)
		}
		from.Entries = out
	} else {
		toMove = append(toMove, moving)
		from.RemoveEntry(obj)
	}

	toSameDir := fromDir == toDir

	var to *dirrecord.Directory
	if toSameDir {
		to = from
	} else {
		to, err = c.loadDirectory(toDir)
		if err != nil {
			return err
		}
	}

	if existing := to.CurrentByName(newName); existing != nil {
		return berr.New(berr.CodeNameAlreadyExistsInDirectory, op, nil)
	}
	if !allowOverDeleted {
		for _, e := range to.Entries {
			if bytesEqualNames(e.Name, newName) && e.Flags.Has(dirrecord.FlagDeleted) {
				return berr.New(berr.CodeNameAlreadyExistsInDirectory, op, nil)
			}
		}
	}

	for _, e := range toMove {
		e.Name = append([]byte(nil), newName...)
		to.AddEntry(e)
		if e.Flags.Has(dirrecord.FlagDir) && !toSameDir {
			child, err := c.loadDirectory(e.ID)
			if err != nil {
				return err
			}
			child.ContainerID = toDir
			if err := c.saveDirectory(child); err != nil {
				return err
			}
		}
	}

	if toSameDir {
		return c.SaveDirectory(from)
	}
	if err := c.SaveDirectory(from); err != nil {
		return err
	}
	return c.SaveDirectory(to)
}

func bytesEqualNames(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
