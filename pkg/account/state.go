package account

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/blog"
	"github.com/boxvault/boxvault/pkg/objectid"
	"github.com/rs/zerolog"
)

// DefaultSaveDelay is STORE_INFO_SAVE_DELAY: the number of accounting
// mutations the deferred-flush State tolerates before it forces a save,
// per spec.md §4.5.
const DefaultSaveDelay = 96

// State wraps an Info with the deferred-flush save discipline: mutations
// mark it dirty, and Save is called either immediately (critical
// operations) or once SaveDelay mutations have accumulated. Grounded on
// the teacher's pkg/reconciler.Reconciler shape (a mutex-guarded struct
// with its own logger), adapted from a background ticker loop into a
// synchronous, counter-driven flush since AS saves happen inline with
// session operations rather than on a timer.
type State struct {
	mu        sync.Mutex
	info      *Info
	path      string
	saveDelay int
	dirtyOps  int
	logger    zerolog.Logger
}

// NewState wraps info for path with the default save delay.
func NewState(info *Info, path string) *State {
	return &State{
		info:      info,
		path:      path,
		saveDelay: DefaultSaveDelay,
		logger:    blog.Logger.With().Str("component", "account").Uint64("account_id", info.AccountID).Logger(),
	}
}

// Load reads and wraps the account state file at path.
func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, berr.New(berr.CodeObjectNotFound, "account.Load", err)
	}
	defer f.Close()

	info, err := Decode(f)
	if err != nil {
		return nil, err
	}
	return NewState(info, path), nil
}

// Info returns the current in-memory state. Callers must not retain the
// pointer across a Mutate call from another goroutine; spec.md §5
// guarantees a single writer session per account, so this is a single-
// writer safety net, not a general-purpose concurrency control.
func (s *State) Info() *Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Mutate applies fn to the account info and marks the state dirty,
// flushing immediately if immediate is true or the save-delay budget is
// exhausted.
func (s *State) Mutate(immediate bool, fn func(*Info)) error {
	s.mu.Lock()
	fn(s.info)
	s.dirtyOps++
	flush := immediate || s.dirtyOps >= s.saveDelay
	s.mu.Unlock()

	if flush {
		return s.Save()
	}
	return nil
}

// Save flushes the account state to disk unconditionally, via a
// temp-file-then-rename commit (same discipline as pkg/sos.Writer.Commit).
func (s *State) Save() error {
	s.mu.Lock()
	data := s.info.Encode()
	s.mu.Unlock()

	tmpPath := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return berr.New(berr.CodeOutOfSpace, "account.Save", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return berr.New(berr.CodeOutOfSpace, "account.Save", err)
	}
	_, writeErr := f.Write(data)
	syncErr := f.Sync()
	closeErr := f.Close()
	if writeErr != nil || syncErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		return berr.New(berr.CodeOutOfSpace, "account.Save", fmt.Errorf("write=%v sync=%v close=%v", writeErr, syncErr, closeErr))
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return berr.New(berr.CodeOutOfSpace, "account.Save", err)
	}

	s.mu.Lock()
	s.dirtyOps = 0
	s.mu.Unlock()

	s.logger.Debug().Msg("account state saved")
	return nil
}

// ReplaceCounters overwrites the usage counters and deleted-directory list
// with values the checker (pkg/checker) recomputed from a full scan —
// spec.md §4.5: "On reconnect the checker's recomputed counters are
// authoritative." Always saves immediately.
func (s *State) ReplaceCounters(current, old, deleted, dirs uint64, deletedDirs []objectid.ID) error {
	return s.Mutate(true, func(i *Info) {
		i.BlocksCurrent = current
		i.BlocksOld = old
		i.BlocksDeleted = deleted
		i.BlocksDirectories = dirs
		i.DeletedDirectories = deletedDirs
	})
}
