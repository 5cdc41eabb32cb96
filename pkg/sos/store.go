package sos

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/boxvault/boxvault/pkg/berr"
	"github.com/boxvault/boxvault/pkg/blog"
)

// State is the on-disk form an object was found in.
type State int

const (
	StateNone State = iota
	StateWrite
	StateStriped
	StateStripedDegraded
)

func (s State) String() string {
	switch s {
	case StateWrite:
		return "write"
	case StateStriped:
		return "striped"
	case StateStripedDegraded:
		return "striped-degraded"
	default:
		return "none"
	}
}

// Store is one account's striped object store: a disc set plus the block
// size objects are striped at.
type Store struct {
	Discs     DiscSet
	BlockSize int
}

func New(discs DiscSet, blockSize int) *Store {
	if blockSize <= 0 {
		blockSize = 1024
	}
	return &Store{Discs: discs, BlockSize: blockSize}
}

// Status reports an object's current state and combined revision.
type Status struct {
	State    State
	Revision Revision
}

// Exists reports what state relPath is in, per spec.md §4.1.
func (s *Store) Exists(relPath string) (Status, error) {
	wfPath := s.Discs.rolePath(relPath, RoleStripe1, extWriteFile)
	if rev, ok := revisionOf(wfPath); ok {
		return Status{State: StateWrite, Revision: rev}, nil
	}

	var revs []Revision
	present := 0
	for r := Role(0); r < numRoles; r++ {
		p := s.Discs.rolePath(relPath, r, extStriped)
		if rev, ok := revisionOf(p); ok {
			revs = append(revs, rev)
			present++
		}
	}
	switch present {
	case 0:
		return Status{State: StateNone}, nil
	case numRoles:
		return Status{State: StateStriped, Revision: combineRevisions(revs...)}, nil
	default:
		return Status{State: StateStripedDegraded, Revision: combineRevisions(revs...)}, nil
	}
}

// ReadDirectory lists the union of directory children visible across all
// three discs of the set (spec.md §4.1's read_directory).
func (s *Store) ReadDirectory(relDir string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, root := range s.Discs.Paths {
		entries, err := os.ReadDir(joinRel(root, relDir))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, berr.New(berr.CodeFileIsDamagedNotRecoverable, "sos.ReadDirectory", err)
		}
		for _, e := range entries {
			seen[e.Name()] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Remove destroys relPath's on-disk representation, in whatever state it
// is currently in (write file or striped role files). Housekeeping is the
// only caller spec.md names for this (§3: "Destroyed only by
// housekeeping, never mid-session") — sessions only ever create, read, or
// flag-transition objects via their container directory.
func (s *Store) Remove(relPath string) error {
	const op = "sos.Remove"
	wfPath := s.Discs.rolePath(relPath, RoleStripe1, extWriteFile)
	if err := os.Remove(wfPath); err != nil && !os.IsNotExist(err) {
		return berr.New(berr.CodeOutOfSpace, op, err)
	}

	var firstErr error
	for r := Role(0); r < numRoles; r++ {
		p := s.Discs.rolePath(relPath, r, extStriped)
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return berr.New(berr.CodeOutOfSpace, op, firstErr)
	}
	return nil
}

func (s *Store) quarantine(root, relPath string) {
	src := joinRel(root, relPath) + extStriped
	dstDir := quarantineDir(root)
	if err := os.MkdirAll(dstDir, 0o700); err != nil {
		blog.Logger.Warn().Err(err).Str("path", src).Msg("sos: could not create quarantine dir")
		return
	}
	dst := joinRel(dstDir, relPath) + extStriped
	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		blog.Logger.Warn().Err(err).Str("path", src).Msg("sos: could not create quarantine subdir")
		return
	}
	if err := os.Rename(src, dst); err != nil {
		blog.Logger.Warn().Err(err).Str("path", src).Msg("sos: could not quarantine unreadable stripe")
		return
	}
	blog.Logger.Warn().Str("path", src).Str("quarantined_to", dst).Msg("sos: quarantined unreadable stripe")
}
