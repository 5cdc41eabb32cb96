package sos

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/boxvault/boxvault/pkg/berr"
)

// Writer accumulates an object's bytes in a temp file and commits them
// atomically, per spec.md §4.1. It is single-use: create a fresh Writer
// per write with OpenWrite.
type Writer struct {
	store   *Store
	relPath string
	tmpPath string
	f       *os.File
}

// OpenWrite creates a fresh temp file next to relPath's eventual
// destination.
func (s *Store) OpenWrite(relPath string) (*Writer, error) {
	root := s.Discs.Paths[physicalDisc(relPath, RoleStripe1)]
	dir := filepath.Join(root, filepath.Dir(relPath))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, berr.New(berr.CodeOutOfSpace, "sos.OpenWrite", err)
	}

	tmpPath := joinRel(root, relPath) + extWriteTemp + "-" + uuid.NewString()
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, berr.New(berr.CodeOutOfSpace, "sos.OpenWrite", err)
	}
	return &Writer{store: s, relPath: relPath, tmpPath: tmpPath, f: f}, nil
}

// Write appends to the temp file.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		return n, berr.New(berr.CodeOutOfSpace, "sos.Writer.Write", err)
	}
	return n, nil
}

// Abandon discards the temp file without committing.
func (w *Writer) Abandon() error {
	_ = w.f.Close()
	return os.Remove(w.tmpPath)
}

// Commit fsyncs the temp file and atomically renames it into place as the
// object's pre-transform write file. If transform is true, it additionally
// splits the committed write file into stripe-1, stripe-2, and parity,
// fsyncs each, and removes the write file — matching spec.md §4.1's
// explicit non-atomicity warning for the transform step.
func (w *Writer) Commit(transform bool) error {
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return berr.New(berr.CodeOutOfSpace, "sos.Writer.Commit", fmt.Errorf("fsync temp: %w", err))
	}
	if err := w.f.Close(); err != nil {
		return berr.New(berr.CodeOutOfSpace, "sos.Writer.Commit", fmt.Errorf("close temp: %w", err))
	}

	wfPath := w.store.Discs.rolePath(w.relPath, RoleStripe1, extWriteFile)
	if err := os.Rename(w.tmpPath, wfPath); err != nil {
		return berr.New(berr.CodeOutOfSpace, "sos.Writer.Commit", fmt.Errorf("rename into place: %w", err))
	}

	if err := fsyncDir(filepath.Dir(wfPath)); err != nil {
		return berr.New(berr.CodeOutOfSpace, "sos.Writer.Commit", err)
	}

	if !transform {
		return nil
	}
	return w.store.transformToStriped(w.relPath, wfPath)
}

// FinishTransform completes a pending transform for relPath if it is still
// sitting as a committed pre-transform write file, splitting it into
// striped role files exactly as Commit(true) would have. It is a no-op if
// relPath has no write file (already striped, or not present at all) —
// pkg/checker's Phase 1 calls this on every scanned object to finish any
// transform an interrupted session left half-done, per spec.md §4.7's
// "complete the transform or write-out as appropriate".
func (s *Store) FinishTransform(relPath string) error {
	wfPath := s.Discs.rolePath(relPath, RoleStripe1, extWriteFile)
	if _, err := os.Stat(wfPath); err != nil {
		return nil
	}
	return s.transformToStriped(relPath, wfPath)
}

// transformToStriped splits a committed write file into three role files.
// Not atomic across discs: a crash partway through leaves the write file
// alongside some subset of the role files, which the checker (pkg/checker)
// is responsible for completing or rolling back.
func (s *Store) transformToStriped(relPath, wfPath string) error {
	payload, err := os.ReadFile(wfPath)
	if err != nil {
		return berr.New(berr.CodeFileIsDamagedNotRecoverable, "sos.transform", err)
	}

	stripe1, stripe2 := splitStripes(payload, s.BlockSize)
	parity := buildParity(stripe1, stripe2, len(payload), s.BlockSize)

	roleData := [numRoles][]byte{RoleStripe1: stripe1, RoleStripe2: stripe2, RoleParity: parity}
	for r := Role(0); r < numRoles; r++ {
		if err := s.writeRoleFile(relPath, r, roleData[r]); err != nil {
			return err
		}
	}

	if err := os.Remove(wfPath); err != nil {
		return berr.New(berr.CodeOutOfSpace, "sos.transform", fmt.Errorf("remove write file: %w", err))
	}
	return nil
}

func (s *Store) writeRoleFile(relPath string, r Role, data []byte) error {
	finalPath := s.Discs.rolePath(relPath, r, extStriped)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o700); err != nil {
		return berr.New(berr.CodeOutOfSpace, "sos.transform", err)
	}
	tmpPath := finalPath + extWriteTemp + "-" + uuid.NewString()
	f, err := os.Create(tmpPath)
	if err != nil {
		return berr.New(berr.CodeOutOfSpace, "sos.transform", err)
	}
	_, writeErr := f.Write(data)
	syncErr := f.Sync()
	closeErr := f.Close()
	if writeErr != nil || syncErr != nil || closeErr != nil {
		_ = os.Remove(tmpPath)
		return berr.New(berr.CodeOutOfSpace, "sos.transform", fmt.Errorf("write/fsync %s: write=%v sync=%v close=%v", r, writeErr, syncErr, closeErr))
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return berr.New(berr.CodeOutOfSpace, "sos.transform", fmt.Errorf("rename %s into place: %w", r, err))
	}
	return fsyncDir(filepath.Dir(finalPath))
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir for fsync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsync dir: %w", err)
	}
	return nil
}
