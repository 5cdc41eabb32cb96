// Package ons implements the object namespace: the pure mapping from a
// 64-bit object ID to its relative path in the fan-out hex tree, and the
// per-account write-lock path. Grounded on original_source's
// lib/backupstore/StoreStructure.cpp (MakeObjectFilename /
// MakeWriteLockFilename), translated from a fixed 8-bit segment assumption
// into a configurable segment width per spec.md §3.
package ons

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/boxvault/boxvault/pkg/objectid"
)

const hexDigits = "0123456789abcdef"

// Namespace maps object IDs to relative paths for one account root.
type Namespace struct {
	segmentBits uint
	segmentMask uint64
}

// New creates a Namespace with the given fan-out segment width in bits
// (default 8, per spec.md §3 "Disc-set layout").
func New(segmentBits uint) *Namespace {
	if segmentBits == 0 {
		segmentBits = 8
	}
	return &Namespace{
		segmentBits: segmentBits,
		segmentMask: (uint64(1) << segmentBits) - 1,
	}
}

// ObjectPath returns the path of object id relative to an account root,
// e.g. "a1/b2/oc3" for a multi-segment ID. If ensureDir is true and root is
// non-empty, intermediate directories are created.
func (n *Namespace) ObjectPath(root string, id objectid.ID, ensureDir bool) (string, error) {
	if !id.Valid() {
		return "", fmt.Errorf("ons: invalid object id 0")
	}

	v := uint64(id)
	leaf := v & n.segmentMask
	v >>= n.segmentBits

	var sb strings.Builder
	for v != 0 {
		seg := v & n.segmentMask
		sb.WriteByte(hexDigits[(seg&0xf0)>>4])
		sb.WriteByte(hexDigits[seg&0xf])
		sb.WriteByte('/')
		v >>= n.segmentBits
	}

	dir := filepath.Join(root, sb.String())
	if ensureDir && root != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return "", fmt.Errorf("ons: mkdir %s: %w", dir, err)
		}
	}

	name := "o" + string(hexDigits[(leaf&0xf0)>>4]) + string(hexDigits[leaf&0xf])
	return filepath.Join(dir, name), nil
}

// WriteLockPath returns the path of the account's advisory write-lock file.
func WriteLockPath(root string) string {
	return filepath.Join(root, "write.lock")
}

// InfoPath returns the path of the account's AS header file.
func InfoPath(root string) string {
	return filepath.Join(root, "info")
}

// UnreadableQuarantineDir returns the directory stripes are moved into when
// SOS cannot read them (spec.md §4.1).
func UnreadableQuarantineDir(root string) string {
	return filepath.Join(root, ".raidfile-unreadable")
}

// Level identifies one directory level of the fan-out tree: a sequence of
// hex segment values from the root down (possibly empty, for the root
// level itself).
type Level []uint64

// Path returns the filesystem directory for this level under root.
func (l Level) Path(root string) string {
	dir := root
	for _, seg := range l {
		dir = filepath.Join(dir, fmt.Sprintf("%02x", seg))
	}
	return dir
}

// EnumerateLevel lists the object files and subdirectory segments present
// at one level, for the checker's fan-out walk (spec.md §4.7 Phase 1).
type LevelEntries struct {
	// ObjectFiles holds the names of object files found directly in this
	// level (the "oYY" entries), whose hex pairs are still missing the
	// higher-order bits contributed by parent segments — the caller
	// (pkg/checker) reconstructs the full ID by combining them with the
	// segment path.
	ObjectFiles []string
	SubDirs     []string
}

// EnumerateLevel reads one directory level and classifies its children.
func (n *Namespace) EnumerateLevel(dir string) (LevelEntries, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return LevelEntries{}, nil
		}
		return LevelEntries{}, fmt.Errorf("ons: read dir %s: %w", dir, err)
	}

	var out LevelEntries
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if len(name) == 2 && isHexPair(name) {
				out.SubDirs = append(out.SubDirs, name)
			}
			continue
		}
		if strings.HasPrefix(name, "o") {
			out.ObjectFiles = append(out.ObjectFiles, name)
		}
	}
	return out, nil
}

func isHexPair(s string) bool {
	if len(s) != 2 {
		return false
	}
	_, err := strconv.ParseUint(s, 16, 8)
	return err == nil
}

// ObjectIDFromPath reconstructs the object ID implied by a segment path
// (hex pairs from root down) plus the final "oYY" leaf name, inverting
// ObjectPath. Used by the checker when it discovers an object file by
// walking the tree rather than by looking it up by ID.
func (n *Namespace) ObjectIDFromPath(segments []uint64, leafName string) (objectid.ID, error) {
	if len(leafName) != 3 || leafName[0] != 'o' {
		return 0, fmt.Errorf("ons: malformed object filename %q", leafName)
	}
	leaf, err := strconv.ParseUint(leafName[1:], 16, 8)
	if err != nil {
		return 0, fmt.Errorf("ons: malformed object filename %q: %w", leafName, err)
	}

	var id uint64
	for i := len(segments) - 1; i >= 0; i-- {
		id = (id << n.segmentBits) | (segments[i] & n.segmentMask)
	}
	id = (id << n.segmentBits) | (leaf & n.segmentMask)
	return objectid.ID(id), nil
}
