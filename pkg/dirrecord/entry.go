// Package dirrecord implements the directory object: an ordered list of
// entries naming a directory's children, their flags, and the patch
// dependency chain that links old/new versions of the same file. Wire
// layout grounded on spec.md §6's "Directory stream" and
// original_source/lib/backupstore/BackupStoreDirectory.cpp's entry layout.
package dirrecord

import "github.com/boxvault/boxvault/pkg/objectid"

// Flags are the entry state bits spec.md §3 names: File, Dir, OldVersion,
// Deleted.
type Flags uint16

const (
	FlagFile Flags = 1 << iota
	FlagDir
	FlagOldVersion
	FlagDeleted
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	s := ""
	if f.Has(FlagFile) {
		s += "File"
	}
	if f.Has(FlagDir) {
		if s != "" {
			s += "|"
		}
		s += "Dir"
	}
	if f.Has(FlagOldVersion) {
		if s != "" {
			s += "|"
		}
		s += "OldVersion"
	}
	if f.Has(FlagDeleted) {
		if s != "" {
			s += "|"
		}
		s += "Deleted"
	}
	if s == "" {
		return "none"
	}
	return s
}

// Entry is one child of a directory: name (left as decrypted plaintext
// bytes here — EFC owns encrypting/decrypting it on the wire), the child's
// object ID, its modification time, size in blocks, flags, an attributes
// blob plus its hash (so an unchanged attributes blob can be detected
// without re-decrypting it), and the patch-chain links.
type Entry struct {
	Name           []byte
	ID             objectid.ID
	ModTime        uint64 // seconds since epoch, matches spec.md §6's mtime field
	SizeBlocks     uint64
	Flags          Flags
	AttrHash       uint64
	Attributes     []byte
	DependsNewer   objectid.ID // 0 if none
	DependsOlder   objectid.ID // 0 if none
}

// IsCurrent reports whether the entry is the live, undeleted version of its
// name (spec.md §3 invariant: at most one current entry per name).
func (e *Entry) IsCurrent() bool {
	return !e.Flags.Has(FlagOldVersion) && !e.Flags.Has(FlagDeleted)
}
