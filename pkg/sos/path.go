package sos

import "path/filepath"

func joinRel(root, relPath string) string {
	return filepath.Join(root, relPath)
}

// File extensions, per spec.md §6.
const (
	extWriteTemp = ".rfwX" // in-progress write, not yet committed
	extWriteFile = ".rfw"  // committed pre-transform single file
	extStriped   = ".rf"   // committed stripe/parity file, one per disc
)

func quarantineDir(root string) string {
	return filepath.Join(root, ".raidfile-unreadable")
}
