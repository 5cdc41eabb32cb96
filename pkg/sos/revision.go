package sos

import (
	"os"
	"syscall"
	"time"
)

// Revision identifies one physical state of a file for cache-invalidation
// purposes: the (inode, mtime) pair spec.md §4.1 and §5 both call for.
// Grounded on stdlib syscall.Stat_t directly — no example repo in the pack
// reaches for inode numbers, and the contract is a thin, unavoidable OS
// call (see DESIGN.md).
type Revision struct {
	Inode   uint64
	ModTime time.Time
	Size    int64
}

func revisionOf(path string) (Revision, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return Revision{}, false
	}
	rev := Revision{ModTime: fi.ModTime(), Size: fi.Size()}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		rev.Inode = st.Ino
	}
	return rev, true
}

// Combine folds a set of per-file revisions (e.g. all three stripe files)
// into one revision for the whole object, so a session's directory cache
// can invalidate on any one stripe's change without tracking each
// separately.
func combineRevisions(revs ...Revision) Revision {
	var out Revision
	for _, r := range revs {
		out.Inode ^= r.Inode
		if r.ModTime.After(out.ModTime) {
			out.ModTime = r.ModTime
		}
		out.Size += r.Size
	}
	return out
}
