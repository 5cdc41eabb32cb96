package dirrecord

import (
	"sort"

	"github.com/boxvault/boxvault/pkg/objectid"
)

// CheckAndFix is the idempotent structural repair spec.md §4.4 names: drop
// duplicate entries, demote every non-newest "current" entry in a name
// group to OldVersion, rebuild the dependsNewer/dependsOlder chain from
// modification-time order within each name group, and strip dangling
// dependency pointers. It reports whether it changed anything; calling it
// again immediately afterward always reports false.
func (d *Directory) CheckAndFix() bool {
	changed := false

	if d.dropDuplicates() {
		changed = true
	}
	if d.demoteExtraCurrent() {
		changed = true
	}
	if d.rebuildDependencyChains() {
		changed = true
	}
	if d.dropDanglingDependencies() {
		changed = true
	}

	return changed
}

func (d *Directory) dropDuplicates() bool {
	seen := make(map[objectid.ID]bool, len(d.Entries))
	out := d.Entries[:0]
	changed := false
	for _, e := range d.Entries {
		if seen[e.ID] {
			changed = true
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	d.Entries = out
	return changed
}

// demoteExtraCurrent ensures at most one entry per name is current: within
// each name group, the entry with the latest ModTime stays current (or
// Deleted, if it already is), and every other entry claiming current
// status is demoted to OldVersion.
func (d *Directory) demoteExtraCurrent() bool {
	changed := false
	for _, group := range d.groupByName() {
		var newest *Entry
		for _, e := range group {
			if !e.IsCurrent() {
				continue
			}
			if newest == nil || e.ModTime > newest.ModTime || (e.ModTime == newest.ModTime && e.ID > newest.ID) {
				newest = e
			}
		}
		if newest == nil {
			continue
		}
		for _, e := range group {
			if e != newest && e.IsCurrent() {
				e.Flags |= FlagOldVersion
				changed = true
			}
		}
	}
	return changed
}

// rebuildDependencyChains relinks dependsNewer/dependsOlder within each
// name group by modtime order (oldest first): each entry's DependsNewer
// points to the next entry in the group, and that entry's DependsOlder
// points back.
func (d *Directory) rebuildDependencyChains() bool {
	changed := false
	for _, group := range d.groupByName() {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].ModTime != group[j].ModTime {
				return group[i].ModTime < group[j].ModTime
			}
			return group[i].ID < group[j].ID
		})

		for i, e := range group {
			var wantNewer, wantOlder objectid.ID
			if i+1 < len(group) {
				wantNewer = group[i+1].ID
			}
			if i > 0 {
				wantOlder = group[i-1].ID
			}
			if e.DependsNewer != wantNewer {
				e.DependsNewer = wantNewer
				changed = true
			}
			if e.DependsOlder != wantOlder {
				e.DependsOlder = wantOlder
				changed = true
			}
		}
	}
	return changed
}

func (d *Directory) dropDanglingDependencies() bool {
	changed := false
	for _, e := range d.Entries {
		if e.DependsNewer != 0 && d.Find(e.DependsNewer) == nil {
			e.DependsNewer = 0
			changed = true
		}
		if e.DependsOlder != 0 && d.Find(e.DependsOlder) == nil {
			e.DependsOlder = 0
			changed = true
		}
	}
	return changed
}

// groupByName buckets entries sharing the same name, preserving a stable
// iteration order (first-seen name order) for deterministic output.
func (d *Directory) groupByName() [][]*Entry {
	order := make([]string, 0)
	groups := make(map[string][]*Entry)
	for _, e := range d.Entries {
		key := string(e.Name)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}
	out := make([][]*Entry, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}
