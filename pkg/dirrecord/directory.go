package dirrecord

import (
	"github.com/boxvault/boxvault/pkg/objectid"
)

// Magic is the 4-byte directory-stream tag, spec.md §6 ("magic 'DIR_'").
var Magic = [4]byte{'D', 'I', 'R', '_'}

// Directory is a parsed directory object: spec.md §4.4's "magic, object-ID,
// container-ID, attributes blob, attribute-modification-time, entry-count,
// entries".
type Directory struct {
	ObjectID      objectid.ID
	ContainerID   objectid.ID
	Attributes    []byte
	AttrModTime   uint64
	Entries       []*Entry
}

// New creates an empty directory object.
func New(id, container objectid.ID) *Directory {
	return &Directory{ObjectID: id, ContainerID: container}
}

// Find returns the entry with the given object ID, or nil.
func (d *Directory) Find(id objectid.ID) *Entry {
	for _, e := range d.Entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// CurrentByName returns the single current (non-OldVersion, non-Deleted)
// entry for name, or nil if there is none.
func (d *Directory) CurrentByName(name []byte) *Entry {
	for _, e := range d.Entries {
		if e.IsCurrent() && bytesEqual(e.Name, name) {
			return e
		}
	}
	return nil
}

// AddEntry appends e, which must not already be present by ID.
func (d *Directory) AddEntry(e *Entry) {
	d.Entries = append(d.Entries, e)
}

// RemoveEntry deletes the entry with the given ID, if present.
func (d *Directory) RemoveEntry(id objectid.ID) {
	out := d.Entries[:0]
	for _, e := range d.Entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	d.Entries = out
}

func bytesEqual(a, b []byte) bool {
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
