package dirrecord

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/boxvault/boxvault/pkg/objectid"
)

func TestCheckAndFixDropsDuplicates(t *testing.T) {
	d := New(1, 0)
	e := &Entry{Name: []byte("a"), ID: 2, Flags: FlagFile}
	d.Entries = []*Entry{e, e}

	changed := d.CheckAndFix()
	require.True(t, changed)
	require.Len(t, d.Entries, 1)

	require.False(t, d.CheckAndFix())
}

func TestCheckAndFixDemotesExtraCurrentAndLinksChain(t *testing.T) {
	d := New(1, 0)
	oldest := &Entry{Name: []byte("f"), ID: 2, ModTime: 10, Flags: FlagFile}
	middle := &Entry{Name: []byte("f"), ID: 3, ModTime: 20, Flags: FlagFile}
	newest := &Entry{Name: []byte("f"), ID: 4, ModTime: 30, Flags: FlagFile}
	d.Entries = []*Entry{newest, oldest, middle}

	changed := d.CheckAndFix()
	require.True(t, changed)

	require.True(t, oldest.Flags.Has(FlagOldVersion))
	require.True(t, middle.Flags.Has(FlagOldVersion))
	require.False(t, newest.Flags.Has(FlagOldVersion))

	require.Equal(t, objectid.ID(0), oldest.DependsOlder)
	require.Equal(t, middle.ID, oldest.DependsNewer)
	require.Equal(t, oldest.ID, middle.DependsOlder)
	require.Equal(t, newest.ID, middle.DependsNewer)
	require.Equal(t, middle.ID, newest.DependsOlder)
	require.Equal(t, objectid.ID(0), newest.DependsNewer)

	require.False(t, d.CheckAndFix())
}

func TestCheckAndFixDropsDanglingDependencies(t *testing.T) {
	d := New(1, 0)
	e := &Entry{Name: []byte("f"), ID: 2, Flags: FlagFile, DependsOlder: 999}
	d.Entries = []*Entry{e}

	changed := d.CheckAndFix()
	require.True(t, changed)
	require.Equal(t, objectid.ID(0), e.DependsOlder)
}
