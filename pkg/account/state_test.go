package account

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateDeferredFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "info")

	info := New(1, 0, 0)
	s := NewState(info, path)
	s.saveDelay = 3

	require.NoError(t, s.Mutate(false, func(i *Info) { i.BlocksCurrent++ }))
	require.NoError(t, s.Mutate(false, func(i *Info) { i.BlocksCurrent++ }))
	_, err := Load(path)
	require.Error(t, err, "should not have flushed yet")

	require.NoError(t, s.Mutate(false, func(i *Info) { i.BlocksCurrent++ }))
	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(3), loaded.Info().BlocksCurrent)
}

func TestStateImmediateFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "info")

	s := NewState(New(1, 0, 0), path)
	require.NoError(t, s.Mutate(true, func(i *Info) { i.BlocksCurrent = 5 }))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint64(5), loaded.Info().BlocksCurrent)
}

func TestReplaceCounters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "info")
	s := NewState(New(1, 0, 0), path)

	require.NoError(t, s.ReplaceCounters(1, 2, 3, 4, nil))
	require.Equal(t, uint64(1), s.Info().BlocksCurrent)
	require.Equal(t, uint64(4), s.Info().BlocksDirectories)
}
