package sos

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, blockSize int) *Store {
	t.Helper()
	var ds DiscSet
	for i := range ds.Paths {
		ds.Paths[i] = t.TempDir()
	}
	return New(ds, blockSize)
}

func writeObject(t *testing.T, s *Store, relPath string, data []byte, transform bool) {
	t.Helper()
	w, err := s.OpenWrite(relPath)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Commit(transform))
}

func readAll(t *testing.T, r *Reader) []byte {
	t.Helper()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	return got
}

func TestWriteThenReadPreTransform(t *testing.T) {
	s := newTestStore(t, 64)
	data := payload(500)
	writeObject(t, s, "aa/bb/occ", data, false)

	st, err := s.Exists("aa/bb/occ")
	require.NoError(t, err)
	require.Equal(t, StateWrite, st.State)

	r, err := s.OpenRead("aa/bb/occ")
	require.NoError(t, err)
	require.Equal(t, StateWrite, r.State)
	require.Equal(t, data, readAll(t, r))
}

func TestWriteTransformThenReadStriped(t *testing.T) {
	s := newTestStore(t, 64)
	data := payload(1000)
	writeObject(t, s, "aa/bb/occ", data, true)

	st, err := s.Exists("aa/bb/occ")
	require.NoError(t, err)
	require.Equal(t, StateStriped, st.State)

	r, err := s.OpenRead("aa/bb/occ")
	require.NoError(t, err)
	require.Equal(t, StateStriped, r.State)
	require.Equal(t, data, readAll(t, r))
}

func TestDegradedReadSurvivesOneMissingDisc(t *testing.T) {
	s := newTestStore(t, 64)
	data := payload(1234)
	writeObject(t, s, "aa/bb/ocd", data, true)

	for role := Role(0); role < numRoles; role++ {
		t.Run(role.String(), func(t *testing.T) {
			s2 := newTestStore(t, 64)
			for i := range s2.Discs.Paths {
				s2.Discs.Paths[i] = s.Discs.Paths[i]
			}

			p := s2.Discs.rolePath("aa/bb/ocd", role, extStriped)
			backup := p + ".bak"
			require.NoError(t, os.Rename(p, backup))
			defer os.Rename(backup, p)

			st, err := s2.Exists("aa/bb/ocd")
			require.NoError(t, err)
			require.Equal(t, StateStripedDegraded, st.State)

			r, err := s2.OpenRead("aa/bb/ocd")
			require.NoError(t, err)
			require.Equal(t, StateStripedDegraded, r.State)
			require.Equal(t, data, readAll(t, r))
		})
	}
}

func TestReadDirectoryUnionsAcrossDiscs(t *testing.T) {
	s := newTestStore(t, 64)
	for i, root := range s.Discs.Paths {
		require.NoError(t, os.MkdirAll(filepath.Join(root, "dir"), 0o700))
		name := filepath.Join(root, "dir", "only-on-disc"+string(rune('0'+i)))
		require.NoError(t, os.WriteFile(name, []byte("x"), 0o600))
	}

	names, err := s.ReadDirectory("dir")
	require.NoError(t, err)
	require.Len(t, names, 3)
}

func TestExistsNone(t *testing.T) {
	s := newTestStore(t, 64)
	st, err := s.Exists("nope/nope/oxx")
	require.NoError(t, err)
	require.Equal(t, StateNone, st.State)
}
