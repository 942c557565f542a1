package cursor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStoreLoadMissing(t *testing.T) {
	s := NewFileStore(t.TempDir())
	got, err := s.Load("sess-1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFileStoreSaveAndLoadRoundTrip(t *testing.T) {
	s := NewFileStore(t.TempDir())

	require.NoError(t, s.Save(&Cursor{SessionID: "sess-1", RunID: "r1", LastSeq: 4}))

	got, err := s.Load("sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "cursor", got.Type)
	require.Equal(t, 1, got.SchemaVersion)
	require.Equal(t, "r1", got.RunID)
	require.EqualValues(t, 4, got.LastSeq)
	require.NotEmpty(t, got.UpdatedAt)
}

func TestFileStoreMonotonicPerRun(t *testing.T) {
	s := NewFileStore(t.TempDir())

	require.NoError(t, s.Save(&Cursor{SessionID: "sess-1", RunID: "r1", LastSeq: 7}))
	// Backwards write for the same run is a no-op.
	require.NoError(t, s.Save(&Cursor{SessionID: "sess-1", RunID: "r1", LastSeq: 3}))

	got, err := s.Load("sess-1")
	require.NoError(t, err)
	require.EqualValues(t, 7, got.LastSeq)

	// A new run resets the position, even to a lower seq.
	require.NoError(t, s.Save(&Cursor{SessionID: "sess-1", RunID: "r2", LastSeq: 1}))
	got, err = s.Load("sess-1")
	require.NoError(t, err)
	require.Equal(t, "r2", got.RunID)
	require.EqualValues(t, 1, got.LastSeq)
}

func TestFileStoreEmptySessionID(t *testing.T) {
	s := NewFileStore(t.TempDir())
	_, err := s.Load("  ")
	require.Error(t, err)
	require.Error(t, s.Save(&Cursor{SessionID: ""}))
}

func TestFileStoreFileLocation(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(root)
	require.NoError(t, s.Save(&Cursor{SessionID: "abc", RunID: "r1", LastSeq: 1}))

	_, err := filepath.Glob(filepath.Join(root, "abc.json"))
	require.NoError(t, err)
	got, err := s.Load("abc")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestMemStoreMonotonicAndIsolated(t *testing.T) {
	s := NewMemStore()

	got, err := s.Load("sess-1")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.Save(&Cursor{SessionID: "sess-1", RunID: "r1", LastSeq: 5}))
	require.NoError(t, s.Save(&Cursor{SessionID: "sess-1", RunID: "r1", LastSeq: 2}))

	got, err = s.Load("sess-1")
	require.NoError(t, err)
	require.EqualValues(t, 5, got.LastSeq)

	// Mutating the returned copy must not affect the store.
	got.LastSeq = 99
	again, err := s.Load("sess-1")
	require.NoError(t, err)
	require.EqualValues(t, 5, again.LastSeq)
}
