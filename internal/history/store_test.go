package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	store := Open(path)

	require.NoError(t, store.Append(RoleUser, "A", "hi"))
	require.NoError(t, store.Append(RoleAssistant, "A", "hello"))

	entries, err := store.ReadSnapshot(80)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "hi", entries[0].Text)
	assert.Equal(t, "assistant", entries[1].Role)
}

func TestReadSnapshotMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonl")
	store := Open(path)

	entries, err := store.ReadSnapshot(80)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadSnapshotBoundsToLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	store := Open(path)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Append(RoleNote, "", "n"))
	}

	entries, err := store.ReadSnapshot(3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestReadSnapshotSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	store := Open(path)

	require.NoError(t, store.Append(RoleUser, "", "good-1"))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("not json at all\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, store.Append(RoleUser, "", "good-2"))

	entries, err := store.ReadSnapshot(80)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "good-1", entries[0].Text)
	assert.Equal(t, "good-2", entries[1].Text)
}
