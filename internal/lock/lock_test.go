package lock

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireFreshLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.lock.json")

	acquired, owner, err := Acquire(path, "zellij-A", "/work")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.Equal(t, os.Getpid(), owner.PID)
	assert.Equal(t, "zellij-A", owner.ZellijSession)

	rec, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), rec.PID)
}

func TestAcquireLiveOwnerRefuses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.lock.json")

	acquired, _, err := Acquire(path, "", "")
	require.NoError(t, err)
	require.True(t, acquired)

	// A second acquire attempt in the same process simulates a live
	// competing owner (our own pid is, definitionally, alive).
	acquired2, owner2, err := Acquire(path, "", "")
	require.NoError(t, err)
	assert.False(t, acquired2)
	require.NotNil(t, owner2)
	assert.Equal(t, os.Getpid(), owner2.PID)
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.lock.json")

	rec := Record{PID: 999999999, Hostname: "stale-host"}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	acquired, _, err := Acquire(path, "", "")
	require.NoError(t, err)
	assert.True(t, acquired)

	rec2, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), rec2.PID)
}

func TestReleaseOnlyByOwner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.lock.json")

	acquired, _, err := Acquire(path, "", "")
	require.NoError(t, err)
	require.True(t, acquired)

	Release(path)
	_, err = Read(path)
	assert.True(t, os.IsNotExist(err))
}

func TestReleaseNoOpIfNotOwner(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.lock.json")

	rec := Record{PID: 1, Hostname: "someone-else"}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	Release(path)
	_, err = Read(path)
	assert.NoError(t, err, "lock owned by another pid must not be removed")
}
