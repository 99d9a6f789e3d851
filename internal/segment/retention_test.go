package segment

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetention_RemovesExpiredSegments(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

	files := []string{
		"events_20240301_000000.jsonl",    // expired
		"events_20240305_120000.jsonl.gz", // expired
		"events_20240313_000000.jsonl",    // exactly at cutoff: kept
		"events_20240319_000000.jsonl",    // recent
	}
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o640))
	}

	rm := NewRetention(dir, "events", 7, nil, nil)
	removed, err := rm.Cleanup(now)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	remaining, err := List(dir, "events")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"events_20240313_000000.jsonl",
		"events_20240319_000000.jsonl",
	}, remaining)
}

func TestRetention_NeverRemovesActiveSegment(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

	active := filepath.Join(dir, "events_20240301_000000.jsonl")
	require.NoError(t, os.WriteFile(active, []byte("{}\n"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events_20240302_000000.jsonl"), []byte("{}\n"), 0o640))

	rm := NewRetention(dir, "events", 7, func() string { return active }, nil)
	removed, err := rm.Cleanup(now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(active)
	assert.NoError(t, err)
}

func TestRetention_NothingExpired(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events_20240319_000000.jsonl"), []byte("{}\n"), 0o640))

	rm := NewRetention(dir, "events", 7, nil, nil)
	removed, err := rm.Cleanup(now)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRetention_EmptyDir(t *testing.T) {
	rm := NewRetention(t.TempDir(), "events", 7, nil, nil)
	removed, err := rm.Cleanup(time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
