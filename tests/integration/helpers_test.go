//go:build integration

// Package integration provides end-to-end integration tests for the event
// store: append through rotation, compression, restart recovery, retention,
// and full-chain verification.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"eventstore/internal/config"
	"eventstore/internal/event"
	"eventstore/internal/segment"
	"eventstore/internal/store"
)

// =============================================================================
// Test Environment Setup
// =============================================================================

// TestEnv holds a store over a temporary data directory, reopenable in place
// to exercise restart recovery.
type TestEnv struct {
	T       *testing.T
	DataDir string
	Config  *config.Config
	Store   *store.Store
}

// NewTestEnv creates a store over a fresh temporary directory.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.FilePrefix = "events"
	cfg.Storage.MaxSegmentSizeMB = 1
	cfg.Storage.RetentionDays = 7

	env := &TestEnv{T: t, DataDir: cfg.Storage.DataDir, Config: cfg}
	env.open()
	t.Cleanup(func() { env.Store.Close() })
	return env
}

func (env *TestEnv) open() {
	env.T.Helper()
	s, err := store.Open(env.Config, nil)
	require.NoError(env.T, err)
	env.Store = s
}

// Reopen closes the store and opens it again over the same directory, as a
// process restart would.
func (env *TestEnv) Reopen() {
	env.T.Helper()
	require.NoError(env.T, env.Store.Close())
	env.open()
}

// Append appends one event and fails the test on error.
func (env *TestEnv) Append(category event.Category, action, actor string) *event.Event {
	env.T.Helper()
	e, err := env.Store.Append(event.New(category, action, actor))
	require.NoError(env.T, err)
	return e
}

// AppendBulk appends count padded events, enough volume to force segment
// rotation at the 1 MB test threshold when count is a few hundred.
func (env *TestEnv) AppendBulk(count int, action string) []*event.Event {
	env.T.Helper()
	padding := strings.Repeat("x", 8*1024)
	events := make([]*event.Event, count)
	for i := range events {
		e := event.New(event.CategoryService, action, fmt.Sprintf("worker-%d", i%4))
		e.Data["padding"] = padding
		e.Data["sequence"] = i
		_, err := env.Store.Append(e)
		require.NoError(env.T, err)
		events[i] = e
	}
	return events
}

// SegmentNames lists the segment files currently on disk, oldest first.
func (env *TestEnv) SegmentNames() []string {
	env.T.Helper()
	names, err := segment.List(env.DataDir, "events")
	require.NoError(env.T, err)
	return names
}

// WaitForCompression blocks until every non-active segment has been
// compressed, or fails the test after a timeout.
func (env *TestEnv) WaitForCompression() {
	env.T.Helper()
	require.Eventually(env.T, func() bool {
		names, err := segment.List(env.DataDir, "events")
		if err != nil || len(names) == 0 {
			return false
		}
		for _, name := range names[:len(names)-1] {
			if !segment.IsCompressed(name) {
				return false
			}
		}
		return true
	}, 15*time.Second, 50*time.Millisecond, "rotated segments were not compressed")
}

// RequireValidChain verifies the full chain and asserts the expected count.
func (env *TestEnv) RequireValidChain(expectedEvents int64) {
	env.T.Helper()
	result, err := env.Store.Verify()
	require.NoError(env.T, err)
	require.True(env.T, result.Valid, "chain invalid: %s", result.Detail)
	require.Equal(env.T, expectedEvents, result.EventsChecked)
}

// TamperLine rewrites one stored field of the event with the given id,
// leaving the stored hash untouched.
func (env *TestEnv) TamperLine(id, field string, value any) {
	env.T.Helper()

	for _, name := range env.SegmentNames() {
		if segment.IsCompressed(name) {
			continue
		}
		path := filepath.Join(env.DataDir, name)
		content, err := os.ReadFile(path)
		require.NoError(env.T, err)

		lines := strings.Split(strings.TrimSpace(string(content)), "\n")
		changed := false
		for i, line := range lines {
			var m map[string]any
			require.NoError(env.T, json.Unmarshal([]byte(line), &m))
			if m["id"] != id {
				continue
			}
			m[field] = value
			raw, err := json.Marshal(m)
			require.NoError(env.T, err)
			lines[i] = string(raw)
			changed = true
		}
		if changed {
			require.NoError(env.T, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o640))
			return
		}
	}
	env.T.Fatalf("event %s not found in any plain segment", id)
}
