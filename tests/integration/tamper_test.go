//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventstore/internal/event"
	"eventstore/internal/sentinel"
	"eventstore/internal/verify"
)

// =============================================================================
// Tamper Detection
// =============================================================================

func TestTamper_ModifiedFieldDetected(t *testing.T) {
	env := NewTestEnv(t)

	env.Append(event.CategorySecurity, "login", "alice")
	target := env.Append(event.CategorySecurity, "sudo", "alice")
	env.Append(event.CategorySecurity, "logout", "alice")

	env.TamperLine(target.ID, "actor", "mallory")

	result, err := env.Store.Verify()
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, verify.ReasonHashMismatch, result.Reason)
	assert.Equal(t, target.ID, result.EventID)
	assert.Equal(t, int64(1), result.Position)
}

func TestTamper_ForgedHashBreaksChain(t *testing.T) {
	env := NewTestEnv(t)

	env.Append(event.CategoryService, "a", "worker")
	target := env.Append(event.CategoryService, "b", "worker")
	successor := env.Append(event.CategoryService, "c", "worker")

	// Rewrite the event and recompute its hash; the successor's stored link
	// now dangles.
	env.TamperLine(target.ID, "actor", "mallory")
	tampered, err := env.Store.GetByID(target.ID)
	require.NoError(t, err)
	forged, err := tampered.ComputeHash()
	require.NoError(t, err)
	env.TamperLine(target.ID, "hash", forged)

	result, err := env.Store.Verify()
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, verify.ReasonChainBreak, result.Reason)
	assert.Equal(t, successor.ID, result.EventID)
}

func TestTamper_TruncationDetected(t *testing.T) {
	env := NewTestEnv(t)

	env.Append(event.CategoryService, "a", "worker")
	env.Append(event.CategoryService, "b", "worker")
	env.Append(event.CategoryService, "c", "worker")

	// Drop the last line of the active segment, then add a new event on the
	// in-memory chain state: its stored link skips the removed event.
	path := env.Store.ActiveSegment()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	trimmed := content[:len(content)-1]
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] != '\n' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	require.NoError(t, os.WriteFile(path, trimmed, 0o640))

	env.Append(event.CategoryService, "d", "worker")

	result, err := env.Store.Verify()
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, verify.ReasonChainBreak, result.Reason)
}

// =============================================================================
// Sentinel
// =============================================================================

func TestTamper_SentinelFlagsWriteToClosedSegment(t *testing.T) {
	env := NewTestEnv(t)
	env.AppendBulk(300, "bulk-load")
	env.WaitForCompression()

	names := env.SegmentNames()
	require.Greater(t, len(names), 1)
	closed := filepath.Join(env.DataDir, names[0])

	s, err := sentinel.New(env.DataDir, "events", nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	f, err := os.OpenFile(closed, os.O_APPEND|os.O_WRONLY, 0o640)
	require.NoError(t, err)
	_, err = f.WriteString("tamper\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	deadline := time.After(5 * time.Second)
	for {
		select {
		case alert, ok := <-s.Alerts():
			require.True(t, ok, "alert channel closed before a critical alert arrived")
			if alert.Severity == sentinel.SeverityCritical {
				assert.Equal(t, closed, alert.Path)
				return
			}
		case <-deadline:
			t.Fatal("no critical alert for write to closed segment")
		}
	}
}
