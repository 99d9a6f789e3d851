package event

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	e := New(CategoryService, "deploy", "ci")

	assert.Len(t, e.ID, 16)
	assert.NotEmpty(t, e.Timestamp)
	assert.Equal(t, CategoryService, e.Category)
	assert.Equal(t, ResultSuccess, e.Result)
	assert.NotNil(t, e.Data)
	assert.Empty(t, e.PreviousHash)
	assert.Empty(t, e.Hash)
}

func TestApplyDefaults_PreservesCallerValues(t *testing.T) {
	e := &Event{
		ID:        "abcdef0123456789",
		Timestamp: "2024-01-02T03:04:05.000000Z",
		Category:  CategoryAI,
		Action:    "infer",
		Actor:     "model-router",
		Result:    ResultPending,
	}
	e.ApplyDefaults()

	assert.Equal(t, "abcdef0123456789", e.ID)
	assert.Equal(t, "2024-01-02T03:04:05.000000Z", e.Timestamp)
	assert.Equal(t, CategoryAI, e.Category)
	assert.Equal(t, ResultPending, e.Result)
}

func TestApplyDefaults_FillsCategoryAndResult(t *testing.T) {
	e := &Event{Action: "boot", Actor: "init"}
	e.ApplyDefaults()

	assert.Equal(t, CategorySystem, e.Category)
	assert.Equal(t, ResultSuccess, e.Result)
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		require.Len(t, id, 16)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNow_FixedWidth(t *testing.T) {
	ts := Now()

	// Fixed zero-padded width is what makes lexical comparison valid.
	assert.Len(t, ts, len("2006-01-02T15:04:05.000000Z"))
	assert.True(t, strings.HasSuffix(ts, "Z"))

	parsed, err := ParseTimestamp(ts)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, 5*time.Second)
}

func TestTimestamps_LexicalOrderIsChronological(t *testing.T) {
	earlier := time.Date(2024, 3, 9, 23, 59, 59, 999999000, time.UTC).Format(TimeFormat)
	later := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC).Format(TimeFormat)

	assert.Less(t, earlier, later)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   *Event
		wantErr error
	}{
		{
			name:  "valid",
			event: New(CategorySecurity, "login", "alice"),
		},
		{
			name:    "missing action",
			event:   &Event{Actor: "alice", Category: CategoryUser, Result: ResultSuccess},
			wantErr: ErrMissingAction,
		},
		{
			name:    "missing actor",
			event:   &Event{Action: "login", Category: CategoryUser, Result: ResultSuccess},
			wantErr: ErrMissingActor,
		},
		{
			name:    "unknown category",
			event:   &Event{Action: "login", Actor: "alice", Category: "bogus", Result: ResultSuccess},
			wantErr: ErrInvalidCategory,
		},
		{
			name:    "unknown result",
			event:   &Event{Action: "login", Actor: "alice", Category: CategoryUser, Result: "maybe"},
			wantErr: ErrInvalidResult,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestComputeHash_Deterministic(t *testing.T) {
	e := New(CategoryConfig, "update", "operator")
	e.Target = "retention_days"
	e.Data = map[string]any{"old": 30, "new": 90}
	e.PreviousHash = GenesisHash

	h1, err := e.ComputeHash()
	require.NoError(t, err)
	h2, err := e.ComputeHash()
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestComputeHash_ExcludesHashField(t *testing.T) {
	e := New(CategorySystem, "boot", "init")
	e.PreviousHash = GenesisHash

	before, err := e.ComputeHash()
	require.NoError(t, err)

	e.Hash = before
	after, err := e.ComputeHash()
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestComputeHash_SensitiveToEveryField(t *testing.T) {
	base := func() *Event {
		e := New(CategoryUser, "login", "alice")
		e.ID = "0123456789abcdef"
		e.Timestamp = "2024-06-01T12:00:00.000000Z"
		e.Target = "session"
		e.Data = map[string]any{"ip": "10.0.0.1"}
		e.PreviousHash = GenesisHash
		return e
	}

	reference, err := base().ComputeHash()
	require.NoError(t, err)

	mutations := map[string]func(*Event){
		"id":            func(e *Event) { e.ID = "fedcba9876543210" },
		"timestamp":     func(e *Event) { e.Timestamp = "2024-06-01T12:00:01.000000Z" },
		"category":      func(e *Event) { e.Category = CategorySecurity },
		"action":        func(e *Event) { e.Action = "logout" },
		"actor":         func(e *Event) { e.Actor = "bob" },
		"target":        func(e *Event) { e.Target = "token" },
		"data":          func(e *Event) { e.Data["ip"] = "10.0.0.2" },
		"result":        func(e *Event) { e.Result = ResultFailure },
		"error":         func(e *Event) { e.Error = "bad password" },
		"previous_hash": func(e *Event) { e.PreviousHash = strings.Repeat("f", 64) },
	}

	for field, mutate := range mutations {
		t.Run(field, func(t *testing.T) {
			e := base()
			mutate(e)
			h, err := e.ComputeHash()
			require.NoError(t, err)
			assert.NotEqual(t, reference, h, "mutating %s must change the hash", field)
		})
	}
}

func TestComputeHash_SurvivesJSONRoundTrip(t *testing.T) {
	e := New(CategoryAI, "generate", "orchestrator")
	e.Data = map[string]any{
		"model":  "resnet",
		"tokens": 512,
		"nested": map[string]any{"temperature": 0.7, "streaming": true},
		// Larger than float64 can represent exactly; decoding and
		// re-encoding changes the literal.
		"offset": int64(9007199254740993),
		"serial": uint64(math.MaxUint64),
	}
	e.PreviousHash = GenesisHash

	hash, err := e.ComputeHash()
	require.NoError(t, err)
	e.Hash = hash

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(raw, &decoded))

	recomputed, err := decoded.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, hash, recomputed)

	ok, err := decoded.VerifyHash()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGenesisHash(t *testing.T) {
	assert.Len(t, GenesisHash, 64)
	assert.Equal(t, strings.Repeat("0", 64), GenesisHash)
}
