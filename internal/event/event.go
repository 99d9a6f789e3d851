// Package event defines the immutable event record and its hash computation.
//
// Every event carries a SHA-256 self-hash over a canonical serialization of
// its fields and a link to its predecessor's hash, forming an append-ordered
// chain where tampering with any record breaks the chain from that point
// forward.
package event

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the previous_hash of the first event ever appended.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// TimeFormat is the fixed-width UTC timestamp layout. All producers write
// this exact format, so lexical comparison of timestamps equals chronological
// comparison.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// Category classifies the origin of an event.
type Category string

// Known categories.
const (
	CategorySystem   Category = "system"
	CategoryService  Category = "service"
	CategorySecurity Category = "security"
	CategoryAI       Category = "ai"
	CategoryUser     Category = "user"
	CategoryConfig   Category = "config"
	CategoryError    Category = "error"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategorySystem, CategoryService, CategorySecurity,
		CategoryAI, CategoryUser, CategoryConfig, CategoryError:
		return true
	}
	return false
}

// Result describes the outcome of the action an event records.
type Result string

// Known results.
const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
)

// Valid reports whether r is one of the known results.
func (r Result) Valid() bool {
	switch r {
	case ResultSuccess, ResultFailure, ResultPending:
		return true
	}
	return false
}

// Errors returned by Validate.
var (
	ErrMissingAction   = errors.New("event: action is required")
	ErrMissingActor    = errors.New("event: actor is required")
	ErrInvalidCategory = errors.New("event: unknown category")
	ErrInvalidResult   = errors.New("event: unknown result")
)

// Event is a single immutable record in the chain. Once appended it is never
// updated or individually deleted; whole segment files age out instead.
type Event struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Category  Category `json:"category"`
	Action    string   `json:"action"`
	Actor     string   `json:"actor"`
	Target    string   `json:"target,omitempty"`

	// Data is an open string-keyed payload. Producers are heterogeneous, so
	// values are loosely typed and no schema is enforced here.
	Data map[string]any `json:"data"`

	Result Result `json:"result"`
	Error  string `json:"error,omitempty"`

	// PreviousHash links to the predecessor's Hash; the first event links to
	// GenesisHash. Both fields are assigned by the store during append.
	PreviousHash string `json:"previous_hash"`
	Hash         string `json:"hash"`
}

// New returns an event with id, timestamp, category, result, and data
// defaulted. Chain fields are left empty; the store assigns them on append.
func New(category Category, action, actor string) *Event {
	e := &Event{
		Category: category,
		Action:   action,
		Actor:    actor,
	}
	e.ApplyDefaults()
	return e
}

// ApplyDefaults fills in any unset defaultable fields. Caller-supplied
// values are preserved.
func (e *Event) ApplyDefaults() {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Timestamp == "" {
		e.Timestamp = Now()
	}
	if e.Category == "" {
		e.Category = CategorySystem
	}
	if e.Result == "" {
		e.Result = ResultSuccess
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
}

// Validate checks the structural fields. Payload contents are deliberately
// not validated.
func (e *Event) Validate() error {
	if e.Action == "" {
		return ErrMissingAction
	}
	if e.Actor == "" {
		return ErrMissingActor
	}
	if !e.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, e.Category)
	}
	if !e.Result.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResult, e.Result)
	}
	return nil
}

// ComputeHash returns the SHA-256 hex digest of the canonical serialization
// of every field except Hash. The canonical form sorts keys at every nesting
// level, so the digest is independent of field declaration or insertion
// order.
func (e *Event) ComputeHash() (string, error) {
	// Data holds native Go values on a fresh event but generic JSON values
	// after a disk round-trip. Hashing the decoded form keeps the digest
	// identical on both sides, including integers beyond float64 precision.
	data := e.Data
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("event: canonicalize %s: %w", e.ID, err)
		}
		decoded := map[string]any{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return "", fmt.Errorf("event: canonicalize %s: %w", e.ID, err)
		}
		data = decoded
	}

	canonical := map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp,
		"category":      e.Category,
		"action":        e.Action,
		"actor":         e.Actor,
		"target":        e.Target,
		"data":          data,
		"result":        e.Result,
		"error":         e.Error,
		"previous_hash": e.PreviousHash,
	}

	// encoding/json sorts map keys, including nested maps inside Data.
	content, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("event: canonicalize %s: %w", e.ID, err)
	}

	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyHash recomputes the event's hash and reports whether it matches the
// stored Hash.
func (e *Event) VerifyHash() (bool, error) {
	computed, err := e.ComputeHash()
	if err != nil {
		return false, err
	}
	return computed == e.Hash, nil
}

// NewID returns a short opaque identifier derived from the current time and
// a random UUID.
func NewID() string {
	sum := sha256.Sum256([]byte(Now() + uuid.NewString()))
	return hex.EncodeToString(sum[:])[:16]
}

// Now returns the current UTC time in the fixed-width event timestamp format.
func Now() string {
	return time.Now().UTC().Format(TimeFormat)
}

// ParseTimestamp parses a fixed-width event timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimeFormat, s)
}
