// Package segment manages the on-disk segment files of the event store.
//
// A segment is an append-only file of newline-delimited JSON events. Exactly
// one segment is active at a time; the rest are closed and eligible for
// background gzip compression and, eventually, retention-based deletion.
// Segment names encode their creation time in UTC, so lexical name order is
// chronological order.
package segment

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// File naming constants.
const (
	DefaultPrefix = "events"
	Ext           = ".jsonl"
	CompressedExt = ".jsonl.gz"

	nameTimeLayout = "20060102_150405"
)

// Name returns the plain segment file name for a creation time.
func Name(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s%s", prefix, t.UTC().Format(nameTimeLayout), Ext)
}

// IsCompressed reports whether name refers to a gzip-compressed segment.
func IsCompressed(name string) bool {
	return strings.HasSuffix(name, CompressedExt)
}

// IsSegment reports whether name looks like a segment file (plain or
// compressed) with the given prefix.
func IsSegment(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix+"_") {
		return false
	}
	return strings.HasSuffix(name, Ext) || strings.HasSuffix(name, CompressedExt)
}

// CreationTime extracts the creation time encoded in a segment file name.
func CreationTime(name, prefix string) (time.Time, error) {
	stem := strings.TrimPrefix(name, prefix+"_")
	stem = strings.TrimSuffix(stem, CompressedExt)
	stem = strings.TrimSuffix(stem, Ext)

	t, err := time.Parse(nameTimeLayout, stem)
	if err != nil {
		return time.Time{}, fmt.Errorf("segment: bad name %q: %w", name, err)
	}
	return t, nil
}

// List returns the names of all segment files in dir with the given prefix,
// sorted ascending. Because names encode creation time, ascending name order
// is chronological order. While background compression is mid-flight a
// segment can briefly exist in both plain and compressed form with identical
// content; the compressed one wins, since it is only ever renamed into place
// whole.
func List(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("segment: list %s: %w", dir, err)
	}

	byStem := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !IsSegment(name, prefix) {
			continue
		}
		stem := strings.TrimSuffix(strings.TrimSuffix(name, CompressedExt), Ext)
		if prev, ok := byStem[stem]; ok && IsCompressed(prev) {
			continue
		}
		byStem[stem] = name
	}

	names := make([]string, 0, len(byStem))
	for _, name := range byStem {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
