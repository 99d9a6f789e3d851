package segment

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"eventstore/internal/event"
	"eventstore/internal/logging"
)

// Filter selects events in a query. All set fields are ANDed. Category,
// Actor, and Target match exactly; Action matches as a substring. The time
// bounds compare lexically against the fixed-width timestamp strings, which
// is valid because every producer writes the same format.
type Filter struct {
	Category  event.Category
	Action    string
	Actor     string
	Target    string
	StartTime string
	EndTime   string
}

// Matches reports whether e passes every set filter field.
func (f Filter) Matches(e *event.Event) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Action != "" && !strings.Contains(e.Action, f.Action) {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Target != "" && e.Target != f.Target {
		return false
	}
	if f.StartTime != "" && e.Timestamp < f.StartTime {
		return false
	}
	if f.EndTime != "" && e.Timestamp > f.EndTime {
		return false
	}
	return true
}

// Line is one raw line of a segment together with its decode result. Err is
// set when the line is not a parseable event; callers decide whether that is
// skippable noise (query) or a chain break (verification).
type Line struct {
	Segment string
	Index   int
	Raw     []byte
	Event   *event.Event
	Err     error
}

// Reader provides filtered, paginated access to the persisted event history.
// Reads take no write lock; each opened file is a consistent snapshot of
// whatever had been flushed when it was opened.
type Reader struct {
	dir    string
	prefix string
	log    *logging.Logger
}

// NewReader returns a Reader over the segment files in dir.
func NewReader(dir, prefix string, log *logging.Logger) *Reader {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = logging.Default()
	}
	return &Reader{dir: dir, prefix: prefix, log: log}
}

// Segments returns the full paths of all segment files, oldest first.
func (r *Reader) Segments() ([]string, error) {
	names, err := List(r.dir, r.prefix)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(r.dir, name)
	}
	return paths, nil
}

// Lines reads one segment fully into memory, decompressing if needed, and
// returns its lines in forward order. A missing file returns os.ErrNotExist:
// a reader racing background compression must treat that as "skip", not as
// an error.
func (r *Reader) Lines(path string) ([]Line, error) {
	content, err := readSegment(path)
	if err != nil {
		return nil, err
	}

	var lines []Line
	index := 0
	for _, raw := range bytes.Split(content, []byte("\n")) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		line := Line{Segment: path, Index: index, Raw: raw}
		var e event.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			line.Err = fmt.Errorf("segment: parse line %d of %s: %w", index, filepath.Base(path), err)
		} else {
			line.Event = &e
		}
		lines = append(lines, line)
		index++
	}

	return lines, nil
}

// Query returns matching events, most recent first. Segment files are
// visited in descending name order and each file is iterated in reverse;
// the scan stops opening further files as soon as offset+limit matches are
// collected, so small result sets never touch the full history. A limit
// of zero or less disables the cap.
func (r *Reader) Query(f Filter, limit, offset int) ([]event.Event, error) {
	if offset < 0 {
		offset = 0
	}

	paths, err := r.Segments()
	if err != nil {
		return nil, err
	}

	needed := 0
	if limit > 0 {
		needed = offset + limit
	}

	var matches []event.Event
	for i := len(paths) - 1; i >= 0; i-- {
		lines, err := r.Lines(paths[i])
		if err != nil {
			if os.IsNotExist(err) {
				// Compressed out from under us after listing.
				continue
			}
			return nil, err
		}

		for j := len(lines) - 1; j >= 0; j-- {
			line := lines[j]
			if line.Err != nil {
				r.log.Warn("skipping malformed event line", "error", line.Err)
				continue
			}
			if f.Matches(line.Event) {
				matches = append(matches, *line.Event)
				if needed > 0 && len(matches) >= needed {
					break
				}
			}
		}

		if needed > 0 && len(matches) >= needed {
			break
		}
	}

	if offset >= len(matches) {
		return nil, nil
	}
	matches = matches[offset:]
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FindByID scans the whole history, newest first, for an event with the
// given id. The scan is O(total events); there is no secondary index. The
// boolean result distinguishes "not found" from an error.
func (r *Reader) FindByID(id string) (*event.Event, bool, error) {
	paths, err := r.Segments()
	if err != nil {
		return nil, false, err
	}

	for i := len(paths) - 1; i >= 0; i-- {
		lines, err := r.Lines(paths[i])
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, false, err
		}

		for j := len(lines) - 1; j >= 0; j-- {
			line := lines[j]
			if line.Err != nil {
				r.log.Warn("skipping malformed event line", "error", line.Err)
				continue
			}
			if line.Event.ID == id {
				return line.Event, true, nil
			}
		}
	}

	return nil, false, nil
}

// readSegment reads a whole segment file, transparently decompressing .gz
// segments.
func readSegment(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if !IsCompressed(path) {
		content, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("segment: read %s: %w", filepath.Base(path), err)
		}
		return content, nil
	}

	zr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("segment: open compressed %s: %w", filepath.Base(path), err)
	}
	defer zr.Close()

	content, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("segment: decompress %s: %w", filepath.Base(path), err)
	}
	return content, nil
}
