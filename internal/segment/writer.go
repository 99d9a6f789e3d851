package segment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"eventstore/internal/event"
)

// Writer owns the active segment and serializes all appends. The
// check-rotation, link, write, advance sequence runs under one lock because
// rotation decisions and chain linkage both depend on the same shared state.
type Writer struct {
	mu sync.Mutex

	dir      string
	prefix   string
	maxBytes int64

	file *os.File
	path string
	size int64

	lastHash string
	count    int64
	closed   bool

	// onRotate is invoked on its own goroutine with the path of the segment
	// that was just rotated out. It must never block the append path.
	onRotate func(path string)
}

// WriterOptions configures a Writer.
type WriterOptions struct {
	Dir      string
	Prefix   string
	MaxBytes int64

	// ActivePath is the existing active segment to continue appending to.
	// Empty means start a fresh segment on the first append.
	ActivePath string

	// LastHash is the chain state recovered at startup; event.GenesisHash
	// for an empty store.
	LastHash string

	// Count is the recovered event count.
	Count int64

	// OnRotate is scheduled in the background when a segment is rotated out.
	OnRotate func(path string)
}

// NewWriter creates the data directory if needed and prepares the writer.
// When ActivePath names an existing segment, appends continue there.
func NewWriter(opts WriterOptions) (*Writer, error) {
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("segment: create data dir: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	lastHash := opts.LastHash
	if lastHash == "" {
		lastHash = event.GenesisHash
	}

	w := &Writer{
		dir:      opts.Dir,
		prefix:   prefix,
		maxBytes: opts.MaxBytes,
		lastHash: lastHash,
		count:    opts.Count,
		onRotate: opts.OnRotate,
	}

	if opts.ActivePath != "" {
		file, err := os.OpenFile(opts.ActivePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("segment: open active segment: %w", err)
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("segment: stat active segment: %w", err)
		}
		w.file = file
		w.path = opts.ActivePath
		w.size = info.Size()
	}

	return w, nil
}

// Append links the event to the chain and writes it durably. The in-memory
// chain state advances only after the write and flush succeed, so a failed
// append never leaves a half-committed event.
func (w *Writer) Append(e *event.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("segment: writer is closed")
	}

	if w.file == nil {
		if err := w.openNewLocked(); err != nil {
			return err
		}
	} else if w.size >= w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	e.PreviousHash = w.lastHash
	hash, err := e.ComputeHash()
	if err != nil {
		e.PreviousHash, e.Hash = "", ""
		return err
	}
	e.Hash = hash

	line, err := json.Marshal(e)
	if err != nil {
		e.PreviousHash, e.Hash = "", ""
		return fmt.Errorf("segment: encode event %s: %w", e.ID, err)
	}
	line = append(line, '\n')

	if _, err := w.file.Write(line); err != nil {
		e.PreviousHash, e.Hash = "", ""
		return fmt.Errorf("segment: write event %s: %w", e.ID, err)
	}
	if err := w.file.Sync(); err != nil {
		e.PreviousHash, e.Hash = "", ""
		return fmt.Errorf("segment: sync event %s: %w", e.ID, err)
	}

	w.lastHash = e.Hash
	w.count++
	w.size += int64(len(line))

	return nil
}

// openNewLocked opens a fresh segment named by the current UTC time. When a
// rotation lands inside the same second as the previous one, the timestamp
// is bumped until the stem is unused. A stem counts as taken when either the
// plain or the compressed form exists: a rotated-out segment may already have
// been compressed, and reusing its stem would shadow the new active file
// behind the .gz namesake on every read path.
func (w *Writer) openNewLocked() error {
	now := time.Now().UTC()
	path := filepath.Join(w.dir, Name(w.prefix, now))
	for {
		_, plainErr := os.Stat(path)
		_, gzErr := os.Stat(path + ".gz")
		if os.IsNotExist(plainErr) && os.IsNotExist(gzErr) {
			break
		}
		now = now.Add(time.Second)
		path = filepath.Join(w.dir, Name(w.prefix, now))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("segment: open new segment: %w", err)
	}

	w.file = file
	w.path = path
	w.size = 0
	return nil
}

// rotateLocked closes the active segment, opens a successor, and schedules
// the closed file for background compression. If the successor cannot be
// opened the current segment stays active.
func (w *Writer) rotateLocked() error {
	oldFile := w.file
	oldPath := w.path

	// Open the successor first so a failure leaves the writer usable.
	w.file = nil
	if err := w.openNewLocked(); err != nil {
		w.file = oldFile
		w.path = oldPath
		return err
	}

	oldFile.Close()

	if w.onRotate != nil {
		go w.onRotate(oldPath)
	}
	return nil
}

// LastHash returns the hash of the most recently persisted event, or the
// genesis hash for an empty store.
func (w *Writer) LastHash() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHash
}

// Count returns the number of events appended over the store's lifetime.
func (w *Writer) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// ActiveSize returns the size in bytes of the active segment.
func (w *Writer) ActiveSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// ActivePath returns the path of the segment currently receiving appends,
// or empty if no append has happened yet.
func (w *Writer) ActivePath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Close closes the active segment file. Every append is already durable, so
// no other teardown is needed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
