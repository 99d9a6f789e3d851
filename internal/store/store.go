// Package store composes the segment writer, reader, verifier, and
// retention manager into the event store facade.
//
// The store is a single-process, single-data-directory system of record.
// Multiple processes writing to the same directory will corrupt the chain;
// that constraint is external and not resolved here. Within one process all
// appends are serialized; reads run freely concurrently with appends and
// with each other.
package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"eventstore/internal/config"
	"eventstore/internal/event"
	"eventstore/internal/logging"
	"eventstore/internal/metrics"
	"eventstore/internal/segment"
	"eventstore/internal/verify"
)

// ErrNotFound is returned by GetByID for an unknown event id.
var ErrNotFound = errors.New("store: event not found")

// Status summarizes the store. Computing TotalEvents requires rescanning
// (and decompressing) every segment, so Status is O(total history) per call.
type Status struct {
	TotalEvents    int64  `json:"total_events"`
	FirstEventTime string `json:"first_event_time,omitempty"`
	LastEventTime  string `json:"last_event_time,omitempty"`
	LastHash       string `json:"last_hash"`
	FileCount      int    `json:"file_count"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
}

// Store is the append-only, hash-chained event log.
type Store struct {
	cfg *config.Config
	log *logging.Logger
	m   *metrics.StoreMetrics

	writer     *segment.Writer
	reader     *segment.Reader
	verifier   *verify.Verifier
	retention  *segment.Retention
	compressor *segment.Compressor
}

// Open initializes the store over the configured data directory, recovering
// the in-memory chain state (last_hash, event_count) from the persisted
// segments. A fresh directory starts the chain at the genesis hash.
func Open(cfg *config.Config, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Default()
	}

	dataDir := cfg.Storage.DataDir
	prefix := cfg.Storage.FilePrefix

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	s := &Store{
		cfg:    cfg,
		log:    log,
		m:      metrics.NewStoreMetrics(nil),
		reader: segment.NewReader(dataDir, prefix, log),
	}
	s.verifier = verify.NewVerifier(s.reader)
	s.compressor = segment.NewCompressor(log)

	lastHash, count, activePath, err := s.recover()
	if err != nil {
		return nil, err
	}

	writer, err := segment.NewWriter(segment.WriterOptions{
		Dir:        dataDir,
		Prefix:     prefix,
		MaxBytes:   cfg.Storage.MaxSegmentBytes(),
		ActivePath: activePath,
		LastHash:   lastHash,
		Count:      count,
		OnRotate:   s.onRotate,
	})
	if err != nil {
		return nil, err
	}
	s.writer = writer

	s.retention = segment.NewRetention(dataDir, prefix, cfg.Storage.RetentionDays, writer.ActivePath, log)

	if activePath != "" {
		log.Info("initialized from existing data",
			"active_segment", activePath,
			"event_count", count,
			"last_hash", shortHash(lastHash))
	} else {
		log.Info("initialized event store", "data_dir", dataDir)
	}

	s.m.EventCount.Set(count)
	return s, nil
}

// recover rebuilds last_hash and event_count from disk. The hash comes from
// the last parseable line of the newest segment, falling back through older
// (possibly compressed) segments when the newest has none. The count is a
// full line scan; like Status, it is O(history), paid once at startup.
func (s *Store) recover() (lastHash string, count int64, activePath string, err error) {
	paths, err := s.reader.Segments()
	if err != nil {
		return "", 0, "", err
	}

	lastHash = event.GenesisHash
	found := false
	for i := len(paths) - 1; i >= 0; i-- {
		lines, err := s.reader.Lines(paths[i])
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", 0, "", err
		}

		for _, line := range lines {
			if line.Err != nil {
				s.log.Warn("skipping malformed event line during recovery", "error", line.Err)
				continue
			}
			count++
		}

		if !found {
			for j := len(lines) - 1; j >= 0; j-- {
				if lines[j].Err == nil {
					lastHash = lines[j].Event.Hash
					found = true
					break
				}
			}
		}
	}

	// Appends continue in the newest segment if it is still plain; a
	// compressed newest segment means the next append starts a fresh file.
	if len(paths) > 0 {
		newest := paths[len(paths)-1]
		if !segment.IsCompressed(newest) {
			activePath = newest
		}
	}

	return lastHash, count, activePath, nil
}

// onRotate is the writer's rotation callback, already running on its own
// goroutine.
func (s *Store) onRotate(path string) {
	s.m.RotationsTotal.Inc()
	if err := s.compressor.Compress(path); err != nil {
		s.m.CompressionFailures.Inc()
		s.log.Error("segment compression failed", "file", path, "error", err)
		return
	}
	s.m.CompressionsTotal.Inc()
}

// Append assigns defaults and chain linkage to e and persists it durably.
// On failure the error is surfaced and the chain state is untouched; no
// event is ever half-committed.
func (s *Store) Append(e *event.Event) (*event.Event, error) {
	start := time.Now()

	e.ApplyDefaults()
	if err := e.Validate(); err != nil {
		return nil, err
	}

	if err := s.writer.Append(e); err != nil {
		s.m.AppendErrorsTotal.Inc()
		return nil, err
	}

	s.m.AppendsTotal.Inc()
	s.m.AppendDuration.ObserveDuration(time.Since(start))
	s.m.EventCount.Set(s.writer.Count())
	s.m.ActiveSegmentSize.Set(s.writer.ActiveSize())

	s.log.Debug("event appended",
		"event_id", e.ID,
		"action", e.Action,
		"hash", shortHash(e.Hash))

	return e, nil
}

// Query returns matching events, most recent first. An offset beyond the
// total match count yields an empty result, not an error.
func (s *Store) Query(f segment.Filter, limit, offset int) ([]event.Event, error) {
	s.m.QueriesTotal.Inc()
	return s.reader.Query(f, limit, offset)
}

// GetByID scans the history for an event by id. The scan is O(total events)
// in the worst case; there is no secondary index.
func (s *Store) GetByID(id string) (*event.Event, error) {
	e, ok, err := s.reader.FindByID(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Verify checks the integrity of the full persisted chain. An invalid chain
// is a normal, reportable outcome with positional detail.
func (s *Store) Verify() (*verify.Result, error) {
	start := time.Now()
	result, err := s.verifier.Verify()
	if err != nil {
		return nil, err
	}

	s.m.VerificationsTotal.Inc()
	s.m.VerificationDuration.ObserveDuration(time.Since(start))

	s.log.Info("chain verification complete",
		"events", result.EventsChecked,
		"valid", result.Valid)
	return result, nil
}

// Cleanup removes whole segment files past the retention window and returns
// how many were deleted. The active segment is never removed.
func (s *Store) Cleanup() (int, error) {
	removed, err := s.retention.Cleanup(time.Now())
	s.m.SegmentsDeleted.Add(uint64(removed))
	return removed, err
}

// Status reports store-wide statistics. TotalEvents and the first/last
// timestamps come from a full rescan of every segment.
func (s *Store) Status() (*Status, error) {
	paths, err := s.reader.Segments()
	if err != nil {
		return nil, err
	}

	status := &Status{
		LastHash:  s.writer.LastHash(),
		FileCount: len(paths),
	}

	for _, path := range paths {
		if info, err := os.Stat(path); err == nil {
			status.TotalSizeBytes += info.Size()
		}

		lines, err := s.reader.Lines(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		for _, line := range lines {
			if line.Err != nil {
				s.log.Warn("skipping malformed event line", "error", line.Err)
				continue
			}
			if status.FirstEventTime == "" {
				status.FirstEventTime = line.Event.Timestamp
			}
			status.LastEventTime = line.Event.Timestamp
			status.TotalEvents++
		}
	}

	s.m.SegmentFiles.Set(int64(status.FileCount))
	return status, nil
}

// EventCount returns the in-memory lifetime event count.
func (s *Store) EventCount() int64 {
	return s.writer.Count()
}

// LastHash returns the hash of the most recently appended event.
func (s *Store) LastHash() string {
	return s.writer.LastHash()
}

// DataDir returns the store's data directory.
func (s *Store) DataDir() string {
	return s.cfg.Storage.DataDir
}

// ActiveSegment returns the path of the segment currently receiving
// appends, or empty before the first append into a fresh store.
func (s *Store) ActiveSegment() string {
	return s.writer.ActivePath()
}

// Close closes the active segment file. Every append is already durable, so
// nothing else needs flushing.
func (s *Store) Close() error {
	return s.writer.Close()
}

func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16] + "..."
}
