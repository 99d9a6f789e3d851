package segment

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"eventstore/internal/logging"
)

// Retention deletes whole expired segment files. Granularity is the file:
// a segment goes when its name-encoded creation date falls strictly before
// the cutoff, never a subset of its events. The active segment is never
// deleted, even if its creation date is old; a segment's effective age span
// is bounded by the rotation size threshold rather than a time threshold.
type Retention struct {
	dir    string
	prefix string
	days   int
	log    *logging.Logger

	// activePath reports the segment currently receiving appends.
	activePath func() string
}

// NewRetention returns a Retention manager. activePath may be nil when no
// writer is attached (read-only tooling).
func NewRetention(dir, prefix string, days int, activePath func() string, log *logging.Logger) *Retention {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = logging.Default()
	}
	return &Retention{
		dir:        dir,
		prefix:     prefix,
		days:       days,
		log:        log,
		activePath: activePath,
	}
}

// Cleanup removes expired segment files and returns how many were deleted.
// Individual delete failures are logged and do not stop the sweep; the
// first error is returned after the sweep completes.
func (rm *Retention) Cleanup(now time.Time) (int, error) {
	names, err := List(rm.dir, rm.prefix)
	if err != nil {
		return 0, err
	}

	// Date granularity, matching the name encoding.
	cutoff := now.UTC().AddDate(0, 0, -rm.days).Format("20060102")

	active := ""
	if rm.activePath != nil {
		active = rm.activePath()
	}

	removed := 0
	var errs []error
	for _, name := range names {
		created, err := CreationTime(name, rm.prefix)
		if err != nil {
			rm.log.Warn("skipping segment with unparseable name", "file", name)
			continue
		}
		if created.Format("20060102") >= cutoff {
			continue
		}

		path := filepath.Join(rm.dir, name)
		if active != "" && path == active {
			continue
		}

		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			rm.log.Error("failed to remove expired segment", "file", name, "error", err)
			errs = append(errs, err)
			continue
		}

		rm.log.Info("removed expired segment", "file", name)
		removed++
	}

	return removed, errors.Join(errs...)
}
