// Package sentinel watches the data directory for out-of-band modification
// of segment files.
//
// Segments are append-only while active and immutable once closed, so apart
// from the store's own rotation, compression, and retention activity, any
// write, rename, or removal is a tamper signal worth surfacing. The sentinel
// classifies filesystem events against those expectations and emits alerts;
// it makes no attempt to block anything, it only observes.
package sentinel

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"eventstore/internal/logging"
	"eventstore/internal/segment"
)

// Severity grades an alert.
type Severity string

// Alert severities.
const (
	// SeverityInfo marks expected activity: appends to the newest plain
	// segment, new segments appearing.
	SeverityInfo Severity = "info"
	// SeverityWarning marks activity that is legitimate for the owning
	// process but notable otherwise, like a compression transition.
	SeverityWarning Severity = "warning"
	// SeverityCritical marks modifications that the store never performs:
	// writes to closed or compressed segments, unexplained removals.
	SeverityCritical Severity = "critical"
)

// Alert describes one observed filesystem event on a segment file.
type Alert struct {
	Time     time.Time `json:"time"`
	Path     string    `json:"path"`
	Op       string    `json:"op"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
}

// Sentinel monitors one data directory.
type Sentinel struct {
	dir    string
	prefix string
	log    *logging.Logger

	fsWatcher *fsnotify.Watcher

	alerts chan Alert
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a sentinel over the segment files in dir.
func New(dir, prefix string, log *logging.Logger) (*Sentinel, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = segment.DefaultPrefix
	}
	if log == nil {
		log = logging.Default()
	}

	return &Sentinel{
		dir:       dir,
		prefix:    prefix,
		log:       log,
		fsWatcher: fsWatcher,
		alerts:    make(chan Alert, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Alerts returns the channel of tamper alerts.
func (s *Sentinel) Alerts() <-chan Alert {
	return s.alerts
}

// Errors returns the channel of watcher errors.
func (s *Sentinel) Errors() <-chan error {
	return s.errors
}

// Start begins watching the data directory.
func (s *Sentinel) Start() error {
	absDir, err := filepath.Abs(s.dir)
	if err != nil {
		return err
	}
	s.dir = absDir

	if err := s.fsWatcher.Add(absDir); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.eventLoop()
	return nil
}

// Stop shuts the sentinel down and closes the alert channel.
func (s *Sentinel) Stop() {
	s.once.Do(func() {
		close(s.done)
		s.fsWatcher.Close()
		s.wg.Wait()
		close(s.alerts)
	})
}

// eventLoop classifies raw filesystem events into alerts.
func (s *Sentinel) eventLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-s.fsWatcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if !segment.IsSegment(name, s.prefix) {
				continue
			}
			if alert, ok := s.classify(ev); ok {
				s.emit(alert)
			}

		case err, ok := <-s.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case s.errors <- err:
			default:
			}
		}
	}
}

// classify maps a filesystem event to an alert. The newest plain segment is
// treated as active; everything else is closed and must not change.
func (s *Sentinel) classify(ev fsnotify.Event) (Alert, bool) {
	alert := Alert{
		Time: time.Now().UTC(),
		Path: ev.Name,
		Op:   ev.Op.String(),
	}
	name := filepath.Base(ev.Name)
	compressed := segment.IsCompressed(name)

	switch {
	case ev.Op.Has(fsnotify.Create):
		alert.Severity = SeverityInfo
		alert.Message = "segment appeared"

	case ev.Op.Has(fsnotify.Write):
		if !compressed && s.isActive(ev.Name) {
			alert.Severity = SeverityInfo
			alert.Message = "append to active segment"
			break
		}
		alert.Severity = SeverityCritical
		if compressed {
			alert.Message = "write to compressed segment: segments are immutable once compressed"
		} else {
			alert.Message = "write to closed segment: closed segments are immutable"
		}

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		if !compressed && s.hasCompressedCounterpart(ev.Name) {
			alert.Severity = SeverityWarning
			alert.Message = "plain segment replaced by compressed counterpart"
			break
		}
		alert.Severity = SeverityCritical
		alert.Message = "segment removed without a compressed counterpart"

	case ev.Op.Has(fsnotify.Chmod):
		alert.Severity = SeverityWarning
		alert.Message = "segment permissions changed"

	default:
		return Alert{}, false
	}

	return alert, true
}

// isActive reports whether path is the newest plain segment.
func (s *Sentinel) isActive(path string) bool {
	names, err := segment.List(s.dir, s.prefix)
	if err != nil || len(names) == 0 {
		return false
	}
	newest := names[len(names)-1]
	return !segment.IsCompressed(newest) && filepath.Base(path) == newest
}

// hasCompressedCounterpart reports whether the .gz form of a plain segment
// exists, which identifies a compression transition rather than tampering.
func (s *Sentinel) hasCompressedCounterpart(path string) bool {
	names, err := segment.List(s.dir, s.prefix)
	if err != nil {
		return false
	}
	want := filepath.Base(path) + ".gz"
	for _, name := range names {
		if name == want {
			return true
		}
	}
	return false
}

func (s *Sentinel) emit(alert Alert) {
	switch alert.Severity {
	case SeverityCritical:
		s.log.Error("segment tamper alert", "file", alert.Path, "op", alert.Op, "detail", alert.Message)
	case SeverityWarning:
		s.log.Warn("segment activity", "file", alert.Path, "op", alert.Op, "detail", alert.Message)
	default:
		s.log.Debug("segment activity", "file", alert.Path, "op", alert.Op, "detail", alert.Message)
	}

	select {
	case s.alerts <- alert:
	default:
		// Drop rather than block the watch loop.
	}
}
