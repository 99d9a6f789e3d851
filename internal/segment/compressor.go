package segment

import (
	"compress/gzip"
	"fmt"
	"os"

	"eventstore/internal/logging"
)

// Compressor gzip-compresses closed segment files in the background. It
// writes the compressed copy to a temporary file, fsyncs it, and renames it
// into place before removing the original, so the on-disk state is never
// ambiguous: either the plain file survives whole, or it is gone and the
// .gz exists whole.
type Compressor struct {
	log *logging.Logger
}

// NewCompressor returns a Compressor. A nil logger falls back to the default.
func NewCompressor(log *logging.Logger) *Compressor {
	if log == nil {
		log = logging.Default()
	}
	return &Compressor{log: log}
}

// Compress compresses the plain segment at path. It is idempotent: if the
// compressed file already exists, only the leftover original is removed.
// On failure the original is left intact for retry; no data is lost.
func (c *Compressor) Compress(path string) error {
	if IsCompressed(path) {
		return nil
	}

	target := path + ".gz"
	if _, err := os.Stat(target); err == nil {
		// A previous run compressed this segment but may have died before
		// removing the original.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("segment: remove compressed original: %w", err)
		}
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("segment: read for compression: %w", err)
	}

	tmp := target + ".tmp"
	if err := writeGzip(tmp, content); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("segment: finalize compressed segment: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("segment: remove original after compression: %w", err)
	}

	c.log.Info("compressed segment", "file", target, "original_bytes", len(content))
	return nil
}

// CompressAsync runs Compress and logs the outcome instead of returning it.
// Intended as the writer's rotation callback: compression is best-effort and
// must never fail an append.
func (c *Compressor) CompressAsync(path string) {
	if err := c.Compress(path); err != nil {
		c.log.Error("segment compression failed", "file", path, "error", err)
	}
}

func writeGzip(path string, content []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("segment: create compressed segment: %w", err)
	}

	zw := gzip.NewWriter(file)
	if _, err := zw.Write(content); err != nil {
		zw.Close()
		file.Close()
		return fmt.Errorf("segment: compress: %w", err)
	}
	if err := zw.Close(); err != nil {
		file.Close()
		return fmt.Errorf("segment: flush compressed segment: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("segment: sync compressed segment: %w", err)
	}
	return file.Close()
}
