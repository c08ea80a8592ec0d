package lease

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rickgao/daily-stats/internal/model"
)

// DefaultFallbackPath is the local lease snapshot in the working directory.
const DefaultFallbackPath = ".daily_job_lock.json"

// FallbackFile holds the most recent lease snapshot on local disk. A nil
// *FallbackFile reads as empty and discards writes.
type FallbackFile struct {
	path   string
	logger *slog.Logger
}

// NewFallbackFile creates a fallback file at path.
func NewFallbackFile(path string, logger *slog.Logger) *FallbackFile {
	if path == "" {
		path = DefaultFallbackPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackFile{path: path, logger: logger}
}

// Path returns the file location.
func (f *FallbackFile) Path() string {
	if f == nil {
		return ""
	}
	return f.path
}

// Read returns the stored snapshot. A missing, empty or corrupt file yields
// nil; corruption is logged and never fatal.
func (f *FallbackFile) Read() *model.LeaseRecord {
	if f == nil {
		return nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.logger.Warn("read lease fallback", "path", f.path, "error", err)
		}
		return nil
	}
	if len(data) == 0 {
		return nil
	}

	rec, err := decodeRecord(data)
	if err != nil {
		f.logger.Warn("corrupt lease fallback ignored", "path", f.path, "error", err)
		return nil
	}
	if rec.Day == "" {
		return nil
	}
	return &rec
}

// Write replaces the snapshot atomically.
func (f *FallbackFile) Write(rec model.LeaseRecord) error {
	if f == nil {
		return nil
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lease fallback: %w", err)
	}

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create lease fallback: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write lease fallback: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close lease fallback: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("rename lease fallback: %w", err)
	}
	return nil
}
