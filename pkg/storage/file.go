package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const (
	filePerms = 0600 // Owner read/write only
	dirPerms  = 0700
)

// File stores a value as JSON in <dir>/<key>.json
type File[T any] struct {
	mu        sync.RWMutex
	filePath  string
	available bool
	logger    *slog.Logger
}

var (
	_ Storage[string] = (*File[string])(nil)
	_ Availability    = (*File[string])(nil)
)

// NewFile creates a file-backed slot. An unusable directory does not fail
// construction; the slot reports itself unavailable instead.
func NewFile[T any](dir, key string, logger *slog.Logger) *File[T] {
	if logger == nil {
		logger = slog.Default()
	}
	f := &File[T]{
		filePath:  filepath.Join(dir, key+".json"),
		available: true,
		logger:    logger,
	}
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		logger.Warn("storage directory unavailable", "dir", dir, "error", err)
		f.available = false
	}
	return f
}

// Path returns the backing file path
func (f *File[T]) Path() string {
	return f.filePath
}

func (f *File[T]) Get() (T, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var value T
	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("failed to read storage file", "path", f.filePath, "error", err)
		}
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		f.logger.Warn("failed to parse storage file", "path", f.filePath, "error", err)
		return value, false
	}
	return value, true
}

func (f *File[T]) Set(value T) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	// Write to temp file first, then rename (atomic)
	tmpPath := f.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, filePerms); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := os.Rename(tmpPath, f.filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save storage file: %w", err)
	}
	return nil
}

func (f *File[T]) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove storage file: %w", err)
	}
	return nil
}

func (f *File[T]) IsAvailable() bool {
	return f.available
}
