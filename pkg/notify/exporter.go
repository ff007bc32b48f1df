package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileObserver appends notifications to a JSON Lines file with automatic
// size-based rotation.
type FileObserver struct {
	filePath        string
	maxSizeBytes    int64
	maxRotatedFiles int
	file            *os.File
	encoder         *json.Encoder
	mu              sync.Mutex
	closed          bool
}

// FileObserverOption configures a FileObserver.
type FileObserverOption func(*FileObserver)

// WithMaxSize sets the maximum file size before rotation (default: 10MB).
func WithMaxSize(bytes int64) FileObserverOption {
	return func(fo *FileObserver) {
		fo.maxSizeBytes = bytes
	}
}

// WithMaxRotatedFiles sets how many rotated files to keep (default: 5).
func WithMaxRotatedFiles(count int) FileObserverOption {
	return func(fo *FileObserver) {
		fo.maxRotatedFiles = count
	}
}

// NewFileObserver creates a file-based notification observer. The file is
// opened immediately and rotation is checked on each Notify.
func NewFileObserver(filePath string, opts ...FileObserverOption) (*FileObserver, error) {
	fo := &FileObserver{
		filePath:        filePath,
		maxSizeBytes:    10 * 1024 * 1024, // 10MB default
		maxRotatedFiles: 5,
	}

	for _, opt := range opts {
		opt(fo)
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create notification directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open notification file: %w", err)
	}

	fo.file = file
	fo.encoder = json.NewEncoder(file)

	return fo, nil
}

// Notify writes the notification as a JSON Lines entry and rotates the
// file if it exceeds the size threshold.
func (fo *FileObserver) Notify(_ context.Context, n *Notification) error {
	fo.mu.Lock()
	defer fo.mu.Unlock()

	if fo.closed {
		return fmt.Errorf("observer closed")
	}

	if err := fo.encoder.Encode(n); err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	if err := fo.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotate notification file: %w", err)
	}

	return nil
}

// Close flushes and closes the notification file.
func (fo *FileObserver) Close() error {
	fo.mu.Lock()
	defer fo.mu.Unlock()

	if fo.closed {
		return nil
	}
	fo.closed = true

	if fo.file != nil {
		if err := fo.file.Sync(); err != nil {
			fo.file.Close()
			return fmt.Errorf("sync notification file: %w", err)
		}
		return fo.file.Close()
	}
	return nil
}

// rotateIfNeeded checks file size and rotates if the threshold is
// exceeded. Must be called with lock held.
func (fo *FileObserver) rotateIfNeeded() error {
	info, err := fo.file.Stat()
	if err != nil {
		return fmt.Errorf("stat notification file: %w", err)
	}

	if info.Size() < fo.maxSizeBytes {
		return nil
	}

	if err := fo.file.Close(); err != nil {
		return fmt.Errorf("close notification file for rotation: %w", err)
	}

	if err := fo.rotateFiles(); err != nil {
		return fmt.Errorf("rotate files: %w", err)
	}

	file, err := os.OpenFile(fo.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("reopen notification file: %w", err)
	}
	fo.file = file
	fo.encoder = json.NewEncoder(file)

	return nil
}

// rotateFiles shifts file.N to file.N+1 (dropping the oldest) and moves
// the current file to .1.
func (fo *FileObserver) rotateFiles() error {
	pattern := fo.filePath + ".*"
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("glob rotated files: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	for _, match := range matches {
		var n int
		if _, err := fmt.Sscanf(match, fo.filePath+".%d", &n); err != nil {
			continue
		}
		if n >= fo.maxRotatedFiles {
			if err := os.Remove(match); err != nil {
				return fmt.Errorf("remove old rotated file: %w", err)
			}
			continue
		}
		next := fmt.Sprintf("%s.%d", fo.filePath, n+1)
		if err := os.Rename(match, next); err != nil {
			return fmt.Errorf("shift rotated file: %w", err)
		}
	}

	if err := os.Rename(fo.filePath, fo.filePath+".1"); err != nil {
		return fmt.Errorf("rotate current file: %w", err)
	}
	return nil
}

// Compile-time interface checks
var (
	_ Observer = (*FileObserver)(nil)
	_ Observer = NoopObserver{}
	_ Observer = FuncObserver(nil)
)
