package dashboard

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Snapshotter saves annotated frames to disk on request.
type Snapshotter struct {
	mu           sync.RWMutex
	basePath     string
	count        uint64
	bytesWritten uint64
	lastFile     string
	lastSavedAt  time.Time
}

// NewSnapshotter creates a snapshotter writing into basePath.
func NewSnapshotter(basePath string) *Snapshotter {
	return &Snapshotter{basePath: basePath}
}

// Save writes the given JPEG bytes to a timestamped file and returns the
// filename.
func (s *Snapshotter) Save(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("no frame available")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("snapshot_%s.jpg", timestamp)
	path := filepath.Join(s.basePath, filename)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	s.count++
	s.bytesWritten += uint64(len(data))
	s.lastFile = filename
	s.lastSavedAt = time.Now()
	return filename, nil
}

// Status returns the snapshot state for the dashboard.
func (s *Snapshotter) Status() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := map[string]interface{}{
		"count":         s.count,
		"bytes_written": s.bytesWritten,
	}
	if s.lastFile != "" {
		status["last_file"] = s.lastFile
		status["last_saved_at"] = s.lastSavedAt.Unix()
	}
	return status
}
