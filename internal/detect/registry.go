package detect

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crowdvision/people-counter/internal/logger"
)

// weightExtensions are the weight file extensions surfaced in the dropdown.
var weightExtensions = map[string]struct{}{
	".pt":   {},
	".onnx": {},
}

// ModelRef identifies a weight file available for loading.
type ModelRef struct {
	Name string `json:"name"`
	Path string `json:"-"`
}

// Registry enumerates weight files in a directory. The listing is ordered by
// name and stable across rescans.
type Registry struct {
	dir string

	mu   sync.Mutex
	refs []ModelRef
}

// NewRegistry creates a registry over the given model directory.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Scan re-reads the model directory and returns the current listing.
func (r *Registry) Scan() ([]ModelRef, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("scan model directory %s: %w", r.dir, err)
	}

	refs := make([]ModelRef, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if _, ok := weightExtensions[ext]; !ok {
			continue
		}
		refs = append(refs, ModelRef{
			Name: entry.Name(),
			Path: filepath.Join(r.dir, entry.Name()),
		})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })

	r.mu.Lock()
	r.refs = refs
	r.mu.Unlock()

	return refs, nil
}

// List returns the listing from the most recent scan.
func (r *Registry) List() []ModelRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ModelRef, len(r.refs))
	copy(out, r.refs)
	return out
}

// Lookup resolves a model name from the most recent scan.
func (r *Registry) Lookup(name string) (ModelRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ref := range r.refs {
		if ref.Name == name {
			return ref, true
		}
	}
	return ModelRef{}, false
}

// Watch rescans the directory whenever its contents change, until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch model directory %s: %w", r.dir, err)
	}

	go func() {
		defer watcher.Close()

		// Coalesce event bursts (editors and copies fire several per file).
		var pending <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) != 0 {
					pending = time.After(250 * time.Millisecond)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Registry", "Watcher error: %v", err)
			case <-pending:
				pending = nil
				if _, err := r.Scan(); err != nil {
					logger.Warn("Registry", "Rescan failed: %v", err)
				} else {
					logger.Debug("Registry", "Model directory rescanned (%d models)", len(r.List()))
				}
			}
		}
	}()

	return nil
}
