package selectors

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ternarybob/arbor"
)

// Registry serves the active catalog and swaps it when the override file changes
type Registry struct {
	mu      sync.RWMutex
	catalog Catalog
	path    string
	logger  arbor.ILogger
}

// NewRegistry loads path over the embedded defaults; an empty path uses defaults only
func NewRegistry(path string, logger arbor.ILogger) (*Registry, error) {
	r := &Registry{catalog: Default(), path: path, logger: logger}
	if path == "" {
		return r, nil
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Probes returns the probes for key in priority order
func (r *Registry) Probes(key Key) []Probe {
	r.mu.RLock()
	defer r.mu.RUnlock()

	probes := r.catalog[key]
	out := make([]Probe, len(probes))
	copy(out, probes)
	return out
}

// Reload re-reads the override file. On error the previous catalog stays active.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	catalog, err := LoadFile(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.catalog = catalog
	r.mu.Unlock()

	r.logger.Info().Str("path", r.path).Int("keys", len(catalog)).Msg("Selector catalog loaded")
	return nil
}

// Watch reloads the catalog whenever the override file is written, until ctx ends.
// The parent directory is watched so editors that replace the file are picked up.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch selector directory: %w", err)
	}

	target := filepath.Clean(r.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := r.Reload(); err != nil {
					r.logger.Warn().Err(err).Str("path", r.path).Msg("Selector reload failed, keeping previous catalog")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn().Err(err).Msg("Selector watcher error")
			}
		}
	}()

	return nil
}
