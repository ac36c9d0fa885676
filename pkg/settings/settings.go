// Package settings exposes tenant configuration to the indexing core.
//
// The transformer's language fallback and the multi-language fan-out both
// consume the configured language list through the Provider interface, never
// through ambient process state. Static suits tests and single-tenant
// deployments; File follows a JSON settings file and picks up edits without a
// restart.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/calderas/lattice/pkg/async"
	"github.com/calderas/lattice/pkg/model"
	"github.com/calderas/lattice/pkg/observability"
)

// Provider hands out the current tenant settings.
type Provider interface {
	Settings(ctx context.Context) (model.Settings, error)
}

// Static is a fixed-value Provider.
type Static struct {
	Value model.Settings
}

// Settings implements Provider.
func (s Static) Settings(context.Context) (model.Settings, error) {
	return s.Value, nil
}

// File is a Provider backed by a JSON file, reloaded on change.
type File struct {
	path    string
	logger  *observability.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current model.Settings
}

// NewFile loads the settings file and starts watching it for changes.
func NewFile(path string, logger *observability.Logger) (*File, error) {
	f := &File{path: path, logger: logger}
	if err := f.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create settings watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	f.watcher = watcher

	async.SafeGo(context.Background(), logger, 0, "settings-watch", f.watch)
	return f, nil
}

// Settings implements Provider.
func (f *File) Settings(context.Context) (model.Settings, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current, nil
}

// Close stops the file watcher.
func (f *File) Close() error {
	if f.watcher == nil {
		return nil
	}
	return f.watcher.Close()
}

func (f *File) watch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-f.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := f.reload(); err != nil {
				// Keep serving the last good snapshot.
				f.logger.WithError(err).Warn("failed to reload settings file")
			} else {
				f.logger.WithField("path", f.path).Info("settings reloaded")
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.WithError(err).Warn("settings watcher error")
		}
	}
}

func (f *File) reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("failed to read settings file: %w", err)
	}
	var s model.Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to parse settings file: %w", err)
	}
	if len(s.Languages) == 0 {
		return fmt.Errorf("settings file declares no languages")
	}

	f.mu.Lock()
	f.current = s
	f.mu.Unlock()
	return nil
}
