package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Store holds the current settings snapshot. Readers never block; a reload
// swaps the whole snapshot.
type Store struct {
	path    string
	current atomic.Pointer[Settings]

	mu          sync.Mutex
	subscribers []func(Settings)
}

func NewStore(path string) *Store {
	defaults := &Settings{}
	sanitize(defaults)

	s := &Store{path: path}
	s.current.Store(defaults)
	return s
}

// Load reads the settings file. A missing file leaves the defaults in place.
func (s *Store) Load() error {
	settings, err := s.parse()
	if err != nil {
		return err
	}
	s.current.Store(settings)

	slog.Debug("Settings loaded", "path", s.path, "post_types", len(settings.IncludePostTypes), "excluded_terms", len(settings.ExcludeTerms), "sources", len(settings.Sources))
	return nil
}

// Snapshot returns a copy of the current settings
func (s *Store) Snapshot() Settings {
	return *s.current.Load()
}

// Replace swaps the snapshot without touching the file and notifies
// subscribers when anything changed
func (s *Store) Replace(settings Settings) bool {
	sanitize(&settings)
	old := s.current.Swap(&settings)
	if reflect.DeepEqual(*old, settings) {
		return false
	}
	s.notify(settings)
	return true
}

// Reload re-reads the file. On a parse failure the previous snapshot is
// kept and the error returned.
func (s *Store) Reload() (bool, error) {
	settings, err := s.parse()
	if err != nil {
		return false, err
	}
	return s.Replace(*settings), nil
}

// Subscribe registers fn to be called after every effective change
func (s *Store) Subscribe(fn func(Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

func (s *Store) notify(settings Settings) {
	s.mu.Lock()
	subscribers := append([]func(Settings){}, s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subscribers {
		fn(settings)
	}
}

// Watch reloads the file whenever it is written until ctx is done. The
// directory is watched so editors that replace the file are picked up.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch settings directory: %w", err)
	}

	go func() {
		defer watcher.Close()

		target := filepath.Clean(s.path)
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
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				changed, err := s.Reload()
				if err != nil {
					slog.Error("Failed to reload settings", "path", s.path, "error", err)
					continue
				}
				slog.Info("Settings file reloaded", "path", s.path, "changed", changed)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Settings watcher error", "error", err)
			}
		}
	}()

	return nil
}

func (s *Store) parse() (*Settings, error) {
	var settings Settings

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings YAML: %w", err)
	}

	if err := validate(&settings); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", s.path, err)
	}

	sanitize(&settings)
	return &settings, nil
}

// sanitize drops every checkbox entry that is not switched on and fills
// source defaults
func sanitize(settings *Settings) {
	settings.IncludePostTypes = onlyOn(settings.IncludePostTypes)
	settings.ExcludeTerms = onlyOn(settings.ExcludeTerms)

	for i := range settings.Sources {
		src := &settings.Sources[i]
		if src.PostType == "" {
			src.PostType = "post"
		}
		if src.RefreshInterval == 0 {
			src.RefreshInterval = 3600
		}
		if src.Timeout == 0 {
			src.Timeout = 30
		}
	}
}

func onlyOn(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if v == On {
			out[k] = On
		}
	}
	return out
}

func validate(settings *Settings) error {
	seen := make(map[string]bool, len(settings.Sources))
	for i, src := range settings.Sources {
		if src.Name == "" {
			return fmt.Errorf("source name is required at index %d", i)
		}
		if src.URL == "" {
			return fmt.Errorf("source URL is required for %s", src.Name)
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name: %s", src.Name)
		}
		seen[src.Name] = true

		if src.RefreshInterval < 0 || src.Timeout < 0 {
			return fmt.Errorf("source %s intervals must be non-negative", src.Name)
		}
	}
	return nil
}
