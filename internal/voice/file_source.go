package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/normanking/talkingavatar/internal/bus"
)

// catalog is the on-disk voice list.
//
//	voices:
//	  - name: Google UK English Male
//	    lang: en-GB
//	    default: true
type catalog struct {
	Voices []Profile `yaml:"voices"`
}

// FileSource serves voices from a YAML catalog and reloads it when the file
// changes on disk.
type FileSource struct {
	path   string
	bus    *bus.EventBus
	logger zerolog.Logger

	mu     sync.RWMutex
	voices []Profile
}

// NewFileSource loads path. A missing file yields an empty list.
func NewFileSource(path string, eventBus *bus.EventBus, logger zerolog.Logger) (*FileSource, error) {
	s := &FileSource{
		path:   filepath.Clean(path),
		bus:    eventBus,
		logger: logger.With().Str("component", "voice-catalog").Logger(),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Voices implements Source.
func (s *FileSource) Voices() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Profile, len(s.voices))
	copy(out, s.voices)
	return out
}

// Reload re-reads the catalog.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.set(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read voice catalog: %w", err)
	}

	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("parse voice catalog %s: %w", s.path, err)
	}

	s.set(c.Voices)
	return nil
}

// DefaultCatalog is written when no catalog exists yet.
func DefaultCatalog() []Profile {
	return []Profile{
		{Name: "Google UK English Male", Lang: "en-GB", Default: true},
		{Name: "Google UK English Female", Lang: "en-GB"},
		{Name: "Google US English", Lang: "en-US"},
	}
}

// WriteCatalog saves voices to path, creating parent directories.
func WriteCatalog(path string, voices []Profile) error {
	data, err := yaml.Marshal(catalog{Voices: voices})
	if err != nil {
		return fmt.Errorf("encode voice catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create catalog directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// EnsureCatalog writes DefaultCatalog to path unless a file is already there.
// It reports whether a file was written.
func EnsureCatalog(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat voice catalog: %w", err)
	}
	if err := WriteCatalog(path, DefaultCatalog()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileSource) set(voices []Profile) {
	s.mu.Lock()
	s.voices = voices
	s.mu.Unlock()

	s.logger.Debug().Int("voices", len(voices)).Str("path", s.path).Msg("Voice catalog loaded")
}

// Watch reloads the catalog on every change until ctx is cancelled, then
// publishes EventTypeVoicesChanged. The parent directory is watched so
// editors that replace the file are seen.
func (s *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn().Err(err).Msg("Voice catalog reload failed")
				continue
			}
			if s.bus != nil {
				s.bus.Publish(bus.Event{
					Type: bus.EventTypeVoicesChanged,
					Data: map[string]any{"source": s.path, "count": len(s.Voices())},
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("Voice catalog watcher error")
		}
	}
}
