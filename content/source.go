package content

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Source serves the current profile and can swap it when the file changes.
type Source struct {
	path    string
	current atomic.Pointer[Profile]
	logger  *zap.Logger
}

// NewSource loads path (or the built-in profile when empty).
func NewSource(path string, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Source{path: path, logger: logger}
	s.current.Store(p)
	return s, nil
}

// StaticSource wraps an already loaded profile.
func StaticSource(p *Profile) *Source {
	s := &Source{logger: zap.NewNop()}
	s.current.Store(p)
	return s
}

// Current returns the profile to render.
func (s *Source) Current() *Profile {
	return s.current.Load()
}

// Reload re-reads the file. On error the previous profile stays active.
func (s *Source) Reload() error {
	p, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(p)
	return nil
}

// Watch reloads the profile whenever its file is written, until ctx is
// done. Rapid successive writes are coalesced. Sources without a file
// return immediately.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating content watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	const debounce = 200 * time.Millisecond
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("content watcher error", zap.Error(err))
		case <-timer.C:
			if err := s.Reload(); err != nil {
				s.logger.Error("keeping previous content", zap.String("path", s.path), zap.Error(err))
				continue
			}
			s.logger.Info("content reloaded", zap.String("path", s.path))
		}
	}
}
