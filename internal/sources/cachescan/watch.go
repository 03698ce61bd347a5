package cachescan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"meetsync/internal/logging"
)

// Watch implements sources.Watcher. It returns immediately with nil when
// watching is disabled in configuration; otherwise it blocks until ctx is
// done, calling notify once changes to matching cache files settle.
func (s *Scanner) Watch(ctx context.Context, notify func()) error {
	if !s.watch {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := s.addWatchesRecursive(fsw, s.root); err != nil {
		return err
	}
	s.logger.Info("cache watcher started",
		logging.String("path", s.root),
		logging.Duration("debounce", s.debounce),
	)

	var (
		pending   bool
		lastEvent time.Time
	)
	ticker := time.NewTicker(s.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := s.addWatchesRecursive(fsw, event.Name); err != nil {
						s.logger.Debug("watch new directory failed", logging.String("path", event.Name), logging.Error(err))
					}
					continue
				}
			}
			if !s.matches(event.Name) {
				continue
			}
			pending = true
			lastEvent = time.Now()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("cache watcher error", logging.Error(err))
		case now := <-ticker.C:
			if pending && now.Sub(lastEvent) >= s.debounce {
				pending = false
				s.logger.Debug("cache changed; requesting early tick")
				notify()
			}
		}
	}
}

func (s *Scanner) addWatchesRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		base := d.Name()
		if path != root && strings.HasPrefix(base, ".") {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

func (s *Scanner) matches(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	ok, err := doublestar.Match(s.glob, filepath.ToSlash(rel))
	return err == nil && ok
}
