package assets

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

type watcher struct {
	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
}

// Watch starts reporting changes below the root to the next Pump.
func (s *Server) Watch() error {
	if s.watcher != nil {
		return nil
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return core.Wrap(err, "creating asset watcher")
	}
	w := &watcher{fsnotify: fsWatch, done: make(chan struct{})}
	if err := s.watchRecursive(w, s.root, false); err != nil {
		fsWatch.Close()
		return core.Wrapf(err, "watching %s", s.root)
	}
	s.watcher = w

	w.wg.Add(1)
	go s.start(w)
	core.LogInfo("watching %s for changes", s.root)
	return nil
}

func (s *Server) start(w *watcher) {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			rel := s.rel(e.Name)
			if rel == "" || s.Ignored(rel) {
				continue
			}
			if e.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(e.Name); err == nil && fi.IsDir() {
					// files may have landed in it before the watch was added
					if err := s.watchRecursive(w, e.Name, true); err != nil {
						core.LogError("watching %s: %s", rel, err.Error())
					}
					continue
				}
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.Notify(rel)
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err.Error())

		case <-w.done:
			return
		}
	}
}

// watchRecursive adds root and every directory below it to the watch list.
// With notify set the files found on the way are reported as changed.
func (s *Server) watchRecursive(w *watcher, root string, notify bool) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := s.rel(p)
		if rel != "" && s.Ignored(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return w.fsnotify.Add(p)
		}
		if notify {
			s.Notify(rel)
		}
		return nil
	})
}

func (s *Server) stopWatching() error {
	w := s.watcher
	if w == nil {
		return nil
	}
	s.watcher = nil
	close(w.done)
	err := w.fsnotify.Close()
	w.wg.Wait()
	return err
}
