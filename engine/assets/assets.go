package assets

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gobwas/glob"
	"github.com/h2non/filetype"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/anima-rt/engine/containers"
	"github.com/spaghettifunk/anima-rt/engine/core"
)

type AssetInfo struct {
	// Path of the file the asset was loaded from, empty for assets added
	// from memory.
	Path       string
	Kind       Kind
	LastLoaded time.Time
	// Incremented on every modification.
	Version uint64
}

type entry struct {
	info  AssetInfo
	value any
}

/**
 * @brief Holds the CPU side value of every asset and broadcasts changes to
 * subscribers. Files under the root are loaded by extension and, when
 * watching, reloaded as they change on disk. Reloads are applied by Pump on
 * the goroutine that drives the frame.
 */
type Server struct {
	root   string
	cfg    core.AssetsConfig
	ignore []glob.Glob

	mu      sync.RWMutex
	entries map[Handle]*entry
	loaders map[string]Loader
	subs    map[Kind][]*Subscription
	// file -> files whose loading read it
	readers map[string]map[string]struct{}

	changes *containers.UnboundedQueue[string]
	watcher *watcher
}

type loaded struct {
	path   string
	loader Loader
	value  any
	reads  []string
}

func NewServer(cfg core.AssetsConfig) (*Server, error) {
	s := &Server{
		root:    filepath.Clean(cfg.Root),
		cfg:     cfg,
		entries: map[Handle]*entry{},
		loaders: map[string]Loader{},
		subs:    map[Kind][]*Subscription{},
		readers: map[string]map[string]struct{}{},
		changes: containers.NewUnboundedQueue[string](),
	}
	for _, pattern := range cfg.Ignore {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, core.Wrapf(err, "compiling ignore pattern %q", pattern)
		}
		s.ignore = append(s.ignore, g)
	}
	return s, nil
}

func (s *Server) Root() string {
	return s.root
}

// RegisterLoader makes files with one of l's extensions loadable.
func (s *Server) RegisterLoader(l Loader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ext := range l.Extensions() {
		ext = strings.ToLower(ext)
		if _, ok := s.loaders[ext]; ok {
			return core.Newf("a loader for %s is already registered", ext)
		}
		s.loaders[ext] = l
	}
	return nil
}

// Subscribe returns a stream of every change to assets of kind from now on.
func (s *Server) Subscribe(kind Kind) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := newSubscription(kind)
	s.subs[kind] = append(s.subs[kind], sub)
	return sub
}

// Add stores a value under a fresh handle.
func (s *Server) Add(kind Kind, value any) Handle {
	h := NewHandle()
	s.Set(h, kind, value)
	return h
}

// Set stores value under h, emitting Created or Modified.
func (s *Server) Set(h Handle, kind Kind, value any) {
	s.set(h, kind, "", value)
}

func (s *Server) set(h Handle, kind Kind, path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[h]
	if ok && e.info.Kind != kind {
		delete(s.entries, h)
		s.emit(Event{Type: EventRemoved, Kind: e.info.Kind, Handle: h})
		ok = false
	}
	if !ok {
		s.entries[h] = &entry{
			info:  AssetInfo{Path: path, Kind: kind, LastLoaded: time.Now(), Version: 1},
			value: value,
		}
		s.emit(Event{Type: EventCreated, Kind: kind, Handle: h})
		return
	}
	e.value = value
	e.info.LastLoaded = time.Now()
	e.info.Version++
	if path != "" {
		e.info.Path = path
	}
	s.emit(Event{Type: EventModified, Kind: kind, Handle: h})
}

// Remove drops the asset and emits Removed. It reports whether h was known.
func (s *Server) Remove(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[h]
	if !ok {
		return false
	}
	delete(s.entries, h)
	s.emit(Event{Type: EventRemoved, Kind: e.info.Kind, Handle: h})
	return true
}

// emit must be called with mu held so that subscribers see changes in order.
func (s *Server) emit(e Event) {
	for _, sub := range s.subs[e.Kind] {
		sub.send(e)
	}
}

func (s *Server) Resolve(h Handle) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[h]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Get resolves h and asserts the value's type.
func Get[T any](s *Server, h Handle) (T, bool) {
	var zero T
	value, ok := s.Resolve(h)
	if !ok {
		return zero, false
	}
	typed, ok := value.(T)
	return typed, ok
}

func (s *Server) Info(h Handle) (AssetInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[h]
	if !ok {
		return AssetInfo{}, false
	}
	return e.info, true
}

// Handles lists the assets of kind in handle order.
func (s *Server) Handles(kind Kind) []Handle {
	s.mu.RLock()
	var handles []Handle
	for h, e := range s.entries {
		if e.info.Kind == kind {
			handles = append(handles, h)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(handles, Handle.Compare)
	return handles
}

func (s *Server) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Ignored reports whether rel matches one of the ignore patterns.
func (s *Server) Ignored(rel string) bool {
	for _, g := range s.ignore {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

/**
 * @brief Finds the loader of rel by its longest registered suffix. Files
 * without a known suffix are sniffed and handed to the image loader when
 * their header says they are an image.
 */
func (s *Server) LoaderFor(rel string) (Loader, bool) {
	lower := strings.ToLower(rel)

	s.mu.RLock()
	var best Loader
	bestLen := 0
	for ext, l := range s.loaders {
		if len(ext) > bestLen && strings.HasSuffix(lower, ext) {
			best, bestLen = l, len(ext)
		}
	}
	s.mu.RUnlock()
	if best != nil {
		return best, true
	}
	if filepath.Ext(lower) != "" {
		return nil, false
	}

	head, err := s.readHeader(rel)
	if err != nil || !filetype.IsImage(head) {
		return nil, false
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loaders["."+kind.Extension]
	return l, ok
}

func (s *Server) readHeader(rel string) ([]byte, error) {
	f, err := os.Open(s.abs(rel))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	// filetype never looks past this
	head := make([]byte, 262)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return head[:n], nil
}

// Load reads rel from disk and stores it, replacing the previous value.
func (s *Server) Load(rel string) (Handle, error) {
	rel = CleanPath(rel)
	l, err := s.decode(rel)
	if err != nil {
		return NilHandle, err
	}
	return s.install(l), nil
}

func (s *Server) decode(rel string) (loaded, error) {
	loader, ok := s.LoaderFor(rel)
	if !ok {
		return loaded{}, core.Wrapf(core.ErrUnsupportedFormat, "no loader for %s", rel)
	}
	data, err := os.ReadFile(s.abs(rel))
	if err != nil {
		return loaded{}, core.Wrapf(err, "reading %s", rel)
	}
	ctx := &LoadContext{Path: rel, root: s.root}
	value, err := loader.Load(ctx, data)
	if err != nil {
		return loaded{}, core.Wrapf(err, "loading %s", rel)
	}
	return loaded{path: rel, loader: loader, value: value, reads: ctx.reads}, nil
}

func (s *Server) install(l loaded) Handle {
	h := HandleForPath(l.path)
	s.set(h, l.loader.Kind(), l.path, l.value)
	if c, ok := l.value.(Composite); ok {
		for _, sub := range c.Labeled() {
			s.set(HandleForPath(l.path+"#"+sub.Label), sub.Kind, l.path, sub.Value)
		}
	}

	s.mu.Lock()
	for _, r := range l.reads {
		if s.readers[r] == nil {
			s.readers[r] = map[string]struct{}{}
		}
		s.readers[r][l.path] = struct{}{}
	}
	s.mu.Unlock()
	core.LogDebug("%s asset %s loaded from %s", l.loader.Kind(), h, l.path)
	return h
}

/**
 * @brief Loads every file under the root that has a loader. Files are
 * decoded in parallel; results are stored in path order once all of them
 * finished, so subscribers see a deterministic sequence of events. A file
 * that fails to load is logged and skipped.
 */
func (s *Server) LoadAll(ctx context.Context) (int, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
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
			return nil
		}
		if _, ok := s.LoaderFor(rel); ok {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return 0, core.Wrapf(err, "walking %s", s.root)
	}
	slices.Sort(paths)

	results := make([]*loaded, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.LoadConcurrency))
	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			l, err := s.decode(rel)
			if err != nil {
				core.LogError("%s", err.Error())
				return nil
			}
			results[i] = &l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, l := range results {
		if l != nil {
			s.install(*l)
			n++
		}
	}
	core.LogInfo("loaded %d of %d assets from %s", n, len(paths), s.root)
	return n, nil
}

// Notify schedules rel to be reloaded, or removed if it no longer exists,
// on the next Pump.
func (s *Server) Notify(rel string) {
	_ = s.changes.Push(CleanPath(rel))
}

// Pump applies the changes notified since the last call and returns how
// many distinct paths were processed.
func (s *Server) Pump() int {
	seen := map[string]struct{}{}
	var paths []string
	for {
		rel, ok := s.changes.TryPop()
		if !ok {
			break
		}
		if _, dup := seen[rel]; dup {
			continue
		}
		seen[rel] = struct{}{}
		paths = append(paths, rel)
	}
	for _, rel := range paths {
		s.reload(rel)
	}
	return len(paths)
}

func (s *Server) reload(rel string) {
	if s.Ignored(rel) {
		return
	}
	fi, err := os.Stat(s.abs(rel))
	if errors.Is(err, fs.ErrNotExist) {
		s.removePath(rel)
		return
	}
	if err != nil {
		core.LogError("checking %s: %s", rel, err.Error())
		return
	}
	if fi.IsDir() {
		return
	}

	var targets []string
	if _, ok := s.LoaderFor(rel); ok {
		targets = append(targets, rel)
	}
	s.mu.RLock()
	for dependent := range s.readers[rel] {
		targets = append(targets, dependent)
	}
	s.mu.RUnlock()
	slices.Sort(targets)

	for _, target := range slices.Compact(targets) {
		if _, err := s.Load(target); err != nil {
			core.LogError("reloading %s: %s", target, err.Error())
		}
	}
}

// removePath drops every asset loaded from rel, sub assets included.
func (s *Server) removePath(rel string) {
	s.mu.RLock()
	var handles []Handle
	for h, e := range s.entries {
		if e.info.Path == rel {
			handles = append(handles, h)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(handles, Handle.Compare)
	for _, h := range handles {
		s.Remove(h)
	}
}

func (s *Server) abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// rel converts a path under the root to its slash separated relative form.
func (s *Server) rel(p string) string {
	r, err := filepath.Rel(s.root, p)
	if err != nil || r == "." {
		return ""
	}
	return filepath.ToSlash(r)
}

// Close stops watching and ends every subscription.
func (s *Server) Close() error {
	err := s.stopWatching()
	s.changes.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subs := range s.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	s.subs = map[Kind][]*Subscription{}
	return err
}

