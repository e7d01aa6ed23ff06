package ml

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Source hands out a Predictor for one inference. release must be called once
// the caller is done with the predictor.
type Source interface {
	Acquire(ctx context.Context) (p Predictor, release func(), err error)
	Close() error
}

// FileSource deserializes the artifact on every Acquire, so each request sees
// the file as it is on disk at that moment.
type FileSource struct {
	path      string
	modelType string
	opts      LoaderOptions
}

func NewFileSource(modelType, path string, opts LoaderOptions) *FileSource {
	return &FileSource{path: path, modelType: modelType, opts: opts}
}

func (s *FileSource) Acquire(ctx context.Context) (Predictor, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	model, err := LoadModel(s.modelType, s.path, s.opts)
	if err != nil {
		return nil, nil, err
	}
	return model, func() { _ = closeModel(model) }, nil
}

func (s *FileSource) Close() error {
	return nil
}

func closeModel(model Predictor) error {
	if c, ok := model.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// fingerprint identifies one version of the artifact on disk.
type fingerprint struct {
	path    string
	size    int64
	modTime time.Time
}

func statFingerprint(path string) (fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fingerprint{}, err
	}
	return fingerprint{path: path, size: info.Size(), modTime: info.ModTime()}, nil
}

// cachedModel counts in-flight users so models holding native resources are
// closed only after eviction and the last release.
type cachedModel struct {
	mu      sync.Mutex
	model   Predictor
	refs    int
	evicted bool
}

func (m *cachedModel) acquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.evicted {
		return false
	}
	m.refs++
	return true
}

func (m *cachedModel) release() {
	m.mu.Lock()
	m.refs--
	done := m.evicted && m.refs == 0
	m.mu.Unlock()
	if done {
		_ = closeModel(m.model)
	}
}

func (m *cachedModel) evict() error {
	m.mu.Lock()
	m.evicted = true
	done := m.refs == 0
	m.mu.Unlock()
	if done {
		return closeModel(m.model)
	}
	return nil
}

// CachedSource keeps loaded models in an LRU keyed by the artifact
// fingerprint. A rewritten file changes the fingerprint and is loaded on the
// next Acquire; filesystem events on the file purge the cache early.
type CachedSource struct {
	path      string
	modelType string
	opts      LoaderOptions
	logger    *zap.Logger

	loadMu  sync.Mutex
	cache   *lru.Cache[fingerprint, *cachedModel]
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup

	errMu    sync.Mutex
	closeErr error
}

func NewCachedSource(modelType, path string, size int, opts LoaderOptions, logger *zap.Logger) (*CachedSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CachedSource{
		path:      path,
		modelType: modelType,
		opts:      opts,
		logger:    logger,
		done:      make(chan struct{}),
	}

	cache, err := lru.NewWithEvict[fingerprint, *cachedModel](size, func(_ fingerprint, m *cachedModel) {
		if err := m.evict(); err != nil {
			s.recordCloseErr(err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}
	s.cache = cache

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create model watcher: %w", err)
	}
	// Watch the directory: rotations replace the file and drop file-level watches.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch model directory: %w", err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.watch()
	return s, nil
}

func (s *CachedSource) Acquire(ctx context.Context) (Predictor, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	fp, err := statFingerprint(s.path)
	if err != nil {
		return nil, nil, &ModelLoadError{Path: s.path, Err: err}
	}

	if entry, ok := s.cache.Get(fp); ok && entry.acquire() {
		return entry.model, entry.release, nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if entry, ok := s.cache.Get(fp); ok && entry.acquire() {
		return entry.model, entry.release, nil
	}

	model, err := LoadModel(s.modelType, s.path, s.opts)
	if err != nil {
		return nil, nil, err
	}
	entry := &cachedModel{model: model, refs: 1}
	s.cache.Add(fp, entry)
	s.logger.Info("model cached",
		zap.String("path", fp.path),
		zap.Int64("size", fp.size),
		zap.Time("mod_time", fp.modTime),
	)
	return model, entry.release, nil
}

func (s *CachedSource) watch() {
	defer s.wg.Done()
	target := filepath.Clean(s.path)
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.logger.Debug("model file changed, purging cache", zap.String("event", event.Op.String()))
				s.cache.Purge()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}

// Len reports the number of cached model versions.
func (s *CachedSource) Len() int {
	return s.cache.Len()
}

func (s *CachedSource) recordCloseErr(err error) {
	s.errMu.Lock()
	s.closeErr = multierr.Append(s.closeErr, err)
	s.errMu.Unlock()
}

// Close stops the watcher and releases every cached model. Models still in use
// are closed by their last release.
func (s *CachedSource) Close() error {
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	s.cache.Purge()

	s.errMu.Lock()
	defer s.errMu.Unlock()
	return multierr.Append(err, s.closeErr)
}
