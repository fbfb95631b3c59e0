package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-pkgz/lgr"

	"podcast-timeline/internal/models"
)

const reloadTimeout = 30 * time.Second

// Store keeps the current catalog in memory and reloads it when a local
// catalog file changes on disk.
type Store struct {
	loader  *Loader
	file    string
	watcher *fsnotify.Watcher
	logger  lgr.L

	mu       sync.RWMutex
	catalog  models.Catalog
	err      error
	onChange func(models.Catalog, error)

	refreshMu    sync.Mutex
	refreshTimer *time.Timer
	refreshDelay time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewStore performs the initial load and, for file sources, starts watching
// the catalog file. A failed initial load is kept as the store's error state
// rather than returned, so callers can still render it.
func NewStore(ctx context.Context, loader *Loader, debounce time.Duration, logger lgr.L) (*Store, error) {
	if logger == nil {
		logger = lgr.Default()
	}

	s := &Store{
		loader:       loader,
		logger:       logger,
		refreshDelay: debounce,
		done:         make(chan struct{}),
	}

	if !loader.Source().Remote {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		s.file = filepath.Clean(loader.Source().Location)
		if err := watcher.Add(filepath.Dir(s.file)); err != nil {
			watcher.Close()
			return nil, err
		}
		s.watcher = watcher
	}

	if err := s.Reload(ctx); err != nil {
		s.logger.Logf("[ERROR] initial catalog load: %v", err)
	}

	if s.watcher != nil {
		s.wg.Add(1)
		go s.run()
	}

	return s, nil
}

// Close stops the watcher and cleans up resources.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)

		s.refreshMu.Lock()
		if s.refreshTimer != nil {
			s.refreshTimer.Stop()
			s.refreshTimer = nil
		}
		s.refreshMu.Unlock()

		if s.watcher != nil {
			s.closeErr = s.watcher.Close()
		}
		s.wg.Wait()
	})
	return s.closeErr
}

// Snapshot returns the current catalog and the error of the last load.
func (s *Store) Snapshot() (models.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	catalog := s.catalog
	catalog.Episodes = make([]models.Episode, len(s.catalog.Episodes))
	copy(catalog.Episodes, s.catalog.Episodes)
	return catalog, s.err
}

// OnChange registers fn to be called after every load attempt.
func (s *Store) OnChange(fn func(models.Catalog, error)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Reload loads the source again. On success the catalog is replaced
// wholesale; on failure the previous catalog is dropped and the error kept.
func (s *Store) Reload(ctx context.Context) error {
	catalog, err := s.loader.Load(ctx)

	s.mu.Lock()
	s.catalog = catalog
	s.err = err
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil {
		fn(catalog, err)
	}
	return err
}

func (s *Store) run() {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Logf("[WARN] catalog watcher error: %v", err)
		case <-s.done:
			return
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != s.file {
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		s.scheduleRefresh()
	}
}

func (s *Store) scheduleRefresh() {
	select {
	case <-s.done:
		return
	default:
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(s.refreshDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		defer cancel()
		if err := s.Reload(ctx); err != nil {
			s.logger.Logf("[ERROR] catalog reload: %v", err)
		}

		s.refreshMu.Lock()
		if s.refreshTimer == timer {
			s.refreshTimer = nil
		}
		s.refreshMu.Unlock()
	})

	s.refreshTimer = timer
}
