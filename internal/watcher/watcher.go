// Package watcher re-indexes course documents as they change on disk.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"edumate-rag/internal/index"
	"edumate-rag/internal/models"
)

const defaultDebounce = 500 * time.Millisecond

type FileIndexer interface {
	IndexFile(ctx context.Context, filePath string) (*models.IndexReport, error)
	RemoveFile(ctx context.Context, filePath string) error
}

// Watcher follows a single folder, non-recursively, like the loader.
type Watcher struct {
	dir      string
	supports func(filePath string) bool
	indexer  FileIndexer
	// Debounce is how long a file must stay quiet before it is re-indexed.
	Debounce time.Duration
}

func New(dir string, supports func(filePath string) bool, indexer FileIndexer) *Watcher {
	return &Watcher{
		dir:      dir,
		supports: supports,
		indexer:  indexer,
		Debounce: defaultDebounce,
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	log.Info().Str("dir", w.dir).Msg("Watching course materials")

	ready := make(chan string)
	var (
		mu     sync.Mutex
		timers = map[string]*time.Timer{}
	)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(w.Debounce)
			return
		}
		timers[path] = time.AfterFunc(w.Debounce, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.supports(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			schedule(event.Name)
		case path := <-ready:
			w.sync(ctx, path)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("File watcher error")
		}
	}
}

// sync brings the index in line with the file's current state.
func (w *Watcher) sync(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := w.indexer.RemoveFile(ctx, path); err != nil {
			log.Error().Err(err).Str("file", path).Msg("Failed to remove document")
		}
		return
	}

	if _, err := w.indexer.IndexFile(ctx, path); err != nil {
		if errors.Is(err, index.ErrNoDocuments) {
			log.Warn().Str("file", path).Msg("No text extracted, skipping")
			return
		}
		log.Error().Err(err).Str("file", path).Msg("Failed to re-index document")
	}
}
