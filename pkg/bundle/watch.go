package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch calls load for every archive that lands in the download directory.
// A file is handed over once it has not changed for settle. Calls to load
// are serialized. Watch blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context, settle time.Duration, load func(ctx context.Context, file string)) error {
	dir := l.cfg.DownloadDir
	if dir == "" {
		return fmt.Errorf("no download directory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	l.logger.Info().Str("dir", dir).Msg("Watching bundle downloads")

	ready := make(chan string, 16)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case file := <-ready:
				load(ctx, file)
			}
		}
	}()

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isDownload(event.Name) || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := event.Name
			mu.Lock()
			if t, ok := timers[name]; ok {
				t.Reset(settle)
			} else {
				timers[name] = time.AfterFunc(settle, func() {
					mu.Lock()
					delete(timers, name)
					mu.Unlock()
					select {
					case ready <- name:
					case <-ctx.Done():
					}
				})
			}
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// isDownload skips hidden and partially uploaded files.
func isDownload(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	for _, suffix := range []string{".part", ".tmp", ".crdownload"} {
		if strings.HasSuffix(base, suffix) {
			return false
		}
	}
	return true
}
