package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"videoflix/logger"

	"github.com/fsnotify/fsnotify"
)

const defaultSettleDelay = 3 * time.Second

// Watcher registers and schedules originals that are copied straight into
// the video directory instead of being uploaded through the API.
type Watcher struct {
	lib    *Library
	settle time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// NewWatcher creates a Watcher. A file is handled once no write event has
// been seen for settle.
func NewWatcher(lib *Library, settle time.Duration) *Watcher {
	if settle <= 0 {
		settle = defaultSettleDelay
	}
	return &Watcher{lib: lib, settle: settle, timers: make(map[string]*time.Timer)}
}

// Run watches until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	dir := w.lib.VideoDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Info("Watching for new videos", logger.String("dir", dir))

	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error", logger.ErrorField(err))
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, name string) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || !IsSupportedVideo(base) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[name]; ok && t.Stop() {
		t.Reset(w.settle)
		return
	}

	var t *time.Timer
	w.wg.Add(1)
	t = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[name] == t {
			delete(w.timers, name)
		}
		w.mu.Unlock()
		w.handle(ctx, name)
	})
	w.timers[name] = t
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	for name, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, name)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) handle(ctx context.Context, name string) {
	if ctx.Err() != nil {
		return
	}
	info, err := os.Stat(name)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	video, created, err := w.lib.Register(ctx, name)
	if err != nil {
		logger.Warn("Failed to register dropped video", logger.String("file", name), logger.ErrorField(err))
		return
	}
	if !created {
		return
	}
	if err := w.lib.EnqueueHLS(ctx, video); err != nil {
		logger.Error("Failed to enqueue HLS job", logger.VideoID(video.ID), logger.ErrorField(err))
		return
	}
	logger.Info("Registered dropped video", logger.VideoID(video.ID), logger.String("file", video.VideoFile))
}
