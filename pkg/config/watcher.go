// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultReloadDebounce collapses editor save bursts into one reload.
const DefaultReloadDebounce = 500 * time.Millisecond

// ChangeHandler is called after the configuration was reloaded.
type ChangeHandler func(m *Manager)

// Watcher reloads a Manager when one of its layer files changes. The directory is
// watched rather than the files so that files created later, and editors that
// replace files on save, are both picked up.
type Watcher struct {
	manager   *Manager
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	handlers []ChangeHandler
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewWatcher creates a watcher over the manager's working directory.
func NewWatcher(manager *Manager, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(manager.WorkDir()); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory %s: %w", manager.WorkDir(), err)
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		manager:   manager,
		fsWatcher: fsWatcher,
		debounce:  debounce,
		logger:    logger.With(zap.String("component", "config_watcher")),
	}, nil
}

// OnChange registers a handler run after every successful reload.
func (w *Watcher) OnChange(h ChangeHandler) {
	if h == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Start begins watching.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher is already running")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running = true
	go w.watch(ctx)
	return nil
}

// Stop stops watching and releases the fsnotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		w.cancel()
		<-w.done
	}
	return w.fsWatcher.Close()
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.done)

	watched := make(map[string]struct{})
	for _, f := range w.manager.CandidateFiles() {
		watched[filepath.Clean(f)] = struct{}{}
	}

	// A timer per burst: the reload runs once the files have been quiet for the debounce.
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if _, ok := watched[filepath.Clean(event.Name)]; !ok {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("config file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	if err := w.manager.Reload(); err != nil {
		w.logger.Error("failed to reload configuration; keeping previous settings", zap.Error(err))
		return
	}
	w.logger.Info("configuration reloaded", zap.Strings("files", w.manager.LoadedFiles()))

	w.mu.Lock()
	handlers := append([]ChangeHandler(nil), w.handlers...)
	w.mu.Unlock()
	for _, h := range handlers {
		h(w.manager)
	}
}
