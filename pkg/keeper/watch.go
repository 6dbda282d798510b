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

package keeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWatchDebounce collapses bursts of file events into one trigger.
const DefaultWatchDebounce = 500 * time.Millisecond

// PathWatcher turns changes under watched paths into Monitor triggers. It is used
// when a tier lives on the local filesystem and may be changed by another process.
type PathWatcher struct {
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration
	logger    *zap.Logger
	events    chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPathWatcher creates a watcher over paths. A debounce of zero uses DefaultWatchDebounce.
func NewPathWatcher(debounce time.Duration, logger *zap.Logger, paths ...string) (*PathWatcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths to watch", ErrInvalidConfig)
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	for _, p := range paths {
		if err := fsWatcher.Add(p); err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", p, err)
		}
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PathWatcher{
		fsWatcher: fsWatcher,
		debounce:  debounce,
		logger:    logger.With(zap.String("component", "path_watcher")),
		events:    make(chan struct{}, 1),
	}, nil
}

// C returns the trigger channel. Pass it to Monitor.AddTrigger.
func (w *PathWatcher) C() <-chan struct{} {
	return w.events
}

// Start begins forwarding file events.
func (w *PathWatcher) Start(ctx context.Context) error {
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

// Stop stops the watcher and releases the fsnotify handle.
func (w *PathWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return w.fsWatcher.Close()
	}
	w.cancel()
	<-w.done
	w.running = false
	return w.fsWatcher.Close()
}

func (w *PathWatcher) watch(ctx context.Context) {
	defer close(w.done)
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if time.Since(last) < w.debounce {
				continue
			}
			last = time.Now()
			w.logger.Debug("storage path changed", zap.String("path", event.Name), zap.String("op", event.Op.String()))
			select {
			case w.events <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}
