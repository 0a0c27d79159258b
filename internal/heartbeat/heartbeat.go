// Package heartbeat turns file activity into watchdog resets.
//
// A monitored job proves it is alive by touching its heartbeat file
// (touch, echo >, a rename into place). Every write, create or chmod of a
// tracked file resets the watchdog bound to it.
package heartbeat

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"deadman/pkg/logx"
	"github.com/fsnotify/fsnotify"
)

// Resetter is what a heartbeat feeds; *watchdog.Timer satisfies it.
type Resetter interface {
	Reset() error
}

// retryDirsEvery is how often directories that could not be watched
// (usually because they do not exist yet) are retried.
const retryDirsEvery = 5 * time.Second

// Watcher watches the parent directories of every tracked file.
type Watcher struct {
	log logx.Logger

	mu      sync.Mutex
	targets map[string]Resetter // absolute clean path -> resetter

	resync chan struct{}
	beats  atomic.Uint64
}

func New(log logx.Logger) *Watcher {
	return &Watcher{
		log:     log,
		targets: map[string]Resetter{},
		resync:  make(chan struct{}, 1),
	}
}

// SetTargets replaces the tracked set. Keys are file paths.
// It is safe to call while Run is active.
func (w *Watcher) SetTargets(targets map[string]Resetter) {
	next := make(map[string]Resetter, len(targets))
	for p, r := range targets {
		if p == "" || r == nil {
			continue
		}
		next[absClean(p)] = r
	}

	w.mu.Lock()
	w.targets = next
	w.mu.Unlock()

	select {
	case w.resync <- struct{}{}:
	default:
	}
}

// Beats counts heartbeats that reached a watchdog.
func (w *Watcher) Beats() uint64 { return w.beats.Load() }

func (w *Watcher) lookup(path string) Resetter {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.targets[absClean(path)]
}

func (w *Watcher) wantedDirs() map[string]struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	dirs := make(map[string]struct{}, len(w.targets))
	for p := range w.targets {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	return dirs
}

// Run pumps file events until ctx is done. It returns an error when the
// underlying watcher breaks so a supervisor can restart it.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	watched := map[string]struct{}{}
	syncDirs := func() {
		want := w.wantedDirs()
		for d := range watched {
			if _, ok := want[d]; !ok {
				_ = fw.Remove(d)
				delete(watched, d)
			}
		}
		for d := range want {
			if _, ok := watched[d]; ok {
				continue
			}
			if err := fw.Add(d); err != nil {
				if !w.log.IsZero() {
					w.log.Warn("heartbeat dir not watchable; will retry", logx.String("dir", d), logx.Err(err))
				}
				continue
			}
			watched[d] = struct{}{}
		}
	}
	syncDirs()

	retry := time.NewTicker(retryDirsEvery)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.resync:
			syncDirs()
		case <-retry.C:
			if len(watched) < len(w.wantedDirs()) {
				syncDirs()
			}
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("heartbeat watcher closed")
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Chmod) == 0 {
				continue
			}
			w.beat(ev.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("heartbeat watcher closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Missed events may include heartbeats.
				if !w.log.IsZero() {
					w.log.Warn("heartbeat event overflow; resetting every target")
				}
				w.beatAll()
				continue
			}
			if !w.log.IsZero() {
				w.log.Warn("heartbeat watch error", logx.Err(err))
			}
		}
	}
}

func (w *Watcher) beat(path string) {
	r := w.lookup(path)
	if r == nil {
		return
	}
	if err := r.Reset(); err != nil {
		if !w.log.IsZero() {
			w.log.Warn("heartbeat reset failed", logx.String("file", path), logx.Err(err))
		}
		return
	}
	w.beats.Add(1)
	if !w.log.IsZero() {
		w.log.Trace("heartbeat", logx.String("file", path))
	}
}

func (w *Watcher) beatAll() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.targets))
	for p := range w.targets {
		paths = append(paths, p)
	}
	w.mu.Unlock()
	for _, p := range paths {
		w.beat(p)
	}
}

func absClean(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return filepath.Clean(p)
}
