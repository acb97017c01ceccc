// Package watcher reports debounced changes to workspace files on disk.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("watcher")

// DefaultDebounce is the quiet period used when none is configured.
const DefaultDebounce = 300 * time.Millisecond

// Filter selects the files and directories a Watcher reports and watches.
type Filter interface {
	// Match reports whether changes to the file at path are reported.
	Match(path string) bool
	// MatchDir reports whether the directory at path is watched.
	MatchDir(path string) bool
}

// Watcher watches a directory tree and calls back with the files that
// changed, were created or were removed once events go quiet.
type Watcher struct {
	watcher      *fsnotify.Watcher
	root         string
	filter       Filter
	debounceTime time.Duration
	callback     func(paths []string)
	ctx          context.Context
	cancel       context.CancelFunc

	paused   bool
	pausedMu sync.RWMutex

	accumulated   map[string]bool
	accumulatedMu sync.Mutex

	debounceTimer *time.Timer
	timerMu       sync.Mutex
	reindexCh     chan struct{}

	stopOnce sync.Once
	doneCh   chan struct{}
}

// New creates a watcher for root. A debounce of zero means DefaultDebounce.
func New(root string, filter Filter, debounce time.Duration) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fw := &Watcher{
		watcher:      watcher,
		root:         root,
		filter:       filter,
		debounceTime: debounce,
		accumulated:  make(map[string]bool),
		reindexCh:    make(chan struct{}, 1),
		doneCh:       make(chan struct{}),
	}
	if err := fw.addDirectoriesRecursively(root, false); err != nil {
		watcher.Close()
		return nil, err
	}
	return fw, nil
}

// Start begins watching. callback receives sorted absolute paths and is
// never called concurrently with itself.
func (fw *Watcher) Start(ctx context.Context, callback func(paths []string)) error {
	if callback == nil {
		return nil
	}

	fw.callback = callback
	fw.ctx, fw.cancel = context.WithCancel(ctx)

	go fw.watch()
	return nil
}

// Stop stops the watcher. It is safe to call more than once.
func (fw *Watcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		if fw.cancel != nil {
			fw.cancel()
			<-fw.doneCh
		} else {
			close(fw.doneCh)
		}
		err = fw.watcher.Close()
	})
	return err
}

// Pause stops firing callbacks but continues accumulating events.
func (fw *Watcher) Pause() {
	fw.pausedMu.Lock()
	defer fw.pausedMu.Unlock()
	fw.paused = true
}

// Resume resumes firing callbacks. Events accumulated while paused are
// reported at the next quiet period.
func (fw *Watcher) Resume() {
	fw.pausedMu.Lock()
	wasPaused := fw.paused
	fw.paused = false
	fw.pausedMu.Unlock()

	if wasPaused && fw.pending() > 0 {
		fw.resetDebounceTimer()
	}
}

func (fw *Watcher) watch() {
	defer close(fw.doneCh)

	for {
		select {
		case <-fw.ctx.Done():
			fw.stopDebounceTimer()
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					// Files may land in a new directory before it is watched.
					if err := fw.addDirectoriesRecursively(event.Name, true); err != nil {
						log.Warningf("failed to watch new directory %s: %v", event.Name, err)
					}
					fw.resetDebounceTimer()
					continue
				}
			}
			if !fw.shouldProcessEvent(event) {
				continue
			}
			fw.accumulate(event.Name)
			fw.resetDebounceTimer()

		case <-fw.reindexCh:
			fw.handleDebounceExpired()

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			log.Warningf("file watcher error: %v", err)
		}
	}
}

func (fw *Watcher) accumulate(path string) {
	fw.accumulatedMu.Lock()
	fw.accumulated[path] = true
	fw.accumulatedMu.Unlock()
}

func (fw *Watcher) pending() int {
	fw.accumulatedMu.Lock()
	defer fw.accumulatedMu.Unlock()
	return len(fw.accumulated)
}

func (fw *Watcher) handleDebounceExpired() {
	fw.pausedMu.RLock()
	paused := fw.paused
	fw.pausedMu.RUnlock()
	if paused {
		return
	}

	fw.accumulatedMu.Lock()
	if len(fw.accumulated) == 0 {
		fw.accumulatedMu.Unlock()
		return
	}
	paths := make([]string, 0, len(fw.accumulated))
	for path := range fw.accumulated {
		paths = append(paths, path)
	}
	fw.accumulated = make(map[string]bool)
	fw.accumulatedMu.Unlock()

	sort.Strings(paths)
	fw.callback(paths)
}

// resetDebounceTimer restarts the quiet period.
func (fw *Watcher) resetDebounceTimer() {
	fw.timerMu.Lock()
	defer fw.timerMu.Unlock()

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
	}
	fw.debounceTimer = time.AfterFunc(fw.debounceTime, func() {
		select {
		case fw.reindexCh <- struct{}{}:
		default:
		}
	})
}

func (fw *Watcher) stopDebounceTimer() {
	fw.timerMu.Lock()
	defer fw.timerMu.Unlock()

	if fw.debounceTimer != nil {
		fw.debounceTimer.Stop()
		fw.debounceTimer = nil
	}
}

func (fw *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return fw.filter.Match(event.Name)
}

// addDirectoriesRecursively watches every accepted directory under root.
// With report set, files already present are accumulated as created.
func (fw *Watcher) addDirectoriesRecursively(root string, report bool) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Warningf("error accessing %s: %v", path, err)
			return nil
		}
		if !entry.IsDir() {
			if report && fw.filter.Match(path) {
				fw.accumulate(path)
			}
			return nil
		}
		if path != fw.root && !fw.filter.MatchDir(path) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			log.Warningf("failed to watch directory %s: %v", path, err)
		}
		return nil
	})
}
