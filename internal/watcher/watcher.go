// Package watcher reports files appearing, changing and disappearing in a
// directory. Files are reported only once they stop changing between two
// scans, so a design still being written is not picked up half done.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/heimdex/heimdex-render/internal/logging"
)

const DefaultInterval = 2 * time.Second

type Watcher interface {
	Watch(ctx context.Context, path string) error
	Stop() error
	OnChange(callback func(path string, event EventType))
}

type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

type fileState struct {
	size    int64
	mod     time.Time
	pending bool
	emitted bool
}

// PollWatcher scans one directory (not recursively) on an interval.
type PollWatcher struct {
	interval time.Duration
	match    func(name string) bool
	logger   *slog.Logger

	mu       sync.Mutex
	callback func(path string, event EventType)
	cancel   context.CancelFunc
	files    map[string]*fileState
}

// NewPollWatcher watches files whose base name satisfies match; a nil match
// accepts every regular file.
func NewPollWatcher(interval time.Duration, match func(name string) bool, logger *slog.Logger) *PollWatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if match == nil {
		match = func(string) bool { return true }
	}
	return &PollWatcher{
		interval: interval,
		match:    match,
		logger:   logging.OrDiscard(logger),
		files:    make(map[string]*fileState),
	}
}

// MatchExt returns a matcher for a file extension such as ".json".
func MatchExt(ext string) func(string) bool {
	return func(name string) bool {
		return filepath.Ext(name) == ext
	}
}

func (w *PollWatcher) OnChange(callback func(path string, event EventType)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch blocks until ctx is done or Stop is called.
func (w *PollWatcher) Watch(ctx context.Context, dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", dir)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		cancel()
		return errors.New("watcher already running")
	}
	w.cancel = cancel
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.cancel = nil
		w.mu.Unlock()
		cancel()
	}()

	w.logger.Info("watching directory", "path", dir, "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.scan(dir); err != nil {
			w.logger.Warn("directory scan failed", "path", dir, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *PollWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
	return nil
}

type event struct {
	path string
	typ  EventType
}

func (w *PollWatcher) scan(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var events []event
	current := make(map[string]struct{}, len(entries))

	for _, de := range entries {
		if !de.Type().IsRegular() || !w.match(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		p := filepath.Join(dir, de.Name())
		current[p] = struct{}{}

		st, ok := w.files[p]
		switch {
		case !ok:
			w.files[p] = &fileState{size: info.Size(), mod: info.ModTime(), pending: true}
		case st.size != info.Size() || !st.mod.Equal(info.ModTime()):
			st.size, st.mod, st.pending = info.Size(), info.ModTime(), true
		case st.pending:
			st.pending = false
			if st.emitted {
				events = append(events, event{p, EventModify})
			} else {
				st.emitted = true
				events = append(events, event{p, EventCreate})
			}
		}
	}

	for p, st := range w.files {
		if _, ok := current[p]; ok {
			continue
		}
		delete(w.files, p)
		if st.emitted {
			events = append(events, event{p, EventDelete})
		}
	}

	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()
	if cb == nil {
		return nil
	}
	for _, ev := range events {
		cb(ev.path, ev.typ)
	}
	return nil
}
