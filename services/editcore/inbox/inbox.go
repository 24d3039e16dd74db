// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inbox delivers operation files dropped into a directory.
//
// # Description
//
// A Watcher observes one directory with fsnotify. Files matching its
// patterns are debounced, parsed by an ingest.Ingestor and handed to a
// Handler, typically one that commits them as a single transaction.
// Handled files are moved to a "processed" subdirectory, rejected ones to
// "failed", so a restart never replays them.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/editcore/services/editcore/ingest"
	"github.com/AleutianAI/editcore/services/editcore/operation"
)

// Subdirectories used for archiving.
const (
	ProcessedDir = "processed"
	FailedDir    = "failed"
)

// ErrNoOperations is passed to failure handling when a file parses to nothing.
var ErrNoOperations = errors.New("inbox: file contains no operations")

// Delivery is one parsed inbox file.
type Delivery struct {
	// Path is the absolute path of the file as it was dropped.
	Path string

	// Operations are the parsed operations, in file order.
	Operations []operation.Operation

	// ReceivedAt is when the file was picked up.
	ReceivedAt time.Time
}

// Handler consumes a delivery. A non-nil error archives the file as failed.
type Handler func(ctx context.Context, d Delivery) error

// Options configures a Watcher.
type Options struct {
	// Debounce is how long a file must be quiet before it is read.
	// Default: 200ms
	Debounce time.Duration

	// Patterns are glob patterns matched against the file's base name.
	// Default: *.json, *.yaml, *.yml, *.txt, *.diff, *.patch, *.ops
	Patterns []string

	// Format selects the ingest format. Default: ingest.FormatAuto.
	Format ingest.Format

	// Archive moves handled files into ProcessedDir or FailedDir.
	// When false, files stay in place and are tracked by mod time.
	Archive bool

	// ProcessExisting delivers matching files already present at Start.
	ProcessExisting bool

	// RateLimit caps deliveries per second. Zero means unlimited.
	RateLimit rate.Limit

	// Burst is the number of deliveries allowed at once under RateLimit.
	// Default: 1
	Burst int

	// Logger is the base logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Debounce: 200 * time.Millisecond,
		Patterns: []string{"*.json", "*.yaml", "*.yml", "*.txt", "*.diff", "*.patch", "*.ops"},
		Format:   ingest.FormatAuto,
		Archive:  true,
	}
}

// Watcher delivers operation files from a directory.
//
// Thread Safety: Safe for concurrent use. The handler is called from a
// single goroutine, one file at a time, in name order within a batch.
type Watcher struct {
	dir      string
	opts     Options
	ingestor *ingest.Ingestor
	handler  Handler
	limiter  *rate.Limiter
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	changes  chan string
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
	seen     map[string]time.Time
}

// New creates a Watcher for dir.
//
// # Inputs
//
//   - dir: Directory to watch. Created if missing.
//   - ingestor: Parses file contents. Nil creates one with the watcher's logger.
//   - handler: Receives each delivery. Must not be nil.
//   - opts: Configuration. Zero fields take DefaultOptions values, except
//     Archive and ProcessExisting which are used as given.
//
// # Outputs
//
//   - *Watcher: Call Start to begin watching.
//   - error: Non-nil if dir cannot be created or fsnotify fails.
func New(dir string, ingestor *ingest.Ingestor, handler Handler, opts Options) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("inbox: handler must not be nil")
	}
	defaults := DefaultOptions()
	if opts.Debounce <= 0 {
		opts.Debounce = defaults.Debounce
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = defaults.Patterns
	}
	if opts.Format == "" {
		opts.Format = defaults.Format
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "inbox.Watcher")
	if ingestor == nil {
		ingestor = ingest.New(logger)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve inbox dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		if opts.Burst < 1 {
			opts.Burst = 1
		}
		limiter = rate.NewLimiter(opts.RateLimit, opts.Burst)
	}

	return &Watcher{
		dir:      abs,
		limiter:  limiter,
		opts:     opts,
		ingestor: ingestor,
		handler:  handler,
		logger:   logger.With("dir", abs),
		watcher:  fw,
		changes:  make(chan string, 256),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		seen:     make(map[string]time.Time),
	}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string {
	return w.dir
}

// Start begins watching.
//
// # Description
//
// Adds the directory to fsnotify and spawns the event and debounce
// goroutines. Both exit when Stop is called or ctx is canceled. With
// ProcessExisting, files already present are queued immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		w.setWatching(false)
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	var existing []string
	if w.opts.ProcessExisting {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			w.setWatching(false)
			return fmt.Errorf("list %s: %w", w.dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && w.matches(e.Name()) {
				existing = append(existing, filepath.Join(w.dir, e.Name()))
			}
		}
	}

	go w.processEvents(ctx)
	go w.debounceLoop(ctx, existing)

	w.logger.Info("inbox watching", "patterns", w.opts.Patterns, "existing", len(existing))
	return nil
}

// Stop stops the watcher and waits for an in-flight delivery to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		started := w.watching
		w.watching = false
		w.mu.Unlock()

		if started {
			<-w.stopped
		}
	})
}

func (w *Watcher) setWatching(v bool) {
	w.mu.Lock()
	w.watching = v
	w.mu.Unlock()
}

// IsWatching returns true while the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching
}

func (w *Watcher) matches(name string) bool {
	for _, pattern := range w.opts.Patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Dir(event.Name) != w.dir || !w.matches(filepath.Base(event.Name)) {
				continue
			}
			select {
			case w.changes <- event.Name:
			default:
				w.logger.Warn("inbox change buffer full, dropping event", "path", event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context, initial []string) {
	defer close(w.stopped)

	pending := make(map[string]struct{})
	for _, p := range initial {
		pending[p] = struct{}{}
	}

	timer := time.NewTimer(w.opts.Debounce)
	if len(pending) == 0 {
		timer.Stop()
	}
	defer timer.Stop()

	flush := func() {
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		clear(pending)
		sort.Strings(paths)
		for _, p := range paths {
			if w.limiter != nil {
				if err := w.limiter.Wait(ctx); err != nil {
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			w.deliver(ctx, p)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case p := <-w.changes:
			pending[p] = struct{}{}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.opts.Debounce)
		case <-timer.C:
			flush()
		}
	}
}

// deliver reads, parses and hands one file to the handler.
func (w *Watcher) deliver(ctx context.Context, path string) {
	logger := w.logger.With("path", path)

	info, err := os.Stat(path)
	if err != nil {
		// Already archived or removed by the producer.
		logger.Debug("inbox file vanished", "error", err)
		return
	}
	if info.IsDir() {
		return
	}
	if !w.opts.Archive {
		w.mu.Lock()
		last, ok := w.seen[path]
		w.seen[path] = info.ModTime()
		w.mu.Unlock()
		if ok && !info.ModTime().After(last) {
			return
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read inbox file", "error", err)
		return
	}

	ops, err := w.ingestor.Parse(string(raw), w.opts.Format)
	if err == nil && len(ops) == 0 {
		err = ErrNoOperations
	}
	if err != nil {
		logger.Warn("inbox file rejected", "error", err)
		w.archive(path, FailedDir)
		return
	}

	d := Delivery{Path: path, Operations: ops, ReceivedAt: time.Now()}
	if err := w.safeHandle(ctx, d); err != nil {
		logger.Warn("inbox delivery failed", "operations", len(ops), "error", err)
		w.archive(path, FailedDir)
		return
	}
	logger.Info("inbox delivery handled", "operations", len(ops))
	w.archive(path, ProcessedDir)
}

func (w *Watcher) safeHandle(ctx context.Context, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inbox handler panic: %v", r)
		}
	}()
	return w.handler(ctx, d)
}

func (w *Watcher) archive(path, sub string) {
	if !w.opts.Archive {
		return
	}
	dest := filepath.Join(w.dir, sub)
	if err := os.MkdirAll(dest, 0o750); err != nil {
		w.logger.Error("create archive dir", "dir", dest, "error", err)
		return
	}
	target := filepath.Join(dest, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		target = filepath.Join(dest, fmt.Sprintf("%s.%d", filepath.Base(path), time.Now().UnixNano()))
	}
	if err := os.Rename(path, target); err != nil {
		w.logger.Error("archive inbox file", "path", path, "target", target, "error", err)
	}
}
