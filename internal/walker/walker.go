// Package walker implements the parallel directory walker (spec §3/§4.7): a
// bounded, back-pressured producer/consumer tree traversal with a
// caller-supplied ignore set, depth limit, and symlink-loop detection.
package walker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sesame-Disk/backupcore/internal/ignore"
)

// ErrorKind classifies a per-path scan error (spec §3 "ScanError").
type ErrorKind string

const (
	ErrAccessDenied ErrorKind = "access_denied"
	ErrNotFound     ErrorKind = "not_found"
	ErrEnumerate    ErrorKind = "enumerate"
	ErrProcess      ErrorKind = "process"
	ErrCancelled    ErrorKind = "cancelled"
)

// ScanError is one path-scoped failure collected during a walk. The walker
// never propagates these as call failures (spec §7); it aggregates them.
type ScanError struct {
	Path    string
	Message string
	Kind    ErrorKind
}

func (e ScanError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Path, e.Message, e.Kind)
}

// ScanStatistics holds monotonic counters mutated only by atomic add
// (spec §3).
type ScanStatistics struct {
	Files       atomic.Int64
	Directories atomic.Int64
	TotalBytes  atomic.Int64
}

// Snapshot returns a point-in-time copy of the counters.
func (s *ScanStatistics) Snapshot() (files, directories, totalBytes int64) {
	return s.Files.Load(), s.Directories.Load(), s.TotalBytes.Load()
}

// FileEvent describes one file the walker found, passed to the caller's
// Sink. Info may be nil if the caller only needs the path.
type FileEvent struct {
	Path  string
	Info  os.FileInfo
	Depth int
}

// Sink receives one FileEvent per non-ignored, filter-passing file. It is
// called from whichever worker goroutine found the file; sinks that are
// not themselves safe for concurrent use must synchronize internally.
type Sink func(FileEvent)

// Options configures one walk (spec §6 "Scan call").
type Options struct {
	// MaxDepth limits recursion; 0 means unlimited.
	MaxDepth int
	// FollowSymlinks enables descending into symlinked directories, with
	// loop protection by canonicalizing every directory path before the
	// visited-directories check.
	FollowSymlinks bool
	// Ignore is the rule set files and directories are tested against.
	// A nil Ignore matches nothing (everything is kept).
	Ignore *ignore.Set
	// MinSize/MaxSize filter files by size in bytes; MaxSize == 0 means
	// unbounded.
	MinSize int64
	MaxSize int64
	// MinAge/MaxAge filter files by time since modification; MaxAge == 0
	// means unbounded.
	MinAge time.Duration
	MaxAge time.Duration
	// IncludeHidden controls whether dot-prefixed entries are visited.
	IncludeHidden bool
	// QueueCapacity bounds the directory work queue (spec §4.7 default
	// 100000).
	QueueCapacity int
	// Workers is the worker pool size; 0 means 2*GOMAXPROCS.
	Workers int
}

// DefaultOptions returns the spec's default bounded-queue / worker-count
// configuration.
func DefaultOptions() Options {
	return Options{
		QueueCapacity: 100_000,
	}
}

func (o Options) queueCapacity() int {
	if o.QueueCapacity > 0 {
		return o.QueueCapacity
	}
	return 100_000
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return 2 * runtime.GOMAXPROCS(0)
}

// Result is the outcome of a Walk call (spec §6 "Scan result").
type Result struct {
	Start     time.Time
	End       time.Time
	Elapsed   time.Duration
	Stats     *ScanStatistics
	Errors    []ScanError
	Cancelled bool
}

// workItem is produced for directories only; files are processed inline by
// the worker that found them (spec §3 "WorkItem").
type workItem struct {
	path  string
	depth int
}

// errorBag is a thread-safe append-only collection of ScanErrors (spec §5
// "concurrent map/bag").
type errorBag struct {
	mu   sync.Mutex
	errs []ScanError
}

func (b *errorBag) add(e ScanError) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, e)
}

func (b *errorBag) all() []ScanError {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ScanError, len(b.errs))
	copy(out, b.errs)
	return out
}

// Walk enumerates root with bounded concurrency, emitting files via sink
// and returning aggregate statistics and errors. A nil sink is valid when
// the caller only wants statistics/errors.
func Walk(ctx context.Context, root string, opts Options, sink Sink) (*Result, error) {
	start := time.Now()
	if sink == nil {
		sink = func(FileEvent) {}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("walker: resolve root %s: %w", root, err)
	}
	if opts.FollowSymlinks {
		if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
			absRoot = resolved
		}
	}

	w := &walk{
		opts:  opts,
		sink:  sink,
		stats: &ScanStatistics{},
		errs:  &errorBag{},
		queue: make(chan workItem, opts.queueCapacity()),
	}
	w.visitedDirs.Store(absRoot, struct{}{})

	var pending sync.WaitGroup
	pending.Add(1)
	w.queue <- workItem{path: absRoot, depth: 0}

	closeOnce := sync.OnceFunc(func() { close(w.queue) })
	go func() {
		pending.Wait()
		closeOnce()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.workers(); i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					// Drain without processing so pending.Wait() still
					// converges and the closer goroutine can exit.
					for item := range w.queue {
						_ = item
						pending.Done()
					}
					return nil
				case item, ok := <-w.queue:
					if !ok {
						return nil
					}
					w.processDir(gctx, item, &pending)
				}
			}
		})
	}

	cancelled := false
	if err := g.Wait(); err != nil && errors.Is(err, context.Canceled) {
		cancelled = true
	}
	if ctx.Err() != nil {
		cancelled = true
	}

	end := time.Now()
	return &Result{
		Start:     start,
		End:       end,
		Elapsed:   end.Sub(start),
		Stats:     w.stats,
		Errors:    w.errs.all(),
		Cancelled: cancelled,
	}, nil
}

// walk holds the shared, concurrent-safe state for one Walk call.
type walk struct {
	opts  Options
	sink  Sink
	stats *ScanStatistics
	errs  *errorBag

	queue       chan workItem
	visitedDirs sync.Map // canonical path -> struct{}
}

// processDir is one worker's handling of a single directory WorkItem:
// enumerating files (testing each against the ignore set and size/age
// filters) and enqueuing unvisited subdirectories. Per-path errors are
// collected, never returned, so that access-denied on one directory never
// precludes scanning its siblings (spec §4.7 "Error isolation"). Loop
// protection lives entirely in maybeEnqueueDir, which canonicalizes every
// directory (including ones reached through a symlink) before the
// visited-set check, so a symlink cycle collapses onto the same canonical
// entry instead of growing an ever-longer literal path.
func (w *walk) processDir(ctx context.Context, item workItem, pending *sync.WaitGroup) {
	defer pending.Done()

	entries, err := os.ReadDir(item.path)
	if err != nil {
		w.errs.add(ScanError{Path: item.path, Message: err.Error(), Kind: classifyDirError(err)})
		return
	}

	w.stats.Directories.Add(1)

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !w.opts.IncludeHidden && isHidden(entry.Name()) {
			continue
		}

		childPath := filepath.Join(item.path, entry.Name())

		isDir := entry.IsDir()
		if !isDir && w.opts.FollowSymlinks && entry.Type()&os.ModeSymlink != 0 {
			if info, err := os.Stat(childPath); err == nil && info.IsDir() {
				isDir = true
			}
		}

		if isDir {
			w.maybeEnqueueDir(childPath, item.depth+1, pending)
			continue
		}

		w.processFile(childPath, item.depth+1, entry)
	}
}

// maybeEnqueueDir enqueues a subdirectory unless it is already visited,
// ignored, or beyond MaxDepth (spec §4.7). When FollowSymlinks is set, path
// is resolved to its canonical form first, so every route into the same
// physical directory — direct or through any number of symlink hops —
// dedups onto one visitedDirs entry; this is what stops a symlink cycle
// from being walked forever.
func (w *walk) maybeEnqueueDir(path string, depth int, pending *sync.WaitGroup) {
	if w.opts.MaxDepth != 0 && depth > w.opts.MaxDepth {
		return
	}
	if w.opts.Ignore != nil && w.opts.Ignore.Match(path) {
		return
	}

	canonical := path
	if w.opts.FollowSymlinks {
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			w.errs.add(ScanError{Path: path, Message: err.Error(), Kind: ErrAccessDenied})
			return
		}
		canonical = resolved
	}

	if _, alreadyVisited := w.visitedDirs.LoadOrStore(canonical, struct{}{}); alreadyVisited {
		return
	}

	pending.Add(1)
	select {
	case w.queue <- workItem{path: canonical, depth: depth}:
	default:
		// Queue briefly full: block, propagating back-pressure to this
		// producer, rather than dropping the directory (spec §5
		// "Back-pressure").
		w.queue <- workItem{path: canonical, depth: depth}
	}
}

// processFile tests one file against the ignore set and size/age filters,
// updates statistics, and invokes the sink (spec §4.7).
func (w *walk) processFile(path string, depth int, entry os.DirEntry) {
	if w.opts.Ignore != nil && w.opts.Ignore.Match(path) {
		return
	}

	info, err := entry.Info()
	if err != nil {
		w.errs.add(ScanError{Path: path, Message: err.Error(), Kind: ErrProcess})
		return
	}

	size := info.Size()
	if size < w.opts.MinSize {
		return
	}
	if w.opts.MaxSize > 0 && size > w.opts.MaxSize {
		return
	}

	age := time.Since(info.ModTime())
	if age < w.opts.MinAge {
		return
	}
	if w.opts.MaxAge > 0 && age > w.opts.MaxAge {
		return
	}

	w.stats.Files.Add(1)
	w.stats.TotalBytes.Add(size)
	w.sink(FileEvent{Path: path, Info: info, Depth: depth})
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}

func classifyDirError(err error) ErrorKind {
	switch {
	case os.IsPermission(err):
		return ErrAccessDenied
	case os.IsNotExist(err):
		return ErrNotFound
	default:
		return ErrEnumerate
	}
}
