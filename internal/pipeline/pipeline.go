// Package pipeline wires the walker, chunker, sampler, and sink together
// into one scan that a scheduler task can run: the control flow spec.md §2
// describes as "the
// Scheduler triggers a scan; the Walker emits file paths; for each file the
// pipeline invokes either the Chunker or the Sampling Digest; C9 guards any
// critical section the caller designates".
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Sesame-Disk/backupcore/internal/chunker"
	"github.com/Sesame-Disk/backupcore/internal/ignore"
	"github.com/Sesame-Disk/backupcore/internal/namedlock"
	"github.com/Sesame-Disk/backupcore/internal/sampler"
	"github.com/Sesame-Disk/backupcore/internal/sink"
	"github.com/Sesame-Disk/backupcore/internal/walker"
)

// Mode selects how a discovered file is processed.
type Mode int

const (
	// ModeChunk runs the full content-defined chunker over each file.
	ModeChunk Mode = iota
	// ModeSample runs only the cheap sampling digest, for change detection
	// without a full content scan.
	ModeSample
)

// Config configures one Pipeline (spec §4.9/§5's "scan" entry point,
// combining walker, chunker, and sampler options).
type Config struct {
	Root    string
	Walker  walker.Options
	Chunker chunker.ChunkerConfig
	Sampler sampler.Config
	Mode    Mode

	// Parallel enables the chunker's block-parallel path for large files.
	Parallel bool
	// Adaptive, when non-nil, sizes each file's chunker bounds from the
	// sizer's current transfer-rate estimate instead of the fixed Chunker
	// config above (spec §5 "Supplemented features").
	Adaptive *chunker.TransferRateSizer
	// SampleBaseSeed seeds the sampling digest when Mode == ModeSample.
	SampleBaseSeed uint32
	// LockKey, if non-empty, serializes this pipeline's runs against any
	// other pipeline/task using the same key via internal/namedlock
	// (spec §4.9 "C9 guards any critical section the caller designates").
	LockKey     string
	LockTimeout time.Duration
}

// FileResult is what one discovered file produced.
type FileResult struct {
	Path    string
	Size    int64
	Chunks  []chunker.ChunkInfo
	Digest  string
	Skipped bool
	Err     error
}

// Result is the outcome of one pipeline run.
type Result struct {
	Scan    *walker.Result
	Files   []FileResult
	Skipped bool // true if LockKey's permit could not be acquired
}

// Pipeline ties one chunker and sink to a Config; safe to Run repeatedly
// (e.g. from a scheduler.Task), including concurrently, as long as the
// caller wants overlapping runs — LockKey is what prevents that when they
// don't.
type Pipeline struct {
	cfg     Config
	chunker *chunker.Chunker
	sink    sink.ChunkSink
}

// New constructs a Pipeline. A nil sink defaults to sink.NopSink{}. When
// cfg.Adaptive is set, Config.Chunker is not built up front — every file
// gets a freshly sized chunker from chunkerFor instead (see below) — so
// Config.Chunker may be left at its zero value in that case.
func New(cfg Config, s sink.ChunkSink) (*Pipeline, error) {
	if s == nil {
		s = sink.NopSink{}
	}
	p := &Pipeline{cfg: cfg, sink: s}
	if cfg.Adaptive == nil {
		c, err := chunker.New(cfg.Chunker)
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		p.chunker = c
	}
	return p, nil
}

// chunkerFor returns the Chunker to use for one file: the pipeline's fixed
// Chunker, or — when Config.Adaptive is set — a fresh Chunker rebuilt from
// the sizer's current transfer-rate estimate, so each file picks up
// whatever target size the most recent rate observation implies.
func (p *Pipeline) chunkerFor() (*chunker.Chunker, error) {
	if p.cfg.Adaptive == nil {
		return p.chunker, nil
	}
	c, err := chunker.New(p.cfg.Adaptive.ChunkerConfig())
	if err != nil {
		return nil, fmt.Errorf("pipeline: adaptive chunker config: %w", err)
	}
	return c, nil
}

// Run walks Config.Root and processes every discovered file according to
// Config.Mode, respecting LockKey if set. It returns a partial Result with
// Skipped=true, rather than an error, when the lock could not be acquired
// within LockTimeout — consistent with spec §4.8's TryWith contract.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if p.cfg.LockKey == "" {
		return p.run(ctx)
	}

	var result *Result
	var runErr error
	acquired := namedlock.TryWith(ctx, p.cfg.LockKey, p.cfg.LockTimeout, func(ctx context.Context) {
		result, runErr = p.run(ctx)
	})
	if !acquired {
		return &Result{Skipped: true}, nil
	}
	return result, runErr
}

func (p *Pipeline) run(ctx context.Context) (*Result, error) {
	var mu sync.Mutex
	var files []FileResult

	scan, err := walker.Walk(ctx, p.cfg.Root, p.cfg.Walker, func(ev walker.FileEvent) {
		res := p.processFile(ctx, ev)
		mu.Lock()
		files = append(files, res)
		mu.Unlock()
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: walk %s: %w", p.cfg.Root, err)
	}

	return &Result{Scan: scan, Files: files}, nil
}

func (p *Pipeline) processFile(ctx context.Context, ev walker.FileEvent) FileResult {
	res := FileResult{Path: ev.Path}
	if ev.Info != nil {
		res.Size = ev.Info.Size()
	}

	switch p.cfg.Mode {
	case ModeSample:
		digest, err := sampler.Digest(p.cfg.Sampler, ev.Path, p.cfg.SampleBaseSeed)
		if err != nil {
			res.Err = err
			return res
		}
		res.Digest = digest
		return res
	default:
		c, err := p.chunkerFor()
		if err != nil {
			res.Err = err
			return res
		}
		chunkResult, err := c.ChunkFile(ctx, ev.Path, p.cfg.Parallel)
		if err != nil {
			res.Err = err
			return res
		}
		if chunkResult.Cancelled {
			res.Skipped = true
			return res
		}
		res.Chunks = chunkResult.Chunks
		if err := p.publish(ctx, ev.Path, chunkResult.Chunks); err != nil {
			res.Err = err
		}
		return res
	}
}

// publish offers each chunk's bytes to the configured sink, skipping ones
// the sink already has.
func (p *Pipeline) publish(ctx context.Context, path string, chunks []chunker.ChunkInfo) error {
	if len(chunks) == 0 {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("pipeline: reopen %s for publish: %w", path, err)
	}
	defer f.Close()

	for _, c := range chunks {
		digestHex := c.DigestHex()
		exists, err := p.sink.Exists(ctx, digestHex)
		if err != nil {
			return fmt.Errorf("pipeline: sink exists(%s): %w", digestHex, err)
		}
		if exists {
			continue
		}

		section := io.NewSectionReader(f, int64(c.Offset), int64(c.Length))
		if err := p.sink.Put(ctx, digestHex, int64(c.Length), section); err != nil {
			return fmt.Errorf("pipeline: sink put(%s): %w", digestHex, err)
		}
	}
	return nil
}

// NewIgnoreSet is a convenience wrapper so callers building a Config don't
// need to import internal/ignore directly just to call NewSet.
func NewIgnoreSet(root string, patterns []string) (*ignore.Set, error) {
	return ignore.NewSet(root, patterns)
}
