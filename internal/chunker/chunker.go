// Package chunker implements a FastCDC-style content-defined chunker: a
// deterministic Gear-table generator (C1/C2), a normalized-chunking
// cut-point finder (C3), and the Chunker itself (C4/C5) that drives it over
// an in-memory buffer or a file.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/Sesame-Disk/backupcore/internal/bufpool"
)

// ChunkInfo is an immutable record of one emitted chunk (spec §3).
// c[i].Offset + c[i].Length == c[i+1].Offset for consecutive chunks in a
// sequence, and c[0].Offset == 0.
type ChunkInfo struct {
	Offset uint64
	Length uint32
	Digest []byte
}

// DigestHex renders Digest as lowercase hex, the serialization format
// spec §6 mandates.
func (c ChunkInfo) DigestHex() string {
	return EncodeDigest(c.Digest)
}

// ChunkerConfig configures a Chunker (spec §3 "ChunkerConfig").
type ChunkerConfig struct {
	MinSize int64
	AvgSize int64
	MaxSize int64
	Hash    HashKind

	// ParallelThreshold is the file size above which ChunkFile's parallel
	// path is eligible to engage (spec §4.4 default 100 MiB).
	ParallelThreshold int64

	// ParallelBlockSize is the fixed block size the parallel path
	// partitions a file into (spec §4.4 default 128 MiB).
	ParallelBlockSize int64

	// Seed overrides the Gear table's PRNG seed. Nil uses the package
	// default seed (spec §4.2).
	Seed []byte
}

const (
	// DefaultParallelThreshold is the file-size cutover point below which
	// ChunkFile(parallel=true) still behaves sequentially for exact
	// determinism, per spec §4.4.
	DefaultParallelThreshold = 100 * mib
	// DefaultParallelBlockSize is the per-worker block size for the
	// parallel file path, per spec §4.4.
	DefaultParallelBlockSize = 128 * mib
)

// DefaultChunkerConfig returns the common 2 KiB/16 KiB/64 KiB sizing used
// throughout spec §8's concrete scenarios.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MinSize:           2 * kib,
		AvgSize:           16 * kib,
		MaxSize:           64 * kib,
		Hash:              Sha256,
		ParallelThreshold: DefaultParallelThreshold,
		ParallelBlockSize: DefaultParallelBlockSize,
	}
}

// Validate checks the §3 invariant 0 < minSize < avgSize < maxSize.
func (c ChunkerConfig) Validate() error {
	if c.MinSize <= 0 {
		return errors.New("chunker: minSize must be > 0")
	}
	if c.AvgSize <= c.MinSize {
		return errors.New("chunker: avgSize must be > minSize")
	}
	if c.MaxSize <= c.AvgSize {
		return errors.New("chunker: maxSize must be > avgSize")
	}
	return nil
}

// ChunkResult is the outcome of a ChunkBuffer or ChunkFile call. Cancelled
// is true when the call was aborted cooperatively (spec §7: "Cancelled...
// not an error"); Chunks holds whatever was produced before the abort.
type ChunkResult struct {
	Chunks    []ChunkInfo
	Cancelled bool
}

// Chunker drives the cut-point finder over a file or buffer, emitting
// ChunkInfo records. A Chunker owns its GearTable and hash algorithm for its
// entire lifetime (spec §3 "Ownership & lifecycle") and MUST NOT vary the
// table across files in one run (spec §4.2).
type Chunker struct {
	cfg   ChunkerConfig
	table GearTable
	bufs  *bufpool.Pool
}

// New constructs a Chunker from cfg, building its GearTable once. Identical
// (cfg, seed) pairs produce a byte-identical GearTable on any host.
func New(cfg ChunkerConfig) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ParallelThreshold <= 0 {
		cfg.ParallelThreshold = DefaultParallelThreshold
	}
	if cfg.ParallelBlockSize <= 0 {
		cfg.ParallelBlockSize = DefaultParallelBlockSize
	}

	var table GearTable
	var err error
	if cfg.Seed != nil {
		table, err = buildGearTable(cfg.Seed)
		if err != nil {
			return nil, err
		}
	} else {
		table = DefaultGearTable()
	}

	return &Chunker{
		cfg:   cfg,
		table: table,
		bufs:  bufpool.New(int(cfg.MaxSize) * 2),
	}, nil
}

// Config returns the Chunker's configuration.
func (c *Chunker) Config() ChunkerConfig { return c.cfg }

// ChunkBuffer splits buf[start:start+length] into chunks entirely in
// memory. Chunks emitted are in buffer order (spec §5 "Ordering
// guarantees").
func (c *Chunker) ChunkBuffer(ctx context.Context, buf []byte, start, length int) (*ChunkResult, error) {
	if start < 0 || length < 0 || start+length > len(buf) {
		return nil, errors.New("chunker: invalid buffer range")
	}

	finder := newCutPointFinder(&c.table, c.cfg.MinSize, c.cfg.AvgSize, c.cfg.MaxSize)
	end := start + length

	var result ChunkResult
	pos := start
	for pos < end {
		select {
		case <-ctx.Done():
			result.Cancelled = true
			return &result, nil
		default:
		}

		windowEnd := pos + int(c.cfg.MaxSize)
		if windowEnd > end {
			windowEnd = end
		}
		cut := finder.findCutPoint(buf, pos, windowEnd)

		digest := contentDigest(c.cfg.Hash, buf[pos:cut])
		result.Chunks = append(result.Chunks, ChunkInfo{
			Offset: uint64(pos),
			Length: uint32(cut - pos),
			Digest: digest,
		})
		pos = cut
	}
	return &result, nil
}

// ChunkFile chunks the file at path. With parallel=false, or for files at
// or below cfg.ParallelThreshold, it uses the sequential overlap-buffer
// path, which is the sole path with the determinism contract of spec §6.
// With parallel=true and a file above the threshold, it partitions the file
// into fixed blocks and chunks them concurrently; cut points at block seams
// are not guaranteed to match the sequential result (spec §4.4, §9).
func (c *Chunker) ChunkFile(ctx context.Context, path string, parallel bool) (*ChunkResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chunker: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("chunker: stat %s: %w", path, err)
	}

	if parallel && info.Size() > c.cfg.ParallelThreshold {
		return c.chunkFileParallel(ctx, f, info.Size())
	}
	return c.chunkFileSequential(ctx, f)
}

// chunkFileSequential reads into a maxSize*2 buffer with an overlap
// strategy: after each pass, unprocessed tail bytes are moved to offset 0
// and the remainder refilled, guaranteeing any cut-point search has up to
// maxSize contiguous bytes available or reaches EOF (spec §4.4).
func (c *Chunker) chunkFileSequential(ctx context.Context, f *os.File) (*ChunkResult, error) {
	finder := newCutPointFinder(&c.table, c.cfg.MinSize, c.cfg.AvgSize, c.cfg.MaxSize)

	buf := c.bufs.Get()
	defer c.bufs.Put(buf)

	var result ChunkResult
	var filled int // valid bytes in buf[0:filled]
	var absoluteBase uint64
	eof := false

	for {
		select {
		case <-ctx.Done():
			result.Cancelled = true
			return &result, nil
		default:
		}

		// Top up the buffer to its capacity. io.ReadFull either fills it
		// completely (err == nil) or hits EOF partway through, so after
		// this, either filled == len(buf) or eof is true.
		if !eof && filled < len(buf) {
			n, err := io.ReadFull(f, buf[filled:])
			filled += n
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					eof = true
				} else {
					return nil, fmt.Errorf("chunker: read at offset %d: %w", absoluteBase+uint64(filled), err)
				}
			}
		}

		if filled == 0 {
			break
		}

		cut := finder.findCutPoint(buf, 0, filled)
		digest := contentDigest(c.cfg.Hash, buf[:cut])
		result.Chunks = append(result.Chunks, ChunkInfo{
			Offset: absoluteBase,
			Length: uint32(cut),
			Digest: digest,
		})

		remaining := filled - cut
		copy(buf, buf[cut:filled])
		absoluteBase += uint64(cut)
		filled = remaining

		if eof && filled == 0 {
			break
		}
	}

	return &result, nil
}

// chunkFileParallel partitions the file into fixed-size blocks (spec §4.4
// default 128 MiB) and chunks each block independently with a worker drawn
// from an errgroup, then concatenates results in ascending block order.
// Each worker writes into its own slot of results, indexed by block number,
// so no post-merge sort is needed to restore block order.
func (c *Chunker) chunkFileParallel(ctx context.Context, f *os.File, size int64) (*ChunkResult, error) {
	blockSize := c.cfg.ParallelBlockSize
	numBlocks := int((size + blockSize - 1) / blockSize)

	results := make([][]ChunkInfo, numBlocks)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < numBlocks; i++ {
		i := i
		g.Go(func() error {
			base := int64(i) * blockSize
			length := blockSize
			if base+length > size {
				length = size - base
			}

			reader := io.NewSectionReader(f, base, length)
			buf := make([]byte, length)
			if _, err := io.ReadFull(reader, buf); err != nil {
				return fmt.Errorf("chunker: read block %d at offset %d: %w", i, base, err)
			}

			finder := newCutPointFinder(&c.table, c.cfg.MinSize, c.cfg.AvgSize, c.cfg.MaxSize)
			var chunks []ChunkInfo
			pos := 0
			for pos < len(buf) {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				windowEnd := pos + int(c.cfg.MaxSize)
				if windowEnd > len(buf) {
					windowEnd = len(buf)
				}
				cut := finder.findCutPoint(buf, pos, windowEnd)
				digest := contentDigest(c.cfg.Hash, buf[pos:cut])
				chunks = append(chunks, ChunkInfo{
					Offset: uint64(base) + uint64(pos),
					Length: uint32(cut - pos),
					Digest: digest,
				})
				pos = cut
			}

			results[i] = chunks
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			return &ChunkResult{Cancelled: true}, nil
		}
		return nil, err
	}

	var result ChunkResult
	for _, chunks := range results {
		result.Chunks = append(result.Chunks, chunks...)
	}
	return &result, nil
}
