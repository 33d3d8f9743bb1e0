// Package sampler implements the sampling digest (spec §4.5): a cheap
// fingerprint computed from a small, deterministic subset of a file's
// bytes, used for change detection when full hashing is too costly.
package sampler

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/Sesame-Disk/backupcore/internal/chunker"
)

// Config configures the sampling digest (spec §4.5 defaults).
type Config struct {
	// SampleSize is the width of each sampled window, in bytes.
	SampleSize int64
	// K is the number of additional seeded pseudo-random windows, beyond
	// the fixed head/middle/tail windows.
	K int
	// Hash selects the digest algorithm applied to the concatenated
	// sample (and to small files, the whole-file digest).
	Hash chunker.HashKind
}

// DefaultConfig returns the spec's default sampling configuration
// (sampleSize=1024, K=16).
func DefaultConfig() Config {
	return Config{
		SampleSize: 1024,
		K:          16,
		Hash:       chunker.Sha256,
	}
}

// clockNow is overridable in tests; production code always uses time.Now.
var clockNow = time.Now

// Digest computes the sampling digest of the file at path using baseSeed,
// folded with the current UTC calendar day (spec §4.5 "Seed contract"): the
// specification mandates UTC, resolving the source's stated ambiguity
// between UTC and local time (spec §9 Open Questions), so the digest is
// stable within a day and changes at day boundaries regardless of the
// caller's time zone.
func Digest(cfg Config, path string, baseSeed uint32) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("sampler: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("sampler: stat %s: %w", path, err)
	}
	size := info.Size()

	threshold := cfg.SampleSize * int64(3+cfg.K)
	if size < threshold {
		h := chunker.NewHasher(cfg.Hash)
		if _, err := io.Copy(h, f); err != nil {
			return "", fmt.Errorf("sampler: read %s: %w", path, err)
		}
		return chunker.EncodeDigest(h.Sum(nil)), nil
	}

	offsets := samplePoints(cfg, size, foldSeedWithUTCDay(baseSeed, clockNow()))

	scratch := make([]byte, 0, int64(len(offsets))*cfg.SampleSize)
	window := make([]byte, cfg.SampleSize)
	for _, off := range offsets {
		if _, err := f.ReadAt(window, off); err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("sampler: read window at %d: %w", off, err)
		}
		scratch = append(scratch, window...)
	}

	h := chunker.NewHasher(cfg.Hash)
	h.Write(scratch)
	return chunker.EncodeDigest(h.Sum(nil)), nil
}

// foldSeedWithUTCDay mixes the caller's base seed with the current UTC
// calendar day number, giving the sampling digest a deliberate TTL: cached
// fingerprints computed with the same base seed agree within a day and
// differ once the UTC date rolls over.
func foldSeedWithUTCDay(baseSeed uint32, now time.Time) uint32 {
	day := uint32(now.UTC().Unix() / 86400)
	return baseSeed ^ day*2654435761 // Knuth multiplicative hash constant
}

// samplePoints computes the SamplePointSet (spec §3): offset 0, the
// centered middle window, the trailing window, and K offsets drawn from a
// seeded uniform PRNG over [0, size-sampleSize), sorted ascending.
func samplePoints(cfg Config, size int64, seed uint32) []int64 {
	sampleSize := cfg.SampleSize
	offsets := make([]int64, 0, 3+cfg.K)

	offsets = append(offsets, 0)

	mid := size/2 - sampleSize/2
	if mid < 0 {
		mid = 0
	}
	offsets = append(offsets, mid)

	tail := size - sampleSize
	if tail < 0 {
		tail = 0
	}
	offsets = append(offsets, tail)

	span := size - sampleSize
	if span < 0 {
		span = 0
	}

	rng := newSeededRange(seed)
	for i := 0; i < cfg.K; i++ {
		offsets = append(offsets, rng.next(span))
	}

	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

// seededRange is a tiny splitmix64-style generator used only to draw the
// sampling digest's pseudo-random offsets; it is independent of the
// chunker's keyed PRNG (C1) since it needs only a handful of 64-bit draws
// per file, not a full Gear table's worth of entropy.
type seededRange struct {
	state uint64
}

func newSeededRange(seed uint32) *seededRange {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], seed)
	binary.LittleEndian.PutUint32(buf[4:], ^seed)
	return &seededRange{state: binary.LittleEndian.Uint64(buf[:])}
}

func (r *seededRange) next(span int64) int64 {
	if span <= 0 {
		return 0
	}
	r.state += 0x9E3779B97F4A7C15
	z := r.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z = z ^ (z >> 31)
	return int64(z % uint64(span))
}
