package chunker

import (
	"context"
	"io"
	"sync"
	"time"
)

// SizingConfig bounds the chunk sizes a TransferRateSizer derives from a
// measured transfer rate (spec §5 "Supplemented features": a sink's
// observed throughput feeds ChunkerConfig sizing, rather than every file
// using the same fixed avgSize regardless of how slow or fast its
// destination is).
type SizingConfig struct {
	MinChunkSize   int64
	MaxChunkSize   int64
	StartChunkSize int64
	TargetDuration time.Duration

	ProbeSize    int64
	ProbeTimeout time.Duration
}

// DefaultSizingConfig returns sizing bounds tuned for a chunk upload that
// should take roughly 8 seconds regardless of link speed.
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		MinChunkSize:   2 * mib,
		MaxChunkSize:   256 * mib,
		StartChunkSize: 16 * mib,
		TargetDuration: 8 * time.Second,
		ProbeSize:      1 * mib,
		ProbeTimeout:   30 * time.Second,
	}
}

// RateSample is one throughput measurement taken by Measure.
type RateSample struct {
	BytesPerSecond float64
	Elapsed        time.Duration
	Bytes          int64
}

// TransferRateSizer tracks a destination's measured transfer rate and
// derives ChunkerConfig bounds from it: a slow sink gets smaller chunks
// (cheaper to retry), a fast one gets larger chunks (fewer round-trips).
// The core Chunker has no notion of transfer rate at all; this is the one
// seam that turns a rate observation into chunk-size bounds it accepts.
type TransferRateSizer struct {
	cfg SizingConfig

	mu        sync.RWMutex
	targetLen int64
	rate      float64
	sampledAt time.Time
}

// NewTransferRateSizer constructs a sizer starting at cfg.StartChunkSize,
// before any rate has been observed.
func NewTransferRateSizer(cfg SizingConfig) *TransferRateSizer {
	return &TransferRateSizer{cfg: cfg, targetLen: cfg.StartChunkSize}
}

// Measure times a write of a synthetic payload to w — typically a short
// connection to the real upload destination — and folds the observed rate
// into the sizer via Observe. On cancellation/timeout Measure returns early
// without updating the sizer; the in-flight Write itself is not interrupted.
func (s *TransferRateSizer) Measure(ctx context.Context, w io.Writer) (RateSample, error) {
	payload := make([]byte, s.cfg.ProbeSize)
	for i := range payload {
		payload[i] = byte((i * 7) % 256)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	var written int
	go func() {
		n, err := w.Write(payload)
		written = n
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return RateSample{}, err
		}
	case <-ctx.Done():
		return RateSample{}, ctx.Err()
	}

	elapsed := time.Since(start)
	sample := RateSample{
		BytesPerSecond: float64(written) / elapsed.Seconds(),
		Elapsed:        elapsed,
		Bytes:          int64(written),
	}
	s.Observe(sample.BytesPerSecond)
	return sample, nil
}

// Observe folds a measured rate (bytes/sec) into the sizer's current
// target chunk length: the length that would take cfg.TargetDuration to
// transfer at that rate, clamped to [MinChunkSize, MaxChunkSize].
func (s *TransferRateSizer) Observe(bytesPerSecond float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rate = bytesPerSecond
	s.sampledAt = time.Now()
	s.targetLen = s.clampLocked(int64(bytesPerSecond * s.cfg.TargetDuration.Seconds()))
}

func (s *TransferRateSizer) clampLocked(length int64) int64 {
	if length < s.cfg.MinChunkSize {
		return s.cfg.MinChunkSize
	}
	if length > s.cfg.MaxChunkSize {
		return s.cfg.MaxChunkSize
	}
	return length
}

// Rate returns the last observed transfer rate in bytes/sec, or 0 if
// Measure/Observe has never been called.
func (s *TransferRateSizer) Rate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rate
}

// TargetSize returns the sizer's current per-chunk target length.
func (s *TransferRateSizer) TargetSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targetLen
}

// Bounds returns (min, avg, max) for the normalized-chunking cut-point
// finder (C3), derived from the current target length: the finder is
// well-behaved with min = avg/4 and max = avg*4 (spec §4.3).
func (s *TransferRateSizer) Bounds() (min, avg, max int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	avg = s.targetLen
	min = avg / 4
	if min < 64 {
		min = 64
	}
	max = avg * 4
	if max > s.cfg.MaxChunkSize {
		max = s.cfg.MaxChunkSize
	}
	return min, avg, max
}

// ChunkerConfig builds a ChunkerConfig sized from the sizer's current
// target, leaving Hash and the parallel-path fields at their defaults.
func (s *TransferRateSizer) ChunkerConfig() ChunkerConfig {
	min, avg, max := s.Bounds()
	cfg := DefaultChunkerConfig()
	cfg.MinSize = min
	cfg.AvgSize = avg
	cfg.MaxSize = max
	return cfg
}

// Shrink reduces the target chunk length after a slow or failed transfer,
// by factor. An out-of-range factor (<=0 or >=1) defaults to 0.5.
func (s *TransferRateSizer) Shrink(factor float64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if factor <= 0 || factor >= 1 {
		factor = 0.5
	}
	s.targetLen = s.clampLocked(int64(float64(s.targetLen) * factor))
	return s.targetLen
}

// Grow increases the target chunk length after a transfer that finished
// well under cfg.TargetDuration, by factor (an out-of-range factor <= 1
// defaults to 1.25). A transfer at or above the target duration leaves
// the length unchanged.
func (s *TransferRateSizer) Grow(actual time.Duration, factor float64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if actual >= s.cfg.TargetDuration {
		return s.targetLen
	}
	if factor <= 1 {
		factor = 1.25
	}
	s.targetLen = s.clampLocked(int64(float64(s.targetLen) * factor))
	return s.targetLen
}

// RateTier labels a measured transfer rate for logging/reporting.
func RateTier(bytesPerSecond float64) string {
	mbps := bytesPerSecond * 8 / 1_000_000
	switch {
	case mbps < 1:
		return "slow"
	case mbps < 10:
		return "mobile"
	case mbps < 50:
		return "home"
	case mbps < 200:
		return "office"
	case mbps < 1000:
		return "fast"
	default:
		return "datacenter"
	}
}
