// Package sink defines the external-collaborator seam a chunking pipeline
// writes completed chunks to. It deliberately has no concrete storage
// implementation: remote storage transport is out of scope for this
// engine (spec.md §1's non-goals), so only the interface shape is kept,
// grounded on the teacher's storage.Store, plus a discarding NopSink.
package sink

import (
	"context"
	"io"
)

// ChunkSink receives completed chunks as they are produced. Implementations
// live outside this module (a local disk store, an object-store client, a
// test double); the pipeline package depends only on this interface (and
// NopSink as its default).
type ChunkSink interface {
	// Put stores one chunk's content under digestHex, the lowercase-hex
	// content digest computed by internal/chunker. Implementations should
	// treat Put as idempotent: the same digest may be offered more than
	// once (e.g. after a retried scan) and a sink is free to skip storage
	// work it can prove is already done.
	Put(ctx context.Context, digestHex string, size int64, r io.Reader) error

	// Exists reports whether a chunk with digestHex is already stored,
	// letting callers skip reading chunk content they don't need to send.
	Exists(ctx context.Context, digestHex string) (bool, error)
}

// NopSink discards every chunk offered to it. It is useful for dry-run
// scans that only want statistics, and as the zero value of ChunkSink
// wiring in tests.
type NopSink struct{}

// Put implements ChunkSink by discarding r.
func (NopSink) Put(ctx context.Context, digestHex string, size int64, r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// Exists implements ChunkSink, always reporting absence so callers always
// attempt Put.
func (NopSink) Exists(ctx context.Context, digestHex string) (bool, error) {
	return false, nil
}
