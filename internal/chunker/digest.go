package chunker

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
)

// HashKind selects the content-digest algorithm (spec §3 "ChunkerConfig").
// Modeled as a small tagged variant rather than runtime reflection, per
// spec §9 "Dynamic dispatch over hash kind" — grounded on
// vitalvas-gokit/fastcdc's HashAlgorithm enum.
type HashKind uint8

const (
	// Sha256 is the default content-digest algorithm.
	Sha256 HashKind = iota
	Sha1
	Sha512
)

// String returns the lowercase name used in config files and logs.
func (k HashKind) String() string {
	switch k {
	case Sha1:
		return "sha1"
	case Sha256:
		return "sha256"
	case Sha512:
		return "sha512"
	default:
		return "unknown"
	}
}

// Size returns the digest width in bytes for this hash kind.
func (k HashKind) Size() int {
	switch k {
	case Sha1:
		return sha1.Size
	case Sha512:
		return sha512.Size
	default:
		return sha256.Size
	}
}

// ParseHashKind parses a config string ("sha1", "sha256", "sha512", or "")
// into a HashKind, defaulting to Sha256 for the empty string. Any other
// unrecognized name is an error.
func ParseHashKind(name string) (HashKind, error) {
	switch name {
	case "", "sha256":
		return Sha256, nil
	case "sha1":
		return Sha1, nil
	case "sha512":
		return Sha512, nil
	default:
		return 0, fmt.Errorf("chunker: unknown hash kind %q", name)
	}
}

// NewHasher constructs the stdlib hash.Hash for the given kind. The digest
// width is opaque to downstream code (spec §4.4); callers should use
// HashKind.Size rather than assuming a width.
func NewHasher(kind HashKind) hash.Hash {
	switch kind {
	case Sha1:
		return sha1.New()
	case Sha512:
		return sha512.New()
	default:
		return sha256.New()
	}
}

// contentDigest hashes data with the given kind and returns the digest
// bytes. Implementations SHOULD prefer a per-goroutine hasher instance
// (spec §5); this helper allocates one per call, which is the simplest safe
// default and is what the parallel chunker's per-worker path relies on.
func contentDigest(kind HashKind, data []byte) []byte {
	h := NewHasher(kind)
	h.Write(data)
	return h.Sum(nil)
}

// EncodeDigest renders a digest as lowercase hex without separators, the
// serialization format spec §6 mandates.
func EncodeDigest(digest []byte) string {
	return hex.EncodeToString(digest)
}
