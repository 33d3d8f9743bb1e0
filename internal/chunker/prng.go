package chunker

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

// stateSize is the size of the PRNG's internal state buffer. It is refilled
// in whole once exhausted, by SHA-256 of the current state XORed with a
// block counter.
const stateSize = 1024

// minSeedLen is the minimum accepted seed length. Shorter seeds are
// rejected with ErrSeedTooShort.
const minSeedLen = 16

// ErrSeedTooShort is returned by newDeterministicPRNG when the caller's seed
// is shorter than minSeedLen bytes.
var ErrSeedTooShort = errors.New("chunker: seed must be at least 16 bytes")

// deterministicPRNG is a reproducible 32-bit stream generator seeded by a
// caller-supplied byte sequence. It makes no cryptographic claims; it is a
// keyed deterministic expander used only to build the Gear table (C2), so
// that the table is byte-identical across processes and hosts for a given
// seed.
type deterministicPRNG struct {
	state   [stateSize]byte
	offset  int
	counter uint64
}

// newDeterministicPRNG constructs a PRNG from seed. A seed shorter than
// minSeedLen is rejected with ErrSeedTooShort; a longer one is hashed into
// the initial state as-is, with no padding.
func newDeterministicPRNG(seed []byte) (*deterministicPRNG, error) {
	if len(seed) < minSeedLen {
		return nil, ErrSeedTooShort
	}

	p := &deterministicPRNG{}
	p.fill(seed)
	return p, nil
}

// fill derives the initial state buffer from seed by repeated SHA-256
// expansion: state block i is SHA256(seed || counter=i), concatenated until
// stateSize bytes are produced.
func (p *deterministicPRNG) fill(seed []byte) {
	var written int
	var counter uint64
	for written < stateSize {
		block := p.expand(seed, counter)
		n := copy(p.state[written:], block[:])
		written += n
		counter++
	}
	p.offset = 0
	p.counter = counter
}

// expand computes one SHA-256 block of the keyed expansion: the seed bytes
// followed by a little-endian block counter.
func (p *deterministicPRNG) expand(seed []byte, counter uint64) [sha256.Size]byte {
	h := sha256.New()
	h.Write(seed)
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], counter)
	h.Write(ctr[:])
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// refill replaces the state buffer once it has been fully consumed. The new
// state is SHA-256 of the current (exhausted) state XORed with the block
// counter left by the last fill (the number of blocks that fill produced),
// expanded the same way fill does.
func (p *deterministicPRNG) refill() {
	mixed := make([]byte, stateSize)
	var ctr [8]byte
	binary.LittleEndian.PutUint64(ctr[:], p.counter)
	for i := range mixed {
		mixed[i] = p.state[i] ^ ctr[i%len(ctr)]
	}
	p.fill(mixed)
}

// next32 reads the next 4 bytes of the expansion as a little-endian uint32,
// refilling the state when exhausted.
func (p *deterministicPRNG) next32() uint32 {
	if p.offset+4 > stateSize {
		p.refill()
	}
	v := binary.LittleEndian.Uint32(p.state[p.offset : p.offset+4])
	p.offset += 4
	return v
}
