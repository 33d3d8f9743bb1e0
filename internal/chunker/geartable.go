package chunker

// gearMask decorrelates adjacent table entries and preserves enough entropy
// for the low-order bits the cut-point mask consults. It is fixed across the
// whole corpus of chunkers built from this package — varying it per chunker
// would break the determinism contract (spec §6).
const gearMask uint32 = 0x0000D8F3

// defaultGearSeed is the fixed 16-byte seed used when a caller does not
// supply one. Any chunker built with this seed produces a byte-identical
// GearTable on any host (spec §8 testable property 4).
var defaultGearSeed = [minSeedLen]byte{
	0x67, 0x65, 0x61, 0x72, 0x2d, 0x68, 0x61, 0x73,
	0x68, 0x2d, 0x74, 0x61, 0x62, 0x6c, 0x65, 0x21,
}

// gearTableSize is the number of entries in a GearTable, one per possible
// input byte.
const gearTableSize = 256

// GearTable is a 256-entry table mapping byte value to a 32-bit Gear hash
// weight. It is built once per Chunker and shared freely afterward — it is
// immutable after construction (spec §5 "Shared-resource discipline").
type GearTable [gearTableSize]uint32

// buildGearTable constructs a GearTable deterministically from seed. For
// i in 0..256: table[i] = prng.next32() & gearMask.
func buildGearTable(seed []byte) (GearTable, error) {
	prng, err := newDeterministicPRNG(seed)
	if err != nil {
		return GearTable{}, err
	}

	var table GearTable
	for i := range table {
		table[i] = prng.next32() & gearMask
	}
	return table, nil
}

// DefaultGearTable returns the GearTable built from the package's fixed
// default seed. Every Chunker constructed without an explicit seed shares
// this table's values (not the same array instance, but bit-identical
// contents), satisfying the cross-host determinism contract.
func DefaultGearTable() GearTable {
	table, err := buildGearTable(defaultGearSeed[:])
	if err != nil {
		// defaultGearSeed is always long enough; this can't happen.
		panic("chunker: default gear seed rejected: " + err.Error())
	}
	return table
}
