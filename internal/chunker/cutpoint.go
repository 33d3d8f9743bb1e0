package chunker

// Mask selection by avgSize bucket (spec §4.3 "Mask selection by avgSize").
const (
	maskUpTo8KiB   uint32 = 0x0000_7FFF
	maskUpTo1MiB   uint32 = 0x0007_FFFF
	maskUpTo16MiB  uint32 = 0x007F_FFFF
	maskBeyond16MB uint32 = 0x07FF_FFFF
)

const (
	kib = 1024
	mib = 1024 * kib
)

// primaryMaskFor returns the primary cut-point mask for the given avgSize,
// per the bucket table in spec §4.3.
func primaryMaskFor(avgSize int64) uint32 {
	switch {
	case avgSize <= 8*kib:
		return maskUpTo8KiB
	case avgSize <= 1*mib:
		return maskUpTo1MiB
	case avgSize <= 16*mib:
		return maskUpTo16MiB
	default:
		return maskBeyond16MB
	}
}

// cutPointFinder drives the Gear rolling hash over a byte window using the
// normalized-chunking, four-phase strategy of spec §4.3. It carries no
// state between calls to findCutPoint; HashState is local to each search.
type cutPointFinder struct {
	table       *GearTable
	minSize     int64
	avgSize     int64
	maxSize     int64
	primaryMask uint32
	relaxedMask uint32
}

func newCutPointFinder(table *GearTable, minSize, avgSize, maxSize int64) *cutPointFinder {
	primary := primaryMaskFor(avgSize)
	return &cutPointFinder{
		table:       table,
		minSize:     minSize,
		avgSize:     avgSize,
		maxSize:     maxSize,
		primaryMask: primary,
		// The relaxed mask approximately doubles cut probability by
		// clearing one more high bit than the primary mask checks.
		relaxedMask: primary >> 1,
	}
}

// findCutPoint scans buf[start:end] (end-start <= maxSize) and returns the
// index of the next cut point, start+minSize <= cut <= end. A window shorter
// than minSize yields cut == end.
//
// The four phases are the semantic reference (spec §4.3): any
// vectorization of the byte-load must preserve identical cut decisions,
// since the rolling hash's state depends on every preceding byte — lanes
// cannot independently emit cuts. This implementation is the scalar
// reference itself; it does not vectorize loads, so there is no divergence
// risk to guard against.
func (f *cutPointFinder) findCutPoint(buf []byte, start, end int) int {
	window := buf[start:end]
	n := len(window)

	minSize := int(f.minSize)
	if minSize > n {
		// Not enough bytes even to clear the skip phase: hard cap at end,
		// mirroring the "fallback" rule for an undersized tail window.
		return end
	}

	avgSize := int(f.avgSize)
	maxSize := int(f.maxSize)
	if maxSize > n {
		maxSize = n
	}

	primaryEnd := minSize + avgSize/2
	if primaryEnd > maxSize {
		primaryEnd = maxSize
	}
	extendedEnd := minSize + 2*avgSize
	if extendedEnd > maxSize {
		extendedEnd = maxSize
	}
	if extendedEnd < primaryEnd {
		extendedEnd = primaryEnd
	}

	var h uint32
	table := f.table

	// Skip phase: pre-warm the hash over [0, minSize) but never cut there.
	i := 0
	for ; i < minSize; i++ {
		h = (h << 1) + table[window[i]]
	}

	// Primary phase: [minSize, minSize+avgSize/2).
	for ; i < primaryEnd; i++ {
		h = (h << 1) + table[window[i]]
		if h&f.primaryMask == 0 {
			return start + i + 1
		}
	}

	// Extended phase: [primaryEnd, minSize+2*avgSize), same primary mask.
	for ; i < extendedEnd; i++ {
		h = (h << 1) + table[window[i]]
		if h&f.primaryMask == 0 {
			return start + i + 1
		}
	}

	// Relaxed phase: [extendedEnd, end), relaxed mask.
	for ; i < maxSize; i++ {
		h = (h << 1) + table[window[i]]
		if h&f.relaxedMask == 0 {
			return start + i + 1
		}
	}

	// Fallback: no cut found, hard cap at maxSize (or window end).
	return start + maxSize
}
