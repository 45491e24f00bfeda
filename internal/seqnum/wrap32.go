// Package seqnum centralizes 32-bit wrapping sequence-number arithmetic so
// the TCP sender and receiver never have to scatter modular arithmetic of
// their own.
package seqnum

// Wrap32 is a 32-bit sequence number. All arithmetic on it is implicitly
// modulo 2^32 via Go's unsigned-integer wraparound.
type Wrap32 uint32

const wrapSpan = uint64(1) << 32

// Wrap maps an absolute 64-bit index into the wrapping sequence space
// anchored at zeroPoint.
func Wrap(n uint64, zeroPoint Wrap32) Wrap32 {
	return Wrap32(uint32(n)) + zeroPoint
}

// Unwrap returns the absolute 64-bit index v closest to checkpoint such
// that Wrap(v, zeroPoint) == w, breaking ties toward the smaller v.
func (w Wrap32) Unwrap(zeroPoint Wrap32, checkpoint uint64) uint64 {
	offset := uint64(uint32(w) - uint32(zeroPoint))

	// The candidate that shares checkpoint's "era" (its high 32 bits) is
	// always within range; its immediate neighbors one era below and
	// above bracket the true nearest preimage.
	era := (checkpoint / wrapSpan) * wrapSpan
	candidates := []uint64{era + offset}
	if era >= wrapSpan {
		candidates = append(candidates, era-wrapSpan+offset)
	}
	candidates = append(candidates, era+wrapSpan+offset)

	best := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case absDiff(c, checkpoint) < absDiff(best, checkpoint):
			best = c
		case absDiff(c, checkpoint) == absDiff(best, checkpoint) && c < best:
			best = c
		}
	}
	return best
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
