// ABOUTME: Buffer size negotiation
// ABOUTME: Doubling from the device minimum, then halving on failure
package bridge

import "math"

// SearchBufferSize finds a buffer size the device accepts.
//
// The candidate starts at minSize and doubles until it reaches targetSize.
// tryOpen is then called with the candidate, halving it after every
// rejection, until tryOpen accepts or the candidate reaches zero. The
// accepted size is returned with ok set; ok is false when every size was
// rejected or minSize is not positive.
func SearchBufferSize(minSize, targetSize int, tryOpen func(size int) bool) (size int, ok bool) {
	if minSize <= 0 {
		return 0, false
	}

	size = minSize
	for size < targetSize && size <= math.MaxInt/2 {
		size *= 2
	}

	for size > 0 {
		if tryOpen(size) {
			return size, true
		}
		size /= 2
	}
	return 0, false
}
