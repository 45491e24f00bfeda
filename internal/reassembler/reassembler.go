// Package reassembler turns a stream of out-of-order, possibly overlapping
// byte ranges into the contiguous prefix a TCP receiver can hand to its
// inbound ByteStream.
package reassembler

import (
	"sort"

	"github.com/tinyrange/netcore/internal/stream"
)

// interval is a buffered byte range strictly beyond the current frontier.
// Invariant: start > frontier, and no two buffered intervals overlap.
type interval struct {
	start uint64
	data  []byte
}

// Reassembler holds out-of-order bytes until the contiguous prefix can be
// delivered to a downstream ByteStream writer.
type Reassembler struct {
	frontier      uint64 // F: next absolute index awaiting delivery
	intervals     []interval
	bufferedBytes uint64
	sawLast       bool
	finalIndex    uint64 // one past the last stream byte; meaningful once sawLast
}

// New constructs an empty Reassembler with its frontier at 0.
func New() *Reassembler {
	return &Reassembler{}
}

// Insert delivers or buffers data starting at the given absolute index.
// isLast marks that this segment carries the stream terminator (FIN); the
// flag is sticky across calls.
func (re *Reassembler) Insert(firstIndex uint64, data []byte, isLast bool, w *stream.Writer) {
	capacity := w.AvailableCapacity()

	if firstIndex <= re.frontier && firstIndex+uint64(len(data)) > re.frontier {
		overlapStart := re.frontier - firstIndex
		end := uint64(len(data))
		if bound := overlapStart + capacity; end > bound {
			end = bound
		}
		n := uint64(w.Push(data[overlapStart:end]))
		re.frontier += n
		re.drainBuffered(w)
	} else if re.frontier < firstIndex && firstIndex < re.frontier+capacity && len(data) > 0 {
		end := uint64(len(data))
		if bound := capacity - (firstIndex - re.frontier); end > bound {
			end = bound
		}
		re.bufferInterval(firstIndex, data[:end])
	}

	if isLast {
		re.sawLast = true
		re.finalIndex = firstIndex + uint64(len(data))
	}
	if re.sawLast && len(re.intervals) == 0 && re.frontier == re.finalIndex {
		w.Close()
	}
}

// drainBuffered delivers any buffered intervals now reachable from the
// frontier, in ascending order, stopping at the first remaining gap.
func (re *Reassembler) drainBuffered(w *stream.Writer) {
	for len(re.intervals) > 0 {
		iv := re.intervals[0]
		if iv.start > re.frontier {
			break
		}

		end := iv.start + uint64(len(iv.data))
		re.intervals = re.intervals[1:]
		re.bufferedBytes -= uint64(len(iv.data))

		if end <= re.frontier {
			// Entirely stale; nothing left to deliver from this interval.
			continue
		}

		tail := iv.data[re.frontier-iv.start:]
		n := uint64(w.Push(tail))
		re.frontier += n
		if n < uint64(len(tail)) {
			// Capacity exhausted mid-interval; the remainder is
			// unreachable and is not re-buffered.
			break
		}
	}
}

// bufferInterval splits the incoming range around any existing buffered
// intervals it overlaps, keeping the existing bytes authoritative, and
// inserts the surviving pieces in sorted position.
func (re *Reassembler) bufferInterval(start uint64, data []byte) {
	type piece struct {
		start uint64
		data  []byte
	}
	var pieces []piece

	curStart := start
	cur := data

	for _, ex := range re.intervals {
		if len(cur) == 0 {
			break
		}
		exStart := ex.start
		exEnd := ex.start + uint64(len(ex.data))
		curEnd := curStart + uint64(len(cur))

		if exEnd <= curStart {
			continue
		}
		if exStart >= curEnd {
			break
		}

		if exStart > curStart {
			pieces = append(pieces, piece{curStart, cur[:exStart-curStart]})
		}
		if exEnd >= curEnd {
			cur = nil
			break
		}
		cur = cur[exEnd-curStart:]
		curStart = exEnd
	}
	if len(cur) > 0 {
		pieces = append(pieces, piece{curStart, cur})
	}

	for _, p := range pieces {
		re.insertSorted(p.start, p.data)
	}
}

func (re *Reassembler) insertSorted(start uint64, data []byte) {
	idx := sort.Search(len(re.intervals), func(i int) bool { return re.intervals[i].start > start })
	re.intervals = append(re.intervals, interval{})
	copy(re.intervals[idx+1:], re.intervals[idx:])
	re.intervals[idx] = interval{start: start, data: data}
	re.bufferedBytes += uint64(len(data))
}

// BytesPending returns the total length of currently buffered intervals.
func (re *Reassembler) BytesPending() uint64 { return re.bufferedBytes }
