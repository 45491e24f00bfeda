// Package stream implements a bounded in-memory byte stream used for
// stream-oriented hand-off between the layers of the data plane (the
// reassembler writes into one; the TCP sender reads from one).
package stream

// ByteStream is a bounded FIFO of bytes shared between exactly one writer
// and one reader, both invoked from the same goroutine. There is no
// internal locking: the single-threaded discipline of the caller is the
// synchronization, matching the rest of this stack.
//
// Writer and Reader are two method-dispatch surfaces over the same
// underlying state, not independently owned halves.
type ByteStream struct {
	capacity uint64
	buf      []byte

	pushed uint64
	popped uint64

	closed bool
	errSet bool
}

// New constructs a ByteStream with the given capacity in bytes.
func New(capacity uint64) *ByteStream {
	return &ByteStream{capacity: capacity}
}

// Reader returns the reader-side view of the stream.
func (bs *ByteStream) Reader() *Reader { return (*Reader)(bs) }

// Writer returns the writer-side view of the stream.
func (bs *ByteStream) Writer() *Writer { return (*Writer)(bs) }

// Push appends min(len(data), available capacity) bytes and returns the
// number actually appended. Pushing after Close has no effect on the
// buffered bytes and instead raises the error flag (write-after-close).
func (bs *ByteStream) Push(data []byte) int {
	if bs.closed {
		bs.errSet = true
		return 0
	}

	n := len(data)
	if avail := bs.availableCapacity(); uint64(n) > avail {
		n = int(avail)
	}
	if n > 0 {
		bs.buf = append(bs.buf, data[:n]...)
		bs.pushed += uint64(n)
	}
	return n
}

// Close marks the stream closed. Already-buffered bytes remain readable.
func (bs *ByteStream) Close() { bs.closed = true }

// SetError raises the sticky error flag observed by both sides.
func (bs *ByteStream) SetError() { bs.errSet = true }

// HasError reports whether the error flag has been raised.
func (bs *ByteStream) HasError() bool { return bs.errSet }

// IsClosed reports whether Close has been called.
func (bs *ByteStream) IsClosed() bool { return bs.closed }

// Peek returns a non-owning view over the full buffered prefix. The
// caller must not retain it across a subsequent Push/Pop.
func (bs *ByteStream) Peek() []byte { return bs.buf }

// Pop discards min(n, buffered) bytes from the front and returns the
// actual count discarded.
func (bs *ByteStream) Pop(n uint64) uint64 {
	if n > uint64(len(bs.buf)) {
		n = uint64(len(bs.buf))
	}
	bs.buf = bs.buf[n:]
	bs.popped += n
	return n
}

func (bs *ByteStream) availableCapacity() uint64 {
	return bs.capacity - uint64(len(bs.buf))
}

// AvailableCapacity returns the remaining room for new pushes.
func (bs *ByteStream) AvailableCapacity() uint64 { return bs.availableCapacity() }

// BytesBuffered returns the number of bytes currently queued.
func (bs *ByteStream) BytesBuffered() uint64 { return uint64(len(bs.buf)) }

// BytesPushed returns the lifetime count of bytes appended.
func (bs *ByteStream) BytesPushed() uint64 { return bs.pushed }

// BytesPopped returns the lifetime count of bytes discarded.
func (bs *ByteStream) BytesPopped() uint64 { return bs.popped }

// IsFinished reports whether the stream is closed and fully drained.
func (bs *ByteStream) IsFinished() bool { return bs.closed && len(bs.buf) == 0 }

// Writer is the write-side view of a ByteStream.
type Writer ByteStream

// Push, see ByteStream.Push.
func (w *Writer) Push(data []byte) int { return (*ByteStream)(w).Push(data) }

// Close, see ByteStream.Close.
func (w *Writer) Close() { (*ByteStream)(w).Close() }

// SetError, see ByteStream.SetError.
func (w *Writer) SetError() { (*ByteStream)(w).SetError() }

// IsClosed, see ByteStream.IsClosed.
func (w *Writer) IsClosed() bool { return (*ByteStream)(w).IsClosed() }

// AvailableCapacity, see ByteStream.AvailableCapacity.
func (w *Writer) AvailableCapacity() uint64 { return (*ByteStream)(w).AvailableCapacity() }

// BytesPushed, see ByteStream.BytesPushed.
func (w *Writer) BytesPushed() uint64 { return (*ByteStream)(w).BytesPushed() }

// Reader is the read-side view of a ByteStream.
type Reader ByteStream

// Peek, see ByteStream.Peek.
func (r *Reader) Peek() []byte { return (*ByteStream)(r).Peek() }

// Pop, see ByteStream.Pop.
func (r *Reader) Pop(n uint64) uint64 { return (*ByteStream)(r).Pop(n) }

// BytesBuffered, see ByteStream.BytesBuffered.
func (r *Reader) BytesBuffered() uint64 { return (*ByteStream)(r).BytesBuffered() }

// BytesPopped, see ByteStream.BytesPopped.
func (r *Reader) BytesPopped() uint64 { return (*ByteStream)(r).BytesPopped() }

// IsFinished, see ByteStream.IsFinished.
func (r *Reader) IsFinished() bool { return (*ByteStream)(r).IsFinished() }

// HasError, see ByteStream.HasError.
func (r *Reader) HasError() bool { return (*ByteStream)(r).HasError() }

// IsClosed, see ByteStream.IsClosed.
func (r *Reader) IsClosed() bool { return (*ByteStream)(r).IsClosed() }
