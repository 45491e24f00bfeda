// Package tcpreceiver translates inbound TCP segments into reassembler
// inserts and advertises the resulting flow-control window back to the
// peer's sender.
package tcpreceiver

import (
	"github.com/tinyrange/netcore/internal/reassembler"
	"github.com/tinyrange/netcore/internal/seqnum"
	"github.com/tinyrange/netcore/internal/stream"
	"github.com/tinyrange/netcore/internal/tcppdu"
)

const maxWindowSize = 65535

// Receiver accepts inbound segments and reports an ack/window back upstream.
// It is set up exactly once, implicitly, on receipt of a segment with SYN.
type Receiver struct {
	zeroPoint   *seqnum.Wrap32
	reassembler *reassembler.Reassembler
}

// New constructs a Receiver with its own Reassembler. The caller owns the
// inbound ByteStream the reassembler feeds; its writer is passed on each
// call.
func New() *Receiver {
	return &Receiver{reassembler: reassembler.New()}
}

// Receive ingests a segment from the peer. Segments observed before a SYN
// has been seen are silently dropped.
func (r *Receiver) Receive(seg tcppdu.SenderMessage, w *stream.Writer) {
	if seg.SYN {
		zp := seg.Seqno
		r.zeroPoint = &zp
		r.reassembler.Insert(0, seg.Payload, seg.FIN, w)
		return
	}
	if r.zeroPoint == nil {
		return
	}
	streamIndex := seg.Seqno.Unwrap(*r.zeroPoint, w.BytesPushed()) - 1
	r.reassembler.Insert(streamIndex, seg.Payload, seg.FIN, w)
}

// Send produces the ack/window advertisement for the current stream state.
func (r *Receiver) Send(w *stream.Writer) tcppdu.ReceiverMessage {
	windowSize := w.AvailableCapacity()
	if windowSize > maxWindowSize {
		windowSize = maxWindowSize
	}

	msg := tcppdu.ReceiverMessage{WindowSize: uint16(windowSize)}
	if r.zeroPoint != nil {
		absolute := w.BytesPushed() + 1
		if w.IsClosed() {
			absolute++
		}
		ackno := seqnum.Wrap(absolute, *r.zeroPoint)
		msg.Ackno = &ackno
	}
	return msg
}
