// Package tcpsender fragments outbound bytes into segments, enforces the
// peer's advertised window, and retransmits under an exponential-backoff
// timer. It is the largest state machine in the stack. Push runs in one
// of three regimes: closed (FIN already sent), zero-window probe (no
// window headroom), and normal windowed segmentation.
package tcpsender

import (
	"github.com/tinyrange/netcore/internal/seqnum"
	"github.com/tinyrange/netcore/internal/stream"
	"github.com/tinyrange/netcore/internal/tcppdu"
)

// MaxPayload bounds the size of any one segment's payload.
const MaxPayload = 1452

type outstandingSegment struct {
	msg     tcppdu.SenderMessage
	isProbe bool // sent while right_edge == left_edge (zero-window probe)
}

// Sender is a single TCP sender-side state machine.
type Sender struct {
	isn seqnum.Wrap32

	leftEdge  uint64 // next absolute index to transmit
	rightEdge uint64 // first absolute index beyond the peer's window, floor 1

	initialRTO      uint64
	currentRTO      uint64
	timerElapsed    uint64
	timerRunning    bool
	retransmitCount int

	toSend      []tcppdu.SenderMessage
	outstanding []outstandingSegment

	synSent bool
	finSent bool
}

// New constructs a Sender with the given initial retransmission timeout
// and initial sequence number.
func New(initialRTO uint64, isn seqnum.Wrap32) *Sender {
	return &Sender{
		isn:        isn,
		rightEdge:  1,
		initialRTO: initialRTO,
		currentRTO: initialRTO,
	}
}

func boolToUint64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (s *Sender) emit(msg tcppdu.SenderMessage, isProbe bool) {
	s.outstanding = append(s.outstanding, outstandingSegment{msg: msg, isProbe: isProbe})
	s.toSend = append(s.toSend, msg)
	s.leftEdge += msg.SequenceLength()
}

// Push pulls bytes from reader and packages them into segments subject to
// the current window and MaxPayload, or emits a zero-window probe when the
// peer's window has closed entirely.
func (s *Sender) Push(r *stream.Reader) {
	if s.finSent {
		return
	}

	if s.rightEdge <= s.leftEdge {
		s.pushZeroWindowProbe(r)
		return
	}

	window := s.rightEdge - s.leftEdge
	needSyn := !s.synSent

	payloadBudget := window - boolToUint64(needSyn)
	bytesAvail := r.BytesBuffered()

	finFits := streamWillDrainWithin(r, bytesAvail, payloadBudget)

	budget := payloadBudget
	if finFits {
		budget--
	}
	pull := bytesAvail
	if pull > budget {
		pull = budget
	}

	data := append([]byte(nil), r.Peek()[:pull]...)
	r.Pop(pull)

	chunks := splitPayload(data)
	if len(chunks) == 0 {
		if needSyn || finFits {
			chunks = [][]byte{nil}
		} else {
			return
		}
	}

	for i, chunk := range chunks {
		seg := tcppdu.SenderMessage{Seqno: seqnum.Wrap(s.leftEdge, s.isn), Payload: chunk}
		if i == 0 && needSyn {
			seg.SYN = true
		}
		if i == len(chunks)-1 && finFits {
			seg.FIN = true
		}
		s.emit(seg, false)
	}

	if needSyn {
		s.synSent = true
	}
	if finFits {
		s.finSent = true
	}
}

// streamWillDrainWithin reports whether the reader is closed and all of
// its remaining bytes fit within budget, leaving at least one sequence
// number free for the FIN.
func streamWillDrainWithin(r *stream.Reader, bytesAvail, budget uint64) bool {
	return r.IsClosed() && bytesAvail < budget
}

func splitPayload(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := len(data)
		if n > MaxPayload {
			n = MaxPayload
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

func (s *Sender) pushZeroWindowProbe(r *stream.Reader) {
	if len(s.outstanding) > 0 {
		return
	}

	var seg tcppdu.SenderMessage
	seg.Seqno = seqnum.Wrap(s.leftEdge, s.isn)

	switch {
	case !s.synSent:
		seg.SYN = true
		s.synSent = true
	case r.BytesBuffered() > 0:
		seg.Payload = append([]byte(nil), r.Peek()[:1]...)
		r.Pop(1)
	case r.IsClosed() && r.BytesBuffered() == 0:
		seg.FIN = true
		s.finSent = true
	default:
		return
	}

	s.emit(seg, true)
}

// MaybeSend dequeues the head of the outbound segment queue, starting the
// retransmission timer if it was off.
func (s *Sender) MaybeSend() *tcppdu.SenderMessage {
	if len(s.toSend) == 0 {
		return nil
	}
	if !s.timerRunning {
		s.timerRunning = true
		s.timerElapsed = 0
	}
	seg := s.toSend[0]
	s.toSend = s.toSend[1:]
	return &seg
}

// Receive processes an ack/window advertisement from the peer's receiver.
func (s *Sender) Receive(msg tcppdu.ReceiverMessage) {
	if msg.Ackno == nil {
		return
	}

	ackAbsolute := msg.Ackno.Unwrap(s.isn, s.leftEdge)
	if ackAbsolute > s.leftEdge {
		return // stale or invalid; ignore
	}

	if ackAbsolute+uint64(msg.WindowSize) > s.rightEdge {
		s.rightEdge = ackAbsolute + uint64(msg.WindowSize)
	}

	removedAny := false
	kept := s.outstanding[:0]
	for _, seg := range s.outstanding {
		segStart := seg.msg.Seqno.Unwrap(s.isn, s.leftEdge)
		segEnd := segStart + seg.msg.SequenceLength()
		if segEnd <= ackAbsolute {
			removedAny = true
			continue
		}
		kept = append(kept, seg)
	}
	s.outstanding = kept

	if removedAny {
		s.currentRTO = s.initialRTO
		s.retransmitCount = 0
		if len(s.outstanding) == 0 {
			s.timerRunning = false
		} else {
			s.timerElapsed = 0
			s.timerRunning = true
		}
	}
}

// Tick advances the retransmission timer by ms and retransmits the
// earliest outstanding segment if the RTO has expired. At most one
// retransmission fires per call, regardless of how large ms is.
func (s *Sender) Tick(ms uint64) {
	if !s.timerRunning {
		return
	}
	s.timerElapsed += ms
	if s.timerElapsed < s.currentRTO {
		return
	}

	if len(s.outstanding) > 0 {
		earliest := s.outstanding[0]
		s.toSend = append([]tcppdu.SenderMessage{earliest.msg}, s.toSend...)

		if !earliest.isProbe {
			s.currentRTO *= 2
			s.retransmitCount++
		}
	}
	s.timerElapsed = 0
}

// SendEmptyMessage returns an unframed ack-only segment; it is never
// tracked as outstanding.
func (s *Sender) SendEmptyMessage() tcppdu.SenderMessage {
	return tcppdu.SenderMessage{Seqno: seqnum.Wrap(s.leftEdge, s.isn)}
}

// SequenceNumbersInFlight returns the total sequence-number span of all
// currently outstanding (unacknowledged) segments.
func (s *Sender) SequenceNumbersInFlight() uint64 {
	var total uint64
	for _, seg := range s.outstanding {
		total += seg.msg.SequenceLength()
	}
	return total
}

// ConsecutiveRetransmissions returns the number of back-to-back timeouts
// since the last net ack progress.
func (s *Sender) ConsecutiveRetransmissions() int { return s.retransmitCount }
