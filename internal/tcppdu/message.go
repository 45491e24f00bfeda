// Package tcppdu defines the internal messages exchanged between a
// TCPSender/TCPReceiver pair and the lower layer. Unlike the Ethernet/ARP/
// IPv4 wire formats in package link, these never hit the wire directly in
// this core: framing them into an actual TCP segment is a collaborator's
// job (out of scope, see the project design notes).
package tcppdu

import "github.com/tinyrange/netcore/internal/seqnum"

// SenderMessage is a segment produced by a TCPSender awaiting transmission.
type SenderMessage struct {
	Seqno   seqnum.Wrap32
	SYN     bool
	FIN     bool
	Payload []byte
}

// SequenceLength is the number of sequence numbers this segment consumes.
func (m SenderMessage) SequenceLength() uint64 {
	n := uint64(len(m.Payload))
	if m.SYN {
		n++
	}
	if m.FIN {
		n++
	}
	return n
}

// ReceiverMessage is the ack/window advertisement a TCPReceiver emits.
type ReceiverMessage struct {
	// Ackno is nil until the receiver has learned the peer's ISN.
	Ackno      *seqnum.Wrap32
	WindowSize uint16
}
