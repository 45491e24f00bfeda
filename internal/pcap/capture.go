package pcap

import (
	"io"

	"github.com/tinyrange/netcore/internal/link"
)

// FrameCapture is a pcap writer specialized for recording the Ethernet
// frames an interface emits or receives, for offline inspection with
// tcpdump/wireshark while debugging a run.
type FrameCapture struct {
	w *Writer
}

// NewFrameCapture wraps out in a pcap stream ready to record Ethernet
// frames, writing the global header immediately.
func NewFrameCapture(out io.Writer) (*FrameCapture, error) {
	w := NewWriter(out)
	if err := w.WriteFileHeader(65535, LinkTypeEthernet); err != nil {
		return nil, err
	}
	return &FrameCapture{w: w}, nil
}

// Record appends frame to the capture. The timestamp field is left zero:
// this stack runs on a simulated millisecond clock (see Tick), not wall
// time, so a capture's record order carries the only meaningful
// ordering information.
func (c *FrameCapture) Record(frame link.EthernetFrame) error {
	raw := frame.Marshal()
	return c.w.WritePacket(CaptureInfo{CaptureLength: len(raw), Length: len(raw)}, raw)
}
