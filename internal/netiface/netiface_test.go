package netiface

import (
	"net"
	"testing"

	"github.com/tinyrange/netcore/internal/link"
)

var (
	macA = link.MAC{0xaa, 0, 0, 0, 0, 1}
	macB = link.MAC{0xbb, 0, 0, 0, 0, 2}
	ipA  = net.IPv4(10, 0, 0, 1)
	ipB  = net.IPv4(10, 0, 0, 2)
)

func TestSendDatagramTriggersARPAndBuffers(t *testing.T) {
	ifc := New(nil, macA, ipA)
	dgram := link.IPv4Datagram{TTL: 64, Protocol: 6, Src: ipA, Dst: ipB}

	ifc.SendDatagram(dgram, ipB)

	frame, ok := ifc.MaybeSend()
	if !ok || frame.Type != link.EtherTypeARP {
		t.Fatalf("expected an arp request queued, got %+v ok=%v", frame, ok)
	}
	if !frame.Dst.IsBroadcast() {
		t.Fatalf("arp request must be broadcast, got dst %v", frame.Dst)
	}
	if _, ok := ifc.MaybeSend(); ok {
		t.Fatal("datagram should still be buffered pending arp reply")
	}
}

func TestARPReplyFlushesBufferedDatagram(t *testing.T) {
	ifc := New(nil, macA, ipA)
	dgram := link.IPv4Datagram{TTL: 64, Protocol: 6, Src: ipA, Dst: ipB}
	ifc.SendDatagram(dgram, ipB)
	ifc.MaybeSend() // drain the arp request

	reply := link.ARPMessage{
		Opcode:    link.ARPReply,
		SenderMAC: macB,
		SenderIP:  ipB,
		TargetMAC: macA,
		TargetIP:  ipA,
	}
	frame := link.EthernetFrame{Dst: macA, Src: macB, Type: link.EtherTypeARP, Payload: reply.Marshal()}
	if _, ok := ifc.RecvFrame(frame); ok {
		t.Fatal("arp frames never surface as datagrams")
	}

	sent, ok := ifc.MaybeSend()
	if !ok || sent.Type != link.EtherTypeIPv4 || sent.Dst != macB {
		t.Fatalf("expected buffered datagram flushed to macB, got %+v ok=%v", sent, ok)
	}
}

func TestARPRequestForUsElicitsReply(t *testing.T) {
	ifc := New(nil, macA, ipA)
	req := link.ARPMessage{
		Opcode:    link.ARPRequest,
		SenderMAC: macB,
		SenderIP:  ipB,
		TargetMAC: link.MAC{},
		TargetIP:  ipA,
	}
	frame := link.EthernetFrame{Dst: link.Broadcast, Src: macB, Type: link.EtherTypeARP, Payload: req.Marshal()}
	ifc.RecvFrame(frame)

	reply, ok := ifc.MaybeSend()
	if !ok || reply.Type != link.EtherTypeARP || reply.Dst != macB {
		t.Fatalf("expected arp reply to macB, got %+v ok=%v", reply, ok)
	}
	msg, err := link.ParseARP(reply.Payload)
	if err != nil || msg.Opcode != link.ARPReply {
		t.Fatalf("expected arp reply opcode, got %+v err=%v", msg, err)
	}
}

func TestIPv4FrameNotAddressedToUsDropped(t *testing.T) {
	ifc := New(nil, macA, ipA)
	dgram := link.IPv4Datagram{TTL: 64, Protocol: 6, Src: ipB, Dst: ipA}
	frame := link.EthernetFrame{Dst: macB, Src: macB, Type: link.EtherTypeIPv4, Payload: dgram.Marshal()}
	if _, ok := ifc.RecvFrame(frame); ok {
		t.Fatal("frame addressed to a different MAC must be dropped")
	}
}

func TestMappingExpiresAfterTTL(t *testing.T) {
	ifc := New(nil, macA, ipA)
	req := link.ARPMessage{Opcode: link.ARPRequest, SenderMAC: macB, SenderIP: ipB, TargetIP: ipA}
	frame := link.EthernetFrame{Dst: link.Broadcast, Src: macB, Type: link.EtherTypeARP, Payload: req.Marshal()}
	ifc.RecvFrame(frame)
	ifc.MaybeSend() // drain the reply

	ifc.Tick(MappingTTL + 1)

	dgram := link.IPv4Datagram{TTL: 64, Protocol: 6, Src: ipA, Dst: ipB}
	ifc.SendDatagram(dgram, ipB)
	frame2, ok := ifc.MaybeSend()
	if !ok || frame2.Type != link.EtherTypeARP {
		t.Fatalf("expected mapping to have expired, forcing a new arp request, got %+v", frame2)
	}
}

func TestARPRequestResentAfterMinInterval(t *testing.T) {
	ifc := New(nil, macA, ipA)
	dgram := link.IPv4Datagram{TTL: 64, Protocol: 6, Src: ipA, Dst: ipB}
	ifc.SendDatagram(dgram, ipB)
	ifc.MaybeSend() // drain first request

	ifc.Tick(ArpMinInterval - 1)
	if _, ok := ifc.MaybeSend(); ok {
		t.Fatal("must not resend before ArpMinInterval elapses")
	}

	ifc.Tick(2)
	frame, ok := ifc.MaybeSend()
	if !ok || frame.Type != link.EtherTypeARP {
		t.Fatalf("expected a resent arp request, got %+v ok=%v", frame, ok)
	}
}
