package netiface

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/tinyrange/netcore/internal/link"

	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	gchannel "gvisor.dev/gvisor/pkg/tcpip/link/channel"
	gethernet "gvisor.dev/gvisor/pkg/tcpip/link/ethernet"
	"gvisor.dev/gvisor/pkg/tcpip/network/arp"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
	"gvisor.dev/gvisor/pkg/waiter"
)

// This exercises our ARP resolution and IPv4 framing against a real,
// independent TCP/IP implementation rather than against itself: gVisor's
// neighbor cache holds the UDP write until our interface answers its ARP
// request, the same way a real peer would.

const gvisorNICID tcpip.NICID = 1

func addrFrom4(ip [4]byte) tcpip.Address { return tcpip.AddrFrom4(ip) }

func TestARPInteropWithGvisorStack(t *testing.T) {
	hostMAC := link.MAC{0x02, 0, 0, 0, 0, 0x01}
	hostIP := [4]byte{10, 42, 0, 1}
	guestMAC := tcpip.LinkAddress(string([]byte{0x02, 0, 0, 0, 0, 0x02}))
	guestIP := [4]byte{10, 42, 0, 2}

	ifc := New(nil, hostMAC, net.IPv4(hostIP[0], hostIP[1], hostIP[2], hostIP[3]))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch := gchannel.New(256, 1514, guestMAC)
	ep := gethernet.New(ch)
	gs := stack.New(stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv4.NewProtocol, arp.NewProtocol},
		TransportProtocols: []stack.TransportProtocolFactory{udp.NewProtocol},
	})
	t.Cleanup(gs.Close)

	if err := gs.CreateNIC(gvisorNICID, ep); err != nil {
		t.Fatalf("gvisor CreateNIC: %v", err)
	}
	if err := gs.AddProtocolAddress(gvisorNICID, tcpip.ProtocolAddress{
		Protocol:          ipv4.ProtocolNumber,
		AddressWithPrefix: tcpip.AddressWithPrefix{Address: addrFrom4(guestIP), PrefixLen: 24},
	}, stack.AddressProperties{}); err != nil {
		t.Fatalf("gvisor AddProtocolAddress: %v", err)
	}
	gs.SetRouteTable([]tcpip.Route{{Destination: header.IPv4EmptySubnet, NIC: gvisorNICID}})

	outbound := make(chan []byte, 16)
	go func() {
		for {
			pkt := ch.ReadContext(ctx)
			if pkt == nil {
				return
			}
			b := append([]byte(nil), pkt.ToView().AsSlice()...)
			pkt.DecRef()
			select {
			case outbound <- b:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wq waiter.Queue
	udpEP, terr := gs.NewEndpoint(udp.ProtocolNumber, ipv4.ProtocolNumber, &wq)
	if terr != nil {
		t.Fatalf("gvisor new udp endpoint: %v", terr)
	}
	t.Cleanup(udpEP.Close)

	go func() {
		_, werr := udpEP.Write(bytes.NewReader([]byte("ping")), tcpip.WriteOptions{
			To: &tcpip.FullAddress{NIC: gvisorNICID, Addr: addrFrom4(hostIP), Port: 7},
		})
		_ = werr
	}()

	arpFrameRaw := awaitFrame(t, outbound, time.Second)
	arpFrame, err := link.ParseEthernetFrame(arpFrameRaw)
	if err != nil {
		t.Fatalf("parse arp frame from gvisor: %v", err)
	}
	if arpFrame.Type != link.EtherTypeARP {
		t.Fatalf("expected gvisor's first frame to be an arp request, got type %#x", arpFrame.Type)
	}

	if _, ok := ifc.RecvFrame(arpFrame); ok {
		t.Fatal("arp frames never surface as datagrams")
	}
	reply, ok := ifc.MaybeSend()
	if !ok || reply.Type != link.EtherTypeARP {
		t.Fatalf("expected our interface to queue an arp reply, got %+v ok=%v", reply, ok)
	}

	injectFrame(ch, reply.Marshal())

	udpFrameRaw := awaitFrame(t, outbound, time.Second)
	dgram, err := parseIPv4FromEthernet(udpFrameRaw)
	if err != nil {
		t.Fatalf("parse ipv4 datagram from gvisor after arp resolved: %v", err)
	}
	if dgram.Protocol != 17 {
		t.Fatalf("expected udp protocol (17), got %d", dgram.Protocol)
	}
	if !dgram.Dst.Equal(net.IPv4(hostIP[0], hostIP[1], hostIP[2], hostIP[3])) {
		t.Fatalf("expected datagram addressed to host, got dst %v", dgram.Dst)
	}
}

func awaitFrame(tb testing.TB, ch <-chan []byte, timeout time.Duration) []byte {
	tb.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(timeout):
		tb.Fatalf("timeout waiting for frame from gvisor")
		return nil
	}
}

func injectFrame(ch *gchannel.Endpoint, raw []byte) {
	pkt := stack.NewPacketBuffer(stack.PacketBufferOptions{Payload: buffer.MakeWithData(raw)})
	ch.InjectInbound(0, pkt)
}

func parseIPv4FromEthernet(raw []byte) (link.IPv4Datagram, error) {
	f, err := link.ParseEthernetFrame(raw)
	if err != nil {
		return link.IPv4Datagram{}, err
	}
	return link.ParseIPv4(f.Payload)
}
