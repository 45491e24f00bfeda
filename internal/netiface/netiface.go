// Package netiface implements the network interface that sits between
// an IP datagram source (a host stack or a router port) and Ethernet:
// it resolves next-hop IP addresses to MAC addresses via ARP, caching
// mappings for MappingTTL and throttling repeat requests to at most one
// per ArpMinInterval.
package netiface

import (
	"log/slog"
	"net"

	"github.com/tinyrange/netcore/internal/link"
	"github.com/tinyrange/netcore/internal/pcap"
)

// MappingTTL is how long a learned IP-to-MAC mapping stays valid.
const MappingTTL = 30_000 // ms

// ArpMinInterval is the minimum gap between repeated ARP requests for
// the same unresolved IP address.
const ArpMinInterval = 5_000 // ms

type datagramRoute struct {
	datagram link.IPv4Datagram
	nextHop  uint32 // IP address, host byte order via binary.BigEndian.Uint32
}

// Interface is a single network interface: one Ethernet address, one IP
// address, and the ARP machinery needed to bridge between them.
type Interface struct {
	log *slog.Logger

	ethernetAddress link.MAC
	ipAddress       net.IP

	mappingTable map[uint32]link.MAC
	mappingAge   map[uint32]uint64 // ms since learned

	arpAge map[uint32]uint64 // ms since last request sent, entry absent means none outstanding

	bufferedFrames []link.EthernetFrame
	bufferedRoutes []datagramRoute

	capture *pcap.FrameCapture
}

// SetCapture attaches a pcap capture sink; every frame subsequently
// dequeued by MaybeSend or accepted in RecvFrame is also recorded there.
// Pass nil to detach.
func (ifc *Interface) SetCapture(c *pcap.FrameCapture) { ifc.capture = c }

func (ifc *Interface) recordCapture(frame link.EthernetFrame) {
	if ifc.capture == nil {
		return
	}
	if err := ifc.capture.Record(frame); err != nil {
		ifc.log.Warn("netiface: capture write failed", "err", err)
	}
}

// New constructs an Interface bound to the given hardware and IP
// addresses.
func New(log *slog.Logger, ethernetAddress link.MAC, ipAddress net.IP) *Interface {
	if log == nil {
		log = slog.Default()
	}
	return &Interface{
		log:             log,
		ethernetAddress: ethernetAddress,
		ipAddress:       ipAddress,
		mappingTable:    make(map[uint32]link.MAC),
		mappingAge:      make(map[uint32]uint64),
		arpAge:          make(map[uint32]uint64),
	}
}

func ipToUint32(ip net.IP) uint32 {
	b := ip.To4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func uint32ToIP(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// SendDatagram queues dgram for transmission to nextHop, the IP address
// of the next hop (which may be the datagram's ultimate destination or
// a gateway). If the Ethernet address for nextHop is unknown, the
// datagram is buffered and an ARP request is sent, throttled to one per
// ArpMinInterval.
func (ifc *Interface) SendDatagram(dgram link.IPv4Datagram, nextHop net.IP) {
	key := ipToUint32(nextHop)

	if mac, ok := ifc.mappingTable[key]; ok {
		ifc.bufferedFrames = append(ifc.bufferedFrames, ifc.makeDatagramFrame(mac, dgram))
		return
	}

	if _, outstanding := ifc.arpAge[key]; !outstanding {
		ifc.bufferedFrames = append(ifc.bufferedFrames, ifc.makeARPFrame(link.ARPRequest, ifToUint32Self(ifc), ifc.ethernetAddress, key, link.MAC{}))
		ifc.arpAge[key] = 0
	}
	ifc.bufferedRoutes = append(ifc.bufferedRoutes, datagramRoute{datagram: dgram, nextHop: key})
}

func ifToUint32Self(ifc *Interface) uint32 { return ipToUint32(ifc.ipAddress) }

// RecvFrame processes an incoming Ethernet frame. It returns the
// enclosed IPv4 datagram if the frame carries one addressed to this
// interface; ARP traffic is fully handled internally (cache updates,
// replies, flushing buffered routes) and never returned.
func (ifc *Interface) RecvFrame(frame link.EthernetFrame) (link.IPv4Datagram, bool) {
	if !frame.Dst.IsBroadcast() && frame.Dst != ifc.ethernetAddress {
		return link.IPv4Datagram{}, false
	}
	ifc.recordCapture(frame)

	switch frame.Type {
	case link.EtherTypeIPv4:
		dgram, err := link.ParseIPv4(frame.Payload)
		if err != nil {
			ifc.log.Debug("netiface: drop malformed ipv4 datagram", "err", err)
			return link.IPv4Datagram{}, false
		}
		return dgram, true

	case link.EtherTypeARP:
		ifc.handleARP(frame.Payload)
		return link.IPv4Datagram{}, false

	default:
		return link.IPv4Datagram{}, false
	}
}

func (ifc *Interface) handleARP(payload []byte) {
	msg, err := link.ParseARP(payload)
	if err != nil {
		ifc.log.Debug("netiface: drop malformed arp message", "err", err)
		return
	}

	senderKey := ipToUint32(msg.SenderIP)
	if _, known := ifc.mappingTable[senderKey]; !known {
		ifc.mappingTable[senderKey] = msg.SenderMAC
		ifc.mappingAge[senderKey] = 0
	}

	selfKey := ifToUint32Self(ifc)
	if ipToUint32(msg.TargetIP) != selfKey {
		return
	}

	switch msg.Opcode {
	case link.ARPRequest:
		ifc.bufferedFrames = append(ifc.bufferedFrames,
			ifc.makeARPFrame(link.ARPReply, selfKey, ifc.ethernetAddress, senderKey, msg.SenderMAC))

	case link.ARPReply:
		kept := ifc.bufferedRoutes[:0]
		for _, route := range ifc.bufferedRoutes {
			if route.nextHop == senderKey {
				ifc.bufferedFrames = append(ifc.bufferedFrames, ifc.makeDatagramFrame(msg.SenderMAC, route.datagram))
				continue
			}
			kept = append(kept, route)
		}
		ifc.bufferedRoutes = kept
		delete(ifc.arpAge, senderKey)
	}
}

// Tick advances the interface's internal timers: mappings older than
// MappingTTL are evicted, and outstanding ARP requests older than
// ArpMinInterval are resent.
func (ifc *Interface) Tick(ms uint64) {
	for ip, age := range ifc.mappingAge {
		age += ms
		if age > MappingTTL {
			delete(ifc.mappingTable, ip)
			delete(ifc.mappingAge, ip)
			continue
		}
		ifc.mappingAge[ip] = age
	}

	for ip, age := range ifc.arpAge {
		age += ms
		if age > ArpMinInterval {
			ifc.bufferedFrames = append(ifc.bufferedFrames,
				ifc.makeARPFrame(link.ARPRequest, ifToUint32Self(ifc), ifc.ethernetAddress, ip, link.MAC{}))
			age = 0
		}
		ifc.arpAge[ip] = age
	}
}

// MaybeSend dequeues the next frame awaiting transmission, if any.
func (ifc *Interface) MaybeSend() (link.EthernetFrame, bool) {
	if len(ifc.bufferedFrames) == 0 {
		return link.EthernetFrame{}, false
	}
	f := ifc.bufferedFrames[0]
	ifc.bufferedFrames = ifc.bufferedFrames[1:]
	ifc.recordCapture(f)
	return f, true
}

func (ifc *Interface) makeARPFrame(opcode link.ARPOpcode, senderIP uint32, senderMAC link.MAC, targetIP uint32, targetMAC link.MAC) link.EthernetFrame {
	msg := link.ARPMessage{
		Opcode:    opcode,
		SenderMAC: senderMAC,
		SenderIP:  uint32ToIP(senderIP),
		TargetMAC: targetMAC,
		TargetIP:  uint32ToIP(targetIP),
	}

	dst := targetMAC
	if dst == (link.MAC{}) {
		dst = link.Broadcast
	}

	return link.EthernetFrame{
		Dst:     dst,
		Src:     senderMAC,
		Type:    link.EtherTypeARP,
		Payload: msg.Marshal(),
	}
}

func (ifc *Interface) makeDatagramFrame(dst link.MAC, dgram link.IPv4Datagram) link.EthernetFrame {
	return link.EthernetFrame{
		Dst:     dst,
		Src:     ifc.ethernetAddress,
		Type:    link.EtherTypeIPv4,
		Payload: dgram.Marshal(),
	}
}
