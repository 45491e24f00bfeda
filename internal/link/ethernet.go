// Package link implements the wire formats that sit below IP in this
// stack: Ethernet framing, ARP, and IPv4 header parsing/building. It is
// the serialization glue the network interface and router operate on.
package link

import (
	"encoding/binary"
	"errors"
	"net"
)

// MAC is a 6-byte Ethernet hardware address.
type MAC [6]byte

// Broadcast is the all-ones Ethernet broadcast address.
var Broadcast = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseMAC copies a 6-byte slice into a MAC value.
func ParseMAC(b []byte) (MAC, error) {
	var m MAC
	if len(b) != 6 {
		return m, errors.New("link: mac address must be 6 bytes")
	}
	copy(m[:], b)
	return m, nil
}

// HardwareAddr converts to the standard library's net.HardwareAddr.
func (m MAC) HardwareAddr() net.HardwareAddr { return net.HardwareAddr(m[:]) }

func (m MAC) String() string { return m.HardwareAddr().String() }

// IsBroadcast reports whether m is the all-ones broadcast address.
func (m MAC) IsBroadcast() bool { return m == Broadcast }

// EtherType identifies the payload carried by an Ethernet frame.
type EtherType uint16

// EtherTypes this stack understands; everything else is dropped.
const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

// EthernetHeaderLen is the fixed 14-byte Ethernet header size.
const EthernetHeaderLen = 14

// EthernetFrame is a parsed (or about-to-be-built) Ethernet frame.
type EthernetFrame struct {
	Dst     MAC
	Src     MAC
	Type    EtherType
	Payload []byte
}

// ParseEthernetFrame decodes the 14-byte header and leaves the remainder
// as Payload.
func ParseEthernetFrame(data []byte) (EthernetFrame, error) {
	if len(data) < EthernetHeaderLen {
		return EthernetFrame{}, errors.New("link: ethernet frame too short")
	}
	var f EthernetFrame
	copy(f.Dst[:], data[0:6])
	copy(f.Src[:], data[6:12])
	f.Type = EtherType(binary.BigEndian.Uint16(data[12:14]))
	f.Payload = data[EthernetHeaderLen:]
	return f, nil
}

// Marshal serializes the frame into a single contiguous byte slice.
func (f EthernetFrame) Marshal() []byte {
	buf := make([]byte, EthernetHeaderLen+len(f.Payload))
	copy(buf[0:6], f.Dst[:])
	copy(buf[6:12], f.Src[:])
	binary.BigEndian.PutUint16(buf[12:14], uint16(f.Type))
	copy(buf[EthernetHeaderLen:], f.Payload)
	return buf
}
