package link

import (
	"encoding/binary"
	"errors"
	"net"
)

// ARP opcodes for the fixed Ethernet/IPv4 28-byte layout (RFC 826).
type ARPOpcode uint16

const (
	ARPRequest ARPOpcode = 1
	ARPReply   ARPOpcode = 2
)

const (
	arpHTypeEthernet = 1
	arpPTypeIPv4     = 0x0800
	// ARPLen is the fixed wire length of an Ethernet/IPv4 ARP message.
	ARPLen = 28
)

// ARPMessage is a parsed (or about-to-be-built) ARP request or reply.
type ARPMessage struct {
	Opcode    ARPOpcode
	SenderMAC MAC
	SenderIP  net.IP // 4-byte form
	TargetMAC MAC
	TargetIP  net.IP // 4-byte form
}

// ParseARP decodes a fixed-layout Ethernet/IPv4 ARP message. Messages
// using any other hardware/protocol type are rejected.
func ParseARP(payload []byte) (ARPMessage, error) {
	if len(payload) < ARPLen {
		return ARPMessage{}, errors.New("link: arp message too short")
	}

	htype := binary.BigEndian.Uint16(payload[0:2])
	ptype := binary.BigEndian.Uint16(payload[2:4])
	hlen := payload[4]
	plen := payload[5]
	if htype != arpHTypeEthernet || ptype != arpPTypeIPv4 || hlen != 6 || plen != 4 {
		return ARPMessage{}, errors.New("link: unsupported arp hardware/protocol type")
	}

	var m ARPMessage
	m.Opcode = ARPOpcode(binary.BigEndian.Uint16(payload[6:8]))
	m.SenderMAC, _ = ParseMAC(payload[8:14])
	m.SenderIP = net.IP(append(net.IP(nil), payload[14:18]...))
	m.TargetMAC, _ = ParseMAC(payload[18:24])
	m.TargetIP = net.IP(append(net.IP(nil), payload[24:28]...))
	return m, nil
}

// Marshal serializes the ARP message into its 28-byte wire form.
func (m ARPMessage) Marshal() []byte {
	buf := make([]byte, ARPLen)
	binary.BigEndian.PutUint16(buf[0:2], arpHTypeEthernet)
	binary.BigEndian.PutUint16(buf[2:4], arpPTypeIPv4)
	buf[4] = 6
	buf[5] = 4
	binary.BigEndian.PutUint16(buf[6:8], uint16(m.Opcode))
	copy(buf[8:14], m.SenderMAC[:])
	copy(buf[14:18], m.SenderIP.To4())
	copy(buf[18:24], m.TargetMAC[:])
	copy(buf[24:28], m.TargetIP.To4())
	return buf
}
