package link

import (
	"encoding/binary"
	"errors"
	"net"
)

// IPv4HeaderLen is the length of a header with no options, which is all
// this stack emits or expects to parse.
const IPv4HeaderLen = 20

// IPv4Datagram is a parsed (or about-to-be-built) IPv4 packet with no
// options and the fixed 20-byte header.
type IPv4Datagram struct {
	TOS      uint8
	TTL      uint8
	Protocol uint8
	Src      net.IP // 4-byte form
	Dst      net.IP // 4-byte form
	Payload  []byte
}

// ParseIPv4 decodes a header-plus-payload datagram, validating the
// checksum and total length. IHL values other than 5 (options present)
// are rejected; this stack never emits or parses options.
func ParseIPv4(data []byte) (IPv4Datagram, error) {
	if len(data) < IPv4HeaderLen {
		return IPv4Datagram{}, errors.New("link: ipv4 datagram too short")
	}

	versionIHL := data[0]
	version := versionIHL >> 4
	ihl := versionIHL & 0x0f
	if version != 4 {
		return IPv4Datagram{}, errors.New("link: not an ipv4 datagram")
	}
	if ihl != 5 {
		return IPv4Datagram{}, errors.New("link: ipv4 options not supported")
	}

	totalLen := int(binary.BigEndian.Uint16(data[2:4]))
	if totalLen < IPv4HeaderLen || totalLen > len(data) {
		return IPv4Datagram{}, errors.New("link: ipv4 total length out of range")
	}

	if checksum(data[:IPv4HeaderLen]) != 0 {
		return IPv4Datagram{}, errors.New("link: ipv4 header checksum mismatch")
	}

	var d IPv4Datagram
	d.TOS = data[1]
	d.TTL = data[8]
	d.Protocol = data[9]
	d.Src = net.IP(append(net.IP(nil), data[12:16]...))
	d.Dst = net.IP(append(net.IP(nil), data[16:20]...))
	d.Payload = append([]byte(nil), data[IPv4HeaderLen:totalLen]...)
	return d, nil
}

// Marshal serializes the datagram, recomputing the header checksum.
func (d IPv4Datagram) Marshal() []byte {
	totalLen := IPv4HeaderLen + len(d.Payload)
	buf := make([]byte, totalLen)

	buf[0] = (4 << 4) | 5 // version 4, IHL 5 (no options)
	buf[1] = d.TOS
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	// identification, flags, and fragment offset are left zero: this
	// stack never fragments or reassembles IP packets.
	buf[8] = d.TTL
	buf[9] = d.Protocol
	copy(buf[12:16], d.Src.To4())
	copy(buf[16:20], d.Dst.To4())

	binary.BigEndian.PutUint16(buf[10:12], 0)
	binary.BigEndian.PutUint16(buf[10:12], checksum(buf[:IPv4HeaderLen]))

	copy(buf[IPv4HeaderLen:], d.Payload)
	return buf
}

// checksum computes the RFC 791 one's-complement checksum over data,
// which must have an even length (true of any header this package emits
// or is asked to validate).
func checksum(data []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(data); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if len(data)%2 == 1 {
		sum += uint32(data[len(data)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}
