package protocol

import (
	"encoding/binary"

	"github.com/netcompare/transfer/errors"
)

type Kind byte

const (
	KindData   Kind = 1
	KindAck    Kind = 2
	KindFin    Kind = 3
	KindFinAck Kind = 4
)

// HeaderSize is the fixed datagram header length on the wire:
// sequence (4) + kind (1) + payload length (4), big endian.
const HeaderSize = 9

// Packet is the unit of transmission. Payload is present only for DATA.
// Total is meaningful only for FIN and carries the logical packet count of
// the transfer; it travels in the payload length field of the header.
type Packet struct {
	Sequence uint32
	Kind     Kind
	Total    uint32
	Payload  []byte
}

func NewDataPacket(sequence uint32, payload []byte) *Packet {
	return &Packet{Sequence: sequence, Kind: KindData, Payload: payload}
}

func NewAckPacket(sequence uint32) *Packet {
	return &Packet{Sequence: sequence, Kind: KindAck}
}

func NewFinPacket(sequence uint32, total uint32) *Packet {
	return &Packet{Sequence: sequence, Kind: KindFin, Total: total}
}

func NewFinAckPacket(sequence uint32) *Packet {
	return &Packet{Sequence: sequence, Kind: KindFinAck}
}

func (p *Packet) lengthField() uint32 {
	switch p.Kind {
	case KindData:
		return uint32(len(p.Payload))
	case KindFin:
		return p.Total
	default:
		return 0
	}
}

func (p *Packet) Encode() []byte {
	buffer := make([]byte, HeaderSize+len(p.Payload))

	binary.BigEndian.PutUint32(buffer, p.Sequence)
	buffer[4] = byte(p.Kind)
	binary.BigEndian.PutUint32(buffer[5:], p.lengthField())

	copy(buffer[HeaderSize:], p.Payload)

	return buffer
}

// DecodePacket validates and parses one datagram. A failure means the
// datagram has to be dropped by the caller; it is never fatal for the
// endpoint since the channel is free to deliver corrupted or alien content.
func DecodePacket(buffer []byte) (*Packet, error) {
	if len(buffer) < HeaderSize {
		return nil, errors.ErrMalformedHeader
	}

	packet := &Packet{
		Sequence: binary.BigEndian.Uint32(buffer),
		Kind:     Kind(buffer[4]),
	}
	length := binary.BigEndian.Uint32(buffer[5:])
	remaining := buffer[HeaderSize:]

	switch packet.Kind {
	case KindData:
		if uint32(len(remaining)) != length {
			return nil, errors.ErrMalformedHeader
		}
		packet.Payload = make([]byte, length)
		copy(packet.Payload, remaining)
	case KindAck, KindFinAck:
		if len(remaining) != 0 || length != 0 {
			return nil, errors.ErrMalformedHeader
		}
	case KindFin:
		if len(remaining) != 0 {
			return nil, errors.ErrMalformedHeader
		}
		packet.Total = length
	default:
		return nil, errors.ErrUnknownKind
	}

	return packet, nil
}
