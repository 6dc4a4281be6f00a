package protocol

import (
	"testing"

	"github.com/netcompare/transfer/errors"
	"github.com/stretchr/testify/assert"
)

func TestPacket_DataRoundTrip(t *testing.T) {
	encoded := NewDataPacket(42, []byte("payload")).Encode()
	assert.Len(t, encoded, HeaderSize+7)

	packet, err := DecodePacket(encoded)
	assert.NoError(t, err)
	assert.Equal(t, uint32(42), packet.Sequence)
	assert.Equal(t, KindData, packet.Kind)
	assert.Equal(t, []byte("payload"), packet.Payload)
}

func TestPacket_WireLayout(t *testing.T) {
	encoded := NewDataPacket(0x01020304, []byte{0xAA}).Encode()

	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, encoded[:4])
	assert.Equal(t, byte(KindData), encoded[4])
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, encoded[5:9])
	assert.Equal(t, byte(0xAA), encoded[9])
}

func TestPacket_FinCarriesTotal(t *testing.T) {
	encoded := NewFinPacket(100, 100).Encode()
	assert.Len(t, encoded, HeaderSize)

	packet, err := DecodePacket(encoded)
	assert.NoError(t, err)
	assert.Equal(t, KindFin, packet.Kind)
	assert.Equal(t, uint32(100), packet.Total)
	assert.Empty(t, packet.Payload)
}

func TestPacket_AckAndFinAck(t *testing.T) {
	ack, err := DecodePacket(NewAckPacket(7).Encode())
	assert.NoError(t, err)
	assert.Equal(t, KindAck, ack.Kind)
	assert.Equal(t, uint32(7), ack.Sequence)

	finAck, err := DecodePacket(NewFinAckPacket(8).Encode())
	assert.NoError(t, err)
	assert.Equal(t, KindFinAck, finAck.Kind)
}

func TestPacket_ShortBuffer(t *testing.T) {
	_, err := DecodePacket([]byte{0x00, 0x01, 0x02})
	assert.Equal(t, errors.ErrMalformedHeader, err)

	_, err = DecodePacket(nil)
	assert.Equal(t, errors.ErrMalformedHeader, err)
}

func TestPacket_LengthMismatch(t *testing.T) {
	encoded := NewDataPacket(1, []byte("payload")).Encode()

	_, err := DecodePacket(encoded[:len(encoded)-2])
	assert.Equal(t, errors.ErrMalformedHeader, err)

	_, err = DecodePacket(append(encoded, 0x00))
	assert.Equal(t, errors.ErrMalformedHeader, err)
}

func TestPacket_UnknownKind(t *testing.T) {
	encoded := NewAckPacket(1).Encode()
	encoded[4] = 0x99

	_, err := DecodePacket(encoded)
	assert.Equal(t, errors.ErrUnknownKind, err)
}

func TestPacket_TrailingBytesOnAck(t *testing.T) {
	encoded := append(NewAckPacket(1).Encode(), 0xFF)

	_, err := DecodePacket(encoded)
	assert.Equal(t, errors.ErrMalformedHeader, err)
}
