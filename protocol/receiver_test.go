package protocol

import (
	"testing"
	"time"

	"github.com/netcompare/transfer/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func scriptedReceiver(t *testing.T) (*pipeChannel, Receiver, *memorySink) {
	logger, _ := zap.NewDevelopment()

	driver, receiverSide := newChannelPair()
	sink := &memorySink{}

	receiver := NewReceiver(receiverSide, sink, ReceiverConfig{
		IdleTimeout:   time.Millisecond * 200,
		LingerTimeout: time.Millisecond * 20,
	}, logger)

	return driver, receiver, sink
}

// drain collects whatever the receiver answered, keyed by kind.
func drain(driver *pipeChannel) map[Kind]int {
	kinds := make(map[Kind]int)
	for {
		datagram, err := driver.Receive(time.Millisecond * 50)
		if err != nil {
			return kinds
		}
		packet, decodeErr := DecodePacket(datagram)
		if decodeErr != nil {
			continue
		}
		kinds[packet.Kind]++
	}
}

func TestReceiver_ReverseOrder(t *testing.T) {
	driver, receiver, sink := scriptedReceiver(t)

	content := []byte("0123456789")
	for sequence := 9; sequence >= 0; sequence-- {
		require.NoError(t, driver.Send(NewDataPacket(uint32(sequence), content[sequence:sequence+1]).Encode()))
	}
	require.NoError(t, driver.Send(NewFinPacket(10, 10).Encode()))

	report, err := receiver.Receive()
	require.NoError(t, err)

	assert.Equal(t, content, sink.content)
	assert.Equal(t, uint64(0), report.PacketsDuplicated)

	kinds := drain(driver)
	assert.Equal(t, 10, kinds[KindAck])
	assert.Equal(t, 1, kinds[KindFinAck])
}

func TestReceiver_DuplicateData(t *testing.T) {
	driver, receiver, sink := scriptedReceiver(t)

	content := []byte("abc")
	for sequence := 0; sequence < 3; sequence++ {
		datagram := NewDataPacket(uint32(sequence), content[sequence:sequence+1]).Encode()
		require.NoError(t, driver.Send(datagram))
		require.NoError(t, driver.Send(datagram))
	}
	require.NoError(t, driver.Send(NewFinPacket(3, 3).Encode()))

	report, err := receiver.Receive()
	require.NoError(t, err)

	assert.Equal(t, content, sink.content)
	assert.Equal(t, uint64(3), report.PacketsDuplicated)

	// every copy earned its own acknowledgement
	kinds := drain(driver)
	assert.Equal(t, 6, kinds[KindAck])
}

func TestReceiver_GarbageTolerance(t *testing.T) {
	driver, receiver, sink := scriptedReceiver(t)

	require.NoError(t, driver.Send([]byte{0x01, 0x02}))

	alien := NewAckPacket(0).Encode()
	alien[4] = 0x77
	require.NoError(t, driver.Send(alien))

	content := []byte("ok")
	require.NoError(t, driver.Send(NewDataPacket(0, content[:1]).Encode()))
	require.NoError(t, driver.Send(NewDataPacket(1, content[1:]).Encode()))
	require.NoError(t, driver.Send(NewFinPacket(2, 2).Encode()))

	_, err := receiver.Receive()
	require.NoError(t, err)
	assert.Equal(t, content, sink.content)
}

func TestReceiver_PrematureFin(t *testing.T) {
	driver, receiver, sink := scriptedReceiver(t)

	content := []byte("abc")
	for sequence := 0; sequence < 3; sequence++ {
		require.NoError(t, driver.Send(NewDataPacket(uint32(sequence), content[sequence:sequence+1]).Encode()))
	}
	require.NoError(t, driver.Send(NewFinPacket(5, 5).Encode()))

	report, err := receiver.Receive()
	assert.Equal(t, errors.ErrIncomplete, err)
	assert.Nil(t, report)
	assert.False(t, sink.stored)

	// the sender is still released from its FIN loop
	kinds := drain(driver)
	assert.Equal(t, 1, kinds[KindFinAck])
}

func TestReceiver_IdleTimeout(t *testing.T) {
	_, receiver, sink := scriptedReceiver(t)

	report, err := receiver.Receive()
	assert.Equal(t, errors.ErrIdleTimeout, err)
	assert.Nil(t, report)
	assert.False(t, sink.stored)
}

func TestReceiver_DuplicateFinDuringLinger(t *testing.T) {
	driver, receiver, sink := scriptedReceiver(t)

	require.NoError(t, driver.Send(NewDataPacket(0, []byte("a")).Encode()))
	require.NoError(t, driver.Send(NewFinPacket(1, 1).Encode()))
	require.NoError(t, driver.Send(NewFinPacket(1, 1).Encode()))

	_, err := receiver.Receive()
	require.NoError(t, err)

	assert.Equal(t, []byte("a"), sink.content)

	kinds := drain(driver)
	assert.Equal(t, 2, kinds[KindFinAck])
}
