package protocol

import (
	"bytes"
	"testing"
	"time"

	"github.com/netcompare/transfer/common"
	"github.com/netcompare/transfer/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type transferResult struct {
	senderReport   *common.TransferReport
	senderErr      error
	receiverReport *common.TransferReport
	receiverErr    error
	sink           *memorySink
}

func runTransfer(t *testing.T, content []byte, senderConfig SenderConfig, senderHook func([]byte) [][]byte) *transferResult {
	logger, _ := zap.NewDevelopment()

	senderSide, receiverSide := newChannelPair()
	senderSide.outHook = senderHook

	result := &transferResult{sink: &memorySink{}}

	receiver := NewReceiver(receiverSide, result.sink, ReceiverConfig{
		IdleTimeout:   time.Millisecond * 500,
		LingerTimeout: time.Millisecond * 20,
	}, logger)

	receiverDone := make(chan struct{})
	go func() {
		result.receiverReport, result.receiverErr = receiver.Receive()
		close(receiverDone)
	}()

	sender := NewSender(senderSide, senderConfig, logger)
	result.senderReport, result.senderErr = sender.Send(bytes.NewReader(content), uint64(len(content)))

	select {
	case <-receiverDone:
	case <-time.After(time.Second * 5):
		t.Fatal("receiver did not finish")
	}

	return result
}

func fastSenderConfig() SenderConfig {
	return SenderConfig{
		BaseUnit:        1,
		ChunkMultiplier: 1,
		WindowSize:      4,
		RetryLimit:      5,
		AckTimeout:      time.Millisecond * 50,
	}
}

// kindOf peeks into an encoded datagram without failing the hook on junk.
func kindOf(datagram []byte) (Kind, uint32) {
	packet, err := DecodePacket(datagram)
	if err != nil {
		return 0, 0
	}
	return packet.Kind, packet.Sequence
}

func TestTransfer_Lossless(t *testing.T) {
	content := []byte("0123456789")

	result := runTransfer(t, content, fastSenderConfig(), nil)

	require.NoError(t, result.senderErr)
	require.NoError(t, result.receiverErr)

	assert.Equal(t, content, result.sink.content)
	assert.Equal(t, uint64(10), result.senderReport.PacketsSent)
	assert.Equal(t, uint64(0), result.senderReport.PacketsLost)
	assert.Equal(t, 0.0, result.senderReport.LossRatePercent)
	assert.Equal(t, uint64(0), result.receiverReport.PacketsDuplicated)
	assert.Equal(t, uint64(10), result.receiverReport.FileSize)
}

func TestTransfer_EmptyFile(t *testing.T) {
	result := runTransfer(t, []byte{}, fastSenderConfig(), nil)

	require.NoError(t, result.senderErr)
	require.NoError(t, result.receiverErr)

	assert.True(t, result.sink.stored)
	assert.Empty(t, result.sink.content)
	assert.Equal(t, uint64(0), result.senderReport.PacketsSent)
	assert.Equal(t, uint64(0), result.senderReport.PacketsLost)
}

func TestTransfer_LargerChunks(t *testing.T) {
	content := bytes.Repeat([]byte("transfer content "), 512) // 8704 bytes

	config := fastSenderConfig()
	config.BaseUnit = 256
	config.ChunkMultiplier = 2 // 512 byte chunks, final one partial

	result := runTransfer(t, content, config, nil)

	require.NoError(t, result.senderErr)
	require.NoError(t, result.receiverErr)

	assert.Equal(t, content, result.sink.content)
	assert.Equal(t, uint64(17), result.senderReport.PacketsSent)
	assert.Equal(t, uint64(0), result.senderReport.PacketsLost)
}

func TestTransfer_DropOnce(t *testing.T) {
	content := []byte("0123456789")

	dropped := false
	hook := func(datagram []byte) [][]byte {
		if kind, sequence := kindOf(datagram); kind == KindData && sequence == 4 && !dropped {
			dropped = true
			return nil
		}
		return [][]byte{datagram}
	}

	result := runTransfer(t, content, fastSenderConfig(), hook)

	require.NoError(t, result.senderErr)
	require.NoError(t, result.receiverErr)

	assert.Equal(t, content, result.sink.content)
	assert.Equal(t, uint64(11), result.senderReport.PacketsSent)
	assert.Equal(t, uint64(1), result.senderReport.PacketsLost)
	assert.InDelta(t, 9.09, result.senderReport.LossRatePercent, 0.01)
}

func TestTransfer_LossyChannel(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 997)

	config := fastSenderConfig()
	config.BaseUnit = 16
	config.WindowSize = 8
	totalChunks := uint64(63) // ceil(997 / 16)

	attempts := make(map[uint32]int)
	hook := func(datagram []byte) [][]byte {
		kind, sequence := kindOf(datagram)
		if kind == KindData {
			attempts[sequence]++
			if sequence%3 == 0 && attempts[sequence] == 1 {
				return nil
			}
		}
		return [][]byte{datagram}
	}

	result := runTransfer(t, content, config, hook)

	require.NoError(t, result.senderErr)
	require.NoError(t, result.receiverErr)

	assert.Equal(t, content, result.sink.content)
	assert.Greater(t, result.senderReport.PacketsSent, totalChunks)
	assert.Equal(t, result.senderReport.PacketsSent-totalChunks, result.senderReport.PacketsLost)
}

func TestTransfer_DuplicateEveryDatagram(t *testing.T) {
	content := []byte("0123456789")

	hook := func(datagram []byte) [][]byte {
		return [][]byte{datagram, datagram}
	}

	result := runTransfer(t, content, fastSenderConfig(), hook)

	require.NoError(t, result.senderErr)
	require.NoError(t, result.receiverErr)

	assert.Equal(t, content, result.sink.content)
	assert.Equal(t, uint64(10), result.receiverReport.PacketsDuplicated)
	assert.Equal(t, uint64(10), result.receiverReport.FileSize)
}

func TestTransfer_RetryExhaustion(t *testing.T) {
	content := []byte("0123456789")

	config := fastSenderConfig()
	config.WindowSize = 8
	config.RetryLimit = 3
	config.AckTimeout = time.Millisecond * 40

	hook := func(datagram []byte) [][]byte {
		if kind, sequence := kindOf(datagram); kind == KindData && sequence == 4 {
			return nil
		}
		return [][]byte{datagram}
	}

	result := runTransfer(t, content, config, hook)

	assert.Equal(t, errors.ErrRetryBudgetExhausted, result.senderErr)
	require.NotNil(t, result.senderReport)
	// nine clean packets once each, the doomed one exactly 1 + RetryLimit times
	assert.Equal(t, uint64(13), result.senderReport.PacketsSent)

	assert.Equal(t, errors.ErrIdleTimeout, result.receiverErr)
	assert.False(t, result.sink.stored)
}

func TestTransfer_FinRetry(t *testing.T) {
	content := []byte("0123456789")

	finDrops := 0
	hook := func(datagram []byte) [][]byte {
		if kind, _ := kindOf(datagram); kind == KindFin && finDrops < 2 {
			finDrops++
			return nil
		}
		return [][]byte{datagram}
	}

	result := runTransfer(t, content, fastSenderConfig(), hook)

	require.NoError(t, result.senderErr)
	require.NoError(t, result.receiverErr)

	assert.Equal(t, 2, finDrops)
	assert.Equal(t, content, result.sink.content)
	assert.Equal(t, uint64(10), result.senderReport.PacketsSent)
}
