package protocol

import (
	"fmt"
	"io"
	"time"

	"github.com/netcompare/transfer/common"
	"github.com/netcompare/transfer/errors"
	"go.uber.org/zap"
)

// ChunkBaseSize is the base payload unit. The effective chunk size is this
// multiplied by the configured chunk multiplier, the "buffer size" knob of
// the benchmark sweeps.
const ChunkBaseSize = 1024

const (
	DefaultWindowSize = 8
	DefaultRetryLimit = 5
	DefaultAckTimeout = time.Millisecond * 500
)

type SenderConfig struct {
	// BaseUnit overrides ChunkBaseSize; the effective chunk size is always
	// BaseUnit multiplied by ChunkMultiplier.
	BaseUnit        int
	ChunkMultiplier int
	WindowSize      int
	RetryLimit      int
	AckTimeout      time.Duration
	PacingInterval  time.Duration
}

func (c SenderConfig) normalized() SenderConfig {
	if c.BaseUnit < 1 {
		c.BaseUnit = ChunkBaseSize
	}
	if c.ChunkMultiplier < 1 {
		c.ChunkMultiplier = 1
	}
	if c.WindowSize < 1 {
		c.WindowSize = DefaultWindowSize
	}
	if c.RetryLimit < 1 {
		c.RetryLimit = DefaultRetryLimit
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	return c
}

// Sender drives one file transfer over an unreliable channel. It keeps at
// most WindowSize unacknowledged packets outstanding and retransmits any of
// them whose timer expires, under the same sequence number, until the retry
// budget runs out. Delivery is guaranteed or the transfer fails, nothing in
// between.
type Sender interface {
	Send(file io.Reader, size uint64) (*common.TransferReport, error)
}

type sender struct {
	channel Channel
	timers  TimerSet
	config  SenderConfig
	logger  *zap.Logger
}

func NewSender(channel Channel, config SenderConfig, logger *zap.Logger) Sender {
	return &sender{
		channel: channel,
		timers:  NewTimerSet(),
		config:  config.normalized(),
		logger:  logger,
	}
}

type flightItem struct {
	payload []byte
	retries int
}

func (s *sender) Send(file io.Reader, size uint64) (*common.TransferReport, error) {
	chunkSize := uint64(s.config.BaseUnit * s.config.ChunkMultiplier)

	totalChunks := uint32(0)
	if size > 0 {
		totalChunks = uint32((size + chunkSize - 1) / chunkSize)
	}

	s.logger.Info("Starting transfer",
		zap.Uint64("size", size),
		zap.Uint64("chunkSize", chunkSize),
		zap.Uint32("chunks", totalChunks))

	inFlight := make(map[uint32]*flightItem)

	packetsSent := uint64(0)
	acked := uint32(0)
	nextSequence := uint32(0)

	start := time.Now()

	for acked < totalChunks {
		for len(inFlight) < s.config.WindowSize && nextSequence < totalChunks {
			chunk := make([]byte, chunkSize)
			read, err := io.ReadFull(file, chunk)
			if err != nil && err != io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("file is not readable: %s", err.Error())
			}

			item := &flightItem{payload: chunk[:read]}
			if err := s.channel.Send(NewDataPacket(nextSequence, item.payload).Encode()); err != nil {
				return nil, err
			}
			s.timers.Arm(nextSequence, s.config.AckTimeout)
			inFlight[nextSequence] = item
			packetsSent++
			nextSequence++

			if s.config.PacingInterval > 0 {
				time.Sleep(s.config.PacingInterval)
			}
		}

		buffer, err := s.channel.Receive(s.config.AckTimeout)
		switch {
		case err == nil:
			packet, decodeErr := DecodePacket(buffer)
			if decodeErr != nil || packet.Kind != KindAck {
				// corruption equals loss, the timer will take care of it
				continue
			}
			if _, has := inFlight[packet.Sequence]; has {
				s.timers.Cancel(packet.Sequence)
				delete(inFlight, packet.Sequence)
				acked++
			}
		case IsTimeout(err):
		default:
			return nil, err
		}

		for _, sequence := range s.timers.Poll() {
			item, has := inFlight[sequence]
			if !has {
				continue
			}

			item.retries++
			if item.retries > s.config.RetryLimit {
				s.logger.Error("Retry budget is exhausted",
					zap.Uint32("sequence", sequence),
					zap.Int("retries", item.retries-1))
				return s.failure(size, packetsSent, totalChunks, start), errors.ErrRetryBudgetExhausted
			}

			s.logger.Debug("Retransmitting",
				zap.Uint32("sequence", sequence),
				zap.Int("retry", item.retries))

			if err := s.channel.Send(NewDataPacket(sequence, item.payload).Encode()); err != nil {
				return nil, err
			}
			s.timers.Arm(sequence, s.config.AckTimeout)
			packetsSent++
		}
	}

	pureTransfer := time.Since(start)

	if err := s.finalize(totalChunks); err != nil {
		return s.failure(size, packetsSent, totalChunks, start), err
	}

	timings := common.Timings{
		PureTransfer: pureTransfer,
		Total:        time.Since(start),
	}
	counters := common.Counters{
		FileSize: size,
		Sent:     packetsSent,
		Lost:     packetsSent - uint64(totalChunks),
	}

	report := common.NewReport("rudp", timings, counters)
	s.logger.Info("Transfer is completed", zap.String("report", report.String()))

	return report, nil
}

// finalize runs the FIN/FIN_ACK handshake. FIN takes the next unused
// sequence number and announces the logical packet count so the receiver
// can verify completeness before flushing.
func (s *sender) finalize(totalChunks uint32) error {
	fin := NewFinPacket(totalChunks, totalChunks).Encode()

	if err := s.channel.Send(fin); err != nil {
		return err
	}

	retries := 0
	for {
		buffer, err := s.channel.Receive(s.config.AckTimeout)
		if err != nil {
			if !IsTimeout(err) {
				return err
			}

			retries++
			if retries > s.config.RetryLimit {
				return errors.ErrRetryBudgetExhausted
			}
			if err := s.channel.Send(fin); err != nil {
				return err
			}
			continue
		}

		packet, decodeErr := DecodePacket(buffer)
		if decodeErr != nil {
			continue
		}
		if packet.Kind == KindFinAck {
			return nil
		}
		// stray acknowledgements during termination are expected noise
	}
}

// failure composes the partial record that travels along with a terminal
// error: attempts made so far and the size never confirmed as delivered.
func (s *sender) failure(size uint64, packetsSent uint64, totalChunks uint32, start time.Time) *common.TransferReport {
	lost := uint64(0)
	if packetsSent > uint64(totalChunks) {
		lost = packetsSent - uint64(totalChunks)
	}

	return common.NewReport("rudp",
		common.Timings{Total: time.Since(start)},
		common.Counters{FileSize: size, Sent: packetsSent, Lost: lost})
}

var _ Sender = &sender{}
