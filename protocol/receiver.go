package protocol

import (
	"time"

	"github.com/netcompare/transfer/common"
	"github.com/netcompare/transfer/errors"
	"go.uber.org/zap"
)

const (
	DefaultIdleTimeout   = time.Second * 5
	DefaultLingerTimeout = time.Millisecond * 250
)

type ReceiverConfig struct {
	// IdleTimeout abandons a session that stops making progress before FIN.
	IdleTimeout time.Duration
	// LingerTimeout keeps answering duplicate DATA/FIN after the first
	// FIN_ACK so a sender that missed it can still terminate cleanly.
	LingerTimeout time.Duration
}

func (c ReceiverConfig) normalized() ReceiverConfig {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.LingerTimeout <= 0 {
		c.LingerTimeout = DefaultLingerTimeout
	}
	return c
}

// FileSink takes the reassembled content as one whole-buffer write. The
// receiver measures the duration of that write, nothing more; storage
// details stay with the collaborator.
type FileSink interface {
	Store(content []byte) error
}

// reassembly is the per-session buffer: payloads keyed by sequence number,
// a dedup set implied by the map, and the reception counters.
type reassembly struct {
	chunks map[uint32][]byte

	totalReceived uint64
	duplicates    uint64
	highestSeen   uint32

	start     time.Time
	firstData time.Time
}

func newReassembly() *reassembly {
	return &reassembly{chunks: make(map[uint32][]byte)}
}

// accept stores one DATA payload and reports whether it was seen before.
func (r *reassembly) accept(sequence uint32, payload []byte) bool {
	r.totalReceived++

	if _, has := r.chunks[sequence]; has {
		r.duplicates++
		return false
	}

	r.chunks[sequence] = payload
	if sequence > r.highestSeen {
		r.highestSeen = sequence
	}
	return true
}

func (r *reassembly) missing(total uint32) []uint32 {
	missing := make([]uint32, 0)
	for sequence := uint32(0); sequence < total; sequence++ {
		if _, has := r.chunks[sequence]; !has {
			missing = append(missing, sequence)
		}
	}
	return missing
}

// content walks the sequence numbers in order and concatenates the stored
// payloads. Arrival order is irrelevant here, this is where reordering on
// the channel gets corrected.
func (r *reassembly) content(total uint32) []byte {
	content := make([]byte, 0)
	for sequence := uint32(0); sequence < total; sequence++ {
		content = append(content, r.chunks[sequence]...)
	}
	return content
}

// Receiver accepts datagrams for one transfer session, deduplicates them by
// sequence number, acknowledges every DATA packet and reassembles the file
// in sequence order no matter how the channel scrambled it. Delivery is all
// or nothing: on failure no partial content reaches the sink.
type Receiver interface {
	Receive() (*common.TransferReport, error)
}

type receiver struct {
	channel Channel
	sink    FileSink
	config  ReceiverConfig
	logger  *zap.Logger
}

func NewReceiver(channel Channel, sink FileSink, config ReceiverConfig, logger *zap.Logger) Receiver {
	return &receiver{
		channel: channel,
		sink:    sink,
		config:  config.normalized(),
		logger:  logger,
	}
}

func (r *receiver) Receive() (*common.TransferReport, error) {
	buffer := newReassembly()

	for {
		datagram, err := r.channel.Receive(r.config.IdleTimeout)
		if err != nil {
			if IsTimeout(err) {
				r.logger.Warn("Session is abandoned on idle timeout",
					zap.Int("unique", len(buffer.chunks)))
				return nil, errors.ErrIdleTimeout
			}
			return nil, err
		}
		if buffer.start.IsZero() {
			buffer.start = time.Now()
		}

		packet, decodeErr := DecodePacket(datagram)
		if decodeErr != nil {
			// drop and keep serving, the sender will retransmit
			r.logger.Debug("Datagram is dropped", zap.Error(decodeErr))
			continue
		}

		switch packet.Kind {
		case KindData:
			if buffer.firstData.IsZero() {
				buffer.firstData = time.Now()
			}
			buffer.accept(packet.Sequence, packet.Payload)

			// acknowledging is idempotent, the first one may have been lost
			if err := r.channel.Send(NewAckPacket(packet.Sequence).Encode()); err != nil {
				return nil, err
			}

		case KindFin:
			return r.conclude(packet, buffer)

		default:
			// an acknowledgement towards a receiver carries no meaning
		}
	}
}

func (r *receiver) conclude(fin *Packet, buffer *reassembly) (*common.TransferReport, error) {
	total := fin.Total
	unique := uint64(len(buffer.chunks))

	if unique < uint64(total) {
		r.logger.Error("Transfer is terminated prematurely",
			zap.Uint32("expected", total),
			zap.Uint64("unique", unique),
			zap.Uint32("highestSeen", buffer.highestSeen),
			zap.Uint32s("missing", buffer.missing(total)))

		// release the sender anyway, the session itself has failed
		_ = r.channel.Send(NewFinAckPacket(fin.Sequence).Encode())

		return nil, errors.ErrIncomplete
	}

	if buffer.firstData.IsZero() {
		buffer.firstData = time.Now() // zero length transfer, FIN is the first news
	}
	pureTransfer := time.Since(buffer.firstData)

	content := buffer.content(total)

	ioStart := time.Now()
	if err := r.sink.Store(content); err != nil {
		return nil, err
	}
	ioElapsed := time.Since(ioStart)

	if err := r.channel.Send(NewFinAckPacket(fin.Sequence).Encode()); err != nil {
		return nil, err
	}
	totalElapsed := time.Since(buffer.start)

	r.linger(fin.Sequence)

	timings := common.Timings{
		PureTransfer: pureTransfer,
		Io:           ioElapsed,
		Total:        totalElapsed,
	}
	counters := common.Counters{
		FileSize:   uint64(len(content)),
		Sent:       buffer.totalReceived,
		Duplicated: buffer.duplicates,
	}

	report := common.NewReport("rudp", timings, counters)
	r.logger.Info("Reception is completed", zap.String("report", report.String()))

	return report, nil
}

// linger answers duplicate DATA and FIN until the channel goes quiet, in
// case the sender missed the first FIN_ACK and keeps retransmitting.
func (r *receiver) linger(finSequence uint32) {
	for {
		datagram, err := r.channel.Receive(r.config.LingerTimeout)
		if err != nil {
			return
		}

		packet, decodeErr := DecodePacket(datagram)
		if decodeErr != nil {
			continue
		}

		switch packet.Kind {
		case KindData:
			_ = r.channel.Send(NewAckPacket(packet.Sequence).Encode())
		case KindFin:
			_ = r.channel.Send(NewFinAckPacket(finSequence).Encode())
		default:
		}
	}
}

var _ Receiver = &receiver{}
