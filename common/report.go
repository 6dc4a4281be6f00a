package common

import (
	"fmt"
	"time"
)

// Timings holds the wall-clock measurements of one transfer. PureTransfer
// covers only the datagram exchange, Io covers the sink flush, Total covers
// everything from the first datagram to the termination handshake.
type Timings struct {
	PureTransfer time.Duration
	Io           time.Duration
	Total        time.Duration
}

// Counters holds the packet accounting of one transfer. Sent counts every
// transmission including retransmissions, Lost counts transmissions
// attributed to loss, Duplicated counts datagrams observed more than once.
type Counters struct {
	FileSize   uint64
	Sent       uint64
	Lost       uint64
	Duplicated uint64
}

// TransferReport is the immutable statistics record of one completed or
// failed transfer. It is created once by NewReport and handed over to the
// logging/reporting collaborators as is.
type TransferReport struct {
	Protocol string `json:"protocol" bson:"protocol"`

	FileSize            uint64  `json:"fileSize" bson:"fileSize"`
	PureTransferSeconds float64 `json:"pureTransferSeconds" bson:"pureTransferSeconds"`
	IoSeconds           float64 `json:"ioSeconds" bson:"ioSeconds"`
	TotalSeconds        float64 `json:"totalSeconds" bson:"totalSeconds"`
	ThroughputMBps      float64 `json:"throughputMBps" bson:"throughputMBps"`

	PacketsSent       uint64  `json:"packetsSent" bson:"packetsSent"`
	PacketsLost       uint64  `json:"packetsLost" bson:"packetsLost"`
	PacketsDuplicated uint64  `json:"packetsDuplicated" bson:"packetsDuplicated"`
	LossRatePercent   float64 `json:"lossRatePercent" bson:"lossRatePercent"`

	Degenerate bool      `json:"degenerate" bson:"degenerate"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

const megabyte = 1024 * 1024

// NewReport composes the statistics record out of raw measurements. It is
// pure: no clock reads besides the CreatedAt stamp, no I/O. A zero pure
// transfer duration marks the record as degenerate instead of dividing.
func NewReport(protocol string, timings Timings, counters Counters) *TransferReport {
	report := &TransferReport{
		Protocol:            protocol,
		FileSize:            counters.FileSize,
		PureTransferSeconds: timings.PureTransfer.Seconds(),
		IoSeconds:           timings.Io.Seconds(),
		TotalSeconds:        timings.Total.Seconds(),
		PacketsSent:         counters.Sent,
		PacketsLost:         counters.Lost,
		PacketsDuplicated:   counters.Duplicated,
		CreatedAt:           time.Now().UTC(),
	}

	if timings.PureTransfer == 0 {
		report.Degenerate = true
	} else {
		report.ThroughputMBps = float64(counters.FileSize) / timings.PureTransfer.Seconds() / megabyte
	}

	if counters.Sent > 0 {
		report.LossRatePercent = float64(counters.Lost) / float64(counters.Sent) * 100
	}

	return report
}

func (r *TransferReport) String() string {
	return fmt.Sprintf("%s: %d bytes in %.2fs (%.2f MB/s), %d sent, %d lost, %d duplicated, %.2f%% loss",
		r.Protocol, r.FileSize, r.TotalSeconds, r.ThroughputMBps,
		r.PacketsSent, r.PacketsLost, r.PacketsDuplicated, r.LossRatePercent)
}
