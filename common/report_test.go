package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReport_Lossless(t *testing.T) {
	report := NewReport("rudp",
		Timings{PureTransfer: time.Millisecond * 20, Total: time.Millisecond * 25},
		Counters{FileSize: 10, Sent: 10})

	assert.Equal(t, uint64(10), report.PacketsSent)
	assert.Equal(t, uint64(0), report.PacketsLost)
	assert.Equal(t, 0.0, report.LossRatePercent)
	assert.False(t, report.Degenerate)
}

func TestReport_LossRate(t *testing.T) {
	report := NewReport("rudp",
		Timings{PureTransfer: time.Millisecond * 20, Total: time.Millisecond * 25},
		Counters{FileSize: 10, Sent: 11, Lost: 1})

	assert.Equal(t, uint64(11), report.PacketsSent)
	assert.Equal(t, uint64(1), report.PacketsLost)
	assert.InDelta(t, 9.09, report.LossRatePercent, 0.01)
}

func TestReport_Throughput(t *testing.T) {
	report := NewReport("tcp",
		Timings{PureTransfer: time.Second, Total: time.Second * 2},
		Counters{FileSize: 2 * 1024 * 1024, Sent: 2048})

	assert.InDelta(t, 2.0, report.ThroughputMBps, 0.0001)
	assert.Equal(t, 1.0, report.PureTransferSeconds)
	assert.Equal(t, 2.0, report.TotalSeconds)
}

func TestReport_Degenerate(t *testing.T) {
	report := NewReport("rudp", Timings{}, Counters{FileSize: 1024})

	assert.True(t, report.Degenerate)
	assert.Equal(t, 0.0, report.ThroughputMBps)
	assert.Equal(t, 0.0, report.LossRatePercent)
}
