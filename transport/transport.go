package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/netcompare/transfer/common"
	"github.com/netcompare/transfer/protocol"
	"go.uber.org/zap"
)

// Transport is the capability set every benchmarked variant provides:
// initiate a transfer towards a serving peer, or serve incoming transfers.
// Variants are selected by configuration, reliability is whatever the
// variant brings along (kernel, TLS stack, own ARQ loop or none at all).
type Transport interface {
	Name() string
	Transfer(filePath string) (*common.TransferReport, error)
	Serve(ctx context.Context) error
}

type Config struct {
	TargetAddress string
	BindAddress   string
	TargetPath    string

	ChunkMultiplier int
	WindowSize      int
	RetryLimit      int

	AckTimeout     time.Duration
	IdleTimeout    time.Duration
	PacingInterval time.Duration
}

func (c Config) chunkSize() int {
	multiplier := c.ChunkMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	return protocol.ChunkBaseSize * multiplier
}

func New(name string, config Config, logger *zap.Logger) (Transport, error) {
	switch name {
	case "rudp":
		return NewRudp(config, logger), nil
	case "tcp":
		return NewTcp(config, logger), nil
	case "udp":
		return NewUdp(config, logger), nil
	case "quic":
		return NewQuic(config, logger), nil
	default:
		return nil, fmt.Errorf("%s is not a known transport", name)
	}
}
