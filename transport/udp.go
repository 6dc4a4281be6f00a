package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path"
	"sync"
	"time"

	"github.com/netcompare/transfer/common"
	"github.com/netcompare/transfer/protocol"
	"go.uber.org/zap"
)

const udpHeaderSize = 12 // sequence (4) + total (4) + size (4)
const udpResultTimeout = time.Second * 5

var udpInfoMarker = []byte("FILE_INFO:")
var udpEndMarker = []byte("TRANSFER_END")

// udpInfo announces the transfer ahead of the datagrams; without it the
// server could not even tell how much it failed to receive.
type udpInfo struct {
	Filename    string `json:"filename"`
	FileSize    uint64 `json:"filesize"`
	TotalChunks uint32 `json:"totalChunks"`
	ChunkSize   uint32 `json:"chunkSize"`
}

type udpResult struct {
	Success  bool   `json:"success"`
	Received uint32 `json:"receivedPackets"`
	Expected uint32 `json:"expectedPackets"`
	Lost     uint32 `json:"packetLoss"`
}

type udp struct {
	config Config
	logger *zap.Logger

	mutex *sync.Mutex
	conn  *net.UDPConn
}

// NewUdp creates the raw UDP variant: fire and forget, loss is detected and
// reported by the server but never recovered. It is the baseline the
// reliable variant is compared against.
func NewUdp(config Config, logger *zap.Logger) Transport {
	return &udp{
		config: config,
		logger: logger,
		mutex:  &sync.Mutex{},
	}
}

func (u *udp) Name() string {
	return "udp"
}

func (u *udp) Transfer(filePath string) (*common.TransferReport, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := uint64(info.Size())

	chunkSize := uint64(u.config.chunkSize())
	totalChunks := uint32(0)
	if fileSize > 0 {
		totalChunks = uint32((fileSize + chunkSize - 1) / chunkSize)
	}

	channel, err := protocol.DialChannel(u.config.TargetAddress)
	if err != nil {
		return nil, err
	}
	defer func() { _ = channel.Close() }()

	announcement, err := json.Marshal(udpInfo{
		Filename:    path.Base(filePath),
		FileSize:    fileSize,
		TotalChunks: totalChunks,
		ChunkSize:   uint32(chunkSize),
	})
	if err != nil {
		return nil, err
	}
	if err := channel.Send(append(append([]byte{}, udpInfoMarker...), announcement...)); err != nil {
		return nil, err
	}

	start := time.Now()
	packetsSent := uint64(0)

	chunk := make([]byte, chunkSize)
	for sequence := uint32(0); sequence < totalChunks; sequence++ {
		read, err := io.ReadFull(file, chunk)
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, err
		}

		datagram := make([]byte, udpHeaderSize+read)
		binary.BigEndian.PutUint32(datagram, sequence)
		binary.BigEndian.PutUint32(datagram[4:], totalChunks)
		binary.BigEndian.PutUint32(datagram[8:], uint32(read))
		copy(datagram[udpHeaderSize:], chunk[:read])

		if err := channel.Send(datagram); err != nil {
			return nil, err
		}
		packetsSent++

		if u.config.PacingInterval > 0 {
			time.Sleep(u.config.PacingInterval)
		}
	}
	pureTransfer := time.Since(start)

	if err := channel.Send(udpEndMarker); err != nil {
		return nil, err
	}

	result, err := u.awaitResult(channel)
	if err != nil {
		return nil, err
	}

	timings := common.Timings{
		PureTransfer: pureTransfer,
		Total:        time.Since(start),
	}
	counters := common.Counters{
		FileSize: fileSize,
		Sent:     packetsSent,
		Lost:     uint64(result.Lost),
	}

	report := common.NewReport("udp", timings, counters)
	u.logger.Info("Transfer is completed", zap.String("report", report.String()))

	return report, nil
}

func (u *udp) awaitResult(channel protocol.Channel) (*udpResult, error) {
	retries := 0
	for {
		buffer, err := channel.Receive(udpResultTimeout)
		if err != nil {
			if !protocol.IsTimeout(err) {
				return nil, err
			}

			retries++
			if retries > u.config.RetryLimit {
				return nil, err
			}
			if err := channel.Send(udpEndMarker); err != nil {
				return nil, err
			}
			continue
		}

		var result udpResult
		if err := json.Unmarshal(buffer, &result); err != nil {
			continue
		}
		return &result, nil
	}
}

// Serve receives one transfer at a time the way the raw variant always did,
// there is no session identity on this wire beyond the announcement.
func (u *udp) Serve(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", u.config.BindAddress)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return err
	}

	u.mutex.Lock()
	u.conn = conn
	u.mutex.Unlock()

	u.logger.Sugar().Infof("UDP server is running on %s", conn.LocalAddr().String())

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buffer := make([]byte, 64*1024)
	for {
		size, remote, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}

		if !bytes.HasPrefix(buffer[:size], udpInfoMarker) {
			continue // stray datagram outside a transfer
		}

		var info udpInfo
		if err := json.Unmarshal(buffer[len(udpInfoMarker):size], &info); err != nil {
			u.logger.Warn("Broken announcement datagram", zap.Error(err))
			continue
		}

		u.collect(conn, remote, &info)
	}
}

func (u *udp) collect(conn *net.UDPConn, remote *net.UDPAddr, info *udpInfo) {
	logger := u.logger.With(zap.String("remote", remote.String()), zap.String("filename", info.Filename))
	logger.Info("Reception is started", zap.Uint32("expected", info.TotalChunks))

	idleTimeout := u.config.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = protocol.DefaultIdleTimeout
	}

	chunks := make(map[uint32][]byte)
	received := uint32(0)

	start := time.Now()
	buffer := make([]byte, 64*1024)

	for uint32(len(chunks)) < info.TotalChunks {
		if err := conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}

		size, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if protocol.IsTimeout(err) {
				logger.Warn("Reception went idle, closing with whatever arrived")
				break
			}
			return
		}

		if bytes.Equal(buffer[:size], udpEndMarker) {
			break
		}
		if size < udpHeaderSize {
			continue
		}

		sequence := binary.BigEndian.Uint32(buffer)
		length := binary.BigEndian.Uint32(buffer[8:])
		if int(length) != size-udpHeaderSize || sequence >= info.TotalChunks {
			continue
		}

		payload := make([]byte, length)
		copy(payload, buffer[udpHeaderSize:size])

		chunks[sequence] = payload
		received++
	}
	_ = conn.SetReadDeadline(time.Time{})
	pureTransfer := time.Since(start)

	unique := uint32(len(chunks))
	lost := info.TotalChunks - unique

	content := make([]byte, 0, info.FileSize)
	for sequence := uint32(0); sequence < info.TotalChunks; sequence++ {
		if chunk, has := chunks[sequence]; has {
			content = append(content, chunk...)
		}
		// a gap stays a gap, this variant does not recover anything
	}

	ioStart := time.Now()
	target, err := storeNamed(u.config.TargetPath, info.Filename, content)
	if err != nil {
		logger.Error("Unable to store the transfer", zap.Error(err))
		return
	}
	ioElapsed := time.Since(ioStart)

	result, _ := json.Marshal(udpResult{
		Success:  true,
		Received: unique,
		Expected: info.TotalChunks,
		Lost:     lost,
	})
	_, _ = conn.WriteToUDP(result, remote)

	timings := common.Timings{
		PureTransfer: pureTransfer,
		Io:           ioElapsed,
		Total:        time.Since(start),
	}
	counters := common.Counters{
		FileSize:   uint64(len(content)),
		Sent:       uint64(received),
		Lost:       uint64(lost),
		Duplicated: uint64(received) - uint64(unique),
	}

	report := common.NewReport("udp", timings, counters)
	logger.Info("Reception is completed",
		zap.String("target", target),
		zap.String("report", report.String()))
}

func (u *udp) boundAddr() net.Addr {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

var _ Transport = &udp{}
