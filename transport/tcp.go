package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sync"
	"time"

	"github.com/netcompare/transfer/common"
	"go.uber.org/zap"
)

type tcp struct {
	config Config
	logger *zap.Logger

	mutex    *sync.Mutex
	listener *net.TCPListener
}

// NewTcp creates the TCP variant: reliability belongs to the kernel, the
// benchmark only measures how the stream behaves under the same knobs.
func NewTcp(config Config, logger *zap.Logger) Transport {
	return &tcp{
		config: config,
		logger: logger,
		mutex:  &sync.Mutex{},
	}
}

func (t *tcp) Name() string {
	return "tcp"
}

func (t *tcp) Transfer(filePath string) (*common.TransferReport, error) {
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

	start := time.Now()

	addr, _ := net.ResolveTCPAddr("tcp4", t.config.TargetAddress)
	conn, err := net.DialTCP("tcp4", nil, addr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	if err := writeFileInfo(conn, fileInfo{Filename: path.Base(filePath), FileSize: fileSize}); err != nil {
		return nil, err
	}

	transferStart := time.Now()
	segmentsSent := uint64(0)

	chunk := make([]byte, t.config.chunkSize())
	for {
		read, err := file.Read(chunk)
		if read > 0 {
			if err := writeWithTimeout(conn, chunk[:read]); err != nil {
				return nil, err
			}
			segmentsSent++

			if t.config.PacingInterval > 0 {
				time.Sleep(t.config.PacingInterval)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	pureTransfer := time.Since(transferStart)

	response := make([]byte, 1)
	if err := readWithTimeout(conn, response); err != nil {
		return nil, err
	}
	if response[0] != '+' {
		return nil, fmt.Errorf("server did not confirm the transfer")
	}

	timings := common.Timings{
		PureTransfer: pureTransfer,
		Total:        time.Since(start),
	}
	counters := common.Counters{
		FileSize: fileSize,
		Sent:     segmentsSent,
	}

	report := common.NewReport("tcp", timings, counters)
	t.logger.Info("Transfer is completed", zap.String("report", report.String()))

	return report, nil
}

func (t *tcp) Serve(ctx context.Context) error {
	addr, err := net.ResolveTCPAddr("tcp4", t.config.BindAddress)
	if err != nil {
		return err
	}

	listener, err := net.ListenTCP("tcp4", addr)
	if err != nil {
		return err
	}

	t.mutex.Lock()
	t.listener = listener
	t.mutex.Unlock()

	t.logger.Sugar().Infof("TCP server is running on %s", listener.Addr().String())

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.logger.Warn("Unable to accept connection", zap.Error(err))
			continue
		}
		go t.handle(conn)
	}
}

func (t *tcp) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	logger := t.logger.With(zap.String("remote", conn.RemoteAddr().String()))

	info, err := readFileInfo(conn)
	if err != nil {
		logger.Warn("Connection with a broken header", zap.Error(err))
		return
	}

	start := time.Now()

	content := make([]byte, info.FileSize)
	if err := readWithTimeout(conn, content); err != nil {
		logger.Warn("Stream ended before the announced size", zap.Error(err))
		_, _ = conn.Write([]byte("-"))
		return
	}
	pureTransfer := time.Since(start)

	ioStart := time.Now()
	target, err := storeNamed(t.config.TargetPath, info.Filename, content)
	if err != nil {
		logger.Error("Unable to store the transfer", zap.Error(err))
		_, _ = conn.Write([]byte("-"))
		return
	}
	ioElapsed := time.Since(ioStart)

	_ = writeWithTimeout(conn, []byte("+"))

	timings := common.Timings{
		PureTransfer: pureTransfer,
		Io:           ioElapsed,
		Total:        time.Since(start),
	}
	counters := common.Counters{FileSize: info.FileSize}

	report := common.NewReport("tcp", timings, counters)
	logger.Info("Reception is completed",
		zap.String("target", target),
		zap.String("report", report.String()))
}

func (t *tcp) boundAddr() net.Addr {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

var _ Transport = &tcp{}
