package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"os"
	"path"
	"sync"
	"time"

	"github.com/netcompare/transfer/common"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
)

const quicProtocolName = "netcompare-transfer"

type quicTransport struct {
	config Config
	logger *zap.Logger

	mutex    *sync.Mutex
	listener *quic.Listener
}

// NewQuic creates the QUIC variant: reliability and encryption belong to
// the library, the transfer runs over a single bidirectional stream.
func NewQuic(config Config, logger *zap.Logger) Transport {
	return &quicTransport{
		config: config,
		logger: logger,
		mutex:  &sync.Mutex{},
	}
}

func (q *quicTransport) Name() string {
	return "quic"
}

func (q *quicTransport) Transfer(filePath string) (*common.TransferReport, error) {
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

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	start := time.Now()

	conn, err := quic.DialAddr(ctx, q.config.TargetAddress, &tls.Config{
		InsecureSkipVerify: true, // endpoints are lab peers, identity is not benchmarked
		NextProtos:         []string{quicProtocolName},
	}, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.CloseWithError(0, "") }()

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}

	if err := writeFileInfo(stream, fileInfo{Filename: path.Base(filePath), FileSize: fileSize}); err != nil {
		return nil, err
	}

	transferStart := time.Now()
	segmentsSent := uint64(0)

	chunk := make([]byte, q.config.chunkSize())
	for {
		read, err := file.Read(chunk)
		if read > 0 {
			if err := writeWithTimeout(stream, chunk[:read]); err != nil {
				return nil, err
			}
			segmentsSent++

			if q.config.PacingInterval > 0 {
				time.Sleep(q.config.PacingInterval)
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
	if err := readWithTimeout(stream, response); err != nil {
		return nil, err
	}
	if response[0] != '+' {
		return nil, fmt.Errorf("server did not confirm the transfer")
	}
	_ = stream.Close()

	timings := common.Timings{
		PureTransfer: pureTransfer,
		Total:        time.Since(start),
	}
	counters := common.Counters{
		FileSize: fileSize,
		Sent:     segmentsSent,
	}

	report := common.NewReport("quic", timings, counters)
	q.logger.Info("Transfer is completed", zap.String("report", report.String()))

	return report, nil
}

func (q *quicTransport) Serve(ctx context.Context) error {
	tlsConfig, err := selfSignedConfig()
	if err != nil {
		return err
	}

	listener, err := quic.ListenAddr(q.config.BindAddress, tlsConfig, nil)
	if err != nil {
		return err
	}

	q.mutex.Lock()
	q.listener = listener
	q.mutex.Unlock()

	q.logger.Sugar().Infof("QUIC server is running on %s", listener.Addr().String())

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Warn("Unable to accept connection", zap.Error(err))
			continue
		}
		go q.handle(ctx, conn)
	}
}

func (q *quicTransport) handle(ctx context.Context, conn quic.Connection) {
	defer func() { _ = conn.CloseWithError(0, "") }()

	logger := q.logger.With(zap.String("remote", conn.RemoteAddr().String()))

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return
	}

	info, err := readFileInfo(stream)
	if err != nil {
		logger.Warn("Stream with a broken header", zap.Error(err))
		return
	}

	start := time.Now()

	content := make([]byte, info.FileSize)
	if err := readWithTimeout(stream, content); err != nil {
		logger.Warn("Stream ended before the announced size", zap.Error(err))
		_, _ = stream.Write([]byte("-"))
		return
	}
	pureTransfer := time.Since(start)

	ioStart := time.Now()
	target, err := storeNamed(q.config.TargetPath, info.Filename, content)
	if err != nil {
		logger.Error("Unable to store the transfer", zap.Error(err))
		_, _ = stream.Write([]byte("-"))
		return
	}
	ioElapsed := time.Since(ioStart)

	_ = writeWithTimeout(stream, []byte("+"))

	timings := common.Timings{
		PureTransfer: pureTransfer,
		Io:           ioElapsed,
		Total:        time.Since(start),
	}
	counters := common.Counters{FileSize: info.FileSize}

	report := common.NewReport("quic", timings, counters)
	logger.Info("Reception is completed",
		zap.String("target", target),
		zap.String("report", report.String()))
}

func (q *quicTransport) boundAddr() net.Addr {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.listener == nil {
		return nil
	}
	return q.listener.Addr()
}

// selfSignedConfig builds an in-memory certificate; the benchmark peers do
// not verify each other, QUIC just refuses to run without TLS.
func selfSignedConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: quicProtocolName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour * 24 * 365),
	}
	certificate, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{certificate},
			PrivateKey:  key,
		}},
		NextProtos: []string{quicProtocolName},
	}, nil
}

var _ Transport = &quicTransport{}
