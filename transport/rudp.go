package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/netcompare/transfer/common"
	"github.com/netcompare/transfer/protocol"
	"go.uber.org/zap"
)

const sessionQueueSize = 4096

type rudp struct {
	config Config
	logger *zap.Logger

	mutex *sync.Mutex
	conn  *net.UDPConn
}

// NewRudp creates the reliable UDP variant: the own ARQ loop of this
// project, guaranteed byte-exact delivery over a lossy datagram path.
func NewRudp(config Config, logger *zap.Logger) Transport {
	return &rudp{
		config: config,
		logger: logger,
		mutex:  &sync.Mutex{},
	}
}

func (r *rudp) Name() string {
	return "rudp"
}

func (r *rudp) Transfer(filePath string) (*common.TransferReport, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	channel, err := protocol.DialChannel(r.config.TargetAddress)
	if err != nil {
		return nil, err
	}
	defer func() { _ = channel.Close() }()

	sender := protocol.NewSender(channel, protocol.SenderConfig{
		ChunkMultiplier: r.config.ChunkMultiplier,
		WindowSize:      r.config.WindowSize,
		RetryLimit:      r.config.RetryLimit,
		AckTimeout:      r.config.AckTimeout,
		PacingInterval:  r.config.PacingInterval,
	}, r.logger)

	return sender.Send(file, uint64(info.Size()))
}

// Serve binds the shared datagram socket and demultiplexes incoming
// datagrams by source address into per-session goroutines. The session map
// is the only state shared between them.
func (r *rudp) Serve(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", r.config.BindAddress)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return err
	}

	r.mutex.Lock()
	r.conn = conn
	r.mutex.Unlock()

	r.logger.Sugar().Infof("RUDP server is running on %s", conn.LocalAddr().String())

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	demux := newSessionDemux(conn, r.config, r.logger)

	buffer := make([]byte, 64*1024)
	for {
		size, remote, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				demux.drop()
				return nil
			}
			r.logger.Warn("Unable to read from the socket", zap.Error(err))
			continue
		}

		datagram := make([]byte, size)
		copy(datagram, buffer[:size])

		demux.route(remote, datagram)
	}
}

func (r *rudp) boundAddr() net.Addr {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// sessionDemux routes datagrams to the reassembly session of their source
// address, creating sessions on first contact and reaping them as their
// goroutine finishes.
type sessionDemux struct {
	conn   *net.UDPConn
	config Config
	logger *zap.Logger

	mutex    *sync.Mutex
	sessions map[string]*sessionChannel
}

func newSessionDemux(conn *net.UDPConn, config Config, logger *zap.Logger) *sessionDemux {
	return &sessionDemux{
		conn:     conn,
		config:   config,
		logger:   logger,
		mutex:    &sync.Mutex{},
		sessions: make(map[string]*sessionChannel),
	}
}

func (d *sessionDemux) route(remote *net.UDPAddr, datagram []byte) {
	key := remote.String()

	d.mutex.Lock()
	session, has := d.sessions[key]
	if !has {
		session = newSessionChannel(d.conn, remote)
		d.sessions[key] = session

		go d.run(key, session)
	}
	d.mutex.Unlock()

	session.push(datagram)
}

func (d *sessionDemux) run(key string, session *sessionChannel) {
	sessionId := uuid.New().String()
	logger := d.logger.With(zap.String("sessionId", sessionId), zap.String("remote", key))

	logger.Info("Session is started")

	sink := newDirectorySink(d.config.TargetPath, sessionId, logger)
	receiver := protocol.NewReceiver(session, sink, protocol.ReceiverConfig{
		IdleTimeout: d.config.IdleTimeout,
	}, logger)

	if _, err := receiver.Receive(); err != nil {
		logger.Warn("Session is failed", zap.Error(err))
	}

	d.mutex.Lock()
	delete(d.sessions, key)
	d.mutex.Unlock()
}

func (d *sessionDemux) drop() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for key, session := range d.sessions {
		session.close()
		delete(d.sessions, key)
	}
}

// sessionChannel adapts one remote endpoint on the shared socket to the
// protocol Channel contract.
type sessionChannel struct {
	conn   *net.UDPConn
	remote *net.UDPAddr

	incoming chan []byte
	closed   chan struct{}
	once     *sync.Once
}

func newSessionChannel(conn *net.UDPConn, remote *net.UDPAddr) *sessionChannel {
	return &sessionChannel{
		conn:     conn,
		remote:   remote,
		incoming: make(chan []byte, sessionQueueSize),
		closed:   make(chan struct{}),
		once:     &sync.Once{},
	}
}

func (s *sessionChannel) push(datagram []byte) {
	select {
	case s.incoming <- datagram:
	default:
		// a full queue equals loss on the wire, the sender recovers it
	}
}

func (s *sessionChannel) Send(buffer []byte) error {
	_, err := s.conn.WriteToUDP(buffer, s.remote)
	return err
}

func (s *sessionChannel) Receive(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case datagram := <-s.incoming:
		return datagram, nil
	case <-s.closed:
		return nil, net.ErrClosed
	case <-timer.C:
		return nil, os.ErrDeadlineExceeded
	}
}

func (s *sessionChannel) Close() error {
	s.close()
	return nil
}

func (s *sessionChannel) close() {
	s.once.Do(func() { close(s.closed) })
}

var _ protocol.Channel = &sessionChannel{}

// directorySink stores the reassembled transfer under the target path with
// a unique name, the wire carries no file name on purpose.
type directorySink struct {
	targetPath string
	sessionId  string
	logger     *zap.Logger
}

func newDirectorySink(targetPath string, sessionId string, logger *zap.Logger) *directorySink {
	return &directorySink{
		targetPath: targetPath,
		sessionId:  sessionId,
		logger:     logger,
	}
}

func (d *directorySink) Store(content []byte) error {
	if err := os.MkdirAll(d.targetPath, 0777); err != nil {
		return err
	}

	target := path.Join(d.targetPath, fmt.Sprintf("transfer-%s.bin", d.sessionId))
	if err := os.WriteFile(target, content, 0666); err != nil {
		return err
	}

	d.logger.Info("Transfer is stored", zap.String("target", target), zap.Int("size", len(content)))
	return nil
}

var _ protocol.FileSink = &directorySink{}
var _ Transport = &rudp{}
