package protocol

import (
	"errors"
	"net"
	"os"
	"time"
)

const receiveBufferSize = 64 * 1024

// Channel is the unreliable datagram path between the two engines. The
// engines never assume delivery, ordering or non-duplication; every receive
// is bounded by the caller supplied timeout.
type Channel interface {
	Send(buffer []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	Close() error
}

// IsTimeout separates a bounded wait running out from a broken channel.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type udpChannel struct {
	conn *net.UDPConn
}

// DialChannel opens a connected UDP socket towards the remote endpoint.
func DialChannel(address string) (Channel, error) {
	addr, err := net.ResolveUDPAddr("udp4", address)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}

	return &udpChannel{conn: conn}, nil
}

func (u *udpChannel) Send(buffer []byte) error {
	_, err := u.conn.Write(buffer)
	return err
}

func (u *udpChannel) Receive(timeout time.Duration) ([]byte, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	buffer := make([]byte, receiveBufferSize)
	size, err := u.conn.Read(buffer)
	if err != nil {
		return nil, err
	}

	return buffer[:size], nil
}

func (u *udpChannel) Close() error {
	return u.conn.Close()
}

var _ Channel = &udpChannel{}
