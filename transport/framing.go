package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const defaultTransferSpeed = 625000 // bytes/s
const fileInfoLimit = 4096

// fileInfo travels ahead of the stream oriented variants as a length
// prefixed JSON header. The datagram variants carry no file name, the
// stream ones keep it the way the original benchmark did.
type fileInfo struct {
	Filename string `json:"filename"`
	FileSize uint64 `json:"filesize"`
}

type deadlineStream interface {
	io.ReadWriter
	SetDeadline(t time.Time) error
}

func setDeadline(stream deadlineStream, expectedTransferSize int) error {
	seconds := expectedTransferSize / defaultTransferSpeed
	if seconds < 0 {
		seconds = 0
	}
	seconds += 30

	return stream.SetDeadline(time.Now().Add(time.Second * time.Duration(seconds)))
}

func readWithTimeout(stream deadlineStream, buffer []byte) error {
	if err := setDeadline(stream, len(buffer)); err != nil {
		return err
	}
	_, err := io.ReadFull(stream, buffer)
	return err
}

func writeWithTimeout(stream deadlineStream, buffer []byte) error {
	if err := setDeadline(stream, len(buffer)); err != nil {
		return err
	}
	_, err := stream.Write(buffer)
	return err
}

func writeFileInfo(stream deadlineStream, info fileInfo) error {
	header, err := json.Marshal(info)
	if err != nil {
		return err
	}

	size := make([]byte, 4)
	binary.BigEndian.PutUint32(size, uint32(len(header)))

	if err := writeWithTimeout(stream, size); err != nil {
		return err
	}
	return writeWithTimeout(stream, header)
}

func readFileInfo(stream deadlineStream) (*fileInfo, error) {
	size := make([]byte, 4)
	if err := readWithTimeout(stream, size); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(size)
	if length == 0 || length > fileInfoLimit {
		return nil, fmt.Errorf("file info header is out of bounds: %d", length)
	}

	header := make([]byte, length)
	if err := readWithTimeout(stream, header); err != nil {
		return nil, err
	}

	var info fileInfo
	if err := json.Unmarshal(header, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
