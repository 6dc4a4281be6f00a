package data

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/netcompare/transfer/common"
)

// Summary keeps the latest report per transport in a redis hash so the
// reporting surface can answer "how did the last run go" without touching
// the archive.
type Summary interface {
	Mark(report *common.TransferReport) error
	Latest() (map[string]*common.TransferReport, error)
	Reset() error
}

type summary struct {
	mutex *sync.Mutex

	client    CacheClient
	keyPrefix string
}

func NewSummary(client CacheClient, keyPrefix string) Summary {
	return &summary{
		mutex:     &sync.Mutex{},
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *summary) key() string {
	return fmt.Sprintf("%s_summary", s.keyPrefix)
}

func (s *summary) Mark(report *common.TransferReport) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	value, err := json.Marshal(report)
	if err != nil {
		return err
	}

	return s.client.HSet(s.key(), report.Protocol, string(value))
}

func (s *summary) Latest() (map[string]*common.TransferReport, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries, err := s.client.HGetAll(s.key())
	if err != nil {
		return nil, err
	}

	latest := make(map[string]*common.TransferReport)
	for protocol, value := range entries {
		var report common.TransferReport
		if err := json.Unmarshal([]byte(value), &report); err != nil {
			continue
		}
		latest[protocol] = &report
	}

	return latest, nil
}

func (s *summary) Reset() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.client.Del(s.key())
}

var _ Summary = &summary{}
