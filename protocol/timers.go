package protocol

import (
	"sort"
	"sync"
	"time"
)

// TimerSet tracks the retransmission deadline of every unacknowledged
// packet. It is pull based: the sender polls once per loop iteration and
// re-arms whatever it decides to retransmit. The duration is fixed per arm
// call, there is no adaptive round-trip estimation on purpose; the endpoints
// are meant to behave identically across benchmark runs.
type TimerSet interface {
	Arm(sequence uint32, duration time.Duration)
	Cancel(sequence uint32)
	Poll() []uint32
	Clear()
}

type timerSet struct {
	mutex     *sync.Mutex
	deadlines map[uint32]time.Time
}

func NewTimerSet() TimerSet {
	return &timerSet{
		mutex:     &sync.Mutex{},
		deadlines: make(map[uint32]time.Time),
	}
}

func (t *timerSet) Arm(sequence uint32, duration time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.deadlines[sequence] = time.Now().Add(duration)
}

func (t *timerSet) Cancel(sequence uint32) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	delete(t.deadlines, sequence)
}

// Poll removes and returns the sequence numbers whose deadline has passed,
// in ascending order so retransmission follows the original send order.
func (t *timerSet) Poll() []uint32 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := time.Now()

	expired := make([]uint32, 0)
	for sequence, deadline := range t.deadlines {
		if deadline.After(now) {
			continue
		}
		expired = append(expired, sequence)
		delete(t.deadlines, sequence)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })

	return expired
}

func (t *timerSet) Clear() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.deadlines = make(map[uint32]time.Time)
}

var _ TimerSet = &timerSet{}
