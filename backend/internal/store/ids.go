package store

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ULID 前 48 位是毫秒时间戳，同一毫秒内单调递增，所以字典序 == 创建顺序
type idSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	last    ulid.ULID
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// next 返回 id 和它对应的创建时间；时钟回拨时两者都沿用上一次的时间戳
func (s *idSource) next(t time.Time) (string, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := ulid.Timestamp(t)
	if s.last.Time() > ms {
		ms = s.last.Time()
		t = ulid.Time(ms)
	}
	id, err := ulid.New(ms, s.entropy)
	if err != nil {
		return "", time.Time{}, err
	}
	s.last = id
	return id.String(), t, nil
}
