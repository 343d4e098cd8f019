package collab

import (
	"context"
	"errors"
)

var MaxSemaphore int = 100

var (
	ErrAcquireTimeout = errors.New("Acquire Reach time limit")
	ErrNotAcquired    = errors.New("Release Failed, semaphore is not acquired")
)

type SemaphoreControl struct {
	ch chan struct{}
}

// size <= 0 时使用 MaxSemaphore
func NewSemaphoreControl(size int) *SemaphoreControl {
	if size <= 0 {
		size = MaxSemaphore
	}
	return &SemaphoreControl{ch: make(chan struct{}, size)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrAcquireTimeout
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return ErrNotAcquired
	}
}
