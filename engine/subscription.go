package engine

import (
	"context"
	"sync"
)

// Subscription is an unbounded, pull-based Feed implementation engines can
// push changes into. Pushes never block the writer.
type Subscription struct {
	mu      sync.Mutex
	queue   []Change
	err     error
	closed  bool
	signal  chan struct{}
	onClose func()
}

// NewSubscription creates a Subscription. onClose, if set, runs once when the
// subscription is closed.
func NewSubscription(onClose func()) *Subscription {
	return &Subscription{
		signal:  make(chan struct{}, 1),
		onClose: onClose,
	}
}

// Push enqueues a change. It reports false if the subscription is closed or
// failed.
func (s *Subscription) Push(c Change) bool {
	s.mu.Lock()
	if s.closed || s.err != nil {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, c)
	s.mu.Unlock()
	s.notify()
	return true
}

// Fail terminates the subscription with err. Changes already queued are
// still delivered before err.
func (s *Subscription) Fail(err error) {
	s.mu.Lock()
	if s.closed || s.err != nil {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.mu.Unlock()
	s.notify()
}

// Next implements Feed.
func (s *Subscription) Next(ctx context.Context) (Change, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Change{}, ErrFeedClosed
		}
		if len(s.queue) > 0 {
			c := s.queue[0]
			s.queue[0] = Change{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return c, nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return Change{}, err
		}
		s.mu.Unlock()

		select {
		case <-s.signal:
		case <-ctx.Done():
			return Change{}, ctx.Err()
		}
	}
}

// Close implements Feed.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	onClose := s.onClose
	s.mu.Unlock()

	s.notify()
	if onClose != nil {
		onClose()
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}
