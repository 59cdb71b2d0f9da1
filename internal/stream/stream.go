// Package stream provides an in-process multicast value stream used for the
// observable state exposed by the sync layer.
package stream

import "sync"

// Subject fans published values out to every subscriber. Each subscriber
// has a one-slot buffer that always holds the newest value, so a slow reader
// skips intermediate values but never blocks the publisher.
type Subject[T any] struct {
	mu      sync.Mutex
	subs    map[uint64]chan T
	nextID  uint64
	replay  bool
	last    T
	hasLast bool
}

// New returns a Subject that delivers only values published after Subscribe.
func New[T any]() *Subject[T] {
	return &Subject[T]{subs: make(map[uint64]chan T)}
}

// NewReplay returns a Subject that hands the most recent value to each new
// subscriber immediately.
func NewReplay[T any]() *Subject[T] {
	s := New[T]()
	s.replay = true
	return s
}

// Publish delivers v to all current subscribers.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = v
	s.hasLast = true
	for _, ch := range s.subs {
		offer(ch, v)
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel; it is safe to call more than once.
func (s *Subject[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	if s.replay && s.hasLast {
		ch <- s.last
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Last returns the most recently published value.
func (s *Subject[T]) Last() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

func (s *Subject[T]) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// offer replaces any unread value in ch with v. Callers hold s.mu, so no
// other sender can refill the slot between the drain and the send.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
