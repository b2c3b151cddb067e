package completion

import "sync"

// Stream is a FIFO queue of produced items with a terminal state (normal
// close or close-with-error), consumed one item at a time. Producers push
// from the receive pump; a single consumer goroutine drains via Next. Total
// push order is preserved.
type Stream struct {
	mx     sync.Mutex
	items  []interface{}
	closed bool
	err    error
	notify chan struct{}
}

// NewStream creates a new, open Stream.
func NewStream() *Stream {
	return &Stream{notify: make(chan struct{}, 1)}
}

// Push appends item to the queue and wakes a suspended consumer. Push after
// Close is a no-op; the producer side of the protocol never does this
// because Completion always arrives after the last StreamItem.
func (s *Stream) Push(item interface{}) {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return
	}
	s.items = append(s.items, item)
	s.mx.Unlock()
	s.wake()
}

// Close marks the stream as finished, optionally with a terminal error.
func (s *Stream) Close(err error) {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return
	}
	s.closed = true
	s.err = err
	s.mx.Unlock()
	s.wake()
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next returns the head item if present. If the queue is empty and the
// stream is still open, ok is false and the caller should wait on
// WaitChannel and retry. If the queue is drained and the stream is closed,
// it returns (nil, false, true, err) where err is the terminal error (nil
// for a normal close).
func (s *Stream) Next() (item interface{}, ok bool, done bool, err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if len(s.items) > 0 {
		item = s.items[0]
		s.items = s.items[1:]
		return item, true, false, nil
	}
	if s.closed {
		return nil, false, true, s.err
	}
	return nil, false, false, nil
}

// WaitChannel returns the channel the consumer should select on when Next
// reports nothing is ready yet.
func (s *Stream) WaitChannel() <-chan struct{} {
	return s.notify
}

// Recv blocks until an item, the terminal error, or cancel fires.
func (s *Stream) Recv(cancel <-chan struct{}, cancelErr error) (item interface{}, done bool, err error) {
	for {
		item, ok, done, err := s.Next()
		if ok {
			return item, false, nil
		}
		if done {
			return nil, true, err
		}
		select {
		case <-s.WaitChannel():
		case <-cancel:
			return nil, true, cancelErr
		}
	}
}
