package conn

import (
	"context"
	"sync"
	"time"
)

// watchDogQueue guards a stream of reads or writes with a rolling
// deadline: every call to rearm pushes the deadline out by timeout,
// deriving a fresh context that is canceled if rearm is not called
// again before the previous one elapses. A monotonic generation counter
// lets a timer that already fired recognize it has been superseded,
// so a torn-down deadline can never cancel the context rearm just
// handed back.
type watchDogQueue struct {
	mx    sync.Mutex
	timer *time.Timer
	bark  context.CancelFunc
	gen   uint64
}

func newWatchDogQueue() watchDogQueue {
	return watchDogQueue{}
}

// rearm disarms whatever deadline is currently pending and, if
// timeout > 0, schedules a new one against the context it returns.
// timeout <= 0 disarms the watchdog entirely and returns ctx unchanged.
func (q *watchDogQueue) rearm(ctx context.Context, timeout time.Duration) context.Context {
	q.mx.Lock()
	defer q.mx.Unlock()

	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.bark = nil
	q.gen++

	if timeout <= 0 {
		return ctx
	}

	dogCtx, cancel := context.WithCancel(ctx)
	q.bark = cancel
	gen := q.gen
	q.timer = time.AfterFunc(timeout, func() { q.fire(gen) })
	return dogCtx
}

func (q *watchDogQueue) fire(gen uint64) {
	q.mx.Lock()
	defer q.mx.Unlock()
	if gen != q.gen {
		// A later rearm already tore this deadline down.
		return
	}
	if q.bark != nil {
		q.bark()
	}
}
