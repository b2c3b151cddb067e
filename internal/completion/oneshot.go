// Package completion provides the custom async completion primitives that
// bridge a single synchronous dispatcher onto many independent waiting
// goroutines: a single-producer/single-consumer OneShot future and a
// producer/consumer Stream queue.
package completion

import "sync"

// OneShot is a future that can be completed exactly once from any
// goroutine. It is safe to hold the Completer side inside a shared registry
// and to let the consumer side block on Wait from an unrelated goroutine.
type OneShot struct {
	mx       sync.Mutex
	done     chan struct{}
	value    interface{}
	err      error
	complete bool
}

// NewOneShot creates a new, incomplete OneShot future.
func NewOneShot() *OneShot {
	return &OneShot{done: make(chan struct{})}
}

// Complete resolves the future with value. Subsequent calls to Complete or
// Fail are no-ops, matching the "exactly once" semantics of the original
// ManualFutureCompleter.
func (o *OneShot) Complete(value interface{}) {
	o.finish(value, nil)
}

// Fail resolves the future with an error.
func (o *OneShot) Fail(err error) {
	o.finish(nil, err)
}

func (o *OneShot) finish(value interface{}, err error) {
	o.mx.Lock()
	if o.complete {
		o.mx.Unlock()
		return
	}
	o.complete = true
	o.value = value
	o.err = err
	close(o.done)
	o.mx.Unlock()
}

// Wait blocks until the future is completed, or until cancel fires, in
// which case Wait returns cancelErr.
func (o *OneShot) Wait(cancel <-chan struct{}, cancelErr error) (interface{}, error) {
	select {
	case <-o.done:
		o.mx.Lock()
		defer o.mx.Unlock()
		return o.value, o.err
	case <-cancel:
		return nil, cancelErr
	}
}

// Done exposes the completion channel for callers that want to select on it
// directly alongside other cases.
func (o *OneShot) Done() <-chan struct{} {
	return o.done
}

// IsComplete reports whether the future has already resolved.
func (o *OneShot) IsComplete() bool {
	o.mx.Lock()
	defer o.mx.Unlock()
	return o.complete
}

// Result returns the resolved value/error. It must only be called after
// Done() has fired.
func (o *OneShot) Result() (interface{}, error) {
	o.mx.Lock()
	defer o.mx.Unlock()
	return o.value, o.err
}
