// Package reconnect implements the pluggable reconnection policies a
// HubConnection consults after the underlying transport drops: how long
// to wait before the next attempt, and when to give up entirely.
package reconnect

import "time"

// Policy decides the delay before the next reconnect attempt. A false
// second return means give up: no further attempts should be made.
type Policy interface {
	NextDelay(retryCount int, elapsed time.Duration) (time.Duration, bool)
}

// None never retries: a Controller running it returns Exhausted without
// making an attempt, so a dropped connection is terminal.
type None struct{}

func (None) NextDelay(int, time.Duration) (time.Duration, bool) { return 0, false }

// ConstantDelay retries every Delay, up to MaxAttempts times (0 means
// unlimited).
type ConstantDelay struct {
	Delay       time.Duration
	MaxAttempts int
}

func (p ConstantDelay) NextDelay(retryCount int, _ time.Duration) (time.Duration, bool) {
	if p.MaxAttempts > 0 && retryCount >= p.MaxAttempts {
		return 0, false
	}
	return p.Delay, true
}

// LinearBackoff grows the delay by Increment every attempt, capped at
// MaxDelay (0 means uncapped), up to MaxAttempts times (0 means
// unlimited).
type LinearBackoff struct {
	InitialDelay time.Duration
	Increment    time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

func (p LinearBackoff) NextDelay(retryCount int, _ time.Duration) (time.Duration, bool) {
	if p.MaxAttempts > 0 && retryCount >= p.MaxAttempts {
		return 0, false
	}
	delay := p.InitialDelay + p.Increment*time.Duration(retryCount)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay, true
	}
	return delay, true
}

// ExponentialBackoff multiplies InitialDelay by Factor^retryCount,
// capped at MaxDelay (0 means uncapped), up to MaxAttempts times (0
// means unlimited). The actual per-attempt wait is executed through
// github.com/cenkalti/backoff/v4 (see Controller.Run), which this type only
// supplies the shape for.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

func (p ExponentialBackoff) NextDelay(retryCount int, _ time.Duration) (time.Duration, bool) {
	if p.MaxAttempts > 0 && retryCount >= p.MaxAttempts {
		return 0, false
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 1
	}
	delaySecs := p.InitialDelay.Seconds()
	for i := 0; i < retryCount; i++ {
		delaySecs *= factor
	}
	delay := time.Duration(delaySecs * float64(time.Second))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay, true
	}
	return delay, true
}
