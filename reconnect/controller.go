package reconnect

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Mode selects whether the controller retries on its own (Automatic) or
// only exposes the next delay for a caller-driven retry loop (Manual),
// e.g. a caller that wants to refresh a bearer token before each
// attempt.
type Mode int

const (
	Automatic Mode = iota
	Manual
)

// Exhausted is returned once the active Policy gives up.
type Exhausted struct{ Attempts int }

func (e *Exhausted) Error() string {
	return "signalr: reconnection attempts exhausted"
}

// Attempt describes one reconnect attempt for an Automatic controller's
// Connector callback.
type Attempt struct {
	RetryCount int
	Delay      time.Duration
}

// Connector performs one (re)connect attempt. A nil error means the
// attempt succeeded and the controller should stop.
type Connector func(ctx context.Context, attempt Attempt) error

// Controller drives a Policy across a whole reconnection episode: each
// Run call, made once per dropped connection, consults the policy before
// every attempt until the policy gives up or an attempt succeeds.
type Controller struct {
	policy Policy
	mode   Mode
	clock  Clock
}

// New builds a Controller. A nil clock defaults to RealClock.
func New(policy Policy, mode Mode, clock Clock) *Controller {
	if clock == nil {
		clock = RealClock{}
	}
	return &Controller{policy: policy, mode: mode, clock: clock}
}

// Mode reports whether this controller retries automatically.
func (c *Controller) Mode() Mode { return c.mode }

// Run drives connect attempts automatically until one succeeds, ctx is
// done, or the policy is exhausted. It is a no-op that returns
// immediately with Exhausted if Mode is Manual; a Manual controller's
// caller is expected to use NextDelay itself between its own attempts.
func (c *Controller) Run(ctx context.Context, connect Connector) error {
	if c.mode == Manual {
		return &Exhausted{Attempts: 0}
	}

	start := c.clock.Now()
	// ExponentialBackoff delays are computed by cenkalti/backoff/v4's
	// ExponentialBackOff (with randomization disabled) and slept through
	// c.clock; every other policy is walked by hand since backoff/v4 only
	// models the exponential shape.
	if exp, ok := c.policy.(ExponentialBackoff); ok {
		return c.runExponential(ctx, exp, connect, start)
	}

	for retryCount := 0; ; retryCount++ {
		delay, ok := c.policy.NextDelay(retryCount, c.clock.Now().Sub(start))
		if !ok {
			return &Exhausted{Attempts: retryCount}
		}
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return err
		}
		if err := connect(ctx, Attempt{RetryCount: retryCount, Delay: delay}); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Controller) runExponential(ctx context.Context, exp ExponentialBackoff, connect Connector, start time.Time) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     exp.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          exp.Factor,
		MaxInterval:         exp.MaxDelay,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	if b.Multiplier <= 0 {
		b.Multiplier = 1
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(1<<63 - 1)
	}
	b.Reset()

	for retryCount := 0; ; retryCount++ {
		if exp.MaxAttempts > 0 && retryCount >= exp.MaxAttempts {
			return &Exhausted{Attempts: retryCount}
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return &Exhausted{Attempts: retryCount}
		}
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return err
		}
		if err := connect(ctx, Attempt{RetryCount: retryCount, Delay: delay}); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// NextDelay exposes one policy decision for Manual-mode callers that
// drive their own retry loop (e.g. to refresh credentials between
// attempts).
func (c *Controller) NextDelay(retryCount int, elapsed time.Duration) (time.Duration, bool) {
	return c.policy.NextDelay(retryCount, elapsed)
}
