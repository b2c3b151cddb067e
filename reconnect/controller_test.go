package reconnect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type instantClock struct{ slept []time.Duration }

func (c *instantClock) Now() time.Time { return time.Unix(0, 0) }

func (c *instantClock) Sleep(ctx sleepContext, d time.Duration) error {
	c.slept = append(c.slept, d)
	return ctx.Err()
}

func TestControllerSucceedsOnSecondAttempt(t *testing.T) {
	clock := &instantClock{}
	ctrl := New(ConstantDelay{Delay: time.Millisecond}, Automatic, clock)

	attempts := 0
	err := ctrl.Run(context.Background(), func(ctx context.Context, a Attempt) error {
		attempts++
		if attempts < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Len(t, clock.slept, 2)
}

func TestControllerExhausted(t *testing.T) {
	clock := &instantClock{}
	ctrl := New(ConstantDelay{Delay: time.Millisecond, MaxAttempts: 2}, Automatic, clock)

	attempts := 0
	err := ctrl.Run(context.Background(), func(ctx context.Context, a Attempt) error {
		attempts++
		return errors.New("never works")
	})
	require.Error(t, err)
	var exhausted *Exhausted
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, attempts)
}

func TestControllerManualModeIsNoOp(t *testing.T) {
	ctrl := New(ConstantDelay{Delay: time.Second}, Manual, nil)
	err := ctrl.Run(context.Background(), func(ctx context.Context, a Attempt) error { return nil })
	require.Error(t, err)
	d, ok := ctrl.NextDelay(0, 0)
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)
}

func TestControllerExponentialSucceeds(t *testing.T) {
	clock := &instantClock{}
	ctrl := New(ExponentialBackoff{InitialDelay: time.Millisecond, Factor: 2}, Automatic, clock)

	attempts := 0
	err := ctrl.Run(context.Background(), func(ctx context.Context, a Attempt) error {
		attempts++
		if attempts < 3 {
			return errors.New("retry")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}
