package completion

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneShotCompleteThenWait(t *testing.T) {
	o := NewOneShot()
	o.Complete(42)
	v, err := o.Wait(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestOneShotWaitThenComplete(t *testing.T) {
	o := NewOneShot()
	go func() {
		time.Sleep(10 * time.Millisecond)
		o.Complete("done")
	}()
	v, err := o.Wait(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestOneShotExactlyOnce(t *testing.T) {
	o := NewOneShot()
	o.Complete(1)
	o.Complete(2)
	o.Fail(errors.New("ignored"))
	v, err := o.Wait(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestOneShotFail(t *testing.T) {
	o := NewOneShot()
	boom := errors.New("boom")
	o.Fail(boom)
	_, err := o.Wait(nil, nil)
	assert.Equal(t, boom, err)
}

func TestOneShotCancel(t *testing.T) {
	o := NewOneShot()
	cancel := make(chan struct{})
	close(cancel)
	cancelErr := errors.New("canceled")
	_, err := o.Wait(cancel, cancelErr)
	assert.Equal(t, cancelErr, err)
}
