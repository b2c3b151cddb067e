package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusrpc/signalrclient/internal/protocol"
)

type fakeSender struct {
	pings       int
	completions []fakeCompletion
}

type fakeCompletion struct {
	id        string
	result    interface{}
	hasResult bool
	errMsg    string
}

func (f *fakeSender) SendPing() error {
	f.pings++
	return nil
}

func (f *fakeSender) SendCompletion(id string, result interface{}, hasResult bool, errMsg string) error {
	f.completions = append(f.completions, fakeCompletion{id, result, hasResult, errMsg})
	return nil
}

func TestRegistryInvocationLifecycle(t *testing.T) {
	sender := &fakeSender{}
	r := New(protocol.JSONCodec{}, sender)

	id := r.NextID("Foo")
	assert.Equal(t, "Foo_1", id)
	f := r.RegisterInvocation(id)
	assert.Equal(t, 1, r.PendingCount())

	result := protocol.RawArgument(`{"text":"test","number":1}`)
	err := r.Route(protocol.Completion{Type: protocol.TypeCompletion, InvocationID: id, Result: result, HasResult: true})
	require.NoError(t, err)

	v, ferr := f.Wait(nil, nil)
	require.NoError(t, ferr)
	assert.Equal(t, result, v)
	assert.Equal(t, 0, r.PendingCount())
}

func TestRegistryMonotonicIDs(t *testing.T) {
	r := New(protocol.JSONCodec{}, &fakeSender{})
	assert.Equal(t, "Foo_1", r.NextID("Foo"))
	assert.Equal(t, "Foo_2", r.NextID("Foo"))
	assert.Equal(t, "Bar_3", r.NextID("Bar"))
}

func TestRegistryEnumerationOrderThenTermination(t *testing.T) {
	sender := &fakeSender{}
	r := New(protocol.JSONCodec{}, sender)
	id := r.NextID("HundredEntities")
	s := r.RegisterEnumeration(id)

	for i := 0; i < 100; i++ {
		require.NoError(t, r.Route(protocol.StreamItem{Type: protocol.TypeStreamItem, InvocationID: id, Item: protocol.RawArgument("1")}))
	}
	require.NoError(t, r.Route(protocol.Completion{Type: protocol.TypeCompletion, InvocationID: id}))

	count := 0
	for {
		_, done, err := s.Recv(nil, nil)
		require.NoError(t, err)
		if done {
			break
		}
		count++
	}
	assert.Equal(t, 100, count)
	assert.Equal(t, 0, r.PendingCount())
}

func TestRegistryUnknownStreamItemIsDiscarded(t *testing.T) {
	r := New(protocol.JSONCodec{}, &fakeSender{})
	err := r.Route(protocol.StreamItem{Type: protocol.TypeStreamItem, InvocationID: "nope", Item: protocol.RawArgument("1")})
	require.Error(t, err)
	var discarded *DiscardedStreamItem
	require.ErrorAs(t, err, &discarded)
	assert.Equal(t, "nope", discarded.InvocationID)
}

func TestRegistryCallbackFireAndForget(t *testing.T) {
	sender := &fakeSender{}
	r := New(protocol.JSONCodec{}, sender)

	received := make(chan string, 1)
	r.RegisterCallback("TriggerEntityCallback", func(ctx *CallbackContext) {
		var s string
		_ = ctx.Argument(0, &s)
		received <- s
	})

	args, err := protocol.JSONCodec{}.EncodeArguments([]interface{}{"callback1"})
	require.NoError(t, err)
	require.NoError(t, r.Route(protocol.Invocation{Type: protocol.TypeInvocation, Target: "TriggerEntityCallback", Arguments: args}))

	select {
	case v := <-received:
		assert.Equal(t, "callback1", v)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
	assert.Empty(t, sender.completions)
}

func TestRegistryCallbackWithResponse(t *testing.T) {
	sender := &fakeSender{}
	r := New(protocol.JSONCodec{}, sender)

	r.RegisterCallback("TriggerEntityResponse", func(ctx *CallbackContext) {
		ctx.Complete(true)
	})

	require.NoError(t, r.Route(protocol.Invocation{Type: protocol.TypeInvocation, InvocationID: "TriggerEntityResponse_1", Target: "TriggerEntityResponse"}))

	require.Eventually(t, func() bool { return len(sender.completions) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, true, sender.completions[0].result)
}

func TestRegistryCallbackUnregister(t *testing.T) {
	r := New(protocol.JSONCodec{}, &fakeSender{})
	called := false
	handle := r.RegisterCallback("x", func(ctx *CallbackContext) { called = true })
	handle.Unregister()
	handle.Unregister() // idempotent

	require.NoError(t, r.Route(protocol.Invocation{Type: protocol.TypeInvocation, Target: "x"}))
	time.Sleep(10 * time.Millisecond)
	assert.False(t, called)
}

func TestRegistryFailAllPreservesCallbacks(t *testing.T) {
	r := New(protocol.JSONCodec{}, &fakeSender{})
	id := r.NextID("Foo")
	f := r.RegisterInvocation(id)
	r.RegisterCallback("cb", func(ctx *CallbackContext) {})

	r.FailAll()

	_, err := f.Wait(nil, nil)
	assert.IsType(t, ConnectionLostError{}, err)
	assert.Equal(t, 0, r.PendingCount())

	r.mx.Lock()
	_, hasCallback := r.callbacks["cb"]
	r.mx.Unlock()
	assert.True(t, hasCallback)
}
