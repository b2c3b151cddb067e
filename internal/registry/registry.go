// Package registry implements the action registry: the single point of
// shared mutable state between the receive pump and the client facade. It
// maps invocation ids to pending invocations/enumerations, and hub target
// names to registered callbacks, and routes parsed protocol messages to the
// matching pending action.
package registry

import (
	"fmt"
	"sync"

	"github.com/nexusrpc/signalrclient/internal/completion"
	"github.com/nexusrpc/signalrclient/internal/protocol"
)

// ConnectionLostError is given to every id-keyed pending action still open
// when the connection drops.
type ConnectionLostError struct{}

func (ConnectionLostError) Error() string { return "signalr: connection lost" }

// HubError wraps a Completion{error} from the server; it is per-operation
// and not fatal to the connection.
type HubError struct{ Message string }

func (e *HubError) Error() string { return e.Message }

// DecodeError wraps a failure to decode a Completion/StreamItem payload
// into the type the caller expected.
type DecodeError struct {
	TypeName string
	Cause    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("signalr: could not decode %s: %v", e.TypeName, e.Cause)
}
func (e *DecodeError) Unwrap() error { return e.Cause }

// DiscardedStreamItem reports a StreamItem that named an invocation id
// with no matching enumeration entry (already completed, canceled, or
// never registered). Non-fatal: Route returns it so the caller logs the
// discard, per spec, without aborting the receive pump.
type DiscardedStreamItem struct{ InvocationID string }

func (e *DiscardedStreamItem) Error() string {
	return fmt.Sprintf("signalr: discarded stream item for unknown invocation %q", e.InvocationID)
}

type pendingKind int

const (
	kindInvocation pendingKind = iota
	kindEnumeration
)

type pendingAction struct {
	kind      pendingKind
	future    *completion.OneShot // kindInvocation
	stream    *completion.Stream  // kindEnumeration
}

// CallbackFunc handles a server-initiated Invocation for one target. ctx is
// nil-safe: respond() is nil for fire-and-forget calls.
type CallbackFunc func(ctx *CallbackContext)

// CallbackContext is handed to a registered callback handler.
type CallbackContext struct {
	Target    string
	Arguments []protocol.RawArgument
	Codec     protocol.Codec

	respond func(result interface{}, err error)
}

// Argument decodes the positional argument at index into out.
func (c *CallbackContext) Argument(index int, out interface{}) error {
	if index < 0 || index >= len(c.Arguments) {
		return fmt.Errorf("signalr: argument index %d out of range (%d arguments)", index, len(c.Arguments))
	}
	if err := c.Codec.DecodeArgument(c.Arguments[index], out); err != nil {
		return &DecodeError{TypeName: fmt.Sprintf("%T", out), Cause: err}
	}
	return nil
}

// Complete sends a Completion{result} back to the server. Only valid when
// the invocation carried an id; a no-op otherwise.
func (c *CallbackContext) Complete(result interface{}) {
	if c.respond != nil {
		c.respond(result, nil)
	}
}

// Fail sends a Completion{error} back to the server.
func (c *CallbackContext) Fail(err error) {
	if c.respond != nil {
		c.respond(nil, err)
	}
}

type callbackEntry struct {
	target  string
	handler CallbackFunc
}

// Sender is the minimal write-side capability the registry needs to reply
// to Ping and to send Completions for callback invocations that expect a
// response. It is implemented by the connection's wire layer.
type Sender interface {
	SendPing() error
	SendCompletion(id string, result interface{}, hasResult bool, errMsg string) error
}

// Registry is the action registry: an id-keyed map of pending
// invocations/enumerations plus a target-keyed map of callbacks, guarded
// by a single mutex. All critical sections are O(1).
type Registry struct {
	mx        sync.Mutex
	byID      map[string]*pendingAction
	callbacks map[string]*callbackEntry
	counter   int64
	codec     protocol.Codec
	sender    Sender
}

// New creates an empty Registry bound to codec (for argument decoding) and
// sender (for Ping replies and callback Completions).
func New(codec protocol.Codec, sender Sender) *Registry {
	return &Registry{
		byID:      make(map[string]*pendingAction),
		callbacks: make(map[string]*callbackEntry),
		codec:     codec,
		sender:    sender,
	}
}

// NextID returns the next invocation id for target, formatted
// "{target}_{n}" with n a per-connection monotonically increasing counter
// starting at 1.
func (r *Registry) NextID(target string) string {
	r.mx.Lock()
	r.counter++
	n := r.counter
	r.mx.Unlock()
	return fmt.Sprintf("%s_%d", target, n)
}

// RegisterInvocation inserts a pending Invocation entry for id and returns
// its future. Must be called before the Invocation is sent.
func (r *Registry) RegisterInvocation(id string) *completion.OneShot {
	f := completion.NewOneShot()
	r.mx.Lock()
	r.byID[id] = &pendingAction{kind: kindInvocation, future: f}
	r.mx.Unlock()
	return f
}

// RegisterEnumeration inserts a pending StreamInvocation entry for id and
// returns its consumer stream.
func (r *Registry) RegisterEnumeration(id string) *completion.Stream {
	s := completion.NewStream()
	r.mx.Lock()
	r.byID[id] = &pendingAction{kind: kindEnumeration, stream: s}
	r.mx.Unlock()
	return s
}

// CancelInvocation removes a pending entry without waiting for its
// Completion, e.g. when sending the Invocation itself failed.
func (r *Registry) CancelInvocation(id string) {
	r.mx.Lock()
	delete(r.byID, id)
	r.mx.Unlock()
}

// UnregisterHandle lets a caller remove a previously registered callback.
type UnregisterHandle struct {
	r      *Registry
	target string
	once   sync.Once
}

// Unregister removes the callback. Idempotent.
func (h *UnregisterHandle) Unregister() {
	h.once.Do(func() {
		h.r.mx.Lock()
		delete(h.r.callbacks, h.target)
		h.r.mx.Unlock()
	})
}

// RegisterCallback inserts a target-keyed callback entry. Unlike id-keyed
// entries, callbacks are never auto-removed and survive reconnection.
func (r *Registry) RegisterCallback(target string, handler CallbackFunc) *UnregisterHandle {
	r.mx.Lock()
	r.callbacks[target] = &callbackEntry{target: target, handler: handler}
	r.mx.Unlock()
	return &UnregisterHandle{r: r, target: target}
}

// Route dispatches one parsed protocol message to its pending
// invocation, enumeration, or callback. It is called from the single
// receive pump goroutine, so it never itself blocks on user code:
// callback handlers are spawned onto their own goroutine.
func (r *Registry) Route(message interface{}) error {
	switch m := message.(type) {
	case protocol.Completion:
		return r.routeCompletion(m)
	case protocol.StreamItem:
		return r.routeStreamItem(m)
	case protocol.Invocation:
		r.routeInvocation(m)
		return nil
	case protocol.Ping:
		return r.sender.SendPing()
	case protocol.Close:
		// Connection-level shutdown is handled by the caller: Conn.Run
		// returns ServerClosed and the HubConnection's run loop calls
		// FailAll; Route itself has nothing further to do with a Close
		// message.
		return nil
	default:
		// StreamInvocation, CancelInvocation: this is a client-only
		// core, the client never receives these from the server.
		return nil
	}
}

func (r *Registry) routeCompletion(m protocol.Completion) error {
	r.mx.Lock()
	action, ok := r.byID[m.InvocationID]
	if ok {
		delete(r.byID, m.InvocationID)
	}
	r.mx.Unlock()
	if !ok {
		return nil
	}
	switch action.kind {
	case kindInvocation:
		if m.Error != "" {
			action.future.Fail(&HubError{Message: m.Error})
			return nil
		}
		action.future.Complete(m.Result)
		return nil
	case kindEnumeration:
		if m.Error != "" {
			action.stream.Close(&HubError{Message: m.Error})
			return nil
		}
		action.stream.Close(nil)
		return nil
	}
	return nil
}

func (r *Registry) routeStreamItem(m protocol.StreamItem) error {
	r.mx.Lock()
	action, ok := r.byID[m.InvocationID]
	r.mx.Unlock()
	if !ok || action.kind != kindEnumeration {
		return &DiscardedStreamItem{InvocationID: m.InvocationID}
	}
	action.stream.Push(m.Item)
	return nil
}

func (r *Registry) routeInvocation(m protocol.Invocation) {
	r.mx.Lock()
	entry, ok := r.callbacks[m.Target]
	r.mx.Unlock()
	if !ok {
		if m.InvocationID != "" {
			_ = r.sender.SendCompletion(m.InvocationID, nil, false, fmt.Sprintf("unknown target %q", m.Target))
		}
		return
	}

	ctx := &CallbackContext{Target: m.Target, Arguments: m.Arguments, Codec: r.codec}
	if m.InvocationID != "" {
		id := m.InvocationID
		sender := r.sender
		ctx.respond = func(result interface{}, err error) {
			if err != nil {
				_ = sender.SendCompletion(id, nil, false, err.Error())
				return
			}
			_ = sender.SendCompletion(id, result, true, "")
		}
	}
	// Spawned so the receive pump never blocks on user code.
	go entry.handler(ctx)
}

// FailAll completes every id-keyed pending action with ConnectionLostError
// and clears the id-keyed map. Callback entries are left untouched so they
// survive reconnection.
func (r *Registry) FailAll() {
	r.mx.Lock()
	actions := r.byID
	r.byID = make(map[string]*pendingAction)
	r.mx.Unlock()

	for _, a := range actions {
		switch a.kind {
		case kindInvocation:
			a.future.Fail(ConnectionLostError{})
		case kindEnumeration:
			a.stream.Close(ConnectionLostError{})
		}
	}
}

// PendingCount reports the number of open id-keyed entries, for tests.
func (r *Registry) PendingCount() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.byID)
}
