package signalr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/teivah/onecontext"

	"github.com/nexusrpc/signalrclient/internal/completion"
	"github.com/nexusrpc/signalrclient/internal/conn"
	"github.com/nexusrpc/signalrclient/internal/logging"
	"github.com/nexusrpc/signalrclient/internal/negotiate"
	"github.com/nexusrpc/signalrclient/internal/protocol"
	"github.com/nexusrpc/signalrclient/internal/registry"
	"github.com/nexusrpc/signalrclient/reconnect"
)

// HubConnection is the client-facing handle to a SignalR hub: it owns
// the action registry (which outlives any single transport) and the
// currently active Conn (which does not). Build() starts it negotiating
// and handshaking immediately; Disconnect is the only user-visible
// teardown, independent of how many goroutines currently hold a
// reference to this HubConnection.
type HubConnection struct {
	cfg    connectionConfiguration
	reg    *registry.Registry
	sender *senderBox

	lifecycle context.Context
	cancel    context.CancelFunc

	mu        sync.RWMutex
	active    *conn.Conn
	state     conn.State
	stateSubs []chan struct{}

	runErr   error
	runOnce  sync.Once
	runEnded chan struct{}
}

// Build validates the accumulated options and starts the connection:
// negotiate, dial, handshake, and begin the receive pump in the
// background. It returns once the connection is Active or the first
// attempt has failed.
func (b *ConnectionBuilder) Build(ctx context.Context) (*HubConnection, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.cfg.endpoint == "" {
		return nil, &ConfigurationError{Reason: "endpoint is required"}
	}

	lifecycle, cancel := context.WithCancel(context.Background())
	hc := &HubConnection{
		cfg:       b.cfg,
		lifecycle: lifecycle,
		cancel:    cancel,
		runEnded:  make(chan struct{}),
	}
	hc.sender = &senderBox{}
	hc.reg = registry.New(b.cfg.codec, hc.sender)

	c, err := hc.dialOnce(ctx, hc.sender)
	if err != nil {
		cancel()
		return nil, err
	}
	hc.setActive(c)

	go hc.runLoop(c)

	return hc, nil
}

// senderBox lets HubConnection build the registry before the first Conn
// exists, then redirect the registry's Sender calls to whichever Conn
// is currently active, including across reconnects.
type senderBox struct {
	mx sync.RWMutex
	s  registry.Sender
}

func (b *senderBox) set(s registry.Sender) {
	b.mx.Lock()
	b.s = s
	b.mx.Unlock()
}

func (b *senderBox) SendPing() error {
	b.mx.RLock()
	s := b.s
	b.mx.RUnlock()
	if s == nil {
		return &NotConnectedError{}
	}
	return s.SendPing()
}

func (b *senderBox) SendCompletion(id string, result interface{}, hasResult bool, errMsg string) error {
	b.mx.RLock()
	s := b.s
	b.mx.RUnlock()
	if s == nil {
		return &NotConnectedError{}
	}
	return s.SendCompletion(id, result, hasResult, errMsg)
}

// dialOnce negotiates, dials, and handshakes a fresh Conn. ctx is merged
// with hc.lifecycle so the attempt aborts the moment either the caller's
// context or the HubConnection's own lifecycle ends, merging the
// connection's outer context with its caller's per-call context before
// blocking on anything.
func (hc *HubConnection) dialOnce(ctx context.Context, sender *senderBox) (*conn.Conn, error) {
	ctx, cancel := onecontext.Merge(ctx, hc.lifecycle)
	defer cancel()

	hc.setState(conn.Negotiating)
	result, err := negotiate.Negotiate(ctx, hc.cfg.httpClient, hc.cfg.endpoint, hc.cfg.credential, hc.cfg.extraHeaders, hc.cfg.codec.TransferFormat().String())
	if err != nil {
		return nil, err
	}

	t := hc.cfg.transportFactory()
	if err := t.Connect(ctx, result.WebSocketURL, result.Header); err != nil {
		return nil, fmt.Errorf("signalr: connect: %w", err)
	}

	info, dbg := logging.Split(hc.cfg.logger, hc.cfg.debug)
	c := conn.New(t, hc.cfg.codec, hc.reg, conn.Options{
		KeepAliveInterval: hc.cfg.keepAliveInterval,
		TimeoutInterval:   hc.cfg.timeoutInterval,
		Info:              logging.WithPrefix(info, "class", "HubConnection", "connection", result.ConnectionID),
		Debug:             logging.WithPrefix(dbg, "class", "HubConnection", "connection", result.ConnectionID),
	})
	sender.set(c)

	if err := c.Handshake(ctx); err != nil {
		_ = t.Close()
		return nil, err
	}
	return c, nil
}

func (hc *HubConnection) setActive(c *conn.Conn) {
	hc.mu.Lock()
	hc.active = c
	hc.mu.Unlock()
	if c != nil {
		hc.setState(conn.Active)
	}
}

func (hc *HubConnection) getActive() *conn.Conn {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.active
}

func (hc *HubConnection) setState(s conn.State) {
	hc.mu.Lock()
	hc.state = s
	subs := hc.stateSubs
	hc.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// State reports the current lifecycle state.
func (hc *HubConnection) State() conn.State {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.state
}

// PushStateChanged registers ch for a best-effort notification on every
// state transition.
func (hc *HubConnection) PushStateChanged(ch chan struct{}) {
	hc.mu.Lock()
	hc.stateSubs = append(hc.stateSubs, ch)
	hc.mu.Unlock()
}

func (hc *HubConnection) runLoop(c *conn.Conn) {
	for {
		err := c.Run(hc.lifecycle)
		hc.reg.FailAll()

		if hc.lifecycle.Err() != nil {
			hc.setActive(nil)
			hc.finish(nil)
			return
		}

		allow := true
		var sc *conn.ServerClosed
		if errors.As(err, &sc) {
			allow = sc.AllowReconnect()
		}
		if !allow {
			hc.setActive(nil)
			hc.setState(conn.Closed)
			hc.finish(err)
			return
		}

		if hc.cfg.mode == reconnect.Manual {
			hc.setActive(nil)
			hc.setState(conn.NotConnected)
			next, giveUpErr := hc.runDisconnectionHandler(err)
			if giveUpErr != nil {
				hc.setActive(nil)
				if hc.lifecycle.Err() != nil {
					hc.finish(nil)
				} else {
					hc.setState(conn.Closed)
					hc.finish(giveUpErr)
				}
				return
			}
			hc.setActive(next)
			c = next
			continue
		}

		if hc.cfg.policy == nil {
			hc.setActive(nil)
			hc.setState(conn.Closed)
			hc.finish(err)
			return
		}

		ctrl := reconnect.New(hc.cfg.policy, reconnect.Automatic, nil)
		hc.setActive(nil)
		hc.setState(conn.Reconnecting)
		var next *conn.Conn
		reconnectErr := ctrl.Run(hc.lifecycle, func(ctx context.Context, attempt reconnect.Attempt) error {
			candidate, dialErr := hc.dialOnce(ctx, hc.sender)
			if dialErr != nil {
				return dialErr
			}
			next = candidate
			return nil
		})
		if reconnectErr != nil {
			hc.setActive(nil)
			hc.setState(conn.Closed)
			hc.finish(reconnectErr)
			return
		}

		hc.setActive(next)
		c = next
	}
}

// runDisconnectionHandler delivers a ReconnectionHandler to the
// configured Manual-mode handler and blocks until it resolves with a
// fresh Conn (Reconnect succeeded) or gives up (Abandon, or no handler
// was configured at all). giveUpErr is non-nil in the latter case and
// is the original disconnect error the caller should see.
func (hc *HubConnection) runDisconnectionHandler(disconnectErr error) (next *conn.Conn, giveUpErr error) {
	if hc.cfg.disconnectionHandler == nil {
		return nil, disconnectErr
	}
	handler := newReconnectionHandler(hc)
	go hc.cfg.disconnectionHandler(handler)
	select {
	case o := <-handler.outcome:
		if o.conn == nil {
			return nil, disconnectErr
		}
		return o.conn, nil
	case <-hc.lifecycle.Done():
		return nil, hc.lifecycle.Err()
	}
}

// ReconnectionHandler is delivered to a Manual-mode disconnection
// handler (see WithDisconnectionHandler) every time the connection
// drops. The handler's code decides when and how to retry, e.g.
// refreshing a credential before calling Reconnect.
type ReconnectionHandler struct {
	hc      *HubConnection
	outcome chan reconnectOutcome
	once    sync.Once
}

type reconnectOutcome struct {
	conn *conn.Conn
}

func newReconnectionHandler(hc *HubConnection) *ReconnectionHandler {
	return &ReconnectionHandler{hc: hc, outcome: make(chan reconnectOutcome, 1)}
}

// Reconnect negotiates and dials a fresh connection now. On success the
// blocked runLoop resumes with it and any further call is a no-op; on
// failure it returns the dial error and the handler is still open, so
// the caller may retry, e.g. after a delay or a refreshed credential.
func (h *ReconnectionHandler) Reconnect(ctx context.Context) error {
	c, err := h.hc.dialOnce(ctx, h.hc.sender)
	if err != nil {
		return err
	}
	h.resolve(reconnectOutcome{conn: c})
	return nil
}

// Abandon gives up without attempting to reconnect; the connection
// finishes with the error that caused the original drop. A no-op if
// Reconnect already succeeded.
func (h *ReconnectionHandler) Abandon() {
	h.resolve(reconnectOutcome{})
}

func (h *ReconnectionHandler) resolve(o reconnectOutcome) {
	h.once.Do(func() { h.outcome <- o })
}

func (hc *HubConnection) finish(err error) {
	hc.runOnce.Do(func() {
		hc.runErr = err
		close(hc.runEnded)
		hc.cancel()
	})
}

// Context returns a context canceled when the connection's run loop has
// permanently ended (reconnection exhausted or Disconnect called).
// Err explains why.
func (hc *HubConnection) Context() context.Context {
	return hc.lifecycle
}

// Done is closed once the run loop has permanently ended.
func (hc *HubConnection) Done() <-chan struct{} { return hc.runEnded }

// Err reports why the run loop ended, available once Done is closed.
func (hc *HubConnection) Err() error { return hc.runErr }

// Disconnect closes the active transport and stops any further
// reconnection attempts. It is the only user-visible teardown: dropping
// every reference to a HubConnection without calling Disconnect leaves
// its background goroutines running.
func (hc *HubConnection) Disconnect() error {
	hc.cancel()
	c := hc.getActive()
	hc.setActive(nil)
	if c == nil {
		return nil
	}
	return c.Close("", false)
}

// Invoke calls target on the hub and blocks for its single result,
// decoded into out. Canceling ctx aborts the wait (not the call itself).
func (hc *HubConnection) Invoke(ctx context.Context, target string, out interface{}, args ...interface{}) error {
	c := hc.getActive()
	if c == nil {
		return &NotConnectedError{}
	}
	encoded, err := hc.cfg.codec.EncodeArguments(args)
	if err != nil {
		return err
	}
	id := hc.reg.NextID(target)
	future := hc.reg.RegisterInvocation(id)
	if err := c.SendInvocation(ctx, id, target, encoded, nil); err != nil {
		hc.reg.CancelInvocation(id)
		return err
	}
	value, err := future.Wait(ctx.Done(), ctx.Err())
	if err != nil {
		return err
	}
	if out == nil || value == nil {
		return nil
	}
	return hc.cfg.codec.DecodeArgument(value, out)
}

// Send calls target on the hub without waiting for a result
// (fire-and-forget from the caller's perspective, though the hub may
// still reply with a Completion the caller never observes).
func (hc *HubConnection) Send(ctx context.Context, target string, args ...interface{}) error {
	c := hc.getActive()
	if c == nil {
		return &NotConnectedError{}
	}
	encoded, err := hc.cfg.codec.EncodeArguments(args)
	if err != nil {
		return err
	}
	return c.SendInvocation(ctx, "", target, encoded, nil)
}

// EnumerationHandle is returned by Enumerate; Next decodes the next
// streamed item and Close cancels the server-side stream early.
type EnumerationHandle struct {
	id     string
	c      *conn.Conn
	stream *completion.Stream
	codec  protocol.Codec
}

// Next blocks for the next item, decoding it into out. The bool return
// is false once the stream has ended; the error is then nil for a
// normal completion and the terminal error otherwise.
func (h *EnumerationHandle) Next(ctx context.Context, out interface{}) (bool, error) {
	item, done, err := h.stream.Recv(ctx.Done(), ctx.Err())
	if err != nil || done {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	return true, h.codec.DecodeArgument(item, out)
}

// Close cancels the stream on the server if it hasn't already
// completed.
func (h *EnumerationHandle) Close() error {
	return h.c.SendCancelInvocation(context.Background(), h.id)
}

// Enumerate invokes a streaming method and returns a handle to pull
// items from it in order.
func (hc *HubConnection) Enumerate(ctx context.Context, target string, args ...interface{}) (*EnumerationHandle, error) {
	c := hc.getActive()
	if c == nil {
		return nil, &NotConnectedError{}
	}
	encoded, err := hc.cfg.codec.EncodeArguments(args)
	if err != nil {
		return nil, err
	}
	id := hc.reg.NextID(target)
	stream := hc.reg.RegisterEnumeration(id)
	if err := c.SendStreamInvocation(ctx, id, target, encoded); err != nil {
		hc.reg.CancelInvocation(id)
		return nil, err
	}
	return &EnumerationHandle{id: id, c: c, stream: stream, codec: hc.cfg.codec}, nil
}

// Register installs handler for every server-initiated Invocation
// naming target. It survives reconnection, and replaces any previously
// registered handler for the same target.
func (hc *HubConnection) Register(target string, handler func(ctx *InvocationContext)) *registry.UnregisterHandle {
	return hc.reg.RegisterCallback(target, func(c *registry.CallbackContext) {
		handler(&InvocationContext{c})
	})
}

// InvocationContext is handed to a Register handler for one
// server-initiated call.
type InvocationContext struct {
	inner *registry.CallbackContext
}

// Target is the hub method name the server invoked.
func (c *InvocationContext) Target() string { return c.inner.Target }

// Argument decodes the positional argument at index into out.
func (c *InvocationContext) Argument(index int, out interface{}) error {
	return c.inner.Argument(index, out)
}

// Complete sends a Completion{result} back to the server. A no-op if
// the invocation carried no id.
func (c *InvocationContext) Complete(result interface{}) { c.inner.Complete(result) }

// Fail sends a Completion{error} back to the server.
func (c *InvocationContext) Fail(err error) { c.inner.Fail(err) }
