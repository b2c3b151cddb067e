// Package conn drives one underlying transport: it performs the
// handshake, runs the single receive pump that feeds parsed protocol
// messages into the action registry, serializes writes, and enforces
// the keepalive/timeout watchdogs. It implements registry.Sender so the
// registry can reply to Ping and to callback Completions without
// knowing anything about the transport underneath.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nexusrpc/signalrclient/internal/logging"
	"github.com/nexusrpc/signalrclient/internal/protocol"
	"github.com/nexusrpc/signalrclient/internal/registry"
	"github.com/nexusrpc/signalrclient/transport"
)

// HandshakeFailed reports a malformed or server-rejected handshake
// response.
type HandshakeFailed struct{ Reason string }

func (e *HandshakeFailed) Error() string { return "signalr: handshake failed: " + e.Reason }

// Options configures a Conn. KeepAliveInterval <= 0 disables automatic
// pings; TimeoutInterval <= 0 disables the inbound watchdog.
type Options struct {
	KeepAliveInterval time.Duration
	TimeoutInterval   time.Duration
	Info              logging.StructuredLogger
	Debug             logging.StructuredLogger
}

// Conn owns one transport for the lifetime of one connection attempt.
// A fresh Conn is built for every (re)connect; the registry and its
// pending actions outlive it.
type Conn struct {
	t      transport.Transport
	codec  protocol.Codec
	reg    *registry.Registry
	opts   Options

	stateMx    sync.Mutex
	state      State
	stateSubs  []chan struct{}

	writeMx sync.Mutex

	textSplitter   protocol.TextFrameSplitter
	binarySplitter protocol.BinaryFrameSplitter

	readDog  watchDogQueue
	writeDog watchDogQueue

	keepAliveReset chan struct{}
}

// New builds a Conn bound to an already-constructed Transport, the
// active Codec, and the Registry it will route inbound messages into.
// New does not touch reg's Sender: Ping replies and callback Completions
// reach this Conn only if reg was built with a Sender that forwards to it.
func New(t transport.Transport, codec protocol.Codec, reg *registry.Registry, opts Options) *Conn {
	if opts.Info == nil {
		opts.Info = logging.NopLogger()
	}
	if opts.Debug == nil {
		opts.Debug = logging.NopLogger()
	}
	return &Conn{
		t:              t,
		codec:          codec,
		reg:            reg,
		opts:           opts,
		readDog:        newWatchDogQueue(),
		writeDog:       newWatchDogQueue(),
		keepAliveReset: make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.stateMx.Lock()
	defer c.stateMx.Unlock()
	return c.state
}

// PushStateChanged registers ch to receive a (non-blocking, best-effort)
// notification every time the state changes.
func (c *Conn) PushStateChanged(ch chan struct{}) {
	c.stateMx.Lock()
	c.stateSubs = append(c.stateSubs, ch)
	c.stateMx.Unlock()
}

func (c *Conn) setState(s State) {
	c.stateMx.Lock()
	c.state = s
	subs := c.stateSubs
	c.stateMx.Unlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Handshake performs the text-JSON handshake exchange regardless of the
// active hub protocol, per the SignalR handshake spec.
func (c *Conn) Handshake(ctx context.Context) error {
	c.setState(Handshaking)
	req := protocol.EncodeHandshakeRequest(c.codec.Name())
	if err := c.t.Send(ctx, transport.MessageText, req); err != nil {
		_ = c.opts.Info.Log("event", "handshake send failed", "error", err)
		return fmt.Errorf("signalr: send handshake: %w", err)
	}
	_ = c.opts.Debug.Log("event", "handshake sent", "msg", string(req))

	for {
		kind, data, err := c.t.Recv(ctx)
		if err != nil {
			return fmt.Errorf("signalr: recv handshake response: %w", err)
		}
		frames, err := c.splitInbound(kind, data)
		if err != nil {
			_ = c.opts.Info.Log("event", "handshake frame split error", "error", err)
			return err
		}
		if len(frames) == 0 {
			continue
		}
		resp, err := protocol.ParseHandshakeResponse(frames[0])
		if err != nil {
			_ = c.opts.Info.Log("event", "handshake malformed", "error", err)
			return &HandshakeFailed{Reason: err.Error()}
		}
		if resp.Error != "" {
			_ = c.opts.Info.Log("event", "handshake rejected", "error", resp.Error)
			return &HandshakeFailed{Reason: resp.Error}
		}
		_ = c.opts.Debug.Log("event", "handshake received")
		return nil
	}
}

func (c *Conn) splitInbound(kind transport.MessageType, data []byte) ([][]byte, error) {
	if kind == transport.MessageBinary {
		return c.binarySplitter.Feed(data)
	}
	return c.textSplitter.Feed(data), nil
}

// Run drives the receive pump until ctx is done, the transport errors,
// or a fatal protocol error occurs. It returns the error that ended the
// pump; when ctx is canceled that is whatever the transport's Recv
// returns for the canceled context.
func (c *Conn) Run(ctx context.Context) error {
	c.setState(Active)

	dogCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readCtx := c.readDog.rearm(dogCtx, c.opts.TimeoutInterval)
	if c.opts.KeepAliveInterval > 0 {
		go c.keepAliveLoop(dogCtx)
	}

	for {
		kind, data, err := c.t.Recv(readCtx)
		if err != nil {
			return err
		}
		readCtx = c.readDog.rearm(dogCtx, c.opts.TimeoutInterval)

		frames, err := c.splitInbound(kind, data)
		if err != nil {
			_ = c.opts.Info.Log("event", "frame split error", "error", err)
			return err
		}
		for _, frame := range frames {
			message, err := c.codec.ParseFrame(frame)
			if err != nil {
				var unknown *protocol.UnknownMessageType
				if errors.As(err, &unknown) {
					_ = c.opts.Info.Log("event", "unknown message type dropped", "type", unknown.Type)
					continue
				}
				_ = c.opts.Info.Log("event", "protocol error", "error", err)
				return err
			}
			if closeMsg, ok := message.(protocol.Close); ok {
				_ = c.opts.Info.Log("event", "close received", "error", closeMsg.Error, "allowReconnect", closeMsg.AllowReconnect)
				if err := c.reg.Route(message); err != nil {
					_ = c.opts.Info.Log("event", "route error", "error", err)
				}
				return &ServerClosed{allowReconnect: closeMsg.AllowReconnect, reason: closeMsg.Error}
			}
			if err := c.reg.Route(message); err != nil {
				_ = c.opts.Info.Log("event", "route error", "error", err)
			}
		}
	}
}

// ServerClosed is returned from Run when the server sends a Close
// message; the reconnection controller inspects AllowReconnect to
// decide whether to retry.
type ServerClosed struct {
	allowReconnect bool
	reason         string
}

func (e *ServerClosed) Error() string {
	return fmt.Sprintf("signalr: server closed connection (reason=%q, allowReconnect=%v)", e.reason, e.allowReconnect)
}

func (e *ServerClosed) AllowReconnect() bool { return e.allowReconnect }

// keepAliveLoop emits a Ping only when nothing else has been written for
// KeepAliveInterval: every successful write rearms the timer via
// keepAliveReset instead of relying on a fixed-cadence ticker, so a
// connection with continuous Invoke/Send traffic never pings at all.
func (c *Conn) keepAliveLoop(ctx context.Context) {
	timer := time.NewTimer(c.opts.KeepAliveInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.keepAliveReset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.opts.KeepAliveInterval)
		case <-timer.C:
			if err := c.SendPing(); err != nil {
				return
			}
			timer.Reset(c.opts.KeepAliveInterval)
		}
	}
}

func (c *Conn) write(ctx context.Context, message interface{}) error {
	frame, err := c.codec.EncodeFrame(message)
	if err != nil {
		return err
	}
	kind := transport.MessageText
	if c.codec.TransferFormat() == protocol.TransferFormatBinary {
		kind = transport.MessageBinary
	}
	c.writeMx.Lock()
	defer c.writeMx.Unlock()
	writeCtx := c.writeDog.rearm(ctx, c.opts.TimeoutInterval)
	err = c.t.Send(writeCtx, kind, frame)
	c.writeDog.rearm(ctx, 0)
	if err == nil {
		select {
		case c.keepAliveReset <- struct{}{}:
		default:
		}
	}
	return err
}

// SendPing implements registry.Sender.
func (c *Conn) SendPing() error {
	return c.write(context.Background(), protocol.Ping{Type: protocol.TypePing})
}

// SendCompletion implements registry.Sender.
func (c *Conn) SendCompletion(id string, result interface{}, hasResult bool, errMsg string) error {
	m := protocol.Completion{Type: protocol.TypeCompletion, InvocationID: id, Error: errMsg}
	if hasResult {
		raw, err := c.codec.EncodeArguments([]interface{}{result})
		if err != nil {
			return err
		}
		m.Result = raw[0]
		m.HasResult = true
	}
	return c.write(context.Background(), m)
}

// SendInvocation writes an Invocation message with already-encoded
// arguments.
func (c *Conn) SendInvocation(ctx context.Context, id, target string, args []protocol.RawArgument, streamIDs []string) error {
	return c.write(ctx, protocol.Invocation{Type: protocol.TypeInvocation, InvocationID: id, Target: target, Arguments: args, StreamIDs: streamIDs})
}

// SendStreamInvocation writes a StreamInvocation message.
func (c *Conn) SendStreamInvocation(ctx context.Context, id, target string, args []protocol.RawArgument) error {
	return c.write(ctx, protocol.StreamInvocation{Type: protocol.TypeStreamInvocation, InvocationID: id, Target: target, Arguments: args})
}

// SendCancelInvocation writes a CancelInvocation message, e.g. when a
// streaming consumer stops reading before the server finishes.
func (c *Conn) SendCancelInvocation(ctx context.Context, id string) error {
	return c.write(ctx, protocol.CancelInvocation{Type: protocol.TypeCancelInvocation, InvocationID: id})
}

// Close sends a Close message (best-effort) and tears down the
// transport. Idempotent in the sense that a transport error from an
// already-dead connection is swallowed.
func (c *Conn) Close(reason string, allowReconnect bool) error {
	c.setState(Closing)
	_ = c.write(context.Background(), protocol.Close{Type: protocol.TypeClose, Error: reason, AllowReconnect: allowReconnect})
	err := c.t.Close()
	c.setState(Closed)
	return err
}
