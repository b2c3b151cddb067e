// Package transport declares the abstract wire capability the connection
// layer drives: open a duplex byte-message channel to a negotiated
// endpoint, send whole text or binary frames, receive whole frames, and
// close. Concrete implementations live in sibling packages (wstransport,
// gwstransport); the connection layer and everything above it only ever
// depends on this interface.
package transport

import "context"

// MessageType distinguishes the two WebSocket-style frame kinds a
// Transport moves. The JSON hub protocol always sends/receives Text; the
// MessagePack hub protocol always sends/receives Binary.
type MessageType int

const (
	MessageText MessageType = iota
	MessageBinary
)

// Transport is the capability the connection layer needs from whatever
// moves bytes to the server. One complete call to Recv yields one
// complete message as the peer sent it; a Transport never hands back a
// partial message, and never coalesces two of the peer's messages into
// one Recv call.
type Transport interface {
	// Connect dials url and blocks until the underlying channel is ready
	// to Send/Recv, or ctx is done, or dialing fails.
	Connect(ctx context.Context, url string, header map[string][]string) error

	// Send writes one complete message of the given type. Concurrent
	// calls to Send are not required to be supported by callers; the
	// connection layer serializes writes itself.
	Send(ctx context.Context, kind MessageType, data []byte) error

	// Recv blocks until one complete message arrives, ctx is done, or
	// the transport is closed/errors. A nil error with a non-nil byte
	// slice indicates a message; io.EOF-equivalent closure is reported
	// through ErrClosed.
	Recv(ctx context.Context) (kind MessageType, data []byte, err error)

	// Close tears down the underlying channel. Idempotent.
	Close() error
}

// Factory builds a Transport on demand, so the connection layer can
// construct a fresh one for every (re)connect attempt rather than reuse
// a half-torn-down instance.
type Factory func() Transport

// ErrClosed is returned by Recv when the peer has closed the underlying
// channel with a close frame. Send reports a closed channel as an
// ordinary wrapped error, not as ErrClosed.
var ErrClosed = transportClosedError{}

type transportClosedError struct{}

func (transportClosedError) Error() string { return "signalr: transport closed" }
