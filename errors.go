package signalr

import (
	"github.com/nexusrpc/signalrclient/internal/conn"
	"github.com/nexusrpc/signalrclient/internal/negotiate"
	"github.com/nexusrpc/signalrclient/internal/protocol"
	"github.com/nexusrpc/signalrclient/internal/registry"
	"github.com/nexusrpc/signalrclient/reconnect"
)

// ConfigurationError reports an invalid combination of ConnectionBuilder
// options, caught before any network activity happens.
type ConfigurationError struct{ Reason string }

func (e *ConfigurationError) Error() string { return "signalr: " + e.Reason }

// The following are aliases over the error types the lower layers
// already define, re-exported here so callers never need to import
// this module's internal packages to use errors.As/errors.Is.
type (
	// NegotiationFailed reports a non-200 response from the negotiate
	// endpoint.
	NegotiationFailed = negotiate.Failed
	// UnsupportedTransport reports that the server did not advertise
	// WebSockets, or advertised it without the transfer format the
	// active hub protocol needs.
	UnsupportedTransport = negotiate.UnsupportedTransport
	// HandshakeFailed reports a malformed or rejected handshake
	// response.
	HandshakeFailed = conn.HandshakeFailed
	// ProtocolError reports a wire-format violation from either party.
	ProtocolError = protocol.ProtocolError
	// HubError wraps a Completion carrying a server-side error message.
	HubError = registry.HubError
	// DecodeError reports a failure decoding a server payload into the
	// type the caller requested.
	DecodeError = registry.DecodeError
	// ConnectionLost is delivered to every pending Invoke/Enumerate call
	// still open when the connection drops.
	ConnectionLost = registry.ConnectionLostError
	// ReconnectExhausted reports that the active reconnection policy
	// gave up.
	ReconnectExhausted = reconnect.Exhausted
)

// NotConnectedError is returned by Invoke/Send/Enumerate whenever the
// HubConnection has no active Conn: while a drop is being handled or a
// reconnection is in flight, after the run loop has permanently ended,
// and after Disconnect.
type NotConnectedError struct{}

func (NotConnectedError) Error() string { return "signalr: not connected" }
