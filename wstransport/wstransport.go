// Package wstransport implements transport.Transport over
// github.com/coder/websocket, a context-native WebSocket client. It is
// the default transport this module wires up for production use.
package wstransport

import (
	"context"
	"fmt"

	"github.com/coder/websocket"

	"github.com/nexusrpc/signalrclient/transport"
)

type wsTransport struct {
	conn *websocket.Conn
}

// New returns a transport.Factory producing coder/websocket-backed
// transports.
func New() transport.Factory {
	return func() transport.Transport { return &wsTransport{} }
}

func (t *wsTransport) Connect(ctx context.Context, url string, header map[string][]string) error {
	opts := &websocket.DialOptions{HTTPHeader: toHTTPHeader(header)}
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return fmt.Errorf("wstransport: dial: %w", err)
	}
	conn.SetReadLimit(-1)
	t.conn = conn
	return nil
}

func (t *wsTransport) Send(ctx context.Context, kind transport.MessageType, data []byte) error {
	if err := t.conn.Write(ctx, toWireType(kind), data); err != nil {
		return fmt.Errorf("wstransport: write: %w", err)
	}
	return nil
}

func (t *wsTransport) Recv(ctx context.Context) (transport.MessageType, []byte, error) {
	wireType, data, err := t.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) != -1 {
			return 0, nil, transport.ErrClosed
		}
		return 0, nil, fmt.Errorf("wstransport: read: %w", err)
	}
	return fromWireType(wireType), data, nil
}

func (t *wsTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close(websocket.StatusNormalClosure, "")
}

func toWireType(kind transport.MessageType) websocket.MessageType {
	if kind == transport.MessageBinary {
		return websocket.MessageBinary
	}
	return websocket.MessageText
}

func fromWireType(kind websocket.MessageType) transport.MessageType {
	if kind == websocket.MessageBinary {
		return transport.MessageBinary
	}
	return transport.MessageText
}

func toHTTPHeader(header map[string][]string) map[string][]string {
	if header == nil {
		return nil
	}
	out := make(map[string][]string, len(header))
	for k, v := range header {
		out[k] = v
	}
	return out
}
