// Package gwstransport implements transport.Transport over
// github.com/gorilla/websocket, offered as an alternative to wstransport
// for callers already standardized on gorilla elsewhere in their stack.
// gorilla's Conn predates context.Context, so Send/Recv fall back to
// deadlines to make the blocking gorilla calls cancellable.
package gwstransport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexusrpc/signalrclient/transport"
)

type gwsTransport struct {
	conn *websocket.Conn
}

// New returns a transport.Factory producing gorilla/websocket-backed
// transports.
func New() transport.Factory {
	return func() transport.Transport { return &gwsTransport{} }
}

func (t *gwsTransport) Connect(ctx context.Context, url string, header map[string][]string) error {
	dialer := websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, http.Header(header))
	if err != nil {
		return fmt.Errorf("gwstransport: dial: %w", err)
	}
	t.conn = conn
	return nil
}

func (t *gwsTransport) Send(ctx context.Context, kind transport.MessageType, data []byte) error {
	_, err := readWriteWithContext(ctx,
		func() (int, error) { return 0, t.conn.WriteMessage(toWireType(kind), data) },
		func() { _ = t.conn.SetWriteDeadline(time.Now()) })
	if err != nil {
		return fmt.Errorf("gwstransport: write: %w", err)
	}
	return nil
}

func (t *gwsTransport) Recv(ctx context.Context) (transport.MessageType, []byte, error) {
	var wireType int
	var data []byte
	_, err := readWriteWithContext(ctx,
		func() (int, error) {
			var rerr error
			wireType, data, rerr = t.conn.ReadMessage()
			return len(data), rerr
		},
		func() { _ = t.conn.SetReadDeadline(time.Now()) })
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return 0, nil, transport.ErrClosed
		}
		return 0, nil, fmt.Errorf("gwstransport: read: %w", err)
	}
	return fromWireType(wireType), data, nil
}

func (t *gwsTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// readWriteWithContext runs a blocking gorilla I/O call and races it
// against ctx: if ctx is done first, cancel forces the blocking call to
// return by setting an immediate deadline, and the op's own error (a
// deadline-exceeded net.Error) is replaced with ctx.Err().
func readWriteWithContext(ctx context.Context, op func() (int, error), cancel func()) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := op()
		done <- result{n, err}
	}()

	select {
	case r := <-done:
		return r.n, r.err
	case <-ctx.Done():
		cancel()
		r := <-done
		if ctx.Err() != nil {
			return r.n, ctx.Err()
		}
		return r.n, r.err
	}
}

func toWireType(kind transport.MessageType) int {
	if kind == transport.MessageBinary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func fromWireType(kind int) transport.MessageType {
	if kind == websocket.BinaryMessage {
		return transport.MessageBinary
	}
	return transport.MessageText
}
