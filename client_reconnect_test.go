package signalr

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nexusrpc/signalrclient/internal/protocol"
	"github.com/nexusrpc/signalrclient/reconnect"
	"github.com/nexusrpc/signalrclient/transport"
)

// frameMsg is one entry in a fakeDialTransport's inbox: either a frame
// to hand back from Recv, or an error simulating a dropped connection.
type frameMsg struct {
	kind transport.MessageType
	data []byte
	err  error
}

// fakeDialTransport is a transport.Transport double that never touches
// the network: Connect is a no-op, Send records frames, and Recv is
// driven entirely by a test-fed inbox channel.
type fakeDialTransport struct {
	mu     sync.Mutex
	inbox  chan frameMsg
	sent   [][]byte
	closed bool
}

func newFakeDialTransport() *fakeDialTransport {
	return &fakeDialTransport{inbox: make(chan frameMsg, 8)}
}

func (t *fakeDialTransport) Connect(ctx context.Context, url string, header map[string][]string) error {
	return nil
}

func (t *fakeDialTransport) Send(ctx context.Context, kind transport.MessageType, data []byte) error {
	t.mu.Lock()
	t.sent = append(t.sent, append([]byte{}, data...))
	t.mu.Unlock()
	return nil
}

func (t *fakeDialTransport) Recv(ctx context.Context) (transport.MessageType, []byte, error) {
	select {
	case m := <-t.inbox:
		return m.kind, m.data, m.err
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (t *fakeDialTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeDialTransport) pushFrame(data []byte) {
	t.inbox <- frameMsg{kind: transport.MessageText, data: data}
}

func (t *fakeDialTransport) pushErr(err error) {
	t.inbox <- frameMsg{err: err}
}

// fakeDialer hands out a fresh fakeDialTransport per Connect, pre-seeded
// with a successful handshake response so HubConnection.Build (and every
// later reconnect dial) completes without blocking. Every instance it
// produces is also pushed onto instances for the test to drive further.
type fakeDialer struct {
	instances chan *fakeDialTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{instances: make(chan *fakeDialTransport, 8)}
}

func (d *fakeDialer) factory() transport.Transport {
	ft := newFakeDialTransport()
	ft.pushFrame(protocol.EncodeTextFrame([]byte(`{}`)))
	d.instances <- ft
	return ft
}

func newFakeNegotiateServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"connectionId": "conn1",
			"negotiateVersion": 1,
			"availableTransports": [
				{"transport": "WebSockets", "transferFormats": ["Text", "Binary"]}
			]
		}`))
	}))
}

var _ = Describe("HubConnection automatic reconnection", func() {
	It("keeps a registered callback alive across a dropped and re-dialed connection", func() {
		server := newFakeNegotiateServer()
		defer server.Close()

		dialer := newFakeDialer()
		hc, err := NewConnectionBuilder(server.URL+"/chat").
			WithTransportFactory(dialer.factory).
			WithReconnectPolicy(reconnect.ConstantDelay{Delay: 5 * time.Millisecond}).
			Build(context.Background())
		Expect(err).NotTo(HaveOccurred())
		defer hc.Disconnect()

		var firstTransport *fakeDialTransport
		Eventually(dialer.instances).Should(Receive(&firstTransport))

		received := make(chan string, 2)
		hc.Register("Notify", func(ic *InvocationContext) {
			var msg string
			_ = ic.Argument(0, &msg)
			received <- msg
		})

		firstTransport.pushFrame(notifyFrame("before reconnect"))
		Eventually(received, time.Second).Should(Receive(Equal("before reconnect")))

		firstTransport.pushErr(errors.New("connection dropped"))

		var secondTransport *fakeDialTransport
		Eventually(dialer.instances, time.Second).Should(Receive(&secondTransport))
		Expect(secondTransport).NotTo(BeIdenticalTo(firstTransport))

		secondTransport.pushFrame(notifyFrame("after reconnect"))
		Eventually(received, time.Second).Should(Receive(Equal("after reconnect")))
	})

	It("fails Invoke with NotConnectedError instead of hanging once reconnection gives up", func() {
		server := newFakeNegotiateServer()
		defer server.Close()

		dialer := newFakeDialer()
		hc, err := NewConnectionBuilder(server.URL+"/chat").
			WithTransportFactory(dialer.factory).
			Build(context.Background())
		Expect(err).NotTo(HaveOccurred())
		defer hc.Disconnect()

		var firstTransport *fakeDialTransport
		Eventually(dialer.instances).Should(Receive(&firstTransport))
		firstTransport.pushErr(errors.New("connection dropped"))

		Eventually(hc.Done(), time.Second).Should(BeClosed())

		var out string
		invokeDone := make(chan error, 1)
		go func() { invokeDone <- hc.Invoke(context.Background(), "Echo", &out) }()
		Eventually(invokeDone, time.Second).Should(Receive(BeAssignableToTypeOf(&NotConnectedError{})))
	})
})

func notifyFrame(message string) []byte {
	codec := protocol.JSONCodec{}
	args, err := codec.EncodeArguments([]interface{}{message})
	Expect(err).NotTo(HaveOccurred())
	frame, err := codec.EncodeFrame(protocol.Invocation{
		Type:      protocol.TypeInvocation,
		Target:    "Notify",
		Arguments: args,
	})
	Expect(err).NotTo(HaveOccurred())
	return frame
}
