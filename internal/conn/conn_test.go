package conn_test

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nexusrpc/signalrclient/internal/conn"
	"github.com/nexusrpc/signalrclient/internal/protocol"
	"github.com/nexusrpc/signalrclient/internal/registry"
	"github.com/nexusrpc/signalrclient/transport"
)

type wireFrame struct {
	kind transport.MessageType
	data []byte
}

// fakeTransport is a transport.Transport double driven entirely by
// channels: tests feed inbound frames through inbox and inspect outbound
// ones through sent.
type fakeTransport struct {
	mu     sync.Mutex
	inbox  chan wireFrame
	sent   []wireFrame
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbox: make(chan wireFrame, 16)}
}

func (t *fakeTransport) Connect(ctx context.Context, url string, header map[string][]string) error {
	return nil
}

func (t *fakeTransport) Send(ctx context.Context, kind transport.MessageType, data []byte) error {
	t.mu.Lock()
	t.sent = append(t.sent, wireFrame{kind: kind, data: append([]byte{}, data...)})
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Recv(ctx context.Context) (transport.MessageType, []byte, error) {
	select {
	case f := <-t.inbox:
		return f.kind, f.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) push(data []byte) {
	t.inbox <- wireFrame{kind: transport.MessageText, data: data}
}

func (t *fakeTransport) lastSent() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		return nil
	}
	return t.sent[len(t.sent)-1].data
}

func encodeFrame(codec protocol.Codec, message interface{}) []byte {
	frame, err := codec.EncodeFrame(message)
	Expect(err).NotTo(HaveOccurred())
	return frame
}

var _ = Describe("Conn handshake", func() {
	var (
		ft    *fakeTransport
		codec protocol.JSONCodec
		reg   *registry.Registry
		c     *conn.Conn
	)

	BeforeEach(func() {
		ft = newFakeTransport()
		codec = protocol.JSONCodec{}
		reg = registry.New(codec, nil)
		c = conn.New(ft, codec, reg, conn.Options{})
	})

	It("completes on a well-formed response", func() {
		ft.push(protocol.EncodeTextFrame([]byte(`{}`)))
		Expect(c.Handshake(context.Background())).To(Succeed())
		sent := ft.lastSent()
		Expect(sent[len(sent)-1]).To(Equal(byte(protocol.RecordSeparator)))
	})

	It("fails when the server rejects the protocol", func() {
		body, _ := json.Marshal(map[string]string{"error": "unsupported protocol"})
		ft.push(protocol.EncodeTextFrame(body))
		err := c.Handshake(context.Background())
		var failed *conn.HandshakeFailed
		Expect(err).To(BeAssignableToTypeOf(failed))
	})

	It("fails when the response is not valid JSON", func() {
		ft.push(protocol.EncodeTextFrame([]byte(`not json`)))
		err := c.Handshake(context.Background())
		var failed *conn.HandshakeFailed
		Expect(err).To(BeAssignableToTypeOf(failed))
	})
})

var _ = Describe("Conn receive pump", func() {
	var (
		ft    *fakeTransport
		codec protocol.JSONCodec
		reg   *registry.Registry
		c     *conn.Conn
	)

	BeforeEach(func() {
		ft = newFakeTransport()
		codec = protocol.JSONCodec{}
		reg = registry.New(codec, nil)
		c = conn.New(ft, codec, reg, conn.Options{})
	})

	It("routes a Completion to its pending invocation", func() {
		future := reg.RegisterInvocation("1_1")

		done := make(chan error, 1)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { done <- c.Run(ctx) }()

		ft.push(encodeFrame(codec, protocol.Completion{
			Type:         protocol.TypeCompletion,
			InvocationID: "1_1",
			Result:       protocol.RawArgument(`"ok"`),
			HasResult:    true,
		}))

		value, err := future.Wait(nil, nil)
		Expect(err).NotTo(HaveOccurred())
		var out string
		Expect(codec.DecodeArgument(value, &out)).To(Succeed())
		Expect(out).To(Equal("ok"))

		cancel()
		Eventually(done).Should(Receive())
	})

	It("returns ServerClosed when the server sends Close", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- c.Run(ctx) }()

		ft.push(encodeFrame(codec, protocol.Close{
			Type:           protocol.TypeClose,
			AllowReconnect: true,
		}))

		var result error
		Eventually(errCh).Should(Receive(&result))
		var closed *conn.ServerClosed
		Expect(result).To(BeAssignableToTypeOf(closed))
		Expect(result.(*conn.ServerClosed).AllowReconnect()).To(BeTrue())
	})

	It("ends the pump when the inbound watchdog times out", func() {
		c = conn.New(ft, codec, reg, conn.Options{TimeoutInterval: 10 * time.Millisecond})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- c.Run(ctx) }()

		var result error
		Eventually(errCh, time.Second).Should(Receive(&result))
		Expect(result).To(HaveOccurred())
	})

	It("pings on idle but not while outbound writes keep arriving", func() {
		c = conn.New(ft, codec, reg, conn.Options{KeepAliveInterval: 30 * time.Millisecond})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		go func() { _ = c.Run(ctx) }()

		deadline := time.Now().Add(80 * time.Millisecond)
		for time.Now().Before(deadline) {
			Expect(c.SendInvocation(ctx, "", "Keep", nil, nil)).To(Succeed())
			time.Sleep(5 * time.Millisecond)
		}
		Expect(countPings(ft)).To(Equal(0))

		Eventually(func() int { return countPings(ft) }, time.Second, 10*time.Millisecond).Should(BeNumerically(">=", 1))
	})
})

func countPings(ft *fakeTransport) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	count := 0
	for _, f := range ft.sent {
		if bytesContainPingType(f.data) {
			count++
		}
	}
	return count
}

func bytesContainPingType(data []byte) bool {
	want := append([]byte(`{"type":6}`), byte(protocol.RecordSeparator))
	return bytes.Equal(data, want)
}
