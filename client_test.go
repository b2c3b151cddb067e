package signalr

import (
	"context"
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nexusrpc/signalrclient/internal/protocol"
	"github.com/nexusrpc/signalrclient/internal/registry"
	"github.com/nexusrpc/signalrclient/reconnect"
)

var _ = Describe("ConnectionBuilder", func() {
	It("applies documented defaults", func() {
		b := NewConnectionBuilder("https://example.com/chatHub")
		Expect(b.err).NotTo(HaveOccurred())
		Expect(b.cfg.codec).To(Equal(protocol.Codec(protocol.JSONCodec{})))
		Expect(b.cfg.keepAliveInterval).To(Equal(defaultKeepAliveInterval))
		Expect(b.cfg.timeoutInterval).To(Equal(defaultTimeoutInterval))
		Expect(b.cfg.policy).To(Equal(reconnect.Policy(reconnect.None{})))
		Expect(b.cfg.mode).To(Equal(reconnect.Automatic))
		Expect(b.cfg.httpClient).To(Equal(http.DefaultClient))
	})

	It("captures an unknown hub protocol as a deferred error", func() {
		b := NewConnectionBuilder("https://example.com/chatHub").WithHubProtocol("bson")
		Expect(b.err).To(HaveOccurred())
		var cfgErr *ConfigurationError
		Expect(errors.As(b.err, &cfgErr)).To(BeTrue())
	})

	It("switches codecs by name", func() {
		b := NewConnectionBuilder("x").WithHubProtocol("messagepack")
		Expect(b.cfg.codec).To(Equal(protocol.Codec(protocol.MessagePackCodec{})))
	})

	It("rejects Build with an empty endpoint", func() {
		b := &ConnectionBuilder{}
		_, err := b.Build(context.Background())
		var cfgErr *ConfigurationError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
	})

	It("surfaces a deferred builder error from Build without dialing", func() {
		b := NewConnectionBuilder("https://example.com/chatHub").WithHubProtocol("bson")
		_, err := b.Build(context.Background())
		Expect(err).To(Equal(b.err))
	})
})

var _ = Describe("senderBox", func() {
	It("reports NotConnectedError before a Conn is set", func() {
		box := &senderBox{}
		Expect(box.SendPing()).To(BeAssignableToTypeOf(&NotConnectedError{}))
		err := box.SendCompletion("1", nil, false, "")
		Expect(err).To(BeAssignableToTypeOf(&NotConnectedError{}))
	})

	It("forwards to whichever Sender was last set", func() {
		box := &senderBox{}
		first := &fakeSender{}
		second := &fakeSender{}
		box.set(first)
		Expect(box.SendPing()).To(Succeed())
		Expect(first.pings).To(Equal(1))

		box.set(second)
		Expect(box.SendPing()).To(Succeed())
		Expect(first.pings).To(Equal(1))
		Expect(second.pings).To(Equal(1))
	})
})

var _ = Describe("HubConnection without an active Conn", func() {
	It("rejects Invoke, Send, and Enumerate with NotConnectedError", func() {
		hc := &HubConnection{}
		var out string
		Expect(hc.Invoke(context.Background(), "Echo", &out)).To(BeAssignableToTypeOf(&NotConnectedError{}))
		Expect(hc.Send(context.Background(), "Echo")).To(BeAssignableToTypeOf(&NotConnectedError{}))
		_, err := hc.Enumerate(context.Background(), "Count")
		Expect(err).To(BeAssignableToTypeOf(&NotConnectedError{}))
	})
})

var _ = Describe("InvocationContext", func() {
	It("forwards Target and decodes Arguments through the codec", func() {
		inner := &registry.CallbackContext{
			Target:    "Notify",
			Arguments: []protocol.RawArgument{protocol.RawArgument(`"hello"`)},
			Codec:     protocol.JSONCodec{},
		}
		ic := &InvocationContext{inner: inner}
		Expect(ic.Target()).To(Equal("Notify"))

		var arg string
		Expect(ic.Argument(0, &arg)).To(Succeed())
		Expect(arg).To(Equal("hello"))

		Expect(ic.Argument(5, &arg)).To(HaveOccurred())
	})

	It("Complete and Fail are no-ops for a fire-and-forget call", func() {
		ic := &InvocationContext{inner: &registry.CallbackContext{Codec: protocol.JSONCodec{}}}
		Expect(func() { ic.Complete("ok") }).NotTo(Panic())
		Expect(func() { ic.Fail(errors.New("boom")) }).NotTo(Panic())
	})
})

type fakeSender struct {
	pings       int
	completions int
}

func (f *fakeSender) SendPing() error {
	f.pings++
	return nil
}

func (f *fakeSender) SendCompletion(id string, result interface{}, hasResult bool, errMsg string) error {
	f.completions++
	return nil
}
