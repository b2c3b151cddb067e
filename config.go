package signalr

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nexusrpc/signalrclient/internal/logging"
	"github.com/nexusrpc/signalrclient/internal/negotiate"
	"github.com/nexusrpc/signalrclient/internal/protocol"
	"github.com/nexusrpc/signalrclient/reconnect"
	"github.com/nexusrpc/signalrclient/transport"
	"github.com/nexusrpc/signalrclient/wstransport"
)

// Credential supplies authentication for the negotiate request and the
// subsequent WebSocket handshake. Use Bearer or Basic to build one.
type Credential = negotiate.Credential

// Bearer builds a Credential carrying an opaque bearer token.
func Bearer(token string) Credential { return negotiate.Bearer(token) }

// Basic builds a Credential carrying HTTP basic auth.
func Basic(username, password string) Credential { return negotiate.Basic(username, password) }

// defaults: 15s keepalive, 30s timeout (double the keepalive, as
// recommended).
const (
	defaultKeepAliveInterval = 15 * time.Second
	defaultTimeoutInterval   = 30 * time.Second
)

// ConnectionBuilder accumulates ConnectionConfiguration options before
// Build constructs a HubConnection using the accumulated functional
// options.
type ConnectionBuilder struct {
	cfg connectionConfiguration
	err error
}

type connectionConfiguration struct {
	endpoint             string
	codec                protocol.Codec
	credential           Credential
	extraHeaders         http.Header
	keepAliveInterval    time.Duration
	timeoutInterval      time.Duration
	policy               reconnect.Policy
	mode                 reconnect.Mode
	disconnectionHandler func(*ReconnectionHandler)
	logger               logging.StructuredLogger
	debug                bool
	httpClient           negotiate.Doer
	transportFactory     transport.Factory
}

// NewConnectionBuilder starts a builder for a hub connection to
// endpoint, e.g. "https://example.com/chatHub".
func NewConnectionBuilder(endpoint string) *ConnectionBuilder {
	return &ConnectionBuilder{
		cfg: connectionConfiguration{
			endpoint:          endpoint,
			codec:             protocol.JSONCodec{},
			keepAliveInterval: defaultKeepAliveInterval,
			timeoutInterval:   defaultTimeoutInterval,
			policy:            reconnect.None{},
			mode:              reconnect.Automatic,
			logger:            logging.NopLogger(),
			httpClient:        http.DefaultClient,
			transportFactory:  wstransport.New(),
		},
	}
}

// WithHubProtocol selects "json" (the default) or "messagepack".
func (b *ConnectionBuilder) WithHubProtocol(name string) *ConnectionBuilder {
	switch name {
	case "json":
		b.cfg.codec = protocol.JSONCodec{}
	case "messagepack":
		b.cfg.codec = protocol.MessagePackCodec{}
	default:
		b.err = firstErr(b.err, &ConfigurationError{Reason: fmt.Sprintf("unknown hub protocol %q", name)})
	}
	return b
}

// WithCredential attaches bearer or basic authentication.
func (b *ConnectionBuilder) WithCredential(cred Credential) *ConnectionBuilder {
	b.cfg.credential = cred
	return b
}

// WithHeader adds an extra header sent with negotiate and the WebSocket
// handshake, e.g. a custom correlation id.
func (b *ConnectionBuilder) WithHeader(key, value string) *ConnectionBuilder {
	if b.cfg.extraHeaders == nil {
		b.cfg.extraHeaders = http.Header{}
	}
	b.cfg.extraHeaders.Add(key, value)
	return b
}

// WithKeepAliveInterval overrides the 15s default interval at which a
// Ping is sent when nothing else has been written.
func (b *ConnectionBuilder) WithKeepAliveInterval(d time.Duration) *ConnectionBuilder {
	b.cfg.keepAliveInterval = d
	return b
}

// WithTimeoutInterval overrides the 30s default after which the
// connection is considered lost if nothing, including a Ping, has been
// received.
func (b *ConnectionBuilder) WithTimeoutInterval(d time.Duration) *ConnectionBuilder {
	b.cfg.timeoutInterval = d
	return b
}

// WithReconnectPolicy sets the policy consulted after the transport
// drops. The default is reconnect.None: a dropped connection is
// terminal.
func (b *ConnectionBuilder) WithReconnectPolicy(policy reconnect.Policy) *ConnectionBuilder {
	b.cfg.policy = policy
	return b
}

// WithDisconnectionHandler switches the reconnection controller to
// Manual mode: instead of retrying on its own, the core hands a
// *ReconnectionHandler to handler on every drop and waits for it to
// call Reconnect (optionally more than once, e.g. after refreshing a
// credential) or Abandon. WithReconnectPolicy is ignored in this mode;
// the caller is the policy.
func (b *ConnectionBuilder) WithDisconnectionHandler(handler func(*ReconnectionHandler)) *ConnectionBuilder {
	b.cfg.mode = reconnect.Manual
	b.cfg.disconnectionHandler = handler
	return b
}

// WithLogger sets the structured logger used for connection lifecycle
// events. debug additionally enables per-frame debug logging.
func (b *ConnectionBuilder) WithLogger(logger logging.StructuredLogger, debug bool) *ConnectionBuilder {
	b.cfg.logger = logger
	b.cfg.debug = debug
	return b
}

// WithHTTPClient overrides the *http.Client used for the negotiate
// request only; it never touches the WebSocket transport.
func (b *ConnectionBuilder) WithHTTPClient(client negotiate.Doer) *ConnectionBuilder {
	b.cfg.httpClient = client
	return b
}

// WithTransportFactory overrides the default coder/websocket transport,
// e.g. with gwstransport.New() or a test double.
func (b *ConnectionBuilder) WithTransportFactory(factory transport.Factory) *ConnectionBuilder {
	b.cfg.transportFactory = factory
	return b
}

func firstErr(existing, next error) error {
	if existing != nil {
		return existing
	}
	return next
}
