// Package negotiate implements the negotiate v1 HTTP handshake a hub
// connection performs before it ever opens a transport: POST to
// {endpoint}/negotiate, parse the server's chosen connection id and
// advertised transports, and build the WebSocket URL the transport then
// dials.
package negotiate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// Doer is the *http.Client interface, so callers can plug in an
// instrumented or mocked client via WithHTTPClient.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Credential is supplied by the caller and turned into an Authorization
// header on the negotiate request and (where the server expects it) on
// the subsequent transport handshake.
type Credential interface {
	// Apply sets whatever headers this credential contributes.
	Apply(header http.Header)
}

type bearerCredential string

func (b bearerCredential) Apply(header http.Header) {
	header.Set("Authorization", "Bearer "+string(b))
}

// Bearer builds a Credential that sends an opaque bearer token.
func Bearer(token string) Credential { return bearerCredential(token) }

type basicCredential struct {
	username, password string
}

func (b basicCredential) Apply(header http.Header) {
	req := &http.Request{Header: header}
	req.SetBasicAuth(b.username, b.password)
}

// Basic builds a Credential that sends HTTP basic auth.
func Basic(username, password string) Credential {
	return basicCredential{username: username, password: password}
}

type availableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

// Result is the parsed response of a negotiate call, plus the derived
// WebSocket URL the caller should dial next.
type Result struct {
	ConnectionID      string
	ConnectionToken   string
	NegotiateVersion  int
	AvailableFormats  []string
	WebSocketURL      string
	Header            http.Header
}

// Failed reports a non-200 response from the negotiate endpoint.
type Failed struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *Failed) Error() string {
	return fmt.Sprintf("signalr: negotiate failed: %s: %s", e.Status, e.Body)
}

// UnsupportedTransport reports that the server did not advertise
// WebSockets among its available transports, or advertised WebSockets
// without the transfer format the active hub protocol requires; this
// core only ever drives WebSocket transports.
type UnsupportedTransport struct {
	Advertised []string
	Required   string
}

func (e *UnsupportedTransport) Error() string {
	if e.Required != "" {
		return fmt.Sprintf("signalr: server's WebSockets transport does not advertise the %s transfer format (advertised %v)", e.Required, e.Advertised)
	}
	return fmt.Sprintf("signalr: server does not support WebSockets (advertised %v)", e.Advertised)
}

// Negotiate performs the negotiate v1 handshake against endpoint (the
// hub URL, without "/negotiate") using client, optionally authenticated
// with cred and carrying extraHeaders on every request. requiredFormat
// is the transfer format ("Text" or "Binary") the active hub protocol
// needs from the WebSockets transport; the call fails with
// UnsupportedTransport if the server's WebSockets entry does not
// advertise it. When ctx carries no deadline of its own, the request is
// bounded by a 10s timeout.
func Negotiate(ctx context.Context, client Doer, endpoint string, cred Credential, extraHeaders http.Header, requiredFormat string) (*Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	reqURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("signalr: invalid endpoint %q: %w", endpoint, err)
	}

	negotiateURL := *reqURL
	negotiateURL.Path = path.Join(negotiateURL.Path, "negotiate")
	q := negotiateURL.Query()
	q.Set("negotiateVersion", "1")
	negotiateURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, negotiateURL.String(), nil)
	if err != nil {
		return nil, err
	}
	applyHeaders(req.Header, extraHeaders, cred)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signalr: negotiate request: %w", err)
	}
	defer drainAndClose(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("signalr: negotiate read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Failed{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	var wire struct {
		ConnectionID        string               `json:"connectionId"`
		ConnectionToken     string               `json:"connectionToken,omitempty"`
		NegotiateVersion    int                  `json:"negotiateVersion,omitempty"`
		AvailableTransports []availableTransport `json:"availableTransports"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("signalr: negotiate decode response: %w", err)
	}

	var webSocketFormats []string
	for _, t := range wire.AvailableTransports {
		if t.Transport == "WebSockets" {
			webSocketFormats = t.TransferFormats
		}
	}
	if webSocketFormats == nil {
		advertised := make([]string, 0, len(wire.AvailableTransports))
		for _, t := range wire.AvailableTransports {
			advertised = append(advertised, t.Transport)
		}
		return nil, &UnsupportedTransport{Advertised: advertised}
	}
	if requiredFormat != "" && !containsFormat(webSocketFormats, requiredFormat) {
		return nil, &UnsupportedTransport{Advertised: webSocketFormats, Required: requiredFormat}
	}

	wsURL := *reqURL
	switch reqURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	id := wire.ConnectionID
	if wire.ConnectionToken != "" {
		id = wire.ConnectionToken
	}
	wq := wsURL.Query()
	wq.Set("id", id)
	wsURL.RawQuery = wq.Encode()

	header := http.Header{}
	applyHeaders(header, extraHeaders, cred)
	for _, c := range resp.Cookies() {
		header.Add("Cookie", c.String())
	}

	return &Result{
		ConnectionID:     wire.ConnectionID,
		ConnectionToken:  wire.ConnectionToken,
		NegotiateVersion: wire.NegotiateVersion,
		AvailableFormats: webSocketFormats,
		WebSocketURL:     wsURL.String(),
		Header:           header,
	}, nil
}

func containsFormat(formats []string, want string) bool {
	for _, f := range formats {
		if f == want {
			return true
		}
	}
	return false
}

func applyHeaders(header http.Header, extra http.Header, cred Credential) {
	for k, vs := range extra {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	if cred != nil {
		cred.Apply(header)
	}
}

// drainAndClose fully reads body before closing so the underlying
// connection can be reused by the client's transport pool.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
