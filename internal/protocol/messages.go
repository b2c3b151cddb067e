// Package protocol implements the SignalR hub protocol wire messages and
// their JSON / MessagePack codecs, including the record-separator framing
// used by the text protocol.
package protocol

// RawArgument holds one positional argument, stream item, or completion
// result as undecoded wire bytes (JSON text or MessagePack, depending on
// which Codec produced it) so the registry can route messages without
// knowing the target's expected Go type; the eventual consumer decodes it
// through DecodeArgument once the type is known.
type RawArgument []byte

// MarshalJSON passes the bytes through unchanged, mirroring
// encoding/json.RawMessage, so a RawArgument holding JSON text round-trips
// as part of a larger JSON document.
func (r RawArgument) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return r, nil
}

// UnmarshalJSON stores data verbatim.
func (r *RawArgument) UnmarshalJSON(data []byte) error {
	*r = append((*r)[0:0], data...)
	return nil
}

// Message type discriminants, per the SignalR hub protocol spec.
const (
	TypeInvocation         = 1
	TypeStreamItem          = 2
	TypeCompletion          = 3
	TypeStreamInvocation    = 4
	TypeCancelInvocation    = 5
	TypePing                = 6
	TypeClose               = 7
)

// RecordSeparator is the text-protocol frame delimiter (0x1E).
const RecordSeparator = 0x1e

// HandshakeRequest is the mandatory first client->server frame. It never
// carries a "type" discriminant.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is the mandatory first server->client frame.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// Invocation is a client->server or server->client call. An empty
// InvocationID marks a fire-and-forget send.
type Invocation struct {
	Type         int               `json:"type"`
	InvocationID string            `json:"invocationId,omitempty"`
	Target       string            `json:"target"`
	Arguments    []RawArgument     `json:"arguments"`
	StreamIDs    []string          `json:"streamIds,omitempty"`
}

// StreamInvocation is a client->server call expecting many StreamItems then
// a terminal Completion.
type StreamInvocation struct {
	Type         int               `json:"type"`
	InvocationID string            `json:"invocationId"`
	Target       string            `json:"target"`
	Arguments    []RawArgument     `json:"arguments"`
	StreamIDs    []string          `json:"streamIds,omitempty"`
}

// StreamItem carries one item of an in-progress enumeration.
type StreamItem struct {
	Type         int             `json:"type"`
	InvocationID string          `json:"invocationId"`
	Item         RawArgument     `json:"item"`
}

// Completion terminates an Invocation or StreamInvocation. Carrying both
// Result and Error is a protocol violation.
type Completion struct {
	Type         int             `json:"type"`
	InvocationID string          `json:"invocationId"`
	Result       RawArgument     `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	HasResult    bool            `json:"-"`
}

// Ping is the keepalive message, sent by either side and echoed by the
// receiver.
type Ping struct {
	Type int `json:"type"`
}

// Close signals shutdown; AllowReconnect tells the client whether it may
// retry under its reconnection policy.
type Close struct {
	Type           int    `json:"type"`
	Error          string `json:"error,omitempty"`
	AllowReconnect bool   `json:"allowReconnect,omitempty"`
}

// CancelInvocation cancels an in-flight StreamInvocation.
type CancelInvocation struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId"`
}

// typeProbe is used to read only the "type" discriminant before deciding
// which concrete message to unmarshal into.
type typeProbe struct {
	Type int `json:"type"`
}
