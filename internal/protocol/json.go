package protocol

import (
	"encoding/json"
	"fmt"
)

// JSONCodec implements Codec for the "json" hub protocol: probe the
// "type" discriminant first, then unmarshal into the matching concrete
// struct.
type JSONCodec struct{}

func (JSONCodec) Name() string                     { return "json" }
func (JSONCodec) TransferFormat() TransferFormat    { return TransferFormatText }

func (JSONCodec) ParseFrame(frame []byte) (interface{}, error) {
	var probe typeProbe
	if err := json.Unmarshal(frame, &probe); err != nil {
		return nil, &ProtocolError{Where: "json.ParseFrame", Cause: err}
	}
	switch probe.Type {
	case TypeInvocation:
		var m Invocation
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, &ProtocolError{Where: "json.Invocation", Cause: err}
		}
		return m, nil
	case TypeStreamInvocation:
		var m StreamInvocation
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, &ProtocolError{Where: "json.StreamInvocation", Cause: err}
		}
		return m, nil
	case TypeStreamItem:
		var m StreamItem
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, &ProtocolError{Where: "json.StreamItem", Cause: err}
		}
		return m, nil
	case TypeCompletion:
		var raw struct {
			Type         int         `json:"type"`
			InvocationID string      `json:"invocationId"`
			Result       RawArgument `json:"result"`
			Error        string      `json:"error"`
		}
		if err := json.Unmarshal(frame, &raw); err != nil {
			return nil, &ProtocolError{Where: "json.Completion", Cause: err}
		}
		m := Completion{
			Type:         raw.Type,
			InvocationID: raw.InvocationID,
			Result:       raw.Result,
			Error:        raw.Error,
			HasResult:    len(raw.Result) > 0 && string(raw.Result) != "null",
		}
		if m.HasResult && m.Error != "" {
			return nil, &ProtocolError{Where: "json.Completion", Cause: fmt.Errorf("completion %q carries both result and error", m.InvocationID)}
		}
		return m, nil
	case TypeCancelInvocation:
		var m CancelInvocation
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, &ProtocolError{Where: "json.CancelInvocation", Cause: err}
		}
		return m, nil
	case TypePing:
		return Ping{Type: TypePing}, nil
	case TypeClose:
		var m Close
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, &ProtocolError{Where: "json.Close", Cause: err}
		}
		return m, nil
	default:
		return nil, &UnknownMessageType{Type: probe.Type}
	}
}

func (JSONCodec) EncodeFrame(message interface{}) ([]byte, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, &ProtocolError{Where: "json.EncodeFrame", Cause: err}
	}
	return EncodeTextFrame(body), nil
}

func (JSONCodec) DecodeArgument(raw interface{}, out interface{}) error {
	var data []byte
	switch v := raw.(type) {
	case RawArgument:
		data = v
	case []byte:
		data = v
	default:
		marshaled, err := json.Marshal(raw)
		if err != nil {
			return &ProtocolError{Where: "json.DecodeArgument", Cause: err}
		}
		data = marshaled
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ProtocolError{Where: "json.DecodeArgument", Cause: err}
	}
	return nil
}

func (JSONCodec) EncodeArguments(values []interface{}) ([]RawArgument, error) {
	return EncodeJSONArguments(values)
}

// EncodeHandshakeRequest renders the handshake request frame. The handshake
// is always text/JSON even when the negotiated hub protocol is MessagePack.
func EncodeHandshakeRequest(protocolName string) []byte {
	req := HandshakeRequest{Protocol: protocolName, Version: 1}
	body, _ := json.Marshal(req)
	return EncodeTextFrame(body)
}

// ParseHandshakeResponse parses the first inbound frame after the
// handshake request is sent.
func ParseHandshakeResponse(frame []byte) (HandshakeResponse, error) {
	var resp HandshakeResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return HandshakeResponse{}, &ProtocolError{Where: "json.HandshakeResponse", Cause: err}
	}
	return resp, nil
}
