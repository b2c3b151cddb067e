package protocol

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MessagePackCodec implements Codec for the "messagepack" hub protocol.
// Every message is a MessagePack array whose first element is the numeric
// message type, mirroring the positional layout of the official SignalR
// MessagePack hub protocol. The handshake itself stays JSON regardless.
type MessagePackCodec struct{}

func (MessagePackCodec) Name() string                  { return "messagepack" }
func (MessagePackCodec) TransferFormat() TransferFormat { return TransferFormatBinary }

const (
	completionResultKindError    = 1
	completionResultKindVoid     = 2
	completionResultKindNonVoid  = 3
)

func (MessagePackCodec) ParseFrame(frame []byte) (interface{}, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(frame))
	n, err := dec.DecodeArrayLen()
	if err != nil || n < 1 {
		return nil, &ProtocolError{Where: "msgpack.ParseFrame", Cause: fmt.Errorf("not a message array: %w", err)}
	}
	msgType, err := dec.DecodeInt()
	if err != nil {
		return nil, &ProtocolError{Where: "msgpack.ParseFrame", Cause: err}
	}

	switch msgType {
	case TypeInvocation, TypeStreamInvocation:
		if _, err := skipHeaders(dec); err != nil {
			return nil, &ProtocolError{Where: "msgpack.Invocation", Cause: err}
		}
		id, err := dec.DecodeString()
		if err != nil {
			return nil, &ProtocolError{Where: "msgpack.Invocation", Cause: err}
		}
		target, err := dec.DecodeString()
		if err != nil {
			return nil, &ProtocolError{Where: "msgpack.Invocation", Cause: err}
		}
		args, err := decodeRawArray(dec)
		if err != nil {
			return nil, &ProtocolError{Where: "msgpack.Invocation", Cause: err}
		}
		streamIDs, err := decodeOptionalStringArray(dec, n, 5)
		if err != nil {
			return nil, &ProtocolError{Where: "msgpack.Invocation", Cause: err}
		}
		if msgType == TypeStreamInvocation {
			return StreamInvocation{Type: msgType, InvocationID: id, Target: target, Arguments: args, StreamIDs: streamIDs}, nil
		}
		return Invocation{Type: msgType, InvocationID: id, Target: target, Arguments: args, StreamIDs: streamIDs}, nil

	case TypeStreamItem:
		if _, err := skipHeaders(dec); err != nil {
			return nil, &ProtocolError{Where: "msgpack.StreamItem", Cause: err}
		}
		id, err := dec.DecodeString()
		if err != nil {
			return nil, &ProtocolError{Where: "msgpack.StreamItem", Cause: err}
		}
		item, err := dec.DecodeRaw()
		if err != nil {
			return nil, &ProtocolError{Where: "msgpack.StreamItem", Cause: err}
		}
		return StreamItem{Type: msgType, InvocationID: id, Item: RawArgument(item)}, nil

	case TypeCompletion:
		if _, err := skipHeaders(dec); err != nil {
			return nil, &ProtocolError{Where: "msgpack.Completion", Cause: err}
		}
		id, err := dec.DecodeString()
		if err != nil {
			return nil, &ProtocolError{Where: "msgpack.Completion", Cause: err}
		}
		kind, err := dec.DecodeInt()
		if err != nil {
			return nil, &ProtocolError{Where: "msgpack.Completion", Cause: err}
		}
		m := Completion{Type: msgType, InvocationID: id}
		switch kind {
		case completionResultKindError:
			errStr, err := dec.DecodeString()
			if err != nil {
				return nil, &ProtocolError{Where: "msgpack.Completion", Cause: err}
			}
			m.Error = errStr
		case completionResultKindVoid:
			// no result payload
		case completionResultKindNonVoid:
			raw, err := dec.DecodeRaw()
			if err != nil {
				return nil, &ProtocolError{Where: "msgpack.Completion", Cause: err}
			}
			m.Result = RawArgument(raw)
			m.HasResult = true
		default:
			return nil, &ProtocolError{Where: "msgpack.Completion", Cause: fmt.Errorf("unknown result kind %d", kind)}
		}
		return m, nil

	case TypeCancelInvocation:
		if _, err := skipHeaders(dec); err != nil {
			return nil, &ProtocolError{Where: "msgpack.CancelInvocation", Cause: err}
		}
		id, err := dec.DecodeString()
		if err != nil {
			return nil, &ProtocolError{Where: "msgpack.CancelInvocation", Cause: err}
		}
		return CancelInvocation{Type: msgType, InvocationID: id}, nil

	case TypePing:
		return Ping{Type: msgType}, nil

	case TypeClose:
		errStr, err := decodeOptionalString(dec, n, 1)
		if err != nil {
			return nil, &ProtocolError{Where: "msgpack.Close", Cause: err}
		}
		allow, err := decodeOptionalBool(dec, n, 2)
		if err != nil {
			return nil, &ProtocolError{Where: "msgpack.Close", Cause: err}
		}
		return Close{Type: msgType, Error: errStr, AllowReconnect: allow}, nil

	default:
		return nil, &UnknownMessageType{Type: msgType}
	}
}

func (MessagePackCodec) EncodeFrame(message interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeMessage(enc, message); err != nil {
		return nil, &ProtocolError{Where: "msgpack.EncodeFrame", Cause: err}
	}
	return EncodeBinaryFrame(buf.Bytes()), nil
}

func encodeMessage(enc *msgpack.Encoder, message interface{}) error {
	switch m := message.(type) {
	case Invocation:
		_ = enc.EncodeArrayLen(6)
		_ = enc.EncodeInt(int64(TypeInvocation))
		_ = enc.EncodeMapLen(0)
		_ = enc.EncodeString(m.InvocationID)
		_ = enc.EncodeString(m.Target)
		if err := encodeRawArray(enc, m.Arguments); err != nil {
			return err
		}
		return encodeStringArray(enc, m.StreamIDs)
	case StreamInvocation:
		_ = enc.EncodeArrayLen(6)
		_ = enc.EncodeInt(int64(TypeStreamInvocation))
		_ = enc.EncodeMapLen(0)
		_ = enc.EncodeString(m.InvocationID)
		_ = enc.EncodeString(m.Target)
		if err := encodeRawArray(enc, m.Arguments); err != nil {
			return err
		}
		return encodeStringArray(enc, m.StreamIDs)
	case StreamItem:
		_ = enc.EncodeArrayLen(4)
		_ = enc.EncodeInt(int64(TypeStreamItem))
		_ = enc.EncodeMapLen(0)
		_ = enc.EncodeString(m.InvocationID)
		return enc.Encode(msgpack.RawMessage(m.Item))
	case Completion:
		switch {
		case m.Error != "":
			_ = enc.EncodeArrayLen(5)
			_ = enc.EncodeInt(int64(TypeCompletion))
			_ = enc.EncodeMapLen(0)
			_ = enc.EncodeString(m.InvocationID)
			_ = enc.EncodeInt(completionResultKindError)
			return enc.EncodeString(m.Error)
		case m.HasResult:
			_ = enc.EncodeArrayLen(5)
			_ = enc.EncodeInt(int64(TypeCompletion))
			_ = enc.EncodeMapLen(0)
			_ = enc.EncodeString(m.InvocationID)
			_ = enc.EncodeInt(completionResultKindNonVoid)
			return enc.Encode(msgpack.RawMessage(m.Result))
		default:
			_ = enc.EncodeArrayLen(4)
			_ = enc.EncodeInt(int64(TypeCompletion))
			_ = enc.EncodeMapLen(0)
			_ = enc.EncodeString(m.InvocationID)
			return enc.EncodeInt(completionResultKindVoid)
		}
	case CancelInvocation:
		_ = enc.EncodeArrayLen(3)
		_ = enc.EncodeInt(int64(TypeCancelInvocation))
		_ = enc.EncodeMapLen(0)
		return enc.EncodeString(m.InvocationID)
	case Ping:
		if err := enc.EncodeArrayLen(1); err != nil {
			return err
		}
		return enc.EncodeInt(int64(TypePing))
	case Close:
		_ = enc.EncodeArrayLen(3)
		_ = enc.EncodeInt(int64(TypeClose))
		_ = enc.EncodeString(m.Error)
		return enc.EncodeBool(m.AllowReconnect)
	default:
		return fmt.Errorf("messagepack: unsupported message %T", message)
	}
}

func (MessagePackCodec) DecodeArgument(raw interface{}, out interface{}) error {
	var data []byte
	switch v := raw.(type) {
	case RawArgument:
		data = v
	case []byte:
		data = v
	default:
		return fmt.Errorf("messagepack: unsupported raw argument type %T", raw)
	}
	return msgpack.Unmarshal(data, out)
}

func (MessagePackCodec) EncodeArguments(values []interface{}) ([]RawArgument, error) {
	out := make([]RawArgument, len(values))
	for i, v := range values {
		b, err := msgpack.Marshal(v)
		if err != nil {
			return nil, &ProtocolError{Where: "msgpack.EncodeArguments", Cause: err}
		}
		out[i] = RawArgument(b)
	}
	return out, nil
}

// skipHeaders consumes the (always empty, in this core) metadata map that
// precedes the invocation id in every message type except Ping and Close.
func skipHeaders(dec *msgpack.Decoder) (int, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		if _, err := dec.DecodeString(); err != nil {
			return 0, err
		}
		if _, err := dec.DecodeString(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func decodeRawArray(dec *msgpack.Decoder) ([]RawArgument, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	out := make([]RawArgument, n)
	for i := 0; i < n; i++ {
		raw, err := dec.DecodeRaw()
		if err != nil {
			return nil, err
		}
		out[i] = RawArgument(raw)
	}
	return out, nil
}

func encodeRawArray(enc *msgpack.Encoder, args []RawArgument) error {
	if err := enc.EncodeArrayLen(len(args)); err != nil {
		return err
	}
	for _, a := range args {
		if err := enc.Encode(msgpack.RawMessage(a)); err != nil {
			return err
		}
	}
	return nil
}

func encodeStringArray(enc *msgpack.Encoder, ss []string) error {
	if err := enc.EncodeArrayLen(len(ss)); err != nil {
		return err
	}
	for _, s := range ss {
		if err := enc.EncodeString(s); err != nil {
			return err
		}
	}
	return nil
}

func decodeOptionalStringArray(dec *msgpack.Decoder, total, index int) ([]string, error) {
	if total <= index {
		return nil, nil
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		s, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func decodeOptionalString(dec *msgpack.Decoder, total, index int) (string, error) {
	if total <= index {
		return "", nil
	}
	return dec.DecodeString()
}

func decodeOptionalBool(dec *msgpack.Decoder, total, index int) (bool, error) {
	if total <= index {
		return false, nil
	}
	return dec.DecodeBool()
}
