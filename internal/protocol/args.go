package protocol

import "encoding/json"

// ArgsBuilder accumulates positional arguments for an outgoing invocation,
// deferring serialization until the active Codec is known at send time.
type ArgsBuilder struct {
	values []interface{}
}

// NewArgsBuilder creates an empty builder.
func NewArgsBuilder() *ArgsBuilder {
	return &ArgsBuilder{}
}

// Add appends one positional argument.
func (a *ArgsBuilder) Add(v interface{}) *ArgsBuilder {
	a.values = append(a.values, v)
	return a
}

// Values returns the accumulated arguments in order.
func (a *ArgsBuilder) Values() []interface{} {
	return a.values
}

// EncodeJSONArguments marshals each argument to its raw JSON form, for the
// Invocation/StreamInvocation "arguments" array.
func EncodeJSONArguments(values []interface{}) ([]RawArgument, error) {
	out := make([]RawArgument, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, &ProtocolError{Where: "json.EncodeArguments", Cause: err}
		}
		out[i] = RawArgument(b)
	}
	return out, nil
}
