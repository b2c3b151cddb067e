package signalr

import "github.com/nexusrpc/signalrclient/internal/protocol"

// ArgumentBuilder accumulates positional arguments for an Invoke, Send,
// or Enumerate call built up incrementally rather than supplied as a
// single variadic list.
type ArgumentBuilder struct {
	inner *protocol.ArgsBuilder
}

// NewArgumentBuilder starts an empty ArgumentBuilder.
func NewArgumentBuilder() *ArgumentBuilder {
	return &ArgumentBuilder{inner: protocol.NewArgsBuilder()}
}

// Add appends v as the next positional argument and returns the
// builder for chaining.
func (b *ArgumentBuilder) Add(v interface{}) *ArgumentBuilder {
	b.inner.Add(v)
	return b
}

// Values returns the accumulated arguments, suitable for spreading into
// Invoke/Send/Enumerate's variadic args parameter.
func (b *ArgumentBuilder) Values() []interface{} {
	return b.inner.Values()
}
