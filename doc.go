/*
Package signalr implements the client side of the SignalR hub protocol:
negotiate, connect, handshake, invoke hub methods, receive server
streams, register callbacks for server-initiated calls, and reconnect
according to a pluggable policy when the connection drops.

For the protocol itself see
https://github.com/dotnet/aspnetcore/blob/main/src/SignalR/docs/specs/HubProtocol.md
and
https://github.com/dotnet/aspnetcore/blob/main/src/SignalR/docs/specs/TransportProtocols.md

Basics

The SignalR Protocol is a protocol for two-way RPC over any
message-based transport. Either party may invoke procedures on the
other, and procedures return zero or more results or an error.

Connecting

Build a ConnectionBuilder with NewConnectionBuilder(endpoint), configure
it with the With* methods, and call Build(ctx) to negotiate, dial, and
handshake. Build returns a *HubConnection ready to Invoke, Send,
Enumerate, and Register callbacks.

Invocation kinds

Invoke calls a hub method and blocks for its single result. Send calls
a hub method without waiting for a result. Enumerate calls a streaming
hub method and returns a handle to pull items from it in order.
Register installs a handler for a hub method the server calls on the
client; handlers survive reconnection.

Reconnection

A ConnectionBuilder defaults to reconnect.None: a dropped connection is
terminal. WithReconnectPolicy installs one of the policies in the
reconnect package (ConstantDelay, LinearBackoff, ExponentialBackoff) to
retry automatically, or WithDisconnectionHandler to hand a
*ReconnectionHandler to caller code on every drop instead, e.g. to
refresh a credential before calling its Reconnect method.
*/
package signalr
