// Package relay implements the channel fan-out engine behind the WebSocket
// endpoint.
//
// A Registry maps channel names to Topics, and a Presence table records which
// clients joined each channel. Relay.Serve runs one Session per connection:
// a read loop decodes frames and dispatches subscribe, publish and
// slide_change actions, a write loop drains the session's outgoing queue,
// and one forwarding goroutine per subscription copies topic messages onto
// that queue. When either loop stops, the whole session is torn down and its
// forwarding goroutines are joined before Serve returns.
//
// Topics never block publishers. Each subscriber has a bounded backlog and
// misses messages once it falls that far behind.
package relay
