// Package realtime provides a phoenix-style channel over a websocket,
// implementing identity.Transport for the presence channel.
//
// The channel speaks the phoenix envelope (phx_join, phx_reply, heartbeat,
// presence_state, presence_diff) and reports lifecycle through the transport
// callbacks rather than method errors.
package realtime
