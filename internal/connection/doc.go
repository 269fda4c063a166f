// Package connection implements the Stream Connection component.
//
// A Client owns one long-lived WebSocket connection:
//   - Dials with a handshake timeout and optional headers
//   - Answers server pings with pongs inside the read path (never surfaced)
//   - Sends keepalive pings and closes the connection when it goes stale
//   - Exposes received frames through Receive, ending with one Closed frame
//
// A Client is single-use. Reconnecting means dialing a new Client.
package connection
