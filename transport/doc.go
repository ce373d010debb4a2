// Package transport delivers opaque binary units between the player and a
// media server over one of several wire transports.
//
// Every variant implements Transport and shares the same lifecycle:
// Unconnected, Connected, Closed. Closed is terminal; a failed Connect
// leaves the instance Unconnected so it may be retried. Callers learn about
// closure through Closed(), Err() and the ClosedFunc passed to Connect, never
// through Send or Read.
//
// Variants:
//
//   - WebSocket: binary messages over a gorilla/websocket connection.
//   - Datagram: unreliable WebTransport datagrams.
//   - Stream: RUSH messages over one WebTransport bidirectional stream,
//     opened with the 30-byte Connect handshake.
//   - SRT: live-mode SRT messages via srtgo.
package transport
