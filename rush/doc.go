// Package rush implements the wire codec for RUSH, the length-delimited
// binary protocol carried over a single WebTransport bidirectional stream.
// It covers the fixed-layout Connect handshake, the common message header
// and framing of complete messages off an ordered byte stream.
//
// This package contains no connection logic; the stream transport that
// sends the handshake lives in [github.com/zsiec/prismplay/transport].
package rush
