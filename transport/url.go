package transport

import (
	"fmt"
	"net/url"
	"strings"
)

// ChannelURL builds the address a transport of the given kind dials to
// watch channel on server. Channels are served under /channels/<name>:
// http and https become ws and wss for the websocket kind, and the srt kind
// carries the path as the stream ID. An empty channel returns the server
// address adjusted for kind only.
func ChannelURL(kind Kind, server, channel string) (string, error) {
	if !strings.Contains(server, "://") {
		switch kind {
		case KindSRT:
			server = "srt://" + server
		default:
			server = "https://" + server
		}
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server address: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server address %q has no host", server)
	}

	var channelPath string
	if channel != "" {
		channelPath = "channels/" + channel
	}

	switch kind {
	case KindWebSocket:
		switch u.Scheme {
		case "http", "ws":
			u.Scheme = "ws"
		case "https", "wss":
			u.Scheme = "wss"
		default:
			return "", fmt.Errorf("unsupported scheme %q for %s", u.Scheme, kind)
		}
	case KindWebTransport, KindRUSH:
		if u.Scheme != "https" {
			return "", fmt.Errorf("unsupported scheme %q for %s", u.Scheme, kind)
		}
	case KindSRT:
		out := &url.URL{Scheme: "srt", Host: u.Host}
		if channelPath != "" {
			out.RawQuery = url.Values{"streamid": {channelPath}}.Encode()
		}
		return out.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if channelPath != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + channelPath
	}
	return u.String(), nil
}
