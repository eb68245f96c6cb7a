package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnknownKind is returned when a URL scheme does not map to a transport kind.
var ErrUnknownKind = errors.New("transport: unknown kind") //nolint:gochecknoglobals // sentinel error

// Kind identifies the transport variant a descriptor carries.
type Kind int

const (
	KindUnknown Kind = iota
	KindTCP
	KindHTTP
	KindHTTPS
	KindWebSocket
	KindWebSocketTLS
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindHTTP:
		return "http"
	case KindHTTPS:
		return "https"
	case KindWebSocket:
		return "ws"
	case KindWebSocketTLS:
		return "wss"
	default:
		return "unknown"
	}
}

// KindFromURL derives the transport kind from the URL scheme.
func KindFromURL(raw string) (Kind, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return KindUnknown, fmt.Errorf("transport.KindFromURL(%q): %w", raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "tcp":
		return KindTCP, nil
	case "http":
		return KindHTTP, nil
	case "https":
		return KindHTTPS, nil
	case "ws":
		return KindWebSocket, nil
	case "wss":
		return KindWebSocketTLS, nil
	default:
		return KindUnknown, fmt.Errorf("transport.KindFromURL(%q): %w", raw, ErrUnknownKind)
	}
}
