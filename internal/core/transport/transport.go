// Package transport is the narrow network surface the replication layer
// consumes: a dialer that yields a message-oriented connection.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/zeusync/entitysync/internal/core/observability/log"
)

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks . Conn,Dialer

type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindQUIC      Kind = "quic"
	KindKCP       Kind = "kcp"
)

// ParseKind accepts the config spelling of a transport kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindWebSocket, KindQUIC, KindKCP:
		return k, nil
	case "ws", "":
		return KindWebSocket, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

var (
	ErrUnknownKind   = errors.New("unknown transport kind")
	ErrClosed        = errors.New("connection is closed")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// Conn carries whole messages in both directions. Send is safe to call
// concurrently with Receive; neither is safe to call concurrently with itself.
type Conn interface {
	Send(msg []byte) error
	Receive() ([]byte, error)
	SetReadDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

type Dialer interface {
	Kind() Kind
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

type Options struct {
	MaxFrameSize int
	WriteTimeout time.Duration
	// Insecure skips certificate checks for QUIC and wss endpoints.
	Insecure bool

	TLS    *tls.Config
	Header http.Header
	Logger log.Log
}

func DefaultOptions() Options {
	return Options{
		MaxFrameSize: 64 * 1024,
		WriteTimeout: 5 * time.Second,
	}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = def.MaxFrameSize
	}
	if o.WriteTimeout < 0 {
		o.WriteTimeout = 0
	}
	if o.Logger == nil {
		o.Logger = log.Provide()
	}
	return o
}

func (o Options) tlsConfig(serverName string) *tls.Config {
	var cfg *tls.Config
	if o.TLS != nil {
		cfg = o.TLS.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS13}
	}
	if o.Insecure {
		cfg.InsecureSkipVerify = true
	}
	if cfg.ServerName == "" {
		cfg.ServerName = serverName
	}
	return cfg
}

// ForKind returns the reference dialer for kind.
func ForKind(kind Kind, opts Options) (Dialer, error) {
	opts = opts.normalize()
	switch kind {
	case KindWebSocket:
		return NewWebSocketDialer(opts), nil
	case KindQUIC:
		return NewQUICDialer(opts), nil
	case KindKCP:
		return NewKCPDialer(opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func hostOf(endpoint string) string {
	host, _, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint
	}
	return host
}
