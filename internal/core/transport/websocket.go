package transport

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/entitysync/internal/core/observability/log"
)

type WebSocketDialer struct {
	opts   Options
	dialer *websocket.Dialer
	logger log.Log
}

func NewWebSocketDialer(opts Options) *WebSocketDialer {
	opts = opts.normalize()
	return &WebSocketDialer{
		opts: opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			TLSClientConfig:  opts.tlsConfig(""),
		},
		logger: opts.Logger.With(log.String("transport", string(KindWebSocket))),
	}
}

func (d *WebSocketDialer) Kind() Kind { return KindWebSocket }

// Dial accepts a ws:// or wss:// URL, or a bare host:port which is dialed as
// ws://host:port/.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	url := endpoint
	if !strings.Contains(url, "://") {
		url = "ws://" + url + "/"
	}
	d.logger.Debug("Dialing", log.String("url", url))

	ws, _, err := d.dialer.DialContext(ctx, url, d.opts.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", url)
	}
	ws.SetReadLimit(int64(d.opts.MaxFrameSize))
	return &wsConn{conn: ws, writeTimeout: d.opts.WriteTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closed       atomic.Bool
}

var _ Conn = (*wsConn)(nil)

func (c *wsConn) Send(msg []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (c *wsConn) Receive() ([]byte, error) {
	for {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, errors.Wrap(err, "failed to read message")
		}
		if kind == websocket.BinaryMessage || kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsConn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

func (c *wsConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *wsConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}
