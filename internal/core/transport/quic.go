package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/entitysync/internal/core/observability/log"
)

const quicALPN = "entitysync"

// QUICDialer opens one bidirectional stream per connection and frames
// messages on it.
type QUICDialer struct {
	opts   Options
	config *quic.Config
	logger log.Log
}

func NewQUICDialer(opts Options) *QUICDialer {
	opts = opts.normalize()
	return &QUICDialer{
		opts: opts,
		config: &quic.Config{
			MaxIdleTimeout:       30 * time.Second,
			KeepAlivePeriod:      10 * time.Second,
			HandshakeIdleTimeout: 10 * time.Second,
		},
		logger: opts.Logger.With(log.String("transport", string(KindQUIC))),
	}
}

func (d *QUICDialer) Kind() Kind { return KindQUIC }

func (d *QUICDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	tlsConf := d.opts.tlsConfig(hostOf(endpoint))
	if len(tlsConf.NextProtos) == 0 {
		tlsConf.NextProtos = []string{quicALPN}
	}
	d.logger.Debug("Dialing", log.String("addr", endpoint))

	conn, err := quic.DialAddr(ctx, endpoint, tlsConf, d.config)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", endpoint)
	}
	st, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "stream open failed")
		return nil, errors.Wrap(err, "failed to open stream")
	}
	return newFramedConn(st, conn.RemoteAddr(), d.opts, func() error {
		return conn.CloseWithError(0, "closed")
	}), nil
}
