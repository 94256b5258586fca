package transport

import (
	"context"

	"github.com/pkg/errors"
	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/zeusync/entitysync/internal/core/observability/log"
)

// KCPDialer runs a reliable stream over UDP and frames messages on it.
type KCPDialer struct {
	opts   Options
	logger log.Log
}

func NewKCPDialer(opts Options) *KCPDialer {
	opts = opts.normalize()
	return &KCPDialer{
		opts:   opts,
		logger: opts.Logger.With(log.String("transport", string(KindKCP))),
	}
}

func (d *KCPDialer) Kind() Kind { return KindKCP }

func (d *KCPDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.logger.Debug("Dialing", log.String("addr", endpoint))

	sess, err := kcp.DialWithOptions(endpoint, nil, 0, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", endpoint)
	}
	sess.SetStreamMode(true)
	sess.SetNoDelay(1, 10, 2, 1)
	sess.SetWindowSize(256, 256)
	sess.SetACKNoDelay(true)
	return newFramedConn(sess, sess.RemoteAddr(), d.opts, nil), nil
}
