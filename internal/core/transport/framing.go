package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

const frameHeaderSize = 4

// stream is the byte-stream half of a connection that needs framing.
type stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// FramedConn turns a byte stream into a message connection by prefixing
// every message with its big-endian uint32 length.
type FramedConn struct {
	s            stream
	remote       net.Addr
	maxFrame     int
	writeTimeout time.Duration
	onClose      func() error

	writeMu sync.Mutex
	header  [frameHeaderSize]byte
	closed  atomic.Bool
}

var _ Conn = (*FramedConn)(nil)

func newFramedConn(s stream, remote net.Addr, opts Options, onClose func() error) *FramedConn {
	return &FramedConn{
		s:            s,
		remote:       remote,
		maxFrame:     opts.MaxFrameSize,
		writeTimeout: opts.WriteTimeout,
		onClose:      onClose,
	}
}

func (c *FramedConn) Send(msg []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if len(msg) > c.maxFrame {
		return errors.Wrapf(ErrFrameTooLarge, "send %d bytes", len(msg))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.s.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	buf := make([]byte, frameHeaderSize+len(msg))
	binary.BigEndian.PutUint32(buf, uint32(len(msg)))
	copy(buf[frameHeaderSize:], msg)
	if _, err := c.s.Write(buf); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

func (c *FramedConn) Receive() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if _, err := io.ReadFull(c.s, c.header[:]); err != nil {
		return nil, errors.Wrap(err, "failed to read frame header")
	}
	n := binary.BigEndian.Uint32(c.header[:])
	if int64(n) > int64(c.maxFrame) {
		return nil, errors.Wrapf(ErrFrameTooLarge, "peer announced %d bytes", n)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(c.s, msg); err != nil {
		return nil, errors.Wrap(err, "failed to read frame body")
	}
	return msg, nil
}

func (c *FramedConn) SetReadDeadline(t time.Time) error { return c.s.SetReadDeadline(t) }

func (c *FramedConn) RemoteAddr() net.Addr { return c.remote }

func (c *FramedConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.s.Close()
	if c.onClose != nil {
		if cerr := c.onClose(); err == nil {
			err = cerr
		}
	}
	return err
}
