// Package rpc moves remote calls between the frame thread and a transport
// connection. A read pump and a write pump run in the background; inbound
// calls wait in a queue until the frame thread drains them.
package rpc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/internal/core/replication"
	"github.com/zeusync/entitysync/internal/core/transport"
	"github.com/zeusync/entitysync/pkg/encoding"
	"github.com/zeusync/entitysync/pkg/generic"
)

var (
	ErrSendQueueFull = errors.New("send queue is full")
	ErrNotStarted    = errors.New("dispatcher not started")
)

type Config struct {
	SendQueue  int `yaml:"send_queue" toml:"send_queue" json:"send_queue"`
	MaxInbound int `yaml:"max_inbound" toml:"max_inbound" json:"max_inbound"`
}

func DefaultConfig() Config {
	return Config{SendQueue: 256, MaxInbound: 4096}
}

type Stats struct {
	Sent      uint64
	Received  uint64
	Dropped   uint64
	Malformed uint64
}

// Dispatcher implements replication.Caller over a transport connection.
type Dispatcher struct {
	conn   transport.Conn
	cfg    Config
	logger log.Log

	encoders *generic.Pool[*encoding.Encoder]
	out      chan []byte

	inMu sync.Mutex
	in   []Envelope
	// spare is swapped with in on every Drain.
	spare []Envelope

	started atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error

	sent, received, dropped, malformed atomic.Uint64
}

var _ replication.Caller = (*Dispatcher)(nil)

func NewDispatcher(conn transport.Conn, cfg Config, logger log.Log) *Dispatcher {
	def := DefaultConfig()
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}
	if cfg.MaxInbound <= 0 {
		cfg.MaxInbound = def.MaxInbound
	}
	if logger == nil {
		logger = log.Provide()
	}
	return &Dispatcher{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With(log.String("component", "rpc")),
		encoders: generic.NewPool(
			func() *encoding.Encoder { return encoding.NewEncoder(256) },
			func(e *encoding.Encoder) { e.Reset() },
		),
		out:  make(chan []byte, cfg.SendQueue),
		done: make(chan struct{}),
	}
}

// Start launches the pumps. They stop when ctx is cancelled, the connection
// fails or Close is called.
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.readPump(gctx) })
	g.Go(func() error { return d.writePump(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		return d.conn.Close()
	})

	go func() {
		err := g.Wait()
		if ctx.Err() != nil {
			// Shutdown was requested; errors from the closing connection are noise.
			err = nil
		}
		d.err = err
		if err != nil {
			d.logger.Warn("Connection lost", log.Error(err))
		}
		close(d.done)
	}()
}

// Done is closed once both pumps have exited.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Err is the reason the pumps stopped. It is valid after Done is closed.
func (d *Dispatcher) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Call encodes the payload and queues it for sending. It never blocks; a
// full queue drops the call.
func (d *Dispatcher) Call(call replication.CallID, entity replication.EntityID, payload encoding.Serializable) error {
	if !d.started.Load() {
		return ErrNotStarted
	}
	if d.closed.Load() {
		return replication.ErrNotConnected
	}
	select {
	case <-d.done:
		return replication.ErrNotConnected
	default:
	}

	var body []byte
	if payload != nil {
		b, err := payload.Serialize()
		if err != nil {
			return err
		}
		body = b
	}

	enc := d.encoders.Get()
	env := Envelope{Call: call, Entity: entity, Body: body}
	env.encode(enc)
	msg := append([]byte(nil), enc.Encoded()...)
	d.encoders.Put(enc)

	select {
	case d.out <- msg:
		return nil
	default:
		d.dropped.Add(1)
		return ErrSendQueueFull
	}
}

// Drain hands every queued inbound call to fn in arrival order and returns
// how many there were. Call it from the frame thread.
func (d *Dispatcher) Drain(fn func(Envelope)) int {
	d.inMu.Lock()
	batch := d.in
	d.in = d.spare[:0]
	d.inMu.Unlock()

	for i := range batch {
		fn(batch[i])
		batch[i] = Envelope{}
	}

	d.inMu.Lock()
	d.spare = batch[:0]
	d.inMu.Unlock()
	return len(batch)
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:      d.sent.Load(),
		Received:  d.received.Load(),
		Dropped:   d.dropped.Load(),
		Malformed: d.malformed.Load(),
	}
}

// Close stops the pumps, closes the connection and waits for both to exit.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !d.started.Load() {
		return d.conn.Close()
	}
	d.cancel()
	<-d.done
	return nil
}

func (d *Dispatcher) readPump(ctx context.Context) error {
	for {
		msg, err := d.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		d.received.Add(1)

		var env Envelope
		if err := env.Deserialize(msg); err != nil {
			d.malformed.Add(1)
			d.logger.Debug("Dropping malformed envelope", log.Int("bytes", len(msg)), log.Error(err))
			continue
		}

		d.inMu.Lock()
		if len(d.in) >= d.cfg.MaxInbound {
			d.inMu.Unlock()
			d.dropped.Add(1)
			continue
		}
		d.in = append(d.in, env)
		d.inMu.Unlock()
	}
}

func (d *Dispatcher) writePump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-d.out:
			if err := d.conn.Send(msg); err != nil {
				return err
			}
			d.sent.Add(1)
		}
	}
}
