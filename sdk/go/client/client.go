// Package client is the public entry point for game code: it connects to a
// room, replicates attached entities and runs the per-frame phases in order.
package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zeusync/entitysync/internal/config"
	"github.com/zeusync/entitysync/internal/core/events"
	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/internal/core/ownership"
	"github.com/zeusync/entitysync/internal/core/prediction"
	"github.com/zeusync/entitysync/internal/core/replication"
	"github.com/zeusync/entitysync/internal/core/replicator"
	"github.com/zeusync/entitysync/internal/core/rpc"
	"github.com/zeusync/entitysync/internal/core/session"
	"github.com/zeusync/entitysync/internal/core/transport"
	"github.com/zeusync/entitysync/pkg/encoding"
)

// Client wires a session, its rpc dispatcher and the entity replicator
// together. It is driven from a single frame thread: Connect, Frame, Attach
// and friends must not be called concurrently.
type Client struct {
	cfg    *config.Config
	logger log.Log
	bus    events.Bus
	store  *replication.MemoryStore

	dialer     transport.Dialer
	session    *session.Machine
	replicator *replicator.Replicator
	dispatcher *rpc.Dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// Stats is a snapshot of the client's counters.
type Stats struct {
	Status     session.Status
	Replicator replicator.Stats
	RPC        rpc.Stats
}

type Option func(*options)

type options struct {
	dialer      transport.Dialer
	bus         events.Bus
	sessionOpts []session.Option
}

// WithDialer replaces the dialer chosen from the configured transport.
func WithDialer(d transport.Dialer) Option { return func(o *options) { o.dialer = d } }

func WithBus(b events.Bus) Option { return func(o *options) { o.bus = b } }

func WithSource(s session.ServerSource) Option {
	return func(o *options) { o.sessionOpts = append(o.sessionOpts, session.WithSource(s)) }
}

func WithHandshake(h session.Handshake) Option {
	return func(o *options) { o.sessionOpts = append(o.sessionOpts, session.WithHandshake(h)) }
}

// New validates cfg and builds an unconnected client.
func New(cfg *config.Config, logger log.Log, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if logger == nil {
		logger = log.Provide()
	}
	o := options{bus: events.NewBus()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		cfg:    cfg,
		logger: logger.With(log.Component("client")),
		bus:    o.bus,
		store:  replication.NewMemoryStore(),
		dialer: o.dialer,
	}
	if c.dialer == nil {
		d, err := newDialer(cfg, c.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		c.dialer = d
	}

	rcfg, err := replicatorConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	sessOpts := append([]session.Option{session.WithBus(c.bus), session.WithLogger(c.logger)}, o.sessionOpts...)
	c.session = session.NewMachine(cfg.Session.Machine(), c.dialer, sessOpts...)
	c.replicator = replicator.New(rcfg, replication.CallerFunc(c.call), c.store, c.session.LocalPlayerID,
		replicator.WithBus(c.bus), replicator.WithLogger(c.logger), replicator.WithRoster(c.session))

	c.logger.Info("Client created", log.String("transport", string(c.dialer.Kind())))
	return c, nil
}

func newDialer(cfg *config.Config, logger log.Log) (transport.Dialer, error) {
	kind, err := transport.ParseKind(cfg.Session.Transport)
	if err != nil {
		return nil, err
	}
	opts := cfg.Transport.Options()
	opts.Logger = logger
	if cfg.Session.Token != "" {
		opts.Header = http.Header{"Authorization": []string{"Bearer " + cfg.Session.Token}}
	}
	return transport.ForKind(kind, opts)
}

func replicatorConfig(cfg *config.Config) (replicator.Config, error) {
	policy, err := cfg.Sync.Policy()
	if err != nil {
		return replicator.Config{}, err
	}
	kinds := make(map[ownership.Kind]replicator.KindConfig, len(cfg.Entities))
	for name, ent := range cfg.Entities {
		kind, err := ownership.ParseKind(name)
		if err != nil {
			return replicator.Config{}, err
		}
		schema, err := ent.Schema()
		if err != nil {
			return replicator.Config{}, fmt.Errorf("entities.%s: %w", name, err)
		}
		kinds[kind] = replicator.KindConfig{Schema: schema, Excluded: ent.Excluded, ExcludedHashes: ent.ExcludedHashes}
	}
	return replicator.Config{
		UpdatesPerSecond: cfg.Sync.UpdatesPerSecond,
		Policy:           policy,
		SyncLayerStates:  cfg.Sync.SyncLayerStates,
		CrossFade:        cfg.Sync.CrossFade,
		Prediction:       cfg.Prediction,
		Kinds:            kinds,
	}, nil
}

// Connect starts an asynchronous connection attempt. Its outcome shows up in
// Status after a later Frame. ctx bounds the whole connection lifetime, not
// just the attempt.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed {
		return ErrClientClosed
	}
	if c.dispatcher != nil || c.session.Pending() {
		return ErrAlreadyConnected
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	if !c.session.BeginConnect(c.ctx) {
		return ErrAlreadyConnected
	}
	return nil
}

// Frame runs one frame: connection bookkeeping and incoming calls first, then
// the update phase (scheduled sends), then the late update phase (remote
// animation and prediction). dt is unscaled seconds since the last frame.
func (c *Client) Frame(dt float64) {
	if c.closed {
		return
	}
	if c.session.Poll() && c.session.Status() == session.StatusSuccess {
		c.startDispatcher()
	}

	if d := c.dispatcher; d != nil {
		d.Drain(c.dispatch)
		select {
		case <-d.Done():
			c.stopDispatcher(d.Err())
		default:
		}
	}

	c.replicator.Update(dt)
	c.replicator.LateUpdate(dt)
}

func (c *Client) startDispatcher() {
	c.dispatcher = rpc.NewDispatcher(c.session.Conn(), c.cfg.RPC, c.logger)
	c.dispatcher.Start(c.ctx)
	c.logger.Info("Session established",
		log.Uint32("player", uint32(c.session.LocalPlayerID())),
		log.String("server", c.session.Server().Address))
}

func (c *Client) stopDispatcher(reason error) {
	d := c.dispatcher
	c.dispatcher = nil
	if err := d.Close(); err != nil {
		c.logger.Debug("Closing dispatcher", log.Error(err))
	}
	if reason == nil {
		reason = transport.ErrClosed
	}
	c.session.HandleDisconnect(reason)
}

func (c *Client) dispatch(env rpc.Envelope) {
	// Drift is counted and logged by the replicator.
	_ = c.replicator.Dispatch(env.Call, env.Entity, env.Body)
}

func (c *Client) call(call replication.CallID, entity replication.EntityID, payload encoding.Serializable) error {
	if c.dispatcher == nil {
		return ErrNotConnected
	}
	return c.dispatcher.Call(call, entity, payload)
}

// Attach starts replicating an entity. Ownership is decided here, once, so
// entities the local player owns should be attached after the session
// reaches StatusSuccess.
func (c *Client) Attach(spec replicator.Spec) (*replicator.Entity, error) {
	if c.closed {
		return nil, ErrClientClosed
	}
	return c.replicator.Attach(spec)
}

func (c *Client) Detach(id replication.EntityID) bool {
	return c.replicator.Detach(id)
}

func (c *Client) Entity(id replication.EntityID) (*replicator.Entity, bool) {
	return c.replicator.Entity(id)
}

// Input forwards a player input sample to a predicted entity's controller.
func (c *Client) Input(id replication.EntityID, input prediction.Input) {
	c.replicator.Input(id, input)
}

func (c *Client) Status() session.Status { return c.session.Status() }

func (c *Client) LocalPlayerID() ownership.PlayerID { return c.session.LocalPlayerID() }

// Players lists the other players the server has announced, in id order.
// The list empties on disconnect.
func (c *Client) Players() []ownership.PlayerID { return c.session.Players() }

// Err is the reason for the last failed or dropped connection.
func (c *Client) Err() error { return c.session.Err() }

func (c *Client) Events() events.Bus { return c.bus }

// Store holds every replicated property the client has seen.
func (c *Client) Store() replication.PropertyStore { return c.store }

func (c *Client) Stats() Stats {
	s := Stats{Status: c.session.Status(), Replicator: c.replicator.Stats()}
	if c.dispatcher != nil {
		s.RPC = c.dispatcher.Stats()
	}
	return s
}

// Close detaches every entity and drops the connection. The client cannot be
// reused.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("Closing client")

	c.replicator.Close()
	if d := c.dispatcher; d != nil {
		c.dispatcher = nil
		_ = d.Close()
	}
	err := c.session.Close()
	if c.cancel != nil {
		c.cancel()
	}
	return err
}
