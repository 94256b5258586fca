// Package session owns the one connection a client holds: finding a server,
// dialing it, learning the local player id and tracking who else is in the
// room.
package session

import (
	"context"
	"errors"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/entitysync/internal/core/events"
	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/internal/core/ownership"
	"github.com/zeusync/entitysync/internal/core/transport"
)

type Config struct {
	Transport string
	// Endpoint is the single static server. Ignored when ServersURL is set.
	Endpoint   string
	ServersURL string
	Version    string
	// Token is presented to the server when dialing.
	Token          string
	PlayerClaim    string
	ConnectTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Transport:      string(transport.KindWebSocket),
		Endpoint:       "127.0.0.1:7777",
		PlayerClaim:    DefaultPlayerClaim,
		ConnectTimeout: 10 * time.Second,
	}
}

// Source builds the ServerSource the config describes.
func (c Config) Source() ServerSource {
	if c.ServersURL != "" {
		return NewHTTPServerSource(c.ServersURL, c.Version)
	}
	return StaticSource{Endpoint: c.Endpoint}
}

// Handshake reads the server's greeting on a fresh connection and returns
// its auth detail.
type Handshake func(ctx context.Context, conn transport.Conn) (string, error)

// GreetingHandshake expects the server's first message to be the session
// token.
func GreetingHandshake(ctx context.Context, conn transport.Conn) (string, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}
	msg, err := conn.Receive()
	if err != nil {
		return "", err
	}
	return string(msg), nil
}

type Option func(*Machine)

func WithSource(s ServerSource) Option { return func(m *Machine) { m.source = s } }

func WithHandshake(h Handshake) Option { return func(m *Machine) { m.handshake = h } }

func WithBus(b events.Bus) Option { return func(m *Machine) { m.bus = b } }

func WithLogger(l log.Log) Option { return func(m *Machine) { m.logger = l } }

type dialResult struct {
	attempt string
	conn    transport.Conn
	server  Server
	status  Status
	auth    string
	err     error
}

// Machine is the connection state machine. Every method except the dial
// goroutine it starts runs on the frame thread.
type Machine struct {
	cfg       Config
	dialer    transport.Dialer
	source    ServerSource
	handshake Handshake
	bus       events.Bus
	logger    log.Log

	status  Status
	conn    transport.Conn
	server  Server
	attempt string
	cancel  context.CancelFunc
	results chan dialResult
	lastErr error

	// mu guards live, the attempt the dial goroutine may still report to.
	mu   sync.Mutex
	live string

	localPlayer ownership.PlayerID
	players     map[ownership.PlayerID]struct{}
}

func NewMachine(cfg Config, dialer transport.Dialer, opts ...Option) *Machine {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	m := &Machine{
		cfg:       cfg,
		dialer:    dialer,
		handshake: GreetingHandshake,
		results:   make(chan dialResult, 1),
		players:   make(map[ownership.PlayerID]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.source == nil {
		m.source = cfg.Source()
	}
	if m.bus == nil {
		m.bus = events.Nop{}
	}
	if m.logger == nil {
		m.logger = log.Provide()
	}
	m.logger = m.logger.With(log.String("component", "session"))
	return m
}

func (m *Machine) Status() Status { return m.status }

// Conn is the held connection, or nil.
func (m *Machine) Conn() transport.Conn { return m.conn }

// Server is the candidate of the current or last attempt.
func (m *Machine) Server() Server { return m.server }

// LocalPlayerID is zero until a connection succeeds.
func (m *Machine) LocalPlayerID() ownership.PlayerID { return m.localPlayer }

// Err explains the last failure or disconnect.
func (m *Machine) Err() error { return m.lastErr }

// Pending reports whether a dial attempt is in flight.
func (m *Machine) Pending() bool { return m.attempt != "" }

// BeginConnect starts one asynchronous attempt against the first server
// candidate. It does nothing and returns false while a connection is held or
// an attempt is in flight. The outcome is applied by Poll.
func (m *Machine) BeginConnect(ctx context.Context) bool {
	if m.conn != nil || m.Pending() {
		return false
	}
	m.attempt = uuid.NewString()
	m.lastErr = nil
	m.server = Server{}
	m.players = make(map[ownership.PlayerID]struct{})

	m.mu.Lock()
	m.live = m.attempt
	m.mu.Unlock()

	ctx, m.cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting", log.String("attempt", m.attempt), log.String("transport", string(m.dialer.Kind())))

	go m.dial(ctx, m.attempt)
	return true
}

func (m *Machine) dial(ctx context.Context, attempt string) {
	res := dialResult{attempt: attempt}
	defer func() { m.deliver(res) }()

	servers, err := m.source.Servers(ctx)
	if err == nil && len(servers) == 0 {
		err = ErrNoServers
	}
	if err != nil {
		res.status, res.err = StatusFailedNoServers, err
		if isTimeout(ctx, err) {
			res.status = StatusFailedTimeout
		}
		return
	}

	target := servers[0]
	res.server = target
	conn, err := m.dialer.Dial(ctx, target.Address)
	if err != nil {
		res.status, res.err = StatusFailedDial, err
		if isTimeout(ctx, err) {
			res.status = StatusFailedTimeout
		}
		return
	}

	auth, err := m.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		res.status, res.err = StatusFailedAuth, err
		if isTimeout(ctx, err) {
			res.status = StatusFailedTimeout
		}
		return
	}
	res.conn, res.status, res.auth = conn, StatusSuccess, auth
}

// deliver hands res to Poll. A result for an abandoned attempt never reaches
// the channel; its connection is closed here instead.
func (m *Machine) deliver(res dialResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res.attempt == m.live {
		select {
		case m.results <- res:
			return
		default:
		}
	}
	if res.conn != nil {
		_ = res.conn.Close()
	}
}

// abandon stops any in-flight attempt from reporting and closes connections
// already queued for Poll.
func (m *Machine) abandon() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = ""
	for {
		select {
		case res := <-m.results:
			if res.conn != nil {
				_ = res.conn.Close()
			}
		default:
			return
		}
	}
}

// Poll applies the outcome of the in-flight attempt, if it has finished.
// It never blocks and reports whether the status changed.
func (m *Machine) Poll() bool {
	select {
	case res := <-m.results:
		if res.attempt != m.attempt {
			if res.conn != nil {
				_ = res.conn.Close()
			}
			return false
		}
		m.attempt = ""
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.server = res.server
		if res.status == StatusSuccess {
			m.conn = res.conn
		} else {
			m.lastErr = res.err
		}
		m.HandleConnect(res.status, res.auth)
		return true
	default:
		return false
	}
}

// HandleConnect moves to Success or to a failure state. On success the auth
// detail must yield the local player id; otherwise the attempt fails with
// StatusFailedAuth. Any failure releases the connection.
func (m *Machine) HandleConnect(status Status, authDetail string) {
	if status == StatusSuccess {
		id, err := ParsePlayerID(authDetail, m.cfg.PlayerClaim)
		if err != nil {
			m.lastErr = err
			status = StatusFailedAuth
		} else {
			m.localPlayer = id
		}
	}

	if status != StatusSuccess {
		m.release()
		m.localPlayer = 0
		m.logger.Warn("Connection failed", log.String("status", status.String()), log.Error(m.lastErr))
	} else {
		m.logger.Info("Connected", log.Uint32("player", uint32(m.localPlayer)))
	}
	m.setStatus(status)
}

// HandleDisconnect records reason, moves to Disconnected and releases the
// connection. It is a no-op unless a connection was up.
func (m *Machine) HandleDisconnect(reason error) {
	if m.status != StatusSuccess {
		return
	}
	m.lastErr = reason
	m.release()
	m.localPlayer = 0
	m.players = make(map[ownership.PlayerID]struct{})
	m.logger.Info("Disconnected", log.Error(reason))
	m.setStatus(StatusDisconnected)
}

// PlayerJoined records a remote player entering the room.
func (m *Machine) PlayerJoined(id ownership.PlayerID) {
	if id == 0 || id == m.localPlayer {
		return
	}
	if _, ok := m.players[id]; ok {
		return
	}
	m.players[id] = struct{}{}
	m.publish(events.PlayerJoined, events.Player{ID: uint32(id)})
}

func (m *Machine) PlayerLeft(id ownership.PlayerID) {
	if _, ok := m.players[id]; !ok {
		return
	}
	delete(m.players, id)
	m.publish(events.PlayerLeft, events.Player{ID: uint32(id)})
}

// Players lists remote players currently in the room, in id order.
func (m *Machine) Players() []ownership.PlayerID {
	out := make([]ownership.PlayerID, 0, len(m.players))
	for id := range m.players {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Close abandons any in-flight attempt and releases the connection.
func (m *Machine) Close() error {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.attempt = ""
	m.abandon()
	switch m.status {
	case StatusSuccess:
		m.HandleDisconnect(nil)
	case StatusConnecting:
		m.setStatus(StatusIdle)
	}
	m.release()
	return nil
}

func (m *Machine) release() {
	if m.conn == nil {
		return
	}
	if err := m.conn.Close(); err != nil {
		m.logger.Debug("Closing connection", log.Error(err))
	}
	m.conn = nil
}

func (m *Machine) setStatus(s Status) {
	prev := m.status
	m.status = s
	if prev == s {
		return
	}
	m.publish(events.StatusChanged, events.StatusChange{From: prev.String(), To: s.String(), Failure: s.IsFailure()})
}

func (m *Machine) publish(typ events.Type, data any) {
	if err := m.bus.Publish(events.New(typ, "session", data)); err != nil {
		m.logger.Warn("Event handler failed", log.String("event", string(typ)), log.Error(err))
	}
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
