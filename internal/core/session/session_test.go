package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/zeusync/entitysync/internal/core/events"
	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/internal/core/ownership"
	"github.com/zeusync/entitysync/internal/core/transport"
	"github.com/zeusync/entitysync/internal/core/transport/mocks"
)

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

type harness struct {
	ctrl   *gomock.Controller
	dialer *mocks.MockDialer
	conn   *mocks.MockConn
	bus    events.Bus
	seen   []events.StatusChange
}

func newHarness(t *testing.T) *harness {
	ctrl := gomock.NewController(t)
	h := &harness{
		ctrl:   ctrl,
		dialer: mocks.NewMockDialer(ctrl),
		conn:   mocks.NewMockConn(ctrl),
		bus:    events.NewBus(),
	}
	h.dialer.EXPECT().Kind().Return(transport.KindWebSocket).AnyTimes()
	h.conn.EXPECT().SetReadDeadline(gomock.Any()).Return(nil).AnyTimes()
	h.bus.Subscribe(events.StatusChanged, func(e events.Event) error {
		h.seen = append(h.seen, e.Data.(events.StatusChange))
		return nil
	})
	return h
}

func (h *harness) machine(opts ...Option) *Machine {
	cfg := DefaultConfig()
	cfg.Endpoint = "10.0.0.1:7777"
	cfg.ConnectTimeout = time.Second
	opts = append([]Option{WithBus(h.bus), WithLogger(log.Nop())}, opts...)
	return NewMachine(cfg, h.dialer, opts...)
}

func pollUntilSettled(t *testing.T, m *Machine) {
	t.Helper()
	require.Eventually(t, m.Poll, 2*time.Second, time.Millisecond)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "Idle", StatusIdle.String())
	assert.Equal(t, "FailedTimeout", StatusFailedTimeout.String())
	assert.Equal(t, "Unknown", Status(99).String())

	for _, s := range []Status{StatusFailedNoServers, StatusFailedDial, StatusFailedAuth, StatusFailedTimeout} {
		assert.True(t, s.IsFailure(), s.String())
		assert.True(t, s.Settled(), s.String())
	}
	for _, s := range []Status{StatusIdle, StatusConnecting, StatusSuccess, StatusDisconnected} {
		assert.False(t, s.IsFailure(), s.String())
	}
	assert.False(t, StatusConnecting.Settled())
	assert.False(t, StatusSuccess.Settled())
}

func TestMachine_ConnectSuccess(t *testing.T) {
	h := newHarness(t)
	h.dialer.EXPECT().Dial(gomock.Any(), "10.0.0.1:7777").Return(h.conn, nil)
	h.conn.EXPECT().Receive().Return([]byte(token(t, jwt.MapClaims{"player_id": 5})), nil)

	m := h.machine()
	require.True(t, m.BeginConnect(context.Background()))
	assert.Equal(t, StatusConnecting, m.Status())
	assert.Nil(t, m.Conn())

	pollUntilSettled(t, m)
	assert.Equal(t, StatusSuccess, m.Status())
	assert.Equal(t, ownership.PlayerID(5), m.LocalPlayerID())
	assert.Same(t, h.conn, m.Conn())
	assert.Equal(t, "10.0.0.1:7777", m.Server().Address)

	// A held connection makes further attempts no-ops.
	assert.False(t, m.BeginConnect(context.Background()))

	assert.Equal(t, []events.StatusChange{
		{From: "Idle", To: "Connecting"},
		{From: "Connecting", To: "Success"},
	}, h.seen)
}

func TestMachine_SecondBeginConnectWhileDialingIsNoop(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	h.dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string) (transport.Conn, error) {
			<-release
			return nil, errors.New("refused")
		}).Times(1)

	m := h.machine()
	require.True(t, m.BeginConnect(context.Background()))
	assert.False(t, m.BeginConnect(context.Background()))
	assert.True(t, m.Pending())
	assert.False(t, m.Poll())

	close(release)
	pollUntilSettled(t, m)
	assert.Equal(t, StatusFailedDial, m.Status())
	assert.False(t, m.Pending())
	assert.Nil(t, m.Conn())
	assert.EqualError(t, m.Err(), "refused")
}

func TestMachine_NoServers(t *testing.T) {
	h := newHarness(t)
	m := h.machine(WithSource(StaticSource{}))
	require.True(t, m.BeginConnect(context.Background()))
	pollUntilSettled(t, m)
	assert.Equal(t, StatusFailedNoServers, m.Status())
	assert.ErrorIs(t, m.Err(), ErrNoServers)
}

func TestMachine_HandshakeFailureReleasesConnection(t *testing.T) {
	h := newHarness(t)
	h.dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(h.conn, nil)
	h.conn.EXPECT().Receive().Return(nil, errors.New("reset by peer"))
	h.conn.EXPECT().Close().Return(nil)

	m := h.machine()
	m.BeginConnect(context.Background())
	pollUntilSettled(t, m)
	assert.Equal(t, StatusFailedAuth, m.Status())
	assert.Nil(t, m.Conn())
}

func TestMachine_BadTokenFailsAuth(t *testing.T) {
	h := newHarness(t)
	h.dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(h.conn, nil)
	h.conn.EXPECT().Receive().Return([]byte(token(t, jwt.MapClaims{"name": "bob"})), nil)
	h.conn.EXPECT().Close().Return(nil)

	m := h.machine()
	m.BeginConnect(context.Background())
	pollUntilSettled(t, m)
	assert.Equal(t, StatusFailedAuth, m.Status())
	assert.ErrorIs(t, m.Err(), ErrNoPlayerID)
	assert.Zero(t, m.LocalPlayerID())
	assert.Nil(t, m.Conn())
}

func TestMachine_Timeout(t *testing.T) {
	h := newHarness(t)
	h.dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, _ string) (transport.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	cfg := DefaultConfig()
	cfg.ConnectTimeout = 20 * time.Millisecond
	m := NewMachine(cfg, h.dialer, WithBus(h.bus), WithLogger(log.Nop()))
	m.BeginConnect(context.Background())
	pollUntilSettled(t, m)
	assert.Equal(t, StatusFailedTimeout, m.Status())
}

func TestMachine_RetryAfterFailureIsCallersChoice(t *testing.T) {
	h := newHarness(t)
	gomock.InOrder(
		h.dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(nil, errors.New("refused")),
		h.dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(h.conn, nil),
	)
	h.conn.EXPECT().Receive().Return([]byte("12"), nil)

	m := h.machine()
	m.BeginConnect(context.Background())
	pollUntilSettled(t, m)
	require.Equal(t, StatusFailedDial, m.Status())

	// Nothing happens on its own.
	time.Sleep(10 * time.Millisecond)
	assert.False(t, m.Poll())
	assert.Equal(t, StatusFailedDial, m.Status())

	require.True(t, m.BeginConnect(context.Background()))
	pollUntilSettled(t, m)
	assert.Equal(t, StatusSuccess, m.Status())
	assert.Equal(t, ownership.PlayerID(12), m.LocalPlayerID())
}

func TestMachine_DisconnectReleasesConnection(t *testing.T) {
	h := newHarness(t)
	h.dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(h.conn, nil)
	h.conn.EXPECT().Receive().Return([]byte("3"), nil)
	h.conn.EXPECT().Close().Return(nil).Times(1)

	m := h.machine()
	m.BeginConnect(context.Background())
	pollUntilSettled(t, m)
	m.PlayerJoined(8)

	reason := errors.New("server closed")
	m.HandleDisconnect(reason)
	assert.Equal(t, StatusDisconnected, m.Status())
	assert.Nil(t, m.Conn())
	assert.Zero(t, m.LocalPlayerID())
	assert.Empty(t, m.Players())
	assert.ErrorIs(t, m.Err(), reason)

	m.HandleDisconnect(errors.New("again"))
	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Err(), reason)
}

func TestMachine_CloseDuringHandshakeClosesLateConnection(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{})
	release := make(chan string)
	closed := make(chan struct{})
	h.dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(h.conn, nil)
	h.conn.EXPECT().Close().DoAndReturn(func() error {
		close(closed)
		return nil
	}).Times(1)

	m := h.machine(WithHandshake(func(context.Context, transport.Conn) (string, error) {
		close(entered)
		return <-release, nil
	}))
	require.True(t, m.BeginConnect(context.Background()))
	<-entered

	require.NoError(t, m.Close())
	assert.Equal(t, StatusIdle, m.Status())
	release <- "7"

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection finished after Close was never closed")
	}
	assert.False(t, m.Poll())
	assert.Nil(t, m.Conn())
	assert.Zero(t, m.LocalPlayerID())
}

func TestMachine_AbandonedAttemptsDoNotBlock(t *testing.T) {
	const attempts = 10
	h := newHarness(t)
	release := make(chan struct{})
	var closed atomic.Int32
	conns := make([]*mocks.MockConn, 0, attempts)
	for range attempts {
		c := mocks.NewMockConn(h.ctrl)
		c.EXPECT().Close().DoAndReturn(func() error {
			closed.Add(1)
			return nil
		}).Times(1)
		conns = append(conns, c)
	}
	var mu sync.Mutex
	h.dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, string) (transport.Conn, error) {
			<-release
			mu.Lock()
			defer mu.Unlock()
			c := conns[0]
			conns = conns[1:]
			return c, nil
		}).Times(attempts)

	m := h.machine(WithHandshake(func(context.Context, transport.Conn) (string, error) {
		return "4", nil
	}))
	for range attempts {
		require.True(t, m.BeginConnect(context.Background()))
		require.NoError(t, m.Close())
	}
	close(release)

	require.Eventually(t, func() bool { return closed.Load() == attempts }, 2*time.Second, time.Millisecond)
	assert.False(t, m.Poll())
	assert.Equal(t, StatusIdle, m.Status())
}

func TestMachine_Roster(t *testing.T) {
	h := newHarness(t)
	var joined, left []uint32
	h.bus.Subscribe(events.PlayerJoined, func(e events.Event) error {
		joined = append(joined, e.Data.(events.Player).ID)
		return nil
	})
	h.bus.Subscribe(events.PlayerLeft, func(e events.Event) error {
		left = append(left, e.Data.(events.Player).ID)
		return nil
	})

	m := h.machine()
	m.PlayerJoined(7)
	m.PlayerJoined(7)
	m.PlayerJoined(0)
	m.PlayerJoined(9)
	m.PlayerLeft(7)
	m.PlayerLeft(42)

	assert.Equal(t, []uint32{7, 9}, joined[:2])
	assert.Equal(t, []uint32{7}, left)
	assert.Equal(t, []ownership.PlayerID{9}, m.Players())

	m.PlayerJoined(2)
	assert.Equal(t, []ownership.PlayerID{2, 9}, m.Players())
}

func TestParsePlayerID(t *testing.T) {
	cases := []struct {
		name   string
		detail string
		claim  string
		want   ownership.PlayerID
		err    bool
	}{
		{name: "decimal", detail: " 42 ", want: 42},
		{name: "jwt numeric claim", detail: token(t, jwt.MapClaims{"player_id": 5}), want: 5},
		{name: "jwt custom claim", detail: token(t, jwt.MapClaims{"pid": "77"}), claim: "pid", want: 77},
		{name: "jwt subject fallback", detail: token(t, jwt.MapClaims{"sub": "9"}), want: 9},
		{name: "zero", detail: "0", err: true},
		{name: "empty", detail: "", err: true},
		{name: "fractional", detail: token(t, jwt.MapClaims{"player_id": 1.5}), err: true},
		{name: "garbage", detail: "not-a-token", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePlayerID(tc.detail, tc.claim)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHTTPServerSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]Server{
			{Name: "full", Address: "a:1", Players: 4, MaxPlayers: 4, Version: "1.0"},
			{Name: "old", Address: "b:1", Version: "0.9"},
			{Name: "good", Address: "c:1", Players: 1, MaxPlayers: 4, Version: "1.0"},
		})
	}))
	defer srv.Close()

	got, err := NewHTTPServerSource(srv.URL+"/", "1.0").Servers(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].Name)

	_, err = NewHTTPServerSource(srv.URL, "2.0").Servers(context.Background())
	assert.ErrorIs(t, err, ErrNoServers)
}

func TestHTTPServerSource_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPServerSource(srv.URL, "").Servers(context.Background())
	assert.Error(t, err)
}

func TestConfig_Source(t *testing.T) {
	cfg := DefaultConfig()
	assert.IsType(t, StaticSource{}, cfg.Source())
	cfg.ServersURL = "http://master.local"
	assert.IsType(t, &HTTPServerSource{}, cfg.Source())
}
