package replicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/entitysync/internal/core/animsync"
	"github.com/zeusync/entitysync/internal/core/events"
	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/internal/core/ownership"
	"github.com/zeusync/entitysync/internal/core/prediction"
	"github.com/zeusync/entitysync/internal/core/replication"
	"github.com/zeusync/entitysync/pkg/encoding"
	"github.com/zeusync/entitysync/pkg/mathx"
)

const frame = 1.0 / 60

type sentCall struct {
	call   replication.CallID
	entity replication.EntityID
	body   []byte
}

// wire records outgoing calls the way the rpc dispatcher would put them on
// the network.
type wire struct {
	calls []sentCall
	fail  error
}

func (w *wire) Call(call replication.CallID, entity replication.EntityID, payload encoding.Serializable) error {
	if w.fail != nil {
		return w.fail
	}
	body, err := payload.Serialize()
	if err != nil {
		return err
	}
	w.calls = append(w.calls, sentCall{call: call, entity: entity, body: body})
	return nil
}

func (w *wire) count(call replication.CallID) int {
	n := 0
	for _, c := range w.calls {
		if c.call == call {
			n++
		}
	}
	return n
}

// relay delivers everything recorded so far to another peer.
func (w *wire) relay(t *testing.T, to *Replicator) {
	t.Helper()
	for _, c := range w.calls {
		require.NoError(t, to.Dispatch(c.call, c.entity, c.body))
	}
	w.calls = nil
}

type peer struct {
	*Replicator
	wire  *wire
	store *replication.MemoryStore
	bus   events.Bus
	local ownership.PlayerID
}

func playerSchema(t *testing.T) *animsync.Schema {
	t.Helper()
	s, err := animsync.NewSchema([]animsync.ParamSpec{
		{Name: "Speed", Type: animsync.ParamFloat},
		{Name: "Jump", Type: animsync.ParamTrigger},
		{Name: "Aim", Type: animsync.ParamFloat},
	}, 1)
	require.NoError(t, err)
	return s
}

func newPeer(t *testing.T, local ownership.PlayerID, now func() time.Time) *peer {
	t.Helper()
	cfg := Config{
		UpdatesPerSecond: 20,
		SyncLayerStates:  true,
		Prediction:       prediction.DefaultConfig(),
		Kinds: map[ownership.Kind]KindConfig{
			ownership.KindPlayer: {Schema: playerSchema(t), Excluded: []string{"Aim"}},
		},
	}
	p := &peer{wire: &wire{}, store: replication.NewMemoryStore(), bus: events.NewBus(), local: local}
	opts := []Option{WithBus(p.bus), WithLogger(log.Nop())}
	if now != nil {
		opts = append(opts, WithClock(now))
	}
	p.Replicator = New(cfg, p.wire, p.store, func() ownership.PlayerID { return p.local }, opts...)
	return p
}

func encode(t *testing.T, s encoding.Serializable) []byte {
	t.Helper()
	b, err := s.Serialize()
	require.NoError(t, err)
	return b
}

func moved(x, y, z float64) mathx.Transform {
	tr := mathx.NewTransform()
	tr.Position = mathx.V(x, y, z)
	return tr
}

func TestAttach_LocalPlayer(t *testing.T) {
	p := newPeer(t, 5, nil)
	e, err := p.Attach(Spec{ID: 1, Owner: 5, Kind: ownership.KindPlayer, Transform: mathx.NewTransform(), Animator: animsync.NewMemoryAnimator(1)})
	require.NoError(t, err)

	assert.Equal(t, ownership.LocalOwner, e.Classification())
	assert.False(t, e.Decision().ApplyTransform)
	assert.True(t, e.Scheduled())
	assert.Nil(t, e.Engine())
	assert.NotNil(t, e.Sender())
	assert.Nil(t, e.Receiver())
	assert.Equal(t, 1, p.Scheduler().Len())
}

func TestAttach_RemoteBullet(t *testing.T) {
	p := newPeer(t, 5, nil)
	e, err := p.Attach(Spec{ID: 2, Owner: 7, Kind: ownership.KindBullet, Transform: mathx.NewTransform()})
	require.NoError(t, err)

	assert.Equal(t, ownership.RemoteOwner, e.Classification())
	assert.True(t, e.Decision().ApplyTransform)
	assert.Nil(t, e.Engine())
	assert.False(t, e.Scheduled())
	assert.Zero(t, p.Scheduler().Len())
}

func TestAttach_ProxyNPCAndRemotePlayer(t *testing.T) {
	p := newPeer(t, 5, nil)
	npc, err := p.Attach(Spec{ID: 3, Owner: 9, Delegate: 5, Kind: ownership.KindNPC})
	require.NoError(t, err)
	assert.Equal(t, ownership.ProxyOwner, npc.Classification())
	assert.True(t, npc.Scheduled())

	player, err := p.Attach(Spec{ID: 4, Owner: 9, Kind: ownership.KindPlayer, Transform: mathx.NewTransform()})
	require.NoError(t, err)
	assert.Equal(t, ownership.RemoteOwner, player.Classification())
	assert.NotNil(t, player.Engine())
	assert.False(t, player.Decision().ApplyTransform)
}

func TestAttach_NotConnectedNeverOwns(t *testing.T) {
	p := newPeer(t, 0, nil)
	e, err := p.Attach(Spec{ID: 1, Owner: 0, Kind: ownership.KindPlayer})
	require.NoError(t, err)
	assert.Equal(t, ownership.RemoteOwner, e.Classification())
}

func TestAttach_MissingAnimatorDisablesAnimationOnly(t *testing.T) {
	p := newPeer(t, 5, nil)
	e, err := p.Attach(Spec{ID: 1, Owner: 5, Kind: ownership.KindPlayer})
	require.NoError(t, err)
	assert.Nil(t, e.Sender())
	assert.True(t, e.Scheduled())

	p.Update(1)
	assert.Equal(t, 1, p.wire.count(replication.CallTransformUpdate))
	assert.Zero(t, p.wire.count(replication.CallAnimationParam))
}

func TestAttach_AnimatorWithTooFewLayers(t *testing.T) {
	p := newPeer(t, 5, nil)
	e, err := p.Attach(Spec{ID: 1, Owner: 7, Kind: ownership.KindPlayer, Animator: animsync.NewMemoryAnimator(0)})
	require.NoError(t, err)
	assert.Nil(t, e.Receiver())
	assert.NotNil(t, e.Engine())
}

func TestAttach_DuplicateAndClosed(t *testing.T) {
	p := newPeer(t, 5, nil)
	_, err := p.Attach(Spec{ID: 1, Kind: ownership.KindBullet})
	require.NoError(t, err)
	_, err = p.Attach(Spec{ID: 1, Kind: ownership.KindBullet})
	assert.ErrorIs(t, err, ErrAlreadyAttached)

	p.Close()
	assert.Zero(t, p.Len())
	_, err = p.Attach(Spec{ID: 2, Kind: ownership.KindBullet})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUpdate_SendsAtSchedulerRate(t *testing.T) {
	p := newPeer(t, 5, nil)
	e, err := p.Attach(Spec{ID: 1, Owner: 5, Kind: ownership.KindPlayer, Transform: mathx.NewTransform(), Animator: animsync.NewMemoryAnimator(1)})
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		p.Update(frame)
	}
	sent := p.wire.count(replication.CallTransformUpdate)
	assert.InDelta(t, 20, sent, 1)
	assert.Equal(t, uint64(sent), e.TransformsSent())
	assert.Equal(t, sent, p.wire.count(replication.CallAnimationParam))
	assert.Equal(t, sent, p.wire.count(replication.CallAnimationState))
	assert.Equal(t, uint64(sent), p.Stats().TransformsSent)
}

func TestUpdate_TeleportFlagSentOnce(t *testing.T) {
	p := newPeer(t, 5, nil)
	e, err := p.Attach(Spec{ID: 1, Owner: 5, Kind: ownership.KindBullet})
	require.NoError(t, err)

	e.Teleport(moved(100, 0, 0))
	p.Update(1)
	p.Update(1)

	var updates []replication.TransformUpdate
	for _, c := range p.wire.calls {
		var u replication.TransformUpdate
		require.NoError(t, u.Deserialize(c.body))
		updates = append(updates, u)
	}
	require.Len(t, updates, 2)
	assert.True(t, updates[0].Teleport)
	assert.False(t, updates[1].Teleport)
	assert.Equal(t, uint32(5), updates[0].Owner)
	assert.Equal(t, mathx.V(100, 0, 0), updates[1].Transform.Position)
}

func TestUpdate_SendFailureKeepsTeleportPending(t *testing.T) {
	p := newPeer(t, 5, nil)
	e, err := p.Attach(Spec{ID: 1, Owner: 5, Kind: ownership.KindBullet})
	require.NoError(t, err)

	p.wire.fail = replication.ErrNotConnected
	e.Teleport(moved(1, 0, 0))
	p.Update(1)
	assert.Equal(t, uint64(1), p.Stats().SendErrors)

	p.wire.fail = nil
	p.Update(1)
	var u replication.TransformUpdate
	require.Len(t, p.wire.calls, 1)
	require.NoError(t, u.Deserialize(p.wire.calls[0].body))
	assert.True(t, u.Teleport)
}

func TestDetach_StopsEverything(t *testing.T) {
	p := newPeer(t, 5, nil)
	var detached []uint32
	p.bus.Subscribe(events.EntityDetached, func(ev events.Event) error {
		detached = append(detached, ev.Data.(events.Entity).ID)
		return nil
	})

	e, err := p.Attach(Spec{ID: 1, Owner: 5, Kind: ownership.KindPlayer})
	require.NoError(t, err)
	p.store.Set(1, 5, replication.IntValue(3))

	require.True(t, p.Detach(1))
	assert.False(t, p.Detach(1))
	assert.False(t, e.Scheduled())
	assert.Zero(t, p.Scheduler().Len())
	_, ok := p.store.Get(1, 5)
	assert.False(t, ok)
	assert.Equal(t, []uint32{1}, detached)

	p.Update(1)
	assert.Empty(t, p.wire.calls)

	err = p.Dispatch(replication.CallServerSample, 1, nil)
	assert.ErrorIs(t, err, replication.ErrUnknownEntity)
}

func TestDispatch_DirectApply(t *testing.T) {
	p := newPeer(t, 5, nil)
	e, err := p.Attach(Spec{ID: 2, Owner: 7, Kind: ownership.KindBullet, Transform: mathx.NewTransform()})
	require.NoError(t, err)

	target := moved(3, 4, 5)
	sample := &replication.Sample{Transform: &target, Properties: map[replication.PropertyID]float64{9: 1.5}}
	require.NoError(t, p.Dispatch(replication.CallServerSample, 2, encode(t, sample)))

	assert.Equal(t, target, e.Transform())
	v, ok := e.Property(9)
	assert.True(t, ok)
	assert.Equal(t, 1.5, v)
	assert.False(t, e.Predicting())
}

func TestDispatch_PredictedRemotePlayer(t *testing.T) {
	clock := time.Unix(100, 0)
	p := newPeer(t, 5, func() time.Time { return clock })
	e, err := p.Attach(Spec{ID: 4, Owner: 9, Kind: ownership.KindPlayer, Transform: mathx.NewTransform()})
	require.NoError(t, err)

	target := moved(2, 0, 0)
	require.NoError(t, p.Dispatch(replication.CallServerSample, 4, encode(t, &replication.Sample{Transform: &target})))
	require.True(t, e.Predicting())

	last := mathx.Dist(e.Transform().Position, target.Position)
	for i := 0; i < 600 && e.Predicting(); i++ {
		clock = clock.Add(time.Second / 60)
		p.LateUpdate(frame)
		d := mathx.Dist(e.Transform().Position, target.Position)
		require.LessOrEqual(t, d, last)
		last = d
	}
	assert.False(t, e.Predicting())
	assert.Equal(t, target.Position, e.Transform().Position)

	// A teleport snaps on the very next frame even when marked idle.
	jump := moved(-50, 0, 0)
	require.NoError(t, p.Dispatch(replication.CallServerSample, 4,
		encode(t, &replication.Sample{Transform: &jump, Teleport: true, Idle: true})))
	p.LateUpdate(frame)
	assert.Equal(t, jump, e.Transform())
}

func TestDispatch_IdleSampleDoesNotWake(t *testing.T) {
	p := newPeer(t, 5, nil)
	e, err := p.Attach(Spec{ID: 4, Owner: 9, Kind: ownership.KindPlayer, Transform: mathx.NewTransform()})
	require.NoError(t, err)

	same := mathx.NewTransform()
	require.NoError(t, p.Dispatch(replication.CallServerSample, 4, encode(t, &replication.Sample{Transform: &same, Idle: true})))
	assert.False(t, e.Predicting())
}

func TestDispatch_OwnedEntityIgnoresSamplesAndStoresAck(t *testing.T) {
	p := newPeer(t, 5, nil)
	owned, err := p.Attach(Spec{ID: 1, Owner: 5, Kind: ownership.KindBullet, Transform: mathx.NewTransform()})
	require.NoError(t, err)
	remote, err := p.Attach(Spec{ID: 2, Owner: 7, Kind: ownership.KindBullet, Transform: mathx.NewTransform()})
	require.NoError(t, err)

	elsewhere := moved(9, 9, 9)
	require.NoError(t, p.Dispatch(replication.CallServerSample, 1, encode(t, &replication.Sample{Transform: &elsewhere})))
	assert.Equal(t, mathx.NewTransform(), owned.Transform())

	ack := &replication.TransformResponse{Owner: 5, Position: mathx.V(1, 2, 3), Rotation: mathx.Identity, ServerTime: 12.5}
	require.NoError(t, p.Dispatch(replication.CallTransformResponse, 1, encode(t, ack)))
	got, ok := owned.Ack()
	require.True(t, ok)
	assert.Equal(t, *ack, got)

	require.NoError(t, p.Dispatch(replication.CallTransformResponse, 2, encode(t, ack)))
	_, ok = remote.Ack()
	assert.False(t, ok)
}

func TestDispatch_ProtocolDrift(t *testing.T) {
	p := newPeer(t, 5, nil)
	_, err := p.Attach(Spec{ID: 1, Owner: 7, Kind: ownership.KindBullet})
	require.NoError(t, err)

	assert.ErrorIs(t, p.Dispatch(replication.CallID(999), 1, nil), replication.ErrUnknownCall)
	assert.ErrorIs(t, p.Dispatch(replication.CallServerSample, 77, nil), replication.ErrUnknownEntity)
	assert.ErrorIs(t, p.Dispatch(replication.CallServerSample, 1, []byte{0xff}), replication.ErrMalformedPayload)

	far := &replication.PropertySet{ID: 9000, Value: replication.IntValue(1)}
	assert.ErrorIs(t, p.Dispatch(replication.CallPropertySet, 1, encode(t, far)), replication.ErrPropertyOutOfRange)

	gameplay := &replication.PropertySet{ID: 7, Value: replication.FloatValue(2)}
	require.NoError(t, p.Dispatch(replication.CallPropertySet, 1, encode(t, gameplay)))
	v, ok := p.store.Get(1, 7)
	require.True(t, ok)
	assert.Equal(t, 2.0, v.Float())

	s := p.Stats()
	assert.Equal(t, uint64(5), s.Dispatched)
	assert.Equal(t, uint64(1), s.UnknownCalls)
	assert.Equal(t, uint64(1), s.UnknownEntities)
	assert.Equal(t, uint64(1), s.Malformed)
	assert.Equal(t, uint64(1), s.Drift)
	assert.Equal(t, 1, s.Attached)
}

type roster struct {
	joined, left []ownership.PlayerID
}

func (r *roster) PlayerJoined(id ownership.PlayerID) { r.joined = append(r.joined, id) }
func (r *roster) PlayerLeft(id ownership.PlayerID)   { r.left = append(r.left, id) }

func TestDispatch_RosterCalls(t *testing.T) {
	p := newPeer(t, 5, nil)
	room := &roster{}
	WithRoster(room)(p.Replicator)

	require.NoError(t, p.Dispatch(replication.CallPlayerJoined, 0, encode(t, &replication.PlayerPayload{Player: 8})))
	require.NoError(t, p.Dispatch(replication.CallPlayerLeft, 0, encode(t, &replication.PlayerPayload{Player: 8})))

	e := encoding.NewEncoder(8)
	e.Uint(1, 1<<32+8)
	assert.ErrorIs(t, p.Dispatch(replication.CallPlayerJoined, 0, e.Encoded()), replication.ErrMalformedPayload)

	assert.Equal(t, []ownership.PlayerID{8}, room.joined)
	assert.Equal(t, []ownership.PlayerID{8}, room.left)
	s := p.Stats()
	assert.Zero(t, s.UnknownEntities)
	assert.Equal(t, uint64(1), s.Malformed)

	// Without a roster the calls are accepted and dropped.
	q := newPeer(t, 5, nil)
	require.NoError(t, q.Dispatch(replication.CallPlayerJoined, 0, encode(t, &replication.PlayerPayload{Player: 8})))
	assert.Zero(t, q.Stats().UnknownEntities)
}

func TestAnimation_OwnerToRemotePeer(t *testing.T) {
	a := newPeer(t, 5, nil)
	b := newPeer(t, 8, nil)

	ownerAnim := animsync.NewMemoryAnimator(1)
	remoteAnim := animsync.NewMemoryAnimator(1)
	_, err := a.Attach(Spec{ID: 1, Owner: 5, Kind: ownership.KindPlayer, Animator: ownerAnim})
	require.NoError(t, err)
	rb, err := b.Attach(Spec{ID: 1, Owner: 5, Kind: ownership.KindPlayer, Animator: remoteAnim})
	require.NoError(t, err)
	require.NotNil(t, rb.Receiver())

	ownerAnim.SetFloat("Speed", 4.5)
	ownerAnim.SetFloat("Aim", 30)
	ownerAnim.FireTrigger("Jump")
	ownerAnim.Play(0, 77)

	a.Update(1)
	ownerAnim.EndFrame()
	a.wire.relay(t, b.Replicator)
	b.LateUpdate(frame)

	assert.Equal(t, 4.5, remoteAnim.Float("Speed"))
	assert.Zero(t, remoteAnim.Float("Aim"), "excluded parameters stay local")
	assert.Equal(t, 1, remoteAnim.Fired("Jump"))
	assert.Equal(t, int32(77), remoteAnim.LayerState(0))

	// The next tick must not fire the trigger again.
	a.Update(1)
	a.wire.relay(t, b.Replicator)
	b.LateUpdate(frame)
	assert.Equal(t, 1, remoteAnim.Fired("Jump"))

	// Owner transform updates relayed by the server drive prediction on b.
	assert.NotNil(t, rb.Engine())
}

func TestAnimation_SendsCurrentLocalID(t *testing.T) {
	p := newPeer(t, 5, nil)
	anim := animsync.NewMemoryAnimator(1)
	_, err := p.Attach(Spec{ID: 1, Owner: 5, Kind: ownership.KindPlayer, Animator: anim})
	require.NoError(t, err)

	owners := func() (triggers, updates []uint32) {
		for _, c := range p.wire.calls {
			switch c.call {
			case replication.CallAnimationTrigger:
				var tp replication.TriggerPayload
				require.NoError(t, tp.Deserialize(c.body))
				triggers = append(triggers, tp.Owner)
			case replication.CallTransformUpdate:
				var up replication.TransformUpdate
				require.NoError(t, up.Deserialize(c.body))
				updates = append(updates, up.Owner)
			}
		}
		return triggers, updates
	}

	anim.FireTrigger("Jump")
	p.Update(1)
	anim.EndFrame()

	p.local = 12
	anim.FireTrigger("Jump")
	p.Update(1)

	triggers, updates := owners()
	assert.Equal(t, []uint32{5, 12}, triggers)
	assert.Equal(t, []uint32{5, 12}, updates)
}

func TestAnimation_EchoOfOwnCallsIgnored(t *testing.T) {
	p := newPeer(t, 5, nil)
	anim := animsync.NewMemoryAnimator(1)
	_, err := p.Attach(Spec{ID: 1, Owner: 9, Kind: ownership.KindPlayer, Animator: anim})
	require.NoError(t, err)

	own := &replication.TriggerPayload{Owner: 5, Param: 1}
	require.NoError(t, p.Dispatch(replication.CallAnimationTrigger, 1, encode(t, own)))
	assert.Zero(t, anim.Fired("Jump"))

	theirs := &replication.TriggerPayload{Owner: 9, Param: 1}
	require.NoError(t, p.Dispatch(replication.CallAnimationTrigger, 1, encode(t, theirs)))
	assert.Equal(t, 1, anim.Fired("Jump"))
}

func TestDispatch_OversizedTriggerIsDropped(t *testing.T) {
	p := newPeer(t, 5, nil)
	anim := animsync.NewMemoryAnimator(1)
	_, err := p.Attach(Spec{ID: 1, Owner: 9, Kind: ownership.KindPlayer, Animator: anim})
	require.NoError(t, err)

	// Truncated to 32 bits this would name Jump.
	e := encoding.NewEncoder(16)
	e.Uint(1, 9)
	e.Sint(2, 1<<32+1)
	err = p.Dispatch(replication.CallAnimationTrigger, 1, e.Encoded())
	assert.ErrorIs(t, err, replication.ErrMalformedPayload)
	assert.ErrorIs(t, err, encoding.ErrOutOfRange)
	assert.Zero(t, anim.Fired("Jump"))
	assert.Equal(t, uint64(1), p.Stats().Malformed)
}

func TestEvents_AttachPublishes(t *testing.T) {
	p := newPeer(t, 5, nil)
	var got []events.Entity
	p.bus.Subscribe(events.EntityAttached, func(ev events.Event) error {
		got = append(got, ev.Data.(events.Entity))
		return nil
	})
	_, err := p.Attach(Spec{ID: 3, Owner: 9, Delegate: 5, Kind: ownership.KindNPC})
	require.NoError(t, err)
	assert.Equal(t, []events.Entity{{ID: 3, Owner: 9, Kind: "npc", Classification: "proxy"}}, got)
}
