// Package replicator is the per-session context that attaches networked
// entities, wires each one to the components its ownership calls for and
// routes incoming remote calls to them.
package replicator

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/zeusync/entitysync/internal/core/animsync"
	"github.com/zeusync/entitysync/internal/core/events"
	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/internal/core/ownership"
	"github.com/zeusync/entitysync/internal/core/prediction"
	"github.com/zeusync/entitysync/internal/core/replication"
	"github.com/zeusync/entitysync/internal/core/scheduler"
)

var (
	ErrAlreadyAttached = errors.New("entity already attached")
	ErrClosed          = errors.New("replicator is closed")
)

// KindConfig is the animation layout shared by every entity of one kind.
type KindConfig struct {
	Schema         *animsync.Schema
	Excluded       []string
	ExcludedHashes []uint32
}

type Config struct {
	UpdatesPerSecond float64
	Policy           animsync.DirtyPolicy
	SyncLayerStates  bool
	CrossFade        float64
	Prediction       prediction.Config
	Kinds            map[ownership.Kind]KindConfig
}

// Stats counts what happened to incoming calls since the replicator was
// created.
type Stats struct {
	Attached        int
	Dispatched      uint64
	UnknownCalls    uint64
	UnknownEntities uint64
	Malformed       uint64
	// Drift counts values outside the schema, including those rejected by
	// animation receivers.
	Drift          uint64
	TransformsSent uint64
	SendErrors     uint64
}

type Option func(*Replicator)

func WithBus(b events.Bus) Option { return func(r *Replicator) { r.bus = b } }

func WithLogger(l log.Log) Option { return func(r *Replicator) { r.logger = l } }

// WithClock sets the clock handed to prediction engines.
func WithClock(now func() time.Time) Option { return func(r *Replicator) { r.now = now } }

// Roster tracks the remote players announced by the server.
type Roster interface {
	PlayerJoined(id ownership.PlayerID)
	PlayerLeft(id ownership.PlayerID)
}

// WithRoster routes PLAYER_JOINED and PLAYER_LEFT calls to r. Without one
// they are decoded and dropped.
func WithRoster(roster Roster) Option { return func(r *Replicator) { r.roster = roster } }

// LocalPlayerFunc reports the local player id; zero while not connected.
type LocalPlayerFunc func() ownership.PlayerID

// Replicator owns every attached entity. It is not safe for concurrent use;
// all calls happen on the frame thread.
type Replicator struct {
	cfg       Config
	caller    replication.Caller
	store     replication.PropertyStore
	local     LocalPlayerFunc
	scheduler *scheduler.Scheduler
	bus       events.Bus
	logger    log.Log
	now       func() time.Time
	limiter   *rate.Limiter
	empty     *animsync.Schema
	roster    Roster

	entities map[replication.EntityID]*Entity
	// order keeps LateUpdate deterministic.
	order  []replication.EntityID
	stats  Stats
	closed bool
}

func New(cfg Config, caller replication.Caller, store replication.PropertyStore, local LocalPlayerFunc, opts ...Option) *Replicator {
	empty, _ := animsync.NewSchema(nil, 0)
	r := &Replicator{
		cfg:       cfg,
		caller:    caller,
		store:     store,
		local:     local,
		scheduler: scheduler.New(cfg.UpdatesPerSecond),
		now:       time.Now,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 3),
		empty:     empty,
		entities:  make(map[replication.EntityID]*Entity),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bus == nil {
		r.bus = events.Nop{}
	}
	if r.logger == nil {
		r.logger = log.Provide()
	}
	r.logger = r.logger.With(log.Component("replicator"))
	return r
}

func (r *Replicator) Scheduler() *scheduler.Scheduler { return r.scheduler }

func (r *Replicator) Store() replication.PropertyStore { return r.store }

func (r *Replicator) Entity(id replication.EntityID) (*Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

func (r *Replicator) Len() int { return len(r.entities) }

func (r *Replicator) Stats() Stats {
	s := r.stats
	s.Attached = len(r.entities)
	for _, e := range r.entities {
		if e.receiver != nil {
			s.Drift += e.receiver.Drift()
		}
	}
	return s
}

func (r *Replicator) kind(k ownership.Kind) KindConfig {
	kc := r.cfg.Kinds[k]
	if kc.Schema == nil {
		kc.Schema = r.empty
	}
	return kc
}

// Attach classifies the entity once and wires it up. Entities this session
// drives emit on scheduler ticks; remote players get a prediction engine;
// other remote kinds take server transforms verbatim. A missing animator only
// disables animation sync for that entity.
func (r *Replicator) Attach(spec Spec) (*Entity, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if _, ok := r.entities[spec.ID]; ok {
		return nil, ErrAlreadyAttached
	}

	local := r.local()
	e := &Entity{
		id:        spec.ID,
		owner:     spec.Owner,
		delegate:  spec.Delegate,
		kind:      spec.Kind,
		decision:  ownership.Resolve(spec.Owner, local, spec.Kind, spec.Delegate),
		transform: spec.Transform,
		props:     make(prediction.Properties),
		animator:  spec.Animator,
	}
	logger := r.logger.With(log.Entity(uint32(e.id)), log.String("kind", e.kind.String()),
		log.String("classification", e.decision.Classification.String()))

	kc := r.kind(e.kind)
	if e.animator == nil {
		logger.Warn("No animator, animation sync disabled")
	} else if err := r.wireAnimation(e, kc, logger); err != nil {
		logger.Warn("Animation sync disabled", log.Error(err))
		e.sender, e.receiver = nil, nil
	}

	if e.decision.Predict {
		opts := []prediction.Option{prediction.WithClock(r.now), prediction.WithLogger(logger)}
		if spec.Controller != nil {
			opts = append(opts, prediction.WithController(spec.Controller))
		}
		e.engine = prediction.New(r.cfg.Prediction, spec.Transform, opts...)
	}

	if e.decision.Schedule {
		e.sub = r.scheduler.Subscribe(func() { r.emit(e) })
	}

	r.entities[e.id] = e
	r.order = append(r.order, e.id)
	logger.Debug("Attached")
	r.publish(events.EntityAttached, e)
	return e, nil
}

func (r *Replicator) wireAnimation(e *Entity, kc KindConfig, logger log.Log) error {
	if e.animator.LayerCount() < kc.Schema.Layers() {
		return animsync.ErrSchemaAnimatorSize
	}
	var err error
	if e.decision.Schedule {
		e.sender, err = animsync.NewSender(e.id, r.owner, kc.Schema, e.animator, r.caller,
			animsync.SenderConfig{Policy: r.cfg.Policy, SyncLayerStates: r.cfg.SyncLayerStates}, logger)
		return err
	}
	e.receiver, err = animsync.NewReceiver(e.id, kc.Schema, e.animator, r.store, animsync.ReceiverConfig{
		Excluded:        kc.Excluded,
		ExcludedHashes:  kc.ExcludedHashes,
		SyncLayerStates: r.cfg.SyncLayerStates,
		CrossFade:       r.cfg.CrossFade,
	}, logger)
	return err
}

// Detach unregisters the entity's scheduler callback and discards all of its
// cached state. It reports whether the entity was attached.
func (r *Replicator) Detach(id replication.EntityID) bool {
	e, ok := r.entities[id]
	if !ok {
		return false
	}
	if e.sub != nil {
		e.sub.Cancel()
	}
	if e.receiver != nil {
		e.receiver.Close()
	}
	e.engine = nil
	e.predicting = false
	r.store.Forget(id)

	delete(r.entities, id)
	for i, cur := range r.order {
		if cur == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.publish(events.EntityDetached, e)
	return true
}

// Close detaches everything. Attach fails afterwards.
func (r *Replicator) Close() {
	for len(r.order) > 0 {
		r.Detach(r.order[len(r.order)-1])
	}
	r.closed = true
}

// Update runs the update phase: the scheduler may fire and send updates for
// every entity this session drives.
func (r *Replicator) Update(dt float64) {
	r.scheduler.Tick(dt)
}

// Input feeds a player input sample to the entity's local controller.
func (r *Replicator) Input(id replication.EntityID, input prediction.Input) {
	if e, ok := r.entities[id]; ok && e.engine != nil {
		e.engine.InputUpdate(input)
		e.predicting = true
	}
}

// LateUpdate runs the render phase: replicated animation values are applied
// and predicted entities advance toward their targets.
func (r *Replicator) LateUpdate(dt float64) {
	for _, id := range r.order {
		e := r.entities[id]
		if e.receiver != nil {
			e.receiver.LateUpdate()
		}
		if e.engine != nil && e.predicting {
			e.predicting = e.engine.ClientUpdate(dt, &e.transform, e.props)
		}
	}
}

// owner is the id stamped on outgoing calls, read at send time.
func (r *Replicator) owner() uint32 { return uint32(r.local()) }

func (r *Replicator) emit(e *Entity) {
	if e.sender != nil {
		if err := e.sender.Tick(); err != nil {
			r.sendFailed(e, err)
		}
	}

	update := &replication.TransformUpdate{
		Owner:     r.owner(),
		Transform: e.transform,
		Teleport:  e.teleport,
	}
	if err := r.caller.Call(replication.CallTransformUpdate, e.id, update); err != nil {
		r.sendFailed(e, err)
		return
	}
	e.teleport = false
	e.sent++
	r.stats.TransformsSent++
}

func (r *Replicator) sendFailed(e *Entity, err error) {
	r.stats.SendErrors++
	if r.limiter.Allow() {
		r.logger.Debug("Send failed", log.Entity(uint32(e.id)), log.Error(err))
	}
}

func (r *Replicator) publish(typ events.Type, e *Entity) {
	data := events.Entity{
		ID:             uint32(e.id),
		Owner:          uint32(e.owner),
		Kind:           e.kind.String(),
		Classification: e.decision.Classification.String(),
	}
	if err := r.bus.Publish(events.New(typ, "replicator", data)); err != nil {
		r.logger.Warn("Event handler failed", log.String("event", string(typ)), log.Error(err))
	}
}
