package replicator

import (
	"github.com/zeusync/entitysync/internal/core/animsync"
	"github.com/zeusync/entitysync/internal/core/ownership"
	"github.com/zeusync/entitysync/internal/core/prediction"
	"github.com/zeusync/entitysync/internal/core/replication"
	"github.com/zeusync/entitysync/internal/core/scheduler"
	"github.com/zeusync/entitysync/pkg/mathx"
)

// Spec describes an entity at attach time.
type Spec struct {
	ID       replication.EntityID
	Owner    ownership.PlayerID
	Delegate ownership.PlayerID
	Kind     ownership.Kind

	Transform mathx.Transform
	// Animator may be nil; the entity is then replicated without animation.
	Animator animsync.Animator
	// Controller is an optional local simulation that prediction chases
	// instead of raw server samples.
	Controller prediction.Controller
}

// Entity is the per-entity replication state. It is owned by the Replicator
// and only touched on the frame thread.
type Entity struct {
	id       replication.EntityID
	owner    ownership.PlayerID
	delegate ownership.PlayerID
	kind     ownership.Kind
	decision ownership.Decision

	transform mathx.Transform
	props     prediction.Properties
	animator  animsync.Animator

	sender   *animsync.Sender
	receiver *animsync.Receiver
	engine   *prediction.Engine
	sub      *scheduler.Subscription

	// predicting is the "needs more frames" continuation of the engine.
	predicting bool
	teleport   bool
	ack        *replication.TransformResponse
	sent       uint64
}

func (e *Entity) ID() replication.EntityID { return e.id }

func (e *Entity) Owner() ownership.PlayerID { return e.owner }

func (e *Entity) Kind() ownership.Kind { return e.kind }

func (e *Entity) Decision() ownership.Decision { return e.decision }

func (e *Entity) Classification() ownership.Classification { return e.decision.Classification }

// Transform is the entity's current visual transform.
func (e *Entity) Transform() mathx.Transform { return e.transform }

// SetTransform moves an entity this session drives. The next scheduler tick
// sends it.
func (e *Entity) SetTransform(t mathx.Transform) { e.transform = t }

// Teleport moves the entity and flags the next update as discontinuous so
// peers skip smoothing.
func (e *Entity) Teleport(t mathx.Transform) {
	e.transform = t
	e.teleport = true
}

// Property returns a predicted or directly applied scalar property.
func (e *Entity) Property(id replication.PropertyID) (float64, bool) {
	v, ok := e.props[id]
	return v, ok
}

// Ack is the last TRANSFORM_RESPONSE the server sent for an owned entity.
func (e *Entity) Ack() (replication.TransformResponse, bool) {
	if e.ack == nil {
		return replication.TransformResponse{}, false
	}
	return *e.ack, true
}

// Scheduled reports whether the entity emits updates on scheduler ticks.
func (e *Entity) Scheduled() bool { return e.sub != nil && e.sub.IsActive() }

// Predicting reports whether the prediction engine still needs frames.
func (e *Entity) Predicting() bool { return e.predicting }

func (e *Entity) Engine() *prediction.Engine { return e.engine }

func (e *Entity) Sender() *animsync.Sender { return e.sender }

func (e *Entity) Receiver() *animsync.Receiver { return e.receiver }

// TransformsSent counts TRANSFORM_UPDATE calls accepted by the caller.
func (e *Entity) TransformsSent() uint64 { return e.sent }
