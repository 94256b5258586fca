package replicator

import (
	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/internal/core/ownership"
	"github.com/zeusync/entitysync/internal/core/prediction"
	"github.com/zeusync/entitysync/internal/core/replication"
	"github.com/zeusync/entitysync/pkg/encoding"
	"github.com/zeusync/entitysync/pkg/mathx"
)

// Dispatch routes one incoming remote call. Calls outside the contract, for
// entities that are not attached or with undecodable payloads are dropped,
// counted and returned as protocol drift errors; none of them are fatal.
func (r *Replicator) Dispatch(call replication.CallID, entity replication.EntityID, body []byte) error {
	r.stats.Dispatched++
	if !call.Known() {
		r.stats.UnknownCalls++
		return r.drift(replication.UnknownCall(call), call, entity)
	}
	if call.Roster() {
		return r.onRoster(call, entity, body)
	}
	e, ok := r.entities[entity]
	if !ok {
		r.stats.UnknownEntities++
		return r.drift(replication.UnknownEntity(entity), call, entity)
	}

	switch call {
	case replication.CallServerSample:
		var p replication.Sample
		if err := r.decode(call, entity, body, &p); err != nil {
			return err
		}
		r.onSample(e, p.Transform, p.Properties, p.Teleport, p.Idle)

	case replication.CallTransformUpdate:
		// The server relays other owners' updates verbatim.
		var p replication.TransformUpdate
		if err := r.decode(call, entity, body, &p); err != nil {
			return err
		}
		if ownership.PlayerID(p.Owner) != r.local() {
			r.onSample(e, &p.Transform, nil, p.Teleport, false)
		}

	case replication.CallTransformResponse:
		var p replication.TransformResponse
		if err := r.decode(call, entity, body, &p); err != nil {
			return err
		}
		if e.decision.Classification.Authoritative() {
			e.ack = &p
		}

	case replication.CallPropertySet:
		var p replication.PropertySet
		if err := r.decode(call, entity, body, &p); err != nil {
			return err
		}
		if _, ok := replication.ParamIndex(p.ID); !ok {
			if _, ok := replication.LayerIndex(p.ID); !ok {
				if err := replication.CheckGameplayID(p.ID); err != nil {
					r.stats.Drift++
					return r.drift(err, call, entity)
				}
			}
		}
		r.store.Set(entity, p.ID, p.Value)

	case replication.CallAnimationParam:
		var p replication.ParamPayload
		if err := r.decode(call, entity, body, &p); err != nil {
			return err
		}
		if e.receiver != nil {
			e.receiver.OnParams(&p)
		}

	case replication.CallAnimationTrigger:
		var p replication.TriggerPayload
		if err := r.decode(call, entity, body, &p); err != nil {
			return err
		}
		if e.receiver != nil && !r.echo(p.Owner) {
			e.receiver.OnTrigger(&p)
		}

	case replication.CallAnimationState:
		var p replication.StatePayload
		if err := r.decode(call, entity, body, &p); err != nil {
			return err
		}
		if e.receiver != nil && !r.echo(p.Owner) {
			e.receiver.OnLayerState(&p)
		}
	}
	return nil
}

func (r *Replicator) onRoster(call replication.CallID, entity replication.EntityID, body []byte) error {
	var p replication.PlayerPayload
	if err := r.decode(call, entity, body, &p); err != nil {
		return err
	}
	if r.roster == nil {
		return nil
	}
	if call == replication.CallPlayerJoined {
		r.roster.PlayerJoined(ownership.PlayerID(p.Player))
	} else {
		r.roster.PlayerLeft(ownership.PlayerID(p.Player))
	}
	return nil
}

// onSample applies a server transform to a non-owned entity: through the
// prediction engine when it has one, verbatim otherwise.
func (r *Replicator) onSample(e *Entity, t *mathx.Transform, props map[replication.PropertyID]float64, teleport, idle bool) {
	if e.decision.Classification.Authoritative() {
		return
	}
	if e.engine != nil {
		more := e.engine.ServerUpdate(t, prediction.Properties(props), teleport, idle)
		e.predicting = e.predicting || more || teleport
		return
	}
	if !e.decision.ApplyTransform {
		return
	}
	if t != nil {
		e.transform = *t
	}
	for id, v := range props {
		e.props[id] = v
	}
}

// echo reports whether a call carries this session's own id, i.e. the
// server reflected one of our sends back to us.
func (r *Replicator) echo(owner uint32) bool {
	local := r.local()
	return local != 0 && ownership.PlayerID(owner) == local
}

func (r *Replicator) decode(call replication.CallID, entity replication.EntityID, body []byte, into encoding.Serializable) error {
	if err := into.Deserialize(body); err != nil {
		r.stats.Malformed++
		return r.drift(replication.Malformed(call, err), call, entity)
	}
	return nil
}

func (r *Replicator) drift(err error, call replication.CallID, entity replication.EntityID) error {
	if r.limiter.Allow() {
		r.logger.Warn("Ignoring remote call", log.String("call", call.String()),
			log.Entity(uint32(entity)), log.Error(err))
	}
	return err
}
