package animsync

import (
	"errors"

	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/internal/core/replication"
)

// SenderStats counts what a Sender put on the wire.
type SenderStats struct {
	Batches  uint64
	Triggers uint64
	States   uint64
}

// Sender runs on the authoritative side. Tick is wired to the update
// scheduler; each call sends one parameter batch, any firing triggers and,
// when enabled, the state of every layer.
type Sender struct {
	entity     replication.EntityID
	owner      OwnerFunc
	schema     *Schema
	animator   Animator
	caller     replication.Caller
	tracker    *Tracker
	triggers   []int
	syncLayers bool
	logger     log.Log
	stats      SenderStats
}

// OwnerFunc returns the player id stamped on outgoing calls. It is read on
// every send since the session may reconnect under a new id.
type OwnerFunc func() uint32

// StaticOwner always reports id.
func StaticOwner(id uint32) OwnerFunc { return func() uint32 { return id } }

type SenderConfig struct {
	Policy          DirtyPolicy
	SyncLayerStates bool
}

func NewSender(
	entity replication.EntityID,
	owner OwnerFunc,
	schema *Schema,
	animator Animator,
	caller replication.Caller,
	cfg SenderConfig,
	logger log.Log,
) (*Sender, error) {
	if animator == nil {
		return nil, ErrNilAnimator
	}
	if logger == nil {
		logger = log.Provide()
	}
	return &Sender{
		entity:     entity,
		owner:      owner,
		schema:     schema,
		animator:   animator,
		caller:     caller,
		tracker:    NewTracker(schema, cfg.Policy),
		triggers:   schema.Triggers(),
		syncLayers: cfg.SyncLayerStates,
		logger:     logger.With(log.Component("animsync.sender"), log.Entity(uint32(entity))),
	}, nil
}

func (s *Sender) Stats() SenderStats { return s.stats }

// Tracker exposes the delta tracker, mostly for inspection.
func (s *Sender) Tracker() *Tracker { return s.tracker }

// Tick samples the animator and sends this tick's calls. Send errors are
// joined and returned; the dirty bits are cleared regardless since the next
// tick resamples everything anyway.
func (s *Sender) Tick() error {
	var errs []error

	s.tracker.Sample(s.animator)
	if s.tracker.Dirty().Any() {
		payload := &replication.ParamPayload{
			Mask:   s.tracker.Dirty().Words(),
			Values: s.tracker.Values(),
		}
		if err := s.caller.Call(replication.CallAnimationParam, s.entity, payload); err != nil {
			errs = append(errs, err)
		} else {
			s.stats.Batches++
		}
	}

	owner := s.owner()
	for _, i := range s.triggers {
		if !s.animator.TriggerFiring(s.schema.Param(i).Name) {
			continue
		}
		payload := &replication.TriggerPayload{Owner: owner, Param: int32(i)}
		if err := s.caller.Call(replication.CallAnimationTrigger, s.entity, payload); err != nil {
			errs = append(errs, err)
			continue
		}
		s.stats.Triggers++
	}

	if s.syncLayers {
		layers := min(s.schema.Layers(), s.animator.LayerCount())
		for layer := 0; layer < layers; layer++ {
			payload := &replication.StatePayload{
				Owner:     owner,
				Layer:     int32(layer),
				StateHash: s.animator.LayerState(layer),
			}
			if err := s.caller.Call(replication.CallAnimationState, s.entity, payload); err != nil {
				errs = append(errs, err)
				continue
			}
			s.stats.States++
		}
	}

	s.tracker.Clear()

	if err := errors.Join(errs...); err != nil {
		s.logger.Debug("animation send failed", log.Error(err))
		return err
	}
	return nil
}
