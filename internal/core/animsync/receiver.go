package animsync

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/internal/core/replication"
)

// ReceiverConfig configures the non-owner side.
type ReceiverConfig struct {
	// Excluded parameters are computed locally and never applied from the
	// network. Entries are matched by name.
	Excluded []string
	// ExcludedHashes matches parameters by wire hash, for schemas that only
	// know the hash.
	ExcludedHashes []uint32
	SyncLayerStates bool
	// CrossFade is the blend duration in seconds for layer state changes.
	CrossFade float64
}

// Receiver applies replicated animation data to a non-owned entity.
type Receiver struct {
	entity   replication.EntityID
	schema   *Schema
	animator Animator
	store    replication.PropertyStore
	excluded []bool
	cfg      ReceiverConfig
	played   []bool
	unwatch  func()
	logger   log.Log
	limiter  *rate.Limiter
	drift    uint64
}

func NewReceiver(
	entity replication.EntityID,
	schema *Schema,
	animator Animator,
	store replication.PropertyStore,
	cfg ReceiverConfig,
	logger log.Log,
) (*Receiver, error) {
	if animator == nil {
		return nil, ErrNilAnimator
	}
	if logger == nil {
		logger = log.Provide()
	}

	r := &Receiver{
		entity:   entity,
		schema:   schema,
		animator: animator,
		store:    store,
		excluded: make([]bool, schema.Len()),
		cfg:      cfg,
		played:   make([]bool, schema.Layers()),
		logger:   logger.With(log.Component("animsync.receiver"), log.Entity(uint32(entity))),
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
	}

	hashes := make(map[uint32]struct{}, len(cfg.ExcludedHashes))
	for _, h := range cfg.ExcludedHashes {
		hashes[h] = struct{}{}
	}
	for _, name := range cfg.Excluded {
		hashes[HashName(name)] = struct{}{}
	}
	for i := 0; i < schema.Len(); i++ {
		_, r.excluded[i] = hashes[schema.Hash(i)]
	}

	if cfg.SyncLayerStates {
		r.unwatch = store.Watch(r.onPropertyChange)
		for layer := 0; layer < schema.Layers(); layer++ {
			id, _ := replication.StateProperty(layer)
			if v, ok := store.Get(entity, id); ok {
				r.applyLayer(layer, v.Int())
			}
		}
	}
	return r, nil
}

// Close stops watching the property store.
func (r *Receiver) Close() {
	if r.unwatch != nil {
		r.unwatch()
		r.unwatch = nil
	}
}

// Drift counts received values that did not fit the schema.
func (r *Receiver) Drift() uint64 { return r.drift }

// Excluded reports whether parameter i is never applied from the network.
func (r *Receiver) Excluded(i int) bool {
	return r.schema.Valid(i) && r.excluded[i]
}

// LateUpdate copies every replicated parameter value onto the animator.
func (r *Receiver) LateUpdate() {
	for i := 0; i < r.schema.Len(); i++ {
		p := r.schema.Param(i)
		if p.Type == ParamTrigger || r.excluded[i] {
			continue
		}
		id, _ := replication.ParamProperty(i)
		v, ok := r.store.Get(r.entity, id)
		if !ok {
			continue
		}
		switch p.Type {
		case ParamBool:
			r.animator.SetBool(p.Name, v.Bool())
		case ParamInt:
			r.animator.SetInt(p.Name, v.Int())
		case ParamFloat:
			r.animator.SetFloat(p.Name, v.Float())
		}
	}
}

// OnParams folds an ANIMATION_PARAM vector into the property store. Values
// past the end of the schema are dropped.
func (r *Receiver) OnParams(p *replication.ParamPayload) {
	for i, v := range p.Values {
		if !r.schema.Valid(i) {
			r.reportDrift("parameter vector longer than schema", log.Int("index", i), log.Int("params", r.schema.Len()))
			return
		}
		if v.IsZero() || r.schema.Param(i).Type == ParamTrigger {
			continue
		}
		id, _ := replication.ParamProperty(i)
		r.store.Set(r.entity, id, v)
	}
}

// OnTrigger fires the addressed trigger exactly once.
func (r *Receiver) OnTrigger(p *replication.TriggerPayload) {
	i := int(p.Param)
	if !r.schema.Valid(i) || r.schema.Param(i).Type != ParamTrigger {
		r.reportDrift("trigger index not a trigger parameter", log.Int("index", i))
		return
	}
	r.animator.FireTrigger(r.schema.Param(i).Name)
}

// OnLayerState stores a layer state received by remote call. The property
// watcher then applies it like any replicated state change.
func (r *Receiver) OnLayerState(p *replication.StatePayload) {
	layer := int(p.Layer)
	if layer < 0 || layer >= r.schema.Layers() {
		r.reportDrift("layer index out of range", log.Int("layer", layer))
		return
	}
	if !r.cfg.SyncLayerStates {
		return
	}
	id, _ := replication.StateProperty(layer)
	if cur, ok := r.store.Get(r.entity, id); ok && cur.Int() == p.StateHash {
		return
	}
	r.store.Set(r.entity, id, replication.IntValue(p.StateHash))
}

func (r *Receiver) onPropertyChange(entity replication.EntityID, id replication.PropertyID, v replication.Value, _ bool) {
	if entity != r.entity {
		return
	}
	layer, ok := replication.LayerIndex(id)
	if !ok {
		return
	}
	if layer >= r.schema.Layers() {
		r.reportDrift("layer property out of range", log.Int("layer", layer))
		return
	}
	r.applyLayer(layer, v.Int())
}

// applyLayer plays the first state a layer receives directly and cross-fades
// every later one.
func (r *Receiver) applyLayer(layer int, hash int32) {
	if !r.played[layer] {
		r.played[layer] = true
		r.animator.Play(layer, hash)
		return
	}
	if r.animator.LayerState(layer) == hash {
		return
	}
	r.animator.CrossFade(layer, hash, r.cfg.CrossFade)
}

func (r *Receiver) reportDrift(msg string, fields ...log.Field) {
	r.drift++
	if r.limiter.Allow() {
		r.logger.Warn(msg, append(fields, log.Uint64("drift_total", r.drift))...)
	}
}
