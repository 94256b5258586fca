package animsync

import (
	"fmt"
	"strings"

	"github.com/zeusync/entitysync/internal/core/replication"
)

// DirtyPolicy decides when a parameter is marked for retransmission.
type DirtyPolicy uint8

const (
	// PolicyAlwaysSend marks every non-trigger parameter dirty on every tick.
	// It spends bandwidth to avoid missed updates from float comparisons.
	PolicyAlwaysSend DirtyPolicy = iota
	// PolicyDiff marks a parameter only when its value changed since the last
	// sample.
	PolicyDiff
)

func ParsePolicy(s string) (DirtyPolicy, error) {
	switch strings.ToLower(s) {
	case "", "always", "always_send":
		return PolicyAlwaysSend, nil
	case "diff":
		return PolicyDiff, nil
	default:
		return PolicyAlwaysSend, fmt.Errorf("unknown dirty policy %q", s)
	}
}

func (p DirtyPolicy) String() string {
	if p == PolicyDiff {
		return "diff"
	}
	return "always"
}

// Tracker caches the last sampled value of each parameter and the dirty bits
// of the next outgoing batch. Trigger parameters never get a dirty bit.
type Tracker struct {
	schema *Schema
	policy DirtyPolicy
	cache  []replication.Value
	dirty  DirtyMask
	primed bool
}

func NewTracker(schema *Schema, policy DirtyPolicy) *Tracker {
	return &Tracker{
		schema: schema,
		policy: policy,
		cache:  make([]replication.Value, schema.Len()),
		dirty:  NewDirtyMask(schema.Len()),
	}
}

func (t *Tracker) Policy() DirtyPolicy { return t.policy }

// Sample reads every non-trigger parameter from the animator, updates the
// cache and marks dirty bits according to the policy.
func (t *Tracker) Sample(a Animator) {
	for i := 0; i < t.schema.Len(); i++ {
		p := t.schema.Param(i)
		var v replication.Value
		switch p.Type {
		case ParamBool:
			v = replication.BoolValue(a.Bool(p.Name))
		case ParamInt:
			v = replication.IntValue(a.Int(p.Name))
		case ParamFloat:
			v = replication.FloatValue(a.Float(p.Name))
		default:
			continue
		}
		if t.policy == PolicyAlwaysSend || !t.primed || !v.Equal(t.cache[i]) {
			t.dirty.Set(i)
		}
		t.cache[i] = v
	}
	t.primed = true
}

// Values returns a copy of the cached value vector, index-aligned with the
// schema. Trigger slots hold the zero Value.
func (t *Tracker) Values() []replication.Value {
	out := make([]replication.Value, len(t.cache))
	copy(out, t.cache)
	return out
}

func (t *Tracker) Dirty() *DirtyMask { return &t.dirty }

// Clear resets the dirty bits after a batch went out.
func (t *Tracker) Clear() { t.dirty.ClearAll() }
