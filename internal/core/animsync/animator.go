package animsync

import (
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// Animator is the animation controller of one entity. Parameters are
// addressed by name; layers by index.
type Animator interface {
	Bool(name string) bool
	Int(name string) int32
	Float(name string) float64
	SetBool(name string, v bool)
	SetInt(name string, v int32)
	SetFloat(name string, v float64)

	// TriggerFiring reports whether the trigger is set during this tick.
	TriggerFiring(name string) bool
	// FireTrigger sets the trigger so the controller consumes it once.
	FireTrigger(name string)

	LayerCount() int
	LayerState(layer int) int32
	Play(layer int, stateHash int32)
	CrossFade(layer int, stateHash int32, duration float64)
}

var _ Animator = (*MemoryAnimator)(nil)

type memoryLayer struct {
	state    int32
	previous int32
	fade     *gween.Tween
	weight   float32
}

// MemoryAnimator is an in-process Animator. Triggers pulse until EndFrame;
// cross-fades blend the layer weight from 0 to 1 as Update advances.
type MemoryAnimator struct {
	bools    map[string]bool
	ints     map[string]int32
	floats   map[string]float64
	triggers map[string]bool
	fired    map[string]int
	layers   []memoryLayer
}

func NewMemoryAnimator(layers int) *MemoryAnimator {
	a := &MemoryAnimator{
		bools:    make(map[string]bool),
		ints:     make(map[string]int32),
		floats:   make(map[string]float64),
		triggers: make(map[string]bool),
		fired:    make(map[string]int),
		layers:   make([]memoryLayer, layers),
	}
	for i := range a.layers {
		a.layers[i].weight = 1
	}
	return a
}

func (a *MemoryAnimator) Bool(name string) bool       { return a.bools[name] }
func (a *MemoryAnimator) Int(name string) int32       { return a.ints[name] }
func (a *MemoryAnimator) Float(name string) float64   { return a.floats[name] }
func (a *MemoryAnimator) SetBool(name string, v bool) { a.bools[name] = v }
func (a *MemoryAnimator) SetInt(name string, v int32) { a.ints[name] = v }
func (a *MemoryAnimator) SetFloat(name string, v float64) {
	a.floats[name] = v
}

func (a *MemoryAnimator) TriggerFiring(name string) bool { return a.triggers[name] }

func (a *MemoryAnimator) FireTrigger(name string) {
	a.triggers[name] = true
	a.fired[name]++
}

// Fired counts FireTrigger calls for name.
func (a *MemoryAnimator) Fired(name string) int { return a.fired[name] }

// EndFrame consumes every pending trigger.
func (a *MemoryAnimator) EndFrame() {
	clear(a.triggers)
}

func (a *MemoryAnimator) LayerCount() int { return len(a.layers) }

func (a *MemoryAnimator) LayerState(layer int) int32 {
	if layer < 0 || layer >= len(a.layers) {
		return 0
	}
	return a.layers[layer].state
}

func (a *MemoryAnimator) Play(layer int, stateHash int32) {
	if layer < 0 || layer >= len(a.layers) {
		return
	}
	l := &a.layers[layer]
	l.previous = l.state
	l.state = stateHash
	l.fade = nil
	l.weight = 1
}

func (a *MemoryAnimator) CrossFade(layer int, stateHash int32, duration float64) {
	if duration <= 0 {
		a.Play(layer, stateHash)
		return
	}
	if layer < 0 || layer >= len(a.layers) {
		return
	}
	l := &a.layers[layer]
	l.previous = l.state
	l.state = stateHash
	l.fade = gween.New(0, 1, float32(duration), ease.Linear)
	l.weight = 0
}

// Fading reports whether a cross-fade is in progress on layer.
func (a *MemoryAnimator) Fading(layer int) bool {
	return layer >= 0 && layer < len(a.layers) && a.layers[layer].fade != nil
}

// Weight is the blend weight of the layer's current state.
func (a *MemoryAnimator) Weight(layer int) float32 {
	if layer < 0 || layer >= len(a.layers) {
		return 0
	}
	return a.layers[layer].weight
}

// Update advances cross-fades by dt seconds.
func (a *MemoryAnimator) Update(dt float64) {
	for i := range a.layers {
		l := &a.layers[i]
		if l.fade == nil {
			continue
		}
		w, done := l.fade.Update(float32(dt))
		l.weight = w
		if done {
			l.fade = nil
			l.weight = 1
		}
	}
}
