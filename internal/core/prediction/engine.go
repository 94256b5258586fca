// Package prediction turns sparse, possibly late server samples of a
// non-owned entity into a smooth per-frame visual state.
//
// Position and scalar properties chase the last known server value with
// critically damped smoothing. Rotation turns toward the server rotation at a
// rate derived from how fast the server itself was turning. Teleports bypass
// all of it.
package prediction

import (
	"time"

	"github.com/zeusync/entitysync/internal/core/observability/log"
	"github.com/zeusync/entitysync/internal/core/replication"
	"github.com/zeusync/entitysync/pkg/mathx"
)

// Properties holds predicted scalar properties by id.
type Properties map[replication.PropertyID]float64

// Input is one sample of player input for a locally simulated controller.
type Input interface {
	// ClearBuffer drops input that has been consumed.
	ClearBuffer()
}

// Controller is a locally simulated copy of the entity used to reconcile
// against the server. When present, the engine chases the controller instead
// of the raw server state.
type Controller interface {
	Advance(input Input)
	Transform() mathx.Transform
	SetTransform(t mathx.Transform)
	Properties() Properties
	SetProperties(p Properties)
}

type Config struct {
	// SmoothTime is the approximate time in seconds to reach the target.
	SmoothTime float64 `yaml:"smooth_time" toml:"smooth_time" json:"smooth_time"`
	// MaxSpeed caps smoothing speed in units per second; zero is unlimited.
	MaxSpeed        float64 `yaml:"max_speed" toml:"max_speed" json:"max_speed"`
	PositionEpsilon float64 `yaml:"position_epsilon" toml:"position_epsilon" json:"position_epsilon"`
	// AngleEpsilon is in degrees.
	AngleEpsilon    float64 `yaml:"angle_epsilon" toml:"angle_epsilon" json:"angle_epsilon"`
	PropertyEpsilon float64 `yaml:"property_epsilon" toml:"property_epsilon" json:"property_epsilon"`
	// DefaultInterval stands in for the server sample interval until two
	// samples have been observed.
	DefaultInterval float64 `yaml:"default_interval" toml:"default_interval" json:"default_interval"`
}

func DefaultConfig() Config {
	return Config{
		SmoothTime:      0.1,
		PositionEpsilon: 0.001,
		AngleEpsilon:    0.01,
		PropertyEpsilon: 0.0001,
		DefaultInterval: 0.1,
	}
}

type Option func(*Engine)

// WithClock replaces the wall clock used to measure server sample intervals.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithController(c Controller) Option {
	return func(e *Engine) { e.controller = c }
}

func WithLogger(l log.Log) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine is the per-entity prediction state. It is not safe for concurrent
// use; all calls happen on the frame thread.
type Engine struct {
	cfg        Config
	now        func() time.Time
	controller Controller
	logger     log.Log

	server      mathx.Transform
	hasServer   bool
	serverProps Properties

	visual   mathx.Transform
	velocity mathx.Vec3
	propVel  map[replication.PropertyID]float64

	// rotationRate is in degrees per second.
	rotationRate float64
	lastSample   time.Time
	interval     float64
	teleported   bool
}

// New creates an engine whose visual and server state start at initial.
func New(cfg Config, initial mathx.Transform, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg,
		now:         time.Now,
		server:      initial,
		serverProps: make(Properties),
		visual:      initial,
		propVel:     make(map[replication.PropertyID]float64),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.Provide()
	}
	return e
}

func (e *Engine) SetController(c Controller) { e.controller = c }

func (e *Engine) Controller() Controller { return e.controller }

// Server returns the last known server transform.
func (e *Engine) Server() mathx.Transform { return e.server }

// ServerProperty returns the last known server value of a property.
func (e *Engine) ServerProperty(id replication.PropertyID) (float64, bool) {
	v, ok := e.serverProps[id]
	return v, ok
}

func (e *Engine) Velocity() mathx.Vec3 { return e.velocity }

// RotationRate is the current rotation catch-up rate in degrees per second.
func (e *Engine) RotationRate() float64 { return e.rotationRate }

// Interval is the last observed time between server samples in seconds.
func (e *Engine) Interval() float64 {
	if e.interval > 0 {
		return e.interval
	}
	return e.cfg.DefaultInterval
}

// ServerUpdate folds a server sample into the last known server state. It
// reports whether the caller should keep running ClientUpdate.
func (e *Engine) ServerUpdate(state *mathx.Transform, props Properties, teleport, idle bool) bool {
	now := e.now()
	var elapsed float64
	if !e.lastSample.IsZero() {
		elapsed = now.Sub(e.lastSample).Seconds()
	}
	e.lastSample = now
	if elapsed > 0 {
		e.interval = elapsed
	}

	if state != nil {
		e.server = *state
		e.hasServer = true
		if !teleport && elapsed > 0 {
			e.rotationRate = mathx.Angle(state.Rotation, e.visual.Rotation) / elapsed
		}
	}
	for id, v := range props {
		e.serverProps[id] = v
	}
	if teleport {
		e.teleported = true
		e.logger.Debug("teleport received")
	}

	if e.controller != nil {
		if state != nil {
			e.controller.SetTransform(*state)
		}
		if props != nil {
			e.controller.SetProperties(copyProps(props))
		}
		return true
	}
	return (state != nil || props != nil) && !idle
}

// ClientUpdate advances the visual state by dt seconds of unscaled time.
// state and props are updated in place. It reports whether more frames are
// needed to converge.
func (e *Engine) ClientUpdate(dt float64, state *mathx.Transform, props Properties) bool {
	if e.teleported {
		e.teleported = false
		if e.hasServer {
			*state = e.server
		}
		if props != nil {
			for id, v := range e.serverProps {
				props[id] = v
			}
		}
		e.velocity = mathx.Zero
		clear(e.propVel)
		e.visual = *state
		return e.controller != nil
	}

	if dt <= 0 {
		e.visual = *state
		return e.controller != nil || !e.converged(state, props)
	}

	target := e.server
	targetProps := e.serverProps
	if e.controller != nil {
		target = e.controller.Transform()
		targetProps = e.controller.Properties()
	}

	if props != nil {
		for id, goal := range targetProps {
			cur, ok := props[id]
			if !ok {
				props[id] = goal
				continue
			}
			vel := e.propVel[id]
			props[id] = mathx.SmoothDamp(cur, goal, &vel, e.cfg.SmoothTime, e.cfg.MaxSpeed, dt)
			e.propVel[id] = vel
		}
	}

	if e.hasServer || e.controller != nil {
		state.Position = mathx.SmoothDampVec3(state.Position, target.Position, &e.velocity, e.cfg.SmoothTime, e.cfg.MaxSpeed, dt)

		rate := e.rotationRate
		if rate <= 0 {
			rate = mathx.Angle(state.Rotation, target.Rotation) / e.Interval()
		}
		state.Rotation = mathx.RotateTowards(state.Rotation, target.Rotation, rate*dt)
		state.Scale = target.Scale
	}

	done := e.controller == nil && e.converged(state, props)
	if done {
		if e.hasServer {
			state.Position = e.server.Position
			state.Rotation = e.server.Rotation
		}
		e.velocity = mathx.Zero
		for id, v := range e.serverProps {
			if props != nil {
				props[id] = v
			}
			delete(e.propVel, id)
		}
	}
	e.visual = *state
	return !done
}

// InputUpdate advances the local controller with the latest input and makes
// sure rotation can catch up with it before the next server sample.
func (e *Engine) InputUpdate(input Input) {
	if e.controller == nil || input == nil {
		return
	}
	e.controller.Advance(input)
	input.ClearBuffer()

	need := mathx.Angle(e.controller.Transform().Rotation, e.visual.Rotation) / e.Interval()
	if need > e.rotationRate {
		e.rotationRate = need
	}
}

// Reset discards all smoothing state and places the entity at t.
func (e *Engine) Reset(t mathx.Transform) {
	e.server = t
	e.visual = t
	e.hasServer = false
	e.velocity = mathx.Zero
	e.rotationRate = 0
	e.interval = 0
	e.lastSample = time.Time{}
	e.teleported = false
	clear(e.serverProps)
	clear(e.propVel)
}

func (e *Engine) converged(state *mathx.Transform, props Properties) bool {
	if e.hasServer {
		if mathx.Dist(state.Position, e.server.Position) > e.cfg.PositionEpsilon {
			return false
		}
		if mathx.Angle(state.Rotation, e.server.Rotation) > e.cfg.AngleEpsilon {
			return false
		}
	}
	if props != nil {
		for id, goal := range e.serverProps {
			if cur, ok := props[id]; !ok || !mathx.Approx(cur, goal, e.cfg.PropertyEpsilon) {
				return false
			}
		}
	}
	return true
}

func copyProps(p Properties) Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
