/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package physics adapts the Chipmunk2D port to the small set of operations
// a stage needs: create a body from an arbitrary simple polygon, teleport
// it, step the world, read a body back and ask whether it has come to rest.
//
// All values are in world units. Bodies are addressed by Handle, an index
// into an arena that is private to the World.
package physics

import (
	"fmt"
	"math"

	"github.com/jakecoffman/cp"

	"github.com/Seednode/towerbox/internal/geom"
)

type Handle int

type Config struct {
	Gravity    geom.Point
	TimeStep   float64
	Iterations int

	// SleepTime is how long a body has to stay idle before it sleeps.
	SleepTime float64

	// CollisionSlop is the overlap tolerated between resting colliders.
	CollisionSlop float64

	Friction float64
	Density  float64
}

func DefaultConfig() Config {
	return Config{
		Gravity:       geom.Point{X: 0, Y: 9.81},
		TimeStep:      1.0 / 60.0,
		Iterations:    10,
		SleepTime:     0.5,
		CollisionSlop: 0.005,
		Friction:      1.0,
		Density:       1.0,
	}
}

type body struct {
	body   *cp.Body
	shapes []*cp.Shape
}

type World struct {
	cfg    Config
	space  *cp.Space
	bodies []*body
}

func NewWorld(cfg Config) *World {
	def := DefaultConfig()
	if cfg.TimeStep <= 0 {
		cfg.TimeStep = def.TimeStep
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = def.Iterations
	}
	if cfg.SleepTime <= 0 {
		cfg.SleepTime = def.SleepTime
	}
	if cfg.CollisionSlop <= 0 {
		cfg.CollisionSlop = def.CollisionSlop
	}
	if cfg.Density <= 0 {
		cfg.Density = def.Density
	}

	space := cp.NewSpace()
	space.SetGravity(cp.Vector{X: cfg.Gravity.X, Y: cfg.Gravity.Y})
	space.Iterations = uint(cfg.Iterations)
	space.SleepTimeThreshold = cfg.SleepTime
	space.SetCollisionSlop(cfg.CollisionSlop)

	return &World{cfg: cfg, space: space}
}

func (w *World) TimeStep() float64 {
	return w.cfg.TimeStep
}

// AddGround inserts a static box collider covering bounds.
func (w *World) AddGround(bounds geom.Rect) {
	bb := cp.BB{L: bounds.Min.X, B: bounds.Min.Y, R: bounds.Max.X, T: bounds.Max.Y}
	shape := w.space.AddShape(cp.NewBox2(w.space.StaticBody, bb, 0))
	shape.SetFriction(w.cfg.Friction)
}

// CreateBody builds a dynamic body whose local frame is the outline's
// frame. Non-convex outlines are split into convex pieces first.
func (w *World) CreateBody(outline geom.Outline) (Handle, error) {
	pieces, err := Decompose(outline)
	if err != nil {
		return 0, err
	}

	var area float64
	for _, piece := range pieces {
		area += piece.Area()
	}
	if area <= 0 || math.IsNaN(area) {
		return 0, ErrDegenerateOutline
	}

	// mass, moment and center of gravity accumulate from the shapes' densities
	b := w.space.AddBody(cp.NewBody(0, 0))

	entry := &body{body: b}
	for _, piece := range pieces {
		if piece.Area() <= 0 {
			continue
		}
		v := toVectors(piece)
		shape := w.space.AddShape(cp.NewPolyShape(b, len(v), v, cp.NewTransformIdentity(), 0))
		shape.SetFriction(w.cfg.Friction)
		shape.SetDensity(w.cfg.Density)
		entry.shapes = append(entry.shapes, shape)
	}

	w.bodies = append(w.bodies, entry)
	return Handle(len(w.bodies) - 1), nil
}

func (w *World) lookup(h Handle) *body {
	if h < 0 || int(h) >= len(w.bodies) || w.bodies[h] == nil {
		panic(fmt.Sprintf("physics: unknown body handle %d", h))
	}
	return w.bodies[h]
}

// SetTransform teleports the body without touching its velocity.
func (w *World) SetTransform(h Handle, position geom.Point, angle float64) {
	b := w.lookup(h).body
	b.Activate()
	// the angle goes first: SetAngle rotates about the center of gravity
	b.SetAngle(angle)
	b.SetPosition(cp.Vector{X: position.X, Y: position.Y})
}

func (w *World) Step() {
	w.space.Step(w.cfg.TimeStep)
}

func (w *World) Transform(h Handle) (geom.Point, float64) {
	b := w.lookup(h).body
	p := b.Position()
	rot := b.Rotation()
	return geom.Point{X: p.X, Y: p.Y}, math.Atan2(rot.Y, rot.X)
}

func (w *World) IsAtRest(h Handle) bool {
	return w.lookup(h).body.IsSleeping()
}

// RemoveBody takes a body and its colliders out of the simulation. The
// handle is never reused.
func (w *World) RemoveBody(h Handle) {
	entry := w.lookup(h)
	for _, s := range entry.shapes {
		w.space.RemoveShape(s)
	}
	w.space.RemoveBody(entry.body)
	w.bodies[h] = nil
}

func (w *World) Len() int {
	n := 0
	for _, b := range w.bodies {
		if b != nil {
			n++
		}
	}
	return n
}

type bodyState struct {
	position        cp.Vector
	angle           float64
	velocity        cp.Vector
	angularVelocity float64
}

// Snapshot is an opaque copy of every live body's kinematic state.
type Snapshot struct {
	states map[Handle]bodyState
}

func (w *World) Snapshot() Snapshot {
	s := Snapshot{states: make(map[Handle]bodyState, len(w.bodies))}
	for i, entry := range w.bodies {
		if entry == nil {
			continue
		}
		b := entry.body
		s.states[Handle(i)] = bodyState{
			position:        b.Position(),
			angle:           b.Angle(),
			velocity:        b.Velocity(),
			angularVelocity: b.AngularVelocity(),
		}
	}
	return s
}

// Restore puts every body captured by s back where it was. Bodies created
// after the snapshot are left alone. Restored bodies are awake, so a
// rolled-back stack has to settle again before it reports rest.
func (w *World) Restore(s Snapshot) {
	for h, st := range s.states {
		if int(h) >= len(w.bodies) || w.bodies[h] == nil {
			continue
		}
		b := w.bodies[h].body
		b.Activate()
		b.SetAngle(st.angle)
		b.SetPosition(st.position)
		b.SetVelocityVector(st.velocity)
		b.SetAngularVelocity(st.angularVelocity)
	}
}

// Checkpoint snapshots the world and returns a function that restores it.
func (w *World) Checkpoint() func() {
	s := w.Snapshot()
	return func() {
		w.Restore(s)
	}
}

func toVectors(o geom.Outline) []cp.Vector {
	out := make([]cp.Vector, len(o))
	for i, p := range o {
		out[i] = cp.Vector{X: p.X, Y: p.Y}
	}
	return out
}
