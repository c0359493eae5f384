/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package stage owns one running tower game: the stack of objects, the
// physics world they live in, and the turn algorithm that drops the pending
// object, runs the simulation until it settles and scores the result.
//
// Scene coordinates are pixels with y growing downward. The physics world
// works in pixels multiplied by WorldScale.
package stage

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Seednode/towerbox/internal/geom"
	"github.com/Seednode/towerbox/internal/physics"
	"github.com/Seednode/towerbox/internal/shapes"
)

const (
	SceneWidth  = 640.0
	SceneHeight = 480.0

	// GroundLine is the bottom edge of the ground; heights are measured from it.
	GroundLine = 420.0
	// FailureLine is where an object's topmost vertex counts as fallen.
	FailureLine = GroundLine - StrokeWidth/2

	StrokeWidth = 4.0

	WorldScale = 0.01

	spawnClearance = 50.0
	timeBudget     = 60.0
)

var Ground = geom.Rect{
	Min: geom.Point{X: 100, Y: 400},
	Max: geom.Point{X: 540, Y: GroundLine},
}

type Outcome int

const (
	Success Outcome = iota + 1
	Failure
	Timeout
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Timeout:
		return "timeout"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

type Result struct {
	Outcome Outcome
	// Height of the stack above the ground line, in world units.
	Height float64
	Image  []byte
}

// World is the physics capability a Stage drives. One World belongs to
// exactly one Stage.
type World interface {
	AddGround(bounds geom.Rect)
	CreateBody(outline geom.Outline) (physics.Handle, error)
	RemoveBody(h physics.Handle)
	SetTransform(h physics.Handle, position geom.Point, angle float64)
	Transform(h physics.Handle) (geom.Point, float64)
	IsAtRest(h physics.Handle) bool
	Step()
	TimeStep() float64
	Checkpoint() func()
}

type Renderer interface {
	Render(scene Scene) ([]byte, error)
}

type Scene struct {
	Width    float64
	Height   float64
	Ground   geom.Rect
	StackTop float64
	Objects  []SceneObject
	// Icons is shared with the stage and must be treated as read-only.
	Icons map[string][]byte
}

type SceneObject struct {
	Outline  geom.Outline
	Position geom.Point
	Rotation float64
	Owner    string
}

type Object struct {
	Owner    string
	Outline  geom.Outline
	Position geom.Point
	Rotation float64

	body physics.Handle
}

func (o Object) top() float64 {
	return o.Outline.Top(o.Position, o.Rotation)
}

type Option func(*Stage)

func WithRand(r *rand.Rand) Option {
	return func(s *Stage) {
		s.rng = r
	}
}

// WithID overrides the random stage id.
func WithID(id uuid.UUID) Option {
	return func(s *Stage) {
		s.id = id
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Stage) {
		s.logger = l
	}
}

type Stage struct {
	id        uuid.UUID
	createdAt time.Time

	catalog  *shapes.Catalog
	world    World
	renderer Renderer
	rng      *rand.Rand
	logger   *zap.Logger

	objects []Object
	icons   map[string][]byte

	turns int
	best  float64
}

// New creates an empty stage and inserts the ground into world.
func New(catalog *shapes.Catalog, world World, renderer Renderer, opts ...Option) *Stage {
	s := &Stage{
		id:        uuid.New(),
		createdAt: time.Now(),
		catalog:   catalog,
		world:     world,
		renderer:  renderer,
		logger:    zap.NewNop(),
		icons:     make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s.logger = s.logger.With(zap.Stringer("stage", s.id))

	s.world.AddGround(geom.Rect{
		Min: Ground.Min.Scale(WorldScale),
		Max: Ground.Max.Scale(WorldScale),
	})

	return s
}

func (s *Stage) ID() uuid.UUID        { return s.id }
func (s *Stage) CreatedAt() time.Time { return s.createdAt }

// Turns counts committed turns that dropped an object.
func (s *Stage) Turns() int { return s.turns }

func (s *Stage) BestHeight() float64 { return s.best }

func (s *Stage) Objects() []Object {
	out := make([]Object, len(s.objects))
	copy(out, s.objects)
	return out
}

func (s *Stage) HasIcon(participant string) bool {
	_, ok := s.icons[participant]
	return ok
}

func (s *Stage) SetIcon(participant string, data []byte) {
	s.icons[participant] = data
}

// NextTurn positions the pending object, simulates until the stack
// settles, topples or the time budget runs out, and renders the result.
//
// offset in [-1, 1] maps onto the scene width and degrees is the clockwise
// rotation. On a fresh stage there is no pending object yet; the call only
// spawns one. If rendering fails the stage and its world are rolled back
// to where they were before the call.
func (s *Stage) NextTurn(owner string, offset, degrees float64) (Result, error) {
	rollback := s.world.Checkpoint()

	next := s.Objects()
	if n := len(next); n > 0 {
		pending := &next[n-1]
		pending.Owner = owner
		pending.Position.X = (offset + 1) * 0.5 * SceneWidth
		pending.Rotation = geom.Radians(degrees)
		s.world.SetTransform(pending.body, pending.Position.Scale(WorldScale), pending.Rotation)
	}

	outcome, steps := s.converge(next)
	height := (GroundLine - stackTop(next)) * WorldScale

	spawned := false
	if outcome == Success {
		obj, err := s.spawn(stackTop(next))
		if err != nil {
			rollback()
			return Result{}, fmt.Errorf("spawn object: %w", err)
		}
		next = append(next, obj)
		spawned = true
	}

	img, err := s.renderer.Render(s.scene(next))
	if err != nil {
		rollback()
		if spawned {
			s.world.RemoveBody(next[len(next)-1].body)
		}
		return Result{}, fmt.Errorf("render: %w", err)
	}

	if len(s.objects) > 0 {
		s.turns++
	}
	s.objects = next
	s.best = math.Max(s.best, height)

	s.logger.Debug("turn resolved",
		zap.String("owner", owner),
		zap.Stringer("outcome", outcome),
		zap.Int("steps", steps),
		zap.Float64("height", height),
		zap.Int("objects", len(next)),
	)

	return Result{Outcome: outcome, Height: height, Image: img}, nil
}

// converge steps the world until every object sleeps or one of them has
// dropped below the failure line. Poses are written into objects, which is
// a scratch copy of the stage's list.
func (s *Stage) converge(objects []Object) (Outcome, int) {
	limit := int(math.Floor(timeBudget / s.world.TimeStep()))

	for step := 1; step <= limit; step++ {
		s.world.Step()

		for i := range objects {
			pos, angle := s.world.Transform(objects[i].body)
			objects[i].Position = pos.Scale(1 / WorldScale)
			objects[i].Rotation = angle
		}

		for _, o := range objects {
			if o.top() > FailureLine {
				return Failure, step
			}
		}

		resting := true
		for _, o := range objects {
			if !s.world.IsAtRest(o.body) {
				resting = false
				break
			}
		}
		if resting {
			return Success, step
		}
	}

	return Timeout, limit
}

// spawn creates the next pending object centered above the stack.
func (s *Stage) spawn(top float64) (Object, error) {
	outline := s.catalog.At(s.catalog.Random(s.rng))

	h, err := s.world.CreateBody(outline.Scale(WorldScale))
	if err != nil {
		return Object{}, err
	}

	obj := Object{
		Outline: outline,
		Position: geom.Point{
			X: SceneWidth / 2,
			Y: top - outline.Radius() - spawnClearance,
		},
		body: h,
	}
	s.world.SetTransform(h, obj.Position.Scale(WorldScale), 0)

	return obj, nil
}

func (s *Stage) scene(objects []Object) Scene {
	sc := Scene{
		Width:    SceneWidth,
		Height:   SceneHeight,
		Ground:   Ground,
		StackTop: stackTop(objects),
		Objects:  make([]SceneObject, len(objects)),
		Icons:    s.icons,
	}
	for i, o := range objects {
		sc.Objects[i] = SceneObject{
			Outline:  o.Outline,
			Position: o.Position,
			Rotation: o.Rotation,
			Owner:    o.Owner,
		}
	}
	return sc
}

// stackTop is the smallest y reached by any object, never below the ground line.
func stackTop(objects []Object) float64 {
	top := GroundLine
	for _, o := range objects {
		top = math.Min(top, o.top())
	}
	return top
}
