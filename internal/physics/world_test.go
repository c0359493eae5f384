package physics

import (
	"errors"
	"math"
	"testing"

	"github.com/Seednode/towerbox/internal/geom"
)

func box(half float64) geom.Outline {
	return geom.Outline{{X: -half, Y: -half}, {X: half, Y: -half}, {X: half, Y: half}, {X: -half, Y: half}}
}

func TestDecomposeConvexIsSinglePiece(t *testing.T) {
	pieces, err := Decompose(box(1))
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(pieces) != 1 {
		t.Fatalf("got %d pieces, want 1", len(pieces))
	}
	if pieces[0].SignedArea() <= 0 {
		t.Fatal("piece is not counterclockwise")
	}
}

func TestDecomposeNonConvex(t *testing.T) {
	tests := map[string]geom.Outline{
		"ell":   {{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 20}, {X: 22, Y: 20}, {X: 22, Y: 30}, {X: 0, Y: 30}},
		"arch":  {{X: 0, Y: 0}, {X: 32, Y: 0}, {X: 32, Y: 18}, {X: 24, Y: 18}, {X: 24, Y: 8}, {X: 8, Y: 8}, {X: 8, Y: 18}, {X: 0, Y: 18}},
		"tee":   {{X: 0, Y: 0}, {X: 30, Y: 0}, {X: 30, Y: 9}, {X: 20, Y: 9}, {X: 20, Y: 24}, {X: 10, Y: 24}, {X: 10, Y: 9}, {X: 0, Y: 9}},
		"star":  star(5, 10, 4),
		"ccw-l": {{X: 0, Y: 30}, {X: 22, Y: 30}, {X: 22, Y: 20}, {X: 10, Y: 20}, {X: 10, Y: 0}, {X: 0, Y: 0}},
	}

	for name, outline := range tests {
		t.Run(name, func(t *testing.T) {
			pieces, err := Decompose(outline)
			if err != nil {
				t.Fatalf("Decompose: %v", err)
			}
			if len(pieces) < 2 {
				t.Fatalf("got %d pieces for a non-convex outline", len(pieces))
			}

			var total float64
			for i, p := range pieces {
				if !p.Convex() {
					t.Fatalf("piece %d is not convex: %v", i, p)
				}
				if p.SignedArea() <= 0 {
					t.Fatalf("piece %d is not counterclockwise", i)
				}
				total += p.Area()
			}
			if want := outline.Area(); math.Abs(total-want) > 1e-6 {
				t.Fatalf("pieces cover %v, outline area is %v", total, want)
			}
		})
	}
}

func star(points int, outer, inner float64) geom.Outline {
	var o geom.Outline
	for i := 0; i < points*2; i++ {
		r := outer
		if i%2 == 1 {
			r = inner
		}
		a := float64(i) * math.Pi / float64(points)
		o = append(o, geom.Point{X: r * math.Cos(a), Y: r * math.Sin(a)})
	}
	return o
}

func TestDecomposeDegenerate(t *testing.T) {
	for _, o := range []geom.Outline{
		{{X: 0, Y: 0}, {X: 1, Y: 1}},
		{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}},
		{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}},
	} {
		if _, err := Decompose(o); !errors.Is(err, ErrDegenerateOutline) {
			t.Fatalf("Decompose(%v) err = %v, want ErrDegenerateOutline", o, err)
		}
	}
}

func newTestWorld() *World {
	w := NewWorld(DefaultConfig())
	w.AddGround(geom.Rect{Min: geom.Point{X: 1, Y: 4}, Max: geom.Point{X: 5.4, Y: 4.2}})
	return w
}

func TestBodySettlesOnGround(t *testing.T) {
	w := newTestWorld()

	h, err := w.CreateBody(box(0.3))
	if err != nil {
		t.Fatalf("CreateBody: %v", err)
	}
	w.SetTransform(h, geom.Point{X: 3.2, Y: 3}, 0)

	rested := false
	for range 3600 {
		w.Step()
		if w.IsAtRest(h) {
			rested = true
			break
		}
	}
	if !rested {
		t.Fatal("body never came to rest")
	}

	pos, angle := w.Transform(h)
	if math.Abs(pos.Y-3.7) > 0.05 {
		t.Fatalf("resting y = %v, want about 3.7", pos.Y)
	}
	if math.Abs(pos.X-3.2) > 0.05 {
		t.Fatalf("resting x = %v, want about 3.2", pos.X)
	}
	if math.Abs(angle) > 0.05 {
		t.Fatalf("resting angle = %v, want about 0", angle)
	}
}

func TestBodyOffTheGroundKeepsFalling(t *testing.T) {
	w := newTestWorld()

	h, err := w.CreateBody(box(0.3))
	if err != nil {
		t.Fatalf("CreateBody: %v", err)
	}
	w.SetTransform(h, geom.Point{X: 6.2, Y: 3}, 0)

	for range 120 {
		w.Step()
	}
	pos, _ := w.Transform(h)
	if pos.Y < 4.5 {
		t.Fatalf("body at y = %v after 2s of free fall", pos.Y)
	}
	if w.IsAtRest(h) {
		t.Fatal("a falling body is not at rest")
	}
}

func TestTransformRoundTrip(t *testing.T) {
	w := NewWorld(DefaultConfig())

	h, err := w.CreateBody(geom.Outline{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 2}, {X: 0.5, Y: 1}, {X: 0, Y: 2}})
	if err != nil {
		t.Fatalf("CreateBody: %v", err)
	}
	w.SetTransform(h, geom.Point{X: 1.5, Y: -2}, -2.5)

	pos, angle := w.Transform(h)
	if math.Abs(pos.X-1.5) > 1e-9 || math.Abs(pos.Y+2) > 1e-9 {
		t.Fatalf("position = %+v", pos)
	}
	if math.Abs(angle+2.5) > 1e-9 {
		t.Fatalf("angle = %v, want -2.5", angle)
	}
}

func TestCheckpointRestoresAndRemoveBody(t *testing.T) {
	w := newTestWorld()

	h, err := w.CreateBody(box(0.3))
	if err != nil {
		t.Fatalf("CreateBody: %v", err)
	}
	w.SetTransform(h, geom.Point{X: 3.2, Y: 1}, 0.25)
	before, beforeAngle := w.Transform(h)

	rollback := w.Checkpoint()
	extra, err := w.CreateBody(box(0.2))
	if err != nil {
		t.Fatalf("CreateBody: %v", err)
	}
	for range 30 {
		w.Step()
	}
	if p, _ := w.Transform(h); p.Y <= before.Y {
		t.Fatalf("body did not fall: %v -> %v", before.Y, p.Y)
	}

	rollback()
	w.RemoveBody(extra)

	after, afterAngle := w.Transform(h)
	if after.Sub(before).Len() > 1e-9 || math.Abs(afterAngle-beforeAngle) > 1e-9 {
		t.Fatalf("restored to %+v/%v, want %+v/%v", after, afterAngle, before, beforeAngle)
	}
	if w.Len() != 1 {
		t.Fatalf("Len() = %d after RemoveBody, want 1", w.Len())
	}

	defer func() {
		if recover() == nil {
			t.Fatal("removed handle should panic on use")
		}
	}()
	w.Transform(extra)
}

// lShape stands on its long foot; its local origin is the top left corner.
func lShape() geom.Outline {
	return geom.Outline{{X: 0, Y: 0}, {X: 0.5, Y: 0}, {X: 0.5, Y: 1.5}, {X: 2, Y: 1.5}, {X: 2, Y: 2}, {X: 0, Y: 2}}
}

func TestNonConvexBodyMassAndFrame(t *testing.T) {
	w := newTestWorld()

	h, err := w.CreateBody(lShape())
	if err != nil {
		t.Fatalf("CreateBody: %v", err)
	}
	if got := len(w.lookup(h).shapes); got < 2 {
		t.Fatalf("shapes = %d, want the L split into convex pieces", got)
	}

	b := w.lookup(h).body
	if math.Abs(b.Mass()-1.75) > 1e-9 {
		t.Fatalf("mass = %v, want 1.75", b.Mass())
	}
	if b.Moment() <= 0 {
		t.Fatalf("moment = %v", b.Moment())
	}

	pos, angle := w.Transform(h)
	if pos.Len() > 1e-9 || math.Abs(angle) > 1e-9 {
		t.Fatalf("new body at %+v/%v, want the outline's origin", pos, angle)
	}

	w.SetTransform(h, geom.Point{X: 2.5, Y: 1}, 0)
	rested := false
	for range 3600 {
		w.Step()
		if w.IsAtRest(h) {
			rested = true
			break
		}
	}
	if !rested {
		t.Fatal("L shape never came to rest")
	}

	pos, angle = w.Transform(h)
	if math.Abs(pos.X-2.5) > 0.05 {
		t.Fatalf("resting x = %v, want about 2.5", pos.X)
	}
	if math.Abs(pos.Y-2) > 0.05 {
		t.Fatalf("resting y = %v, want about 2", pos.Y)
	}
	if math.Abs(angle) > 0.05 {
		t.Fatalf("resting angle = %v, want about 0", angle)
	}
}

func TestRollbackWakesBodies(t *testing.T) {
	w := newTestWorld()

	h, err := w.CreateBody(box(0.3))
	if err != nil {
		t.Fatalf("CreateBody: %v", err)
	}
	w.SetTransform(h, geom.Point{X: 3.2, Y: 3.6}, 0)
	for range 3600 {
		w.Step()
		if w.IsAtRest(h) {
			break
		}
	}
	if !w.IsAtRest(h) {
		t.Fatal("body never came to rest")
	}
	rested, _ := w.Transform(h)

	w.Checkpoint()()
	if w.IsAtRest(h) {
		t.Fatal("restored body still asleep")
	}

	for range 3600 {
		w.Step()
		if w.IsAtRest(h) {
			break
		}
	}
	if !w.IsAtRest(h) {
		t.Fatal("restored body never came to rest again")
	}
	if p, _ := w.Transform(h); p.Sub(rested).Len() > 0.01 {
		t.Fatalf("restored body moved from %+v to %+v", rested, p)
	}
}
