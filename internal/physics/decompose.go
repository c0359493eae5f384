package physics

import (
	"errors"
	"math"

	"github.com/Seednode/towerbox/internal/geom"
)

var ErrDegenerateOutline = errors.New("outline cannot be decomposed into convex pieces")

const epsilon = 1e-9

// Decompose splits a simple polygon of either winding into convex pieces,
// all wound counterclockwise (positive signed area). Ears are clipped
// first, then neighbouring pieces are merged back together while their
// union stays convex.
func Decompose(o geom.Outline) ([]geom.Outline, error) {
	pts := normalize(o)
	if len(pts) < 3 {
		return nil, ErrDegenerateOutline
	}
	if pts.Convex() {
		return []geom.Outline{pts}, nil
	}

	tris, err := triangulate(pts)
	if err != nil {
		return nil, err
	}

	pieces := merge(pts, tris)

	out := make([]geom.Outline, len(pieces))
	for i, piece := range pieces {
		poly := make(geom.Outline, len(piece))
		for j, idx := range piece {
			poly[j] = pts[idx]
		}
		out[i] = poly
	}
	return out, nil
}

// normalize drops repeated and collinear vertices and orients the outline
// counterclockwise.
func normalize(o geom.Outline) geom.Outline {
	pts := make(geom.Outline, 0, len(o))
	for _, p := range o {
		if n := len(pts); n > 0 && pts[n-1] == p {
			continue
		}
		pts = append(pts, p)
	}
	if n := len(pts); n > 1 && pts[0] == pts[n-1] {
		pts = pts[:n-1]
	}

	for changed := true; changed && len(pts) >= 3; {
		changed = false
		for i := range pts {
			a, b, c := pts[(i+len(pts)-1)%len(pts)], pts[i], pts[(i+1)%len(pts)]
			if math.Abs(geom.Cross(b.Sub(a), c.Sub(b))) <= epsilon {
				pts = append(pts[:i], pts[i+1:]...)
				changed = true
				break
			}
		}
	}

	if pts.SignedArea() < 0 {
		for i, j := 0, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}
	return pts
}

func triangulate(pts geom.Outline) ([][]int, error) {
	idx := make([]int, len(pts))
	for i := range idx {
		idx[i] = i
	}

	var tris [][]int
	for len(idx) > 3 {
		clipped := false
		for i := range idx {
			prev, cur, next := idx[(i+len(idx)-1)%len(idx)], idx[i], idx[(i+1)%len(idx)]
			a, b, c := pts[prev], pts[cur], pts[next]
			if geom.Cross(b.Sub(a), c.Sub(b)) <= epsilon {
				continue
			}

			blocked := false
			for _, other := range idx {
				if other == prev || other == cur || other == next {
					continue
				}
				if p := pts[other]; p != a && p != b && p != c && inTriangle(p, a, b, c) {
					blocked = true
					break
				}
			}
			if blocked {
				continue
			}

			tris = append(tris, []int{prev, cur, next})
			idx = append(idx[:i], idx[i+1:]...)
			clipped = true
			break
		}
		if !clipped {
			return nil, ErrDegenerateOutline
		}
	}

	return append(tris, []int{idx[0], idx[1], idx[2]}), nil
}

// inTriangle includes the boundary; the triangle is counterclockwise.
func inTriangle(p, a, b, c geom.Point) bool {
	return geom.Cross(b.Sub(a), p.Sub(a)) >= -epsilon &&
		geom.Cross(c.Sub(b), p.Sub(b)) >= -epsilon &&
		geom.Cross(a.Sub(c), p.Sub(c)) >= -epsilon
}

func merge(pts geom.Outline, pieces [][]int) [][]int {
	for {
		merged := false

	search:
		for i := 0; i < len(pieces); i++ {
			for j := i + 1; j < len(pieces); j++ {
				union, ok := join(pieces[i], pieces[j])
				if !ok || !convexIndices(pts, union) {
					continue
				}
				pieces[i] = union
				pieces = append(pieces[:j], pieces[j+1:]...)
				merged = true
				break search
			}
		}

		if !merged {
			return pieces
		}
	}
}

// join splices two counterclockwise index cycles along a shared edge,
// which runs u->v in p and v->u in q.
func join(p, q []int) ([]int, bool) {
	for i := range p {
		u, v := p[i], p[(i+1)%len(p)]
		for j := range q {
			if q[j] != v || q[(j+1)%len(q)] != u {
				continue
			}

			out := make([]int, 0, len(p)+len(q)-2)
			for k := 0; k < len(p); k++ {
				out = append(out, p[(i+1+k)%len(p)])
			}
			// q from u onward, skipping u and v themselves
			for k := 2; k < len(q); k++ {
				out = append(out, q[(j+k)%len(q)])
			}
			return out, true
		}
	}
	return nil, false
}

func convexIndices(pts geom.Outline, idx []int) bool {
	for i := range idx {
		a, b, c := pts[idx[i]], pts[idx[(i+1)%len(idx)]], pts[idx[(i+2)%len(idx)]]
		if geom.Cross(b.Sub(a), c.Sub(b)) < -epsilon {
			return false
		}
	}
	return true
}
