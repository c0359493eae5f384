/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package shapes provides the immutable catalog of outlines that new stack
// objects are drawn from, plus the loaders that build it at startup.
package shapes

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/Seednode/towerbox/internal/geom"
)

var (
	ErrEmptyCatalog = errors.New("shape catalog is empty")
	ErrShortOutline = errors.New("outline needs at least 3 points")
)

const DefaultScale = 3.0

type Options struct {
	// Scale multiplies every centered outline. Zero means DefaultScale.
	Scale float64
	// Mirror adds a horizontally mirrored copy right after every outline.
	Mirror bool
}

func (o Options) scale() float64 {
	if o.Scale == 0 {
		return DefaultScale
	}
	return o.Scale
}

// Catalog is read-only after construction. Outlines returned by At are
// shared by every object spawned from them and must not be modified.
type Catalog struct {
	names    []string
	outlines []geom.Outline
}

// New builds a catalog from outlines that are already centered and scaled.
func New(names []string, outlines []geom.Outline) (*Catalog, error) {
	if len(outlines) == 0 {
		return nil, ErrEmptyCatalog
	}
	if len(names) != len(outlines) {
		return nil, fmt.Errorf("catalog has %d names for %d outlines", len(names), len(outlines))
	}

	c := &Catalog{
		names:    make([]string, len(names)),
		outlines: make([]geom.Outline, len(outlines)),
	}
	copy(c.names, names)
	for i, o := range outlines {
		if len(o) < 3 {
			return nil, fmt.Errorf("shape %q: %w", names[i], ErrShortOutline)
		}
		c.outlines[i] = append(geom.Outline(nil), o...)
	}

	return c, nil
}

func (c *Catalog) Len() int {
	return len(c.outlines)
}

func (c *Catalog) At(i int) geom.Outline {
	return c.outlines[i]
}

func (c *Catalog) Name(i int) string {
	return c.names[i]
}

// Random picks an index uniformly.
func (c *Catalog) Random(r *rand.Rand) int {
	return r.IntN(len(c.outlines))
}

// builder accumulates raw outlines and applies Options on the way in.
type builder struct {
	opts     Options
	names    []string
	outlines []geom.Outline
}

func (b *builder) add(name string, raw geom.Outline) error {
	if len(raw) < 3 {
		return fmt.Errorf("shape %q: %w", name, ErrShortOutline)
	}

	center := raw.Bounds().Center()
	scale := b.opts.scale()

	o := make(geom.Outline, len(raw))
	for i, p := range raw {
		o[i] = p.Sub(center).Scale(scale)
	}
	b.names = append(b.names, name)
	b.outlines = append(b.outlines, o)

	if b.opts.Mirror {
		m := make(geom.Outline, len(o))
		for i, p := range o {
			m[i] = geom.Point{X: -p.X, Y: p.Y}
		}
		b.names = append(b.names, name+"-mirrored")
		b.outlines = append(b.outlines, m)
	}

	return nil
}

func (b *builder) catalog() (*Catalog, error) {
	return New(b.names, b.outlines)
}
