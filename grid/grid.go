// Package grid describes the docking box and the per-atom-type receptor grid
// maps sampled inside it.
package grid

import (
	"fmt"
	"math"
)

// Box is an axis-aligned docking box sampled at a fixed granularity.
// Corner1 is the position of the last probe on each axis, so every point p
// with Corner0 <= p < Corner1 has a full interpolation cell.
type Box struct {
	Corner0            [3]float32
	Corner1            [3]float32
	Granularity        float32
	GranularityInverse float32
	NumProbes          [3]int
}

// NewBox builds a box centred on center with at least the requested size.
func NewBox(center, size [3]float32, granularity float32) (Box, error) {
	if granularity <= 0 {
		return Box{}, fmt.Errorf("granularity must be positive, got %g", granularity)
	}
	b := Box{Granularity: granularity, GranularityInverse: 1 / granularity}
	for i := 0; i < 3; i++ {
		if size[i] <= 0 {
			return Box{}, fmt.Errorf("box size on axis %d must be positive, got %g", i, size[i])
		}
		cells := int(math.Ceil(float64(size[i] / granularity)))
		b.NumProbes[i] = cells + 1
		b.Corner0[i] = center[i] - 0.5*float32(cells)*granularity
		b.Corner1[i] = b.Corner0[i] + float32(cells)*granularity
	}
	return b, nil
}

// Points is the number of probes, i.e. the length of every grid map.
func (b Box) Points() int {
	return b.NumProbes[0] * b.NumProbes[1] * b.NumProbes[2]
}

// Center returns the midpoint of the box.
func (b Box) Center() [3]float32 {
	var c [3]float32
	for i := range c {
		c[i] = 0.5 * (b.Corner0[i] + b.Corner1[i])
	}
	return c
}

// Contains reports whether p lies inside a full interpolation cell.
func (b Box) Contains(p [3]float32) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Corner0[i] || p[i] >= b.Corner1[i] {
			return false
		}
	}
	return true
}

// Index returns the position of probe (x, y, z) in a grid map. x varies fastest.
func (b Box) Index(x, y, z int) int {
	return (z*b.NumProbes[1]+y)*b.NumProbes[0] + x
}

// Validate checks the internal consistency of a box built elsewhere.
func (b Box) Validate() error {
	if b.GranularityInverse <= 0 {
		return fmt.Errorf("granularity inverse must be positive, got %g", b.GranularityInverse)
	}
	for i := 0; i < 3; i++ {
		if b.NumProbes[i] < 2 {
			return fmt.Errorf("axis %d needs at least 2 probes, got %d", i, b.NumProbes[i])
		}
		if b.Corner1[i] <= b.Corner0[i] {
			return fmt.Errorf("axis %d: corner1 %g not above corner0 %g", i, b.Corner1[i], b.Corner0[i])
		}
	}
	return nil
}

// Map is one receptor grid map, laid out as described by Box.Index.
type Map []float32

// Sample trilinearly interpolates m at p. ok is false when p is outside the box.
func Sample(m []float32, b Box, p [3]float32) (float32, bool) {
	return SampleWith(m, b.Corner0, b.NumProbes, b.GranularityInverse, p)
}

// SampleWith is Sample with the box passed as plain values, as the search
// kernel receives it.
func SampleWith(m []float32, corner0 [3]float32, probes [3]int, granularityInverse float32, p [3]float32) (float32, bool) {
	var idx [3]int
	var frac [3]float32
	for i := 0; i < 3; i++ {
		g := (p[i] - corner0[i]) * granularityInverse
		if g < 0 {
			return 0, false
		}
		k := int(g)
		if k >= probes[i]-1 {
			return 0, false
		}
		idx[i] = k
		frac[i] = g - float32(k)
	}

	nx, nxy := probes[0], probes[0]*probes[1]
	base := idx[2]*nxy + idx[1]*nx + idx[0]
	c000 := m[base]
	c100 := m[base+1]
	c010 := m[base+nx]
	c110 := m[base+nx+1]
	c001 := m[base+nxy]
	c101 := m[base+nxy+1]
	c011 := m[base+nxy+nx]
	c111 := m[base+nxy+nx+1]

	fx, fy, fz := frac[0], frac[1], frac[2]
	c00 := c000 + fx*(c100-c000)
	c10 := c010 + fx*(c110-c010)
	c01 := c001 + fx*(c101-c001)
	c11 := c011 + fx*(c111-c011)
	c0 := c00 + fy*(c10-c00)
	c1 := c01 + fy*(c11-c01)
	return c0 + fz*(c1-c0), true
}

// Fill evaluates f at every probe of b and returns the resulting map.
func Fill(b Box, f func(p [3]float32) float32) Map {
	m := make(Map, b.Points())
	for z := 0; z < b.NumProbes[2]; z++ {
		for y := 0; y < b.NumProbes[1]; y++ {
			for x := 0; x < b.NumProbes[0]; x++ {
				p := [3]float32{
					b.Corner0[0] + float32(x)*b.Granularity,
					b.Corner0[1] + float32(y)*b.Granularity,
					b.Corner0[2] + float32(z)*b.Granularity,
				}
				m[b.Index(x, y, z)] = f(p)
			}
		}
	}
	return m
}
