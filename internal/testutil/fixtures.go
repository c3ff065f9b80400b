// Package testutil builds small ligands, boxes and grid maps shared by tests.
package testutil

import (
	"github.com/brensch/mcdock/grid"
	"github.com/brensch/mcdock/ligand"
	"github.com/brensch/mcdock/scoring"
)

// Butanol is a three-frame C-C-C-C-O chain with two active torsions. Each
// rotatable frame starts at the atom sitting on its origin; coordinates are
// relative to the owning frame origin.
func Butanol() *ligand.Topology {
	t := &ligand.Topology{
		Name: "butanol",
		Frames: []ligand.Frame{
			{Parent: -1, Begin: 0, End: 2},
			{Parent: 0, Begin: 2, End: 3, Active: true, Origin: [3]float32{2, 1.4, 0}, Axis: [3]float32{0.5, 1.4, 0}},
			{Parent: 1, Begin: 3, End: 5, Active: true, Origin: [3]float32{1.5, 0, 0}, Axis: [3]float32{1, 0, 0}},
		},
		Atoms: []ligand.Atom{
			{Type: scoring.CH, Coord: [3]float32{0, 0, 0}},
			{Type: scoring.CH, Coord: [3]float32{1.5, 0, 0}},
			{Type: scoring.CP, Coord: [3]float32{0, 0, 0}},
			{Type: scoring.CP, Coord: [3]float32{0, 0, 0}},
			{Type: scoring.ODA, Coord: [3]float32{0.5, 1.4, 0}},
		},
	}
	t.Pairs = t.CrossFramePairs()
	return t
}

// Rigid is a single-frame triatomic ligand with no torsions.
func Rigid() *ligand.Topology {
	return &ligand.Topology{
		Name:   "rigid",
		Frames: []ligand.Frame{{Parent: -1, Begin: 0, End: 3}},
		Atoms: []ligand.Atom{
			{Type: scoring.NA, Coord: [3]float32{0, 0, 0}},
			{Type: scoring.CH, Coord: [3]float32{1.4, 0, 0}},
			{Type: scoring.OA, Coord: [3]float32{-0.7, 1.2, 0}},
		},
	}
}

// Box is a 12 A cube centred on the origin with 0.5 A granularity.
func Box() grid.Box {
	b, err := grid.NewBox([3]float32{}, [3]float32{12, 12, 12}, 0.5)
	if err != nil {
		panic(err)
	}
	return b
}

// Funnel fills one map per atom type with a smooth well centred in the box,
// scaled differently per type so maps are distinguishable. Types not listed in
// types get no map.
func Funnel(b grid.Box, types ...scoring.AtomType) [][]float32 {
	maps := make([][]float32, scoring.NumTypes)
	c := b.Center()
	for _, t := range types {
		scale := 0.05 * float32(1+int(t))
		maps[t] = grid.Fill(b, func(p [3]float32) float32 {
			return scale * ligand.DistanceSqr(p, c)
		})
	}
	return maps
}

// Table returns a fully precalculated coarse scoring table.
func Table() *scoring.Table {
	t := scoring.NewTable(32, scoring.DefaultCutoff)
	t.PrecalculateAll()
	return t
}
