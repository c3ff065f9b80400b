// Package ligand defines the flattened ligand description consumed by the
// search kernel: rigid frames connected by rotatable bonds, the atoms of each
// frame and the intramolecular pairs that need pairwise scoring.
//
// The state is designed to be cheap to flatten into device words and to decode
// again inside each search task.
package ligand

import (
	"errors"
	"fmt"
	"math"

	"github.com/brensch/mcdock/scoring"
)

// ErrTopology is wrapped by every validation failure.
var ErrTopology = errors.New("invalid ligand topology")

// Frame is a rigid fragment. The root frame has Parent -1 and its origin is the
// ligand position. Other frames rotate about Axis through their origin, which
// is stored relative to the parent's origin in the reference orientation.
type Frame struct {
	Parent int        `yaml:"parent"`
	Begin  int        `yaml:"begin"`
	End    int        `yaml:"end"`
	Active bool       `yaml:"active"`
	Origin [3]float32 `yaml:"origin"`
	Axis   [3]float32 `yaml:"axis"`
}

// Atom is a heavy atom with its coordinate relative to its frame origin.
type Atom struct {
	Type  scoring.AtomType `yaml:"type"`
	Coord [3]float32       `yaml:"coord"`
}

// Pair is an intramolecular atom pair scored with the pairwise table.
type Pair struct {
	I0 int `yaml:"i0"`
	I1 int `yaml:"i1"`
}

// Topology is the complete per-search ligand description.
type Topology struct {
	Name   string  `yaml:"name"`
	Frames []Frame `yaml:"frames"`
	Atoms  []Atom  `yaml:"atoms"`
	Pairs  []Pair  `yaml:"pairs"`
}

const (
	frameWords = 10
	atomWords  = 4
	pairWords  = 3
)

// NumTorsions is the number of active rotatable bonds.
func (t *Topology) NumTorsions() int {
	n := 0
	for _, f := range t.Frames {
		if f.Active {
			n++
		}
	}
	return n
}

// NV is the number of search variables: 3 translational, 3 rotational and one
// per active torsion.
func (t *Topology) NV() int { return 6 + t.NumTorsions() }

// NF is the number of frames.
func (t *Topology) NF() int { return len(t.Frames) }

// NA is the number of atoms.
func (t *Topology) NA() int { return len(t.Atoms) }

// NP is the number of interacting pairs.
func (t *Topology) NP() int { return len(t.Pairs) }

// ConformationSize is the number of floats in a conformation: position,
// orientation quaternion and torsions.
func (t *Topology) ConformationSize() int { return t.NV() + 1 }

// ResultStride is the number of floats each search task writes back: the best
// energy followed by the best conformation.
func (t *Topology) ResultStride() int { return 1 + t.ConformationSize() }

// Words is the length of the flattened device representation.
func (t *Topology) Words() int {
	return WordsFor(t.NF(), t.NA(), t.NP())
}

// WordsFor is Words for explicit dimensions.
func WordsFor(nf, na, np int) int {
	return frameWords*nf + atomWords*na + pairWords*np
}

// Types returns the distinct atom types used by the ligand.
func (t *Topology) Types() []scoring.AtomType {
	var seen [scoring.NumTypes]bool
	var out []scoring.AtomType
	for _, a := range t.Atoms {
		if !seen[a.Type] {
			seen[a.Type] = true
			out = append(out, a.Type)
		}
	}
	return out
}

// Validate checks the structural invariants the kernel relies on.
func (t *Topology) Validate() error {
	if len(t.Frames) == 0 {
		return fmt.Errorf("%w: no frames", ErrTopology)
	}
	if len(t.Atoms) == 0 {
		return fmt.Errorf("%w: no atoms", ErrTopology)
	}
	next := 0
	for i, f := range t.Frames {
		switch {
		case i == 0 && f.Parent != -1:
			return fmt.Errorf("%w: root frame has parent %d", ErrTopology, f.Parent)
		case i > 0 && (f.Parent < 0 || f.Parent >= i):
			return fmt.Errorf("%w: frame %d has parent %d, parents must precede children", ErrTopology, i, f.Parent)
		case i == 0 && f.Active:
			return fmt.Errorf("%w: root frame cannot be a torsion", ErrTopology)
		}
		if f.Begin != next || f.End <= f.Begin {
			return fmt.Errorf("%w: frame %d covers atoms [%d, %d), expected to start at %d", ErrTopology, i, f.Begin, f.End, next)
		}
		if f.Active && norm(f.Axis) < 1e-6 {
			return fmt.Errorf("%w: frame %d has a zero rotor axis", ErrTopology, i)
		}
		next = f.End
	}
	if next != len(t.Atoms) {
		return fmt.Errorf("%w: frames cover %d of %d atoms", ErrTopology, next, len(t.Atoms))
	}
	for i, a := range t.Atoms {
		if !a.Type.Valid() {
			return fmt.Errorf("%w: atom %d has type %d", ErrTopology, i, a.Type)
		}
	}
	for i, p := range t.Pairs {
		if p.I0 < 0 || p.I0 >= len(t.Atoms) || p.I1 < 0 || p.I1 >= len(t.Atoms) || p.I0 == p.I1 {
			return fmt.Errorf("%w: pair %d (%d, %d) invalid", ErrTopology, i, p.I0, p.I1)
		}
	}
	return nil
}

// Clone performs a deep copy of the topology.
func (t *Topology) Clone() *Topology {
	if t == nil {
		return nil
	}
	out := &Topology{Name: t.Name}
	if len(t.Frames) > 0 {
		out.Frames = make([]Frame, len(t.Frames))
		copy(out.Frames, t.Frames)
	}
	if len(t.Atoms) > 0 {
		out.Atoms = make([]Atom, len(t.Atoms))
		copy(out.Atoms, t.Atoms)
	}
	if len(t.Pairs) > 0 {
		out.Pairs = make([]Pair, len(t.Pairs))
		copy(out.Pairs, t.Pairs)
	}
	return out
}

// FrameOf returns the frame index owning atom i.
func (t *Topology) FrameOf(i int) int {
	for f, fr := range t.Frames {
		if i >= fr.Begin && i < fr.End {
			return f
		}
	}
	return -1
}

// CrossFramePairs lists every atom pair whose atoms sit in different frames
// that are neither identical nor directly bonded (parent and child). It is a
// coarse stand-in for a bond-distance based pair list.
func (t *Topology) CrossFramePairs() []Pair {
	var pairs []Pair
	for i := range t.Atoms {
		fi := t.FrameOf(i)
		for j := i + 1; j < len(t.Atoms); j++ {
			fj := t.FrameOf(j)
			if fi == fj || t.Frames[fj].Parent == fi || t.Frames[fi].Parent == fj {
				continue
			}
			pairs = append(pairs, Pair{I0: i, I1: j})
		}
	}
	return pairs
}

// Flatten encodes the topology as device words. Float fields are stored as
// their IEEE-754 bits and the pair words carry the scoring table pair index.
func (t *Topology) Flatten() []uint32 {
	out := make([]uint32, 0, t.Words())
	for _, f := range t.Frames {
		active := uint32(0)
		axis := f.Axis
		if f.Active {
			active = 1
			n := norm(axis)
			axis = [3]float32{axis[0] / n, axis[1] / n, axis[2] / n}
		}
		out = append(out,
			uint32(int32(f.Parent)), uint32(f.Begin), uint32(f.End), active,
			math.Float32bits(f.Origin[0]), math.Float32bits(f.Origin[1]), math.Float32bits(f.Origin[2]),
			math.Float32bits(axis[0]), math.Float32bits(axis[1]), math.Float32bits(axis[2]),
		)
	}
	for _, a := range t.Atoms {
		out = append(out, uint32(a.Type),
			math.Float32bits(a.Coord[0]), math.Float32bits(a.Coord[1]), math.Float32bits(a.Coord[2]))
	}
	for _, p := range t.Pairs {
		t0, t1 := scoring.Normalize(t.Atoms[p.I0].Type, t.Atoms[p.I1].Type)
		out = append(out, uint32(p.I0), uint32(p.I1), uint32(scoring.PairIndex(t0, t1)))
	}
	return out
}

// Unflatten decodes words produced by Flatten. The scoring table pair index of
// each pair is returned alongside the topology.
func Unflatten(words []uint32, nf, na, np int) (*Topology, []int, error) {
	if len(words) < WordsFor(nf, na, np) {
		return nil, nil, fmt.Errorf("%w: %d words for nf=%d na=%d np=%d", ErrTopology, len(words), nf, na, np)
	}
	f32 := func(w uint32) float32 { return math.Float32frombits(w) }
	t := &Topology{
		Frames: make([]Frame, nf),
		Atoms:  make([]Atom, na),
		Pairs:  make([]Pair, np),
	}
	w := words
	for i := range t.Frames {
		t.Frames[i] = Frame{
			Parent: int(int32(w[0])),
			Begin:  int(w[1]),
			End:    int(w[2]),
			Active: w[3] != 0,
			Origin: [3]float32{f32(w[4]), f32(w[5]), f32(w[6])},
			Axis:   [3]float32{f32(w[7]), f32(w[8]), f32(w[9])},
		}
		w = w[frameWords:]
	}
	for i := range t.Atoms {
		if w[0] >= scoring.NumTypes {
			return nil, nil, fmt.Errorf("%w: atom %d has type word %d", ErrTopology, i, w[0])
		}
		t.Atoms[i] = Atom{
			Type:  scoring.AtomType(w[0]),
			Coord: [3]float32{f32(w[1]), f32(w[2]), f32(w[3])},
		}
		w = w[atomWords:]
	}
	pairTypes := make([]int, np)
	for i := range t.Pairs {
		t.Pairs[i] = Pair{I0: int(w[0]), I1: int(w[1])}
		pairTypes[i] = int(w[2])
		w = w[pairWords:]
	}
	return t, pairTypes, nil
}
