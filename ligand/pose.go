package ligand

import "fmt"

// Conformation offsets: position, orientation quaternion, then torsions in
// the order of the active frames.
const (
	PositionOffset    = 0
	OrientationOffset = 3
	TorsionOffset     = 7
)

// Kinematics turns conformations into atom coordinates. It keeps scratch
// buffers so repeated calls do not allocate; a Kinematics must not be shared
// between goroutines.
type Kinematics struct {
	top     *Topology
	origins [][3]float32
	orients []Quat
}

// NewKinematics prepares forward kinematics for t.
func NewKinematics(t *Topology) *Kinematics {
	return &Kinematics{
		top:     t,
		origins: make([][3]float32, len(t.Frames)),
		orients: make([]Quat, len(t.Frames)),
	}
}

// Pose writes the coordinates of every atom under conformation conf into coords.
func (k *Kinematics) Pose(conf []float32, coords [][3]float32) {
	t := k.top
	if len(conf) != t.ConformationSize() || len(coords) != len(t.Atoms) {
		panic(fmt.Sprintf("ligand: Pose with conformation %d (want %d) and %d coords (want %d)",
			len(conf), t.ConformationSize(), len(coords), len(t.Atoms)))
	}

	k.origins[0] = [3]float32{conf[0], conf[1], conf[2]}
	k.orients[0] = Quat{conf[3], conf[4], conf[5], conf[6]}
	torsion := TorsionOffset
	for f := 1; f < len(t.Frames); f++ {
		fr := t.Frames[f]
		p := fr.Parent
		k.origins[f] = add(k.origins[p], k.orients[p].Rotate(fr.Origin))
		if fr.Active {
			axis := unit(k.orients[p].Rotate(fr.Axis))
			k.orients[f] = AxisAngle(axis, conf[torsion]).Mul(k.orients[p]).Normalize()
			torsion++
		} else {
			k.orients[f] = k.orients[p]
		}
	}

	for f, fr := range t.Frames {
		m := k.orients[f].Matrix()
		o := k.origins[f]
		for i := fr.Begin; i < fr.End; i++ {
			coords[i] = add(o, m.Apply(t.Atoms[i].Coord))
		}
	}
}

// ReferenceConformation places the ligand at position with the reference
// orientation and all torsions at zero.
func (t *Topology) ReferenceConformation(position [3]float32) []float32 {
	c := make([]float32, t.ConformationSize())
	copy(c[PositionOffset:], position[:])
	copy(c[OrientationOffset:], Identity[:])
	return c
}
