package scoring

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultNS is the number of samples per unit squared distance.
	DefaultNS = 1024
	// DefaultCutoff is the interaction cutoff distance in Angstrom.
	DefaultCutoff = 8
)

// Weights are the fitted coefficients of the five scoring terms: gauss1,
// gauss2, repulsion, hydrophobic and hydrogen bond.
var Weights = [5]float32{-0.035579, -0.005156, 0.840245, -0.035069, -0.587439}

// Table holds energy and derivative curves for every unordered atom type pair,
// sampled at rs[i] = sqrt(i/NS) for i in [0, NR).
//
// The nr entries of a pair start at NR*PairIndex(t0, t1). Derivative[i] is the
// forward difference of the energy divided by (rs[i+1]-rs[i])*rs[i]; the last
// bin of every pair and bin 0 (rs[0] == 0) are not meaningful.
type Table struct {
	NS        int
	NR        int
	Cutoff    float32
	CutoffSqr float32

	Energy     []float32
	Derivative []float32

	rs []float32
}

// NewTable allocates a table and its sample points. Energies are zero until
// Precalculate has been called for each pair.
func NewTable(ns int, cutoff float32) *Table {
	if ns <= 0 || cutoff <= 0 {
		panic(fmt.Sprintf("scoring: invalid table parameters ns=%d cutoff=%g", ns, cutoff))
	}
	cutoffSqr := cutoff * cutoff
	nr := int(float32(ns)*cutoffSqr) + 1
	t := &Table{
		NS:         ns,
		NR:         nr,
		Cutoff:     cutoff,
		CutoffSqr:  cutoffSqr,
		Energy:     make([]float32, nr*NumPairs),
		Derivative: make([]float32, nr*NumPairs),
		rs:         make([]float32, nr),
	}
	nsInv := 1 / float32(ns)
	for i := range t.rs {
		t.rs[i] = float32(math.Sqrt(float64(float32(i) * nsInv)))
	}
	return t
}

// Offset returns the index of bin 0 for the ordered pair (t0 <= t1).
func (t *Table) Offset(t0, t1 AtomType) int {
	return t.NR * PairIndex(t0, t1)
}

// SamplePoints returns the distances the curves are sampled at, or nil after Clear.
func (t *Table) SamplePoints() []float32 { return t.rs }

// Precalculate fills the energy and derivative curves of the pair (t0, t1).
// t0 must not exceed t1.
func (t *Table) Precalculate(t0, t1 AtomType) {
	if t0 > t1 {
		panic(fmt.Sprintf("scoring: Precalculate called with unordered pair (%s, %s)", t0, t1))
	}
	if t.rs == nil {
		panic("scoring: Precalculate called after Clear")
	}
	offset := t.Offset(t0, t1)
	s := VdwRadii[t0] + VdwRadii[t1]
	hydrophobic := BothHydrophobic(t0, t1)
	hbond := HBond(t0, t1)

	et := t.Energy[offset : offset+t.NR]
	for i, r := range t.rs {
		d := r - s
		e := Weights[0]*gauss1(d) + Weights[1]*gauss2(d) + Weights[2]*repulsion(d)
		if hydrophobic {
			e += Weights[3] * hydrophobicRamp(d)
		}
		if hbond {
			e += Weights[4] * hbondRamp(d)
		}
		et[i] = e
	}

	dt := t.Derivative[offset : offset+t.NR]
	for i := 0; i < t.NR-1; i++ {
		dt[i] = (et[i+1] - et[i]) / ((t.rs[i+1] - t.rs[i]) * t.rs[i])
	}
}

// PrecalculateAll fills every pair of the vocabulary.
func (t *Table) PrecalculateAll() {
	for t1 := AtomType(0); t1 < NumTypes; t1++ {
		for t0 := AtomType(0); t0 <= t1; t0++ {
			t.Precalculate(t0, t1)
		}
	}
}

// PrecalculateAllParallel is PrecalculateAll spread over workers goroutines.
// Each pair owns a disjoint slice of the table so no locking is needed.
func (t *Table) PrecalculateAllParallel(ctx context.Context, workers int) error {
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for t1 := AtomType(0); t1 < NumTypes; t1++ {
		for t0 := AtomType(0); t0 <= t1; t0++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				t.Precalculate(t0, t1)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// Wait cancels gctx, so only the caller's context says whether we stopped early.
	return ctx.Err()
}

// Clear releases the sample points once all pairs are precalculated.
func (t *Table) Clear() {
	t.rs = nil
}

// Score accumulates the five unweighted terms of the pair at squared
// distance r2 into v. It recomputes from scratch and is meant for checking
// table accuracy, not for the search hot path.
func Score(v *[5]float32, t0, t1 AtomType, r2 float32) {
	d := float32(math.Sqrt(float64(r2))) - (VdwRadii[t0] + VdwRadii[t1])
	v[0] += gauss1(d)
	v[1] += gauss2(d)
	v[2] += repulsion(d)
	if BothHydrophobic(t0, t1) {
		v[3] += hydrophobicRamp(d)
	}
	if HBond(t0, t1) {
		v[4] += hbondRamp(d)
	}
}

// WeightedSum combines the terms produced by Score into a single energy.
func WeightedSum(v [5]float32) float32 {
	var e float32
	for i, w := range Weights {
		e += w * v[i]
	}
	return e
}

// Evaluate interpolates the energy of the ordered pair (t0 <= t1) at squared
// distance r2 the way the search kernel does. r2 must be below CutoffSqr.
func (t *Table) Evaluate(t0, t1 AtomType, r2 float32) float32 {
	return Interpolate(t.Energy, t.Derivative, t.Offset(t0, t1), t.NS, r2)
}

// Interpolate looks up bin floor(ns*r2) of the curve starting at offset and
// extends it linearly in r2 using the stored derivative, which is
// 2*dE/d(r^2). Bin 0 has no usable derivative and returns its energy.
func Interpolate(energy, derivative []float32, offset, ns int, r2 float32) float32 {
	i := int(float32(ns) * r2)
	e := energy[offset+i]
	if i == 0 {
		return e
	}
	return e + 0.5*derivative[offset+i]*(r2-float32(i)/float32(ns))
}

func gauss1(d float32) float32 {
	return float32(math.Exp(float64(-4 * d * d)))
}

func gauss2(d float32) float32 {
	x := d - 3
	return float32(math.Exp(float64(-0.25 * x * x)))
}

func repulsion(d float32) float32 {
	if d < 0 {
		return d * d
	}
	return 0
}

func hydrophobicRamp(d float32) float32 {
	switch {
	case d >= 1.5:
		return 0
	case d <= 0.5:
		return 1
	default:
		return 1.5 - d
	}
}

func hbondRamp(d float32) float32 {
	switch {
	case d >= 0:
		return 0
	case d <= -0.7:
		return 1
	default:
		return d * -1.4285714285714286
	}
}
