package scoring

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	tbl := NewTable(10, 8)
	tbl.PrecalculateAll()
	return tbl
}

func TestNewTableSamplePoints(t *testing.T) {
	tbl := NewTable(10, 8)
	require.Equal(t, 641, tbl.NR)
	require.Len(t, tbl.Energy, 641*NumPairs)
	require.Len(t, tbl.Derivative, 641*NumPairs)

	rs := tbl.SamplePoints()
	require.Len(t, rs, tbl.NR)
	assert.Equal(t, float32(0), rs[0])
	assert.InDelta(t, 8.0, rs[tbl.NR-1], 1e-5)
	for i := 1; i < len(rs); i++ {
		if rs[i] <= rs[i-1] {
			t.Fatalf("rs not strictly increasing at %d: %g <= %g", i, rs[i], rs[i-1])
		}
	}
}

func TestTableMatchesReferenceScore(t *testing.T) {
	tbl := newTestTable(t)
	rs := tbl.SamplePoints()

	for t1 := AtomType(0); t1 < NumTypes; t1++ {
		for t0 := AtomType(0); t0 <= t1; t0++ {
			off := tbl.Offset(t0, t1)
			for i := 0; i < tbl.NR; i++ {
				var v [5]float32
				Score(&v, t0, t1, rs[i]*rs[i])
				want := WeightedSum(v)
				got := tbl.Energy[off+i]
				if math.Abs(float64(got-want)) > 1e-5 {
					t.Fatalf("pair (%s,%s) bin %d: table %g, reference %g", t0, t1, i, got, want)
				}
			}
		}
	}
}

func TestDerivativeFiniteDifferenceIdentity(t *testing.T) {
	tbl := newTestTable(t)
	rs := tbl.SamplePoints()

	pairs := [][2]AtomType{{CH, CH}, {ND, OA}, {NDA, ODA}, {FH, IH}, {CP, MetD}}
	for _, p := range pairs {
		off := tbl.Offset(p[0], p[1])
		for i := 1; i < tbl.NR-1; i++ {
			lhs := tbl.Derivative[off+i] * (rs[i+1] - rs[i]) * rs[i]
			rhs := tbl.Energy[off+i+1] - tbl.Energy[off+i]
			tol := 1e-5 * math.Max(1, math.Abs(float64(rhs)))
			if math.Abs(float64(lhs-rhs)) > tol {
				t.Fatalf("pair %v bin %d: %g != %g", p, i, lhs, rhs)
			}
		}
	}
}

func TestSelfPairIsFinite(t *testing.T) {
	tbl := NewTable(10, 8)
	for ty := AtomType(0); ty < NumTypes; ty++ {
		tbl.Precalculate(ty, ty)
		off := tbl.Offset(ty, ty)
		for i := 0; i < tbl.NR; i++ {
			e := float64(tbl.Energy[off+i])
			require.False(t, math.IsNaN(e) || math.IsInf(e, 0), "energy %s bin %d = %g", ty, i, e)
		}
		for i := 1; i < tbl.NR-1; i++ {
			d := float64(tbl.Derivative[off+i])
			require.False(t, math.IsNaN(d) || math.IsInf(d, 0), "derivative %s bin %d = %g", ty, i, d)
		}
	}
}

func TestFarEnergyIsGaussianOnly(t *testing.T) {
	tbl := newTestTable(t)
	rs := tbl.SamplePoints()
	off := tbl.Offset(NDA, ODA)
	s := VdwRadii[NDA] + VdwRadii[ODA]

	for i := tbl.NR - 40; i < tbl.NR; i++ {
		d := rs[i] - s
		want := Weights[0]*gauss1(d) + Weights[1]*gauss2(d)
		assert.InDelta(t, want, tbl.Energy[off+i], 1e-6)
	}
}

func TestContactDistanceTerms(t *testing.T) {
	// C_H with itself touches at 3.8 A.
	var v [5]float32
	Score(&v, CH, CH, 3.8*3.8)

	assert.InDelta(t, 0, v[2], 1e-9, "clash term at contact")
	assert.Equal(t, float32(1), v[3], "hydrophobic term saturates for d <= 0.5")
	assert.InDelta(t, 0.035069, -Weights[3]*v[3], 1e-7)
	assert.Equal(t, float32(0), v[4], "C_H pairs never hydrogen bond")
}

func TestHBondRamp(t *testing.T) {
	tests := []struct {
		d    float32
		want float32
	}{
		{0.2, 0},
		{0, 0},
		{-0.35, 0.5},
		{-0.7, 1},
		{-1.2, 1},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.want, hbondRamp(tc.d), 1e-6, "d=%g", tc.d)
	}
}

func TestHydrophobicRamp(t *testing.T) {
	tests := []struct {
		d    float32
		want float32
	}{
		{2, 0},
		{1.5, 0},
		{1, 0.5},
		{0.5, 1},
		{-1, 1},
	}
	for _, tc := range tests {
		assert.InDelta(t, tc.want, hydrophobicRamp(tc.d), 1e-6, "d=%g", tc.d)
	}
}

func TestEvaluateInterpolatesBetweenBins(t *testing.T) {
	tbl := newTestTable(t)
	off := tbl.Offset(CH, OA)

	for i := 50; i < tbl.NR-2; i += 7 {
		r2 := (float32(i) + 0.5) / float32(tbl.NS)
		got := tbl.Evaluate(CH, OA, r2)
		lo, hi := tbl.Energy[off+i], tbl.Energy[off+i+1]
		if lo > hi {
			lo, hi = hi, lo
		}
		slack := (hi - lo) + 1e-6
		if got < lo-slack || got > hi+slack {
			t.Fatalf("bin %d: interpolated %g outside [%g, %g]", i, got, lo, hi)
		}
	}
}

func TestPrecalculateUnorderedPanics(t *testing.T) {
	tbl := NewTable(10, 8)
	assert.Panics(t, func() { tbl.Precalculate(OA, CH) })
	assert.Panics(t, func() { PairIndex(MetD, CH) })
}

func TestPrecalculateAfterClearPanics(t *testing.T) {
	tbl := NewTable(10, 8)
	tbl.Precalculate(CH, CH)
	tbl.Clear()
	assert.Nil(t, tbl.SamplePoints())
	assert.Panics(t, func() { tbl.Precalculate(CH, CP) })
}

func TestPrecalculateAllParallelMatchesSerial(t *testing.T) {
	serial := newTestTable(t)
	parallel := NewTable(10, 8)
	require.NoError(t, parallel.PrecalculateAllParallel(context.Background(), 4))

	assert.Equal(t, serial.Energy, parallel.Energy)
	assert.Equal(t, len(serial.Derivative), len(parallel.Derivative))
	for i := range serial.Derivative {
		a, b := serial.Derivative[i], parallel.Derivative[i]
		if a != b && !(math.IsNaN(float64(a)) && math.IsNaN(float64(b))) {
			t.Fatalf("derivative %d differs: %g vs %g", i, a, b)
		}
	}
}

func TestPrecalculateAllParallelStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewTable(10, 8).PrecalculateAllParallel(ctx, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPairIndexLayout(t *testing.T) {
	seen := make(map[int]bool, NumPairs)
	for t1 := AtomType(0); t1 < NumTypes; t1++ {
		for t0 := AtomType(0); t0 <= t1; t0++ {
			idx := PairIndex(t0, t1)
			require.False(t, seen[idx], "duplicate index %d", idx)
			require.Less(t, idx, NumPairs)
			seen[idx] = true
		}
	}
	assert.Len(t, seen, NumPairs)
	assert.Equal(t, 0, PairIndex(CH, CH))
	assert.Equal(t, NumPairs-1, PairIndex(MetD, MetD))
}

func TestAtomTypeNames(t *testing.T) {
	for ty := AtomType(0); ty < NumTypes; ty++ {
		got, err := ParseAtomType(ty.String())
		require.NoError(t, err)
		assert.Equal(t, ty, got)
	}
	_, err := ParseAtomType("Xx")
	assert.Error(t, err)

	a, b := Normalize(ODA, NP)
	assert.Equal(t, NP, a)
	assert.Equal(t, ODA, b)
}
