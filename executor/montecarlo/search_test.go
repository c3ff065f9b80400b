package montecarlo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/mcdock/grid"
	"github.com/brensch/mcdock/internal/testutil"
	"github.com/brensch/mcdock/ligand"
)

func newScene(t *testing.T, b grid.Box, lig *ligand.Topology) *Scene {
	t.Helper()
	tab := testutil.Table()
	top, pairTypes, err := ligand.Unflatten(lig.Flatten(), lig.NF(), lig.NA(), lig.NP())
	require.NoError(t, err)

	s := &Scene{
		Energy:             tab.Energy,
		Derivative:         tab.Derivative,
		NS:                 tab.NS,
		NR:                 tab.NR,
		CutoffSqr:          tab.CutoffSqr,
		Corner0:            b.Corner0,
		Corner1:            b.Corner1,
		NumProbes:          b.NumProbes,
		GranularityInverse: b.GranularityInverse,
		Ligand:             top,
		PairTypes:          pairTypes,
	}
	for i, m := range testutil.Funnel(b, lig.Types()...) {
		s.Maps[i] = m
	}
	require.NoError(t, s.Check())
	return s
}

func TestTemperatureDecaysFromT0ToT1(t *testing.T) {
	s := DefaultSchedule()
	require.NoError(t, s.Validate())

	assert.Equal(t, s.T0, s.Temperature(0, 100))
	assert.InDelta(t, s.T1, s.Temperature(100, 100), 1e-6)
	prev := s.Temperature(0, 100)
	for g := 1; g <= 100; g++ {
		cur := s.Temperature(g, 100)
		assert.Less(t, cur, prev)
		prev = cur
	}
	assert.Equal(t, s.T0, s.Temperature(0, 0))
}

func TestScheduleValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Schedule){
		"inf t0":          func(s *Schedule) { s.T0 = float32(math.Inf(1)) },
		"nan t1":          func(s *Schedule) { s.T1 = float32(math.NaN()) },
		"inf translation": func(s *Schedule) { s.StepTranslation = float32(math.Inf(1)) },
		"nan rotation":    func(s *Schedule) { s.StepRotation = float32(math.NaN()) },
		"inf torsion":     func(s *Schedule) { s.StepTorsion = float32(math.Inf(-1)) },
	} {
		s := DefaultSchedule()
		mutate(&s)
		assert.Error(t, s.Validate(), name)
	}

	bad := DefaultSchedule()
	bad.T1 = 0
	assert.Error(t, bad.Validate())

	bad = DefaultSchedule()
	bad.StepTorsion = -1
	assert.Error(t, bad.Validate())

	bad = DefaultSchedule()
	bad.InitAttempts = 0
	assert.Error(t, bad.Validate())
}

func TestStreamsAreKeyedBySeedTaskAndSalt(t *testing.T) {
	first := func(seed uint64, task int, salt uint64) uint64 {
		return NewRand(seed, task, salt).Uint64()
	}
	assert.Equal(t, first(7, 3, 0), first(7, 3, 0))
	assert.NotEqual(t, first(7, 3, 0), first(7, 4, 0))
	assert.NotEqual(t, first(7, 3, 0), first(8, 3, 0))
	assert.NotEqual(t, first(7, 3, 0), first(7, 3, 1))

	assert.NotEqual(t, StartSeed(7, 3), Seed(7, 3, 0), "start and walk streams are distinct")
	assert.NotEqual(t, NewStartRand(7, 3).Uint64(), NewStartRand(7, 4).Uint64())
}

func TestStartingPoseIgnoresSalt(t *testing.T) {
	lig := testutil.Butanol()
	s := newScene(t, testutil.Box(), lig)
	sched := DefaultSchedule()

	run := func(salt uint64, generations int) []float32 {
		out := make([]float32, lig.ConformationSize()+1)
		NewTaskChain(s, 11, 2, salt).Run(sched, generations, out)
		return out
	}
	assert.Equal(t, run(0, 0), run(5, 0))
	assert.NotEqual(t, run(0, 300), run(5, 300))
}

func TestEvaluateRejectsPosesOutsideTheBox(t *testing.T) {
	lig := testutil.Butanol()
	s := newScene(t, testutil.Box(), lig)
	c := NewTaskChain(s, 1, 0, 0)

	conf := lig.ReferenceConformation([3]float32{})
	e, ok := c.Evaluate(conf)
	require.True(t, ok)
	assert.False(t, math.IsInf(float64(e), 0))

	conf = lig.ReferenceConformation([3]float32{100, 0, 0})
	_, ok = c.Evaluate(conf)
	assert.False(t, ok)
}

func TestRunIsDeterministicPerStream(t *testing.T) {
	lig := testutil.Butanol()
	s := newScene(t, testutil.Box(), lig)
	sched := DefaultSchedule()

	a := make([]float32, lig.ConformationSize()+1)
	b := make([]float32, lig.ConformationSize()+1)
	NewTaskChain(s, 42, 5, 0).Run(sched, 300, a)
	NewTaskChain(s, 42, 5, 0).Run(sched, 300, b)
	assert.Equal(t, a, b)
}

func TestRunImprovesOnItsStartingPose(t *testing.T) {
	lig := testutil.Butanol()
	s := newScene(t, testutil.Box(), lig)
	sched := DefaultSchedule()

	start := make([]float32, lig.ConformationSize()+1)
	NewTaskChain(s, 9, 0, 0).Run(sched, 0, start)
	require.False(t, math.IsInf(float64(start[0]), 0), "no feasible starting pose")

	out := make([]float32, lig.ConformationSize()+1)
	c := NewTaskChain(s, 9, 0, 0)
	c.Run(sched, 2000, out)
	assert.Less(t, out[0], start[0])

	// The reported energy belongs to the reported conformation.
	e, ok := c.Evaluate(out[1:])
	require.True(t, ok)
	assert.InDelta(t, out[0], e, 1e-4)

	q := ligand.Quat{out[4], out[5], out[6], out[7]}
	n := q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3]
	assert.InDelta(t, 1, n, 1e-4)
	for _, a := range out[1+ligand.TorsionOffset:] {
		assert.GreaterOrEqual(t, a, float32(-math.Pi))
		assert.Less(t, a, float32(math.Pi))
	}
}

func TestRunReportsInfinityWhenNothingFits(t *testing.T) {
	b, err := grid.NewBox([3]float32{}, [3]float32{1, 1, 1}, 0.5)
	require.NoError(t, err)
	lig := testutil.Butanol()
	s := newScene(t, b, lig)

	out := make([]float32, lig.ConformationSize()+1)
	NewTaskChain(s, 1, 0, 0).Run(DefaultSchedule(), 50, out)
	assert.True(t, math.IsInf(float64(out[0]), 1))
}

func TestRigidLigandHasNoTorsions(t *testing.T) {
	lig := testutil.Rigid()
	s := newScene(t, testutil.Box(), lig)

	out := make([]float32, lig.ConformationSize()+1)
	NewTaskChain(s, 3, 0, 0).Run(DefaultSchedule(), 200, out)
	assert.Len(t, out, 1+ligand.TorsionOffset)
	assert.False(t, math.IsInf(float64(out[0]), 0))
}

func TestCheckRequiresMapsForEveryLigandType(t *testing.T) {
	lig := testutil.Butanol()
	s := newScene(t, testutil.Box(), lig)
	s.Maps[lig.Atoms[4].Type] = nil
	assert.ErrorContains(t, s.Check(), "no grid map")

	s = newScene(t, testutil.Box(), lig)
	s.PairTypes = s.PairTypes[:1]
	assert.Error(t, s.Check())
}

func TestRunPanicsOnWrongSlot(t *testing.T) {
	lig := testutil.Rigid()
	s := newScene(t, testutil.Box(), lig)
	assert.Panics(t, func() {
		NewTaskChain(s, 1, 0, 0).Run(DefaultSchedule(), 1, make([]float32, 3))
	})
}
