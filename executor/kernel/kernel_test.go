package kernel

import (
	"errors"
	"math"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/mcdock/executor/device"
	"github.com/brensch/mcdock/executor/device/host"
	"github.com/brensch/mcdock/executor/montecarlo"
	"github.com/brensch/mcdock/internal/testutil"
	"github.com/brensch/mcdock/ligand"
	"github.com/brensch/mcdock/metrics"
	"github.com/brensch/mcdock/scoring"
)

func testConfig() Config {
	return Config{
		NumTasks:    6,
		Generations: 200,
		Seed:        1234,
		Schedule:    montecarlo.DefaultSchedule(),
	}
}

type fixture struct {
	platform *host.Platform
	table    *scoring.Table
	maps     [][]float32
	lig      *ligand.Topology
}

func newFixture() fixture {
	lig := testutil.Butanol()
	return fixture{
		platform: host.New(host.Options{Workers: 4}),
		table:    testutil.Table(),
		maps:     testutil.Funnel(testutil.Box(), lig.Types()...),
		lig:      lig,
	}
}

func (f fixture) open(t *testing.T, cfg Config, opts ...Option) *MCKernel {
	t.Helper()
	k, err := New(f.platform, f.table, f.maps, testutil.Box(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func (f fixture) launch(t *testing.T, k *MCKernel) []float32 {
	t.Helper()
	out := make([]float32, k.NumTasks()*f.lig.ResultStride())
	require.NoError(t, k.Launch(out, f.lig))
	return out
}

func readMaps(t *testing.T, k *MCKernel) map[scoring.AtomType][]uint32 {
	t.Helper()
	out := map[scoring.AtomType][]uint32{}
	for _, typ := range k.Resident() {
		dst := make([]float32, k.Box().Points())
		require.NoError(t, k.ReadMap(int(typ), dst))
		bits := make([]uint32, len(dst))
		for i, v := range dst {
			bits[i] = math.Float32bits(v)
		}
		out[typ] = bits
	}
	return out
}

func TestLaunchMatchesReferenceChains(t *testing.T) {
	f := newFixture()
	cfg := testConfig()
	k := f.open(t, cfg)
	out := f.launch(t, k)

	box := testutil.Box()
	top, pairTypes, err := ligand.Unflatten(f.lig.Flatten(), f.lig.NF(), f.lig.NA(), f.lig.NP())
	require.NoError(t, err)
	scene := &montecarlo.Scene{
		Energy:             f.table.Energy,
		Derivative:         f.table.Derivative,
		NS:                 f.table.NS,
		NR:                 f.table.NR,
		CutoffSqr:          f.table.CutoffSqr,
		Corner0:            box.Corner0,
		Corner1:            box.Corner1,
		NumProbes:          box.NumProbes,
		GranularityInverse: box.GranularityInverse,
		Ligand:             top,
		PairTypes:          pairTypes,
	}
	copy(scene.Maps[:], f.maps)

	for i, r := range Results(out, f.lig) {
		want := make([]float32, f.lig.ResultStride())
		montecarlo.NewTaskChain(scene, cfg.Seed, i, 0).Run(cfg.Schedule, cfg.Generations, want)
		assert.Equal(t, want[0], r.Energy, "task %d", i)
		assert.Equal(t, want[1:], r.Conformation, "task %d", i)
		assert.False(t, math.IsInf(float64(r.Energy), 0), "task %d found no pose", i)
	}
}

func TestIdenticalLaunchesReproduce(t *testing.T) {
	f := newFixture()
	k := f.open(t, testConfig())

	first := f.launch(t, k)
	second := f.launch(t, k)
	assert.Equal(t, first, second)

	// A fresh kernel with the same seed agrees too.
	other := f.open(t, testConfig())
	assert.Equal(t, first, f.launch(t, other))
}

func TestReseedPerLaunchExploresNewChains(t *testing.T) {
	f := newFixture()
	cfg := testConfig()
	cfg.ReseedPerLaunch = true
	k := f.open(t, cfg)

	first := f.launch(t, k)
	second := f.launch(t, k)
	assert.NotEqual(t, first, second)
}

func TestReseedKeepsStartingPoses(t *testing.T) {
	f := newFixture()
	cfg := testConfig()
	cfg.Generations = 0
	cfg.ReseedPerLaunch = true
	k := f.open(t, cfg)

	first := f.launch(t, k)
	assert.Equal(t, uint64(0), k.LastSalt())
	second := f.launch(t, k)
	assert.Equal(t, uint64(1), k.LastSalt())
	assert.Equal(t, first, second, "no generations, nothing for the salt to vary")
}

func TestLastSaltReproducesLaunch(t *testing.T) {
	f := newFixture()
	cfg := testConfig()
	cfg.ReseedPerLaunch = true
	k := f.open(t, cfg)

	f.launch(t, k)
	f.launch(t, k)
	third := f.launch(t, k)
	salt := k.LastSalt()
	require.Equal(t, uint64(2), salt)

	top, pairTypes, err := ligand.Unflatten(f.lig.Flatten(), f.lig.NF(), f.lig.NA(), f.lig.NP())
	require.NoError(t, err)
	box := testutil.Box()
	scene := &montecarlo.Scene{
		Energy:             f.table.Energy,
		Derivative:         f.table.Derivative,
		NS:                 f.table.NS,
		NR:                 f.table.NR,
		CutoffSqr:          f.table.CutoffSqr,
		Corner0:            box.Corner0,
		Corner1:            box.Corner1,
		NumProbes:          box.NumProbes,
		GranularityInverse: box.GranularityInverse,
		Ligand:             top,
		PairTypes:          pairTypes,
	}
	copy(scene.Maps[:], f.maps)

	want := make([]float32, f.lig.ResultStride())
	montecarlo.NewTaskChain(scene, cfg.Seed, 1, salt).Run(cfg.Schedule, cfg.Generations, want)
	assert.Equal(t, want, third[f.lig.ResultStride():2*f.lig.ResultStride()])
}

func TestSeedChangesResults(t *testing.T) {
	f := newFixture()
	a := f.open(t, testConfig())
	cfg := testConfig()
	cfg.Seed++
	b := f.open(t, cfg)
	assert.NotEqual(t, f.launch(t, a), f.launch(t, b))
}

func TestEmptyUpdateLeavesMapsUntouched(t *testing.T) {
	f := newFixture()
	k := f.open(t, testConfig())
	before := readMaps(t, k)
	require.NotEmpty(t, before)

	require.NoError(t, k.Update(nil, nil))
	replacement := testutil.Funnel(testutil.Box(), scoring.CH)
	for i := range replacement[scoring.CH] {
		replacement[scoring.CH][i] = 7
	}
	require.NoError(t, k.Update(replacement, []int{}))

	assert.Equal(t, before, readMaps(t, k))
}

func TestUpdateReplacesOnlyListedTypes(t *testing.T) {
	f := newFixture()
	k := f.open(t, testConfig())
	before := readMaps(t, k)

	next := testutil.Funnel(testutil.Box(), scoring.CH, scoring.CP, scoring.OA)
	for i := range next[scoring.CH] {
		next[scoring.CH][i] = float32(i % 7)
	}
	require.NoError(t, k.Update(next, []int{int(scoring.CH), int(scoring.OA)}))

	after := readMaps(t, k)
	assert.Equal(t, before[scoring.CP], after[scoring.CP])
	assert.Equal(t, before[scoring.ODA], after[scoring.ODA])
	assert.NotEqual(t, before[scoring.CH], after[scoring.CH])

	got := make([]float32, k.Box().Points())
	require.NoError(t, k.ReadMap(int(scoring.CH), got))
	assert.Equal(t, next[scoring.CH], got)

	assert.Contains(t, k.Resident(), scoring.OA, "first update allocates the slot")
}

func TestReadMapOfEmptySlot(t *testing.T) {
	f := newFixture()
	k := f.open(t, testConfig())
	err := k.ReadMap(int(scoring.IH), make([]float32, k.Box().Points()))
	assert.Equal(t, device.CodeInvalidMemObject, device.CodeOf(err))
}

func TestContractViolationsPanic(t *testing.T) {
	f := newFixture()
	k := f.open(t, testConfig())
	points := k.Box().Points()
	stride := f.lig.ResultStride()

	assert.Panics(t, func() { _ = k.Update(f.maps, []int{scoring.NumTypes}) })
	assert.Panics(t, func() { _ = k.Update(f.maps, []int{-1}) })
	assert.Panics(t, func() { _ = k.Update(f.maps, []int{int(scoring.IH)}) }, "no map supplied for the type")
	assert.Panics(t, func() { _ = k.Launch(make([]float32, stride), f.lig) })
	assert.Panics(t, func() { _ = k.ReadMap(0, make([]float32, points-1)) })

	rigid := testutil.Rigid() // uses N_A, which has no map here
	assert.Panics(t, func() { _ = k.Launch(make([]float32, k.NumTasks()*rigid.ResultStride()), rigid) })

	bad := f.lig.Clone()
	bad.Frames[1].Parent = 5
	assert.Panics(t, func() { _ = k.Launch(make([]float32, k.NumTasks()*stride), bad) })

	short := [][]float32{make([]float32, points-1)}
	assert.Panics(t, func() { _, _ = New(f.platform, f.table, short, testutil.Box(), testConfig()) })

	cfg := testConfig()
	cfg.NumTasks = 0
	assert.Panics(t, func() { _, _ = New(f.platform, f.table, f.maps, testutil.Box(), cfg) })
}

func TestBuildFailureReturnsDeviceError(t *testing.T) {
	f := newFixture()
	p := &faultPlatform{Platform: f.platform, extraSource: "missing_kernel\n"}

	_, err := New(p, f.table, f.maps, testutil.Box(), testConfig())
	require.Error(t, err)
	var de *device.Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, device.CodeBuildProgramFailure, de.Code)
	assert.Contains(t, de.BuildLog, "missing_kernel")
	assert.Equal(t, host.Stats{}, f.platform.Stats(), "nothing leaks")
}

func TestAllocationFailureLeaksNothing(t *testing.T) {
	f := newFixture()
	// Room for the energy table but not the derivative table.
	f.platform = host.New(host.Options{MemoryWords: len(f.table.Energy) + 10})

	_, err := New(f.platform, f.table, f.maps, testutil.Box(), testConfig())
	assert.Equal(t, device.CodeMemObjectAllocationFailure, device.CodeOf(err))
	assert.Equal(t, host.Stats{}, f.platform.Stats())
}

func TestCloseReleasesEverythingOnce(t *testing.T) {
	f := newFixture()
	k, err := New(f.platform, f.table, f.maps, testutil.Box(), testConfig())
	require.NoError(t, err)
	f.launch(t, k)
	assert.NotEqual(t, host.Stats{}, f.platform.Stats())

	require.NoError(t, k.Close())
	require.NoError(t, k.Close())
	assert.Equal(t, host.Stats{}, f.platform.Stats())
	assert.Panics(t, func() { _ = k.Update(nil, nil) })
}

func TestFailedLaunchKeepsResidentState(t *testing.T) {
	f := newFixture()
	want := f.launch(t, f.open(t, testConfig()))

	faults := &faultPlatform{Platform: f.platform}
	k, err := New(faults, f.table, f.maps, testutil.Box(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	maps := readMaps(t, k)

	for _, inject := range []func(){
		func() { faults.failEnqueue = true },
		func() { faults.failFinish = true },
		func() { faults.failRead = true },
	} {
		inject()
		out := make([]float32, len(want))
		for i := range out {
			out[i] = -1
		}
		err := k.Launch(out, f.lig)
		require.Error(t, err)
		var de *device.Error
		assert.True(t, errors.As(err, &de))
		for _, v := range out {
			require.Equal(t, float32(-1), v, "failed launch wrote results")
		}
		faults.reset()
		assert.Equal(t, maps, readMaps(t, k))
	}

	assert.Equal(t, want, f.launch(t, k), "next launch recovers")
	s := k.Stats()
	assert.Equal(t, int64(4), s.Launches)
	assert.Equal(t, int64(3), s.Failures)
	assert.Equal(t, int64(k.NumTasks()), s.Tasks)
}

func TestRecorderSeesLaunchesAndUpdates(t *testing.T) {
	f := newFixture()
	m := metrics.New()
	k := f.open(t, testConfig(), WithRecorder(m))

	f.launch(t, k)
	require.NoError(t, k.Update(f.maps, []int{int(scoring.CH)}))

	assert.Equal(t, 1.0, promtest.ToFloat64(m.LaunchesTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(k.NumTasks()), promtest.ToFloat64(m.TasksTotal))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.MapUploadsTotal))
}

func TestResultsAndBest(t *testing.T) {
	lig := testutil.Rigid()
	stride := lig.ResultStride()
	out := make([]float32, 3*stride)
	out[0], out[stride], out[2*stride] = 2, -1, float32(math.Inf(1))
	out[stride+1] = 42

	rs := Results(out, lig)
	require.Len(t, rs, 3)
	assert.Equal(t, 1, rs[1].Task)
	assert.Equal(t, float32(42), rs[1].Conformation[0])
	assert.Len(t, rs[1].Conformation, lig.ConformationSize())

	best := Best(rs)
	assert.Equal(t, []int{1, 0, 2}, []int{best[0].Task, best[1].Task, best[2].Task})
	assert.Equal(t, 0, rs[0].Task, "input order kept")

	assert.Panics(t, func() { Results(out[:stride+1], lig) })
}
