// Package montecarlo is the body of the device search kernel: one simulated
// annealing chain per work-item over a ligand's position, orientation and
// torsions, scored against resident grid maps and the pairwise table.
package montecarlo

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/brensch/mcdock/grid"
	"github.com/brensch/mcdock/ligand"
	"github.com/brensch/mcdock/scoring"
)

// Scene is everything a chain reads. It is shared by all chains of a launch
// and never written.
type Scene struct {
	Energy     []float32
	Derivative []float32
	NS         int
	NR         int
	CutoffSqr  float32

	Maps               [scoring.NumTypes][]float32
	Corner0            [3]float32
	Corner1            [3]float32
	NumProbes          [3]int
	GranularityInverse float32

	Ligand    *ligand.Topology
	PairTypes []int
}

// Check verifies that every atom type of the ligand has a bound grid map.
func (s *Scene) Check() error {
	for i, a := range s.Ligand.Atoms {
		if len(s.Maps[a.Type]) == 0 {
			return fmt.Errorf("atom %d has type %s but no grid map is bound for it", i, a.Type)
		}
	}
	if len(s.PairTypes) != len(s.Ligand.Pairs) {
		return fmt.Errorf("%d pair types for %d pairs", len(s.PairTypes), len(s.Ligand.Pairs))
	}
	for i, pt := range s.PairTypes {
		if pt < 0 || pt >= scoring.NumPairs {
			return fmt.Errorf("pair %d has table index %d", i, pt)
		}
	}
	return nil
}

// Chain is the mutable state of one search task. start draws initial poses;
// walk drives mutation and acceptance.
type Chain struct {
	scene  *Scene
	kin    *ligand.Kinematics
	coords [][3]float32
	start  *rand.Rand
	rng    *rand.Rand
}

// NewChain prepares a chain over scene.
func NewChain(scene *Scene, start, walk *rand.Rand) *Chain {
	return &Chain{
		scene:  scene,
		kin:    ligand.NewKinematics(scene.Ligand),
		coords: make([][3]float32, len(scene.Ligand.Atoms)),
		start:  start,
		rng:    walk,
	}
}

// NewTaskChain builds the chain a work-item runs. The starting pose depends
// only on (seed, task); salt varies the walk.
func NewTaskChain(scene *Scene, seed uint64, task int, salt uint64) *Chain {
	return NewChain(scene, NewStartRand(seed, task), NewRand(seed, task, salt))
}

const (
	walkStream  = "mcdock\x00\x01"
	startStream = "mcdock\x00\x02"
)

func key(seed uint64, task int, salt uint64, stream string) [32]byte {
	var k [32]byte
	binary.LittleEndian.PutUint64(k[0:], seed)
	binary.LittleEndian.PutUint64(k[8:], uint64(task))
	binary.LittleEndian.PutUint64(k[16:], salt)
	copy(k[24:], stream)
	return k
}

// Seed derives the walk stream of a task. Streams for different
// (seed, task, salt) triples are independent ChaCha8 keys.
func Seed(seed uint64, task int, salt uint64) [32]byte {
	return key(seed, task, salt, walkStream)
}

// StartSeed derives the stream a task draws its initial poses from.
func StartSeed(seed uint64, task int) [32]byte {
	return key(seed, task, 0, startStream)
}

// NewRand returns the walk generator of a task.
func NewRand(seed uint64, task int, salt uint64) *rand.Rand {
	return rand.New(rand.NewChaCha8(Seed(seed, task, salt)))
}

// NewStartRand returns the initial-pose generator of a task.
func NewStartRand(seed uint64, task int) *rand.Rand {
	return rand.New(rand.NewChaCha8(StartSeed(seed, task)))
}

// Evaluate returns the energy of conf. ok is false when any atom leaves the box.
func (c *Chain) Evaluate(conf []float32) (e float32, ok bool) {
	s := c.scene
	c.kin.Pose(conf, c.coords)

	for i, a := range s.Ligand.Atoms {
		v, in := grid.SampleWith(s.Maps[a.Type], s.Corner0, s.NumProbes, s.GranularityInverse, c.coords[i])
		if !in {
			return 0, false
		}
		e += v
	}
	for i, p := range s.Ligand.Pairs {
		r2 := ligand.DistanceSqr(c.coords[p.I0], c.coords[p.I1])
		if r2 < s.CutoffSqr {
			e += scoring.Interpolate(s.Energy, s.Derivative, s.NR*s.PairTypes[i], s.NS, r2)
		}
	}
	return e, true
}

// Run anneals for generations steps and writes the best energy followed by
// the best conformation into out, which must hold ConformationSize+1 floats.
// A chain that never finds a pose inside the box reports +Inf.
func (c *Chain) Run(sched Schedule, generations int, out []float32) {
	top := c.scene.Ligand
	size := top.ConformationSize()
	if len(out) != size+1 {
		panic(fmt.Sprintf("montecarlo: result slot of %d floats, want %d", len(out), size+1))
	}

	cur := make([]float32, size)
	trial := make([]float32, size)
	best := make([]float32, size)

	curE := float32(math.Inf(1))
	for attempt := 0; attempt < sched.InitAttempts; attempt++ {
		c.randomize(cur)
		if e, ok := c.Evaluate(cur); ok {
			curE = e
			break
		}
	}
	bestE := curE
	copy(best, cur)

	for g := 0; g < generations; g++ {
		copy(trial, cur)
		c.mutate(trial, sched)
		e, ok := c.Evaluate(trial)
		if !ok {
			continue
		}
		if c.accept(e-curE, sched.Temperature(g, generations)) {
			cur, trial = trial, cur
			curE = e
			if curE < bestE {
				bestE = curE
				copy(best, cur)
			}
		}
	}

	out[0] = bestE
	copy(out[1:], best)
}

func (c *Chain) accept(delta, temperature float32) bool {
	if delta <= 0 {
		return true
	}
	// NaN deltas fall through and are rejected.
	return c.rng.Float64() < math.Exp(-float64(delta)/float64(temperature))
}

// randomize draws a position in the box, a uniform orientation and uniform
// torsions.
func (c *Chain) randomize(conf []float32) {
	s := c.scene
	for i := 0; i < 3; i++ {
		conf[ligand.PositionOffset+i] = s.Corner0[i] + c.start.Float32()*(s.Corner1[i]-s.Corner0[i])
	}
	q := ligand.Quat{
		float32(c.start.NormFloat64()),
		float32(c.start.NormFloat64()),
		float32(c.start.NormFloat64()),
		float32(c.start.NormFloat64()),
	}.Normalize()
	copy(conf[ligand.OrientationOffset:], q[:])
	for i := ligand.TorsionOffset; i < len(conf); i++ {
		conf[i] = (2*c.start.Float32() - 1) * math.Pi
	}
}

// mutate perturbs one randomly chosen component: the position, the
// orientation or a single torsion.
func (c *Chain) mutate(conf []float32, sched Schedule) {
	numTorsions := len(conf) - ligand.TorsionOffset
	switch k := c.rng.IntN(2 + numTorsions); k {
	case 0:
		for i := 0; i < 3; i++ {
			conf[ligand.PositionOffset+i] += c.symmetric(sched.StepTranslation)
		}
	case 1:
		axis := [3]float32{
			float32(c.rng.NormFloat64()),
			float32(c.rng.NormFloat64()),
			float32(c.rng.NormFloat64()),
		}
		n := float32(math.Sqrt(float64(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2])))
		if n == 0 {
			return
		}
		angle := c.symmetric(sched.StepRotation)
		rot := ligand.AxisAngle([3]float32{axis[0] / n, axis[1] / n, axis[2] / n}, angle)
		o := conf[ligand.OrientationOffset : ligand.OrientationOffset+4]
		q := rot.Mul(ligand.Quat{o[0], o[1], o[2], o[3]}).Normalize()
		copy(o, q[:])
	default:
		i := ligand.TorsionOffset + k - 2
		conf[i] = wrapAngle(conf[i] + c.symmetric(sched.StepTorsion))
	}
}

func (c *Chain) symmetric(step float32) float32 {
	return (2*c.rng.Float32() - 1) * step
}

func wrapAngle(a float32) float32 {
	for a >= math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
