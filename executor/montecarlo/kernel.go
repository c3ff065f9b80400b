package montecarlo

import (
	"fmt"

	"github.com/brensch/mcdock/executor/device/host"
	"github.com/brensch/mcdock/ligand"
	"github.com/brensch/mcdock/scoring"
)

// KernelName is the entry point of the search program.
const KernelName = "monte_carlo"

// Source is the program text handed to BuildProgram.
const Source = "# one annealing chain per work-item\n" + KernelName + "\n"

// Argument slots of the search kernel. Grid map slots of types without a map
// are bound to a uint32(0) placeholder.
const (
	ArgEnergy     = 0 // buffer: scoring table energies
	ArgDerivative = 1 // buffer: scoring table derivatives
	ArgNS         = 2 // int32
	ArgCutoffSqr  = 3 // float32

	ArgMaps = 4 // NumTypes consecutive buffer slots, one per atom type

	ArgCorner0            = ArgMaps + scoring.NumTypes // 3 x float32
	ArgCorner1            = ArgCorner0 + 3             // 3 x float32
	ArgNumProbes          = ArgCorner1 + 3             // 3 x int32
	ArgGranularityInverse = ArgNumProbes + 3           // float32

	ArgLigand = ArgGranularityInverse + 1 // buffer: flattened topology
	ArgNF     = ArgLigand + 1             // int32
	ArgNA     = ArgNF + 1                 // int32
	ArgNP     = ArgNA + 1                 // int32

	ArgOut         = ArgNP + 1  // buffer: NumTasks * result stride floats
	ArgSeed        = ArgOut + 1 // uint64
	ArgSalt        = ArgSeed + 1
	ArgGenerations = ArgSalt + 1 // int32

	ArgT0              = ArgGenerations + 1 // float32
	ArgT1              = ArgT0 + 1
	ArgStepTranslation = ArgT1 + 1
	ArgStepRotation    = ArgStepTranslation + 1
	ArgStepTorsion     = ArgStepRotation + 1
	ArgInitAttempts    = ArgStepTorsion + 1 // int32

	NumArgs = ArgInitAttempts + 1
)

func init() {
	host.Register(KernelName, NumArgs, run)
}

// run is one work-item: decode the launch, run chain gid, write its slot.
func run(args *host.Args, gid int) error {
	d := decoder{args: args}
	scene := &Scene{
		Energy:     d.floats(ArgEnergy),
		Derivative: d.floats(ArgDerivative),
		NS:         d.int(ArgNS),
		CutoffSqr:  d.float(ArgCutoffSqr),

		GranularityInverse: d.float(ArgGranularityInverse),
	}
	for t := 0; t < scoring.NumTypes; t++ {
		scene.Maps[t] = d.optionalFloats(ArgMaps + t)
	}
	for i := 0; i < 3; i++ {
		scene.Corner0[i] = d.float(ArgCorner0 + i)
		scene.Corner1[i] = d.float(ArgCorner1 + i)
		scene.NumProbes[i] = d.int(ArgNumProbes + i)
	}
	nf, na, np := d.int(ArgNF), d.int(ArgNA), d.int(ArgNP)
	words := d.words(ArgLigand)
	out := d.floats(ArgOut)
	seed, salt := d.uint64(ArgSeed), d.uint64(ArgSalt)
	generations := d.int(ArgGenerations)
	sched := Schedule{
		T0:              d.float(ArgT0),
		T1:              d.float(ArgT1),
		StepTranslation: d.float(ArgStepTranslation),
		StepRotation:    d.float(ArgStepRotation),
		StepTorsion:     d.float(ArgStepTorsion),
		InitAttempts:    d.int(ArgInitAttempts),
	}
	if d.err != nil {
		return d.err
	}
	if err := sched.Validate(); err != nil {
		return err
	}
	if scene.NS <= 0 || len(scene.Energy) == 0 || len(scene.Energy)%scoring.NumPairs != 0 {
		return fmt.Errorf("scoring table of %d floats with ns=%d", len(scene.Energy), scene.NS)
	}
	scene.NR = len(scene.Energy) / scoring.NumPairs

	top, pairTypes, err := ligand.Unflatten(words, nf, na, np)
	if err != nil {
		return err
	}
	if err := top.Validate(); err != nil {
		return err
	}
	scene.Ligand, scene.PairTypes = top, pairTypes
	if err := scene.Check(); err != nil {
		return err
	}

	stride := top.ResultStride()
	if (gid+1)*stride > len(out) {
		return fmt.Errorf("result buffer of %d floats too small for task %d", len(out), gid)
	}
	NewTaskChain(scene, seed, gid, salt).Run(sched, generations, out[gid*stride:(gid+1)*stride])
	return nil
}

// decoder keeps the first argument error so run can read every slot and
// check once.
type decoder struct {
	args *host.Args
	err  error
}

func (d *decoder) keep(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) floats(i int) []float32 {
	v, err := d.args.Float32s(i)
	d.keep(err)
	return v
}

func (d *decoder) optionalFloats(i int) []float32 {
	v, err := d.args.OptionalFloat32s(i)
	d.keep(err)
	return v
}

func (d *decoder) words(i int) []uint32 {
	v, err := d.args.Words(i)
	d.keep(err)
	return v
}

func (d *decoder) float(i int) float32 {
	v, err := d.args.Float32(i)
	d.keep(err)
	return v
}

func (d *decoder) int(i int) int {
	v, err := d.args.Int32(i)
	d.keep(err)
	return int(v)
}

func (d *decoder) uint64(i int) uint64 {
	v, err := d.args.Uint64(i)
	d.keep(err)
	return v
}
