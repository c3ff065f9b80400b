package kernel

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/brensch/mcdock/executor/convert"
	"github.com/brensch/mcdock/executor/device"
	"github.com/brensch/mcdock/executor/montecarlo"
	"github.com/brensch/mcdock/ligand"
	"github.com/brensch/mcdock/scoring"
)

// Update re-uploads the maps whose atom types are listed in changed and
// leaves every other buffer untouched. maps is indexed by atom type like in
// New. A type outside the vocabulary or a map of the wrong length panics.
func (k *MCKernel) Update(maps [][]float32, changed []int) error {
	k.mustBeOpen()
	for _, t := range changed {
		if t < 0 || t >= scoring.NumTypes {
			panic(fmt.Sprintf("kernel: atom type index %d out of range", t))
		}
		if t >= len(maps) || len(maps[t]) != k.mapWords {
			panic(fmt.Sprintf("kernel: update of %s without a %d point map", scoring.AtomType(t), k.mapWords))
		}
	}
	if len(changed) == 0 {
		return nil
	}

	for _, t := range changed {
		if err := k.writeMap(t, maps[t]); err != nil {
			return device.Wrap(fmt.Sprintf("update grid map %s", scoring.AtomType(t)), err)
		}
	}
	k.recorder.ObserveUpdate(len(changed))
	k.logger.Debug("grid maps updated", zap.Ints("types", changed))
	return nil
}

// Launch runs NumTasks chains over lig and writes each task's best energy and
// conformation into out, task after task with lig.ResultStride() floats each.
//
// An invalid topology, a wrong out length or a ligand atom type without a
// resident map panics. Device failures return a *device.Error, leave out
// untouched and keep the resident tables and maps valid for the next launch.
func (k *MCKernel) Launch(out []float32, lig *ligand.Topology) (err error) {
	k.mustBeOpen()
	if err := lig.Validate(); err != nil {
		panic(fmt.Sprintf("kernel: %v", err))
	}
	stride := lig.ResultStride()
	if want := k.cfg.NumTasks * stride; len(out) != want {
		panic(fmt.Sprintf("kernel: launch output of %d floats, want %d tasks x %d", len(out), k.cfg.NumTasks, stride))
	}
	for _, t := range lig.Types() {
		if k.maps[t] == nil {
			panic(fmt.Sprintf("kernel: ligand %q uses %s but no grid map is resident", lig.Name, t))
		}
	}

	salt := uint64(0)
	if k.cfg.ReseedPerLaunch {
		salt = k.launches
	}
	k.launches++
	k.lastSalt = salt

	start := time.Now()
	defer func() {
		k.observe(k.cfg.NumTasks, start, err)
		if err != nil {
			k.logger.Warn("launch failed", zap.String("ligand", lig.Name), zap.Error(err))
		}
	}()

	words := lig.Flatten()
	if err := k.ensure(&k.ligand, device.MemReadOnly, len(words)); err != nil {
		return device.Wrap("allocate ligand buffer", err)
	}
	if err := k.ensure(&k.out, device.MemWriteOnly, len(out)); err != nil {
		return device.Wrap("allocate result buffer", err)
	}
	if err := k.queue.WriteBuffer(k.ligand, 0, words); err != nil {
		return device.Wrap("upload ligand", err)
	}

	if err := k.bindMaps(); err != nil {
		return device.Wrap("bind grid maps", err)
	}
	b := binder{k: k.kernel}
	b.set(montecarlo.ArgLigand, k.ligand)
	b.set(montecarlo.ArgNF, int32(lig.NF()))
	b.set(montecarlo.ArgNA, int32(lig.NA()))
	b.set(montecarlo.ArgNP, int32(lig.NP()))
	b.set(montecarlo.ArgOut, k.out)
	b.set(montecarlo.ArgSalt, salt)
	if b.err != nil {
		return device.Wrap("bind launch arguments", b.err)
	}

	if err := k.queue.EnqueueKernel(k.kernel, k.cfg.NumTasks); err != nil {
		return device.Wrap("enqueue search", err)
	}
	if err := k.queue.Finish(); err != nil {
		return device.Wrap("run search", err)
	}

	res := convert.GetWords(len(out))
	defer convert.PutWords(res)
	if err := k.queue.ReadBuffer(k.out, 0, *res); err != nil {
		return device.Wrap("read results", err)
	}
	convert.WordsToFloat32s(out, *res)

	k.logger.Debug("launch finished",
		zap.String("ligand", lig.Name),
		zap.Int("tasks", k.cfg.NumTasks),
		zap.Uint64("salt", salt),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// ensure grows *buf to hold at least words, reusing it when it already does.
func (k *MCKernel) ensure(buf *device.Buffer, flags device.MemFlags, words int) error {
	if *buf != nil && (*buf).Words() >= words {
		return nil
	}
	if *buf != nil {
		_ = (*buf).Release()
		*buf = nil
	}
	b, err := k.ctx.CreateBuffer(flags, words)
	if err != nil {
		return err
	}
	*buf = b
	return nil
}

// Result is the outcome of one task.
type Result struct {
	Task         int
	Energy       float32
	Conformation []float32
}

// Results splits a launch output into per-task results. Conformations alias out.
func Results(out []float32, lig *ligand.Topology) []Result {
	stride := lig.ResultStride()
	if len(out)%stride != 0 {
		panic(fmt.Sprintf("kernel: %d floats is not a whole number of %d float results", len(out), stride))
	}
	results := make([]Result, len(out)/stride)
	for i := range results {
		slot := out[i*stride : (i+1)*stride : (i+1)*stride]
		results[i] = Result{Task: i, Energy: slot[0], Conformation: slot[1:]}
	}
	return results
}

// Best returns the results ordered by ascending energy, ties by task.
func Best(results []Result) []Result {
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b Result) int {
		return cmp.Compare(a.Energy, b.Energy)
	})
	return sorted
}
