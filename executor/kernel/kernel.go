// Package kernel owns the device resources of a docking session: the scoring
// table, one grid map slot per atom type and the compiled Monte Carlo program.
// Tables and maps are uploaded once and stay resident; Update refreshes chosen
// maps in place and Launch runs one search chain per task against them.
//
// An MCKernel is a single command stream. Update and Launch must not be called
// concurrently.
package kernel

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/brensch/mcdock/executor/convert"
	"github.com/brensch/mcdock/executor/device"
	"github.com/brensch/mcdock/executor/montecarlo"
	"github.com/brensch/mcdock/grid"
	"github.com/brensch/mcdock/metrics"
	"github.com/brensch/mcdock/scoring"
)

// Config fixes the search shape for the lifetime of a kernel.
type Config struct {
	NumTasks    int
	Generations int
	Seed        uint64
	Schedule    montecarlo.Schedule

	// ReseedPerLaunch salts every launch with its sequence number, so repeated
	// launches explore different chains. Off by default: identical launches
	// then reproduce identical results.
	ReseedPerLaunch bool
}

func (c Config) validate() error {
	if c.NumTasks <= 0 {
		return fmt.Errorf("num tasks must be positive, got %d", c.NumTasks)
	}
	if c.Generations < 0 {
		return fmt.Errorf("generations must not be negative, got %d", c.Generations)
	}
	return c.Schedule.Validate()
}

// Option customises a kernel.
type Option func(*MCKernel)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(k *MCKernel) { k.logger = l }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r metrics.Recorder) Option {
	return func(k *MCKernel) { k.recorder = r }
}

// WithBuildOptions passes compiler flags to BuildProgram.
func WithBuildOptions(opts string) Option {
	return func(k *MCKernel) { k.buildOptions = opts }
}

// RuntimeStats summarises the launches of a kernel.
type RuntimeStats struct {
	Launches      int64
	Failures      int64
	Tasks         int64
	TotalRunNanos int64
	LastRunNanos  int64
	AvgRunMs      float64
}

// MCKernel is the device-resident search orchestrator.
type MCKernel struct {
	cfg          Config
	box          grid.Box
	mapWords     int
	tableNS      int
	cutoffSqr    float32
	buildOptions string

	ctx        device.Context
	queue      device.Queue
	program    device.Program
	kernel     device.Kernel
	energy     device.Buffer
	derivative device.Buffer
	maps       [scoring.NumTypes]device.Buffer

	// Per-launch buffers grow to the largest ligand seen and are reused.
	ligand device.Buffer
	out    device.Buffer

	launches uint64
	lastSalt uint64
	closed   bool

	logger   *zap.Logger
	recorder metrics.Recorder

	statLaunches atomic.Int64
	statFailures atomic.Int64
	statTasks    atomic.Int64
	statRunNanos atomic.Int64
	statLast     atomic.Int64
}

// New acquires a context on platform, compiles the search program and uploads
// the table and every non-empty map. maps is indexed by atom type and may be
// shorter than NumTypes.
//
// An incomplete table, an invalid box or config, or a map of the wrong length
// panics. Platform failures release everything acquired so far and return a
// *device.Error.
func New(platform device.Platform, tables *scoring.Table, maps [][]float32, box grid.Box, cfg Config, opts ...Option) (_ *MCKernel, err error) {
	if tables == nil || len(tables.Energy) != tables.NR*scoring.NumPairs || len(tables.Derivative) != len(tables.Energy) {
		panic("kernel: scoring table is not allocated")
	}
	if err := box.Validate(); err != nil {
		panic(fmt.Sprintf("kernel: %v", err))
	}
	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("kernel: %v", err))
	}
	if len(maps) > scoring.NumTypes {
		panic(fmt.Sprintf("kernel: %d grid maps for %d atom types", len(maps), scoring.NumTypes))
	}

	k := &MCKernel{
		cfg:       cfg,
		box:       box,
		mapWords:  box.Points(),
		tableNS:   tables.NS,
		cutoffSqr: tables.CutoffSqr,
		logger:    zap.NewNop(),
		recorder:  metrics.Nop{},
	}
	for _, o := range opts {
		o(k)
	}
	for t, m := range maps {
		if len(m) != 0 && len(m) != k.mapWords {
			panic(fmt.Sprintf("kernel: grid map %s has %d points, box has %d", scoring.AtomType(t), len(m), k.mapWords))
		}
	}

	defer func() {
		if err != nil {
			k.release()
			k.logger.Error("kernel construction failed", zap.Error(err))
		}
	}()

	if k.ctx, err = platform.CreateContext(); err != nil {
		return nil, device.Wrap("create context on "+platform.Name(), err)
	}
	if k.queue, err = k.ctx.CreateQueue(); err != nil {
		return nil, device.Wrap("create queue", err)
	}
	if k.program, err = k.ctx.BuildProgram(montecarlo.Source, k.buildOptions); err != nil {
		return nil, device.Wrap("build program", err)
	}
	if k.kernel, err = k.program.CreateKernel(montecarlo.KernelName); err != nil {
		return nil, device.Wrap("create kernel", err)
	}

	if k.energy, err = k.upload(tables.Energy); err != nil {
		return nil, device.Wrap("upload energy table", err)
	}
	if k.derivative, err = k.upload(tables.Derivative); err != nil {
		return nil, device.Wrap("upload derivative table", err)
	}
	for t, m := range maps {
		if len(m) == 0 {
			continue
		}
		if err = k.writeMap(t, m); err != nil {
			return nil, device.Wrap(fmt.Sprintf("upload grid map %s", scoring.AtomType(t)), err)
		}
	}
	if err = k.bindStatic(); err != nil {
		return nil, device.Wrap("bind kernel arguments", err)
	}

	k.logger.Info("kernel ready",
		zap.String("platform", platform.Name()),
		zap.Int("tasks", cfg.NumTasks),
		zap.Int("generations", cfg.Generations),
		zap.Int("table_ns", tables.NS),
		zap.Int("map_points", k.mapWords),
		zap.Int("resident_maps", len(k.Resident())),
	)
	return k, nil
}

// upload copies floats into a new read-only buffer.
func (k *MCKernel) upload(src []float32) (device.Buffer, error) {
	buf, err := k.ctx.CreateBuffer(device.MemReadOnly, len(src))
	if err != nil {
		return nil, err
	}
	words := convert.GetWords(len(src))
	defer convert.PutWords(words)
	convert.Float32sToWords(*words, src)
	if err := k.queue.WriteBuffer(buf, 0, *words); err != nil {
		_ = buf.Release()
		return nil, err
	}
	return buf, nil
}

// writeMap uploads map t, allocating its slot on first use.
func (k *MCKernel) writeMap(t int, m []float32) error {
	if k.maps[t] == nil {
		buf, err := k.ctx.CreateBuffer(device.MemReadOnly, k.mapWords)
		if err != nil {
			return err
		}
		k.maps[t] = buf
	}
	words := convert.GetWords(len(m))
	defer convert.PutWords(words)
	convert.Float32sToWords(*words, m)
	return k.queue.WriteBuffer(k.maps[t], 0, *words)
}

// bindStatic sets every argument that does not change between launches.
func (k *MCKernel) bindStatic() error {
	b := binder{k: k.kernel}
	b.set(montecarlo.ArgEnergy, k.energy)
	b.set(montecarlo.ArgDerivative, k.derivative)
	b.set(montecarlo.ArgNS, int32(k.tableNS))
	b.set(montecarlo.ArgCutoffSqr, k.cutoffSqr)
	for i := 0; i < 3; i++ {
		b.set(montecarlo.ArgCorner0+i, k.box.Corner0[i])
		b.set(montecarlo.ArgCorner1+i, k.box.Corner1[i])
		b.set(montecarlo.ArgNumProbes+i, int32(k.box.NumProbes[i]))
	}
	b.set(montecarlo.ArgGranularityInverse, k.box.GranularityInverse)
	b.set(montecarlo.ArgSeed, k.cfg.Seed)
	b.set(montecarlo.ArgGenerations, int32(k.cfg.Generations))

	s := k.cfg.Schedule
	b.set(montecarlo.ArgT0, s.T0)
	b.set(montecarlo.ArgT1, s.T1)
	b.set(montecarlo.ArgStepTranslation, s.StepTranslation)
	b.set(montecarlo.ArgStepRotation, s.StepRotation)
	b.set(montecarlo.ArgStepTorsion, s.StepTorsion)
	b.set(montecarlo.ArgInitAttempts, int32(s.InitAttempts))
	return b.err
}

// bindMaps points every map slot at its resident buffer or the placeholder.
func (k *MCKernel) bindMaps() error {
	b := binder{k: k.kernel}
	for t, m := range k.maps {
		if m == nil {
			b.set(montecarlo.ArgMaps+t, uint32(0))
			continue
		}
		b.set(montecarlo.ArgMaps+t, m)
	}
	return b.err
}

// binder keeps the first SetArg failure.
type binder struct {
	k   device.Kernel
	err error
}

func (b *binder) set(i int, v any) {
	if b.err != nil {
		return
	}
	if err := b.k.SetArg(i, v); err != nil {
		b.err = err
	}
}

// Resident lists the atom types that currently have a map on the device.
func (k *MCKernel) Resident() []scoring.AtomType {
	var out []scoring.AtomType
	for t, m := range k.maps {
		if m != nil {
			out = append(out, scoring.AtomType(t))
		}
	}
	return out
}

// LastSalt is the salt of the most recent launch. Together with Seed it
// reproduces that launch on a fresh kernel.
func (k *MCKernel) LastSalt() uint64 { return k.lastSalt }

// NumTasks is the number of chains per launch.
func (k *MCKernel) NumTasks() int { return k.cfg.NumTasks }

// Box is the docking box the maps cover.
func (k *MCKernel) Box() grid.Box { return k.box }

// Stats reports launch counters.
func (k *MCKernel) Stats() RuntimeStats {
	s := RuntimeStats{
		Launches:      k.statLaunches.Load(),
		Failures:      k.statFailures.Load(),
		Tasks:         k.statTasks.Load(),
		TotalRunNanos: k.statRunNanos.Load(),
		LastRunNanos:  k.statLast.Load(),
	}
	if ok := s.Launches - s.Failures; ok > 0 {
		s.AvgRunMs = float64(s.TotalRunNanos) / 1e6 / float64(ok)
	}
	return s
}

// ReadMap copies the resident map of type t into dst.
func (k *MCKernel) ReadMap(t int, dst []float32) error {
	k.mustBeOpen()
	if t < 0 || t >= scoring.NumTypes {
		panic(fmt.Sprintf("kernel: atom type index %d out of range", t))
	}
	if len(dst) != k.mapWords {
		panic(fmt.Sprintf("kernel: ReadMap into %d floats, map has %d", len(dst), k.mapWords))
	}
	if k.maps[t] == nil {
		return device.Errorf("read grid map", device.CodeInvalidMemObject, "no map resident for %s", scoring.AtomType(t))
	}
	words := convert.GetWords(k.mapWords)
	defer convert.PutWords(words)
	if err := k.queue.ReadBuffer(k.maps[t], 0, *words); err != nil {
		return device.Wrap("read grid map", err)
	}
	convert.WordsToFloat32s(dst, *words)
	return nil
}

// Close releases every device resource. It is safe to call more than once.
func (k *MCKernel) Close() error {
	if k.closed {
		return nil
	}
	err := k.release()
	k.logger.Info("kernel closed", zap.Error(err))
	return err
}

// release frees resources in reverse order of acquisition. Released handles
// are cleared so a second call is a no-op.
func (k *MCKernel) release() error {
	k.closed = true
	var errs []error
	free := func(r interface{ Release() error }) {
		if err := r.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if k.out != nil {
		free(k.out)
		k.out = nil
	}
	if k.ligand != nil {
		free(k.ligand)
		k.ligand = nil
	}
	for t := range k.maps {
		if k.maps[t] != nil {
			free(k.maps[t])
			k.maps[t] = nil
		}
	}
	if k.derivative != nil {
		free(k.derivative)
		k.derivative = nil
	}
	if k.energy != nil {
		free(k.energy)
		k.energy = nil
	}
	if k.kernel != nil {
		free(k.kernel)
		k.kernel = nil
	}
	if k.program != nil {
		free(k.program)
		k.program = nil
	}
	if k.queue != nil {
		free(k.queue)
		k.queue = nil
	}
	if k.ctx != nil {
		free(k.ctx)
		k.ctx = nil
	}
	return errors.Join(errs...)
}

func (k *MCKernel) mustBeOpen() {
	if k.closed {
		panic("kernel: use after Close")
	}
}

func (k *MCKernel) observe(tasks int, start time.Time, err error) {
	d := time.Since(start)
	k.statLaunches.Add(1)
	if err != nil {
		k.statFailures.Add(1)
	} else {
		k.statTasks.Add(int64(tasks))
		k.statRunNanos.Add(d.Nanoseconds())
		k.statLast.Store(d.Nanoseconds())
	}
	k.recorder.ObserveLaunch(tasks, d, err)
}
