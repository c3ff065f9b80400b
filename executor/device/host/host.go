// Package host implements the device capability on the CPU. Kernels are Go
// functions registered by name, buffers live in host memory and a launch fans
// its work-items out over a bounded goroutine pool.
//
// It is the reference backend for tests and for machines without a GPU.
package host

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/brensch/mcdock/executor/device"
)

// KernelFunc runs one work-item. gid is its index in [0, globalSize).
type KernelFunc func(args *Args, gid int) error

type kernelDef struct {
	numArgs int
	fn      KernelFunc
}

var (
	registryMu sync.RWMutex
	registry   = map[string]kernelDef{}
)

// Register makes a kernel available to BuildProgram under name. Registering
// the same name twice panics.
func Register(name string, numArgs int, fn KernelFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("host: kernel %q registered twice", name))
	}
	registry[name] = kernelDef{numArgs: numArgs, fn: fn}
}

func lookup(name string) (kernelDef, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	k, ok := registry[name]
	return k, ok
}

// Options configures the simulated device.
type Options struct {
	// Workers bounds the goroutines running work-items. Defaults to GOMAXPROCS.
	Workers int
	// MemoryWords caps the total words of live buffers. Zero means unlimited.
	MemoryWords int
}

// Stats counts live resources across every context of a platform.
type Stats struct {
	Contexts int
	Queues   int
	Programs int
	Kernels  int
	Buffers  int
	Words    int
}

// Platform is the CPU backend.
type Platform struct {
	opts Options

	mu    sync.Mutex
	stats Stats
}

// New returns a platform with opts applied.
func New(opts Options) *Platform {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Platform{opts: opts}
}

func (p *Platform) Name() string {
	return fmt.Sprintf("host (%d workers)", p.opts.Workers)
}

// Stats reports the resources that have not been released yet.
func (p *Platform) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Platform) track(f func(s *Stats)) {
	p.mu.Lock()
	f(&p.stats)
	p.mu.Unlock()
}

func (p *Platform) CreateContext() (device.Context, error) {
	p.track(func(s *Stats) { s.Contexts++ })
	return &hostContext{p: p}, nil
}

type hostContext struct {
	p        *Platform
	mu       sync.Mutex
	released bool
}

func (c *hostContext) live(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return device.Errorf(op, device.CodeInvalidContext, "context released")
	}
	return nil
}

func (c *hostContext) CreateQueue() (device.Queue, error) {
	if err := c.live("clCreateCommandQueue"); err != nil {
		return nil, err
	}
	c.p.track(func(s *Stats) { s.Queues++ })
	return &queue{ctx: c}, nil
}

// BuildProgram treats source as a list of kernel names, one per line. Blank
// lines and lines starting with '#' are ignored.
func (c *hostContext) BuildProgram(source, options string) (device.Program, error) {
	const op = "clBuildProgram"
	if err := c.live(op); err != nil {
		return nil, err
	}
	kernels := map[string]kernelDef{}
	var log []string
	for n, line := range strings.Split(source, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		def, ok := lookup(name)
		if !ok {
			log = append(log, fmt.Sprintf("<source>:%d: error: kernel %q is not registered", n+1, name))
			continue
		}
		kernels[name] = def
	}
	if len(kernels) == 0 && len(log) == 0 {
		log = append(log, "error: program defines no kernels")
	}
	if len(log) > 0 {
		return nil, &device.Error{
			Op:       op,
			Code:     device.CodeBuildProgramFailure,
			BuildLog: strings.Join(log, "\n"),
			Err:      fmt.Errorf("%d error(s) building program (options %q)", len(log), options),
		}
	}
	c.p.track(func(s *Stats) { s.Programs++ })
	return &program{ctx: c, kernels: kernels}, nil
}

func (c *hostContext) CreateBuffer(flags device.MemFlags, words int) (device.Buffer, error) {
	const op = "clCreateBuffer"
	if err := c.live(op); err != nil {
		return nil, err
	}
	if words <= 0 {
		return nil, device.Errorf(op, device.CodeInvalidValue, "buffer size %d", words)
	}
	var err error
	c.p.mu.Lock()
	if limit := c.p.opts.MemoryWords; limit > 0 && c.p.stats.Words+words > limit {
		err = device.Errorf(op, device.CodeMemObjectAllocationFailure,
			"%d words requested, %d of %d in use", words, c.p.stats.Words, limit)
	} else {
		c.p.stats.Buffers++
		c.p.stats.Words += words
	}
	c.p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &buffer{ctx: c, flags: flags, data: make([]uint32, words)}, nil
}

func (c *hostContext) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil
	}
	c.released = true
	c.p.track(func(s *Stats) { s.Contexts-- })
	return nil
}

type buffer struct {
	ctx   *hostContext
	flags device.MemFlags

	mu   sync.Mutex
	data []uint32
}

func (b *buffer) Words() int            { return len(b.data) }
func (b *buffer) Flags() device.MemFlags { return b.flags }

func (b *buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		return nil
	}
	n := len(b.data)
	b.data = nil
	b.ctx.p.track(func(s *Stats) {
		s.Buffers--
		s.Words -= n
	})
	return nil
}

type program struct {
	ctx      *hostContext
	kernels  map[string]kernelDef
	released bool
}

func (p *program) CreateKernel(name string) (device.Kernel, error) {
	const op = "clCreateKernel"
	if p.released {
		return nil, device.Errorf(op, device.CodeInvalidProgram, "program released")
	}
	def, ok := p.kernels[name]
	if !ok {
		names := make([]string, 0, len(p.kernels))
		for n := range p.kernels {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, device.Errorf(op, device.CodeInvalidKernelName, "no kernel %q in program (have %v)", name, names)
	}
	p.ctx.p.track(func(s *Stats) { s.Kernels++ })
	return &kernel{ctx: p.ctx, name: name, def: def, args: make([]any, def.numArgs)}, nil
}

func (p *program) Release() error {
	if p.released {
		return nil
	}
	p.released = true
	p.ctx.p.track(func(s *Stats) { s.Programs-- })
	return nil
}

type kernel struct {
	ctx      *hostContext
	name     string
	def      kernelDef
	args     []any
	released bool
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) SetArg(index int, value any) error {
	const op = "clSetKernelArg"
	if index < 0 || index >= len(k.args) {
		return device.Errorf(op, device.CodeInvalidArgIndex, "kernel %s has %d arguments, got index %d", k.name, len(k.args), index)
	}
	switch v := value.(type) {
	case *buffer:
		if v.ctx != k.ctx {
			return device.Errorf(op, device.CodeInvalidMemObject, "argument %d belongs to another context", index)
		}
	case int32, uint32, uint64, float32:
	default:
		return device.Errorf(op, device.CodeInvalidArgValue, "argument %d has unsupported type %T", index, value)
	}
	k.args[index] = value
	return nil
}

func (k *kernel) Release() error {
	if k.released {
		return nil
	}
	k.released = true
	k.args = nil
	k.ctx.p.track(func(s *Stats) { s.Kernels-- })
	return nil
}
