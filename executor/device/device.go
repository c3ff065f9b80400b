// Package device is the narrow compute capability the search orchestrator
// runs on: a context with one in-order command queue, programs compiled from
// source, kernels with bound arguments, and word-addressed buffers.
//
// The shape follows OpenCL so a GPU backend can slot in next to the host
// thread-pool backend without touching the orchestrator.
package device

// MemFlags describes how kernels may access a buffer.
type MemFlags uint8

const (
	MemReadWrite MemFlags = iota
	MemReadOnly
	MemWriteOnly
)

func (f MemFlags) String() string {
	switch f {
	case MemReadOnly:
		return "read_only"
	case MemWriteOnly:
		return "write_only"
	default:
		return "read_write"
	}
}

// Platform creates contexts on one compute device.
type Platform interface {
	Name() string
	CreateContext() (Context, error)
}

// Context owns every resource created through it.
type Context interface {
	CreateQueue() (Queue, error)
	BuildProgram(source, options string) (Program, error)
	CreateBuffer(flags MemFlags, words int) (Buffer, error)
	Release() error
}

// Buffer is a device allocation of 32-bit words.
type Buffer interface {
	Words() int
	Flags() MemFlags
	Release() error
}

// Program is a compiled unit holding one or more kernels.
type Program interface {
	CreateKernel(name string) (Kernel, error)
	Release() error
}

// Kernel is an entry point with its argument slots. Accepted argument values
// are Buffer, int32, uint32, uint64 and float32.
type Kernel interface {
	Name() string
	SetArg(index int, value any) error
	Release() error
}

// Queue executes commands in submission order.
type Queue interface {
	WriteBuffer(buf Buffer, offset int, src []uint32) error
	ReadBuffer(buf Buffer, offset int, dst []uint32) error
	EnqueueKernel(k Kernel, globalSize int) error
	Finish() error
	Release() error
}
