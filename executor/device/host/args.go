package host

import (
	"unsafe"

	"github.com/brensch/mcdock/executor/device"
)

// Args is the argument snapshot a work-item sees. Buffers are shared by every
// work-item of a launch; kernels must only write to disjoint ranges.
type Args struct {
	values []any
}

// Len is the number of arguments.
func (a *Args) Len() int { return len(a.values) }

// Words returns the backing storage of a buffer argument.
func (a *Args) Words(i int) ([]uint32, error) {
	b, ok := a.values[i].(*buffer)
	if !ok {
		return nil, argError(i, "buffer", a.values[i])
	}
	return b.data, nil
}

// Float32s returns a buffer argument viewed as float32 values.
func (a *Args) Float32s(i int) ([]float32, error) {
	w, err := a.Words(i)
	if err != nil || len(w) == 0 {
		return nil, err
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&w[0])), len(w)), nil
}

// OptionalFloat32s is Float32s for an argument that may be bound to a
// zero-length placeholder scalar, returning nil in that case.
func (a *Args) OptionalFloat32s(i int) ([]float32, error) {
	if _, ok := a.values[i].(*buffer); !ok {
		if v, ok := a.values[i].(uint32); ok && v == 0 {
			return nil, nil
		}
	}
	return a.Float32s(i)
}

func (a *Args) Int32(i int) (int32, error) {
	v, ok := a.values[i].(int32)
	if !ok {
		return 0, argError(i, "int32", a.values[i])
	}
	return v, nil
}

func (a *Args) Uint32(i int) (uint32, error) {
	v, ok := a.values[i].(uint32)
	if !ok {
		return 0, argError(i, "uint32", a.values[i])
	}
	return v, nil
}

func (a *Args) Uint64(i int) (uint64, error) {
	v, ok := a.values[i].(uint64)
	if !ok {
		return 0, argError(i, "uint64", a.values[i])
	}
	return v, nil
}

func (a *Args) Float32(i int) (float32, error) {
	v, ok := a.values[i].(float32)
	if !ok {
		return 0, argError(i, "float32", a.values[i])
	}
	return v, nil
}

func argError(i int, want string, got any) error {
	return device.Errorf("kernel argument", device.CodeInvalidArgValue, "argument %d: want %s, got %T", i, want, got)
}
