package host

import (
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/mcdock/executor/device"
)

// queue runs every command synchronously in submission order. Kernel
// execution failures are held back and reported by the next Finish, the
// way an asynchronous device reports them.
type queue struct {
	ctx      *hostContext
	pending  error
	released bool
}

func (q *queue) checkBuffer(op string, b device.Buffer, offset, n int) (*buffer, error) {
	if q.released {
		return nil, device.Errorf(op, device.CodeInvalidCommandQueue, "queue released")
	}
	hb, ok := b.(*buffer)
	if !ok || hb.ctx != q.ctx {
		return nil, device.Errorf(op, device.CodeInvalidMemObject, "buffer %T does not belong to this context", b)
	}
	if hb.data == nil {
		return nil, device.Errorf(op, device.CodeInvalidMemObject, "buffer released")
	}
	if offset < 0 || offset+n > len(hb.data) {
		return nil, device.Errorf(op, device.CodeInvalidValue, "range [%d, %d) outside buffer of %d words", offset, offset+n, len(hb.data))
	}
	return hb, nil
}

func (q *queue) WriteBuffer(b device.Buffer, offset int, src []uint32) error {
	hb, err := q.checkBuffer("clEnqueueWriteBuffer", b, offset, len(src))
	if err != nil {
		return err
	}
	copy(hb.data[offset:], src)
	return nil
}

func (q *queue) ReadBuffer(b device.Buffer, offset int, dst []uint32) error {
	hb, err := q.checkBuffer("clEnqueueReadBuffer", b, offset, len(dst))
	if err != nil {
		return err
	}
	copy(dst, hb.data[offset:offset+len(dst)])
	return nil
}

func (q *queue) EnqueueKernel(dk device.Kernel, globalSize int) error {
	const op = "clEnqueueNDRangeKernel"
	if q.released {
		return device.Errorf(op, device.CodeInvalidCommandQueue, "queue released")
	}
	k, ok := dk.(*kernel)
	if !ok || k.ctx != q.ctx || k.released {
		return device.Errorf(op, device.CodeInvalidKernel, "kernel %T not usable on this queue", dk)
	}
	if globalSize <= 0 {
		return device.Errorf(op, device.CodeInvalidWorkDimension, "global size %d", globalSize)
	}
	args := &Args{values: make([]any, len(k.args))}
	for i, v := range k.args {
		if v == nil {
			return device.Errorf(op, device.CodeInvalidKernelArgs, "kernel %s argument %d not set", k.name, i)
		}
		if b, ok := v.(*buffer); ok && b.data == nil {
			return device.Errorf(op, device.CodeInvalidMemObject, "kernel %s argument %d was released", k.name, i)
		}
		args.values[i] = v
	}

	var g errgroup.Group
	g.SetLimit(q.ctx.p.opts.Workers)
	for gid := 0; gid < globalSize; gid++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("work-item %d panicked: %v\n%s", gid, r, debug.Stack())
				}
			}()
			if err := k.def.fn(args, gid); err != nil {
				return fmt.Errorf("work-item %d: %w", gid, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && q.pending == nil {
		q.pending = device.Wrap("kernel "+k.name, err)
	}
	return nil
}

func (q *queue) Finish() error {
	if q.released {
		return device.Errorf("clFinish", device.CodeInvalidCommandQueue, "queue released")
	}
	err := q.pending
	q.pending = nil
	return err
}

func (q *queue) Release() error {
	if q.released {
		return nil
	}
	q.released = true
	q.ctx.p.track(func(s *Stats) { s.Queues-- })
	return nil
}
