package kernel

import (
	"github.com/brensch/mcdock/executor/device"
)

// faultPlatform wraps a real platform and injects failures into the queue.
type faultPlatform struct {
	device.Platform
	extraSource string

	failEnqueue bool
	failFinish  bool
	failRead    bool
}

func (p *faultPlatform) reset() {
	p.failEnqueue, p.failFinish, p.failRead = false, false, false
}

func (p *faultPlatform) CreateContext() (device.Context, error) {
	ctx, err := p.Platform.CreateContext()
	if err != nil {
		return nil, err
	}
	return &faultContext{Context: ctx, p: p}, nil
}

type faultContext struct {
	device.Context
	p *faultPlatform
}

func (c *faultContext) BuildProgram(source, options string) (device.Program, error) {
	return c.Context.BuildProgram(source+c.p.extraSource, options)
}

func (c *faultContext) CreateQueue() (device.Queue, error) {
	q, err := c.Context.CreateQueue()
	if err != nil {
		return nil, err
	}
	return &faultQueue{Queue: q, p: c.p}, nil
}

type faultQueue struct {
	device.Queue
	p *faultPlatform
}

func (q *faultQueue) EnqueueKernel(k device.Kernel, global int) error {
	if q.p.failEnqueue {
		return device.Errorf("clEnqueueNDRangeKernel", device.CodeOutOfResources, "injected")
	}
	return q.Queue.EnqueueKernel(k, global)
}

func (q *faultQueue) Finish() error {
	if err := q.Queue.Finish(); err != nil {
		return err
	}
	if q.p.failFinish {
		return device.Errorf("clFinish", device.CodeOutOfResources, "injected")
	}
	return nil
}

func (q *faultQueue) ReadBuffer(b device.Buffer, offset int, dst []uint32) error {
	if q.p.failRead {
		return device.Errorf("clEnqueueReadBuffer", device.CodeOutOfResources, "injected")
	}
	return q.Queue.ReadBuffer(b, offset, dst)
}
