package cl

import (
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/xcamgo/gocl/driver"
	"k8s.io/klog/v2"
)

// resourceOwner is implemented by Context: it is the only way queues, kernels, events and memory objects reach
// the context that created them.
type resourceOwner interface {
	enter(op string) error
	leave()
	nativeDriver() driver.Driver
	executeKernel(op string, k *Kernel, q *CommandQueue, wait []*Event) (*Event, error)
	getDefaultQueue(op string) (*CommandQueue, error)
	destroyKernel(k *Kernel) error
	destroyMem(m *Memory) error
	releaseEvent(handle driver.Event) error
}

// Compile time check.
var _ resourceOwner = (*Context)(nil)

// CommandQueue is an in-order queue of kernel executions: kernels enqueued on the same queue execute in
// submission order. There is no ordering between different queues, except through wait events.
//
// Queues are created by the Context (see Context.NewCommandQueue and Context.DefaultCommandQueue) and destroyed
// by Context.Terminate.
type CommandQueue struct {
	owner     resourceOwner
	native    driver.Queue
	isDefault bool
	profiling bool
	destroyed atomic.Bool
}

// QueueOption configures Context.NewCommandQueue.
type QueueOption func(props *driver.QueueProperties)

// WithProfiling enables the collection of execution timestamps, see Event.Profiling.
func WithProfiling() QueueOption {
	return func(props *driver.QueueProperties) { props.ProfilingEnable = true }
}

// NewCommandQueue creates a new command queue in the context.
// It fails with InitializationFailure if the driver can't create the queue.
func (c *Context) NewCommandQueue(options ...QueueOption) (*CommandQueue, error) {
	const op = "Context.NewCommandQueue"
	if err := c.enter(op); err != nil {
		return nil, err
	}
	defer c.leave()
	var props driver.QueueProperties
	for _, option := range options {
		option(&props)
	}
	return c.createCmdQueue(op, false, props)
}

// DefaultCommandQueue returns the default queue of the context, creating it on the first call.
// At most one default queue is created per context. It has profiling enabled.
func (c *Context) DefaultCommandQueue() (*CommandQueue, error) {
	const op = "Context.DefaultCommandQueue"
	if err := c.enter(op); err != nil {
		return nil, err
	}
	defer c.leave()
	return c.getDefaultQueue(op)
}

// getDefaultQueue must be called between enter and leave.
func (c *Context) getDefaultQueue(op string) (*CommandQueue, error) {
	c.muDefaultQueue.Lock()
	defer c.muDefaultQueue.Unlock()
	if c.defaultQueue != nil {
		return c.defaultQueue, nil
	}
	q, err := c.createCmdQueue(op, true, driver.QueueProperties{ProfilingEnable: true})
	if err != nil {
		return nil, err
	}
	c.defaultQueue = q
	return q, nil
}

// createCmdQueue must be called between enter and leave.
func (c *Context) createCmdQueue(op string, isDefault bool, props driver.QueueProperties) (*CommandQueue, error) {
	native, err := c.drv.CreateCommandQueue(c.native, c.device.ID(), props)
	if err != nil {
		return nil, toError(InitializationFailure, op, c.objectName(), err)
	}
	q := &CommandQueue{owner: c, native: native, isDefault: isDefault, profiling: props.ProfilingEnable}
	c.mu.Lock()
	c.queues = append(c.queues, q)
	c.mu.Unlock()
	klog.V(1).Infof("cl: created %s in %s", q, c)
	return q, nil
}

// NativeID returns the native queue handle.
func (q *CommandQueue) NativeID() driver.Queue {
	return q.native
}

// IsDefault returns whether this is the default queue of its context.
func (q *CommandQueue) IsDefault() bool {
	return q.isDefault
}

// String implements fmt.Stringer.
func (q *CommandQueue) String() string {
	return q.objectName()
}

func (q *CommandQueue) objectName() string {
	if q.isDefault {
		return fmt.Sprintf("default queue#%d", q.native)
	}
	return fmt.Sprintf("queue#%d", q.native)
}

// ExecuteKernel enqueues the kernel on this queue. See Context.ExecuteKernel.
func (q *CommandQueue) ExecuteKernel(kernel *Kernel, wait ...*Event) (*Event, error) {
	return q.owner.executeKernel("CommandQueue.ExecuteKernel", kernel, q, wait)
}

// Finish blocks until all the commands enqueued on the queue have completed.
func (q *CommandQueue) Finish() error {
	const op = "CommandQueue.Finish"
	if err := q.owner.enter(op); err != nil {
		return err
	}
	defer q.owner.leave()
	if q.destroyed.Load() {
		return errInvalidState(op, q.objectName(), StateDestroyed)
	}
	return toError(ExecutionFailure, op, q.objectName(), q.owner.nativeDriver().Finish(q.native))
}

// destroy finishes the queue and releases the native queue. It is only called by the Context during teardown,
// before the native context is released.
func (q *CommandQueue) destroy() error {
	if !q.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	drv := q.owner.nativeDriver()
	if err := drv.Finish(q.native); err != nil {
		klog.Errorf("cl: failed to finish %s before releasing it: %+v", q, err)
	}
	if err := drv.ReleaseCommandQueue(q.native); err != nil {
		return errors.WithMessagef(err, "releasing %s", q)
	}
	klog.V(1).Infof("cl: destroyed %s", q)
	return nil
}
