package cl

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"weak"

	"github.com/pkg/errors"
	"github.com/xcamgo/gocl/driver"
	"k8s.io/klog/v2"
)

// Event tracks one kernel execution. It can be awaited, polled, and passed in the wait list of later executions on
// any queue of the same context.
//
// Events are owned by their Context: the ones not destroyed explicitly are released by Context.Terminate, or when
// they are garbage collected.
type Event struct {
	owner      resourceOwner
	native     driver.Event
	queue      *CommandQueue
	kernelName string
	destroyed  atomic.Bool
	cleanup    runtime.Cleanup
}

// eventCleanupArg must not reference the Event itself.
type eventCleanupArg struct {
	ctx    weak.Pointer[Context]
	handle driver.Event
}

// newEvent must be called between enter and leave.
func (c *Context) newEvent(native driver.Event, q *CommandQueue, kernelName string) *Event {
	e := &Event{owner: c, native: native, queue: q, kernelName: kernelName}
	c.mu.Lock()
	c.events = append(c.events, native)
	c.mu.Unlock()
	e.cleanup = runtime.AddCleanup(e, func(arg eventCleanupArg) {
		if c := arg.ctx.Value(); c != nil {
			if err := c.releaseEvent(arg.handle); err != nil {
				klog.Errorf("cl: failed to release garbage collected event#%d: %+v", arg.handle, err)
			}
		}
	}, eventCleanupArg{ctx: weak.Make(c), handle: native})
	return e
}

// NativeID returns the native event handle.
func (e *Event) NativeID() driver.Event {
	return e.native
}

// Queue returns the queue the execution was enqueued on.
func (e *Event) Queue() *CommandQueue {
	return e.queue
}

// String implements fmt.Stringer.
func (e *Event) String() string {
	return e.objectName()
}

func (e *Event) objectName() string {
	return fmt.Sprintf("event#%d (kernel %q)", e.native, e.kernelName)
}

// Status returns the current execution status, without blocking.
func (e *Event) Status() (driver.ExecStatus, error) {
	const op = "Event.Status"
	if err := e.owner.enter(op); err != nil {
		return 0, err
	}
	defer e.owner.leave()
	if e.destroyed.Load() {
		return 0, errInvalidState(op, e.objectName(), StateDestroyed)
	}
	status, _, err := e.owner.nativeDriver().EventInfo(e.native)
	if err != nil {
		return 0, toError(ExecutionFailure, op, e.objectName(), err)
	}
	return status, nil
}

// Await blocks until the execution finishes. It returns an ExecutionFailure error if the command failed, with the
// failure status available with StatusOf.
//
// Awaiting an event of a terminated context returns an InvalidState error.
func (e *Event) Await() error {
	const op = "Event.Await"
	if err := e.owner.enter(op); err != nil {
		return err
	}
	defer e.owner.leave()
	if e.destroyed.Load() {
		return errInvalidState(op, e.objectName(), StateDestroyed)
	}
	drv := e.owner.nativeDriver()
	err := drv.WaitForEvents([]driver.Event{e.native})
	if err == nil {
		return nil
	}
	if status, _, infoErr := drv.EventInfo(e.native); infoErr == nil && status.Failed() {
		return &Error{Kind: ExecutionFailure, Op: op, Status: driver.Status(status), Object: e.objectName(),
			cause: errors.Wrapf(err, "command failed with %s", driver.Status(status))}
	}
	return toError(ExecutionFailure, op, e.objectName(), err)
}

// AwaitAndFree waits for the execution to finish and destroys the event.
func (e *Event) AwaitAndFree() error {
	err := e.Await()
	if errFree := e.Destroy(); err == nil {
		err = errFree
	}
	return err
}

// Profiling returns the timestamps of the execution. They are zero if the queue was created without profiling.
func (e *Event) Profiling() (driver.Profiling, error) {
	const op = "Event.Profiling"
	if err := e.owner.enter(op); err != nil {
		return driver.Profiling{}, err
	}
	defer e.owner.leave()
	if e.destroyed.Load() {
		return driver.Profiling{}, errInvalidState(op, e.objectName(), StateDestroyed)
	}
	_, profiling, err := e.owner.nativeDriver().EventInfo(e.native)
	if err != nil {
		return driver.Profiling{}, toError(ExecutionFailure, op, e.objectName(), err)
	}
	return profiling, nil
}

// Destroy releases the native event. The execution itself is not affected.
//
// It is idempotent, and a no-op after Context.Terminate, which releases all events.
func (e *Event) Destroy() error {
	if e == nil || !e.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	e.cleanup.Stop()
	return e.owner.releaseEvent(e.native)
}

// releaseEvent removes the event from the context and releases it. If the context is no longer valid it does
// nothing: the event is released by the teardown.
func (c *Context) releaseEvent(handle driver.Event) error {
	const op = "Event.Destroy"
	if err := c.enter(op); err != nil {
		return nil
	}
	defer c.leave()
	c.mu.Lock()
	found := false
	for ii, live := range c.events {
		if live == handle {
			c.events = append(c.events[:ii], c.events[ii+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return nil
	}
	return toError(UnknownError, op, fmt.Sprintf("event#%d", handle), c.drv.ReleaseEvent(handle))
}
