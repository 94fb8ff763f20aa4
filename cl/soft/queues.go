package soft

import (
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/xcamgo/gocl/driver"
	"k8s.io/klog/v2"
)

// queue is the native state of a driver.Queue: an in-order queue served by one worker goroutine.
type queue struct {
	handle    driver.Queue
	ctx       *context
	profiling bool

	mu       sync.RWMutex // Protects closed, and sending to commands.
	closed   bool
	commands chan *command
	stopped  chan struct{}
}

// command is one unit of work of a queue.
type command struct {
	run     func() error
	waitFor []*event
	ev      *event      // Event tracking the command, nil for host transfers and barriers.
	done    chan error  // If not nil, receives the result of run.
	inv     *Invocation // If not nil, released once the command finished.
	label   string
}

// event is the native state of a driver.Event.
type event struct {
	handle driver.Event
	ctx    *context
	done   chan struct{} // Closed when the command reached a final status.

	mu        sync.Mutex
	status    driver.ExecStatus
	profiling driver.Profiling
}

// CreateCommandQueue implements driver.Driver.
func (d *Driver) CreateCommandQueue(ctx driver.Context, device driver.DeviceID, props driver.QueueProperties) (driver.Queue, error) {
	if err := d.injectedFault(OpCreateQueue); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.lookupContext(ctx)
	if err != nil {
		return 0, err
	}
	if device != c.device.ID {
		return 0, driver.Errorf(driver.InvalidDevice, "device %d is not the device of context #%d", device, ctx)
	}
	q := &queue{
		handle:    driver.Queue(d.newHandle()),
		ctx:       c,
		profiling: props.ProfilingEnable,
		commands:  make(chan *command, c.queueDepth),
		stopped:   make(chan struct{}),
	}
	d.queues[q.handle] = q
	c.children++
	go d.serve(q)
	return q.handle, nil
}

func (d *Driver) lookupQueue(handle driver.Queue) (*queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, found := d.queues[handle]
	if !found {
		return nil, driver.Errorf(driver.InvalidCommandQueue, "command queue #%d not found", handle)
	}
	return q, nil
}

// serve runs the commands of q in order, until the queue is released.
func (d *Driver) serve(q *queue) {
	defer close(q.stopped)
	for cmd := range q.commands {
		d.execute(q, cmd)
	}
}

// execute runs one command: it waits for its dependencies, runs it and publishes its final status.
func (d *Driver) execute(q *queue, cmd *command) {
	for _, dep := range cmd.waitFor {
		<-dep.done
		if status, _ := dep.info(); status.Failed() {
			err := driver.Errorf(driver.ExecStatusErrorForEventsInWaitList, "%s: dependency event #%d failed with %s",
				cmd.label, dep.handle, status)
			d.finish(cmd, err)
			return
		}
	}
	if cmd.ev != nil {
		cmd.ev.setRunning(q.profiling)
	}
	d.finish(cmd, runSafely(cmd))
}

// runSafely runs the command converting panics to errors.
func runSafely(cmd *command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			klog.V(1).Infof("soft: %s panicked: %v\n%s", cmd.label, r, debug.Stack())
			err = driver.Errorf(driver.OutOfResources, "%s aborted: %v", cmd.label, r)
		}
	}()
	return cmd.run()
}

// finish publishes the result of a command.
func (d *Driver) finish(cmd *command, err error) {
	if cmd.inv != nil {
		d.releaseInvocation(cmd.inv)
	}
	if cmd.ev != nil {
		if err == nil {
			d.completed.Add(1)
			cmd.ev.complete(driver.ExecComplete)
		} else {
			d.failedCmds.Add(1)
			cmd.ev.complete(driver.ExecStatus(driver.StatusOf(err)))
			cmd.ev.ctx.notifyError(err.Error(), []byte(fmt.Sprintf("event=%d", cmd.ev.handle)))
		}
	}
	if cmd.done != nil {
		cmd.done <- err
	}
}

// submit appends cmd to the queue. It blocks if the queue is full.
func (q *queue) submit(cmd *command) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return driver.Errorf(driver.InvalidCommandQueue, "command queue #%d was released", q.handle)
	}
	q.commands <- cmd
	return nil
}

// sync runs fn in order on the queue and waits for its result.
func (q *queue) sync(fn func() error) error {
	cmd := &command{run: fn, done: make(chan error, 1), label: fmt.Sprintf("host transfer on queue #%d", q.handle)}
	if err := q.submit(cmd); err != nil {
		return err
	}
	return <-cmd.done
}

// Finish implements driver.Driver.
func (d *Driver) Finish(handle driver.Queue) error {
	q, err := d.lookupQueue(handle)
	if err != nil {
		return err
	}
	return q.sync(func() error { return nil })
}

// ReleaseCommandQueue implements driver.Driver. Commands already enqueued are completed first.
func (d *Driver) ReleaseCommandQueue(handle driver.Queue) error {
	if err := d.injectedFault(OpRelease); err != nil {
		return err
	}
	d.mu.Lock()
	q, found := d.queues[handle]
	if found {
		delete(d.queues, handle)
	}
	d.mu.Unlock()
	if !found {
		return driver.Errorf(driver.InvalidCommandQueue, "command queue #%d not found", handle)
	}
	q.mu.Lock()
	q.closed = true
	close(q.commands)
	q.mu.Unlock()
	<-q.stopped

	d.mu.Lock()
	defer d.mu.Unlock()
	q.ctx.children--
	d.recordRelease("queue", uintptr(handle))
	return nil
}

// EnqueueNDRangeKernel implements driver.Driver.
func (d *Driver) EnqueueNDRangeKernel(queueHandle driver.Queue, kernelHandle driver.Kernel, workSize driver.WorkSize,
	waitList []driver.Event) (driver.Event, error) {
	if err := workSize.Validate(); err != nil {
		return 0, err
	}
	q, err := d.lookupQueue(queueHandle)
	if err != nil {
		return 0, err
	}
	inv, err := d.prepareInvocation(kernelHandle, q.ctx, workSize)
	if err != nil {
		return 0, err
	}
	if err := d.injectedFault(OpEnqueue); err != nil {
		d.releaseInvocation(inv)
		return 0, err
	}

	d.mu.Lock()
	var deps []*event
	for _, handle := range waitList {
		dep, found := d.events[handle]
		if !found {
			d.releaseInvocationLocked(inv)
			d.mu.Unlock()
			return 0, driver.Errorf(driver.InvalidEventWaitList, "event #%d in wait list not found", handle)
		}
		if dep.ctx != q.ctx {
			d.releaseInvocationLocked(inv)
			d.mu.Unlock()
			return 0, driver.Errorf(driver.InvalidContext, "event #%d in wait list belongs to another context", handle)
		}
		deps = append(deps, dep)
	}
	ev := &event{
		handle: driver.Event(d.newHandle()),
		ctx:    q.ctx,
		done:   make(chan struct{}),
		status: driver.ExecQueued,
	}
	if q.profiling {
		ev.profiling.Queued = time.Now()
	}
	d.events[ev.handle] = ev
	q.ctx.children++
	d.mu.Unlock()

	cmd := &command{
		run:     inv.run,
		waitFor: deps,
		ev:      ev,
		inv:     inv,
		label:   fmt.Sprintf("kernel %q (event #%d)", inv.Name, ev.handle),
	}
	if err := q.submit(cmd); err != nil {
		d.mu.Lock()
		delete(d.events, ev.handle)
		q.ctx.children--
		d.releaseInvocationLocked(inv)
		d.mu.Unlock()
		return 0, err
	}
	d.enqueued.Add(1)
	return ev.handle, nil
}

func (e *event) setRunning(profiling bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = driver.ExecRunning
	if profiling {
		now := time.Now()
		e.profiling.Submit = now
		e.profiling.Start = now
	}
}

func (e *event) complete(status driver.ExecStatus) {
	e.mu.Lock()
	e.status = status
	if !e.profiling.Start.IsZero() {
		e.profiling.End = time.Now()
	}
	e.mu.Unlock()
	close(e.done)
}

func (e *event) info() (driver.ExecStatus, driver.Profiling) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.profiling
}

func (d *Driver) lookupEvent(handle driver.Event) (*event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, found := d.events[handle]
	if !found {
		return nil, driver.Errorf(driver.InvalidEvent, "event #%d not found", handle)
	}
	return e, nil
}

// EventInfo implements driver.Driver.
func (d *Driver) EventInfo(handle driver.Event) (driver.ExecStatus, driver.Profiling, error) {
	e, err := d.lookupEvent(handle)
	if err != nil {
		return 0, driver.Profiling{}, err
	}
	status, profiling := e.info()
	return status, profiling, nil
}

// WaitForEvents implements driver.Driver. It fails with ExecStatusErrorForEventsInWaitList if any of the events
// terminated abnormally.
func (d *Driver) WaitForEvents(handles []driver.Event) error {
	if len(handles) == 0 {
		return driver.Errorf(driver.InvalidValue, "empty list of events")
	}
	events := make([]*event, 0, len(handles))
	for _, handle := range handles {
		e, err := d.lookupEvent(handle)
		if err != nil {
			return err
		}
		events = append(events, e)
	}
	var failed error
	for _, e := range events {
		<-e.done
		if status, _ := e.info(); status.Failed() && failed == nil {
			failed = driver.Errorf(driver.ExecStatusErrorForEventsInWaitList, "event #%d failed with %s", e.handle, status)
		}
	}
	return failed
}

// ReleaseEvent implements driver.Driver. Releasing an event doesn't cancel its command.
func (d *Driver) ReleaseEvent(handle driver.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, found := d.events[handle]
	if !found {
		return driver.Errorf(driver.InvalidEvent, "event #%d not found", handle)
	}
	delete(d.events, handle)
	e.ctx.children--
	d.recordRelease("event", uintptr(handle))
	return nil
}
