package cl

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"weak"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/xcamgo/gocl/driver"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"
)

// State of a Context.
type State int

//go:generate go tool enumer -type=State -trimprefix=State -output=state_enumer.go

const (
	StateUninitialized State = iota
	StateInitializing
	StateValid
	StateTerminating
	StateDestroyed
)

// Context owns the native context of a device and everything created in it: command queues, the kernel build
// cache, kernels, memory objects and events.
//
// A Context is created with NewContext and must be released with Terminate, which destroys all its objects in
// reverse order of creation. After Terminate every operation on the Context, or on its queues, kernels, events
// and memory objects, fails with an InvalidState error.
//
// All methods are safe for concurrent use. Kernel argument binding is the exception: calls to Kernel.SetArg on
// the same Kernel must be serialized by the caller.
type Context struct {
	id           uuid.UUID
	device       *Device
	drv          driver.Driver
	sink         ErrorSink
	buildOptions string
	properties   NamedValuesMap

	numBuilds  atomic.Int64
	terminated chan struct{}
	cleanup    runtime.Cleanup
	builds     singleflight.Group

	// muDefaultQueue serializes the creation of the default queue.
	muDefaultQueue sync.Mutex
	defaultQueue   *CommandQueue

	mu         sync.Mutex
	state      State
	native     driver.Context
	inflight   sync.WaitGroup
	queues     []*CommandQueue // In creation order.
	kernels    []*Kernel       // In creation order.
	mems       []*Memory       // In creation order.
	events     []driver.Event  // In creation order.
	cache      map[buildKey]*cachedProgram
	cacheOrder []buildKey
}

// ContextOption configures NewContext.
type ContextOption func(c *Context)

// WithErrorSink sets where asynchronous errors are reported: driver notifications, build diagnostics and failed
// commands. The default sink logs the reports with klog.
func WithErrorSink(sink ErrorSink) ContextOption {
	return func(c *Context) { c.sink = sink }
}

// WithBuildOptions sets build options used for every kernel built in the context, e.g. "-cl-fast-relaxed-math".
func WithBuildOptions(options string) ContextOption {
	return func(c *Context) { c.buildOptions = options }
}

// WithProperties sets driver specific context properties.
func WithProperties(properties NamedValuesMap) ContextOption {
	return func(c *Context) { c.properties = properties }
}

// NewContext creates a Context on the device.
//
// It returns an InitializationFailure error if the device is invalid or the native context creation fails. No
// partially initialized Context is ever returned.
func NewContext(device *Device, options ...ContextOption) (*Context, error) {
	c := &Context{
		id:         uuid.New(),
		sink:       klogSink{},
		terminated: make(chan struct{}),
		cache:      make(map[buildKey]*cachedProgram),
		state:      StateUninitialized,
	}
	for _, option := range options {
		option(c)
	}
	if err := c.initContext(device); err != nil {
		return nil, err
	}
	c.cleanup = runtime.AddCleanup(c, func(desc string) {
		klog.Errorf("cl: %s garbage collected without being terminated, its native objects were leaked", desc)
	}, c.String())
	contextsAlive.Add(1)
	klog.V(1).Infof("cl: created %s", c)
	return c, nil
}

// initContext is the single point where the native context is created.
// On failure the context is left in StateDestroyed.
func (c *Context) initContext(device *Device) error {
	const op = "Context.initContext"
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUninitialized {
		return errInvalidState(op, c.objectName(), c.state)
	}
	c.state = StateInitializing
	fail := func(err error) error {
		c.state = StateDestroyed
		return err
	}
	if err := device.validate(); err != nil {
		return fail(&Error{Kind: InitializationFailure, Op: op, Object: device.String(), cause: err})
	}
	properties, err := c.properties.validate()
	if err != nil {
		return fail(&Error{Kind: InitializationFailure, Op: op, Object: device.String(), cause: err})
	}
	c.device = device
	c.drv = device.platform.Driver()
	native, err := c.drv.CreateContext(device.ID(), properties, contextNotifier(weak.Make(c)))
	if err != nil {
		return fail(toError(InitializationFailure, op, device.String(), err))
	}
	if native == 0 {
		return fail(newError(InitializationFailure, op, device.String(), "driver returned a null context"))
	}
	c.native = native
	c.state = StateValid
	return nil
}

// contextNotifier returns the callback the driver uses to report asynchronous errors of the context.
// It only holds a weak reference to the Context.
func contextNotifier(wc weak.Pointer[Context]) driver.ContextNotifyFn {
	return func(errInfo string, privateInfo []byte) {
		c := wc.Value()
		if c == nil || !c.alive() {
			klog.Warningf("cl: error reported for a context no longer alive: %s", errInfo)
			return
		}
		// Failed commands identify their event as "event=<handle>".
		var eventHandle uintptr
		if _, err := fmt.Sscanf(string(privateInfo), "event=%d", &eventHandle); err == nil && eventHandle != 0 {
			c.report(ExecutionFailure, "event", eventHandle, errInfo)
			return
		}
		message := errInfo
		if len(privateInfo) > 0 {
			message = fmt.Sprintf("%s [%x]", errInfo, privateInfo)
		}
		c.report(ExecutionFailure, "context", uintptr(c.NativeID()), message)
	}
}

// alive reports whether native objects of the context may still report errors.
func (c *Context) alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateValid || c.state == StateTerminating
}

// report sends an error report to the error sink.
func (c *Context) report(kind ErrorKind, source string, handle uintptr, message string) {
	c.sink.ReportError(ErrorReport{
		Kind:      kind,
		Source:    source,
		Handle:    handle,
		ContextID: c.id.String(),
		Message:   message,
		Time:      time.Now(),
	})
}

// enter marks the start of an operation: it fails with InvalidState if the context is not valid, and otherwise
// makes Terminate wait until the matching leave.
func (c *Context) enter(op string) error {
	if c == nil {
		return errInvalidState(op, "nil context", StateUninitialized)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateValid {
		return errInvalidState(op, c.objectName(), c.state)
	}
	c.inflight.Add(1)
	return nil
}

// leave marks the end of an operation started with enter.
func (c *Context) leave() {
	c.inflight.Done()
}

func (c *Context) nativeDriver() driver.Driver {
	return c.drv
}

func (c *Context) objectName() string {
	return "context " + c.id.String()
}

// ID returns the unique identifier of the context, used in error reports.
func (c *Context) ID() string {
	return c.id.String()
}

// NativeID returns the native context handle, or the null handle if the context is not valid.
func (c *Context) NativeID() driver.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.native
}

// State returns the current state of the context.
func (c *Context) State() State {
	if c == nil {
		return StateUninitialized
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsValid returns whether the context can be used.
func (c *Context) IsValid() bool {
	return c.State() == StateValid
}

// Device returns the device the context was created on.
func (c *Context) Device() *Device {
	return c.device
}

// Platform returns the platform of the device of the context.
func (c *Context) Platform() *Platform {
	return c.device.Platform()
}

// String implements fmt.Stringer.
func (c *Context) String() string {
	if c == nil {
		return "Context(nil)"
	}
	return fmt.Sprintf("Context(%s on %s)", c.id, c.device)
}

// NumQueues returns the number of live command queues, including the default queue if it was created.
func (c *Context) NumQueues() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queues)
}

// NumCachedPrograms returns the number of programs in the build cache.
func (c *Context) NumCachedPrograms() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// NumBuilds returns the number of native program builds started by the context. Cache hits don't start builds.
func (c *Context) NumBuilds() int {
	return int(c.numBuilds.Load())
}

// ExecuteKernel enqueues the kernel, with its currently bound arguments, on the queue. If queue is nil, the default
// queue of the context is used. The kernel only starts after all the wait events completed.
//
// It returns the Event tracking the execution. It fails with ExecutionFailure if some argument is not bound, or if
// the driver rejects the submission.
func (c *Context) ExecuteKernel(kernel *Kernel, queue *CommandQueue, wait ...*Event) (*Event, error) {
	return c.executeKernel("Context.ExecuteKernel", kernel, queue, wait)
}

func (c *Context) executeKernel(op string, k *Kernel, q *CommandQueue, wait []*Event) (*Event, error) {
	if err := c.enter(op); err != nil {
		return nil, err
	}
	defer c.leave()
	if k == nil {
		return nil, newError(ExecutionFailure, op, "", "nil kernel")
	}
	if k.owner != resourceOwner(c) {
		return nil, newError(ExecutionFailure, op, k.objectName(), "kernel belongs to another context")
	}
	if k.destroyed.Load() {
		return nil, errInvalidState(op, k.objectName(), StateDestroyed)
	}
	if missing := k.unboundArgs(); len(missing) > 0 {
		return nil, newError(ExecutionFailure, op, k.objectName(), "kernel %q arguments %v are not bound", k.name, missing)
	}
	if q == nil {
		var err error
		q, err = c.getDefaultQueue(op)
		if err != nil {
			return nil, err
		}
	} else if q.owner != resourceOwner(c) {
		return nil, newError(ExecutionFailure, op, q.objectName(), "queue belongs to another context")
	} else if q.destroyed.Load() {
		return nil, errInvalidState(op, q.objectName(), StateDestroyed)
	}
	waitList := make([]driver.Event, 0, len(wait))
	for _, e := range wait {
		if e == nil {
			continue
		}
		if e.owner != resourceOwner(c) {
			return nil, newError(ExecutionFailure, op, e.objectName(), "wait event belongs to another context")
		}
		if e.destroyed.Load() {
			return nil, newError(ExecutionFailure, op, e.objectName(), "wait event was destroyed")
		}
		waitList = append(waitList, e.native)
	}
	workSize := k.WorkSize()
	native, err := c.drv.EnqueueNDRangeKernel(q.native, k.native, workSize, waitList)
	if err != nil {
		return nil, toError(ExecutionFailure, op, k.objectName(), err)
	}
	klog.V(2).Infof("cl: enqueued kernel %q %s on %s: event#%d", k.name, workSize, q, native)
	return c.newEvent(native, q, k.name), nil
}

// Terminate destroys all the objects of the context and the native context itself. Queues are finished and
// destroyed first, in reverse order of creation, then events, kernels, cached programs and memory objects.
//
// It waits for operations in progress in other goroutines to finish. It is idempotent: calling it again, or on an
// invalid context, is a no-op.
//
// Failures to release native objects are logged and the teardown proceeds. The first such failure is returned.
func (c *Context) Terminate() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	switch c.state {
	case StateValid:
		c.state = StateTerminating
		c.mu.Unlock()
	case StateTerminating:
		c.mu.Unlock()
		<-c.terminated
		return nil
	default:
		c.mu.Unlock()
		return nil
	}
	klog.V(1).Infof("cl: terminating %s", c)
	c.inflight.Wait()
	err := c.destroyContext()

	c.mu.Lock()
	c.state = StateDestroyed
	c.native = 0
	c.mu.Unlock()
	c.cleanup.Stop()
	contextsAlive.Add(-1)
	close(c.terminated)
	return err
}

// destroyContext releases all native objects. It must only be called by Terminate, with no operation in progress.
func (c *Context) destroyContext() error {
	var (
		firstErr error
		failures int
	)
	check := func(err error, what string) {
		if err == nil {
			return
		}
		klog.Errorf("cl: failed to release %s of %s: %+v", what, c, err)
		failures++
		if firstErr == nil {
			firstErr = err
		}
	}

	c.mu.Lock()
	queues, events, kernels, mems := c.queues, c.events, c.kernels, c.mems
	cache, cacheOrder := c.cache, c.cacheOrder
	c.queues, c.events, c.kernels, c.mems = nil, nil, nil, nil
	c.cache, c.cacheOrder = make(map[buildKey]*cachedProgram), nil
	c.mu.Unlock()

	for ii := len(queues) - 1; ii >= 0; ii-- {
		check(queues[ii].destroy(), queues[ii].objectName())
	}
	for ii := len(events) - 1; ii >= 0; ii-- {
		check(c.drv.ReleaseEvent(events[ii]), fmt.Sprintf("event#%d", events[ii]))
	}
	for ii := len(kernels) - 1; ii >= 0; ii-- {
		k := kernels[ii]
		if k.destroyed.CompareAndSwap(false, true) {
			kernelsAlive.Add(-1)
			check(c.drv.ReleaseKernel(k.native), k.objectName())
		}
	}
	for ii := len(cacheOrder) - 1; ii >= 0; ii-- {
		program := cache[cacheOrder[ii]].program
		check(c.drv.ReleaseProgram(program), fmt.Sprintf("program#%d", program))
	}
	for ii := len(mems) - 1; ii >= 0; ii-- {
		m := mems[ii]
		if m.destroyed.CompareAndSwap(false, true) {
			memoryObjectsAlive.Add(-1)
			check(c.drv.ReleaseMem(m.native), m.objectName())
		}
	}
	check(c.drv.ReleaseContext(c.native), fmt.Sprintf("context#%d", c.native))
	if failures > 0 {
		return errors.WithMessagef(firstErr, "Context.Terminate: %d native objects failed to be released", failures)
	}
	return nil
}
