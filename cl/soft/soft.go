// Package soft implements a software compute driver: a pure Go implementation of driver.Driver that runs kernels
// on the host CPU.
//
// It registers itself with the name "soft" when imported:
//
//	import _ "github.com/xcamgo/gocl/cl/soft"
//
// And calls to cl.GetPlatform("soft") will return it. Separate instances (e.g. one per test, to count compilations
// independently) can be created with New and registered with cl.RegisterPlatform.
//
// Kernel sources are parsed for their `__kernel void name(...)` signatures, and kernel bodies are executed by Go
// functions registered with RegisterKernel. Kernels without a registered function execute as no-ops.
package soft

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xcamgo/gocl/driver"
	"k8s.io/klog/v2"
)

// DefaultName is the name the default instance is registered with.
const DefaultName = "soft"

// DefaultQueueDepth is the number of commands a queue accepts before Enqueue blocks.
// It can be changed per context with the "soft.queue_depth" property.
const DefaultQueueDepth = 1024

func init() {
	if err := driver.Register(DefaultName, New()); err != nil {
		klog.Fatalf("Failed to register %q compute driver: %+v", DefaultName, err)
	}
}

// Op identifies a driver entry point for fault injection.
type Op string

const (
	OpCreateContext Op = "CreateContext"
	OpCreateQueue   Op = "CreateCommandQueue"
	OpBuildProgram  Op = "BuildProgram"
	OpCreateKernel  Op = "CreateKernel"
	OpEnqueue       Op = "EnqueueNDRangeKernel"
	OpCreateBuffer  Op = "CreateBuffer"
	OpCreateImage   Op = "CreateImageFromVASurface"
	OpRelease       Op = "Release"
)

// TraceEntry records one release of a native object.
type TraceEntry struct {
	Kind   string // "context", "queue", "program", "kernel", "mem" or "event".
	Handle uintptr
}

// String implements fmt.Stringer.
func (e TraceEntry) String() string {
	return fmt.Sprintf("%s#%d", e.Kind, e.Handle)
}

// Stats counts driver activity.
type Stats struct {
	SourceBuilds, BinaryBuilds int64
	Enqueued, Completed        int64
	Failed                     int64
}

// Driver is the software implementation of driver.Driver.
type Driver struct {
	name          string
	numDevices    int
	devices       []driver.DeviceInfo
	withStack     bool
	buildLatency  time.Duration
	queueDepth    int
	lastHandle    atomic.Uintptr
	sourceBuilds  atomic.Int64
	binaryBuilds  atomic.Int64
	enqueued      atomic.Int64
	completed     atomic.Int64
	failedCmds    atomic.Int64
	faultsEnabled atomic.Bool

	mu       sync.Mutex
	contexts map[driver.Context]*context
	queues   map[driver.Queue]*queue
	programs map[driver.Program]*program
	kernels  map[driver.Kernel]*kernel
	mems     map[driver.Mem]*memObject
	events   map[driver.Event]*event
	faults   map[Op][]driver.Status
	trace    []TraceEntry
}

// Option configures a Driver created with New.
type Option func(d *Driver)

// WithName sets the name reported by the driver. Default is "soft".
func WithName(name string) Option {
	return func(d *Driver) { d.name = name }
}

// WithDevices sets the number of devices exposed. Default is 1.
func WithDevices(n int) Option {
	return func(d *Driver) { d.numDevices = n }
}

// WithBuildLatency makes every program build take at least the given time.
func WithBuildLatency(latency time.Duration) Option {
	return func(d *Driver) { d.buildLatency = latency }
}

// WithStackTraces records the allocation stack of memory objects, reported if they are leaked.
func WithStackTraces(enabled bool) Option {
	return func(d *Driver) { d.withStack = enabled }
}

// New creates a new software driver.
func New(options ...Option) *Driver {
	d := &Driver{
		name:       DefaultName,
		numDevices: 1,
		queueDepth: DefaultQueueDepth,
		contexts:   make(map[driver.Context]*context),
		queues:     make(map[driver.Queue]*queue),
		programs:   make(map[driver.Program]*program),
		kernels:    make(map[driver.Kernel]*kernel),
		mems:       make(map[driver.Mem]*memObject),
		events:     make(map[driver.Event]*event),
		faults:     make(map[Op][]driver.Status),
	}
	for _, option := range options {
		option(d)
	}
	for ii := range d.numDevices {
		d.devices = append(d.devices, driver.DeviceInfo{
			ID:             driver.DeviceID(ii + 1),
			Name:           fmt.Sprintf("%s-cpu-%d", d.name, ii),
			Vendor:         "gocl",
			Type:           driver.DeviceTypeCPU,
			ComputeUnits:   runtime.NumCPU(),
			GlobalMemSize:  1 << 32,
			MaxWorkGroup:   1024,
			ImageSupport:   true,
			DriverVersion:  fmt.Sprintf("%d.%d", versionMajor, versionMinor),
			OpenCLCVersion: "OpenCL C 1.2",
		})
	}
	return d
}

const (
	versionMajor = 1
	versionMinor = 2
)

// Name implements driver.Driver.
func (d *Driver) Name() string {
	return d.name
}

// Version implements driver.Driver.
func (d *Driver) Version() (major, minor int) {
	return versionMajor, versionMinor
}

// Attributes implements driver.Driver.
func (d *Driver) Attributes() map[string]any {
	return map[string]any{
		"vendor":       "gocl",
		"num_devices":  int64(d.numDevices),
		"kernel_funcs": int64(len(RegisteredKernels())),
	}
}

// Devices implements driver.Driver.
func (d *Driver) Devices() ([]driver.DeviceInfo, error) {
	return append([]driver.DeviceInfo(nil), d.devices...), nil
}

// FailNext makes the next call to op fail with the given status. Calls accumulate: each injected status is
// consumed by one call.
func (d *Driver) FailNext(op Op, status driver.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = append(d.faults[op], status)
	d.faultsEnabled.Store(true)
}

// injectedFault returns the next injected failure for op, if any.
func (d *Driver) injectedFault(op Op) error {
	if !d.faultsEnabled.Load() {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	pending := d.faults[op]
	if len(pending) == 0 {
		return nil
	}
	status := pending[0]
	d.faults[op] = pending[1:]
	return driver.Errorf(status, "injected failure in %s", op)
}

// Stats returns a snapshot of the activity counters.
func (d *Driver) Stats() Stats {
	return Stats{
		SourceBuilds: d.sourceBuilds.Load(),
		BinaryBuilds: d.binaryBuilds.Load(),
		Enqueued:     d.enqueued.Load(),
		Completed:    d.completed.Load(),
		Failed:       d.failedCmds.Load(),
	}
}

// Trace returns the releases recorded so far, in order.
func (d *Driver) Trace() []TraceEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]TraceEntry(nil), d.trace...)
}

// LiveObjects returns the number of native objects not yet released.
func (d *Driver) LiveObjects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.contexts) + len(d.queues) + len(d.programs) + len(d.kernels) + len(d.mems) + len(d.events)
}

func (d *Driver) newHandle() uintptr {
	return d.lastHandle.Add(1)
}

// recordRelease must be called with d.mu held.
func (d *Driver) recordRelease(kind string, handle uintptr) {
	d.trace = append(d.trace, TraceEntry{Kind: kind, Handle: handle})
	klog.V(2).Infof("soft: released %s#%d", kind, handle)
}

func (d *Driver) device(id driver.DeviceID) (driver.DeviceInfo, bool) {
	for _, info := range d.devices {
		if info.ID == id {
			return info, true
		}
	}
	return driver.DeviceInfo{}, false
}

// Compile time check.
var _ driver.Driver = (*Driver)(nil)
