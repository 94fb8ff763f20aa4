// Package driver defines the native compute API consumed by package cl.
//
// A Driver plays the role of an OpenCL ICD: it hands out opaque handles for contexts, command queues, programs,
// kernels, memory objects and events, and every handle must be released explicitly with the matching Release call.
// Handles are plain integers; the zero value is the null handle and is never returned on success.
//
// Drivers are registered by name with Register, usually from an init function of the package implementing them
// (see cl/soft), and are looked up with Lookup.
package driver

// Opaque native handles. The zero value is the null handle.
type (
	DeviceID uintptr
	Context  uintptr
	Queue    uintptr
	Program  uintptr
	Kernel   uintptr
	Mem      uintptr
	Event    uintptr
)

// ContextNotifyFn is called by the driver, from any goroutine, to report asynchronous errors that happened in a
// context. It must not block and must not call back into the driver.
type ContextNotifyFn func(errInfo string, privateInfo []byte)

// BuildNotifyFn is called by the driver, from any goroutine, once a BuildProgram call completes (successfully or not).
// The build status and log are available with Driver.ProgramBuildInfo at that point.
type BuildNotifyFn func(program Program)

// Driver is the table of native entry points.
//
// All methods must be safe for concurrent use. Methods returning an error return a *Error.
type Driver interface {
	// Name returns the name the driver registers itself with.
	Name() string

	// Version returns the version of the native API implemented.
	Version() (major, minor int)

	// Attributes returns free form information about the driver.
	Attributes() map[string]any

	// Devices enumerates the devices exposed by the driver.
	Devices() ([]DeviceInfo, error)

	CreateContext(device DeviceID, properties map[string]any, notify ContextNotifyFn) (Context, error)
	ReleaseContext(ctx Context) error

	// CreateCommandQueue creates an in-order command queue.
	CreateCommandQueue(ctx Context, device DeviceID, props QueueProperties) (Queue, error)
	ReleaseCommandQueue(queue Queue) error

	// Finish blocks until all commands enqueued in queue have completed.
	Finish(queue Queue) error

	CreateProgramWithSource(ctx Context, source []byte) (Program, error)
	CreateProgramWithBinary(ctx Context, device DeviceID, binary []byte) (Program, error)

	// BuildProgram starts building program for device and returns immediately.
	// notify is called once the build finishes.
	BuildProgram(program Program, device DeviceID, options string, notify BuildNotifyFn) error
	ProgramBuildInfo(program Program, device DeviceID) (status BuildStatus, log string, err error)
	ProgramBinary(program Program) ([]byte, error)
	ProgramKernelNames(program Program) ([]string, error)
	ReleaseProgram(program Program) error

	// CreateKernel creates a kernel from a built program. The kernel holds a reference to the program.
	CreateKernel(program Program, name string) (Kernel, error)
	KernelNumArgs(kernel Kernel) (int, error)

	// SetKernelArg binds the value of one kernel argument. value is either a scalar (see package dtypes),
	// a Mem handle or a LocalMemory size.
	SetKernelArg(kernel Kernel, index int, value any) error
	ReleaseKernel(kernel Kernel) error

	// EnqueueNDRangeKernel enqueues the kernel with its current arguments. Commands only start once all
	// events in waitList completed.
	EnqueueNDRangeKernel(queue Queue, kernel Kernel, workSize WorkSize, waitList []Event) (Event, error)

	EventInfo(event Event) (ExecStatus, Profiling, error)
	WaitForEvents(events []Event) error
	ReleaseEvent(event Event) error

	CreateBuffer(ctx Context, flags MemFlags, size int) (Mem, error)
	CreateImageFromVASurface(ctx Context, flags MemFlags, info VAImageInfo) (Mem, error)
	MemInfo(mem Mem) (MemInfo, error)

	// ReadBuffer and WriteBuffer are blocking host transfers on the given queue.
	ReadBuffer(queue Queue, mem Mem, offset int, dst []byte) error
	WriteBuffer(queue Queue, mem Mem, offset int, src []byte) error
	ReleaseMem(mem Mem) error
}
