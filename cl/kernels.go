package cl

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/xcamgo/gocl/driver"
	"k8s.io/klog/v2"
)

// Kernel is a native kernel created from a built program, plus its bound arguments.
//
// Kernels generated from the same program bytes, build type and options share the compiled program (see
// ProgramID), but each Kernel has its own native kernel handle and so its own arguments.
//
// Arguments are positional: bind them with SetArg (or SetArgs) before executing the kernel. They can be bound
// again between executions. SetArg must not be called concurrently on the same Kernel.
type Kernel struct {
	owner     resourceOwner
	name      string
	native    driver.Kernel
	program   driver.Program
	buildType BuildType
	key       buildKey
	numArgs   int
	destroyed atomic.Bool

	mu       sync.Mutex
	bound    []bool
	workSize WorkSize
}

// Name returns the name of the kernel function.
func (k *Kernel) Name() string {
	return k.name
}

// NativeID returns the native kernel handle.
func (k *Kernel) NativeID() driver.Kernel {
	return k.native
}

// ProgramID returns the native handle of the compiled program the kernel was created from. Kernels that hit the
// same build cache entry share it.
func (k *Kernel) ProgramID() driver.Program {
	return k.program
}

// BuildType returns how the program of the kernel was built.
func (k *Kernel) BuildType() BuildType {
	return k.buildType
}

// NumArgs returns the number of arguments of the kernel.
func (k *Kernel) NumArgs() int {
	return k.numArgs
}

// String implements fmt.Stringer.
func (k *Kernel) String() string {
	return k.objectName()
}

func (k *Kernel) objectName() string {
	return fmt.Sprintf("kernel %q#%d", k.name, k.native)
}

// SetArg binds the argument at index. The value can be:
//
//   - A scalar of one of the dtypes supported types (e.g.: float32, int32, uint8, float16.Float16), matching the
//     declared type of the argument.
//   - A slice of scalars for vector arguments (e.g.: []float32 of length 4 for a float4).
//   - A *Memory for buffer and image arguments.
//   - A LocalMemory with the number of bytes for __local pointer arguments.
//
// It returns an ExecutionFailure error if the driver rejects the value.
func (k *Kernel) SetArg(index int, value any) error {
	const op = "Kernel.SetArg"
	if err := k.owner.enter(op); err != nil {
		return err
	}
	defer k.owner.leave()
	if k.destroyed.Load() {
		return errInvalidState(op, k.objectName(), StateDestroyed)
	}
	if index < 0 || index >= k.numArgs {
		return &Error{Kind: ExecutionFailure, Op: op, Status: driver.InvalidArgIndex, Object: k.objectName(),
			cause: errors.Errorf("argument index %d out of range, kernel has %d arguments", index, k.numArgs)}
	}
	var nativeValue any
	switch v := value.(type) {
	case *Memory:
		if v == nil || v.destroyed.Load() {
			return newError(ExecutionFailure, op, k.objectName(), "argument %d: memory object is nil or destroyed", index)
		}
		if v.owner != k.owner {
			return newError(ExecutionFailure, op, k.objectName(), "argument %d: memory object belongs to another context", index)
		}
		nativeValue = v.native
	case LocalMemory:
		nativeValue = driver.LocalMemory(v)
	default:
		nativeValue = value
	}
	if err := k.owner.nativeDriver().SetKernelArg(k.native, index, nativeValue); err != nil {
		return toError(ExecutionFailure, op, k.objectName(), err)
	}
	k.mu.Lock()
	k.bound[index] = true
	k.mu.Unlock()
	return nil
}

// SetArgs binds the arguments in order, starting at index 0.
func (k *Kernel) SetArgs(values ...any) error {
	for ii, value := range values {
		if err := k.SetArg(ii, value); err != nil {
			return err
		}
	}
	return nil
}

// unboundArgs returns the indices of the arguments not bound yet.
func (k *Kernel) unboundArgs() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	var missing []int
	for ii, bound := range k.bound {
		if !bound {
			missing = append(missing, ii)
		}
	}
	return missing
}

// SetWorkSize sets the NDRange used by the following executions. The default is a single work item, or the size
// given with KernelConfig.WithWorkSize.
func (k *Kernel) SetWorkSize(workSize WorkSize) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.workSize = workSize
}

// WorkSize returns the NDRange used by executions.
func (k *Kernel) WorkSize() WorkSize {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.workSize
}

// Execute enqueues the kernel on the queue, or on the default queue if queue is nil. See Context.ExecuteKernel.
func (k *Kernel) Execute(queue *CommandQueue, wait ...*Event) (*Event, error) {
	return k.owner.executeKernel("Kernel.Execute", k, queue, wait)
}

// ProgramBinary returns the binary of the compiled program of the kernel. It can be used later to create the
// kernel with BuildFromBinary (see KernelConfig.WithBinary), skipping the compilation.
func (k *Kernel) ProgramBinary() ([]byte, error) {
	const op = "Kernel.ProgramBinary"
	if err := k.owner.enter(op); err != nil {
		return nil, err
	}
	defer k.owner.leave()
	if k.destroyed.Load() {
		return nil, errInvalidState(op, k.objectName(), StateDestroyed)
	}
	binary, err := k.owner.nativeDriver().ProgramBinary(k.program)
	if err != nil {
		return nil, toError(BuildFailure, op, k.objectName(), err)
	}
	return binary, nil
}

// Destroy releases the native kernel. The compiled program stays in the build cache of the context until it is
// terminated.
//
// It is idempotent, and a no-op for kernels already released by Context.Terminate.
func (k *Kernel) Destroy() error {
	if k == nil || k.destroyed.Load() {
		return nil
	}
	return k.owner.destroyKernel(k)
}

// destroyKernel removes the kernel from the context and releases it.
func (c *Context) destroyKernel(k *Kernel) error {
	const op = "Kernel.Destroy"
	if err := c.enter(op); err != nil {
		if k.destroyed.Load() {
			return nil
		}
		return err
	}
	defer c.leave()
	c.mu.Lock()
	for ii, live := range c.kernels {
		if live == k {
			c.kernels = append(c.kernels[:ii], c.kernels[ii+1:]...)
			break
		}
	}
	c.mu.Unlock()
	if !k.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	kernelsAlive.Add(-1)
	klog.V(1).Infof("cl: destroying %s", k)
	return toError(UnknownError, op, k.objectName(), c.drv.ReleaseKernel(k.native))
}
