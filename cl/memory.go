package cl

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/xcamgo/gocl/driver"
	"github.com/xcamgo/gocl/dtypes"
	"k8s.io/klog/v2"
)

// Memory is a device memory object: a buffer or an image wrapping a video surface.
//
// Memory objects are owned by their Context and are released by Destroy or by Context.Terminate.
type Memory struct {
	owner     resourceOwner
	native    driver.Mem
	info      driver.MemInfo
	destroyed atomic.Bool
}

// CreateVAImage wraps a video surface, described by info, as a device image with read-write access.
//
// It returns an AllocationFailure error if the descriptor is malformed or the device rejects the format.
func (c *Context) CreateVAImage(info VAImageInfo) (*Memory, error) {
	const op = "Context.CreateVAImage"
	if err := c.enter(op); err != nil {
		return nil, err
	}
	defer c.leave()
	native, err := c.drv.CreateImageFromVASurface(c.native, MemReadWrite, info)
	if err != nil {
		return nil, toError(AllocationFailure, op, fmt.Sprintf("surface %d (%s %dx%d)", info.SurfaceID, info.Format,
			info.Width, info.Height), err)
	}
	return c.newMemory(op, native)
}

// CreateBuffer allocates a device buffer of size bytes.
//
// It returns an AllocationFailure error if the device rejects the allocation.
func (c *Context) CreateBuffer(flags MemFlags, size int) (*Memory, error) {
	const op = "Context.CreateBuffer"
	if err := c.enter(op); err != nil {
		return nil, err
	}
	defer c.leave()
	native, err := c.drv.CreateBuffer(c.native, flags, size)
	if err != nil {
		return nil, toError(AllocationFailure, op, fmt.Sprintf("buffer of %d bytes", size), err)
	}
	return c.newMemory(op, native)
}

// newMemory must be called between enter and leave.
func (c *Context) newMemory(op string, native driver.Mem) (*Memory, error) {
	info, err := c.drv.MemInfo(native)
	if err != nil {
		if err2 := c.drv.ReleaseMem(native); err2 != nil {
			klog.Errorf("cl: failed to release mem#%d: %+v", native, err2)
		}
		return nil, toError(AllocationFailure, op, fmt.Sprintf("mem#%d", native), err)
	}
	m := &Memory{owner: c, native: native, info: info}
	c.mu.Lock()
	c.mems = append(c.mems, m)
	c.mu.Unlock()
	memoryObjectsAlive.Add(1)
	klog.V(1).Infof("cl: created %s in %s", m, c)
	return m, nil
}

// NativeID returns the native memory handle.
func (m *Memory) NativeID() driver.Mem {
	return m.native
}

// Info returns the description of the memory object.
func (m *Memory) Info() driver.MemInfo {
	return m.info
}

// Size returns the size in bytes of the memory object.
func (m *Memory) Size() int {
	return m.info.Size
}

// IsImage returns whether the memory object is an image.
func (m *Memory) IsImage() bool {
	return m.info.Type == driver.MemImage2D
}

// String implements fmt.Stringer.
func (m *Memory) String() string {
	return m.objectName()
}

func (m *Memory) objectName() string {
	if m.IsImage() {
		return fmt.Sprintf("image#%d (%s %dx%d)", m.native, m.info.Image.Format, m.info.Image.Width, m.info.Image.Height)
	}
	return fmt.Sprintf("buffer#%d (%d bytes)", m.native, m.info.Size)
}

// Write copies data into the memory object starting at offset. It is a blocking transfer on the default queue, so
// it is ordered with the kernels enqueued there before.
func (m *Memory) Write(offset int, data []byte) error {
	return m.transfer("Memory.Write", offset, data, true)
}

// Read copies the contents of the memory object starting at offset into dst. It is a blocking transfer on the
// default queue, so it happens after the kernels enqueued there complete.
func (m *Memory) Read(offset int, dst []byte) error {
	return m.transfer("Memory.Read", offset, dst, false)
}

func (m *Memory) transfer(op string, offset int, data []byte, write bool) error {
	if err := m.owner.enter(op); err != nil {
		return err
	}
	defer m.owner.leave()
	if m.destroyed.Load() {
		return errInvalidState(op, m.objectName(), StateDestroyed)
	}
	q, err := m.owner.getDefaultQueue(op)
	if err != nil {
		return err
	}
	drv := m.owner.nativeDriver()
	if write {
		err = drv.WriteBuffer(q.native, m.native, offset, data)
	} else {
		err = drv.ReadBuffer(q.native, m.native, offset, data)
	}
	return toError(ExecutionFailure, op, m.objectName(), err)
}

// WriteFlat writes a flat slice of values into the memory object, starting at offset 0.
func WriteFlat[T dtypes.Supported](m *Memory, values []T) error {
	return m.Write(0, flatBytes(values))
}

// ReadFlat reads len(dst) values from the start of the memory object.
func ReadFlat[T dtypes.Supported](m *Memory, dst []T) error {
	return m.Read(0, flatBytes(dst))
}

// flatBytes views the values as bytes, without copying. All supported dtypes are little-endian on the supported
// platforms.
func flatBytes[T dtypes.Supported](values []T) []byte {
	if len(values) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(values))), len(values)*int(unsafe.Sizeof(zero)))
}

// Destroy releases the memory object. Executions already enqueued with it still complete normally, while new
// executions of kernels bound to it fail with an ExecutionFailure error.
//
// It is idempotent, and a no-op for memory objects already released by Context.Terminate.
func (m *Memory) Destroy() error {
	if m == nil || m.destroyed.Load() {
		return nil
	}
	return m.owner.destroyMem(m)
}

// destroyMem removes the memory object from the context and releases it.
func (c *Context) destroyMem(m *Memory) error {
	const op = "Memory.Destroy"
	if err := c.enter(op); err != nil {
		if m.destroyed.Load() {
			return nil
		}
		return err
	}
	defer c.leave()
	c.mu.Lock()
	for ii, live := range c.mems {
		if live == m {
			c.mems = append(c.mems[:ii], c.mems[ii+1:]...)
			break
		}
	}
	c.mu.Unlock()
	if !m.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	memoryObjectsAlive.Add(-1)
	klog.V(1).Infof("cl: destroying %s", m)
	return toError(UnknownError, op, m.objectName(), c.drv.ReleaseMem(m.native))
}
