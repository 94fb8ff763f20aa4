package soft

import (
	"github.com/xcamgo/gocl/devmem"
	"github.com/xcamgo/gocl/driver"
)

// memObject is the native state of a driver.Mem.
type memObject struct {
	handle  driver.Mem
	ctx     *context
	info    driver.MemInfo
	storage *devmem.Storage
	refs    int // Handle reference plus one per command in flight. Protected by Driver.mu.
}

// maxImageDim is the largest width or height of an image.
const maxImageDim = 16384

// CreateBuffer implements driver.Driver.
func (d *Driver) CreateBuffer(ctx driver.Context, flags driver.MemFlags, size int) (driver.Mem, error) {
	if size <= 0 {
		return 0, driver.Errorf(driver.InvalidBufferSize, "invalid buffer size %d", size)
	}
	if err := checkMemFlags(flags); err != nil {
		return 0, err
	}
	if int64(size) > d.devices[0].GlobalMemSize {
		return 0, driver.Errorf(driver.InvalidBufferSize, "buffer size %d larger than device memory", size)
	}
	if err := d.injectedFault(OpCreateBuffer); err != nil {
		return 0, err
	}
	return d.newMem(ctx, driver.MemInfo{Type: driver.MemBuffer, Flags: flags, Size: size})
}

// CreateImageFromVASurface implements driver.Driver.
//
// Surfaces are simulated: the image is backed by zeroed storage of RowPitch*Height bytes (plus the chroma plane
// for NV12).
func (d *Driver) CreateImageFromVASurface(ctx driver.Context, flags driver.MemFlags, info driver.VAImageInfo) (driver.Mem, error) {
	if err := checkMemFlags(flags); err != nil {
		return 0, err
	}
	if info.SurfaceID == 0 {
		return 0, driver.Errorf(driver.InvalidImageFormatDescriptor, "invalid VA surface id 0")
	}
	if info.Width <= 0 || info.Height <= 0 || info.Width > maxImageDim || info.Height > maxImageDim {
		return 0, driver.Errorf(driver.InvalidImageSize, "invalid image size %dx%d", info.Width, info.Height)
	}
	size, err := imageStorageSize(info)
	if err != nil {
		return 0, err
	}
	if err := d.injectedFault(OpCreateImage); err != nil {
		return 0, err
	}
	return d.newMem(ctx, driver.MemInfo{Type: driver.MemImage2D, Flags: flags, Size: size, Image: info})
}

// imageStorageSize validates the image format and layout, and returns the number of bytes backing it.
func imageStorageSize(info driver.VAImageInfo) (int, error) {
	switch info.Format.Type {
	case driver.ChannelTypeUnormInt8, driver.ChannelTypeUnormInt16, driver.ChannelTypeHalfFloat, driver.ChannelTypeFloat:
	default:
		return 0, driver.Errorf(driver.ImageFormatNotSupported, "image format %s not supported for VA surfaces", info.Format)
	}
	var rowBytes, rows int
	switch info.Format.Order {
	case driver.ChannelOrderNV12:
		if info.Format.Type != driver.ChannelTypeUnormInt8 || info.Width%2 != 0 || info.Height%2 != 0 {
			return 0, driver.Errorf(driver.ImageFormatNotSupported, "NV12 images must be UnormInt8 with even dimensions, got %s", info)
		}
		rowBytes, rows = info.Width, info.Height+info.Height/2
	case driver.ChannelOrderR, driver.ChannelOrderRG, driver.ChannelOrderRGBA, driver.ChannelOrderBGRA:
		rowBytes, rows = info.Width*info.Format.PixelSize(), info.Height
	default:
		return 0, driver.Errorf(driver.InvalidImageFormatDescriptor, "unknown channel order in %s", info.Format)
	}
	pitch := info.RowPitch
	if pitch == 0 {
		pitch = rowBytes
	}
	if pitch < rowBytes || info.Offset < 0 {
		return 0, driver.Errorf(driver.InvalidImageSize, "row pitch %d smaller than a row of %d bytes", pitch, rowBytes)
	}
	return info.Offset + pitch*rows, nil
}

func checkMemFlags(flags driver.MemFlags) error {
	switch flags {
	case driver.MemReadWrite, driver.MemReadOnly, driver.MemWriteOnly:
		return nil
	default:
		return driver.Errorf(driver.InvalidValue, "invalid memory flags %#x", uint32(flags))
	}
}

func (d *Driver) newMem(ctx driver.Context, info driver.MemInfo) (driver.Mem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.lookupContext(ctx)
	if err != nil {
		return 0, err
	}
	m := &memObject{
		handle:  driver.Mem(d.newHandle()),
		ctx:     c,
		info:    info,
		storage: devmem.New(info.Size, d.withStack),
		refs:    1,
	}
	d.mems[m.handle] = m
	c.children++
	return m.handle, nil
}

func (d *Driver) lookupMem(handle driver.Mem) (*memObject, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, found := d.mems[handle]
	if !found {
		return nil, driver.Errorf(driver.InvalidMemObject, "memory object #%d not found", handle)
	}
	return m, nil
}

// retainMem returns the memory object with one more reference, to be dropped with unrefMemLocked.
func (d *Driver) retainMem(handle driver.Mem) (*memObject, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, found := d.mems[handle]
	if !found {
		return nil, driver.Errorf(driver.InvalidMemObject, "memory object #%d not found", handle)
	}
	m.refs++
	return m, nil
}

// unrefMemLocked drops one reference, and frees the storage with the last one. d.mu must be held.
func (d *Driver) unrefMemLocked(m *memObject) {
	m.refs--
	if m.refs > 0 {
		return
	}
	m.storage.Free()
}

// MemInfo implements driver.Driver.
func (d *Driver) MemInfo(handle driver.Mem) (driver.MemInfo, error) {
	m, err := d.lookupMem(handle)
	if err != nil {
		return driver.MemInfo{}, err
	}
	return m.info, nil
}

// ReadBuffer implements driver.Driver. It is ordered after the commands already enqueued in queue.
func (d *Driver) ReadBuffer(queue driver.Queue, mem driver.Mem, offset int, dst []byte) error {
	return d.transfer(queue, mem, offset, len(dst), func(m *memObject) bool {
		return m.storage.ReadAt(dst, offset)
	})
}

// WriteBuffer implements driver.Driver. It is ordered after the commands already enqueued in queue.
func (d *Driver) WriteBuffer(queue driver.Queue, mem driver.Mem, offset int, src []byte) error {
	return d.transfer(queue, mem, offset, len(src), func(m *memObject) bool {
		return m.storage.WriteAt(src, offset)
	})
}

func (d *Driver) transfer(queueHandle driver.Queue, mem driver.Mem, offset, size int, fn func(m *memObject) bool) error {
	q, err := d.lookupQueue(queueHandle)
	if err != nil {
		return err
	}
	m, err := d.lookupMem(mem)
	if err != nil {
		return err
	}
	if m.ctx != q.ctx {
		return driver.Errorf(driver.InvalidContext, "memory object #%d and queue #%d belong to different contexts", mem, queueHandle)
	}
	if offset < 0 || offset+size > m.info.Size {
		return driver.Errorf(driver.InvalidValue, "transfer of %d bytes at offset %d out of bounds of memory object #%d of %d bytes",
			size, offset, mem, m.info.Size)
	}
	return q.sync(func() error {
		if !fn(m) {
			return driver.Errorf(driver.InvalidMemObject, "memory object #%d was released", mem)
		}
		return nil
	})
}

// ReleaseMem implements driver.Driver. The storage is kept until the commands already enqueued with the memory
// object finish.
func (d *Driver) ReleaseMem(handle driver.Mem) error {
	if err := d.injectedFault(OpRelease); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	m, found := d.mems[handle]
	if !found {
		return driver.Errorf(driver.InvalidMemObject, "memory object #%d not found", handle)
	}
	delete(d.mems, handle)
	m.ctx.children--
	d.recordRelease("mem", uintptr(handle))
	d.unrefMemLocked(m)
	return nil
}
