// Package devmem provides owned device-side storage for software drivers: the backing memory of buffers and images.
//
// Storage must be freed explicitly with Free. If it is garbage collected without being freed, an error is logged,
// optionally with the stack of where it was allocated: memory objects are expected to be released by their owner
// (see cl.Context teardown), so a collected live Storage points to a leaked handle.
package devmem

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"k8s.io/klog/v2"
)

// Alignment in bytes of the start of every Storage.
const Alignment = 64

// Storage wraps a block of device memory.
type Storage struct {
	wrapper *storageWrapper
}

type storageWrapper struct {
	mu    sync.RWMutex
	raw   []byte // Allocated block, larger than data to allow alignment.
	data  []byte
	stack []byte
}

var bytesAlive atomic.Int64

// BytesAlive returns the number of bytes currently allocated and not freed.
func BytesAlive() int64 {
	return bytesAlive.Load()
}

// New allocates size bytes of zeroed storage aligned to Alignment.
//
// If `withStack` is set to true, it also stores a stack of where it was created.
// This is used for debugging if it is garbage collected without being freed.
func New(size int, withStack bool) *Storage {
	raw := make([]byte, size+Alignment)
	offset := 0
	if rem := int(uintptr(unsafe.Pointer(unsafe.SliceData(raw))) % Alignment); rem != 0 {
		offset = Alignment - rem
	}
	s := &Storage{&storageWrapper{raw: raw, data: raw[offset : offset+size : offset+size]}}
	if withStack {
		buf := make([]byte, 10*1024)
		n := runtime.Stack(buf, false)
		s.wrapper.stack = buf[:n]
	}
	bytesAlive.Add(int64(size))
	runtime.AddCleanup(s, func(wrapper *storageWrapper) {
		wrapper.mu.RLock()
		defer wrapper.mu.RUnlock()
		if wrapper.data == nil {
			return // Correctly freed.
		}
		if wrapper.stack == nil {
			klog.Errorf("devmem.Storage of %d bytes garbage collected without being freed", len(wrapper.data))
		} else {
			klog.Errorf("devmem.Storage of %d bytes garbage collected without being freed. Stack:\n%s\n", len(wrapper.data), wrapper.stack)
		}
	}, s.wrapper)
	return s
}

// Free the underlying data.
// It sets the data to nil, so if it is called again, it is a no-op.
func (s *Storage) Free() {
	w := s.wrapper
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.data == nil {
		return
	}
	bytesAlive.Add(-int64(len(w.data)))
	w.data = nil
	w.raw = nil
}

// Size returns the size in bytes, 0 if freed.
func (s *Storage) Size() int {
	s.wrapper.mu.RLock()
	defer s.wrapper.mu.RUnlock()
	return len(s.wrapper.data)
}

// Bytes returns the storage as a byte slice, or nil if it was freed.
//
// Ownership is not transferred: the slice must not be used after Free.
func (s *Storage) Bytes() []byte {
	s.wrapper.mu.RLock()
	defer s.wrapper.mu.RUnlock()
	return s.wrapper.data
}

// ReadAt copies storage contents starting at offset into dst.
func (s *Storage) ReadAt(dst []byte, offset int) bool {
	s.wrapper.mu.RLock()
	defer s.wrapper.mu.RUnlock()
	data := s.wrapper.data
	if offset < 0 || offset+len(dst) > len(data) {
		return false
	}
	copy(dst, data[offset:])
	return true
}

// WriteAt copies src into the storage starting at offset.
func (s *Storage) WriteAt(src []byte, offset int) bool {
	s.wrapper.mu.RLock()
	defer s.wrapper.mu.RUnlock()
	data := s.wrapper.data
	if offset < 0 || offset+len(src) > len(data) {
		return false
	}
	copy(data[offset:], src)
	return true
}

// Float32s returns the storage viewed as a slice of float32, truncated to whole elements.
func (s *Storage) Float32s() []float32 {
	data := s.Bytes()
	if len(data) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(data))), len(data)/4)
}

// Uint16s returns the storage viewed as a slice of uint16, truncated to whole elements.
func (s *Storage) Uint16s() []uint16 {
	data := s.Bytes()
	if len(data) < 2 {
		return nil
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(unsafe.SliceData(data))), len(data)/2)
}
