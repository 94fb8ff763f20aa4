package soft

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
	"sync"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"github.com/xcamgo/gocl/devmem"
	"github.com/xcamgo/gocl/driver"
	"github.com/xcamgo/gocl/dtypes"
)

// KernelFunc executes a kernel over its whole NDRange. Errors and panics mark the command as failed.
type KernelFunc func(inv *Invocation) error

var (
	muKernelFuncs sync.RWMutex
	kernelFuncs   = make(map[string]KernelFunc)
)

// RegisterKernel registers the Go implementation of the kernel with the given name, for all programs of all
// software drivers. Registering a name again replaces the previous implementation.
func RegisterKernel(name string, fn KernelFunc) {
	muKernelFuncs.Lock()
	defer muKernelFuncs.Unlock()
	kernelFuncs[name] = fn
}

// RegisteredKernels returns the sorted names of the registered kernel functions.
func RegisteredKernels() []string {
	muKernelFuncs.RLock()
	defer muKernelFuncs.RUnlock()
	names := make([]string, 0, len(kernelFuncs))
	for name := range kernelFuncs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupKernelFunc(name string) KernelFunc {
	muKernelFuncs.RLock()
	defer muKernelFuncs.RUnlock()
	return kernelFuncs[name]
}

// argValue is the value bound to one kernel argument.
type argValue struct {
	set    bool
	scalar []byte     // Little-endian encoding of scalars, vectors and samplers.
	mem    driver.Mem // Buffers and images.
	local  int        // Size of local memory.
}

// kernel is the native state of a driver.Kernel.
type kernel struct {
	handle  driver.Kernel
	program *program
	sig     Signature

	mu   sync.Mutex
	args []argValue
}

// CreateKernel implements driver.Driver.
func (d *Driver) CreateKernel(programHandle driver.Program, name string) (driver.Kernel, error) {
	if err := d.injectedFault(OpCreateKernel); err != nil {
		return 0, err
	}
	p, err := d.lookupProgram(programHandle)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	status := p.status
	p.mu.Unlock()
	if status != driver.BuildSuccess {
		return 0, driver.Errorf(driver.InvalidProgramExecutable, "program #%d is not built (status %s)", programHandle, status)
	}
	sig, found := p.signature(name)
	if !found {
		return 0, driver.Errorf(driver.InvalidKernelName, "kernel %q not found in program #%d", name, programHandle)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, found := d.programs[programHandle]; !found {
		return 0, driver.Errorf(driver.InvalidProgram, "program #%d not found", programHandle)
	}
	k := &kernel{
		handle:  driver.Kernel(d.newHandle()),
		program: p,
		sig:     sig,
		args:    make([]argValue, len(sig.Params)),
	}
	p.refs++
	d.kernels[k.handle] = k
	return k.handle, nil
}

func (d *Driver) lookupKernel(handle driver.Kernel) (*kernel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, found := d.kernels[handle]
	if !found {
		return nil, driver.Errorf(driver.InvalidKernel, "kernel #%d not found", handle)
	}
	return k, nil
}

// KernelNumArgs implements driver.Driver.
func (d *Driver) KernelNumArgs(handle driver.Kernel) (int, error) {
	k, err := d.lookupKernel(handle)
	if err != nil {
		return 0, err
	}
	return len(k.sig.Params), nil
}

// SetKernelArg implements driver.Driver.
//
// Scalars must match the declared type exactly, vectors are given as slices of their element type, and
// samplers as uint32.
func (d *Driver) SetKernelArg(handle driver.Kernel, index int, value any) error {
	k, err := d.lookupKernel(handle)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(k.sig.Params) {
		return driver.Errorf(driver.InvalidArgIndex, "kernel %q has %d arguments, got index %d", k.sig.Name, len(k.sig.Params), index)
	}
	param := k.sig.Params[index]
	var arg argValue
	switch param.Kind {
	case ParamGlobalPtr, ParamImage:
		mem, ok := value.(driver.Mem)
		if !ok {
			return driver.Errorf(driver.InvalidArgValue, "argument %d (%s %s) of kernel %q requires a memory object, got %T",
				index, param.TypeName, param.Name, k.sig.Name, value)
		}
		m, err := d.lookupMem(mem)
		if err != nil {
			return err
		}
		if m.ctx != k.program.ctx {
			return driver.Errorf(driver.InvalidMemObject, "memory object #%d belongs to another context", mem)
		}
		wantType := driver.MemBuffer
		if param.Kind == ParamImage {
			wantType = driver.MemImage2D
		}
		if m.info.Type != wantType {
			return driver.Errorf(driver.InvalidMemObject, "argument %d (%s) of kernel %q requires a %s, memory object #%d is not",
				index, param.Name, k.sig.Name, param.Kind, mem)
		}
		arg.mem = mem
	case ParamLocalPtr:
		local, ok := value.(driver.LocalMemory)
		if !ok {
			return driver.Errorf(driver.InvalidArgValue, "argument %d (%s) of kernel %q requires local memory, got %T",
				index, param.Name, k.sig.Name, value)
		}
		if local <= 0 {
			return driver.Errorf(driver.InvalidArgSize, "invalid local memory size %d for argument %d of kernel %q",
				local, index, k.sig.Name)
		}
		arg.local = int(local)
	default:
		arg.scalar, err = encodeScalarArg(param, value)
		if err != nil {
			return driver.Errorf(driver.InvalidArgValue, "argument %d (%s %s) of kernel %q: %v",
				index, param.TypeName, param.Name, k.sig.Name, err)
		}
	}
	arg.set = true
	k.mu.Lock()
	k.args[index] = arg
	k.mu.Unlock()
	return nil
}

// encodeScalarArg encodes a scalar, vector or sampler value for param.
func encodeScalarArg(param Param, value any) ([]byte, error) {
	if param.Width == 1 {
		buf, dtype, err := dtypes.Encode(value)
		if err != nil {
			return nil, err
		}
		if dtype != param.DType {
			return nil, errors.Errorf("expected %s value, got %s", param.DType, dtype)
		}
		return buf, nil
	}
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, errors.Errorf("vector value must be a slice of %d %s, got %T", param.Width, param.DType, value)
	}
	if dtype := dtypes.FromGoType(v.Type().Elem()); dtype != param.DType || v.Len() != param.Width {
		return nil, errors.Errorf("vector value must be a slice of %d %s, got %d %s", param.Width, param.DType, v.Len(), dtype)
	}
	buf := make([]byte, 0, param.Width*param.DType.Size())
	for ii := range v.Len() {
		elem, _, err := dtypes.Encode(v.Index(ii).Interface())
		if err != nil {
			return nil, err
		}
		buf = append(buf, elem...)
	}
	return buf, nil
}

// ReleaseKernel implements driver.Driver. It releases the kernel's reference to its program.
func (d *Driver) ReleaseKernel(handle driver.Kernel) error {
	if err := d.injectedFault(OpRelease); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	k, found := d.kernels[handle]
	if !found {
		return driver.Errorf(driver.InvalidKernel, "kernel #%d not found", handle)
	}
	delete(d.kernels, handle)
	d.recordRelease("kernel", uintptr(handle))
	d.unrefProgramLocked(k.program)
	return nil
}

// boundArg is an argument resolved at enqueue time.
type boundArg struct {
	param   Param
	scalar  []byte
	mem     driver.MemInfo
	storage *devmem.Storage
	local   []byte
}

// Invocation gives a KernelFunc access to the NDRange and to the arguments of one kernel execution.
//
// Argument accessors panic if the argument has a different kind or type, which fails the command.
type Invocation struct {
	// Name of the kernel.
	Name string

	// WorkSize of the execution.
	WorkSize driver.WorkSize

	fn       KernelFunc
	args     []boundArg
	retained []*memObject // Memory objects referenced until the command finishes.
}

// prepareInvocation checks that all arguments are set and snapshots them.
func (d *Driver) prepareInvocation(handle driver.Kernel, ctx *context, workSize driver.WorkSize) (*Invocation, error) {
	k, err := d.lookupKernel(handle)
	if err != nil {
		return nil, err
	}
	if k.program.ctx != ctx {
		return nil, driver.Errorf(driver.InvalidContext, "kernel #%d and queue belong to different contexts", handle)
	}
	k.mu.Lock()
	args := slices.Clone(k.args)
	k.mu.Unlock()

	inv := &Invocation{
		Name:     k.sig.Name,
		WorkSize: workSize,
		fn:       lookupKernelFunc(k.sig.Name),
		args:     make([]boundArg, len(args)),
	}
	var missing []int
	for ii, arg := range args {
		if !arg.set {
			missing = append(missing, ii)
			continue
		}
		bound := boundArg{param: k.sig.Params[ii], scalar: arg.scalar}
		switch {
		case arg.mem != 0:
			m, err := d.retainMem(arg.mem)
			if err != nil {
				d.releaseInvocation(inv)
				return nil, driver.Errorf(driver.InvalidMemObject, "argument %d of kernel %q: %v", ii, k.sig.Name, err)
			}
			inv.retained = append(inv.retained, m)
			bound.mem, bound.storage = m.info, m.storage
		case arg.local > 0:
			bound.local = make([]byte, arg.local)
		}
		inv.args[ii] = bound
	}
	if len(missing) > 0 {
		d.releaseInvocation(inv)
		return nil, driver.Errorf(driver.InvalidKernelArgs, "kernel %q arguments %v not set", k.sig.Name, missing)
	}
	return inv, nil
}

// releaseInvocation drops the references to the memory objects of inv.
func (d *Driver) releaseInvocation(inv *Invocation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releaseInvocationLocked(inv)
}

func (d *Driver) releaseInvocationLocked(inv *Invocation) {
	for _, m := range inv.retained {
		d.unrefMemLocked(m)
	}
	inv.retained = nil
}

// run executes the invocation. Kernels without a registered function are no-ops.
func (inv *Invocation) run() error {
	if inv.fn == nil {
		return nil
	}
	return inv.fn(inv)
}

// NumArgs returns the number of kernel arguments.
func (inv *Invocation) NumArgs() int {
	return len(inv.args)
}

// Param returns the declaration of argument i.
func (inv *Invocation) Param(i int) Param {
	return inv.arg(i).param
}

func (inv *Invocation) arg(i int) *boundArg {
	if i < 0 || i >= len(inv.args) {
		panic(errors.Errorf("kernel %q has no argument #%d", inv.Name, i))
	}
	return &inv.args[i]
}

func (inv *Invocation) kindArg(i int, kinds ...ParamKind) *boundArg {
	a := inv.arg(i)
	if !slices.Contains(kinds, a.param.Kind) {
		panic(errors.Errorf("argument #%d (%s) of kernel %q is a %s, not a %s", i, a.param.Name, inv.Name, a.param.Kind, kinds[0]))
	}
	return a
}

// Buffer returns the contents of the buffer bound to argument i.
func (inv *Invocation) Buffer(i int) []byte {
	data := inv.kindArg(i, ParamGlobalPtr).storage.Bytes()
	if data == nil {
		panic(errors.Errorf("argument #%d of kernel %q was released", i, inv.Name))
	}
	return data
}

// Float32s returns the buffer bound to argument i as float32 values.
func (inv *Invocation) Float32s(i int) []float32 {
	inv.Buffer(i)
	return inv.args[i].storage.Float32s()
}

// Uint16s returns the buffer bound to argument i as uint16 values (e.g.: half floats).
func (inv *Invocation) Uint16s(i int) []uint16 {
	inv.Buffer(i)
	return inv.args[i].storage.Uint16s()
}

// ImageView is an image bound to a kernel argument.
type ImageView struct {
	Info driver.VAImageInfo
	Data []byte
}

// Pitch returns the effective row pitch in bytes.
func (v ImageView) Pitch() int {
	if v.Info.RowPitch > 0 {
		return v.Info.RowPitch
	}
	if v.Info.Format.Order == driver.ChannelOrderNV12 {
		return v.Info.Width
	}
	return v.Info.Width * v.Info.Format.PixelSize()
}

// Row returns the bytes of row y of the first plane.
func (v ImageView) Row(y int) []byte {
	start := v.Info.Offset + y*v.Pitch()
	return v.Data[start : start+v.Pitch()]
}

// Image returns the image bound to argument i.
func (inv *Invocation) Image(i int) ImageView {
	a := inv.kindArg(i, ParamImage)
	data := a.storage.Bytes()
	if data == nil {
		panic(errors.Errorf("argument #%d of kernel %q was released", i, inv.Name))
	}
	return ImageView{Info: a.mem.Image, Data: data}
}

// Local returns the local memory bound to argument i.
func (inv *Invocation) Local(i int) []byte {
	return inv.kindArg(i, ParamLocalPtr).local
}

// Scalar returns the value of scalar argument i, as the Go type of its dtype.
// Vector arguments are returned as a slice.
func (inv *Invocation) Scalar(i int) any {
	a := inv.kindArg(i, ParamScalar, ParamSampler)
	size := a.param.DType.Size()
	if a.param.Width == 1 {
		return must.M1(dtypes.Decode(a.param.DType, a.scalar))
	}
	values := make([]any, a.param.Width)
	for ii := range values {
		values[ii] = must.M1(dtypes.Decode(a.param.DType, a.scalar[ii*size:(ii+1)*size]))
	}
	return values
}

func (inv *Invocation) scalarBytes(i int, dtype dtypes.DType) []byte {
	a := inv.kindArg(i, ParamScalar, ParamSampler)
	if a.param.DType != dtype || a.param.Width != 1 {
		panic(errors.Errorf("argument #%d (%s %s) of kernel %q is not a %s", i, a.param.TypeName, a.param.Name, inv.Name,
			dtype.CLTypeName()))
	}
	return a.scalar
}

// Float32 returns the value of float argument i.
func (inv *Invocation) Float32(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(inv.scalarBytes(i, dtypes.Float32)))
}

// Int32 returns the value of int argument i.
func (inv *Invocation) Int32(i int) int32 {
	return int32(binary.LittleEndian.Uint32(inv.scalarBytes(i, dtypes.Int32)))
}

// Uint32 returns the value of uint argument i.
func (inv *Invocation) Uint32(i int) uint32 {
	return binary.LittleEndian.Uint32(inv.scalarBytes(i, dtypes.Uint32))
}

// Float16 returns the value of half argument i.
func (inv *Invocation) Float16(i int) float16.Float16 {
	return float16.Frombits(binary.LittleEndian.Uint16(inv.scalarBytes(i, dtypes.Float16)))
}

// ForEach calls fn for every work item of the NDRange, with its global id.
func (inv *Invocation) ForEach(fn func(x, y, z int)) {
	ws := inv.WorkSize
	size := [3]int{1, 1, 1}
	for ii := 0; ii < ws.Dims && ii < 3; ii++ {
		size[ii] = ws.Global[ii]
	}
	for z := range size[2] {
		for y := range size[1] {
			for x := range size[0] {
				fn(x+ws.Offset[0], y+ws.Offset[1], z+ws.Offset[2])
			}
		}
	}
}

// String implements fmt.Stringer.
func (inv *Invocation) String() string {
	return fmt.Sprintf("%s%s", inv.Name, inv.WorkSize)
}
