package soft

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
	"github.com/xcamgo/gocl/driver"
	"github.com/xcamgo/gocl/dtypes"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// setup creates a fresh driver with one context and one queue.
func setup(t *testing.T, options ...Option) (*Driver, driver.Context, driver.Queue) {
	d := New(options...)
	ctx := must.M1(d.CreateContext(1, nil, func(errInfo string, _ []byte) {
		t.Logf("context error: %s", errInfo)
	}))
	queue := must.M1(d.CreateCommandQueue(ctx, 1, driver.QueueProperties{ProfilingEnable: true}))
	return d, ctx, queue
}

// buildSync builds a program from source and waits for the build to finish.
func buildSync(t *testing.T, d *Driver, ctx driver.Context, source string) (driver.Program, driver.BuildStatus, string) {
	prog, err := d.CreateProgramWithSource(ctx, []byte(source))
	require.NoError(t, err)
	done := make(chan struct{})
	require.NoError(t, d.BuildProgram(prog, 1, "-cl-fast-relaxed-math", func(p driver.Program) {
		assert.Equal(t, prog, p)
		close(done)
	}))
	<-done
	status, log, err := d.ProgramBuildInfo(prog, 1)
	require.NoError(t, err)
	return prog, status, log
}

func TestDevices(t *testing.T) {
	d := New(WithName("soft-test"), WithDevices(3))
	devices, err := d.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 3)
	for ii, info := range devices {
		assert.Equal(t, driver.DeviceID(ii+1), info.ID)
		assert.Equal(t, driver.DeviceTypeCPU, info.Type)
		assert.True(t, info.ImageSupport)
	}
	_, err = d.CreateContext(4, nil, nil)
	require.Equal(t, driver.InvalidDevice, driver.StatusOf(err))
	assert.Equal(t, "soft-test", d.Name())
}

func TestParseSource(t *testing.T) {
	sigs, diagnostics, ok := parseSource([]byte(`
		/* A block comment with __kernel void fake(int x) inside. */
		__kernel void add(__global const float *a, __global float* b, const float scale, __local uchar *tmp) {}
		kernel void vec(float4 v, sampler_t s, __read_only image2d_t img) {}
	`))
	require.True(t, ok, "diagnostics: %v", diagnostics)
	want := []Signature{
		{Name: "add", Params: []Param{
			{Name: "a", TypeName: "float", Kind: ParamGlobalPtr, DType: dtypes.Float32, Width: 1},
			{Name: "b", TypeName: "float", Kind: ParamGlobalPtr, DType: dtypes.Float32, Width: 1},
			{Name: "scale", TypeName: "float", Kind: ParamScalar, DType: dtypes.Float32, Width: 1},
			{Name: "tmp", TypeName: "uchar", Kind: ParamLocalPtr, DType: dtypes.Uint8, Width: 1},
		}},
		{Name: "vec", Params: []Param{
			{Name: "v", TypeName: "float4", Kind: ParamScalar, DType: dtypes.Float32, Width: 4},
			{Name: "s", TypeName: "sampler_t", Kind: ParamSampler, DType: dtypes.Uint32, Width: 1},
			{Name: "img", TypeName: "image2d_t", Kind: ParamImage, Width: 1},
		}},
	}
	if diff := cmp.Diff(want, sigs); diff != "" {
		t.Fatalf("unexpected signatures (-want +got):\n%s", diff)
	}

	for name, source := range map[string]string{
		"empty":      "  \n ",
		"unbalanced": "__kernel void f(__global int *x) {\n",
		"no kernels": "int helper(int x) { return x; }",
		"bad type":   "__kernel void f(banana x) {}",
		"redefined":  "__kernel void f(int x) {}\n__kernel void f(int y) {}",
		"nul":        "__kernel void f(int x) {}\x00",
	} {
		_, diagnostics, ok := parseSource([]byte(source))
		assert.False(t, ok, "source %q should fail", name)
		require.NotEmpty(t, diagnostics, "source %q should have diagnostics", name)
		assert.Contains(t, diagnostics[0], "error:", "source %q", name)
	}
}

func TestBuildOptions(t *testing.T) {
	require.NoError(t, validateBuildOptions("-D FOO=1 -DBAR -I /tmp -cl-mad-enable -w -Werror -g"))
	require.Error(t, validateBuildOptions("-O3"))
	require.Error(t, validateBuildOptions("-D"))
}

func TestBuild(t *testing.T) {
	d, ctx, _ := setup(t)
	prog, status, log := buildSync(t, d, ctx, BuiltinSource)
	require.Equal(t, driver.BuildSuccess, status, "log: %s", log)
	names := must.M1(d.ProgramKernelNames(prog))
	assert.Contains(t, names, "xcl_gamma_u8")
	assert.Equal(t, Stats{SourceBuilds: 1}, d.Stats())

	// Build from the binary.
	bin := must.M1(d.ProgramBinary(prog))
	prog2 := must.M1(d.CreateProgramWithBinary(ctx, 1, bin))
	done := make(chan struct{})
	require.NoError(t, d.BuildProgram(prog2, 1, "", func(driver.Program) { close(done) }))
	<-done
	assert.Equal(t, names, must.M1(d.ProgramKernelNames(prog2)))
	assert.Equal(t, int64(1), d.Stats().BinaryBuilds)

	_, err := d.CreateProgramWithBinary(ctx, 1, []byte("not a binary"))
	require.Equal(t, driver.InvalidBinary, driver.StatusOf(err))

	// Failed build.
	bad, status, log := buildSync(t, d, ctx, "__kernel void broken(__global float *x) {")
	assert.Equal(t, driver.BuildError, status)
	assert.Contains(t, log, "<source>:1: error:")
	_, err = d.CreateKernel(bad, "broken")
	require.Equal(t, driver.InvalidProgramExecutable, driver.StatusOf(err))

	// Injected failure.
	d.FailNext(OpBuildProgram, driver.BuildProgramFailure)
	_, status, _ = buildSync(t, d, ctx, BuiltinSource)
	assert.Equal(t, driver.BuildError, status)
}

func TestBinaryRoundTrip(t *testing.T) {
	sigs, _, ok := parseSource([]byte(BuiltinSource))
	require.True(t, ok)
	bin := &programBinary{options: "-w", signatures: sigs}
	bin.digest[0] = 7
	decoded, err := decodeBinary(encodeBinary(bin))
	require.NoError(t, err)
	if diff := cmp.Diff(bin, decoded, cmp.AllowUnexported(programBinary{})); diff != "" {
		t.Fatalf("decoded binary differs (-want +got):\n%s", diff)
	}
	_, err = decodeBinary(nil)
	require.Error(t, err)
}

func TestKernelArgs(t *testing.T) {
	d, ctx, queue := setup(t)
	prog, status, log := buildSync(t, d, ctx, BuiltinSource)
	require.Equal(t, driver.BuildSuccess, status, log)
	k := must.M1(d.CreateKernel(prog, "xcl_scale_f32"))
	require.Equal(t, 2, must.M1(d.KernelNumArgs(k)))

	_, err := d.CreateKernel(prog, "nope")
	require.Equal(t, driver.InvalidKernelName, driver.StatusOf(err))

	buf := must.M1(d.CreateBuffer(ctx, driver.MemReadWrite, 16))
	require.Equal(t, driver.InvalidArgIndex, driver.StatusOf(d.SetKernelArg(k, 2, float32(1))))
	require.Equal(t, driver.InvalidArgValue, driver.StatusOf(d.SetKernelArg(k, 0, float32(1))))
	require.Equal(t, driver.InvalidArgValue, driver.StatusOf(d.SetKernelArg(k, 1, int32(1))))

	// Unset arguments.
	require.NoError(t, d.SetKernelArg(k, 0, buf))
	_, err = d.EnqueueNDRangeKernel(queue, k, driver.WorkSize1D(4), nil)
	require.Equal(t, driver.InvalidKernelArgs, driver.StatusOf(err))
	assert.Contains(t, err.Error(), "[1]")

	require.NoError(t, d.SetKernelArg(k, 1, float32(2)))
	input := []float32{1, 2, 3, 4}
	require.NoError(t, d.WriteBuffer(queue, buf, 0, float32Bytes(input)))
	ev := must.M1(d.EnqueueNDRangeKernel(queue, k, driver.WorkSize1D(4), nil))
	require.NoError(t, d.WaitForEvents([]driver.Event{ev}))
	status2, profiling, err := d.EventInfo(ev)
	require.NoError(t, err)
	assert.Equal(t, driver.ExecComplete, status2)
	assert.False(t, profiling.End.Before(profiling.Start))

	out := make([]byte, 16)
	require.NoError(t, d.ReadBuffer(queue, buf, 0, out))
	assert.Equal(t, []float32{2, 4, 6, 8}, bytesFloat32(out))
}

func TestHalfKernel(t *testing.T) {
	d, ctx, queue := setup(t)
	prog, _, _ := buildSync(t, d, ctx, BuiltinSource)
	k := must.M1(d.CreateKernel(prog, "xcl_scale_f16"))
	buf := must.M1(d.CreateBuffer(ctx, driver.MemReadWrite, 4))
	data := []byte{}
	for _, v := range []float32{1.5, -2} {
		bits := float16.Fromfloat32(v).Bits()
		data = append(data, byte(bits), byte(bits>>8))
	}
	require.NoError(t, d.WriteBuffer(queue, buf, 0, data))
	require.NoError(t, d.SetKernelArg(k, 0, buf))
	require.NoError(t, d.SetKernelArg(k, 1, float32(2)))
	must.M1(d.EnqueueNDRangeKernel(queue, k, driver.WorkSize1D(2), nil))
	require.NoError(t, d.ReadBuffer(queue, buf, 0, data))
	assert.Equal(t, float32(3), float16.Frombits(uint16(data[0])|uint16(data[1])<<8).Float32())
	assert.Equal(t, float32(-4), float16.Frombits(uint16(data[2])|uint16(data[3])<<8).Float32())
}

func TestEventWaitListFailure(t *testing.T) {
	d, ctx, queue := setup(t)
	queue2 := must.M1(d.CreateCommandQueue(ctx, 1, driver.QueueProperties{}))
	prog, _, _ := buildSync(t, d, ctx, BuiltinSource)
	k := must.M1(d.CreateKernel(prog, "xcl_fill_u8"))
	buf := must.M1(d.CreateBuffer(ctx, driver.MemReadWrite, 8))
	require.NoError(t, d.SetKernelArg(k, 0, buf))
	require.NoError(t, d.SetKernelArg(k, 1, uint8(3)))

	// NDRange larger than the buffer makes the kernel fail.
	failed := must.M1(d.EnqueueNDRangeKernel(queue, k, driver.WorkSize1D(16), nil))
	dependent := must.M1(d.EnqueueNDRangeKernel(queue2, k, driver.WorkSize1D(8), []driver.Event{failed}))
	err := d.WaitForEvents([]driver.Event{dependent})
	require.Equal(t, driver.ExecStatusErrorForEventsInWaitList, driver.StatusOf(err))
	status, _, err := d.EventInfo(failed)
	require.NoError(t, err)
	assert.Equal(t, driver.ExecStatus(driver.OutOfResources), status)
	assert.Equal(t, int64(2), d.Stats().Failed)
}

func TestImages(t *testing.T) {
	d, ctx, queue := setup(t)
	info := driver.VAImageInfo{
		SurfaceID: 42,
		Format:    driver.ImageFormat{Order: driver.ChannelOrderRGBA, Type: driver.ChannelTypeUnormInt8},
		Width:     4,
		Height:    2,
	}
	img := must.M1(d.CreateImageFromVASurface(ctx, driver.MemReadWrite, info))
	memInfo := must.M1(d.MemInfo(img))
	assert.Equal(t, driver.MemImage2D, memInfo.Type)
	assert.Equal(t, 32, memInfo.Size)

	prog, _, _ := buildSync(t, d, ctx, BuiltinSource)
	k := must.M1(d.CreateKernel(prog, "xcl_image_fill_u8"))
	require.NoError(t, d.SetKernelArg(k, 0, img))
	require.NoError(t, d.SetKernelArg(k, 1, uint8(9)))
	must.M1(d.EnqueueNDRangeKernel(queue, k, driver.WorkSize2D(4, 2), nil))
	require.NoError(t, d.Finish(queue))
	pixels := must.M1(d.lookupMem(img)).storage.Bytes()
	for _, v := range pixels {
		require.Equal(t, uint8(9), v)
	}

	bad := info
	bad.SurfaceID = 0
	_, err := d.CreateImageFromVASurface(ctx, driver.MemReadWrite, bad)
	assert.Equal(t, driver.InvalidImageFormatDescriptor, driver.StatusOf(err))
	bad = info
	bad.Width = 0
	_, err = d.CreateImageFromVASurface(ctx, driver.MemReadWrite, bad)
	assert.Equal(t, driver.InvalidImageSize, driver.StatusOf(err))
	bad = info
	bad.Format.Type = driver.ChannelTypeUnsignedInt8
	_, err = d.CreateImageFromVASurface(ctx, driver.MemReadWrite, bad)
	assert.Equal(t, driver.ImageFormatNotSupported, driver.StatusOf(err))

	// A buffer argument can't be bound to an image parameter.
	buf := must.M1(d.CreateBuffer(ctx, driver.MemReadWrite, 8))
	assert.Equal(t, driver.InvalidMemObject, driver.StatusOf(d.SetKernelArg(k, 0, buf)))
}

func TestReleaseOrder(t *testing.T) {
	d, ctx, queue := setup(t)
	prog, _, _ := buildSync(t, d, ctx, BuiltinSource)
	k := must.M1(d.CreateKernel(prog, "xcl_copy"))
	buf := must.M1(d.CreateBuffer(ctx, driver.MemReadWrite, 8))

	// Context with live children can't be released.
	require.Equal(t, driver.InvalidOperation, driver.StatusOf(d.ReleaseContext(ctx)))

	require.NoError(t, d.ReleaseCommandQueue(queue))
	require.NoError(t, d.ReleaseProgram(prog)) // Still referenced by the kernel.
	require.NoError(t, d.ReleaseKernel(k))     // Releases the program too.
	require.NoError(t, d.ReleaseMem(buf))
	require.NoError(t, d.ReleaseContext(ctx))
	require.Zero(t, d.LiveObjects())

	var kinds []string
	for _, entry := range d.Trace() {
		kinds = append(kinds, entry.Kind)
	}
	assert.Equal(t, []string{"queue", "kernel", "program", "mem", "context"}, kinds)

	// Double release.
	require.Equal(t, driver.InvalidCommandQueue, driver.StatusOf(d.ReleaseCommandQueue(queue)))
}

func TestReleaseMemInFlight(t *testing.T) {
	d, ctx, queue := setup(t)
	hold := make(chan struct{})
	RegisterKernel("xcl_test_hold", func(*Invocation) error {
		<-hold
		return nil
	})
	prog, status, log := buildSync(t, d, ctx, BuiltinSource+"\n__kernel void xcl_test_hold(void) {}\n")
	require.Equal(t, driver.BuildSuccess, status, log)
	holdKernel := must.M1(d.CreateKernel(prog, "xcl_test_hold"))
	copyKernel := must.M1(d.CreateKernel(prog, "xcl_copy"))
	src := must.M1(d.CreateBuffer(ctx, driver.MemReadWrite, 4))
	dst := must.M1(d.CreateBuffer(ctx, driver.MemReadWrite, 4))
	require.NoError(t, d.WriteBuffer(queue, src, 0, []byte{1, 2, 3, 4}))
	require.NoError(t, d.SetKernelArg(copyKernel, 0, src))
	require.NoError(t, d.SetKernelArg(copyKernel, 1, dst))
	srcObj := must.M1(d.lookupMem(src))

	held := must.M1(d.EnqueueNDRangeKernel(queue, holdKernel, driver.WorkSize1D(1), nil))
	copied := must.M1(d.EnqueueNDRangeKernel(queue, copyKernel, driver.WorkSize1D(4), nil))
	require.NoError(t, d.ReleaseMem(src))
	_, err := d.MemInfo(src)
	require.Equal(t, driver.InvalidMemObject, driver.StatusOf(err), "the handle is gone right away")
	require.NotNil(t, srcObj.storage.Bytes(), "the storage is kept for the enqueued copy")

	close(hold)
	require.NoError(t, d.WaitForEvents([]driver.Event{held, copied}))
	require.Nil(t, srcObj.storage.Bytes(), "the storage is freed once the copy finished")
	got := make([]byte, 4)
	require.NoError(t, d.ReadBuffer(queue, dst, 0, got))
	require.Equal(t, []byte{1, 2, 3, 4}, got)

	// New submissions can't use the released handle.
	_, err = d.EnqueueNDRangeKernel(queue, copyKernel, driver.WorkSize1D(4), nil)
	require.Equal(t, driver.InvalidMemObject, driver.StatusOf(err))
}

func TestQueueOrderAndLatency(t *testing.T) {
	d, ctx, queue := setup(t, WithBuildLatency(20*time.Millisecond))
	start := time.Now()
	prog, _, _ := buildSync(t, d, ctx, BuiltinSource)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	fill := must.M1(d.CreateKernel(prog, "xcl_fill_u8"))
	copyK := must.M1(d.CreateKernel(prog, "xcl_copy"))
	src := must.M1(d.CreateBuffer(ctx, driver.MemReadWrite, 64))
	dst := must.M1(d.CreateBuffer(ctx, driver.MemReadWrite, 64))
	require.NoError(t, d.SetKernelArg(fill, 0, src))
	require.NoError(t, d.SetKernelArg(fill, 1, uint8(0xAB)))
	require.NoError(t, d.SetKernelArg(copyK, 0, src))
	require.NoError(t, d.SetKernelArg(copyK, 1, dst))

	// In order: the copy sees the fill without an explicit dependency.
	must.M1(d.EnqueueNDRangeKernel(queue, fill, driver.WorkSize1D(64), nil))
	must.M1(d.EnqueueNDRangeKernel(queue, copyK, driver.WorkSize1D(64), nil))
	out := make([]byte, 64)
	require.NoError(t, d.ReadBuffer(queue, dst, 0, out))
	for _, v := range out {
		require.Equal(t, uint8(0xAB), v)
	}
	assert.Equal(t, int64(2), d.Stats().Completed)
}

func float32Bytes(values []float32) []byte {
	buf := make([]byte, 0, 4*len(values))
	for _, v := range values {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

func bytesFloat32(data []byte) []float32 {
	values := make([]float32, len(data)/4)
	for ii := range values {
		values[ii] = must.M1(dtypes.Decode(dtypes.Float32, data[ii*4:(ii+1)*4])).(float32)
	}
	return values
}
