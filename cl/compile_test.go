package cl

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcamgo/gocl/cl/soft"
	"github.com/xcamgo/gocl/driver"
	"golang.org/x/sync/errgroup"
)

// scenarioSource is a program of 120 bytes with a single kernel without arguments.
var scenarioSource = func() string {
	src := "__kernel void k1(void) {\n    // Scenario kernel: does nothing.\n}\n"
	return src + strings.Repeat(" ", 120-len(src))
}()

func TestScenario(t *testing.T) {
	drv, ctx := newSoftContext(t, nil)
	require.Len(t, scenarioSource, 120)

	k1 := capture(ctx.GenerateKernel("k1", []byte(scenarioSource), BuildFromSource)).Test(t)
	require.NotZero(t, k1.NativeID())
	require.NotZero(t, k1.ProgramID())
	require.Equal(t, 1, ctx.NumBuilds())

	again := capture(ctx.GenerateKernel("k1", []byte(scenarioSource), BuildFromSource)).Test(t)
	require.Equal(t, k1.ProgramID(), again.ProgramID())
	require.Equal(t, 1, ctx.NumBuilds(), "cache hit must not compile again")
	require.EqualValues(t, 1, drv.Stats().SourceBuilds)

	event := capture(ctx.ExecuteKernel(k1, nil)).Test(t)
	require.NotNil(t, event)
	require.NotZero(t, event.NativeID())
	require.NoError(t, event.Await())

	require.NoError(t, ctx.Terminate())
	_, err := ctx.GenerateKernel("k1", []byte(scenarioSource), BuildFromSource)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = ctx.ExecuteKernel(k1, nil)
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, event.Await(), ErrInvalidState)
}

func TestBuildCacheKey(t *testing.T) {
	_, ctx := newSoftContext(t, nil, WithBuildOptions("-cl-mad-enable"))
	fill := buildKernel(t, ctx, "xcl_fill_u8")
	copyKernel := buildKernel(t, ctx, "xcl_copy")
	require.Equal(t, fill.ProgramID(), copyKernel.ProgramID(), "same program bytes share the build")
	require.NotEqual(t, fill.NativeID(), copyKernel.NativeID())
	require.Equal(t, 1, ctx.NumCachedPrograms())

	// Different options are a different cache entry.
	withDefine := capture(ctx.CompileKernel("xcl_fill_u8").WithSource([]byte(soft.BuiltinSource)).
		WithOptions("-DFOO=1").Done()).Test(t)
	require.NotEqual(t, fill.ProgramID(), withDefine.ProgramID())
	require.Equal(t, 2, ctx.NumCachedPrograms())
	require.Equal(t, 2, ctx.NumBuilds())

	// Kernels from the same program have independent arguments.
	buf := capture(ctx.CreateBuffer(MemReadWrite, 4)).Test(t)
	require.NoError(t, fill.SetArgs(buf, uint8(1)))
	require.Equal(t, []int{0, 1}, withDefine.unboundArgs())
	require.Empty(t, fill.unboundArgs())

	// Destroying a kernel keeps its program cached.
	require.NoError(t, fill.Destroy())
	require.NoError(t, fill.Destroy())
	again := buildKernel(t, ctx, "xcl_fill_u8")
	require.Equal(t, copyKernel.ProgramID(), again.ProgramID())
	require.Equal(t, 2, ctx.NumBuilds())
}

func TestConcurrentBuilds(t *testing.T) {
	drv, ctx := newSoftContext(t, []soft.Option{soft.WithBuildLatency(50 * time.Millisecond)})
	const numBuilders = 16
	kernels := make([]*Kernel, numBuilders)
	var g errgroup.Group
	for ii := range numBuilders {
		g.Go(func() error {
			var err error
			kernels[ii], err = ctx.CompileKernel("xcl_scale_f32").WithSource([]byte(soft.BuiltinSource)).Done()
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, k := range kernels {
		require.Equal(t, kernels[0].ProgramID(), k.ProgramID())
	}
	require.Equal(t, 1, ctx.NumBuilds())
	require.EqualValues(t, 1, drv.Stats().SourceBuilds)
	require.Equal(t, 1, ctx.NumCachedPrograms())
}

func TestBuildFailure(t *testing.T) {
	errCh := NewErrorChannel(8)
	_, ctx := newSoftContext(t, nil, WithErrorSink(errCh))

	broken := []byte("__kernel void broken(__global float *x {\n  x[0] = 1;\n")
	_, err := ctx.GenerateKernel("broken", broken, BuildFromSource)
	require.ErrorIs(t, err, ErrBuildFailure)
	require.Contains(t, err.Error(), "expected matching bracket")
	require.True(t, ctx.IsValid(), "build failures don't invalidate the context")
	require.Equal(t, 0, ctx.NumCachedPrograms(), "failed builds are not cached")

	select {
	case report := <-errCh.C:
		assert.Equal(t, BuildFailure, report.Kind)
		assert.Equal(t, "build", report.Source)
		assert.NotZero(t, report.Handle)
		assert.Equal(t, ctx.ID(), report.ContextID)
		assert.Contains(t, report.Message, "error:")
	case <-time.After(5 * time.Second):
		t.Fatal("build failure not reported to the error sink")
	}

	// Failures are not retried or cached: the same bytes build again, and fail again.
	_, err = ctx.GenerateKernel("broken", broken, BuildFromSource)
	require.Equal(t, BuildFailure, KindOf(err))
	require.Equal(t, 2, ctx.NumBuilds())

	// Other kernels are unaffected.
	k := buildKernel(t, ctx, "xcl_copy")
	require.NotZero(t, k.NativeID())
}

func TestBuildFailureInjected(t *testing.T) {
	errCh := NewErrorChannel(8)
	drv, ctx := newSoftContext(t, nil, WithErrorSink(errCh))
	drv.FailNext(soft.OpBuildProgram, driver.CompilerNotAvailable)
	_, err := ctx.GenerateKernel("xcl_copy", []byte(soft.BuiltinSource), BuildFromSource)
	require.ErrorIs(t, err, ErrBuildFailure)
	report := <-errCh.C
	require.Contains(t, report.Message, "injected failure")

	drv.FailNext(soft.OpCreateKernel, driver.OutOfResources)
	_, err = ctx.GenerateKernel("xcl_copy", []byte(soft.BuiltinSource), BuildFromSource)
	require.ErrorIs(t, err, ErrBuildFailure)
	require.Equal(t, driver.OutOfResources, StatusOf(err))
	require.Equal(t, 1, ctx.NumCachedPrograms(), "the program built fine, only the kernel creation failed")
}

func TestKernelConfig(t *testing.T) {
	_, ctx := newSoftContext(t, nil)
	source := []byte(soft.BuiltinSource)

	// No program.
	_, err := ctx.CompileKernel("xcl_copy").Done()
	require.ErrorIs(t, err, ErrBuildFailure)

	// Program given twice.
	_, err = ctx.CompileKernel("xcl_copy").WithSource(source).WithBinary([]byte{1}).Done()
	require.ErrorIs(t, err, ErrBuildFailure)

	// Single use.
	cfg := ctx.CompileKernel("xcl_copy").WithSource(source)
	_ = capture(cfg.Done()).Test(t)
	_, err = cfg.Done()
	require.Error(t, err)

	// Kernel name required for programs with more than one kernel.
	_, err = ctx.CompileKernel("").WithSource(source).Done()
	require.ErrorIs(t, err, ErrBuildFailure)
	single := capture(ctx.CompileKernel("").WithSource([]byte(scenarioSource)).Done()).Test(t)
	require.Equal(t, "k1", single.Name())

	// Unknown kernel.
	_, err = ctx.CompileKernel("xcl_nope").WithSource(source).Done()
	require.ErrorIs(t, err, ErrBuildFailure)
	require.Equal(t, driver.InvalidKernelName, StatusOf(err))

	// Invalid work size.
	_, err = ctx.CompileKernel("xcl_copy").WithSource(source).WithWorkSize(WorkSize1D(0)).Done()
	require.ErrorIs(t, err, ErrBuildFailure)

	// Invalid options are reported by the driver.
	_, err = ctx.CompileKernel("xcl_copy").WithSource(source).WithOptions("--bogus").Done()
	require.ErrorIs(t, err, ErrBuildFailure)
	require.Equal(t, driver.InvalidBuildOptions, StatusOf(err))

	// Unknown build types are rejected before any build starts.
	builds := ctx.NumBuilds()
	_, err = ctx.GenerateKernel("xcl_copy", source, BuildType(7))
	require.ErrorIs(t, err, ErrBuildFailure)
	_, err = ctx.ProgramKernelNames(source, BuildType(7), "")
	require.ErrorIs(t, err, ErrBuildFailure)
	require.Equal(t, builds, ctx.NumBuilds())
	require.True(t, ctx.IsValid())

	k := capture(ctx.CompileKernel("xcl_gamma_u8").WithSource(source).WithWorkSize(WorkSize1D(32)).Done()).Test(t)
	require.Equal(t, WorkSize1D(32), k.WorkSize())
	require.Equal(t, 3, k.NumArgs())
	require.Equal(t, BuildFromSource, k.BuildType())
}

func TestBuildFromBinary(t *testing.T) {
	errCh := NewErrorChannel(8)
	drv, ctx := newSoftContext(t, nil, WithErrorSink(errCh))
	fromSource := buildKernel(t, ctx, "xcl_scale_f32")
	bin := capture(fromSource.ProgramBinary()).Test(t)

	fromBinary := capture(ctx.GenerateKernel("xcl_scale_f32", bin, BuildFromBinary)).Test(t)
	require.Equal(t, BuildFromBinary, fromBinary.BuildType())
	require.NotEqual(t, fromSource.ProgramID(), fromBinary.ProgramID())
	again := capture(ctx.CompileKernel("xcl_scale_f32").WithBinary(bin).Done()).Test(t)
	require.Equal(t, fromBinary.ProgramID(), again.ProgramID())
	require.EqualValues(t, 1, drv.Stats().BinaryBuilds)
	require.Equal(t, 2, ctx.NumBuilds())

	// The kernel from binary works.
	data := []float32{1, 2, 3, 4}
	buf := capture(ctx.CreateBuffer(MemReadWrite, 16)).Test(t)
	require.NoError(t, WriteFlat(buf, data))
	require.NoError(t, fromBinary.SetArgs(buf, float32(0.5)))
	fromBinary.SetWorkSize(WorkSize1D(len(data)))
	require.NoError(t, capture(fromBinary.Execute(nil)).Test(t).AwaitAndFree())
	require.NoError(t, ReadFlat(buf, data))
	require.Equal(t, []float32{0.5, 1, 1.5, 2}, data)

	// Corrupted binary.
	_, err := ctx.GenerateKernel("xcl_scale_f32", []byte("not a binary"), BuildFromBinary)
	require.ErrorIs(t, err, ErrBuildFailure)
	require.Equal(t, driver.InvalidBinary, StatusOf(err))
	report := <-errCh.C
	require.Equal(t, BuildFailure, report.Kind)
}

func TestProgramKernelNames(t *testing.T) {
	_, ctx := newSoftContext(t, nil)
	names := capture(ctx.ProgramKernelNames([]byte(soft.BuiltinSource), BuildFromSource, "")).Test(t)
	require.Equal(t, []string{"xcl_fill_u8", "xcl_copy", "xcl_gamma_u8", "xcl_scale_f32", "xcl_scale_f16",
		"xcl_image_fill_u8"}, names)
	_ = buildKernel(t, ctx, "xcl_copy")
	require.Equal(t, 1, ctx.NumBuilds(), "listing kernels fills the build cache")
}
