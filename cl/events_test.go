package cl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcamgo/gocl/cl/soft"
	"github.com/xcamgo/gocl/driver"
)

func TestExecuteInOrder(t *testing.T) {
	_, ctx := newSoftContext(t, nil)
	const size = 256
	src := capture(ctx.CreateBuffer(MemReadWrite, size)).Test(t)
	dst := capture(ctx.CreateBuffer(MemReadWrite, size)).Test(t)
	fill := buildKernel(t, ctx, "xcl_fill_u8")
	copyKernel := buildKernel(t, ctx, "xcl_copy")
	fill.SetWorkSize(WorkSize1D(size))
	copyKernel.SetWorkSize(WorkSize1D(size))
	require.NoError(t, fill.SetArgs(src, uint8(7)))
	require.NoError(t, copyKernel.SetArgs(src, dst))

	// Same queue: the copy runs after the fill, no events needed.
	queue := capture(ctx.NewCommandQueue(WithProfiling())).Test(t)
	e1 := capture(queue.ExecuteKernel(fill)).Test(t)
	e2 := capture(queue.ExecuteKernel(copyKernel)).Test(t)
	require.NoError(t, e2.Await())
	status := capture(e1.Status()).Test(t)
	require.Equal(t, driver.ExecComplete, status, "first kernel must complete before the second")
	p1, p2 := capture(e1.Profiling()).Test(t), capture(e2.Profiling()).Test(t)
	require.False(t, p1.End.After(p2.Start))
	require.NoError(t, e1.AwaitAndFree())
	require.NoError(t, e2.Destroy())

	got := make([]byte, size)
	require.NoError(t, dst.Read(0, got))
	for ii, v := range got {
		require.Equalf(t, uint8(7), v, "dst[%d]", ii)
	}
}

func TestExecuteAcrossQueues(t *testing.T) {
	_, ctx := newSoftContext(t, nil)
	const size = 64
	src := capture(ctx.CreateBuffer(MemReadWrite, size)).Test(t)
	dst := capture(ctx.CreateBuffer(MemReadWrite, size)).Test(t)
	fill := buildKernel(t, ctx, "xcl_fill_u8")
	copyKernel := buildKernel(t, ctx, "xcl_copy")
	fill.SetWorkSize(WorkSize1D(size))
	copyKernel.SetWorkSize(WorkSize1D(size))
	require.NoError(t, fill.SetArgs(src, uint8(42)))
	require.NoError(t, copyKernel.SetArgs(src, dst))

	q1 := capture(ctx.NewCommandQueue()).Test(t)
	q2 := capture(ctx.NewCommandQueue()).Test(t)
	filled := capture(q1.ExecuteKernel(fill)).Test(t)
	copied := capture(q2.ExecuteKernel(copyKernel, filled)).Test(t)
	require.NoError(t, copied.AwaitAndFree())
	require.NoError(t, q1.Finish())

	// The read on the default queue is not ordered with q1 and q2, but both finished.
	got := make([]byte, size)
	require.NoError(t, dst.Read(0, got))
	for ii, v := range got {
		require.Equalf(t, uint8(42), v, "dst[%d]", ii)
	}

	// Destroyed events can't be used in wait lists.
	require.NoError(t, filled.Destroy())
	_, err := q2.ExecuteKernel(copyKernel, filled)
	require.ErrorIs(t, err, ErrExecutionFailure)
}

func TestExecutionFailures(t *testing.T) {
	errCh := NewErrorChannel(8)
	drv, ctx := newSoftContext(t, nil, WithErrorSink(errCh))
	buf := capture(ctx.CreateBuffer(MemReadWrite, 16)).Test(t)
	fill := buildKernel(t, ctx, "xcl_fill_u8")

	// Unbound arguments fail without reaching the driver.
	_, err := ctx.ExecuteKernel(fill, nil)
	require.ErrorIs(t, err, ErrExecutionFailure)
	require.Contains(t, err.Error(), "[0 1]")
	require.EqualValues(t, 0, drv.Stats().Enqueued)

	// Argument binding errors.
	err = fill.SetArg(2, uint8(1))
	require.ErrorIs(t, err, ErrExecutionFailure)
	require.Equal(t, driver.InvalidArgIndex, StatusOf(err))
	err = fill.SetArg(1, float32(1))
	require.ErrorIs(t, err, ErrExecutionFailure)
	require.Equal(t, driver.InvalidArgValue, StatusOf(err))
	err = fill.SetArg(0, uint8(1))
	require.Equal(t, driver.InvalidArgValue, StatusOf(err))
	require.Equal(t, []int{0, 1}, fill.unboundArgs())

	// Enqueue failure.
	require.NoError(t, fill.SetArgs(buf, uint8(1)))
	drv.FailNext(soft.OpEnqueue, driver.OutOfResources)
	_, err = ctx.ExecuteKernel(fill, nil)
	require.ErrorIs(t, err, ErrExecutionFailure)
	require.Equal(t, driver.OutOfResources, StatusOf(err))

	// Runtime failure: the NDRange is larger than the buffer. The dependent execution fails too.
	fill.SetWorkSize(WorkSize1D(32))
	failed := capture(ctx.ExecuteKernel(fill, nil)).Test(t)
	fill.SetWorkSize(WorkSize1D(16))
	queue := capture(ctx.NewCommandQueue()).Test(t)
	dependent := capture(queue.ExecuteKernel(fill, failed)).Test(t)

	err = failed.Await()
	require.ErrorIs(t, err, ErrExecutionFailure)
	require.Equal(t, driver.OutOfResources, StatusOf(err))
	err = dependent.Await()
	require.ErrorIs(t, err, ErrExecutionFailure)
	require.Equal(t, driver.ExecStatusErrorForEventsInWaitList, StatusOf(err))
	status := capture(dependent.Status()).Test(t)
	require.True(t, status.Failed())

	reported := map[uintptr]ErrorReport{}
	for range 2 {
		select {
		case report := <-errCh.C:
			assert.Equal(t, ExecutionFailure, report.Kind)
			assert.Equal(t, "event", report.Source)
			reported[report.Handle] = report
		case <-time.After(5 * time.Second):
			t.Fatal("command failures not reported to the error sink")
		}
	}
	require.Contains(t, reported, uintptr(failed.NativeID()))
	require.Contains(t, reported, uintptr(dependent.NativeID()))
	require.True(t, ctx.IsValid(), "execution failures are local to the submission")

	// Objects of another context are rejected.
	_, other := newSoftContext(t, nil)
	otherBuf := capture(other.CreateBuffer(MemReadWrite, 16)).Test(t)
	err = fill.SetArg(0, otherBuf)
	require.ErrorIs(t, err, ErrExecutionFailure)
	_, err = other.ExecuteKernel(fill, nil)
	require.ErrorIs(t, err, ErrExecutionFailure)
	otherKernel := capture(other.CompileKernel("").WithSource([]byte(scenarioSource)).Done()).Test(t)
	otherEvent := capture(other.ExecuteKernel(otherKernel, nil)).Test(t)
	_, err = ctx.ExecuteKernel(fill, queue, otherEvent)
	require.ErrorIs(t, err, ErrExecutionFailure)
}

func TestDestroyedKernel(t *testing.T) {
	_, ctx := newSoftContext(t, nil)
	k := capture(ctx.CompileKernel("").WithSource([]byte(scenarioSource)).Done()).Test(t)
	require.NoError(t, k.Destroy())
	_, err := k.Execute(nil)
	require.ErrorIs(t, err, ErrInvalidState)
	_, err = k.ProgramBinary()
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDestroyMemoryWhileEnqueued(t *testing.T) {
	reports := NewErrorChannel(8)
	_, ctx := newSoftContext(t, nil, WithErrorSink(reports))
	gate := make(chan struct{})
	soft.RegisterKernel("xcl_test_gate", func(*soft.Invocation) error {
		<-gate
		return nil
	})
	gateKernel := capture(ctx.CompileKernel("xcl_test_gate").
		WithSource([]byte("__kernel void xcl_test_gate(void) {}")).Done()).Test(t)
	fill := buildKernel(t, ctx, "xcl_fill_u8")
	const size = 128
	buf := capture(ctx.CreateBuffer(MemReadWrite, size)).Test(t)
	require.NoError(t, fill.SetArgs(buf, uint8(5)))
	fill.SetWorkSize(WorkSize1D(size))

	// The fill is held behind the gate on the default queue while its buffer is destroyed.
	gated := capture(ctx.ExecuteKernel(gateKernel, nil)).Test(t)
	filled := capture(ctx.ExecuteKernel(fill, nil)).Test(t)
	require.NoError(t, buf.Destroy())
	close(gate)
	require.NoError(t, gated.AwaitAndFree())
	require.NoError(t, filled.AwaitAndFree())
	select {
	case report := <-reports.C:
		t.Fatalf("unexpected error report: %s", report)
	default:
	}

	// New submissions can't use the destroyed buffer.
	_, err := ctx.ExecuteKernel(fill, nil)
	require.ErrorIs(t, err, ErrExecutionFailure)
}
