package cl

import (
	"fmt"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/xcamgo/gocl/cl/soft"
)

var benchSizes = []int{1 << 10, 1 << 16, 1 << 20}

func newBenchContext(b *testing.B) *Context {
	platform := must.M1(GetPlatform(*flagPlatform))
	ctx := must.M1(NewContext(must.M1(platform.DefaultDevice())))
	b.Cleanup(func() { must.M(ctx.Terminate()) })
	return ctx
}

// BenchmarkContext_CachedKernel measures kernel creation when the program is in the build cache.
func BenchmarkContext_CachedKernel(b *testing.B) {
	ctx := newBenchContext(b)
	source := []byte(soft.BuiltinSource)
	must.M(must.M1(ctx.GenerateKernel("xcl_copy", source, BuildFromSource)).Destroy())
	b.ResetTimer()
	for range b.N {
		k := must.M1(ctx.GenerateKernel("xcl_copy", source, BuildFromSource))
		must.M(k.Destroy())
	}
}

// BenchmarkContext_Execute measures the submission and completion of a kernel on the default queue.
func BenchmarkContext_Execute(b *testing.B) {
	ctx := newBenchContext(b)
	for _, size := range benchSizes {
		b.Run(fmt.Sprintf("size=%d", size), func(b *testing.B) {
			buf := must.M1(ctx.CreateBuffer(MemReadWrite, size))
			defer func() { must.M(buf.Destroy()) }()
			fill := must.M1(ctx.CompileKernel("xcl_fill_u8").WithSource([]byte(soft.BuiltinSource)).
				WithWorkSize(WorkSize1D(size)).Done())
			defer func() { must.M(fill.Destroy()) }()
			must.M(fill.SetArgs(buf, uint8(1)))

			// Warmup.
			for range 10 {
				must.M(must.M1(ctx.ExecuteKernel(fill, nil)).AwaitAndFree())
			}
			b.ResetTimer()
			for range b.N {
				must.M(must.M1(ctx.ExecuteKernel(fill, nil)).AwaitAndFree())
			}
		})
	}
}
