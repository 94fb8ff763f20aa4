package cl

// Common initialization and testing tools for all test files.

import (
	"flag"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xcamgo/gocl/cl/soft"
	"k8s.io/klog/v2"
)

var flagPlatform = flag.String("platform", "soft", "platform used by tests that don't need a private software driver")

func init() {
	klog.InitFlags(nil)
}

type errTester[T any] struct {
	value T
	err   error
}

// capture is a shortcut to test that there is no error and return the value.
func capture[T any](value T, err error) errTester[T] {
	return errTester[T]{value, err}
}

func (e errTester[T]) Test(t *testing.T) T {
	require.NoError(t, e.err)
	return e.value
}

var platformCount atomic.Int32

// newSoftContext registers a fresh software driver as a new platform and creates a context on it. The context is
// terminated at the end of the test.
func newSoftContext(t *testing.T, driverOptions []soft.Option, options ...ContextOption) (*soft.Driver, *Context) {
	name := fmt.Sprintf("soft-test-%d", platformCount.Add(1))
	drv := soft.New(append([]soft.Option{soft.WithName(name)}, driverOptions...)...)
	platform := capture(RegisterPlatform(name, drv)).Test(t)
	device := capture(platform.DefaultDevice()).Test(t)
	ctx := capture(NewContext(device, options...)).Test(t)
	t.Cleanup(func() { _ = ctx.Terminate() })
	return drv, ctx
}

// buildKernel builds one of the built-in kernels of the software driver.
func buildKernel(t *testing.T, ctx *Context, name string) *Kernel {
	return capture(ctx.CompileKernel(name).WithSource([]byte(soft.BuiltinSource)).Done()).Test(t)
}

func TestPlatform(t *testing.T) {
	platform, err := GetPlatform(*flagPlatform)
	require.NoError(t, err)
	require.Equal(t, *flagPlatform, platform.Name())
	require.Same(t, platform, capture(GetPlatform(*flagPlatform)).Test(t))
	fmt.Printf("%s\n", platform)
	for key, value := range platform.Attributes() {
		fmt.Printf("\t%s: %v\n", key, value)
	}
	devices := capture(platform.Devices()).Test(t)
	require.NotEmpty(t, devices)
	for _, device := range devices {
		fmt.Printf("\t%s\n", device)
		require.Same(t, platform, device.Platform())
	}
	require.Contains(t, AvailablePlatforms(), "soft")

	_, err = GetPlatform("no-such-platform")
	require.Error(t, err)

	_, err = RegisterPlatform(*flagPlatform, soft.New())
	require.Error(t, err, "registering the same name twice should fail")
}
