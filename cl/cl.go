// Package cl manages the lifetime of GPU compute resources: a Context on a Device owns command queues, a kernel
// build cache, kernels, memory objects and events, and destroys them in reverse order of creation on Terminate.
//
// Devices come from a Platform, which wraps a native driver (see package driver). The built-in "soft" platform
// (package cl/soft) is a pure Go driver; other drivers can be registered with RegisterPlatform or loaded as Go plugins
// from XCL_DRIVER_LIBRARY_PATH.
//
// Example:
//
//	platform := must.M1(cl.GetPlatform("soft"))
//	ctx := must.M1(cl.NewContext(must.M1(platform.DefaultDevice())))
//	defer ctx.Terminate()
//	kernel := must.M1(ctx.CompileKernel("xcl_gamma_u8").WithSource([]byte(soft.BuiltinSource)).Done())
//	must.M(kernel.SetArgs(image, float32(2.2)))
//	kernel.SetWorkSize(cl.WorkSize2D(width, height))
//	event := must.M1(ctx.ExecuteKernel(kernel, nil))
//	must.M(event.AwaitAndFree())
//
// After Terminate every operation fails with an InvalidState error. The exception is Destroy on kernels, events
// and memory objects: Terminate already released them, so Destroy returns nil, as it does when called twice.
//
// Asynchronous errors (driver notifications, build diagnostics and failed commands) are delivered to the ErrorSink
// of the Context, by default logged with klog.
package cl
