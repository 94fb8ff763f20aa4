package cl

import (
	"crypto/sha256"
	"fmt"
	"os"
	"slices"
	"strings"
	"weak"

	"github.com/pkg/errors"
	"github.com/xcamgo/gocl/driver"
	"k8s.io/klog/v2"
)

// envBuildOptions is read from XCL_BUILD_OPTIONS at initialization.
var envBuildOptions string

func init() {
	envBuildOptions = os.Getenv(BuildOptionsEnv)
}

// buildKey identifies a build cache entry.
type buildKey struct {
	digest    [sha256.Size]byte
	buildType BuildType
	options   string
}

// String is used as the singleflight key.
func (k buildKey) String() string {
	return fmt.Sprintf("%x|%d|%s", k.digest, k.buildType, k.options)
}

// cachedProgram is a successfully built program. The cache holds one native reference to it until the context is
// terminated.
type cachedProgram struct {
	program     driver.Program
	kernelNames []string
}

// KernelConfig is created with Context.CompileKernel, and is a "builder pattern" to configure the creation of a
// kernel.
//
// At a minimum one has to set the program, with either WithSource or WithBinary. Once finished call Done to get
// the Kernel, built or fetched from the build cache of the context.
type KernelConfig struct {
	ctx       *Context
	name      string
	program   []byte
	buildType BuildType
	options   string
	workSize  WorkSize
	err       error
}

// CompileKernel starts the configuration of a kernel with the given function name. The name can be left empty
// if the program has only one kernel.
func (c *Context) CompileKernel(name string) *KernelConfig {
	return &KernelConfig{ctx: c, name: name, workSize: WorkSize1D(1)}
}

// GenerateKernel creates the kernel name from the program bytes, interpreted according to buildType.
// It is a shortcut to CompileKernel(name).WithSource(program).Done() (or WithBinary). Build types other than
// BuildFromSource and BuildFromBinary fail with a BuildFailure error.
func (c *Context) GenerateKernel(name string, program []byte, buildType BuildType) (*Kernel, error) {
	return c.CompileKernel(name).withProgram(program, buildType).Done()
}

// ProgramKernelNames builds the program, or fetches it from the build cache, and returns the names of its kernels.
func (c *Context) ProgramKernelNames(program []byte, buildType BuildType, options string) ([]string, error) {
	const op = "Context.ProgramKernelNames"
	if err := c.enter(op); err != nil {
		return nil, err
	}
	defer c.leave()
	if len(program) == 0 {
		return nil, newError(BuildFailure, op, "", "empty program")
	}
	key := buildKey{
		digest:    sha256.Sum256(program),
		buildType: buildType,
		options:   joinOptions(envBuildOptions, c.buildOptions, options),
	}
	entry, err := c.cachedOrBuild(op, key, program)
	if err != nil {
		return nil, err
	}
	return slices.Clone(entry.kernelNames), nil
}

func (kc *KernelConfig) withProgram(program []byte, buildType BuildType) *KernelConfig {
	if kc.program != nil && kc.err == nil {
		kc.err = errors.New("program given more than once, use only one of WithSource or WithBinary")
	}
	kc.program = program
	kc.buildType = buildType
	return kc
}

// WithSource sets the program to OpenCL C source code (BuildFromSource).
//
// It returns itself (KernelConfig) to allow cascading configuration calls.
func (kc *KernelConfig) WithSource(source []byte) *KernelConfig {
	return kc.withProgram(source, BuildFromSource)
}

// WithBinary sets the program to a precompiled binary (BuildFromBinary), e.g. returned by Kernel.ProgramBinary.
//
// It returns itself (KernelConfig) to allow cascading configuration calls.
func (kc *KernelConfig) WithBinary(binary []byte) *KernelConfig {
	return kc.withProgram(binary, BuildFromBinary)
}

// WithOptions sets build options, appended to the ones of the context (see WithBuildOptions). Different options
// produce different build cache entries.
func (kc *KernelConfig) WithOptions(options string) *KernelConfig {
	kc.options = options
	return kc
}

// WithWorkSize sets the initial NDRange of the kernel, see Kernel.SetWorkSize.
func (kc *KernelConfig) WithWorkSize(workSize WorkSize) *KernelConfig {
	kc.workSize = workSize
	return kc
}

// Done builds the program, or fetches it from the build cache, and creates the kernel.
//
// Concurrent requests for the same program share one build. A build failure is returned as a BuildFailure error,
// and the build log is also sent to the error sink of the context. Failed builds are not cached, and the context
// remains usable.
func (kc *KernelConfig) Done() (*Kernel, error) {
	const op = "Context.CompileKernel"
	c := kc.ctx
	if c == nil {
		return nil, errors.New("misconfigured KernelConfig, or an attempt of using it more than once, which is not " +
			"supported -- call Context.CompileKernel() again")
	}
	defer func() { kc.ctx = nil }() // KernelConfig can only be used once.
	if err := c.enter(op); err != nil {
		return nil, err
	}
	defer c.leave()
	if kc.err != nil {
		return nil, &Error{Kind: BuildFailure, Op: op, Object: kc.name, cause: kc.err}
	}
	if len(kc.program) == 0 {
		return nil, newError(BuildFailure, op, kc.name, "no program given, use WithSource or WithBinary before Done")
	}
	if err := kc.workSize.Validate(); err != nil {
		return nil, toError(BuildFailure, op, kc.name, err)
	}

	key := buildKey{
		digest:    sha256.Sum256(kc.program),
		buildType: kc.buildType,
		options:   joinOptions(envBuildOptions, c.buildOptions, kc.options),
	}
	entry, err := c.cachedOrBuild(op, key, kc.program)
	if err != nil {
		return nil, err
	}

	name := kc.name
	if name == "" {
		if len(entry.kernelNames) != 1 {
			return nil, newError(BuildFailure, op, fmt.Sprintf("program#%d", entry.program),
				"kernel name required, program has kernels %v", entry.kernelNames)
		}
		name = entry.kernelNames[0]
	}
	native, err := c.drv.CreateKernel(entry.program, name)
	if err != nil {
		return nil, toError(BuildFailure, op, fmt.Sprintf("kernel %q", name), err)
	}
	numArgs, err := c.drv.KernelNumArgs(native)
	if err != nil {
		if err2 := c.drv.ReleaseKernel(native); err2 != nil {
			klog.Errorf("cl: failed to release kernel#%d: %+v", native, err2)
		}
		return nil, toError(BuildFailure, op, fmt.Sprintf("kernel %q", name), err)
	}
	k := &Kernel{
		owner:     c,
		name:      name,
		native:    native,
		program:   entry.program,
		buildType: kc.buildType,
		key:       key,
		numArgs:   numArgs,
		bound:     make([]bool, numArgs),
		workSize:  kc.workSize,
	}
	c.mu.Lock()
	c.kernels = append(c.kernels, k)
	c.mu.Unlock()
	kernelsAlive.Add(1)
	klog.V(1).Infof("cl: created %s from program#%d", k, entry.program)
	return k, nil
}

// joinOptions joins the non-empty build options.
func joinOptions(options ...string) string {
	var parts []string
	for _, opt := range options {
		if opt = strings.TrimSpace(opt); opt != "" {
			parts = append(parts, opt)
		}
	}
	return strings.Join(parts, " ")
}

// cachedOrBuild returns the cached program for key, or builds it. Concurrent misses for the same key share one
// build. It must be called between enter and leave.
func (c *Context) cachedOrBuild(op string, key buildKey, program []byte) (*cachedProgram, error) {
	c.mu.Lock()
	entry, found := c.cache[key]
	c.mu.Unlock()
	if found {
		klog.V(2).Infof("cl: build cache hit for program#%d", entry.program)
		return entry, nil
	}
	value, err, shared := c.builds.Do(key.String(), func() (any, error) {
		c.mu.Lock()
		entry, found := c.cache[key]
		c.mu.Unlock()
		if found {
			return entry, nil
		}
		entry, err := c.buildProgram(op, key, program)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = entry
		c.cacheOrder = append(c.cacheOrder, key)
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		klog.V(2).Infof("cl: shared in-flight build of program#%d", value.(*cachedProgram).program)
	}
	return value.(*cachedProgram), nil
}

// buildProgram creates and builds a native program, and waits for the build to finish.
func (c *Context) buildProgram(op string, key buildKey, bytes []byte) (*cachedProgram, error) {
	device := c.device.ID()
	var (
		program driver.Program
		err     error
	)
	switch key.buildType {
	case BuildFromSource:
		program, err = c.drv.CreateProgramWithSource(c.native, bytes)
	case BuildFromBinary:
		program, err = c.drv.CreateProgramWithBinary(c.native, device, bytes)
	default:
		return nil, newError(BuildFailure, op, "", "invalid build type %d", key.buildType)
	}
	if err != nil {
		c.report(BuildFailure, "build", 0, err.Error())
		return nil, toError(BuildFailure, op, key.buildType.String(), err)
	}
	object := fmt.Sprintf("program#%d", program)
	fail := func(err error) (*cachedProgram, error) {
		if err2 := c.drv.ReleaseProgram(program); err2 != nil {
			klog.Errorf("cl: failed to release %s after failed build: %+v", object, err2)
		}
		return nil, toError(BuildFailure, op, object, err)
	}

	done := make(chan struct{})
	c.numBuilds.Add(1)
	klog.V(1).Infof("cl: building %s (%s, options %q)", object, key.buildType, key.options)
	err = c.drv.BuildProgram(program, device, key.options, buildNotifier(weak.Make(c), c.drv, device, done))
	if err != nil {
		c.report(BuildFailure, "build", uintptr(program), err.Error())
		return fail(err)
	}
	<-done

	status, log, err := c.drv.ProgramBuildInfo(program, device)
	if err != nil {
		return fail(err)
	}
	if status != driver.BuildSuccess {
		return fail(errors.Errorf("build finished with status %s, build log:\n%s", status, log))
	}
	if log != "" {
		klog.V(1).Infof("cl: build log of %s:\n%s", object, log)
	}
	names, err := c.drv.ProgramKernelNames(program)
	if err != nil {
		return fail(err)
	}
	return &cachedProgram{program: program, kernelNames: names}, nil
}

// buildNotifier returns the callback called by the driver when a build finishes. It reports failed builds, with
// their build log, to the error sink of the context, and then closes done.
// It only holds a weak reference to the Context.
func buildNotifier(wc weak.Pointer[Context], drv driver.Driver, device driver.DeviceID, done chan struct{}) driver.BuildNotifyFn {
	return func(program driver.Program) {
		defer close(done)
		c := wc.Value()
		if c == nil || !c.alive() {
			klog.Warningf("cl: build of program#%d finished for a context no longer alive", program)
			return
		}
		status, log, err := drv.ProgramBuildInfo(program, device)
		if err != nil {
			c.report(BuildFailure, "build", uintptr(program), err.Error())
			return
		}
		if status != driver.BuildSuccess {
			c.report(BuildFailure, "build", uintptr(program), log)
		}
	}
}
