package soft

import (
	"crypto/sha256"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xcamgo/gocl/driver"
	"k8s.io/klog/v2"
)

// program is the native state of a driver.Program.
type program struct {
	handle     driver.Program
	ctx        *context
	source     []byte
	fromBinary bool
	digest     [sha256.Size]byte

	mu         sync.Mutex
	status     driver.BuildStatus
	log        string
	options    string
	signatures []Signature
	refs       int // Holder reference plus one per kernel. Protected by Driver.mu.
}

// CreateProgramWithSource implements driver.Driver.
func (d *Driver) CreateProgramWithSource(ctx driver.Context, source []byte) (driver.Program, error) {
	if len(source) == 0 {
		return 0, driver.Errorf(driver.InvalidValue, "empty program source")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.lookupContext(ctx)
	if err != nil {
		return 0, err
	}
	p := &program{
		handle: driver.Program(d.newHandle()),
		ctx:    c,
		source: slices.Clone(source),
		digest: sha256.Sum256(source),
		status: driver.BuildNone,
		refs:   1,
	}
	d.programs[p.handle] = p
	c.children++
	return p.handle, nil
}

// CreateProgramWithBinary implements driver.Driver.
//
// The binary is validated immediately: a malformed binary fails with InvalidBinary.
func (d *Driver) CreateProgramWithBinary(ctx driver.Context, device driver.DeviceID, binary []byte) (driver.Program, error) {
	if _, found := d.device(device); !found {
		return 0, driver.Errorf(driver.InvalidDevice, "device %d not found in driver %q", device, d.name)
	}
	bin, err := decodeBinary(binary)
	if err != nil {
		return 0, driver.Errorf(driver.InvalidBinary, "%v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	c, err := d.lookupContext(ctx)
	if err != nil {
		return 0, err
	}
	p := &program{
		handle:     driver.Program(d.newHandle()),
		ctx:        c,
		fromBinary: true,
		digest:     bin.digest,
		status:     driver.BuildNone,
		signatures: bin.signatures,
		options:    bin.options,
		refs:       1,
	}
	d.programs[p.handle] = p
	c.children++
	return p.handle, nil
}

func (d *Driver) lookupProgram(handle driver.Program) (*program, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, found := d.programs[handle]
	if !found {
		return nil, driver.Errorf(driver.InvalidProgram, "program #%d not found", handle)
	}
	return p, nil
}

// BuildProgram implements driver.Driver. The build runs on a separate goroutine and notify is called when done.
func (d *Driver) BuildProgram(handle driver.Program, device driver.DeviceID, options string, notify driver.BuildNotifyFn) error {
	p, err := d.lookupProgram(handle)
	if err != nil {
		return err
	}
	if device != p.ctx.device.ID {
		return driver.Errorf(driver.InvalidDevice, "device %d is not the device of context #%d", device, p.ctx.handle)
	}
	if err := validateBuildOptions(options); err != nil {
		return driver.Errorf(driver.InvalidBuildOptions, "%v", err)
	}
	p.mu.Lock()
	if p.status == driver.BuildInProgress {
		p.mu.Unlock()
		return driver.Errorf(driver.InvalidOperation, "program #%d is already being built", handle)
	}
	p.status = driver.BuildInProgress
	p.mu.Unlock()

	injected := d.injectedFault(OpBuildProgram)
	go func() {
		start := time.Now()
		status, log := d.build(p, options, injected)
		if elapsed := time.Since(start); elapsed < d.buildLatency {
			time.Sleep(d.buildLatency - elapsed)
		}
		p.mu.Lock()
		p.status = status
		p.log = log
		p.options = options
		p.mu.Unlock()
		klog.V(1).Infof("soft: program #%d build finished: %s", handle, status)
		if notify != nil {
			notify(handle)
		}
	}()
	return nil
}

// build compiles the program and returns the build status and log.
func (d *Driver) build(p *program, options string, injected error) (driver.BuildStatus, string) {
	if injected != nil {
		return driver.BuildError, "<build>: error: " + injected.Error()
	}
	if p.fromBinary {
		d.binaryBuilds.Add(1)
		return driver.BuildSuccess, ""
	}
	d.sourceBuilds.Add(1)
	sigs, diagnostics, ok := parseSource(p.source)
	log := strings.Join(diagnostics, "\n")
	if !ok {
		return driver.BuildError, log
	}
	p.mu.Lock()
	p.signatures = sigs
	p.mu.Unlock()
	return driver.BuildSuccess, log
}

// ProgramBuildInfo implements driver.Driver.
func (d *Driver) ProgramBuildInfo(handle driver.Program, device driver.DeviceID) (driver.BuildStatus, string, error) {
	p, err := d.lookupProgram(handle)
	if err != nil {
		return driver.BuildNone, "", err
	}
	if device != p.ctx.device.ID {
		return driver.BuildNone, "", driver.Errorf(driver.InvalidDevice, "device %d is not the device of context #%d", device, p.ctx.handle)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.log, nil
}

// ProgramBinary implements driver.Driver. The program must have been built successfully.
func (d *Driver) ProgramBinary(handle driver.Program) ([]byte, error) {
	p, err := d.lookupProgram(handle)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != driver.BuildSuccess {
		return nil, driver.Errorf(driver.InvalidProgramExecutable, "program #%d is not built (status %s)", handle, p.status)
	}
	return encodeBinary(&programBinary{digest: p.digest, options: p.options, signatures: p.signatures}), nil
}

// ProgramKernelNames implements driver.Driver.
func (d *Driver) ProgramKernelNames(handle driver.Program) ([]string, error) {
	p, err := d.lookupProgram(handle)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != driver.BuildSuccess {
		return nil, driver.Errorf(driver.InvalidProgramExecutable, "program #%d is not built (status %s)", handle, p.status)
	}
	names := make([]string, len(p.signatures))
	for ii, sig := range p.signatures {
		names[ii] = sig.Name
	}
	return names, nil
}

// ReleaseProgram implements driver.Driver. The program is destroyed once its kernels are released as well.
func (d *Driver) ReleaseProgram(handle driver.Program) error {
	if err := d.injectedFault(OpRelease); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, found := d.programs[handle]
	if !found {
		return driver.Errorf(driver.InvalidProgram, "program #%d not found", handle)
	}
	d.unrefProgramLocked(p)
	return nil
}

// unrefProgramLocked must be called with d.mu held.
func (d *Driver) unrefProgramLocked(p *program) {
	p.refs--
	if p.refs > 0 {
		return
	}
	delete(d.programs, p.handle)
	p.ctx.children--
	d.recordRelease("program", uintptr(p.handle))
}

func (p *program) signature(name string) (Signature, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sig := range p.signatures {
		if sig.Name == name {
			return sig, true
		}
	}
	return Signature{}, false
}
