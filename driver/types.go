package driver

import (
	"fmt"
	"time"
)

// DeviceType classifies devices.
type DeviceType int

const (
	DeviceTypeDefault DeviceType = iota
	DeviceTypeCPU
	DeviceTypeGPU
	DeviceTypeAccelerator
)

// String implements fmt.Stringer.
func (t DeviceType) String() string {
	switch t {
	case DeviceTypeCPU:
		return "CPU"
	case DeviceTypeGPU:
		return "GPU"
	case DeviceTypeAccelerator:
		return "Accelerator"
	default:
		return "Default"
	}
}

// DeviceInfo describes a device exposed by a driver.
type DeviceInfo struct {
	ID             DeviceID
	Name           string
	Vendor         string
	Type           DeviceType
	ComputeUnits   int
	GlobalMemSize  int64
	MaxWorkGroup   int
	ImageSupport   bool
	DriverVersion  string
	OpenCLCVersion string
}

// QueueProperties configures a command queue. Queues are always in-order.
type QueueProperties struct {
	ProfilingEnable bool
}

// WorkSize is the NDRange of a kernel execution. Only the first Dims entries are used.
// A zero Local means the driver picks the local size.
type WorkSize struct {
	Dims   int
	Global [3]int
	Local  [3]int
	Offset [3]int
}

// WorkSize1D returns a one dimensional WorkSize.
func WorkSize1D(global int) WorkSize {
	return WorkSize{Dims: 1, Global: [3]int{global, 1, 1}}
}

// WorkSize2D returns a two dimensional WorkSize.
func WorkSize2D(width, height int) WorkSize {
	return WorkSize{Dims: 2, Global: [3]int{width, height, 1}}
}

// Items returns the total number of work items.
func (w WorkSize) Items() int {
	n := 1
	for i := 0; i < w.Dims && i < 3; i++ {
		n *= w.Global[i]
	}
	return n
}

// Validate checks dimensions and sizes.
func (w WorkSize) Validate() error {
	if w.Dims < 1 || w.Dims > 3 {
		return Errorf(InvalidWorkDimension, "work dimension %d not in [1, 3]", w.Dims)
	}
	for i := 0; i < w.Dims; i++ {
		if w.Global[i] <= 0 {
			return Errorf(InvalidGlobalWorkSize, "global work size[%d]=%d must be positive", i, w.Global[i])
		}
		if w.Local[i] < 0 || (w.Local[i] > 0 && w.Global[i]%w.Local[i] != 0) {
			return Errorf(InvalidWorkGroupSize, "local work size[%d]=%d does not divide global size %d", i, w.Local[i], w.Global[i])
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (w WorkSize) String() string {
	return fmt.Sprintf("%v", w.Global[:max(min(w.Dims, 3), 0)])
}

// LocalMemory is a kernel argument requesting Size bytes of work-group local memory.
type LocalMemory int

// ExecStatus is the execution status of an event. Negative values are error Status codes.
type ExecStatus int

const (
	ExecComplete  ExecStatus = 0
	ExecRunning   ExecStatus = 1
	ExecSubmitted ExecStatus = 2
	ExecQueued    ExecStatus = 3
)

// Failed reports whether the command terminated abnormally.
func (s ExecStatus) Failed() bool {
	return s < 0
}

// String implements fmt.Stringer.
func (s ExecStatus) String() string {
	switch s {
	case ExecComplete:
		return "Complete"
	case ExecRunning:
		return "Running"
	case ExecSubmitted:
		return "Submitted"
	case ExecQueued:
		return "Queued"
	default:
		return fmt.Sprintf("Error(%s)", Status(s))
	}
}

// Profiling holds command timestamps. They are zero if the queue was created without profiling.
type Profiling struct {
	Queued, Submit, Start, End time.Time
}

// Duration returns the execution time of the command.
func (p Profiling) Duration() time.Duration {
	if p.Start.IsZero() || p.End.IsZero() {
		return 0
	}
	return p.End.Sub(p.Start)
}

// BuildStatus is the state of a program build.
type BuildStatus int

const (
	BuildNone       BuildStatus = -1
	BuildError      BuildStatus = -2
	BuildSuccess    BuildStatus = 0
	BuildInProgress BuildStatus = -3
)

// String implements fmt.Stringer.
func (s BuildStatus) String() string {
	switch s {
	case BuildNone:
		return "None"
	case BuildError:
		return "Error"
	case BuildSuccess:
		return "Success"
	case BuildInProgress:
		return "InProgress"
	default:
		return fmt.Sprintf("BuildStatus(%d)", int(s))
	}
}

// MemFlags are memory object access flags.
type MemFlags uint32

const (
	MemReadWrite MemFlags = 1 << iota
	MemWriteOnly
	MemReadOnly
)

// MemType distinguishes buffers and images.
type MemType int

const (
	MemBuffer MemType = iota
	MemImage2D
)

// MemInfo describes a memory object.
type MemInfo struct {
	Type  MemType
	Flags MemFlags
	Size  int
	Image VAImageInfo
}
