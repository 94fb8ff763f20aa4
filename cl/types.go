package cl

import "github.com/xcamgo/gocl/driver"

// BuildType tells how the bytes of a kernel program are interpreted.
type BuildType int

const (
	// BuildFromSource compiles OpenCL C source code.
	BuildFromSource BuildType = iota

	// BuildFromBinary loads a precompiled program binary, e.g. one returned by Kernel.ProgramBinary.
	BuildFromBinary
)

// String implements fmt.Stringer.
func (t BuildType) String() string {
	switch t {
	case BuildFromSource:
		return "BUILD_FROM_SOURCE"
	case BuildFromBinary:
		return "BUILD_FROM_BINARY"
	default:
		return "BUILD_INVALID"
	}
}

// LocalMemory is a kernel argument requesting the given number of bytes of work-group local memory.
type LocalMemory int

// Aliases of the driver types used in the API of this package.
type (
	WorkSize    = driver.WorkSize
	VAImageInfo = driver.VAImageInfo
	ImageFormat = driver.ImageFormat
	MemFlags    = driver.MemFlags
)

// Memory access flags.
const (
	MemReadWrite = driver.MemReadWrite
	MemWriteOnly = driver.MemWriteOnly
	MemReadOnly  = driver.MemReadOnly
)

// WorkSize1D returns a one dimensional WorkSize.
func WorkSize1D(global int) WorkSize {
	return driver.WorkSize1D(global)
}

// WorkSize2D returns a two dimensional WorkSize.
func WorkSize2D(width, height int) WorkSize {
	return driver.WorkSize2D(width, height)
}
