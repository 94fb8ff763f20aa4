package cl

import (
	"fmt"
	"os"
	"path"
	"slices"
	"sync"

	"github.com/pkg/errors"
	"github.com/xcamgo/gocl/driver"
	"k8s.io/klog/v2"
)

const (
	// PlatformEnv is the name of the environment variable with the platform used by DefaultPlatform.
	PlatformEnv = "XCL_PLATFORM"

	// BuildOptionsEnv is the name of the environment variable with extra build options appended to every build.
	BuildOptionsEnv = "XCL_BUILD_OPTIONS"

	// DefaultPlatformName is used by DefaultPlatform if XCL_PLATFORM is not set.
	DefaultPlatformName = "soft"
)

// Platform is a compute driver: it exposes devices on which contexts are created.
//
// Platforms are singletons per name and cached: GetPlatform returns the same Platform if called with the same name.
type Platform struct {
	name, path string
	drv        driver.Driver
	attributes NamedValuesMap
}

var (
	// loadedPlatforms caches the platforms already loaded. Protected by muPlatforms.
	loadedPlatforms = make(map[string]*Platform)
	muPlatforms     sync.Mutex
)

// newPlatform wraps a driver. Internal: use GetPlatform or RegisterPlatform instead.
func newPlatform(name, driverPath string, drv driver.Driver) (*Platform, error) {
	if drv == nil {
		return nil, errors.Errorf("nil driver for platform %q", name)
	}
	p := &Platform{
		name:       name,
		path:       driverPath,
		drv:        drv,
		attributes: NamedValuesMap(drv.Attributes()),
	}
	return p, nil
}

// RegisterPlatform registers the driver under the given name and returns its Platform.
//
// Drivers that register themselves with driver.Register (like cl/soft) don't need this: GetPlatform finds them. It is
// useful to create platforms with separately configured driver instances, e.g. for testing.
func RegisterPlatform(name string, drv driver.Driver) (*Platform, error) {
	muPlatforms.Lock()
	defer muPlatforms.Unlock()
	if _, found := loadedPlatforms[name]; found {
		return nil, errors.Errorf("platform %q already registered", name)
	}
	if err := driver.Register(name, drv); err != nil {
		return nil, errors.WithMessagef(err, "registering platform %q", name)
	}
	p, err := newPlatform(name, "_registered_", drv)
	if err != nil {
		return nil, err
	}
	loadedPlatforms[name] = p
	return p, nil
}

// GetPlatform returns the platform with the given name, e.g.: "soft". One can also give the full path to a Go
// plugin implementing a driver.
//
// Platforms are searched first among the registered drivers (see driver.Register), and then in the
// XCL_DRIVER_LIBRARY_PATH directories (a ":" separated list) for Go plugins named xcl_driver_<name>.so or
// xcl-driver-<name>.so.
func GetPlatform(name string) (*Platform, error) {
	muPlatforms.Lock()
	defer muPlatforms.Unlock()

	// Search previously loaded platform: match by name or by path (if the name given is an absolute path).
	if p, found := loadedPlatforms[name]; found {
		return p, nil
	}
	if path.IsAbs(name) {
		for _, p := range loadedPlatforms {
			if p.Path() == name {
				return p, nil
			}
		}
	}

	if drv, found := driver.Lookup(name); found {
		p, err := newPlatform(name, "_builtin_", drv)
		if err != nil {
			return nil, err
		}
		loadedPlatforms[name] = p
		return p, nil
	}

	// Search path to the driver plugin, except if name is an absolute path.
	driverPath := name
	if !path.IsAbs(driverPath) {
		var found bool
		driverPath, found = searchDriver(name)
		if !found {
			return nil, errors.Errorf("platform %q not registered and not found in paths %v: set %s to the directories "+
				"to search; driver plugins should be named xcl_driver_<name>.so",
				name, driverSearchPaths, DriverPathsEnv)
		}
	}
	klog.V(1).Infof("attempting to load driver plugin from %s", driverPath)
	drv, err := loadDriverPlugin(driverPath)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load driver for platform %q", name)
	}
	p, err := newPlatform(name, driverPath, drv)
	if err != nil {
		return nil, err
	}
	loadedPlatforms[name] = p
	return p, nil
}

// DefaultPlatform returns the platform named by the XCL_PLATFORM environment variable, or "soft" if it is not set.
func DefaultPlatform() (*Platform, error) {
	name := os.Getenv(PlatformEnv)
	if name == "" {
		name = DefaultPlatformName
	}
	return GetPlatform(name)
}

// AvailablePlatforms returns the sorted names of the registered drivers and of the driver plugins found in the
// XCL_DRIVER_LIBRARY_PATH directories.
func AvailablePlatforms() []string {
	names := driver.Names()
	for name := range searchDrivers("") {
		names = append(names, name)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Name returns the name of the platform.
func (p *Platform) Name() string {
	return p.name
}

// Path returns the path from where the driver was loaded, or "_builtin_" / "_registered_" for drivers linked into
// the binary.
func (p *Platform) Path() string {
	return p.path
}

// Version returns the version of the native API implemented by the driver.
func (p *Platform) Version() (major, minor int) {
	return p.drv.Version()
}

// Attributes returns the attributes reported by the driver when the platform was loaded.
func (p *Platform) Attributes() NamedValuesMap {
	return p.attributes
}

// Driver returns the native driver of the platform.
func (p *Platform) Driver() driver.Driver {
	return p.drv
}

// String implements fmt.Stringer.
func (p *Platform) String() string {
	major, minor := p.Version()
	return fmt.Sprintf("platform %q (%s) v%d.%d", p.name, p.path, major, minor)
}

// Devices enumerates the devices of the platform.
func (p *Platform) Devices() ([]*Device, error) {
	infos, err := p.drv.Devices()
	if err != nil {
		return nil, toError(InitializationFailure, "Platform.Devices", p.name, err)
	}
	devices := make([]*Device, len(infos))
	for ii, info := range infos {
		devices[ii] = &Device{platform: p, info: info}
	}
	return devices, nil
}

// DefaultDevice returns the first device of the platform.
func (p *Platform) DefaultDevice() (*Device, error) {
	devices, err := p.Devices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, newError(InitializationFailure, "Platform.DefaultDevice", p.name, "platform has no devices")
	}
	return devices[0], nil
}
