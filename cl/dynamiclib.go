package cl

import (
	"os"
	"path"
	"path/filepath"
	"plugin"
	"regexp"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/xcamgo/gocl/driver"
)

// This file holds the search and loading of drivers distributed as Go plugins.

const (
	// DriverPathsEnv is the name of the environment variable that defines the search paths for driver plugins.
	DriverPathsEnv = "XCL_DRIVER_LIBRARY_PATH"

	// DriverSymbolName is the name of the variable exported by driver plugins, of type driver.Driver.
	DriverSymbolName = "XCLDriver"
)

// driverSearchPaths is set during initialization from XCL_DRIVER_LIBRARY_PATH.
var driverSearchPaths []string

func init() {
	paths, found := os.LookupEnv(DriverPathsEnv)
	if !found {
		driverSearchPaths = []string{"/usr/local/lib/gocl"}
		return
	}
	driverSearchPaths = slices.DeleteFunc(strings.Split(paths, ":"), func(p string) bool {
		return p == "" // Remove empty paths.
	})
}

var (
	// Patterns to extract the name from the driver plugins.
	reDriverName = []*regexp.Regexp{
		regexp.MustCompile(`^.*/xcl_driver_(\w+)\.so$`),
		regexp.MustCompile(`^.*/xcl-driver-([\w-]+)\.so$`),
	}
)

// pathToDriverName returns the name of the driver if it's a matching plugin path, otherwise returns "".
func pathToDriverName(pPath string) string {
	for _, re := range reDriverName {
		if subMatches := re.FindStringSubmatch(pPath); subMatches != nil {
			return subMatches[1]
		}
	}
	return ""
}

func searchDriver(searchName string) (path string, found bool) {
	path, found = searchDrivers(searchName)[searchName]
	return
}

// searchDrivers returns the driver plugins found, by name. If searchName is not empty, only matching plugins are
// returned. Directories are searched in order and the first match of a name wins.
func searchDrivers(searchName string) (driverPaths map[string]string) {
	driverPaths = make(map[string]string)
	for _, searchPath := range driverSearchPaths {
		for _, pattern := range []string{"xcl_driver_*.so", "xcl-driver-*.so"} {
			candidates, err := filepath.Glob(path.Join(searchPath, pattern))
			if err != nil {
				continue
			}
			for _, candidate := range candidates {
				name := pathToDriverName(candidate)
				if name == "" || (searchName != "" && searchName != name) {
					continue
				}
				if _, found := driverPaths[name]; found {
					continue
				}
				driverPaths[name] = candidate
			}
		}
	}
	return
}

// loadDriverPlugin opens the Go plugin and returns the driver it exports.
func loadDriverPlugin(pluginPath string) (driver.Driver, error) {
	p, err := plugin.Open(pluginPath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening driver plugin %q", pluginPath)
	}
	sym, err := p.Lookup(DriverSymbolName)
	if err != nil {
		return nil, errors.Wrapf(err, "driver plugin %q doesn't export %s", pluginPath, DriverSymbolName)
	}
	switch value := sym.(type) {
	case *driver.Driver:
		if *value == nil {
			return nil, errors.Errorf("driver plugin %q exports a nil %s", pluginPath, DriverSymbolName)
		}
		return *value, nil
	case driver.Driver:
		return value, nil
	default:
		return nil, errors.Errorf("driver plugin %q exports %s of type %T, which is not a driver.Driver",
			pluginPath, DriverSymbolName, sym)
	}
}
