package driver

import (
	"slices"
	"sync"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// registered drivers, protected by muRegistry.
	registered = make(map[string]Driver)
	muRegistry sync.Mutex
)

// Register makes a driver available under name. It returns an error if the name is already taken.
func Register(name string, d Driver) error {
	if d == nil {
		return errors.Errorf("driver.Register(%q) given a nil driver", name)
	}
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if _, found := registered[name]; found {
		return errors.Errorf("driver %q already registered", name)
	}
	registered[name] = d
	klog.V(1).Infof("registered compute driver %q", name)
	return nil
}

// Lookup returns the driver registered under name.
func Lookup(name string) (Driver, bool) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	d, found := registered[name]
	return d, found
}

// Names returns the sorted names of the registered drivers.
func Names() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
