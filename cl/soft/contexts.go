package soft

import (
	"github.com/xcamgo/gocl/driver"
	"k8s.io/klog/v2"
)

// context is the native state of a driver.Context.
type context struct {
	handle     driver.Context
	device     driver.DeviceInfo
	notify     driver.ContextNotifyFn
	queueDepth int
	children   int // Live queues, programs, mems and events. Protected by Driver.mu.
}

// notifyError reports an asynchronous error to the context owner, if it registered a callback.
func (c *context) notifyError(errInfo string, privateInfo []byte) {
	if c.notify == nil {
		klog.Warningf("soft: unreported error in context #%d: %s", c.handle, errInfo)
		return
	}
	c.notify(errInfo, privateInfo)
}

// CreateContext implements driver.Driver.
func (d *Driver) CreateContext(device driver.DeviceID, properties map[string]any, notify driver.ContextNotifyFn) (driver.Context, error) {
	info, found := d.device(device)
	if !found {
		return 0, driver.Errorf(driver.InvalidDevice, "device %d not found in driver %q", device, d.name)
	}
	if err := d.injectedFault(OpCreateContext); err != nil {
		return 0, err
	}
	c := &context{
		handle:     driver.Context(d.newHandle()),
		device:     info,
		notify:     notify,
		queueDepth: d.queueDepth,
	}
	for key, value := range properties {
		switch key {
		case "soft.queue_depth":
			depth, ok := value.(int64)
			if !ok || depth <= 0 {
				return 0, driver.Errorf(driver.InvalidValue, "property %q must be a positive int64, got %T(%v)", key, value, value)
			}
			c.queueDepth = int(depth)
		default:
			klog.V(1).Infof("soft: ignoring unknown context property %q", key)
		}
	}
	d.mu.Lock()
	d.contexts[c.handle] = c
	d.mu.Unlock()
	return c.handle, nil
}

// ReleaseContext implements driver.Driver.
//
// Unlike reference counted native runtimes, releasing a context while it still owns live objects is an error:
// objects must be released in reverse order of creation.
func (d *Driver) ReleaseContext(ctx driver.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, found := d.contexts[ctx]
	if !found {
		return driver.Errorf(driver.InvalidContext, "context #%d not found", ctx)
	}
	if c.children > 0 {
		return driver.Errorf(driver.InvalidOperation, "context #%d released with %d live objects", ctx, c.children)
	}
	delete(d.contexts, ctx)
	d.recordRelease("context", uintptr(ctx))
	return nil
}

// lookupContext must be called with d.mu held.
func (d *Driver) lookupContext(ctx driver.Context) (*context, error) {
	c, found := d.contexts[ctx]
	if !found {
		return nil, driver.Errorf(driver.InvalidContext, "context #%d not found", ctx)
	}
	return c, nil
}
