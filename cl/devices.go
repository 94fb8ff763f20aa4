package cl

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/xcamgo/gocl/driver"
)

// Device is a lightweight reference to a device of a Platform. It doesn't own any native resource.
type Device struct {
	platform *Platform
	info     driver.DeviceInfo
}

// Platform returns the platform of the device.
func (d *Device) Platform() *Platform {
	return d.platform
}

// ID returns the native device identifier.
func (d *Device) ID() driver.DeviceID {
	return d.info.ID
}

// Info returns the device description reported by the driver.
func (d *Device) Info() driver.DeviceInfo {
	return d.info
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.info.Name
}

// String implements fmt.Stringer.
func (d *Device) String() string {
	if d == nil || d.platform == nil {
		return "invalid device"
	}
	return fmt.Sprintf("%s #%d (%s, %s, %d compute units)", d.platform.Name(), d.info.ID, d.info.Name, d.info.Type,
		d.info.ComputeUnits)
}

// validate checks the device can be used to create a context.
func (d *Device) validate() error {
	if d == nil || d.platform == nil {
		return errors.New("device is nil or has no platform")
	}
	if d.info.ID == 0 {
		return errors.New("device has a null native id")
	}
	return nil
}
