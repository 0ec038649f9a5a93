package controller

import (
	"fmt"

	"mpct-controller/internal/device"
	"mpct-controller/internal/driver"
)

// Handler binds one device record to its driver.
type Handler struct {
	Device *device.Device
	Driver driver.Driver
}

// Registry holds the handlers in configuration order.
type Registry struct {
	handlers []*Handler
	byUID    map[string]*Handler
}

// NewRegistry numbers the devices, assigns their UIDs and builds a driver
// for each. An unknown type or a duplicate UID fails the whole registry.
func NewRegistry(controllerID string, devs []*device.Device, env driver.Env) (*Registry, error) {
	r := &Registry{byUID: make(map[string]*Handler, len(devs))}
	for i, dev := range devs {
		dev.Physical.LocalID = i
		dev.Physical.UID = device.UID(controllerID, i, dev.Physical.Type)
		if _, dup := r.byUID[dev.Physical.UID]; dup {
			r.Close()
			return nil, fmt.Errorf("device %d: duplicate uid %q", i, dev.Physical.UID)
		}
		drv, err := driver.New(dev, env)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("device %s: %w", dev.Physical.UID, err)
		}
		h := &Handler{Device: dev, Driver: drv}
		r.handlers = append(r.handlers, h)
		r.byUID[dev.Physical.UID] = h
		env.Logger.Info("registered device", "component", "registry", "uid", dev.Physical.UID)
	}
	return r, nil
}

func (r *Registry) Handlers() []*Handler { return r.handlers }

func (r *Registry) Len() int { return len(r.handlers) }

func (r *Registry) Lookup(uid string) (*Handler, bool) {
	h, ok := r.byUID[uid]
	return h, ok
}

// Devices returns the records in configuration order.
func (r *Registry) Devices() []*device.Device {
	out := make([]*device.Device, len(r.handlers))
	for i, h := range r.handlers {
		out[i] = h.Device
	}
	return out
}

// Busy returns the UIDs of devices with an outstanding hardware operation.
func (r *Registry) Busy() []string {
	var busy []string
	for _, h := range r.handlers {
		if h.Device.Status.Busy {
			busy = append(busy, h.Device.Physical.UID)
		}
	}
	return busy
}

// Close releases every driver's hardware.
func (r *Registry) Close() {
	for _, h := range r.handlers {
		_ = h.Driver.Close()
	}
}
