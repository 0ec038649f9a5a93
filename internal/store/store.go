package store

import (
	"errors"

	"mpct-controller/internal/device"
)

// ErrNotFound is returned when nothing has been persisted yet.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// LoadDevices returns the persisted device list as generic records, so
	// callers can merge them over configured defaults.
	LoadDevices() ([]map[string]any, error)

	// SaveDevices replaces the persisted device list.
	SaveDevices(devs []*device.Device) error
}
