package controller

import (
	"errors"
	"fmt"
	"log/slog"

	"mpct-controller/internal/device"
	"mpct-controller/internal/merge"
	"mpct-controller/internal/store"
)

// LoadDevices builds the startup device list. Persisted records win over the
// base configuration, matched by index when their types agree. Base devices
// past the end of the persisted list are appended. When nothing usable was
// persisted the base list is used as is.
func LoadDevices(st store.Store, base []map[string]any, logger *slog.Logger) ([]*device.Device, error) {
	logger = logger.With("component", "state")

	var persisted []map[string]any
	if st != nil {
		var err error
		persisted, err = st.LoadDevices()
		switch {
		case errors.Is(err, store.ErrNotFound):
			logger.Info("no persisted device state, using base configuration")
		case err != nil:
			logger.Warn("persisted device state unreadable, using base configuration", "err", err)
			persisted = nil
		}
	}

	records := make([]map[string]any, 0, max(len(persisted), len(base)))
	for i, rec := range persisted {
		if i < len(base) && physicalType(base[i]) == physicalType(rec) {
			dst, _ := merge.Clone(base[i]).(map[string]any)
			rec, _ = merge.Merge(dst, rec)
		}
		records = append(records, rec)
	}
	for i := len(persisted); i < len(base); i++ {
		rec, _ := merge.Clone(base[i]).(map[string]any)
		records = append(records, rec)
	}

	devs := make([]*device.Device, 0, len(records))
	for i, rec := range records {
		dev, err := device.FromMap(rec)
		if err != nil {
			return nil, fmt.Errorf("device %d: %w", i, err)
		}
		devs = append(devs, dev)
	}
	logger.Info("device state loaded", "persisted", len(persisted), "base", len(base), "devices", len(devs))
	return devs, nil
}

func physicalType(rec map[string]any) string {
	phys, _ := rec["physical"].(map[string]any)
	typ, _ := phys["type"].(string)
	return typ
}
