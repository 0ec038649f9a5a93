package controller

import (
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/mitchellh/mapstructure"

	"mpct-controller/internal/device"
	"mpct-controller/internal/merge"
)

// Router dispatches inbound command messages. Handle runs on the loop.
type Router struct {
	c      *Controller
	logger *slog.Logger
}

type publishFullStatusArgs struct {
	ForceHardwareRead bool `mapstructure:"forceHardwareRead"`
}

// configEdit is the subset of device config a command may change.
type configEdit struct {
	ReportingInterval       *int64   `mapstructure:"reportingInterval"`
	ReportInactiveIntervals *bool    `mapstructure:"reportInactiveIntervals"`
	MaxDeltaTemperature     *float64 `mapstructure:"maxDeltaTemperature"`
	MaxDeltaHumidity        *float64 `mapstructure:"maxDeltaHumidity"`
}

func newRouter(c *Controller) *Router {
	return &Router{c: c, logger: c.logger.With("component", "router")}
}

func (r *Router) Handle(topic string, payload []byte) {
	cmd, err := device.DecodeCommand(payload)
	if err != nil {
		r.logger.Error("invalid command payload", "topic", topic, "payload", string(payload), "err", err)
		r.c.metrics.Command("unknown", "malformed")
		return
	}

	topics := r.c.topics
	switch {
	case topic == topics.ControllerCommand():
		r.controllerCommand(cmd)
	case topics.IsDeviceCommand(topic):
		r.deviceCommand(topic, cmd)
	default:
		r.logger.Warn("command on unmatched topic", "topic", topic)
		r.c.metrics.Command("unknown", "unmatched")
	}
}

func (r *Router) controllerCommand(cmd device.Command) {
	if len(cmd.Data) == 0 {
		r.logger.Warn("controller command was empty")
		r.c.metrics.Command("controller", "empty")
		return
	}
	for _, verb := range slices.Sorted(maps.Keys(cmd.Data)) {
		switch verb {
		case "publishFullStatus":
			var args publishFullStatusArgs
			if err := mapstructure.Decode(cmd.Data[verb], &args); err != nil {
				r.logger.Warn("bad publishFullStatus arguments, publishing cached state", "err", err)
			}
			r.logger.Info("publishing full status", "force_hardware_read", args.ForceHardwareRead)
			if args.ForceHardwareRead {
				r.c.ReadAll(true, nil)
			} else {
				r.c.PublishAll()
			}
			r.c.metrics.Command("controller", "ok")
		default:
			r.logger.Warn("unknown controller command", "verb", verb)
			r.c.metrics.Command("controller", "unknown")
		}
	}
}

func (r *Router) deviceCommand(topic string, cmd device.Command) {
	var h *Handler
	for _, cand := range r.c.registry.Handlers() {
		if topic == r.c.topics.DeviceCommand(cand.Device.Physical.UID) {
			h = cand
			break
		}
	}
	if h == nil {
		r.logger.Warn("command for unknown device", "topic", topic)
		r.c.metrics.Command("device", "unmatched")
		return
	}
	dev := h.Device
	logger := r.logger.With("uid", dev.Physical.UID)

	if cmd.DeleteMeta != "" {
		logger.Info("deleting metadata", "key", cmd.DeleteMeta)
		delete(dev.Meta, cmd.DeleteMeta)
		r.c.pub.Publish(dev, true)
	}
	if len(cmd.Meta) > 0 {
		logger.Info("updating metadata", "keys", slices.Sorted(maps.Keys(cmd.Meta)))
		dev.Meta, _ = merge.Merge(dev.Meta, cmd.Meta)
		r.c.pub.Publish(dev, true)
	}
	if len(cmd.Config) > 0 {
		r.applyConfig(h, cmd.Config, logger)
	}
	if cmd.Data != nil {
		h.Driver.ExecCommand(cmd, func(ok bool) {
			if !ok {
				logger.Warn("command not applied", "data", cmd.Data)
				r.c.metrics.Command("device", "failed")
				return
			}
			r.c.metrics.Command("device", "ok")
		})
		if r.c.rec.SaveDeviceStateOnUpdate {
			if err := r.c.Persist(); err != nil {
				logger.Error("persist device state", "err", err)
			}
		}
	}
}

func (r *Router) applyConfig(h *Handler, raw map[string]any, logger *slog.Logger) {
	var edit configEdit
	if err := mapstructure.WeakDecode(raw, &edit); err != nil {
		logger.Warn("bad config edit", "err", err)
		return
	}
	cfg := &h.Device.Config
	if edit.ReportInactiveIntervals != nil {
		cfg.ReportInactiveIntervals = *edit.ReportInactiveIntervals
	}
	if edit.MaxDeltaTemperature != nil {
		cfg.MaxDeltaTemperature = *edit.MaxDeltaTemperature
	}
	if edit.MaxDeltaHumidity != nil {
		cfg.MaxDeltaHumidity = *edit.MaxDeltaHumidity
	}
	if edit.ReportingInterval != nil && *edit.ReportingInterval > 0 && !r.c.stopping {
		h.Driver.SetReportingInterval(time.Duration(*edit.ReportingInterval) * time.Millisecond)
	}
	logger.Info("config updated", "config", raw)
	r.c.pub.Publish(h.Device, true)
}
