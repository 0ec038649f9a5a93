package driver

import (
	"mpct-controller/internal/device"
	"mpct-controller/internal/hw"
)

// FlowSensor counts rising edges and reports the count once per interval.
type FlowSensor struct {
	*base
	line hw.Line
}

func newFlowSensor(dev *device.Device, env Env) *FlowSensor {
	f := &FlowSensor{base: newBase(dev, env, defaultSensorInterval)}
	if dev.Config.ReportingInterval <= 0 {
		dev.Config.ReportingInterval = defaultSensorInterval.Milliseconds()
	}
	now := f.now()
	dev.Data.Flow = &device.Flow{
		Interval:  dev.Config.ReportingInterval,
		LastReset: now,
		ReadAt:    now,
	}
	f.tick = f.cycle

	f.logger.Info("initializing device", "gpio", dev.Physical.GPIO)
	if env.Hardware.GPIO == nil {
		f.fail("no GPIO chip configured")
		return f
	}
	line, err := env.Hardware.GPIO.Input(dev.Physical.GPIO, hw.InputOptions{
		Edge: hw.EdgeRising,
		Handler: func(hw.EdgeEvent) {
			env.Loop.Post(f.pulse)
		},
	})
	if err != nil {
		f.logger.Error("open input failed", "err", err)
		f.fail("Could not open GPIO%d: %v", dev.Physical.GPIO, err)
		return f
	}
	f.line = line
	dev.Error = ""
	return f
}

func (f *FlowSensor) pulse() {
	f.dev.Error = ""
	f.dev.Data.Flow.Count++
	f.logger.Debug("pulse", "count", f.dev.Data.Flow.Count)
}

// cycle closes the current counting window.
func (f *FlowSensor) cycle() {
	fl := f.dev.Data.Flow
	now := f.now()
	fl.Interval = f.dev.Config.ReportingInterval
	fl.ActualCycleLength = now - fl.LastReset
	fl.LastReset = now
	fl.ReadAt = now
	f.report(f.dev, f.line == nil, fl.Count > 0)
	fl.Count = 0
}

// Read reports the running count without closing the window.
func (f *FlowSensor) Read(done ReadFunc) {
	done(f.dev, f.line == nil, false)
}

func (f *FlowSensor) ExecCommand(cmd device.Command, done func(bool)) {
	f.readOnly(cmd, done)
}

func (f *FlowSensor) Close() error {
	f.ClearReportingInterval()
	if f.line == nil {
		return nil
	}
	return f.line.Close()
}
