package driver

import (
	"time"

	"mpct-controller/internal/device"
	"mpct-controller/internal/hw"
)

const switchDebounce = 500 * time.Millisecond

// Switch watches a push button or rocker switch. The reported value is the
// inverted raw level, so a closed contact to ground reads as 1.
type Switch struct {
	*base
	line hw.Line
}

func newSwitch(dev *device.Device, env Env) *Switch {
	s := &Switch{base: newBase(dev, env, defaultReadbackInterval)}
	if dev.Data.Status == nil {
		dev.Data.Status = &device.State{}
	}
	s.tick = func() { s.Read(s.report) }

	s.logger.Info("initializing device", "gpio", dev.Physical.GPIO)
	if env.Hardware.GPIO == nil {
		s.fail("no GPIO chip configured")
		return s
	}
	line, err := env.Hardware.GPIO.Input(dev.Physical.GPIO, hw.InputOptions{
		Edge:     hw.EdgeBoth,
		Debounce: switchDebounce,
		Handler: func(evt hw.EdgeEvent) {
			env.Loop.Post(func() { s.onEdge(evt) })
		},
	})
	if err != nil {
		s.logger.Error("open input failed", "err", err)
		s.fail("Could not open GPIO%d: %v", dev.Physical.GPIO, err)
		return s
	}
	s.line = line
	dev.Error = ""
	return s
}

func (s *Switch) update(raw int, mode string) {
	s.dev.Data.Status = &device.State{
		Value:    device.Level(1 - raw),
		Raw:      &raw,
		ReadMode: mode,
		ReadAt:   s.now(),
	}
}

func (s *Switch) onEdge(evt hw.EdgeEvent) {
	raw := 0
	if evt.Rising {
		raw = 1
	}
	s.dev.Error = ""
	s.update(raw, "interrupt")
	s.logger.Info("state change", "mode", "interrupt", "raw", raw)
	s.env.Status.Publish(s.dev, false)
}

func (s *Switch) Read(done ReadFunc) {
	if s.line == nil {
		done(s.dev, true, false)
		return
	}
	raw, err := s.line.Value()
	if err != nil {
		s.logger.Error("read input failed", "err", err)
		s.fail("Error on input read: %v", err)
		done(s.dev, true, false)
		return
	}
	prev := s.dev.Data.Status
	changed := prev == nil || prev.Raw == nil || *prev.Raw != raw || s.dev.Error.Set()
	s.dev.Error = ""
	s.update(raw, "manual")
	done(s.dev, false, changed)
}

func (s *Switch) ExecCommand(cmd device.Command, done func(bool)) {
	s.readOnly(cmd, done)
}

func (s *Switch) Close() error {
	s.ClearReportingInterval()
	if s.line == nil {
		return nil
	}
	return s.line.Close()
}
