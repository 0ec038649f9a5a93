package driver

import (
	"time"

	"github.com/mitchellh/mapstructure"

	"mpct-controller/internal/device"
	"mpct-controller/internal/hw"
)

const defaultReadbackInterval = 60 * time.Second

// Relay drives a GPIO output: relays, LEDs and buzzers.
type Relay struct {
	*base
	line hw.Line
}

type relayCommand struct {
	Status *struct {
		Value *int `mapstructure:"value"`
	} `mapstructure:"status"`
	ForceWrite bool `mapstructure:"forceWrite"`
}

func newRelay(dev *device.Device, env Env) *Relay {
	r := &Relay{base: newBase(dev, env, defaultReadbackInterval)}
	if dev.Data.Status == nil {
		dev.Data.Status = &device.State{}
	}
	r.tick = func() { r.Read(r.report) }

	r.logger.Info("initializing device", "gpio", dev.Physical.GPIO)
	if env.Hardware.GPIO == nil {
		r.fail("no GPIO chip configured")
		return r
	}
	// The stored value is flushed to the hardware as the line's initial state.
	line, err := env.Hardware.GPIO.Output(dev.Physical.GPIO, level(int(dev.Data.Status.Value)))
	if err != nil {
		r.logger.Error("open output failed", "err", err)
		r.fail("Could not open GPIO%d: %v", dev.Physical.GPIO, err)
		return r
	}
	r.line = line
	dev.Data.Status.ReadAt = r.now()
	dev.Error = ""
	return r
}

func level(v int) int {
	if v != 0 {
		return 1
	}
	return 0
}

func (r *Relay) Read(done ReadFunc) {
	if r.line == nil {
		done(r.dev, true, false)
		return
	}
	v, err := r.line.Value()
	if err != nil {
		r.logger.Error("read output failed", "err", err)
		r.fail("Could not read GPIO%d: %v", r.dev.Physical.GPIO, err)
		done(r.dev, true, false)
		return
	}
	st := r.dev.Data.Status
	changed := int(st.Value) != v || r.dev.Error.Set()
	st.Value = device.Level(v)
	st.ReadAt = r.now()
	r.dev.Error = ""
	r.logger.Debug("read output", "raw", v)
	done(r.dev, false, changed)
}

func (r *Relay) ExecCommand(cmd device.Command, done func(bool)) {
	var c relayCommand
	if err := mapstructure.WeakDecode(cmd.Data, &c); err != nil {
		r.logger.Warn("bad relay command", "err", err, "data", cmd.Data)
		done(false)
		return
	}
	if c.Status == nil || c.Status.Value == nil {
		done(true)
		return
	}
	v := level(*c.Status.Value)
	if v == int(r.dev.Data.Status.Value) && !c.ForceWrite {
		done(true)
		return
	}
	done(r.write(v))
}

func (r *Relay) write(v int) bool {
	if r.line == nil {
		r.env.Status.Publish(r.dev, true)
		return false
	}
	if err := r.line.SetValue(v); err != nil {
		r.logger.Error("write output failed", "raw", v, "err", err)
		r.fail("Could not write GPIO%d: %v", r.dev.Physical.GPIO, err)
		r.env.Status.Publish(r.dev, true)
		return false
	}
	r.logger.Info("wrote output", "raw", v)
	r.dev.Data.Status.Value = device.Level(v)
	r.dev.Data.Status.ReadAt = r.now()
	r.dev.Error = ""
	r.env.Status.Publish(r.dev, false)
	return true
}

func (r *Relay) Close() error {
	r.ClearReportingInterval()
	if r.line == nil {
		return nil
	}
	return r.line.Close()
}
