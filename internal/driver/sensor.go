package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"mpct-controller/internal/device"
)

const (
	unitCelsius = "℃"
	unitPercent = "%"

	defaultSensorInterval = 10 * time.Second
)

// channel is one value of a polled sensor.
type channel struct {
	name     string
	unit     string
	reading  func(d *device.Data) **device.Reading
	maxDelta func(c device.Config) float64
}

var (
	temperatureChannel = channel{
		name:     "temperature",
		unit:     unitCelsius,
		reading:  func(d *device.Data) **device.Reading { return &d.Temperature },
		maxDelta: func(c device.Config) float64 { return c.MaxDeltaTemperature },
	}
	humidityChannel = channel{
		name:     "humidity",
		unit:     unitPercent,
		reading:  func(d *device.Data) **device.Reading { return &d.Humidity },
		maxDelta: func(c device.Config) float64 { return c.MaxDeltaHumidity },
	}
)

// polledSensor reads one or more channels through a single blocking fetch.
// A fetch result is applied to all channels or to none.
type polledSensor struct {
	*base
	channels []channel
	fetch    func(ctx context.Context) ([]float64, error)
}

func newPolledSensor(dev *device.Device, env Env, channels []channel) *polledSensor {
	s := &polledSensor{base: newBase(dev, env, defaultSensorInterval), channels: channels}
	for _, ch := range channels {
		r := ch.reading(&dev.Data)
		if *r == nil {
			*r = &device.Reading{}
		}
		(*r).Unit = ch.unit
	}
	s.tick = func() { s.Read(s.report) }
	return s
}

func (s *polledSensor) Read(done ReadFunc) {
	if s.Busy() {
		s.logger.Debug("read skipped, previous read outstanding")
		done(s.dev, false, false)
		return
	}
	if s.fetch == nil {
		done(s.dev, true, false)
		return
	}
	runAsync(s.base, s.fetch, func(vals []float64, err error) {
		s.apply(vals, err, done)
	})
}

func (s *polledSensor) apply(vals []float64, err error, done ReadFunc) {
	if err == nil && len(vals) != len(s.channels) {
		err = fmt.Errorf("got %d values, want %d", len(vals), len(s.channels))
	}
	if err != nil {
		s.logger.Error("sensor read failed", "err", err)
		s.fail("Sensor reading failed: %v", err)
		done(s.dev, true, false)
		return
	}

	for i, ch := range s.channels {
		r := *ch.reading(&s.dev.Data)
		maxDelta := ch.maxDelta(s.dev.Config)
		if !Plausible(r.Value, vals[i], maxDelta) {
			delta := vals[i] - *r.Value
			if delta < 0 {
				delta = -delta
			}
			s.logger.Warn("implausible reading", "channel", ch.name, "value", vals[i], "previous", *r.Value, "max_delta", maxDelta)
			s.fail("Implausible %s reading: (actual delta/allowed maximum -> %s/%s)",
				ch.name, strconv.FormatFloat(delta, 'f', -1, 64), strconv.FormatFloat(maxDelta, 'f', -1, 64))
			done(s.dev, true, false)
			return
		}
	}

	changed := s.dev.Error.Set()
	now := s.now()
	for i, ch := range s.channels {
		r := *ch.reading(&s.dev.Data)
		if r.Value == nil || *r.Value != vals[i] {
			changed = true
		}
		v := vals[i]
		r.PreviousValue = r.Value
		r.Value = &v
		r.ReadAt = now
	}
	s.dev.Error = ""
	done(s.dev, false, changed)
}

func (s *polledSensor) ExecCommand(cmd device.Command, done func(bool)) {
	s.readOnly(cmd, done)
}

func (s *polledSensor) Close() error {
	s.ClearReportingInterval()
	return nil
}

// climateReading is the JSON line printed by sensor scripts and serial
// sensors.
type climateReading struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Error       any      `json:"error"`
}

func parseClimate(b []byte) ([]float64, error) {
	var m climateReading
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("invalid JSON from device: %q", b)
	}
	switch e := m.Error.(type) {
	case nil, bool:
		if e == true {
			return nil, errors.New("sensor reported an error")
		}
	default:
		return nil, fmt.Errorf("sensor reported an error: %v", e)
	}
	if m.Temperature == nil || m.Humidity == nil {
		return nil, fmt.Errorf("incomplete reading: %q", b)
	}
	return []float64{*m.Temperature, *m.Humidity}, nil
}

func newDHT22(dev *device.Device, env Env) *polledSensor {
	s := newPolledSensor(dev, env, []channel{temperatureChannel, humidityChannel})
	script := dev.Physical.Script
	if script == "" {
		script = env.Hardware.DHT22Script
	}
	runner := env.Hardware.Scripts
	switch {
	case runner == nil:
		s.fail("no script runner configured")
	case script == "":
		s.fail("no DHT22 script configured")
	default:
		gpio := strconv.Itoa(dev.Physical.GPIO)
		s.fetch = func(ctx context.Context) ([]float64, error) {
			out, err := runner.Run(ctx, script, gpio)
			if err != nil {
				return nil, fmt.Errorf("could not execute sensor reading: %w", err)
			}
			return parseClimate(out)
		}
	}
	s.logger.Info("initializing device", "gpio", dev.Physical.GPIO)
	return s
}

func newDS18B20(dev *device.Device, env Env) *polledSensor {
	s := newPolledSensor(dev, env, []channel{temperatureChannel})
	if w := env.Hardware.OneWire; w == nil {
		s.fail("no one-wire bus configured")
	} else {
		addr := dev.Physical.Address
		s.fetch = func(ctx context.Context) ([]float64, error) {
			t, err := w.Temperature(ctx, addr)
			if err != nil {
				return nil, err
			}
			return []float64{t}, nil
		}
	}
	s.logger.Info("initializing device", "address", dev.Physical.Address)
	return s
}

func newSerialSensor(dev *device.Device, env Env) *polledSensor {
	s := newPolledSensor(dev, env, []channel{temperatureChannel, humidityChannel})
	if q := env.Hardware.Serial; q == nil {
		s.fail("no serial ports configured")
	} else {
		port, baud, query := dev.Physical.SerialPort, dev.Physical.Baud, dev.Config.Query
		s.fetch = func(ctx context.Context) ([]float64, error) {
			line, err := q.Query(ctx, port, baud, query)
			if err != nil {
				return nil, err
			}
			return parseClimate(line)
		}
	}
	s.logger.Info("initializing device", "port", dev.Physical.SerialPort, "baud", dev.Physical.Baud)
	return s
}
