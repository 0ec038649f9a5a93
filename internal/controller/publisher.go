package controller

import (
	"encoding/json"
	"log/slog"

	"mpct-controller/internal/device"
	"mpct-controller/internal/loop"
	"mpct-controller/internal/metrics"
)

// FullUpdateKey tells receivers to replace their cached record wholesale.
const FullUpdateKey = "_isFullUpdate"

// Bus is the publish/subscribe transport.
type Bus interface {
	Publish(topic string, payload []byte)
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// Publisher decides between incremental and full status messages.
type Publisher struct {
	bus     Bus
	topics  Topics
	rec     *device.Controller
	clock   loop.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func newPublisher(bus Bus, topics Topics, rec *device.Controller, clock loop.Clock, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:     bus,
		topics:  topics,
		rec:     rec,
		clock:   clock,
		metrics: m,
		logger:  logger.With("component", "publisher"),
	}
}

// Report publishes a full snapshot after a failed read and an incremental
// update after a change, or on every read when inactive intervals are
// reported too.
func (p *Publisher) Report(dev *device.Device, failed, changed bool) {
	p.metrics.Read(dev.Physical.Type, failed)
	switch {
	case failed:
		p.Publish(dev, true)
	case changed || dev.Config.ReportInactiveIntervals || p.rec.ReportInactiveIntervals:
		p.Publish(dev, false)
	}
}

func (p *Publisher) Publish(dev *device.Device, full bool) {
	var payload []byte
	var err error
	if full {
		payload, err = FullSnapshot(dev)
	} else {
		payload, err = Incremental(dev)
	}
	if err != nil {
		p.logger.Error("encode status", "uid", dev.Physical.UID, "err", err)
		return
	}
	p.metrics.Publish(full)
	p.bus.Publish(p.topics.DeviceUpdate(dev.Physical.UID), payload)
}

// PublishController stamps and publishes the controller record.
func (p *Publisher) PublishController() {
	p.rec.LocalTimestamp = device.Millis(p.clock.Now())
	payload, err := json.Marshal(p.rec)
	if err != nil {
		p.logger.Error("encode controller status", "err", err)
		return
	}
	p.metrics.Publish(true)
	p.bus.Publish(p.topics.ControllerUpdate(), payload)
}

// FullSnapshot encodes the whole record with the full-update marker.
func FullSnapshot(dev *device.Device) ([]byte, error) {
	m, err := device.ToMap(dev)
	if err != nil {
		return nil, err
	}
	m[FullUpdateKey] = true
	return json.Marshal(m)
}

// Incremental encodes only data and error.
func Incremental(dev *device.Device) ([]byte, error) {
	return json.Marshal(struct {
		Data  device.Data  `json:"data"`
		Error device.Fault `json:"error"`
	}{dev.Data, dev.Error})
}
