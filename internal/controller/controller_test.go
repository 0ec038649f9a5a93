package controller

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpct-controller/internal/device"
)

const (
	relay0 = "C-0.relay"
	relay1 = "C-1.relay"
	dht    = "C-2.dht22"
)

func TestNewRejectsWrongClientType(t *testing.T) {
	h := newHarness(t, nil)
	_, err := New(Options{
		Record: &device.Controller{ControllerID: "C-", ClientType: "webClient"},
		Store:  h.store, Bus: h.bus, Loop: h.loop, Logger: h.ctrl.logger,
	})
	assert.Error(t, err)
}

func TestRegistryAssignsUIDs(t *testing.T) {
	h := newHarness(t, nil)
	devs := h.ctrl.Registry().Devices()
	require.Len(t, devs, 3)
	assert.Equal(t, []string{relay0, relay1, dht},
		[]string{devs[0].Physical.UID, devs[1].Physical.UID, devs[2].Physical.UID})
	assert.Equal(t, 2, devs[2].Physical.LocalID)
}

func TestMalformedPayload(t *testing.T) {
	h := newHarness(t, nil)
	before, err := device.ToMap(h.device(relay0))
	require.NoError(t, err)

	h.command(relay0, `{"data": {"status": `)

	after, err := device.ToMap(h.device(relay0))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, h.bus.published)
	assert.Len(t, h.logLines(), 1)
}

func TestMalformedControllerPayload(t *testing.T) {
	h := newHarness(t, nil)
	rec := *h.ctrl.Record()

	h.ctrl.HandleMessage("test/command/controllers", []byte(`{"data": {"publishFullStatus"`))
	h.loop.Drain()

	assert.Equal(t, rec, *h.ctrl.Record())
	assert.Empty(t, h.bus.published)
	assert.Len(t, h.logLines(), 1)
}

func TestCommandTargetsOneDevice(t *testing.T) {
	h := newHarness(t, nil)

	h.command(relay0, `{"data": {"status": {"value": 1}}}`)

	assert.Equal(t, device.Level(1), h.device(relay0).Data.Status.Value)
	assert.Equal(t, device.Level(0), h.device(relay1).Data.Status.Value)
	assert.Equal(t, 1, h.gpio.lines[17].value)
	assert.Equal(t, 0, h.gpio.lines[18].value)

	require.Len(t, h.bus.published, 1)
	msg := h.bus.published[0]
	assert.Equal(t, "test/update/"+relay0, msg.topic)
	assert.NotContains(t, msg.payload, FullUpdateKey)
	assert.Contains(t, msg.payload, "data")
	assert.Equal(t, false, msg.payload["error"])
}

func TestMetaCommands(t *testing.T) {
	h := newHarness(t, nil)

	h.command(relay0, `{"deleteMeta": "old", "meta": {"room": "lab", "pos": {"x": 1}}}`)

	dev := h.device(relay0)
	assert.Equal(t, map[string]any{"room": "lab", "pos": map[string]any{"x": float64(1)}}, dev.Meta)
	require.Len(t, h.bus.published, 2)
	for _, msg := range h.bus.published {
		assert.Equal(t, true, msg.payload[FullUpdateKey])
	}
	// Delete publishes before the upsert.
	first := h.bus.published[0].payload["meta"].(map[string]any)
	assert.NotContains(t, first, "old")
	assert.NotContains(t, first, "room")

	h.bus.reset()
	h.command(relay0, `{"meta": {"pos": {"y": 2}}}`)
	assert.Equal(t, map[string]any{"x": float64(1), "y": float64(2)}, dev.Meta["pos"])
}

func TestConfigCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.command(dht, `{"config": {"reportingInterval": "1000", "maxDeltaTemperature": 3}}`)

	dev := h.device(dht)
	assert.Equal(t, int64(1000), dev.Config.ReportingInterval)
	assert.Equal(t, 3.0, dev.Config.MaxDeltaTemperature)
	require.Len(t, h.bus.published, 1)
	assert.Equal(t, true, h.bus.published[0].payload[FullUpdateKey])
}

func TestUnmatchedTopics(t *testing.T) {
	h := newHarness(t, nil)
	for _, topic := range []string{
		"test/command/C-",
		"test/command/C-9.relay",
		"test/command/D-0.relay",
		"other/command/C-0.relay",
	} {
		h.ctrl.HandleMessage(topic, []byte(`{"data": {"status": {"value": 1}}}`))
	}
	h.loop.Drain()
	assert.Empty(t, h.bus.published)
	assert.Equal(t, 0, h.gpio.lines[17].value)
}

func TestReadCommandRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.command(dht, `{"data": {"temperature": {"value": 99}}}`)
	assert.Nil(t, h.device(dht).Data.Temperature.Value)
}

func TestSaveDeviceStateOnUpdate(t *testing.T) {
	h := newHarness(t, func(rec *device.Controller, _ *Options) {
		rec.SaveDeviceStateOnUpdate = true
	})
	h.command(relay1, `{"data": {"status": {"value": 1}}}`)
	require.Len(t, h.store.saved, 1)
	assert.Len(t, h.store.saved[0], 3)

	h.command(relay1, `{"meta": {"a": 1}}`)
	assert.Len(t, h.store.saved, 1, "meta edits are not persisted")
}

func TestPublishFullStatusCached(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.HandleMessage("test/command/controllers", []byte(`{"data": {"publishFullStatus": {}}}`))
	h.loop.Drain()

	assert.Equal(t, []string{
		"test/update/" + relay0,
		"test/update/" + relay1,
		"test/update/" + dht,
		"test/update/controllers",
	}, h.bus.topics())
	ctrl := h.bus.published[3].payload
	assert.Equal(t, "C-", ctrl["controllerId"])
	assert.EqualValues(t, epoch.UnixMilli(), ctrl["localTimestamp"])
}

func TestPublishFullStatusForced(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.HandleMessage("test/command/controllers", []byte(`{"data": {"publishFullStatus": {"forceHardwareRead": true}}}`))

	waitFor(t, h.loop, func() bool { return len(h.bus.published) >= 4 })
	assert.Equal(t, 21.5, *h.device(dht).Data.Temperature.Value)
	sys := h.bus.published[len(h.bus.published)-1].payload["system"].(map[string]any)
	assert.Equal(t, 3600.0, sys["uptimeHost"])
	assert.EqualValues(t, 30, sys["fsInfo"].(map[string]any)["bytesTotal"])
}

func TestUnknownControllerVerb(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.HandleMessage("test/command/controllers", []byte(`{"data": {"reboot": true}}`))
	h.loop.Drain()
	assert.Empty(t, h.bus.published)
}

func TestReportPolicy(t *testing.T) {
	h := newHarness(t, nil)
	hd, _ := h.ctrl.Registry().Lookup(relay0)

	// Unchanged read publishes nothing.
	hd.Driver.Read(h.ctrl.pub.Report)
	assert.Empty(t, h.bus.published)

	h.gpio.lines[17].value = 1
	hd.Driver.Read(h.ctrl.pub.Report)
	require.Len(t, h.bus.published, 1)
	assert.NotContains(t, h.bus.published[0].payload, FullUpdateKey)

	h.bus.reset()
	h.scripts.err = errors.New("exit status 1")
	sensor, _ := h.ctrl.Registry().Lookup(dht)
	sensor.Driver.Read(h.ctrl.pub.Report)
	waitFor(t, h.loop, func() bool { return len(h.bus.published) == 1 })
	assert.Equal(t, true, h.bus.published[0].payload[FullUpdateKey])
	assert.NotEqual(t, false, h.bus.published[0].payload["error"])
}

func TestReportInactiveIntervals(t *testing.T) {
	h := newHarness(t, func(rec *device.Controller, _ *Options) {
		rec.ReportInactiveIntervals = true
	})
	hd, _ := h.ctrl.Registry().Lookup(relay0)
	hd.Driver.Read(h.ctrl.pub.Report)
	require.Len(t, h.bus.published, 1)
	assert.NotContains(t, h.bus.published[0].payload, FullUpdateKey)
}

func TestConnected(t *testing.T) {
	h := newHarness(t, func(rec *device.Controller, _ *Options) {
		rec.PublishFullStatusInterval = 20000
	})
	h.ctrl.Start()
	h.ctrl.OnConnect()
	waitFor(t, h.loop, func() bool { return len(h.bus.published) == 4 })

	assert.Len(t, h.bus.subs, 4)
	assert.Contains(t, h.bus.subs, "test/command/controllers")
	assert.Contains(t, h.bus.subs, "test/command/"+dht)
	assert.Equal(t, "10.0.0.5", h.ctrl.Record().ControllerIP)
	assert.True(t, h.ctrl.fullStatus.Active())
	assert.Equal(t, 20*time.Second, h.ctrl.fullStatus.Interval())

	// Messages from the bus are handled on the loop.
	h.bus.reset()
	h.bus.subs["test/command/"+relay1]("test/command/"+relay1, []byte(`{"data": {"status": {"value": 1}}}`))
	assert.Empty(t, h.bus.published)
	h.loop.Drain()
	assert.Equal(t, 1, h.gpio.lines[18].value)
}

func TestFullStatusDisabled(t *testing.T) {
	h := newHarness(t, func(rec *device.Controller, _ *Options) {
		rec.PublishFullStatusInterval = 1000
	})
	h.ctrl.Connected()
	assert.False(t, h.ctrl.fullStatus.Active())
}

func TestTelemetryTimer(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.Start()
	assert.True(t, h.ctrl.telemetry.Active())
	assert.Equal(t, time.Minute, h.ctrl.telemetry.Interval())

	h.clock.Advance(time.Minute)
	waitFor(t, h.loop, func() bool {
		for _, topic := range h.bus.topics() {
			if topic == "test/update/controllers" {
				return true
			}
		}
		return false
	})
	assert.InDelta(t, 60.0, h.ctrl.Record().System.UptimeProcess, 0.001)
}
