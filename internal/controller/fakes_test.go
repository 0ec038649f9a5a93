package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mpct-controller/internal/device"
	"mpct-controller/internal/driver"
	"mpct-controller/internal/hw"
	"mpct-controller/internal/loop"
	"mpct-controller/internal/store"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type message struct {
	topic   string
	payload map[string]any
}

type fakeBus struct {
	published []message
	subs      map[string]func(string, []byte)
	subErr    error
}

func newFakeBus() *fakeBus {
	return &fakeBus{subs: make(map[string]func(string, []byte))}
}

func (b *fakeBus) Publish(topic string, payload []byte) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		panic(err)
	}
	b.published = append(b.published, message{topic, m})
}

func (b *fakeBus) Subscribe(topic string, handler func(string, []byte)) error {
	if b.subErr != nil {
		return b.subErr
	}
	b.subs[topic] = handler
	return nil
}

func (b *fakeBus) topics() []string {
	out := make([]string, len(b.published))
	for i, m := range b.published {
		out[i] = m.topic
	}
	return out
}

func (b *fakeBus) reset() { b.published = nil }

type fakeStore struct {
	records []map[string]any
	loadErr error
	saveErr error
	saved   [][]*device.Device
}

func (s *fakeStore) LoadDevices() ([]map[string]any, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.records == nil {
		return nil, store.ErrNotFound
	}
	return s.records, nil
}

func (s *fakeStore) SaveDevices(devs []*device.Device) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, devs)
	return nil
}

type fakeLine struct {
	mu    sync.Mutex
	value int
}

func (l *fakeLine) Value() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, nil
}

func (l *fakeLine) SetValue(v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.value = v
	return nil
}

func (l *fakeLine) Close() error { return nil }

type fakeGPIO struct {
	lines map[int]*fakeLine
}

func (g *fakeGPIO) Output(pin, initial int) (hw.Line, error) {
	l := &fakeLine{value: initial}
	g.lines[pin] = l
	return l, nil
}

func (g *fakeGPIO) Input(pin int, opts hw.InputOptions) (hw.Line, error) {
	l := &fakeLine{}
	g.lines[pin] = l
	return l, nil
}

// fakeScripts blocks every run until gate is closed, when a gate is set.
type fakeScripts struct {
	mu   sync.Mutex
	out  []byte
	err  error
	gate chan struct{}
}

func (s *fakeScripts) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out, s.err
}

type fakeSystem struct{}

func (fakeSystem) HostUptime() (time.Duration, error) { return time.Hour, nil }

func (fakeSystem) Disk(string) (hw.DiskUsage, error) {
	return hw.DiskUsage{Available: 10, Free: 20, Total: 30}, nil
}

type harness struct {
	ctrl    *Controller
	loop    *loop.Loop
	clock   *loop.ManualClock
	bus     *fakeBus
	store   *fakeStore
	gpio    *fakeGPIO
	scripts *fakeScripts
	logs    *bytes.Buffer
}

// newHarness builds a controller with two relays (GPIO 17 and 18) and a
// DHT22 sensor.
func newHarness(t *testing.T, edit func(*device.Controller, *Options)) *harness {
	t.Helper()
	h := &harness{
		clock:   loop.NewManualClock(epoch),
		bus:     newFakeBus(),
		store:   &fakeStore{},
		gpio:    &fakeGPIO{lines: make(map[int]*fakeLine)},
		scripts: &fakeScripts{out: []byte(`{"temperature": 21.5, "humidity": 40}`)},
		logs:    &bytes.Buffer{},
	}
	logger := slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h.loop = loop.New(h.clock, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec := &device.Controller{
		ControllerID:              "C-",
		ClientType:                device.ClientType,
		MQTTNamespace:             "test",
		ReportingInterval:         60000,
		PublishFullStatusInterval: 0,
	}
	devs := []*device.Device{
		{Physical: device.Physical{Type: "relay", GPIO: 17}, Meta: map[string]any{"old": "x"}},
		{Physical: device.Physical{Type: "relay", GPIO: 18}, Meta: map[string]any{}},
		{Physical: device.Physical{Type: "dht22", GPIO: 4, Script: "dht22.py"}, Meta: map[string]any{}},
	}
	opts := Options{
		Record:  rec,
		Devices: devs,
		Store:   h.store,
		Bus:     h.bus,
		Loop:    h.loop,
		Hardware: driver.Hardware{
			GPIO:    h.gpio,
			Scripts: h.scripts,
		},
		System:  fakeSystem{},
		LocalIP: func() (string, error) { return "10.0.0.5", nil },
		Logger:  logger,
	}
	if edit != nil {
		edit(rec, &opts)
	}
	ctrl, err := New(opts)
	require.NoError(t, err)
	h.ctrl = ctrl
	h.loop.Drain()
	h.logs.Reset()
	return h
}

func (h *harness) command(uid, payload string) {
	h.ctrl.HandleMessage(h.ctrl.Topics().DeviceCommand(uid), []byte(payload))
	h.loop.Drain()
}

func (h *harness) logLines() []string {
	s := strings.TrimSpace(h.logs.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func (h *harness) device(uid string) *device.Device {
	hd, ok := h.ctrl.Registry().Lookup(uid)
	if !ok {
		panic("no device " + uid)
	}
	return hd.Device
}

// waitFor drains the loop until cond holds. Hardware goroutines post back
// asynchronously, so a single Drain is not enough.
func waitFor(t *testing.T, l *loop.Loop, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		l.Drain()
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
