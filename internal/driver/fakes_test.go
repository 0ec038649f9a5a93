package driver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"mpct-controller/internal/device"
	"mpct-controller/internal/hw"
	"mpct-controller/internal/loop"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type published struct {
	uid  string
	full bool
}

type reported struct {
	uid             string
	failed, changed bool
}

type fakeSink struct {
	published []published
	reported  []reported
}

func (s *fakeSink) Report(dev *device.Device, failed, changed bool) {
	s.reported = append(s.reported, reported{dev.Physical.UID, failed, changed})
}

func (s *fakeSink) Publish(dev *device.Device, full bool) {
	s.published = append(s.published, published{dev.Physical.UID, full})
}

type fakeLine struct {
	mu       sync.Mutex
	value    int
	writes   []int
	writeErr error
	closed   bool
}

func (l *fakeLine) Value() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, nil
}

func (l *fakeLine) SetValue(v int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writeErr != nil {
		return l.writeErr
	}
	l.value = v
	l.writes = append(l.writes, v)
	return nil
}

func (l *fakeLine) Close() error {
	l.closed = true
	return nil
}

type fakeGPIO struct {
	lines    map[int]*fakeLine
	handlers map[int]func(hw.EdgeEvent)
	opts     map[int]hw.InputOptions
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{
		lines:    make(map[int]*fakeLine),
		handlers: make(map[int]func(hw.EdgeEvent)),
		opts:     make(map[int]hw.InputOptions),
	}
}

func (g *fakeGPIO) Output(pin, initial int) (hw.Line, error) {
	l := &fakeLine{value: initial}
	g.lines[pin] = l
	return l, nil
}

func (g *fakeGPIO) Input(pin int, opts hw.InputOptions) (hw.Line, error) {
	l := &fakeLine{}
	g.lines[pin] = l
	g.handlers[pin] = opts.Handler
	g.opts[pin] = opts
	return l, nil
}

// fakeOneWire returns queued temperatures, one per read.
type fakeOneWire struct {
	mu     sync.Mutex
	values []float64
	err    error
	panics bool
}

func (w *fakeOneWire) Temperature(ctx context.Context, address string) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.panics {
		panic("bus fault")
	}
	if w.err != nil {
		return 0, w.err
	}
	if len(w.values) == 0 {
		return 0, errors.New("no value queued")
	}
	v := w.values[0]
	w.values = w.values[1:]
	return v, nil
}

type fakeScripts struct {
	mu    sync.Mutex
	out   []byte
	err   error
	gate  chan struct{}
	calls int
	args  []string
}

func (s *fakeScripts) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.args = append([]string{name}, args...)
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out, s.err
}

func (s *fakeScripts) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakePJLink answers Get from a fixed table and records every call.
type fakePJLink struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	gate    chan struct{}
	gets    []string
	sets    []string
	closed  int
}

func newFakePJLink() *fakePJLink {
	return &fakePJLink{
		answers: map[string]string{
			"AVMT": "30",
			"ERST": "000000",
			"LAMP": "1200 1",
			"INST": "11 31 32",
			"INPT": "31",
			"NAME": "Left",
			"INF1": "Panasonic",
			"INF2": "PT-EZ570",
			"POWR": "1",
		},
		errs: make(map[string]error),
	}
}

func (p *fakePJLink) Get(ctx context.Context, cmd string) (string, error) {
	p.mu.Lock()
	p.gets = append(p.gets, cmd)
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[cmd]; err != nil {
		return "", err
	}
	return p.answers[cmd], nil
}

func (p *fakePJLink) Set(ctx context.Context, cmd, param string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets = append(p.sets, cmd+" "+param)
	return nil
}

func (p *fakePJLink) Close() error {
	p.mu.Lock()
	p.closed++
	p.mu.Unlock()
	return nil
}

func (p *fakePJLink) getCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.gets)
}

func (p *fakePJLink) setCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sets...)
}

type testEnv struct {
	Env
	loop  *loop.Loop
	clock *loop.ManualClock
	sink  *fakeSink
}

func newTestEnv(hardware Hardware) *testEnv {
	clock := loop.NewManualClock(epoch)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := loop.New(clock, logger)
	sink := &fakeSink{}
	return &testEnv{
		Env:   Env{Loop: l, Status: sink, Hardware: hardware, Logger: logger},
		loop:  l,
		clock: clock,
		sink:  sink,
	}
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

func newDev(typ string, localID int) *device.Device {
	return &device.Device{
		Physical: device.Physical{Type: typ, LocalID: localID, UID: device.UID("C-", localID, typ)},
		Meta:     map[string]any{},
	}
}

func ptr[T any](v T) *T { return &v }
