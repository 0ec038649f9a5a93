package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mpct-controller/internal/device"
	"mpct-controller/internal/loop"
)

// base carries what every driver shares: the record, the scheduler and the
// busy accounting.
type base struct {
	dev    *device.Device
	env    Env
	logger *slog.Logger
	sched  *loop.Scheduler

	defaultInterval time.Duration
	inflight        int

	// tick runs on every scheduler firing.
	tick func()
}

func newBase(dev *device.Device, env Env, defaultInterval time.Duration) *base {
	if dev.Meta == nil {
		dev.Meta = make(map[string]any)
	}
	// A persisted busy flag is stale.
	dev.Status.Busy = false
	return &base{
		dev:             dev,
		env:             env,
		logger:          env.Logger.With("component", "driver", "uid", dev.Physical.UID, "type", dev.Physical.Type),
		sched:           loop.NewScheduler(env.Loop),
		defaultInterval: defaultInterval,
	}
}

func (b *base) Device() *device.Device { return b.dev }

func (b *base) Busy() bool { return b.inflight > 0 }

// report forwards a read outcome to the status sink.
func (b *base) report(dev *device.Device, failed, changed bool) {
	b.env.Status.Report(dev, failed, changed)
}

func (b *base) now() int64 {
	return device.Millis(b.env.Loop.Clock().Now())
}

func (b *base) fail(format string, args ...any) {
	b.dev.Error = device.Fault(fmt.Sprintf(format, args...))
}

func (b *base) SetReportingInterval(d time.Duration) {
	if d > 0 {
		b.dev.Config.ReportingInterval = d.Milliseconds()
	}
	if b.dev.Config.ReportingInterval <= 0 {
		b.dev.Config.ReportingInterval = b.defaultInterval.Milliseconds()
	}
	if b.tick == nil {
		return
	}
	eff := b.sched.Install(b.dev.Config.Interval(), b.tick)
	b.logger.Info("reporting interval set", "interval", eff)
}

func (b *base) ClearReportingInterval() {
	if b.sched.Active() {
		b.logger.Info("reporting cleared")
	}
	b.sched.Cancel()
}

func (b *base) readOnly(cmd device.Command, done func(bool)) {
	b.logger.Warn("command rejected", "err", ErrReadOnly, "data", cmd.Data)
	done(false)
}

// begin marks one hardware operation as outstanding. The returned release
// is safe to call more than once; only the first call counts.
func (b *base) begin() (release func()) {
	b.inflight++
	b.dev.Status.Busy = true
	released := false
	return func() {
		if released {
			return
		}
		released = true
		b.inflight--
		b.dev.Status.Busy = b.inflight > 0
	}
}

// runAsync runs op off the loop under the hardware timeout, then releases
// the busy flag and calls done on the loop. A panic in op becomes an error.
func runAsync[T any](b *base, op func(ctx context.Context) (T, error), done func(T, error)) {
	release := b.begin()
	timeout := b.env.Hardware.timeout()
	go func() {
		var v T
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("hardware panic: %v", r)
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			v, err = op(ctx)
		}()
		b.env.Loop.Post(func() {
			release()
			done(v, err)
		})
	}()
}
