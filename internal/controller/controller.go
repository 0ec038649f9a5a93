// Package controller orchestrates the attached devices: it owns the device
// registry, routes inbound commands, publishes status and coordinates
// shutdown. All methods except OnConnect must be called on the loop.
package controller

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mpct-controller/internal/device"
	"mpct-controller/internal/driver"
	"mpct-controller/internal/hw"
	"mpct-controller/internal/loop"
	"mpct-controller/internal/metrics"
	"mpct-controller/internal/store"
)

const (
	defaultTelemetryInterval = 300 * time.Second
	// Full-status publishing is disabled at or below this interval.
	minFullStatusInterval = time.Second
)

// Options wires a Controller.
type Options struct {
	Record   *device.Controller
	Devices  []*device.Device
	Store    store.Store
	Bus      Bus
	Loop     *loop.Loop
	Hardware driver.Hardware
	System   hw.SystemInfo
	// LocalIP looks up the address reported as controllerIP.
	LocalIP func() (string, error)
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// DiskPath is the filesystem reported in system.fsInfo.
	DiskPath string
	// ShutdownPoll and ShutdownMaxWait bound the busy drain.
	ShutdownPoll    time.Duration
	ShutdownMaxWait time.Duration
}

type Controller struct {
	rec      *device.Controller
	registry *Registry
	pub      *Publisher
	router   *Router
	topics   Topics

	store   store.Store
	bus     Bus
	loop    *loop.Loop
	system  hw.SystemInfo
	localIP func() (string, error)
	metrics *metrics.Metrics
	logger  *slog.Logger

	diskPath   string
	started    time.Time
	telemetry  *loop.Scheduler
	fullStatus *loop.Scheduler

	shutdownPoll    time.Duration
	shutdownMaxWait time.Duration
	stopping        bool
}

// New validates the controller record and builds the device registry.
func New(opts Options) (*Controller, error) {
	rec := opts.Record
	if rec == nil {
		return nil, errors.New("controller record is required")
	}
	if rec.ClientType != device.ClientType || rec.ControllerID == "" {
		return nil, fmt.Errorf("wrong client type %q or empty controller id", rec.ClientType)
	}
	if opts.Loop == nil || opts.Bus == nil || opts.Store == nil {
		return nil, errors.New("loop, bus and store are required")
	}
	if rec.ReportingInterval <= 0 {
		rec.ReportingInterval = defaultTelemetryInterval.Milliseconds()
	}

	c := &Controller{
		rec:             rec,
		topics:          NewTopics(rec),
		store:           opts.Store,
		bus:             opts.Bus,
		loop:            opts.Loop,
		system:          opts.System,
		localIP:         opts.LocalIP,
		metrics:         opts.Metrics,
		logger:          opts.Logger.With("component", "controller"),
		diskPath:        opts.DiskPath,
		started:         opts.Loop.Clock().Now(),
		telemetry:       loop.NewScheduler(opts.Loop),
		fullStatus:      loop.NewScheduler(opts.Loop),
		shutdownPoll:    opts.ShutdownPoll,
		shutdownMaxWait: opts.ShutdownMaxWait,
	}
	if c.diskPath == "" {
		c.diskPath = "/"
	}
	if c.shutdownPoll <= 0 {
		c.shutdownPoll = 500 * time.Millisecond
	}
	if c.shutdownMaxWait <= 0 {
		c.shutdownMaxWait = 30 * time.Second
	}
	c.pub = newPublisher(opts.Bus, c.topics, rec, opts.Loop.Clock(), opts.Metrics, opts.Logger)
	c.router = newRouter(c)

	reg, err := NewRegistry(rec.ControllerID, opts.Devices, driver.Env{
		Loop:     opts.Loop,
		Status:   c.pub,
		Hardware: opts.Hardware,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	c.registry = reg
	c.logger.Info("controller initialized", "controller_id", rec.ControllerID, "devices", reg.Len())
	return c, nil
}

func (c *Controller) Record() *device.Controller { return c.rec }

func (c *Controller) Registry() *Registry { return c.registry }

func (c *Controller) Topics() Topics { return c.topics }

// Start arms every device's reporting scheduler and the telemetry timer.
func (c *Controller) Start() {
	for _, h := range c.registry.Handlers() {
		h.Driver.SetReportingInterval(0)
	}
	eff := c.telemetry.Install(time.Duration(c.rec.ReportingInterval)*time.Millisecond, func() {
		c.readSystem(c.pub.PublishController)
	})
	c.logger.Info("controller telemetry armed", "interval", eff)
}

// OnConnect is the bus connect callback. Safe to call from any goroutine.
func (c *Controller) OnConnect() {
	c.loop.Post(c.Connected)
}

// Connected subscribes to the command topics, publishes a full status after
// reading every device and arms the periodic full-status timer.
func (c *Controller) Connected() {
	if c.stopping {
		return
	}
	if c.localIP != nil {
		if ip, err := c.localIP(); err != nil {
			c.logger.Warn("local address lookup failed", "err", err)
		} else {
			c.rec.ControllerIP = ip
		}
	}

	c.subscribe(c.topics.ControllerCommand())
	for _, h := range c.registry.Handlers() {
		c.subscribe(c.topics.DeviceCommand(h.Device.Physical.UID))
	}

	c.ReadAll(true, nil)

	interval := time.Duration(c.rec.PublishFullStatusInterval) * time.Millisecond
	if interval > minFullStatusInterval {
		eff := c.fullStatus.Install(interval, func() { c.ReadAll(true, nil) })
		c.logger.Info("full status publishing armed", "interval", eff)
	} else {
		c.fullStatus.Cancel()
		c.logger.Info("interval publishing of full status is disabled")
	}
}

func (c *Controller) subscribe(topic string) {
	err := c.bus.Subscribe(topic, func(topic string, payload []byte) {
		c.loop.Post(func() { c.router.Handle(topic, payload) })
	})
	if err != nil {
		c.logger.Error("subscribe failed", "topic", topic, "err", err)
	}
}

// HandleMessage routes one inbound message. Must run on the loop.
func (c *Controller) HandleMessage(topic string, payload []byte) {
	c.router.Handle(topic, payload)
}

// ReadAll reads every device and the controller telemetry, then optionally
// publishes the full status. done, if set, runs after that.
func (c *Controller) ReadAll(publish bool, done func()) {
	handlers := c.registry.Handlers()
	c.logger.Debug("reading all devices", "devices", len(handlers))
	join := loop.NewJoin(len(handlers)+1, func() {
		c.logger.Debug("done reading all devices")
		if publish {
			c.PublishAll()
		}
		if done != nil {
			done()
		}
	})
	for _, h := range handlers {
		h.Driver.Read(func(*device.Device, bool, bool) { join.Done() })
	}
	c.readSystem(join.Done)
}

// PublishAll publishes a full snapshot of every device and the controller.
func (c *Controller) PublishAll() {
	for _, h := range c.registry.Handlers() {
		c.pub.Publish(h.Device, true)
	}
	c.pub.PublishController()
}

// Persist writes the device list to the store.
func (c *Controller) Persist() error {
	if err := c.store.SaveDevices(c.registry.Devices()); err != nil {
		return fmt.Errorf("save devices: %w", err)
	}
	c.logger.Debug("device state saved", "devices", c.registry.Len())
	return nil
}
