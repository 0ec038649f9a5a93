package driver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"

	"mpct-controller/internal/device"
	"mpct-controller/internal/hw"
	"mpct-controller/internal/loop"
)

const (
	// readCallbackDelay is when a projector read reports, finished or not.
	readCallbackDelay      = 1500 * time.Millisecond
	defaultResponseTimeout = 60 * time.Second
)

// Write methods.
const (
	MethodPJLink = 0
	MethodBoth   = 1
	MethodHTTP   = 2
)

// Power states as reported by POWR.
const (
	PowerOff     = 0
	PowerOn      = 1
	PowerCooling = 2
	PowerWarmup  = 3
)

var allPJLinkParams = []string{"mute", "errors", "lamps", "inputs", "input", "name", "manufacturer", "model", "powerState"}

var pjlinkCommands = map[string]string{
	"mute":         "AVMT",
	"errors":       "ERST",
	"lamps":        "LAMP",
	"inputs":       "INST",
	"input":        "INPT",
	"name":         "NAME",
	"manufacturer": "INF1",
	"model":        "INF2",
	"powerState":   "POWR",
}

// Projector polls a PJLink projector and switches it through PJLink, HTTP
// or both.
type Projector struct {
	*base
	client hw.PJLink

	openRequest bool
	lastChanged bool
	// pending holds the armed read callbacks.
	pending map[*loop.Timer]struct{}
}

type projectorCommand struct {
	PowerState *int `mapstructure:"powerState"`
	Mute       *struct {
		Video *bool `mapstructure:"video"`
	} `mapstructure:"mute"`
	ForceWrite bool `mapstructure:"forceWrite"`
}

// paramResult is the raw answer to one polled parameter.
type paramResult struct {
	param string
	value string
	err   error
}

func newProjector(dev *device.Device, env Env) *Projector {
	p := &Projector{
		base:    newBase(dev, env, defaultSensorInterval),
		pending: make(map[*loop.Timer]struct{}),
	}
	if len(dev.Config.PJLinkParams) == 0 {
		p.logger.Warn("pjlinkParams missing, defaulting to all")
		dev.Config.PJLinkParams = append([]string(nil), allPJLinkParams...)
	}
	if dev.Physical.Port == 0 {
		dev.Physical.Port = hw.DefaultPJLinkPort
	}
	if dev.Data.PJLink == nil {
		dev.Data.PJLink = &device.PJLink{}
	}
	// Error until the first successful poll.
	p.fail("waiting for first response")
	p.tick = func() { p.Read(p.report) }
	p.logger.Info("initializing projector", "ip", dev.Physical.IP, "port", dev.Physical.Port)
	p.connect()
	return p
}

func (p *Projector) addr() string {
	return net.JoinHostPort(p.dev.Physical.IP, strconv.Itoa(p.dev.Physical.Port))
}

func (p *Projector) connect() {
	if p.client != nil {
		_ = p.client.Close()
		p.client = nil
	}
	now := p.now()
	p.dev.Physical.ConnectedSince = now
	p.dev.Physical.LastResponse = now
	if p.env.Hardware.PJLink == nil {
		return
	}
	p.logger.Info("connecting to projector", "addr", p.addr())
	p.client = p.env.Hardware.PJLink(p.addr(), p.dev.Config.Password)
}

func (p *Projector) responseTimeout() time.Duration {
	if p.dev.Config.ResponseTimeout > 0 {
		return time.Duration(p.dev.Config.ResponseTimeout) * time.Millisecond
	}
	return defaultResponseTimeout
}

// Read starts a poll and reports after a fixed delay whether or not the
// poll has finished. While a poll is open, further reads start nothing.
func (p *Projector) Read(done ReadFunc) {
	if p.client == nil {
		p.fail("no PJLink client configured")
		done(p.dev, true, false)
		return
	}
	sinceResponse := time.Duration(p.now()-p.dev.Physical.LastResponse) * time.Millisecond
	if sinceResponse >= p.responseTimeout() {
		p.logger.Warn("projector unresponsive", "since", sinceResponse)
		p.dev.Data.PJLink = &device.PJLink{}
		p.fail("Projector unresponsive for %s", sinceResponse.Round(time.Second))
		done(p.dev, true, false)
		p.connect()
		return
	}

	var t *loop.Timer
	t = p.env.Loop.After(readCallbackDelay, func() {
		delete(p.pending, t)
		changed := p.lastChanged
		p.lastChanged = false
		done(p.dev, p.dev.Error.Set(), changed)
	})
	p.pending[t] = struct{}{}

	if p.openRequest {
		p.logger.Debug("poll still open, waiting")
		return
	}
	p.poll()
}

func (p *Projector) poll() {
	params := make([]string, 0, len(p.dev.Config.PJLinkParams))
	for _, name := range p.dev.Config.PJLinkParams {
		if _, ok := pjlinkCommands[name]; ok {
			params = append(params, name)
		}
	}
	if len(params) == 0 {
		p.logger.Error("no known pjlinkParams configured", "params", p.dev.Config.PJLinkParams)
		p.fail("No known pjlinkParams configured")
		return
	}
	p.openRequest = true
	p.logger.Debug("reading projector", "params", len(params))

	changed, failed, answered := false, false, 0
	join := loop.NewJoin(len(params), func() {
		p.openRequest = false
		if answered > 0 {
			p.dev.Physical.LastResponse = p.now()
		}
		switch {
		case failed:
			p.lastChanged = changed
			p.logger.Error("error while reading projector", "params", len(params))
			p.fail("Error while reading from projector")
			return
		case answered == 0:
			// LastResponse stays put, so the unresponsive check takes over.
			p.logger.Warn("no pjlink parameter answered", "params", len(params))
			p.fail("No response from projector")
			return
		}
		p.lastChanged = changed || p.dev.Error.Set()
		p.dev.Error = ""
		p.logger.Debug("projector read done", "params", len(params),
			"connected", time.Duration(p.now()-p.dev.Physical.ConnectedSince)*time.Millisecond)
	})

	client := p.client
	release := p.begin()
	timeout := p.env.Hardware.timeout()
	results := make(chan paramResult, len(params))
	go func() {
		defer close(results)
		for _, name := range params {
			results <- queryParam(client, name, timeout)
		}
	}()
	go func() {
		n := 0
		for res := range results {
			n++
			last := n == len(params)
			p.env.Loop.Post(func() {
				switch {
				case res.err == nil:
					answered++
					c, err := p.applyParam(res.param, res.value)
					if err != nil {
						p.logger.Warn("bad pjlink answer", "param", res.param, "value", res.value, "err", err)
						failed = true
					}
					changed = changed || c
				case hw.IsTimeout(res.err):
					p.logger.Debug("pjlink parameter timed out", "param", res.param)
				default:
					p.logger.Warn("pjlink parameter failed", "param", res.param, "err", res.err)
					failed = true
				}
				if last {
					release()
				}
				join.Done()
			})
		}
	}()
}

func queryParam(client hw.PJLink, name string, timeout time.Duration) (res paramResult) {
	res.param = name
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("pjlink panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	res.value, res.err = client.Get(ctx, pjlinkCommands[name])
	return res
}

// applyParam stores one parsed answer and reports whether it changed.
func (p *Projector) applyParam(name, raw string) (bool, error) {
	d := p.dev.Data.PJLink
	before, _ := device.ToMap(d)
	switch name {
	case "mute":
		v, a, err := hw.ParseMute(raw)
		if err != nil {
			return false, err
		}
		d.Mute = &device.Mute{Video: v, Audio: a}
	case "errors":
		e, err := hw.ParseErrors(raw)
		if err != nil {
			return false, err
		}
		d.Errors = e
	case "lamps":
		ls, err := hw.ParseLamps(raw)
		if err != nil {
			return false, err
		}
		d.Lamps = d.Lamps[:0]
		for _, l := range ls {
			d.Lamps = append(d.Lamps, device.Lamp{Hours: l.Hours, On: l.On})
		}
	case "inputs":
		d.Inputs = hw.ParseInputs(raw)
	case "input":
		d.Input = raw
	case "name":
		d.Name = raw
	case "manufacturer":
		d.Manufacturer = raw
	case "model":
		d.Model = raw
	case "powerState":
		st, err := hw.ParsePower(raw)
		if err != nil {
			return false, err
		}
		d.PowerState = &st
		p.dev.Data.Status = &device.State{Value: device.Level(st), ReadAt: p.now()}
	}
	after, _ := device.ToMap(d)
	return !reflect.DeepEqual(before, after), nil
}

func (p *Projector) ExecCommand(cmd device.Command, done func(bool)) {
	var c projectorCommand
	if err := mapstructure.WeakDecode(cmd.Data, &c); err != nil {
		p.logger.Warn("bad projector command", "err", err, "data", cmd.Data)
		done(false)
		return
	}
	ok := true
	if c.PowerState != nil {
		cur := -1
		if p.dev.Data.PJLink.PowerState != nil {
			cur = *p.dev.Data.PJLink.PowerState
		}
		if (cur < PowerCooling && *c.PowerState != cur) || c.ForceWrite {
			ok = p.writePower(*c.PowerState)
		}
	}
	if c.Mute != nil && c.Mute.Video != nil {
		p.setShutter(*c.Mute.Video)
	}
	done(ok)
}

// writePower switches the projector. It returns false when value is
// neither on nor off, or when the PJLink channel is needed but missing.
func (p *Projector) writePower(value int) bool {
	var param, url string
	var after int
	switch value {
	case PowerOn:
		param, url, after = "1", p.dev.Config.HTTPOn, PowerWarmup
	case PowerOff:
		param, url, after = "0", p.dev.Config.HTTPOff, PowerCooling
	default:
		p.logger.Warn("power state not writable", "value", value)
		return false
	}
	method := p.dev.Config.Method
	p.logger.Info("switching projector", "power", value, "method", method)

	ok := true
	if method < MethodHTTP && p.client == nil {
		p.logger.Warn("power write needs PJLink but no client is configured", "power", value)
		ok = false
	}
	if method < MethodHTTP && p.client != nil {
		client := p.client
		runAsync(p.base, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, client.Set(ctx, "POWR", param)
		}, func(_ struct{}, err error) {
			if err != nil {
				p.logger.Error("pjlink power write failed", "power", value, "err", err)
				p.fail("Could not switch projector: %v", err)
				p.env.Status.Publish(p.dev, true)
				return
			}
			p.logger.Info("projector switched", "power", value)
			st := after
			p.dev.Data.PJLink.PowerState = &st
			p.dev.Data.Status = &device.State{Value: device.Level(value), ReadAt: p.now()}
			p.dev.Error = ""
			p.env.Status.Publish(p.dev, false)
		})
	}
	if method > MethodPJLink {
		p.httpRequest(url)
	}
	return ok
}

func (p *Projector) httpRequest(url string) {
	if url == "" {
		p.logger.Warn("no http url configured")
		return
	}
	client := p.env.Hardware.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	runAsync(p.base, func(ctx context.Context) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		return resp.StatusCode, nil
	}, func(code int, err error) {
		if err != nil {
			p.logger.Error("http request failed", "err", err)
			return
		}
		p.logger.Info("http request done", "status", code)
	})
}

func (p *Projector) setShutter(video bool) {
	if p.client == nil {
		return
	}
	param := "10"
	if video {
		param = "11"
	}
	client := p.client
	runAsync(p.base, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, client.Set(ctx, "AVMT", param)
	}, func(_ struct{}, err error) {
		if err != nil {
			p.logger.Error("could not set shutter", "err", err)
			return
		}
		p.logger.Info("shutter set", "video", video)
		if p.dev.Data.PJLink.Mute == nil {
			p.dev.Data.PJLink.Mute = &device.Mute{}
		}
		p.dev.Data.PJLink.Mute.Video = video
		p.env.Status.Publish(p.dev, false)
	})
}

func (p *Projector) Close() error {
	p.ClearReportingInterval()
	for t := range p.pending {
		t.Stop()
	}
	clear(p.pending)
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
