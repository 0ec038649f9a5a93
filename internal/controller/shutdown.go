package controller

// ShutdownResult is the outcome of a drain.
type ShutdownResult struct {
	// Forced is set when devices were still busy at the deadline.
	Forced bool
	Busy   []string
	// Err is the persist error, if any.
	Err error
}

// ExitCode maps the result to a process exit status.
func (r ShutdownResult) ExitCode() int {
	if r.Forced || r.Err != nil {
		return 1
	}
	return 0
}

// Shutdown stops every timer, waits for outstanding hardware operations to
// finish, persists the devices and releases the hardware. done runs on the
// loop once all of that happened. Calls after the first are ignored.
func (c *Controller) Shutdown(done func(ShutdownResult)) {
	if c.stopping {
		c.logger.Debug("shutdown already in progress")
		return
	}
	c.stopping = true
	c.logger.Info("shutting down")

	for _, h := range c.registry.Handlers() {
		h.Driver.ClearReportingInterval()
	}
	c.telemetry.Cancel()
	c.fullStatus.Cancel()

	deadline := c.loop.Clock().Now().Add(c.shutdownMaxWait)
	var poll func()
	poll = func() {
		busy := c.registry.Busy()
		if len(busy) > 0 && c.loop.Clock().Now().Before(deadline) {
			c.logger.Info("waiting for busy devices", "busy", busy)
			c.loop.After(c.shutdownPoll, poll)
			return
		}
		res := ShutdownResult{Busy: busy}
		if len(busy) > 0 {
			res.Forced = true
			c.logger.Error("devices still busy at shutdown deadline, persisting anyway",
				"busy", busy, "max_wait", c.shutdownMaxWait)
		}
		if err := c.Persist(); err != nil {
			res.Err = err
			c.logger.Error("persist device state on shutdown", "err", err)
		}
		c.registry.Close()
		c.logger.Info("shutdown complete", "forced", res.Forced)
		if done != nil {
			done(res)
		}
	}
	poll()
}
