package controller

import (
	"mpct-controller/internal/hw"
)

// readSystem refreshes the controller's system telemetry. Uptimes are read
// in place; the disk check runs off the loop. done runs on the loop.
func (c *Controller) readSystem(done func()) {
	sys := &c.rec.System
	sys.UptimeProcess = c.loop.Clock().Now().Sub(c.started).Seconds()
	if c.system == nil {
		done()
		return
	}
	if up, err := c.system.HostUptime(); err != nil {
		c.logger.Debug("host uptime unavailable", "err", err)
	} else {
		sys.UptimeHost = up.Seconds()
	}

	system, path := c.system, c.diskPath
	go func() {
		usage, err := system.Disk(path)
		c.loop.Post(func() {
			c.applyDisk(usage, err)
			done()
		})
	}()
}

func (c *Controller) applyDisk(usage hw.DiskUsage, err error) {
	fs := &c.rec.System.FSInfo
	if err != nil {
		c.logger.Error("could not determine filesystem status", "path", c.diskPath, "err", err)
		fs.BytesAvailable, fs.BytesFree, fs.BytesTotal = nil, nil, nil
		return
	}
	avail, free, total := usage.Available, usage.Free, usage.Total
	fs.BytesAvailable, fs.BytesFree, fs.BytesTotal = &avail, &free, &total
}
