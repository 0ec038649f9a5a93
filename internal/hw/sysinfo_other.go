//go:build !linux

package hw

import (
	"errors"
	"time"
)

func (Host) HostUptime() (time.Duration, error) {
	return 0, errors.ErrUnsupported
}

func (Host) Disk(path string) (DiskUsage, error) {
	return DiskUsage{}, errors.ErrUnsupported
}
