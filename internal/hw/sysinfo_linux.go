//go:build linux

package hw

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

func (Host) HostUptime() (time.Duration, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	return time.Duration(si.Uptime) * time.Second, nil
}

func (Host) Disk(path string) (DiskUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bs := uint64(st.Bsize)
	return DiskUsage{
		Available: st.Bavail * bs,
		Free:      st.Bfree * bs,
		Total:     st.Blocks * bs,
	}, nil
}
