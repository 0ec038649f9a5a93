package hw

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// DiskUsage describes one mounted filesystem.
type DiskUsage struct {
	Available uint64
	Free      uint64
	Total     uint64
}

// SystemInfo reports host telemetry for the controller record.
type SystemInfo interface {
	HostUptime() (time.Duration, error)
	Disk(path string) (DiskUsage, error)
}

// Host is the SystemInfo of the machine we run on.
type Host struct{}

var errNoIPv4 = errors.New("no non-loopback IPv4 address")

// LocalIPv4 returns the first non-loopback IPv4 address of this host.
func LocalIPv4() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("interface addrs: %w", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", errNoIPv4
}
