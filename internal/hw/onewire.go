package hw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultW1Root is where the kernel w1 driver exposes slaves.
const DefaultW1Root = "/sys/bus/w1/devices"

var ErrCRC = errors.New("one-wire CRC check failed")

// OneWire reads temperature sensors on the one-wire bus.
type OneWire interface {
	Temperature(ctx context.Context, address string) (float64, error)
}

// SysfsOneWire reads w1_slave files below Root.
type SysfsOneWire struct {
	Root string
}

func (w *SysfsOneWire) Temperature(ctx context.Context, address string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	root := w.Root
	if root == "" {
		root = DefaultW1Root
	}
	b, err := os.ReadFile(filepath.Join(root, address, "w1_slave"))
	if err != nil {
		return 0, fmt.Errorf("one-wire %s: %w", address, err)
	}
	return ParseW1Slave(b)
}

// ParseW1Slave extracts degrees Celsius from a w1_slave dump:
//
//	72 01 4b 46 7f ff 0e 10 57 : crc=57 YES
//	72 01 4b 46 7f ff 0e 10 57 t=23125
func ParseW1Slave(b []byte) (float64, error) {
	lines := bytes.Split(bytes.TrimSpace(b), []byte("\n"))
	if len(lines) < 2 {
		return 0, fmt.Errorf("one-wire: short read (%d lines)", len(lines))
	}
	if !bytes.HasSuffix(bytes.TrimSpace(lines[0]), []byte("YES")) {
		return 0, ErrCRC
	}
	i := bytes.Index(lines[1], []byte("t="))
	if i < 0 {
		return 0, fmt.Errorf("one-wire: no temperature in %q", lines[1])
	}
	milli, err := strconv.Atoi(string(bytes.TrimSpace(lines[1][i+2:])))
	if err != nil {
		return 0, fmt.Errorf("one-wire: %w", err)
	}
	return float64(milli) / 1000, nil
}
