package hw

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialQuerier sends one request line to a serial device and returns the
// first response line.
type SerialQuerier interface {
	Query(ctx context.Context, port string, baud int, request string) ([]byte, error)
}

// SerialPorts opens the port for every query, 8N1.
type SerialPorts struct{}

func (SerialPorts) Query(ctx context.Context, portName string, baud int, request string) ([]byte, error) {
	if baud == 0 {
		baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", portName, err)
	}
	defer port.Close()

	if request != "" {
		if _, err := port.Write([]byte(request + "\n")); err != nil {
			return nil, fmt.Errorf("serial: write %s: %w", portName, err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		return nil, fmt.Errorf("serial: %w", err)
	}

	var line []byte
	buf := make([]byte, 128)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("serial: read %s: %w", portName, context.DeadlineExceeded)
		}
		n, err := port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("serial: read %s: %w", portName, err)
		}
		line = append(line, buf[:n]...)
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			return bytes.TrimSpace(line[:i]), nil
		}
		if len(line) > 4096 {
			return nil, errors.New("serial: response line too long")
		}
	}
}
