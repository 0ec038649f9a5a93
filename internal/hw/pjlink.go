package hw

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultPJLinkPort is the registered PJLink TCP port.
const DefaultPJLinkPort = 4352

var (
	ErrPJLinkAuth        = errors.New("pjlink: authentication failed")
	ErrPJLinkUndefined   = errors.New("pjlink: undefined command")
	ErrPJLinkParameter   = errors.New("pjlink: out of parameter")
	ErrPJLinkUnavailable = errors.New("pjlink: unavailable time")
	ErrPJLinkFailure     = errors.New("pjlink: projector failure")
)

// PJLink is a class 1 projector control session.
type PJLink interface {
	// Get sends "%1<cmd> ?" and returns the response parameter.
	Get(ctx context.Context, cmd string) (string, error)
	// Set sends "%1<cmd> <param>".
	Set(ctx context.Context, cmd, param string) error
	Close() error
}

// PJLinkClient speaks PJLink over TCP, one connection per request.
// Requests are serialized.
type PJLinkClient struct {
	addr     string
	password string
	timeout  time.Duration
	dialer   net.Dialer

	mu sync.Mutex
}

// NewPJLinkClient returns a client for addr ("host:port").
func NewPJLinkClient(addr, password string) *PJLinkClient {
	return &PJLinkClient{addr: addr, password: password, timeout: 5 * time.Second}
}

func (c *PJLinkClient) Get(ctx context.Context, cmd string) (string, error) {
	return c.do(ctx, cmd, "?")
}

func (c *PJLinkClient) Set(ctx context.Context, cmd, param string) error {
	resp, err := c.do(ctx, cmd, param)
	if err != nil {
		return err
	}
	if resp != "OK" {
		return fmt.Errorf("pjlink %s %s: unexpected response %q", cmd, param, resp)
	}
	return nil
}

// Close is a no-op: connections do not outlive a request.
func (c *PJLinkClient) Close() error { return nil }

func (c *PJLinkClient) do(ctx context.Context, cmd, param string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return "", fmt.Errorf("pjlink dial %s: %w", c.addr, err)
	}
	defer conn.Close()
	if d, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(d)
	}

	r := bufio.NewReader(conn)
	greeting, err := readPJLinkLine(r)
	if err != nil {
		return "", fmt.Errorf("pjlink greeting: %w", err)
	}
	prefix, err := authPrefix(greeting, c.password)
	if err != nil {
		return "", err
	}

	req := prefix + "%1" + cmd + " " + param + "\r"
	if _, err := conn.Write([]byte(req)); err != nil {
		return "", fmt.Errorf("pjlink write: %w", err)
	}
	line, err := readPJLinkLine(r)
	if err != nil {
		return "", fmt.Errorf("pjlink %s: %w", cmd, err)
	}
	return parseResponse(cmd, line)
}

func readPJLinkLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\r')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// authPrefix returns the digest to prepend to a command, given the greeting
// "PJLINK 0" (no auth), "PJLINK 1 <random>" or "PJLINK ERRA".
func authPrefix(greeting, password string) (string, error) {
	fields := strings.Fields(greeting)
	if len(fields) < 2 || fields[0] != "PJLINK" {
		return "", fmt.Errorf("pjlink: bad greeting %q", greeting)
	}
	switch fields[1] {
	case "0":
		return "", nil
	case "1":
		if len(fields) < 3 {
			return "", fmt.Errorf("pjlink: bad greeting %q", greeting)
		}
		sum := md5.Sum([]byte(fields[2] + password))
		return hex.EncodeToString(sum[:]), nil
	case "ERRA":
		return "", ErrPJLinkAuth
	}
	return "", fmt.Errorf("pjlink: bad greeting %q", greeting)
}

func parseResponse(cmd, line string) (string, error) {
	if line == "PJLINK ERRA" {
		return "", ErrPJLinkAuth
	}
	want := "%1" + cmd + "="
	if !strings.HasPrefix(line, want) {
		return "", fmt.Errorf("pjlink %s: unexpected response %q", cmd, line)
	}
	param := line[len(want):]
	switch param {
	case "ERRA":
		return "", ErrPJLinkAuth
	case "ERR1":
		return "", ErrPJLinkUndefined
	case "ERR2":
		return "", ErrPJLinkParameter
	case "ERR3":
		return "", ErrPJLinkUnavailable
	case "ERR4":
		return "", ErrPJLinkFailure
	}
	return param, nil
}

// IsTimeout reports whether err is a network or context timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ParsePower decodes a POWR response: 0 off, 1 on, 2 cooling, 3 warm-up.
func ParsePower(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 3 {
		return 0, fmt.Errorf("pjlink: bad power state %q", s)
	}
	return n, nil
}

// ParseMute decodes an AVMT response into video and audio mute flags.
func ParseMute(s string) (video, audio bool, err error) {
	switch s {
	case "11":
		return true, false, nil
	case "21":
		return false, true, nil
	case "31":
		return true, true, nil
	case "30", "10", "20":
		return false, false, nil
	}
	return false, false, fmt.Errorf("pjlink: bad mute state %q", s)
}

var errorNames = []string{"fan", "lamp", "temperature", "cover", "filter", "other"}

// ParseErrors decodes an ERST response into ok, warning or error per part.
func ParseErrors(s string) (map[string]string, error) {
	if len(s) != len(errorNames) {
		return nil, fmt.Errorf("pjlink: bad error status %q", s)
	}
	out := make(map[string]string, len(errorNames))
	for i, name := range errorNames {
		switch s[i] {
		case '0':
			out[name] = "ok"
		case '1':
			out[name] = "warning"
		case '2':
			out[name] = "error"
		default:
			return nil, fmt.Errorf("pjlink: bad error status %q", s)
		}
	}
	return out, nil
}

// LampStatus is one lamp reported by LAMP.
type LampStatus struct {
	Hours int
	On    bool
}

// ParseLamps decodes "<hours> <on> [<hours> <on> ...]".
func ParseLamps(s string) ([]LampStatus, error) {
	f := strings.Fields(s)
	if len(f) == 0 || len(f)%2 != 0 {
		return nil, fmt.Errorf("pjlink: bad lamp status %q", s)
	}
	lamps := make([]LampStatus, 0, len(f)/2)
	for i := 0; i < len(f); i += 2 {
		h, err := strconv.Atoi(f[i])
		if err != nil {
			return nil, fmt.Errorf("pjlink: bad lamp hours %q", f[i])
		}
		lamps = append(lamps, LampStatus{Hours: h, On: f[i+1] == "1"})
	}
	return lamps, nil
}

// ParseInputs decodes the space separated INST list.
func ParseInputs(s string) []string {
	return strings.Fields(s)
}
