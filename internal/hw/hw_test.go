package hw

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseW1Slave(t *testing.T) {
	in := "72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"
	got, err := ParseW1Slave([]byte(in))
	if err != nil {
		t.Fatalf("ParseW1Slave: %v", err)
	}
	if got != 23.125 {
		t.Errorf("temperature = %v, want 23.125", got)
	}
}

func TestParseW1SlaveBadCRC(t *testing.T) {
	in := "72 01 4b 46 7f ff 0e 10 57 : crc=57 NO\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"
	if _, err := ParseW1Slave([]byte(in)); !errors.Is(err, ErrCRC) {
		t.Errorf("err = %v, want ErrCRC", err)
	}
}

func TestSysfsOneWire(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "28-000005e2fdc3")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data := "a1 01 4b 46 7f ff 0c 10 8c : crc=8c YES\na1 01 4b 46 7f ff 0c 10 8c t=-1500\n"
	if err := os.WriteFile(filepath.Join(dir, "w1_slave"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	w := &SysfsOneWire{Root: root}
	got, err := w.Temperature(context.Background(), "28-000005e2fdc3")
	if err != nil {
		t.Fatalf("Temperature: %v", err)
	}
	if got != -1.5 {
		t.Errorf("temperature = %v, want -1.5", got)
	}
	if _, err := w.Temperature(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing sensor")
	}
}

func TestParseMute(t *testing.T) {
	tests := []struct {
		in           string
		video, audio bool
	}{
		{"11", true, false},
		{"21", false, true},
		{"31", true, true},
		{"30", false, false},
	}
	for _, tt := range tests {
		v, a, err := ParseMute(tt.in)
		if err != nil {
			t.Fatalf("ParseMute(%q): %v", tt.in, err)
		}
		if v != tt.video || a != tt.audio {
			t.Errorf("ParseMute(%q) = %v,%v, want %v,%v", tt.in, v, a, tt.video, tt.audio)
		}
	}
}

func TestParseErrorsAndLamps(t *testing.T) {
	errs, err := ParseErrors("010200")
	if err != nil {
		t.Fatal(err)
	}
	if errs["lamp"] != "warning" || errs["cover"] != "error" || errs["fan"] != "ok" {
		t.Errorf("errors = %v", errs)
	}

	lamps, err := ParseLamps("1200 1 300 0")
	if err != nil {
		t.Fatal(err)
	}
	if len(lamps) != 2 || lamps[0].Hours != 1200 || !lamps[0].On || lamps[1].On {
		t.Errorf("lamps = %+v", lamps)
	}
	if _, err := ParseLamps("12"); err == nil {
		t.Error("expected error for odd field count")
	}
}

// fakeProjector accepts one connection and answers a single command.
func fakeProjector(t *testing.T, greeting string, answer func(req string) string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte(greeting + "\r"))
		req, err := bufio.NewReader(conn).ReadString('\r')
		if err != nil {
			return
		}
		conn.Write([]byte(answer(strings.TrimSuffix(req, "\r")) + "\r"))
	}()
	return ln.Addr().String()
}

func TestPJLinkGetNoAuth(t *testing.T) {
	addr := fakeProjector(t, "PJLINK 0", func(req string) string {
		if req != "%1POWR ?" {
			return "%1POWR=ERR1"
		}
		return "%1POWR=1"
	})
	c := NewPJLinkClient(addr, "")
	got, err := c.Get(context.Background(), "POWR")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "1" {
		t.Errorf("POWR = %q, want 1", got)
	}
}

func TestPJLinkAuthDigest(t *testing.T) {
	sum := md5.Sum([]byte("498e4a67" + "panasonic"))
	digest := hex.EncodeToString(sum[:])
	addr := fakeProjector(t, "PJLINK 1 498e4a67", func(req string) string {
		if !strings.HasPrefix(req, digest) {
			return "PJLINK ERRA"
		}
		return "%1AVMT=OK"
	})
	c := NewPJLinkClient(addr, "panasonic")
	if err := c.Set(context.Background(), "AVMT", "11"); err != nil {
		t.Fatalf("Set: %v", err)
	}
}

func TestPJLinkErrorCodes(t *testing.T) {
	addr := fakeProjector(t, "PJLINK 0", func(string) string { return "%1LAMP=ERR3" })
	c := NewPJLinkClient(addr, "")
	if _, err := c.Get(context.Background(), "LAMP"); !errors.Is(err, ErrPJLinkUnavailable) {
		t.Errorf("err = %v, want ErrPJLinkUnavailable", err)
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("DeadlineExceeded not a timeout")
	}
	if IsTimeout(errors.New("boom")) {
		t.Error("plain error reported as timeout")
	}
}
