package config

import (
	"strings"
	"testing"
	"time"
)

func validManifest() *Manifest {
	m := &Manifest{Server: ServerSpec{Command: "./server"}}
	_ = m.ApplyDefaults()
	return m
}

func TestValidatePortSuccess(t *testing.T) {
	for _, port := range []int{1, 80, 8501, 65535} {
		if err := validatePort(port); err != nil {
			t.Fatalf("validatePort(%d) returned error: %v", port, err)
		}
	}
}

func TestValidatePortFailures(t *testing.T) {
	for _, port := range []int{0, -1, 65536} {
		if err := validatePort(port); err == nil {
			t.Fatalf("validatePort(%d) returned nil error", port)
		}
	}
}

func TestValidateAddr(t *testing.T) {
	cases := []struct {
		addr string
		want string
	}{
		{addr: "127.0.0.1:7878"},
		{addr: "localhost:7878"},
		{addr: "[::1]:7878"},
		{addr: ":7878"},
		{addr: "127.0.0.1", want: "missing port"},
		{addr: "example.com:7878", want: "host must be an IP or localhost"},
		{addr: "127.0.0.1:7000-7001", want: "port ranges are not supported"},
		{addr: "127.0.0.1:http", want: "invalid port"},
	}
	for _, tc := range cases {
		t.Run(tc.addr, func(t *testing.T) {
			err := validateAddr(tc.addr)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("validateAddr(%q) returned error: %v", tc.addr, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("validateAddr(%q): got %v want substring %q", tc.addr, err, tc.want)
			}
		})
	}
}

func TestManifestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Manifest)
		want   string
	}{
		{name: "unsupported version", mutate: func(m *Manifest) { m.Version = "2" }, want: "version: unsupported version"},
		{name: "bad name", mutate: func(m *Manifest) { m.Name = "../etc" }, want: "name: invalid name"},
		{name: "blank command", mutate: func(m *Manifest) { m.Server.Command = "  " }, want: "server.command: is required"},
		{name: "negative grace", mutate: func(m *Manifest) { m.Server.GracePeriod.Duration = -time.Second }, want: "server.gracePeriod"},
		{name: "bad env key", mutate: func(m *Manifest) { m.Server.Env = map[string]string{"A=B": "x"} }, want: "server.env"},
		{name: "unknown kind", mutate: func(m *Manifest) { m.Readiness.Kind = "grpc" }, want: "readiness.kind: unsupported kind"},
		{name: "relative path", mutate: func(m *Manifest) { m.Readiness.Path = "health" }, want: "readiness.path"},
		{name: "zero interval", mutate: func(m *Manifest) { m.Readiness.Interval.Duration = 0 }, want: "readiness.interval"},
		{name: "window mode", mutate: func(m *Manifest) { m.Window.Mode = "fullscreen" }, want: "window.mode"},
		{name: "window url", mutate: func(m *Manifest) { m.Window.URL = "file:///tmp/index.html" }, want: "window.url"},
		{name: "log level", mutate: func(m *Manifest) { m.Logging.Level = "trace" }, want: "logging.level"},
		{name: "log format", mutate: func(m *Manifest) { m.Logging.Format = "xml" }, want: "logging.format"},
		{name: "control addr", mutate: func(m *Manifest) {
			m.Control.Enabled = true
			m.Control.Addr = "nope"
		}, want: "control.addr"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validManifest()
			tc.mutate(m)
			err := m.Validate()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("unexpected error: got %q want substring %q", err, tc.want)
			}
		})
	}
}

func TestWindowModeNoneSkipsURLCheck(t *testing.T) {
	m := validManifest()
	m.Window.Mode = WindowModeNone
	m.Window.URL = "not a url"
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1500ms")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Duration != 1500*time.Millisecond || !d.IsSet() {
		t.Fatalf("unexpected duration %+v", d)
	}
	var empty Duration
	if err := empty.UnmarshalText(nil); err != nil {
		t.Fatalf("unmarshal empty: %v", err)
	}
	if !empty.IsSet() || empty.Duration != 0 {
		t.Fatalf("explicit empty duration should be set and zero: %+v", empty)
	}
	if err := d.UnmarshalText([]byte("later")); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}
