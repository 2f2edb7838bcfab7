package config

import (
	"strings"
	"testing"
)

func TestValidatePortCollisions(t *testing.T) {
	cases := []struct {
		name        string
		serverHost  string
		serverPort  int
		controlAddr string
		contains    []string
	}{
		{
			name:        "same loopback port",
			serverHost:  "127.0.0.1",
			serverPort:  8501,
			controlAddr: "127.0.0.1:8501",
			contains:    []string{"control.addr", "port 8501 conflicts", "next available port is 8502"},
		},
		{
			name:        "localhost aliases loopback",
			serverHost:  "localhost",
			serverPort:  8501,
			controlAddr: "127.0.0.1:8501",
			contains:    []string{"port 8501 conflicts"},
		},
		{
			name:        "wildcard control address",
			serverHost:  "127.0.0.1",
			serverPort:  9000,
			controlAddr: ":9000",
			contains:    []string{"port 9000 conflicts", "next available port is 9001"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := validManifest()
			m.Readiness.Host = tc.serverHost
			m.Readiness.Port = tc.serverPort
			m.Control.Enabled = true
			m.Control.Addr = tc.controlAddr

			err := m.Validate()
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			for _, want := range tc.contains {
				if !strings.Contains(err.Error(), want) {
					t.Fatalf("error %q missing %q", err, want)
				}
			}
		})
	}
}

func TestPortCollisionIgnoredWhenControlDisabled(t *testing.T) {
	m := validManifest()
	m.Control.Addr = "127.0.0.1:8501"
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDistinctHostsDoNotCollide(t *testing.T) {
	m := validManifest()
	m.Readiness.Host = "10.0.0.5"
	m.Control.Enabled = true
	m.Control.Addr = "127.0.0.1:8501"
	if err := m.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
