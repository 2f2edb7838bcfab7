package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
)

func validatePort(port int) error {
	parsed, err := nat.ParsePort(strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("invalid port %d: %w", port, err)
	}
	if parsed < 1 || parsed > 65535 {
		return fmt.Errorf("invalid port %d: must be in range 1-65535", port)
	}
	return nil
}

func validateAddr(addr string) error {
	host, port, err := splitAddr(addr)
	if err != nil {
		return err
	}
	if host != "" && net.ParseIP(host) == nil && host != "localhost" {
		return fmt.Errorf("invalid address %q: host must be an IP or localhost", addr)
	}
	return validatePort(port)
}

func splitAddr(addr string) (string, int, error) {
	host, rawPort, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	start, end, err := nat.ParsePortRange(rawPort)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: invalid port %q", addr, rawPort)
	}
	if start != end {
		return "", 0, fmt.Errorf("invalid address %q: port ranges are not supported", addr)
	}
	return host, int(start), nil
}

// validatePortCollisions rejects a control API address that would bind the
// port the server is expected to listen on.
func validatePortCollisions(m *Manifest) error {
	if !m.Control.Enabled {
		return nil
	}
	host, port, err := splitAddr(m.Control.Addr)
	if err != nil {
		return fmt.Errorf("%s: %w", fieldPath("control", "addr"), err)
	}
	if port != m.Readiness.Port {
		return nil
	}
	controlKey := hostPortKey(normalizeHostIP(host), port)
	serverKey := hostPortKey(normalizeHostIP(m.Readiness.Host), m.Readiness.Port)
	if controlKey != serverKey && normalizeHostIP(host) != "0.0.0.0" && normalizeHostIP(m.Readiness.Host) != "0.0.0.0" {
		return nil
	}
	next := nextAvailablePort(port, m.Readiness.Port)
	if next == 0 {
		return errors.New(fieldPath("control", "addr") + ": conflicts with the server port; no additional ports available")
	}
	return fmt.Errorf("%s: port %d conflicts with the server readiness port; next available port is %d", fieldPath("control", "addr"), port, next)
}

func nextAvailablePort(start int, claimed ...int) int {
	taken := make(map[int]struct{}, len(claimed))
	for _, p := range claimed {
		taken[p] = struct{}{}
	}
	for candidate := start + 1; candidate <= 65535; candidate++ {
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
	return 0
}

func hostPortKey(hostIP string, port int) string {
	return fmt.Sprintf("%s:%d", hostIP, port)
}

func normalizeHostIP(ip string) string {
	ip = strings.TrimSpace(ip)
	switch ip {
	case "", "0.0.0.0", "::":
		return "0.0.0.0"
	case "localhost", "::1":
		return "127.0.0.1"
	}
	return ip
}
