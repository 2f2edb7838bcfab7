package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Kind selects how readiness is detected.
type Kind string

const (
	// KindTCP treats any accepted TCP connection as ready.
	KindTCP Kind = "tcp"
	// KindHTTP issues a GET request; any HTTP response, including error
	// statuses, counts as ready.
	KindHTTP Kind = "http"
)

// Target identifies the endpoint probed for readiness.
type Target struct {
	Kind Kind
	Host string
	Port int
	// Path is used by HTTP probes only.
	Path string
}

// Address returns host:port for the target.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// URL returns the HTTP URL probed for KindHTTP targets.
func (t Target) URL() string {
	path := t.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{Scheme: "http", Host: t.Address(), Path: path}
	return u.String()
}

// Prober performs a single readiness attempt.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// New constructs a Prober for the supplied target.
func New(target Target) (Prober, error) {
	if strings.TrimSpace(target.Host) == "" {
		return nil, errors.New("probe: missing host")
	}
	if target.Port <= 0 || target.Port > 65535 {
		return nil, fmt.Errorf("probe: invalid port %d", target.Port)
	}
	switch target.Kind {
	case KindTCP, "":
		return newTCPProber(target.Address()), nil
	case KindHTTP:
		return newHTTPProber(target.URL()), nil
	default:
		return nil, fmt.Errorf("probe: unsupported kind %q", target.Kind)
	}
}
