package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Paintersrp/serverlaunch/internal/probe"
	"github.com/Paintersrp/serverlaunch/internal/runtime"
)

const (
	DefaultHost         = "127.0.0.1"
	DefaultPort         = 8501
	DefaultWindowWidth  = 900
	DefaultWindowHeight = 700
	DefaultControlAddr  = "127.0.0.1:7878"
	DefaultGracePeriod  = 2 * time.Second

	WindowModeApp     = "app"
	WindowModeBrowser = "browser"
	WindowModeNone    = "none"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Manifest mirrors the launcher.yaml document structure.
type Manifest struct {
	Includes  []string      `yaml:"includes,omitempty"`
	Version   string        `yaml:"version"`
	Name      string        `yaml:"name"`
	Server    ServerSpec    `yaml:"server"`
	Readiness ReadinessSpec `yaml:"readiness"`
	Window    WindowSpec    `yaml:"window"`
	Logging   LoggingSpec   `yaml:"logging"`
	Control   ControlSpec   `yaml:"control"`
	LockFile  string        `yaml:"lockFile,omitempty"`

	// Path is the absolute manifest location.
	Path string `yaml:"-"`
}

// ServerSpec describes the child web server process.
type ServerSpec struct {
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args,omitempty"`
	Workdir     string            `yaml:"workdir,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	EnvFromFile string            `yaml:"envFromFile,omitempty"`
	GracePeriod Duration          `yaml:"gracePeriod,omitempty"`
}

// ReadinessSpec configures how the launcher decides the server is up.
type ReadinessSpec struct {
	Kind     string   `yaml:"kind"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Path     string   `yaml:"path,omitempty"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// WindowSpec configures the main window opened once the server is ready.
type WindowSpec struct {
	URL    string `yaml:"url"`
	Title  string `yaml:"title,omitempty"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Mode   string `yaml:"mode"`
}

// LoggingSpec configures the launcher's own log output.
type LoggingSpec struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"maxSizeMB,omitempty"`
	MaxBackups int    `yaml:"maxBackups,omitempty"`
	MaxAgeDays int    `yaml:"maxAgeDays,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// ControlSpec configures the loopback control API.
type ControlSpec struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ApplyDefaults fills unset fields.
func (m *Manifest) ApplyDefaults() error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		m.Name = "server"
	}
	if m.Version == "" {
		m.Version = "1"
	}
	if !m.Server.GracePeriod.IsSet() {
		m.Server.GracePeriod.Duration = DefaultGracePeriod
	}

	r := &m.Readiness
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	if r.Kind == "" {
		r.Kind = string(probe.KindHTTP)
	}
	if strings.TrimSpace(r.Host) == "" {
		r.Host = DefaultHost
	}
	if r.Port == 0 {
		r.Port = DefaultPort
	}
	if r.Kind == string(probe.KindHTTP) && r.Path == "" {
		r.Path = "/"
	}
	if r.Interval.Duration == 0 {
		r.Interval.Duration = probe.DefaultInterval
	}
	if r.Timeout.Duration == 0 {
		r.Timeout.Duration = probe.DefaultTimeout
	}

	w := &m.Window
	w.Mode = strings.ToLower(strings.TrimSpace(w.Mode))
	if w.Mode == "" {
		w.Mode = WindowModeApp
	}
	if w.URL == "" {
		w.URL = "http://" + net.JoinHostPort(r.Host, strconv.Itoa(r.Port)) + "/"
	}
	if w.Title == "" {
		w.Title = m.Name
	}
	if w.Width == 0 {
		w.Width = DefaultWindowWidth
	}
	if w.Height == 0 {
		w.Height = DefaultWindowHeight
	}

	l := &m.Logging
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	if l.Level == "" {
		l.Level = "info"
	}
	l.Format = strings.ToLower(strings.TrimSpace(l.Format))
	if l.Format == "" {
		l.Format = "text"
	}
	if l.File != "" {
		if l.MaxSizeMB == 0 {
			l.MaxSizeMB = 10
		}
		if l.MaxBackups == 0 {
			l.MaxBackups = 3
		}
		if l.MaxAgeDays == 0 {
			l.MaxAgeDays = 28
		}
	}

	if m.Control.Addr == "" {
		m.Control.Addr = DefaultControlAddr
	}
	if m.LockFile == "" {
		m.LockFile = filepath.Join(os.TempDir(), "serverlaunch-"+m.Name+".lock")
	}
	return nil
}

// Validate enforces manifest invariants.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("%s: is required", fieldPath("version"))
	}
	if m.Version != "1" {
		return fmt.Errorf("%s: unsupported version %q (supported values: 1)", fieldPath("version"), m.Version)
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%s: invalid name %q", fieldPath("name"), m.Name)
	}
	if strings.TrimSpace(m.Server.Command) == "" {
		return fmt.Errorf("%s: is required", fieldPath("server", "command"))
	}
	if m.Server.GracePeriod.Duration < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("server", "gracePeriod"))
	}
	for key := range m.Server.Env {
		if strings.TrimSpace(key) == "" || strings.ContainsAny(key, "=\x00") {
			return fmt.Errorf("%s: invalid variable name %q", fieldPath("server", "env"), key)
		}
	}
	if err := validateReadiness(&m.Readiness); err != nil {
		return err
	}
	if err := validateWindow(&m.Window); err != nil {
		return err
	}
	if err := validateLogging(&m.Logging); err != nil {
		return err
	}
	if m.Control.Enabled {
		if err := validateAddr(m.Control.Addr); err != nil {
			return fmt.Errorf("%s: %w", fieldPath("control", "addr"), err)
		}
	}
	return validatePortCollisions(m)
}

func validateReadiness(r *ReadinessSpec) error {
	switch probe.Kind(r.Kind) {
	case probe.KindTCP, probe.KindHTTP:
	default:
		return fmt.Errorf("%s: unsupported kind %q (supported values: tcp, http)", fieldPath("readiness", "kind"), r.Kind)
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("%s: is required", fieldPath("readiness", "host"))
	}
	if err := validatePort(r.Port); err != nil {
		return fmt.Errorf("%s: %w", fieldPath("readiness", "port"), err)
	}
	if r.Path != "" && !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("%s: must begin with '/'", fieldPath("readiness", "path"))
	}
	if r.Interval.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("readiness", "interval"))
	}
	if r.Timeout.Duration <= 0 {
		return fmt.Errorf("%s: must be positive", fieldPath("readiness", "timeout"))
	}
	if r.Timeout.Duration < r.Interval.Duration {
		return fmt.Errorf("%s: must be at least the interval (%s)", fieldPath("readiness", "timeout"), r.Interval.Duration)
	}
	return nil
}

func validateWindow(w *WindowSpec) error {
	switch w.Mode {
	case WindowModeApp, WindowModeBrowser, WindowModeNone:
	default:
		return fmt.Errorf("%s: unsupported mode %q (supported values: app, browser, none)", fieldPath("window", "mode"), w.Mode)
	}
	if w.Mode != WindowModeNone {
		if !strings.HasPrefix(w.URL, "http://") && !strings.HasPrefix(w.URL, "https://") {
			return fmt.Errorf("%s: must be an http(s) URL", fieldPath("window", "url"))
		}
	}
	if w.Width < 0 || w.Height < 0 {
		return fmt.Errorf("%s: dimensions must be non-negative", fieldPath("window"))
	}
	return nil
}

func validateLogging(l *LoggingSpec) error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s: unsupported level %q (supported values: debug, info, warn, error)", fieldPath("logging", "level"), l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%s: unsupported format %q (supported values: text, json)", fieldPath("logging", "format"), l.Format)
	}
	if l.MaxSizeMB < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("logging", "maxSizeMB"))
	}
	if l.MaxBackups < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("logging", "maxBackups"))
	}
	if l.MaxAgeDays < 0 {
		return fmt.Errorf("%s: must be non-negative", fieldPath("logging", "maxAgeDays"))
	}
	return nil
}

// ProcessSpec converts the server section into a runtime launch spec.
func (m *Manifest) ProcessSpec() runtime.Spec {
	spec := runtime.Spec{
		Name:        m.Name,
		Command:     m.Server.Command,
		Args:        append([]string(nil), m.Server.Args...),
		Workdir:     m.Server.Workdir,
		GracePeriod: m.Server.GracePeriod.Duration,
	}
	if len(m.Server.Env) > 0 {
		spec.Env = make(map[string]string, len(m.Server.Env))
		for k, v := range m.Server.Env {
			spec.Env[k] = v
		}
	}
	return spec
}

// Target converts the readiness section into a probe target.
func (m *Manifest) Target() probe.Target {
	return probe.Target{
		Kind: probe.Kind(m.Readiness.Kind),
		Host: m.Readiness.Host,
		Port: m.Readiness.Port,
		Path: m.Readiness.Path,
	}
}

func fieldPath(parts ...string) string {
	return strings.Join(parts, ".")
}
