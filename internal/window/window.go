// Package window opens the main application window once the server is ready.
// App mode drives an installed Chrome or Edge through lorca; when no such
// browser is available the URL is handed to the system browser instead.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	goruntime "runtime"
	"sync"

	"github.com/zserge/lorca"
)

const (
	ModeApp     = "app"
	ModeBrowser = "browser"
	ModeNone    = "none"
)

// Spec describes the window to open.
type Spec struct {
	URL    string
	Title  string
	Width  int
	Height int
	Mode   string
}

// Window is an opened main window.
type Window interface {
	// Done is closed once the user closes the window. Browser and headless
	// windows cannot be observed and only finish on Close.
	Done() <-chan struct{}
	Close() error
}

// Opener opens main windows.
type Opener interface {
	Open(ctx context.Context, spec Spec) (Window, error)
}

// AppFunc creates an app window for url.
type AppFunc func(url string, width, height int) (lorca.UI, error)

// BrowserFunc hands url to the system browser.
type BrowserFunc func(url string) error

// Launcher is the default Opener.
type Launcher struct {
	logger  *slog.Logger
	app     AppFunc
	browser BrowserFunc
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithAppFunc overrides app window creation.
func WithAppFunc(fn AppFunc) Option {
	return func(l *Launcher) {
		if fn != nil {
			l.app = fn
		}
	}
}

// WithBrowserFunc overrides the system browser fallback.
func WithBrowserFunc(fn BrowserFunc) Option {
	return func(l *Launcher) {
		if fn != nil {
			l.browser = fn
		}
	}
}

// NewLauncher returns a Launcher backed by lorca and the platform browser.
func NewLauncher(logger *slog.Logger, opts ...Option) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Launcher{
		logger:  logger,
		app:     newLorcaUI,
		browser: OpenBrowser,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Open shows spec.URL according to spec.Mode.
func (l *Launcher) Open(ctx context.Context, spec Spec) (Window, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch spec.Mode {
	case ModeNone:
		l.logger.Info("window disabled; server available", "url", spec.URL)
		return newDetached(), nil
	case ModeBrowser:
		return l.openBrowser(spec.URL)
	case ModeApp, "":
	default:
		return nil, fmt.Errorf("window: unsupported mode %q", spec.Mode)
	}

	ui, err := l.app(spec.URL, spec.Width, spec.Height)
	if err != nil {
		l.logger.Warn("app window unavailable; opening in browser", "err", err)
		return l.openBrowser(spec.URL)
	}
	w := &appWindow{ui: ui}
	if err := ui.Bind("quitApp", func() { _ = w.Close() }); err != nil {
		l.logger.Debug("bind quitApp", "err", err)
	}
	l.logger.Info("main window opened", "url", spec.URL, "title", spec.Title, "mode", ModeApp)
	return w, nil
}

func (l *Launcher) openBrowser(url string) (Window, error) {
	if err := l.browser(url); err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}
	l.logger.Info("main window opened", "url", url, "mode", ModeBrowser)
	return newDetached(), nil
}

func newLorcaUI(url string, width, height int) (lorca.UI, error) {
	return lorca.New(url, "", width, height)
}

// OpenBrowser opens url in the system default browser.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		return errors.New("unsupported platform")
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

type appWindow struct {
	ui   lorca.UI
	once sync.Once
	err  error
}

func (w *appWindow) Done() <-chan struct{} {
	return w.ui.Done()
}

func (w *appWindow) Close() error {
	w.once.Do(func() {
		w.err = w.ui.Close()
	})
	return w.err
}

// detached stands in for windows the launcher cannot observe.
type detached struct {
	done chan struct{}
	once sync.Once
}

func newDetached() *detached {
	return &detached{done: make(chan struct{})}
}

func (d *detached) Done() <-chan struct{} {
	return d.done
}

func (d *detached) Close() error {
	d.once.Do(func() { close(d.done) })
	return nil
}
