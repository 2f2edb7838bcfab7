// Package tui renders the loading screen shown while the server starts.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/Paintersrp/serverlaunch/internal/launcher"
)

const (
	logsTitle           = "Server output"
	mainPageName        = "main"
	failurePageName     = "failure"
	retryLabel          = "Retry"
	closeLabel          = "Close"
	defaultTitle        = "Starting"
	defaultLogRetention = 500
)

// Option configures UI behaviour.
type Option func(*UI)

// WithMaxLogs sets the number of server output lines kept on screen.
func WithMaxLogs(n int) Option {
	return func(u *UI) {
		if n > 0 {
			u.maxLogs = n
		}
	}
}

// WithTitle sets the heading shown above the status line.
func WithTitle(title string) Option {
	return func(u *UI) {
		if strings.TrimSpace(title) != "" {
			u.title = title
		}
	}
}

// UI is a launcher.LoadingView backed by tview.
type UI struct {
	app    *tview.Application
	pages  *tview.Pages
	status *tview.TextView
	logs   *tview.TextView

	commands chan launcher.Command
	redraw   chan struct{}

	mu           sync.Mutex
	title        string
	message      string
	failure      string
	failureSeq   uint64
	retryPending bool
	lines        []string
	maxLogs      int

	stopOnce sync.Once
	done     chan struct{}
}

var _ launcher.LoadingView = (*UI)(nil)

// New constructs the loading screen.
func New(opts ...Option) *UI {
	ui := &UI{
		app:      tview.NewApplication(),
		commands: make(chan launcher.Command, 4),
		redraw:   make(chan struct{}, 1),
		title:    defaultTitle,
		message:  "Starting server...",
		maxLogs:  defaultLogRetention,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ui)
	}

	ui.status = tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignCenter)
	ui.status.SetBorder(true).SetTitle(ui.title)

	ui.logs = tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	ui.logs.SetBorder(true).SetTitle(logsTitle)

	help := tview.NewTextView().SetDynamicColors(true).
		SetText("[::d]q/Esc close  r retry after failure[::-]")

	flex := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.status, 5, 0, false).
		AddItem(ui.logs, 0, 1, true).
		AddItem(help, 1, 0, false)

	ui.pages = tview.NewPages().AddPage(mainPageName, flex, true, true)
	ui.app.SetRoot(ui.pages, true)
	ui.app.SetInputCapture(ui.handleKey)

	ui.render()
	return ui
}

// Commands carries the retry and close requests made on screen.
func (u *UI) Commands() <-chan launcher.Command {
	return u.commands
}

// Done is closed once the screen has been closed.
func (u *UI) Done() <-chan struct{} {
	return u.done
}

// Run drives the terminal until Close is invoked, ctx is cancelled or the
// user interrupts the application.
func (u *UI) Run(ctx context.Context) error {
	select {
	case <-u.done:
		return nil
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		u.refreshLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
		case <-u.done:
		}
		u.app.QueueUpdate(u.app.Stop)
	}()

	err := u.app.Run()

	u.Close()
	cancel()
	wg.Wait()
	return err
}

// Close stops the application loop. It is safe to call more than once.
func (u *UI) Close() {
	u.stopOnce.Do(func() {
		close(u.done)
		u.app.Stop()
	})
}

func (u *UI) SetStatus(message string) {
	u.mu.Lock()
	u.message = message
	u.mu.Unlock()
	u.requestRedraw()
}

// ShowFailure displays message with Retry and Close buttons.
func (u *UI) ShowFailure(message string) {
	u.mu.Lock()
	u.failure = message
	u.failureSeq++
	u.message = "Server failed to start"
	u.mu.Unlock()
	u.requestRedraw()
}

func (u *UI) AppendLog(line string) {
	u.mu.Lock()
	u.lines = append(u.lines, tview.Escape(strings.TrimRight(line, "\r\n")))
	if len(u.lines) > u.maxLogs {
		trim := len(u.lines) - u.maxLogs
		u.lines = append([]string(nil), u.lines[trim:]...)
	}
	u.mu.Unlock()
	u.requestRedraw()
}

func (u *UI) requestRedraw() {
	select {
	case u.redraw <- struct{}{}:
	default:
	}
}

func (u *UI) refreshLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.redraw:
			u.app.QueueUpdateDraw(u.render)
		}
	}
}

func (u *UI) render() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.status.SetText(fmt.Sprintf("[::b]%s[::-]\n\n%s", tview.Escape(u.title), tview.Escape(u.message)))
	u.logs.SetText(strings.Join(u.lines, "\n"))
	u.logs.ScrollToEnd()

	showing := u.pages.HasPage(failurePageName)
	switch {
	case u.failure != "" && !showing:
		u.pages.AddPage(failurePageName, u.failureModal(u.failure), true, true)
	case u.failure == "" && showing:
		u.pages.RemovePage(failurePageName)
		u.app.SetFocus(u.logs)
	}
}

func (u *UI) failureModal(message string) *tview.Modal {
	return tview.NewModal().
		SetText(message).
		AddButtons([]string{retryLabel, closeLabel}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			switch buttonLabel {
			case retryLabel:
				u.retry()
			case closeLabel:
				u.send(launcher.Command{Kind: launcher.CommandClose})
			}
		})
}

func (u *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyEscape:
		u.send(launcher.Command{Kind: launcher.CommandClose})
		return nil
	case tcell.KeyRune:
		switch event.Rune() {
		case 'q', 'Q':
			u.send(launcher.Command{Kind: launcher.CommandClose})
			return nil
		case 'r', 'R':
			if u.failed() {
				u.retry()
				return nil
			}
		}
	}
	return event
}

func (u *UI) failed() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.failure != ""
}

// retry asks the launcher for a new attempt. The failure dialog stays up
// until the launcher accepts the request.
func (u *UI) retry() {
	u.mu.Lock()
	if u.failure == "" || u.retryPending {
		u.mu.Unlock()
		return
	}
	u.retryPending = true
	seq := u.failureSeq
	u.message = "Retrying..."
	u.mu.Unlock()
	u.requestRedraw()

	reply := make(chan error, 1)
	u.send(launcher.Command{Kind: launcher.CommandRetry, Reply: reply})
	go u.awaitRetry(seq, reply)
}

func (u *UI) awaitRetry(seq uint64, reply <-chan error) {
	var err error
	select {
	case err = <-reply:
	case <-u.done:
		return
	}

	u.mu.Lock()
	u.retryPending = false
	if u.failureSeq == seq {
		if err != nil {
			u.message = fmt.Sprintf("Retry failed: %v", err)
		} else {
			u.failure = ""
		}
	}
	u.mu.Unlock()
	u.requestRedraw()
}

// send queues cmd, handing it to a goroutine when the buffer is full so no
// request is lost while the screen is open.
func (u *UI) send(cmd launcher.Command) {
	select {
	case u.commands <- cmd:
		return
	default:
	}
	go func() {
		select {
		case u.commands <- cmd:
		case <-u.done:
		}
	}()
}
