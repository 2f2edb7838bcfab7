package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Paintersrp/serverlaunch/internal/runtime"
)

const (
	defaultGracePeriod = 2 * time.Second
	logBuffer          = 256
	maxLineSize        = 1 << 20
)

// New constructs a runtime that executes the server as a local process.
func New() runtime.Runtime {
	return runtime.RuntimeFunc(Start)
}

// Start launches spec.Command with stdout and stderr captured line-by-line.
// Stdin is not forwarded. The process lifetime is not bound to ctx; callers
// terminate it through the returned handle.
func Start(ctx context.Context, spec runtime.Spec) (runtime.Handle, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(spec.Command) == "" {
		return nil, errors.New("process runtime requires a command")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	if cmd.Err != nil {
		return nil, fmt.Errorf("resolve %s: %w", spec.Command, cmd.Err)
	}
	if spec.Workdir != "" {
		cmd.Dir = spec.Workdir
	}

	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%s stdout: %w", spec.Name, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("%s stderr: %w", spec.Name, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	configureCmdSysProcAttr(cmd)

	startErr := cmd.Start()
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()
	if startErr != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Name, startErr)
	}

	grace := spec.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	inst := &processInstance{
		name:     spec.Name,
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		grace:    grace,
		logs:     make(chan runtime.LogEntry, logBuffer),
		waitDone: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go inst.streamLogs(stdoutR, runtime.LogSourceStdout, &wg)
	go inst.streamLogs(stderrR, runtime.LogSourceStderr, &wg)
	go func() {
		wg.Wait()
		close(inst.logs)
	}()

	go inst.wait()

	return inst, nil
}

type processInstance struct {
	name  string
	cmd   *exec.Cmd
	pid   int
	grace time.Duration

	logs     chan runtime.LogEntry
	waitDone chan struct{}

	mu       sync.Mutex
	exited   bool
	exitCode int
	waitErr  error
}

func (p *processInstance) wait() {
	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}

	p.mu.Lock()
	p.exited = true
	p.exitCode = code
	p.waitErr = err
	p.mu.Unlock()

	close(p.waitDone)
}

func (p *processInstance) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return 0
	}
	return p.pid
}

func (p *processInstance) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

func (p *processInstance) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

func (p *processInstance) Done() <-chan struct{} {
	return p.waitDone
}

func (p *processInstance) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *processInstance) Logs() <-chan runtime.LogEntry {
	return p.logs
}

func (p *processInstance) streamLogs(r io.ReadCloser, source string, wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		entry := runtime.LogEntry{Timestamp: time.Now(), Message: line, Source: source, Level: "info"}
		if source == runtime.LogSourceStderr {
			entry.Level = "warn"
		}
		p.logs <- entry
	}
	// Drain so a chatty child never blocks on a full pipe after a scan error.
	_, _ = io.Copy(io.Discard, r)
}

func (p *processInstance) awaitExit(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-p.waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
