package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// maxOutputBytes bounds how much combined stdout/stderr is kept per run.
const maxOutputBytes = 4096

// Default timings applied to zero Config values.
const (
	defaultTimeout         = 10 * time.Second
	defaultGracefulTimeout = 2 * time.Second
)

// ErrTimeout is returned when a command outlives its Timeout.
var ErrTimeout = errors.New("process: command timed out")

// Config holds configuration for a single command invocation.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	// If empty, inherits from parent process.
	WorkDir string

	// Timeout bounds the whole run.
	Timeout time.Duration

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration
}

// ShellConfig returns a Config that runs command through shell -c.
func ShellConfig(name, shell, command string) Config {
	return Config{
		Name:            name,
		Binary:          shell,
		Args:            []string{"-c", command},
		Timeout:         defaultTimeout,
		GracefulTimeout: defaultGracefulTimeout,
	}
}

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Result describes a finished command.
type Result struct {
	Name     string        `json:"name"`
	PID      int           `json:"pid,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Output   string        `json:"output,omitempty"`
}

// Runner executes short-lived commands in their own process group.
//
// Each command gets a fresh process group so that a timeout or cancellation
// terminates everything it spawned, not just the shell.
type Runner struct {
	logger Logger
}

// NewRunner creates a Runner.
func NewRunner() *Runner {
	return &Runner{logger: noopLogger{}}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Run starts the command and waits for it to exit.
//
// A non-zero exit status is returned as an error wrapping *exec.ExitError.
// When the Timeout elapses the group receives SIGTERM, then SIGKILL after
// GracefulTimeout, and the error wraps ErrTimeout.
func (r *Runner) Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}

	res := Result{Name: cfg.Name, ExitCode: -1}
	if cfg.Binary == "" {
		return res, fmt.Errorf("running %s: no binary configured", cfg.Name)
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, cfg.Binary, cfg.Args...) //nolint:gosec // commands come from the operator's device registry

	// Create a new process group so we can signal all children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd, syscall.SIGTERM)
	}
	cmd.WaitDelay = cfg.GracefulTimeout

	if cfg.Env != nil {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	out := &limitedBuffer{limit: maxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	r.logger.Debug("running command",
		"name", cfg.Name,
		"binary", cfg.Binary,
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("starting %s: %w", cfg.Name, err)
	}
	res.PID = cmd.Process.Pid

	err := cmd.Wait()
	res.Duration = time.Since(start)
	res.Output = out.String()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		// Anything that ignored SIGTERM is gone by now; sweep the group.
		_ = signalGroup(cmd, syscall.SIGKILL)
		r.logger.Warn("command timed out",
			"name", cfg.Name,
			"pid", res.PID,
			"timeout", cfg.Timeout,
		)
		return res, fmt.Errorf("%w: %s after %v", ErrTimeout, cfg.Name, cfg.Timeout)
	}
	if err != nil {
		return res, fmt.Errorf("running %s: %w", cfg.Name, err)
	}

	r.logger.Debug("command finished",
		"name", cfg.Name,
		"pid", res.PID,
		"duration", res.Duration,
	)
	return res, nil
}

// signalGroup signals the process group led by cmd's process.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, sig)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signalling process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// limitedBuffer keeps the first limit bytes written and drops the rest.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
