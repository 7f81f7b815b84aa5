package encoder

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"videoflix/logger"
)

// maxOutputTail bounds how much encoder output is kept in errors and logs.
const maxOutputTail = 4096

// Runner executes a command and returns its combined stdout and stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandRunner implements Runner with os/exec.
type CommandRunner struct{}

// NewCommandRunner creates a CommandRunner.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{}
}

// Run starts the command and waits for it. The process is killed when ctx ends.
func (r *CommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 5 * time.Second
	return cmd.CombinedOutput()
}

// EncodeFailure is returned when the encoder exits nonzero, cannot be
// started, or runs past its deadline.
type EncodeFailure struct {
	ExitCode int
	Output   string
	TimedOut bool
	Err      error
}

func (e *EncodeFailure) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("encoder timed out: %v", e.Err)
	case e.ExitCode < 0:
		return fmt.Sprintf("encoder failed to run: %v", e.Err)
	default:
		return fmt.Sprintf("encoder exited with code %d: %s", e.ExitCode, tail(e.Output))
	}
}

func (e *EncodeFailure) Unwrap() error {
	return e.Err
}

// Invoker runs the configured encoder binary with a per-call timeout.
type Invoker struct {
	path    string
	timeout time.Duration
	runner  Runner
}

// NewInvoker creates an Invoker. A nil runner uses CommandRunner; a
// non-positive timeout disables the per-call deadline.
func NewInvoker(path string, timeout time.Duration, runner Runner) *Invoker {
	if runner == nil {
		runner = NewCommandRunner()
	}
	return &Invoker{path: path, timeout: timeout, runner: runner}
}

// Path returns the encoder binary.
func (i *Invoker) Path() string {
	return i.path
}

// Run executes the encoder synchronously. Any failure is an *EncodeFailure.
func (i *Invoker) Run(ctx context.Context, args ...string) error {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	logger.Debug("Executing encoder",
		logger.String("path", i.path),
		logger.String("args", strings.Join(args, " ")))

	start := time.Now()
	out, err := i.runner.Run(ctx, i.path, args...)
	if err == nil {
		logger.Debug("Encoder finished", logger.Duration("elapsed", time.Since(start)))
		return nil
	}

	failure := &EncodeFailure{ExitCode: -1, Output: string(out), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		failure.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		failure.TimedOut = true
		failure.ExitCode = -1
		failure.Err = ctxErr
	} else if ctxErr != nil {
		failure.ExitCode = -1
		failure.Err = ctxErr
	}

	logger.Error("Encoder failed",
		logger.Int("exit_code", failure.ExitCode),
		logger.Bool("timed_out", failure.TimedOut),
		logger.Duration("elapsed", time.Since(start)),
		logger.String("output", tail(failure.Output)),
		logger.ErrorField(err))
	return failure
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxOutputTail {
		return s
	}
	return "..." + s[len(s)-maxOutputTail:]
}
