package framework

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrToolNotFound marks a test tool executable that is not installed.
	ErrToolNotFound = errors.New("test tool executable not found")
	// ErrToolTimeout marks a test tool that exceeded its deadline.
	ErrToolTimeout = errors.New("test tool timed out")
)

// CommandRequest captures process execution metadata.
type CommandRequest struct {
	Workdir string
	Args    []string
	Env     []string
	Input   string
	Timeout time.Duration
}

// CommandResult is the captured output of a finished process.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Elapsed  time.Duration
}

// Combined joins stdout and stderr the way a terminal would show them.
func (r CommandResult) Combined() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	}
	return strings.TrimRight(r.Stdout, "\n") + "\n" + r.Stderr
}

// CommandRunner describes a primitive capable of executing commands.
type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (CommandResult, error)
}

// LocalCommandRunner launches commands directly on the host.
type LocalCommandRunner struct {
	// LookPath resolves executables; defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

// Run executes the command. A non-zero exit status is not an error; missing
// executables and deadline overruns are, wrapped in ErrToolNotFound and
// ErrToolTimeout respectively.
func (r LocalCommandRunner) Run(ctx context.Context, req CommandRequest) (CommandResult, error) {
	if len(req.Args) == 0 {
		return CommandResult{}, errors.New("command arguments required")
	}
	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	binary, err := lookPath(req.Args[0])
	if err != nil {
		return CommandResult{}, fmt.Errorf("%w: %s: %v", ErrToolNotFound, req.Args[0], err)
	}
	execCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()
	cmd := exec.CommandContext(execCtx, binary, req.Args[1:]...)
	if req.Workdir != "" {
		cmd.Dir = filepath.Clean(req.Workdir)
	}
	if len(req.Env) > 0 {
		cmd.Env = append(cmd.Environ(), req.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if req.Input != "" {
		cmd.Stdin = strings.NewReader(req.Input)
	}
	start := time.Now()
	err = cmd.Run()
	result := CommandResult{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}
	if execCtx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("%w: %s in %s after %s", ErrToolTimeout, req.Args[0], req.Workdir, result.Elapsed.Round(time.Millisecond))
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return result, fmt.Errorf("%w: %s: %v", ErrToolNotFound, req.Args[0], err)
		}
		return result, err
	}
	return result, nil
}

// ClassifyToolError maps a runner error onto the outcome taxonomy.
func ClassifyToolError(err error) OutcomeKind {
	switch {
	case err == nil:
		return OutcomeNone
	case errors.Is(err, ErrToolNotFound):
		return OutcomeToolNotFound
	case errors.Is(err, ErrToolTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeToolTimeout
	}
	return OutcomeToolError
}
