package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// runner executes one command string. Implementations honor ctx for
// cancellation and timeout; the returned exit code is -1 when no process
// status exists.
type runner interface {
	run(ctx context.Context, command string) (exitCode int, stdout, stderr string, err error)
}

// localRunner shells out on the caller's machine.
type localRunner struct{}

func (localRunner) run(ctx context.Context, command string) (int, string, string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return 0, stdout.String(), stderr.String(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), stdout.String(), stderr.String(), nil
	}
	return exitInternal, stdout.String(), stderr.String(), err
}
