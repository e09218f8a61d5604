package system

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExternalToolError reports a non-zero exit from a driven subprocess,
// carrying the captured stderr so the operator can diagnose manually.
type ExternalToolError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s: exit status %d", e.Cmd, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Runner executes external commands. Managers take a Runner so tests can
// substitute a fake instead of driving real binaries.
type Runner interface {
	// Run executes name with args and returns captured stdout and stderr.
	// A non-zero exit is returned as *ExternalToolError.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs commands through os/exec with argument arrays. Commands
// are never passed through a shell.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return stdout.String(), stderr.String(), &ExternalToolError{
				Cmd:      name + " " + strings.Join(args, " "),
				ExitCode: exitErr.ExitCode(),
				Stderr:   stderr.String(),
			}
		}
		return stdout.String(), stderr.String(), fmt.Errorf("run %s: %w", name, err)
	}
	return stdout.String(), stderr.String(), nil
}
