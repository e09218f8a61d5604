package system

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// StreamCommand runs a long-lived command through a PTY, copying its output
// line by line to w. The PTY makes the child detect a terminal, so
// installers and build tools keep their progress output and colors.
func StreamCommand(ctx context.Context, w io.Writer, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	defer ptmx.Close()

	scanner := bufio.NewScanner(ptmx)
	for scanner.Scan() {
		fmt.Fprintln(w, scanner.Text())
	}
	// EIO from the scanner is expected when the PTY child exits.

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &ExternalToolError{Cmd: name, ExitCode: exitErr.ExitCode()}
		}
		return fmt.Errorf("wait %s: %w", name, err)
	}
	return nil
}
