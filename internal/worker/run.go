package worker

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/ppiankov/convpool/internal/conv"
)

// runCommand is the default Runner: it executes the command and captures
// exit code, stdout, and stderr for the failure report. A command that
// cannot be started is reported as exit code -1 with the error text on
// stderr, the same shape a crashed subprocess would produce.
func runCommand(ctx context.Context, name string, args ...string) conv.ProcessOutput {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := conv.ProcessOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	switch e := err.(type) {
	case nil:
	case *exec.ExitError:
		out.ExitCode = e.ExitCode()
	default:
		out.ExitCode = -1
		if out.Stderr == "" {
			out.Stderr = err.Error()
		}
	}
	return out
}
