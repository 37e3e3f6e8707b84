package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// StepOutput is the captured outcome of one shell step.
type StepOutput struct {
	Output   string
	ExitCode int
}

// Executor runs shell steps. Commands are interpreted by the configured
// shell (`sh -c` by default), so constructs like `a && b` or `a || true`
// behave as they would in the declaration.
type Executor struct {
	Shell   string
	WorkDir string
}

func NewExecutor(workDir string) *Executor {
	return &Executor{Shell: "sh", WorkDir: workDir}
}

// RunStep executes a command with the given environment and timeout,
// capturing combined stdout/stderr. A non-zero exit is reported through
// ExitCode, not through the error; the error is reserved for failures to
// run the command at all (missing shell, bad working directory).
func (e *Executor) RunStep(ctx context.Context, command string, env map[string]string, timeout time.Duration) (*StepOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := e.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = e.WorkDir
	cmd.Env = mergedEnv(env)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		partial := &StepOutput{Output: out.String(), ExitCode: -1}
		if errors.Is(ctxErr, context.Canceled) {
			return partial, fmt.Errorf("step canceled: %w", ctxErr)
		}
		return partial, fmt.Errorf("step timed out after %s: %w", timeout, ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &StepOutput{Output: out.String(), ExitCode: exitErr.ExitCode()}, nil
		}
		return nil, fmt.Errorf("run step: %w", err)
	}
	return &StepOutput{Output: out.String(), ExitCode: 0}, nil
}

// mergedEnv layers step/job variables over the host environment. Steps
// here are quality gates running repo tooling, so unlike a hermetic
// build runner the host PATH stays visible.
func mergedEnv(env map[string]string) []string {
	merged := os.Environ()
	for k, v := range env {
		merged = append(merged, k+"="+v)
	}
	return merged
}
