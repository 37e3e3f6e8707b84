// Package actions resolves `uses:` step references to builtin local
// bindings. Nothing is fetched over the network: an action either maps
// to a known binding here or the workflow fails validation.
package actions

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/conveyci/convey/pkg/models"
)

// Context carries what a builtin action can see: the run's working
// directory, the triggering event, and the step's `with` inputs.
type Context struct {
	WorkDir string
	Event   models.Event
	With    map[string]string
}

// Result is what an action produced: human-readable output and
// environment variables exported to the remaining steps of the job.
type Result struct {
	Output string
	Env    map[string]string
}

type Func func(ctx context.Context, actx Context) (*Result, error)

var registry = map[string]Func{
	"actions/checkout":     checkout,
	"actions/setup-python": setupPython,
}

// Known reports whether a `uses:` reference resolves to a builtin
// action. Version suffixes ("@v4") are accepted and ignored.
func Known(ref string) bool {
	_, ok := registry[trimVersion(ref)]
	return ok
}

// Resolve returns the binding for a `uses:` reference.
func Resolve(ref string) (Func, error) {
	fn, ok := registry[trimVersion(ref)]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", ref)
	}
	return fn, nil
}

func trimVersion(ref string) string {
	if at := strings.IndexByte(ref, '@'); at >= 0 {
		return ref[:at]
	}
	return ref
}

// checkout prepares the working directory. With no repo URL configured
// it only verifies the directory exists; cloning is the operator's
// responsibility in this runner.
func checkout(_ context.Context, actx Context) (*Result, error) {
	info, err := os.Stat(actx.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("working directory %s: %w", actx.WorkDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("working directory %s is not a directory", actx.WorkDir)
	}
	out := fmt.Sprintf("using working directory %s", actx.WorkDir)
	if actx.Event.HeadSHA != "" {
		out += " at " + actx.Event.HeadSHA
	}
	return &Result{Output: out + "\n"}, nil
}

// setupPython locates an interpreter and exports PYTHON and
// PYTHON_VERSION to the rest of the job. A requested version requires
// the matching versioned binary (python3.10); the python3/python
// fallbacks apply only when no version was requested, so a step never
// runs against a different interpreter than it declared.
func setupPython(_ context.Context, actx Context) (*Result, error) {
	version := actx.With["python-version"]

	candidates := []string{"python3", "python"}
	if version != "" {
		candidates = []string{"python" + version}
	}

	for _, name := range candidates {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		return &Result{
			Output: fmt.Sprintf("using %s\n", path),
			Env: map[string]string{
				"PYTHON":         path,
				"PYTHON_VERSION": version,
			},
		}, nil
	}

	if version != "" {
		return nil, fmt.Errorf("no python interpreter found for version %s", version)
	}
	return nil, fmt.Errorf("no python interpreter found")
}
