package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/conveyci/convey/pkg/actions"
	"github.com/conveyci/convey/pkg/models"
)

// ValidationError collects every problem found in a declaration so the
// user can fix them in one pass.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid workflow: %s", strings.Join(e.Problems, "; "))
}

// Validate checks structural rules: every job has steps, every step has
// exactly one of run/uses, uses references resolve to a known action,
// timeouts parse, and `with` inputs only appear on action steps.
func Validate(wf *models.Workflow) error {
	var problems []string

	if len(wf.Jobs) == 0 {
		problems = append(problems, "workflow has no jobs")
	}

	for jobName, job := range wf.Jobs {
		if len(job.Steps) == 0 {
			problems = append(problems, fmt.Sprintf("job %q has no steps", jobName))
		}
		for i, step := range job.Steps {
			where := fmt.Sprintf("job %q step %d", jobName, i+1)

			switch {
			case step.Run == "" && step.Uses == "":
				problems = append(problems, where+": needs either run or uses")
			case step.Run != "" && step.Uses != "":
				problems = append(problems, where+": run and uses are mutually exclusive")
			}

			if step.Uses != "" && !actions.Known(step.Uses) {
				problems = append(problems, fmt.Sprintf("%s: unknown action %q", where, step.Uses))
			}
			if step.Run != "" && len(step.With) > 0 {
				problems = append(problems, where+": with inputs are only valid on uses steps")
			}
			if step.Timeout != "" {
				if _, err := time.ParseDuration(step.Timeout); err != nil {
					problems = append(problems, fmt.Sprintf("%s: bad timeout %q", where, step.Timeout))
				}
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
