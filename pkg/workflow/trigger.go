package workflow

import "github.com/conveyci/convey/pkg/models"

// Matches reports whether the workflow's trigger predicates accept the
// event. A workflow with no `on` block matches nothing; a branch filter
// with no branches matches every branch.
func Matches(wf *models.Workflow, ev models.Event) bool {
	switch ev.Type {
	case models.EventPush:
		return branchMatch(wf.On.Push, ev.Branch)
	case models.EventPullRequest:
		return branchMatch(wf.On.PullRequest, ev.Branch)
	default:
		return false
	}
}

func branchMatch(filter *models.BranchFilter, branch string) bool {
	if filter == nil {
		return false
	}
	if len(filter.Branches) == 0 {
		return true
	}
	for _, b := range filter.Branches {
		if b == branch {
			return true
		}
	}
	return false
}
