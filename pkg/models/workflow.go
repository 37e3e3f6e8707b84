package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Workflow is a CI workflow declaration: trigger predicates plus a set
// of named jobs. The YAML shape follows the common `on`/`jobs` layout.
type Workflow struct {
	Name string         `yaml:"name" json:"name"`
	On   Triggers       `yaml:"on,omitempty" json:"on,omitempty"`
	Jobs map[string]Job `yaml:"jobs" json:"jobs"`
}

// Triggers holds the event predicates a workflow subscribes to.
// A nil predicate means the workflow does not listen for that event.
type Triggers struct {
	Push        *BranchFilter `yaml:"push,omitempty" json:"push,omitempty"`
	PullRequest *BranchFilter `yaml:"pull_request,omitempty" json:"pull_request,omitempty"`
}

// UnmarshalYAML accepts the common `on` spellings: a single event name,
// a list of event names, or a mapping of event name to branch filter. A
// bare key ("pull_request:") subscribes to the event on every branch, so
// key presence must survive a null value.
func (t *Triggers) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return t.set(node.Value, &BranchFilter{})
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if err := t.set(item.Value, &BranchFilter{}); err != nil {
				return err
			}
		}
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			val := node.Content[i+1]
			filter := &BranchFilter{}
			if val.Kind == yaml.MappingNode {
				if err := val.Decode(filter); err != nil {
					return err
				}
			}
			if err := t.set(key, filter); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("on: expected event name, list, or mapping")
	}
}

func (t *Triggers) set(event string, filter *BranchFilter) error {
	switch event {
	case "push":
		t.Push = filter
	case "pull_request":
		t.PullRequest = filter
	default:
		return fmt.Errorf("unsupported trigger event %q", event)
	}
	return nil
}

// BranchFilter narrows an event trigger to a set of branches.
// An empty Branches list matches every branch.
type BranchFilter struct {
	Branches []string `yaml:"branches,omitempty" json:"branches,omitempty"`
}

type Job struct {
	RunsOn string            `yaml:"runs-on,omitempty" json:"runsOn,omitempty"`
	Env    map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Steps  []Step            `yaml:"steps" json:"steps"`
}

// Step is a single job step. Exactly one of Run or Uses is set: Run is a
// shell command string, Uses names a builtin action such as
// "actions/checkout@v4".
type Step struct {
	Name            string            `yaml:"name,omitempty" json:"name,omitempty"`
	Run             string            `yaml:"run,omitempty" json:"run,omitempty"`
	Uses            string            `yaml:"uses,omitempty" json:"uses,omitempty"`
	With            map[string]string `yaml:"with,omitempty" json:"with,omitempty"`
	Env             map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Timeout         string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	ContinueOnError bool              `yaml:"continue_on_error,omitempty" json:"continueOnError,omitempty"`
}

// Label returns the step's display name, falling back to the command or
// action reference when no name was declared.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	return s.Run
}
