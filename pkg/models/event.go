package models

type EventType string

const (
	EventPush        EventType = "push"
	EventPullRequest EventType = "pull_request"
)

// Event is a repository event delivered to the dispatcher, either by the
// HTTP API or synthesized by the CLI for local runs.
type Event struct {
	Type    EventType `json:"type"`
	Repo    string    `json:"repo,omitempty"`
	Branch  string    `json:"branch"`
	HeadSHA string    `json:"headSha,omitempty"`
	Sender  string    `json:"sender,omitempty"`
}
