package store

import (
	"github.com/conveyci/convey/pkg/models"
)

type Store interface {
	PutWorkflow(wf *models.Workflow) error
	GetWorkflow(name string) (*models.Workflow, error)
	ListWorkflows() ([]*models.Workflow, error)
	DeleteWorkflow(name string) error

	CreateRun(run *models.RunRecord) error
	GetRun(id string) (*models.RunRecord, error)
	UpdateRun(run *models.RunRecord) error
	ListRuns(workflow string, limit int) ([]*models.RunRecord, error)
	AppendRunLog(id string, entry models.RunLog) error
	GetRunLogs(id string) ([]models.RunLog, error)

	Watch() <-chan WorkflowEvent

	Migrate() error
	Close() error
}

type EventType string

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
	EventDeleted EventType = "DELETED"
)

type WorkflowEvent struct {
	Type     EventType
	Workflow *models.Workflow
}
