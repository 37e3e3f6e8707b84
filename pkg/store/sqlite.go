package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/conveyci/convey/pkg/models"
)

type SQLiteStore struct {
	db       *sql.DB
	mu       sync.RWMutex
	watchers []chan WorkflowEvent
	watchMu  sync.RWMutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		name TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		workflow_name TEXT NOT NULL,
		job_name TEXT NOT NULL,
		state TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		step INTEGER DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow_name);
	CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
	CREATE INDEX IF NOT EXISTS idx_run_logs_run_id ON run_logs(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutWorkflow(wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var exists int
	err := s.db.QueryRow("SELECT COUNT(1) FROM workflows WHERE name = ?", wf.Name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check workflow: %w", err)
	}

	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO workflows (name, data, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, wf.Name, string(data), now, now)
	if err != nil {
		return fmt.Errorf("upsert workflow: %w", err)
	}

	evtType := EventUpdated
	if exists == 0 {
		evtType = EventCreated
	}
	s.emit(WorkflowEvent{Type: evtType, Workflow: wf})
	return nil
}

func (s *SQLiteStore) GetWorkflow(name string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT data FROM workflows WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("query workflow: %w", err)
	}

	var wf models.Workflow
	if err := json.Unmarshal([]byte(data), &wf); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &wf, nil
}

func (s *SQLiteStore) ListWorkflows() ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT data FROM workflows ORDER BY name ASC")
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var results []*models.Workflow
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var wf models.Workflow
		if err := json.Unmarshal([]byte(data), &wf); err != nil {
			return nil, err
		}
		results = append(results, &wf)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) DeleteWorkflow(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, err := s.getWorkflowUnlocked(name)
	if err != nil {
		return err
	}

	_, err = s.db.Exec("DELETE FROM workflows WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}

	s.emit(WorkflowEvent{Type: EventDeleted, Workflow: wf})
	return nil
}

func (s *SQLiteStore) getWorkflowUnlocked(name string) (*models.Workflow, error) {
	var data string
	err := s.db.QueryRow("SELECT data FROM workflows WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %s not found", name)
	}
	if err != nil {
		return nil, err
	}
	var wf models.Workflow
	if err := json.Unmarshal([]byte(data), &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *SQLiteStore) CreateRun(run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now

	data, err := json.Marshal(run)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, workflow_name, job_name, state, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.WorkflowName, run.JobName, string(run.State), string(data), now, now)
	return err
}

func (s *SQLiteStore) GetRun(id string) (*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT data FROM runs WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	var run models.RunRecord
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) UpdateRun(run *models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		UPDATE runs SET state = ?, data = ?, updated_at = ? WHERE id = ?
	`, string(run.State), string(data), run.UpdatedAt, run.ID)
	return err
}

func (s *SQLiteStore) ListRuns(workflow string, limit int) ([]*models.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT data FROM runs"
	args := []interface{}{}
	if workflow != "" {
		query += " WHERE workflow_name = ?"
		args = append(args, workflow)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.RunRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var run models.RunRecord
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			return nil, err
		}
		results = append(results, &run)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) AppendRunLog(id string, entry models.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO run_logs (run_id, timestamp, level, message, step)
		VALUES (?, ?, ?, ?, ?)
	`, id, entry.Timestamp, entry.Level, entry.Message, entry.Step)
	return err
}

func (s *SQLiteStore) GetRunLogs(id string) ([]models.RunLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT timestamp, level, message, step FROM run_logs WHERE run_id = ? ORDER BY id ASC",
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.RunLog
	for rows.Next() {
		var l models.RunLog
		if err := rows.Scan(&l.Timestamp, &l.Level, &l.Message, &l.Step); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Watch support

func (s *SQLiteStore) Watch() <-chan WorkflowEvent {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	ch := make(chan WorkflowEvent, 100)
	s.watchers = append(s.watchers, ch)
	return ch
}

func (s *SQLiteStore) emit(event WorkflowEvent) {
	s.watchMu.RLock()
	defer s.watchMu.RUnlock()

	for _, ch := range s.watchers {
		select {
		case ch <- event:
		default:
			// Drop event if channel is full — non-blocking
		}
	}
}
