package task

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS coordination_tasks (
	id                    TEXT PRIMARY KEY,
	description           TEXT NOT NULL,
	required_capabilities TEXT NOT NULL DEFAULT '[]',
	priority              REAL NOT NULL DEFAULT 0,
	deadline              DATETIME,
	assigned_agents       TEXT NOT NULL DEFAULT '[]',
	status                TEXT NOT NULL,
	team_id               TEXT NOT NULL DEFAULT '',
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL,
	completed_at          DATETIME
);
`

const columns = `id, description, required_capabilities, priority, deadline, assigned_agents,
	status, team_id, created_at, updated_at, completed_at`

// SQLiteStore persists tasks in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the tasks table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create persists a new task and sets its ID, CreatedAt, and UpdatedAt.
func (s *SQLiteStore) Create(t *Task) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	stamp(t, now)

	required, _ := json.Marshal(orEmpty(t.RequiredCapabilities))
	assigned, _ := json.Marshal(orEmpty(t.AssignedAgents))

	_, err := s.db.Exec(`
		INSERT INTO coordination_tasks (`+columns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Description, string(required), t.Priority, nullTime(t.Deadline),
		string(assigned), string(t.Status), t.TeamID,
		t.CreatedAt, t.UpdatedAt, nullTime(t.CompletedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+columns+` FROM coordination_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, err
}

// Update saves changes to an existing task, updating UpdatedAt automatically.
func (s *SQLiteStore) Update(t *Task) error {
	stamp(t, time.Now().UTC())
	required, _ := json.Marshal(orEmpty(t.RequiredCapabilities))
	assigned, _ := json.Marshal(orEmpty(t.AssignedAgents))

	res, err := s.db.Exec(`
		UPDATE coordination_tasks SET
			description=?, required_capabilities=?, priority=?, deadline=?,
			assigned_agents=?, status=?, team_id=?, updated_at=?, completed_at=?
		WHERE id=?`,
		t.Description, string(required), t.Priority, nullTime(t.Deadline),
		string(assigned), string(t.Status), t.TeamID, t.UpdatedAt, nullTime(t.CompletedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
	}
	return nil
}

// List returns tasks matching the filter, highest priority first.
func (s *SQLiteStore) List(filter Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT " + columns + " FROM coordination_tasks WHERE 1=1")
	args := []any{}

	if filter.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*filter.Status))
	}
	if filter.AssignedTo != "" {
		q.WriteString(" AND EXISTS (SELECT 1 FROM json_each(assigned_agents) WHERE value=?)")
		args = append(args, filter.AssignedTo)
	}
	if filter.TeamID != "" {
		q.WriteString(" AND team_id=?")
		args = append(args, filter.TeamID)
	}
	q.WriteString(" ORDER BY priority DESC, created_at ASC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}

	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Delete removes a task by ID.
func (s *SQLiteStore) Delete(id string) error {
	res, err := s.db.Exec("DELETE FROM coordination_tasks WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status, requiredJSON, assignedJSON string
	var deadline, completedAt sql.NullTime

	err := s.Scan(
		&t.ID, &t.Description, &requiredJSON, &t.Priority, &deadline,
		&assignedJSON, &status, &t.TeamID,
		&t.CreatedAt, &t.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	_ = json.Unmarshal([]byte(requiredJSON), &t.RequiredCapabilities)
	_ = json.Unmarshal([]byte(assignedJSON), &t.AssignedAgents)

	if deadline.Valid {
		t.Deadline = &deadline.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
