package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"launcher-go/internal/core"
)

// DB saves download tasks in SQLite. It implements core.Persister.
type DB struct {
	db *sql.DB
}

var _ core.Persister = (*DB)(nil)

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func createTables(db *sql.DB) error {
	query := `
    CREATE TABLE IF NOT EXISTS tasks (
        id TEXT PRIMARY KEY,
        seq INTEGER NOT NULL,
        url TEXT NOT NULL,
        destination TEXT NOT NULL,
        file_name TEXT NOT NULL,
        source_kind TEXT NOT NULL DEFAULT '',
        provider TEXT NOT NULL DEFAULT '',
        state INTEGER NOT NULL DEFAULT 0,
        priority INTEGER NOT NULL DEFAULT 5,
        retries INTEGER NOT NULL DEFAULT 0,
        downloaded INTEGER NOT NULL DEFAULT 0,
        size INTEGER NOT NULL DEFAULT 0,
        percent REAL NOT NULL DEFAULT 0,
        expected_checksum TEXT NOT NULL DEFAULT '',
        supports_resume INTEGER NOT NULL DEFAULT 0,
        metadata TEXT NOT NULL DEFAULT '{}',
        error TEXT,
        error_kind TEXT,
        stop_request TEXT NOT NULL DEFAULT '',
        created_at DATETIME NOT NULL,
        started_at DATETIME,
        completed_at DATETIME
    );
    CREATE INDEX IF NOT EXISTS idx_tasks_seq ON tasks(seq);`

	_, err := db.Exec(query)
	return err
}

// SaveTask inserts or replaces the record of t.
func (d *DB) SaveTask(ctx context.Context, t *core.Task) error {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query := `
    INSERT INTO tasks (id, seq, url, destination, file_name, source_kind, provider, state, priority, retries,
                       downloaded, size, percent, expected_checksum, supports_resume, metadata, error, error_kind,
                       stop_request, created_at, started_at, completed_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        state = excluded.state,
        priority = excluded.priority,
        retries = excluded.retries,
        downloaded = excluded.downloaded,
        size = excluded.size,
        percent = excluded.percent,
        supports_resume = excluded.supports_resume,
        metadata = excluded.metadata,
        error = excluded.error,
        error_kind = excluded.error_kind,
        stop_request = excluded.stop_request,
        started_at = excluded.started_at,
        completed_at = excluded.completed_at`

	_, err = d.db.ExecContext(ctx, query,
		t.ID,
		t.Seq,
		t.URL,
		t.Destination,
		t.FileName,
		t.SourceKind,
		t.Provider,
		int(t.State),
		int(t.Priority),
		t.Retries,
		t.Progress.DownloadedBytes,
		t.Progress.TotalBytes,
		t.Progress.Percent,
		t.ExpectedChecksum,
		t.SupportsResume,
		string(metadata),
		nullString(t.Error),
		nullString(string(t.ErrorKind)),
		string(t.StopRequest),
		t.CreatedAt,
		t.StartedAt,
		t.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTask removes the record of id. Missing records are not an error.
func (d *DB) DeleteTask(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

const selectTasks = `
    SELECT id, seq, url, destination, file_name, source_kind, provider, state, priority, retries,
           downloaded, size, percent, expected_checksum, supports_resume, metadata, error, error_kind,
           stop_request, created_at, started_at, completed_at
    FROM tasks`

// GetTask loads one task.
func (d *DB) GetTask(ctx context.Context, id string) (*core.Task, error) {
	row := d.db.QueryRowContext(ctx, selectTasks+" WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}
	return t, err
}

// LoadTasks returns every saved task in submission order.
func (d *DB) LoadTasks(ctx context.Context) ([]*core.Task, error) {
	rows, err := d.db.QueryContext(ctx, selectTasks+" ORDER BY seq ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*core.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*core.Task, error) {
	t := &core.Task{}
	var (
		state, priority        int
		metadata               string
		errText, errKind       sql.NullString
		stopRequest            string
		startedAt, completedAt sql.NullTime
	)

	err := row.Scan(
		&t.ID,
		&t.Seq,
		&t.URL,
		&t.Destination,
		&t.FileName,
		&t.SourceKind,
		&t.Provider,
		&state,
		&priority,
		&t.Retries,
		&t.Progress.DownloadedBytes,
		&t.Progress.TotalBytes,
		&t.Progress.Percent,
		&t.ExpectedChecksum,
		&t.SupportsResume,
		&metadata,
		&errText,
		&errKind,
		&stopRequest,
		&t.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.State = core.State(state)
	t.Priority = core.Priority(priority)
	t.Error = errText.String
	t.ErrorKind = core.ErrorKind(errKind.String)
	t.StopRequest = core.StopRequest(stopRequest)
	t.Progress.ETASeconds = -1

	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", t.ID, err)
		}
	}
	if startedAt.Valid {
		ts := startedAt.Time
		t.StartedAt = &ts
	}
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
