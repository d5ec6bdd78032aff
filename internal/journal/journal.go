// Package journal keeps an append-only record of finished jobs in SQLite.
// Only terminal results are written; live job state stays in memory.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"plugin-jobs/internal/logger"
	"plugin-jobs/internal/model"
)

const FileName = "journal.db"

const schema = `
CREATE TABLE IF NOT EXISTS job_results (
	job_id      TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	guild_id    TEXT NOT NULL DEFAULT '',
	plugin_name TEXT NOT NULL,
	status      TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	total       INTEGER NOT NULL DEFAULT 0,
	completed   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	summary     TEXT NOT NULL DEFAULT '',
	preview     TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_results_owner ON job_results(owner_id, finished_at);
`

type Entry struct {
	JobID      string    `json:"job_id"`
	OwnerID    string    `json:"owner_id"`
	GuildID    string    `json:"guild_id,omitempty"`
	PluginName string    `json:"plugin_name"`
	Status     string    `json:"status"`
	Title      string    `json:"title,omitempty"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Summary    string    `json:"summary"`
	Preview    string    `json:"preview,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Journal struct {
	db  *sql.DB
	log logger.Logger
}

// Open creates or opens <dataDir>/journal.db.
func Open(dataDir string, log logger.Logger) (*Journal, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, FileName)
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize journal schema: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Journal{db: db, log: log}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records a terminal result. Re-appending the same job replaces the row.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO job_results
			(job_id, owner_id, guild_id, plugin_name, status, title, total, completed, failed,
			 summary, preview, error, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.JobID, e.OwnerID, e.GuildID, e.PluginName, e.Status, e.Title,
		e.Total, e.Completed, e.Failed, e.Summary, e.Preview, e.Error,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append journal entry %s: %w", e.JobID, err)
	}
	return nil
}

// Recent returns the newest entries, for one owner when ownerID is set.
func (j *Journal) Recent(ctx context.Context, ownerID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT job_id, owner_id, guild_id, plugin_name, status, title, total, completed, failed,
		       summary, preview, error, created_at, finished_at
		FROM job_results`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY finished_at DESC, job_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created, finished string
		if err := rows.Scan(&e.JobID, &e.OwnerID, &e.GuildID, &e.PluginName, &e.Status, &e.Title,
			&e.Total, &e.Completed, &e.Failed, &e.Summary, &e.Preview, &e.Error, &created, &finished); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		e.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return out, nil
}

// JobTransitioned implements registry.Observer and journals terminal jobs.
func (j *Journal) JobTransitioned(job model.Job, _ string) {
	if !model.IsTerminal(job.Status) {
		return
	}
	if err := j.Append(context.Background(), EntryFromJob(job)); err != nil {
		j.log.Error("journal append failed", logger.String("job_id", job.ID), logger.Error(err))
	}
}

func EntryFromJob(job model.Job) Entry {
	e := Entry{
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		GuildID:    job.GuildID,
		PluginName: job.PluginName,
		Status:     job.Status,
		Title:      job.Title(),
		Preview:    job.ResultPreview,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
	if e.FinishedAt.IsZero() {
		e.FinishedAt = time.Now().UTC()
	}
	if job.Playlist != nil {
		e.Total = job.Playlist.Total
		e.Completed = job.Playlist.Completed
		e.Failed = job.Playlist.Failed
	}
	e.Summary = model.Summary(job)
	return e
}
