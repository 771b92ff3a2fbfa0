// Package store implements the durable relational store for the dialectic
// pipeline using SQLite: projects, sessions, jobs, contributions, feedback,
// and the RAG document index.
//
// The store owns the two concurrency-sensitive operations of the engine:
// atomic job claiming (pending -> processing) and optimistic session status
// updates (conditional on the expected current status).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"dialectica/internal/logging"
)

// Store wraps the SQLite database.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// New initializes the SQLite database at the given path.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	logging.Store("Initializing store at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable sqlite foreign_keys: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Database schema initialized")

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for tooling and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		initial_user_prompt TEXT NOT NULL,
		domain_id TEXT NOT NULL DEFAULT '',
		process_template_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id),
		status TEXT NOT NULL,
		current_stage_slug TEXT NOT NULL,
		iteration_count INTEGER NOT NULL DEFAULT 1,
		selected_models TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		job_type TEXT NOT NULL CHECK (job_type IN ('PLAN','EXECUTE')),
		parent_job_id TEXT REFERENCES jobs(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		stage_slug TEXT NOT NULL,
		iteration_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		payload TEXT NOT NULL,
		results TEXT,
		error_details TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_parent ON jobs(parent_job_id);
	CREATE INDEX IF NOT EXISTS idx_jobs_session_stage ON jobs(session_id, stage_slug, iteration_number);

	CREATE TABLE IF NOT EXISTS contributions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		project_id TEXT NOT NULL,
		stage_slug TEXT NOT NULL,
		iteration_number INTEGER NOT NULL,
		model_id TEXT NOT NULL,
		model_slug TEXT NOT NULL,
		contribution_type TEXT NOT NULL,
		document_key TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		raw_response_path TEXT NOT NULL DEFAULT '',
		seed_prompt_path TEXT NOT NULL DEFAULT '',
		edit_version INTEGER NOT NULL DEFAULT 1,
		is_latest_edit INTEGER NOT NULL DEFAULT 1,
		original_contribution_id TEXT,
		source_document_id TEXT,
		source_group TEXT,
		paired_model_id TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		tokens_input INTEGER NOT NULL DEFAULT 0,
		tokens_output INTEGER NOT NULL DEFAULT 0,
		processing_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_contrib_lookup
		ON contributions(session_id, iteration_number, stage_slug, is_latest_edit);
	CREATE INDEX IF NOT EXISTS idx_contrib_model
		ON contributions(session_id, model_id, contribution_type);

	CREATE TABLE IF NOT EXISTS feedback (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		project_id TEXT NOT NULL,
		stage_slug TEXT NOT NULL,
		iteration_number INTEGER NOT NULL,
		model_id TEXT NOT NULL,
		document_key TEXT NOT NULL,
		storage_path TEXT NOT NULL,
		file_name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(session_id, stage_slug, iteration_number, model_id, document_key)
	);

	CREATE TABLE IF NOT EXISTS document_index (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		contribution_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		stage_slug TEXT NOT NULL DEFAULT '',
		model_id TEXT NOT NULL DEFAULT '',
		document_key TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(contribution_id, chunk_index)
	);
	CREATE INDEX IF NOT EXISTS idx_docindex_session ON document_index(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// now returns the canonical timestamp encoding used across all tables.
func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTime(v.String)
	return &t
}
