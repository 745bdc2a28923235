// Package journal records per-key removal outcomes in a SQLite database.
//
// The journal is the durable record of what a removal run did: every
// deleted or failed key is upserted as its completion is reported, and
// run-level metadata is kept alongside. A later run pointed at the same
// journal can resume: keys already recorded as deleted are skipped
// without a provider call.
//
// Local journals run on pure-Go SQLite; cgo builds can also point at
// remote libsql/Turso databases.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const schemaVersion = 1

// Item statuses.
const (
	// StatusDeleted marks keys whose removal succeeded, including keys
	// the provider reported already absent.
	StatusDeleted = "deleted"

	// StatusFailed marks keys whose removal failed.
	StatusFailed = "failed"
)

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
	RunStatusAborted  = "aborted"
)

// Config locates the journal database.
type Config struct {
	// Path is a local filesystem path to the journal database.
	// If set, it is converted into a libsql-compatible DSN (file:<path>).
	Path string

	// URL is a libsql/Turso URL, e.g. libsql://your-db.turso.io.
	URL string

	// AuthToken is appended to URL-based DSNs as authToken=... when not
	// already present.
	AuthToken string
}

// Journal is an open removal journal.
type Journal struct {
	db *sql.DB
}

// Open opens (and creates if needed) a removal journal.
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	j := &Journal{db: db}
	if err := j.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS journal_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO journal_meta (id, schema_version, created_at) VALUES (1, ?, ?);`,
		`CREATE TABLE IF NOT EXISTS journal_runs (
			job_id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			provider TEXT NOT NULL,
			scope_hash TEXT NOT NULL DEFAULT '',
			dry_run INTEGER NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			objects_deleted INTEGER NOT NULL DEFAULT 0,
			objects_failed INTEGER NOT NULL DEFAULT 0,
			bytes_deleted INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS journal_items (
			key TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			status TEXT NOT NULL,
			size_bytes INTEGER,
			not_found INTEGER NOT NULL DEFAULT 0,
			error_code TEXT,
			error_message TEXT,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_journal_items_status ON journal_items(status);`,
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, stmt := range stmts {
		if i == 1 {
			if _, err := j.db.ExecContext(ctx, stmt, schemaVersion, now); err != nil {
				return fmt.Errorf("init journal meta: %w", err)
			}
			continue
		}
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init journal schema: %w", err)
		}
	}
	return nil
}

// StartRunParams describes a run being opened in the journal.
type StartRunParams struct {
	JobID    string
	Target   string
	Provider string

	// ScopeHash is the canonical hash of the run's remove.scope, empty
	// when the job has none. Resume compares it against the previous
	// run before trusting journaled keys.
	ScopeHash string

	DryRun bool
}

// StartRun records a run as running.
func (j *Journal) StartRun(ctx context.Context, p StartRunParams) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO journal_runs (job_id, target, provider, scope_hash, dry_run, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			target=excluded.target,
			provider=excluded.provider,
			scope_hash=excluded.scope_hash,
			dry_run=excluded.dry_run,
			status=excluded.status,
			started_at=excluded.started_at
	`, p.JobID, p.Target, p.Provider, p.ScopeHash, boolToInt(p.DryRun), RunStatusRunning, now)
	if err != nil {
		return fmt.Errorf("journal start run: %w", err)
	}
	return nil
}

// FinishRunParams describes a run's final state.
type FinishRunParams struct {
	JobID          string
	Status         string
	ObjectsDeleted int64
	ObjectsFailed  int64
	BytesDeleted   int64
}

// FinishRun records a run's terminal status and counters.
func (j *Journal) FinishRun(ctx context.Context, p FinishRunParams) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := j.db.ExecContext(ctx, `
		UPDATE journal_runs SET
			status = ?,
			finished_at = ?,
			objects_deleted = ?,
			objects_failed = ?,
			bytes_deleted = ?
		WHERE job_id = ?
	`, p.Status, now, p.ObjectsDeleted, p.ObjectsFailed, p.BytesDeleted, p.JobID)
	if err != nil {
		return fmt.Errorf("journal finish run: %w", err)
	}
	return nil
}

// RecordDeleted upserts a key as successfully removed.
func (j *Journal) RecordDeleted(ctx context.Context, jobID, key string, size int64, notFound bool) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO journal_items (key, job_id, status, size_bytes, not_found, error_code, error_message, updated_at)
		VALUES (?, ?, ?, ?, ?, '', '', ?)
		ON CONFLICT(key) DO UPDATE SET
			job_id=excluded.job_id,
			status=excluded.status,
			size_bytes=excluded.size_bytes,
			not_found=excluded.not_found,
			error_code='',
			error_message='',
			updated_at=excluded.updated_at
	`, key, jobID, StatusDeleted, size, boolToInt(notFound), now)
	if err != nil {
		return fmt.Errorf("journal record deleted %q: %w", key, err)
	}
	return nil
}

// RecordFailed upserts a key as failed with its error classification.
func (j *Journal) RecordFailed(ctx context.Context, jobID, key, code, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO journal_items (key, job_id, status, size_bytes, not_found, error_code, error_message, updated_at)
		VALUES (?, ?, ?, NULL, 0, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			job_id=excluded.job_id,
			status=excluded.status,
			not_found=0,
			error_code=excluded.error_code,
			error_message=excluded.error_message,
			updated_at=excluded.updated_at
	`, key, jobID, StatusFailed, code, message, now)
	if err != nil {
		return fmt.Errorf("journal record failed %q: %w", key, err)
	}
	return nil
}

// IsDeleted reports whether the journal records the key as removed.
func (j *Journal) IsDeleted(ctx context.Context, key string) (bool, error) {
	var status string
	err := j.db.QueryRowContext(ctx, `SELECT status FROM journal_items WHERE key = ?`, key).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return status == StatusDeleted, nil
}

// RunInfo summarizes one journaled run.
type RunInfo struct {
	JobID          string
	Target         string
	Provider       string
	ScopeHash      string
	Status         string
	DryRun         bool
	StartedAt      string
	FinishedAt     string
	ObjectsDeleted int64
	ObjectsFailed  int64
	BytesDeleted   int64
}

// LatestRun returns the most recently started run, or nil when the
// journal has none.
func (j *Journal) LatestRun(ctx context.Context) (*RunInfo, error) {
	var r RunInfo
	var dryRun int
	var finished sql.NullString
	err := j.db.QueryRowContext(ctx, `
		SELECT job_id, target, provider, scope_hash, status, dry_run, started_at, finished_at,
			objects_deleted, objects_failed, bytes_deleted
		FROM journal_runs
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&r.JobID, &r.Target, &r.Provider, &r.ScopeHash, &r.Status, &dryRun, &r.StartedAt,
		&finished, &r.ObjectsDeleted, &r.ObjectsFailed, &r.BytesDeleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal latest run: %w", err)
	}
	r.DryRun = dryRun != 0
	r.FinishedAt = finished.String
	return &r, nil
}

// Failure summarizes one failed key.
type Failure struct {
	Key          string
	ErrorCode    string
	ErrorMessage string
	UpdatedAt    string
}

// Summary aggregates a journal for display.
type Summary struct {
	// TotalItems is the number of journaled keys.
	TotalItems int64

	// Deleted counts keys recorded as removed.
	Deleted int64

	// NotFound counts removed keys the provider reported already gone.
	NotFound int64

	// Failed counts keys recorded as failed.
	Failed int64

	// BytesDeleted is the cumulative recorded size of removed keys.
	BytesDeleted int64

	// Runs lists journaled runs, newest first.
	Runs []RunInfo

	// RecentFailures lists failed keys, newest first.
	RecentFailures []Failure
}

// Summarize aggregates item and run tables. failureLimit caps
// RecentFailures; zero or negative means 10.
func (j *Journal) Summarize(ctx context.Context, failureLimit int) (*Summary, error) {
	if failureLimit <= 0 {
		failureLimit = 10
	}

	s := &Summary{}
	err := j.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN not_found ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN COALESCE(size_bytes, 0) ELSE 0 END), 0)
		FROM journal_items
	`, StatusDeleted, StatusDeleted, StatusFailed, StatusDeleted).
		Scan(&s.TotalItems, &s.Deleted, &s.NotFound, &s.Failed, &s.BytesDeleted)
	if err != nil {
		return nil, fmt.Errorf("journal totals: %w", err)
	}

	runs, err := j.db.QueryContext(ctx, `
		SELECT job_id, target, provider, scope_hash, status, dry_run, started_at, finished_at,
			objects_deleted, objects_failed, bytes_deleted
		FROM journal_runs
		ORDER BY started_at DESC
		LIMIT 20
	`)
	if err != nil {
		return nil, fmt.Errorf("journal runs: %w", err)
	}
	defer runs.Close()
	for runs.Next() {
		var r RunInfo
		var dryRun int
		var finished sql.NullString
		if err := runs.Scan(&r.JobID, &r.Target, &r.Provider, &r.ScopeHash, &r.Status, &dryRun, &r.StartedAt,
			&finished, &r.ObjectsDeleted, &r.ObjectsFailed, &r.BytesDeleted); err != nil {
			return nil, fmt.Errorf("journal runs: %w", err)
		}
		r.DryRun = dryRun != 0
		r.FinishedAt = finished.String
		s.Runs = append(s.Runs, r)
	}
	if err := runs.Err(); err != nil {
		return nil, fmt.Errorf("journal runs: %w", err)
	}

	failures, err := j.db.QueryContext(ctx, `
		SELECT key, COALESCE(error_code, ''), COALESCE(error_message, ''), updated_at
		FROM journal_items
		WHERE status = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`, StatusFailed, failureLimit)
	if err != nil {
		return nil, fmt.Errorf("journal failures: %w", err)
	}
	defer failures.Close()
	for failures.Next() {
		var f Failure
		if err := failures.Scan(&f.Key, &f.ErrorCode, &f.ErrorMessage, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("journal failures: %w", err)
		}
		s.RecentFailures = append(s.RecentFailures, f)
	}
	if err := failures.Err(); err != nil {
		return nil, fmt.Errorf("journal failures: %w", err)
	}

	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func buildDSN(cfg Config) (string, error) {
	if u := strings.TrimSpace(cfg.URL); u != "" {
		return addAuthToken(u, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("journal path or url is required")
	}
	if path == ":memory:" {
		return path, nil
	}

	if strings.HasPrefix(path, "file:") || strings.HasPrefix(path, "libsql:") {
		if strings.HasPrefix(path, "file:") {
			localPath, err := extractFilePath(path)
			if err != nil {
				return "", err
			}
			if err := ensureJournalDir(localPath); err != nil {
				return "", err
			}
		}
		return path, nil
	}

	if err := ensureJournalDir(path); err != nil {
		return "", err
	}

	return "file:" + filepath.Clean(path), nil
}

func addAuthToken(dsn string, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return dsn, nil
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid journal url: %w", err)
	}

	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}

	return parsed.String(), nil
}

func extractFilePath(dsn string) (string, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid journal path: %w", err)
	}

	if parsed.Path != "" {
		return strings.TrimPrefix(parsed.Path, "//"), nil
	}

	return strings.TrimPrefix(parsed.Opaque, "//"), nil
}

func configureLocalSQLite(ctx context.Context, db *sql.DB, dsn string) error {
	if db == nil {
		return errors.New("journal connection is nil")
	}
	if dsn == ":memory:" {
		return nil
	}
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	// Keep a single connection and use WAL to reduce lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	return nil
}

func ensureJournalDir(path string) error {
	if strings.TrimSpace(path) == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	return nil
}
