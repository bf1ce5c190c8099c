// Package store provides SQLite-backed persistence for lewis: task state
// with optimistic-concurrency checkpoints, the append-only event log, the
// CBR case table, the async work queue and the per-task driver leases.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lewisai/lewis/internal/models"
)

// Store provides access to the lewis SQLite database.
type Store struct {
	db *sql.DB
}

// ErrVersionConflict indicates an optimistic-concurrency mismatch on save.
// Callers reload the task and reapply their in-memory delta.
var ErrVersionConflict = fmt.Errorf("task version conflict")

// ErrTaskBusy indicates another driver holds the task's execution lease.
var ErrTaskBusy = fmt.Errorf("task already has an active driver lease")

// ErrNotFound indicates the requested task does not exist.
var ErrNotFound = fmt.Errorf("task not found")

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		goal TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'created',
		metadata TEXT,
		plan TEXT,
		cursor INTEGER NOT NULL DEFAULT 0,
		outputs TEXT,
		failed_steps TEXT,
		iterations INTEGER NOT NULL DEFAULT 0,
		recursion_limit INTEGER NOT NULL DEFAULT 0,
		case_reuse INTEGER NOT NULL DEFAULT 1,
		artifact TEXT,
		score REAL,
		last_error TEXT,
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS events (
		task_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		source TEXT NOT NULL,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		payload TEXT,
		digest TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (task_id, seq),
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		reference_id TEXT NOT NULL,
		title TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		fp_digest TEXT NOT NULL,
		plan_hash TEXT NOT NULL,
		plan TEXT NOT NULL,
		score REAL NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (fp_digest, plan_hash)
	);

	CREATE TABLE IF NOT EXISTS queue (
		task_id TEXT PRIMARY KEY,
		deliveries INTEGER NOT NULL DEFAULT 0,
		leased_by TEXT,
		lease_expires DATETIME,
		dead INTEGER NOT NULL DEFAULT 0,
		enqueued_at DATETIME NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS driver_leases (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL UNIQUE,
		holder_id TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		uri TEXT NOT NULL,
		media_type TEXT NOT NULL,
		description TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_events_task_id ON events(task_id);
	CREATE INDEX IF NOT EXISTS idx_queue_dead ON queue(dead);
	CREATE INDEX IF NOT EXISTS idx_artifacts_task_id ON artifacts(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Task Operations ---

// CreateTask inserts a new task state at version 1.
func (s *Store) CreateTask(name, goal string, metadata map[string]interface{}) (*models.TaskState, error) {
	now := time.Now().UTC()
	task := &models.TaskState{
		ID:        uuid.New().String(),
		Name:      name,
		Goal:      goal,
		Status:    models.TaskStatusCreated,
		Metadata:  metadata,
		Outputs:   map[string]interface{}{},
		CaseReuse: true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	metaJSON, err := marshalOrNil(task.Metadata)
	if err != nil {
		return nil, err
	}
	outputsJSON, err := marshalOrNil(task.Outputs)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(
		`INSERT INTO tasks (id, name, goal, status, metadata, outputs, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Name, task.Goal, task.Status, metaJSON, outputsJSON, task.Version, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// GetTask retrieves a task by ID. Returns nil when the task does not exist.
func (s *Store) GetTask(id string) (*models.TaskState, error) {
	row := s.db.QueryRow(
		`SELECT id, name, goal, status, metadata, plan, cursor, outputs, failed_steps, iterations,
		        recursion_limit, case_reuse, artifact, score, last_error, cancel_requested, version,
		        created_at, updated_at, started_at, finished_at
		 FROM tasks WHERE id = ?`,
		id,
	)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// ListTasks returns all tasks, optionally filtered by status.
func (s *Store) ListTasks(status string) ([]models.TaskState, error) {
	query := `SELECT id, name, goal, status, metadata, plan, cursor, outputs, failed_steps, iterations,
	                 recursion_limit, case_reuse, artifact, score, last_error, cancel_requested, version,
	                 created_at, updated_at, started_at, finished_at
	          FROM tasks`
	var args []interface{}

	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.TaskState
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// SaveTask checkpoints the task state with an optimistic version check.
// On success the in-memory version is bumped; on a concurrent modification
// ErrVersionConflict is returned and nothing is written.
func (s *Store) SaveTask(task *models.TaskState) error {
	now := time.Now().UTC()

	metaJSON, err := marshalOrNil(task.Metadata)
	if err != nil {
		return err
	}
	planJSON, err := marshalOrNil(task.Plan)
	if err != nil {
		return err
	}
	outputsJSON, err := marshalOrNil(task.Outputs)
	if err != nil {
		return err
	}
	failedJSON, err := marshalOrNil(task.FailedSteps)
	if err != nil {
		return err
	}
	errJSON, err := marshalOrNil(task.LastError)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(
		`UPDATE tasks SET name = ?, goal = ?, status = ?, metadata = ?, plan = ?, cursor = ?, outputs = ?,
		        failed_steps = ?, iterations = ?, recursion_limit = ?, case_reuse = ?, artifact = ?, score = ?,
		        last_error = ?, cancel_requested = ?, version = version + 1, updated_at = ?, started_at = ?, finished_at = ?
		 WHERE id = ? AND version = ?`,
		task.Name, task.Goal, task.Status, metaJSON, planJSON, task.Cursor, outputsJSON,
		failedJSON, task.Iterations, task.RecursionLimit, boolToInt(task.CaseReuse),
		nullString(task.Artifact), nullFloat(task.Score), errJSON,
		boolToInt(task.CancelRequested), now, nullTime(task.StartedAt), nullTime(task.FinishedAt),
		task.ID, task.Version,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	task.Version++
	task.UpdatedAt = now
	return nil
}

// RequestCancel sets the cooperative cancellation flag on a non-terminal
// task. The version bump makes any in-flight checkpoint conflict, forcing
// the driver to reload and observe the flag.
func (s *Store) RequestCancel(id string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE tasks SET cancel_requested = 1, version = version + 1, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?)`,
		time.Now().UTC(), id, models.TaskStatusCompleted, models.TaskStatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return affected > 0, nil
}

// --- Event Log Operations ---

// AppendEvent appends an event to the task's log. Sequence numbers are
// assigned atomically so total order equals append order.
func (s *Store) AppendEvent(taskID, source string, kind models.EventKind, message string, payload interface{}) (*models.Event, error) {
	payloadJSON, err := marshalOrNil(payload)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE task_id = ?`, taskID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("next event seq: %w", err)
	}

	event := &models.Event{
		Seq:       seq,
		Source:    source,
		Kind:      kind,
		Message:   message,
		Digest:    hashPayload(payload),
		CreatedAt: time.Now().UTC(),
	}
	if payloadJSON.Valid {
		event.Payload = json.RawMessage(payloadJSON.String)
	}

	_, err = tx.Exec(
		`INSERT INTO events (task_id, seq, source, kind, message, payload, digest, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, event.Seq, event.Source, event.Kind, event.Message, payloadJSON, event.Digest, event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return event, nil
}

// ListEvents returns the task's events in append order.
func (s *Store) ListEvents(taskID string) ([]models.Event, error) {
	rows, err := s.db.Query(
		`SELECT seq, source, kind, message, payload, digest, created_at FROM events WHERE task_id = ? ORDER BY seq`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var payload sql.NullString
		if err := rows.Scan(&ev.Seq, &ev.Source, &ev.Kind, &ev.Message, &payload, &ev.Digest, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Case Operations ---

// InsertCase persists a CBR case. The write is idempotent on the
// (fingerprint digest, plan hash) pair: retried submissions of the same
// goal do not create duplicate cases.
func (s *Store) InsertCase(c *models.Case) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	fpJSON, err := json.Marshal(c.Fingerprint)
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}
	planJSON, err := json.Marshal(c.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	digest := sha256.Sum256(fpJSON)

	_, err = s.db.Exec(
		`INSERT INTO cases (id, reference_id, title, fingerprint, fp_digest, plan_hash, plan, score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ReferenceID, c.Title, string(fpJSON), hex.EncodeToString(digest[:]), c.PlanHash, string(planJSON), c.Score, c.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "unique constraint") {
			return nil
		}
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// ListCases returns all stored cases, newest first.
func (s *Store) ListCases() ([]models.Case, error) {
	rows, err := s.db.Query(
		`SELECT id, reference_id, title, fingerprint, plan_hash, plan, score, created_at FROM cases ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var cases []models.Case
	for rows.Next() {
		var c models.Case
		var fpJSON, planJSON string
		if err := rows.Scan(&c.ID, &c.ReferenceID, &c.Title, &fpJSON, &c.PlanHash, &planJSON, &c.Score, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		if err := json.Unmarshal([]byte(fpJSON), &c.Fingerprint); err != nil {
			return nil, fmt.Errorf("decode fingerprint: %w", err)
		}
		if err := json.Unmarshal([]byte(planJSON), &c.Plan); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// --- Queue Operations ---

// Enqueue adds a task id to the async work queue. Re-enqueueing an entry
// that is already queued resets its visibility so a suspended task is
// picked up again; a dead-lettered entry gets a fresh delivery budget.
func (s *Store) Enqueue(taskID string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO queue (task_id, deliveries, enqueued_at) VALUES (?, 0, ?)
		 ON CONFLICT(task_id) DO UPDATE SET leased_by = NULL, lease_expires = NULL, dead = 0, deliveries = 0`,
		taskID, now,
	)
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// ClaimNext atomically claims the oldest visible queue entry for holderID,
// making it invisible for the given timeout and counting the delivery.
// Entries whose delivery count would exceed maxDeliveries are moved to the
// dead-letter state instead of being returned. Returns nil when the queue
// has no visible work.
func (s *Store) ClaimNext(holderID string, visibility time.Duration, maxDeliveries int) (*models.QueueEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	for {
		var entry models.QueueEntry
		err := tx.QueryRow(
			`SELECT task_id, deliveries, enqueued_at FROM queue
			 WHERE dead = 0 AND (lease_expires IS NULL OR lease_expires <= ?)
			 ORDER BY enqueued_at LIMIT 1`,
			now,
		).Scan(&entry.TaskID, &entry.Deliveries, &entry.EnqueuedAt)
		if err == sql.ErrNoRows {
			return nil, tx.Commit()
		}
		if err != nil {
			return nil, fmt.Errorf("query queue: %w", err)
		}

		if entry.Deliveries+1 > maxDeliveries {
			// Exhausted redeliveries: dead-letter and look for other work.
			if _, err := tx.Exec(`UPDATE queue SET dead = 1, leased_by = NULL, lease_expires = NULL WHERE task_id = ?`, entry.TaskID); err != nil {
				return nil, fmt.Errorf("dead-letter entry: %w", err)
			}
			continue
		}

		expires := now.Add(visibility)
		_, err = tx.Exec(
			`UPDATE queue SET deliveries = deliveries + 1, leased_by = ?, lease_expires = ? WHERE task_id = ?`,
			holderID, expires, entry.TaskID,
		)
		if err != nil {
			return nil, fmt.Errorf("claim entry: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit transaction: %w", err)
		}

		entry.Deliveries++
		entry.LeasedBy = holderID
		entry.LeaseExpires = &expires
		return &entry, nil
	}
}

// Ack removes a fully processed entry from the queue.
func (s *Store) Ack(taskID string) error {
	_, err := s.db.Exec(`DELETE FROM queue WHERE task_id = ?`, taskID)
	return err
}

// ReleaseEntry makes a claimed entry immediately visible again, used when a
// worker suspends a task before reaching a terminal state.
func (s *Store) ReleaseEntry(taskID string) error {
	_, err := s.db.Exec(`UPDATE queue SET leased_by = NULL, lease_expires = NULL WHERE task_id = ?`, taskID)
	return err
}

// DeadLetters returns queue entries that exhausted their redeliveries.
func (s *Store) DeadLetters() ([]models.QueueEntry, error) {
	rows, err := s.db.Query(`SELECT task_id, deliveries, enqueued_at FROM queue WHERE dead = 1 ORDER BY enqueued_at`)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var entry models.QueueEntry
		if err := rows.Scan(&entry.TaskID, &entry.Deliveries, &entry.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		entry.Dead = true
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// QueueDepth returns the number of live (non-dead) queue entries.
func (s *Store) QueueDepth() (int, error) {
	var depth int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM queue WHERE dead = 0`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("query queue depth: %w", err)
	}
	return depth, nil
}

// --- Driver Lease Operations ---

// AcquireDriverLease atomically acquires the at-most-one-driver guard for a
// task. Expired leases are cleaned up first; an active lease held by anyone
// yields ErrTaskBusy.
func (s *Store) AcquireDriverLease(taskID, holderID string, ttl time.Duration) (*models.DriverLease, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if _, err := tx.Exec(`DELETE FROM driver_leases WHERE task_id = ? AND expires_at <= ?`, taskID, now); err != nil {
		return nil, fmt.Errorf("clean expired leases: %w", err)
	}

	var existing string
	err = tx.QueryRow(`SELECT holder_id FROM driver_leases WHERE task_id = ? AND expires_at > ?`, taskID, now).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check existing lease: %w", err)
	}
	if err == nil {
		return nil, ErrTaskBusy
	}

	lease := &models.DriverLease{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		HolderID:  holderID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	_, err = tx.Exec(
		`INSERT INTO driver_leases (id, task_id, holder_id, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		lease.ID, lease.TaskID, lease.HolderID, lease.ExpiresAt, lease.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "unique constraint") {
			return nil, ErrTaskBusy
		}
		return nil, fmt.Errorf("insert lease: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return lease, nil
}

// RenewDriverLease extends a lease (heartbeat for long-running steps).
func (s *Store) RenewDriverLease(leaseID string, ttl time.Duration) error {
	_, err := s.db.Exec(
		`UPDATE driver_leases SET expires_at = ? WHERE id = ?`,
		time.Now().UTC().Add(ttl), leaseID,
	)
	return err
}

// ReleaseDriverLease removes a lease.
func (s *Store) ReleaseDriverLease(leaseID string) error {
	_, err := s.db.Exec(`DELETE FROM driver_leases WHERE id = ?`, leaseID)
	return err
}

// --- Artifact Operations ---

// AddArtifact records metadata for a blob stored in object storage.
func (s *Store) AddArtifact(taskID, uri, mediaType, description string) (*models.Artifact, error) {
	artifact := &models.Artifact{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		URI:         uri,
		MediaType:   mediaType,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO artifacts (id, task_id, uri, media_type, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		artifact.ID, artifact.TaskID, artifact.URI, artifact.MediaType, artifact.Description, artifact.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert artifact: %w", err)
	}
	return artifact, nil
}

// ListArtifactsForTask returns artifact metadata for a task.
func (s *Store) ListArtifactsForTask(taskID string) ([]models.Artifact, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, uri, media_type, description, created_at FROM artifacts WHERE task_id = ? ORDER BY created_at`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		var a models.Artifact
		var desc sql.NullString
		if err := rows.Scan(&a.ID, &a.TaskID, &a.URI, &a.MediaType, &desc, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		if desc.Valid {
			a.Description = desc.String
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// --- Scan Helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.TaskState, error) {
	task := &models.TaskState{}
	var metadata, plan, outputs, failedSteps, lastErr, artifact sql.NullString
	var score sql.NullFloat64
	var cancelRequested, caseReuse int
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(
		&task.ID, &task.Name, &task.Goal, &task.Status, &metadata, &plan, &task.Cursor, &outputs,
		&failedSteps, &task.Iterations, &task.RecursionLimit, &caseReuse, &artifact, &score, &lastErr,
		&cancelRequested, &task.Version, &task.CreatedAt, &task.UpdatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &task.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if plan.Valid {
		if err := json.Unmarshal([]byte(plan.String), &task.Plan); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
	}
	if outputs.Valid {
		if err := json.Unmarshal([]byte(outputs.String), &task.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs: %w", err)
		}
	}
	if failedSteps.Valid {
		if err := json.Unmarshal([]byte(failedSteps.String), &task.FailedSteps); err != nil {
			return nil, fmt.Errorf("decode failed steps: %w", err)
		}
	}
	if lastErr.Valid {
		task.LastError = &models.TaskError{}
		if err := json.Unmarshal([]byte(lastErr.String), task.LastError); err != nil {
			return nil, fmt.Errorf("decode last error: %w", err)
		}
	}
	if artifact.Valid {
		task.Artifact = artifact.String
	}
	if score.Valid {
		v := score.Float64
		task.Score = &v
	}
	task.CancelRequested = cancelRequested != 0
	task.CaseReuse = caseReuse != 0
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		task.FinishedAt = &finishedAt.Time
	}
	return task, nil
}

// hashPayload stamps an event with a SHA256 of its payload so the log is
// tamper-evident and replays can be compared byte-for-byte.
func hashPayload(payload interface{}) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return "hash_error"
	}
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

func marshalOrNil(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	switch t := v.(type) {
	case map[string]interface{}:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case []models.Step:
		if t == nil {
			return sql.NullString{}, nil
		}
	case []int:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case *models.TaskError:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal json column: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
