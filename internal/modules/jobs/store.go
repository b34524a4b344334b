package jobs

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wildcroft/bng-engine/internal/database"
	"github.com/wildcroft/bng-engine/internal/domain"
)

// Store persists job records in the cache database. State transitions
// are guarded in SQL so concurrent workers and cancel requests cannot
// race a record into an illegal state.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

func NewStore(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("repo", "jobs").Logger()}
}

// Create inserts a new record in the given state.
func (s *Store) Create(id, fingerprint string, sub Submission, state JobState) error {
	inputs, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO jobs (job_id, fingerprint, state, inputs, enqueued_at) VALUES (?, ?, ?, ?, ?)`,
		id, fingerprint, string(state), inputs, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", id, err)
	}
	return nil
}

// CreateCompleted inserts a record already in the done state with its
// result attached. The insert and the result write share a transaction
// so a poller can never observe a done record without a result.
func (s *Store) CreateCompleted(id, fingerprint string, sub Submission, report *domain.AllocationReport) error {
	inputs, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}
	blob, err := msgpack.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	now := time.Now().Unix()
	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO jobs (job_id, fingerprint, state, inputs, enqueued_at) VALUES (?, ?, 'done', ?, ?)`,
			id, fingerprint, inputs, now,
		); err != nil {
			return fmt.Errorf("failed to create job %s: %w", id, err)
		}
		if _, err := tx.Exec(
			`UPDATE jobs SET result = ?, completed_at = ? WHERE job_id = ?`,
			blob, now, id,
		); err != nil {
			return fmt.Errorf("failed to attach result to job %s: %w", id, err)
		}
		return nil
	})
}

// Get returns a job record by id.
func (s *Store) Get(id string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT job_id, fingerprint, state, result, error_kind, error_message, enqueued_at, completed_at
		 FROM jobs WHERE job_id = ?`, id)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return record, nil
}

// Recent returns the newest records, newest first.
func (s *Store) Recent(limit int) ([]*Record, error) {
	rows, err := s.db.Query(
		`SELECT job_id, fingerprint, state, result, error_kind, error_message, enqueued_at, completed_at
		 FROM jobs ORDER BY enqueued_at DESC, job_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job row: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// InFlight returns the id of a queued or running job with the given
// fingerprint, if one exists. Resubmissions attach to it.
func (s *Store) InFlight(fingerprint string) (string, bool, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT job_id FROM jobs WHERE fingerprint = ? AND state IN ('queued', 'running')
		 ORDER BY enqueued_at LIMIT 1`, fingerprint,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up in-flight job: %w", err)
	}
	return id, true, nil
}

// MarkRunning transitions queued -> running. Returns false when the
// job is no longer queued (cancelled or already claimed).
func (s *Store) MarkRunning(id string) (bool, error) {
	res, err := s.db.Exec(`UPDATE jobs SET state = 'running' WHERE job_id = ? AND state = 'queued'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s running: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Complete transitions running -> done with a result payload.
func (s *Store) Complete(id string, report *domain.AllocationReport) error {
	blob, err := msgpack.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE jobs SET state = 'done', result = ?, completed_at = ? WHERE job_id = ?`,
		blob, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return nil
}

// Fail transitions a job to failed with a user-safe error envelope.
func (s *Store) Fail(id string, kind domain.ErrorKind, message string) error {
	_, err := s.db.Exec(
		`UPDATE jobs SET state = 'failed', error_kind = ?, error_message = ?, completed_at = ? WHERE job_id = ?`,
		string(kind), message, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to fail job %s: %w", id, err)
	}
	return nil
}

// Cancel transitions queued -> cancelled. Returns false when the job
// was not queued, in which case cancellation is refused.
func (s *Store) Cancel(id string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE jobs SET state = 'cancelled', completed_at = ? WHERE job_id = ? AND state = 'queued'`,
		time.Now().Unix(), id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record       Record
		state        string
		resultBlob   []byte
		errorKind    sql.NullString
		errorMessage sql.NullString
		enqueuedAt   int64
		completedAt  sql.NullInt64
	)
	err := row.Scan(&record.ID, &record.Fingerprint, &state, &resultBlob,
		&errorKind, &errorMessage, &enqueuedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	record.State = JobState(state)
	record.EnqueuedAt = time.Unix(enqueuedAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		record.CompletedAt = &t
	}
	if errorKind.Valid {
		record.Error = &ErrorInfo{Kind: domain.ErrorKind(errorKind.String), Message: errorMessage.String}
	}
	if len(resultBlob) > 0 {
		var report domain.AllocationReport
		if err := msgpack.Unmarshal(resultBlob, &report); err != nil {
			return nil, fmt.Errorf("corrupt result payload: %w", err)
		}
		record.Result = &report
	}
	return &record, nil
}
