// Package transition moves one user's items between two backing stores:
// paged copy, settle, verify, cleanup. Progress is persisted so an
// interrupted run resumes where it stopped, and every pass over an item
// is idempotent.
package transition

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status of a user's transition.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusVerified   Status = "verified"
	StatusFailed     Status = "failed"
)

// Record is the per-user progress row. PagingProgress is the last copy
// page completed; IntegrityProgress the last verify page. Both reset to
// 1 on failure, forcing a full recheck on retry.
type Record struct {
	UserUUID           uuid.UUID
	PagingProgress     int
	IntegrityProgress  int
	Status             Status
	LastError          *string
	UpdatedAtTimestamp int64
}

// StatusRepository persists transition progress.
type StatusRepository interface {
	// Find returns the user's record, or nil when no transition was
	// ever started.
	Find(ctx context.Context, userUUID uuid.UUID) (*Record, error)
	Save(ctx context.Context, rec *Record) error
}

// PGStatusRepository stores records in the transition_statuses table.
type PGStatusRepository struct {
	DB *pgxpool.Pool
}

func NewPGStatusRepository(db *pgxpool.Pool) *PGStatusRepository {
	return &PGStatusRepository{DB: db}
}

func (r *PGStatusRepository) Find(ctx context.Context, userUUID uuid.UUID) (*Record, error) {
	var rec Record
	err := r.DB.QueryRow(ctx, `
		SELECT user_uuid, paging_progress, integrity_progress, status, last_error, updated_at_timestamp
		FROM transition_statuses
		WHERE user_uuid = $1
	`, userUUID).Scan(&rec.UserUUID, &rec.PagingProgress, &rec.IntegrityProgress, &rec.Status, &rec.LastError, &rec.UpdatedAtTimestamp)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *PGStatusRepository) Save(ctx context.Context, rec *Record) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO transition_statuses (user_uuid, paging_progress, integrity_progress, status, last_error, updated_at_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_uuid) DO UPDATE SET
			paging_progress      = EXCLUDED.paging_progress,
			integrity_progress   = EXCLUDED.integrity_progress,
			status               = EXCLUDED.status,
			last_error           = EXCLUDED.last_error,
			updated_at_timestamp = EXCLUDED.updated_at_timestamp
	`, rec.UserUUID, rec.PagingProgress, rec.IntegrityProgress, rec.Status, rec.LastError, rec.UpdatedAtTimestamp)
	return err
}

// MemoryStatusRepository backs tests and local runs.
type MemoryStatusRepository struct {
	mu   sync.Mutex
	recs map[uuid.UUID]Record
}

func NewMemoryStatusRepository() *MemoryStatusRepository {
	return &MemoryStatusRepository{recs: make(map[uuid.UUID]Record)}
}

func (r *MemoryStatusRepository) Find(ctx context.Context, userUUID uuid.UUID) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.recs[userUUID]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (r *MemoryStatusRepository) Save(ctx context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.recs[rec.UserUUID] = *rec
	return nil
}
