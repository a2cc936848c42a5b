package transition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/notesync/syncing-api/internal/events"
	"github.com/notesync/syncing-api/internal/item"
	"github.com/notesync/syncing-api/internal/repo"
	"github.com/notesync/syncing-api/internal/timer"
)

// ErrAlreadyRunning is returned when a second runner is started for a
// user whose transition is mid-phase.
var ErrAlreadyRunning = errors.New("transition: already running for user")

// Defaults for zero-valued runner knobs.
const (
	DefaultPageSize      = 100
	DefaultSettleDelay   = time.Second
	removalSettleDelay   = 100 * time.Millisecond
	transientMaxAttempts = 4
)

// Runner copies one user's items from Source to Target, verifies the
// copy, then removes the user's private items from Source. Both stores
// sit behind the same repository contract; neither side is assumed
// authoritative beyond the phase rules.
type Runner struct {
	Source      repo.ItemRepository
	Target      repo.ItemRepository
	Statuses    StatusRepository
	Publisher   events.Publisher
	Clock       timer.Clock
	PageSize    int
	SettleDelay time.Duration
	// TransitionType labels emitted status events, e.g.
	// "primary-to-secondary".
	TransitionType string

	locks keyedLimiter
}

// Run executes the transition for one user, resuming from persisted
// progress. Intermediate failures are recorded on the status row and
// emitted as Failed events; the returned error is for the operator, not
// end users.
func (r *Runner) Run(ctx context.Context, userUUID uuid.UUID) error {
	pageSize := r.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	settle := r.SettleDelay
	if settle <= 0 {
		settle = DefaultSettleDelay
	}

	rec, err := r.Statuses.Find(ctx, userUUID)
	if err != nil {
		return fmt.Errorf("transition: load status: %w", err)
	}
	if rec == nil {
		rec = &Record{UserUUID: userUUID, Status: StatusNotStarted}
	}
	if rec.Status == StatusVerified {
		return nil
	}

	// Precondition: a fresh run against a target that already holds the
	// user's items means the migration happened elsewhere.
	if rec.Status == StatusNotStarted {
		count, err := r.Target.CountAll(ctx, item.Query{UserUUID: userUUID})
		if err != nil {
			return fmt.Errorf("transition: inspect target: %w", err)
		}
		if count > 0 {
			return r.finish(ctx, rec)
		}
	}

	if err := r.phase(ctx, userUUID, func() error {
		return r.copyPhase(ctx, rec, pageSize)
	}); err != nil {
		return r.fail(ctx, rec, err, false)
	}

	// Let asynchronous target indexing catch up before reading it back.
	r.Clock.Sleep(settle)

	if err := r.phase(ctx, userUUID, func() error {
		return r.verifyPhase(ctx, rec, pageSize)
	}); err != nil {
		return r.fail(ctx, rec, err, true)
	}

	if err := r.phase(ctx, userUUID, func() error {
		return r.Source.DeleteByUserUUIDAndNotInSharedVault(ctx, userUUID)
	}); err != nil {
		return r.fail(ctx, rec, err, false)
	}

	return r.finish(ctx, rec)
}

// phase runs fn under the per-user lock. The lock spans a single phase
// so a crashed run does not wedge the user; persisted progress covers
// the resume.
func (r *Runner) phase(ctx context.Context, userUUID uuid.UUID, fn func() error) error {
	release, ok := r.locks.tryAcquire(userUUID)
	if !ok {
		return ErrAlreadyRunning
	}
	defer release()
	return fn()
}

func (r *Runner) copyPhase(ctx context.Context, rec *Record, pageSize int) error {
	total, err := r.countWithRetry(ctx, r.Source, item.Query{UserUUID: rec.UserUUID})
	if err != nil {
		return fmt.Errorf("count source: %w", err)
	}

	totalPages := (total + pageSize - 1) / pageSize
	startPage := rec.PagingProgress
	if startPage < 1 {
		startPage = 1
	}

	rec.Status = StatusInProgress
	if err := r.saveRecord(ctx, rec); err != nil {
		return err
	}
	r.emitStatus(ctx, rec)

	progressEvery := totalPages / 10
	if progressEvery < 1 {
		progressEvery = 1
	}

	for page := startPage; page <= totalPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := r.findWithRetry(ctx, r.Source, item.Query{
			UserUUID:  rec.UserUUID,
			SortBy:    item.SortByCreatedAt,
			SortOrder: item.SortAsc,
			Offset:    (page - 1) * pageSize,
			Limit:     pageSize,
		})
		if err != nil {
			return fmt.Errorf("copy page %d: %w", page, err)
		}

		for i := range batch {
			if err := r.copyItem(ctx, &batch[i]); err != nil {
				return fmt.Errorf("copy item %s: %w", batch[i].UUID, err)
			}
		}

		rec.PagingProgress = page
		if err := r.saveRecord(ctx, rec); err != nil {
			return err
		}
		if page%progressEvery == 0 {
			r.emitStatus(ctx, rec)
		}
	}

	return nil
}

// copyItem writes one source item to the target unless the target copy
// is newer or already identical. A stale target copy is removed first,
// after a short pause that lets target replication settle.
func (r *Runner) copyItem(ctx context.Context, src *item.Item) error {
	existing, err := r.Target.FindByUUID(ctx, src.UserUUID, src.UUID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.UpdatedAtTimestamp > src.UpdatedAtTimestamp {
			return nil
		}
		if existing.IsIdenticalTo(src) {
			return nil
		}
		r.Clock.Sleep(removalSettleDelay)
		if err := r.Target.RemoveByUUID(ctx, src.UserUUID, src.UUID); err != nil {
			return err
		}
	}
	return r.saveWithRetry(ctx, r.Target, src)
}

func (r *Runner) verifyPhase(ctx context.Context, rec *Record, pageSize int) error {
	total, err := r.countWithRetry(ctx, r.Target, item.Query{UserUUID: rec.UserUUID})
	if err != nil {
		return fmt.Errorf("count target: %w", err)
	}

	totalPages := (total + pageSize - 1) / pageSize
	startPage := rec.IntegrityProgress
	if startPage < 1 {
		startPage = 1
	}

	for page := startPage; page <= totalPages; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := r.findWithRetry(ctx, r.Target, item.Query{
			UserUUID:  rec.UserUUID,
			SortBy:    item.SortByCreatedAt,
			SortOrder: item.SortAsc,
			Offset:    (page - 1) * pageSize,
			Limit:     pageSize,
		})
		if err != nil {
			return fmt.Errorf("verify page %d: %w", page, err)
		}

		for i := range batch {
			tgt := &batch[i]
			src, err := r.Source.FindByUUID(ctx, tgt.UserUUID, tgt.UUID)
			if err != nil {
				return err
			}
			if src == nil {
				return fmt.Errorf("verify: item %s missing in source", tgt.UUID)
			}
			if src.UpdatedAtTimestamp > tgt.UpdatedAtTimestamp {
				return fmt.Errorf("verify: item %s newer in source", tgt.UUID)
			}
			if !src.IsIdenticalTo(tgt) {
				return fmt.Errorf("verify: item %s diverged", tgt.UUID)
			}
		}

		rec.IntegrityProgress = page
		if err := r.saveRecord(ctx, rec); err != nil {
			return err
		}
	}

	return nil
}

// fail records and emits the failure. An integrity failure also resets
// both progress counters so the retry recopies and rechecks everything;
// an interrupted copy keeps its paging progress and resumes at the
// same page.
func (r *Runner) fail(ctx context.Context, rec *Record, cause error, resetProgress bool) error {
	if errors.Is(cause, ErrAlreadyRunning) {
		return cause
	}

	msg := cause.Error()
	rec.Status = StatusFailed
	rec.LastError = &msg
	if resetProgress {
		rec.PagingProgress = 1
		rec.IntegrityProgress = 1
	}
	if err := r.saveRecord(ctx, rec); err != nil {
		log.Error().Err(err).Str("user_uuid", rec.UserUUID.String()).Msg("failed to persist failed transition status")
	}
	r.emitStatus(ctx, rec)
	return fmt.Errorf("transition: %w", cause)
}

func (r *Runner) finish(ctx context.Context, rec *Record) error {
	rec.Status = StatusVerified
	rec.LastError = nil
	if err := r.saveRecord(ctx, rec); err != nil {
		return err
	}
	r.emitStatus(ctx, rec)
	return nil
}

func (r *Runner) saveRecord(ctx context.Context, rec *Record) error {
	rec.UpdatedAtTimestamp = r.Clock.NowMicros()
	return r.Statuses.Save(ctx, rec)
}

func (r *Runner) emitStatus(ctx context.Context, rec *Record) {
	err := r.Publisher.Publish(ctx, events.TransitionStatusUpdated{
		UserUUID:            rec.UserUUID,
		Status:              string(rec.Status),
		TransitionType:      r.TransitionType,
		TransitionTimestamp: rec.UpdatedAtTimestamp,
	})
	if err != nil {
		log.Warn().Err(err).Str("user_uuid", rec.UserUUID.String()).Msg("transition status publish failed")
	}
}

func (r *Runner) findWithRetry(ctx context.Context, store repo.ItemRepository, q item.Query) ([]item.Item, error) {
	var out []item.Item
	err := retryTransient(ctx, func() error {
		var err error
		out, err = store.FindAll(ctx, q)
		return err
	})
	return out, err
}

func (r *Runner) countWithRetry(ctx context.Context, store repo.ItemRepository, q item.Query) (int, error) {
	var out int
	err := retryTransient(ctx, func() error {
		var err error
		out, err = store.CountAll(ctx, q)
		return err
	})
	return out, err
}

func (r *Runner) saveWithRetry(ctx context.Context, store repo.ItemRepository, it *item.Item) error {
	return retryTransient(ctx, func() error {
		return store.Save(ctx, it)
	})
}

// retryTransient retries transient store errors with capped exponential
// backoff; anything else aborts immediately.
func retryTransient(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err != nil && !repo.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), transientMaxAttempts), ctx)
	return backoff.Retry(wrapped, policy)
}

// keyedLimiter hands out one slot per user. Zero value is ready to use.
type keyedLimiter struct {
	sems sync.Map
}

func (l *keyedLimiter) tryAcquire(key uuid.UUID) (func(), bool) {
	v, _ := l.sems.LoadOrStore(key, semaphore.NewWeighted(1))
	sem := v.(*semaphore.Weighted)
	if !sem.TryAcquire(1) {
		return nil, false
	}
	return func() { sem.Release(1) }, true
}
