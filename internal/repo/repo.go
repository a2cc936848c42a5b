// Package repo provides ordered, paginated, user-scoped persistence of
// items. Three implementations share one contract: Postgres (primary
// store), SQLite (secondary store for transitions), and an in-memory
// store used by tests and as a transition fixture.
package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/notesync/syncing-api/internal/item"
)

// ErrUUIDTaken is returned by Save when the uuid already exists under a
// different owner. The service surfaces it as a uuid_conflict entry.
var ErrUUIDTaken = errors.New("repo: uuid already belongs to another user")

// ItemRepository is the store contract the sync engine and the
// transition runner share. All implementations provide read-after-write
// consistency within a single user and order results by the query's
// sort key with uuid as tiebreak.
type ItemRepository interface {
	// FindByUUID returns the user's item, or nil when absent.
	FindByUUID(ctx context.Context, userUUID, itemUUID uuid.UUID) (*item.Item, error)
	// FindAll returns items matching the query's filters, ordered and
	// bounded by its offset/limit.
	FindAll(ctx context.Context, q item.Query) ([]item.Item, error)
	// CountAll counts matching items, ignoring order, offset and limit.
	CountAll(ctx context.Context, q item.Query) (int, error)
	// FindContentSizes streams (uuid, content_size) under the same
	// filters, order, and limit as FindAll.
	FindContentSizes(ctx context.Context, q item.Query) ([]item.SizeProjection, error)
	// Save upserts by uuid. Returns ErrUUIDTaken when the uuid exists
	// under another owner.
	Save(ctx context.Context, it *item.Item) error
	// RemoveByUUID physically deletes one item.
	RemoveByUUID(ctx context.Context, userUUID, itemUUID uuid.UUID) error
	// DeleteByUserUUIDAndNotInSharedVault bulk-deletes the user's
	// private items. Shared-vault items are left in place; transition
	// cleanup is the only caller.
	DeleteByUserUUIDAndNotInSharedVault(ctx context.Context, userUUID uuid.UUID) error
}

// IsTransient classifies store errors as retry-safe. Postgres
// connection/serialization failures and SQLite lock contention qualify;
// anything else is treated as fatal by callers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"53300", // too_many_connections
			"57P03", // cannot_connect_now
			"08000", "08003", "08006": // connection family
			return true
		}
		return false
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked
	}

	return false
}
