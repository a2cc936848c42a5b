package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/notesync/syncing-api/internal/item"
)

// MemoryItemRepository is a mutex-guarded in-process store. It backs
// the test suites and doubles as a lightweight transition endpoint in
// local setups. Items are keyed by uuid alone, mirroring the global
// uniqueness constraint of the SQL stores.
type MemoryItemRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*item.Item
}

func NewMemoryItemRepository() *MemoryItemRepository {
	return &MemoryItemRepository{items: make(map[uuid.UUID]*item.Item)}
}

func (r *MemoryItemRepository) FindByUUID(ctx context.Context, userUUID, itemUUID uuid.UUID) (*item.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	it, ok := r.items[itemUUID]
	if !ok || it.UserUUID != userUUID {
		return nil, nil
	}
	return it.Clone(), nil
}

func (r *MemoryItemRepository) FindAll(ctx context.Context, q item.Query) ([]item.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.collect(q)
	out := make([]item.Item, 0, len(matched))
	for _, it := range matched {
		out = append(out, *it.Clone())
	}
	return out, nil
}

func (r *MemoryItemRepository) CountAll(ctx context.Context, q item.Query) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	unbounded := q
	unbounded.Offset = 0
	unbounded.Limit = 0
	return len(r.collect(unbounded)), nil
}

func (r *MemoryItemRepository) FindContentSizes(ctx context.Context, q item.Query) ([]item.SizeProjection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := r.collect(q)
	out := make([]item.SizeProjection, 0, len(matched))
	for _, it := range matched {
		out = append(out, item.SizeProjection{
			UUID:               it.UUID,
			ContentSize:        it.ContentSize,
			UpdatedAtTimestamp: it.UpdatedAtTimestamp,
		})
	}
	return out, nil
}

func (r *MemoryItemRepository) Save(ctx context.Context, it *item.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[it.UUID]; ok && existing.UserUUID != it.UserUUID {
		return ErrUUIDTaken
	}
	r.items[it.UUID] = it.Clone()
	return nil
}

func (r *MemoryItemRepository) RemoveByUUID(ctx context.Context, userUUID, itemUUID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if it, ok := r.items[itemUUID]; ok && it.UserUUID == userUUID {
		delete(r.items, itemUUID)
	}
	return nil
}

func (r *MemoryItemRepository) DeleteByUserUUIDAndNotInSharedVault(ctx context.Context, userUUID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, it := range r.items {
		if it.UserUUID == userUUID && it.SharedVaultUUID == nil {
			delete(r.items, id)
		}
	}
	return nil
}

// collect filters, sorts, and slices under the read lock. Callers clone
// before returning.
func (r *MemoryItemRepository) collect(q item.Query) []*item.Item {
	matched := make([]*item.Item, 0)
	for _, it := range r.items {
		if matches(q, it) {
			matched = append(matched, it)
		}
	}

	sortBy := q.SortBy
	if sortBy == "" {
		sortBy = item.SortByUpdatedAt
	}
	desc := q.SortOrder == item.SortDesc

	sort.Slice(matched, func(a, b int) bool {
		var ka, kb int64
		if sortBy == item.SortByCreatedAt {
			ka, kb = matched[a].CreatedAtTimestamp, matched[b].CreatedAtTimestamp
		} else {
			ka, kb = matched[a].UpdatedAtTimestamp, matched[b].UpdatedAtTimestamp
		}
		if ka != kb {
			if desc {
				return ka > kb
			}
			return ka < kb
		}
		if desc {
			return matched[a].UUID.String() > matched[b].UUID.String()
		}
		return matched[a].UUID.String() < matched[b].UUID.String()
	})

	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			return nil
		}
		matched = matched[q.Offset:]
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched
}

func matches(q item.Query, it *item.Item) bool {
	if len(q.UUIDs) > 0 && !containsUUID(q.UUIDs, it.UUID) {
		return false
	}

	// Vault scoping: exclusive queries see only the named vaults;
	// otherwise the user's own items plus any included vaults.
	if len(q.ExclusiveSharedVaultUUIDs) > 0 {
		if it.SharedVaultUUID == nil || !containsUUID(q.ExclusiveSharedVaultUUIDs, *it.SharedVaultUUID) {
			return false
		}
	} else {
		inVault := it.SharedVaultUUID != nil && containsUUID(q.IncludeSharedVaultUUIDs, *it.SharedVaultUUID)
		if it.UserUUID != q.UserUUID && !inVault {
			return false
		}
	}

	if q.ContentType != nil && it.ContentType != *q.ContentType {
		return false
	}
	if q.Deleted != nil && it.Deleted != *q.Deleted {
		return false
	}

	if q.LastSyncTime != nil {
		key := it.UpdatedAtTimestamp
		if q.SortBy == item.SortByCreatedAt {
			key = it.CreatedAtTimestamp
		}
		if q.Comparator == item.CompareGreaterOrEqual {
			if key < *q.LastSyncTime {
				return false
			}
		} else {
			if key <= *q.LastSyncTime {
				return false
			}
		}
	}

	return true
}

func containsUUID(list []uuid.UUID, v uuid.UUID) bool {
	for _, u := range list {
		if u == v {
			return true
		}
	}
	return false
}
