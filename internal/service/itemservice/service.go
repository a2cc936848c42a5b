// Package itemservice orchestrates read-sync and write-sync over the
// item repository: cursoring, transfer budgeting, per-item conflict
// resolution, and downstream event emission.
package itemservice

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notesync/syncing-api/internal/events"
	"github.com/notesync/syncing-api/internal/item"
	"github.com/notesync/syncing-api/internal/repo"
	"github.com/notesync/syncing-api/internal/sharedvault"
	"github.com/notesync/syncing-api/internal/synctoken"
	"github.com/notesync/syncing-api/internal/timer"
)

// Config carries the deploy-tunable sync constants.
type Config struct {
	DefaultLimit            int
	MaxSyncLimit            int
	ContentTransferBudget   int64
	RevisionFrequencyMicros int64
	ConflictToleranceMicros int64
}

// Defaults for any zero-valued Config field.
const (
	DefaultLimit            = 150
	DefaultMaxSyncLimit     = 300
	DefaultTransferBudget   = 10_000_000
	DefaultRevisionFreqSecs = 300
)

// Service is the sync engine: it owns the read and write halves of a
// sync call and the collaborators they fan out to.
type Service struct {
	items      repo.ItemRepository
	vaultUsers sharedvault.UserRepository
	userEvents events.UserEventService
	publisher  events.Publisher
	clock      timer.Clock
	rules      []SaveRule
	cfg        Config
}

// New wires a Service. Zero-valued config fields fall back to the
// package defaults.
func New(items repo.ItemRepository, vaultUsers sharedvault.UserRepository, userEvents events.UserEventService, publisher events.Publisher, clock timer.Clock, cfg Config) *Service {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.MaxSyncLimit <= 0 {
		cfg.MaxSyncLimit = DefaultMaxSyncLimit
	}
	if cfg.ContentTransferBudget <= 0 {
		cfg.ContentTransferBudget = DefaultTransferBudget
	}
	if cfg.RevisionFrequencyMicros <= 0 {
		cfg.RevisionFrequencyMicros = DefaultRevisionFreqSecs * 1_000_000
	}

	return &Service{
		items:      items,
		vaultUsers: vaultUsers,
		userEvents: userEvents,
		publisher:  publisher,
		clock:      clock,
		rules:      DefaultRules(cfg.ConflictToleranceMicros),
		cfg:        cfg,
	}
}

// GetItemsRequest describes one read-sync call.
type GetItemsRequest struct {
	UserUUID         uuid.UUID
	SyncToken        string
	CursorToken      string
	Limit            int
	ContentType      *string
	SharedVaultUUIDs []uuid.UUID
}

// GetItemsResult is the read half of a sync response. CursorToken is
// empty on a complete response.
type GetItemsResult struct {
	Items       []item.Item
	SyncToken   string
	CursorToken string
}

// GetItems delivers the changes after the client's token, bounded by
// the effective limit and the content transfer budget.
func (s *Service) GetItems(ctx context.Context, req GetItemsRequest) (*GetItemsResult, error) {
	// Cursor token wins when both are present: the client is mid-page.
	var (
		lastSyncTime *int64
		comparator   = item.CompareGreater
	)
	token := req.SyncToken
	if req.CursorToken != "" {
		token = req.CursorToken
		comparator = item.CompareGreaterOrEqual
	}
	if token != "" {
		micros, err := synctoken.Decode(token)
		if err != nil {
			return nil, fmt.Errorf("get items: %w", err)
		}
		lastSyncTime = &micros
	}

	limit := req.Limit
	if limit < 1 {
		limit = s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxSyncLimit {
		limit = s.cfg.MaxSyncLimit
	}

	vaultUUIDs, err := s.effectiveVaultUUIDs(ctx, req.UserUUID, req.SharedVaultUUIDs)
	if err != nil {
		return nil, fmt.Errorf("get items: resolve vault memberships: %w", err)
	}

	q := item.Query{
		UserUUID:                req.UserUUID,
		IncludeSharedVaultUUIDs: vaultUUIDs,
		ContentType:             req.ContentType,
		LastSyncTime:            lastSyncTime,
		Comparator:              comparator,
		SortBy:                  item.SortByUpdatedAt,
		SortOrder:               item.SortAsc,
		Limit:                   limit,
	}
	if lastSyncTime == nil {
		// Initial full sync: tombstones are noise, hide them. Delta
		// syncs must deliver them so clients learn of deletions.
		notDeleted := false
		q.Deleted = &notDeleted
	}

	// On a cursor read the boundary item occupies a stream slot but is
	// never delivered; fetch one extra so the page can still fill.
	var boundary *int64
	fetch := q
	if comparator == item.CompareGreaterOrEqual {
		boundary = lastSyncTime
		fetch.Limit = limit + 1
	}
	uuids, truncatedBySize, err := selectUUIDsForTransfer(ctx, s.items, fetch, s.cfg.ContentTransferBudget, boundary)
	if err != nil {
		return nil, fmt.Errorf("get items: size projection: %w", err)
	}
	if len(uuids) > limit {
		uuids = uuids[:limit]
		truncatedBySize = true
	}

	var page []item.Item
	if len(uuids) > 0 {
		hydrate := q
		hydrate.UUIDs = uuids
		hydrate.Limit = 0
		page, err = s.items.FindAll(ctx, hydrate)
		if err != nil {
			return nil, fmt.Errorf("get items: hydrate: %w", err)
		}
	}

	// The count decides whether more pages follow; the already-delivered
	// boundary item must not inflate it into a spurious extra page.
	countQuery := q
	countQuery.Limit = 0
	if comparator == item.CompareGreaterOrEqual {
		countQuery.Comparator = item.CompareGreater
	}
	total, err := s.items.CountAll(ctx, countQuery)
	if err != nil {
		return nil, fmt.Errorf("get items: count: %w", err)
	}

	res := &GetItemsResult{Items: page}
	if (total > limit || truncatedBySize) && len(page) > 0 {
		res.CursorToken = synctoken.EncodeCursorToken(page[len(page)-1].UpdatedAtTimestamp)
	}

	switch {
	case len(page) > 0:
		res.SyncToken = synctoken.EncodeSyncToken(page[len(page)-1].UpdatedAtTimestamp)
	case lastSyncTime != nil:
		// Nothing new; hand the same instant back unchanged.
		res.SyncToken = synctoken.EncodeCursorToken(*lastSyncTime)
	default:
		res.SyncToken = synctoken.EncodeSyncToken(s.clock.NowMicros())
	}

	if token == "" {
		res.Items = s.frontLoadItemsKeys(ctx, req.UserUUID, vaultUUIDs, res.Items)
	}

	return res, nil
}

// frontLoadItemsKeys prepends the user's ItemsKey items on an initial
// sync so clients can decrypt everything that follows immediately.
func (s *Service) frontLoadItemsKeys(ctx context.Context, userUUID uuid.UUID, vaultUUIDs []uuid.UUID, page []item.Item) []item.Item {
	contentType := item.ContentTypeItemsKey
	notDeleted := false
	keys, err := s.items.FindAll(ctx, item.Query{
		UserUUID:                userUUID,
		IncludeSharedVaultUUIDs: vaultUUIDs,
		ContentType:             &contentType,
		Deleted:                 &notDeleted,
		SortBy:                  item.SortByUpdatedAt,
		SortOrder:               item.SortAsc,
	})
	if err != nil {
		log.Warn().Err(err).Str("user_uuid", userUUID.String()).Msg("failed to front-load items keys")
		return page
	}

	present := make(map[uuid.UUID]bool, len(page))
	for _, it := range page {
		present[it.UUID] = true
	}

	prepend := make([]item.Item, 0, len(keys))
	for _, k := range keys {
		if !present[k.UUID] {
			prepend = append(prepend, k)
		}
	}
	return append(prepend, page...)
}

// effectiveVaultUUIDs intersects the requested vaults with the user's
// actual memberships, or returns all memberships when the request does
// not narrow them.
func (s *Service) effectiveVaultUUIDs(ctx context.Context, userUUID uuid.UUID, requested []uuid.UUID) ([]uuid.UUID, error) {
	memberships, err := s.vaultUsers.FindAllForUser(ctx, userUUID)
	if err != nil {
		return nil, err
	}

	member := make(map[uuid.UUID]bool, len(memberships))
	all := make([]uuid.UUID, 0, len(memberships))
	for _, m := range memberships {
		if !member[m.SharedVaultUUID] {
			member[m.SharedVaultUUID] = true
			all = append(all, m.SharedVaultUUID)
		}
	}

	if len(requested) == 0 {
		return all, nil
	}
	out := make([]uuid.UUID, 0, len(requested))
	for _, v := range requested {
		if member[v] {
			out = append(out, v)
		}
	}
	return out, nil
}
