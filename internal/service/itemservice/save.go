package itemservice

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/notesync/syncing-api/internal/events"
	"github.com/notesync/syncing-api/internal/item"
	"github.com/notesync/syncing-api/internal/repo"
	"github.com/notesync/syncing-api/internal/synctoken"
)

// SaveItemsRequest describes one write-sync call.
type SaveItemsRequest struct {
	UserUUID       uuid.UUID
	SessionUUID    *uuid.UUID
	APIVersion     string
	SDKVersion     string
	ReadOnlyAccess bool
	ItemHashes     []item.Hash
}

// SaveItemsResult is the write half of a sync response.
type SaveItemsResult struct {
	SavedItems []item.Item
	Conflicts  []item.Conflict
	SyncToken  string
}

// saveOperation classifies what a passing write does, which in turn
// decides the downstream side effects.
type saveOperation int

const (
	opCreate saveOperation = iota
	opUpdate
	opAddToSharedVault
	opRemoveFromSharedVault
	opNoopInVault
)

// SaveItems applies the batch in request order. A failing item becomes
// a conflict entry and never aborts the rest of the batch. On context
// cancellation the loop stops between items; the partial result is
// returned alongside the context error.
func (s *Service) SaveItems(ctx context.Context, req SaveItemsRequest) (*SaveItemsResult, error) {
	startMicros := s.clock.NowMicros()

	memberships, err := s.vaultUsers.FindAllForUser(ctx, req.UserUUID)
	if err != nil {
		return nil, err
	}

	res := &SaveItemsResult{
		SavedItems: make([]item.Item, 0, len(req.ItemHashes)),
		Conflicts:  make([]item.Conflict, 0),
	}

	maxTimestamp := startMicros
	for _, hash := range req.ItemHashes {
		if err := ctx.Err(); err != nil {
			res.SyncToken = synctoken.EncodeSyncToken(maxTimestamp)
			return res, err
		}

		if req.ReadOnlyAccess {
			res.Conflicts = append(res.Conflicts, item.Conflict{UnsavedItem: hash, Type: item.ConflictReadOnly})
			continue
		}

		existing, err := s.items.FindByUUID(ctx, req.UserUUID, hash.UUID)
		if err != nil {
			log.Error().Err(err).Str("item_uuid", hash.UUID.String()).Msg("failed to load existing item")
			res.Conflicts = append(res.Conflicts, item.Conflict{UnsavedItem: hash, Type: item.ConflictUUID})
			continue
		}

		outcome, err := s.runRules(ctx, RuleInput{
			UserUUID:         req.UserUUID,
			Hash:             hash,
			Existing:         existing,
			VaultMemberships: memberships,
		})
		if err != nil {
			log.Error().Err(err).Str("item_uuid", hash.UUID.String()).Msg("save rule failure")
			res.Conflicts = append(res.Conflicts, item.Conflict{UnsavedItem: hash, ServerItem: existing, Type: item.ConflictUUID})
			continue
		}
		if outcome.Conflict != nil {
			res.Conflicts = append(res.Conflicts, *outcome.Conflict)
			continue
		}
		if outcome.SkipItem != nil {
			res.SavedItems = append(res.SavedItems, *outcome.SkipItem)
			continue
		}

		saved, sideEffects := s.applyHash(req, hash, existing)
		if err := s.items.Save(ctx, saved); err != nil {
			if err == repo.ErrUUIDTaken {
				res.Conflicts = append(res.Conflicts, item.Conflict{UnsavedItem: hash, Type: item.ConflictUUID})
				continue
			}
			log.Error().Err(err).Str("item_uuid", hash.UUID.String()).Msg("failed to persist item")
			res.Conflicts = append(res.Conflicts, item.Conflict{UnsavedItem: hash, ServerItem: existing, Type: item.ConflictUUID})
			continue
		}

		s.emitSideEffects(ctx, req.UserUUID, saved, sideEffects)

		if saved.UpdatedAtTimestamp > maxTimestamp {
			maxTimestamp = saved.UpdatedAtTimestamp
		}
		res.SavedItems = append(res.SavedItems, *saved)
	}

	res.SyncToken = synctoken.EncodeSyncToken(maxTimestamp)
	return res, nil
}

func (s *Service) runRules(ctx context.Context, in RuleInput) (RuleResult, error) {
	for _, rule := range s.rules {
		result, err := rule.Check(ctx, in)
		if err != nil {
			return RuleResult{}, err
		}
		if !result.Passed {
			return result, nil
		}
	}
	return pass(), nil
}

// sideEffects records what a completed save owes downstream.
type sideEffects struct {
	operation            saveOperation
	previousUpdatedAt    int64
	previousVault        *uuid.UUID
	wasMarkedAsDuplicate bool
	isCreate             bool
}

// applyHash materializes the post-save item: a fresh entity for
// creates, a field-by-field merge for updates. Only fields present in
// the hash change; the monotonic clock stamps the ordering key.
func (s *Service) applyHash(req SaveItemsRequest, hash item.Hash, existing *item.Item) (*item.Item, sideEffects) {
	now := s.clock.NowMicros()

	if existing == nil {
		created := &item.Item{
			UUID:               hash.UUID,
			UserUUID:           req.UserUUID,
			CreatedAtTimestamp: now,
			UpdatedAtTimestamp: now,
		}
		if hash.CreatedAtTimestamp != nil {
			created.CreatedAtTimestamp = *hash.CreatedAtTimestamp
		}
		applyFields(created, hash)
		stampProvenance(created, req)
		finalize(created)

		return created, sideEffects{
			operation:            opCreate,
			isCreate:             true,
			wasMarkedAsDuplicate: created.DuplicateOf != nil,
		}
	}

	updated := existing.Clone()
	effects := sideEffects{
		previousUpdatedAt: existing.UpdatedAtTimestamp,
		previousVault:     existing.SharedVaultUUID,
	}

	applyFields(updated, hash)
	stampProvenance(updated, req)
	updated.UpdatedAtTimestamp = now
	finalize(updated)

	effects.operation = classifyVaultTransition(existing.SharedVaultUUID, updated.SharedVaultUUID)
	effects.wasMarkedAsDuplicate = existing.DuplicateOf == nil && updated.DuplicateOf != nil
	return updated, effects
}

func applyFields(target *item.Item, hash item.Hash) {
	if hash.Content != nil {
		v := *hash.Content
		target.Content = &v
	}
	if hash.ContentType != nil {
		target.ContentType = *hash.ContentType
	}
	if hash.EncItemKey != nil {
		v := *hash.EncItemKey
		target.EncItemKey = &v
	}
	if hash.AuthHash != nil {
		v := *hash.AuthHash
		target.AuthHash = &v
	}
	if hash.ItemsKeyID != nil {
		v := *hash.ItemsKeyID
		target.ItemsKeyID = &v
	}
	if hash.SharedVaultUUID.Set {
		target.SharedVaultUUID = hash.SharedVaultUUID.Ptr()
	}
	if hash.KeySystemIdentifier != nil {
		v := *hash.KeySystemIdentifier
		target.KeySystemIdentifier = &v
	}
	if hash.DuplicateOf != nil {
		v := *hash.DuplicateOf
		target.DuplicateOf = &v
	}
	if hash.Deleted != nil {
		target.Deleted = *hash.Deleted
	}
}

func stampProvenance(target *item.Item, req SaveItemsRequest) {
	if target.SharedVaultUUID != nil {
		editor := req.UserUUID
		target.LastEditedByUUID = &editor
	}
	target.UpdatedWithSession = req.SessionUUID
}

// finalize applies the tombstone invariant or recomputes the canonical
// size, whichever the write calls for.
func finalize(target *item.Item) {
	if target.Deleted {
		target.MarkDeleted()
		return
	}
	target.RecomputeContentSize()
}

func classifyVaultTransition(before, after *uuid.UUID) saveOperation {
	switch {
	case before == nil && after != nil:
		return opAddToSharedVault
	case before != nil && (after == nil || *after != *before):
		return opRemoveFromSharedVault
	case before != nil && after != nil:
		return opNoopInVault
	default:
		return opUpdate
	}
}

// emitSideEffects publishes the events a completed save owes. Failures
// are logged and swallowed: a sync must not fail because a revision
// request or notification could not be queued.
func (s *Service) emitSideEffects(ctx context.Context, userUUID uuid.UUID, saved *item.Item, fx sideEffects) {
	revisionWorthy := saved.ContentType == item.ContentTypeNote || saved.ContentType == item.ContentTypeFile
	if revisionWorthy {
		due := fx.isCreate || saved.UpdatedAtTimestamp-fx.previousUpdatedAt >= s.cfg.RevisionFrequencyMicros
		if due {
			s.publish(ctx, events.ItemRevisionCreationRequested{ItemUUID: saved.UUID, UserUUID: userUUID})
		}
	}

	if fx.wasMarkedAsDuplicate {
		s.publish(ctx, events.DuplicateItemSynced{ItemUUID: saved.UUID, UserUUID: userUUID})
	}

	switch fx.operation {
	case opAddToSharedVault:
		if err := s.userEvents.RemoveUserEventsForItemAddedToSharedVault(ctx, userUUID, saved.UUID, *saved.SharedVaultUUID); err != nil {
			log.Warn().Err(err).Str("item_uuid", saved.UUID.String()).Msg("failed to clear stale vault user events")
		}
	case opRemoveFromSharedVault:
		if err := s.userEvents.CreateItemRemovedFromSharedVaultEvent(ctx, userUUID, saved.UUID, *fx.previousVault); err != nil {
			log.Warn().Err(err).Str("item_uuid", saved.UUID.String()).Msg("failed to record vault removal user event")
		}
	}
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", ev.EventName()).Msg("event publish failed")
	}
}
