// Package events defines the domain events the sync engine emits and
// the publisher/collaborator interfaces it emits them through. Event
// delivery is best-effort: a sync must never fail because a downstream
// notification could not be queued.
package events

import (
	"context"

	"github.com/google/uuid"
)

// Event is implemented by every published domain event.
type Event interface {
	EventName() string
}

// ItemRevisionCreationRequested asks the revisions archive to snapshot
// an item.
type ItemRevisionCreationRequested struct {
	ItemUUID uuid.UUID `json:"item_uuid"`
	UserUUID uuid.UUID `json:"user_uuid"`
}

func (ItemRevisionCreationRequested) EventName() string { return "ITEM_REVISION_CREATION_REQUESTED" }

// DuplicateItemSynced notes that an item arrived carrying duplicate_of
// provenance.
type DuplicateItemSynced struct {
	ItemUUID uuid.UUID `json:"item_uuid"`
	UserUUID uuid.UUID `json:"user_uuid"`
}

func (DuplicateItemSynced) EventName() string { return "DUPLICATE_ITEM_SYNCED" }

// TransitionStatusUpdated reports per-user store migration progress.
type TransitionStatusUpdated struct {
	UserUUID            uuid.UUID `json:"user_uuid"`
	Status              string    `json:"status"`
	TransitionType      string    `json:"transition_type"`
	TransitionTimestamp int64     `json:"transition_timestamp"`
}

func (TransitionStatusUpdated) EventName() string { return "TRANSITION_STATUS_UPDATED" }

// Publisher hands events to the message fabric. Implementations must be
// safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// UserEventService is the user-facing notification collaborator. The
// sync engine calls it when an item's vault membership changes so other
// vault members see accurate notifications.
type UserEventService interface {
	// RemoveUserEventsForItemAddedToSharedVault clears stale
	// notifications referencing an item that just (re)entered a vault.
	RemoveUserEventsForItemAddedToSharedVault(ctx context.Context, userUUID, itemUUID, sharedVaultUUID uuid.UUID) error
	// CreateItemRemovedFromSharedVaultEvent records an
	// ItemRemovedFromSharedVault user event for vault members.
	CreateItemRemovedFromSharedVaultEvent(ctx context.Context, userUUID, itemUUID, sharedVaultUUID uuid.UUID) error
}
