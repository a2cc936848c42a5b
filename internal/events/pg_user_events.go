package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ItemRemovedFromSharedVaultEventType is the stored user-event type for
// vault removals.
const ItemRemovedFromSharedVaultEventType = "ITEM_REMOVED_FROM_SHARED_VAULT"

// PGUserEventService persists user events in the user_events table.
type PGUserEventService struct {
	DB *pgxpool.Pool
}

func NewPGUserEventService(db *pgxpool.Pool) *PGUserEventService {
	return &PGUserEventService{DB: db}
}

func (s *PGUserEventService) RemoveUserEventsForItemAddedToSharedVault(ctx context.Context, userUUID, itemUUID, sharedVaultUUID uuid.UUID) error {
	_, err := s.DB.Exec(ctx, `
		DELETE FROM user_events
		WHERE user_uuid = $1 AND item_uuid = $2 AND shared_vault_uuid = $3
	`, userUUID, itemUUID, sharedVaultUUID)
	return err
}

func (s *PGUserEventService) CreateItemRemovedFromSharedVaultEvent(ctx context.Context, userUUID, itemUUID, sharedVaultUUID uuid.UUID) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO user_events (uuid, user_uuid, item_uuid, shared_vault_uuid, event_type, created_at_timestamp)
		VALUES ($1, $2, $3, $4, $5, (EXTRACT(EPOCH FROM clock_timestamp()) * 1000000)::bigint)
	`, uuid.New(), userUUID, itemUUID, sharedVaultUUID, ItemRemovedFromSharedVaultEventType)
	return err
}
