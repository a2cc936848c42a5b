package itemservice

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/syncing-api/internal/item"
	"github.com/notesync/syncing-api/internal/sharedvault"
)

func strPtr(s string) *string { return &s }
func int64Ptr(v int64) *int64 { return &v }
func boolPtr(b bool) *bool    { return &b }

func setVault(v uuid.UUID) item.NullableUUID {
	return item.NullableUUID{Set: true, Valid: true, UUID: v}
}

func clearVault() item.NullableUUID {
	return item.NullableUUID{Set: true}
}

func existingNote(userUUID uuid.UUID, ts int64) *item.Item {
	it := &item.Item{
		UUID:               uuid.New(),
		UserUUID:           userUUID,
		Content:            strPtr("old"),
		ContentType:        item.ContentTypeNote,
		CreatedAtTimestamp: ts,
		UpdatedAtTimestamp: ts,
	}
	it.RecomputeContentSize()
	return it
}

func TestAlreadyAppliedRuleSkipsEcho(t *testing.T) {
	userUUID := uuid.New()
	existing := existingNote(userUUID, 1000)

	// A hash restating the server state proposes no change.
	hash := item.Hash{
		UUID:               existing.UUID,
		Content:            existing.Content,
		ContentType:        strPtr(existing.ContentType),
		UpdatedAtTimestamp: int64Ptr(existing.UpdatedAtTimestamp),
	}
	res, err := AlreadyAppliedRule{}.Check(context.Background(), RuleInput{UserUUID: userUUID, Hash: hash, Existing: existing})
	require.NoError(t, err)
	require.NotNil(t, res.SkipItem)
	assert.Equal(t, existing.UUID, res.SkipItem.UUID)

	// Changing the content makes it a real write again.
	hash.Content = strPtr("new")
	res, err = AlreadyAppliedRule{}.Check(context.Background(), RuleInput{UserUUID: userUUID, Hash: hash, Existing: existing})
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestTimeDifferenceRule(t *testing.T) {
	userUUID := uuid.New()
	existing := existingNote(userUUID, 1000)

	tests := []struct {
		name      string
		stamp     *int64
		tolerance int64
		conflict  bool
	}{
		{name: "matching stamp", stamp: int64Ptr(1000), conflict: false},
		{name: "stale stamp", stamp: int64Ptr(900), conflict: true},
		{name: "missing stamp", stamp: nil, conflict: true},
		{name: "within tolerance", stamp: int64Ptr(900), tolerance: 150, conflict: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hash := item.Hash{UUID: existing.UUID, Content: strPtr("new"), UpdatedAtTimestamp: tc.stamp}
			rule := TimeDifferenceRule{ToleranceMicros: tc.tolerance}
			res, err := rule.Check(context.Background(), RuleInput{UserUUID: userUUID, Hash: hash, Existing: existing})
			require.NoError(t, err)
			if tc.conflict {
				require.NotNil(t, res.Conflict)
				assert.Equal(t, item.ConflictSync, res.Conflict.Type)
				assert.Equal(t, existing, res.Conflict.ServerItem)
			} else {
				assert.True(t, res.Passed)
			}
		})
	}
}

func TestContentTypeRule(t *testing.T) {
	userUUID := uuid.New()
	itemsKey := existingNote(userUUID, 1000)
	itemsKey.ContentType = item.ContentTypeItemsKey

	tests := []struct {
		name     string
		hash     item.Hash
		existing *item.Item
		conflict bool
	}{
		{name: "create without type", hash: item.Hash{UUID: uuid.New()}, conflict: true},
		{name: "create with empty type", hash: item.Hash{UUID: uuid.New(), ContentType: strPtr("")}, conflict: true},
		{name: "create with type", hash: item.Hash{UUID: uuid.New(), ContentType: strPtr(item.ContentTypeNote)}, conflict: false},
		{name: "update clearing type", hash: item.Hash{ContentType: strPtr("")}, existing: existingNote(userUUID, 1000), conflict: true},
		{name: "retype items key", hash: item.Hash{ContentType: strPtr(item.ContentTypeNote)}, existing: itemsKey, conflict: true},
		{name: "update without type field", hash: item.Hash{Content: strPtr("new")}, existing: existingNote(userUUID, 1000), conflict: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ContentTypeRule{}.Check(context.Background(), RuleInput{UserUUID: userUUID, Hash: tc.hash, Existing: tc.existing})
			require.NoError(t, err)
			if tc.conflict {
				require.NotNil(t, res.Conflict)
				assert.Equal(t, item.ConflictContentType, res.Conflict.Type)
			} else {
				assert.True(t, res.Passed)
			}
		})
	}
}

func TestSharedVaultRule(t *testing.T) {
	userUUID := uuid.New()
	writable := uuid.New()
	readOnlyVault := uuid.New()
	foreign := uuid.New()
	memberships := []sharedvault.User{
		{UserUUID: userUUID, SharedVaultUUID: writable, Permission: sharedvault.PermissionWrite},
		{UserUUID: userUUID, SharedVaultUUID: readOnlyVault, Permission: sharedvault.PermissionRead},
	}

	inVault := existingNote(userUUID, 1000)
	inVault.SharedVaultUUID = &writable

	inForeign := existingNote(userUUID, 1000)
	inForeign.SharedVaultUUID = &foreign

	tests := []struct {
		name     string
		hash     item.Hash
		existing *item.Item
		conflict bool
	}{
		{name: "no vault involved", hash: item.Hash{}, existing: existingNote(userUUID, 1000), conflict: false},
		{name: "add to writable vault", hash: item.Hash{SharedVaultUUID: setVault(writable)}, conflict: false},
		{name: "add to read-only vault", hash: item.Hash{SharedVaultUUID: setVault(readOnlyVault)}, conflict: true},
		{name: "add to unknown vault", hash: item.Hash{SharedVaultUUID: setVault(foreign)}, conflict: true},
		{name: "remove from writable vault", hash: item.Hash{SharedVaultUUID: clearVault()}, existing: inVault, conflict: false},
		{name: "remove from foreign vault", hash: item.Hash{SharedVaultUUID: clearVault()}, existing: inForeign, conflict: true},
		{name: "vault untouched in foreign vault", hash: item.Hash{Content: strPtr("new")}, existing: inForeign, conflict: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := SharedVaultRule{}.Check(context.Background(), RuleInput{
				UserUUID:         userUUID,
				Hash:             tc.hash,
				Existing:         tc.existing,
				VaultMemberships: memberships,
			})
			require.NoError(t, err)
			if tc.conflict {
				require.NotNil(t, res.Conflict)
				assert.Equal(t, item.ConflictSharedVaultPermission, res.Conflict.Type)
			} else {
				assert.True(t, res.Passed)
			}
		})
	}
}
