// Package item defines the unit of sync: an opaque encrypted record
// owned by a user and optionally scoped to a shared vault. Content is
// never inspected server-side; the engine orders, filters, and
// conflicts on metadata only.
package item

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Content types with server-side behavioral significance. Everything
// else is passed through untouched.
const (
	ContentTypeNote     = "Note"
	ContentTypeFile     = "File"
	ContentTypeItemsKey = "ItemsKey"
)

// Item is the persisted sync record. Timestamps are Unix microseconds;
// UpdatedAtTimestamp is the sync ordering key and strictly increases
// across a user's saves.
type Item struct {
	UUID                uuid.UUID  `json:"uuid"`
	UserUUID            uuid.UUID  `json:"user_uuid"`
	SharedVaultUUID     *uuid.UUID `json:"shared_vault_uuid,omitempty"`
	KeySystemIdentifier *string    `json:"key_system_identifier,omitempty"`
	Content             *string    `json:"content"`
	ContentType         string     `json:"content_type"`
	ContentSize         int64      `json:"content_size"`
	EncItemKey          *string    `json:"enc_item_key,omitempty"`
	AuthHash            *string    `json:"auth_hash,omitempty"`
	ItemsKeyID          *string    `json:"items_key_id,omitempty"`
	Deleted             bool       `json:"deleted"`
	DuplicateOf         *uuid.UUID `json:"duplicate_of,omitempty"`
	LastEditedByUUID    *uuid.UUID `json:"last_edited_by_uuid,omitempty"`
	UpdatedWithSession  *uuid.UUID `json:"updated_with_session,omitempty"`
	CreatedAtTimestamp  int64      `json:"created_at_timestamp"`
	UpdatedAtTimestamp  int64      `json:"updated_at_timestamp"`
}

// Clone returns a deep copy; pointer fields are re-allocated so the
// copy can be mutated independently.
func (i *Item) Clone() *Item {
	out := *i
	out.SharedVaultUUID = cloneUUIDPtr(i.SharedVaultUUID)
	out.KeySystemIdentifier = cloneStringPtr(i.KeySystemIdentifier)
	out.Content = cloneStringPtr(i.Content)
	out.EncItemKey = cloneStringPtr(i.EncItemKey)
	out.AuthHash = cloneStringPtr(i.AuthHash)
	out.ItemsKeyID = cloneStringPtr(i.ItemsKeyID)
	out.DuplicateOf = cloneUUIDPtr(i.DuplicateOf)
	out.LastEditedByUUID = cloneUUIDPtr(i.LastEditedByUUID)
	out.UpdatedWithSession = cloneUUIDPtr(i.UpdatedWithSession)
	return &out
}

// MarkDeleted turns the item into a tombstone: content and the crypto
// envelope are cleared and the size drops to zero. The row itself stays
// so clients learn of the deletion through the sync stream.
func (i *Item) MarkDeleted() {
	i.Deleted = true
	i.Content = nil
	i.ContentSize = 0
	i.EncItemKey = nil
	i.AuthHash = nil
	i.ItemsKeyID = nil
}

// RecomputeContentSize sets ContentSize to the byte length of the
// item's canonical JSON serialization. The size field itself is zeroed
// in the shadow copy being measured, keeping the value stable across
// recomputations.
func (i *Item) RecomputeContentSize() {
	shadow := *i
	shadow.ContentSize = 0
	raw, err := json.Marshal(&shadow)
	if err != nil {
		// Item fields are all marshalable; this cannot fail in practice.
		i.ContentSize = 0
		return
	}
	i.ContentSize = int64(len(raw))
}

// IsIdenticalTo compares the fields a client decrypts plus the sync
// ordering key. Creation and provenance metadata (created_at,
// last_edited_by, updated_with_session) and the derived content_size
// are deliberately elided: a store migration must not fail over
// metadata that does not change what a client sees.
func (i *Item) IsIdenticalTo(other *Item) bool {
	if other == nil {
		return false
	}
	return equalStringPtr(i.Content, other.Content) &&
		i.ContentType == other.ContentType &&
		i.Deleted == other.Deleted &&
		equalStringPtr(i.EncItemKey, other.EncItemKey) &&
		equalStringPtr(i.AuthHash, other.AuthHash) &&
		equalStringPtr(i.ItemsKeyID, other.ItemsKeyID) &&
		equalUUIDPtr(i.DuplicateOf, other.DuplicateOf) &&
		equalUUIDPtr(i.SharedVaultUUID, other.SharedVaultUUID) &&
		equalStringPtr(i.KeySystemIdentifier, other.KeySystemIdentifier) &&
		i.UpdatedAtTimestamp == other.UpdatedAtTimestamp
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneUUIDPtr(p *uuid.UUID) *uuid.UUID {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalUUIDPtr(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
