package item

import (
	"encoding/json"

	"github.com/google/uuid"
)

// NullableUUID is a tri-state uuid field: absent from the payload
// (Set=false), explicit null (Set=true, Valid=false), or a concrete
// value. Needed for shared_vault_uuid, where explicit null means
// "remove this item from its vault" while absence means "no change".
// A pointer cannot model this: encoding/json maps a JSON null onto a
// nil pointer without ever calling the unmarshaler, collapsing null
// into absent. The omitzero tag keeps the zero (absent) state out of
// serialized hashes.
type NullableUUID struct {
	Set   bool
	Valid bool
	UUID  uuid.UUID
}

// Ptr returns the proposed value as an optional uuid: nil for explicit
// null, the uuid otherwise. Only meaningful when Set.
func (n NullableUUID) Ptr() *uuid.UUID {
	if !n.Valid {
		return nil
	}
	v := n.UUID
	return &v
}

// UnmarshalJSON records that the field was present even when the value
// is null.
func (n *NullableUUID) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Valid = false
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	n.Valid = true
	n.UUID = u
	return nil
}

func (n NullableUUID) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.UUID.String())
}

// IsZero reports the absent state for json's omitzero.
func (n NullableUUID) IsZero() bool { return !n.Set }

// Hash is the client-upload shape: the diff the client proposes for one
// item. Every field except UUID is optional; nil means "do not change".
type Hash struct {
	UUID                uuid.UUID     `json:"uuid"`
	Content             *string       `json:"content,omitempty"`
	ContentType         *string       `json:"content_type,omitempty"`
	Deleted             *bool         `json:"deleted,omitempty"`
	EncItemKey          *string       `json:"enc_item_key,omitempty"`
	AuthHash            *string       `json:"auth_hash,omitempty"`
	ItemsKeyID          *string       `json:"items_key_id,omitempty"`
	SharedVaultUUID     NullableUUID  `json:"shared_vault_uuid,omitzero"`
	KeySystemIdentifier *string       `json:"key_system_identifier,omitempty"`
	DuplicateOf         *uuid.UUID    `json:"duplicate_of,omitempty"`
	CreatedAtTimestamp  *int64        `json:"created_at_timestamp,omitempty"`
	UpdatedAtTimestamp  *int64        `json:"updated_at_timestamp,omitempty"`
}

// ProposesChangeTo reports whether applying the hash to existing would
// alter any client-visible field. A hash that proposes nothing is a
// re-send of an already-applied change and is acknowledged without a
// write.
func (h *Hash) ProposesChangeTo(existing *Item) bool {
	if existing == nil {
		return true
	}
	if h.Content != nil && !equalStringPtr(h.Content, existing.Content) {
		return true
	}
	if h.ContentType != nil && *h.ContentType != existing.ContentType {
		return true
	}
	if h.Deleted != nil && *h.Deleted != existing.Deleted {
		return true
	}
	if h.EncItemKey != nil && !equalStringPtr(h.EncItemKey, existing.EncItemKey) {
		return true
	}
	if h.AuthHash != nil && !equalStringPtr(h.AuthHash, existing.AuthHash) {
		return true
	}
	if h.ItemsKeyID != nil && !equalStringPtr(h.ItemsKeyID, existing.ItemsKeyID) {
		return true
	}
	if h.SharedVaultUUID.Set && !equalUUIDPtr(h.SharedVaultUUID.Ptr(), existing.SharedVaultUUID) {
		return true
	}
	if h.KeySystemIdentifier != nil && !equalStringPtr(h.KeySystemIdentifier, existing.KeySystemIdentifier) {
		return true
	}
	if h.DuplicateOf != nil && !equalUUIDPtr(h.DuplicateOf, existing.DuplicateOf) {
		return true
	}
	return false
}
