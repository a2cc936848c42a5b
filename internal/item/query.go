package item

import "github.com/google/uuid"

// Comparator selects how LastSyncTime bounds the stream: strict for
// sync tokens, inclusive for cursor tokens.
type Comparator string

const (
	CompareGreater        Comparator = ">"
	CompareGreaterOrEqual Comparator = ">="
)

// Sort keys and orders supported by the repositories.
type SortBy string

const (
	SortByUpdatedAt SortBy = "updated_at_timestamp"
	SortByCreatedAt SortBy = "created_at_timestamp"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Query describes one repository read. Zero values mean "no filter";
// an unset SortBy defaults to updated_at_timestamp ascending. Ties on
// the sort key break by uuid lexicographic order so pagination is
// deterministic.
type Query struct {
	UserUUID                  uuid.UUID
	UUIDs                     []uuid.UUID
	ContentType               *string
	Deleted                   *bool
	IncludeSharedVaultUUIDs   []uuid.UUID
	ExclusiveSharedVaultUUIDs []uuid.UUID
	LastSyncTime              *int64
	Comparator                Comparator
	SortBy                    SortBy
	SortOrder                 SortOrder
	Offset                    int
	Limit                     int
}

// SizeProjection is the slim row streamed by the transfer calculator's
// projection query. The timestamp rides along so inclusive cursor reads
// can recognize the already-delivered boundary item.
type SizeProjection struct {
	UUID               uuid.UUID
	ContentSize        int64
	UpdatedAtTimestamp int64
}

// Conflict kinds reported in save responses.
type ConflictType string

const (
	ConflictUUID                  ConflictType = "uuid_conflict"
	ConflictSync                  ConflictType = "sync_conflict"
	ConflictContentType           ConflictType = "content_type_error"
	ConflictReadOnly              ConflictType = "readonly_error"
	ConflictSharedVaultPermission ConflictType = "shared_vault_insufficient_permissions_error"
)

// Conflict pairs the rejected client hash with the winning server copy
// (when one exists) and the reason the write was refused.
type Conflict struct {
	UnsavedItem Hash         `json:"unsaved_item"`
	ServerItem  *Item        `json:"server_item,omitempty"`
	Type        ConflictType `json:"type"`
}
