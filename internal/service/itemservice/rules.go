package itemservice

import (
	"context"

	"github.com/google/uuid"

	"github.com/notesync/syncing-api/internal/item"
	"github.com/notesync/syncing-api/internal/sharedvault"
)

// RuleInput is the per-hash context the save rules inspect.
type RuleInput struct {
	UserUUID         uuid.UUID
	Hash             item.Hash
	Existing         *item.Item
	VaultMemberships []sharedvault.User
}

// RuleResult is one of three outcomes: pass (zero value with
// Passed=true), skip-with-item (treat as saved, write nothing), or
// conflict.
type RuleResult struct {
	Passed   bool
	SkipItem *item.Item
	Conflict *item.Conflict
}

func pass() RuleResult {
	return RuleResult{Passed: true}
}

func skip(it *item.Item) RuleResult {
	return RuleResult{SkipItem: it}
}

func conflict(h item.Hash, server *item.Item, kind item.ConflictType) RuleResult {
	return RuleResult{Conflict: &item.Conflict{UnsavedItem: h, ServerItem: server, Type: kind}}
}

// SaveRule inspects one incoming hash against server state. Rules run
// in declared order; the first non-pass result wins.
type SaveRule interface {
	Check(ctx context.Context, in RuleInput) (RuleResult, error)
}

// DefaultRules is the production rule chain, in evaluation order.
func DefaultRules(toleranceMicros int64) []SaveRule {
	return []SaveRule{
		AlreadyAppliedRule{},
		TimeDifferenceRule{ToleranceMicros: toleranceMicros},
		ContentTypeRule{},
		SharedVaultRule{},
	}
}

// AlreadyAppliedRule acknowledges re-sent changes without writing. It
// must run before the time-difference check: a duplicate hash carries
// the pre-save timestamp and would otherwise conflict against the very
// write it echoes.
type AlreadyAppliedRule struct{}

func (AlreadyAppliedRule) Check(ctx context.Context, in RuleInput) (RuleResult, error) {
	if in.Existing == nil {
		return pass(), nil
	}
	if !in.Hash.ProposesChangeTo(in.Existing) {
		return skip(in.Existing), nil
	}
	return pass(), nil
}

// TimeDifferenceRule rejects writes based on a stale read: the client's
// view of updated_at_timestamp must match the server's within the
// tolerance window (zero by default; a small window absorbs clock skew).
type TimeDifferenceRule struct {
	ToleranceMicros int64
}

func (r TimeDifferenceRule) Check(ctx context.Context, in RuleInput) (RuleResult, error) {
	if in.Existing == nil {
		return pass(), nil
	}

	var clientStamp int64
	if in.Hash.UpdatedAtTimestamp != nil {
		clientStamp = *in.Hash.UpdatedAtTimestamp
	}

	diff := in.Existing.UpdatedAtTimestamp - clientStamp
	if diff < 0 {
		diff = -diff
	}
	if diff > r.ToleranceMicros {
		return conflict(in.Hash, in.Existing, item.ConflictSync), nil
	}
	return pass(), nil
}

// ContentTypeRule rejects writes that target an immutable or
// unclassifiable content type: creates must name one, and an ItemsKey
// can never be retyped (clients rely on the type to locate decryption
// roots).
type ContentTypeRule struct{}

func (ContentTypeRule) Check(ctx context.Context, in RuleInput) (RuleResult, error) {
	if in.Existing == nil {
		if in.Hash.ContentType == nil || *in.Hash.ContentType == "" {
			return conflict(in.Hash, nil, item.ConflictContentType), nil
		}
		return pass(), nil
	}

	if in.Hash.ContentType != nil && *in.Hash.ContentType == "" {
		return conflict(in.Hash, in.Existing, item.ConflictContentType), nil
	}
	if in.Existing.ContentType == item.ContentTypeItemsKey &&
		in.Hash.ContentType != nil && *in.Hash.ContentType != item.ContentTypeItemsKey {
		return conflict(in.Hash, in.Existing, item.ConflictContentType), nil
	}
	return pass(), nil
}

// SharedVaultRule verifies vault write access. Both the vault the item
// is moving into and the vault it is leaving require membership with
// write permission.
type SharedVaultRule struct{}

func (SharedVaultRule) Check(ctx context.Context, in RuleInput) (RuleResult, error) {
	vaults := make([]uuid.UUID, 0, 2)
	if in.Hash.SharedVaultUUID.Set && in.Hash.SharedVaultUUID.Valid {
		vaults = append(vaults, in.Hash.SharedVaultUUID.UUID)
	}
	if in.Existing != nil && in.Existing.SharedVaultUUID != nil {
		// Leaving or moving between vaults touches the old vault too.
		if in.Hash.SharedVaultUUID.Set {
			vaults = append(vaults, *in.Existing.SharedVaultUUID)
		}
	}

	for _, vault := range vaults {
		if !hasWriteAccess(in.VaultMemberships, vault) {
			return conflict(in.Hash, in.Existing, item.ConflictSharedVaultPermission), nil
		}
	}
	return pass(), nil
}

func hasWriteAccess(memberships []sharedvault.User, vault uuid.UUID) bool {
	for _, m := range memberships {
		if m.SharedVaultUUID == vault && m.Permission.CanWrite() {
			return true
		}
	}
	return false
}
