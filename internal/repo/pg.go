package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notesync/syncing-api/internal/item"
)

// PGItemRepository is the Postgres-backed primary store.
type PGItemRepository struct {
	DB *pgxpool.Pool
}

func NewPGItemRepository(db *pgxpool.Pool) *PGItemRepository {
	return &PGItemRepository{DB: db}
}

const itemColumns = `uuid, user_uuid, shared_vault_uuid, key_system_identifier,
	content, content_type, content_size, enc_item_key, auth_hash, items_key_id,
	deleted, duplicate_of, last_edited_by_uuid, updated_with_session,
	created_at_timestamp, updated_at_timestamp`

func (r *PGItemRepository) FindByUUID(ctx context.Context, userUUID, itemUUID uuid.UUID) (*item.Item, error) {
	row := r.DB.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE user_uuid = $1 AND uuid = $2
	`, userUUID, itemUUID)

	it, err := scanItem(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (r *PGItemRepository) FindAll(ctx context.Context, q item.Query) ([]item.Item, error) {
	where, args := buildItemFilter(q)
	sql := `SELECT ` + itemColumns + ` FROM items ` + where + orderClause(q) + pageClause(q, &args)

	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]item.Item, 0, q.Limit)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (r *PGItemRepository) CountAll(ctx context.Context, q item.Query) (int, error) {
	where, args := buildItemFilter(q)

	var count int
	err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM items `+where, args...).Scan(&count)
	return count, err
}

func (r *PGItemRepository) FindContentSizes(ctx context.Context, q item.Query) ([]item.SizeProjection, error) {
	where, args := buildItemFilter(q)
	sql := `SELECT uuid, content_size, updated_at_timestamp FROM items ` + where + orderClause(q) + pageClause(q, &args)

	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]item.SizeProjection, 0, q.Limit)
	for rows.Next() {
		var p item.SizeProjection
		if err := rows.Scan(&p.UUID, &p.ContentSize, &p.UpdatedAtTimestamp); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Save upserts by uuid. The conflict branch only fires for the same
// owner; an untouched row means the uuid belongs to someone else.
func (r *PGItemRepository) Save(ctx context.Context, it *item.Item) error {
	tag, err := r.DB.Exec(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (uuid) DO UPDATE SET
			shared_vault_uuid     = EXCLUDED.shared_vault_uuid,
			key_system_identifier = EXCLUDED.key_system_identifier,
			content               = EXCLUDED.content,
			content_type          = EXCLUDED.content_type,
			content_size          = EXCLUDED.content_size,
			enc_item_key          = EXCLUDED.enc_item_key,
			auth_hash             = EXCLUDED.auth_hash,
			items_key_id          = EXCLUDED.items_key_id,
			deleted               = EXCLUDED.deleted,
			duplicate_of          = EXCLUDED.duplicate_of,
			last_edited_by_uuid   = EXCLUDED.last_edited_by_uuid,
			updated_with_session  = EXCLUDED.updated_with_session,
			created_at_timestamp  = EXCLUDED.created_at_timestamp,
			updated_at_timestamp  = EXCLUDED.updated_at_timestamp
		WHERE items.user_uuid = EXCLUDED.user_uuid
	`, it.UUID, it.UserUUID, it.SharedVaultUUID, it.KeySystemIdentifier,
		it.Content, it.ContentType, it.ContentSize, it.EncItemKey, it.AuthHash, it.ItemsKeyID,
		it.Deleted, it.DuplicateOf, it.LastEditedByUUID, it.UpdatedWithSession,
		it.CreatedAtTimestamp, it.UpdatedAtTimestamp)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUUIDTaken
	}
	return nil
}

func (r *PGItemRepository) RemoveByUUID(ctx context.Context, userUUID, itemUUID uuid.UUID) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM items WHERE user_uuid = $1 AND uuid = $2`, userUUID, itemUUID)
	return err
}

func (r *PGItemRepository) DeleteByUserUUIDAndNotInSharedVault(ctx context.Context, userUUID uuid.UUID) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM items WHERE user_uuid = $1 AND shared_vault_uuid IS NULL`, userUUID)
	return err
}

// buildItemFilter renders the query's filters into a WHERE clause with
// numbered placeholders. Ordering and paging are appended separately so
// CountAll can reuse the same filter.
func buildItemFilter(q item.Query) (string, []any) {
	conds := make([]string, 0, 6)
	args := make([]any, 0, 6)

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(q.ExclusiveSharedVaultUUIDs) > 0 {
		conds = append(conds, "shared_vault_uuid = ANY("+arg(q.ExclusiveSharedVaultUUIDs)+")")
	} else if len(q.IncludeSharedVaultUUIDs) > 0 {
		conds = append(conds, "(user_uuid = "+arg(q.UserUUID)+" OR shared_vault_uuid = ANY("+arg(q.IncludeSharedVaultUUIDs)+"))")
	} else {
		conds = append(conds, "user_uuid = "+arg(q.UserUUID))
	}

	if len(q.UUIDs) > 0 {
		conds = append(conds, "uuid = ANY("+arg(q.UUIDs)+")")
	}
	if q.ContentType != nil {
		conds = append(conds, "content_type = "+arg(*q.ContentType))
	}
	if q.Deleted != nil {
		conds = append(conds, "deleted = "+arg(*q.Deleted))
	}
	if q.LastSyncTime != nil {
		cmp := ">"
		if q.Comparator == item.CompareGreaterOrEqual {
			cmp = ">="
		}
		conds = append(conds, string(sortColumn(q))+" "+cmp+" "+arg(*q.LastSyncTime))
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}

func sortColumn(q item.Query) item.SortBy {
	if q.SortBy == item.SortByCreatedAt {
		return item.SortByCreatedAt
	}
	return item.SortByUpdatedAt
}

func orderClause(q item.Query) string {
	dir := "ASC"
	if q.SortOrder == item.SortDesc {
		dir = "DESC"
	}
	col := string(sortColumn(q))
	return fmt.Sprintf(" ORDER BY %s %s, uuid %s", col, dir, dir)
}

func pageClause(q item.Query, args *[]any) string {
	clause := ""
	if q.Limit > 0 {
		*args = append(*args, q.Limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(*args))
	}
	if q.Offset > 0 {
		*args = append(*args, q.Offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}
	return clause
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*item.Item, error) {
	var it item.Item
	err := row.Scan(
		&it.UUID, &it.UserUUID, &it.SharedVaultUUID, &it.KeySystemIdentifier,
		&it.Content, &it.ContentType, &it.ContentSize, &it.EncItemKey, &it.AuthHash, &it.ItemsKeyID,
		&it.Deleted, &it.DuplicateOf, &it.LastEditedByUUID, &it.UpdatedWithSession,
		&it.CreatedAtTimestamp, &it.UpdatedAtTimestamp,
	)
	if err != nil {
		return nil, err
	}
	return &it, nil
}
