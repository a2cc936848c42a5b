package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/notesync/syncing-api/internal/item"
)

// SQLiteItemRepository is the secondary store used as one end of a
// dual-database transition. UUIDs are stored as text; the schema is
// bootstrapped by db.OpenSQLite.
type SQLiteItemRepository struct {
	DB *sql.DB
}

func NewSQLiteItemRepository(db *sql.DB) *SQLiteItemRepository {
	return &SQLiteItemRepository{DB: db}
}

func (r *SQLiteItemRepository) FindByUUID(ctx context.Context, userUUID, itemUUID uuid.UUID) (*item.Item, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE user_uuid = ? AND uuid = ?
	`, userUUID.String(), itemUUID.String())

	it, err := scanSQLiteItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (r *SQLiteItemRepository) FindAll(ctx context.Context, q item.Query) ([]item.Item, error) {
	where, args := buildSQLiteFilter(q)
	query := `SELECT ` + itemColumns + ` FROM items ` + where + orderClause(q) + sqlitePageClause(q, &args)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]item.Item, 0, q.Limit)
	for rows.Next() {
		it, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (r *SQLiteItemRepository) CountAll(ctx context.Context, q item.Query) (int, error) {
	where, args := buildSQLiteFilter(q)

	var count int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM items `+where, args...).Scan(&count)
	return count, err
}

func (r *SQLiteItemRepository) FindContentSizes(ctx context.Context, q item.Query) ([]item.SizeProjection, error) {
	where, args := buildSQLiteFilter(q)
	query := `SELECT uuid, content_size, updated_at_timestamp FROM items ` + where + orderClause(q) + sqlitePageClause(q, &args)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]item.SizeProjection, 0, q.Limit)
	for rows.Next() {
		var raw string
		var p item.SizeProjection
		if err := rows.Scan(&raw, &p.ContentSize, &p.UpdatedAtTimestamp); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		p.UUID = id
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteItemRepository) Save(ctx context.Context, it *item.Item) error {
	// SQLite's upsert cannot express the cross-owner guard in one
	// statement the way the Postgres store does, so probe first.
	var owner string
	err := r.DB.QueryRowContext(ctx, `SELECT user_uuid FROM items WHERE uuid = ?`, it.UUID.String()).Scan(&owner)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil && owner != it.UserUUID.String() {
		return ErrUUIDTaken
	}

	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET
			shared_vault_uuid     = excluded.shared_vault_uuid,
			key_system_identifier = excluded.key_system_identifier,
			content               = excluded.content,
			content_type          = excluded.content_type,
			content_size          = excluded.content_size,
			enc_item_key          = excluded.enc_item_key,
			auth_hash             = excluded.auth_hash,
			items_key_id          = excluded.items_key_id,
			deleted               = excluded.deleted,
			duplicate_of          = excluded.duplicate_of,
			last_edited_by_uuid   = excluded.last_edited_by_uuid,
			updated_with_session  = excluded.updated_with_session,
			created_at_timestamp  = excluded.created_at_timestamp,
			updated_at_timestamp  = excluded.updated_at_timestamp
	`, it.UUID.String(), it.UserUUID.String(), uuidPtrToNull(it.SharedVaultUUID), strPtrToNull(it.KeySystemIdentifier),
		strPtrToNull(it.Content), it.ContentType, it.ContentSize, strPtrToNull(it.EncItemKey),
		strPtrToNull(it.AuthHash), strPtrToNull(it.ItemsKeyID), it.Deleted, uuidPtrToNull(it.DuplicateOf),
		uuidPtrToNull(it.LastEditedByUUID), uuidPtrToNull(it.UpdatedWithSession),
		it.CreatedAtTimestamp, it.UpdatedAtTimestamp)
	return err
}

func (r *SQLiteItemRepository) RemoveByUUID(ctx context.Context, userUUID, itemUUID uuid.UUID) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM items WHERE user_uuid = ? AND uuid = ?`,
		userUUID.String(), itemUUID.String())
	return err
}

func (r *SQLiteItemRepository) DeleteByUserUUIDAndNotInSharedVault(ctx context.Context, userUUID uuid.UUID) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM items WHERE user_uuid = ? AND shared_vault_uuid IS NULL`,
		userUUID.String())
	return err
}

func buildSQLiteFilter(q item.Query) (string, []any) {
	conds := make([]string, 0, 6)
	args := make([]any, 0, 6)

	if len(q.ExclusiveSharedVaultUUIDs) > 0 {
		conds = append(conds, "shared_vault_uuid IN ("+placeholders(len(q.ExclusiveSharedVaultUUIDs))+")")
		for _, v := range q.ExclusiveSharedVaultUUIDs {
			args = append(args, v.String())
		}
	} else if len(q.IncludeSharedVaultUUIDs) > 0 {
		conds = append(conds, "(user_uuid = ? OR shared_vault_uuid IN ("+placeholders(len(q.IncludeSharedVaultUUIDs))+"))")
		args = append(args, q.UserUUID.String())
		for _, v := range q.IncludeSharedVaultUUIDs {
			args = append(args, v.String())
		}
	} else {
		conds = append(conds, "user_uuid = ?")
		args = append(args, q.UserUUID.String())
	}

	if len(q.UUIDs) > 0 {
		conds = append(conds, "uuid IN ("+placeholders(len(q.UUIDs))+")")
		for _, v := range q.UUIDs {
			args = append(args, v.String())
		}
	}
	if q.ContentType != nil {
		conds = append(conds, "content_type = ?")
		args = append(args, *q.ContentType)
	}
	if q.Deleted != nil {
		conds = append(conds, "deleted = ?")
		args = append(args, *q.Deleted)
	}
	if q.LastSyncTime != nil {
		cmp := ">"
		if q.Comparator == item.CompareGreaterOrEqual {
			cmp = ">="
		}
		conds = append(conds, string(sortColumn(q))+" "+cmp+" ?")
		args = append(args, *q.LastSyncTime)
	}

	return "WHERE " + strings.Join(conds, " AND "), args
}

func sqlitePageClause(q item.Query, args *[]any) string {
	clause := ""
	if q.Limit > 0 {
		clause += " LIMIT ?"
		*args = append(*args, q.Limit)
	}
	if q.Offset > 0 {
		clause += " OFFSET ?"
		*args = append(*args, q.Offset)
	}
	return clause
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func scanSQLiteItem(row rowScanner) (*item.Item, error) {
	var (
		it                           item.Item
		rawUUID, rawUser             string
		vault, keySystem, content    sql.NullString
		encKey, authHash, itemsKeyID sql.NullString
		dupOf, editor, session       sql.NullString
	)

	err := row.Scan(
		&rawUUID, &rawUser, &vault, &keySystem,
		&content, &it.ContentType, &it.ContentSize, &encKey, &authHash, &itemsKeyID,
		&it.Deleted, &dupOf, &editor, &session,
		&it.CreatedAtTimestamp, &it.UpdatedAtTimestamp,
	)
	if err != nil {
		return nil, err
	}

	if it.UUID, err = uuid.Parse(rawUUID); err != nil {
		return nil, err
	}
	if it.UserUUID, err = uuid.Parse(rawUser); err != nil {
		return nil, err
	}
	if it.SharedVaultUUID, err = nullToUUIDPtr(vault); err != nil {
		return nil, err
	}
	if it.DuplicateOf, err = nullToUUIDPtr(dupOf); err != nil {
		return nil, err
	}
	if it.LastEditedByUUID, err = nullToUUIDPtr(editor); err != nil {
		return nil, err
	}
	if it.UpdatedWithSession, err = nullToUUIDPtr(session); err != nil {
		return nil, err
	}
	it.KeySystemIdentifier = nullToStrPtr(keySystem)
	it.Content = nullToStrPtr(content)
	it.EncItemKey = nullToStrPtr(encKey)
	it.AuthHash = nullToStrPtr(authHash)
	it.ItemsKeyID = nullToStrPtr(itemsKeyID)

	return &it, nil
}

func strPtrToNull(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func uuidPtrToNull(p *uuid.UUID) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: p.String(), Valid: true}
}

func nullToStrPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func nullToUUIDPtr(n sql.NullString) (*uuid.UUID, error) {
	if !n.Valid {
		return nil, nil
	}
	id, err := uuid.Parse(n.String)
	if err != nil {
		return nil, fmt.Errorf("repo: corrupt uuid column %q: %w", n.String, err)
	}
	return &id, nil
}
