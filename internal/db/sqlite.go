package db

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	uuid                  TEXT PRIMARY KEY,
	user_uuid             TEXT NOT NULL,
	shared_vault_uuid     TEXT,
	key_system_identifier TEXT,
	content               TEXT,
	content_type          TEXT NOT NULL DEFAULT '',
	content_size          INTEGER NOT NULL DEFAULT 0,
	enc_item_key          TEXT,
	auth_hash             TEXT,
	items_key_id          TEXT,
	deleted               INTEGER NOT NULL DEFAULT 0,
	duplicate_of          TEXT,
	last_edited_by_uuid   TEXT,
	updated_with_session  TEXT,
	created_at_timestamp  INTEGER NOT NULL,
	updated_at_timestamp  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_user_updated ON items (user_uuid, updated_at_timestamp);
CREATE INDEX IF NOT EXISTS idx_items_user_created ON items (user_uuid, created_at_timestamp);
`

// OpenSQLite opens (creating if needed) the secondary item store and
// bootstraps its schema. WAL mode keeps the transition's interleaved
// reads and writes from blocking each other.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	handle, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := handle.PingContext(ctx); err != nil {
		handle.Close()
		return nil, err
	}
	if _, err := handle.ExecContext(ctx, sqliteSchema); err != nil {
		handle.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("sqlite secondary store opened")
	return handle, nil
}
