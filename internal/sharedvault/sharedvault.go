// Package sharedvault exposes the membership side of shared vaults:
// read-only lookups the sync engine uses to scope reads and gate
// writes. Vault lifecycle and key agreement live elsewhere.
package sharedvault

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Permission levels a member can hold in a vault.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// CanWrite reports whether the permission level allows item writes.
func (p Permission) CanWrite() bool {
	return p == PermissionWrite || p == PermissionAdmin
}

// User is one membership edge: a user's standing in one vault.
type User struct {
	UserUUID        uuid.UUID
	SharedVaultUUID uuid.UUID
	Permission      Permission
}

// UserRepository resolves a user's vault memberships.
type UserRepository interface {
	FindAllForUser(ctx context.Context, userUUID uuid.UUID) ([]User, error)
}

// PGUserRepository reads memberships from the shared_vault_users table.
type PGUserRepository struct {
	DB *pgxpool.Pool
}

func NewPGUserRepository(db *pgxpool.Pool) *PGUserRepository {
	return &PGUserRepository{DB: db}
}

func (r *PGUserRepository) FindAllForUser(ctx context.Context, userUUID uuid.UUID) ([]User, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT user_uuid, shared_vault_uuid, permission
		FROM shared_vault_users
		WHERE user_uuid = $1
	`, userUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UserUUID, &u.SharedVaultUUID, &u.Permission); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// MemoryUserRepository is a fixed membership table for tests.
type MemoryUserRepository struct {
	Users []User
}

func (r *MemoryUserRepository) FindAllForUser(ctx context.Context, userUUID uuid.UUID) ([]User, error) {
	var out []User
	for _, u := range r.Users {
		if u.UserUUID == userUUID {
			out = append(out, u)
		}
	}
	return out, nil
}
