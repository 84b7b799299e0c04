// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokenlock Contributors

// Package postgres stores profiles in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/tokenlock/tokenlock/internal/auth"
)

// poolIface is the subset of pgxpool.Pool the repository uses, so pgxmock can
// stand in for it.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const profileColumns = `id, user_id, position, account_id, label, encrypted_credential, created_at`

// ProfileRepository implements auth.ProfileRepository using PostgreSQL.
type ProfileRepository struct {
	pool poolIface
}

// NewProfileRepository creates a new ProfileRepository.
func NewProfileRepository(pool poolIface) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// FindProfile returns the user's profile at the given position. Selector 0
// selects position 1.
func (r *ProfileRepository) FindProfile(ctx context.Context, userID string, selector int) (*auth.Profile, error) {
	position := selector
	if position == 0 {
		position = 1
	}

	row := r.pool.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE user_id = $1 AND position = $2
	`, userID, position)

	profile, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.explainMiss(ctx, userID, position)
	}
	if err != nil {
		return nil, oops.Code("PROFILE_FIND_FAILED").
			With("operation", "find profile").
			With("user_id", userID).
			With("position", position).
			Wrap(err)
	}
	return profile, nil
}

// explainMiss works out which lookup sentinel applies when no profile matched.
func (r *ProfileRepository) explainMiss(ctx context.Context, userID string, position int) error {
	var (
		userExists bool
		count      int
	)
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM users WHERE id = $1),
		       (SELECT COUNT(*) FROM profiles WHERE user_id = $1)
	`, userID).Scan(&userExists, &count)
	if err != nil {
		return oops.Code("PROFILE_FIND_FAILED").
			With("operation", "count profiles").
			With("user_id", userID).
			Wrap(err)
	}

	switch {
	case !userExists:
		return oops.Code("USER_NOT_FOUND").With("user_id", userID).Wrap(auth.ErrUserNotFound)
	case count == 0:
		return oops.Code("PROFILES_EMPTY").With("user_id", userID).Wrap(auth.ErrNoProfiles)
	default:
		return oops.Code("PROFILE_NOT_FOUND").
			With("user_id", userID).
			With("position", position).
			With("profile_count", count).
			Wrap(auth.ErrProfileNotFound)
	}
}

// Create stores a new profile at the user's next position and records the
// user on first enrollment. Profile.Position is set on success.
func (r *ProfileRepository) Create(ctx context.Context, profile *auth.Profile) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("PROFILE_CREATE_FAILED").With("operation", "begin transaction").Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `
		INSERT INTO users (id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, profile.UserID, profile.CreatedAt); err != nil {
		return oops.Code("PROFILE_CREATE_FAILED").
			With("operation", "upsert user").
			With("user_id", profile.UserID).
			Wrap(err)
	}

	// Serializes position assignment per user.
	if _, err := tx.Exec(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, profile.UserID); err != nil {
		return oops.Code("PROFILE_CREATE_FAILED").
			With("operation", "lock user").
			With("user_id", profile.UserID).
			Wrap(err)
	}

	var position int
	err = tx.QueryRow(ctx, `
		INSERT INTO profiles (id, user_id, position, account_id, label, encrypted_credential, created_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(position), 0) + 1 FROM profiles WHERE user_id = $2), $3, $4, $5, $6)
		RETURNING position
	`,
		profile.ID.String(),
		profile.UserID,
		profile.AccountID,
		profile.Label,
		profile.EncryptedCredential,
		profile.CreatedAt,
	).Scan(&position)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("AUTH_PROFILE_DUPLICATE").
				With("user_id", profile.UserID).
				With("account_id", profile.AccountID).
				Errorf("account %s is already enrolled", profile.AccountID)
		}
		return oops.Code("PROFILE_CREATE_FAILED").
			With("operation", "insert profile").
			With("user_id", profile.UserID).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("PROFILE_CREATE_FAILED").With("operation", "commit").Wrap(err)
	}
	profile.Position = position
	return nil
}

// ListByUser returns the user's profiles ordered by position.
func (r *ProfileRepository) ListByUser(ctx context.Context, userID string) ([]*auth.Profile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE user_id = $1
		ORDER BY position
	`, userID)
	if err != nil {
		return nil, oops.Code("PROFILE_LIST_FAILED").
			With("operation", "list profiles").
			With("user_id", userID).
			Wrap(err)
	}
	defer rows.Close()

	var profiles []*auth.Profile
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, oops.Code("PROFILE_SCAN_FAILED").
				With("operation", "scan profile row").
				Wrap(err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("PROFILE_ROWS_ERROR").
			With("operation", "iterate profile rows").
			Wrap(err)
	}
	return profiles, nil
}

// Delete removes a profile and closes the gap it leaves in the user's
// positions.
func (r *ProfileRepository) Delete(ctx context.Context, id ulid.ULID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("PROFILE_DELETE_FAILED").With("operation", "begin transaction").Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }() //nolint:errcheck // no-op after commit

	var (
		userID   string
		position int
	)
	err = tx.QueryRow(ctx, `
		DELETE FROM profiles WHERE id = $1
		RETURNING user_id, position
	`, id.String()).Scan(&userID, &position)
	if errors.Is(err, pgx.ErrNoRows) {
		return oops.Code("PROFILE_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrProfileNotFound)
	}
	if err != nil {
		return oops.Code("PROFILE_DELETE_FAILED").
			With("operation", "delete profile").
			With("id", id.String()).
			Wrap(err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE profiles SET position = position - 1
		WHERE user_id = $1 AND position > $2
	`, userID, position); err != nil {
		return oops.Code("PROFILE_DELETE_FAILED").
			With("operation", "renumber profiles").
			With("user_id", userID).
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("PROFILE_DELETE_FAILED").With("operation", "commit").Wrap(err)
	}
	return nil
}

// scanProfile scans one profile. pgx.ErrNoRows is returned unchanged.
func scanProfile(row pgx.Row) (*auth.Profile, error) {
	var (
		idStr     string
		profile   auth.Profile
		createdAt time.Time
	)
	err := row.Scan(
		&idStr,
		&profile.UserID,
		&profile.Position,
		&profile.AccountID,
		&profile.Label,
		&profile.EncryptedCredential,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("PROFILE_SCAN_FAILED").With("operation", "scan profile").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("PROFILE_INVALID_ID").
			With("operation", "parse profile id").
			With("id", idStr).
			Wrap(err)
	}
	profile.ID = id
	profile.CreatedAt = createdAt
	return &profile, nil
}

// Compile-time interface check.
var _ auth.ProfileRepository = (*ProfileRepository)(nil)
