package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/authgate/apiserver/types"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

const userColumns = `id, name, email, password_hash, profile_pic, reset_token_hash, reset_token_expiry, created_at, updated_at`

// UserRepository handles persistence for users in PostgreSQL.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.User{}, ErrNotFound
	}
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (id, name, email, password_hash, profile_pic, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.ProfilePic,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return types.User{}, mapPQError(err)
	}
	return user, nil
}

// UpdateProfile writes the profile fields of user. Credentials and reset
// state are left untouched.
func (r *UserRepository) UpdateProfile(ctx context.Context, user types.User) (types.User, error) {
	if _, err := uuid.Parse(user.ID); err != nil {
		return types.User{}, ErrNotFound
	}

	const query = `
		UPDATE users
		SET name = $1,
			email = $2,
			profile_pic = $3,
			updated_at = $4
		WHERE id = $5
		RETURNING ` + userColumns
	updated, err := scanUser(r.db.QueryRowContext(
		ctx,
		query,
		user.Name,
		user.Email,
		user.ProfilePic,
		time.Now().UTC(),
		user.ID,
	))
	if err != nil {
		return types.User{}, mapPQError(err)
	}
	return updated, nil
}

func (r *UserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiry time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	const query = `
		UPDATE users
		SET reset_token_hash = $1,
			reset_token_expiry = $2,
			updated_at = $3
		WHERE id = $4`
	result, err := r.db.ExecContext(ctx, query, tokenHash, expiry.UTC(), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeResetToken sets a new password for the user holding an unexpired
// reset token and clears the token in the same statement.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (types.User, error) {
	const query = `
		UPDATE users
		SET password_hash = $1,
			reset_token_hash = NULL,
			reset_token_expiry = NULL,
			updated_at = $2
		WHERE reset_token_hash = $3
			AND reset_token_expiry > $2
		RETURNING ` + userColumns
	return scanUser(r.db.QueryRowContext(ctx, query, passwordHash, now.UTC(), tokenHash))
}

func scanUser(row *sql.Row) (types.User, error) {
	var (
		user       types.User
		profilePic sql.NullString
		resetHash  sql.NullString
		resetUntil sql.NullTime
	)
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&profilePic,
		&resetHash,
		&resetUntil,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	user.ProfilePic = profilePic.String
	user.ResetTokenHash = resetHash.String
	if resetUntil.Valid {
		user.ResetTokenExpiry = resetUntil.Time
	}
	return user, nil
}

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrDuplicate
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
