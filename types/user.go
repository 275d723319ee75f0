package types

import "time"

// User represents an account in the system.
// It contains identity, credentials, profile and password-reset state.
type User struct {
	// ID is the opaque identifier of the user.
	ID string `json:"id" db:"id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name"`

	// Email is the user's email address, unique across users.
	// It is stored trimmed and lower-cased.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// ProfilePic is an optional URL of the user's picture.
	ProfilePic string `json:"profilePic,omitempty" db:"profile_pic"`

	// ResetTokenHash is the SHA-256 hex digest of an outstanding password
	// reset token, empty when none is pending.
	ResetTokenHash string `json:"-" db:"reset_token_hash"`

	// ResetTokenExpiry is when the outstanding reset token stops being valid.
	ResetTokenExpiry time.Time `json:"-" db:"reset_token_expiry"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// PublicUser is the subset of User that may leave the server.
type PublicUser struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// Public returns the safe projection of the user.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		ProfilePic: u.ProfilePic,
	}
}
