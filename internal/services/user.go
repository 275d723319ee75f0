package services

import (
	"context"
	"time"

	"github.com/authgate/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	// UpdateProfile writes Name, Email and ProfilePic of user.ID.
	UpdateProfile(ctx context.Context, user types.User) (types.User, error)
	SetResetToken(ctx context.Context, id, tokenHash string, expiry time.Time) error
	// ConsumeResetToken sets passwordHash on the user holding tokenHash,
	// provided the token is unexpired at now, and clears the token in the
	// same atomic step.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (types.User, error)
}

// RegisterInput is the body of a registration request.
type RegisterInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	ProfilePic string `json:"profilePic"`
}

// UpdateProfileInput carries the editable profile fields.
type UpdateProfileInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	// ProfilePic is left unchanged when nil.
	ProfilePic *string `json:"profilePic"`
}
