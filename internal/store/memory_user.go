package store

import (
	"context"
	"sync"
	"time"

	"github.com/authgate/apiserver/types"
	"github.com/google/uuid"
)

// MemoryUserRepository keeps users in process memory. It backs
// STORE_DRIVER=memory and the test suites.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]types.User
	byEmail map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    make(map[string]types.User),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return types.User{}, ErrDuplicate
	}

	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.ResetTokenHash = ""
	user.ResetTokenExpiry = time.Time{}
	user.CreatedAt = now
	user.UpdatedAt = now

	r.byID[user.ID] = user
	r.byEmail[user.Email] = user.ID
	return user, nil
}

func (r *MemoryUserRepository) UpdateProfile(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[user.ID]
	if !ok {
		return types.User{}, ErrNotFound
	}
	if ownerID, taken := r.byEmail[user.Email]; taken && ownerID != user.ID {
		return types.User{}, ErrDuplicate
	}

	delete(r.byEmail, current.Email)
	current.Name = user.Name
	current.Email = user.Email
	current.ProfilePic = user.ProfilePic
	current.UpdatedAt = time.Now().UTC()

	r.byID[current.ID] = current
	r.byEmail[current.Email] = current.ID
	return current, nil
}

func (r *MemoryUserRepository) SetResetToken(_ context.Context, id, tokenHash string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	user.ResetTokenHash = tokenHash
	user.ResetTokenExpiry = expiry
	user.UpdatedAt = time.Now().UTC()
	r.byID[id] = user
	return nil
}

func (r *MemoryUserRepository) ConsumeResetToken(_ context.Context, tokenHash string, now time.Time, passwordHash string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, user := range r.byID {
		if user.ResetTokenHash == "" || user.ResetTokenHash != tokenHash {
			continue
		}
		if !now.Before(user.ResetTokenExpiry) {
			return types.User{}, ErrNotFound
		}
		user.PasswordHash = passwordHash
		user.ResetTokenHash = ""
		user.ResetTokenExpiry = time.Time{}
		user.UpdatedAt = now
		r.byID[id] = user
		return user, nil
	}
	return types.User{}, ErrNotFound
}
