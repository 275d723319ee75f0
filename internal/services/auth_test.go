package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/authgate/apiserver/internal/httpx"
	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/mailer"
	"github.com/authgate/apiserver/internal/session"
	"github.com/authgate/apiserver/internal/store"
	"github.com/authgate/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) last(t *testing.T) mailer.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

type brokenRepo struct {
	UserRepository
}

func (brokenRepo) GetByEmail(context.Context, string) (types.User, error) {
	return types.User{}, errors.New("connection refused")
}

type fixture struct {
	svc    *AuthService
	repo   *store.MemoryUserRepository
	mail   *fakeMailer
	issuer *session.Issuer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := store.NewMemoryUserRepository()
	issuer := session.NewIssuer("test-secret", time.Hour)
	mail := &fakeMailer{}
	svc := NewAuthService(repo, issuer, mail, logging.Discard(), AuthConfig{
		ClientURL:     "http://localhost:3000/",
		ResetTokenTTL: 10 * time.Minute,
		BcryptCost:    bcrypt.MinCost,
	})
	return &fixture{svc: svc, repo: repo, mail: mail, issuer: issuer}
}

func (f *fixture) register(t *testing.T, email, password string) types.User {
	t.Helper()
	user, _, err := f.svc.Register(context.Background(), RegisterInput{Name: "Ana", Email: email, Password: password})
	require.NoError(t, err)
	return user
}

// resetToken extracts the raw token from the last reset email.
func (f *fixture) resetToken(t *testing.T) string {
	t.Helper()
	msg := f.mail.last(t)
	i := strings.Index(msg.Text, resetPath)
	require.GreaterOrEqual(t, i, 0)
	return strings.Fields(msg.Text[i+len(resetPath):])[0]
}

func TestRegister(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	user, token, err := f.svc.Register(ctx, RegisterInput{Name: " Ana ", Email: " A@X.com ", Password: "longpw123"})
	require.NoError(t, err)
	assert.Equal(t, "Ana", user.Name)
	assert.Equal(t, "a@x.com", user.Email)
	assert.NotEqual(t, "longpw123", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("longpw123")))

	subject, err := f.issuer.Subject(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, subject)

	_, _, err = f.svc.Register(ctx, RegisterInput{Name: "Other", Email: "a@x.com", Password: "longpw123"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	tests := []struct {
		name string
		in   RegisterInput
		want string
	}{
		{"missing name", RegisterInput{Email: "a@x.com", Password: "longpw123"}, "Please provide name, email and password"},
		{"missing email", RegisterInput{Name: "Ana", Password: "longpw123"}, "Please provide name, email and password"},
		{"missing password", RegisterInput{Name: "Ana", Email: "a@x.com"}, "Please provide name, email and password"},
		{"bad email", RegisterInput{Name: "Ana", Email: "not-an-email", Password: "longpw123"}, "Please provide a valid email"},
		{"display name email", RegisterInput{Name: "Ana", Email: "Ana <a@x.com>", Password: "longpw123"}, "Please provide a valid email"},
		{"short password", RegisterInput{Name: "Ana", Email: "a@x.com", Password: "abc"}, "Password must be at least 6 characters"},
		{"long password", RegisterInput{Name: "Ana", Email: "a@x.com", Password: strings.Repeat("p", 73)}, "Password must be at most 72 bytes"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := f.svc.Register(context.Background(), tc.in)
			e := httpx.As(err)
			assert.Equal(t, httpx.KindValidation, e.Kind)
			assert.Equal(t, tc.want, e.Message)
		})
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	registered, registerToken, err := f.svc.Register(ctx, RegisterInput{Name: "Ana", Email: "a@x.com", Password: "longpw123"})
	require.NoError(t, err)

	user, loginToken, err := f.svc.Login(ctx, "A@x.com", "longpw123")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	assert.NotEqual(t, registerToken, loginToken)

	for _, token := range []string{registerToken, loginToken} {
		resolved, err := f.svc.Resolve(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, registered.ID, resolved.ID)
	}

	_, _, err = f.svc.Login(ctx, "a@x.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = f.svc.Login(ctx, "nobody@x.com", "longpw123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = f.svc.Login(ctx, "", "longpw123")
	assert.Equal(t, httpx.KindValidation, httpx.As(err).Kind)
}

func TestLogin_StoreFailureIsHidden(t *testing.T) {
	t.Parallel()

	svc := NewAuthService(brokenRepo{}, session.NewIssuer("s", time.Hour), &fakeMailer{}, logging.Discard(), AuthConfig{BcryptCost: bcrypt.MinCost})

	_, _, err := svc.Login(context.Background(), "a@x.com", "longpw123")
	e := httpx.As(err)
	assert.Equal(t, httpx.KindDependency, e.Kind)
	assert.Equal(t, httpx.GenericServerError, e.Message)
	assert.ErrorContains(t, err, "connection refused")
}

func TestForgotPassword_EnumerationResistant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "longpw123")

	assert.NoError(t, f.svc.ForgotPassword(ctx, "a@x.com"))
	assert.NoError(t, f.svc.ForgotPassword(ctx, "nobody@x.com"))

	f.mail.mu.Lock()
	assert.Len(t, f.mail.sent, 1)
	f.mail.mu.Unlock()
}

func TestForgotPassword_StoresHashedToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "a@x.com", "longpw123")

	require.NoError(t, f.svc.ForgotPassword(ctx, "a@x.com"))

	msg := f.mail.last(t)
	assert.Equal(t, "a@x.com", msg.To)
	assert.Contains(t, msg.Text, "http://localhost:3000/passwordreset/")
	assert.Contains(t, msg.HTML, "http://localhost:3000/passwordreset/")

	token := f.resetToken(t)
	assert.Len(t, token, 2*resetTokenBytes)

	stored, err := f.repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, hashResetToken(token), stored.ResetTokenHash)
	assert.NotEqual(t, token, stored.ResetTokenHash)
	assert.NotEmpty(t, stored.ResetTokenHash)
	assert.True(t, time.Now().Before(stored.ResetTokenExpiry))
	assert.True(t, stored.ResetTokenExpiry.Before(time.Now().Add(11*time.Minute)))
}

func TestForgotPassword_MailFailureKeepsToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "a@x.com", "longpw123")
	f.mail.err = mailer.ErrNotSent

	err := f.svc.ForgotPassword(ctx, "a@x.com")
	assert.ErrorIs(t, err, ErrEmailNotSent)
	assert.ErrorIs(t, err, mailer.ErrNotSent)
	assert.Equal(t, "email could not be sent", httpx.As(err).Message)

	stored, err := f.repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ResetTokenHash)

	// a later request replaces the undelivered token
	f.mail.err = nil
	require.NoError(t, f.svc.ForgotPassword(ctx, "a@x.com"))
	again, err := f.repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, stored.ResetTokenHash, again.ResetTokenHash)
}

func TestResetPassword_SingleUse(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "longpw123")
	require.NoError(t, f.svc.ForgotPassword(ctx, "a@x.com"))
	token := f.resetToken(t)

	_, err := f.svc.ResetPassword(ctx, token, "newpass456")
	require.NoError(t, err)

	_, err = f.svc.ResetPassword(ctx, token, "another789")
	assert.ErrorIs(t, err, ErrInvalidResetToken)
	assert.Equal(t, "invalid or expired token", httpx.As(err).Message)

	_, _, err = f.svc.Login(ctx, "a@x.com", "longpw123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = f.svc.Login(ctx, "a@x.com", "newpass456")
	assert.NoError(t, err)
}

func TestResetPassword_Expired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@x.com", "longpw123")
	require.NoError(t, f.svc.ForgotPassword(ctx, "a@x.com"))
	token := f.resetToken(t)

	f.svc.now = func() time.Time { return time.Now().Add(11 * time.Minute) }
	_, err := f.svc.ResetPassword(ctx, token, "newpass456")
	assert.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestResetPassword_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ResetPassword(ctx, "sometoken", "")
	assert.Equal(t, "Please provide a password", httpx.As(err).Message)

	_, err = f.svc.ResetPassword(ctx, "sometoken", "abc")
	assert.Equal(t, httpx.KindValidation, httpx.As(err).Kind)

	_, err = f.svc.ResetPassword(ctx, "unknown", "newpass456")
	assert.ErrorIs(t, err, ErrInvalidResetToken)
}

func TestUpdateProfile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	ana := f.register(t, "a@x.com", "longpw123")
	f.register(t, "b@x.com", "longpw123")

	pic := "https://cdn.example.com/ana.png"
	updated, err := f.svc.UpdateProfile(ctx, ana.ID, UpdateProfileInput{Name: "Ana Maria", Email: "AM@x.com", ProfilePic: &pic})
	require.NoError(t, err)
	assert.Equal(t, ana.ID, updated.ID)
	assert.Equal(t, "Ana Maria", updated.Name)
	assert.Equal(t, "am@x.com", updated.Email)
	assert.Equal(t, pic, updated.ProfilePic)
	assert.Equal(t, ana.PasswordHash, updated.PasswordHash)

	kept, err := f.svc.UpdateProfile(ctx, ana.ID, UpdateProfileInput{Name: "Ana", Email: "am@x.com"})
	require.NoError(t, err)
	assert.Equal(t, pic, kept.ProfilePic)

	_, err = f.svc.UpdateProfile(ctx, ana.ID, UpdateProfileInput{Name: "Ana", Email: "b@x.com"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = f.svc.UpdateProfile(ctx, ana.ID, UpdateProfileInput{Name: "Ana"})
	assert.Equal(t, "Please provide name and email", httpx.As(err).Message)

	_, err = f.svc.UpdateProfile(ctx, "missing", UpdateProfileInput{Name: "Ana", Email: "c@x.com"})
	assert.ErrorIs(t, err, ErrUserGone)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	user := f.register(t, "a@x.com", "longpw123")

	_, err := f.svc.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = f.svc.Resolve(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidSession)

	forged, err := session.NewIssuer("other-secret", time.Hour).Issue(user.ID)
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidSession)

	expired, err := session.NewIssuer("test-secret", -time.Minute).Issue(user.ID)
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.Equal(t, "invalid session", httpx.As(err).Message)

	orphan, err := f.issuer.Issue("no-such-user")
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, orphan)
	assert.ErrorIs(t, err, ErrUserGone)

	assert.Equal(t, httpx.KindAuth, httpx.As(ErrUserGone).Kind)
}
