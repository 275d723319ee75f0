package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/authgate/apiserver/internal/httpx"
	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/mailer"
	"github.com/authgate/apiserver/internal/session"
	"github.com/authgate/apiserver/internal/store"
	"github.com/authgate/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 6
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
	resetTokenBytes  = 20
	resetPath        = "/passwordreset/"
)

var (
	ErrEmailTaken         = httpx.Validation("email already registered")
	ErrInvalidCredentials = httpx.Auth("invalid credentials")
	ErrInvalidResetToken  = httpx.Validation("invalid or expired token")
	ErrEmailNotSent       = httpx.Dependency("email could not be sent", nil)
	ErrNotAuthenticated   = httpx.Auth("not authenticated")
	ErrInvalidSession     = httpx.Auth("invalid session")
	ErrUserGone           = httpx.Auth("user no longer exists")

	errRegisterFields = httpx.Validation("Please provide name, email and password")
	errLoginFields    = httpx.Validation("Please provide an email and password")
	errForgotFields   = httpx.Validation("Please provide an email")
	errResetFields    = httpx.Validation("Please provide a password")
	errProfileFields  = httpx.Validation("Please provide name and email")
	errInvalidEmail   = httpx.Validation("Please provide a valid email")
	errShortPassword  = httpx.Validation(fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	errLongPassword   = httpx.Validation(fmt.Sprintf("Password must be at most %d bytes", maxPasswordBytes))
)

// AuthConfig tunes AuthService.
type AuthConfig struct {
	// ClientURL is the frontend origin reset links point at.
	ClientURL     string
	ResetTokenTTL time.Duration
	BcryptCost    int
}

// AuthService implements the account use cases: register, login, password
// recovery, profile updates and session resolution.
type AuthService struct {
	repo     UserRepository
	sessions *session.Issuer
	mailer   mailer.Mailer
	logger   logging.Logger
	cfg      AuthConfig
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// NewAuthService constructs an AuthService.
func NewAuthService(repo UserRepository, sessions *session.Issuer, m mailer.Mailer, logger logging.Logger, cfg AuthConfig) *AuthService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	cfg.ClientURL = strings.TrimRight(cfg.ClientURL, "/")
	return &AuthService{
		repo:     repo,
		sessions: sessions,
		mailer:   m,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Register creates an account and opens a session for it.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (types.User, string, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	in.ProfilePic = strings.TrimSpace(in.ProfilePic)

	if in.Name == "" || in.Email == "" || in.Password == "" {
		return types.User{}, "", errRegisterFields
	}
	if err := validateEmail(in.Email); err != nil {
		return types.User{}, "", err
	}
	if err := validatePassword(in.Password); err != nil {
		return types.User{}, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.BcryptCost)
	if err != nil {
		return types.User{}, "", httpx.Dependency(httpx.GenericServerError, err)
	}

	user, err := s.repo.Create(ctx, types.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: string(hash),
		ProfilePic:   in.ProfilePic,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return types.User{}, "", ErrEmailTaken
		}
		return types.User{}, "", s.dependency(ctx, "create user", err)
	}

	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		return types.User{}, "", s.dependency(ctx, "issue session", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	return user, token, nil
}

// Login checks the password and opens a new session. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, email, password string) (types.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return types.User{}, "", errLoginFields
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return types.User{}, "", s.dependency(ctx, "load user", err)
		}
		// Spend the same bcrypt work as a real comparison.
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		return types.User{}, "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, "", ErrInvalidCredentials
	}

	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		return types.User{}, "", s.dependency(ctx, "issue session", err)
	}
	return user, token, nil
}

// ForgotPassword mails a reset link when email belongs to an account. It
// returns nil for unknown addresses. The token is stored before mailing and
// stays valid if delivery fails; a later call replaces it.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return errForgotFields
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.logger.Debug(ctx, "password reset requested for unknown email")
			return nil
		}
		return s.dependency(ctx, "load user", err)
	}

	token, err := newResetToken()
	if err != nil {
		return s.dependency(ctx, "generate reset token", err)
	}
	if err := s.repo.SetResetToken(ctx, user.ID, hashResetToken(token), s.now().Add(s.cfg.ResetTokenTTL)); err != nil {
		return s.dependency(ctx, "store reset token", err)
	}

	if err := s.mailer.Send(ctx, s.resetMessage(user.Email, token)); err != nil {
		s.logger.Error(ctx, "reset email not sent", "user_id", user.ID, "err", err)
		return ErrEmailNotSent.Wrap(err)
	}

	s.logger.Info(ctx, "password reset requested", "user_id", user.ID)
	return nil
}

// ResetPassword consumes token and sets the new password. A token works
// at most once.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) (types.User, error) {
	if password == "" {
		return types.User{}, errResetFields
	}
	if err := validatePassword(password); err != nil {
		return types.User{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return types.User{}, ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return types.User{}, httpx.Dependency(httpx.GenericServerError, err)
	}

	user, err := s.repo.ConsumeResetToken(ctx, hashResetToken(token), s.now(), string(hash))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidResetToken
		}
		return types.User{}, s.dependency(ctx, "consume reset token", err)
	}

	s.logger.Info(ctx, "password reset", "user_id", user.ID)
	return user, nil
}

// UpdateProfile changes the name, email and optionally the picture of
// userID. Password and ID are never touched.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (types.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = normalizeEmail(in.Email)
	if in.Name == "" || in.Email == "" {
		return types.User{}, errProfileFields
	}
	if err := validateEmail(in.Email); err != nil {
		return types.User{}, err
	}

	current, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUserGone
		}
		return types.User{}, s.dependency(ctx, "load user", err)
	}

	current.Name = in.Name
	current.Email = in.Email
	if in.ProfilePic != nil {
		current.ProfilePic = strings.TrimSpace(*in.ProfilePic)
	}

	updated, err := s.repo.UpdateProfile(ctx, current)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return types.User{}, ErrEmailTaken
		case errors.Is(err, store.ErrNotFound):
			return types.User{}, ErrUserGone
		}
		return types.User{}, s.dependency(ctx, "update profile", err)
	}
	return updated, nil
}

// Resolve maps a session credential to the user it was issued for.
func (s *AuthService) Resolve(ctx context.Context, credential string) (types.User, error) {
	if credential == "" {
		return types.User{}, ErrNotAuthenticated
	}

	// Expired, forged and malformed credentials all answer "invalid session".
	userID, err := s.sessions.Subject(credential)
	if err != nil {
		s.logger.Debug(ctx, "session rejected", "err", err)
		return types.User{}, ErrInvalidSession
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUserGone
		}
		return types.User{}, s.dependency(ctx, "load user", err)
	}
	return user, nil
}

// SessionTTL is how long credentials from Register and Login stay valid.
func (s *AuthService) SessionTTL() time.Duration {
	return s.sessions.TTL()
}

func (s *AuthService) resetMessage(to, token string) mailer.Message {
	link := s.cfg.ClientURL + resetPath + token
	return mailer.Message{
		To:      to,
		Subject: "Password Reset Request",
		Text: fmt.Sprintf("You have requested a password reset.\n\nOpen this link to choose a new password:\n%s\n\n"+
			"The link expires in %s. If you did not request this, ignore this email.", link, s.cfg.ResetTokenTTL),
		HTML: fmt.Sprintf(`<h1>You have requested a password reset</h1>
<p>Please go to this link to reset your password:</p>
<a href="%[1]s" clicktracking=off>%[1]s</a>
<p>The link expires in %[2]s.</p>`, html.EscapeString(link), s.cfg.ResetTokenTTL),
	}
}

func (s *AuthService) dependency(ctx context.Context, op string, err error) error {
	s.logger.Error(ctx, op+" failed", "err", err)
	return httpx.Dependency(httpx.GenericServerError, fmt.Errorf("%s: %w", op, err))
}

func (s *AuthService) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("authgate-dummy-password"), s.cfg.BcryptCost)
	})
	return s.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return errInvalidEmail
	}
	return nil
}

func validatePassword(password string) error {
	if len([]rune(password)) < minPasswordLength {
		return errShortPassword
	}
	if len(password) > maxPasswordBytes {
		return errLongPassword
	}
	return nil
}

func newResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
