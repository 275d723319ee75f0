package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/authgate/apiserver/internal/httpx"
	"github.com/authgate/apiserver/internal/logging"
	"github.com/authgate/apiserver/internal/services"
	"github.com/authgate/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const (
	forgotPasswordSent = "If an account exists for that email, a reset link has been sent"
	passwordResetDone  = "Password reset success"
	loggedOut          = "Logged out"
)

// CookieOptions controls the session cookie.
type CookieOptions struct {
	Name   string
	Secure bool
}

// AuthHandler serves the account endpoints under /api/auth.
type AuthHandler struct {
	auth   *services.AuthService
	cookie CookieOptions
	logger logging.Logger
}

// NewAuthHandler constructs an AuthHandler. An empty cookie name defaults to "token".
func NewAuthHandler(auth *services.AuthService, cookie CookieOptions, logger logging.Logger) *AuthHandler {
	if cookie.Name == "" {
		cookie.Name = "token"
	}
	return &AuthHandler{auth: auth, cookie: cookie, logger: logger}
}

// AuthRouter registers auth routes on the given router.
func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/logout", handler.Logout)
	r.Post("/forgotPassword", handler.ForgotPassword)
	r.Put("/resetPassword/{resetToken}", handler.ResetPassword)
}

// SessionResolver maps a credential to its user.
type SessionResolver interface {
	Resolve(ctx context.Context, credential string) (types.User, error)
}

// RequireAuth resolves the session from the cookie or a bearer header and
// attaches the user to the request context. A cookie that no longer
// resolves falls back to the bearer header. Anything else is 401.
func RequireAuth(resolver SessionResolver, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolveCredential(r, resolver, cookieName)
			if err != nil {
				httpx.Respond(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
		})
	}
}

func resolveCredential(r *http.Request, resolver SessionResolver, cookieName string) (types.User, error) {
	var candidates []string
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		candidates = append(candidates, c.Value)
	}
	if bearer := bearerToken(r); bearer != "" && (len(candidates) == 0 || candidates[0] != bearer) {
		candidates = append(candidates, bearer)
	}
	if len(candidates) == 0 {
		return resolver.Resolve(r.Context(), "")
	}

	var lastErr error
	for _, credential := range candidates {
		user, err := resolver.Resolve(r.Context(), credential)
		if err == nil {
			return user, nil
		}
		// Store failures are not retried with another credential.
		if httpx.As(err).Kind != httpx.KindAuth {
			return types.User{}, err
		}
		lastErr = err
	}
	return types.User{}, lastErr
}

type authResponse struct {
	Success bool             `json:"success"`
	Data    types.PublicUser `json:"data"`
	Token   string           `json:"token"`
}

// Register creates an account and opens a session for it.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.Respond(w, err)
		return
	}

	user, token, err := h.auth.Register(r.Context(), req)
	if err != nil {
		httpx.Respond(w, err)
		return
	}

	h.setSession(w, token)
	httpx.WriteJSON(w, http.StatusCreated, authResponse{Success: true, Data: user.Public(), Token: token})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login opens a session for a matching email and password.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.Respond(w, err)
		return
	}

	user, token, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if httpx.As(err).Kind == httpx.KindAuth {
			h.logger.Info(r.Context(), "login failed")
		}
		httpx.Respond(w, err)
		return
	}

	h.setSession(w, token)
	httpx.WriteJSON(w, http.StatusOK, authResponse{Success: true, Data: user.Public(), Token: token})
}

// Logout clears the session cookie. Tokens are stateless and stay valid
// until they expire.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	httpx.OK(w, http.StatusOK, loggedOut)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// ForgotPassword mails a reset link. The response is the same whether or not
// the email is registered.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.Respond(w, err)
		return
	}

	if err := h.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		httpx.Respond(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, forgotPasswordSent)
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

// ResetPassword sets a new password using the token from the reset link.
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.Respond(w, err)
		return
	}

	if _, err := h.auth.ResetPassword(r.Context(), chi.URLParam(r, "resetToken"), req.Password); err != nil {
		httpx.Respond(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, passwordResetDone)
}

func (h *AuthHandler) setSession(w http.ResponseWriter, token string) {
	ttl := h.auth.SessionTTL()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
