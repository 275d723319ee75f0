// Package csrf implements double-submit anti-forgery tokens. The secret lives
// in a per-client cookie and every token is derived from it, so no server-side
// token state is shared between requests.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/authgate/apiserver/internal/httpx"
)

const (
	DefaultCookieName = "_csrf"
	HeaderName        = "X-CSRF-Token"
	altHeaderName     = "X-XSRF-Token"

	secretBytes = 18
	saltBytes   = 8
	separator   = "."
)

// ErrInvalidToken is returned for any failed validation.
var ErrInvalidToken = httpx.Forbidden("invalid or missing CSRF token")

var encoding = base64.RawURLEncoding

// Options configures a Guard.
type Options struct {
	CookieName string
	// Secure marks the secret cookie HTTPS-only.
	Secure bool
}

// Guard issues and validates tokens.
type Guard struct {
	cookieName string
	secure     bool
}

// New returns a Guard. An empty cookie name defaults to "_csrf".
func New(opts Options) *Guard {
	name := opts.CookieName
	if name == "" {
		name = DefaultCookieName
	}
	return &Guard{cookieName: name, secure: opts.Secure}
}

// Issue returns a token bound to the client's secret cookie, minting and
// setting the cookie first when the request does not carry a usable one.
func (g *Guard) Issue(w http.ResponseWriter, r *http.Request) (string, error) {
	secret, ok := g.secretFrom(r)
	if !ok {
		var err error
		secret, err = randomBytes(secretBytes)
		if err != nil {
			return "", err
		}
		http.SetCookie(w, &http.Cookie{
			Name:     g.cookieName,
			Value:    encoding.EncodeToString(secret),
			Path:     "/",
			HttpOnly: true,
			Secure:   g.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	salt, err := randomBytes(saltBytes)
	if err != nil {
		return "", err
	}
	return tokenFor(secret, encoding.EncodeToString(salt)), nil
}

// Validate checks r against its secret cookie. Safe methods always pass.
func (g *Guard) Validate(r *http.Request) error {
	if isSafeMethod(r.Method) {
		return nil
	}

	secret, ok := g.secretFrom(r)
	if !ok {
		return ErrInvalidToken
	}

	token := strings.TrimSpace(r.Header.Get(HeaderName))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get(altHeaderName))
	}
	if !verify(secret, token) {
		return ErrInvalidToken
	}
	return nil
}

// Protect rejects state-changing requests that fail Validate with 403.
func (g *Guard) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Validate(r); err != nil {
			httpx.Respond(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) secretFrom(r *http.Request) ([]byte, bool) {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil {
		return nil, false
	}
	secret, err := encoding.DecodeString(cookie.Value)
	if err != nil || len(secret) != secretBytes {
		return nil, false
	}
	return secret, true
}

func tokenFor(secret []byte, salt string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(salt))
	return salt + separator + encoding.EncodeToString(mac.Sum(nil))
}

func verify(secret []byte, token string) bool {
	salt, _, found := strings.Cut(token, separator)
	if !found || salt == "" {
		return false
	}
	expected := tokenFor(secret, salt)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
