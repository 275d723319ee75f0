package csrf

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// issue runs Issue on a fresh request and returns the token with the cookie it set.
func issue(t *testing.T, g *Guard) (string, *http.Cookie) {
	t.Helper()

	rec := httptest.NewRecorder()
	token, err := g.Issue(rec, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	require.NoError(t, err)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return token, cookies[0]
}

func TestIssue_SetsSecretCookie(t *testing.T) {
	t.Parallel()

	g := New(Options{Secure: true})
	token, cookie := issue(t, g)

	assert.NotEmpty(t, token)
	assert.Equal(t, DefaultCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.NotContains(t, token, cookie.Value)
}

func TestIssue_ReusesExistingSecret(t *testing.T) {
	t.Parallel()

	g := New(Options{})
	first, cookie := issue(t, g)

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	second, err := g.Issue(rec, req)
	require.NoError(t, err)

	assert.Empty(t, rec.Result().Cookies(), "existing secret must not be rotated")
	assert.NotEqual(t, first, second)

	for _, tok := range []string{first, second} {
		post := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		post.AddCookie(cookie)
		post.Header.Set(HeaderName, tok)
		assert.NoError(t, g.Validate(post))
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	g := New(Options{})
	token, cookie := issue(t, g)
	otherToken, otherCookie := issue(t, g)

	tests := []struct {
		name    string
		method  string
		cookie  *http.Cookie
		header  string
		value   string
		wantErr bool
	}{
		{"valid post", http.MethodPost, cookie, HeaderName, token, false},
		{"valid put via xsrf header", http.MethodPut, cookie, altHeaderName, token, false},
		{"valid delete", http.MethodDelete, cookie, HeaderName, token, false},
		{"get is exempt", http.MethodGet, nil, "", "", false},
		{"head is exempt", http.MethodHead, nil, "", "", false},
		{"options is exempt", http.MethodOptions, nil, "", "", false},
		{"missing header", http.MethodPost, cookie, "", "", true},
		{"missing cookie", http.MethodPost, nil, HeaderName, token, true},
		{"token from another secret", http.MethodPost, cookie, HeaderName, otherToken, true},
		{"cookie from another client", http.MethodPost, otherCookie, HeaderName, token, true},
		{"tampered token", http.MethodPost, cookie, HeaderName, token + "x", true},
		{"no separator", http.MethodPost, cookie, HeaderName, "abcdef", true},
		{"empty salt", http.MethodPost, cookie, HeaderName, ".abcdef", true},
		{"malformed cookie", http.MethodPost, &http.Cookie{Name: DefaultCookieName, Value: "%%%"}, HeaderName, token, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tc.method, "/api/auth/register", nil)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}

			err := g.Validate(req)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProtect(t *testing.T) {
	t.Parallel()

	g := New(Options{CookieName: "xsrf"})
	token, cookie := issue(t, g)
	require.Equal(t, "xsrf", cookie.Name)

	reached := false
	h := g.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"invalid or missing CSRF token"}`, rec.Body.String())
	assert.False(t, reached)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.AddCookie(cookie)
	req.Header.Set(HeaderName, token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, reached)
}
