package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/authgate/apiserver/internal/httpx"
	"github.com/authgate/apiserver/types"
)

const maxBodyBytes = 1 << 20

type contextKey string

const contextUserKey contextKey = "user"

var errInvalidBody = httpx.Validation("invalid request body")

// UserFromContext returns the user RequireAuth attached to ctx.
func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	return user, ok
}

func withUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, contextUserKey, user)
}

// decodeJSON reads a single JSON object into dst. An empty body decodes to
// the zero value so missing fields surface as validation errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errInvalidBody.Wrap(err)
	}
	if dec.More() {
		return errInvalidBody
	}
	return nil
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
