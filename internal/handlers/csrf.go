package handlers

import (
	"net/http"

	"github.com/authgate/apiserver/internal/csrf"
	"github.com/authgate/apiserver/internal/httpx"
	"github.com/authgate/apiserver/internal/logging"
)

type csrfTokenResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// CSRFToken hands the client a token for its secret cookie, setting the
// cookie on first contact.
func CSRFToken(guard *csrf.Guard, logger logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := guard.Issue(w, r)
		if err != nil {
			logger.Error(r.Context(), "issue csrf token", "err", err)
			httpx.Respond(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, csrfTokenResponse{CSRFToken: token})
	}
}
