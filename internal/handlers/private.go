package handlers

import (
	"net/http"

	"github.com/authgate/apiserver/internal/httpx"
	"github.com/authgate/apiserver/internal/services"
	"github.com/authgate/apiserver/types"
	"github.com/go-chi/chi/v5"
)

const privateData = "You got access to the private data in this route"

// PrivateHandler serves routes that need a resolved session.
type PrivateHandler struct {
	auth *services.AuthService
}

// NewPrivateHandler constructs a PrivateHandler.
func NewPrivateHandler(auth *services.AuthService) *PrivateHandler {
	return &PrivateHandler{auth: auth}
}

// PrivateRouter registers the protected routes. requireAuth must run before
// any of them.
func PrivateRouter(r chi.Router, handler *PrivateHandler, requireAuth func(http.Handler) http.Handler) {
	r.Use(requireAuth)
	r.Get("/", handler.GetPrivateData)
	r.Post("/update-profile", handler.UpdateProfile)
}

type privateResponse struct {
	Success bool             `json:"success"`
	Data    string           `json:"data"`
	User    types.PublicUser `json:"user"`
}

// GetPrivateData answers with the data behind the auth guard.
func (h *PrivateHandler) GetPrivateData(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		httpx.Respond(w, services.ErrNotAuthenticated)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, privateResponse{Success: true, Data: privateData, User: user.Public()})
}

type profileResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	User    types.PublicUser `json:"user"`
}

// UpdateProfile changes the name, email and picture of the signed-in user.
func (h *PrivateHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		httpx.Respond(w, services.ErrNotAuthenticated)
		return
	}

	var req services.UpdateProfileInput
	if err := decodeJSON(w, r, &req); err != nil {
		httpx.Respond(w, err)
		return
	}

	updated, err := h.auth.UpdateProfile(r.Context(), user.ID, req)
	if err != nil {
		httpx.Respond(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, profileResponse{
		Success: true,
		Message: "Profile updated successfully",
		User:    updated.Public(),
	})
}
