package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stagllc/staginfra/internal/models"
	pkghttp "github.com/stagllc/staginfra/pkg/http"
)

// AdminAccountService defines the admin-facing account operations
type AdminAccountService interface {
	ListAll(ctx context.Context) ([]*models.User, error)
	ForceVerify(ctx context.Context, id string) (*models.User, error)
	GrantAdminRole(ctx context.Context, id string) (*models.User, error)
}

// AdminHandler handles administrative HTTP requests
type AdminHandler struct {
	service AdminAccountService
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminAccountService) *AdminHandler {
	return &AdminHandler{service: service}
}

// UserResponse represents a user in an admin HTTP response. Password hashes,
// verification tokens and refresh tokens are never serialized.
type UserResponse struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	Company        string   `json:"company,omitempty"`
	JobTitle       string   `json:"job_title,omitempty"`
	EmailVerified  bool     `json:"email_verified"`
	Roles          []string `json:"roles"`
	ActiveSessions int      `json:"active_sessions"`
	Locked         bool     `json:"locked"`
	LastLogin      *string  `json:"last_login,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

func toUserResponse(user *models.User) UserResponse {
	resp := UserResponse{
		ID:             user.ID,
		Email:          user.Email,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		Company:        user.Company,
		JobTitle:       user.JobTitle,
		EmailVerified:  user.EmailVerified,
		Roles:          user.Roles,
		ActiveSessions: len(user.ActiveSessions),
		Locked:         user.IsLocked(),
		CreatedAt:      user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      user.UpdatedAt.Format(time.RFC3339),
	}
	if resp.Roles == nil {
		resp.Roles = []string{}
	}
	if user.LastLogin != nil {
		lastLogin := user.LastLogin.Format(time.RFC3339)
		resp.LastLogin = &lastLogin
	}
	return resp
}

// ListUsers returns every account, newest first.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListAll(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	responses := make([]UserResponse, 0, len(users))
	for _, user := range users {
		responses = append(responses, toUserResponse(user))
	}

	pkghttp.WriteJSON(w, http.StatusOK, responses)
}

// VerifyUser marks an account's email verified without a token.
func (h *AdminHandler) VerifyUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := h.service.ForceVerify(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

// MakeAdmin grants the ADMIN role to an account.
func (h *AdminHandler) MakeAdmin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	user, err := h.service.GrantAdminRole(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toUserResponse(user))
}
