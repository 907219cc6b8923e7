package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/stagllc/staginfra/internal/handlers"
	"github.com/stagllc/staginfra/internal/models"
)

func adminTestUser() *models.User {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	return &models.User{
		ID:            "user_123",
		Email:         "user@example.com",
		FirstName:     "Test",
		LastName:      "User",
		PasswordHash:  "$2a$12$secret",
		EmailVerified: true,
		Roles:         []string{models.RoleAdmin},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// routeHandler mounts the handler under chi so URL params resolve.
func adminRouter(h *handlers.AdminHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/api/admin/users", h.ListUsers)
	r.Post("/api/admin/users/{id}/verify", h.VerifyUser)
	r.Post("/api/admin/users/{id}/make-admin", h.MakeAdmin)
	return r
}

func TestListUsersHandler(t *testing.T) {
	service := &handlers.MockAccountService{
		ListAllFunc: func(ctx context.Context) ([]*models.User, error) {
			return []*models.User{adminTestUser()}, nil
		},
	}
	router := adminRouter(handlers.NewAdminHandler(service))

	req := httptest.NewRequest("GET", "/api/admin/users", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp []handlers.UserResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Len(t, resp, 1)
	assert.Equal(t, "user_123", resp[0].ID)
	assert.Equal(t, []string{models.RoleAdmin}, resp[0].Roles)

	// Secrets never leave the server.
	assert.NotContains(t, w.Body.String(), "secret")
	assert.NotContains(t, w.Body.String(), "password")
}

func TestVerifyUserHandler(t *testing.T) {
	var verifiedID string
	service := &handlers.MockAccountService{
		ForceVerifyFunc: func(ctx context.Context, id string) (*models.User, error) {
			verifiedID = id
			user := adminTestUser()
			user.EmailVerified = true
			return user, nil
		},
	}
	router := adminRouter(handlers.NewAdminHandler(service))

	req := httptest.NewRequest("POST", "/api/admin/users/user_123/verify", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp handlers.UserResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "user_123", verifiedID)
	assert.True(t, resp.EmailVerified)
}

func TestVerifyUserHandler_NotFound(t *testing.T) {
	service := &handlers.MockAccountService{
		ForceVerifyFunc: func(ctx context.Context, id string) (*models.User, error) {
			return nil, models.ErrNotFound
		},
	}
	router := adminRouter(handlers.NewAdminHandler(service))

	req := httptest.NewRequest("POST", "/api/admin/users/no_such_user/verify", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}

func TestMakeAdminHandler(t *testing.T) {
	var promotedID string
	service := &handlers.MockAccountService{
		GrantAdminRoleFunc: func(ctx context.Context, id string) (*models.User, error) {
			promotedID = id
			return adminTestUser(), nil
		},
	}
	router := adminRouter(handlers.NewAdminHandler(service))

	req := httptest.NewRequest("POST", "/api/admin/users/user_123/make-admin", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp handlers.UserResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "user_123", promotedID)
	assert.Contains(t, resp.Roles, models.RoleAdmin)
}
