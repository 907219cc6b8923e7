package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagllc/staginfra/internal/models"
)

const testSecret = "test-secret-key-at-least-16-chars"

type fakeUserFetcher struct {
	users map[string]*models.User
}

func (f *fakeUserFetcher) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, ok := f.users[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return user, nil
}

func okHandler(reached *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*reached = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_ValidAccessToken(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, time.Hour)
	user := &models.User{Email: "user@example.com", Roles: []string{"USER"}}
	token, err := tm.IssueAccessToken(user)
	require.NoError(t, err)

	reached := false
	handler := AuthMiddleware(tm)(okHandler(&reached))

	req := httptest.NewRequest("GET", "/api/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, reached)
}

func TestAuthMiddleware_RejectsMissingOrMalformedHeader(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, time.Hour)
	reached := false
	handler := AuthMiddleware(tm)(okHandler(&reached))

	for _, header := range []string{"", "Basic abc123", "Bearer", "Bearer not-a-jwt"} {
		req := httptest.NewRequest("GET", "/api/admin/users", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
	assert.False(t, reached)
}

func TestAuthMiddleware_RejectsRefreshToken(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, time.Hour)
	user := &models.User{Email: "user@example.com"}
	refreshToken, err := tm.IssueRefreshToken(user)
	require.NoError(t, err)

	reached := false
	handler := AuthMiddleware(tm)(okHandler(&reached))

	req := httptest.NewRequest("GET", "/api/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, reached)
}

func TestAuthMiddleware_RejectsExpiredToken(t *testing.T) {
	expiredTM := NewTokenManager(testSecret, -time.Minute, time.Hour)
	user := &models.User{Email: "user@example.com"}
	token, err := expiredTM.IssueAccessToken(user)
	require.NoError(t, err)

	tm := NewTokenManager(testSecret, 15*time.Minute, time.Hour)
	reached := false
	handler := AuthMiddleware(tm)(okHandler(&reached))

	req := httptest.NewRequest("GET", "/api/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, reached)
}

func TestRequireAdmin_ChecksStoreNotClaims(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, time.Hour)

	// Token claims carry ADMIN, but the store says otherwise. The store
	// wins: a revoked grant takes effect immediately.
	demoted := &models.User{Email: "demoted@example.com", Roles: []string{models.RoleAdmin}}
	token, err := tm.IssueAccessToken(demoted)
	require.NoError(t, err)

	fetcher := &fakeUserFetcher{users: map[string]*models.User{
		"demoted@example.com": {Email: "demoted@example.com", Roles: []string{"USER"}},
	}}

	reached := false
	handler := AuthMiddleware(tm)(RequireAdmin(fetcher)(okHandler(&reached)))

	req := httptest.NewRequest("GET", "/api/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, reached)
}

func TestRequireAdmin_AllowsStoredAdmin(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, time.Hour)
	admin := &models.User{Email: "admin@example.com", Roles: []string{models.RoleAdmin}}
	token, err := tm.IssueAccessToken(admin)
	require.NoError(t, err)

	fetcher := &fakeUserFetcher{users: map[string]*models.User{
		"admin@example.com": admin,
	}}

	reached := false
	handler := AuthMiddleware(tm)(RequireAdmin(fetcher)(okHandler(&reached)))

	req := httptest.NewRequest("GET", "/api/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, reached)
}

func TestRequireAdmin_UnknownUser(t *testing.T) {
	tm := NewTokenManager(testSecret, 15*time.Minute, time.Hour)
	ghost := &models.User{Email: "ghost@example.com", Roles: []string{models.RoleAdmin}}
	token, err := tm.IssueAccessToken(ghost)
	require.NoError(t, err)

	reached := false
	handler := AuthMiddleware(tm)(RequireAdmin(&fakeUserFetcher{users: map[string]*models.User{}})(okHandler(&reached)))

	req := httptest.NewRequest("GET", "/api/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, reached)
}
