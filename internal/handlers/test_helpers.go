package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/stagllc/staginfra/internal/auth"
	"github.com/stagllc/staginfra/internal/models"
	"github.com/stagllc/staginfra/internal/services"
	pkghttp "github.com/stagllc/staginfra/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, email string, roles ...string) *http.Request {
	claims := &models.TokenClaims{
		Type:  models.TokenTypeAccess,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: email,
		},
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	RegisterFunc            func(ctx context.Context, input services.RegistrationInput) (*models.User, error)
	VerifyEmailFunc         func(ctx context.Context, token string) (bool, error)
	ResendVerificationFunc  func(ctx context.Context, email string) (bool, error)
	LoginFunc               func(ctx context.Context, email, password string) (*models.User, error)
	RecordFailedAttemptFunc func(ctx context.Context, email string) error
	ResetFailedAttemptsFunc func(ctx context.Context, email string) error
	RecordLoginFunc         func(ctx context.Context, email, refreshToken string) error
	RefreshFunc             func(ctx context.Context, refreshToken string) (*services.TokenPair, *models.User, error)
	LogoutFunc              func(ctx context.Context, email, refreshToken string) error
	LogoutAllFunc           func(ctx context.Context, email string) error
	ListAllFunc             func(ctx context.Context) ([]*models.User, error)
	ForceVerifyFunc         func(ctx context.Context, id string) (*models.User, error)
	GrantAdminRoleFunc      func(ctx context.Context, id string) (*models.User, error)
}

func (m *MockAccountService) Register(ctx context.Context, input services.RegistrationInput) (*models.User, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, input)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAccountService) VerifyEmail(ctx context.Context, token string) (bool, error) {
	if m.VerifyEmailFunc != nil {
		return m.VerifyEmailFunc(ctx, token)
	}
	return false, nil
}

func (m *MockAccountService) ResendVerification(ctx context.Context, email string) (bool, error) {
	if m.ResendVerificationFunc != nil {
		return m.ResendVerificationFunc(ctx, email)
	}
	return false, nil
}

func (m *MockAccountService) Login(ctx context.Context, email, password string) (*models.User, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAccountService) RecordFailedAttempt(ctx context.Context, email string) error {
	if m.RecordFailedAttemptFunc != nil {
		return m.RecordFailedAttemptFunc(ctx, email)
	}
	return nil
}

func (m *MockAccountService) ResetFailedAttempts(ctx context.Context, email string) error {
	if m.ResetFailedAttemptsFunc != nil {
		return m.ResetFailedAttemptsFunc(ctx, email)
	}
	return nil
}

func (m *MockAccountService) RecordLogin(ctx context.Context, email, refreshToken string) error {
	if m.RecordLoginFunc != nil {
		return m.RecordLoginFunc(ctx, email, refreshToken)
	}
	return nil
}

func (m *MockAccountService) Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, *models.User, error) {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return nil, nil, models.ErrInvalidToken
}

func (m *MockAccountService) Logout(ctx context.Context, email, refreshToken string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, email, refreshToken)
	}
	return nil
}

func (m *MockAccountService) LogoutAll(ctx context.Context, email string) error {
	if m.LogoutAllFunc != nil {
		return m.LogoutAllFunc(ctx, email)
	}
	return nil
}

func (m *MockAccountService) ListAll(ctx context.Context) ([]*models.User, error) {
	if m.ListAllFunc != nil {
		return m.ListAllFunc(ctx)
	}
	return []*models.User{}, nil
}

func (m *MockAccountService) ForceVerify(ctx context.Context, id string) (*models.User, error) {
	if m.ForceVerifyFunc != nil {
		return m.ForceVerifyFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountService) GrantAdminRole(ctx context.Context, id string) (*models.User, error) {
	if m.GrantAdminRoleFunc != nil {
		return m.GrantAdminRoleFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}
