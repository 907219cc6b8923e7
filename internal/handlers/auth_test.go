package handlers_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagllc/staginfra/internal/auth"
	"github.com/stagllc/staginfra/internal/handlers"
	"github.com/stagllc/staginfra/internal/models"
	"github.com/stagllc/staginfra/internal/services"
)

// fakeLimiter is a scriptable RateLimiter recording Reset calls.
type fakeLimiter struct {
	mu      sync.Mutex
	allowed bool
	resets  []string
}

func (f *fakeLimiter) Allow(identifier string, action services.RateLimitAction) bool {
	return f.allowed
}

func (f *fakeLimiter) Reset(identifier string, action services.RateLimitAction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, string(action)+":"+identifier)
}

func (f *fakeLimiter) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resets)
}

func newAuthHandler(service *handlers.MockAccountService, limiter *fakeLimiter) *handlers.AuthHandler {
	tm := auth.NewTokenManager("handler-test-secret-32-characters!", 15*time.Minute, 7*24*time.Hour)
	timing := auth.NewTimingDelay(auth.TimingConfig{})
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return handlers.NewAuthHandler(service, tm, limiter, timing, nil, logger)
}

func verifiedUser(email string) *models.User {
	return &models.User{
		ID:            "user_123",
		Email:         email,
		EmailVerified: true,
	}
}

func TestLoginHandler_Success(t *testing.T) {
	var recordedToken string
	service := &handlers.MockAccountService{
		LoginFunc: func(ctx context.Context, email, password string) (*models.User, error) {
			return verifiedUser(email), nil
		},
		RecordLoginFunc: func(ctx context.Context, email, refreshToken string) error {
			recordedToken = refreshToken
			return nil
		},
	}
	limiter := &fakeLimiter{allowed: true}
	handler := newAuthHandler(service, limiter)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	var resp handlers.TokenResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(900), resp.ExpiresIn)

	// The issued refresh token is the one recorded as the session anchor,
	// and a successful login clears the client's attempt window.
	assert.Equal(t, resp.RefreshToken, recordedToken)
	assert.Equal(t, 1, limiter.resetCount())
}

func TestLoginHandler_InvalidCredentials(t *testing.T) {
	var failureRecorded string
	service := &handlers.MockAccountService{
		LoginFunc: func(ctx context.Context, email, password string) (*models.User, error) {
			return nil, models.ErrInvalidCredentials
		},
		RecordFailedAttemptFunc: func(ctx context.Context, email string) error {
			failureRecorded = email
			return nil
		},
	}
	limiter := &fakeLimiter{allowed: true}
	handler := newAuthHandler(service, limiter)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "wrongpassword",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
	assert.Equal(t, "user@example.com", failureRecorded)
	assert.Equal(t, 0, limiter.resetCount())
}

func TestLoginHandler_RecordFailedAttemptErrorIsLogged(t *testing.T) {
	service := &handlers.MockAccountService{
		LoginFunc: func(ctx context.Context, email, password string) (*models.User, error) {
			return nil, models.ErrInvalidCredentials
		},
		RecordFailedAttemptFunc: func(ctx context.Context, email string) error {
			return assert.AnError
		},
	}
	limiter := &fakeLimiter{allowed: true}

	var logBuf bytes.Buffer
	tm := auth.NewTokenManager("handler-test-secret-32-characters!", 15*time.Minute, 7*24*time.Hour)
	timing := auth.NewTimingDelay(auth.TimingConfig{})
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))
	handler := handlers.NewAuthHandler(service, tm, limiter, timing, nil, logger)

	req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "wrongpassword",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	// The response is unchanged but the persistence failure is logged.
	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
	assert.Contains(t, logBuf.String(), "failed to record failed login attempt")
	assert.NotContains(t, logBuf.String(), "user@example.com")
}

func TestLoginHandler_UnknownAndWrongPasswordIndistinguishable(t *testing.T) {
	limiter := &fakeLimiter{allowed: true}

	unknown := &handlers.MockAccountService{
		LoginFunc: func(ctx context.Context, email, password string) (*models.User, error) {
			return nil, models.ErrInvalidCredentials
		},
	}
	wrongPassword := &handlers.MockAccountService{
		LoginFunc: func(ctx context.Context, email, password string) (*models.User, error) {
			return nil, models.ErrInvalidCredentials
		},
	}

	bodies := make([]string, 0, 2)
	for _, service := range []*handlers.MockAccountService{unknown, wrongPassword} {
		handler := newAuthHandler(service, limiter)
		req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{
			Email:    "someone@example.com",
			Password: "password",
		})
		w := httptest.NewRecorder()
		handler.Login(w, req)
		require.Equal(t, 401, w.Code)
		bodies = append(bodies, w.Body.String())
	}

	assert.Equal(t, bodies[0], bodies[1])
}

func TestLoginHandler_AccountLocked(t *testing.T) {
	service := &handlers.MockAccountService{
		LoginFunc: func(ctx context.Context, email, password string) (*models.User, error) {
			return nil, models.ErrAccountLocked
		},
	}
	handler := newAuthHandler(service, &fakeLimiter{allowed: true})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{
		Email:    "locked@example.com",
		Password: "password",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 423, "account_locked")
}

func TestLoginHandler_EmailNotVerified(t *testing.T) {
	var counterReset string
	var loginRecorded bool
	service := &handlers.MockAccountService{
		LoginFunc: func(ctx context.Context, email, password string) (*models.User, error) {
			user := verifiedUser(email)
			user.EmailVerified = false
			return user, nil
		},
		ResetFailedAttemptsFunc: func(ctx context.Context, email string) error {
			counterReset = email
			return nil
		},
		RecordLoginFunc: func(ctx context.Context, email, refreshToken string) error {
			loginRecorded = true
			return nil
		},
	}
	handler := newAuthHandler(service, &fakeLimiter{allowed: true})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{
		Email:    "unverified@example.com",
		Password: "password",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 403, "email_not_verified")
	// Correct credentials clear the failure counter even when the account
	// still needs verification, but no session is created.
	assert.Equal(t, "unverified@example.com", counterReset)
	assert.False(t, loginRecorded)
}

func TestLoginHandler_RateLimited(t *testing.T) {
	called := false
	service := &handlers.MockAccountService{
		LoginFunc: func(ctx context.Context, email, password string) (*models.User, error) {
			called = true
			return verifiedUser(email), nil
		},
	}
	handler := newAuthHandler(service, &fakeLimiter{allowed: false})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "password",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 429, "rate_limit_exceeded")
	assert.False(t, called, "rate limited request should not reach the service")
}

func TestLoginHandler_InvalidBody(t *testing.T) {
	handler := newAuthHandler(&handlers.MockAccountService{}, &fakeLimiter{allowed: true})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/login", handlers.LoginRequest{
		Email: "not-an-email",
	})
	w := httptest.NewRecorder()
	handler.Login(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestRegisterHandler_Success(t *testing.T) {
	service := &handlers.MockAccountService{
		RegisterFunc: func(ctx context.Context, input services.RegistrationInput) (*models.User, error) {
			assert.Equal(t, "new@example.com", input.Email)
			return &models.User{ID: "user_456", Email: input.Email}, nil
		},
	}
	handler := newAuthHandler(service, &fakeLimiter{allowed: true})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/register", handlers.RegisterRequest{
		Email:     "New@Example.com",
		Password:  "Str0ng!Passw0rd",
		FirstName: "New",
		LastName:  "User",
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	var resp handlers.RegisterResponse
	handlers.AssertJSONResponse(t, w, 201, &resp)
	assert.Equal(t, "user_456", resp.UserID)
}

func TestRegisterHandler_DuplicateEmail(t *testing.T) {
	service := &handlers.MockAccountService{
		RegisterFunc: func(ctx context.Context, input services.RegistrationInput) (*models.User, error) {
			return nil, models.ErrDuplicateEmail
		},
	}
	handler := newAuthHandler(service, &fakeLimiter{allowed: true})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/register", handlers.RegisterRequest{
		Email:     "taken@example.com",
		Password:  "Str0ng!Passw0rd",
		FirstName: "Dup",
		LastName:  "User",
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestRegisterHandler_WeakPassword(t *testing.T) {
	called := false
	service := &handlers.MockAccountService{
		RegisterFunc: func(ctx context.Context, input services.RegistrationInput) (*models.User, error) {
			called = true
			return nil, nil
		},
	}
	handler := newAuthHandler(service, &fakeLimiter{allowed: true})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/register", handlers.RegisterRequest{
		Email:     "weak@example.com",
		Password:  "short",
		FirstName: "Weak",
		LastName:  "User",
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
	assert.False(t, called)
}

func TestRegisterHandler_RateLimited(t *testing.T) {
	handler := newAuthHandler(&handlers.MockAccountService{}, &fakeLimiter{allowed: false})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/register", handlers.RegisterRequest{
		Email:     "user@example.com",
		Password:  "Str0ng!Passw0rd",
		FirstName: "Rate",
		LastName:  "Limited",
	})
	w := httptest.NewRecorder()
	handler.Register(w, req)

	handlers.AssertErrorResponse(t, w, 429, "rate_limit_exceeded")
}

func TestVerifyEmailHandler(t *testing.T) {
	service := &handlers.MockAccountService{
		VerifyEmailFunc: func(ctx context.Context, token string) (bool, error) {
			return token == "good-token", nil
		},
	}
	handler := newAuthHandler(service, &fakeLimiter{allowed: true})

	req := httptest.NewRequest("GET", "/api/auth/verify?token=good-token", nil)
	w := httptest.NewRecorder()
	handler.VerifyEmail(w, req)

	var resp handlers.VerifyEmailResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.Verified)

	// Unknown and expired tokens get the same rejection.
	req = httptest.NewRequest("GET", "/api/auth/verify?token=bad-token", nil)
	w = httptest.NewRecorder()
	handler.VerifyEmail(w, req)
	handlers.AssertErrorResponse(t, w, 400, "bad_request")

	req = httptest.NewRequest("GET", "/api/auth/verify", nil)
	w = httptest.NewRecorder()
	handler.VerifyEmail(w, req)
	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestResendVerificationHandler_DoesNotLeakAccounts(t *testing.T) {
	service := &handlers.MockAccountService{
		ResendVerificationFunc: func(ctx context.Context, email string) (bool, error) {
			return email == "exists@example.com", nil
		},
	}
	handler := newAuthHandler(service, &fakeLimiter{allowed: true})

	bodies := make([]string, 0, 2)
	for _, email := range []string{"exists@example.com", "ghost@example.com"} {
		req := handlers.NewTestRequest(t, "POST", "/api/auth/resend-verification",
			handlers.ResendVerificationRequest{Email: email})
		w := httptest.NewRecorder()
		handler.ResendVerification(w, req)
		require.Equal(t, 200, w.Code)
		bodies = append(bodies, w.Body.String())
	}

	assert.Equal(t, bodies[0], bodies[1])
}

func TestRefreshTokenHandler(t *testing.T) {
	service := &handlers.MockAccountService{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*services.TokenPair, *models.User, error) {
			switch refreshToken {
			case "valid-token":
				return &services.TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"},
					verifiedUser("user@example.com"), nil
			case "revoked-token":
				return nil, nil, models.ErrRevokedToken
			case "expired-token":
				return nil, nil, models.ErrExpiredToken
			default:
				return nil, nil, models.ErrInvalidToken
			}
		},
	}
	handler := newAuthHandler(service, &fakeLimiter{allowed: true})

	cases := []struct {
		name       string
		token      string
		wantStatus int
		wantError  string
	}{
		{"valid", "valid-token", 200, ""},
		{"revoked", "revoked-token", 401, "token_revoked"},
		{"expired", "expired-token", 401, "token_expired"},
		{"garbage", "garbage", 401, "unauthorized"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := handlers.NewTestRequest(t, "POST", "/api/auth/refresh",
				handlers.RefreshTokenRequest{RefreshToken: tc.token})
			w := httptest.NewRecorder()
			handler.RefreshToken(w, req)

			if tc.wantError == "" {
				var resp handlers.TokenResponse
				handlers.AssertJSONResponse(t, w, tc.wantStatus, &resp)
				assert.Equal(t, "new-access", resp.AccessToken)
				assert.Equal(t, "new-refresh", resp.RefreshToken)
			} else {
				handlers.AssertErrorResponse(t, w, tc.wantStatus, tc.wantError)
			}
		})
	}
}

func TestLogoutHandler(t *testing.T) {
	var loggedOut string
	service := &handlers.MockAccountService{
		LogoutFunc: func(ctx context.Context, email, refreshToken string) error {
			loggedOut = email + "/" + refreshToken
			return nil
		},
	}
	handler := newAuthHandler(service, &fakeLimiter{allowed: true})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/logout",
		handlers.LogoutRequest{RefreshToken: "session-token"})
	req = handlers.WithAuthContext(req, "user@example.com")
	w := httptest.NewRecorder()
	handler.Logout(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "user@example.com/session-token", loggedOut)
}

func TestLogoutHandler_Unauthenticated(t *testing.T) {
	handler := newAuthHandler(&handlers.MockAccountService{}, &fakeLimiter{allowed: true})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/logout", handlers.LogoutRequest{})
	w := httptest.NewRecorder()
	handler.Logout(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestLogoutAllHandler(t *testing.T) {
	var loggedOut string
	service := &handlers.MockAccountService{
		LogoutAllFunc: func(ctx context.Context, email string) error {
			loggedOut = email
			return nil
		},
	}
	handler := newAuthHandler(service, &fakeLimiter{allowed: true})

	req := handlers.NewTestRequest(t, "POST", "/api/auth/logout-all", nil)
	req = handlers.WithAuthContext(req, "user@example.com")
	w := httptest.NewRecorder()
	handler.LogoutAll(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "user@example.com", loggedOut)
}
