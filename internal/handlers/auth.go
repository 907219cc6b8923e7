package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stagllc/staginfra/internal/auth"
	"github.com/stagllc/staginfra/internal/models"
	"github.com/stagllc/staginfra/internal/services"
	pkgauth "github.com/stagllc/staginfra/pkg/auth"
	pkghttp "github.com/stagllc/staginfra/pkg/http"
	pkglogger "github.com/stagllc/staginfra/pkg/logger"
)

// AccountServiceInterface defines the interface for account business logic
type AccountServiceInterface interface {
	Register(ctx context.Context, input services.RegistrationInput) (*models.User, error)
	VerifyEmail(ctx context.Context, token string) (bool, error)
	ResendVerification(ctx context.Context, email string) (bool, error)
	Login(ctx context.Context, email, password string) (*models.User, error)
	RecordFailedAttempt(ctx context.Context, email string) error
	ResetFailedAttempts(ctx context.Context, email string) error
	RecordLogin(ctx context.Context, email, refreshToken string) error
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, *models.User, error)
	Logout(ctx context.Context, email, refreshToken string) error
	LogoutAll(ctx context.Context, email string) error
}

// RateLimiter gates registration and login attempts per client IP.
type RateLimiter interface {
	Allow(identifier string, action services.RateLimitAction) bool
	Reset(identifier string, action services.RateLimitAction)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service     AccountServiceInterface
	tm          *auth.TokenManager
	rateLimiter RateLimiter
	timing      *auth.TimingDelay
	ipConfig    *pkghttp.IPConfig
	logger      *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	service AccountServiceInterface,
	tm *auth.TokenManager,
	rateLimiter RateLimiter,
	timing *auth.TimingDelay,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		service:     service,
		tm:          tm,
		rateLimiter: rateLimiter,
		timing:      timing,
		ipConfig:    ipConfig,
		logger:      logger,
	}
}

// Request/Response DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"required,min=1,max=100"`
	LastName  string `json:"last_name" validate:"required,min=1,max=100"`
	Company   string `json:"company" validate:"omitempty,max=200"`
	JobTitle  string `json:"job_title" validate:"omitempty,max=200"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ResendVerificationRequest represents the request body for resending verification email
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// LogoutRequest represents the request body for logout
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse carries an issued access/refresh pair
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RegisterResponse confirms a registration without leaking account details
type RegisterResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
}

// VerifyEmailResponse reports the outcome of a verification attempt
type VerifyEmailResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

const invalidCredentialsMessage = "Invalid email or password"

// Register handles new account creation. Registration attempts are rate
// limited per client IP before any work is done.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	if !h.rateLimiter.Allow(ipAddress, services.ActionRegistration) {
		pkghttp.WriteTooManyRequests(w, "Too many registration attempts. Please try again later.")
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := pkgauth.ValidatePassword(req.Password); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	user, err := h.service.Register(r.Context(), services.RegistrationInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Company:   req.Company,
		JobTitle:  req.JobTitle,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrDuplicateEmail):
			pkghttp.WriteConflict(w, "An account with this email already exists")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, RegisterResponse{
		Message: "Registration successful. Please check your email to verify your account.",
		UserID:  user.ID,
	})
}

// Login handles user login. The flow is rate limit, then credentials, then
// lock, then email verification; failed credentials count toward the account
// lock and the response does not distinguish unknown accounts from wrong
// passwords.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	if !h.rateLimiter.Allow(ipAddress, services.ActionLogin) {
		pkghttp.WriteTooManyRequests(w, "Too many login attempts. Please try again later.")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	startTime := time.Now()
	user, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidCredentials):
			if recordErr := h.service.RecordFailedAttempt(r.Context(), req.Email); recordErr != nil {
				h.logger.Error("failed to record failed login attempt",
					slog.String("email", pkglogger.SanitizedEmail(req.Email)),
					slog.Any("error", recordErr))
			}
			h.timing.WaitFrom(startTime, false)
			pkghttp.WriteUnauthorized(w, invalidCredentialsMessage)
		case errors.Is(err, models.ErrAccountLocked):
			h.timing.WaitFrom(startTime, false)
			pkghttp.WriteLocked(w, "Account temporarily locked due to too many failed login attempts")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	if !user.EmailVerified {
		// The password authenticated, so the failure counter resets even
		// though no tokens are issued.
		if resetErr := h.service.ResetFailedAttempts(r.Context(), user.Email); resetErr != nil {
			h.logger.Error("failed to reset login attempt counter",
				slog.String("email", pkglogger.SanitizedEmail(user.Email)),
				slog.Any("error", resetErr))
		}
		pkghttp.WriteError(w, http.StatusForbidden, "email_not_verified",
			"Please verify your email address before logging in")
		return
	}

	accessToken, err := h.tm.IssueAccessToken(user)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}
	refreshToken, err := h.tm.IssueRefreshToken(user)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if err := h.service.RecordLogin(r.Context(), user.Email, refreshToken); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	// A successful login clears the client's attempt window.
	h.rateLimiter.Reset(ipAddress, services.ActionLogin)
	h.timing.WaitFrom(startTime, true)

	pkghttp.WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.tm.AccessTokenExpiry().Seconds()),
	})
}

// VerifyEmail redeems the token from the verification link.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		pkghttp.WriteBadRequest(w, "Missing verification token")
		return
	}

	verified, err := h.service.VerifyEmail(r.Context(), token)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if !verified {
		pkghttp.WriteBadRequest(w, "Invalid or expired verification token")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifyEmailResponse{
		Verified: true,
		Message:  "Email verified successfully. You can now log in.",
	})
}

// ResendVerification re-sends the verification email. The response is the
// same whether or not the account exists to prevent enumeration.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := h.service.ResendVerification(r.Context(), req.Email); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "If an unverified account exists for this email, a new verification link has been sent.",
	})
}

// RefreshToken exchanges a refresh token for a new token pair.
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pair, _, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrRevokedToken):
			pkghttp.WriteError(w, http.StatusUnauthorized, "token_revoked", "Refresh token has been revoked")
		case errors.Is(err, models.ErrExpiredToken):
			pkghttp.WriteError(w, http.StatusUnauthorized, "token_expired", "Refresh token has expired")
		case errors.Is(err, models.ErrInvalidToken):
			pkghttp.WriteUnauthorized(w, "Invalid refresh token")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.tm.AccessTokenExpiry().Seconds()),
	})
}

// Logout revokes the presented refresh token for the authenticated user.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := h.service.Logout(r.Context(), claims.Subject, req.RefreshToken); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

// LogoutAll revokes every active session for the authenticated user.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.LogoutAll(r.Context(), claims.Subject); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logged out from all devices"})
}
