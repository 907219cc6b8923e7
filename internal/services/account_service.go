package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/stagllc/staginfra/internal/auth"
	"github.com/stagllc/staginfra/internal/models"
	pkglogger "github.com/stagllc/staginfra/pkg/logger"
)

// UserRepository abstracts the credential store: account lookups and updates
// by email, id or verification token.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByVerificationToken(ctx context.Context, token string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	Update(ctx context.Context, user *models.User) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
}

// PasswordHasher is an opaque one-way hash/verify capability.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// notifyTimeout bounds a single fire-and-forget notification attempt.
const notifyTimeout = 10 * time.Second

// RegistrationInput carries the fields accepted at registration.
type RegistrationInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Company   string
	JobTitle  string
}

// TokenPair is the result of a login or refresh: a fresh access/refresh pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AccountService owns registration, email verification, login, lockout and
// session bookkeeping. Each operation is a read-modify-write against the
// credential store with no cross-request transaction; no lock is held across
// a store call.
type AccountService struct {
	repo        UserRepository
	hasher      PasswordHasher
	tm          *auth.TokenManager
	notifier    EmailService
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAccountService creates a new AccountService
func NewAccountService(
	repo UserRepository,
	hasher PasswordHasher,
	tm *auth.TokenManager,
	notifier EmailService,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AccountService {
	return &AccountService{
		repo:        repo,
		hasher:      hasher,
		tm:          tm,
		notifier:    notifier,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Register creates a new unverified account with a fresh verification token
// and triggers the verification email. Fails with models.ErrDuplicateEmail
// when the address is already registered; no second account is persisted and
// no notification is sent in that case.
func (s *AccountService) Register(ctx context.Context, input RegistrationInput) (*models.User, error) {
	email := strings.TrimSpace(input.Email)

	exists, err := s.repo.ExistsByEmail(ctx, email)
	if err != nil {
		s.logger.Error("failed to check if user exists", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if exists {
		s.logger.Info("registration failed: email already in use",
			slog.String("email", pkglogger.SanitizedEmail(email)))
		return nil, models.ErrDuplicateEmail
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Company:      strings.TrimSpace(input.Company),
		JobTitle:     strings.TrimSpace(input.JobTitle),
	}
	user.GenerateVerificationToken()

	created, err := s.repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateEmail) {
			return nil, models.ErrDuplicateEmail
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.notifyVerification(created.Email, *created.VerificationToken)

	s.logger.Info("user registered", slog.String("user_id", created.ID))
	s.auditLogger.LogAccountAction("user_registered", created.ID, nil)

	return created, nil
}

// VerifyEmail redeems a verification token. Returns true when the account is
// (or already was) verified; verifying twice is not an error. An expired
// token rotates to a fresh one, re-sends the verification email and returns
// false, the same outward result as an unknown token.
func (s *AccountService) VerifyEmail(ctx context.Context, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		s.logger.Warn("empty verification token")
		return false, nil
	}

	user, err := s.repo.GetByVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("no user found for verification token")
			return false, nil
		}
		s.logger.Error("failed to look up verification token", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	// Idempotent: the token stays stored after success so a duplicate
	// request still reports verified.
	if user.EmailVerified {
		s.logger.Info("user already verified", slog.String("user_id", user.ID))
		return true, nil
	}

	if user.IsVerificationTokenValid() {
		user.EmailVerified = true
		if _, err := s.repo.Update(ctx, user); err != nil {
			s.logger.Error("failed to persist verification", slog.String("user_id", user.ID), slog.Any("error", err))
			return false, models.ErrInternalServer
		}

		s.notifyWelcome(user.Email)

		s.logger.Info("email verified", slog.String("user_id", user.ID))
		s.auditLogger.LogAccountAction("email_verified", user.ID, nil)
		return true, nil
	}

	// Expired: rotate to a fresh token and retry via email.
	s.logger.Warn("expired verification token presented", slog.String("user_id", user.ID))
	user.GenerateVerificationToken()
	if _, err := s.repo.Update(ctx, user); err != nil {
		s.logger.Error("failed to rotate verification token", slog.String("user_id", user.ID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}
	s.notifyVerification(user.Email, *user.VerificationToken)

	return false, nil
}

// ResendVerification rotates the verification token and re-sends the email.
// Returns false without side effects when the account is unknown or already
// verified.
func (s *AccountService) ResendVerification(ctx context.Context, email string) (bool, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("verification resend requested for unknown user",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			return false, nil
		}
		s.logger.Error("failed to get user for verification resend", slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	if user.EmailVerified {
		s.logger.Info("verification resend requested for verified user", slog.String("user_id", user.ID))
		return false, nil
	}

	user.GenerateVerificationToken()
	if _, err := s.repo.Update(ctx, user); err != nil {
		s.logger.Error("failed to rotate verification token", slog.String("user_id", user.ID), slog.Any("error", err))
		return false, models.ErrInternalServer
	}

	s.notifyVerification(user.Email, *user.VerificationToken)
	return true, nil
}

// Login authenticates credentials and fails closed: an unknown account,
// an active lock, or a password mismatch all yield no authenticated account.
// Email verification is deliberately NOT checked here; that policy belongs
// to the caller. On success the caller is responsible for the bookkeeping
// done by RecordLogin.
func (s *AccountService) Login(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("login failed: invalid credentials")
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType:     "login_failed",
				FailureReason: "invalid_credentials",
				Success:       false,
			})
			return nil, models.ErrInvalidCredentials
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Lock check precedes the password comparison.
	if user.IsLocked() {
		s.logger.Info("login blocked: account locked", slog.String("user_id", user.ID))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			FailureReason: "account_locked",
			Success:       false,
		})
		return nil, models.ErrAccountLocked
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		s.logger.Info("login failed: invalid credentials")
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "login_failed",
			UserID:        user.ID,
			FailureReason: "invalid_credentials",
			Success:       false,
		})
		return nil, models.ErrInvalidCredentials
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		Success:   true,
	})

	return user, nil
}

// RecordFailedAttempt increments the failure counter for the named account,
// locking it at the fifth cumulative failure. Unknown accounts are a no-op.
func (s *AccountService) RecordFailedAttempt(ctx context.Context, email string) error {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}

	user.RecordFailedLogin()
	if _, err := s.repo.Update(ctx, user); err != nil {
		s.logger.Error("failed to record failed login attempt", slog.String("user_id", user.ID), slog.Any("error", err))
		return err
	}

	if user.IsLocked() {
		s.logger.Warn("account locked after repeated failures", slog.String("user_id", user.ID))
		s.auditLogger.LogAccountAction("account_locked", user.ID, nil)
	}
	return nil
}

// ResetFailedAttempts zeroes the failure counter and clears any lock.
// Unknown accounts are a no-op.
func (s *AccountService) ResetFailedAttempts(ctx context.Context, email string) error {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}

	user.ResetFailedLogins()
	_, err = s.repo.Update(ctx, user)
	return err
}

// RecordLogin performs the post-authentication bookkeeping: clears the
// failure counter and lock, stamps the login time, stores the issued refresh
// token as the authoritative anchor and adds it to the active sessions.
func (s *AccountService) RecordLogin(ctx context.Context, email, refreshToken string) error {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	now := time.Now()
	user.ResetFailedLogins()
	user.LastLogin = &now
	user.LastRefreshToken = refreshToken
	user.AddSession(refreshToken)

	_, err = s.repo.Update(ctx, user)
	return err
}

// Refresh exchanges a refresh token for a new access/refresh pair. The
// presented token must verify (ErrInvalidToken), must be authoritative for
// the account (ErrRevokedToken) and must not be expired (ErrExpiredToken).
// The revocation check is made before the expiry check so a rotated-away
// token is always reported as revoked.
func (s *AccountService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, *models.User, error) {
	claims, err := s.tm.ExtractClaims(refreshToken)
	if err != nil || claims.Type != models.TokenTypeRefresh {
		s.logger.Info("refresh failed: invalid token", slog.Any("error", err))
		return nil, nil, models.ErrInvalidToken
	}

	user, err := s.repo.GetByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("refresh failed: unknown subject")
			return nil, nil, models.ErrInvalidToken
		}
		s.logger.Error("failed to get user for refresh", slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	// Authority: the single-slot anchor or any active session.
	if refreshToken != user.LastRefreshToken && !user.HasSession(refreshToken) {
		s.logger.Warn("refresh failed: token not authoritative", slog.String("user_id", user.ID))
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:     "refresh_rejected",
			UserID:        user.ID,
			FailureReason: "revoked_token",
			Success:       false,
		})
		return nil, nil, models.ErrRevokedToken
	}

	if s.tm.IsExpired(refreshToken) {
		s.logger.Info("refresh failed: token expired", slog.String("user_id", user.ID))
		return nil, nil, models.ErrExpiredToken
	}

	accessToken, err := s.tm.IssueAccessToken(user)
	if err != nil {
		s.logger.Error("failed to issue access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	newRefreshToken, err := s.tm.IssueRefreshToken(user)
	if err != nil {
		s.logger.Error("failed to issue refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	user.RemoveSession(refreshToken)
	user.AddSession(newRefreshToken)
	user.LastRefreshToken = newRefreshToken

	if _, err := s.repo.Update(ctx, user); err != nil {
		s.logger.Error("failed to persist rotated refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))
	return &TokenPair{AccessToken: accessToken, RefreshToken: newRefreshToken}, user, nil
}

// Logout removes the presented refresh token from the account's sessions.
// Removing an absent token is a no-op.
func (s *AccountService) Logout(ctx context.Context, email, refreshToken string) error {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}

	user.RemoveSession(refreshToken)
	if user.LastRefreshToken == refreshToken {
		user.LastRefreshToken = ""
	}

	if _, err := s.repo.Update(ctx, user); err != nil {
		return err
	}

	s.logger.Info("user logged out", slog.String("user_id", user.ID))
	return nil
}

// LogoutAll clears every active session and the refresh token anchor.
func (s *AccountService) LogoutAll(ctx context.Context, email string) error {
	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return err
	}

	user.ClearSessions()
	if _, err := s.repo.Update(ctx, user); err != nil {
		return err
	}

	s.logger.Info("user logged out from all devices", slog.String("user_id", user.ID))
	return nil
}

// ListAll returns every account, newest first.
func (s *AccountService) ListAll(ctx context.Context) ([]*models.User, error) {
	return s.repo.List(ctx)
}

// ForceVerify marks an account verified without a token (admin action).
// Idempotent; sends the welcome mail only on the first transition.
func (s *AccountService) ForceVerify(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if !user.EmailVerified {
		user.EmailVerified = true
		if _, err := s.repo.Update(ctx, user); err != nil {
			return nil, err
		}

		s.notifyWelcome(user.Email)

		s.logger.Info("user manually verified by admin", slog.String("user_id", user.ID))
		s.auditLogger.LogAccountAction("force_verified", user.ID, nil)
	}

	return user, nil
}

// GrantAdminRole adds the ADMIN role to an account (set semantics, idempotent).
func (s *AccountService) GrantAdminRole(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	user.AddRole(models.RoleAdmin)
	if _, err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("admin role granted", slog.String("user_id", user.ID))
	s.auditLogger.LogAccountAction("admin_granted", user.ID, nil)
	return user, nil
}

// notifyVerification dispatches the verification email off the caller's
// critical path. Failures are logged and swallowed.
func (s *AccountService) notifyVerification(email, token string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := s.notifier.SendVerificationEmail(ctx, email, token); err != nil {
			s.logger.Error("failed to send verification email",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.Any("error", err))
		}
	}()
}

// notifyWelcome dispatches the welcome email best-effort.
func (s *AccountService) notifyWelcome(email string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := s.notifier.SendWelcomeEmail(ctx, email); err != nil {
			s.logger.Error("failed to send welcome email",
				slog.String("email", pkglogger.SanitizedEmail(email)),
				slog.Any("error", err))
		}
	}()
}
