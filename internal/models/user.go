package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	// RoleAdmin is the privileged role recognized by admin-only endpoints.
	RoleAdmin = "ADMIN"

	// VerificationTokenTTL is how long an email verification token stays valid.
	VerificationTokenTTL = 48 * time.Hour

	// MaxFailedLoginAttempts is the number of failures that locks an account.
	MaxFailedLoginAttempts = 5

	// AccountLockDuration is how long an account stays locked after too many failures.
	AccountLockDuration = 15 * time.Minute
)

// User is the account aggregate: identity, profile and authentication state.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Company      string
	JobTitle     string

	EmailVerified           bool
	VerificationToken       *string
	VerificationTokenExpiry *time.Time

	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLogin           *time.Time

	// Roles has set semantics: no duplicates, insertion order preserved.
	Roles []string

	// ActiveSessions holds issued refresh tokens, bounded only by explicit removal.
	ActiveSessions []string

	// LastRefreshToken is the single-slot revocation anchor: the most recently
	// issued refresh token is always authoritative.
	LastRefreshToken string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GenerateVerificationToken rotates the verification token and restarts its
// 48 hour validity window.
func (u *User) GenerateVerificationToken() {
	token := uuid.New().String()
	expiry := time.Now().Add(VerificationTokenTTL)
	u.VerificationToken = &token
	u.VerificationTokenExpiry = &expiry
}

// IsVerificationTokenValid reports whether the stored token can still be redeemed.
func (u *User) IsVerificationTokenValid() bool {
	return u.VerificationToken != nil &&
		u.VerificationTokenExpiry != nil &&
		time.Now().Before(*u.VerificationTokenExpiry)
}

// IsLocked reports whether the account lockout is currently active.
// The lock expires implicitly once LockedUntil has passed.
func (u *User) IsLocked() bool {
	return u.LockedUntil != nil && time.Now().Before(*u.LockedUntil)
}

// RecordFailedLogin increments the failure counter and locks the account
// exactly at the fifth recorded failure.
func (u *User) RecordFailedLogin() {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= MaxFailedLoginAttempts {
		lockedUntil := time.Now().Add(AccountLockDuration)
		u.LockedUntil = &lockedUntil
	}
}

// ResetFailedLogins zeroes the failure counter and clears any active lock.
func (u *User) ResetFailedLogins() {
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
}

// AddRole adds a role with set semantics; adding an existing role is a no-op.
func (u *User) AddRole(role string) {
	if u.HasRole(role) {
		return
	}
	u.Roles = append(u.Roles, role)
}

// HasRole reports whether the user carries the given role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user carries the ADMIN role.
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin)
}

// AddSession appends a refresh token to the active session list.
// Adding an already-present token is a no-op.
func (u *User) AddSession(token string) {
	if u.HasSession(token) {
		return
	}
	u.ActiveSessions = append(u.ActiveSessions, token)
}

// RemoveSession removes a refresh token from the active session list.
// Removing an absent token is a no-op.
func (u *User) RemoveSession(token string) {
	for i, s := range u.ActiveSessions {
		if s == token {
			u.ActiveSessions = append(u.ActiveSessions[:i], u.ActiveSessions[i+1:]...)
			return
		}
	}
}

// HasSession reports whether the refresh token is in the active session list.
func (u *User) HasSession(token string) bool {
	for _, s := range u.ActiveSessions {
		if s == token {
			return true
		}
	}
	return false
}

// ClearSessions drops all active sessions and the refresh token anchor.
func (u *User) ClearSessions() {
	u.ActiveSessions = nil
	u.LastRefreshToken = ""
}
