package integration

import (
	"fmt"
	"time"

	"github.com/stagllc/staginfra/internal/models"
	pkgauth "github.com/stagllc/staginfra/pkg/auth"
)

// TestUser generates unique test user credentials using a timestamp
func TestUser(suffix string) (email, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	password = "TestPassword123!"
	return
}

// NewTestUser builds an unverified user aggregate with a hashed password and
// a fresh verification token, ready to persist.
func NewTestUser(email, password string) (*models.User, error) {
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
	}
	user.GenerateVerificationToken()
	return user, nil
}
