package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Auth.AccessTokenExpiry != 1*time.Hour {
		t.Errorf("AccessTokenExpiry: got %v, want %v", cfg.Auth.AccessTokenExpiry, 1*time.Hour)
	}
	if cfg.Auth.RefreshTokenExpiry != 7*24*time.Hour {
		t.Errorf("RefreshTokenExpiry: got %v, want %v", cfg.Auth.RefreshTokenExpiry, 7*24*time.Hour)
	}

	tests := []struct {
		name     string
		actual   any
		expected any
	}{
		{"MaxRegistrationAttempts", cfg.RateLimit.MaxRegistrationAttempts, 5},
		{"RegistrationWindow", cfg.RateLimit.RegistrationWindow, 60 * time.Minute},
		{"MaxLoginAttempts", cfg.RateLimit.MaxLoginAttempts, 5},
		{"LoginWindow", cfg.RateLimit.LoginWindow, 15 * time.Minute},
		{"AdminEmail", cfg.Admin.Email, "admin@staginfra.com"},
		{"DBName", cfg.Database.Name, "staginfra"},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_PASSWORD", "test")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() without JWT_SECRET should fail")
	}
}

func TestLoad_WeakJWTSecretInProduction(t *testing.T) {
	os.Setenv("JWT_SECRET", "short")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("ENV", "production")
	defer os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatal("Load() with a short secret in production should fail")
	}
}

func TestLoad_CustomRateLimitWindows(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("RATE_LIMIT_MAX_LOGINS", "10")
	os.Setenv("RATE_LIMIT_LOGIN_WINDOW", "5m")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.RateLimit.MaxLoginAttempts != 10 {
		t.Errorf("MaxLoginAttempts: got %d, want 10", cfg.RateLimit.MaxLoginAttempts)
	}
	if cfg.RateLimit.LoginWindow != 5*time.Minute {
		t.Errorf("LoginWindow: got %v, want %v", cfg.RateLimit.LoginWindow, 5*time.Minute)
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("ACCESS_TOKEN_EXPIRY", "not-a-duration")
	defer os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	if cfg.Auth.AccessTokenExpiry != 1*time.Hour {
		t.Errorf("AccessTokenExpiry with invalid value: got %v, want %v", cfg.Auth.AccessTokenExpiry, 1*time.Hour)
	}
}
