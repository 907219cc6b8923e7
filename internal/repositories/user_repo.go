package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stagllc/staginfra/internal/database"
	"github.com/stagllc/staginfra/internal/models"
)

const userColumns = `id, email, password_hash, first_name, last_name, company, job_title,
		email_verified, verification_token, verification_token_expiry,
		failed_login_attempts, locked_until, last_login,
		roles, active_sessions, last_refresh_token, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning user rows (single row or rows iterator)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var company, jobTitle, lastRefreshToken *string
	var roles, sessions []string

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash,
		&user.FirstName, &user.LastName, &company, &jobTitle,
		&user.EmailVerified, &user.VerificationToken, &user.VerificationTokenExpiry,
		&user.FailedLoginAttempts, &user.LockedUntil, &user.LastLogin,
		&roles, &sessions, &lastRefreshToken,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if company != nil {
		user.Company = *company
	}
	if jobTitle != nil {
		user.JobTitle = *jobTitle
	}
	if lastRefreshToken != nil {
		user.LastRefreshToken = *lastRefreshToken
	}
	user.Roles = roles
	user.ActiveSessions = sessions

	return &user, nil
}

func scanUserRows(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()

	users := make([]*models.User, 0)

	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return users, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) GetByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE verification_token = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, token))
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	return scanUserRows(rows)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.pool.Exec(ctx, query,
		user.ID, user.Email, user.PasswordHash,
		user.FirstName, user.LastName, nullable(user.Company), nullable(user.JobTitle),
		user.EmailVerified, user.VerificationToken, user.VerificationTokenExpiry,
		user.FailedLoginAttempts, user.LockedUntil, user.LastLogin,
		stringList(user.Roles), stringList(user.ActiveSessions), nullable(user.LastRefreshToken),
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return user, nil
}

func (r *UserRepository) Update(ctx context.Context, user *models.User) (*models.User, error) {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users SET
			email = $2, password_hash = $3, first_name = $4, last_name = $5,
			company = $6, job_title = $7, email_verified = $8,
			verification_token = $9, verification_token_expiry = $10,
			failed_login_attempts = $11, locked_until = $12, last_login = $13,
			roles = $14, active_sessions = $15, last_refresh_token = $16,
			updated_at = $17
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.FirstName, user.LastName,
		nullable(user.Company), nullable(user.JobTitle), user.EmailVerified,
		user.VerificationToken, user.VerificationTokenExpiry,
		user.FailedLoginAttempts, user.LockedUntil, user.LastLogin,
		stringList(user.Roles), stringList(user.ActiveSessions), nullable(user.LastRefreshToken),
		user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, models.ErrNotFound
	}

	return user, nil
}

// PruneVerificationTokens clears verification tokens that expired on accounts
// that are already verified. Unverified accounts keep their expired token so
// the expired-token resend flow can still find them.
func (r *UserRepository) PruneVerificationTokens(ctx context.Context) (int64, error) {
	query := `
		UPDATE users
		SET verification_token = NULL, verification_token_expiry = NULL
		WHERE email_verified = TRUE
		  AND verification_token IS NOT NULL
		  AND verification_token_expiry < NOW()
	`

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// stringList never sends nil so text[] columns stay non-null
func stringList(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
