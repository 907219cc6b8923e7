package services

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/stagllc/staginfra/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc                func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc             func(ctx context.Context, email string) (*models.User, error)
	GetByVerificationTokenFunc func(ctx context.Context, token string) (*models.User, error)
	ExistsByEmailFunc          func(ctx context.Context, email string) (bool, error)
	CreateFunc                 func(ctx context.Context, user *models.User) (*models.User, error)
	UpdateFunc                 func(ctx context.Context, user *models.User) (*models.User, error)
	ListFunc                   func(ctx context.Context) ([]*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	if m.GetByVerificationTokenFunc != nil {
		return m.GetByVerificationTokenFunc(ctx, token)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if m.ExistsByEmailFunc != nil {
		return m.ExistsByEmailFunc(ctx, email)
	}
	return false, nil
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) Update(ctx context.Context, user *models.User) (*models.User, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) List(ctx context.Context) ([]*models.User, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx)
	}
	return []*models.User{}, nil
}

// InMemoryUserRepository implements UserRepository against a map, for tests
// that exercise a full flow across multiple service calls.
type InMemoryUserRepository struct {
	mu    sync.Mutex
	users map[string]*models.User // keyed by ID
}

func NewInMemoryUserRepository() *InMemoryUserRepository {
	return &InMemoryUserRepository{users: make(map[string]*models.User)}
}

func (r *InMemoryUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyUser(user), nil
}

func (r *InMemoryUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if user.Email == email {
			return copyUser(user), nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *InMemoryUserRepository) GetByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if user.VerificationToken != nil && *user.VerificationToken == token {
			return copyUser(user), nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *InMemoryUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if user.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *InMemoryUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Email == user.Email {
			return nil, models.ErrDuplicateEmail
		}
	}

	stored := copyUser(user)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	r.users[stored.ID] = stored
	return copyUser(stored), nil
}

func (r *InMemoryUserRepository) Update(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return nil, models.ErrNotFound
	}
	r.users[user.ID] = copyUser(user)
	return copyUser(user), nil
}

func (r *InMemoryUserRepository) List(ctx context.Context) ([]*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*models.User, 0, len(r.users))
	for _, user := range r.users {
		out = append(out, copyUser(user))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func copyUser(u *models.User) *models.User {
	c := *u
	c.Roles = append([]string(nil), u.Roles...)
	c.ActiveSessions = append([]string(nil), u.ActiveSessions...)
	if u.VerificationToken != nil {
		t := *u.VerificationToken
		c.VerificationToken = &t
	}
	if u.VerificationTokenExpiry != nil {
		e := *u.VerificationTokenExpiry
		c.VerificationTokenExpiry = &e
	}
	if u.LockedUntil != nil {
		l := *u.LockedUntil
		c.LockedUntil = &l
	}
	if u.LastLogin != nil {
		l := *u.LastLogin
		c.LastLogin = &l
	}
	return &c
}

// MockEmailService records sent mail instead of talking to SES.
type MockEmailService struct {
	mu                 sync.Mutex
	verificationSends  []sentVerification
	welcomeSends       []string
	SendVerificationErr error
	SendWelcomeErr      error
}

type sentVerification struct {
	Email string
	Token string
}

func NewMockEmailService() *MockEmailService {
	return &MockEmailService{}
}

func (m *MockEmailService) SendVerificationEmail(ctx context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendVerificationErr != nil {
		return m.SendVerificationErr
	}
	m.verificationSends = append(m.verificationSends, sentVerification{Email: email, Token: token})
	return nil
}

func (m *MockEmailService) SendWelcomeEmail(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendWelcomeErr != nil {
		return m.SendWelcomeErr
	}
	m.welcomeSends = append(m.welcomeSends, email)
	return nil
}

func (m *MockEmailService) VerificationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.verificationSends)
}

func (m *MockEmailService) LastVerification() (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.verificationSends) == 0 {
		return "", ""
	}
	last := m.verificationSends[len(m.verificationSends)-1]
	return last.Email, last.Token
}

func (m *MockEmailService) WelcomeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.welcomeSends)
}

// FakeHasher is a cheap reversible "hash" for tests that do not need bcrypt.
type FakeHasher struct{}

func (FakeHasher) Hash(plaintext string) (string, error) {
	return "hashed:" + plaintext, nil
}

func (FakeHasher) Verify(plaintext, hash string) bool {
	return hash == "hashed:"+plaintext
}
