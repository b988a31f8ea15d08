package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hcgenc/hcg-aile-sosyal-web/internal/apperr"
	"github.com/hcgenc/hcg-aile-sosyal-web/internal/datastore"
)

const (
	maxFailedLogins = 5
	lockoutDuration = 15 * time.Minute
)

// dummyHash is compared against when the user does not exist so that both
// paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("timing-safe-dummy-password-placeholder"), bcrypt.DefaultCost)

var ErrUserNotFound = errors.New("user not found")

// LockedError carries how long a locked account stays locked.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked for another %s", e.RetryAfter.Round(time.Second))
}

// UserRecord is a row of the users table as needed for login.
type UserRecord struct {
	ID           string
	Username     string
	PasswordHash string
	Role         Role
	FullName     string
}

type UserFinder interface {
	FindByUsername(ctx context.Context, username string) (*UserRecord, error)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type PublicUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	FullName string `json:"fullName,omitempty"`
}

type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      PublicUser `json:"user"`
}

type loginAttempt struct {
	count    int
	lockedAt time.Time
}

type LoginService struct {
	users         UserFinder
	tokens        *TokenService
	loginAttempts map[string]*loginAttempt
	attemptsMu    sync.Mutex
	now           func() time.Time
}

func NewLoginService(users UserFinder, tokens *TokenService) *LoginService {
	return &LoginService{
		users:         users,
		tokens:        tokens,
		loginAttempts: make(map[string]*loginAttempt),
		now:           time.Now,
	}
}

// Login checks a username/password pair and issues a credential.
func (s *LoginService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, apperr.New(apperr.MalformedRequest, apperr.MsgCredentialsRequired)
	}
	key := strings.ToLower(username)

	s.attemptsMu.Lock()
	attempt := s.loginAttempts[key]
	if attempt != nil && attempt.count >= maxFailedLogins {
		if left := lockoutDuration - s.now().Sub(attempt.lockedAt); left > 0 {
			s.attemptsMu.Unlock()
			bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
			return nil, apperr.Wrap(apperr.RateLimitExceeded, &LockedError{RetryAfter: left}, apperr.MsgAccountLocked)
		}
		delete(s.loginAttempts, key)
	}
	s.attemptsMu.Unlock()

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(req.Password))
		if errors.Is(err, ErrUserNotFound) {
			return nil, apperr.New(apperr.Unauthenticated, apperr.MsgInvalidCredentials)
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordFailure(key)
		return nil, apperr.New(apperr.Unauthenticated, apperr.MsgInvalidCredentials)
	}

	s.attemptsMu.Lock()
	delete(s.loginAttempts, key)
	s.attemptsMu.Unlock()

	token, exp, err := s.tokens.Issue(Identity{UserID: user.ID, Username: user.Username, Role: user.Role})
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &LoginResponse{
		Token:     token,
		ExpiresAt: exp,
		User: PublicUser{
			ID:       user.ID,
			Username: user.Username,
			Role:     user.Role,
			FullName: user.FullName,
		},
	}, nil
}

func (s *LoginService) recordFailure(key string) {
	s.attemptsMu.Lock()
	defer s.attemptsMu.Unlock()
	a := s.loginAttempts[key]
	if a == nil {
		a = &loginAttempt{}
		s.loginAttempts[key] = a
	}
	a.count++
	if a.count >= maxFailedLogins {
		a.lockedAt = s.now()
	}
}

// StoreUsers looks users up through the data store with the service credential.
type StoreUsers struct {
	store datastore.Store
}

func NewStoreUsers(store datastore.Store) *StoreUsers {
	return &StoreUsers{store: store}
}

var userColumns = []datastore.SelectItem{
	{Column: "id"},
	{Column: "username"},
	{Column: "password_hash"},
	{Column: "role"},
	{Column: "full_name"},
}

func (u *StoreUsers) FindByUsername(ctx context.Context, username string) (*UserRecord, error) {
	res, err := u.store.Execute(ctx, datastore.ServiceCredential, &datastore.Query{
		Table:   "users",
		Method:  datastore.Select,
		Select:  userColumns,
		Filters: []datastore.Condition{{Column: "username", Op: datastore.OpEq, Value: username}},
		Range:   &datastore.Range{From: 0, To: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	if len(res.Rows) != 1 {
		return nil, ErrUserNotFound
	}
	row := res.Rows[0]
	hash, _ := row["password_hash"].(string)
	if hash == "" {
		return nil, ErrUserNotFound
	}
	name, _ := row["username"].(string)
	role, _ := row["role"].(string)
	fullName, _ := row["full_name"].(string)
	return &UserRecord{
		ID:           fmt.Sprint(row["id"]),
		Username:     name,
		PasswordHash: hash,
		Role:         ParseRole(role),
		FullName:     fullName,
	}, nil
}
