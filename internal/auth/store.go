package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/config"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("auth: not found")

type Role string

const (
	RoleOperator  Role = "operator"
	RoleCommander Role = "commander"
	RoleAdmin     Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(s)) {
	case RoleOperator:
		return RoleOperator, nil
	case RoleCommander:
		return RoleCommander, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", errors.New("auth: unknown role " + s)
}

type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Role         Role
	LockedUntil  *time.Time
}

type ServiceToken struct {
	ID        uuid.UUID
	Name      string
	TokenHash string
	Role      Role
}

// Store liefert Benutzer und Service Tokens. Implementiert von StaticStore
// (aus der Konfiguration) und storage.PostgresClient.
type Store interface {
	UserByUsername(ctx context.Context, username string) (*User, error)
	ServiceTokenByHash(ctx context.Context, hash string) (*ServiceToken, error)
	RecordLoginFailure(ctx context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) error
	RecordLoginSuccess(ctx context.Context, userID uuid.UUID) error
}

// StaticStore keeps configured users in memory. Lockout state is lost on
// restart.
type StaticStore struct {
	mu       sync.Mutex
	users    map[string]*User
	tokens   map[string]*ServiceToken
	failures map[uuid.UUID]int
}

func NewStaticStore(cfg config.AuthConfig) (*StaticStore, error) {
	s := &StaticStore{
		users:    make(map[string]*User),
		tokens:   make(map[string]*ServiceToken),
		failures: make(map[uuid.UUID]int),
	}
	for _, u := range cfg.Users {
		role, err := ParseRole(u.Role)
		if err != nil {
			return nil, err
		}
		key := strings.ToLower(u.Username)
		if _, dup := s.users[key]; dup {
			return nil, errors.New("auth: duplicate user " + u.Username)
		}
		s.users[key] = &User{
			ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte("user:"+key)),
			Username:     u.Username,
			PasswordHash: u.PasswordHash,
			Role:         role,
		}
	}
	for _, t := range cfg.ServiceTokens {
		role, err := ParseRole(t.Role)
		if err != nil {
			return nil, err
		}
		s.tokens[strings.ToLower(t.TokenHash)] = &ServiceToken{
			ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte("token:"+t.Name)),
			Name:      t.Name,
			TokenHash: t.TokenHash,
			Role:      role,
		}
	}
	return s, nil
}

func (s *StaticStore) UserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *StaticStore) ServiceTokenByHash(_ context.Context, hash string) (*ServiceToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[strings.ToLower(hash)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *StaticStore) RecordLoginFailure(_ context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[userID]++
	if maxAttempts > 0 && s.failures[userID] >= maxAttempts {
		until := time.Now().Add(lockFor)
		for _, u := range s.users {
			if u.ID == userID {
				u.LockedUntil = &until
			}
		}
		s.failures[userID] = 0
	}
	return nil
}

func (s *StaticStore) RecordLoginSuccess(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, userID)
	for _, u := range s.users {
		if u.ID == userID {
			u.LockedUntil = nil
		}
	}
	return nil
}

// Users returns copies of all configured users, e.g. for seeding a database.
func (s *StaticStore) Users() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	return out
}

func (s *StaticStore) ServiceTokens() []ServiceToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ServiceToken, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, *t)
	}
	return out
}
