package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/config"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator  Permission = "operator"
	PermCommander Permission = "commander"
	PermAdmin     Permission = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidToken       = errors.New("invalid token")
)

// Principal is the authenticated caller behind a request.
type Principal struct {
	Subject     string
	Role        Role
	Service     bool
	Permissions []Permission
}

func (p *Principal) Has(perm Permission) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
	}
	return false
}

type AuthService struct {
	store          Store
	jwtHandler     *JWTHandler
	passwordHasher *PasswordHasher
	maxAttempts    int
	lockFor        time.Duration
	logger         *zap.Logger
}

func NewAuthService(store Store, cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		store:          store,
		jwtHandler:     NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher: NewPasswordHasherFromConfig(cfg),
		maxAttempts:    cfg.MaxFailedLoginAttempts,
		lockFor:        cfg.AccountLockDuration,
		logger:         logger,
	}
}

// Login authenticates an operator and returns an access token.
func (a *AuthService) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	user, err := a.store.UserByUsername(ctx, username)
	if err != nil {
		a.logger.Info("login failed", zap.String("username", username), zap.String("reason", "unknown user"))
		return "", time.Time{}, ErrInvalidCredentials
	}

	if user.LockedUntil != nil && time.Now().Before(*user.LockedUntil) {
		return "", time.Time{}, fmt.Errorf("%w until %s", ErrAccountLocked, user.LockedUntil.Format(time.RFC3339))
	}

	valid, err := a.passwordHasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !valid {
		if rerr := a.store.RecordLoginFailure(ctx, user.ID, a.maxAttempts, a.lockFor); rerr != nil {
			a.logger.Warn("failed to record login failure", zap.Error(rerr))
		}
		a.logger.Info("login failed", zap.String("username", username), zap.String("reason", "bad password"))
		return "", time.Time{}, ErrInvalidCredentials
	}

	if err := a.store.RecordLoginSuccess(ctx, user.ID); err != nil {
		a.logger.Warn("failed to record login", zap.Error(err))
	}
	if a.passwordHasher.NeedsRehash(user.PasswordHash) {
		a.logger.Warn("password hash uses weaker argon2 settings than configured, re-hash with -hash-password",
			zap.String("username", user.Username))
	}

	token, expires, err := a.jwtHandler.GenerateAccessToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate access token: %w", err)
	}
	a.logger.Info("login", zap.String("username", user.Username), zap.String("role", string(user.Role)))
	return token, expires, nil
}

// ValidateToken accepts a JWT access token or a service token.
func (a *AuthService) ValidateToken(ctx context.Context, token string) (*Principal, error) {
	if IsServiceToken(token) {
		st, err := a.store.ServiceTokenByHash(ctx, HashServiceToken(token))
		if err != nil {
			return nil, ErrInvalidToken
		}
		return &Principal{
			Subject:     st.Name,
			Role:        st.Role,
			Service:     true,
			Permissions: roleToPermissions(st.Role),
		}, nil
	}

	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &Principal{
		Subject:     claims.Username,
		Role:        claims.Role,
		Permissions: roleToPermissions(claims.Role),
	}, nil
}

func roleToPermissions(role Role) []Permission {
	switch role {
	case RoleAdmin:
		return []Permission{PermOperator, PermCommander, PermAdmin}
	case RoleCommander:
		return []Permission{PermOperator, PermCommander}
	default:
		return []Permission{PermOperator}
	}
}
