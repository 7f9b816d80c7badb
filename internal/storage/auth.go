package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/auth"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var _ auth.Store = (*PostgresClient)(nil)

// UserByUsername retrieves a user by username
func (p *PostgresClient) UserByUsername(ctx context.Context, username string) (*auth.User, error) {
	var user auth.User
	var role string
	err := p.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, role, locked_until
		FROM users
		WHERE lower(username) = lower($1)
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &role, &user.LockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user.Role, err = auth.ParseRole(role); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser creates a new user
func (p *PostgresClient) CreateUser(ctx context.Context, username, passwordHash string, role auth.Role) (uuid.UUID, error) {
	var id uuid.UUID
	err := p.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id
	`, username, passwordHash, string(role)).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create user: %w", err)
	}
	return id, nil
}

// RecordLoginFailure increments the failed login counter and locks the
// account once maxAttempts is reached.
func (p *PostgresClient) RecordLoginFailure(ctx context.Context, userID uuid.UUID, maxAttempts int, lockFor time.Duration) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = CASE
		        WHEN $2 > 0 AND failed_login_attempts + 1 >= $2 THEN 0
		        ELSE failed_login_attempts + 1
		    END,
		    locked_until = CASE
		        WHEN $2 > 0 AND failed_login_attempts + 1 >= $2 THEN NOW() + make_interval(secs => $3)
		        ELSE locked_until
		    END
		WHERE id = $1
	`, userID, maxAttempts, lockFor.Seconds())
	return err
}

// RecordLoginSuccess resets the failed login counter
func (p *PostgresClient) RecordLoginSuccess(ctx context.Context, userID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL, last_login_at = NOW()
		WHERE id = $1
	`, userID)
	return err
}

func (p *PostgresClient) ServiceTokenByHash(ctx context.Context, tokenHash string) (*auth.ServiceToken, error) {
	var token auth.ServiceToken
	var role string
	err := p.pool.QueryRow(ctx, `
		UPDATE service_tokens SET last_used_at = NOW()
		WHERE token_hash = $1
		RETURNING id, token_hash, name, role
	`, tokenHash).Scan(&token.ID, &token.TokenHash, &token.Name, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get service token: %w", err)
	}
	if token.Role, err = auth.ParseRole(role); err != nil {
		return nil, err
	}
	return &token, nil
}

func (p *PostgresClient) CreateServiceToken(ctx context.Context, tokenHash, name string, role auth.Role) (uuid.UUID, error) {
	var id uuid.UUID
	err := p.pool.QueryRow(ctx, `
		INSERT INTO service_tokens (token_hash, name, role)
		VALUES ($1, $2, $3)
		RETURNING id
	`, tokenHash, name, string(role)).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create service token: %w", err)
	}
	return id, nil
}

// SeedAuth copies statically configured accounts into the database.
// Existing usernames and token hashes are left alone.
func (p *PostgresClient) SeedAuth(ctx context.Context, users []auth.User, tokens []auth.ServiceToken) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range users {
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (username, password_hash, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (username) DO NOTHING
		`, u.Username, u.PasswordHash, string(u.Role)); err != nil {
			return fmt.Errorf("failed to seed user %s: %w", u.Username, err)
		}
	}
	for _, t := range tokens {
		if _, err := tx.Exec(ctx, `
			INSERT INTO service_tokens (token_hash, name, role)
			VALUES ($1, $2, $3)
			ON CONFLICT (token_hash) DO NOTHING
		`, t.TokenHash, t.Name, string(t.Role)); err != nil {
			return fmt.Errorf("failed to seed service token %s: %w", t.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
