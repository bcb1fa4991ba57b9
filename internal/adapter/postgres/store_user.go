package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/buildhive/buildhive/internal/domain/credit"
	"github.com/buildhive/buildhive/internal/domain/user"
)

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*user.User, error) {
	var u user.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, name, credits, credits_enabled, created_at, updated_at
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.Credits, &u.CreditsEnabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get user %s", id)
	}
	return &u, nil
}

// UserCredits returns the user's current balance.
func (s *Store) UserCredits(ctx context.Context, id string) (float64, error) {
	var credits float64
	err := s.pool.QueryRow(ctx,
		`SELECT credits FROM users WHERE id = $1`, id).Scan(&credits)
	if err != nil {
		return 0, notFoundWrap(err, "get user %s credits", id)
	}
	return credits, nil
}

// DeductUserCredits decrements the balance only when it covers the amount.
// The check and decrement run as a single conditional UPDATE, so concurrent
// deductions for the same user can never drive the balance negative.
func (s *Store) DeductUserCredits(ctx context.Context, id string, amount float64) (float64, error) {
	var balance float64
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET credits = credits - $2, updated_at = NOW()
		 WHERE id = $1 AND credits >= $2
		 RETURNING credits`, id, amount).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("deduct user %s credits: %w", id, err)
	}

	// Either the user does not exist or the balance is short.
	available, lookupErr := s.UserCredits(ctx, id)
	if lookupErr != nil {
		return 0, lookupErr
	}
	return 0, &credit.InsufficientError{Required: amount, Available: available}
}

// AddUserCredits increments the balance and returns the new value.
func (s *Store) AddUserCredits(ctx context.Context, id string, amount float64) (float64, error) {
	var balance float64
	err := s.pool.QueryRow(ctx,
		`UPDATE users SET credits = credits + $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING credits`, id, amount).Scan(&balance)
	if err != nil {
		return 0, notFoundWrap(err, "add user %s credits", id)
	}
	return balance, nil
}

// HasActiveProviderKey reports whether the user has an active personal LLM
// provider credential, which exempts them from credit charges.
func (s *Store) HasActiveProviderKey(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_provider_keys WHERE user_id = $1 AND active)`,
		userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check provider key for user %s: %w", userID, err)
	}
	return exists, nil
}
