package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// ErrUserNotFound is returned when no user row matches the given id.
var ErrUserNotFound = errors.New("store: user not found")

// ErrInsufficientCoins is returned by SpendCoins when the conditional
// decrement matched no row, i.e. the balance was below the cost at the
// moment of the update.
var ErrInsufficientCoins = errors.New("store: insufficient coins")

// User is a row of the user table. Credentials live elsewhere; this package
// only deals with identity and the coin balance.
type User struct {
	ID         int64
	Name       string
	Provider   string
	Coins      int64
	Permission int64
	Info       sql.NullString
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, provider, coins, permission, info
		FROM user WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &u.Provider, &u.Coins, &u.Permission, &u.Info)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query user %d: %w", id, err)
	}
	return &u, nil
}

// SpendCoins atomically deducts cost from the user's balance and returns the
// new balance. The decrement is a single conditional UPDATE so that two
// concurrent turns from the same user can never drive the balance negative;
// the loser of the race gets ErrInsufficientCoins.
func (s *Store) SpendCoins(ctx context.Context, userID, cost int64) (int64, error) {
	if cost < 0 {
		return 0, fmt.Errorf("store: negative coin cost %d", cost)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE user SET coins = coins - ?
		WHERE id = ? AND coins >= ?`,
		cost, userID, cost,
	)
	if err != nil {
		return 0, fmt.Errorf("store: deduct coins for user %d: %w", userID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: deduct coins for user %d: %w", userID, err)
	}
	if affected == 0 {
		return 0, ErrInsufficientCoins
	}

	var balance int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT coins FROM user WHERE id = ?", userID,
	).Scan(&balance); err != nil {
		return 0, fmt.Errorf("store: read balance for user %d: %w", userID, err)
	}

	slog.Debug("coins deducted", "user_id", userID, "cost", cost, "balance", balance)
	return balance, nil
}

// AddCoins credits amount to the user's balance and returns the new balance.
// Used by reward flows outside the chat pipeline.
func (s *Store) AddCoins(ctx context.Context, userID, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("store: negative coin amount %d", amount)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE user SET coins = coins + ? WHERE id = ?", amount, userID)
	if err != nil {
		return 0, fmt.Errorf("store: credit coins for user %d: %w", userID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: credit coins for user %d: %w", userID, err)
	}
	if affected == 0 {
		return 0, ErrUserNotFound
	}

	var balance int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT coins FROM user WHERE id = ?", userID,
	).Scan(&balance); err != nil {
		return 0, fmt.Errorf("store: read balance for user %d: %w", userID, err)
	}
	return balance, nil
}
