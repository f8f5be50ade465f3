package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"example.com/fitlog/internal/domain"
)

// CreateUser inserts a new account.
func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	const query = `INSERT INTO users (id, email, hashed_password, created_at) VALUES ($1,$2,$3,$4)`
	_, err := s.pool.Exec(ctx, query, u.ID, u.Email, u.HashedPassword, u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.ErrEmailTaken
	}
	return err
}

// FindUserByEmail returns (nil, nil) when no account matches.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, hashed_password, created_at FROM users WHERE email=$1`
	var u domain.User
	err := s.pool.QueryRow(ctx, query, email).Scan(&u.ID, &u.Email, &u.HashedPassword, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
