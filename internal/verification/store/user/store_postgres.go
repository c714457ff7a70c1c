package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trustmint/internal/verification/models"
	id "trustmint/pkg/domain"
	"trustmint/pkg/platform/sentinel"
	txctx "trustmint/pkg/platform/tx"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists users in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed user store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) dbtx {
	if tx, ok := txctx.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Save(ctx context.Context, u *models.User) error {
	if u == nil {
		return fmt.Errorf("user is required")
	}
	status := u.TrustStatus
	if status == "" {
		status = models.TrustUnverified
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO users (id, first_name, last_name, trust_level, trust_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name, updated_at = EXCLUDED.updated_at`,
		uuid.UUID(u.ID), u.FirstName, u.LastName, u.TrustLevel, string(status), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	var (
		u      models.User
		rawID  uuid.UUID
		status string
	)
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, first_name, last_name, trust_level, trust_status, created_at, updated_at
		FROM users WHERE id = $1`, uuid.UUID(userID)).
		Scan(&rawID, &u.FirstName, &u.LastName, &u.TrustLevel, &status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	u.ID = id.UserID(rawID)
	u.TrustStatus = models.TrustStatus(status)
	return &u, nil
}

// RaiseTrust is a compare-and-set: the row changes only when level exceeds
// the stored level.
func (s *PostgresStore) RaiseTrust(ctx context.Context, userID id.UserID, level int, status models.TrustStatus, at time.Time) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE users SET trust_level = $2, trust_status = $3, updated_at = $4
		WHERE id = $1 AND trust_level < $2`,
		uuid.UUID(userID), level, string(status), at)
	if err != nil {
		return false, fmt.Errorf("raise trust level: %w", err)
	}
	return s.applied(ctx, res, userID)
}

func (s *PostgresStore) MarkInProgress(ctx context.Context, userID id.UserID, at time.Time) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE users SET trust_status = 'in_progress', updated_at = $2
		WHERE id = $1 AND trust_status = 'unverified'`,
		uuid.UUID(userID), at)
	if err != nil {
		return false, fmt.Errorf("mark trust in progress: %w", err)
	}
	return s.applied(ctx, res, userID)
}

func (s *PostgresStore) applied(ctx context.Context, res sql.Result, userID id.UserID) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	var exists bool
	err = s.conn(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, uuid.UUID(userID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	if !exists {
		return false, sentinel.ErrNotFound
	}
	return false, nil
}
