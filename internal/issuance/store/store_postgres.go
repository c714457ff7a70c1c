package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"trustmint/internal/issuance/models"
	"trustmint/pkg/platform/sentinel"
)

const uniqueViolation = "23505"

const tokenColumns = `id, issuer_address, status, asset_id, tx_hash, engine_result,
	ledger_index, sequence, fee_drops, validated, metadata_hex, created_at`

// PostgresStore persists token records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed token record store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, record *models.TokenRecord) error {
	if record == nil {
		return fmt.Errorf("token record is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_records (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.ID,
		record.IssuerAddress,
		string(record.Status),
		nullString(record.AssetID),
		nullHash(record.TxHash),
		record.EngineResult,
		int64(record.LedgerIndex),
		int64(record.Sequence),
		record.FeeDrops,
		record.Validated,
		record.MetadataHex,
		record.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("save token record: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, recordID string) (*models.TokenRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM token_records WHERE id = $1`, recordID)
	record, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("find token record by id: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) FindByTxHash(ctx context.Context, hash string) (*models.TokenRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM token_records WHERE tx_hash = $1`, hash)
	record, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("find token record by tx hash: %w", err)
	}
	return record, nil
}

func scanRecord(row *sql.Row) (*models.TokenRecord, error) {
	var (
		record      models.TokenRecord
		status      string
		assetID     sql.NullString
		txHash      sql.NullString
		ledgerIndex int64
		sequence    int64
	)
	err := row.Scan(
		&record.ID,
		&record.IssuerAddress,
		&status,
		&assetID,
		&txHash,
		&record.EngineResult,
		&ledgerIndex,
		&sequence,
		&record.FeeDrops,
		&record.Validated,
		&record.MetadataHex,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	record.Status = models.Status(status)
	if assetID.Valid {
		v := assetID.String
		record.AssetID = &v
	}
	record.TxHash = txHash.String
	record.LedgerIndex = uint32(ledgerIndex)
	record.Sequence = uint32(sequence)
	return &record, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullHash(hash string) sql.NullString {
	return sql.NullString{String: hash, Valid: hash != ""}
}
