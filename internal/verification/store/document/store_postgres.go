package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"trustmint/internal/verification/models"
	id "trustmint/pkg/domain"
	"trustmint/pkg/platform/sentinel"
	txctx "trustmint/pkg/platform/tx"
)

const uniqueViolation = "23505"

const documentColumns = `id, user_id, document_type, status, file_url,
	COALESCE(applicant_ref, ''), COALESCE(check_ref, ''), verified_at, created_at, updated_at`

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists verification documents in PostgreSQL. Writes join
// the transaction carried by ctx, if any.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed document store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) dbtx {
	if tx, ok := txctx.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO verification_documents (id, user_id, document_type, status, file_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.UUID(doc.ID),
		uuid.UUID(doc.UserID),
		string(doc.Type),
		string(doc.Status),
		doc.FileURL,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, documentID id.DocumentID) (*models.Document, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM verification_documents WHERE id = $1`, uuid.UUID(documentID))
	doc, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("find document by id: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) FindByCheckRef(ctx context.Context, checkRef string) (*models.Document, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM verification_documents WHERE check_ref = $1`, checkRef)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("find document by check reference: %w", err)
	}
	return doc, nil
}

// AttachReferences records provider references on a document that is still
// submitted. A resubmission overwrites the previous references.
func (s *PostgresStore) AttachReferences(ctx context.Context, documentID id.DocumentID, applicantRef, checkRef string, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE verification_documents
		SET applicant_ref = $2, check_ref = $3, updated_at = $4
		WHERE id = $1 AND status = 'submitted'`,
		uuid.UUID(documentID), applicantRef, checkRef, at)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("attach document references: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach document references: %w", err)
	}
	if n == 0 {
		return s.missingOrTerminal(ctx, documentID)
	}
	return nil
}

// Transition moves a submitted document to a terminal status. It reports
// false when the document was already terminal.
func (s *PostgresStore) Transition(ctx context.Context, documentID id.DocumentID, to models.DocumentStatus, at time.Time) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("transition target %q is not terminal", to)
	}
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE verification_documents
		SET status = $2, verified_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'submitted'`,
		uuid.UUID(documentID), string(to), at)
	if err != nil {
		return false, fmt.Errorf("transition document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition document: %w", err)
	}
	if n == 0 {
		if err := s.missingOrTerminal(ctx, documentID); errors.Is(err, sentinel.ErrNotFound) {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) ListVerifiedTypes(ctx context.Context, userID id.UserID) ([]models.DocumentType, error) {
	var raw pq.StringArray
	err := s.conn(ctx).QueryRowContext(ctx, `
		SELECT COALESCE(array_agg(DISTINCT document_type), '{}')
		FROM verification_documents
		WHERE user_id = $1 AND status = 'verified'`,
		uuid.UUID(userID)).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("list verified document types: %w", err)
	}
	types := make([]models.DocumentType, 0, len(raw))
	for _, t := range raw {
		types = append(types, models.DocumentType(t))
	}
	return types, nil
}

func (s *PostgresStore) missingOrTerminal(ctx context.Context, documentID id.DocumentID) error {
	var status string
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT status FROM verification_documents WHERE id = $1`, uuid.UUID(documentID)).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load document status: %w", err)
	}
	return sentinel.ErrInvalidState
}

func scanDocument(row *sql.Row) (*models.Document, error) {
	var (
		doc        models.Document
		docID      uuid.UUID
		userID     uuid.UUID
		docType    string
		status     string
		verifiedAt sql.NullTime
	)
	err := row.Scan(&docID, &userID, &docType, &status, &doc.FileURL,
		&doc.ApplicantRef, &doc.CheckRef, &verifiedAt, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	doc.ID = id.DocumentID(docID)
	doc.UserID = id.UserID(userID)
	doc.Type = models.DocumentType(docType)
	doc.Status = models.DocumentStatus(status)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		doc.VerifiedAt = &t
	}
	return &doc, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
