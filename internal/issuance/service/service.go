// Package service orchestrates one asset issuance: derive the issuer wallet,
// build the transaction, submit it through a ledger session, extract the
// asset id and persist the outcome.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Ledger,Store,AuditPublisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustmint/internal/issuance/builder"
	"trustmint/internal/issuance/extract"
	"trustmint/internal/issuance/metrics"
	"trustmint/internal/issuance/models"
	"trustmint/internal/ledger/gateway"
	"trustmint/internal/ledger/xrpl"
	dErrors "trustmint/pkg/domain-errors"
	"trustmint/pkg/ids"
	"trustmint/pkg/platform/audit"
	"trustmint/pkg/platform/sentinel"
	"trustmint/pkg/requestcontext"
)

// Ledger submits signed transactions. *gateway.Client opens one session per
// call.
type Ledger interface {
	Submit(ctx context.Context, tx xrpl.Tx, signer xrpl.Signer) (*gateway.Result, error)
	Lookup(ctx context.Context, hash string) (*gateway.Result, error)
}

// Store persists token records.
type Store interface {
	Save(ctx context.Context, record *models.TokenRecord) error
	FindByID(ctx context.Context, recordID string) (*models.TokenRecord, error)
	FindByTxHash(ctx context.Context, hash string) (*models.TokenRecord, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Options are the optional issuance fields. Zero values leave the field off
// the transaction.
type Options struct {
	MaximumAmount string
	TransferFee   uint16
	Flags         uint32
	AssetScale    uint8
}

type Service struct {
	ledger         Ledger
	store          Store
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func New(ledger Ledger, store Store, opts ...Option) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	svc := &Service{
		ledger: ledger,
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer("trustmint/issuance"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// IssueAsset issues one MPT asset signed by seed.
//
// A transaction that validates with a non-success outcome is reported with
// Success false and no error. Rejections and validation timeouts are returned
// as ledger_rejected and ledger_timeout errors; after a timeout the outcome is
// unknown and Reconcile should be used before issuing again.
func (s *Service) IssueAsset(ctx context.Context, seed string, metadata any, opts Options) (*models.LedgerTransactionResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "issuance.IssueAsset")
	defer span.End()

	wallet, err := builder.NewWallet(seed)
	if err != nil {
		s.metrics.IncOutcome("error")
		span.SetStatus(codes.Error, "wallet")
		return nil, err
	}
	tx, err := builder.Build(wallet, builder.Request{
		Metadata:      metadata,
		MaximumAmount: opts.MaximumAmount,
		TransferFee:   opts.TransferFee,
		Flags:         opts.Flags,
		AssetScale:    opts.AssetScale,
	})
	if err != nil {
		s.metrics.IncOutcome("error")
		span.SetStatus(codes.Error, "build")
		return nil, err
	}
	span.SetAttributes(attribute.String("issuer", wallet.Address()))

	res, err := s.ledger.Submit(ctx, tx.Tx(), wallet)
	s.metrics.ObserveIssue(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		s.submitFailed(ctx, wallet.Address(), err)
		return nil, err
	}

	record := s.toRecord(ctx, res, wallet.Address(), tx.MPTokenMetadata)
	span.SetAttributes(
		attribute.String("tx_hash", record.TxHash),
		attribute.String("status", record.Status.String()),
	)
	return s.finish(ctx, record), nil
}

// Reconcile resolves the outcome of a transaction by hash, typically after
// IssueAsset timed out. A stored record wins; otherwise the ledger is queried
// and a validated outcome is persisted. An unvalidated transaction is
// reported with Validated false and is not persisted.
func (s *Service) Reconcile(ctx context.Context, hash string) (*models.LedgerTransactionResult, error) {
	ctx, span := s.tracer.Start(ctx, "issuance.Reconcile", trace.WithAttributes(attribute.String("tx_hash", hash)))
	defer span.End()

	if hash == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "transaction hash is required")
	}
	existing, err := s.store.FindByTxHash(ctx, hash)
	if err == nil {
		return existing.Result(), nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load token record")
	}

	res, err := s.ledger.Lookup(ctx, hash)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "transaction not found on ledger")
	}
	if !res.Validated {
		return &models.LedgerTransactionResult{TxHash: res.Hash, EngineResult: res.EngineResult}, nil
	}

	record := s.toRecord(ctx, res, res.Account, "")
	return s.finish(ctx, record), nil
}

// GetRecord returns a persisted issuance by record id.
func (s *Service) GetRecord(ctx context.Context, recordID string) (*models.LedgerTransactionResult, error) {
	if !ids.Valid(recordID) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid record id")
	}
	record, err := s.store.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "token record not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load token record")
	}
	return record.Result(), nil
}

// toRecord classifies a validated result. Success is judged by the outcome
// code alone; the asset id is looked up only for successful transactions.
func (s *Service) toRecord(ctx context.Context, res *gateway.Result, issuer, metadataHex string) *models.TokenRecord {
	record := &models.TokenRecord{
		ID:            ids.NewAt(requestcontext.Now(ctx)),
		IssuerAddress: issuer,
		Status:        models.StatusFailed,
		TxHash:        res.Hash,
		EngineResult:  res.EngineResult,
		LedgerIndex:   res.LedgerIndex,
		Sequence:      res.Sequence,
		FeeDrops:      res.Fee,
		Validated:     res.Validated,
		MetadataHex:   metadataHex,
		CreatedAt:     requestcontext.Now(ctx),
	}
	if !res.Succeeded() {
		return record
	}

	assetID, err := extract.Extract(res.Meta)
	if err != nil {
		s.logger.WarnContext(ctx, "transaction metadata could not be parsed",
			"tx_hash", res.Hash,
			"error", err,
		)
	}
	record.AssetID = assetID
	if assetID != nil {
		record.Status = models.StatusIssued
	} else {
		record.Status = models.StatusIssuedUnreconciled
	}
	return record
}

// finish persists and audits a classified record. The ledger outcome is
// final at this point, so persistence and audit failures are logged and the
// result is still returned.
func (s *Service) finish(ctx context.Context, record *models.TokenRecord) *models.LedgerTransactionResult {
	s.metrics.IncOutcome(record.Status.String())

	result := record.Result()
	if err := s.store.Save(ctx, record); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist token record",
			"tx_hash", record.TxHash,
			"status", record.Status,
			"error", err,
		)
		result.ID = ""
	}

	switch record.Status {
	case models.StatusFailed:
		s.logger.WarnContext(ctx, "issuance validated with failure outcome",
			"tx_hash", record.TxHash,
			"engine_result", record.EngineResult,
		)
		s.emitAudit(ctx, audit.Event{
			Action:    string(audit.EventAssetIssueFailed),
			Subject:   record.IssuerAddress,
			Decision:  string(models.StatusFailed),
			Reason:    record.EngineResult,
			Reference: record.TxHash,
		})
	default:
		if record.Status == models.StatusIssuedUnreconciled {
			s.logger.WarnContext(ctx, "issuance succeeded without an asset id",
				"tx_hash", record.TxHash,
			)
		}
		subject := record.IssuerAddress
		if record.AssetID != nil {
			subject = *record.AssetID
		}
		s.logger.InfoContext(ctx, "asset issued",
			"tx_hash", record.TxHash,
			"status", record.Status,
			"ledger_index", record.LedgerIndex,
		)
		s.emitAudit(ctx, audit.Event{
			Action:    string(audit.EventAssetIssued),
			Subject:   subject,
			Decision:  record.Status.String(),
			Reason:    record.EngineResult,
			Reference: record.TxHash,
		})
	}
	return result
}

// submitFailed records rejections and timeouts. Nothing is persisted: a
// rejected transaction never reached a ledger and a timed-out one may still
// validate.
func (s *Service) submitFailed(ctx context.Context, issuer string, err error) {
	var (
		rejected *gateway.RejectedError
		timeout  *gateway.TimeoutError
	)
	switch {
	case errors.As(err, &rejected):
		s.metrics.IncOutcome("rejected")
		s.logger.WarnContext(ctx, "issuance rejected",
			"tx_hash", rejected.Hash,
			"engine_result", rejected.EngineResult,
		)
		s.emitAudit(ctx, audit.Event{
			Action:    string(audit.EventAssetIssueFailed),
			Subject:   issuer,
			Decision:  "rejected",
			Reason:    rejected.EngineResult,
			Reference: rejected.Hash,
		})
	case errors.As(err, &timeout):
		s.metrics.IncOutcome("timeout")
		s.logger.WarnContext(ctx, "issuance outcome unknown after validation timeout",
			"tx_hash", timeout.Hash,
		)
		s.emitAudit(ctx, audit.Event{
			Action:    string(audit.EventAssetIssueFailed),
			Subject:   issuer,
			Decision:  "timeout",
			Reason:    string(dErrors.CodeLedgerTimeout),
			Reference: timeout.Hash,
		})
	default:
		s.metrics.IncOutcome("error")
		s.logger.ErrorContext(ctx, "issuance submission failed",
			"issuer", issuer,
			"error", err,
		)
	}
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"tx_hash", event.Reference,
			"error", err,
		)
	}
}
