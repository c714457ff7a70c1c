// Package service runs the verification pipeline: document submission to the
// identity provider, and ingestion of the provider's callbacks into document
// status and user trust level.
package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks DocumentStore,UserStore,ApplicantStore,Provider,Fetcher,AuditPublisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"trustmint/internal/verification/metrics"
	"trustmint/internal/verification/models"
	"trustmint/internal/verification/provider"
	"trustmint/internal/verification/trust"
	id "trustmint/pkg/domain"
	dErrors "trustmint/pkg/domain-errors"
	"trustmint/pkg/platform/audit"
	"trustmint/pkg/platform/sentinel"
	txctx "trustmint/pkg/platform/tx"
	"trustmint/pkg/requestcontext"
)

// Applicant names used when the user profile has none.
const (
	placeholderFirstName = "Unknown"
	placeholderLastName  = "Applicant"
)

// DocumentStore persists verification documents. Transition must be an
// atomic conditional update: it applies only while the document is
// submitted and reports whether it did.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	FindByID(ctx context.Context, documentID id.DocumentID) (*models.Document, error)
	FindByCheckRef(ctx context.Context, checkRef string) (*models.Document, error)
	AttachReferences(ctx context.Context, documentID id.DocumentID, applicantRef, checkRef string, at time.Time) error
	Transition(ctx context.Context, documentID id.DocumentID, to models.DocumentStatus, at time.Time) (bool, error)
	ListVerifiedTypes(ctx context.Context, userID id.UserID) ([]models.DocumentType, error)
}

// UserStore persists trust fields. RaiseTrust is a compare-and-set that
// applies only when level exceeds the stored level.
type UserStore interface {
	Save(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	RaiseTrust(ctx context.Context, userID id.UserID, level int, status models.TrustStatus, at time.Time) (bool, error)
	MarkInProgress(ctx context.Context, userID id.UserID, at time.Time) (bool, error)
}

// ApplicantStore caches provider applicant references per user.
type ApplicantStore interface {
	Get(ctx context.Context, userID id.UserID) (string, error)
	Put(ctx context.Context, userID id.UserID, applicantRef string) error
}

// Provider is the identity verification provider.
type Provider interface {
	CreateApplicant(ctx context.Context, firstName, lastName string) (string, error)
	UploadDocument(ctx context.Context, applicantRef string, content []byte, docType models.DocumentType) error
	CreateCheck(ctx context.Context, applicantRef string, reports []string) (string, error)
}

// Fetcher downloads document bytes from storage.
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TxRunner groups store writes into one unit.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	documents      DocumentStore
	users          UserStore
	applicants     ApplicantStore
	provider       Provider
	fetcher        Fetcher
	tx             TxRunner
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

// WithApplicantStore enables applicant reuse across submissions.
func WithApplicantStore(store ApplicantStore) Option {
	return func(s *Service) {
		s.applicants = store
	}
}

// WithTxRunner makes reference attachment and the user status change commit
// together. Without it they run as separate writes.
func WithTxRunner(runner TxRunner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func New(documents DocumentStore, users UserStore, prov Provider, fetcher Fetcher, opts ...Option) (*Service, error) {
	if documents == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user store is required")
	}
	if prov == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	svc := &Service{
		documents: documents,
		users:     users,
		provider:  prov,
		fetcher:   fetcher,
		tx:        txctx.NoopRunner{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("trustmint/verification"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// SubmitVerification hands a document to the provider: resolve the
// applicant, upload the file tagged with its type and open a document check.
// The document stays submitted. Any upstream failure is a provider_error and
// the whole call may be retried; a cached applicant is reused on retry.
func (s *Service) SubmitVerification(ctx context.Context, userID id.UserID, documentID id.DocumentID, docType models.DocumentType, fileURL string) (*models.Submission, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "verification.SubmitVerification", trace.WithAttributes(
		attribute.String("document_id", documentID.String()),
		attribute.String("document_type", string(docType)),
	))
	defer span.End()

	submission, err := s.submit(ctx, userID, documentID, docType, fileURL)
	s.metrics.ObserveSubmit(start)
	if err != nil {
		s.metrics.IncSubmission(string(docType), "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		return nil, err
	}
	s.metrics.IncSubmission(string(docType), "submitted")
	span.SetAttributes(attribute.String("check_reference", submission.CheckReference))
	return submission, nil
}

func (s *Service) submit(ctx context.Context, userID id.UserID, documentID id.DocumentID, docType models.DocumentType, fileURL string) (*models.Submission, error) {
	if userID.IsNil() || documentID.IsNil() {
		return nil, dErrors.New(dErrors.CodeConfiguration, "user id and document id are required")
	}
	if !docType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unsupported document type "+string(docType))
	}
	if strings.TrimSpace(fileURL) == "" {
		return nil, dErrors.New(dErrors.CodeConfiguration, "file url is required")
	}
	now := requestcontext.Now(ctx)

	user, err := s.ensureUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	if _, err := s.ensureDocument(ctx, user.ID, documentID, docType, fileURL, now); err != nil {
		return nil, err
	}

	var (
		content      []byte
		applicantRef string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := s.fetcher.FetchBytes(gctx, fileURL)
		if err != nil {
			return err
		}
		content = b
		return nil
	})
	g.Go(func() error {
		ref, err := s.resolveApplicant(gctx, user)
		if err != nil {
			return err
		}
		applicantRef = ref
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, s.providerFailure(ctx, documentID, "submission failed before upload", err)
	}

	if err := s.provider.UploadDocument(ctx, applicantRef, content, docType); err != nil {
		return nil, s.providerFailure(ctx, documentID, "document upload failed", err)
	}
	checkRef, err := s.provider.CreateCheck(ctx, applicantRef, []string{provider.ReportDocument})
	if err != nil {
		return nil, s.providerFailure(ctx, documentID, "check creation failed", err)
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.documents.AttachReferences(ctx, documentID, applicantRef, checkRef, now); err != nil {
			return err
		}
		_, err := s.users.MarkInProgress(ctx, user.ID, now)
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "check created but references not stored",
			"document_id", documentID.String(),
			"check_reference", checkRef,
			"error", err,
		)
		switch {
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "document already completed")
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "check reference already attached to another document")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store check reference")
		}
	}

	s.logger.InfoContext(ctx, "verification submitted",
		"user_id", user.ID.String(),
		"document_id", documentID.String(),
		"document_type", string(docType),
		"check_reference", checkRef,
	)
	s.emitAudit(ctx, audit.Event{
		Action:    string(audit.EventVerificationSubmitted),
		UserID:    user.ID,
		Subject:   documentID.String(),
		Decision:  string(models.DocumentSubmitted),
		Reason:    string(docType),
		Reference: checkRef,
	})
	return &models.Submission{CheckReference: checkRef, ApplicantRef: applicantRef}, nil
}

// ensureUser loads the user, creating a bare profile when none exists yet.
func (s *Service) ensureUser(ctx context.Context, userID id.UserID, now time.Time) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	user = &models.User{
		ID:          userID,
		TrustStatus: models.TrustUnverified,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.users.Save(ctx, user); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}
	return user, nil
}

// ensureDocument creates the document on first submission. A resubmission of
// a document still in submitted is allowed; a completed one is a conflict.
func (s *Service) ensureDocument(ctx context.Context, userID id.UserID, documentID id.DocumentID, docType models.DocumentType, fileURL string, now time.Time) (*models.Document, error) {
	doc, err := s.documents.FindByID(ctx, documentID)
	switch {
	case err == nil:
		if doc.UserID != userID || doc.Type != docType {
			return nil, dErrors.New(dErrors.CodeConflict, "document id belongs to a different submission")
		}
		if doc.Status.IsTerminal() {
			return nil, dErrors.New(dErrors.CodeConflict, "document already completed")
		}
		return doc, nil
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load document")
	}

	doc = &models.Document{
		ID:        documentID,
		UserID:    userID,
		Type:      docType,
		Status:    models.DocumentSubmitted,
		FileURL:   fileURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "document already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create document")
	}
	return doc, nil
}

// resolveApplicant reuses a cached applicant or creates one. The cache is
// best effort: read and write failures are logged and never fail the
// submission.
func (s *Service) resolveApplicant(ctx context.Context, user *models.User) (string, error) {
	if s.applicants != nil {
		ref, err := s.applicants.Get(ctx, user.ID)
		if err == nil && ref != "" {
			return ref, nil
		}
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "applicant cache read failed",
				"user_id", user.ID.String(),
				"error", err,
			)
		}
	}

	first, last := user.FirstName, user.LastName
	if strings.TrimSpace(first) == "" {
		first = placeholderFirstName
	}
	if strings.TrimSpace(last) == "" {
		last = placeholderLastName
	}
	ref, err := s.provider.CreateApplicant(ctx, first, last)
	if err != nil {
		return "", err
	}

	if s.applicants != nil {
		if err := s.applicants.Put(ctx, user.ID, ref); err != nil {
			s.logger.WarnContext(ctx, "applicant cache write failed",
				"user_id", user.ID.String(),
				"error", err,
			)
		}
	}
	return ref, nil
}

func (s *Service) providerFailure(ctx context.Context, documentID id.DocumentID, msg string, err error) error {
	s.logger.WarnContext(ctx, msg,
		"document_id", documentID.String(),
		"category", string(provider.CategoryOf(err)),
		"retryable", provider.IsRetryable(err),
		"error", err,
	)
	return dErrors.Wrap(err, dErrors.CodeProvider, msg)
}

// HandleCallback ingests one provider webhook body.
//
// A body without a check reference is malformed_payload and is the only
// error the transport must answer as a failure. A reference matching no
// document returns an unknown_reference error together with an Ack; the
// transport acknowledges it so the provider stops retrying. A document
// already terminal is a duplicate and nothing changes.
func (s *Service) HandleCallback(ctx context.Context, raw []byte) (*models.Ack, error) {
	ctx, span := s.tracer.Start(ctx, "verification.HandleCallback")
	defer span.End()

	cb, err := provider.ParseCallback(raw)
	if err != nil {
		s.logger.WarnContext(ctx, "malformed verification callback",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		span.SetStatus(codes.Error, string(dErrors.CodeMalformedPayload))
		return nil, err
	}
	span.SetAttributes(attribute.String("check_reference", cb.CheckReference))
	ack := &models.Ack{CheckReference: cb.CheckReference}

	if cb.Result == "" {
		if cb.RawResult != "" {
			s.logger.WarnContext(ctx, "verification callback with unrecognized result",
				"check_reference", cb.CheckReference,
				"result", cb.RawResult,
				"event", cb.Event,
			)
		} else {
			s.logger.DebugContext(ctx, "verification callback without result",
				"check_reference", cb.CheckReference,
				"event", cb.Event,
			)
		}
		ack.Outcome = models.AckPending
		s.metrics.IncCallback(string(ack.Outcome))
		return ack, nil
	}

	doc, err := s.documents.FindByCheckRef(ctx, cb.CheckReference)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Also seen when the provider answers before the submission
			// committed its references; resubmitting the document recovers.
			s.logger.WarnContext(ctx, "verification callback for unknown check",
				"check_reference", cb.CheckReference,
				"result", string(cb.Result),
				"hint", "if this check was just created, resubmit the document to reattach it",
			)
			ack.Outcome = models.AckUnknownReference
			s.metrics.IncCallback(string(ack.Outcome))
			return ack, dErrors.New(dErrors.CodeUnknownReference, "no document for check reference "+cb.CheckReference)
		}
		span.SetStatus(codes.Error, "lookup")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load document")
	}
	ack.DocumentID = doc.ID.String()

	if doc.Status.IsTerminal() {
		return s.duplicate(ctx, ack, doc, cb), nil
	}

	now := requestcontext.Now(ctx)
	target := cb.Result.DocumentStatus()
	applied, err := s.documents.Transition(ctx, doc.ID, target, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "document transition failed",
			"document_id", doc.ID.String(),
			"check_reference", cb.CheckReference,
			"error", err,
		)
		span.SetStatus(codes.Error, "transition")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update document")
	}
	if !applied {
		// A concurrent delivery won the conditional update.
		return s.duplicate(ctx, ack, doc, cb), nil
	}

	s.logger.InfoContext(ctx, "verification completed",
		"user_id", doc.UserID.String(),
		"document_id", doc.ID.String(),
		"check_reference", cb.CheckReference,
		"status", string(target),
	)
	s.emitAudit(ctx, audit.Event{
		Action:    string(audit.EventVerificationCompleted),
		UserID:    doc.UserID,
		Subject:   doc.ID.String(),
		Decision:  string(target),
		Reason:    string(doc.Type),
		Reference: cb.CheckReference,
	})

	ack.Outcome = models.AckApplied
	s.metrics.IncCallback(string(ack.Outcome))

	// The transition is committed, so a redelivery would be a duplicate and
	// never reach the recompute. Failures are logged for RecomputeTrust to be
	// rerun out of band.
	level, err := s.RecomputeTrust(ctx, doc.UserID)
	if err != nil {
		s.logger.ErrorContext(ctx, "trust recompute failed after transition",
			"user_id", doc.UserID.String(),
			"document_id", doc.ID.String(),
			"check_reference", cb.CheckReference,
			"error", err,
		)
		span.RecordError(err)
		return ack, nil
	}
	ack.TrustLevel = &level
	return ack, nil
}

func (s *Service) duplicate(ctx context.Context, ack *models.Ack, doc *models.Document, cb models.Callback) *models.Ack {
	s.logger.InfoContext(ctx, "duplicate verification callback ignored",
		"document_id", doc.ID.String(),
		"check_reference", cb.CheckReference,
		"result", string(cb.Result),
	)
	ack.Outcome = models.AckDuplicate
	s.metrics.IncCallback(string(ack.Outcome))
	return ack
}

// RecomputeTrust derives the user's level from the verified document types
// and raises the stored level when the computed one is strictly higher. It
// returns the level in effect afterwards. Replays and lower levels change
// nothing.
func (s *Service) RecomputeTrust(ctx context.Context, userID id.UserID) (int, error) {
	types, err := s.documents.ListVerifiedTypes(ctx, userID)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list verified documents")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, dErrors.Wrap(err, dErrors.CodeNotFound, "user not found")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	decision := trust.Decide(trust.Level(user.TrustLevel), trust.Compute(types))
	if !decision.Raise {
		return int(decision.Level), nil
	}

	raised, err := s.users.RaiseTrust(ctx, userID, int(decision.Level), decision.Status, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to raise trust level")
	}
	if !raised {
		// A concurrent callback raised the level at least as far.
		current, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return int(decision.Level), nil
		}
		return current.TrustLevel, nil
	}

	if trust.AddressOnly(types) {
		s.logger.WarnContext(ctx, "trust status verified from proof of address without identity document",
			"user_id", userID.String(),
			"trust_level", int(decision.Level),
		)
	}
	s.logger.InfoContext(ctx, "trust level raised",
		"user_id", userID.String(),
		"from", user.TrustLevel,
		"to", int(decision.Level),
		"trust_status", string(decision.Status),
	)
	s.metrics.IncTrustRaise(int(decision.Level))
	s.emitAudit(ctx, audit.Event{
		Action:   string(audit.EventTrustLevelRaised),
		UserID:   userID,
		Subject:  userID.String(),
		Decision: strconv.Itoa(int(decision.Level)),
		Reason:   string(decision.Status),
	})
	return int(decision.Level), nil
}

// GetDocument returns a document by id.
func (s *Service) GetDocument(ctx context.Context, documentID id.DocumentID) (*models.Document, error) {
	doc, err := s.documents.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "document not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load document")
	}
	return doc, nil
}

func (s *Service) emitAudit(ctx context.Context, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"subject", event.Subject,
			"reference", event.Reference,
			"error", err,
		)
	}
}
