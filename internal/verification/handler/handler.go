package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustmint/internal/platform/metrics"
	"trustmint/internal/platform/middleware"
	"trustmint/internal/verification/models"
	"trustmint/internal/verification/provider"
	id "trustmint/pkg/domain"
	dErrors "trustmint/pkg/domain-errors"
	"trustmint/pkg/platform/httputil"
)

const (
	maxBodyBytes    = 64 << 10
	maxWebhookBytes = 1 << 20
)

// Service defines the verification operations exposed over HTTP.
type Service interface {
	SubmitVerification(ctx context.Context, userID id.UserID, documentID id.DocumentID, docType models.DocumentType, fileURL string) (*models.Submission, error)
	HandleCallback(ctx context.Context, raw []byte) (*models.Ack, error)
	GetDocument(ctx context.Context, documentID id.DocumentID) (*models.Document, error)
}

// SubmitRequest is the body of POST /verifications.
type SubmitRequest struct {
	UserID       string `json:"user_id"`
	DocumentID   string `json:"document_id"`
	DocumentType string `json:"document_type"`
	FileURL      string `json:"file_url"`
}

// DocumentResponse is the public view of a verification document.
type DocumentResponse struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	DocumentType   string     `json:"document_type"`
	Status         string     `json:"status"`
	CheckReference string     `json:"check_reference,omitempty"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Handler serves document submission and the provider webhook.
type Handler struct {
	verification  Service
	logger        *slog.Logger
	metrics       *metrics.Metrics
	webhookSecret string
}

// New creates a verification Handler. An empty webhookSecret accepts
// unsigned callbacks.
func New(verification Service, logger *slog.Logger, m *metrics.Metrics, webhookSecret string) *Handler {
	return &Handler{
		verification:  verification,
		logger:        logger,
		metrics:       m,
		webhookSecret: webhookSecret,
	}
}

// Register registers the verification routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.RequestTime)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.LatencyMiddleware(h.metrics))

		r.Post("/verifications", h.handleSubmit)
		r.Get("/verifications/{id}", h.handleGet)
		r.Post("/webhooks/verification", h.handleCallback)
	})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid verification request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	userID, err := id.ParseUserID(req.UserID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	documentID, err := id.ParseDocumentID(req.DocumentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	docType, err := models.ParseDocumentType(req.DocumentType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sub, err := h.verification.SubmitVerification(ctx, userID, documentID, docType, req.FileURL)
	if err != nil {
		h.logError(ctx, "submit verification failed", err, "document_id", documentID.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, sub)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	documentID, err := id.ParseDocumentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	doc, err := h.verification.GetDocument(r.Context(), documentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// handleCallback acknowledges every parseable callback, unknown references
// included, so the provider does not retry them. Only malformed bodies, bad
// signatures and internal failures are answered with an error status.
func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeMalformedPayload, "unreadable callback body"))
		return
	}
	if err := provider.VerifySignature(h.webhookSecret, raw, r.Header.Get(provider.SignatureHeader)); err != nil {
		h.logger.WarnContext(ctx, "verification callback signature rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	ack, err := h.verification.HandleCallback(ctx, raw)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeUnknownReference) {
		h.logError(ctx, "verification callback failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ack)
}

func (h *Handler) logError(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs,
		"request_id", middleware.GetRequestID(ctx),
		"error_code", string(dErrors.CodeOf(err)),
		"error", err.Error(),
	)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeProvider:
		h.logger.ErrorContext(ctx, msg, attrs...)
	default:
		h.logger.WarnContext(ctx, msg, attrs...)
	}
}

func toDocumentResponse(doc *models.Document) DocumentResponse {
	return DocumentResponse{
		ID:             doc.ID.String(),
		UserID:         doc.UserID.String(),
		DocumentType:   string(doc.Type),
		Status:         string(doc.Status),
		CheckReference: doc.CheckRef,
		VerifiedAt:     doc.VerifiedAt,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}
