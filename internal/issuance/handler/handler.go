package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"trustmint/internal/issuance/models"
	"trustmint/internal/issuance/service"
	"trustmint/internal/platform/metrics"
	"trustmint/internal/platform/middleware"
	dErrors "trustmint/pkg/domain-errors"
	"trustmint/pkg/platform/httputil"
)

// maxBodyBytes bounds the request body; metadata itself is capped at 1024
// bytes by the builder.
const maxBodyBytes = 64 << 10

// Service defines the issuance operations exposed over HTTP.
type Service interface {
	IssueAsset(ctx context.Context, seed string, metadata any, opts service.Options) (*models.LedgerTransactionResult, error)
	Reconcile(ctx context.Context, hash string) (*models.LedgerTransactionResult, error)
	GetRecord(ctx context.Context, recordID string) (*models.LedgerTransactionResult, error)
}

// IssueRequest is the body of POST /assets. A JSON string metadata value is
// stored as its UTF-8 text; any other JSON value is stored verbatim.
type IssueRequest struct {
	IssuerSeed    string          `json:"issuer_seed"`
	Metadata      json.RawMessage `json:"metadata"`
	MaximumAmount string          `json:"maximum_amount,omitempty"`
	TransferFee   uint16          `json:"transfer_fee,omitempty"`
	Flags         uint32          `json:"flags,omitempty"`
	AssetScale    uint8           `json:"asset_scale,omitempty"`
}

// ReconcileRequest is the body of POST /assets/reconcile.
type ReconcileRequest struct {
	TxHash string `json:"tx_hash"`
}

// Handler serves the issuance endpoints.
type Handler struct {
	issuance Service
	logger   *slog.Logger
	metrics  *metrics.Metrics
	timeout  time.Duration
}

// New creates an issuance Handler. timeout must cover the ledger validation
// timeout plus session setup.
func New(issuance Service, logger *slog.Logger, m *metrics.Metrics, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Handler{
		issuance: issuance,
		logger:   logger,
		metrics:  m,
		timeout:  timeout,
	}
}

// Register registers the issuance routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	assets := chi.NewRouter()
	assets.Use(middleware.Recovery(h.logger))
	assets.Use(middleware.RequestID)
	assets.Use(middleware.Logger(h.logger))
	assets.Use(middleware.Timeout(h.timeout))
	assets.Use(middleware.LatencyMiddleware(h.metrics))
	assets.Post("/", h.handleIssue)
	assets.Post("/reconcile", h.handleReconcile)
	assets.Get("/{id}", h.handleGet)

	r.Mount("/assets", assets)
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req IssueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid issue request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	metadata, err := decodeMetadata(req.Metadata)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.issuance.IssueAsset(ctx, req.IssuerSeed, metadata, service.Options{
		MaximumAmount: req.MaximumAmount,
		TransferFee:   req.TransferFee,
		Flags:         req.Flags,
		AssetScale:    req.AssetScale,
	})
	if err != nil {
		h.logError(ctx, "issue asset failed", err)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if !res.Success {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, res)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReconcileRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	res, err := h.issuance.Reconcile(ctx, req.TxHash)
	if err != nil {
		h.logError(ctx, "reconcile failed", err, "tx_hash", req.TxHash)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := h.issuance.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) logError(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs,
		"request_id", middleware.GetRequestID(ctx),
		"error_code", string(dErrors.CodeOf(err)),
		"error", err.Error(),
	)
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal, dErrors.CodeConnection:
		h.logger.ErrorContext(ctx, msg, attrs...)
	default:
		h.logger.WarnContext(ctx, msg, attrs...)
	}
}

func decodeMetadata(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, dErrors.New(dErrors.CodeConfiguration, "metadata is required")
	}
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, dErrors.New(dErrors.CodeBadRequest, "invalid metadata")
		}
		return text, nil
	}
	return raw, nil
}
