// Package provider is an HTTP client for the identity verification provider:
// applicants, document uploads, checks and inbound webhooks.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"trustmint/internal/platform/config"
	"trustmint/internal/verification/models"
	"trustmint/pkg/platform/circuit"
)

// ReportDocument is the report that checks document authenticity.
const ReportDocument = "document"

const maxResponseBytes = 1 << 20

// documentTypes maps document types onto the provider's names.
var documentTypes = map[models.DocumentType]string{
	models.DocumentIdentityCard:  "national_identity_card",
	models.DocumentPassport:      "passport",
	models.DocumentUtilityBill:   "utility_bill",
	models.DocumentBankStatement: "bank_building_society_statement",
	models.DocumentSelfie:        "live_photo",
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuit.Breaker
	logger     *slog.Logger
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the default client. Its Timeout is left as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New builds a client. Each component gets its own; there is no shared
// process-wide instance.
func New(cfg config.ProviderConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.APIToken,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		breaker: circuit.New("verification-provider",
			circuit.WithFailureThreshold(cfg.FailureThreshold),
			circuit.WithCooldown(cfg.Cooldown),
		),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type applicantRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type resource struct {
	ID string `json:"id"`
}

// CreateApplicant registers a person and returns the applicant reference.
func (c *Client) CreateApplicant(ctx context.Context, firstName, lastName string) (string, error) {
	body, err := json.Marshal(applicantRequest{FirstName: firstName, LastName: lastName})
	if err != nil {
		return "", NewError(ErrorInternal, "create_applicant", "encode request", err)
	}
	var out resource
	if err := c.do(ctx, "create_applicant", http.MethodPost, "/applicants", "application/json", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", NewError(ErrorBadData, "create_applicant", "response has no applicant id", nil)
	}
	return out.ID, nil
}

// UploadDocument attaches content to the applicant, tagged with docType.
// Selfies go to the live photo endpoint.
func (c *Client) UploadDocument(ctx context.Context, applicantRef string, content []byte, docType models.DocumentType) error {
	providerType, ok := documentTypes[docType]
	if !ok {
		return NewError(ErrorBadData, "upload_document", "unsupported document type "+string(docType), nil)
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	_ = form.WriteField("applicant_id", applicantRef)
	path := "/live_photos"
	if docType != models.DocumentSelfie {
		path = "/documents"
		_ = form.WriteField("type", providerType)
	}
	part, err := form.CreateFormFile("file", string(docType))
	if err != nil {
		return NewError(ErrorInternal, "upload_document", "build form", err)
	}
	if _, err := part.Write(content); err != nil {
		return NewError(ErrorInternal, "upload_document", "build form", err)
	}
	if err := form.Close(); err != nil {
		return NewError(ErrorInternal, "upload_document", "build form", err)
	}

	return c.do(ctx, "upload_document", http.MethodPost, path, form.FormDataContentType(), buf.Bytes(), nil)
}

type checkRequest struct {
	ApplicantID string   `json:"applicant_id"`
	ReportNames []string `json:"report_names"`
}

// CreateCheck starts a verification job over the applicant's documents and
// returns the check reference later echoed by webhooks.
func (c *Client) CreateCheck(ctx context.Context, applicantRef string, reports []string) (string, error) {
	body, err := json.Marshal(checkRequest{ApplicantID: applicantRef, ReportNames: reports})
	if err != nil {
		return "", NewError(ErrorInternal, "create_check", "encode request", err)
	}
	var out resource
	if err := c.do(ctx, "create_check", http.MethodPost, "/checks", "application/json", body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", NewError(ErrorBadData, "create_check", "response has no check id", nil)
	}
	return out.ID, nil
}

// BreakerState exposes the breaker position for health reporting.
func (c *Client) BreakerState() circuit.State {
	return c.breaker.State()
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body []byte, out any) error {
	if !c.breaker.Allow() {
		return NewError(ErrorCircuitOpen, op, "provider circuit open", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return NewError(ErrorTimeout, op, "rate limiter wait", err)
	}

	err := c.send(ctx, op, method, path, contentType, body, out)
	c.record(ctx, op, err)
	return err
}

func (c *Client) send(ctx context.Context, op, method, path, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return NewError(ErrorInternal, op, "build request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token token="+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return NewError(ErrorTimeout, op, "request timed out", err)
		}
		return NewError(ErrorProviderOutage, op, "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return NewError(ErrorProviderOutage, op, "read response", err)
	}
	if category, failed := classifyStatus(resp.StatusCode); failed {
		pe := NewError(category, op, strings.TrimSpace(truncate(string(payload), 256)), nil)
		pe.StatusCode = resp.StatusCode
		return pe
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return NewError(ErrorBadData, op, "decode response", err)
	}
	return nil
}

func (c *Client) record(ctx context.Context, op string, err error) {
	if err == nil || !countsAgainstBreaker(CategoryOf(err)) {
		if _, change := c.breaker.RecordSuccess(); change.Closed {
			c.logger.InfoContext(ctx, "provider circuit closed", "operation", op)
		}
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "provider circuit opened",
			"operation", op,
			"error", err,
		)
	}
}

func classifyStatus(status int) (ErrorCategory, bool) {
	switch {
	case status >= 200 && status < 300:
		return "", false
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorAuthentication, true
	case status == http.StatusNotFound:
		return ErrorNotFound, true
	case status == http.StatusTooManyRequests:
		return ErrorRateLimited, true
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrorTimeout, true
	case status >= 500:
		return ErrorProviderOutage, true
	default:
		return ErrorBadData, true
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
