// Package fetch downloads document bytes from object storage URLs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"trustmint/internal/platform/config"
	dErrors "trustmint/pkg/domain-errors"
)

// StatusError is a non-2xx response from storage.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
}

// ErrTooLarge is returned when the body exceeds the configured limit.
var ErrTooLarge = errors.New("document exceeds size limit")

type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

type Option func(*Fetcher)

func WithHTTPClient(hc *http.Client) Option {
	return func(f *Fetcher) {
		if hc != nil {
			f.client = hc
		}
	}
}

func New(cfg config.StorageConfig, opts ...Option) *Fetcher {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	f := &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: cfg.MaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchBytes returns the full body at url. Every failure carries CodeFetch.
func (f *Fetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeFetch, "invalid document url")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeFetch, "document download failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, dErrors.Wrap(&StatusError{URL: req.URL.Redacted(), StatusCode: resp.StatusCode},
			dErrors.CodeFetch, "document download failed")
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeFetch, "document read failed")
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, dErrors.Wrap(ErrTooLarge, dErrors.CodeFetch, "document download failed")
	}
	return data, nil
}
