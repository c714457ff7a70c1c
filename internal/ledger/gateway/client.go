package gateway

import (
	"context"

	"trustmint/internal/ledger/xrpl"
)

// Client opens a fresh session for every submission, so concurrent callers
// never share a connection.
type Client struct {
	cfg  Config
	opts []Option
}

func NewClient(cfg Config, opts ...Option) *Client {
	return &Client{cfg: cfg, opts: opts}
}

// Submit runs one Session.Submit inside WithSession.
func (c *Client) Submit(ctx context.Context, tx xrpl.Tx, signer xrpl.Signer) (*Result, error) {
	var res *Result
	err := WithSession(ctx, c.cfg, func(s *Session) error {
		var err error
		res, err = s.Submit(ctx, tx, signer)
		return err
	}, c.opts...)
	return res, err
}

// Lookup re-queries a transaction by hash, typically after a timeout.
func (c *Client) Lookup(ctx context.Context, hash string) (*Result, error) {
	var res *Result
	err := WithSession(ctx, c.cfg, func(s *Session) error {
		var err error
		res, err = s.Lookup(ctx, hash)
		return err
	}, c.opts...)
	return res, err
}
