// Package gateway talks to the ledger over one WebSocket session: autofill,
// sign, submit and wait for validation.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"trustmint/internal/ledger/xrpl"
	dErrors "trustmint/pkg/domain-errors"
)

// Networks maps well-known network names to public endpoints.
var Networks = map[string]string{
	"mainnet": "wss://xrplcluster.com",
	"testnet": "wss://s.altnet.rippletest.net:51233",
	"devnet":  "wss://s.devnet.rippletest.net:51233",
}

// networkIDThreshold is the largest network id that must not appear in
// transactions; chains above it require the NetworkID field.
const networkIDThreshold = 1024

// Config selects the endpoint and bounds every session.
type Config struct {
	Network           string
	URL               string
	ValidationTimeout time.Duration
	PollInterval      time.Duration
	FeeCushion        float64
	MaxFeeDrops       uint64
	LastLedgerOffset  uint32
	HandshakeTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.ValidationTimeout <= 0 {
		c.ValidationTimeout = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.FeeCushion < 1 {
		c.FeeCushion = 1.2
	}
	if c.LastLedgerOffset == 0 {
		c.LastLedgerOffset = 20
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// Endpoint resolves the WebSocket URL. An explicit URL wins over Network.
func (c Config) Endpoint() (string, error) {
	if c.URL != "" {
		return c.URL, nil
	}
	if url, ok := Networks[c.Network]; ok {
		return url, nil
	}
	return "", dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("unknown ledger network %q", c.Network))
}

// Result is the validated envelope of a submitted transaction.
type Result struct {
	EngineResult string
	Hash         string
	Account      string
	LedgerIndex  uint32
	Fee          string
	Sequence     uint32
	Validated    bool
	Meta         json.RawMessage
}

// Succeeded reports whether the transaction applied.
func (r *Result) Succeeded() bool {
	return r != nil && r.Validated && r.EngineResult == "tesSUCCESS"
}

type Option func(*Session)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Session) {
		s.tracer = tracer
	}
}

// Session is one WebSocket connection to a ledger node. Requests are
// serialized; use one session per issuance.
type Session struct {
	cfg    Config
	conn   *websocket.Conn
	logger *slog.Logger
	tracer trace.Tracer

	mu     sync.Mutex
	nextID uint64

	closeOnce sync.Once
	closeErr  error
}

// Dial opens a session to the configured network.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	cfg = cfg.withDefaults()
	url, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, connectionError(err, "dial ledger "+url)
	}
	s := &Session{
		cfg:    cfg,
		conn:   conn,
		logger: slog.Default(),
		tracer: otel.Tracer("trustmint/internal/ledger/gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// WithSession dials, runs fn and always closes the session.
func WithSession(ctx context.Context, cfg Config, fn func(*Session) error, opts ...Option) error {
	s, err := Dial(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			s.logger.WarnContext(ctx, "ledger session close failed", "error", cerr)
		}
	}()
	return fn(s)
}

// Close ends the session. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Submit autofills, signs and submits tx, then waits for validation. Autofill
// and the wait are each bounded by the validation timeout. Once the blob is
// sent the wait ignores cancellation of ctx, and any failure to observe the
// outcome is reported as a timeout carrying the hash.
func (s *Session) Submit(ctx context.Context, tx xrpl.Tx, signer xrpl.Signer) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.Submit")
	defer span.End()

	prepCtx, cancelPrep := context.WithTimeout(ctx, s.cfg.ValidationTimeout)
	prepared, lastLedger, err := s.autofill(prepCtx, tx, signer.Address())
	cancelPrep()
	if err != nil {
		span.SetStatus(codes.Error, "autofill")
		return nil, err
	}
	signed, err := xrpl.Sign(prepared, signer)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "sign transaction")
	}
	span.SetAttributes(attribute.String("tx_hash", signed.Hash))

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ValidationTimeout)
	defer cancel()

	var sub submitResult
	if err := s.call(waitCtx, "submit", request{"tx_blob": signed.BlobHex()}, &sub); err != nil {
		var re *rpcError
		if !errors.As(err, &re) {
			span.SetStatus(codes.Error, "submit")
			s.logger.WarnContext(ctx, "submit outcome unknown",
				"tx_hash", signed.Hash,
				"error", err,
			)
			return nil, timedOut(signed.Hash)
		}
		s.logger.WarnContext(ctx, "node refused submit, waiting for ledger",
			"tx_hash", signed.Hash,
			"error", re.Code,
		)
	} else {
		s.logger.InfoContext(ctx, "transaction submitted",
			"tx_hash", signed.Hash,
			"engine_result", sub.EngineResult,
			"last_ledger_sequence", lastLedger,
		)
		if definitiveFailure(sub.EngineResult) {
			span.SetStatus(codes.Error, sub.EngineResult)
			return nil, rejected(sub.EngineResult, sub.EngineResultMessage, signed.Hash)
		}
	}

	res, err := s.waitValidated(waitCtx, signed.Hash, lastLedger)
	if err != nil {
		span.SetStatus(codes.Error, "wait")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("engine_result", res.EngineResult),
		attribute.Int64("ledger_index", int64(res.LedgerIndex)),
	)
	return res, nil
}

// Lookup fetches a transaction by hash. A transaction the node does not know
// returns (nil, nil).
func (s *Session) Lookup(ctx context.Context, hash string) (*Result, error) {
	res, err := s.lookup(ctx, hash)
	if err != nil {
		return nil, connectionError(err, "look up transaction "+hash)
	}
	return res, nil
}

func (s *Session) lookup(ctx context.Context, hash string) (*Result, error) {
	var tr txResult
	if err := s.call(ctx, "tx", request{"transaction": hash}, &tr); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return toResult(tr, hash), nil
}

func (s *Session) autofill(ctx context.Context, tx xrpl.Tx, account string) (xrpl.Tx, uint32, error) {
	out := make(xrpl.Tx, len(tx)+5)
	for k, v := range tx {
		out[k] = v
	}
	out["Account"] = account

	if _, ok := out["Sequence"]; !ok {
		var info accountInfoResult
		err := s.call(ctx, "account_info", request{"account": account, "ledger_index": "current"}, &info)
		if err != nil {
			return nil, 0, classify(err)
		}
		out["Sequence"] = uint32(info.AccountData.Sequence)
	}

	var fee feeResult
	if err := s.call(ctx, "fee", request{}, &fee); err != nil {
		return nil, 0, classify(err)
	}
	if _, ok := out["Fee"]; !ok {
		out["Fee"] = strconv.FormatUint(s.feeDrops(fee), 10)
	}

	lastLedger := uint32(fee.LedgerCurrentIndex) + s.cfg.LastLedgerOffset
	if v, ok := out["LastLedgerSequence"].(uint32); ok {
		lastLedger = v
	} else {
		out["LastLedgerSequence"] = lastLedger
	}

	var info serverInfoResult
	if err := s.call(ctx, "server_info", request{}, &info); err != nil {
		return nil, 0, classify(err)
	}
	if id := uint64(info.Info.NetworkID); id > networkIDThreshold {
		out["NetworkID"] = uint32(id)
	}
	return out, lastLedger, nil
}

func (s *Session) feeDrops(fee feeResult) uint64 {
	base := uint64(fee.Drops.OpenLedgerFee)
	if base == 0 {
		base = uint64(fee.Drops.BaseFee)
	}
	if base == 0 {
		base = 10
	}
	drops := uint64(math.Ceil(float64(base) * s.cfg.FeeCushion))
	if s.cfg.MaxFeeDrops > 0 && drops > s.cfg.MaxFeeDrops {
		drops = s.cfg.MaxFeeDrops
	}
	return drops
}

// waitValidated polls until the transaction is validated or the validated
// ledger has moved past lastLedger. Node errors are retried on the next tick;
// a broken connection or an expired ctx ends the wait as a timeout.
func (s *Session) waitValidated(ctx context.Context, hash string, lastLedger uint32) (*Result, error) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		res, expired, err := s.poll(ctx, hash, lastLedger)
		switch {
		case err != nil:
			var re *rpcError
			if ctx.Err() != nil || !errors.As(err, &re) {
				s.logger.WarnContext(ctx, "lost ledger while waiting for validation",
					"tx_hash", hash,
					"error", err,
				)
				return nil, timedOut(hash)
			}
			s.logger.DebugContext(ctx, "ledger poll failed, retrying",
				"tx_hash", hash,
				"error", re.Code,
			)
		case res != nil:
			return res, nil
		case expired:
			return nil, rejected("tefMAX_LEDGER", "LastLedgerSequence passed without validation", hash)
		}

		select {
		case <-ctx.Done():
			return nil, timedOut(hash)
		case <-ticker.C:
		}
	}
}

// poll reads the validated index before the tx lookup so a transaction
// included in the final eligible ledger is seen.
func (s *Session) poll(ctx context.Context, hash string, lastLedger uint32) (*Result, bool, error) {
	var lr ledgerResult
	if err := s.call(ctx, "ledger", request{"ledger_index": "validated"}, &lr); err != nil {
		return nil, false, err
	}
	res, err := s.lookup(ctx, hash)
	if err != nil {
		return nil, false, err
	}
	if res != nil && res.Validated {
		return res, false, nil
	}
	return nil, uint32(lr.LedgerIndex) > lastLedger, nil
}

func toResult(tr txResult, hash string) *Result {
	var meta txMeta
	if len(tr.Meta) > 0 {
		_ = json.Unmarshal(tr.Meta, &meta)
	}
	if tr.Hash != "" {
		hash = tr.Hash
	}
	fee, seq := tr.Fee, tr.Sequence
	if fee == "" {
		fee = tr.TxJSON.Fee
	}
	if seq == 0 {
		seq = tr.TxJSON.Sequence
	}
	account := tr.Account
	if account == "" {
		account = tr.TxJSON.Account
	}
	return &Result{
		EngineResult: meta.TransactionResult,
		Hash:         hash,
		Account:      account,
		LedgerIndex:  uint32(tr.LedgerIndex),
		Fee:          fee,
		Sequence:     uint32(seq),
		Validated:    tr.Validated,
		Meta:         tr.Meta,
	}
}

func isNotFound(err error) bool {
	var re *rpcError
	return errors.As(err, &re) && re.Code == "txnNotFound"
}

// classify maps errors from the autofill phase, before anything was sent.
// Only an account the ledger does not know is definitive; other node errors
// and transport failures are connection errors the caller may retry.
func classify(err error) error {
	if dErrors.CodeOf(err) != dErrors.CodeInternal {
		return err
	}
	var re *rpcError
	if errors.As(err, &re) && definitiveRPCError(re.Code) {
		return rejected(re.Code, re.Message, "")
	}
	return connectionError(err, "ledger request failed")
}

// call sends one command and waits for its response, skipping stream
// messages and replies to other ids.
func (s *Session) call(ctx context.Context, command string, params request, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	msg := request{"id": id, "command": command}
	for k, v := range params {
		msg[k] = v
	}

	deadline, _ := ctx.Deadline()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return err
	}

	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		var resp response
		if err := s.conn.ReadJSON(&resp); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%s: %w", command, ctxErr)
			}
			return err
		}
		if resp.ID != id || (resp.Type != "" && resp.Type != "response") {
			continue
		}
		if resp.Status == "error" || resp.Error != "" {
			return &rpcError{Command: command, Code: resp.Error, Message: resp.ErrorMessage}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", command, err)
		}
		return nil
	}
}
