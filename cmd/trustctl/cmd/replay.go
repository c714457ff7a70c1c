package cmd

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trustmint/internal/platform/config"
	"trustmint/internal/verification/models"
	"trustmint/internal/verification/provider"
)

const webhookPath = "/webhooks/verification"

type replayOptions struct {
	server   string
	secret   string
	checkRef string
	result   string
	timeout  time.Duration
}

// ReplayOutput reports what the server answered.
type ReplayOutput struct {
	HTTPStatus int         `json:"http_status" yaml:"http_status"`
	Ack        *models.Ack `json:"ack,omitempty" yaml:"ack,omitempty"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
}

func newReplayCallbackCmd(opts *rootOptions) *cobra.Command {
	o := &replayOptions{}
	c := &cobra.Command{
		Use:   "replay-callback [file]",
		Short: "Send a stored verification webhook to a running server",
		Long: `Replay a provider webhook body against the ingestion endpoint.

The body comes from the file argument ("-" reads stdin), or is built from
--check-ref and --result. It is parsed locally first, then signed with the
configured webhook secret so the server accepts it.

Examples:
  trustctl replay-callback ./webhooks/chk-123.json
  trustctl replay-callback --check-ref chk-123 --result clear --server http://localhost:8080`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, opts, o, args)
		},
	}
	c.Flags().StringVar(&o.server, "server", "http://localhost:8080", "Base URL of the trustmint server")
	c.Flags().StringVar(&o.secret, "secret", "", "Webhook secret (defaults to PROVIDER_WEBHOOK_SECRET)")
	c.Flags().StringVar(&o.checkRef, "check-ref", "", "Check reference for a synthesized body")
	c.Flags().StringVar(&o.result, "result", "", "Result for a synthesized body, e.g. clear or consider")
	c.Flags().DurationVar(&o.timeout, "timeout", 10*time.Second, "HTTP timeout")
	return c
}

func runReplay(cmd *cobra.Command, opts *rootOptions, o *replayOptions, args []string) error {
	body, err := o.body(cmd, args)
	if err != nil {
		return err
	}
	cb, err := provider.ParseCallback(body)
	if err != nil {
		return err
	}

	secret := o.secret
	if secret == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		secret = cfg.Provider.WebhookSecret
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, strings.TrimRight(o.server, "/")+webhookPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(provider.SignatureHeader, hex.EncodeToString(provider.Sign(secret, body)))
	}

	client := &http.Client{Timeout: o.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver callback for %s: %w", cb.CheckReference, err)
	}
	defer resp.Body.Close()

	out := ReplayOutput{HTTPStatus: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusOK {
		var ack models.Ack
		if err := json.Unmarshal(raw, &ack); err != nil {
			return fmt.Errorf("decode ack: %w", err)
		}
		out.Ack = &ack
	} else {
		out.Error = strings.TrimSpace(string(raw))
	}

	if err := opts.render(cmd.OutOrStdout(), out, func(w io.Writer) { printReplay(w, cb.CheckReference, out) }); err != nil {
		return err
	}
	if out.Ack == nil {
		return fmt.Errorf("server answered %d", resp.StatusCode)
	}
	return nil
}

func (o *replayOptions) body(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 1 {
		if o.checkRef != "" || o.result != "" {
			return nil, errors.New("pass either a file or --check-ref/--result, not both")
		}
		if args[0] == "-" {
			return io.ReadAll(cmd.InOrStdin())
		}
		return os.ReadFile(args[0])
	}
	if o.checkRef == "" {
		return nil, errors.New("a webhook file or --check-ref is required")
	}
	return json.Marshal(map[string]string{"check_reference": o.checkRef, "result": o.result})
}

func printReplay(w io.Writer, checkRef string, out ReplayOutput) {
	field(w, "Check", checkRef)
	field(w, "HTTP", out.HTTPStatus)
	if out.Ack == nil {
		field(w, "Error", errFmt(out.Error))
		return
	}
	outcome := string(out.Ack.Outcome)
	switch out.Ack.Outcome {
	case models.AckApplied:
		outcome = okFmt(outcome)
	case models.AckUnknownReference:
		outcome = warnFmt(outcome)
	default:
		outcome = dimFmt(outcome)
	}
	field(w, "Outcome", outcome)
	if out.Ack.TrustLevel != nil {
		field(w, "Trust level", *out.Ack.TrustLevel)
	}
}
