package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"trustmint/internal/issuance/models"
	"trustmint/internal/issuance/service"
	"trustmint/internal/issuance/store"
	"trustmint/internal/ledger/gateway"
	"trustmint/internal/platform/config"
	dErrors "trustmint/pkg/domain-errors"
)

type issueOptions struct {
	seedEnv       string
	metadata      string
	maximumAmount string
	transferFee   uint16
	flags         uint32
	assetScale    uint8
	ledgerURL     string
	pollInterval  time.Duration
}

func newIssueCmd(opts *rootOptions) *cobra.Command {
	o := &issueOptions{}
	c := &cobra.Command{
		Use:   "issue",
		Short: "Issue a single asset directly on the ledger",
		Long: `Build, sign and submit one asset issuance, then wait for validation.

Ledger settings come from the usual configuration (TRUSTMINT_CONFIG and
LEDGER_* variables). The result is not persisted beyond this process.

Examples:
  TRUSTMINT_SEED=sn... trustctl issue --metadata '{"ticker":"TBILL"}'
  trustctl issue --metadata '"bond"' --maximum-amount 1000000 --asset-scale 2 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIssue(cmd, opts, o)
		},
	}
	c.Flags().StringVar(&o.seedEnv, "seed-env", defaultSeedEnv, "Environment variable holding the issuer seed")
	c.Flags().StringVar(&o.metadata, "metadata", "", "Asset metadata as a JSON value (required)")
	c.Flags().StringVar(&o.maximumAmount, "maximum-amount", "", "Maximum supply as a decimal string")
	c.Flags().Uint16Var(&o.transferFee, "transfer-fee", 0, "Transfer fee in units of 1/100000")
	c.Flags().Uint32Var(&o.flags, "flags", 0, "Issuance flags")
	c.Flags().Uint8Var(&o.assetScale, "asset-scale", 0, "Decimal places of the asset")
	c.Flags().StringVar(&o.ledgerURL, "ledger-url", "", "Override the configured ledger endpoint")
	c.Flags().DurationVar(&o.pollInterval, "poll-interval", 0, "Override the validation poll interval")
	_ = c.MarkFlagRequired("metadata")
	return c
}

func runIssue(cmd *cobra.Command, opts *rootOptions, o *issueOptions) error {
	var metadata any
	if err := json.Unmarshal([]byte(o.metadata), &metadata); err != nil {
		return fmt.Errorf("metadata is not valid JSON: %w", err)
	}
	seed, err := readSeed(cmd, o.seedEnv)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if o.ledgerURL != "" {
		cfg.Ledger.URL = o.ledgerURL
	}
	if o.pollInterval > 0 {
		cfg.Ledger.PollInterval = o.pollInterval
	}
	log := opts.logger(cmd, cfg.Logging)

	ledger := gateway.NewClient(gateway.ConfigFrom(cfg.Ledger), gateway.WithLogger(log))
	svc, err := service.New(ledger, store.NewInMemoryStore(), service.WithLogger(log))
	if err != nil {
		return err
	}

	res, err := svc.IssueAsset(cmd.Context(), seed, metadata, service.Options{
		MaximumAmount: o.maximumAmount,
		TransferFee:   o.transferFee,
		Flags:         o.flags,
		AssetScale:    o.assetScale,
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeLedgerTimeout) {
			fmt.Fprintln(cmd.ErrOrStderr(), warnFmt("outcome unknown: look the transaction up before issuing again"))
		}
		return err
	}
	if err := opts.render(cmd.OutOrStdout(), res, func(w io.Writer) { printIssueResult(w, res) }); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("issuance failed on ledger: %s", res.EngineResult)
	}
	return nil
}

func printIssueResult(w io.Writer, res *models.LedgerTransactionResult) {
	status := okFmt(res.Status.String())
	if !res.Success {
		status = errFmt(res.Status.String())
	}
	field(w, "Status", status)
	field(w, "Result", res.EngineResult)
	field(w, "Tx hash", res.TxHash)
	field(w, "Ledger", res.LedgerIndex)
	field(w, "Fee", res.Fee)
	if res.AssetID != nil {
		field(w, "Asset id", okFmt(*res.AssetID))
	}
}
