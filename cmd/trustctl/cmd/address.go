package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"trustmint/internal/issuance/builder"
)

const defaultSeedEnv = "TRUSTMINT_SEED"

// AddressOutput is the structured form of the address command.
type AddressOutput struct {
	Address   string `json:"address" yaml:"address"`
	KeyType   string `json:"key_type" yaml:"key_type"`
	PublicKey string `json:"public_key" yaml:"public_key"`
}

func newAddressCmd(opts *rootOptions) *cobra.Command {
	var seedEnv string
	c := &cobra.Command{
		Use:   "address",
		Short: "Derive the classic address for a seed",
		Long: `Derive the issuer address for a family seed.

The seed is read from the environment variable named by --seed-env, or from
the first line of stdin when that variable is unset.

Examples:
  TRUSTMINT_SEED=sn... trustctl address
  echo sn... | trustctl address -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seed, err := readSeed(cmd, seedEnv)
			if err != nil {
				return err
			}
			wallet, err := builder.NewWallet(seed)
			if err != nil {
				return err
			}
			out := AddressOutput{
				Address:   wallet.Address(),
				KeyType:   string(wallet.KeyType()),
				PublicKey: wallet.PublicKeyHex(),
			}
			return opts.render(cmd.OutOrStdout(), out, func(w io.Writer) {
				field(w, "Address", okFmt(out.Address))
				field(w, "Key type", out.KeyType)
				field(w, "Public key", dimFmt(out.PublicKey))
			})
		},
	}
	c.Flags().StringVar(&seedEnv, "seed-env", defaultSeedEnv, "Environment variable holding the seed")
	return c
}

// readSeed prefers the environment so seeds stay out of shell history.
func readSeed(cmd *cobra.Command, envName string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
		return v, nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read seed: %w", err)
	}
	seed := strings.TrimSpace(line)
	if seed == "" {
		return "", fmt.Errorf("no seed: set %s or pipe it on stdin", envName)
	}
	return seed, nil
}
