package cmds

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/congo-pay/custody-gateway/internal/keyvault"
	"github.com/congo-pay/custody-gateway/internal/ledger"
	"github.com/congo-pay/custody-gateway/internal/wallet"
)

func (c *Cmd) keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "generate a new WALLET_MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyvault.GenerateMasterKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func (c *Cmd) rotateKeysCmd() *cobra.Command {
	var oldKeyEnv string
	cmd := &cobra.Command{
		Use:   "rotate-keys",
		Short: "reseal every signing key under WALLET_MASTER_KEY",
		Long: "Decrypts each wallet's signing key with the previous master key and " +
			"encrypts it again with the current WALLET_MASTER_KEY.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			oldKey := os.Getenv(oldKeyEnv)
			if oldKey == "" {
				return fmt.Errorf("%s must hold the previous master key", oldKeyEnv)
			}
			oldVault, err := keyvault.New(oldKey)
			if err != nil {
				return fmt.Errorf("previous master key: %w", err)
			}

			cfg, db, err := c.database(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			newVault, err := keyvault.New(cfg.WalletMasterKey)
			if err != nil {
				return fmt.Errorf("current master key: %w", err)
			}

			res, err := wallet.RotateSigningKeys(ctx, ledger.NewPostgresStore(db), func(ref string) (string, error) {
				return newVault.Rotate(ref, oldVault)
			}, c.logger())
			if printErr := jsonPrint(cmd, res); printErr != nil {
				return printErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&oldKeyEnv, "old-key-env", "WALLET_MASTER_KEY_PREVIOUS", "environment variable holding the previous master key")
	return cmd
}
