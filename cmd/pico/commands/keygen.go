package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/backkem/pico/pkg/crypto"
)

func keygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the identity key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass, err := readPassphrase()
			if err != nil {
				return err
			}
			defer crypto.Wipe(pass)

			if _, err := os.Stat(cfg.Identity); err == nil && !force {
				return fmt.Errorf("%s exists, use --force to replace it", cfg.Identity)
			}
			kp, err := crypto.GenerateKeyPair(nil)
			if err != nil {
				return err
			}
			data, err := crypto.EncryptPrivateKey(kp, pass)
			if err != nil {
				return err
			}
			if err := os.WriteFile(cfg.Identity, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "identity written to %s\ncommitment: %s\n", cfg.Identity, formatCommitment(kp.Commitment()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing identity")
	return cmd
}
