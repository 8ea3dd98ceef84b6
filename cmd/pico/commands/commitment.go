package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

func commitmentCmd() *cobra.Command {
	var asHex bool
	cmd := &cobra.Command{
		Use:   "commitment",
		Short: "Print the commitment of the identity key",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := loadIdentity()
			if err != nil {
				return err
			}
			c := kp.Commitment()
			if asHex {
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(c))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatCommitment(c))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asHex, "hex", false, "print hex instead of base64")
	return cmd
}
