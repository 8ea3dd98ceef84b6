package commands

import (
	"fmt"
	"net"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/pico/pkg/session"
)

func pairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Manage pairings",
	}
	cmd.AddCommand(pairProverCmd(), pairServiceCmd(), pairListCmd(), pairRemoveCmd())
	return cmd
}

func pairProverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-prover NAME COMMITMENT",
		Short: "Admit a prover to this verifier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCommitment(args[1])
			if err != nil {
				return err
			}
			return savePairing(cmd, &session.Pairing{
				Name:             args[0],
				ServiceName:      cfg.ServiceName,
				ProverCommitment: c,
			})
		},
	}
}

func pairServiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-service NAME COMMITMENT [ADDRESS]",
		Short: "Pin a verifier this prover authenticates to",
		Long: "Pin a verifier this prover authenticates to. Without ADDRESS the " +
			"verifier is located by its commitment via DNS-SD.",
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := parseCommitment(args[1])
			if err != nil {
				return err
			}
			p := &session.Pairing{
				Name:              args[0],
				ServiceName:       args[0],
				ServiceCommitment: c,
			}
			if len(args) == 3 {
				if _, _, err := net.SplitHostPort(args[2]); err != nil {
					return fmt.Errorf("invalid address %q: %w", args[2], err)
				}
				p.ServiceAddress = args[2]
			}
			return savePairing(cmd, p)
		},
	}
}

func savePairing(cmd *cobra.Command, p *session.Pairing) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	p.Created = time.Now()
	if err := store.SavePairing(p); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pairing %d %q saved\n", p.ID, p.Name)
	return nil
}

func pairListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pairings",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			pairings, err := store.LoadPairings()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tROLE\tCOMMITMENT\tADDRESS\tCREATED")
			for _, p := range pairings {
				role, c := "prover", p.ProverCommitment
				if len(p.ServiceCommitment) > 0 {
					role, c = "service", p.ServiceCommitment
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					p.ID, p.Name, role, formatCommitment(c), p.ServiceAddress, p.Created.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func pairRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Remove a pairing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid pairing id %q", args[0])
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.DeletePairing(id)
		},
	}
}
