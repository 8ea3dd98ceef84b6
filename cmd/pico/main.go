// pico is a command line prover and verifier for the Pico authentication
// protocol.
//
// Usage:
//
//	pico keygen                       create the identity key file
//	pico commitment                   print the identity commitment
//	pico pair add-prover NAME C       admit a prover (verifier side)
//	pico pair add-service NAME C ADDR pin a verifier (prover side)
//	pico pair list                    list pairings
//	pico serve                        run a verifier
//	pico prove [--pairing NAME]       authenticate to a paired verifier
//
// Settings are read from a TOML file given with --config. The identity key
// passphrase comes from --passphrase or the PICO_PASSPHRASE environment
// variable.
package main

import (
	"fmt"
	"os"

	"github.com/backkem/pico/cmd/pico/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
