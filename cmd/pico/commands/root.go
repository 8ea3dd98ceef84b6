package commands

import (
	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/backkem/pico/pkg/config"
)

// passphraseEnv names the environment variable consulted when --passphrase
// is not given.
const passphraseEnv = "PICO_PASSPHRASE"

var (
	configPath string
	passphrase string
	logLevel   string

	cfg     *config.Config
	loggers logging.LoggerFactory
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "pico",
		Short:         "Pico public key authentication",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if configPath != "" {
				cfg, err = config.Load(configPath)
				if err != nil {
					return err
				}
			} else {
				cfg = config.Default()
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			loggers, err = cfg.LoggerFactory()
			return err
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "identity key passphrase (default $"+passphraseEnv+")")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(keygenCmd(), commitmentCmd(), pairCmd(), serveCmd(), proveCmd())
	return root.Execute()
}
