package commands

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/veil-im/veil/veil/algo"
	"github.com/veil-im/veil/veil/keystore"
)

var (
	home       string
	passphrase string
	configPath string
	verbose    bool

	logger   zerolog.Logger
	registry *algo.Registry
	keys     *keystore.Keystore
	cfg      fileConfig
)

func Execute() error {
	root := &cobra.Command{
		Use:   "veilchat",
		Short: "Encrypted peer-to-peer chat with negotiated cryptography",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger = initLogger()

			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".veil")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			if configPath != "" {
				c, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				cfg = c
			}

			registry = algo.Default()
			keys = keystore.New(home, registry, "", "")
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "key directory (default ~/.veil)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the identity key")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(keygenCmd(), algorithmsCmd(), listenCmd(), dialCmd())
	return root.Execute()
}

func initLogger() zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", "veilchat").Logger()
}
