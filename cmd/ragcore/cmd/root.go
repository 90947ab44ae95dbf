// Package cmd provides the CLI commands for ragcore.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/logger"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string

	cfg *config.Config
}

// NewRootCmd creates the root command for the ragcore CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ragcore",
		Short: "Hybrid lexical and semantic retrieval core",
		Long: `ragcore runs BM25 lexical search alongside an external vector search
service, fuses the two rankings, and caches results in a two-tier cache
that is invalidated from source-data mutation events.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "configs/development.yaml", "Path to the YAML config file (empty for defaults)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newLoadTestCmd())

	return cmd
}

func (o *rootOptions) load() error {
	path := o.configPath
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	o.cfg = cfg
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
