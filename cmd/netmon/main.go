package main

import (
	"fmt"
	"os"

	"Go2NetMonitor/internal/config"
	"Go2NetMonitor/internal/logging"

	"github.com/spf13/cobra"
)

// options are the flags every subcommand shares.
type options struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func main() {
	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "netmon",
		Short:         "Host network traffic and DNS monitor",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			if err := logging.Configure(cfg.LogLevel); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(runCmd(opts))
	root.AddCommand(sampleCmd(opts))
	root.AddCommand(replayCmd(opts))
	root.AddCommand(queryCmd(opts))
	root.AddCommand(pruneCmd(opts))
	return root
}
