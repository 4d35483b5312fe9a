package main

import (
	"fmt"
	"time"

	"Go2NetMonitor/internal/config"

	"github.com/spf13/cobra"
)

func pruneCmd(opts *options) *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete stored rows older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if retention <= 0 {
				retention = config.Duration(opts.cfg.Store.Retention)
			}
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.Prune(cmd.Context(), time.Now().Add(-retention))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d rows older than %s.\n", n, retention)
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "Override store.retention")
	return cmd
}
