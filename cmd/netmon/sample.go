package main

import (
	"fmt"
	"strconv"

	"Go2NetMonitor/internal/app"
	"Go2NetMonitor/internal/logging"
	"Go2NetMonitor/internal/sampler"

	"github.com/spf13/cobra"
)

func sampleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sample",
		Short: "Take one interface sample and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg.Sampler
			s := sampler.New(app.NewSource(cfg), cfg.IgnorePrefixes, nil, logging.Component("sampler"), nil)
			batch, err := s.Collect()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(batch.Snapshots))
			for _, snap := range batch.Snapshots {
				rows = append(rows, []string{
					snap.Name,
					strconv.FormatUint(snap.BytesReceived, 10),
					strconv.FormatUint(snap.BytesSent, 10),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"INTERFACE", "RX BYTES", "TX BYTES"}, rows))
			fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("sampled at "+batch.Timestamp.Format("15:04:05.000")))
			return nil
		},
	}
}
