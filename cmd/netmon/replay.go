package main

import (
	"fmt"
	"os"

	"Go2NetMonitor/internal/dnscap"
	"Go2NetMonitor/internal/model"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func replayCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file.pcap>",
		Short: "Decode DNS traffic from a pcap file into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open pcap file: %w", err)
			}
			defer f.Close()

			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			records := make(chan model.DNSRecord, opts.cfg.DNS.QueueSize)
			decoder := dnscap.NewDecoder(opts.cfg.DNS.Port)

			var decoded, stored int
			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				defer close(records)
				n, err := decoder.Replay(ctx, f, records)
				decoded = n
				return err
			})
			g.Go(func() error {
				for rec := range records {
					if err := st.AddDNSRecord(ctx, rec); err != nil {
						return err
					}
					stored++
				}
				return nil
			})
			if err := g.Wait(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Decoded %d DNS messages, stored %d.\n", decoded, stored)
			return nil
		},
	}
}
