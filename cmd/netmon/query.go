package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"Go2NetMonitor/internal/config"
	"Go2NetMonitor/internal/correlator"
	"Go2NetMonitor/internal/store"

	"github.com/spf13/cobra"
)

// openStore opens the configured database and makes sure the schema exists.
func openStore(ctx context.Context, opts *options) (*store.Store, error) {
	st, err := store.Open(opts.cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// queryRange is the [start, end] window a query subcommand reads.
type queryRange struct {
	since time.Duration
}

func (q *queryRange) bind(cmd *cobra.Command, def time.Duration) {
	cmd.Flags().DurationVar(&q.since, "since", def, "How far back from now to query")
}

func (q *queryRange) window() (int64, int64) {
	end := time.Now().UnixMilli()
	return end - q.since.Milliseconds(), end
}

func queryCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query stored traffic and DNS history",
	}
	cmd.AddCommand(queryTrafficCmd(opts))
	cmd.AddCommand(queryQPSCmd(opts))
	cmd.AddCommand(queryTopCmd(opts))
	cmd.AddCommand(queryDomainsCmd(opts))
	cmd.AddCommand(queryDetailsCmd(opts))
	return cmd
}

func queryTrafficCmd(opts *options) *cobra.Command {
	var r queryRange
	cmd := &cobra.Command{
		Use:   "traffic <interface>",
		Short: "Print upload and download rates of one interface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			start, end := r.window()
			points, err := st.SnapshotsInRange(cmd.Context(), args[0], start, end)
			if err != nil {
				return err
			}
			upload, download := correlator.BuildRateSeries(points, config.Duration(opts.cfg.View.GapThreshold))

			rows := make([][]string, 0, len(upload))
			for i := range upload {
				rows = append(rows, []string{
					formatMs(upload[i].TimestampMs),
					strconv.FormatFloat(upload[i].Value, 'f', 2, 64),
					strconv.FormatFloat(download[i].Value, 'f', 2, 64),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"TIME", "UPLOAD KB/S", "DOWNLOAD KB/S"}, rows))
			return nil
		},
	}
	r.bind(cmd, 15*time.Minute)
	return cmd
}

func queryQPSCmd(opts *options) *cobra.Command {
	var r queryRange
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "qps",
		Short: "Print DNS requests per time bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval < time.Second {
				return fmt.Errorf("interval must be at least 1s, got %s", interval)
			}
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			start, end := r.window()
			buckets, err := st.QPSSeries(cmd.Context(), start, end, int(interval/time.Second))
			if err != nil {
				return err
			}

			rows := make([][]string, 0)
			for _, p := range correlator.FillBuckets(buckets, start, end, interval) {
				rows = append(rows, []string{formatMs(p.TimestampMs), strconv.FormatFloat(p.Value, 'f', 0, 64)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"WINDOW", "REQUESTS"}, rows))
			return nil
		},
	}
	r.bind(cmd, 3*time.Minute)
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "Bucket width")
	return cmd
}

func queryTopCmd(opts *options) *cobra.Command {
	var r queryRange
	var limit int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Print the most requested domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			start, end := r.window()
			domains, err := st.TopDomains(cmd.Context(), start, end, limit)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(domains))
			for _, d := range domains {
				rows = append(rows, []string{d.Domain, strconv.Itoa(d.Count)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"DOMAIN", "REQUESTS"}, rows))
			return nil
		},
	}
	r.bind(cmd, 3*time.Minute)
	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultTopDomains, "Number of domains to show")
	return cmd
}

func queryDomainsCmd(opts *options) *cobra.Command {
	var r queryRange
	cmd := &cobra.Command{
		Use:   "domains",
		Short: "List every domain seen in the window",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			start, end := r.window()
			domains, err := st.AllDomains(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			for _, d := range domains {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
	r.bind(cmd, time.Hour)
	return cmd
}

func queryDetailsCmd(opts *options) *cobra.Command {
	var r queryRange
	cmd := &cobra.Command{
		Use:   "details <domain>",
		Short: "Print every request and response for one domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			start, end := r.window()
			records, err := st.DomainDetails(cmd.Context(), args[0], start, end)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					rec.Timestamp.Format("15:04:05.000"),
					rec.Direction.String(),
					rec.QueryType,
					rec.ResponseCode,
					strings.Join(rec.ResponseData, ", "),
					rec.ResolverIP,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"TIME", "DIRECTION", "TYPE", "RCODE", "ANSWERS", "RESOLVER"}, rows))
			return nil
		},
	}
	r.bind(cmd, time.Hour)
	return cmd
}
