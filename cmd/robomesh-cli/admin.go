package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (a *app) newAdminCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin commands (requires an admin token)",
	}
	cmd.AddCommand(a.newAdminStatsCommand(), a.newAdminBridgeCommand())
	return cmd
}

func (a *app) newAdminStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show node statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAuthentication(cmd); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			stats, err := a.client.AdminGetStats(ctx)
			if err != nil {
				return err
			}
			return a.render(stats, func(w io.Writer) {
				fmt.Fprintf(w, "Node: %s (format %s, %s)\n", stats.NodeID, stats.Format, stats.Health.Message)
				fmt.Fprintf(w, "Links: %d  Connections: %d  Topics: %d  Wildcards: %d\n",
					stats.Links, stats.Connections, stats.Topics, stats.Wildcards)
				fmt.Fprintf(w, "Provided: %v\n", stats.Provided)
				fmt.Fprintf(w, "Log records: %d across %d target(s)\n", stats.Logs.TotalRecords, stats.Logs.TargetCount)
				for _, target := range slices.Sorted(maps.Keys(stats.Logs.TargetCounts)) {
					fmt.Fprintf(w, "  %s: %d\n", target, stats.Logs.TargetCounts[target])
				}
			})
		},
	}
}

func (a *app) newAdminBridgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "List the typed topics held by the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAuthentication(cmd); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			records, err := a.client.AdminBridgeRecords(ctx)
			if err != nil {
				return err
			}
			return a.render(records, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TOPIC\tROLE\tSENT\tPEERS")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%s\t%t\t%v\n", r.Topic, r.Role, r.Sent, r.Peers)
				}
				_ = tw.Flush()
			})
		},
	}
}
