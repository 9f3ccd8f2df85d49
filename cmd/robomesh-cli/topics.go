package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (a *app) newTopicsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "topics",
		Short: "List topics with local listeners",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAuthentication(cmd); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			resp, err := a.client.Topics(ctx)
			if err != nil {
				return err
			}
			return a.render(resp, func(w io.Writer) {
				fmt.Fprintf(w, "Node %s: %d topic(s), %d wildcard listener(s)\n\n", resp.NodeID, len(resp.Topics), resp.Wildcards)
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TOPIC\tLISTENERS")
				for _, t := range resp.Topics {
					fmt.Fprintf(tw, "%s\t%d\n", t.Topic, t.Listeners)
				}
				_ = tw.Flush()
			})
		},
	}
}
