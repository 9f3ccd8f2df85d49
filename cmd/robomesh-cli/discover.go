package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func (a *app) newDiscoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover <peer>",
		Short: "List the topics a peer provides",
		Long:  "Ask the router at a link path (for example robot or robot/arm) which typed topics it provides.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAuthentication(cmd); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			resp, err := a.client.Discover(ctx, args[0])
			if err != nil {
				return err
			}
			return a.render(resp, func(w io.Writer) {
				fmt.Fprintf(w, "%s provides %d topic(s):\n", resp.Peer, len(resp.Topics))
				for _, t := range resp.Topics {
					fmt.Fprintf(w, "  %s\n", t)
				}
			})
		},
	}
}

func (a *app) newPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping <path>",
		Short: "Probe a typed topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAuthentication(cmd); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			resp, err := a.client.Ping(ctx, args[0])
			if err != nil {
				return err
			}
			return a.render(resp, func(w io.Writer) {
				fmt.Fprintf(w, "%s from %s: tag=%d time=%s\n", resp.Message, resp.Path, resp.Tag, resp.RTT)
			})
		},
	}
}
