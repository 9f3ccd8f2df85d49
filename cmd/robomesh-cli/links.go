package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/robomesh/pkg/httpclient"
)

func (a *app) newLinksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "List, open and close peer links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAuthentication(cmd); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			resp, err := a.client.Links(ctx)
			if err != nil {
				return err
			}
			return a.render(resp, func(w io.Writer) {
				fmt.Fprintf(w, "Links: %v\n\n", resp.Links)
				writeConnections(w, resp.Connections...)
			})
		},
	}
	cmd.AddCommand(a.newConnectCommand(), a.newDisconnectCommand())
	return cmd
}

func writeConnections(w io.Writer, conns ...httpclient.Connection) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDIRECTION\tTRANSPORT\tREMOTE\tSTATE\tSINCE")
	for _, c := range conns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Name, c.Direction, c.Transport, c.RemoteAddress, c.State, c.ConnectedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func (a *app) newConnectCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "connect <address>",
		Short: "Dial a peer (admin)",
		Long:  "Dial a peer at host:port or a ws:// URL and attach it as a link.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAuthentication(cmd); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			conn, err := a.client.Connect(ctx, args[0], name)
			if err != nil {
				return err
			}
			return a.render(conn, func(w io.Writer) {
				writeConnections(w, *conn)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Link name (defaults to the peer's hint)")
	return cmd
}

func (a *app) newDisconnectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <name>",
		Short: "Drop a peer link (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAuthentication(cmd); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			if err := a.client.Disconnect(ctx, args[0]); err != nil {
				return err
			}
			return a.render(map[string]string{"disconnected": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Disconnected %s\n", args[0])
			})
		},
	}
}
