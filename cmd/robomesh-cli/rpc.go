package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/robomesh/pkg/httpclient"
)

func (a *app) newRPCCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rpc",
		Short: "Query and signal remote devices",
	}
	cmd.AddCommand(a.newQueryCommand(), a.newSignalCommand())
	return cmd
}

func (a *app) newQueryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query <peer> <device>",
		Short: "Describe a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAuthentication(cmd); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			resp, err := a.client.Query(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return a.render(resp, func(w io.Writer) {
				fmt.Fprintf(w, "%s/%s: %d entr(ies)\n", resp.Peer, resp.Device, len(resp.Entries))
				for i, e := range resp.Entries {
					fmt.Fprintf(w, "  [%d] type=%d %q\n", i, e.Type, e.Contents)
				}
			})
		},
	}
}

func (a *app) newSignalCommand() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "signal <peer> <device> <field>",
		Short: "Apply a value to a device field",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			field, err := strconv.ParseUint(args[2], 10, 16)
			if err != nil {
				return fmt.Errorf("invalid field %q: %w", args[2], err)
			}
			payload, err := hex.DecodeString(data)
			if err != nil {
				return fmt.Errorf("invalid --hex data: %w", err)
			}

			if err := a.requireAuthentication(cmd); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			resp, err := a.client.Signal(ctx, httpclient.SignalRequest{
				Peer:   args[0],
				Device: args[1],
				Field:  uint16(field),
				Data:   payload,
			})
			if err != nil {
				return err
			}
			return a.render(resp, func(w io.Writer) {
				fmt.Fprintf(w, "%s/%s field %d: %s\n", resp.Peer, resp.Device, resp.Field, resp.Outcome)
			})
		},
	}
	cmd.Flags().StringVar(&data, "hex", "", "Value as hex bytes")
	return cmd
}
