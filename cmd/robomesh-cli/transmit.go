package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/robomesh/pkg/httpclient"
)

func (a *app) newTransmitCommand() *cobra.Command {
	var (
		source  string
		text    string
		payload string
	)
	cmd := &cobra.Command{
		Use:   "transmit <destination>",
		Short: "Route a raw message through the node",
		Long: `Route a raw message through the node's router. The destination is a
local topic, a link-qualified path such as robot/status, or * to broadcast
(admin).`,
		Example: `  robomesh-cli transmit robot/status --text ok
  robomesh-cli transmit BO:lamp --hex 0501`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if text != "" && payload != "" {
				return errors.New("--text and --hex are mutually exclusive")
			}
			req := httpclient.TransmitRequest{Destination: args[0], Source: source, Text: text}
			if payload != "" {
				data, err := hex.DecodeString(payload)
				if err != nil {
					return fmt.Errorf("invalid --hex payload: %w", err)
				}
				req.Payload = data
			}

			if err := a.requireAuthentication(cmd); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			resp, err := a.client.Transmit(ctx, req)
			if err != nil {
				return err
			}
			return a.render(resp, func(w io.Writer) {
				fmt.Fprintf(w, "Sent %d byte(s) to %s\n", resp.Bytes, resp.Destination)
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Source path (defaults to the client ID)")
	cmd.Flags().StringVar(&text, "text", "", "Payload as text")
	cmd.Flags().StringVar(&payload, "hex", "", "Payload as hex bytes")
	return cmd
}
