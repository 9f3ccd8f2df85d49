package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func (a *app) newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check node health",
		Long:  "Check the health of the node. Exits non-zero when it is unhealthy.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			health, err := a.client.GetHealth(ctx)
			if err != nil {
				return err
			}
			err = a.render(health, func(w io.Writer) {
				fmt.Fprintf(w, "Healthy: %t (%s)\n", health.Healthy, health.Message)
				fmt.Fprintf(w, "Router: %t\n", health.RouterHealthy)
				fmt.Fprintf(w, "Connections: %t\n", health.ConnectionHealthy)
				fmt.Fprintf(w, "Log store: %t\n", health.LogStoreHealthy)
				fmt.Fprintf(w, "Links: %d  Connections: %d  Topics: %d\n", health.Links, health.Connections, health.Topics)
			})
			if err != nil {
				return err
			}
			if !health.Healthy {
				return errors.New("node is not healthy")
			}
			return nil
		},
	}
}
