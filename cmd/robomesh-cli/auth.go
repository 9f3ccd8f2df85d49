package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func (a *app) newAuthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Obtain an API token",
		Long: `Authenticate with the node using your client ID.
Pass --admin-secret for an admin token. The token can be reused through
--token or ROBOMESH_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()

			if err := a.client.Authenticate(ctx); err != nil {
				return err
			}
			token := a.client.GetToken()
			return a.render(map[string]string{"token": token}, func(w io.Writer) {
				fmt.Fprintf(w, "Authentication successful\n")
				fmt.Fprintf(w, "Token: %s\n\n", token)
				fmt.Fprintf(w, "Reuse it with:\n  export ROBOMESH_TOKEN=%q\n", token)
			})
		},
	}
}
