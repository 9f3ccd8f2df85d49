package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/robomesh/pkg/httpclient"
)

func (a *app) newLogsCommand() *cobra.Command {
	var (
		offset int64
		limit  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "logs <target>",
		Short: "Read records received on a log target",
		Long: `Read the records a node stored for one of its published log targets.
With --follow, stored records are replayed from --offset and new ones are
printed as they arrive until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireAuthentication(cmd); err != nil {
				return err
			}
			if follow {
				return a.followLogs(cmd, args[0], offset)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout())
			defer cancel()
			resp, err := a.client.ReadLogs(ctx, args[0], offset, limit)
			if err != nil {
				return err
			}
			return a.render(resp, func(w io.Writer) {
				for _, rec := range resp.Records {
					writeRecord(w, rec)
				}
				fmt.Fprintf(w, "-- %d record(s); next offset %d of %d\n", len(resp.Records), resp.NextOffset, resp.EndOffset)
			})
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "First record offset")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records (server default when 0)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new records")
	return cmd
}

func writeRecord(w io.Writer, rec httpclient.LogRecord) {
	fmt.Fprintf(w, "%6d %s %-7s %s", rec.Offset, rec.Timestamp.Format("15:04:05.000"), rec.Level, rec.Message)
	if rec.Detail != "" {
		fmt.Fprintf(w, " (%s)", rec.Detail)
	}
	fmt.Fprintln(w)
}

func (a *app) followLogs(cmd *cobra.Command, target string, offset int64) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := a.client.StreamLogs(ctx, httpclient.StreamConfig{Target: target, Offset: offset})
	if err != nil {
		return err
	}
	defer stream.Close()

	errs := stream.Errors()
	for {
		select {
		case rec, ok := <-stream.Records():
			if !ok {
				return nil
			}
			if err := a.render(rec, func(w io.Writer) { writeRecord(w, rec) }); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "stream: %v\n", err)
		case <-ctx.Done():
			return nil
		}
	}
}
