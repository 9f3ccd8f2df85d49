// Command robomesh runs one mesh node: the router, its peer connections,
// the typed bridge and the admin HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/robomesh/internal/httpapi"
	"github.com/rmacdonaldsmith/robomesh/internal/meshnode"
)

const appName = "robomesh"

// version is overridden at link time
var version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Run a robomesh node",
		Long:          "robomesh routes messages between robot processes over named links and serves an admin API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, v)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
	if err := bindFlags(cmd.PersistentFlags(), v); err != nil {
		panic(err)
	}

	cmd.AddCommand(newVersionCommand(), newConfigCommand(v))
	return cmd
}

func resolveConfig(cmd *cobra.Command, v *viper.Viper) (*Config, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return loadConfig(v, configFile)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, version)
		},
	}
}

func newConfigCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, v)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), cfg)
		},
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// run starts the node and the admin API and blocks until ctx is done
func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	logger.Info("Starting node", "app", appName, "version", version, "node", cfg.NodeID)
	httpapi.Version = version

	node, err := meshnode.NewNode(cfg.nodeConfig(), meshnode.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn("Error closing node", "error", err)
		}
	}()

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	for _, target := range cfg.LogTargets {
		if err := node.PublishLogTarget(target); err != nil {
			return fmt.Errorf("publishing log target %s: %w", target, err)
		}
	}

	var api *httpapi.Server
	serveErr := make(chan error, 1)
	if cfg.HTTP.Address != "" {
		api = httpapi.NewServer(node, cfg.httpConfig(), logger)
		go func() { serveErr <- api.Start() }()
	}

	logStartup(ctx, node, logger)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http api: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if api != nil {
		if err := api.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stopping http api: %w", err))
		}
	}
	if err := node.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stopping node: %w", err))
	}
	logger.Info("Node stopped", "node", cfg.NodeID)
	return errors.Join(errs...)
}

func logStartup(ctx context.Context, node *meshnode.Node, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := node.Health(ctx)
	if err != nil {
		logger.Warn("Could not get health status", "error", err)
		return
	}
	attrs := []any{
		"healthy", health.Healthy,
		"links", health.Links,
		"connections", health.Connections,
		"topics", health.Topics,
	}
	if addr := node.Addr(); addr != nil {
		attrs = append(attrs, "peer_address", addr.String())
	}
	logger.Info("Node started", attrs...)
}

// defaultNodeID derives a node name from the hostname
func defaultNodeID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "robomesh-node"
	}
	return hostname
}
