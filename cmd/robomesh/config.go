package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rmacdonaldsmith/robomesh/internal/httpapi"
	"github.com/rmacdonaldsmith/robomesh/internal/meshnode"
	"github.com/rmacdonaldsmith/robomesh/internal/peerlink"
	"github.com/rmacdonaldsmith/robomesh/internal/rpc"
)

const envPrefix = "ROBOMESH"

// Config is the process configuration. It is read from flags, ROBOMESH_*
// environment variables and an optional config file, in that precedence.
type Config struct {
	NodeID                string        `mapstructure:"node_id" yaml:"node_id"`
	Listen                string        `mapstructure:"listen" yaml:"listen"`
	Format                string        `mapstructure:"format" yaml:"format"`
	DisableNacks          bool          `mapstructure:"disable_nacks" yaml:"disable_nacks"`
	DetachFaultyListeners bool          `mapstructure:"detach_faulty_listeners" yaml:"detach_faulty_listeners"`
	LogRetention          int           `mapstructure:"log_retention" yaml:"log_retention"`
	Peers                 []string      `mapstructure:"peers" yaml:"peers"`
	LogTargets            []string      `mapstructure:"log_targets" yaml:"log_targets"`
	HealthAddress         string        `mapstructure:"health_address" yaml:"health_address"`
	ShutdownTimeout       time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	Link LinkConfig `mapstructure:"link" yaml:"link"`
	RPC  RPCConfig  `mapstructure:"rpc" yaml:"rpc"`
	HTTP HTTPConfig `mapstructure:"http" yaml:"http"`
	Log  LogConfig  `mapstructure:"log" yaml:"log"`
}

// LinkConfig tunes peer connections
type LinkConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxMessageSize   int           `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// RPCConfig tunes device queries and signals
type RPCConfig struct {
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SignalTimeout time.Duration `mapstructure:"signal_timeout" yaml:"signal_timeout"`
}

// HTTPConfig configures the admin API; an empty address disables it
type HTTPConfig struct {
	Address     string `mapstructure:"address" yaml:"address"`
	SecretKey   string `mapstructure:"secret_key" yaml:"-"`
	AdminSecret string `mapstructure:"admin_secret" yaml:"-"`
	NoAuth      bool   `mapstructure:"no_auth" yaml:"no_auth"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// bindFlags registers the node flags on fs and binds them into v under
// their config keys
func bindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String("config", "", "Config file (yaml, json or toml)")
	fs.String("node-id", defaultNodeID(), "Node name, offered as the handshake hint")
	fs.String("listen", ":5800", "Peer listen address (empty for dial-only)")
	fs.String("format", "rmt", "Bridge wire format: rmt or legacy")
	fs.Bool("disable-nacks", false, "Do not answer unroutable messages")
	fs.Bool("detach-faulty-listeners", false, "Unsubscribe listeners that panic")
	fs.Int("log-retention", meshnode.DefaultLogRetention, "Records kept per log target")
	fs.StringSlice("peer", nil, "Peer to dial as name=address (repeatable)")
	fs.StringSlice("log-target", nil, "Log target to publish (repeatable)")
	fs.String("health-address", "", "gRPC health service address (empty disables)")
	fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown limit")
	fs.Duration("handshake-timeout", 0, "Peer handshake limit")
	fs.Duration("dial-timeout", 0, "Peer dial limit")
	fs.Duration("write-timeout", 0, "Frame write limit (0 disables)")
	fs.Duration("rpc-timeout", 0, "Device query limit")
	fs.String("http-address", ":8080", "Admin API address (empty disables)")
	fs.String("http-secret-key", "", "Token signing secret")
	fs.String("http-admin-secret", "", "Secret that grants admin tokens")
	fs.Bool("no-auth", false, "Serve non-admin API endpoints without tokens")
	fs.String("log-level", "info", "Log level: debug, info, warn or error")
	fs.String("log-format", "text", "Log format: text or json")

	keys := map[string]string{
		"node_id":                 "node-id",
		"listen":                  "listen",
		"format":                  "format",
		"disable_nacks":           "disable-nacks",
		"detach_faulty_listeners": "detach-faulty-listeners",
		"log_retention":           "log-retention",
		"peers":                   "peer",
		"log_targets":             "log-target",
		"health_address":          "health-address",
		"shutdown_timeout":        "shutdown-timeout",
		"link.handshake_timeout":  "handshake-timeout",
		"link.dial_timeout":       "dial-timeout",
		"link.write_timeout":      "write-timeout",
		"rpc.timeout":             "rpc-timeout",
		"http.address":            "http-address",
		"http.secret_key":         "http-secret-key",
		"http.admin_secret":       "http-admin-secret",
		"http.no_auth":            "no-auth",
		"log.level":               "log-level",
		"log.format":              "log-format",
	}
	var errs []error
	for key, flag := range keys {
		errs = append(errs, v.BindPFlag(key, fs.Lookup(flag)))
	}
	return errors.Join(errs...)
}

// loadConfig resolves the configuration from v, reading configFile when set
func loadConfig(v *viper.Viper, configFile string) (*Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return &cfg, nil
}

// nodeConfig builds the mesh node configuration
func (c *Config) nodeConfig() *meshnode.Config {
	nc := meshnode.NewConfig(c.NodeID, c.Listen).
		WithFormat(c.Format).
		WithLogRetention(c.LogRetention).
		WithPeers(c.Peers).
		WithHealthAddress(c.HealthAddress).
		WithPeerLinkConfig(&peerlink.Config{
			HandshakeTimeout: c.Link.HandshakeTimeout,
			DialTimeout:      c.Link.DialTimeout,
			WriteTimeout:     c.Link.WriteTimeout,
			MaxMessageSize:   c.Link.MaxMessageSize,
		}).
		WithRPCConfig(&rpc.Config{
			Timeout:       c.RPC.Timeout,
			SignalTimeout: c.RPC.SignalTimeout,
		})
	if c.DisableNacks {
		nc = nc.WithoutNacks()
	}
	if c.DetachFaultyListeners {
		nc = nc.WithDetachFaultyListeners()
	}
	return nc
}

// httpConfig builds the admin API configuration
func (c *Config) httpConfig() httpapi.Config {
	return httpapi.Config{
		Address:     c.HTTP.Address,
		SecretKey:   c.HTTP.SecretKey,
		AdminSecret: c.HTTP.AdminSecret,
		NoAuth:      c.HTTP.NoAuth,
	}
}
