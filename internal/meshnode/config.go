package meshnode

import (
	"errors"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/robomesh/internal/bridge"
	"github.com/rmacdonaldsmith/robomesh/internal/discovery"
	"github.com/rmacdonaldsmith/robomesh/internal/peerlink"
	"github.com/rmacdonaldsmith/robomesh/internal/rpc"
)

var (
	// ErrEmptyNodeID is returned when node ID is empty
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrNegativeRetention is returned when log retention is negative
	ErrNegativeRetention = errors.New("log retention cannot be negative")
)

// DefaultLogRetention is the number of records kept per log target
const DefaultLogRetention = 1000

// Config represents configuration for a mesh node
type Config struct {
	// NodeID names this node; it is offered as the handshake hint when
	// dialing and is the router's own name.
	NodeID string

	// ListenAddress is where peers connect. Empty makes the node dial-only.
	ListenAddress string

	// Format selects the bridge wire format, "rmt" (default) or "legacy".
	Format string

	// DisableNacks stops the router answering unroutable messages.
	DisableNacks bool

	// DetachFaultyListeners unsubscribes listeners that panic.
	DetachFaultyListeners bool

	// LogRetention bounds the records kept per log target; zero uses
	// DefaultLogRetention.
	LogRetention int

	// Peers are dialed on Start, as "name=address" or a bare address.
	Peers []string

	// HealthAddress serves grpc.health.v1 when set.
	HealthAddress  string
	HealthInterval time.Duration

	// PeerLinkConfig overrides the connection manager settings. NodeID and
	// ListenAddress are taken from this config.
	PeerLinkConfig *peerlink.Config

	// RPCConfig overrides device query and signal timeouts.
	RPCConfig *rpc.Config
}

// NewConfig creates a new node configuration with safe defaults
func NewConfig(nodeID, listenAddress string) *Config {
	return &Config{
		NodeID:        nodeID,
		ListenAddress: listenAddress,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.LogRetention < 0 {
		return ErrNegativeRetention
	}
	if _, err := bridge.FormatByName(c.Format); err != nil {
		return err
	}
	if _, err := discovery.NewStaticDiscovery(c.Peers); err != nil {
		return fmt.Errorf("invalid peers: %w", err)
	}
	if c.PeerLinkConfig != nil {
		plc := c.peerLinkConfig()
		if err := plc.Validate(); err != nil {
			return fmt.Errorf("invalid PeerLink config: %w", err)
		}
	}
	return nil
}

// peerLinkConfig returns the connection manager config for this node
func (c *Config) peerLinkConfig() peerlink.Config {
	var plc peerlink.Config
	if c.PeerLinkConfig != nil {
		plc = *c.PeerLinkConfig
	}
	plc.NodeID = c.NodeID
	plc.ListenAddress = c.ListenAddress
	return plc
}

func (c *Config) rpcConfig() rpc.Config {
	var rc rpc.Config
	if c.RPCConfig != nil {
		rc = *c.RPCConfig
	}
	rc.SetDefaults()
	return rc
}

// WithFormat sets the bridge wire format
func (c *Config) WithFormat(format string) *Config {
	c.Format = format
	return c
}

// WithoutNacks disables negative acknowledgements
func (c *Config) WithoutNacks() *Config {
	c.DisableNacks = true
	return c
}

// WithDetachFaultyListeners enables listener fault isolation
func (c *Config) WithDetachFaultyListeners() *Config {
	c.DetachFaultyListeners = true
	return c
}

// WithLogRetention sets the records kept per log target
func (c *Config) WithLogRetention(n int) *Config {
	c.LogRetention = n
	return c
}

// WithPeers sets the peers dialed on Start
func (c *Config) WithPeers(peers []string) *Config {
	c.Peers = peers
	return c
}

// WithHealthAddress enables the gRPC health service
func (c *Config) WithHealthAddress(address string) *Config {
	c.HealthAddress = address
	return c
}

// WithPeerLinkConfig sets the connection manager configuration
func (c *Config) WithPeerLinkConfig(config *peerlink.Config) *Config {
	c.PeerLinkConfig = config
	return c
}

// WithRPCConfig sets device query and signal timeouts
func (c *Config) WithRPCConfig(config *rpc.Config) *Config {
	c.RPCConfig = config
	return c
}
