package peerlink

import (
	"errors"
	"time"

	"github.com/rmacdonaldsmith/robomesh/internal/wire"
)

// Config holds configuration for the connection manager
type Config struct {
	// NodeID is offered as the name hint when dialing, so the remote router
	// attaches us under this name.
	NodeID           string
	ListenAddress    string
	HandshakeTimeout time.Duration
	DialTimeout      time.Duration
	// WriteTimeout bounds a single frame write; zero disables it
	WriteTimeout   time.Duration
	MaxMessageSize int
	// Magic overrides the handshake magic constant
	Magic uint64
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("node ID cannot be empty")
	}
	if c.HandshakeTimeout < 0 || c.DialTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	if c.MaxMessageSize < 0 {
		return errors.New("max message size cannot be negative")
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = wire.DefaultMaxPayload
	}
	if c.Magic == 0 {
		c.Magic = wire.DefaultMagic
	}
}
