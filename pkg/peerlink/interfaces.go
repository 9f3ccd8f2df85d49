package peerlink

import (
	"context"
	"io"
	"time"
)

// LinkState represents the lifecycle state of a remote link
type LinkState int

const (
	LinkHandshaking LinkState = iota
	LinkConnected
	LinkDisconnected
)

func (s LinkState) String() string {
	switch s {
	case LinkHandshaking:
		return "Handshaking"
	case LinkConnected:
		return "Connected"
	case LinkDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// Direction tells who opened a connection
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// PeerInfo describes one live connection
type PeerInfo struct {
	// Name is the link name the local router uses for this peer
	Name          string
	RemoteAddress string
	Direction     Direction
	State         LinkState
	Transport     string
	ConnectedAt   time.Time
}

// ConnectionManager owns the remote links of one router: it accepts and
// dials connections, runs the handshake, attaches a link per connection and
// pumps received frames into the router.
//
// Reconnection is the caller's responsibility: a dropped connection is
// detached and forgotten, and dialing again re-attaches under the same name.
type ConnectionManager interface {
	io.Closer

	// Start begins accepting connections on the configured listen address
	Start(ctx context.Context) error

	// Dial connects to address and attaches the link under name. An empty
	// name falls back to the peer's hint, then to a generated name.
	Dial(ctx context.Context, address, name string) (PeerInfo, error)

	// Disconnect tears down the connection attached under name
	Disconnect(name string) error

	// Connections returns every live connection
	Connections() []PeerInfo
}
