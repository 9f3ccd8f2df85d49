package discovery

import (
	"context"
	"strings"
)

// Peer is a remote router to dial at startup
type Peer struct {
	// Name is the link name to attach the connection under. Empty lets the
	// remote's hint name it.
	Name    string
	Address string
}

// Websocket reports whether the address is a ws:// or wss:// URL
func (p Peer) Websocket() bool {
	return strings.HasPrefix(p.Address, "ws://") || strings.HasPrefix(p.Address, "wss://")
}

// Discovery defines the interface for finding peers to dial
type Discovery interface {
	// FindPeers returns the peers this node should connect to
	FindPeers(ctx context.Context) ([]Peer, error)
}
