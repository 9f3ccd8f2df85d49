package discovery

import (
	"context"
	"fmt"
	"strings"
)

// StaticDiscovery implements Discovery over a fixed peer list
type StaticDiscovery struct {
	peers []Peer
}

// ParsePeer parses "name=address" or a bare address
func ParsePeer(entry string) (Peer, error) {
	entry = strings.TrimSpace(entry)
	name, address, found := strings.Cut(entry, "=")
	if !found {
		name, address = "", entry
	}
	name = strings.TrimSpace(name)
	address = strings.TrimSpace(address)
	if address == "" {
		return Peer{}, fmt.Errorf("peer %q: address cannot be empty", entry)
	}
	if strings.Contains(name, "/") || name == "*" {
		return Peer{}, fmt.Errorf("peer %q: invalid link name %q", entry, name)
	}
	return Peer{Name: name, Address: address}, nil
}

// NewStaticDiscovery parses every peer entry
func NewStaticDiscovery(entries []string) (*StaticDiscovery, error) {
	peers := make([]Peer, 0, len(entries))
	seen := make(map[string]bool)
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		p, err := ParsePeer(entry)
		if err != nil {
			return nil, err
		}
		if p.Name != "" {
			if seen[p.Name] {
				return nil, fmt.Errorf("peer %q: duplicate link name", entry)
			}
			seen[p.Name] = true
		}
		peers = append(peers, p)
	}
	return &StaticDiscovery{peers: peers}, nil
}

// FindPeers returns the configured peers
func (s *StaticDiscovery) FindPeers(ctx context.Context) ([]Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]Peer(nil), s.peers...), nil
}

// Verify that StaticDiscovery implements the Discovery interface at compile time
var _ Discovery = (*StaticDiscovery)(nil)
