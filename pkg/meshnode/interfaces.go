package meshnode

import (
	"context"
	"io"

	"github.com/rmacdonaldsmith/robomesh/pkg/eventlog"
	"github.com/rmacdonaldsmith/robomesh/pkg/peerlink"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

// MeshNode is one robomesh process: a router, the connections to its peers,
// the typed bridge on top, and the store for received log records.
type MeshNode interface {
	io.Closer

	// Start begins accepting connections and dials the configured peers.
	Start(ctx context.Context) error

	// Stop drops every connection and stops accepting new ones.
	Stop(ctx context.Context) error

	// NodeID returns the node's name, used as its handshake hint.
	NodeID() string

	// Router returns the node's routing domain.
	Router() router.Router

	// Connect dials address (host:port, or a ws:// URL) and attaches the
	// link under name.
	Connect(ctx context.Context, address, name string) (peerlink.PeerInfo, error)

	// Disconnect drops the connection attached under name.
	Disconnect(name string) error

	// Connections returns every live connection.
	Connections() []peerlink.PeerInfo

	// Transmit routes payload to destination as if it came from source.
	Transmit(destination, source string, payload []byte)

	// Discover lists the topics provided by the router at peer.
	Discover(ctx context.Context, peer string) ([]string, error)

	// Ping probes path and returns the tag echoed in the reply.
	Ping(ctx context.Context, path string) (byte, error)

	// LogStore returns the store receiving records sent to this node's log
	// targets.
	LogStore() eventlog.Store

	// Health returns the overall health of the node.
	Health(ctx context.Context) (HealthStatus, error)
}

// HealthStatus represents the overall health of a mesh node
type HealthStatus struct {
	// Healthy indicates the node is started and all components are usable
	Healthy bool `json:"healthy"`

	RouterHealthy     bool `json:"routerHealthy"`
	ConnectionHealthy bool `json:"connectionHealthy"`
	LogStoreHealthy   bool `json:"logStoreHealthy"`

	// Links is the number of links attached to the router, remote or not
	Links int `json:"links"`

	// Connections is the number of live remote connections
	Connections int `json:"connections"`

	// Topics is the number of topics with local listeners
	Topics int `json:"topics"`

	Message string `json:"message"`
}
