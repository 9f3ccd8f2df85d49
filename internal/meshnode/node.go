package meshnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/rmacdonaldsmith/robomesh/internal/bridge"
	"github.com/rmacdonaldsmith/robomesh/internal/discovery"
	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/internal/eventlog"
	"github.com/rmacdonaldsmith/robomesh/internal/healthrpc"
	"github.com/rmacdonaldsmith/robomesh/internal/metrics"
	"github.com/rmacdonaldsmith/robomesh/internal/peerlink"
	meshrouter "github.com/rmacdonaldsmith/robomesh/internal/router"
	"github.com/rmacdonaldsmith/robomesh/internal/rpc"
	eventlogpkg "github.com/rmacdonaldsmith/robomesh/pkg/eventlog"
	"github.com/rmacdonaldsmith/robomesh/pkg/meshnode"
	peerlinkpkg "github.com/rmacdonaldsmith/robomesh/pkg/peerlink"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

// Option configures optional Node dependencies
type Option func(*Node)

// WithLogger sets the structured logger shared by every component
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMetricsRegistry sets the registry components report into
func WithMetricsRegistry(r *metrics.Registry) Option {
	return func(n *Node) {
		if r != nil {
			n.registry = r
		}
	}
}

// Node implements meshnode.MeshNode. It owns one router and everything
// layered on it.
type Node struct {
	config    *Config
	logger    *slog.Logger
	registry  *metrics.Registry
	links     *metrics.LinkMetrics
	discovery discovery.Discovery

	router    *meshrouter.Node
	bridge    *bridge.Bridge
	directory *bridge.Directory
	rpcServer *rpc.Server
	rpcClient *rpc.Client
	logs      *eventlog.MemoryStore

	mu      sync.RWMutex
	manager *peerlink.Manager
	health  *healthrpc.Server
	started bool
	closed  bool
}

// NewNode builds every component but starts nothing. Call Start to accept
// and dial connections.
func NewNode(config *Config, opts ...Option) (*Node, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	n := &Node{
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.registry == nil {
		n.registry = metrics.NewRegistry()
	}
	n.links = metrics.NewLinkMetrics(n.registry)

	format, _ := bridge.FormatByName(config.Format)
	routerConfig := meshrouter.Config{
		Name:                  config.NodeID,
		TopologyPayload:       bridge.ControlPayload(format, bridge.KindTopologyChanged),
		DetachFaultyListeners: config.DetachFaultyListeners,
	}
	if !config.DisableNacks {
		routerConfig.NackPayload = bridge.ControlPayload(format, bridge.KindNack)
	}
	n.router = meshrouter.NewNode(routerConfig,
		meshrouter.WithLogger(n.logger),
		meshrouter.WithMetrics(metrics.NewRouterMetrics(n.registry)))

	n.bridge = bridge.New(n.router, bridge.WithLogger(n.logger), bridge.WithFormat(format))

	directory, err := bridge.NewDirectory(n.bridge)
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	n.directory = directory

	rpcConfig := config.rpcConfig()
	n.rpcServer = rpc.NewServer(n.bridge, rpcConfig, n.logger)
	n.rpcClient = rpc.NewClient(n.bridge, rpcConfig, n.logger)

	retention := config.LogRetention
	if retention == 0 {
		retention = DefaultLogRetention
	}
	n.logs = eventlog.NewMemoryStore(retention)

	n.discovery, err = discovery.NewStaticDiscovery(config.Peers)
	if err != nil {
		return nil, fmt.Errorf("invalid peers: %w", err)
	}

	if n.manager, err = n.newManager(); err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	n.logger = n.logger.With("component", "meshnode", "node", config.NodeID)
	return n, nil
}

func (n *Node) newManager() (*peerlink.Manager, error) {
	return peerlink.NewManager(n.config.peerLinkConfig(), n.router,
		peerlink.WithLogger(n.logger),
		peerlink.WithMetrics(n.links))
}

// Start begins accepting connections, serves health if configured and dials
// the configured peers. A peer that cannot be reached is logged, not fatal.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return fmt.Errorf("cannot start closed mesh node: %w", meshErrors.ErrClosed)
	}
	if n.started {
		n.mu.Unlock()
		return nil
	}
	if n.config.ListenAddress != "" {
		if err := n.manager.Start(ctx); err != nil {
			n.mu.Unlock()
			return fmt.Errorf("failed to start connection manager: %w", err)
		}
	}
	n.started = true
	n.mu.Unlock()

	if n.config.HealthAddress != "" {
		hs := healthrpc.NewServer(n.config.HealthAddress, n, n.config.HealthInterval, n.logger)
		if err := hs.Start(ctx); err != nil {
			_ = n.Stop(ctx)
			return fmt.Errorf("failed to start health server: %w", err)
		}
		n.mu.Lock()
		n.health = hs
		n.mu.Unlock()
	}

	n.dialPeers(ctx)
	n.logger.Info("Node started", "listen", n.config.ListenAddress, "format", n.bridge.Format().Name())
	return nil
}

func (n *Node) dialPeers(ctx context.Context) {
	peers, err := n.discovery.FindPeers(ctx)
	if err != nil {
		n.logger.Warn("Peer discovery failed", "error", err)
		return
	}
	for _, p := range peers {
		info, err := n.Connect(ctx, p.Address, p.Name)
		if err != nil {
			n.logger.Warn("Could not reach peer", "address", p.Address, "name", p.Name, "error", err)
			continue
		}
		n.logger.Info("Connected to peer", "address", p.Address, "link", info.Name)
	}
}

// Stop drops every connection and stops accepting. The node can be started
// again.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	n.started = false
	manager, hs := n.manager, n.health
	n.health = nil
	fresh, err := n.newManager()
	if err == nil {
		n.manager = fresh
	}
	n.mu.Unlock()

	if hs != nil {
		hs.Stop()
	}
	if cerr := manager.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		return fmt.Errorf("failed to stop node: %w", err)
	}
	n.logger.Info("Node stopped")
	return nil
}

// Close stops the node and releases every component. Safe to call multiple
// times.
func (n *Node) Close() error {
	if err := n.Stop(context.Background()); err != nil {
		n.logger.Warn("Stop during close failed", "error", err)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	manager := n.manager
	n.mu.Unlock()

	var errs []error
	if err := manager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close connection manager: %w", err))
	}
	n.rpcServer.Close()
	n.directory.Close()
	if err := n.bridge.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close bridge: %w", err))
	}
	if err := n.router.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close router: %w", err))
	}
	if err := n.logs.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close log store: %w", err))
	}
	return errors.Join(errs...)
}

// NodeID returns this node's name
func (n *Node) NodeID() string {
	return n.config.NodeID
}

// Router returns the node's routing domain
func (n *Node) Router() router.Router {
	return n.router
}

// Topics returns the topic table summary
func (n *Node) Topics() []meshrouter.TopicInfo {
	return n.router.Topics()
}

// WildcardCount returns the number of wildcard listeners
func (n *Node) WildcardCount() int {
	return n.router.WildcardCount()
}

// Links returns the attached link names
func (n *Node) Links() []string {
	return n.router.Links()
}

// Bridge returns the typed publish/subscribe bridge
func (n *Node) Bridge() *bridge.Bridge {
	return n.bridge
}

// Directory returns the provided-topic directory
func (n *Node) Directory() *bridge.Directory {
	return n.directory
}

// Devices returns the device server used to publish queryable devices
func (n *Node) Devices() *rpc.Server {
	return n.rpcServer
}

// RPC returns the client for remote device queries and signals
func (n *Node) RPC() *rpc.Client {
	return n.rpcClient
}

// Metrics returns the registry every component reports into
func (n *Node) Metrics() *metrics.Registry {
	return n.registry
}

// LogStore returns the store for received log records
func (n *Node) LogStore() eventlogpkg.Store {
	return n.logs
}

// PublishLogTarget publishes LT:<name>; records sent to it are stored
// under name.
func (n *Node) PublishLogTarget(name string) error {
	return n.bridge.PublishLogTarget(name, eventlog.NewSink(n.logs, name, n.logger))
}

func (n *Node) currentManager() (*peerlink.Manager, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return nil, meshErrors.ErrClosed
	}
	if !n.started {
		return nil, meshErrors.ErrNotStarted
	}
	return n.manager, nil
}

// Connect dials address and attaches the link under name. Addresses
// starting with ws:// or wss:// are dialed as websockets.
func (n *Node) Connect(ctx context.Context, address, name string) (peerlinkpkg.PeerInfo, error) {
	manager, err := n.currentManager()
	if err != nil {
		return peerlinkpkg.PeerInfo{}, err
	}
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return manager.DialWebsocket(ctx, address, name)
	}
	return manager.Dial(ctx, address, name)
}

// Disconnect drops the connection attached under name
func (n *Node) Disconnect(name string) error {
	manager, err := n.currentManager()
	if err != nil {
		return err
	}
	return manager.Disconnect(name)
}

// Addr returns the peer listening address, or nil when not listening
func (n *Node) Addr() net.Addr {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.manager.Addr()
}

// Connections returns every live connection
func (n *Node) Connections() []peerlinkpkg.PeerInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.manager.Connections()
}

// LinkHandler accepts websocket links while the node is started
func (n *Node) LinkHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		manager, err := n.currentManager()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		manager.WebsocketHandler().ServeHTTP(w, r)
	})
}

// Transmit routes payload to destination as if it came from source
func (n *Node) Transmit(destination, source string, payload []byte) {
	n.router.Transmit(router.Message{Destination: destination, Source: source, Payload: payload}, nil)
}

// Discover lists the topics provided by the router at peer
func (n *Node) Discover(ctx context.Context, peer string) ([]string, error) {
	return n.directory.Discover(ctx, peer)
}

// Ping probes path through the bridge
func (n *Node) Ping(ctx context.Context, path string) (byte, error) {
	return n.bridge.Ping(ctx, path)
}

// Health returns the overall health status of this node
func (n *Node) Health(ctx context.Context) (meshnode.HealthStatus, error) {
	n.mu.RLock()
	started, closed := n.started, n.closed
	conns := len(n.manager.Connections())
	n.mu.RUnlock()

	_, logErr := n.logs.Statistics(ctx)
	status := meshnode.HealthStatus{
		RouterHealthy:     !closed,
		ConnectionHealthy: started,
		LogStoreHealthy:   logErr == nil,
		Links:             len(n.router.Links()),
		Connections:       conns,
		Topics:            len(n.router.Topics()),
	}
	status.Healthy = status.RouterHealthy && status.ConnectionHealthy && status.LogStoreHealthy

	switch {
	case closed:
		status.Message = "closed"
	case !started:
		status.Message = "stopped"
	case !status.LogStoreHealthy:
		status.Message = "log store unavailable"
	default:
		status.Message = "running"
	}
	return status, nil
}

// Verify that Node implements the MeshNode interface at compile time
var _ meshnode.MeshNode = (*Node)(nil)
