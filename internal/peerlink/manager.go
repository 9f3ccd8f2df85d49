package peerlink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/internal/metrics"
	"github.com/rmacdonaldsmith/robomesh/internal/wire"
	"github.com/rmacdonaldsmith/robomesh/pkg/peerlink"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

// Option configures optional Manager dependencies
type Option func(*Manager)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metric set connections report into
func WithMetrics(lm *metrics.LinkMetrics) Option {
	return func(m *Manager) {
		m.metrics = lm
	}
}

// Manager implements peerlink.ConnectionManager over TCP and websockets
type Manager struct {
	config     Config
	router     router.Router
	codec      *wire.Codec
	handshaker *wire.Handshaker
	logger     *slog.Logger
	metrics    *metrics.LinkMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*conn
	pending  map[uint64]peerlink.PeerInfo
	nextID   uint64
	started  bool
	closed   bool
}

// conn is one live connection and its link
type conn struct {
	info   peerlink.PeerInfo
	stream Stream
	link   *RemoteLink

	closeOnce sync.Once
	closeErr  error
}

func (c *conn) closeStream() error {
	c.closeOnce.Do(func() {
		c.link.markClosed()
		c.closeErr = c.stream.Close()
	})
	return c.closeErr
}

// NewManager creates a connection manager feeding r
func NewManager(config Config, r router.Router, opts ...Option) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.New("router cannot be nil")
	}

	configCopy := config
	configCopy.SetDefaults()

	m := &Manager{
		config: configCopy,
		router: r,
		logger: slog.Default(),
		conns:   make(map[string]*conn),
		pending: make(map[uint64]peerlink.PeerInfo),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "peerlink", "node", configCopy.NodeID)
	m.codec = wire.NewCodec(m.logger, m.metrics)
	m.codec.MaxPayload = configCopy.MaxMessageSize
	m.handshaker = &wire.Handshaker{Magic: configCopy.Magic, Logger: m.logger, Metrics: m.metrics}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Start listens on the configured address and accepts connections until Close
func (m *Manager) Start(ctx context.Context) error {
	if m.config.ListenAddress == "" {
		return errors.New("listen address cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return meshErrors.ErrClosed
	}
	if m.started {
		return meshErrors.ErrAlreadyStarted
	}

	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", m.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", m.config.ListenAddress, err)
	}
	m.listener = l
	m.started = true

	m.wg.Add(1)
	go m.acceptLoop(l)

	m.logger.Info("Accepting connections", "address", l.Addr().String())
	return nil
}

// Addr returns the listening address, or nil before Start
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

func (m *Manager) acceptLoop(l net.Listener) {
	defer m.wg.Done()
	for {
		c, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || m.ctx.Err() != nil {
				return
			}
			m.logger.Warn("Accept failed", "error", err)
			select {
			case <-m.ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		if !m.track() {
			_ = c.Close()
			return
		}
		go func() {
			defer m.wg.Done()
			_ = m.serve(c, peerlink.Inbound, "tcp", c.RemoteAddr().String())
		}()
	}
}

// track registers a connection goroutine unless the manager is closed
func (m *Manager) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	return true
}

// ServeStream runs an accepted stream (for example an upgraded websocket)
// until it ends. The peer's hint names the link.
func (m *Manager) ServeStream(stream Stream, transport, remoteAddr string) error {
	if !m.track() {
		_ = stream.Close()
		return meshErrors.ErrClosed
	}
	defer m.wg.Done()
	return m.serve(stream, peerlink.Inbound, transport, remoteAddr)
}

func (m *Manager) serve(stream Stream, dir peerlink.Direction, transport, addr string) error {
	c, err := m.establish(m.ctx, stream, dir, transport, addr, "")
	if err != nil {
		return err
	}
	return m.run(c)
}

// Dial connects to address over TCP and attaches the link under name
func (m *Manager) Dial(ctx context.Context, address, name string) (peerlink.PeerInfo, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
	defer cancel()

	var d net.Dialer
	nc, err := d.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return peerlink.PeerInfo{}, meshErrors.WrapTransport(err, "peerlink", "Dial")
	}
	return m.attachOutbound(ctx, nc, "tcp", address, name)
}

func (m *Manager) attachOutbound(ctx context.Context, stream Stream, transport, address, name string) (peerlink.PeerInfo, error) {
	if !m.track() {
		_ = stream.Close()
		return peerlink.PeerInfo{}, meshErrors.ErrClosed
	}

	c, err := m.establish(ctx, stream, peerlink.Outbound, transport, address, name)
	if err != nil {
		m.wg.Done()
		return peerlink.PeerInfo{}, err
	}

	m.mu.Lock()
	info := c.info
	m.mu.Unlock()
	go func() {
		defer m.wg.Done()
		_ = m.run(c)
	}()
	return info, nil
}

// establish runs the handshake and attaches the connection's link
func (m *Manager) establish(ctx context.Context, stream Stream, dir peerlink.Direction, transport, addr, name string) (*conn, error) {
	hint := ""
	if dir == peerlink.Outbound {
		hint = m.config.NodeID
	}

	id := m.beginHandshake(peerlink.PeerInfo{
		Name:          name,
		RemoteAddress: addr,
		Direction:     dir,
		State:         peerlink.LinkHandshaking,
		Transport:     transport,
		ConnectedAt:   time.Now(),
	})

	hsCtx, cancel := context.WithTimeout(ctx, m.config.HandshakeTimeout)
	stop := context.AfterFunc(m.ctx, cancel)
	remote, err := m.handshaker.Perform(hsCtx, stream, hint)
	stop()
	cancel()
	m.endHandshake(id)
	if err != nil {
		_ = stream.Close()
		m.logger.Warn("Handshake failed", "remote", addr, "transport", transport, "error", err)
		return nil, err
	}

	if name == "" {
		name = remote
	}
	if name == "" || name == router.Broadcast || strings.Contains(name, "/") {
		name = "peer-" + uuid.NewString()[:8]
	}

	logger := m.logger.With("link", name, "remote", addr)
	c := &conn{
		info: peerlink.PeerInfo{
			Name:          name,
			RemoteAddress: addr,
			Direction:     dir,
			State:         peerlink.LinkConnected,
			Transport:     transport,
			ConnectedAt:   time.Now(),
		},
		stream: stream,
		link:   NewRemoteLink(name, stream, m.codec, m.config.WriteTimeout, logger),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = stream.Close()
		return nil, meshErrors.ErrClosed
	}
	superseded := m.conns[name]
	m.conns[name] = c
	m.mu.Unlock()

	if err := m.router.AddOrReplaceLink(name, c.link); err != nil {
		m.teardown(c)
		return nil, err
	}
	if superseded != nil {
		logger.Info("Connection supersedes previous link")
		_ = superseded.closeStream()
	}

	m.metrics.ConnectionOpened()
	logger.Info("Link attached", "direction", dir, "transport", transport)
	return c, nil
}

func (m *Manager) beginHandshake(info peerlink.PeerInfo) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.pending[m.nextID] = info
	return m.nextID
}

func (m *Manager) endHandshake(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
}

// markDisconnected reports c as disconnected until its teardown finishes
func (m *Manager) markDisconnected(c *conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.info.State = peerlink.LinkDisconnected
}

// run announces the new link and reads frames until the stream ends
func (m *Manager) run(c *conn) error {
	name := c.info.Name
	logger := m.logger.With("link", name)

	// The reader must be running before anything is written, or two peers
	// on an unbuffered stream would block on each other's broadcast.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.router.NotifyNetworkModified()
	}()

	r := bufio.NewReader(c.stream)
	var err error
	for {
		var msg router.Message
		msg, err = m.codec.ReadFrame(r)
		if err != nil {
			break
		}
		m.router.Transmit(router.Message{
			Destination: msg.Destination,
			Source:      router.Join(name, msg.Source),
			Payload:     msg.Payload,
		}, c.link)
	}

	m.markDisconnected(c)
	switch {
	case meshErrors.IsStreamClosed(err):
		logger.Debug("Connection closed", "error", err)
	case meshErrors.IsProtocol(err):
		logger.Warn("Protocol violation; dropping connection", "error", err)
	default:
		logger.Warn("Connection read failed", "error", err)
	}

	if terr := m.teardown(c); terr != nil {
		logger.Debug("Teardown reported errors", "error", terr)
	}
	return err
}

// teardown closes the stream, detaches the link and forgets the connection.
// Every step runs even if an earlier one fails.
func (m *Manager) teardown(c *conn) error {
	var errs []error

	if err := c.closeStream(); err != nil && !meshErrors.IsStreamClosed(err) {
		errs = append(errs, fmt.Errorf("closing stream: %w", err))
	}

	detached := m.router.RemoveLink(c.info.Name, c.link)

	m.mu.Lock()
	current, tracked := m.conns[c.info.Name]
	if tracked && current == c {
		delete(m.conns, c.info.Name)
	}
	m.mu.Unlock()

	if tracked && current == c {
		m.metrics.ConnectionClosed()
	}
	if detached {
		m.logger.Info("Link detached", "link", c.info.Name)
	}
	return errors.Join(errs...)
}

// Disconnect tears down the connection attached under name
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	c, ok := m.conns[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", meshErrors.ErrUnknownLink, name)
	}
	// The reader observes the closed stream and completes the teardown.
	c.info.State = peerlink.LinkDisconnected
	m.mu.Unlock()
	m.router.RemoveLink(name, c.link)
	return c.closeStream()
}

// Connections returns every live connection sorted by name, including
// those still handshaking and those being torn down
func (m *Manager) Connections() []peerlink.PeerInfo {
	m.mu.Lock()
	infos := make([]peerlink.PeerInfo, 0, len(m.conns)+len(m.pending))
	for _, c := range m.conns {
		infos = append(infos, c.info)
	}
	for _, info := range m.pending {
		infos = append(infos, info)
	}
	m.mu.Unlock()
	slices.SortFunc(infos, func(a, b peerlink.PeerInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// Close stops accepting, drops every connection and waits for the
// connection goroutines. Safe to call multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	l := m.listener
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	m.cancel()

	var errs []error
	if l != nil {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	for _, c := range conns {
		_ = c.closeStream()
	}

	m.wg.Wait()
	return errors.Join(errs...)
}

// Verify that Manager implements the ConnectionManager interface at compile time
var _ peerlink.ConnectionManager = (*Manager)(nil)
