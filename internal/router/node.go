package router

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	meshErrors "github.com/rmacdonaldsmith/robomesh/internal/errors"
	"github.com/rmacdonaldsmith/robomesh/internal/metrics"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

var (
	// ErrInvalidListener is returned for a zero-value listener
	ErrInvalidListener = errors.New("listener must be created with router.NewListener")
	// ErrNotSubscribed is returned when unsubscribing a listener that is not registered
	ErrNotSubscribed = errors.New("listener not subscribed")
	// ErrLinkExists is returned by AddLink when the name is already taken
	ErrLinkExists = errors.New("link name already attached")
	// ErrInvalidLinkName is returned for empty, reserved or slash-containing names
	ErrInvalidLinkName = errors.New("invalid link name")
	// ErrNilLink is returned when attaching a nil link
	ErrNilLink = errors.New("link cannot be nil")
)

// Config holds configuration for a Node
type Config struct {
	// Name is the router's own identity; a destination equal to it is
	// delivered locally.
	Name string

	// NackPayload is sent back to the source of a message whose destination
	// could not be resolved. Nil disables negative acknowledgements.
	NackPayload []byte

	// TopologyPayload is broadcast by NotifyNetworkModified. Nil disables
	// topology notifications.
	TopologyPayload []byte

	// DetachFaultyListeners unsubscribes a listener whose receive function
	// panics, reporting the detachment as a recovered fault.
	DetachFaultyListeners bool
}

// Option configures optional Node dependencies
type Option func(*Node)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMetrics sets the metric set the node reports into
func WithMetrics(m *metrics.RouterMetrics) Option {
	return func(n *Node) {
		n.metrics = m
	}
}

// Node implements router.Router with an in-memory topic table.
//
// Two locks are used. subMu serializes subscription changes together with
// their watcher notifications, so add/remove notifications for a topic
// strictly alternate. mu guards the tables themselves and is only held for
// snapshots and mutations, never across a listener or link call.
type Node struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.RouterMetrics

	subMu sync.Mutex

	mu       sync.RWMutex
	topics   map[string][]router.Listener
	wildcard []router.Listener
	watchers []router.SubscriptionWatcher
	links    map[string]router.Link
	closed   bool
}

// NewNode creates an empty router
func NewNode(config Config, opts ...Option) *Node {
	n := &Node{
		config: config,
		logger: slog.Default(),
		topics: make(map[string][]router.Listener),
		links:  make(map[string]router.Link),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "router", "router", config.Name)
	return n
}

// Name returns the router's own identity
func (n *Node) Name() string {
	return n.config.Name
}

// Subscribe registers l on topic; the empty topic registers a wildcard listener.
// When topic gains its first listener every watcher is notified before the
// listener is stored.
func (n *Node) Subscribe(topic string, l router.Listener) error {
	if !l.Valid() {
		return ErrInvalidListener
	}

	if topic == "" {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.closed {
			return meshErrors.ErrClosed
		}
		n.wildcard = append(n.wildcard, l)
		return nil
	}

	n.subMu.Lock()
	defer n.subMu.Unlock()

	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		return meshErrors.ErrClosed
	}
	first := len(n.topics[topic]) == 0
	watchers := slices.Clone(n.watchers)
	n.mu.RUnlock()

	if first {
		for _, w := range watchers {
			n.notify(w, topic, true)
		}
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return meshErrors.ErrClosed
	}
	n.topics[topic] = append(n.topics[topic], l)
	count := len(n.topics)
	n.mu.Unlock()

	n.metrics.SetTopics(count)
	return nil
}

// Unsubscribe removes one occurrence of l from topic. When the topic loses
// its last listener the entry is dropped and every watcher is notified.
func (n *Node) Unsubscribe(topic string, l router.Listener) error {
	if topic == "" {
		n.mu.Lock()
		defer n.mu.Unlock()
		idx := indexOf(n.wildcard, l.ID())
		if idx < 0 {
			return ErrNotSubscribed
		}
		n.wildcard = slices.Delete(n.wildcard, idx, idx+1)
		return nil
	}

	n.subMu.Lock()
	defer n.subMu.Unlock()

	n.mu.Lock()
	listeners := n.topics[topic]
	idx := indexOf(listeners, l.ID())
	if idx < 0 {
		n.mu.Unlock()
		return ErrNotSubscribed
	}
	listeners = slices.Delete(listeners, idx, idx+1)
	last := len(listeners) == 0
	if last {
		delete(n.topics, topic)
	} else {
		n.topics[topic] = listeners
	}
	count := len(n.topics)
	watchers := slices.Clone(n.watchers)
	n.mu.Unlock()

	n.metrics.SetTopics(count)
	if last {
		for _, w := range watchers {
			n.notify(w, topic, false)
		}
	}
	return nil
}

// SubscribeToSubscriptions registers w and replays AddSubscription for every
// topic with listeners. The replay is serialized with subscription changes so
// the watcher reconstructs a consistent view.
func (n *Node) SubscribeToSubscriptions(w router.SubscriptionWatcher) {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	n.mu.Lock()
	n.watchers = append(n.watchers, w)
	topics := make([]string, 0, len(n.topics))
	for topic := range n.topics {
		topics = append(topics, topic)
	}
	n.mu.Unlock()

	slices.Sort(topics)
	for _, topic := range topics {
		n.notify(w, topic, true)
	}
}

// UnsubscribeFromSubscriptions removes a watcher
func (n *Node) UnsubscribeFromSubscriptions(w router.SubscriptionWatcher) {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.watchers = slices.DeleteFunc(n.watchers, func(x router.SubscriptionWatcher) bool {
		return x == w
	})
}

// Publish delivers msg to the wildcard listeners and the listeners of
// msg.Destination, except the listener identified by exclude.
func (n *Node) Publish(msg router.Message, exclude router.ListenerID) {
	n.publish(msg, exclude)
}

// publish returns the number of topic listeners (not wildcard listeners)
// the message was offered to.
func (n *Node) publish(msg router.Message, exclude router.ListenerID) int {
	n.mu.RLock()
	wildcard := slices.Clone(n.wildcard)
	listeners := slices.Clone(n.topics[msg.Destination])
	n.mu.RUnlock()

	for _, l := range wildcard {
		if l.ID() != exclude {
			n.deliver("", l, msg)
		}
	}
	for _, l := range listeners {
		if l.ID() != exclude {
			n.deliver(msg.Destination, l, msg)
		}
	}
	if len(listeners) > 0 {
		n.metrics.Published()
	}
	return len(listeners)
}

// deliver invokes a listener, isolating a panic to that listener.
func (n *Node) deliver(topic string, l router.Listener, msg router.Message) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		n.metrics.ListenerFault()
		err := meshErrors.WrapListener(fmt.Errorf("%w: %v", meshErrors.ErrListenerPanic, r), "router", "Publish")
		n.logger.Error("Listener fault during delivery", "topic", msg.Destination, "error", err)
		if n.config.DetachFaultyListeners {
			if uerr := n.Unsubscribe(topic, l); uerr == nil {
				n.logger.Warn("Recovered fault: detached listener", "topic", msg.Destination, "listener", l.ID())
			}
		}
	}()
	l.Receive(msg)
}

// broadcast delivers msg once to every local listener and forwards it across
// every link except exclude.
func (n *Node) broadcast(msg router.Message, exclude router.Link) {
	n.mu.RLock()
	seen := make(map[router.ListenerID]bool)
	type target struct {
		topic string
		l     router.Listener
	}
	var targets []target
	for _, l := range n.wildcard {
		if !seen[l.ID()] {
			seen[l.ID()] = true
			targets = append(targets, target{"", l})
		}
	}
	for topic, listeners := range n.topics {
		for _, l := range listeners {
			if !seen[l.ID()] {
				seen[l.ID()] = true
				targets = append(targets, target{topic, l})
			}
		}
	}
	links := make(map[string]router.Link, len(n.links))
	for name, link := range n.links {
		if link != exclude {
			links[name] = link
		}
	}
	n.mu.RUnlock()

	for _, t := range targets {
		n.deliver(t.topic, t.l, msg)
	}
	for name, link := range links {
		n.forward(name, link, msg)
	}
}

// Transmit routes msg by its destination.
//
// An empty destination, or one equal to the router's name, is published to
// the wildcard listeners. "*" is broadcast. Otherwise the first path segment
// selects a link and the remainder is handed to it; when no link matches the
// whole destination is treated as a local topic.
func (n *Node) Transmit(msg router.Message, exclude router.Link) {
	dest := msg.Destination
	switch {
	case dest == "" || dest == n.config.Name:
		n.publish(router.Message{Source: msg.Source, Payload: msg.Payload}, 0)
		return
	case dest == router.Broadcast:
		n.broadcast(msg, exclude)
		return
	}

	head, tail := router.Split(dest)
	n.mu.RLock()
	link, ok := n.links[head]
	n.mu.RUnlock()

	if ok {
		if link == exclude {
			n.logger.Debug("Dropping message routed back onto its origin link", "destination", dest)
			return
		}
		n.forward(head, link, router.Message{Destination: tail, Source: msg.Source, Payload: msg.Payload})
		return
	}

	if n.publish(msg, 0) > 0 {
		return
	}
	n.routingError(msg)
}

// forward transmits on a link and detaches it if the link reports itself dead.
func (n *Node) forward(name string, link router.Link, msg router.Message) {
	if link.Transmit(msg) == router.FailedDetach {
		if n.RemoveLink(name, link) {
			n.logger.Info("Detached dead link", "link", name)
		}
	}
}

func (n *Node) routingError(msg router.Message) {
	n.metrics.RoutingError()
	err := meshErrors.WrapRouting(fmt.Errorf("%w: %q", meshErrors.ErrUnknownLink, msg.Destination), "router", "Transmit")
	n.logger.Warn("No route for message", "destination", msg.Destination, "source", msg.Source, "error", err)

	nack := n.config.NackPayload
	if len(nack) == 0 || msg.Source == "" || bytes.HasPrefix(msg.Payload, nack) {
		return
	}
	n.metrics.NackSent()
	n.Transmit(router.Message{Destination: msg.Source, Source: msg.Destination, Payload: nack}, nil)
}

func validLinkName(name string) bool {
	return name != "" && name != router.Broadcast && !strings.Contains(name, "/")
}

// AddLink attaches link under name; the name must be unused.
func (n *Node) AddLink(name string, link router.Link) error {
	if !validLinkName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidLinkName, name)
	}
	if link == nil {
		return ErrNilLink
	}

	n.mu.Lock()
	if _, exists := n.links[name]; exists {
		n.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrLinkExists, name)
	}
	n.links[name] = link
	count := len(n.links)
	n.mu.Unlock()

	n.metrics.SetLinks(count)
	n.logger.Debug("Attached link", "link", name)
	return nil
}

// AddOrReplaceLink attaches link under name, superseding a stale link left
// behind by a previous connection.
func (n *Node) AddOrReplaceLink(name string, link router.Link) error {
	if !validLinkName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidLinkName, name)
	}
	if link == nil {
		return ErrNilLink
	}

	n.mu.Lock()
	_, replaced := n.links[name]
	n.links[name] = link
	count := len(n.links)
	n.mu.Unlock()

	n.metrics.SetLinks(count)
	if replaced {
		n.logger.Info("Replaced link", "link", name)
	}
	return nil
}

// RemoveLink detaches name if it is still bound to link. A nil link removes
// whatever is attached under name.
func (n *Node) RemoveLink(name string, link router.Link) bool {
	n.mu.Lock()
	current, ok := n.links[name]
	if !ok || (link != nil && current != link) {
		n.mu.Unlock()
		return false
	}
	delete(n.links, name)
	count := len(n.links)
	n.mu.Unlock()

	n.metrics.SetLinks(count)
	return true
}

// LinkName returns the name link is attached under
func (n *Node) LinkName(link router.Link) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for name, l := range n.links {
		if l == link {
			return name, true
		}
	}
	return "", false
}

// NotifyNetworkModified broadcasts the configured topology payload
func (n *Node) NotifyNetworkModified() {
	if len(n.config.TopologyPayload) == 0 {
		return
	}
	n.Transmit(router.Message{Destination: router.Broadcast, Payload: n.config.TopologyPayload}, nil)
}

// Links returns the attached link names in sorted order
func (n *Node) Links() []string {
	n.mu.RLock()
	names := make([]string, 0, len(n.links))
	for name := range n.links {
		names = append(names, name)
	}
	n.mu.RUnlock()
	slices.Sort(names)
	return names
}

// TopicInfo summarizes one topic table entry
type TopicInfo struct {
	Topic     string
	Listeners int
}

// Topics returns the topics that have listeners, sorted by name
func (n *Node) Topics() []TopicInfo {
	n.mu.RLock()
	infos := make([]TopicInfo, 0, len(n.topics))
	for topic, listeners := range n.topics {
		infos = append(infos, TopicInfo{Topic: topic, Listeners: len(listeners)})
	}
	n.mu.RUnlock()
	slices.SortFunc(infos, func(a, b TopicInfo) int { return strings.Compare(a.Topic, b.Topic) })
	return infos
}

// WildcardCount returns the number of wildcard listeners
func (n *Node) WildcardCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.wildcard)
}

// Close rejects further subscriptions and drops all links and listeners.
// Safe to call multiple times.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.topics = make(map[string][]router.Listener)
	n.wildcard = nil
	n.links = make(map[string]router.Link)
	return nil
}

func (n *Node) notify(w router.SubscriptionWatcher, topic string, added bool) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("Subscription watcher panicked", "topic", topic, "panic", r)
		}
	}()
	if added {
		w.AddSubscription(topic)
	} else {
		w.RemoveSubscription(topic)
	}
}

func indexOf(listeners []router.Listener, id router.ListenerID) int {
	return slices.IndexFunc(listeners, func(l router.Listener) bool { return l.ID() == id })
}

// Verify that Node implements the Router interface at compile time
var _ router.Router = (*Node)(nil)
