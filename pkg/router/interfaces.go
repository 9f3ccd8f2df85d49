package router

import (
	"strings"
	"sync/atomic"
)

// Broadcast is the reserved destination delivered to every listener and
// forwarded across every link.
const Broadcast = "*"

// Message is the unit carried between routers.
// An empty Destination means "deliver to whatever is attached at this hop";
// an empty Source means the message cannot be answered.
type Message struct {
	Destination string
	Source      string
	Payload     []byte
}

// ReceiveFunc handles a delivered message. For topic listeners Destination
// holds the topic.
type ReceiveFunc func(msg Message)

// ListenerID identifies a listener registration. The zero value never
// identifies a listener.
type ListenerID uint64

var nextListenerID atomic.Uint64

// Listener pairs a receive function with an identity token used as the
// equality key for unsubscription and exclusion.
type Listener struct {
	id      ListenerID
	receive ReceiveFunc
}

// NewListener allocates a listener with a fresh identity
func NewListener(fn ReceiveFunc) Listener {
	return Listener{id: ListenerID(nextListenerID.Add(1)), receive: fn}
}

// ID returns the listener's identity token
func (l Listener) ID() ListenerID {
	return l.id
}

// Valid reports whether the listener was created by NewListener
func (l Listener) Valid() bool {
	return l.id != 0 && l.receive != nil
}

// Receive invokes the listener's function
func (l Listener) Receive(msg Message) {
	l.receive(msg)
}

// SubscriptionWatcher observes topics gaining their first listener and
// losing their last one. Notifications for a topic strictly alternate,
// starting with AddSubscription.
//
// Watchers are invoked while subscription changes are serialized; they may
// read router state but must not subscribe or unsubscribe synchronously.
type SubscriptionWatcher interface {
	AddSubscription(topic string)
	RemoveSubscription(topic string)
}

// TransmitResult is the outcome of a link transmission
type TransmitResult int

const (
	// Delivered means the message was handed to the next hop
	Delivered TransmitResult = iota
	// FailedTransient means this message was lost but the link remains usable
	FailedTransient
	// FailedDetach means the link is dead and must be removed from the router
	FailedDetach
)

func (r TransmitResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case FailedTransient:
		return "failed-transient"
	case FailedDetach:
		return "failed-detach"
	default:
		return "unknown"
	}
}

// Link is a named transmission target attached to a router. The router
// strips the link's name from the destination before calling Transmit, so
// msg.Destination is the remainder of the path (possibly empty).
type Link interface {
	Transmit(msg Message) TransmitResult
}

// Split separates the first path segment from the remainder.
func Split(path string) (head, tail string) {
	head, tail, _ = strings.Cut(path, "/")
	return head, tail
}

// Join qualifies rest with prefix. Empty components are dropped so that
// Join("link", "") == "link".
func Join(prefix, rest string) string {
	switch {
	case prefix == "":
		return rest
	case rest == "":
		return prefix
	default:
		return prefix + "/" + rest
	}
}

// Router is the shared routing table of one routing domain.
//
// All table mutation happens under the router's lock; deliveries and link
// transmissions happen outside it, so listeners may call back into the
// router from their receive functions.
type Router interface {
	// Subscribe registers l on topic. The empty topic registers a wildcard
	// listener that receives every delivered message.
	Subscribe(topic string, l Listener) error

	// Unsubscribe removes one occurrence of l from topic.
	Unsubscribe(topic string, l Listener) error

	// SubscribeToSubscriptions registers w and replays AddSubscription for
	// every topic that currently has listeners.
	SubscribeToSubscriptions(w SubscriptionWatcher)

	// UnsubscribeFromSubscriptions removes a watcher
	UnsubscribeFromSubscriptions(w SubscriptionWatcher)

	// Publish delivers msg to the wildcard listeners and the listeners of
	// msg.Destination, skipping the listener identified by exclude.
	Publish(msg Message, exclude ListenerID)

	// Transmit routes msg by its destination. exclude, when non-nil, is the
	// link the message arrived on and is never used to forward it.
	Transmit(msg Message, exclude Link)

	// AddLink attaches link under name; it fails if the name is taken.
	AddLink(name string, link Link) error

	// AddOrReplaceLink attaches link under name, superseding any previous one.
	AddOrReplaceLink(name string, link Link) error

	// RemoveLink detaches name if it is still bound to link.
	RemoveLink(name string, link Link) bool

	// LinkName returns the name link is attached under.
	LinkName(link Link) (string, bool)

	// NotifyNetworkModified broadcasts a topology-changed notification so that
	// subscribers re-request their values.
	NotifyNetworkModified()
}
