package router

import (
	"fmt"
	"sync"

	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

// TerminalLink delivers everything routed to it to a single local listener
type TerminalLink struct {
	listener router.Listener
}

// NewTerminalLink wraps a listener so it can be attached under a link name
func NewTerminalLink(l router.Listener) *TerminalLink {
	return &TerminalLink{listener: l}
}

// Transmit hands the message to the listener; it never fails.
func (t *TerminalLink) Transmit(msg router.Message) router.TransmitResult {
	t.listener.Receive(msg)
	return router.Delivered
}

// PairedLink is one half of an in-memory bridge between two routers. The
// half attached to router A forwards into router B, qualifying the source
// with the name B knows its partner half by.
type PairedLink struct {
	peer    *Node
	partner *PairedLink

	mu   sync.Mutex
	name string
}

// NewPairedLinks creates the two halves of a bridge between a and b.
// toB is meant to be attached to a, toA to b.
func NewPairedLinks(a, b *Node) (toB, toA *PairedLink) {
	toB = &PairedLink{peer: b}
	toA = &PairedLink{peer: a}
	toB.partner = toA
	toA.partner = toB
	return toB, toA
}

// Pair joins a and b: a reaches b through the link named nameOnA, and b
// reaches a through nameOnB.
func Pair(a, b *Node, nameOnA, nameOnB string) error {
	toB, toA := NewPairedLinks(a, b)
	if err := a.AddLink(nameOnA, toB); err != nil {
		return fmt.Errorf("attaching %q to %s: %w", nameOnA, a.Name(), err)
	}
	if err := b.AddLink(nameOnB, toA); err != nil {
		a.RemoveLink(nameOnA, toB)
		return fmt.Errorf("attaching %q to %s: %w", nameOnB, b.Name(), err)
	}
	return nil
}

// returnName resolves, once, the name the peer router has the partner half
// attached under.
func (p *PairedLink) returnName() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.name != "" {
		return p.name, true
	}
	name, ok := p.peer.LinkName(p.partner)
	if ok {
		p.name = name
	}
	return name, ok
}

// Transmit forwards into the peer router
func (p *PairedLink) Transmit(msg router.Message) router.TransmitResult {
	name, ok := p.returnName()
	if !ok {
		p.peer.logger.Warn("Paired link has no return path; partner half not attached", "destination", msg.Destination)
		return router.FailedTransient
	}
	p.peer.Transmit(router.Message{
		Destination: msg.Destination,
		Source:      router.Join(name, msg.Source),
		Payload:     msg.Payload,
	}, p.partner)
	return router.Delivered
}
