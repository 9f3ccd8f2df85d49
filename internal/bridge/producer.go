package bridge

import (
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

// producer serves an input-shaped value: remote subscribers ask for it and
// receive every subsequent change.
type producer struct {
	b   *Bridge
	rec *record

	request  Kind
	response Kind
	unsub    Kind

	// current encodes the value sent to a new peer; nil for events
	current func() []byte
}

func (p *producer) receive(msg router.Message) {
	kind, v := p.b.guard(msg, p.request, p.unsub)
	switch v {
	case nacked:
		if p.removePeer(msg.Source) {
			p.b.logger.Info("Removed remote peer after negative acknowledgement", "topic", p.rec.topic, "peer", msg.Source)
		}
		return
	case rejected:
		return
	}

	if msg.Source == "" {
		p.b.logger.Warn("Subscription request without a source", "topic", p.rec.topic, "kind", kind)
		return
	}

	switch kind {
	case p.request:
		p.addPeer(msg.Source)
		if p.current != nil {
			p.b.send(msg.Source, p.rec.topic, p.response, p.current()...)
		}
	case p.unsub:
		if p.removePeer(msg.Source) {
			p.b.logger.Debug("Remote peer unsubscribed", "topic", p.rec.topic, "peer", msg.Source)
		}
	}
}

func (p *producer) addPeer(peer string) {
	p.rec.mu.Lock()
	_, known := p.rec.remotePeers[peer]
	p.rec.remotePeers[peer] = struct{}{}
	p.rec.mu.Unlock()
	if !known {
		p.b.logger.Debug("Remote peer subscribed", "topic", p.rec.topic, "peer", peer)
	}
}

func (p *producer) removePeer(peer string) bool {
	p.rec.mu.Lock()
	defer p.rec.mu.Unlock()
	if _, ok := p.rec.remotePeers[peer]; !ok {
		return false
	}
	delete(p.rec.remotePeers, peer)
	return true
}

// broadcast unicasts body to every known peer
func (p *producer) broadcast(body []byte) {
	for _, peer := range p.rec.peers() {
		p.b.send(peer, p.rec.topic, p.response, body...)
	}
}

// publishProducer registers a producer on topic
func (b *Bridge) publishProducer(topic string, request, response, unsub Kind, current func() []byte) (*producer, error) {
	rec, err := b.newRecord(topic, topic, roleProducer)
	if err != nil {
		return nil, err
	}
	p := &producer{b: b, rec: rec, request: request, response: response, unsub: unsub, current: current}
	if err := b.listen(topic, p.receive); err != nil {
		b.dropRecord(topic)
		return nil, err
	}
	return p, nil
}
