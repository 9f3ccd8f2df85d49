package bridge

import (
	"github.com/rmacdonaldsmith/robomesh/pkg/cell"
	"github.com/rmacdonaldsmith/robomesh/pkg/router"
)

// subscriber mirrors a remote input-shaped value into a local cache.
//
// The producer request is sent lazily when the first local consumer
// attaches, or immediately when subscribing by default. A topology-changed
// broadcast re-sends the request while it is outstanding.
type subscriber struct {
	b     *Bridge
	rec   *record
	path  string
	reply string

	request  Kind
	response Kind
	unsub    Kind

	target hooked
	apply  func(payload []byte)
}

func (s *subscriber) receive(msg router.Message) {
	kind, v := s.b.guard(msg, s.response, KindTopologyChanged)
	if v != accepted {
		return
	}
	if kind == KindTopologyChanged {
		s.rec.mu.Lock()
		resend := s.rec.sent
		s.rec.mu.Unlock()
		if resend {
			s.b.logger.Debug("Topology changed; renewing subscription", "path", s.path)
			s.b.send(s.path, s.reply, s.request)
		}
		return
	}
	s.apply(msg.Payload)
}

// attach runs when the first local consumer attaches. Hooks run outside
// the cell's lock, so the live listener count decides, not the hook order.
func (s *subscriber) attach() {
	s.rec.mu.Lock()
	if s.rec.sent || (s.rec.canUnsubscribe && s.target.Listeners() == 0) {
		s.rec.mu.Unlock()
		return
	}
	s.rec.sent = true
	s.rec.mu.Unlock()
	s.b.send(s.path, s.reply, s.request)
}

// detach runs when the last local consumer detaches. A consumer that
// attached in the meantime keeps the subscription alive.
func (s *subscriber) detach() {
	s.rec.mu.Lock()
	if !s.rec.canUnsubscribe || !s.rec.sent || s.target.Listeners() > 0 {
		s.rec.mu.Unlock()
		return
	}
	s.rec.sent = false
	s.rec.mu.Unlock()
	s.b.send(s.path, s.reply, s.unsub)
}

type hooked interface {
	SetHooks(h cell.Hooks)
	Listeners() int
}

// subscribe wires a subscriber to a reply topic and to target's hooks
func (b *Bridge) subscribe(path string, request, response, unsub Kind, byDefault bool, target hooked, apply func([]byte)) error {
	reply := replyTopic()
	rec, err := b.newRecord(reply, path, roleSubscriber)
	if err != nil {
		return err
	}
	rec.canUnsubscribe = !byDefault

	s := &subscriber{
		b: b, rec: rec, path: path, reply: reply,
		request: request, response: response, unsub: unsub,
		target: target, apply: apply,
	}
	if err := b.listen(reply, s.receive); err != nil {
		b.dropRecord(reply)
		return err
	}

	if byDefault {
		s.attach()
	} else {
		target.SetHooks(cell.Hooks{First: s.attach, Last: s.detach})
	}
	return nil
}
